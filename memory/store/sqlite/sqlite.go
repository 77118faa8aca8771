// Package sqlite provides the durable FactStore backend.
//
// Facts live in a single table, embeddings JSON-encoded as float32 arrays.
// The store is append-only: rows are never updated, and the only deletion
// path is the administrative WipeAll. Per-owner scans load every row for the
// owner; at the expected scale (hundreds to low thousands of facts per
// owner) brute-force scanning is fast and keeps the similarity math in the
// engine, where it belongs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/becomeliminal/engram/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	text TEXT NOT NULL,
	embedding TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_owner ON facts(owner_id);
CREATE INDEX IF NOT EXISTS idx_facts_owner_created ON facts(owner_id, created_at);
`

// Store is the SQLite-backed FactStore.
type Store struct {
	db   *sql.DB
	path string
	log  *logrus.Entry
}

// Open creates the Store at path, creating the parent directory and schema
// if absent. Pass ":memory:" for an ephemeral database (tests). If log is
// nil, the standard logger is used.
func Open(path string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create db directory: %v", memory.ErrStorage, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", memory.ErrStorage, err)
	}

	// SQLite is single-writer by design. A single shared connection lets
	// database/sql serialize concurrent appends across owners instead of
	// having connections fight over write locks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: set pragma: %v", memory.ErrStorage, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", memory.ErrStorage, err)
	}

	log.WithField("path", path).Info("fact store opened")
	return &Store{db: db, path: path, log: log}, nil
}

// Append durably persists the fact. With WAL journaling the INSERT is
// committed before ExecContext returns, so a process crash right after a
// successful Append cannot lose the fact.
func (s *Store) Append(ctx context.Context, fact memory.Fact) (string, error) {
	embeddingJSON, err := json.Marshal(fact.Embedding)
	if err != nil {
		return "", fmt.Errorf("%w: marshal embedding: %v", memory.ErrStorage, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts (id, owner_id, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		fact.ID,
		fact.OwnerID,
		fact.Text,
		string(embeddingJSON),
		fact.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert fact: %v", memory.ErrStorage, err)
	}

	s.log.WithFields(logrus.Fields{
		"fact_id":  fact.ID,
		"owner_id": fact.OwnerID,
		"text_len": len(fact.Text),
	}).Debug("fact appended")

	return fact.ID, nil
}

// Scan returns all facts for the owner in append order. Rowid breaks ties
// between identical timestamps, so the order is stable and matches the
// sequence the facts were appended in.
func (s *Store) Scan(ctx context.Context, ownerID string) ([]memory.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, text, embedding, created_at
		FROM facts
		WHERE owner_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query facts: %v", memory.ErrStorage, err)
	}
	defer rows.Close()

	var facts []memory.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", memory.ErrStorage, err)
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %v", memory.ErrStorage, err)
	}

	return facts, nil
}

// WipeAll deletes every fact for every owner. Administrative reset only.
func (s *Store) WipeAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts`); err != nil {
		return fmt.Errorf("%w: wipe facts: %v", memory.ErrStorage, err)
	}
	s.log.Warn("fact store wiped")
	return nil
}

// Stats reports totals for the stats endpoint.
func (s *Store) Stats(ctx context.Context) (memory.StoreStats, error) {
	stats := memory.StoreStats{ByOwner: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, COUNT(*) FROM facts GROUP BY owner_id`)
	if err != nil {
		return memory.StoreStats{}, fmt.Errorf("%w: query stats: %v", memory.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner string
		var count int
		if err := rows.Scan(&owner, &count); err != nil {
			return memory.StoreStats{}, fmt.Errorf("%w: scan stats row: %v", memory.ErrStorage, err)
		}
		stats.ByOwner[owner] = count
		stats.TotalFacts += count
		stats.TotalOwners++
	}
	if err := rows.Err(); err != nil {
		return memory.StoreStats{}, fmt.Errorf("%w: iterate stats rows: %v", memory.ErrStorage, err)
	}

	if s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			stats.SizeBytes = info.Size()
		}
	}

	return stats, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanFact(rows *sql.Rows) (memory.Fact, error) {
	var (
		fact          memory.Fact
		embeddingJSON string
		createdAtNano int64
	)

	err := rows.Scan(&fact.ID, &fact.OwnerID, &fact.Text, &embeddingJSON, &createdAtNano)
	if err != nil {
		return memory.Fact{}, fmt.Errorf("scan row: %v", err)
	}

	if err := json.Unmarshal([]byte(embeddingJSON), &fact.Embedding); err != nil {
		return memory.Fact{}, fmt.Errorf("unmarshal embedding: %v", err)
	}
	fact.CreatedAt = time.Unix(0, createdAtNano).UTC()

	return fact, nil
}

// Compile-time interface checks.
var (
	_ memory.FactStore     = (*Store)(nil)
	_ memory.StatsProvider = (*Store)(nil)
)
