// Command engramd runs the memory service: an HTTP API over a per-owner
// semantic fact store. With no flags it starts with the zero-setup defaults
// (mock embedder, sqlite store under ./data).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/becomeliminal/engram/config"
	"github.com/becomeliminal/engram/logging"
	"github.com/becomeliminal/engram/memory"
	"github.com/becomeliminal/engram/memory/embedder/cached"
	"github.com/becomeliminal/engram/memory/embedder/mock"
	"github.com/becomeliminal/engram/memory/embedder/ollama"
	"github.com/becomeliminal/engram/memory/store/chromem"
	"github.com/becomeliminal/engram/memory/store/sqlite"
	"github.com/becomeliminal/engram/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	reset := flag.Bool("reset", false, "wipe all stored facts and exit")
	flag.Parse()

	if err := run(*configPath, *reset); err != nil {
		fmt.Fprintf(os.Stderr, "engramd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, reset bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(cfg.Log.Level)
	log := logging.Component("engramd")

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if reset {
		// Administrative wipe. Deliberately not exposed over HTTP.
		if err := store.WipeAll(context.Background()); err != nil {
			return fmt.Errorf("wipe store: %w", err)
		}
		log.Warn("all stored facts wiped")
		return nil
	}

	embedder, cleanup, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}
	defer cleanup()

	engine := memory.NewEngine(store, embedder,
		memory.WithLogger(logging.Component("engine")),
		memory.WithMaxTextLength(cfg.Search.MaxTextLength),
	)

	srv := server.New(engine, store, cfg.Search,
		cfg.Store.Backend, cfg.Embedder.Provider, logging.Component("server"))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	return nil
}

func openStore(cfg config.Config) (memory.FactStore, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return sqlite.Open(cfg.Store.Path, logging.Component("store"))
	case config.BackendChromem:
		return chromem.New()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildEmbedder constructs the configured provider, optionally wrapped in
// the ristretto cache. The returned cleanup releases cache resources and is
// a no-op otherwise.
func buildEmbedder(cfg config.Config) (memory.Embedder, func(), error) {
	var inner memory.Embedder
	var err error

	switch cfg.Embedder.Provider {
	case config.ProviderMock:
		inner = mock.NewWithDimensions(cfg.Embedder.Dimensions)
	case config.ProviderOllama:
		inner, err = ollama.New(cfg.Embedder.Model, cfg.Embedder.BaseURL, cfg.Embedder.Dimensions)
	case config.ProviderONNX:
		inner, err = newONNXEmbedder(cfg.Embedder)
	default:
		err = fmt.Errorf("unknown embedder provider %q", cfg.Embedder.Provider)
	}
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Embedder.Cache.Enabled {
		return inner, func() {}, nil
	}

	wrapped, err := cached.New(inner, cfg.Embedder.Cache.MaxEntries)
	if err != nil {
		return nil, nil, err
	}
	return wrapped, wrapped.Close, nil
}
