// Package config loads engramd configuration from a YAML file with
// ENGRAM_-prefixed environment overrides on top. Every field has a default
// that works with no file at all: mock embedder, sqlite store under
// ./data, loopback listener.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
)

// Embedder providers.
const (
	ProviderMock   = "mock"
	ProviderOllama = "ollama"
	ProviderONNX   = "onnx"
)

// Config is the full engramd configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Store    Store    `yaml:"store"`
	Embedder Embedder `yaml:"embedder"`
	Search   Search   `yaml:"search"`
	Log      Log      `yaml:"log"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `yaml:"addr"`
}

// Store selects and configures the fact store backend.
type Store struct {
	// Backend is "sqlite" (durable, default) or "chromem" (in-memory).
	Backend string `yaml:"backend"`
	// Path is the sqlite database file. Ignored by the chromem backend.
	Path string `yaml:"path"`
}

// Embedder selects and configures the embedding provider.
type Embedder struct {
	// Provider is "mock", "ollama", or "onnx" (requires the onnx build tag).
	Provider string `yaml:"provider"`

	// Model is the Ollama model name.
	Model string `yaml:"model"`
	// BaseURL is the Ollama daemon address; empty means the default.
	BaseURL string `yaml:"base_url"`
	// Dimensions is the vector size the provider produces. The store's
	// dimensionality is fixed for its lifetime, so changing this against
	// an existing store makes old facts unsearchable.
	Dimensions int `yaml:"dimensions"`

	// ONNX file locations, used only by the onnx provider.
	ModelPath         string `yaml:"model_path"`
	TokenizerPath     string `yaml:"tokenizer_path"`
	SharedLibraryPath string `yaml:"shared_library_path"`

	Cache Cache `yaml:"cache"`
}

// Cache configures the ristretto embedding cache.
type Cache struct {
	Enabled    bool  `yaml:"enabled"`
	MaxEntries int64 `yaml:"max_entries"`
}

// Search holds retrieval defaults applied when a request omits them.
type Search struct {
	// DefaultThreshold is the minimum cosine similarity when the request
	// does not set one. 0.2-0.3 is the sensible operating range for the
	// bundled local models: lower favors recall, higher favors precision.
	DefaultThreshold float64 `yaml:"default_threshold"`
	// DefaultLimit caps results when the request does not set a limit.
	// Zero means uncapped.
	DefaultLimit int `yaml:"default_limit"`
	// MaxTextLength bounds fact and query text.
	MaxTextLength int `yaml:"max_text_length"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the zero-setup configuration.
func Default() Config {
	return Config{
		Server: Server{Addr: "127.0.0.1:8080"},
		Store:  Store{Backend: BackendSQLite, Path: "./data/engram.db"},
		Embedder: Embedder{
			Provider:   ProviderMock,
			Dimensions: 384,
			Cache:      Cache{Enabled: true, MaxEntries: 4096},
		},
		Search: Search{
			DefaultThreshold: 0.25,
			DefaultLimit:     0,
			MaxTextLength:    10000,
		},
		Log: Log{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (a
// missing file is fine when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString("ENGRAM_ADDR", &cfg.Server.Addr)
	setString("ENGRAM_STORE_BACKEND", &cfg.Store.Backend)
	setString("ENGRAM_STORE_PATH", &cfg.Store.Path)
	setString("ENGRAM_EMBEDDER_PROVIDER", &cfg.Embedder.Provider)
	setString("ENGRAM_EMBEDDER_MODEL", &cfg.Embedder.Model)
	setString("ENGRAM_EMBEDDER_BASE_URL", &cfg.Embedder.BaseURL)
	setString("ENGRAM_LOG_LEVEL", &cfg.Log.Level)

	if v, ok := os.LookupEnv("ENGRAM_EMBEDDER_DIMENSIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedder.Dimensions = n
		}
	}
	if v, ok := os.LookupEnv("ENGRAM_DEFAULT_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.DefaultThreshold = f
		}
	}
	if v, ok := os.LookupEnv("ENGRAM_DEFAULT_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultLimit = n
		}
	}
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendChromem:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Embedder.Provider {
	case ProviderMock, ProviderOllama, ProviderONNX:
	default:
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}

	if c.Store.Backend == BackendSQLite && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the sqlite backend")
	}
	if c.Search.DefaultThreshold < -1 || c.Search.DefaultThreshold > 1 {
		return fmt.Errorf("search.default_threshold %v outside [-1, 1]", c.Search.DefaultThreshold)
	}
	if c.Search.MaxTextLength <= 0 {
		return fmt.Errorf("search.max_text_length must be positive")
	}
	return nil
}
