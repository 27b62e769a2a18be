// Package config holds mnemo's runtime configuration: the YAML file, environment
// overrides, typed patches with audit snapshots, and the live Manager that the
// engine reads from and rollback writes to.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a mnemo process.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Tracing    TracingConfig    `yaml:"tracing" json:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Ledgers    LedgersConfig    `yaml:"ledgers" json:"ledgers"`
}

// StorageConfig locates the database.
type StorageConfig struct {
	Path string `yaml:"path" json:"path" validate:"required"`
}

// SearchConfig tunes the search orchestrator.
type SearchConfig struct {
	DefaultLimit        int           `yaml:"default_limit" json:"default_limit" validate:"min=1,ltefield=MaxLimit"`
	MaxLimit            int           `yaml:"max_limit" json:"max_limit" validate:"min=1,max=1000"`
	LexicalWeight       float64       `yaml:"lexical_weight" json:"lexical_weight" validate:"gte=0,lte=1"`
	SimilarityWeight    float64       `yaml:"similarity_weight" json:"similarity_weight" validate:"gte=0,lte=1"`
	SimilarityTimeout   time.Duration `yaml:"similarity_timeout" json:"similarity_timeout"`
	RerankEnabled       bool          `yaml:"rerank_enabled" json:"rerank_enabled"`
	RerankTopN          int           `yaml:"rerank_top_n" json:"rerank_top_n" validate:"gte=0,lte=100"`
	RecencyHalfLifeDays float64       `yaml:"recency_half_life_days" json:"recency_half_life_days" validate:"gte=0"`
}

// EmbeddingsConfig configures the optional embedding provider used by similarity search.
type EmbeddingsConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	BaseURL           string  `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	Model             string  `yaml:"model" json:"model" validate:"required_if=Enabled true"`
	APIKey            string  `yaml:"api_key" json:"-"`
	CacheSize         int64   `yaml:"cache_size" json:"cache_size" validate:"gte=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	Backend           string  `yaml:"backend" json:"backend" validate:"oneof=sqlite memory chromem"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" json:"http_addr" validate:"required"`
	DashboardDir    string        `yaml:"dashboard_dir" json:"dashboard_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=auto text json"`
}

// TracingConfig enables the JSON Lines operation trace file when Path is set.
type TracingConfig struct {
	Path string `yaml:"path" json:"path"`
}

// MetricsConfig toggles Prometheus collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// LedgersConfig selects the audit ledger backend.
type LedgersConfig struct {
	InMemory bool `yaml:"in_memory" json:"in_memory"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	dataDir := ".mnemo"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".mnemo")
	}

	return Config{
		Storage: StorageConfig{Path: filepath.Join(dataDir, "mnemo.db")},
		Search: SearchConfig{
			DefaultLimit:        20,
			MaxLimit:            100,
			LexicalWeight:       0.6,
			SimilarityWeight:    0.4,
			SimilarityTimeout:   2 * time.Second,
			RerankEnabled:       false,
			RerankTopN:          20,
			RecencyHalfLifeDays: 0,
		},
		Embeddings: EmbeddingsConfig{
			Enabled:           false,
			Model:             "text-embedding-3-small",
			CacheSize:         10_000,
			RequestsPerSecond: 5,
			Backend:           "sqlite",
		},
		Server: ServerConfig{
			HTTPAddr:        "127.0.0.1:37777",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
	}
}

var validate = validator.New()

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Search.LexicalWeight+c.Search.SimilarityWeight <= 0 {
		return fmt.Errorf("%w: lexical_weight and similarity_weight cannot both be zero", ErrInvalidConfig)
	}
	if c.Search.SimilarityTimeout < 0 {
		return fmt.Errorf("%w: similarity_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Load reads the YAML file at path over the defaults and applies MNEMO_* environment overrides.
// A missing file is not an error. The returned key set lists patch keys pinned by the environment.
func Load(path string) (Config, map[string]bool, error) {
	_, cfg, locked, err := loadLayers(path, os.LookupEnv)
	return cfg, locked, err
}

// loadLayers returns the file layer (defaults plus file) and the effective layer (file plus environment).
func loadLayers(path string, lookup func(string) (string, bool)) (Config, Config, map[string]bool, error) {
	file := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, Config{}, nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &file); err != nil {
				return Config{}, Config{}, nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	effective := file
	locked, err := applyEnv(&effective, lookup)
	if err != nil {
		return Config{}, Config{}, nil, err
	}

	if err := effective.Validate(); err != nil {
		return Config{}, Config{}, nil, err
	}
	return file, effective, locked, nil
}

// Save writes cfg to path as YAML, creating the parent directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Rename(tmp, path)
}
