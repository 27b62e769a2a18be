package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MNEMO_"

type envOverride struct {
	name  string // variable name without EnvPrefix
	key   string // patch key it pins, empty when the setting is not runtime-tunable
	apply func(c *Config, v string) error
}

func envString(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func envInt(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func envFloat(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func envBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func envDuration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envOverrides = []envOverride{
	{"STORAGE_PATH", "", envString(func(c *Config) *string { return &c.Storage.Path })},
	{"SEARCH_DEFAULT_LIMIT", "search_default_limit", envInt(func(c *Config) *int { return &c.Search.DefaultLimit })},
	{"SEARCH_MAX_LIMIT", "search_max_limit", envInt(func(c *Config) *int { return &c.Search.MaxLimit })},
	{"SEARCH_LEXICAL_WEIGHT", "lexical_weight", envFloat(func(c *Config) *float64 { return &c.Search.LexicalWeight })},
	{"SEARCH_SIMILARITY_WEIGHT", "similarity_weight", envFloat(func(c *Config) *float64 { return &c.Search.SimilarityWeight })},
	{"SEARCH_SIMILARITY_TIMEOUT", "similarity_timeout", envDuration(func(c *Config) *time.Duration { return &c.Search.SimilarityTimeout })},
	{"SEARCH_RERANK_ENABLED", "rerank_enabled", envBool(func(c *Config) *bool { return &c.Search.RerankEnabled })},
	{"SEARCH_RERANK_TOP_N", "rerank_top_n", envInt(func(c *Config) *int { return &c.Search.RerankTopN })},
	{"SEARCH_RECENCY_HALF_LIFE_DAYS", "recency_half_life_days", envFloat(func(c *Config) *float64 { return &c.Search.RecencyHalfLifeDays })},
	{"EMBEDDINGS_ENABLED", "embeddings_enabled", envBool(func(c *Config) *bool { return &c.Embeddings.Enabled })},
	{"EMBEDDINGS_MODEL", "embedding_model", envString(func(c *Config) *string { return &c.Embeddings.Model })},
	{"EMBEDDINGS_BASE_URL", "", envString(func(c *Config) *string { return &c.Embeddings.BaseURL })},
	{"EMBEDDINGS_API_KEY", "", envString(func(c *Config) *string { return &c.Embeddings.APIKey })},
	{"EMBEDDINGS_BACKEND", "", envString(func(c *Config) *string { return &c.Embeddings.Backend })},
	{"SERVER_HTTP_ADDR", "", envString(func(c *Config) *string { return &c.Server.HTTPAddr })},
	{"SERVER_DASHBOARD_DIR", "", envString(func(c *Config) *string { return &c.Server.DashboardDir })},
	{"LOGGING_LEVEL", "log_level", envString(func(c *Config) *string { return &c.Logging.Level })},
	{"LOGGING_FORMAT", "", envString(func(c *Config) *string { return &c.Logging.Format })},
	{"TRACING_PATH", "", envString(func(c *Config) *string { return &c.Tracing.Path })},
	{"METRICS_ENABLED", "", envBool(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"LEDGERS_IN_MEMORY", "", envBool(func(c *Config) *bool { return &c.Ledgers.InMemory })},
}

// applyEnv overlays environment overrides onto cfg and returns the patch keys they pin.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) (map[string]bool, error) {
	locked := map[string]bool{}
	for _, o := range envOverrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return nil, fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, o.name, err)
		}
		if o.key != "" {
			locked[o.key] = true
		}
	}
	return locked, nil
}
