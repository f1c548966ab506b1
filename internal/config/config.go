// Package config loads the engine configuration. Values are applied in
// order of increasing precedence: hardcoded defaults, the user config file
// (~/.config/protlit/config.yaml), the project file (.protlit.yaml), and
// finally PROTLIT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/protlit/protlit/internal/ingest"
	"github.com/protlit/protlit/internal/search"
	"github.com/protlit/protlit/internal/trend"
)

// Config is the complete engine configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Search     search.Config    `yaml:"search"`
	Trend      trend.Config     `yaml:"trend"`
	Ingest     ingest.Config    `yaml:"ingest"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Cache      CacheConfig      `yaml:"cache"`
	Log        LogConfig        `yaml:"log"`
}

// PathsConfig locates the on-disk state.
type PathsConfig struct {
	// DataDir is the root for all engine state (default: ~/.protlit).
	DataDir string `yaml:"data_dir"`

	// DatabasePath overrides the metadata database location.
	// Empty derives <data_dir>/protlit.db.
	DatabasePath string `yaml:"database_path"`

	// LexicalIndexPath overrides the full-text index location.
	// Empty derives <data_dir>/lexical.bleve.
	LexicalIndexPath string `yaml:"lexical_index_path"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "hash" (deterministic, built in) or
	// "none" (semantic path disabled, queries degrade).
	Provider string `yaml:"provider"`

	// CacheSize bounds the text-to-vector LRU (default: 4096).
	CacheSize int `yaml:"cache_size"`
}

// CacheConfig sizes the query-side caches.
type CacheConfig struct {
	// SimilarityEntries bounds the nearest-neighbor LRU (default: 512).
	SimilarityEntries int `yaml:"similarity_entries"`

	// ResultEntriesPerShard bounds each result cache shard (default: 256).
	ResultEntriesPerShard int `yaml:"result_entries_per_shard"`

	// TTL expires cached query results (default: 15m).
	TTL time.Duration `yaml:"ttl"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`

	// Stderr mirrors log output to stderr in addition to the log file.
	Stderr bool `yaml:"stderr"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Search: search.DefaultConfig(),
		Trend:  trend.DefaultConfig(),
		Ingest: ingest.DefaultConfig(),
		Embeddings: EmbeddingsConfig{
			Provider:  "hash",
			CacheSize: 4096,
		},
		Cache: CacheConfig{
			SimilarityEntries:     512,
			ResultEntriesPerShard: 256,
			TTL:                   15 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration for a working directory.
func Load(dir string) (*Config, error) {
	cfg := New()

	if userPath := UserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}
	if projectPath := filepath.Join(dir, ".protlit.yaml"); fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// UserConfigPath returns the per-user config file location, honoring
// XDG_CONFIG_HOME.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "protlit", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "protlit", "config.yaml")
	}
	return filepath.Join(home, ".config", "protlit", "config.yaml")
}

// DatabasePath resolves the metadata database location.
func (c *Config) DatabasePath() string {
	if c.Paths.DatabasePath != "" {
		return c.Paths.DatabasePath
	}
	return filepath.Join(c.Paths.DataDir, "protlit.db")
}

// LexicalIndexPath resolves the full-text index location.
func (c *Config) LexicalIndexPath() string {
	if c.Paths.LexicalIndexPath != "" {
		return c.Paths.LexicalIndexPath
	}
	return filepath.Join(c.Paths.DataDir, "lexical.bleve")
}

// LockPath resolves the ingest lock file location.
func (c *Config) LockPath() string {
	if c.Ingest.LockPath != "" {
		return c.Ingest.LockPath
	}
	return filepath.Join(c.Paths.DataDir, "ingest.lock")
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	// Unmarshal over the current values: absent keys keep their previous
	// layer's value, present keys override it.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies PROTLIT_* environment overrides, the highest
// precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PROTLIT_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("PROTLIT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PROTLIT_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v, ok := envFloat("PROTLIT_SEMANTIC_WEIGHT"); ok {
		c.Search.Weights.Semantic = v
	}
	if v, ok := envFloat("PROTLIT_LEXICAL_WEIGHT"); ok {
		c.Search.Weights.Lexical = v
	}
	if v, ok := envFloat("PROTLIT_ENTITY_WEIGHT"); ok {
		c.Search.Weights.Entity = v
	}
	if v, ok := envFloat("PROTLIT_RECENCY_WEIGHT"); ok {
		c.Search.Weights.Recency = v
	}
	if v := os.Getenv("PROTLIT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("PROTLIT_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Search.QueryTimeout = d
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if !c.Search.Weights.Valid() {
		return fmt.Errorf("search weights must be non-negative with a positive sum")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: default %d, max %d",
			c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.PathTimeout <= 0 || c.Search.QueryTimeout < c.Search.PathTimeout {
		return fmt.Errorf("search timeouts invalid: path %s, query %s",
			c.Search.PathTimeout, c.Search.QueryTimeout)
	}
	if c.Search.DiversityThreshold < 0 || c.Search.DiversityThreshold > 1 {
		return fmt.Errorf("diversity_threshold must be in [0,1], got %f",
			c.Search.DiversityThreshold)
	}
	switch strings.ToLower(c.Embeddings.Provider) {
	case "hash", "none":
	default:
		return fmt.Errorf("embeddings.provider must be 'hash' or 'none', got %q",
			c.Embeddings.Provider)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q",
			c.Log.Level)
	}
	if c.Trend.WindowDays <= 0 {
		return fmt.Errorf("trend.window_days must be positive, got %d", c.Trend.WindowDays)
	}
	if c.Trend.MaxTopics <= 0 {
		return fmt.Errorf("trend.max_topics must be positive, got %d", c.Trend.MaxTopics)
	}
	return nil
}

// WriteYAML persists the configuration, for `protlit config init`.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".protlit")
	}
	return filepath.Join(home, ".protlit")
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
