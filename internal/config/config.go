// Package config loads the newsrag YAML configuration with environment
// variable expansion, defaults, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the newsrag engine configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Query      QueryConfig      `yaml:"query"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig holds vector store settings.
type StoreConfig struct {
	Driver           string   `yaml:"driver"` // chromem, redis (default: chromem)
	Path             string   `yaml:"path"`   // chromem persistence directory
	Compress         bool     `yaml:"compress"`
	Addrs            []string `yaml:"addrs"` // redis addresses
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	TimeoutSec int    `yaml:"timeout_sec"`
	MaxRetries int    `yaml:"max_retries"`
	CacheSize  int    `yaml:"cache_size"` // LRU entries, 0 disables the cache
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// ChunkingConfig holds text chunking settings.
type ChunkingConfig struct {
	Size      int `yaml:"size"`      // characters per chunk
	Overlap   int `yaml:"overlap"`   // characters shared between consecutive chunks
	Tolerance int `yaml:"tolerance"` // boundary search window before the hard limit
}

// ClassifierConfig holds newsletter detection thresholds.
type ClassifierConfig struct {
	StrongSignalsRequired int  `yaml:"strong_signals_required"`
	WeakSignalsRequired   int  `yaml:"weak_signals_required"`
	FilterPromotions      bool `yaml:"filter_promotions"`
}

// QueryConfig holds retrieval settings.
type QueryConfig struct {
	TopK              int     `yaml:"top_k"`
	MaxTopK           int     `yaml:"max_top_k"`
	ContextCharBudget int     `yaml:"context_char_budget"`
	MinScore          float64 `yaml:"min_score"` // similarity floor, 0 = disabled
}

// SyncConfig holds ingestion settings.
type SyncConfig struct {
	Workers      int `yaml:"workers"`
	MaxBatchSize int `yaml:"max_batch_size"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Query responses wait on the generation provider.
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "chromem"
	}
	if c.Store.Path == "" {
		c.Store.Path = "~/.newsrag/store"
	}
	c.Store.Path = expandHome(c.Store.Path)
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "newsrag:"
	}
	if c.Store.ReadinessTimeout <= 0 {
		c.Store.ReadinessTimeout = 10
	}
	if c.Store.HNSWM <= 0 {
		c.Store.HNSWM = 16
	}
	if c.Store.HNSWEFConstruct <= 0 {
		c.Store.HNSWEFConstruct = 200
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 64
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.MaxRetries <= 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4o-mini"
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 2048
	}
	if c.Generation.Temperature <= 0 {
		c.Generation.Temperature = 0.4
	}
	if c.Generation.TimeoutSec <= 0 {
		c.Generation.TimeoutSec = 60
	}
	if c.Chunking.Size <= 0 {
		c.Chunking.Size = 1000
	}
	if c.Chunking.Overlap <= 0 {
		c.Chunking.Overlap = 200
	}
	if c.Chunking.Tolerance <= 0 {
		c.Chunking.Tolerance = 150
	}
	if c.Classifier.StrongSignalsRequired <= 0 {
		c.Classifier.StrongSignalsRequired = 1
	}
	if c.Classifier.WeakSignalsRequired <= 0 {
		c.Classifier.WeakSignalsRequired = 2
	}
	if c.Query.TopK <= 0 {
		c.Query.TopK = 5
	}
	if c.Query.MaxTopK <= 0 {
		c.Query.MaxTopK = 50
	}
	if c.Query.ContextCharBudget <= 0 {
		c.Query.ContextCharBudget = 12000
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.MaxBatchSize <= 0 {
		c.Sync.MaxBatchSize = 200
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Store.Driver {
	case "chromem":
		// path defaulted above
	case "redis":
		if len(c.Store.Addrs) == 0 {
			return fmt.Errorf("store.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("store.driver must be \"chromem\" or \"redis\", got %q", c.Store.Driver)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions is required")
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf(
			"chunking.overlap (%d) must be smaller than chunking.size (%d)",
			c.Chunking.Overlap, c.Chunking.Size,
		)
	}
	if c.Query.MinScore < 0 || c.Query.MinScore > 1 {
		return fmt.Errorf("query.min_score must be in [0,1], got %g", c.Query.MinScore)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandHome resolves a leading ~ against the user home directory, so the
// store path never creates a literal "~" directory. The path is returned
// unchanged when the home directory cannot be determined.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
