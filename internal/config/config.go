// Package config loads Lodestone configuration.
//
// Precedence, lowest to highest:
//  1. Hardcoded defaults
//  2. YAML config file (lodestone.yaml, or --config)
//  3. .env file in the working directory
//  4. Environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Embedding provider modes.
const (
	ModeAuto   = "auto"
	ModeOllama = "ollama"
	ModeStatic = "static"
)

// DefaultConfigFile is picked up from the working directory when --config
// is not given.
const DefaultConfigFile = "lodestone.yaml"

// Config is the full process configuration.
type Config struct {
	Index     IndexConfig     `yaml:"index" json:"index"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// IndexConfig holds index storage and default ANN build parameters.
type IndexConfig struct {
	// Dir is the root directory for all indexes. Env: INDEX_DIR.
	Dir string `yaml:"dir" json:"dir"`
	// Backend is the default ANN backend for new indexes. Env: LEANN_BACKEND.
	Backend string `yaml:"backend" json:"backend"`
	// GraphDegree is the default graph degree. Env: GRAPH_DEGREE.
	GraphDegree int `yaml:"graph_degree" json:"graph_degree"`
	// BuildComplexity is the default build complexity. Env: BUILD_COMPLEXITY.
	BuildComplexity int `yaml:"build_complexity" json:"build_complexity"`
	// Watch enables the artifact watcher that invalidates cached searchers
	// when index files change outside this process. Env: WATCH_INDEX_DIR.
	Watch bool `yaml:"watch" json:"watch"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Model is the default embedder identifier. Env: EMBEDDING_MODEL.
	Model string `yaml:"model" json:"model"`
	// Mode is the provider: auto, ollama, or static. Env: EMBEDDING_MODE.
	Mode string `yaml:"mode" json:"mode"`
	// Endpoint is the Ollama server URL. Env: EMBEDDING_ENDPOINT.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Workers bounds parallel embedding batches during builds. Env: WORKERS.
	Workers int `yaml:"workers" json:"workers"`
}

// ChunkingConfig holds default chunker parameters.
type ChunkingConfig struct {
	// Size is the default chunk size in bytes. Env: DEFAULT_CHUNK_SIZE.
	Size int `yaml:"size" json:"size"`
	// Overlap is the default chunk overlap. Env: DEFAULT_CHUNK_OVERLAP.
	Overlap int `yaml:"overlap" json:"overlap"`
}

// SearchConfig holds query-path defaults and caps.
type SearchConfig struct {
	// DefaultTopK is the result count when a request omits top_k.
	// Env: DEFAULT_TOP_K.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`
	// MaxTopK caps requested result counts. Env: MAX_TOP_K.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`
	// Complexity is the default ANN search complexity. Env: SEARCH_COMPLEXITY.
	Complexity int `yaml:"complexity" json:"complexity"`
	// CacheSize bounds the LRU of opened ANN searchers.
	// Env: SEARCHER_CACHE_SIZE.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ServerConfig holds transport settings.
type ServerConfig struct {
	// Host is the bind address. Env: HOST.
	Host string `yaml:"host" json:"host"`
	// Port is the bind port. Env: PORT.
	Port int `yaml:"port" json:"port"`
	// MaxUploadSizeMB caps file-ingest payloads. Env: MAX_UPLOAD_SIZE_MB.
	MaxUploadSizeMB int `yaml:"max_upload_size_mb" json:"max_upload_size_mb"`
	// LogLevel is the slog level. Env: LOG_LEVEL.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Dir:             "./indexes",
			Backend:         "hnsw",
			GraphDegree:     32,
			BuildComplexity: 64,
			Watch:           true,
		},
		Embedding: EmbeddingConfig{
			Model:    "nomic-embed-text",
			Mode:     ModeAuto,
			Endpoint: "http://localhost:11434",
			Workers:  4,
		},
		Chunking: ChunkingConfig{
			Size:    512,
			Overlap: 64,
		},
		Search: SearchConfig{
			DefaultTopK: 10,
			MaxTopK:     100,
			Complexity:  32,
			CacheSize:   64,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxUploadSizeMB: 10,
			LogLevel:        "info",
		},
	}
}

// Load builds the configuration. path selects a YAML file; empty path falls
// back to lodestone.yaml in the working directory when present.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	// .env entries become process env before overrides are read, matching
	// the common env_file convention. A missing .env is fine.
	_ = godotenv.Load()

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges values from a YAML file over the defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INDEX_DIR"); v != "" {
		c.Index.Dir = v
	}
	if v := os.Getenv("LEANN_BACKEND"); v != "" {
		c.Index.Backend = v
	}
	if v := os.Getenv("GRAPH_DEGREE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Index.GraphDegree = n
		}
	}
	if v := os.Getenv("BUILD_COMPLEXITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Index.BuildComplexity = n
		}
	}
	if v := os.Getenv("WATCH_INDEX_DIR"); v != "" {
		c.Index.Watch = parseBool(v)
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_MODE"); v != "" {
		c.Embedding.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.Workers = n
		}
	}
	if v := os.Getenv("DEFAULT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.Size = n
		}
	}
	if v := os.Getenv("DEFAULT_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.Overlap = n
		}
	}
	if v := os.Getenv("DEFAULT_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.DefaultTopK = n
		}
	}
	if v := os.Getenv("MAX_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxTopK = n
		}
	}
	if v := os.Getenv("SEARCH_COMPLEXITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.Complexity = n
		}
	}
	if v := os.Getenv("SEARCHER_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.CacheSize = n
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.MaxUploadSizeMB = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks transport-level configuration. ANN settings ranges are
// enforced where index settings are accepted, so a bad default surfaces as
// a validation error on the first create.
func (c *Config) Validate() error {
	if c.Index.Dir == "" {
		return fmt.Errorf("index dir must not be empty")
	}
	switch c.Embedding.Mode {
	case ModeAuto, ModeOllama, ModeStatic:
	default:
		return fmt.Errorf("embedding mode must be one of auto, ollama, static; got %q", c.Embedding.Mode)
	}
	if c.Embedding.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Search.DefaultTopK < 1 || c.Search.MaxTopK < 1 {
		return fmt.Errorf("top_k defaults must be at least 1")
	}
	if c.Search.CacheSize < 1 {
		return fmt.Errorf("searcher cache size must be at least 1")
	}
	if c.Server.MaxUploadSizeMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB")
	}
	return nil
}

// Addr returns the host:port bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadSizeMB) << 20
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
