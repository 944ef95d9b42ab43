// Package config defines the MnemoLite configuration and its loader.
// Configuration is loaded from an optional yaml file with environment
// variable overrides; every knob has a default so the zero-config path
// works out of the box.
package config

import (
	"fmt"
	"time"
)

// Config is the complete engine configuration.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing" mapstructure:"indexing"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Timeouts  TimeoutConfig   `yaml:"timeouts" mapstructure:"timeouts"`
	Breaker   BreakerConfig   `yaml:"breaker" mapstructure:"breaker"`
	Hybrid    HybridConfig    `yaml:"hybrid" mapstructure:"hybrid"`
	Vector    VectorConfig    `yaml:"vector" mapstructure:"vector"`
	Lexical   LexicalConfig   `yaml:"lexical" mapstructure:"lexical"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Dim       int    `yaml:"dim" mapstructure:"dim"`               // process-wide vector dimension
	Mode      string `yaml:"mode" mapstructure:"mode"`             // "real" or "mock"
	CacheSize int    `yaml:"cache_size" mapstructure:"cache_size"` // LRU entries
}

// IndexingConfig configures the pipeline worker pool.
type IndexingConfig struct {
	Workers       int      `yaml:"workers" mapstructure:"workers"`
	QueueCapacity int      `yaml:"queue_capacity" mapstructure:"queue_capacity"` // 0 means 4×workers
	Excludes      []string `yaml:"excludes" mapstructure:"excludes"`             // glob patterns
}

// QueueSize returns the effective bounded queue capacity.
func (c IndexingConfig) QueueSize() int {
	if c.QueueCapacity > 0 {
		return c.QueueCapacity
	}
	return 4 * c.Workers
}

// CacheConfig configures the cascade cache tiers.
type CacheConfig struct {
	L1MaxBytes int           `yaml:"l1_max_bytes" mapstructure:"l1_max_bytes"`
	L1TTL      time.Duration `yaml:"l1_ttl" mapstructure:"l1_ttl"`
	L2URL      string        `yaml:"l2_url" mapstructure:"l2_url"` // empty disables the Redis tier
	L2TTL      time.Duration `yaml:"l2_ttl" mapstructure:"l2_ttl"`
}

// TimeoutConfig holds the per-operation deadlines.
type TimeoutConfig struct {
	ASTParse      time.Duration `yaml:"ast_parse" mapstructure:"ast_parse"`
	EmbedSingle   time.Duration `yaml:"embed_single" mapstructure:"embed_single"`
	EmbedBatch    time.Duration `yaml:"embed_batch" mapstructure:"embed_batch"`
	GraphBuild    time.Duration `yaml:"graph_build" mapstructure:"graph_build"`
	GraphTraverse time.Duration `yaml:"graph_traverse" mapstructure:"graph_traverse"`
	IndexFile     time.Duration `yaml:"index_file" mapstructure:"index_file"`
	LexicalSearch time.Duration `yaml:"lexical_search" mapstructure:"lexical_search"`
	VectorSearch  time.Duration `yaml:"vector_search" mapstructure:"vector_search"`
	HybridSearch  time.Duration `yaml:"hybrid_search" mapstructure:"hybrid_search"`
}

// BreakerConfig configures the circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
}

// HybridConfig holds the RRF fusion parameters.
type HybridConfig struct {
	LexicalWeight float64 `yaml:"lexical_weight" mapstructure:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" mapstructure:"vector_weight"`
	RRFK          int     `yaml:"rrf_k" mapstructure:"rrf_k"`
}

// VectorConfig holds vector search parameters.
type VectorConfig struct {
	EfSearch int `yaml:"ef_search" mapstructure:"ef_search"`
}

// LexicalConfig holds lexical search parameters.
type LexicalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // file path, or ":memory:"
}

// Default returns a configuration with the documented defaults.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Dim:       768,
			Mode:      "mock",
			CacheSize: 2048,
		},
		Indexing: IndexingConfig{
			Workers: 4,
			Excludes: []string{
				"**/node_modules/**",
				"**/__tests__/**",
				"**/__pycache__/**",
				"**/.git/**",
				"**/vendor/**",
				"**/dist/**",
				"**/build/**",
				"**/target/**",
				"**/*.d.ts",
				"**/*.test.*",
				"**/*.spec.*",
			},
		},
		Cache: CacheConfig{
			L1MaxBytes: 100 * 1024 * 1024,
			L1TTL:      5 * time.Minute,
			L2URL:      "",
			L2TTL:      time.Hour,
		},
		Timeouts: TimeoutConfig{
			ASTParse:      10 * time.Second,
			EmbedSingle:   5 * time.Second,
			EmbedBatch:    30 * time.Second,
			GraphBuild:    300 * time.Second,
			GraphTraverse: 10 * time.Second,
			IndexFile:     60 * time.Second,
			LexicalSearch: 5 * time.Second,
			VectorSearch:  5 * time.Second,
			HybridSearch:  10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		},
		Hybrid: HybridConfig{
			LexicalWeight: 0.4,
			VectorWeight:  0.6,
			RRFK:          60,
		},
		Vector: VectorConfig{
			EfSearch: 100,
		},
		Lexical: LexicalConfig{
			SimilarityThreshold: 0.1,
		},
		Storage: StorageConfig{
			Path: "mnemolite.db",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Indexing.Workers <= 0 {
		return fmt.Errorf("indexing.workers must be positive, got %d", c.Indexing.Workers)
	}
	if c.Hybrid.LexicalWeight < 0 || c.Hybrid.LexicalWeight > 1 {
		return fmt.Errorf("hybrid.lexical_weight must be in [0,1], got %v", c.Hybrid.LexicalWeight)
	}
	if c.Hybrid.VectorWeight < 0 || c.Hybrid.VectorWeight > 1 {
		return fmt.Errorf("hybrid.vector_weight must be in [0,1], got %v", c.Hybrid.VectorWeight)
	}
	if c.Vector.EfSearch < 10 || c.Vector.EfSearch > 1000 {
		return fmt.Errorf("vector.ef_search must be in [10,1000], got %d", c.Vector.EfSearch)
	}
	if c.Lexical.SimilarityThreshold < 0 || c.Lexical.SimilarityThreshold > 1 {
		return fmt.Errorf("lexical.similarity_threshold must be in [0,1], got %v", c.Lexical.SimilarityThreshold)
	}
	return nil
}
