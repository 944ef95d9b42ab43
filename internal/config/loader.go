package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given yaml file (optional) with
// MNEMO_* environment variable overrides layered on top of defaults.
// An empty path loads defaults + environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("MNEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every knob so environment overrides resolve
// even without a config file.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("embedding.dim", d.Embedding.Dim)
	v.SetDefault("embedding.mode", d.Embedding.Mode)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)

	v.SetDefault("indexing.workers", d.Indexing.Workers)
	v.SetDefault("indexing.queue_capacity", d.Indexing.QueueCapacity)
	v.SetDefault("indexing.excludes", d.Indexing.Excludes)

	v.SetDefault("cache.l1_max_bytes", d.Cache.L1MaxBytes)
	v.SetDefault("cache.l1_ttl", d.Cache.L1TTL)
	v.SetDefault("cache.l2_url", d.Cache.L2URL)
	v.SetDefault("cache.l2_ttl", d.Cache.L2TTL)

	v.SetDefault("timeouts.ast_parse", d.Timeouts.ASTParse)
	v.SetDefault("timeouts.embed_single", d.Timeouts.EmbedSingle)
	v.SetDefault("timeouts.embed_batch", d.Timeouts.EmbedBatch)
	v.SetDefault("timeouts.graph_build", d.Timeouts.GraphBuild)
	v.SetDefault("timeouts.graph_traverse", d.Timeouts.GraphTraverse)
	v.SetDefault("timeouts.index_file", d.Timeouts.IndexFile)
	v.SetDefault("timeouts.lexical_search", d.Timeouts.LexicalSearch)
	v.SetDefault("timeouts.vector_search", d.Timeouts.VectorSearch)
	v.SetDefault("timeouts.hybrid_search", d.Timeouts.HybridSearch)

	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.recovery_timeout", d.Breaker.RecoveryTimeout)

	v.SetDefault("hybrid.lexical_weight", d.Hybrid.LexicalWeight)
	v.SetDefault("hybrid.vector_weight", d.Hybrid.VectorWeight)
	v.SetDefault("hybrid.rrf_k", d.Hybrid.RRFK)

	v.SetDefault("vector.ef_search", d.Vector.EfSearch)
	v.SetDefault("lexical.similarity_threshold", d.Lexical.SimilarityThreshold)

	v.SetDefault("storage.path", d.Storage.Path)
}
