package embed

import (
	"fmt"

	"github.com/mnemo-labs/mnemolite/internal/config"
	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
)

// NewFactory builds the per-worker provider factory for the configured
// embedding mode. Each call to the factory yields an independent
// provider instance with its own LRU cache and breaker, so pipeline
// workers never contend on provider state.
func NewFactory(cfg *config.Config, registry *merrors.BreakerRegistry) (Factory, error) {
	switch cfg.Embedding.Mode {
	case "mock":
		return func() (Provider, error) {
			breaker := merrors.NewCircuitBreaker("embedding",
				merrors.WithFailureThreshold(cfg.Breaker.FailureThreshold),
				merrors.WithRecoveryTimeout(cfg.Breaker.RecoveryTimeout),
			)
			if registry != nil {
				registry.Register(breaker)
			}
			inner := NewMockProvider(cfg.Embedding.Dim)
			guarded := NewGuardedProvider(inner, breaker, cfg.Timeouts.EmbedSingle, cfg.Timeouts.EmbedBatch)
			return NewCachedProvider(guarded, cfg.Embedding.CacheSize), nil
		}, nil
	case "real":
		// Model loading is out of scope for the engine; a real provider
		// is injected by the embedding service wiring above this layer.
		return nil, fmt.Errorf("embedding.mode=real requires an injected provider")
	default:
		return nil, fmt.Errorf("unknown embedding.mode %q", cfg.Embedding.Mode)
	}
}
