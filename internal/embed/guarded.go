package embed

import (
	"context"
	"time"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
)

// GuardedProvider wraps a Provider with a circuit breaker and
// per-call deadlines. Single-text calls get the short deadline,
// batches the long one. When the breaker is open, calls fail fast
// with KindCircuitOpen; provider errors surface as
// KindEmbeddingUnavailable.
type GuardedProvider struct {
	inner        Provider
	breaker      *merrors.CircuitBreaker
	singleDeadln time.Duration
	batchDeadln  time.Duration
}

// NewGuardedProvider wraps inner with the given breaker and deadlines.
func NewGuardedProvider(inner Provider, breaker *merrors.CircuitBreaker, single, batch time.Duration) *GuardedProvider {
	return &GuardedProvider{
		inner:        inner,
		breaker:      breaker,
		singleDeadln: single,
		batchDeadln:  batch,
	}
}

// Embed runs the inner provider under breaker + deadline.
func (g *GuardedProvider) Embed(ctx context.Context, domain Domain, texts []string) ([][]float32, error) {
	deadline := g.batchDeadln
	op := "embed.batch"
	if len(texts) <= 1 {
		deadline = g.singleDeadln
		op = "embed.single"
	}

	return merrors.ExecuteWithResult(g.breaker, func() ([][]float32, error) {
		var out [][]float32
		err := merrors.WithDeadline(ctx, op, deadline, func(ctx context.Context) error {
			vecs, embedErr := g.inner.Embed(ctx, domain, texts)
			if embedErr != nil {
				return embedErr
			}
			out = vecs
			return nil
		})
		if err != nil {
			if merrors.IsKind(err, merrors.KindTimeout) {
				return nil, err
			}
			return nil, merrors.Wrap(merrors.KindEmbeddingUnavailable, op, err)
		}
		return out, nil
	})
}

// Dimensions returns the inner provider's dimension.
func (g *GuardedProvider) Dimensions() int {
	return g.inner.Dimensions()
}

// Close closes the inner provider.
func (g *GuardedProvider) Close() error {
	return g.inner.Close()
}
