package embed

import (
	"context"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
)

// failingProvider always fails. Used to exercise the degradation path
// where chunks are written without embeddings.
type failingProvider struct {
	dimensions int
}

// NewFailingProvider creates a provider whose Embed always returns
// KindEmbeddingUnavailable.
func NewFailingProvider(dimensions int) Provider {
	return &failingProvider{dimensions: dimensions}
}

func (p *failingProvider) Embed(ctx context.Context, domain Domain, texts []string) ([][]float32, error) {
	return nil, merrors.E(merrors.KindEmbeddingUnavailable, "embed", "embedding provider configured to fail")
}

func (p *failingProvider) Dimensions() int {
	return p.dimensions
}

func (p *failingProvider) Close() error {
	return nil
}
