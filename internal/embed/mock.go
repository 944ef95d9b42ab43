package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// mockProvider generates deterministic embeddings by hashing the input.
// It stands in for a real model in tests and in embedding.mode=mock
// deployments.
type mockProvider struct {
	dimensions int
}

// NewMockProvider creates a deterministic hash-based provider.
func NewMockProvider(dimensions int) Provider {
	return &mockProvider{dimensions: dimensions}
}

// Embed derives each vector from sha256(domain || text). Identical
// inputs always produce identical vectors; whitespace-only inputs
// produce the zero vector.
func (p *mockProvider) Embed(ctx context.Context, domain Domain, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embedding := make([]float32, p.dimensions)
		if strings.TrimSpace(text) == "" {
			embeddings[i] = embedding
			continue
		}

		hash := sha256.Sum256([]byte(string(domain) + "\x00" + text))
		for j := 0; j < p.dimensions; j++ {
			offset := (j * 4) % (len(hash) - 4)
			val := binary.BigEndian.Uint32(hash[offset : offset+4])
			// Normalize to [-1, 1] and perturb by position so the
			// vector is not periodic in j.
			embedding[j] = (float32(val)/float32(1<<32))*2.0 - 1.0 + float32(j%7)*1e-4
		}
		embeddings[i] = embedding
	}

	return embeddings, nil
}

// Dimensions returns the configured dimensionality.
func (p *mockProvider) Dimensions() int {
	return p.dimensions
}

// Close is a no-op for the mock provider.
func (p *mockProvider) Close() error {
	return nil
}
