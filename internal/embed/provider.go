// Package embed defines the embedding capability used by the indexing
// pipeline and the search layer. Implementations are opaque: they turn
// text or code into fixed-dimension float32 vectors.
package embed

import "context"

// Domain selects the embedding space. Text and code live in separate
// columns and separate vector indexes.
type Domain string

const (
	// DomainText embeds natural-language content.
	DomainText Domain = "TEXT"
	// DomainCode embeds source code.
	DomainCode Domain = "CODE"
)

// Valid reports whether the domain is one of TEXT or CODE.
func (d Domain) Valid() bool {
	return d == DomainText || d == DomainCode
}

// Provider converts texts into dense vectors.
//
// Contract: deterministic for the same (domain, text); batched calls
// return one vector per input, in order; vectors never contain NaN or
// Inf; zero-norm inputs map to the zero vector. Failures surface as
// KindEmbeddingUnavailable or KindTimeout and callers may proceed
// without the embedding.
type Provider interface {
	// Embed converts a batch of texts into vectors of Dimensions() length.
	Embed(ctx context.Context, domain Domain, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector dimension d.
	Dimensions() int

	// Close releases any resources held by the provider.
	Close() error
}

// Factory creates one provider per pipeline worker. Workers do not
// share provider instances.
type Factory func() (Provider, error)
