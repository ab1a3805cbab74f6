package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

// StaticProvider is a deterministic in-process Provider for tests.
//
// Texts registered via Set get their fixed vector; everything else gets a
// unit vector derived from an FNV hash of the text, so distinct texts are
// nearly orthogonal and repeated texts are identical.
type StaticProvider struct {
	Dim     int
	Vectors map[string][]float32

	// Err, when set, is returned from every embed call. Used to test
	// provider-failure propagation.
	Err error
}

// NewStaticProvider creates a StaticProvider with the given dimension.
func NewStaticProvider(dim int) *StaticProvider {
	return &StaticProvider{Dim: dim, Vectors: make(map[string][]float32)}
}

// Set registers a fixed vector for a text.
func (p *StaticProvider) Set(text string, vec []float32) {
	p.Vectors[text] = vec
}

// EmbedQuery returns the registered or derived vector for text.
func (p *StaticProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedDocuments returns one vector per input text.
func (p *StaticProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimension returns the configured dimension.
func (p *StaticProvider) Dimension() int { return p.Dim }

// Close is a no-op.
func (p *StaticProvider) Close() error { return nil }

func (p *StaticProvider) vector(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return v
	}
	vec := make([]float32, p.Dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>32)) / float32(math.MaxInt32)
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}

var _ Provider = (*StaticProvider)(nil)
