// Package embeddings generates fixed-dimension vectors from text.
//
// The engine treats embedding generation as an external capability: a
// Provider is injected into every component that needs one, and the process
// loads the model exactly once at the composition root. Provider failures
// always propagate; the core never substitutes empty results for a failed
// embedding call, because an empty result is indistinguishable from "nothing
// matched".
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for embedding operations.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrProviderUnavailable indicates the embedding backend failed.
	// Callers retry at their own policy; the core never swallows this.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// Provider is the interface for embedding providers.
//
// Implementations must return the same dimension D for every call within a
// deployment. Empty input text maps to the zero vector of dimension D, not
// an error; the zero-vector mapping is applied by ForText/ForTexts so
// backends only ever see non-empty input.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type. Currently only "fastembed".
	Provider string
	// Model is the embedding model name.
	Model string
	// CacheDir is the model cache directory.
	CacheDir string
}

// NewProvider creates an embedding provider from configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// ForText embeds a single text via the provider, mapping empty input to the
// zero vector of the provider's dimension.
func ForText(ctx context.Context, p Provider, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, p.Dimension()), nil
	}
	vec, err := p.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return vec, nil
}

// ForTexts embeds a batch, preserving input order and mapping empty entries
// to zero vectors. The backend only sees the non-empty subset.
func ForTexts(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))

	var nonEmpty []string
	var positions []int
	for i, t := range texts {
		if t == "" {
			result[i] = make([]float32, p.Dimension())
			continue
		}
		nonEmpty = append(nonEmpty, t)
		positions = append(positions, i)
	}
	if len(nonEmpty) == 0 {
		return result, nil
	}

	vecs, err := p.EmbedDocuments(ctx, nonEmpty)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(vecs) != len(nonEmpty) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderUnavailable, len(vecs), len(nonEmpty))
	}
	for i, vec := range vecs {
		result[positions[i]] = vec
	}
	return result, nil
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 0 when either vector has zero norm or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
