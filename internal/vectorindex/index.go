// Package vectorindex stores document chunks with embeddings and serves
// firm-scoped similarity search.
//
// Isolation is enforced in three independent layers, all of which must agree
// before a result is returned:
//
//  1. Structural: each firm's chunks live in their own collection
//     (firm_<id>_chunks); a query never opens another firm's collection.
//  2. Payload: the firm predicate from the request context is conjoined to
//     every query's where-filter, on every code path including the raw
//     vector path. A request without firm context fails closed with
//     tenant.ErrMissingFirm.
//  3. Storage boundary audit: every retrieved result's firm_id metadata is
//     re-verified against the requesting firm; a mismatch aborts the whole
//     search with ErrIsolationViolation rather than silently dropping rows.
//
// The application filter alone is not treated as sufficient because future
// code paths may add ad-hoc queries; layers 1 and 3 hold even then.
package vectorindex

import (
	"context"
	"errors"
	"math"
	"time"
)

// Sentinel errors for index operations.
var (
	// ErrEmptyChunks indicates an empty or nil chunk batch.
	ErrEmptyChunks = errors.New("empty or nil chunks")

	// ErrDimensionMismatch indicates a vector whose dimensionality differs
	// from the index dimension. Rejected at write time, never read time.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIsolationViolation indicates a retrieved record carried a foreign
	// firm identifier. This is never swallowed.
	ErrIsolationViolation = errors.New("firm isolation violation")

	// ErrEmbeddingFailed indicates the embedding provider failed.
	// Propagated so callers can retry; never replaced with empty results.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidQuery indicates malformed search parameters.
	ErrInvalidQuery = errors.New("invalid search parameters")
)

// Chunk is an immutable span of source text stored with its embedding.
// Chunks are created at document ingestion and deleted only alongside their
// source document.
type Chunk struct {
	// ID uniquely identifies the chunk. Generated when empty.
	ID string

	// DocumentID is the source document. Required.
	DocumentID string

	// DocumentTitle is the source document's display title.
	DocumentTitle string

	// DocumentType categorizes the source (e.g. "ic_memo", "deck").
	DocumentType string

	// CompanyName is the company extracted from the source document, when known.
	CompanyName string

	// Content is the chunk text.
	Content string

	// OrdinalIndex is the chunk's position within the source document.
	OrdinalIndex int

	// SectionLabel names the document section this chunk came from. Optional.
	SectionLabel string

	// PageNumber is the source page, zero when unknown.
	PageNumber int

	// CreatedAt is the ingestion timestamp. Set when zero.
	CreatedAt time.Time

	// Embedding is an optional pre-computed vector. When nil the index
	// embeds Content itself; when set it must match the index dimension.
	Embedding []float32
}

// Match is a search result ranked by normalized similarity.
type Match struct {
	ChunkID       string
	DocumentID    string
	DocumentTitle string
	DocumentType  string
	CompanyName   string
	Content       string
	OrdinalIndex  int
	SectionLabel  string
	PageNumber    int
	CreatedAt     time.Time

	// Similarity is cosine similarity normalized to [0,1]
	// (1 - cosineDistance/2).
	Similarity float64
}

// SearchOptions narrow a similarity search. The firm predicate is never an
// option; it always comes from the request context.
type SearchOptions struct {
	// K is the maximum number of results. Required, > 0.
	K int

	// MinSimilarity is an inclusive floor on normalized similarity in [0,1].
	// Results below the floor are discarded, never ranked lower.
	MinSimilarity float64

	// DocumentID restricts results to one source document. Optional.
	DocumentID string

	// DocumentType restricts results by source category. Optional.
	DocumentType string
}

// Index is firm-scoped chunk storage with similarity search.
//
// Every method requires a firm identity in ctx (tenant.ContextWithFirm) and
// fails closed without one.
type Index interface {
	// AddChunks embeds and stores a batch of chunks for the context firm.
	// Storage order follows OrdinalIndex regardless of embedding completion
	// order, and the batch is all-or-nothing: any failure leaves no chunk
	// behind. Returns the stored chunk IDs in ordinal order.
	AddChunks(ctx context.Context, chunks []Chunk) ([]string, error)

	// Search embeds the query text and delegates to SearchVector.
	Search(ctx context.Context, query string, opts SearchOptions) ([]Match, error)

	// SearchVector is the low-level search path over a pre-computed query
	// vector. It applies the same firm scoping as Search; there is no
	// unscoped entry point.
	SearchVector(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error)

	// DeleteDocument removes all of the context firm's chunks for a source
	// document (cascade delete). Returns the number of chunks removed.
	DeleteDocument(ctx context.Context, documentID string) (int, error)

	// Close releases index resources.
	Close() error
}

// NormalizeCosine maps cosine similarity in [-1,1] to [0,1] as
// 1 - cosineDistance/2. Out-of-range inputs from float error are clamped
// and NaN maps to 0, so the result always lies in [0,1].
func NormalizeCosine(cos float64) float64 {
	n := (1 + cos) / 2
	if math.IsNaN(n) || n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
