package vectorindex

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/embeddings"
	"github.com/fyrsmithlabs/icmemd/internal/tenant"
)

var chromemTracer = otel.Tracer("icmemd.vectorindex.chromem")

// Metadata keys stored alongside each chunk vector.
const (
	metaDocumentID    = "document_id"
	metaDocumentTitle = "document_title"
	metaDocumentType  = "document_type"
	metaCompanyName   = "company_name"
	metaOrdinalIndex  = "ordinal_index"
	metaSectionLabel  = "section_label"
	metaPageNumber    = "page_number"
	metaCreatedAt     = "created_at"
)

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the index dimension. Every stored vector must match it.
	// Defaults to the embedding provider's dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults(provider embeddings.Provider) {
	if c.Path == "" {
		c.Path = "~/.local/share/icmemd/index"
	}
	if c.VectorSize == 0 && provider != nil {
		c.VectorSize = provider.Dimension()
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidQuery)
	}
	return nil
}

// ChromemIndex implements Index using the embedded chromem-go database.
//
// chromem-go is a pure-Go vector store with gob persistence and exact cosine
// search, which keeps the whole index inside the process: no external vector
// database to operate, and the structural collection-per-firm layer costs
// nothing extra.
type ChromemIndex struct {
	db       *chromem.DB
	provider embeddings.Provider
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemIndex creates a persistent index at cfg.Path.
func NewChromemIndex(cfg ChromemConfig, provider embeddings.Provider, logger *zap.Logger) (*ChromemIndex, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidQuery)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.ApplyDefaults(provider)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	path, err := expandHome(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	idx := &ChromemIndex{
		db:       db,
		provider: provider,
		config:   cfg,
		logger:   logger,
	}

	logger.Info("chunk index initialized",
		zap.String("path", path),
		zap.Int("vector_size", cfg.VectorSize),
	)
	return idx, nil
}

// embeddingFunc adapts the provider for chromem query embedding.
func (x *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return x.provider.EmbedQuery(ctx, text)
	}
}

// AddChunks embeds and stores a chunk batch for the context firm.
func (x *ChromemIndex) AddChunks(ctx context.Context, chunks []Chunk) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.AddChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	firm, err := firmScope(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyChunks
	}
	for i, c := range chunks {
		if c.DocumentID == "" {
			return nil, fmt.Errorf("%w: chunk %d has no document ID", ErrInvalidQuery, i)
		}
	}

	// Storage order follows ordinal index regardless of input or embedding
	// completion order.
	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrdinalIndex < ordered[j].OrdinalIndex
	})

	// Pre-computed embeddings are used as-is; the rest are embedded in one
	// batch.
	vectors := make([][]float32, len(ordered))
	var missing []int
	var texts []string
	for i, c := range ordered {
		if c.Embedding != nil {
			vectors[i] = c.Embedding
			continue
		}
		missing = append(missing, i)
		texts = append(texts, c.Content)
	}
	if len(missing) > 0 {
		embedded, err := embeddings.ForTexts(ctx, x.provider, texts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		for j, i := range missing {
			vectors[i] = embedded[j]
		}
	}

	// Dimension and norm checks happen at write time so a corrupt vector
	// can never enter the index. A zero-norm vector (empty content embeds
	// to one) has no defined cosine similarity and would surface as NaN on
	// every later search.
	for i, vec := range vectors {
		if len(vec) != x.config.VectorSize {
			return nil, fmt.Errorf("%w: chunk %d has dimension %d, index expects %d",
				ErrDimensionMismatch, i, len(vec), x.config.VectorSize)
		}
		if isZeroVector(vec) {
			return nil, fmt.Errorf("%w: chunk %d has a zero-norm embedding", ErrInvalidQuery, i)
		}
	}

	now := time.Now().UTC()
	docs := make([]chromem.Document, len(ordered))
	ids := make([]string, len(ordered))
	for i, c := range ordered {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		ids[i] = c.ID
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: vectors[i],
			Metadata:  x.chunkMetadata(firm, c),
		}
	}

	collection, err := x.db.GetOrCreateCollection(firmCollection(firm.FirmID), nil, x.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getting collection: %w", err)
	}

	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		// All-or-nothing: roll back whatever part of the batch landed.
		if delErr := collection.Delete(ctx, nil, nil, ids...); delErr != nil {
			x.logger.Error("rollback after failed chunk batch",
				zap.String("firm_id", firm.FirmID),
				zap.Error(delErr),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding chunks: %w", err)
	}

	chunksIndexedTotal.Add(float64(len(ids)))
	span.SetStatus(codes.Ok, "success")
	x.logger.Debug("chunks indexed",
		zap.String("firm_id", firm.FirmID),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// Search embeds the query text and runs a firm-scoped similarity search.
func (x *ChromemIndex) Search(ctx context.Context, query string, opts SearchOptions) ([]Match, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	vector, err := embeddings.ForText(ctx, x.provider, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return x.SearchVector(ctx, vector, opts)
}

// SearchVector runs a firm-scoped similarity search over a query vector.
// This is the lowest-level search path; firm scoping is conjoined here too.
func (x *ChromemIndex) SearchVector(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.SearchVector")
	defer span.End()
	span.SetAttributes(attribute.Int("k", opts.K))

	start := time.Now()
	matches, err := x.searchVector(ctx, vector, opts)
	searchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	searchesTotal.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.Int("results", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

func (x *ChromemIndex) searchVector(ctx context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	firm, err := firmScope(ctx)
	if err != nil {
		return nil, err
	}
	if opts.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, opts.K)
	}
	if opts.MinSimilarity < 0 || opts.MinSimilarity > 1 {
		return nil, fmt.Errorf("%w: min similarity %v outside [0,1]", ErrInvalidQuery, opts.MinSimilarity)
	}
	if len(vector) != x.config.VectorSize {
		return nil, fmt.Errorf("%w: query vector has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vector), x.config.VectorSize)
	}

	userFilters := make(map[string]string)
	if opts.DocumentID != "" {
		userFilters[metaDocumentID] = opts.DocumentID
	}
	if opts.DocumentType != "" {
		userFilters[metaDocumentType] = opts.DocumentType
	}
	where, err := injectFirmFilter(firm, userFilters)
	if err != nil {
		return nil, err
	}

	collection := x.db.GetCollection(firmCollection(firm.FirmID), x.embeddingFunc())
	if collection == nil {
		// The firm has never indexed anything; structurally empty.
		return []Match{}, nil
	}
	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}

	// Query the full collection so the similarity floor and deterministic
	// tie-breaking operate on the exact candidate set. chromem performs
	// exact search; nResults must not exceed the document count.
	results, err := collection.QueryEmbedding(ctx, vector, count, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	metadatas := make([]map[string]string, len(results))
	for i, r := range results {
		metadatas[i] = r.Metadata
	}
	if err := verifyFirmOwnership(firm, metadatas); err != nil {
		x.logger.Error("storage boundary audit failed",
			zap.String("firm_id", firm.FirmID),
			zap.Error(err),
		)
		return nil, err
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		// A NaN similarity (zero-norm query or stored vector) compares
		// false against any floor and must never pass it.
		if math.IsNaN(float64(r.Similarity)) {
			continue
		}
		sim := NormalizeCosine(float64(r.Similarity))
		if sim < opts.MinSimilarity {
			continue
		}
		matches = append(matches, x.resultToMatch(r, sim))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.OrdinalIndex != b.OrdinalIndex {
			return a.OrdinalIndex < b.OrdinalIndex
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	if len(matches) > opts.K {
		matches = matches[:opts.K]
	}
	return matches, nil
}

// DeleteDocument removes all of the context firm's chunks for a document.
func (x *ChromemIndex) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	firm, err := firmScope(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if documentID == "" {
		return 0, fmt.Errorf("%w: document ID cannot be empty", ErrInvalidQuery)
	}

	collection := x.db.GetCollection(firmCollection(firm.FirmID), x.embeddingFunc())
	if collection == nil {
		return 0, nil
	}

	before := collection.Count()
	where := map[string]string{
		firmFilterKey:  firm.FirmID,
		metaDocumentID: documentID,
	}
	if err := collection.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting document chunks: %w", err)
	}
	removed := before - collection.Count()

	span.SetAttributes(attribute.Int("removed", removed))
	span.SetStatus(codes.Ok, "success")
	x.logger.Info("document chunks deleted",
		zap.String("firm_id", firm.FirmID),
		zap.String("document_id", documentID),
		zap.Int("count", removed),
	)
	return removed, nil
}

// Close releases the index. chromem persists on write; nothing to flush.
func (x *ChromemIndex) Close() error {
	x.logger.Info("chunk index closed")
	return nil
}

func (x *ChromemIndex) chunkMetadata(firm *tenant.FirmInfo, c Chunk) map[string]string {
	meta := map[string]string{
		firmFilterKey:    firm.FirmID,
		metaDocumentID:   c.DocumentID,
		metaOrdinalIndex: strconv.Itoa(c.OrdinalIndex),
		metaCreatedAt:    c.CreatedAt.Format(time.RFC3339Nano),
	}
	if c.DocumentTitle != "" {
		meta[metaDocumentTitle] = c.DocumentTitle
	}
	if c.DocumentType != "" {
		meta[metaDocumentType] = c.DocumentType
	}
	if c.CompanyName != "" {
		meta[metaCompanyName] = c.CompanyName
	}
	if c.SectionLabel != "" {
		meta[metaSectionLabel] = c.SectionLabel
	}
	if c.PageNumber != 0 {
		meta[metaPageNumber] = strconv.Itoa(c.PageNumber)
	}
	return meta
}

func (x *ChromemIndex) resultToMatch(r chromem.Result, similarity float64) Match {
	m := Match{
		ChunkID:       r.ID,
		Content:       r.Content,
		Similarity:    similarity,
		DocumentID:    r.Metadata[metaDocumentID],
		DocumentTitle: r.Metadata[metaDocumentTitle],
		DocumentType:  r.Metadata[metaDocumentType],
		CompanyName:   r.Metadata[metaCompanyName],
		SectionLabel:  r.Metadata[metaSectionLabel],
	}
	if v, err := strconv.Atoi(r.Metadata[metaOrdinalIndex]); err == nil {
		m.OrdinalIndex = v
	}
	if v, err := strconv.Atoi(r.Metadata[metaPageNumber]); err == nil {
		m.PageNumber = v
	}
	if t, err := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt]); err == nil {
		m.CreatedAt = t
	}
	return m
}

func isZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func expandHome(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home + path[1:], nil
	}
	return path, nil
}

var _ Index = (*ChromemIndex)(nil)
