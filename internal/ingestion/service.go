// Package ingestion turns raw document chunks into indexed, firm-scoped
// vectors.
//
// Embedding runs on a bounded worker pool; storage order always follows the
// caller's chunk order and the whole batch lands or none of it does.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/embeddings"
	"github.com/fyrsmithlabs/icmemd/internal/vectorindex"
)

var tracer = otel.Tracer("icmemd/ingestion")

// Document identifies and describes the source being ingested.
type Document struct {
	// ID is the source document identifier. Required.
	ID string

	// Title is the display title.
	Title string

	// Type categorizes the source (e.g. "ic_memo", "deck").
	Type string

	// CompanyName is the company the document is about, when known.
	CompanyName string
}

// RawChunk is one span of extracted document text, in document order.
type RawChunk struct {
	Content      string
	SectionLabel string
	PageNumber   int
}

// Config holds ingestion tuning.
type Config struct {
	// MaxWorkers bounds concurrent embedding calls.
	MaxWorkers int

	// BatchSize is the number of chunks embedded per provider call.
	BatchSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}

// Service ingests documents into a firm-scoped vector index.
type Service struct {
	index    vectorindex.Index
	provider embeddings.Provider
	config   Config
	logger   *zap.Logger
}

// NewService creates an ingestion service.
func NewService(cfg Config, index vectorindex.Index, provider embeddings.Provider, logger *zap.Logger) (*Service, error) {
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{index: index, provider: provider, config: cfg, logger: logger}, nil
}

// Ingest embeds and indexes a document's chunks for the context firm. Chunk
// order in raw becomes the stored ordinal order regardless of which
// embedding batch finishes first. Any failure leaves nothing indexed.
func (s *Service) Ingest(ctx context.Context, doc Document, raw []RawChunk) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ingestion.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_id", doc.ID),
		attribute.Int("chunk_count", len(raw)),
	)

	if doc.ID == "" {
		return nil, fmt.Errorf("document id required")
	}
	if len(raw) == 0 {
		return nil, vectorindex.ErrEmptyChunks
	}

	vectors, err := s.embedAll(ctx, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}

	now := time.Now().UTC()
	chunks := make([]vectorindex.Chunk, len(raw))
	for i, rc := range raw {
		chunks[i] = vectorindex.Chunk{
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			DocumentType:  doc.Type,
			CompanyName:   doc.CompanyName,
			Content:       rc.Content,
			OrdinalIndex:  i,
			SectionLabel:  rc.SectionLabel,
			PageNumber:    rc.PageNumber,
			CreatedAt:     now,
			Embedding:     vectors[i],
		}
	}

	ids, err := s.index.AddChunks(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(ids)),
	)
	return ids, nil
}

// Remove deletes every indexed chunk of a document for the context firm.
func (s *Service) Remove(ctx context.Context, documentID string) (int, error) {
	ctx, span := tracer.Start(ctx, "ingestion.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	removed, err := s.index.DeleteDocument(ctx, documentID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	s.logger.Info("document removed",
		zap.String("document_id", documentID),
		zap.Int("chunks", removed),
	)
	return removed, nil
}

// embedAll embeds all chunk texts with at most MaxWorkers concurrent
// provider calls. Results land at their input positions.
func (s *Service) embedAll(ctx context.Context, raw []RawChunk) ([][]float32, error) {
	type batch struct {
		offset int
		texts  []string
	}
	var batches []batch
	for start := 0; start < len(raw); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(raw) {
			end = len(raw)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = raw[i].Content
		}
		batches = append(batches, batch{offset: start, texts: texts})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(raw))
	errCh := make(chan error, len(batches))
	sem := make(chan struct{}, s.config.MaxWorkers)

	var wg sync.WaitGroup
	for _, b := range batches {
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}

			vecs, err := embeddings.ForTexts(ctx, s.provider, b.texts)
			if err != nil {
				errCh <- err
				cancel()
				return
			}
			for i, v := range vecs {
				vectors[b.offset+i] = v
			}
		}(b)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	return vectors, nil
}
