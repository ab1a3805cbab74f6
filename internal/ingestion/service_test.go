package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/embeddings"
	"github.com/fyrsmithlabs/icmemd/internal/tenant"
	"github.com/fyrsmithlabs/icmemd/internal/vectorindex"
)

// slowProvider wraps a StaticProvider and counts concurrent embed calls so
// the worker bound can be asserted.
type slowProvider struct {
	*embeddings.StaticProvider

	mu     sync.Mutex
	active int
	peak   int
	failOn string
}

func (p *slowProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	for _, t := range texts {
		if p.failOn != "" && t == p.failOn {
			return nil, errors.New("embed failure")
		}
	}
	return p.StaticProvider.EmbedDocuments(ctx, texts)
}

func firmCtx(t *testing.T) context.Context {
	t.Helper()
	return tenant.ContextWithFirm(context.Background(), &tenant.FirmInfo{FirmID: "firm-a", UserID: "user-1"})
}

func newTestService(t *testing.T, provider embeddings.Provider) (*Service, vectorindex.Index) {
	t.Helper()
	index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{
		Path: t.TempDir(),
	}, provider, zap.NewNop())
	require.NoError(t, err)

	svc, err := NewService(Config{MaxWorkers: 2, BatchSize: 3}, index, provider, zap.NewNop())
	require.NoError(t, err)
	return svc, index
}

func rawChunks(n int) []RawChunk {
	out := make([]RawChunk, n)
	for i := range out {
		out[i] = RawChunk{
			Content:      fmt.Sprintf("chunk content %d", i),
			SectionLabel: fmt.Sprintf("section-%d", i/3),
			PageNumber:   i + 1,
		}
	}
	return out
}

func TestIngest_OrderAndMetadata(t *testing.T) {
	ctx := firmCtx(t)
	provider := &slowProvider{StaticProvider: embeddings.NewStaticProvider(4)}
	svc, index := newTestService(t, provider)

	doc := Document{ID: "memo-1", Title: "IC Memo: Acme", Type: "ic_memo", CompanyName: "Acme"}
	ids, err := svc.Ingest(ctx, doc, rawChunks(8))
	require.NoError(t, err)
	require.Len(t, ids, 8)

	// The worker bound holds even with three batches in flight.
	assert.LessOrEqual(t, provider.peak, 2)

	matches, err := index.Search(ctx, "chunk content 0", vectorindex.SearchOptions{K: 8})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	byOrdinal := make(map[int]vectorindex.Match)
	for _, m := range matches {
		byOrdinal[m.OrdinalIndex] = m
	}
	first := byOrdinal[0]
	assert.Equal(t, "memo-1", first.DocumentID)
	assert.Equal(t, "IC Memo: Acme", first.DocumentTitle)
	assert.Equal(t, "ic_memo", first.DocumentType)
	assert.Equal(t, "Acme", first.CompanyName)
	assert.Equal(t, "section-0", first.SectionLabel)
	assert.Equal(t, 1, first.PageNumber)
}

func TestIngest_FailureLeavesNothingIndexed(t *testing.T) {
	ctx := firmCtx(t)
	provider := &slowProvider{
		StaticProvider: embeddings.NewStaticProvider(4),
		failOn:         "chunk content 5",
	}
	svc, index := newTestService(t, provider)

	_, err := svc.Ingest(ctx, Document{ID: "memo-1"}, rawChunks(8))
	require.Error(t, err)

	matches, err := index.Search(ctx, "chunk content 0", vectorindex.SearchOptions{K: 8})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIngest_Validation(t *testing.T) {
	ctx := firmCtx(t)
	svc, _ := newTestService(t, embeddings.NewStaticProvider(4))

	t.Run("missing document id", func(t *testing.T) {
		_, err := svc.Ingest(ctx, Document{}, rawChunks(1))
		require.Error(t, err)
	})

	t.Run("no chunks", func(t *testing.T) {
		_, err := svc.Ingest(ctx, Document{ID: "memo-1"}, nil)
		assert.ErrorIs(t, err, vectorindex.ErrEmptyChunks)
	})

	t.Run("missing firm context", func(t *testing.T) {
		_, err := svc.Ingest(context.Background(), Document{ID: "memo-1"}, rawChunks(1))
		assert.ErrorIs(t, err, tenant.ErrMissingFirm)
	})
}

func TestRemove_CascadesDocumentChunks(t *testing.T) {
	ctx := firmCtx(t)
	svc, index := newTestService(t, embeddings.NewStaticProvider(4))

	_, err := svc.Ingest(ctx, Document{ID: "memo-1", Type: "ic_memo"}, rawChunks(4))
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, Document{ID: "memo-2", Type: "ic_memo"}, rawChunks(2))
	require.NoError(t, err)

	removed, err := svc.Remove(ctx, "memo-1")
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	matches, err := index.Search(ctx, "chunk content 0", vectorindex.SearchOptions{K: 10})
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, "memo-2", m.DocumentID)
	}
}
