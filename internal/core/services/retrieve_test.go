package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mailindex/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driven"
)

// retrieveFixture indexes two small documents in ns-a: an email about
// budgets (embedding near the X axis) and a PDF about roadmaps (near Y).
func retrieveFixture(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()

	email := &domain.Document{
		ID: "doc-budget", Namespace: "ns-a", Filetype: domain.FiletypeEmailBody,
		Source: domain.SourceMetadata{
			Subject:    "Budget review",
			From:       "alice@example.com",
			ReceivedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
	}
	pdf := &domain.Document{
		ID: "doc-roadmap", Namespace: "ns-a", Filetype: domain.FiletypePDF,
		Source: domain.SourceMetadata{
			Subject:    "Planning docs",
			From:       "bob@example.com",
			ReceivedAt: time.Date(2025, 4, 2, 14, 0, 0, 0, time.UTC),
			Filename:   "roadmap.pdf",
		},
	}
	require.NoError(t, store.SaveDocument(ctx, email))
	require.NoError(t, store.SaveDocument(ctx, pdf))

	budgetChunk := &domain.Chunk{
		ID:         domain.ChunkID("doc-budget", 0),
		DocumentID: "doc-budget",
		Ordinal:    0,
		Text:       "the quarterly budget numbers look solid",
		TokenCount: 6,
		Embedding:  []float32{1, 0, 0},
	}
	roadmapChunk := &domain.Chunk{
		ID:         domain.ChunkID("doc-roadmap", 0),
		DocumentID: "doc-roadmap",
		Ordinal:    0,
		Text:       "the product roadmap covers next year",
		TokenCount: 6,
		Embedding:  []float32{0, 1, 0},
		Position:   domain.Position{PageStart: 3, PageEnd: 3},
	}
	_, err := store.UpsertChunk(ctx, budgetChunk)
	require.NoError(t, err)
	_, err = store.UpsertChunk(ctx, roadmapChunk)
	require.NoError(t, err)

	return store
}

// queryEmbedder embeds every query as a fixed vector.
type queryEmbedder struct {
	*fakeEmbedder
	vector []float32
	err    error
}

func (q *queryEmbedder) Embed(context.Context, string) ([]float32, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.vector, nil
}

func TestQuery_HybridRanksAgreementFirst(t *testing.T) {
	store := retrieveFixture(t)
	embedder := &queryEmbedder{fakeEmbedder: newFakeEmbedder(3), vector: []float32{1, 0, 0}}
	svc := NewRetrieveService(store, embedder, FusionConfig{})

	// Both paths agree on the budget chunk: lexically via "budget", densely
	// via the X-axis query vector.
	result, err := svc.Query(context.Background(), "budget numbers",
		domain.QueryOptions{Namespace: "ns-a", K: 2})
	require.NoError(t, err)

	require.NotEmpty(t, result.Chunks)
	assert.False(t, result.Degraded)
	assert.Equal(t, "doc-budget", result.Chunks[0].Chunk.DocumentID)
	assert.Equal(t, "Budget review", result.Chunks[0].Source.Subject)
	assert.Empty(t, result.Chunks[0].Source.Filename)
}

func TestQuery_CitationForAttachment(t *testing.T) {
	store := retrieveFixture(t)
	embedder := &queryEmbedder{fakeEmbedder: newFakeEmbedder(3), vector: []float32{0, 1, 0}}
	svc := NewRetrieveService(store, embedder, FusionConfig{})

	result, err := svc.Query(context.Background(), "product roadmap",
		domain.QueryOptions{Namespace: "ns-a", K: 1})
	require.NoError(t, err)

	require.Len(t, result.Chunks, 1)
	source := result.Chunks[0].Source
	assert.Equal(t, "Planning docs", source.Subject)
	assert.Equal(t, "roadmap.pdf", source.Filename)
	assert.Equal(t, "page=3", source.Locator)
}

func TestQuery_EmptyNamespaceFailsClosed(t *testing.T) {
	store := retrieveFixture(t)
	svc := NewRetrieveService(store, newFakeEmbedder(3), FusionConfig{})

	result, err := svc.Query(context.Background(), "budget", domain.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
}

func TestQuery_EmptyQueryReturnsNothing(t *testing.T) {
	store := retrieveFixture(t)
	svc := NewRetrieveService(store, newFakeEmbedder(3), FusionConfig{})

	result, err := svc.Query(context.Background(), "   ",
		domain.QueryOptions{Namespace: "ns-a"})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
}

func TestQuery_DegradesWhenEmbedderFails(t *testing.T) {
	store := retrieveFixture(t)
	embedder := &queryEmbedder{
		fakeEmbedder: newFakeEmbedder(3),
		err:          errors.New("connection refused"),
	}
	svc := NewRetrieveService(store, embedder, FusionConfig{})

	result, err := svc.Query(context.Background(), "budget",
		domain.QueryOptions{Namespace: "ns-a"})
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "doc-budget", result.Chunks[0].Chunk.DocumentID)
}

func TestQuery_NoEmbedderIsDegraded(t *testing.T) {
	store := retrieveFixture(t)
	svc := NewRetrieveService(store, nil, FusionConfig{})

	result, err := svc.Query(context.Background(), "budget",
		domain.QueryOptions{Namespace: "ns-a"})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Len(t, result.Chunks, 1)
}

func TestQuery_LexicalOnlyNotDegraded(t *testing.T) {
	store := retrieveFixture(t)
	embedder := &queryEmbedder{fakeEmbedder: newFakeEmbedder(3), vector: []float32{1, 0, 0}}
	svc := NewRetrieveService(store, embedder, FusionConfig{})

	result, err := svc.Query(context.Background(), "budget",
		domain.QueryOptions{Namespace: "ns-a", LexicalOnly: true})
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Len(t, result.Chunks, 1)
}

func TestQuery_FiltersNarrowCandidates(t *testing.T) {
	store := retrieveFixture(t)
	embedder := &queryEmbedder{fakeEmbedder: newFakeEmbedder(3), vector: []float32{0.5, 0.5, 0}}
	svc := NewRetrieveService(store, embedder, FusionConfig{})

	result, err := svc.Query(context.Background(), "the",
		domain.QueryOptions{
			Namespace: "ns-a",
			Filters:   domain.Filters{Filetype: domain.FiletypePDF},
		})
	require.NoError(t, err)

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "doc-roadmap", result.Chunks[0].Chunk.DocumentID)
}

func TestQuery_TombstonedDocumentInvisible(t *testing.T) {
	store := retrieveFixture(t)
	require.NoError(t, store.TombstoneDocument(context.Background(), "doc-budget"))

	svc := NewRetrieveService(store, nil, FusionConfig{})
	result, err := svc.Query(context.Background(), "budget",
		domain.QueryOptions{Namespace: "ns-a"})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
}

func TestFuse_RRFPrefersAgreement(t *testing.T) {
	svc := NewRetrieveService(nil, nil, FusionConfig{})

	dense := []driven.SearchHit{
		{ChunkID: "a#0000", DocumentID: "a", Score: 0.9},
		{ChunkID: "b#0000", DocumentID: "b", Score: 0.8},
	}
	lex := []driven.SearchHit{
		{ChunkID: "b#0000", DocumentID: "b", Score: 5.0},
		{ChunkID: "c#0000", DocumentID: "c", Score: 4.0},
	}

	fused := svc.fuse(dense, lex)
	require.Len(t, fused, 3)
	// b appears in both lists, so it outranks either single-list hit.
	assert.Equal(t, "b#0000", fused[0].ChunkID)
}

func TestFuse_TieBreakDeterministic(t *testing.T) {
	svc := NewRetrieveService(nil, nil, FusionConfig{})

	// Same rank in disjoint positions yields identical RRF scores; the tie
	// must break on (documentID, ordinal).
	dense := []driven.SearchHit{{ChunkID: "b#0000", DocumentID: "b", Score: 0.9}}
	lex := []driven.SearchHit{{ChunkID: "a#0001", DocumentID: "a", Ordinal: 1, Score: 3.0}}

	for i := 0; i < 10; i++ {
		fused := svc.fuse(dense, lex)
		require.Len(t, fused, 2)
		assert.Equal(t, "a#0001", fused[0].ChunkID)
	}
}

func TestFuse_WeightedSum(t *testing.T) {
	svc := NewRetrieveService(nil, nil, FusionConfig{
		Method:        FusionWeighted,
		DenseWeight:   0.9,
		LexicalWeight: 0.1,
	})

	dense := []driven.SearchHit{{ChunkID: "a#0000", DocumentID: "a", Score: 0.9}}
	lex := []driven.SearchHit{{ChunkID: "b#0000", DocumentID: "b", Score: 100.0}}

	// Scores are normalised per list before weighting, so the heavily
	// weighted dense hit wins despite the raw BM25 magnitude.
	fused := svc.fuse(dense, lex)
	require.Len(t, fused, 2)
	assert.Equal(t, "a#0000", fused[0].ChunkID)
}
