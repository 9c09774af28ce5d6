package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "mailindex-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	})

	return store
}

func saveTestDocument(t *testing.T, store *Store, id, namespace string) {
	t.Helper()
	doc := &domain.Document{
		ID:        id,
		Namespace: namespace,
		Filetype:  domain.FiletypeEmailBody,
		Source: domain.SourceMetadata{
			Subject:    "Quarterly numbers",
			From:       "alice@example.com",
			ReceivedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		ContentHash: "hash-" + id,
	}
	require.NoError(t, store.SaveDocument(context.Background(), doc))
}

func newTestChunk(docID string, ordinal int, text string) *domain.Chunk {
	return &domain.Chunk{
		ID:          domain.ChunkID(docID, ordinal),
		DocumentID:  docID,
		Ordinal:     ordinal,
		Text:        text,
		TokenCount:  len(text) / 5,
		ContentHash: "h-" + text,
		Embedding:   []float32{1, 0, 0},
		Position:    domain.Position{PageStart: 1, PageEnd: 1},
	}
}

func TestNewStore_MigratesSchema(t *testing.T) {
	store := setupTestStore(t)

	var count int
	err := store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Greater(t, count, 0)

	// Re-opening must not re-run applied migrations.
	reopened, err := NewStore(store.path[:len(store.path)-len("/index.db")])
	require.NoError(t, err)
	defer reopened.Close()
}

func TestStore_SaveAndGetDocument(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveTestDocument(t, store, "doc-1", "ns-a")

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "ns-a", doc.Namespace)
	assert.Equal(t, domain.FiletypeEmailBody, doc.Filetype)
	assert.Equal(t, "alice@example.com", doc.Source.From)
	assert.False(t, doc.Tombstoned())

	_, err = store.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpsertChunk_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveTestDocument(t, store, "doc-1", "ns-a")

	chunk := newTestChunk("doc-1", 0, "budget review meeting notes")
	written, err := store.UpsertChunk(ctx, chunk)
	require.NoError(t, err)
	assert.True(t, written)

	// Same hash: no-op.
	written, err = store.UpsertChunk(ctx, chunk)
	require.NoError(t, err)
	assert.False(t, written)

	// Changed hash: replaced, terms rebuilt.
	changed := newTestChunk("doc-1", 0, "revised forecast entirely")
	written, err = store.UpsertChunk(ctx, changed)
	require.NoError(t, err)
	assert.True(t, written)

	got, err := store.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, changed.ContentHash, got.ContentHash)
	assert.Equal(t, changed.Text, got.Text)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	assert.Equal(t, 1, got.Position.PageStart)

	hits, err := store.LexicalSearch(ctx, "ns-a", []string{"forecast"}, domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// Old terms are gone.
	hits, err = store.LexicalSearch(ctx, "ns-a", []string{"budget"}, domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_ListChunkHashes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveTestDocument(t, store, "doc-1", "ns-a")
	_, err := store.UpsertChunk(ctx, newTestChunk("doc-1", 0, "first"))
	require.NoError(t, err)
	_, err = store.UpsertChunk(ctx, newTestChunk("doc-1", 1, "second"))
	require.NoError(t, err)

	hashes, err := store.ListChunkHashes(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{0: "h-first", 1: "h-second"}, hashes)
}

func TestStore_DeleteChunksFrom(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveTestDocument(t, store, "doc-1", "ns-a")
	for i := 0; i < 4; i++ {
		_, err := store.UpsertChunk(ctx, newTestChunk("doc-1", i, "chunk"))
		require.NoError(t, err)
	}

	require.NoError(t, store.DeleteChunksFrom(ctx, "doc-1", 2))

	hashes, err := store.ListChunkHashes(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
}

func TestStore_TombstoneHidesChunks(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveTestDocument(t, store, "doc-1", "ns-a")
	chunk := newTestChunk("doc-1", 0, "budget review meeting")
	_, err := store.UpsertChunk(ctx, chunk)
	require.NoError(t, err)

	require.NoError(t, store.TombstoneDocument(ctx, "doc-1"))

	hits, err := store.LexicalSearch(ctx, "ns-a", []string{"budget"}, domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	dense, err := store.DenseSearch(ctx, "ns-a", []float32{1, 0, 0}, domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, dense)

	_, err = store.GetChunk(ctx, chunk.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The document itself remains readable.
	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, doc.Tombstoned())

	// Tombstoning again is a no-op; a missing ID is an error.
	assert.NoError(t, store.TombstoneDocument(ctx, "doc-1"))
	assert.ErrorIs(t, store.TombstoneDocument(ctx, "missing"), domain.ErrNotFound)
}

func TestStore_ReingestRevivesTombstoned(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveTestDocument(t, store, "doc-1", "ns-a")
	chunk := newTestChunk("doc-1", 0, "budget review meeting")
	_, err := store.UpsertChunk(ctx, chunk)
	require.NoError(t, err)

	require.NoError(t, store.TombstoneDocument(ctx, "doc-1"))
	saveTestDocument(t, store, "doc-1", "ns-a")

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, doc.Tombstoned())

	// Unchanged chunks survive the round trip without a rewrite.
	written, err := store.UpsertChunk(ctx, chunk)
	require.NoError(t, err)
	assert.False(t, written)
}

func TestStore_NamespaceIsolation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveTestDocument(t, store, "doc-a", "ns-a")
	saveTestDocument(t, store, "doc-b", "ns-b")
	_, err := store.UpsertChunk(ctx, newTestChunk("doc-a", 0, "shared secret budget"))
	require.NoError(t, err)
	_, err = store.UpsertChunk(ctx, newTestChunk("doc-b", 0, "shared secret budget"))
	require.NoError(t, err)

	hits, err := store.LexicalSearch(ctx, "ns-a", []string{"budget"}, domain.Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-a", hits[0].DocumentID)

	// Empty namespace fails closed.
	hits, err = store.LexicalSearch(ctx, "", []string{"budget"}, domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	dense, err := store.DenseSearch(ctx, "", []float32{1, 0, 0}, domain.Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, dense)
}

func TestStore_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	early := &domain.Document{
		ID: "doc-early", Namespace: "ns-a", Filetype: domain.FiletypeEmailBody,
		Source: domain.SourceMetadata{
			Subject:    "Annual report",
			From:       "alice@example.com",
			ReceivedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	late := &domain.Document{
		ID: "doc-late", Namespace: "ns-a", Filetype: domain.FiletypePDF,
		Source: domain.SourceMetadata{
			Subject:    "Budget forecast",
			From:       "bob@example.com",
			ReceivedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, store.SaveDocument(ctx, early))
	require.NoError(t, store.SaveDocument(ctx, late))
	_, err := store.UpsertChunk(ctx, newTestChunk("doc-early", 0, "annual budget"))
	require.NoError(t, err)
	_, err = store.UpsertChunk(ctx, newTestChunk("doc-late", 0, "annual budget"))
	require.NoError(t, err)

	after := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	hits, err := store.LexicalSearch(ctx, "ns-a", []string{"budget"},
		domain.Filters{After: &after}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-late", hits[0].DocumentID)

	hits, err = store.LexicalSearch(ctx, "ns-a", []string{"budget"},
		domain.Filters{Sender: "BOB@example.com"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-late", hits[0].DocumentID)

	hits, err = store.LexicalSearch(ctx, "ns-a", []string{"budget"},
		domain.Filters{SubjectContains: "annual"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-early", hits[0].DocumentID)

	hits, err = store.LexicalSearch(ctx, "ns-a", []string{"budget"},
		domain.Filters{Filetype: domain.FiletypePDF}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-late", hits[0].DocumentID)
}

func TestStore_DenseSearchRanksBySimilarity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saveTestDocument(t, store, "doc-1", "ns-a")
	near := newTestChunk("doc-1", 0, "near")
	near.Embedding = []float32{1, 0, 0}
	far := newTestChunk("doc-1", 1, "far")
	far.Embedding = []float32{0, 1, 0}
	_, err := store.UpsertChunk(ctx, near)
	require.NoError(t, err)
	_, err = store.UpsertChunk(ctx, far)
	require.NoError(t, err)

	hits, err := store.DenseSearch(ctx, "ns-a", []float32{0.9, 0.1, 0}, domain.Filters{}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, near.ID, hits[0].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestStore_EnsureModel(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// First call records the model.
	require.NoError(t, store.EnsureModel(ctx, "nomic-embed-text", 768))

	// Matching call passes, mismatches fail.
	assert.NoError(t, store.EnsureModel(ctx, "nomic-embed-text", 768))
	assert.ErrorIs(t, store.EnsureModel(ctx, "other-model", 768), domain.ErrDimensionMismatch)
	assert.ErrorIs(t, store.EnsureModel(ctx, "nomic-embed-text", 1024), domain.ErrDimensionMismatch)
}
