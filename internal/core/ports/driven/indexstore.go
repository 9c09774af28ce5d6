package driven

import (
	"context"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// IndexStore is the write side of the index: document metadata, chunk
// upserts and tombstones. Backed by SQLite.
type IndexStore interface {
	// SaveDocument stores or updates document metadata and clears any
	// tombstone. Re-ingesting a deleted document revives it.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID, tombstoned or not.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListChunkHashes returns ordinal -> contentHash for a document's live
	// chunks. Used to decide which chunks need re-embedding on re-ingest.
	ListChunkHashes(ctx context.Context, documentID string) (map[int]string, error)

	// UpsertChunk writes a chunk keyed by (DocumentID, Ordinal) with
	// conditional-write semantics: when the live chunk at that key carries
	// the same ContentHash the call is a no-op and written is false.
	// Otherwise text, vector and lexical terms are replaced in one atomic
	// operation so a concurrent reader never observes a half-written chunk.
	UpsertChunk(ctx context.Context, chunk *domain.Chunk) (written bool, err error)

	// DeleteChunksFrom removes a document's chunks at or above the given
	// ordinal. Trims stale tails when a re-ingested document shrank.
	DeleteChunksFrom(ctx context.Context, documentID string, fromOrdinal int) error

	// TombstoneDocument marks a document deleted. Its chunks become
	// invisible to retrieval immediately; physical removal is lazy.
	TombstoneDocument(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

// SearchIndex is the read side of the index. Both searches consider only
// chunks whose owning document is live, namespace-matching and filter-matching.
type SearchIndex interface {
	// DenseSearch ranks candidate chunks by cosine similarity to the query
	// vector and returns the top limit hits.
	DenseSearch(ctx context.Context, namespace string, query []float32,
		filters domain.Filters, limit int) ([]SearchHit, error)

	// LexicalSearch ranks candidate chunks by BM25 relevance to the query
	// terms and returns the top limit hits.
	LexicalSearch(ctx context.Context, namespace string, terms []string,
		filters domain.Filters, limit int) ([]SearchHit, error)

	// GetChunk retrieves a chunk by ID for hydration. Returns
	// domain.ErrNotFound for missing or tombstoned chunks.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// GetDocument retrieves a document by ID for citation assembly.
	// Search hits are already tombstone-filtered; callers needing liveness
	// check Tombstoned themselves.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
}

// SearchHit is one scored result from either search path. DocumentID and
// Ordinal are carried so fusion can break ties deterministically.
type SearchHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// DocumentID is the owning document.
	DocumentID string

	// Ordinal is the chunk's position within the document.
	Ordinal int

	// Score is the path-specific relevance score (cosine or BM25).
	Score float64
}
