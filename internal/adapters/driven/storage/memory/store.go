// Package memory provides an in-memory index store used as a test double
// and for ephemeral runs. It implements the same conditional-upsert,
// tombstone and search semantics as the SQLite store.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driven"
	"github.com/custodia-labs/mailindex/internal/lexical"
)

// Ensure Store implements both index interfaces.
var (
	_ driven.IndexStore  = (*Store)(nil)
	_ driven.SearchIndex = (*Store)(nil)
)

// Store is an in-memory implementation of the index.
type Store struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	chunks    map[string]map[int]domain.Chunk // documentID -> ordinal -> chunk
}

// NewStore creates a new in-memory index store.
func NewStore() *Store {
	return &Store{
		documents: make(map[string]domain.Document),
		chunks:    make(map[string]map[int]domain.Chunk),
	}
}

// SaveDocument stores or updates a document and clears any tombstone.
func (s *Store) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *doc
	saved.DeletedAt = nil
	if existing, ok := s.documents[doc.ID]; ok {
		saved.CreatedAt = existing.CreatedAt
	} else if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now()
	}
	saved.UpdatedAt = time.Now()
	s.documents[doc.ID] = saved
	return nil
}

// GetDocument retrieves a document by ID, tombstoned or not.
func (s *Store) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

// ListChunkHashes returns ordinal -> contentHash for a document's chunks.
func (s *Store) ListChunkHashes(_ context.Context, documentID string) (map[int]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := make(map[int]string, len(s.chunks[documentID]))
	for ordinal, chunk := range s.chunks[documentID] {
		hashes[ordinal] = chunk.ContentHash
	}
	return hashes, nil
}

// UpsertChunk writes a chunk with conditional-write semantics.
func (s *Store) UpsertChunk(_ context.Context, chunk *domain.Chunk) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byOrdinal, ok := s.chunks[chunk.DocumentID]
	if !ok {
		byOrdinal = make(map[int]domain.Chunk)
		s.chunks[chunk.DocumentID] = byOrdinal
	}

	if existing, ok := byOrdinal[chunk.Ordinal]; ok && existing.ContentHash == chunk.ContentHash {
		return false, nil
	}

	saved := *chunk
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now()
	}
	byOrdinal[chunk.Ordinal] = saved
	return true, nil
}

// DeleteChunksFrom removes chunks at or above the given ordinal.
func (s *Store) DeleteChunksFrom(_ context.Context, documentID string, fromOrdinal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ordinal := range s.chunks[documentID] {
		if ordinal >= fromOrdinal {
			delete(s.chunks[documentID], ordinal)
		}
	}
	return nil
}

// TombstoneDocument marks a document deleted.
func (s *Store) TombstoneDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	doc.DeletedAt = &now
	s.documents[id] = doc
	return nil
}

// Close releases resources.
func (s *Store) Close() error {
	return nil
}

// GetChunk retrieves a live chunk by ID.
func (s *Store) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for docID, byOrdinal := range s.chunks {
		doc, ok := s.documents[docID]
		if !ok || doc.Tombstoned() {
			continue
		}
		for _, chunk := range byOrdinal {
			if chunk.ID == id {
				return &chunk, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

// DenseSearch ranks candidates by cosine similarity.
func (s *Store) DenseSearch(_ context.Context, namespace string, query []float32,
	filters domain.Filters, limit int) ([]driven.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []driven.SearchHit
	for _, chunk := range s.candidates(namespace, filters) {
		if len(chunk.Embedding) != len(query) || len(query) == 0 {
			continue
		}
		hits = append(hits, driven.SearchHit{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Ordinal:    chunk.Ordinal,
			Score:      cosine(query, chunk.Embedding),
		})
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// LexicalSearch ranks candidates by BM25.
func (s *Store) LexicalSearch(_ context.Context, namespace string, terms []string,
	filters domain.Filters, limit int) ([]driven.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidates(namespace, filters)
	if len(candidates) == 0 || len(terms) == 0 {
		return nil, nil
	}

	stats := lexical.CorpusStats{
		ChunkCount: len(candidates),
		DocFreq:    make(map[string]int),
	}
	counts := make([]map[string]int, len(candidates))
	var totalTokens int
	for i, chunk := range candidates {
		counts[i] = lexical.TermCounts(chunk.Text)
		totalTokens += chunk.TokenCount
		for _, term := range terms {
			if counts[i][term] > 0 {
				stats.DocFreq[term]++
			}
		}
	}
	stats.AvgTokens = float64(totalTokens) / float64(len(candidates))

	var hits []driven.SearchHit
	for i, chunk := range candidates {
		score := lexical.Score(terms, counts[i], chunk.TokenCount, stats)
		if score <= 0 {
			continue
		}
		hits = append(hits, driven.SearchHit{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Ordinal:    chunk.Ordinal,
			Score:      score,
		})
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// candidates returns live, namespace- and filter-matching chunks.
// Caller holds at least a read lock.
func (s *Store) candidates(namespace string, filters domain.Filters) []domain.Chunk {
	if namespace == "" {
		return nil
	}

	var out []domain.Chunk
	for docID, byOrdinal := range s.chunks {
		doc, ok := s.documents[docID]
		if !ok || doc.Tombstoned() || doc.Namespace != namespace || !filters.Match(&doc) {
			continue
		}
		for _, chunk := range byOrdinal {
			out = append(out, chunk)
		}
	}

	// Map iteration is randomised; fix candidate order for determinism.
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}

// sortHits orders by descending score, then (documentID, ordinal) ascending.
func sortHits(hits []driven.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if c := strings.Compare(hits[i].DocumentID, hits[j].DocumentID); c != 0 {
			return c < 0
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
}

// cosine computes cosine similarity between two equal-length vectors.
func cosine(a, b []float32) float64 {
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
