package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driven"
	"github.com/custodia-labs/mailindex/internal/core/ports/driving"
	"github.com/custodia-labs/mailindex/internal/lexical"
	"github.com/custodia-labs/mailindex/internal/logger"
)

// Ensure RetrieveService implements the interface.
var _ driving.Querier = (*RetrieveService)(nil)

// Fusion methods for combining dense and lexical rankings.
const (
	FusionRRF      = "rrf"
	FusionWeighted = "weighted"
)

// Retrieval defaults.
const (
	DefaultK    = 6
	DefaultRRFK = 60

	// candidateMultiplier oversamples each path so fusion has enough
	// distinct chunks to fill K after merging.
	candidateMultiplier = 3
)

// FusionConfig selects and tunes the rank-fusion method.
type FusionConfig struct {
	// Method is FusionRRF (default) or FusionWeighted.
	Method string

	// RRFK is the reciprocal-rank-fusion constant (default 60).
	RRFK int

	// DenseWeight and LexicalWeight apply to the weighted-sum method.
	DenseWeight   float64
	LexicalWeight float64

	// DenseTopN and LexicalTopN cap the candidates each path feeds into
	// fusion. Zero means K times candidateMultiplier.
	DenseTopN   int
	LexicalTopN int
}

// RetrieveService answers queries with hybrid dense + lexical retrieval.
type RetrieveService struct {
	index    driven.SearchIndex
	embedder driven.EmbeddingService // nil means lexical-only deployment
	fusion   FusionConfig
}

// NewRetrieveService creates the retrieval service. The embedder is optional;
// without it every query runs lexical-only and results are marked degraded.
func NewRetrieveService(
	index driven.SearchIndex,
	embedder driven.EmbeddingService,
	fusion FusionConfig,
) *RetrieveService {
	if fusion.Method == "" {
		fusion.Method = FusionRRF
	}
	if fusion.RRFK <= 0 {
		fusion.RRFK = DefaultRRFK
	}
	if fusion.DenseWeight <= 0 {
		fusion.DenseWeight = 0.5
	}
	if fusion.LexicalWeight <= 0 {
		fusion.LexicalWeight = 0.5
	}
	return &RetrieveService{
		index:    index,
		embedder: embedder,
		fusion:   fusion,
	}
}

// Query returns the top-k chunks for the query text with citations attached.
// An empty namespace yields empty results, never unfiltered ones.
func (s *RetrieveService) Query(
	ctx context.Context, queryText string, opts domain.QueryOptions,
) (*domain.QueryResult, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" || opts.Namespace == "" {
		return &domain.QueryResult{}, nil
	}

	k := opts.K
	if k <= 0 {
		k = DefaultK
	}
	denseLimit := s.fusion.DenseTopN
	if denseLimit <= 0 {
		denseLimit = k * candidateMultiplier
	}
	lexicalLimit := s.fusion.LexicalTopN
	if lexicalLimit <= 0 {
		lexicalLimit = k * candidateMultiplier
	}
	logger.Debug("Query %q: namespace=%s k=%d", queryText, opts.Namespace, k)

	terms := lexical.Tokenize(queryText)

	var denseHits, lexicalHits []driven.SearchHit
	var denseErr, lexicalErr error
	degraded := false

	runDense := !opts.LexicalOnly && s.embedder != nil
	if runDense {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			denseHits, denseErr = s.denseSearch(ctx, queryText, opts, denseLimit)
		}()
		go func() {
			defer wg.Done()
			lexicalHits, lexicalErr = s.index.LexicalSearch(ctx, opts.Namespace, terms, opts.Filters, lexicalLimit)
		}()
		wg.Wait()

		if denseErr != nil && lexicalErr != nil {
			return nil, fmt.Errorf("retrieval: dense=%w, lexical=%w", denseErr, lexicalErr)
		}
		if denseErr != nil {
			logger.Warn("Dense retrieval failed, degrading to lexical-only: %v", denseErr)
			degraded = true
		}
		if lexicalErr != nil {
			logger.Warn("Lexical retrieval failed, using dense results only: %v", lexicalErr)
		}
	} else {
		if !opts.LexicalOnly {
			// No embedder configured: the deployment runs lexical-only.
			degraded = true
		}
		lexicalHits, lexicalErr = s.index.LexicalSearch(ctx, opts.Namespace, terms, opts.Filters, lexicalLimit)
		if lexicalErr != nil {
			return nil, fmt.Errorf("lexical retrieval: %w", lexicalErr)
		}
	}
	logger.Debug("Candidates: %d dense, %d lexical", len(denseHits), len(lexicalHits))

	fused := s.fuse(denseHits, lexicalHits)
	if len(fused) > k {
		fused = fused[:k]
	}

	chunks, err := s.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}
	logger.Debug("Final results: %d", len(chunks))

	return &domain.QueryResult{
		Chunks:   chunks,
		Degraded: degraded,
	}, nil
}

// denseSearch embeds the query and searches the vector side of the index.
func (s *RetrieveService) denseSearch(
	ctx context.Context, queryText string, opts domain.QueryOptions, limit int,
) ([]driven.SearchHit, error) {
	vector, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.index.DenseSearch(ctx, opts.Namespace, vector, opts.Filters, limit)
}

// fuse merges the two ranked lists. Ties break on (documentID, ordinal) so
// identical corpora always produce identical rankings.
func (s *RetrieveService) fuse(dense, lex []driven.SearchHit) []driven.SearchHit {
	if len(dense) == 0 {
		return sortFused(copyHits(lex))
	}
	if len(lex) == 0 {
		return sortFused(copyHits(dense))
	}

	switch s.fusion.Method {
	case FusionWeighted:
		return s.weightedSum(dense, lex)
	default:
		return s.reciprocalRankFusion(dense, lex)
	}
}

// reciprocalRankFusion scores each chunk by the sum of 1/(k+rank) over the
// lists it appears in. Rank-based fusion sidesteps the incomparable score
// scales of cosine and BM25.
func (s *RetrieveService) reciprocalRankFusion(dense, lex []driven.SearchHit) []driven.SearchHit {
	merged := make(map[string]driven.SearchHit)

	for _, list := range [][]driven.SearchHit{dense, lex} {
		for rank, hit := range list {
			rrf := 1.0 / float64(s.fusion.RRFK+rank+1)
			if existing, ok := merged[hit.ChunkID]; ok {
				existing.Score += rrf
				merged[hit.ChunkID] = existing
				continue
			}
			hit.Score = rrf
			merged[hit.ChunkID] = hit
		}
	}

	out := make([]driven.SearchHit, 0, len(merged))
	for _, hit := range merged {
		out = append(out, hit)
	}
	return sortFused(out)
}

// weightedSum normalises each list's scores to [0,1] and combines them with
// the configured weights.
func (s *RetrieveService) weightedSum(dense, lex []driven.SearchHit) []driven.SearchHit {
	merged := make(map[string]driven.SearchHit)

	add := func(list []driven.SearchHit, weight float64) {
		max := 0.0
		for _, hit := range list {
			if hit.Score > max {
				max = hit.Score
			}
		}
		if max == 0 {
			return
		}
		for _, hit := range list {
			contribution := weight * hit.Score / max
			if existing, ok := merged[hit.ChunkID]; ok {
				existing.Score += contribution
				merged[hit.ChunkID] = existing
				continue
			}
			hit.Score = contribution
			merged[hit.ChunkID] = hit
		}
	}

	add(dense, s.fusion.DenseWeight)
	add(lex, s.fusion.LexicalWeight)

	out := make([]driven.SearchHit, 0, len(merged))
	for _, hit := range merged {
		out = append(out, hit)
	}
	return sortFused(out)
}

// sortFused orders by descending score, then (documentID, ordinal) ascending.
func sortFused(hits []driven.SearchHit) []driven.SearchHit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if c := strings.Compare(hits[i].DocumentID, hits[j].DocumentID); c != 0 {
			return c < 0
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
	return hits
}

// copyHits clones a hit list so fusion never mutates a caller's slice.
func copyHits(hits []driven.SearchHit) []driven.SearchHit {
	out := make([]driven.SearchHit, len(hits))
	copy(out, hits)
	return out
}

// hydrate loads the full chunk and its citation for each fused hit. Chunks
// tombstoned between search and hydration are silently dropped.
func (s *RetrieveService) hydrate(ctx context.Context, hits []driven.SearchHit) ([]domain.RetrievedChunk, error) {
	results := make([]domain.RetrievedChunk, 0, len(hits))
	docs := make(map[string]*domain.Document)

	for _, hit := range hits {
		chunk, err := s.index.GetChunk(ctx, hit.ChunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get chunk %s: %w", hit.ChunkID, err)
		}

		doc, ok := docs[chunk.DocumentID]
		if !ok {
			doc, err = s.index.GetDocument(ctx, chunk.DocumentID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("get document %s: %w", chunk.DocumentID, err)
			}
			docs[chunk.DocumentID] = doc
		}
		if doc.Tombstoned() {
			continue
		}

		results = append(results, domain.RetrievedChunk{
			Chunk:  *chunk,
			Score:  hit.Score,
			Source: AssembleSourceRef(doc, chunk),
		})
	}

	return results, nil
}
