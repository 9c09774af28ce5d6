package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driven"
	"github.com/custodia-labs/mailindex/internal/core/ports/driving"
	"github.com/custodia-labs/mailindex/internal/fingerprint"
	"github.com/custodia-labs/mailindex/internal/logger"
	"github.com/custodia-labs/mailindex/internal/normalisers"
)

// Ensure IngestService implements the interface.
var _ driving.Ingestor = (*IngestService)(nil)

// DefaultIngestConcurrency is the number of documents processed in parallel.
const DefaultIngestConcurrency = 4

// IngestService runs documents through the ingestion pipeline: validation,
// normalisation, chunking, fingerprint diffing, embedding and index writes.
type IngestService struct {
	store       driven.IndexStore
	pipeline    driven.PostProcessorPipeline
	batcher     *EmbeddingBatcher // nil disables dense indexing
	normaliser  *normalisers.Normaliser
	concurrency int
}

// NewIngestService creates the ingestion service. The batcher is optional;
// without it, chunks are indexed for lexical retrieval only.
func NewIngestService(
	store driven.IndexStore,
	pipeline driven.PostProcessorPipeline,
	batcher *EmbeddingBatcher,
	concurrency int,
) *IngestService {
	if concurrency <= 0 {
		concurrency = DefaultIngestConcurrency
	}
	return &IngestService{
		store:       store,
		pipeline:    pipeline,
		batcher:     batcher,
		normaliser:  normalisers.New(),
		concurrency: concurrency,
	}
}

// IngestAll runs the full pipeline for a batch of documents. Per-document
// failures land in the report; only storage errors abort the job.
// Cancellation is honoured between documents, never mid-document, so a
// cancelled job leaves every touched document either fully indexed or
// untouched.
func (s *IngestService) IngestAll(ctx context.Context, inputs []domain.IngestInput) (*domain.IngestReport, error) {
	report := &domain.IngestReport{JobID: uuid.NewString()}
	logger.Info("Ingest job %s: %d documents", report.JobID, len(inputs))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range inputs {
		input := &inputs[i]
		g.Go(func() error {
			// Documents already started run to completion; new ones stop here.
			if err := gctx.Err(); err != nil {
				return err
			}

			docReport, err := s.ingestOne(gctx, input)
			if err != nil {
				return err
			}

			mu.Lock()
			report.Merge(docReport)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Ingest job %s: %d documents, %d chunks written, %d unchanged, %d failed embedding, %d failures",
		report.JobID, report.DocumentsProcessed, report.ChunksWritten,
		report.ChunksSkippedUnchanged, report.ChunksFailedEmbedding, len(report.Failures))
	return report, nil
}

// ingestOne processes a single document. A returned error is fatal to the
// whole job (storage failure); everything else becomes a report entry.
func (s *IngestService) ingestOne(ctx context.Context, input *domain.IngestInput) (*domain.IngestReport, error) {
	report := &domain.IngestReport{}

	if err := input.Validate(); err != nil {
		report.Failures = append(report.Failures, domain.DocumentFailure{
			DocumentID: input.DocumentID,
			Reason:     err.Error(),
		})
		return report, nil
	}

	segments, err := s.normaliser.Normalise(input.Segments)
	if err != nil {
		logger.Warn("Document %s: normalisation failed: %v", input.DocumentID, err)
		report.Failures = append(report.Failures, domain.DocumentFailure{
			DocumentID: input.DocumentID,
			Reason:     err.Error(),
		})
		return report, nil
	}

	doc := &domain.Document{
		ID:          input.DocumentID,
		Namespace:   input.Namespace,
		Filetype:    input.Filetype,
		Source:      input.Source,
		ContentHash: fingerprint.Segments(segments),
	}

	chunks, err := s.pipeline.Process(ctx, doc, segments)
	if err != nil {
		report.Failures = append(report.Failures, domain.DocumentFailure{
			DocumentID: input.DocumentID,
			Reason:     fmt.Sprintf("chunking: %v", err),
		})
		return report, nil
	}
	for i := range chunks {
		chunks[i].ContentHash = fingerprint.Text(chunks[i].Text)
	}

	existing, err := s.store.ListChunkHashes(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("listing chunk hashes for %s: %w", doc.ID, err)
	}

	// Only chunks whose content actually changed get embedded and written.
	var changed []int
	for i, chunk := range chunks {
		if existing[chunk.Ordinal] == chunk.ContentHash {
			report.ChunksSkippedUnchanged++
			continue
		}
		changed = append(changed, i)
	}
	logger.Debug("Document %s: %d chunks, %d changed", doc.ID, len(chunks), len(changed))

	var embedded *BatchResult
	if s.batcher != nil && len(changed) > 0 {
		toEmbed := make([]domain.Chunk, len(changed))
		for i, idx := range changed {
			toEmbed[i] = chunks[idx]
		}
		embedded, err = s.batcher.EmbedChunks(ctx, toEmbed)
		if err != nil {
			return nil, err
		}
	}

	// Writing metadata also clears any tombstone on re-ingest.
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("saving document %s: %w", doc.ID, err)
	}

	for i, idx := range changed {
		chunk := chunks[idx]
		if embedded != nil {
			if failErr, failed := embedded.Failed[i]; failed {
				logger.Warn("Document %s chunk %d: %v", doc.ID, chunk.Ordinal, failErr)
				report.ChunksFailedEmbedding++
				continue
			}
			chunk.Embedding = embedded.Embedded[i]
		}

		written, err := s.store.UpsertChunk(ctx, &chunk)
		if err != nil {
			return nil, fmt.Errorf("upserting chunk %s: %w", chunk.ID, err)
		}
		if written {
			report.ChunksWritten++
		} else {
			report.ChunksSkippedUnchanged++
		}
	}

	// Trim stale tail chunks when the document shrank.
	if err := s.store.DeleteChunksFrom(ctx, doc.ID, len(chunks)); err != nil {
		return nil, fmt.Errorf("trimming chunks for %s: %w", doc.ID, err)
	}

	report.DocumentsProcessed++
	return report, nil
}

// Delete tombstones a document, hiding all of its chunks from queries.
// The chunk rows stay on disk; a later re-ingest revives them cheaply.
func (s *IngestService) Delete(ctx context.Context, documentID string) error {
	if documentID == "" {
		return domain.ErrInvalidInput
	}

	err := s.store.TombstoneDocument(ctx, documentID)
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("tombstoning document %s: %w", documentID, err)
	}

	logger.Info("Document %s tombstoned", documentID)
	return nil
}
