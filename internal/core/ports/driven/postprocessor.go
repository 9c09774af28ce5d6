package driven

import (
	"context"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// PostProcessor processes normalised segments to produce chunk drafts.
// PostProcessors are chained in a pipeline (e.g., chunking, term filtering).
type PostProcessor interface {
	// Name returns the processor name for logging and configuration.
	Name() string

	// Process takes the document, its normalised segments and the chunks
	// produced so far. A chunk-creating processor (the chunker) receives
	// nil chunks; later processors receive and may modify them.
	Process(ctx context.Context, doc *domain.Document, segments []domain.Segment,
		chunks []domain.Chunk) ([]domain.Chunk, error)
}

// PostProcessorPipeline chains multiple PostProcessors.
type PostProcessorPipeline interface {
	// Process runs the document through all processors in order and returns
	// the final chunk drafts.
	Process(ctx context.Context, doc *domain.Document, segments []domain.Segment) ([]domain.Chunk, error)
}
