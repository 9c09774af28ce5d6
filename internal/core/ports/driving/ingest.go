package driving

import (
	"context"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// Ingestor drives the ingestion pipeline.
type Ingestor interface {
	// IngestAll runs the full pipeline for a batch of documents and returns
	// the job report. Per-document failures are collected in the report;
	// only a storage failure aborts the job. Cancellation is honoured
	// between documents, never mid-chunk.
	IngestAll(ctx context.Context, inputs []domain.IngestInput) (*domain.IngestReport, error)

	// Delete tombstones a document, hiding all of its chunks from queries.
	Delete(ctx context.Context, documentID string) error
}
