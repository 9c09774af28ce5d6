package domain

// DocumentFailure records one document that could not be ingested.
type DocumentFailure struct {
	// DocumentID identifies the failed document.
	DocumentID string

	// Reason is the failure description.
	Reason string
}

// IngestReport summarises one ingestion job. Per-document and per-chunk
// failures are collected here rather than aborting the job; only a storage
// failure is fatal to the whole operation.
type IngestReport struct {
	// JobID identifies the ingestion run.
	JobID string

	// DocumentsProcessed counts documents that completed the pipeline.
	DocumentsProcessed int

	// ChunksWritten counts chunks upserted with new or changed content.
	ChunksWritten int

	// ChunksSkippedUnchanged counts chunks whose content hash matched the
	// live record, making the upsert a no-op.
	ChunksSkippedUnchanged int

	// ChunksFailedEmbedding counts chunks excluded because their embedding
	// batch exhausted its retries.
	ChunksFailedEmbedding int

	// Failures lists documents that were skipped or failed.
	Failures []DocumentFailure
}

// Merge folds another report's counts into r.
func (r *IngestReport) Merge(other *IngestReport) {
	r.DocumentsProcessed += other.DocumentsProcessed
	r.ChunksWritten += other.ChunksWritten
	r.ChunksSkippedUnchanged += other.ChunksSkippedUnchanged
	r.ChunksFailedEmbedding += other.ChunksFailedEmbedding
	r.Failures = append(r.Failures, other.Failures...)
}
