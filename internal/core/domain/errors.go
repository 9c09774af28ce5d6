package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedEncoding indicates text that cannot be decoded as valid
	// Unicode. The only failure the normaliser reports.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")

	// ErrUnsupportedFiletype indicates a document whose filetype matches no
	// configured extractor contract. The document is skipped, not fatal.
	ErrUnsupportedFiletype = errors.New("unsupported filetype")

	// ErrNamespaceRequired indicates a missing user/tenant isolation key.
	// Queries without a namespace fail closed.
	ErrNamespaceRequired = errors.New("namespace required")

	// ErrEmbeddingUnavailable indicates the embedding provider could not be
	// reached or is not configured. Retrieval degrades to lexical-only.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrEmbeddingFailed indicates a chunk whose embedding batch exhausted
	// its retries. The chunk is reported and excluded from the index.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrStoreUnavailable indicates the index storage layer is unreachable.
	// Fatal to the whole ingestion job.
	ErrStoreUnavailable = errors.New("index store unavailable")

	// ErrDimensionMismatch indicates a vector whose dimensionality does not
	// match the index. Changing the embedding model requires a full reindex.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
