package domain

import (
	"fmt"
	"time"
)

// Filetype identifies the kind of source a document was extracted from.
type Filetype string

// Supported filetypes.
const (
	FiletypeEmailBody   Filetype = "email-body"
	FiletypePDF         Filetype = "pdf"
	FiletypeSpreadsheet Filetype = "spreadsheet"
)

// Valid reports whether the filetype is one of the supported kinds.
func (f Filetype) Valid() bool {
	switch f {
	case FiletypeEmailBody, FiletypePDF, FiletypeSpreadsheet:
		return true
	}
	return false
}

// SourceMetadata describes where a document came from, as supplied by the
// mail connector. It is stored verbatim and used for citations and filtering.
type SourceMetadata struct {
	// Subject is the email subject line.
	Subject string `json:"subject"`

	// From is the sender address.
	From string `json:"from"`

	// ReceivedAt is when the email was received.
	ReceivedAt time.Time `json:"receivedAt"`

	// Filename is the attachment filename. Empty for email bodies.
	Filename string `json:"filename,omitempty"`
}

// Document represents one logical source unit: an email body or a single
// attachment. It owns the chunks derived from it.
type Document struct {
	// ID is derived by the connector from owner, message and attachment
	// identifiers. Stable across re-ingestion of the same source.
	ID string

	// Namespace is the user/tenant isolation key. Every query is scoped to
	// exactly one namespace.
	Namespace string

	// Filetype is the kind of source content.
	Filetype Filetype

	// Source carries the citation metadata.
	Source SourceMetadata

	// ContentHash is the fingerprint of the full normalised text.
	ContentHash string

	// CreatedAt is when the document was first indexed.
	CreatedAt time.Time

	// UpdatedAt is when the document content last changed.
	UpdatedAt time.Time

	// DeletedAt is the tombstone timestamp. A non-nil value hides the
	// document and all of its chunks from retrieval; records are removed
	// physically only by later compaction.
	DeletedAt *time.Time
}

// Tombstoned reports whether the document is logically deleted.
func (d *Document) Tombstoned() bool {
	return d.DeletedAt != nil
}

// Chunk is a bounded-size retrievable unit derived from exactly one Document.
type Chunk struct {
	// ID is deterministic: see ChunkID.
	ID string

	// DocumentID links to the owning Document.
	DocumentID string

	// Ordinal is the position within the document, starting at 0.
	Ordinal int

	// Text is the chunk content, including any leading overlap tokens.
	Text string

	// TokenCount is the number of tokens in Text.
	TokenCount int

	// Overlap is the number of leading tokens carried over from the tail of
	// the previous chunk. Zero for the first chunk and after hard boundaries.
	Overlap int

	// Position is the structural location the chunk was extracted from.
	Position Position

	// Embedding is the dense vector. Nil until embedded; chunks are only
	// indexed without a vector in lexical-only deployments.
	Embedding []float32

	// ContentHash is the fingerprint of Text, used for idempotent upserts.
	ContentHash string

	// CreatedAt is when the chunk was written.
	CreatedAt time.Time
}

// ChunkID builds the deterministic chunk identifier from its upsert key.
// The zero-padded ordinal keeps lexicographic and numeric order aligned.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s#%04d", documentID, ordinal)
}

// Position is the structural provenance of a chunk or segment.
// The zero value means an email body (no locator).
type Position struct {
	// PageStart and PageEnd are 1-based page numbers for PDF content.
	// A chunk that absorbed a page boundary spans PageStart..PageEnd.
	PageStart int `json:"pageStart,omitempty"`
	PageEnd   int `json:"pageEnd,omitempty"`

	// Sheet is the worksheet name for spreadsheet content.
	Sheet string `json:"sheet,omitempty"`

	// RowStart and RowEnd are 1-based row numbers within Sheet.
	RowStart int `json:"rowStart,omitempty"`
	RowEnd   int `json:"rowEnd,omitempty"`
}

// IsZero reports whether the position carries no locator (email body).
func (p Position) IsZero() bool {
	return p == Position{}
}

// Locator renders the human-readable citation locator.
// Examples: "page=3", "page=1-2", "Budget!2:57". Empty for email bodies.
func (p Position) Locator() string {
	switch {
	case p.Sheet != "":
		if p.RowStart == 0 {
			return p.Sheet
		}
		return fmt.Sprintf("%s!%d:%d", p.Sheet, p.RowStart, p.RowEnd)
	case p.PageStart != 0:
		if p.PageEnd > p.PageStart {
			return fmt.Sprintf("page=%d-%d", p.PageStart, p.PageEnd)
		}
		return fmt.Sprintf("page=%d", p.PageStart)
	}
	return ""
}

// SameSheet reports whether two positions belong to the same worksheet.
// Sheet boundaries are hard chunking boundaries: a chunk never spans them.
func (p Position) SameSheet(other Position) bool {
	return p.Sheet == other.Sheet
}

// Merge extends p to cover other, which must follow it in document order.
func (p Position) Merge(other Position) Position {
	merged := p
	if other.PageStart != 0 {
		if merged.PageStart == 0 {
			merged.PageStart = other.PageStart
		}
		if other.PageEnd > merged.PageEnd {
			merged.PageEnd = other.PageEnd
		}
		if merged.PageEnd < merged.PageStart {
			merged.PageEnd = merged.PageStart
		}
	}
	if other.Sheet != "" && other.Sheet == merged.Sheet {
		if other.RowStart != 0 && (merged.RowStart == 0 || other.RowStart < merged.RowStart) {
			merged.RowStart = other.RowStart
		}
		if other.RowEnd > merged.RowEnd {
			merged.RowEnd = other.RowEnd
		}
	}
	return merged
}
