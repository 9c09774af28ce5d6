package domain

import (
	"strings"
	"time"
)

// Filters constrain retrieval by document metadata.
// Zero-valued fields are ignored.
type Filters struct {
	// After and Before bound SourceMetadata.ReceivedAt (inclusive).
	After  *time.Time
	Before *time.Time

	// Sender matches SourceMetadata.From exactly (case-insensitive).
	Sender string

	// SubjectContains is a case-insensitive substring match on the subject.
	SubjectContains string

	// Filetype restricts to one source kind.
	Filetype Filetype
}

// Match reports whether a document's metadata passes the filters.
// Used by in-memory stores; the SQLite store applies the same predicate in SQL.
func (f Filters) Match(doc *Document) bool {
	if f.After != nil && doc.Source.ReceivedAt.Before(*f.After) {
		return false
	}
	if f.Before != nil && doc.Source.ReceivedAt.After(*f.Before) {
		return false
	}
	if f.Sender != "" && !strings.EqualFold(f.Sender, doc.Source.From) {
		return false
	}
	if f.SubjectContains != "" &&
		!strings.Contains(strings.ToLower(doc.Source.Subject), strings.ToLower(f.SubjectContains)) {
		return false
	}
	if f.Filetype != "" && f.Filetype != doc.Filetype {
		return false
	}
	return true
}

// QueryOptions configures a retrieval request.
type QueryOptions struct {
	// Namespace is the mandatory isolation key. An empty namespace yields
	// empty results rather than unfiltered ones.
	Namespace string

	// K is the maximum number of chunks returned. Defaults to 6.
	K int

	// Filters constrain candidate documents.
	Filters Filters

	// LexicalOnly skips query embedding and dense retrieval.
	LexicalOnly bool
}

// RetrievedChunk is one ranked retrieval hit with its citation.
type RetrievedChunk struct {
	// Chunk is the matched chunk.
	Chunk Chunk

	// Score is the fused relevance score.
	Score float64

	// Source is the human-readable citation descriptor.
	Source SourceRef
}

// SourceRef is the citation descriptor assembled for a retrieved chunk.
type SourceRef struct {
	// Subject is the email subject line.
	Subject string `json:"subject"`

	// Filename is the attachment filename, empty for email bodies.
	Filename string `json:"filename,omitempty"`

	// ReceivedAt is when the email was received.
	ReceivedAt time.Time `json:"receivedAt"`

	// Locator is the structural position: "page=3", "Budget!2:57", or empty.
	Locator string `json:"locator,omitempty"`
}

// QueryResult is the retrieval response.
type QueryResult struct {
	// Chunks are the ranked hits, at most K of them.
	Chunks []RetrievedChunk

	// Degraded is true when dense retrieval was unavailable and the result
	// came from lexical scoring alone.
	Degraded bool
}
