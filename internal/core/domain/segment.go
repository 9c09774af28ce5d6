package domain

// Segment is one extractor output unit: a run of raw text plus the structural
// position it was lifted from (a PDF page, a sheet row window, or the email
// body). Extractors emit segments in document order.
type Segment struct {
	// Text is the raw or normalised text of the structural unit.
	Text string `json:"text"`

	// Position is the structural hint. Zero value for email bodies.
	Position Position `json:"positionHint"`
}

// IngestInput is the per-document ingestion payload supplied by the
// connector/extractor boundary.
type IngestInput struct {
	// DocumentID is the connector-derived stable document identifier.
	DocumentID string `json:"documentId"`

	// Namespace is the owner's isolation key.
	Namespace string `json:"namespace"`

	// Filetype is the source kind.
	Filetype Filetype `json:"filetype"`

	// Source carries citation metadata.
	Source SourceMetadata `json:"sourceMetadata"`

	// Segments are the ordered extractor output units.
	Segments []Segment `json:"segments"`
}

// Validate checks the structural requirements of an ingestion payload.
func (in *IngestInput) Validate() error {
	if in.DocumentID == "" {
		return ErrInvalidInput
	}
	if in.Namespace == "" {
		return ErrNamespaceRequired
	}
	if !in.Filetype.Valid() {
		return ErrUnsupportedFiletype
	}
	return nil
}
