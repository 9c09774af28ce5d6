// Package plaintext extracts segments from raw UTF-8 text, the format of
// .txt files dropped into a watched ingest folder. Each blank-line separated
// block becomes one segment so the normaliser can detect repeated trailing
// boilerplate across them.
package plaintext

import (
	"context"
	"strings"

	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor converts raw text bytes into segments. Plain text carries no
// structural positions, so every segment has the zero Position.
type Extractor struct{}

// New creates a plaintext extractor.
func New() *Extractor {
	return &Extractor{}
}

// Filetype returns the source kind this extractor handles. Dropped text
// files are indexed as email bodies: no filename citation, no locator.
func (e *Extractor) Filetype() domain.Filetype {
	return domain.FiletypeEmailBody
}

// Extract splits the text on blank lines into ordered segments. Encoding
// validation is left to the normaliser, which rejects non-UTF-8 input.
func (e *Extractor) Extract(_ context.Context, raw []byte) ([]domain.Segment, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")

	var segments []domain.Segment
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		segments = append(segments, domain.Segment{Text: block})
	}
	return segments, nil
}
