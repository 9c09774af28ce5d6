package driven

import (
	"context"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// Extractor converts raw source bytes into ordered text segments with
// position hints. Byte-level decoding of PDF/XLSX formats happens behind
// this boundary; the core only consumes the segment stream.
type Extractor interface {
	// Filetype returns the source kind this extractor handles.
	Filetype() domain.Filetype

	// Extract produces the ordered segments for one document.
	Extract(ctx context.Context, raw []byte) ([]domain.Segment, error)
}
