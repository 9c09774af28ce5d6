// Package chunker provides a structure-aware, token-bounded chunking processor.
//
// Chunks target a configured token count and respect structural boundaries:
// sheet boundaries are hard (a chunk never spans two sheets), page boundaries
// are soft and absorbed while the running chunk is still under half the
// target. Oversized structural units are split purely by token count, with a
// tail overlap carried into the following chunk.
package chunker

import (
	"context"
	"strings"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// DefaultTargetTokens is the default target chunk size in tokens.
const DefaultTargetTokens = 1000

// DefaultOverlapFraction is the default overlap as a fraction of the target.
const DefaultOverlapFraction = 0.10

// Processor splits normalised segments into chunk drafts.
// It implements the PostProcessor interface.
type Processor struct {
	targetTokens    int
	overlapFraction float64
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithTargetTokens sets the target chunk size in tokens.
func WithTargetTokens(target int) Option {
	return func(p *Processor) {
		if target > 0 {
			p.targetTokens = target
		}
	}
}

// WithOverlapFraction sets the overlap carried across splits as a fraction
// of the target size. Values outside (0, 0.5] are ignored.
func WithOverlapFraction(fraction float64) Option {
	return func(p *Processor) {
		if fraction > 0 && fraction <= 0.5 {
			p.overlapFraction = fraction
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		targetTokens:    DefaultTargetTokens,
		overlapFraction: DefaultOverlapFraction,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// Process splits the normalised segments into chunk drafts. Input chunks are
// ignored; this processor creates chunks. Content hashes and embeddings are
// filled in by later pipeline stages.
func (p *Processor) Process(_ context.Context, doc *domain.Document, segments []domain.Segment,
	_ []domain.Chunk) ([]domain.Chunk, error) {
	w := &walker{
		processor: p,
		docID:     doc.ID,
		minClose:  p.targetTokens / 2,
	}

	for _, seg := range segments {
		w.remaining += len(strings.Fields(seg.Text))
	}

	for _, seg := range segments {
		w.segment(seg)
	}
	w.flush()

	return w.chunks, nil
}

// walker carries the chunking state across segments.
type walker struct {
	processor *Processor
	docID     string
	minClose  int
	remaining int // tokens of the document not yet placed in a chunk

	chunks []domain.Chunk

	tokens  []string        // current chunk, including any seeded overlap
	overlap int             // seeded overlap token count
	pos     domain.Position // merged position of real tokens
	posSet  bool
	seedPos domain.Position // position of the chunk the seed came from
}

// segment feeds one structural unit into the walker.
func (w *walker) segment(seg domain.Segment) {
	pos := normalise(seg.Position)

	if w.seedOnly() && hardBoundary(w.seedPos, pos) {
		// Overlap never crosses a sheet boundary.
		w.reset()
	}

	if len(w.tokens) > w.overlap {
		switch {
		case hardBoundary(w.pos, pos):
			w.close(false)
		case len(w.tokens) > w.minClose:
			// Structural boundary with enough content behind it: start a
			// fresh chunk here rather than splitting the unit ahead.
			w.close(false)
		}
	}

	toks := strings.Fields(seg.Text)
	i := 0
	for i < len(toks) {
		space := w.processor.targetTokens - len(w.tokens)
		take := len(toks) - i
		if take > space {
			take = space
		}
		w.tokens = append(w.tokens, toks[i:i+take]...)
		w.remaining -= take
		i += take

		if w.posSet {
			w.pos = w.pos.Merge(pos)
		} else {
			w.pos = pos
			w.posSet = true
		}

		if len(w.tokens) >= w.processor.targetTokens {
			w.close(true)
		}
	}
}

// close emits the current chunk. When carry is set and document text remains,
// the tail of the emitted chunk seeds the next one as declared overlap.
func (w *walker) close(carry bool) {
	if len(w.tokens) == 0 {
		return
	}

	ordinal := len(w.chunks)
	w.chunks = append(w.chunks, domain.Chunk{
		ID:         domain.ChunkID(w.docID, ordinal),
		DocumentID: w.docID,
		Ordinal:    ordinal,
		Text:       strings.Join(w.tokens, " "),
		TokenCount: len(w.tokens),
		Overlap:    w.overlap,
		Position:   w.pos,
	})

	seed := 0
	if carry && w.remaining > 0 {
		seed = w.overlapTokens()
		if seed > len(w.tokens) {
			seed = len(w.tokens)
		}
	}

	prevTokens, prevPos := w.tokens, w.pos
	w.reset()
	if seed > 0 {
		w.tokens = append(w.tokens, prevTokens[len(prevTokens)-seed:]...)
		w.overlap = seed
		w.seedPos = prevPos
	}
}

// flush emits whatever remains as the final chunk of the document.
func (w *walker) flush() {
	if len(w.tokens) > w.overlap {
		w.close(false)
	}
}

// overlapTokens computes the overlap to carry: the configured fraction of the
// target size, shrunk proportionally when less than a full target of document
// text remains so the overlap never dominates a short final chunk.
func (w *walker) overlapTokens() int {
	span := w.processor.targetTokens
	if w.remaining < span {
		span = w.remaining
	}
	return int(w.processor.overlapFraction*float64(span) + 0.5)
}

// seedOnly reports whether the current chunk holds nothing but carried overlap.
func (w *walker) seedOnly() bool {
	return len(w.tokens) > 0 && len(w.tokens) == w.overlap
}

func (w *walker) reset() {
	w.tokens = nil
	w.overlap = 0
	w.pos = domain.Position{}
	w.posSet = false
	w.seedPos = domain.Position{}
}

// hardBoundary reports whether two positions may not share a chunk.
// Only sheet transitions are hard; page transitions are soft.
func hardBoundary(a, b domain.Position) bool {
	return a.Sheet != b.Sheet
}

// normalise fills implied position fields from the extractor hint.
func normalise(pos domain.Position) domain.Position {
	if pos.PageStart != 0 && pos.PageEnd < pos.PageStart {
		pos.PageEnd = pos.PageStart
	}
	if pos.RowStart != 0 && pos.RowEnd < pos.RowStart {
		pos.RowEnd = pos.RowStart
	}
	return pos
}
