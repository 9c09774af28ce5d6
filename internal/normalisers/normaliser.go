// Package normalisers converts raw extractor segments into the canonical
// text stream that chunking and fingerprinting operate on.
//
// Normalisation is a pure transform: malformed input degrades to best-effort
// cleaned text rather than erroring, so a single noisy document never halts
// ingestion. The only failure mode is text that is not valid UTF-8.
package normalisers

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// minSignatureTokens is the shortest trailing block treated as a repeated
// signature. Shorter common suffixes are more likely real content.
const minSignatureTokens = 5

// pageArtifactRe matches "Page N of M" headers/footers left by PDF extraction.
var pageArtifactRe = regexp.MustCompile(`(?i)\bpage \d+ of \d+\b`)

// extractionArtifacts maps characters PDF extractors commonly emit to their
// plain equivalents.
var extractionArtifacts = strings.NewReplacer(
	"\uf0b7", "\u2022",
	"\u2013", "-",
	"\u2014", "--",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2018", "'",
	"\u2019", "'",
	"\u00a0", " ",
)

// Normaliser cleans extractor output into canonical segments.
type Normaliser struct{}

// New creates a Normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Normalise cleans each segment, strips repeated trailing boilerplate, and
// drops segments that normalise to empty. Order is preserved. Returns
// domain.ErrUnsupportedEncoding when any segment is not valid UTF-8.
func (n *Normaliser) Normalise(segments []domain.Segment) ([]domain.Segment, error) {
	cleaned := make([]domain.Segment, 0, len(segments))
	for _, seg := range segments {
		if !utf8.ValidString(seg.Text) {
			return nil, domain.ErrUnsupportedEncoding
		}
		text := CleanText(seg.Text)
		if text == "" {
			continue
		}
		cleaned = append(cleaned, domain.Segment{Text: text, Position: seg.Position})
	}

	stripRepeatedSuffix(cleaned)

	// Stripping may have emptied a segment entirely.
	out := cleaned[:0]
	for _, seg := range cleaned {
		if seg.Text != "" {
			out = append(out, seg)
		}
	}
	return out, nil
}

// CleanText canonicalises one run of raw text: extraction artifacts are
// replaced, control characters removed, page-number noise dropped, and all
// whitespace collapsed to single spaces.
func CleanText(text string) string {
	text = extractionArtifacts.Replace(text)
	text = pageArtifactRe.ReplaceAllString(text, " ")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t' || r == ' ':
			b.WriteRune(' ')
		case unicode.IsControl(r) || r == utf8.RuneError:
			// dropped
		default:
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// stripRepeatedSuffix removes a trailing token block that every segment ends
// with, in place. Email bodies and attachments from the same sender often
// carry an identical signature or footer on each page; a block repeated
// verbatim at the tail of every segment is boilerplate, not content.
func stripRepeatedSuffix(segments []domain.Segment) {
	if len(segments) < 2 {
		return
	}

	tokens := make([][]string, len(segments))
	for i, seg := range segments {
		tokens[i] = strings.Fields(seg.Text)
	}

	suffix := commonSuffixLen(tokens)
	if suffix < minSignatureTokens {
		return
	}

	for i := range segments {
		kept := tokens[i][:len(tokens[i])-suffix]
		segments[i].Text = strings.Join(kept, " ")
	}
}

// commonSuffixLen returns the length of the longest token suffix shared by
// all token slices. A segment consisting entirely of the suffix does not
// extend it further.
func commonSuffixLen(tokens [][]string) int {
	shortest := len(tokens[0])
	for _, t := range tokens[1:] {
		if len(t) < shortest {
			shortest = len(t)
		}
	}

	n := 0
	for n < shortest {
		tok := tokens[0][len(tokens[0])-1-n]
		for _, t := range tokens[1:] {
			if t[len(t)-1-n] != tok {
				return n
			}
		}
		n++
	}
	return n
}
