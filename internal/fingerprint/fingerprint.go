// Package fingerprint computes the stable content hashes used for
// dedup and idempotent indexing.
//
// The hash function is SHA-256 over the exact normalised text, hex-encoded.
// It is part of the index format: changing it invalidates every stored
// dedup key and requires a full reindex, so it is frozen for the product's
// lifetime.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// Text returns the fingerprint of a single chunk's text.
func Text(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Segments returns the fingerprint of a whole document's canonical text:
// the normalised segments joined by a newline, in order. Byte-identical
// input always yields the same hash, across process restarts.
func Segments(segments []domain.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(seg.Text)
	}
	return Text(b.String())
}
