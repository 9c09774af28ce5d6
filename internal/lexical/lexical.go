// Package lexical provides the keyword representation and BM25 scoring used
// by the index stores. Terms are lowercased word tokens with surrounding
// punctuation stripped; the same derivation is applied to chunk text at
// write time and to query text at search time.
package lexical

import (
	"math"
	"strings"
	"unicode"
)

// BM25 free parameters. Standard values; k1 controls term-frequency
// saturation, b the document-length normalisation.
const (
	k1 = 1.2
	b  = 0.75
)

// Tokenize derives the lexical terms for a run of text.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) > 1 || unicode.IsNumber(rune(f[0])) {
			terms = append(terms, f)
		}
	}
	return terms
}

// TermCounts returns term -> frequency for a run of text.
func TermCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, term := range Tokenize(text) {
		counts[term]++
	}
	return counts
}

// CorpusStats describes the live, filter-matching candidate set a BM25
// score is computed against.
type CorpusStats struct {
	// ChunkCount is the number of candidate chunks.
	ChunkCount int

	// AvgTokens is the mean token count across candidates.
	AvgTokens float64

	// DocFreq maps each query term to the number of candidates containing it.
	DocFreq map[string]int
}

// Score computes the BM25 relevance of one chunk against the query terms.
// termFreq maps query terms to their frequency in the chunk; tokenCount is
// the chunk's length in tokens.
func Score(queryTerms []string, termFreq map[string]int, tokenCount int, stats CorpusStats) float64 {
	if stats.ChunkCount == 0 || stats.AvgTokens == 0 {
		return 0
	}

	var score float64
	for _, term := range queryTerms {
		tf := float64(termFreq[term])
		if tf == 0 {
			continue
		}
		df := float64(stats.DocFreq[term])
		idf := math.Log(1 + (float64(stats.ChunkCount)-df+0.5)/(df+0.5))
		norm := 1 - b + b*float64(tokenCount)/stats.AvgTokens
		score += idf * (tf * (k1 + 1)) / (tf + k1*norm)
	}
	return score
}
