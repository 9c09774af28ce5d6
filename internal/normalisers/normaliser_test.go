package normalisers

import (
	"testing"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"collapses whitespace", "hello   world\n\nagain", "hello world again"},
		{"strips control characters", "hello\x00\x01world", "helloworld"},
		{"keeps tabs and newlines as spaces", "a\tb\nc", "a b c"},
		{"drops page artifacts", "intro Page 2 of 10 outro", "intro outro"},
		{"replaces smart quotes", "“quoted” and ’s", `"quoted" and 's`},
		{"replaces dashes", "2019–2020 — summary", "2019-2020 -- summary"},
		{"empty input", "", ""},
		{"whitespace only", "  \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.input); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalise_InvalidUTF8(t *testing.T) {
	n := New()
	_, err := n.Normalise([]domain.Segment{{Text: string([]byte{0xff, 0xfe, 0xfd})}})
	if err != domain.ErrUnsupportedEncoding {
		t.Errorf("expected ErrUnsupportedEncoding, got %v", err)
	}
}

func TestNormalise_DropsEmptySegments(t *testing.T) {
	n := New()
	segs, err := n.Normalise([]domain.Segment{
		{Text: "real content here", Position: domain.Position{PageStart: 1, PageEnd: 1}},
		{Text: "   \n  ", Position: domain.Position{PageStart: 2, PageEnd: 2}},
		{Text: "more content", Position: domain.Position{PageStart: 3, PageEnd: 3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[1].Position.PageStart != 3 {
		t.Errorf("position should survive normalisation, got page %d", segs[1].Position.PageStart)
	}
}

func TestNormalise_StripsRepeatedSignature(t *testing.T) {
	n := New()
	sig := "Best regards Jane Doe Acme Corp +44 20 7946 0000"
	segs, err := n.Normalise([]domain.Segment{
		{Text: "the quarterly numbers look strong " + sig},
		{Text: "please review the attached forecast " + sig},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	for i, seg := range segs {
		if seg.Text == "" {
			t.Fatalf("segment %d emptied", i)
		}
		if contains := seg.Text; len(contains) >= len(sig) && contains[len(contains)-len(sig):] == sig {
			t.Errorf("segment %d still carries the signature: %q", i, seg.Text)
		}
	}
	if segs[0].Text != "the quarterly numbers look strong" {
		t.Errorf("unexpected cleaned text: %q", segs[0].Text)
	}
}

func TestNormalise_ShortSuffixKept(t *testing.T) {
	// A short shared tail is likely real content, not a signature.
	n := New()
	segs, err := n.Normalise([]domain.Segment{
		{Text: "alpha beta thanks"},
		{Text: "gamma delta thanks"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if segs[0].Text != "alpha beta thanks" {
		t.Errorf("short suffix should be kept, got %q", segs[0].Text)
	}
}

func TestNormalise_SingleSegmentUntouched(t *testing.T) {
	n := New()
	segs, err := n.Normalise([]domain.Segment{{Text: "only one segment here"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "only one segment here" {
		t.Errorf("unexpected result: %+v", segs)
	}
}

func TestNormalise_EmptyDocument(t *testing.T) {
	n := New()
	segs, err := n.Normalise(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("expected no segments, got %d", len(segs))
	}
}
