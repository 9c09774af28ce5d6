package plaintext

import (
	"context"
	"testing"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "single block",
			raw:  "hello world",
			want: []string{"hello world"},
		},
		{
			name: "blank lines split blocks",
			raw:  "first paragraph\n\nsecond paragraph",
			want: []string{"first paragraph", "second paragraph"},
		},
		{
			name: "windows line endings",
			raw:  "first\r\n\r\nsecond",
			want: []string{"first", "second"},
		},
		{
			name: "whitespace-only blocks dropped",
			raw:  "first\n\n   \n\nsecond",
			want: []string{"first", "second"},
		},
		{
			name: "empty input",
			raw:  "",
			want: nil,
		},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments, err := e.Extract(context.Background(), []byte(tt.raw))
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(segments) != len(tt.want) {
				t.Fatalf("got %d segments, want %d", len(segments), len(tt.want))
			}
			for i, seg := range segments {
				if seg.Text != tt.want[i] {
					t.Errorf("segment %d = %q, want %q", i, seg.Text, tt.want[i])
				}
				if !seg.Position.IsZero() {
					t.Errorf("segment %d has non-zero position", i)
				}
			}
		})
	}
}

func TestFiletype(t *testing.T) {
	if got := New().Filetype(); got != domain.FiletypeEmailBody {
		t.Errorf("Filetype() = %q, want %q", got, domain.FiletypeEmailBody)
	}
}
