package redis

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/Triyansha/newsletter-rag/internal/domain/search/filter"
)

func TestBuildFilter(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		sender string
		after  time.Time
		before time.Time
		want   string
	}{
		{
			name: "empty",
			want: "",
		},
		{
			name:   "sender only",
			sender: "alice@news.org",
			want:   `@sender:{alice\@news\.org}`,
		},
		{
			name:  "after only",
			after: jan,
			want:  "@ts:[1767225600 +inf]",
		},
		{
			name:   "before only",
			before: mar,
			want:   "@ts:[-inf (1772323200]",
		},
		{
			name:   "full range",
			after:  jan,
			before: mar,
			want:   "@ts:[1767225600 (1772323200]",
		},
		{
			name:   "sender and range",
			sender: "bob@news.org",
			after:  jan,
			before: mar,
			want:   `@sender:{bob\@news\.org} @ts:[1767225600 (1772323200]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := filter.New(tt.sender, tt.after, tt.before)
			if err != nil {
				t.Fatalf("filter.New: %v", err)
			}
			if got := buildFilter(f); got != tt.want {
				t.Errorf("buildFilter = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTagEscaper(t *testing.T) {
	got := tagEscaper.Replace("a b-c@d.e")
	want := `a\ b\-c\@d\.e`
	if got != want {
		t.Errorf("escaped = %q, want %q", got, want)
	}
}

func TestVectorToBytes(t *testing.T) {
	v := []float32{1.5, -0.25, 0}
	got := vectorToBytes(v)
	if len(got) != 12 {
		t.Fatalf("len = %d, want 12", len(got))
	}
	for i, f := range v {
		bits := binary.LittleEndian.Uint32([]byte(got)[i*4:])
		if math.Float32frombits(bits) != f {
			t.Errorf("element %d: got %g, want %g", i, math.Float32frombits(bits), f)
		}
	}
}

func TestBytesToVector_RoundTrip(t *testing.T) {
	v := []float32{0.125, -3.5, 42, 0}
	got := bytesToVector(vectorToBytes(v))
	if len(got) != len(v) {
		t.Fatalf("len = %d, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("element %d: got %g, want %g", i, got[i], v[i])
		}
	}

	if bytesToVector("") != nil {
		t.Error("expected nil for an empty payload")
	}
}
