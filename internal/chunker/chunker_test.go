package chunker

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Triyansha/newsletter-rag/internal/domain"
)

func mustChunker(t *testing.T, size, overlap, tolerance int) *Chunker {
	t.Helper()
	c, err := New(size, overlap, tolerance)
	if err != nil {
		t.Fatalf("New(%d, %d, %d): %v", size, overlap, tolerance, err)
	}
	return c
}

func TestNew_RejectsOverlapNotSmallerThanSize(t *testing.T) {
	for _, overlap := range []int{1000, 1500} {
		if _, err := New(1000, overlap, 0); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("New(1000, %d, 0) expected ErrInvalidConfig, got %v", overlap, err)
		}
	}
}

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0, 0, 0); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestChunk_ShortTextSingleChunk(t *testing.T) {
	c := mustChunker(t, 1000, 200, 150)
	text := "short newsletter body"

	chunks := c.Chunk(text, Source{ID: "msg-1"})

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Start != 0 || chunks[0].End != len(text) {
		t.Errorf("expected [0,%d), got [%d,%d)", len(text), chunks[0].Start, chunks[0].End)
	}
	if chunks[0].Text != text {
		t.Errorf("chunk text mismatch: %q", chunks[0].Text)
	}
}

func TestChunk_EmptyText(t *testing.T) {
	c := mustChunker(t, 1000, 200, 150)
	if chunks := c.Chunk("", Source{ID: "msg-1"}); chunks != nil {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

// Break-free text takes hard cuts: 2500 chars at size 1000 / overlap 200
// must produce exactly [0,1000) [800,1800) [1600,2500).
func TestChunk_HardCutOffsets(t *testing.T) {
	c := mustChunker(t, 1000, 200, 150)
	text := strings.Repeat("a", 2500)

	chunks := c.Chunk(text, Source{ID: "msg-1"})

	want := [][2]int{{0, 1000}, {800, 1800}, {1600, 2500}}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].Start != w[0] || chunks[i].End != w[1] {
			t.Errorf("chunk %d: expected [%d,%d), got [%d,%d)",
				i, w[0], w[1], chunks[i].Start, chunks[i].End)
		}
		if chunks[i].Index != i {
			t.Errorf("chunk %d: index %d", i, chunks[i].Index)
		}
	}
}

// Hard cuts must match the count formula ceil((L-O)/(S-O)) for L > S.
func TestChunk_HardCutCountFormula(t *testing.T) {
	const size, overlap = 1000, 200
	c := mustChunker(t, size, overlap, 150)

	for _, length := range []int{1001, 1800, 2500, 5000, 10007} {
		text := strings.Repeat("x", length)
		chunks := c.Chunk(text, Source{ID: "msg-1"})

		want := (length - overlap + (size - overlap) - 1) / (size - overlap)
		if len(chunks) != want {
			t.Errorf("length %d: expected %d chunks, got %d", length, want, len(chunks))
		}
	}
}

// Concatenating chunk texts with the overlap prefix stripped must
// reconstruct the input exactly.
func TestChunk_RoundTrip(t *testing.T) {
	c := mustChunker(t, 100, 20, 15)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	chunks := c.Chunk(text, Source{ID: "msg-1"})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	var sb strings.Builder
	prevEnd := 0
	for _, ch := range chunks {
		sb.WriteString(ch.Text[prevEnd-ch.Start:])
		prevEnd = ch.End
	}
	if sb.String() != text {
		t.Error("round-trip reconstruction mismatch")
	}
}

func TestChunk_PrefersSentenceBoundary(t *testing.T) {
	c := mustChunker(t, 100, 20, 40)
	// A sentence ends inside the tolerance window before offset 100.
	text := strings.Repeat("word ", 16) + "End here. " + strings.Repeat("more text follows this sentence ", 10)

	chunks := c.Chunk(text, Source{ID: "msg-1"})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	first := chunks[0].Text
	if !strings.HasSuffix(first, ". ") {
		t.Errorf("expected first chunk to end at sentence break, got %q", first[len(first)-10:])
	}
}

func TestChunk_PrefersParagraphBoundary(t *testing.T) {
	c := mustChunker(t, 100, 20, 40)
	para := strings.Repeat("alpha ", 13) // 78 chars
	text := para + "\n\n" + strings.Repeat("beta ", 40)

	chunks := c.Chunk(text, Source{ID: "msg-1"})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if chunks[0].End != len(para)+2 {
		t.Errorf("expected cut after paragraph break at %d, got %d", len(para)+2, chunks[0].End)
	}
}

// Chunk IDs depend only on source and start offset, so re-chunking
// unchanged text yields identical IDs.
func TestChunk_StableIDs(t *testing.T) {
	c := mustChunker(t, 100, 20, 15)
	text := strings.Repeat("stable content here. ", 30)
	src := Source{ID: "msg-1", Sender: "a@b.c", Timestamp: time.Now()}

	first := c.Chunk(text, src)
	second := c.Chunk(text, src)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d: ID changed between runs", i)
		}
		if first[i].ID != domain.ChunkID("msg-1", first[i].Start) {
			t.Errorf("chunk %d: ID not derived from source and start", i)
		}
	}
}

// Size, overlap, and offsets count runes, so break-free CJK text must
// produce valid UTF-8 chunks of at most size characters, never a
// mid-rune cut.
func TestChunk_MultibyteTextCutsOnRuneBoundaries(t *testing.T) {
	const size, overlap = 10, 2
	c := mustChunker(t, size, overlap, 3)
	text := strings.Repeat("日本語", 20) // 60 runes, 180 bytes, no break points

	chunks := c.Chunk(text, Source{ID: "msg-1"})

	length := utf8.RuneCountInString(text)
	want := (length - overlap + (size - overlap) - 1) / (size - overlap)
	if len(chunks) != want {
		t.Fatalf("expected %d chunks, got %d", want, len(chunks))
	}

	runes := []rune(text)
	for i, ch := range chunks {
		if !utf8.ValidString(ch.Text) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, ch.Text)
		}
		if n := utf8.RuneCountInString(ch.Text); n > size {
			t.Errorf("chunk %d has %d runes, limit is %d", i, n, size)
		}
		if got := string(runes[ch.Start:ch.End]); got != ch.Text {
			t.Errorf("chunk %d: offsets [%d,%d) do not address its text", i, ch.Start, ch.End)
		}
	}

	var sb strings.Builder
	prevEnd := 0
	for _, ch := range chunks {
		sb.WriteString(string([]rune(ch.Text)[prevEnd-ch.Start:]))
		prevEnd = ch.End
	}
	if sb.String() != text {
		t.Error("round-trip reconstruction mismatch")
	}
}

func TestChunk_MultibyteSentenceBoundary(t *testing.T) {
	c := mustChunker(t, 30, 5, 12)
	text := strings.Repeat("é", 22) + ". " + strings.Repeat("ü", 40)

	chunks := c.Chunk(text, Source{ID: "msg-1"})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, ". ") {
		t.Errorf("expected first chunk to end at sentence break, got %q", chunks[0].Text)
	}
	if chunks[0].End != 24 {
		t.Errorf("expected rune offset 24, got %d", chunks[0].End)
	}
}

func TestChunk_MetadataStamped(t *testing.T) {
	c := mustChunker(t, 1000, 200, 150)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := Source{ID: "msg-7", Sender: "news@example.com", Title: "Weekly Digest", Timestamp: ts}

	chunks := c.Chunk("some content long enough to chunk once", src)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	ch := chunks[0]
	if ch.SourceID != "msg-7" || ch.Sender != "news@example.com" || ch.Title != "Weekly Digest" || !ch.Timestamp.Equal(ts) {
		t.Errorf("metadata not carried: %+v", ch)
	}
}
