package filter

import (
	"testing"
	"time"
)

func TestNew_RejectsInvertedRange(t *testing.T) {
	after := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := New("", after, before); err == nil {
		t.Error("expected error for after >= before")
	}
}

func TestMatches(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	f, err := New("news@example.org", after, before)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mid := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if !f.Matches("news@example.org", mid) {
		t.Error("expected match inside range")
	}
	if f.Matches("other@example.org", mid) {
		t.Error("sender mismatch matched")
	}
	if !f.Matches("news@example.org", after) {
		t.Error("lower bound should be inclusive")
	}
	if f.Matches("news@example.org", before) {
		t.Error("upper bound should be exclusive")
	}
}

func TestZeroValueMatchesEverything(t *testing.T) {
	var f Filter
	if !f.IsEmpty() {
		t.Error("zero value should be empty")
	}
	if !f.Matches("anyone@anywhere", time.Time{}) {
		t.Error("zero filter should match everything")
	}
}
