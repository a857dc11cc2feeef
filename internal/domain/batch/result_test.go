package batch

import (
	"errors"
	"testing"
)

func TestTally(t *testing.T) {
	results := []Result{
		NewIngested("a"),
		NewSkipped("b", "not a newsletter"),
		NewFailed("c", errors.New("boom")),
		NewIngested("d"),
	}

	ingested, skipped, failed := Tally(results)
	if ingested != 2 || skipped != 1 || failed != 1 {
		t.Errorf("Tally = (%d, %d, %d), want (2, 1, 1)", ingested, skipped, failed)
	}
}

func TestResultAccessors(t *testing.T) {
	r := NewFailed("src", errors.New("embed: timeout"))
	if r.SourceID() != "src" {
		t.Errorf("SourceID = %q", r.SourceID())
	}
	if r.Status() != StatusFailed {
		t.Errorf("Status = %q", r.Status())
	}
	if r.Reason() == "" {
		t.Error("expected failure reason")
	}
}
