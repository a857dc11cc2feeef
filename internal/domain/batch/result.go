// Package batch carries per-item outcomes of a sync run.
package batch

// ItemStatus is the processing outcome of a single message in a sync batch.
type ItemStatus string

// Sync item status values.
const (
	StatusIngested ItemStatus = "ingested"
	StatusSkipped  ItemStatus = "skipped"
	StatusFailed   ItemStatus = "failed"
)

// Result is the outcome of processing one message.
type Result struct {
	sourceID string
	status   ItemStatus
	reason   string
}

// NewIngested marks a message as fully stored.
func NewIngested(sourceID string) Result {
	return Result{sourceID: sourceID, status: StatusIngested}
}

// NewSkipped marks a message as deliberately not indexed.
func NewSkipped(sourceID, reason string) Result {
	return Result{sourceID: sourceID, status: StatusSkipped, reason: reason}
}

// NewFailed marks a message that errored during processing.
func NewFailed(sourceID string, err error) Result {
	r := Result{sourceID: sourceID, status: StatusFailed}
	if err != nil {
		r.reason = err.Error()
	}
	return r
}

// SourceID returns the message's source identifier.
func (r Result) SourceID() string { return r.sourceID }

// Status returns the outcome.
func (r Result) Status() ItemStatus { return r.status }

// Reason returns the skip reason or error text, empty on success.
func (r Result) Reason() string { return r.reason }

// Tally counts results per status.
func Tally(results []Result) (ingested, skipped, failed int) {
	for _, r := range results {
		switch r.Status() {
		case StatusIngested:
			ingested++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return ingested, skipped, failed
}
