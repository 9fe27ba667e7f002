package common

import "fmt"

// DiagEntry records a single anomaly observed during scanning: a rejected
// candidate, a duplicate identifier, a coverage conflict. Anomalies are
// never silently dropped; they accumulate here so that component totals
// always reconcile (found == accepted + rejected + duplicate).
type DiagEntry struct {
	Offset    int64
	Component string
	Message   string
}

func (e DiagEntry) String() string {
	return fmt.Sprintf("[%s] offset=0x%X: %s", e.Component, e.Offset, e.Message)
}

// Diagnostics aggregates the per-run anomaly record. Each component builds
// its own Diagnostics while scanning (no sharing, no locks) and the
// orchestrator merges them into the final result.
type Diagnostics struct {
	// Carver counters
	CandidatesSeen int
	Accepted       int
	RejectedCarve  int
	Collided       int

	// Record scanner counters
	HeadersSeen      int
	RecordsParsed    int
	RecordsRejected  int
	DuplicateFormIDs int

	// String pool counters
	StringsFound int

	// Cancelled is set when a scan returned early on a cancellation
	// signal; the result is a valid partial result, not a failure.
	Cancelled bool

	Entries []DiagEntry
}

// Note appends an anomaly entry.
func (d *Diagnostics) Note(component string, offset int64, format string, args ...interface{}) {
	d.Entries = append(d.Entries, DiagEntry{
		Offset:    offset,
		Component: component,
		Message:   fmt.Sprintf(format, args...),
	})
}

// Merge folds other into d. Entry order follows merge order, which the
// orchestrator keeps fixed (carver, records, strings) for determinism.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil {
		return
	}
	d.CandidatesSeen += other.CandidatesSeen
	d.Accepted += other.Accepted
	d.RejectedCarve += other.RejectedCarve
	d.Collided += other.Collided
	d.HeadersSeen += other.HeadersSeen
	d.RecordsParsed += other.RecordsParsed
	d.RecordsRejected += other.RecordsRejected
	d.DuplicateFormIDs += other.DuplicateFormIDs
	d.StringsFound += other.StringsFound
	d.Cancelled = d.Cancelled || other.Cancelled
	d.Entries = append(d.Entries, other.Entries...)
}
