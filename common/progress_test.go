package common

import (
	"errors"
	"testing"
)

func TestProgressReporter_Throttles(t *testing.T) {
	var events []ProgressEvent
	r := NewProgressReporter(func(ev ProgressEvent) {
		events = append(events, ev)
	}, "scan", 1000, 100)

	for off := int64(0); off <= 1000; off += 10 {
		r.Update(off)
	}
	// One event per full interval; the off=0 update is below the first
	// interval boundary and suppressed.
	if len(events) != 10 {
		t.Fatalf("got %d events, want 10", len(events))
	}
	for _, ev := range events {
		if ev.Terminal {
			t.Errorf("Update emitted a terminal event: %+v", ev)
		}
		if ev.CurrentItem != "scan" || ev.TotalItems != 1000 {
			t.Errorf("event = %+v", ev)
		}
	}
}

func TestProgressReporter_Finish(t *testing.T) {
	var last ProgressEvent
	r := NewProgressReporter(func(ev ProgressEvent) { last = ev }, "scan", 50, 100)

	r.Finish(50, nil)
	if !last.Terminal || !last.Success || last.Err != nil {
		t.Errorf("success finish = %+v", last)
	}

	failure := errors.New("read failed")
	r.Finish(50, failure)
	if !last.Terminal || last.Success || last.Err != failure {
		t.Errorf("failure finish = %+v", last)
	}
}

func TestProgressReporter_NilSink(t *testing.T) {
	var r *ProgressReporter = NewProgressReporter(nil, "scan", 100, 10)
	r.Update(50)
	r.Finish(100, nil)
}

func TestDiagnostics_MergeAccumulates(t *testing.T) {
	a := Diagnostics{CandidatesSeen: 3, Accepted: 2, RejectedCarve: 1}
	a.Note("carver", 0x10, "rejected candidate")

	b := Diagnostics{HeadersSeen: 5, RecordsParsed: 4, RecordsRejected: 1, Cancelled: true}
	b.Note("records", 0x20, "implausible header")

	a.Merge(&b)
	if a.CandidatesSeen != 3 || a.HeadersSeen != 5 || !a.Cancelled {
		t.Errorf("merged = %+v", a)
	}
	if len(a.Entries) != 2 || a.Entries[0].Component != "carver" || a.Entries[1].Component != "records" {
		t.Errorf("entries = %+v", a.Entries)
	}

	a.Merge(nil)
	if len(a.Entries) != 2 {
		t.Error("nil merge mutated the receiver")
	}
}
