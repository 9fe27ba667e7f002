package common

// ProgressEvent is a coarse progress notification from a long-running
// scan. Total is zero when the number of items is unknown up front.
// Terminal carries the final outcome; non-terminal events never do.
type ProgressEvent struct {
	ItemsProcessed int64
	TotalItems     int64
	CurrentItem    string
	Message        string

	Terminal bool
	Success  bool
	Err      error
}

// ProgressFunc receives progress events. It is fire-and-forget: the scan
// never waits on it, and implementations must not block or call back into
// the engine. A nil ProgressFunc is valid and means no reporting.
type ProgressFunc func(ProgressEvent)

// ProgressReporter throttles byte-granular scan progress down to one event
// per interval so scanners can report from their inner loop without
// flooding the sink.
type ProgressReporter struct {
	fn       ProgressFunc
	label    string
	total    int64
	interval int64
	lastAt   int64
}

// NewProgressReporter creates a reporter for a scan over total bytes
// (0 if unknown), emitting at most one event per interval bytes.
func NewProgressReporter(fn ProgressFunc, label string, total, interval int64) *ProgressReporter {
	if interval <= 0 {
		interval = 1 << 20
	}
	return &ProgressReporter{fn: fn, label: label, total: total, interval: interval}
}

// Update reports the current position if the interval has elapsed.
func (r *ProgressReporter) Update(processed int64) {
	if r.fn == nil || processed-r.lastAt < r.interval {
		return
	}
	r.lastAt = processed
	r.fn(ProgressEvent{
		ItemsProcessed: processed,
		TotalItems:     r.total,
		CurrentItem:    r.label,
	})
}

// Finish emits the terminal event. err is nil for success and for
// cancellation (a cancelled scan is a partial result, not a failure).
func (r *ProgressReporter) Finish(processed int64, err error) {
	if r.fn == nil {
		return
	}
	r.fn(ProgressEvent{
		ItemsProcessed: processed,
		TotalItems:     r.total,
		CurrentItem:    r.label,
		Terminal:       true,
		Success:        err == nil,
		Err:            err,
	})
}
