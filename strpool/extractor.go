// Package strpool heuristically extracts printable runtime strings from a
// memory image. There is no signature to key on; any run of printable
// bytes above a threshold is a candidate. Results are best-effort and
// never authoritative; an image with no extractable strings is a normal
// outcome, not an error.
package strpool

import (
	"context"
	"fmt"

	"esmdig/carve"
	"esmdig/common"
	"esmdig/coverage"
)

// Entry is one extracted string. Text is an independent copy; Region
// names the coverage attribution at the string's offset when it was
// extracted ("unclaimed" for virgin territory). Provenance is attached by
// CrossReference and is empty until then.
type Entry struct {
	Offset     int64
	Text       string
	Region     string
	Provenance string
}

// Config tunes the extractor.
type Config struct {
	// MinLength is the shortest printable run worth reporting.
	MinLength int

	// MaxLength truncates pathological runs (e.g. megabytes of spaces).
	MaxLength int

	// IncludeClaimed extracts from ranges already hard-claimed by the
	// carver or the record scanner. Off by default: bytes inside a
	// carved asset are usually binary noise dressed as text.
	IncludeClaimed bool
}

// DefaultConfig matches the runtime's typical identifier lengths.
func DefaultConfig() Config {
	return Config{MinLength: 6, MaxLength: 4096}
}

// Extractor scans for printable string runs.
type Extractor struct {
	cfg     Config
	tracker *coverage.Tracker
	log     common.Logger
}

// NewExtractor creates an extractor marking results in tracker. A nil
// logger defaults to no-op.
func NewExtractor(cfg Config, tracker *coverage.Tracker, log common.Logger) *Extractor {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultConfig().MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultConfig().MaxLength
	}
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Extractor{cfg: cfg, tracker: tracker, log: log}
}

const extractChunkSize = 1 << 20

// Extract walks the image and returns printable runs in offset order.
// Cancellation is checked at chunk boundaries; a cancelled extraction
// returns the entries found so far.
func (e *Extractor) Extract(ctx context.Context, a *common.Arena,
	progress common.ProgressFunc, diag *common.Diagnostics) ([]Entry, error) {

	reporter := common.NewProgressReporter(progress, "string extraction", a.Size(), 4<<20)
	size := a.Size()
	buf := make([]byte, extractChunkSize)

	var entries []Entry
	var run []byte
	runStart := int64(-1)

	flush := func() {
		if runStart >= 0 && len(run) >= e.cfg.MinLength {
			entries = append(entries, e.emit(runStart, string(run), diag))
		}
		run = run[:0]
		runStart = -1
	}

	for base := int64(0); base < size; base += extractChunkSize {
		if ctx.Err() != nil {
			// Drop the in-flight run: a truncated string must not be
			// reported as if it were complete.
			run = run[:0]
			runStart = -1
			diag.Cancelled = true
			break
		}
		reporter.Update(base)

		want := int64(len(buf))
		if size-base < want {
			want = size - base
		}
		n, err := a.ReadInto(base, buf[:want])
		if err != nil {
			return entries, err
		}

		for i := 0; i < n; i++ {
			b := buf[i]
			if !printable(b) {
				flush()
				continue
			}
			if len(run) >= e.cfg.MaxLength {
				flush()
			}
			if runStart < 0 {
				off := base + int64(i)
				if !e.cfg.IncludeClaimed && e.tracker.HardClaimed(off) {
					continue
				}
				runStart = off
			}
			run = append(run, b)
		}
	}
	flush()

	diag.StringsFound = len(entries)
	reporter.Finish(size, nil)
	return entries, nil
}

// emit builds an entry and loosely claims its range.
func (e *Extractor) emit(off int64, text string, diag *common.Diagnostics) Entry {
	region := "unclaimed"
	if kinds := e.tracker.Query(off); len(kinds) > 0 {
		region = kinds[0].String()
	}

	r := coverage.Range{Start: off, End: off + int64(len(text))}
	if !e.tracker.Claim(r, coverage.KindStringPool) {
		diag.Note("strpool", off, "coverage claim refused for %d-byte string", len(text))
	}
	return Entry{Offset: off, Text: text, Region: region}
}

func printable(b byte) bool {
	return b >= 0x20 && b <= 0x7E
}

// CrossReference attaches probable provenance to each string: a string
// inside or within proximity bytes of a carved entry is tagged with that
// entry's identity. Carved entries must be in offset order (the carver's
// output order). The correlation is best-effort; strings with no nearby
// asset keep an empty Provenance.
func CrossReference(strings []Entry, carved []carve.Entry, proximity int64) {
	if len(carved) == 0 {
		return
	}
	ci := 0
	for i := range strings {
		s := &strings[i]

		// Advance past carved entries that end too far before the string.
		for ci < len(carved) && carved[ci].End()+proximity <= s.Offset {
			ci++
		}
		if ci >= len(carved) {
			break
		}
		c := carved[ci]
		if s.Offset+int64(len(s.Text))+proximity > c.Offset &&
			s.Offset < c.End()+proximity {
			s.Provenance = fmt.Sprintf("%s:%s@0x%X", c.Class, c.Signature, c.Offset)
		}
	}
}
