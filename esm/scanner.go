package esm

import (
	"context"

	"esmdig/common"
	"esmdig/coverage"
)

// Duplicate records a later occurrence of a FormID already taken by an
// earlier successfully parsed record. Duplicates are surfaced, never
// silently dropped.
type Duplicate struct {
	FormID FormID
	Offset int64
}

// ScanResult is the record scanner's output. Records holds every
// successfully parsed record in offset order, including ones whose FormID
// collided; Index maps each FormID to its first successfully parsed
// record (first-wins, deterministic because discovery order is offset
// order).
type ScanResult struct {
	Records    []*RawRecord
	Index      map[FormID]int
	RawNames   map[FormID]string // editor IDs readable before semantic lifting
	Duplicates []Duplicate
}

// Scanner finds and decomposes database records in a memory image.
type Scanner struct {
	tracker *coverage.Tracker
	log     common.Logger
}

// NewScanner creates a record scanner claiming ranges in tracker. A nil
// logger defaults to no-op.
func NewScanner(tracker *coverage.Tracker, log common.Logger) *Scanner {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Scanner{tracker: tracker, log: log}
}

const recordChunkSize = 1 << 20

// Scan performs the forensic pass: every byte offset is a potential
// record header. A candidate must have a known type tag, a positive size
// that fits the remaining image, and a sane FormID; anything else advances
// the scan by one byte and retries. That single-byte resync is the whole
// recovery strategy: garbage between and inside candidates is expected,
// and a failed candidate is skipped, never retried.
//
// GRUP container headers are recognized and stepped over so the records
// inside groups are found, but groups themselves are not records and are
// not claimed.
func (s *Scanner) Scan(ctx context.Context, a *common.Arena,
	progress common.ProgressFunc, diag *common.Diagnostics) (*ScanResult, error) {

	res := &ScanResult{
		Index:    make(map[FormID]int),
		RawNames: make(map[FormID]string),
	}
	reporter := common.NewProgressReporter(progress, "record scan", a.Size(), 4<<20)
	size := a.Size()

	chunk := make([]byte, recordChunkSize+RecordHeaderLen-1)
	chunkBase := int64(-1)
	chunkLen := 0

	off := int64(0)
	for off+RecordHeaderLen <= size {
		// Reload the window when the cursor leaves it.
		if chunkBase < 0 || off < chunkBase || off+RecordHeaderLen > chunkBase+int64(chunkLen) {
			if ctx.Err() != nil {
				diag.Cancelled = true
				break
			}
			reporter.Update(off)

			want := int64(len(chunk))
			if size-off < want {
				want = size - off
			}
			n, err := a.ReadInto(off, chunk[:want])
			if err != nil {
				return res, err
			}
			chunkBase, chunkLen = off, n
		}

		hdr := chunk[off-chunkBase : off-chunkBase+RecordHeaderLen]

		if Tag(hdr[0:4]) == TagGRUP {
			if _, ok := parseGroupHeader(hdr, size-off); ok {
				off += RecordHeaderLen
				continue
			}
			off++
			continue
		}

		h := parseHeader(hdr)
		if !headerPlausible(h, size-off) {
			off++
			continue
		}

		// Candidate boundary: the one place cancellation is honored, so
		// a partial result never contains a half-parsed record.
		if ctx.Err() != nil {
			diag.Cancelled = true
			break
		}

		diag.HeadersSeen++
		rec, reason, err := parseRecordAt(a, off)
		if err != nil {
			return res, err
		}
		if reason != "" {
			diag.RecordsRejected++
			s.log.Logf(common.SeverityDebug, "record %s at 0x%X rejected: %s", h.Type, off, reason)
			off++
			continue
		}

		s.accept(res, rec, diag)
		off += rec.TotalLen
	}

	reporter.Finish(off, nil)
	return res, nil
}

// ScanStream parses a well-formed database stream from offset 0: a TES4
// file header followed by GRUP containers. Unlike the forensic pass it
// does not resynchronize; the first malformed element ends the walk (and
// is counted as a rejection).
func (s *Scanner) ScanStream(ctx context.Context, a *common.Arena,
	progress common.ProgressFunc, diag *common.Diagnostics) (*ScanResult, error) {

	res := &ScanResult{
		Index:    make(map[FormID]int),
		RawNames: make(map[FormID]string),
	}
	reporter := common.NewProgressReporter(progress, "record stream", a.Size(), 4<<20)
	size := a.Size()

	off := int64(0)
	for off+RecordHeaderLen <= size {
		if ctx.Err() != nil {
			diag.Cancelled = true
			break
		}
		reporter.Update(off)

		hdr, err := a.Bytes(off, RecordHeaderLen)
		if err != nil {
			return res, err
		}

		if Tag(hdr[0:4]) == TagGRUP {
			// A group is a container, not a record; a malformed one ends
			// the walk without touching the record counters.
			if _, ok := parseGroupHeader(hdr, size-off); !ok {
				diag.Note("esm", off, "malformed group header ends stream walk")
				break
			}
			// Descend into the group: its records follow inline.
			off += RecordHeaderLen
			continue
		}

		diag.HeadersSeen++
		rec, reason, err := parseRecordAt(a, off)
		if err != nil {
			return res, err
		}
		if reason != "" {
			diag.RecordsRejected++
			diag.Note("esm", off, "malformed record (%s) ends stream walk", reason)
			break
		}

		s.accept(res, rec, diag)
		off += rec.TotalLen
	}

	reporter.Finish(off, nil)
	return res, nil
}

// accept files a successfully parsed record: claims its byte range,
// indexes its FormID first-wins, and captures the raw editor ID.
func (s *Scanner) accept(res *ScanResult, rec *RawRecord, diag *common.Diagnostics) {
	diag.RecordsParsed++
	res.Records = append(res.Records, rec)

	r := coverage.Range{Start: rec.Offset, End: rec.Offset + rec.TotalLen}
	if !s.tracker.Claim(r, coverage.KindRecord) {
		diag.Note("esm", rec.Offset, "coverage claim refused for %s %s",
			rec.Header.Type, rec.Header.FormID)
	}

	id := rec.Header.FormID
	if _, taken := res.Index[id]; taken {
		diag.DuplicateFormIDs++
		res.Duplicates = append(res.Duplicates, Duplicate{FormID: id, Offset: rec.Offset})
		diag.Note("esm", rec.Offset, "duplicate FormID %s (first at 0x%X)",
			id, res.Records[res.Index[id]].Offset)
		return
	}
	res.Index[id] = len(res.Records) - 1
	if sub, ok := rec.Find(subEDID); ok {
		res.RawNames[id] = subrecordString(sub.Data)
	}
}
