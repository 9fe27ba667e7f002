package carve

import (
	"context"
	"sort"

	"github.com/zeebo/blake3"

	"esmdig/common"
	"esmdig/coverage"
)

// Entry is one carved file: a classified byte range of the image. Entries
// are immutable once the scan returns; later stages reference them by
// offset, never by copying the payload.
type Entry struct {
	Offset     int64
	Length     int64
	Class      Class
	Signature  string
	Confidence float64

	// Digest is the BLAKE3-256 of the carved bytes, the entry's identity
	// for dedup across reports.
	Digest [32]byte
}

// End returns the offset one past the entry's last byte.
func (e Entry) End() int64 { return e.Offset + e.Length }

// Scanner carves files out of a memory image using a signature registry.
type Scanner struct {
	registry *Registry
	tracker  *coverage.Tracker
	log      common.Logger
}

// NewScanner creates a carver claiming ranges in tracker. A nil logger
// defaults to no-op.
func NewScanner(registry *Registry, tracker *coverage.Tracker, log common.Logger) *Scanner {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Scanner{registry: registry, tracker: tracker, log: log}
}

const scanChunkSize = 1 << 20

// Scan walks the whole image left to right and returns the carved entries
// in offset order. filter restricts which signature classes are tested
// (nil tests all). Cancellation is checked at chunk and candidate
// boundaries; on cancellation the entries accepted so far are returned
// with diag.Cancelled set. Unknown signatures simply never match; that is
// not an error.
func (s *Scanner) Scan(ctx context.Context, a *common.Arena, filter map[Class]bool,
	progress common.ProgressFunc, diag *common.Diagnostics) ([]Entry, error) {

	sigs := s.registry.Signatures(filter)
	if len(sigs) == 0 {
		return nil, nil
	}

	// First-byte dispatch keeps the inner loop from testing every
	// signature at every offset. Bucket order preserves registry order.
	var dispatch [256][]Signature
	maxMagic := 0
	for _, sig := range sigs {
		dispatch[sig.Magic[0]] = append(dispatch[sig.Magic[0]], sig)
		if len(sig.Magic) > maxMagic {
			maxMagic = len(sig.Magic)
		}
	}

	reporter := common.NewProgressReporter(progress, "carving", a.Size(), 4<<20)
	size := a.Size()
	overlap := int64(maxMagic - 1)
	buf := make([]byte, scanChunkSize+overlap)

	var candidates []Entry
	cancelled := false

scan:
	for base := int64(0); base < size; base += scanChunkSize {
		if ctx.Err() != nil {
			cancelled = true
			break scan
		}
		reporter.Update(base)

		want := int64(len(buf))
		if size-base < want {
			want = size - base
		}
		n, err := a.ReadInto(base, buf[:want])
		if err != nil {
			return nil, err
		}
		chunk := buf[:n]

		// Offsets in the overlap tail belong to the next chunk.
		limit := len(chunk)
		if base+int64(limit) < size {
			limit = scanChunkSize
		}

		for i := 0; i < limit; i++ {
			bucket := dispatch[chunk[i]]
			if bucket == nil {
				continue
			}
			for _, sig := range bucket {
				if i+len(sig.Magic) > len(chunk) {
					continue
				}
				if !matchAt(chunk[i:], sig.Magic) {
					continue
				}
				if ctx.Err() != nil {
					cancelled = true
					break scan
				}

				off := base + int64(i)
				diag.CandidatesSeen++
				length, ok := sig.Extent(a, off)
				if !ok || length <= 0 || off+length > size {
					// No partial entries: a candidate whose extent runs
					// past the image is rejected outright.
					diag.RejectedCarve++
					continue
				}
				candidates = append(candidates, Entry{
					Offset:     off,
					Length:     length,
					Class:      sig.Class,
					Signature:  sig.Name,
					Confidence: sig.Confidence,
				})
			}
		}
	}

	entries := s.resolveCollisions(candidates, diag)

	for i := range entries {
		if err := s.digest(a, &entries[i]); err != nil {
			return nil, err
		}
		r := coverage.Range{Start: entries[i].Offset, End: entries[i].End()}
		if !s.tracker.Claim(r, coverage.KindCarvedFile) {
			diag.Note("carve", entries[i].Offset,
				"coverage claim refused for %s [0x%X, 0x%X)",
				entries[i].Signature, r.Start, r.End)
		}
	}

	if cancelled {
		diag.Cancelled = true
		s.log.Logf(common.SeverityInfo, "carve scan cancelled after %d candidates", diag.CandidatesSeen)
	}
	reporter.Finish(size, nil)
	return entries, nil
}

// resolveCollisions drops overlapping candidates: the higher-confidence
// claim wins, ties favor the earlier offset. Candidates arrive in offset
// order (scan order), so the result is deterministic for a given image.
func (s *Scanner) resolveCollisions(candidates []Entry, diag *common.Diagnostics) []Entry {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Offset < candidates[j].Offset
	})

	var accepted []Entry
	for _, c := range candidates {
		replace := true
		var overlapped []int
		for i, a := range accepted {
			if a.End() > c.Offset && c.End() > a.Offset {
				overlapped = append(overlapped, i)
				if a.Confidence >= c.Confidence {
					replace = false
				}
			}
		}
		if len(overlapped) == 0 {
			accepted = append(accepted, c)
			diag.Accepted++
			continue
		}
		if !replace {
			diag.Collided++
			diag.Note("carve", c.Offset, "%s dropped: overlaps higher-confidence claim", c.Signature)
			continue
		}
		// c beats every overlapped entry; remove them, keep c.
		for k := len(overlapped) - 1; k >= 0; k-- {
			i := overlapped[k]
			dropped := accepted[i]
			diag.Accepted--
			diag.Collided++
			diag.Note("carve", dropped.Offset, "%s dropped: overlaps higher-confidence %s at 0x%X",
				dropped.Signature, c.Signature, c.Offset)
			accepted = append(accepted[:i], accepted[i+1:]...)
		}
		accepted = append(accepted, c)
		diag.Accepted++
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Offset < accepted[j].Offset })
	return accepted
}

// digest streams the entry's bytes through BLAKE3.
func (s *Scanner) digest(a *common.Arena, e *Entry) error {
	h := blake3.New()
	buf := make([]byte, 256<<10)
	for pos := int64(0); pos < e.Length; {
		want := int64(len(buf))
		if e.Length-pos < want {
			want = e.Length - pos
		}
		n, err := a.ReadInto(e.Offset+pos, buf[:want])
		if err != nil || int64(n) < want {
			return common.NewErrorAt(common.SeverityError, common.ErrSourceRead,
				e.Offset+pos, "carve digest", "short read while hashing entry")
		}
		h.Write(buf[:n])
		pos += int64(n)
	}
	copy(e.Digest[:], h.Sum(nil))
	return nil
}

func matchAt(data, magic []byte) bool {
	if len(data) < len(magic) {
		return false
	}
	for i := range magic {
		if data[i] != magic[i] {
			return false
		}
	}
	return true
}
