// Package coverage tracks which byte ranges of the input image have been
// attributed to a recognized artifact. The carver, record scanner, and
// string extractor all claim ranges here; unclaimed gaps are surfaced for
// diagnostics.
package coverage

import (
	"iter"
	"sort"
	"sync"
)

// Kind is the attribution class of a claim. Kinds are ordered by
// reconciliation priority: a record parse is byte-exact, carving is
// signature-heuristic, and string extraction is best-effort, so on a
// cross-kind overlap the lower-numbered kind keeps the bytes.
type Kind uint8

const (
	KindRecord Kind = iota
	KindCarvedFile
	KindStringPool
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindCarvedFile:
		return "carved-file"
	case KindStringPool:
		return "string-pool"
	default:
		return "unknown"
	}
}

// Range is a half-open byte interval [Start, End) over the image.
type Range struct {
	Start int64
	End   int64
}

// Len returns the range length in bytes.
func (r Range) Len() int64 { return r.End - r.Start }

// Overlaps reports whether two half-open ranges intersect.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End && other.Start < r.End
}

// Claim is a recorded attribution of a byte range.
type Claim struct {
	Range Range
	Kind  Kind
}

// MutuallyExclusive is the per-kind-pair overlap policy. Claims of the
// same kind never overlap. Cross-kind overlaps are legal while the
// analysis components run in parallel (the carver and the record scanner
// detect independently and must not race for bytes); Reconcile resolves
// them afterwards.
func MutuallyExclusive(a, b Kind) bool {
	return a == b
}

// Tracker is the shared coverage map for one analysis run. All methods are
// safe for concurrent use; claim operations serialize on an internal
// mutex with short critical sections (callers never hold it across their
// own scanning work).
type Tracker struct {
	mu     sync.Mutex
	size   int64
	claims [numKinds][]Range // each sorted by Start, non-overlapping
}

// NewTracker creates a tracker for an image of the given size.
func NewTracker(size int64) *Tracker {
	return &Tracker{size: size}
}

// Claim attributes r to kind. It returns false without mutating state if
// r is empty, out of image bounds, or overlaps an existing claim of a
// mutually-exclusive kind.
func (t *Tracker) Claim(r Range, kind Kind) bool {
	if r.Start < 0 || r.End > t.size || r.Len() <= 0 || kind >= numKinds {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for k := Kind(0); k < numKinds; k++ {
		if !MutuallyExclusive(kind, k) {
			continue
		}
		if overlapsSorted(t.claims[k], r) {
			return false
		}
	}

	list := t.claims[kind]
	i := sort.Search(len(list), func(i int) bool { return list[i].Start >= r.Start })
	list = append(list, Range{})
	copy(list[i+1:], list[i:])
	list[i] = r
	t.claims[kind] = list
	return true
}

// Query returns every kind whose claims cover the given offset, in
// priority order. An empty result means the offset is unclaimed.
func (t *Tracker) Query(offset int64) []Kind {
	t.mu.Lock()
	defer t.mu.Unlock()

	var kinds []Kind
	for k := Kind(0); k < numKinds; k++ {
		if coversSorted(t.claims[k], offset) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Claimed reports whether offset is covered by any claim of the given kind.
func (t *Tracker) Claimed(offset int64, kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return kind < numKinds && coversSorted(t.claims[kind], offset)
}

// HardClaimed reports whether offset is covered by a record or carved-file
// claim. The string extractor uses this to prefer unclaimed territory.
func (t *Tracker) HardClaimed(offset int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return coversSorted(t.claims[KindRecord], offset) ||
		coversSorted(t.claims[KindCarvedFile], offset)
}

// Snapshot returns all claims ordered by start offset, then kind. Claims
// of different kinds may overlap here; Reconcile produces the terminal
// overlap-free map.
func (t *Tracker) Snapshot() []Claim {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Claim
	for k := Kind(0); k < numKinds; k++ {
		for _, r := range t.claims[k] {
			out = append(out, Claim{Range: r, Kind: k})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Range.Start != out[j].Range.Start {
			return out[i].Range.Start < out[j].Range.Start
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Reconcile returns the terminal coverage map: a set of claims with no
// overlaps at all, ordered by offset. Cross-kind overlaps are resolved by
// kind priority (record > carved-file > string-pool); the losing claim is
// trimmed to its non-overlapping remainder, or dropped when nothing
// remains. The tracker itself is not modified.
func (t *Tracker) Reconcile() []Claim {
	t.mu.Lock()
	kinds := [numKinds][]Range{}
	for k := Kind(0); k < numKinds; k++ {
		kinds[k] = append([]Range(nil), t.claims[k]...)
	}
	t.mu.Unlock()

	var out []Claim
	var taken []Range // sorted union of higher-priority coverage
	for k := Kind(0); k < numKinds; k++ {
		for _, r := range kinds[k] {
			for _, piece := range subtractSorted(r, taken) {
				out = append(out, Claim{Range: piece, Kind: k})
			}
		}
		taken = mergeSorted(taken, kinds[k])
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Range.Start < out[j].Range.Start
	})
	return out
}

// Gaps returns a lazy, restartable sequence of the unclaimed ranges, in
// ascending offset order. The sequence is recomputed from the tracker
// state current at each call to Gaps.
func (t *Tracker) Gaps() iter.Seq[Range] {
	return func(yield func(Range) bool) {
		claims := t.Snapshot()
		pos := int64(0)
		for _, c := range claims {
			if c.Range.Start > pos {
				if !yield(Range{Start: pos, End: c.Range.Start}) {
					return
				}
			}
			if c.Range.End > pos {
				pos = c.Range.End
			}
		}
		if pos < t.size {
			yield(Range{Start: pos, End: t.size})
		}
	}
}

// overlapsSorted reports whether r intersects any range in the sorted,
// non-overlapping list.
func overlapsSorted(list []Range, r Range) bool {
	// First range ending after r.Start is the only possible overlap start.
	i := sort.Search(len(list), func(i int) bool { return list[i].End > r.Start })
	return i < len(list) && list[i].Start < r.End
}

// coversSorted reports whether offset lies inside any range in the sorted
// list.
func coversSorted(list []Range, offset int64) bool {
	i := sort.Search(len(list), func(i int) bool { return list[i].End > offset })
	return i < len(list) && list[i].Start <= offset
}

// subtractSorted returns the pieces of r not covered by the sorted,
// non-overlapping list.
func subtractSorted(r Range, list []Range) []Range {
	var out []Range
	pos := r.Start
	i := sort.Search(len(list), func(i int) bool { return list[i].End > r.Start })
	for ; i < len(list) && list[i].Start < r.End; i++ {
		if list[i].Start > pos {
			out = append(out, Range{Start: pos, End: list[i].Start})
		}
		if list[i].End > pos {
			pos = list[i].End
		}
	}
	if pos < r.End {
		out = append(out, Range{Start: pos, End: r.End})
	}
	return out
}

// mergeSorted merges two sorted range lists into one sorted list with
// adjacent/overlapping ranges coalesced.
func mergeSorted(a, b []Range) []Range {
	all := append(append([]Range(nil), a...), b...)
	sort.Slice(all, func(i, j int) bool { return all[i].Start < all[j].Start })
	var out []Range
	for _, r := range all {
		if n := len(out); n > 0 && r.Start <= out[n-1].End {
			if r.End > out[n-1].End {
				out[n-1].End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
