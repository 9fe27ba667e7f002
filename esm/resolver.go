package esm

import (
	"fmt"
	"iter"
)

// ResolveState distinguishes "we have a name", "the record is present but
// no name could be derived (or it was never lifted)", and "we never saw
// this FormID". Unresolved and Unknown must never be conflated: a report
// link to an unresolved record is still a valid link.
type ResolveState int

const (
	StateUnknown ResolveState = iota
	StateUnresolved
	StateResolved
)

func (s ResolveState) String() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// ResolvedRef is one outgoing reference with its target looked up against
// the index. Partial resolution is expected and labeled, never blank.
type ResolvedRef struct {
	Field  Tag
	Target FormID
	State  ResolveState
	Name   string
}

// Resolver is the FormID cross-reference index built over a finished
// semantic record set. It is immutable after construction and safe for
// concurrent readers.
type Resolver struct {
	names    map[FormID]string
	semantic map[FormID]*SemanticRecord
	present  map[FormID]struct{} // every FormID seen in the raw scan
}

// NewResolver builds the index. present-but-nameless FormIDs resolve as
// StateUnresolved; FormIDs absent from the scan resolve as StateUnknown.
func NewResolver(semantic []*SemanticRecord, names map[FormID]string, scan *ScanResult) *Resolver {
	r := &Resolver{
		names:    names,
		semantic: make(map[FormID]*SemanticRecord, len(semantic)),
		present:  make(map[FormID]struct{}, len(scan.Index)),
	}
	for _, sem := range semantic {
		r.semantic[sem.FormID] = sem
	}
	for id := range scan.Index {
		r.present[id] = struct{}{}
	}
	return r
}

// Resolve returns the display string for a FormID and the state of the
// lookup. The string is empty unless the state is StateResolved.
func (r *Resolver) Resolve(id FormID) (string, ResolveState) {
	if name, ok := r.names[id]; ok {
		return name, StateResolved
	}
	if _, ok := r.present[id]; ok {
		return "", StateUnresolved
	}
	return "", StateUnknown
}

// Exists reports whether the FormID was seen at all in the scan. An
// unresolved FormID still exists; Resolve and Exists can legitimately
// disagree about usefulness, never about presence.
func (r *Resolver) Exists(id FormID) bool {
	_, ok := r.present[id]
	return ok
}

// Label is the human form of a resolution, for reports: the name when
// resolved, otherwise an explicit state marker carrying the FormID.
func (r *Resolver) Label(id FormID) string {
	name, state := r.Resolve(id)
	if state == StateResolved {
		return name
	}
	return fmt.Sprintf("[%s %s]", state, id)
}

// Record returns the semantic record owning the FormID, if it was lifted.
func (r *Resolver) Record(id FormID) (*SemanticRecord, bool) {
	sem, ok := r.semantic[id]
	return sem, ok
}

// Refs returns a lazy, restartable traversal of the outgoing references
// of the record owning id, each resolved against the index at iteration
// time. A FormID with no lifted record yields nothing.
func (r *Resolver) Refs(id FormID) iter.Seq[ResolvedRef] {
	return func(yield func(ResolvedRef) bool) {
		sem, ok := r.semantic[id]
		if !ok {
			return
		}
		for _, ref := range sem.Refs {
			name, state := r.Resolve(ref.Target)
			if !yield(ResolvedRef{
				Field:  ref.Field,
				Target: ref.Target,
				State:  state,
				Name:   name,
			}) {
				return
			}
		}
	}
}
