package esm

import (
	"fmt"

	"esmdig/common"
)

// Ref is an outgoing reference from one record to another, addressed by
// FormID only. References are weak: the target may not have been
// recovered from the image at all, and cycles need no special handling
// because nothing here owns anything.
type Ref struct {
	Field  Tag
	Target FormID
}

// SemanticRecord is the typed reconstruction of a raw record. Types
// without a lifting rule keep Raw populated and the string fields empty;
// they still count toward totals and display generically.
type SemanticRecord struct {
	FormID      FormID
	Type        Tag
	EditorID    string
	DisplayName string
	Refs        []Ref
	Raw         *RawRecord
}

// liftRule describes how one record type maps to semantic fields: which
// subrecord tags hold single FormID references and which hold packed
// FormID arrays. Editor ID and display name extraction is common to all
// types.
type liftRule struct {
	refTags      []Tag
	refArrayTags []Tag
}

// liftRegistry is the closed registry of record types with semantic
// lifting. Unregistered types fall back to the generic raw form.
var liftRegistry = map[Tag]liftRule{
	TagQUST: {refTags: []Tag{subSCRI}},
	TagNPC:  {refTags: []Tag{subSCRI, subTPLT, subRNAM, subSNAM}},
	TagWEAP: {refTags: []Tag{subSCRI, subENAM, subSNAM}},
	TagARMO: {refTags: []Tag{subSCRI, subENAM}},
	TagMISC: {refTags: []Tag{subSCRI}},
	TagCELL: {refArrayTags: []Tag{subXCLR}},
	TagREFR: {refTags: []Tag{subNAME}},
	TagDIAL: {refTags: []Tag{subQSTI}},
	TagINFO: {refTags: []Tag{subQSTI, subSNAM}},
	TagSCPT: {refTags: []Tag{subSCRI}},
}

// validateLiftRegistry is run once at package init; a lifting rule for a
// type the scanner can never produce is a programming error worth failing
// fast on.
func validateLiftRegistry() {
	for tag := range liftRegistry {
		if !KnownRecordType(tag) {
			panic(fmt.Sprintf("lift registry names unknown record type %s", tag))
		}
	}
}

func init() { validateLiftRegistry() }

// lift converts a raw record into its semantic form. For registered types
// the rule's reference tags are pulled out; for everything else only the
// universal EDID/FULL strings are read and Raw is retained.
func lift(rec *RawRecord) *SemanticRecord {
	sem := &SemanticRecord{
		FormID: rec.Header.FormID,
		Type:   rec.Header.Type,
		Raw:    rec,
	}
	if sub, ok := rec.Find(subEDID); ok {
		sem.EditorID = subrecordString(sub.Data)
	}
	if sub, ok := rec.Find(subFULL); ok {
		sem.DisplayName = subrecordString(sub.Data)
	}

	rule, registered := liftRegistry[rec.Header.Type]
	if !registered {
		return sem
	}

	for _, sub := range rec.Subrecords {
		for _, tag := range rule.refTags {
			if sub.Tag != tag {
				continue
			}
			if id, ok := subrecordFormID(sub.Data); ok && id != 0 {
				sem.Refs = append(sem.Refs, Ref{Field: sub.Tag, Target: id})
			}
		}
		for _, tag := range rule.refArrayTags {
			if sub.Tag != tag || len(sub.Data)%4 != 0 {
				continue
			}
			for i := 0; i+4 <= len(sub.Data); i += 4 {
				if id, ok := subrecordFormID(sub.Data[i : i+4]); ok && id != 0 {
					sem.Refs = append(sem.Refs, Ref{Field: sub.Tag, Target: id})
				}
			}
		}
	}
	return sem
}

// DisplayLabel is the generic presentation for a semantic record: the
// display name, else the editor ID, else the type and FormID.
func (s *SemanticRecord) DisplayLabel() string {
	switch {
	case s.DisplayName != "":
		return s.DisplayName
	case s.EditorID != "":
		return s.EditorID
	default:
		return fmt.Sprintf("%s:%s", s.Type, s.FormID)
	}
}

// SemanticResult is the output of the reconstruction pass.
type SemanticResult struct {
	// TotalRecords counts every successfully parsed record, lifted or
	// not, duplicates included.
	TotalRecords int

	// Semantic holds one entry per distinct FormID, in discovery
	// (offset) order. For duplicate FormIDs the first parsed record won.
	Semantic []*SemanticRecord

	// FormIDToName maps each FormID that could derive a display string.
	FormIDToName map[FormID]string

	// Resolver answers Resolve/Exists/Refs queries over the set.
	Resolver *Resolver
}

// Reconstruct lifts a scan result into semantic records and builds the
// FormID resolver. It is a pure downstream consumer: no I/O, no arena
// access, deterministic for a given scan result.
func Reconstruct(scan *ScanResult, log common.Logger) *SemanticResult {
	if log == nil {
		log = common.NewNoOpLogger()
	}

	res := &SemanticResult{
		TotalRecords: len(scan.Records),
		FormIDToName: make(map[FormID]string),
	}

	for i, rec := range scan.Records {
		if scan.Index[rec.Header.FormID] != i {
			continue // duplicate FormID, first parse won
		}
		sem := lift(rec)
		res.Semantic = append(res.Semantic, sem)
		if name := sem.DisplayName; name != "" {
			res.FormIDToName[sem.FormID] = name
		} else if sem.EditorID != "" {
			res.FormIDToName[sem.FormID] = sem.EditorID
		}
	}

	res.Resolver = NewResolver(res.Semantic, res.FormIDToName, scan)
	log.Logf(common.SeverityInfo, "reconstructed %d records (%d distinct FormIDs)",
		res.TotalRecords, len(res.Semantic))
	return res
}
