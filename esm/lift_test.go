package esm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func reconstruct(t *testing.T, data []byte) *SemanticResult {
	t.Helper()
	res, _ := scanBuf(t, data)
	return Reconstruct(res, nil)
}

func TestReconstruct_LiftQuest(t *testing.T) {
	rec := buildRecord("QUST", 0x00012345, 0,
		buildSubString("EDID", "TestQuest"),
		buildSubString("FULL", "The Test Quest"),
		buildSubFormID("SCRI", 0x00099001),
	)
	data := make([]byte, 2048)
	copy(data[64:], rec)

	sem := reconstruct(t, data)
	if sem.TotalRecords != 1 || len(sem.Semantic) != 1 {
		t.Fatalf("totals = %d/%d, want 1/1", sem.TotalRecords, len(sem.Semantic))
	}
	got := sem.Semantic[0]
	want := &SemanticRecord{
		FormID:      0x00012345,
		Type:        TagQUST,
		EditorID:    "TestQuest",
		DisplayName: "The Test Quest",
		Refs:        []Ref{{Field: TagOf("SCRI"), Target: 0x00099001}},
		Raw:         got.Raw,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lift mismatch (-want +got):\n%s", diff)
	}
	if sem.FormIDToName[0x00012345] != "The Test Quest" {
		t.Errorf("display name map = %v", sem.FormIDToName)
	}
}

func TestReconstruct_UnregisteredTypeStaysGeneric(t *testing.T) {
	// FACT is a known record type with no lifting rule: it parses, counts
	// toward totals, and displays generically off its editor ID.
	rec := buildRecord("FACT", 0x500, 0, buildSubString("EDID", "GuardFaction"))
	data := make([]byte, 1024)
	copy(data[32:], rec)

	sem := reconstruct(t, data)
	if len(sem.Semantic) != 1 {
		t.Fatalf("generic record missing from semantic set")
	}
	got := sem.Semantic[0]
	if got.EditorID != "GuardFaction" || len(got.Refs) != 0 {
		t.Errorf("generic lift = %+v", got)
	}
	if got.Raw == nil {
		t.Error("raw record not retained for unregistered type")
	}
	if got.DisplayLabel() != "GuardFaction" {
		t.Errorf("DisplayLabel = %q", got.DisplayLabel())
	}
}

func TestReconstruct_EditorIDFallbackForName(t *testing.T) {
	rec := buildRecord("MISC", 0x600, 0, buildSubString("EDID", "OnlyEditorID"))
	data := make([]byte, 1024)
	copy(data[32:], rec)

	sem := reconstruct(t, data)
	if sem.FormIDToName[0x600] != "OnlyEditorID" {
		t.Errorf("FormIDToName = %v, want EDID fallback", sem.FormIDToName)
	}
}

func TestReconstruct_DuplicatesCountedOnceInSemanticSet(t *testing.T) {
	recA := buildRecord("MISC", 0x42, 0, buildSubString("EDID", "First"))
	recB := buildRecord("WEAP", 0x42, 0, buildSubString("EDID", "Second"))

	var data []byte
	data = append(data, recA...)
	data = append(data, make([]byte, 64)...)
	data = append(data, recB...)

	sem := reconstruct(t, data)
	if sem.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2 (duplicates count)", sem.TotalRecords)
	}
	if len(sem.Semantic) != 1 {
		t.Fatalf("semantic set = %d entries, want 1 (first wins)", len(sem.Semantic))
	}
	if sem.Semantic[0].EditorID != "First" {
		t.Errorf("wrong record won: %+v", sem.Semantic[0])
	}
}

func TestResolver_StateTrichotomy(t *testing.T) {
	// 0x1: lifted with a name. 0x2: present but nameless (no EDID/FULL).
	// 0x3: never seen.
	named := buildRecord("QUST", 0x1, 0, buildSubString("EDID", "Named"))
	nameless := buildRecord("STAT", 0x2, 0, buildSub("DATA", []byte{1, 2, 3, 4}))

	var data []byte
	data = append(data, named...)
	data = append(data, make([]byte, 32)...)
	data = append(data, nameless...)

	sem := reconstruct(t, data)
	r := sem.Resolver

	if name, state := r.Resolve(0x1); state != StateResolved || name != "Named" {
		t.Errorf("Resolve(0x1) = %q, %v", name, state)
	}
	if _, state := r.Resolve(0x2); state != StateUnresolved {
		t.Errorf("Resolve(0x2) = %v, want unresolved (present, nameless)", state)
	}
	if _, state := r.Resolve(0x3); state != StateUnknown {
		t.Errorf("Resolve(0x3) = %v, want unknown", state)
	}

	// Exists and Resolve may disagree about usefulness, never presence.
	if !r.Exists(0x2) {
		t.Error("Exists(0x2) = false for a present record")
	}
	if r.Exists(0x3) {
		t.Error("Exists(0x3) = true for an absent record")
	}

	if got := r.Label(0x2); got != "[unresolved 00000002]" {
		t.Errorf("Label(0x2) = %q", got)
	}
}

func TestResolver_RefsTraversal(t *testing.T) {
	quest := buildRecord("QUST", 0x10, 0,
		buildSubString("EDID", "CycleQuest"),
		buildSubFormID("SCRI", 0x20),
	)
	// The script references the quest back: a cycle, representable
	// because references are FormIDs, not pointers.
	script := buildRecord("SCPT", 0x20, 0,
		buildSubString("EDID", "QuestScript"),
		buildSubFormID("SCRI", 0x10),
	)
	dangling := buildRecord("WEAP", 0x30, 0,
		buildSubString("EDID", "OrphanWeapon"),
		buildSubFormID("ENAM", 0xBEEF),
	)

	var data []byte
	data = append(data, quest...)
	data = append(data, script...)
	data = append(data, dangling...)

	sem := reconstruct(t, data)
	r := sem.Resolver

	collect := func(id FormID) []ResolvedRef {
		var out []ResolvedRef
		for ref := range r.Refs(id) {
			out = append(out, ref)
		}
		return out
	}

	want := []ResolvedRef{{
		Field:  TagOf("SCRI"),
		Target: 0x20,
		State:  StateResolved,
		Name:   "QuestScript",
	}}
	if diff := cmp.Diff(want, collect(0x10)); diff != "" {
		t.Errorf("quest refs (-want +got):\n%s", diff)
	}

	// Restartable: a second traversal yields the same sequence.
	if diff := cmp.Diff(want, collect(0x10)); diff != "" {
		t.Errorf("Refs not restartable (-want +got):\n%s", diff)
	}

	// The dangling reference resolves as unknown, labeled, not blank.
	refs := collect(0x30)
	if len(refs) != 1 || refs[0].State != StateUnknown || refs[0].Target != 0xBEEF {
		t.Errorf("dangling ref = %+v", refs)
	}

	// Early stop must not panic or wedge.
	for range r.Refs(0x10) {
		break
	}
}
