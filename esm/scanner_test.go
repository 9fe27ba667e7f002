package esm

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"esmdig/common"
	"esmdig/coverage"
)

func scanBuf(t *testing.T, data []byte) (*ScanResult, *common.Diagnostics) {
	t.Helper()
	return scanBufCtx(t, context.Background(), data)
}

func scanBufCtx(t *testing.T, ctx context.Context, data []byte) (*ScanResult, *common.Diagnostics) {
	t.Helper()
	arena := common.NewArena(common.NewBuffer(data))
	diag := &common.Diagnostics{}
	res, err := NewScanner(coverage.NewTracker(arena.Size()), nil).Scan(ctx, arena, nil, diag)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return res, diag
}

func TestScan_RoundTrip(t *testing.T) {
	// A well-formed record embedded in zeros must come back exactly.
	rec := buildRecord("QUST", 0x00012345, 0,
		buildSubString("EDID", "TestQuest"),
		buildSubString("FULL", "A Test Quest"),
	)
	data := make([]byte, 8192)
	copy(data[1000:], rec)

	res, diag := scanBuf(t, data)
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	got := res.Records[0]
	if got.Header.Type != TagQUST || got.Header.FormID != 0x00012345 {
		t.Errorf("header = %+v", got.Header)
	}
	if got.Offset != 1000 || got.TotalLen != int64(len(rec)) {
		t.Errorf("placement = offset %d len %d, want 1000 %d", got.Offset, got.TotalLen, len(rec))
	}
	if got.Header.Revision != 7 || got.Header.Version != 15 {
		t.Errorf("big-endian header fields mangled: %+v", got.Header)
	}

	sub, ok := got.Find(TagOf("EDID"))
	if !ok || subrecordString(sub.Data) != "TestQuest" {
		t.Errorf("EDID = %q, ok=%v", subrecordString(sub.Data), ok)
	}
	if res.RawNames[0x00012345] != "TestQuest" {
		t.Errorf("RawNames = %v", res.RawNames)
	}
	if diag.HeadersSeen != diag.RecordsParsed+diag.RecordsRejected {
		t.Errorf("counters do not reconcile: %+v", diag)
	}
}

func TestScan_Deterministic(t *testing.T) {
	data := make([]byte, 16384)
	copy(data[100:], buildRecord("WEAP", 0x100, 0, buildSubString("EDID", "WeapLaser")))
	copy(data[5000:], buildRecord("NPC_", 0x200, 0, buildSubString("EDID", "NpcGuard")))

	first, _ := scanBuf(t, data)
	second, _ := scanBuf(t, data)
	if diff := cmp.Diff(first.Records, second.Records); diff != "" {
		t.Errorf("record sets differ between identical scans:\n%s", diff)
	}
}

func TestScan_GarbageBetweenRecordsResyncs(t *testing.T) {
	recA := buildRecord("WEAP", 0xA, 0, buildSubString("EDID", "First"))
	recB := buildRecord("WEAP", 0xB, 0, buildSubString("EDID", "Second"))

	var data []byte
	data = append(data, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x13)
	data = append(data, recA...)
	data = append(data, []byte("WEAPgarbage-not-a-header")...) // fake tag, implausible rest
	data = append(data, recB...)
	data = append(data, 0xFF, 0xFF)

	res, _ := scanBuf(t, data)
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	if res.Records[0].Header.FormID != 0xA || res.Records[1].Header.FormID != 0xB {
		t.Errorf("wrong records recovered: %v, %v",
			res.Records[0].Header.FormID, res.Records[1].Header.FormID)
	}
}

func TestScan_OversizedRecordIsolated(t *testing.T) {
	// A record whose declared size runs past the buffer must be rejected
	// alone; valid records before and after it are still recovered.
	good1 := buildRecord("MISC", 0x1, 0, buildSubString("EDID", "Before"))
	good2 := buildRecord("MISC", 0x2, 0, buildSubString("EDID", "After"))

	bad := buildRecord("MISC", 0x3, 0, buildSubString("EDID", "Broken"))
	binary.BigEndian.PutUint32(bad[4:8], 0x00100000) // size far past the buffer

	var data []byte
	data = append(data, good1...)
	data = append(data, bad...)
	data = append(data, good2...)

	res, _ := scanBuf(t, data)
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	if res.Records[0].Header.FormID != 0x1 || res.Records[1].Header.FormID != 0x2 {
		t.Errorf("wrong survivors: %+v", res.Records)
	}
}

func TestScan_SubrecordOverrunRejectsWholeRecord(t *testing.T) {
	rec := buildRecord("MISC", 0x5, 0, buildSubString("EDID", "Target"))
	// Corrupt the first subrecord's length so it runs past the record.
	binary.BigEndian.PutUint16(rec[RecordHeaderLen+4:RecordHeaderLen+6], 0x4000)

	data := make([]byte, 4096)
	copy(data[64:], rec)

	res, diag := scanBuf(t, data)
	if len(res.Records) != 0 {
		t.Fatalf("corrupt record must be discarded, got %+v", res.Records)
	}
	if diag.RecordsRejected == 0 {
		t.Error("rejection not counted")
	}
}

func TestScan_XXXXSizeExtension(t *testing.T) {
	// An XXXX subrecord overrides the next subrecord's length; the next
	// header's own length field is zero.
	big := make([]byte, 300)
	for i := range big {
		big[i] = byte(i)
	}
	override := make([]byte, 4)
	binary.BigEndian.PutUint32(override, uint32(len(big)))

	payload := append(buildSub("XXXX", override), buildSub("DATA", nil)...)
	payload = append(payload, big...)
	// Fix the DATA subrecord: its declared length stays 0, the payload
	// follows it raw.
	rec := buildRecord("STAT", 0x77, 0)
	rec = append(rec[:RecordHeaderLen], payload...)
	binary.BigEndian.PutUint32(rec[4:8], uint32(len(payload)))

	data := make([]byte, 2048)
	copy(data[32:], rec)

	res, _ := scanBuf(t, data)
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	sub, ok := res.Records[0].Find(TagOf("DATA"))
	if !ok || len(sub.Data) != len(big) {
		t.Fatalf("DATA subrecord = %d bytes, ok=%v, want %d", len(sub.Data), ok, len(big))
	}
	if sub.Data[299] != big[299] {
		t.Error("extended subrecord data mangled")
	}
}

func TestScan_CompressedRecord(t *testing.T) {
	rec := buildCompressedRecord("NPC_", 0x300,
		buildSubString("EDID", "CompressedNpc"),
		buildSubString("FULL", "Town Guard"),
	)
	data := make([]byte, 4096)
	copy(data[128:], rec)

	res, _ := scanBuf(t, data)
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	got := res.Records[0]
	if !got.Header.Compressed() {
		t.Error("compressed flag lost")
	}
	if res.RawNames[0x300] != "CompressedNpc" {
		t.Errorf("RawNames = %v", res.RawNames)
	}
	// TotalLen reflects bytes occupied in the image, not inflated size.
	if got.TotalLen != int64(len(rec)) {
		t.Errorf("TotalLen = %d, want %d", got.TotalLen, len(rec))
	}
}

func TestScan_CorruptCompressedRecordRejected(t *testing.T) {
	rec := buildCompressedRecord("NPC_", 0x301, buildSubString("EDID", "Mangled"))
	rec[RecordHeaderLen+6] ^= 0xFF // corrupt the zlib stream
	data := make([]byte, 2048)
	copy(data[64:], rec)

	res, diag := scanBuf(t, data)
	if len(res.Records) != 0 {
		t.Fatalf("corrupt compressed record must be discarded, got %+v", res.Records)
	}
	if diag.RecordsRejected == 0 {
		t.Error("rejection not counted")
	}
}

func TestScan_DuplicateFormIDFirstWins(t *testing.T) {
	recA := buildRecord("MISC", 0x42, 0, buildSubString("EDID", "FirstSeen"))
	recB := buildRecord("WEAP", 0x42, 0, buildSubString("EDID", "SecondSeen"))

	var data []byte
	data = append(data, recA...)
	data = append(data, make([]byte, 100)...)
	data = append(data, recB...)

	res, diag := scanBuf(t, data)
	if len(res.Records) != 2 {
		t.Fatalf("both records parse, got %d", len(res.Records))
	}
	if idx := res.Index[0x42]; res.Records[idx].Header.Type != TagMISC {
		t.Error("first successful parse must win the index")
	}
	if res.RawNames[0x42] != "FirstSeen" {
		t.Errorf("RawNames[0x42] = %q", res.RawNames[0x42])
	}
	if diag.DuplicateFormIDs != 1 || len(res.Duplicates) != 1 {
		t.Errorf("duplicate not surfaced: diag=%+v dups=%+v", diag, res.Duplicates)
	}
	if res.Duplicates[0].FormID != 0x42 {
		t.Errorf("Duplicates = %+v", res.Duplicates)
	}
}

func TestScan_RecordsClaimCoverage(t *testing.T) {
	rec := buildRecord("MISC", 0x9, 0, buildSubString("EDID", "Claimed"))
	data := make([]byte, 2048)
	copy(data[512:], rec)

	arena := common.NewArena(common.NewBuffer(data))
	tracker := coverage.NewTracker(arena.Size())
	diag := &common.Diagnostics{}
	if _, err := NewScanner(tracker, nil).Scan(context.Background(), arena, nil, diag); err != nil {
		t.Fatal(err)
	}

	if !tracker.Claimed(512, coverage.KindRecord) {
		t.Error("record range not claimed")
	}
	if tracker.Claimed(512+int64(len(rec)), coverage.KindRecord) {
		t.Error("claim extends past record end")
	}
}

// cancelAfterCalls implements context.Context with Err tripping after a
// fixed number of checks, so cancellation lands at a known candidate
// boundary.
type cancelAfterCalls struct {
	context.Context
	remaining atomic.Int64
}

func (c *cancelAfterCalls) Err() error {
	if c.remaining.Add(-1) < 0 {
		return context.Canceled
	}
	return nil
}

func (c *cancelAfterCalls) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c *cancelAfterCalls) Done() <-chan struct{}       { return nil }

func TestScan_CancellationYieldsConsistentPartialResult(t *testing.T) {
	var data []byte
	for i := 0; i < 20; i++ {
		data = append(data, buildRecord("MISC", FormID(0x1000+i), 0,
			buildSubString("EDID", "Item"))...)
	}

	ctx := &cancelAfterCalls{Context: context.Background()}
	ctx.remaining.Store(6)

	res, diag := scanBufCtx(t, ctx, data)
	if !diag.Cancelled {
		t.Fatal("Cancelled not set")
	}
	if len(res.Records) == 0 || len(res.Records) >= 20 {
		t.Fatalf("expected a strict partial result, got %d records", len(res.Records))
	}
	// Every returned record is fully parsed: header fields sane,
	// subrecords decomposed, nothing half-written.
	for i, rec := range res.Records {
		if rec.Header.FormID != FormID(0x1000+i) {
			t.Errorf("record %d has FormID %s", i, rec.Header.FormID)
		}
		if len(rec.Subrecords) != 1 {
			t.Errorf("record %d has %d subrecords", i, len(rec.Subrecords))
		}
	}
	if diag.RecordsParsed != len(res.Records) {
		t.Errorf("RecordsParsed = %d, records = %d", diag.RecordsParsed, len(res.Records))
	}
}

func TestScanStream_GroupDescent(t *testing.T) {
	tes4 := buildRecord("TES4", 0x0, 0, buildSubString("EDID", "Header"))
	quest := buildRecord("QUST", 0x900, 0, buildSubString("EDID", "GroupQuest"))
	misc := buildRecord("MISC", 0x901, 0, buildSubString("EDID", "GroupMisc"))

	var data []byte
	data = append(data, tes4...)
	data = append(data, buildGroup("QUST", quest)...)
	data = append(data, buildGroup("MISC", misc)...)

	arena := common.NewArena(common.NewBuffer(data))
	diag := &common.Diagnostics{}
	res, err := NewScanner(coverage.NewTracker(arena.Size()), nil).ScanStream(
		context.Background(), arena, nil, diag)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(res.Records))
	}
	if res.Records[1].Header.FormID != 0x900 || res.Records[2].Header.FormID != 0x901 {
		t.Errorf("group contents not parsed: %+v", res.Records)
	}
}
