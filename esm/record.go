package esm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"esmdig/common"
)

const (
	// maxRecordDataSize bounds a plausible declared payload. Nothing in
	// the game's databases comes near this; a larger size is garbage.
	maxRecordDataSize = 16 << 20

	// maxInflatedSize bounds the decompressed payload of a compressed
	// record, so a corrupt size word cannot balloon memory.
	maxInflatedSize = 64 << 20
)

// parseHeader converts a 24-byte big-endian record header to host order.
// This function and parseSubrecords are the byte-order conversion
// boundary: no big-endian value survives past them.
func parseHeader(b []byte) Header {
	var h Header
	copy(h.Type[:], b[0:4])
	h.DataSize = binary.BigEndian.Uint32(b[4:8])
	h.Flags = binary.BigEndian.Uint32(b[8:12])
	h.FormID = FormID(binary.BigEndian.Uint32(b[12:16]))
	h.Revision = binary.BigEndian.Uint32(b[16:20])
	h.Version = binary.BigEndian.Uint16(b[20:22])
	return h
}

// headerPlausible is the forensic scanner's cheap candidate test: known
// type tag, positive bounded size that fits the remaining image, and a
// FormID outside the reserved all-ones pattern.
func headerPlausible(h Header, remaining int64) bool {
	if !KnownRecordType(h.Type) {
		return false
	}
	if h.DataSize == 0 || int64(h.DataSize) > maxRecordDataSize {
		return false
	}
	if RecordHeaderLen+int64(h.DataSize) > remaining {
		return false
	}
	return h.FormID != 0xFFFFFFFF
}

// parseRecordAt fully decomposes the record whose header starts at off.
// A malformed record returns (nil, reason, nil): a structural rejection,
// not an error. Only accessor failures on in-bounds ranges are errors.
func parseRecordAt(a *common.Arena, off int64) (*RawRecord, string, error) {
	hdrBytes, err := a.Bytes(off, RecordHeaderLen)
	if err != nil {
		return nil, "", err
	}
	h := parseHeader(hdrBytes)

	if !headerPlausible(h, a.Size()-off) {
		return nil, "implausible header", nil
	}

	payload, err := a.Bytes(off+RecordHeaderLen, int64(h.DataSize))
	if err != nil {
		return nil, "", err
	}

	declaredSize := int(h.DataSize)
	if h.Compressed() {
		payload, declaredSize = inflatePayload(payload)
		if payload == nil {
			return nil, "compressed payload failed to inflate", nil
		}
	}

	subs, reason := parseSubrecords(payload, declaredSize)
	if reason != "" {
		return nil, reason, nil
	}

	return &RawRecord{
		Header:     h,
		Offset:     off,
		TotalLen:   RecordHeaderLen + int64(h.DataSize),
		Subrecords: subs,
	}, "", nil
}

// inflatePayload decodes a compressed record payload: a big-endian
// 4-byte decompressed size followed by a zlib stream. Returns nil when
// the stream is corrupt or disagrees with the declared size.
func inflatePayload(payload []byte) ([]byte, int) {
	if len(payload) < 5 {
		return nil, 0
	}
	want := binary.BigEndian.Uint32(payload[0:4])
	if want == 0 || want > maxInflatedSize {
		return nil, 0
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload[4:]))
	if err != nil {
		return nil, 0
	}
	defer zr.Close()

	out := make([]byte, want)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, 0
	}
	// The stream must end exactly at the declared size; the EOF read also
	// forces the checksum verification.
	var extra [1]byte
	if n, err := zr.Read(extra[:]); n != 0 || err != io.EOF {
		return nil, 0
	}
	return out, int(want)
}

// parseSubrecords decomposes a record payload into its subrecord list.
// The declared size must be consumed exactly; a subrecord running past
// the record boundary, or trailing slack too short to be a subrecord,
// invalidates the whole record (the record is discarded, never patched).
//
// An XXXX subrecord carries a big-endian override for the next
// subrecord's length; the next header's own 16-bit field is ignored.
func parseSubrecords(payload []byte, declaredSize int) ([]Subrecord, string) {
	if len(payload) < declaredSize {
		return nil, "payload shorter than declared size"
	}
	payload = payload[:declaredSize]

	var subs []Subrecord
	override := -1
	pos := 0
	for pos < len(payload) {
		if pos+SubheaderLen > len(payload) {
			return nil, fmt.Sprintf("trailing slack of %d bytes", len(payload)-pos)
		}
		var tag Tag
		copy(tag[:], payload[pos:pos+4])
		length := int(binary.BigEndian.Uint16(payload[pos+4 : pos+6]))

		if tag == subXXXX {
			if length != 4 || pos+SubheaderLen+4 > len(payload) {
				return nil, "malformed XXXX size extension"
			}
			override = int(binary.BigEndian.Uint32(payload[pos+SubheaderLen:]))
			pos += SubheaderLen + 4
			continue
		}

		dataLen := length
		if override >= 0 {
			dataLen = override
			override = -1
		}
		if pos+SubheaderLen+dataLen > len(payload) {
			return nil, fmt.Sprintf("subrecord %s overruns record boundary", tag)
		}

		data := make([]byte, dataLen)
		copy(data, payload[pos+SubheaderLen:pos+SubheaderLen+dataLen])
		subs = append(subs, Subrecord{Tag: tag, Data: data})
		pos += SubheaderLen + dataLen
	}
	return subs, ""
}

// groupHeader is a parsed GRUP container header. Groups wrap records in
// well-formed files; their declared size includes the 24-byte header.
type groupHeader struct {
	Size  uint32
	Label [4]byte
	Kind  int32
}

// parseGroupHeader converts a GRUP header. ok is false when the size
// field cannot hold even the header itself or exceeds the remainder.
func parseGroupHeader(b []byte, remaining int64) (groupHeader, bool) {
	var g groupHeader
	g.Size = binary.BigEndian.Uint32(b[4:8])
	copy(g.Label[:], b[8:12])
	g.Kind = int32(binary.BigEndian.Uint32(b[12:16]))
	if int64(g.Size) < RecordHeaderLen || int64(g.Size) > remaining {
		return g, false
	}
	return g, true
}

// subrecordString interprets subrecord data as the game's NUL-terminated
// string encoding.
func subrecordString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data)
}

// subrecordFormID interprets a 4-byte reference-shaped subrecord.
func subrecordFormID(data []byte) (FormID, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return FormID(binary.BigEndian.Uint32(data)), true
}
