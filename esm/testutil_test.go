package esm

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zlib"
)

// Fixture builders for synthetic big-endian record blobs. These mirror
// the console layout exactly: 24-byte record header, 6-byte subrecord
// headers, every multi-byte field big-endian.

func buildSub(tag string, data []byte) []byte {
	out := make([]byte, SubheaderLen+len(data))
	copy(out, tag)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(data)))
	copy(out[6:], data)
	return out
}

func buildSubString(tag, s string) []byte {
	return buildSub(tag, append([]byte(s), 0))
}

func buildSubFormID(tag string, id FormID) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(id))
	return buildSub(tag, data)
}

func buildRecord(tag string, id FormID, flags uint32, subs ...[]byte) []byte {
	payload := bytes.Join(subs, nil)
	out := make([]byte, RecordHeaderLen+len(payload))
	copy(out, tag)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(payload)))
	binary.BigEndian.PutUint32(out[8:12], flags)
	binary.BigEndian.PutUint32(out[12:16], uint32(id))
	binary.BigEndian.PutUint32(out[16:20], 7) // revision
	binary.BigEndian.PutUint16(out[20:22], 15)
	copy(out[RecordHeaderLen:], payload)
	return out
}

// buildCompressedRecord wraps the subrecords in the compressed payload
// form: big-endian inflated size, then a zlib stream.
func buildCompressedRecord(tag string, id FormID, subs ...[]byte) []byte {
	plain := bytes.Join(subs, nil)

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	zw.Write(plain)
	zw.Close()

	payload := make([]byte, 4+z.Len())
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(plain)))
	copy(payload[4:], z.Bytes())

	out := make([]byte, RecordHeaderLen+len(payload))
	copy(out, tag)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(payload)))
	binary.BigEndian.PutUint32(out[8:12], FlagCompressed)
	binary.BigEndian.PutUint32(out[12:16], uint32(id))
	binary.BigEndian.PutUint32(out[16:20], 7)
	binary.BigEndian.PutUint16(out[20:22], 15)
	copy(out[RecordHeaderLen:], payload)
	return out
}

// buildGroup wraps records in a GRUP container header.
func buildGroup(label string, records ...[]byte) []byte {
	payload := bytes.Join(records, nil)
	out := make([]byte, RecordHeaderLen+len(payload))
	copy(out, "GRUP")
	binary.BigEndian.PutUint32(out[4:8], uint32(RecordHeaderLen+len(payload)))
	copy(out[8:12], label)
	binary.BigEndian.PutUint32(out[12:16], 0) // top-level group
	copy(out[RecordHeaderLen:], payload)
	return out
}
