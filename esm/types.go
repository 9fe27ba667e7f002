// Package esm reconstructs the game's database records from a raw memory
// image. The console build stores every multi-byte field big-endian; this
// package is the only place byte order is converted, so all values past
// the parse boundary are host-order.
package esm

import "fmt"

// Tag is a 4-byte record or subrecord type code.
type Tag [4]byte

// TagOf builds a Tag from a 4-character string.
func TagOf(s string) Tag {
	var t Tag
	copy(t[:], s)
	return t
}

func (t Tag) String() string {
	for _, b := range t {
		if b < 0x20 || b > 0x7E {
			return fmt.Sprintf("%02X%02X%02X%02X", t[0], t[1], t[2], t[3])
		}
	}
	return string(t[:])
}

// FormID is the 32-bit identifier naming a database record. Uniqueness is
// guaranteed only in a well-formed install; forensic scans can surface
// duplicates and collisions, which the scanner reports rather than assumes
// away.
type FormID uint32

func (id FormID) String() string { return fmt.Sprintf("%08X", uint32(id)) }

// Record header flag bits.
const (
	// FlagCompressed marks a record whose payload is a big-endian
	// 4-byte decompressed size followed by a zlib stream.
	FlagCompressed uint32 = 0x00040000

	// FlagDeleted marks a record deleted by a plugin.
	FlagDeleted uint32 = 0x00000020
)

// RecordHeaderLen is the fixed on-disk record header size.
const RecordHeaderLen = 24

// SubheaderLen is the fixed on-disk subrecord header size.
const SubheaderLen = 6

// Header is a parsed record header, fields already converted to host
// order.
type Header struct {
	Type     Tag
	DataSize uint32
	Flags    uint32
	FormID   FormID
	Revision uint32
	Version  uint16
}

// Compressed reports whether the record payload is zlib-compressed.
func (h Header) Compressed() bool { return h.Flags&FlagCompressed != 0 }

// Subrecord is one tagged field inside a record. Data is an independent
// copy; subrecords stay valid after the arena is gone.
type Subrecord struct {
	Tag  Tag
	Data []byte
}

// RawRecord is a fully decomposed record: the header plus its subrecord
// list, and the byte range it occupied in the image. Records whose type
// has no semantic lift stay in this form and still count toward totals.
type RawRecord struct {
	Header     Header
	Offset     int64
	TotalLen   int64 // header + payload as stored (compressed size, not inflated)
	Subrecords []Subrecord
}

// Find returns the first subrecord with the given tag.
func (r *RawRecord) Find(tag Tag) (Subrecord, bool) {
	for _, sub := range r.Subrecords {
		if sub.Tag == tag {
			return sub, true
		}
	}
	return Subrecord{}, false
}
