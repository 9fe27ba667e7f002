package carve

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"esmdig/common"
)

// Probe extent rules for formats whose size cannot be read from a single
// header field. Each walks the candidate's own framing to an exact byte
// count, then (for small candidates) verifies by full decompression.
// Probes are bounded: malformed framing rejects the candidate, it never
// scans open-ended.

const (
	// probeVerifyCap bounds the size of candidates that get verified by
	// full decompression. Larger candidates are accepted on framing alone.
	probeVerifyCap = 4 << 20

	// probeFrameCap is the largest frame a probe will size. A declared
	// extent beyond this is treated as garbage.
	probeFrameCap = 1 << 30
)

// zstdExtent sizes a zstd frame starting at off by walking its frame
// header and block headers (RFC 8878 framing). Small frames are verified
// by decompressing with the zstd library.
func zstdExtent(a *common.Arena, off int64) (int64, bool) {
	hdr := make([]byte, 18) // magic + max frame header
	n, err := a.ReadInto(off, hdr)
	if err != nil || n < 6 {
		return 0, false
	}
	hdr = hdr[:n]

	fhd := hdr[4] // frame header descriptor
	if fhd&0x08 != 0 {
		return 0, false // reserved bit set
	}
	singleSegment := fhd&0x20 != 0
	hasChecksum := fhd&0x04 != 0

	pos := int64(5)
	switch fhd & 0x03 { // dictionary ID field size
	case 1:
		pos++
	case 2:
		pos += 2
	case 3:
		pos += 4
	}
	switch fhd >> 6 { // frame content size field
	case 0:
		if singleSegment {
			pos++
		}
	case 1:
		pos += 2
	case 2:
		pos += 4
	case 3:
		pos += 8
	}
	if !singleSegment {
		pos++ // window descriptor
	}

	// Walk blocks to the last-block flag.
	bh := make([]byte, 3)
	for {
		if pos > probeFrameCap || off+pos+3 > a.Size() {
			return 0, false
		}
		if _, err := a.ReadInto(off+pos, bh); err != nil {
			return 0, false
		}
		word := uint32(bh[0]) | uint32(bh[1])<<8 | uint32(bh[2])<<16
		last := word&1 != 0
		blockType := (word >> 1) & 0x3
		blockSize := int64(word >> 3)
		pos += 3

		switch blockType {
		case 0, 2: // raw, compressed: stored size is the field
			pos += blockSize
		case 1: // RLE: one stored byte regardless of content size
			pos++
		default:
			return 0, false // reserved block type
		}
		if last {
			break
		}
	}
	if hasChecksum {
		pos += 4
	}
	if off+pos > a.Size() {
		return 0, false
	}

	if pos <= probeVerifyCap {
		frame, err := a.Bytes(off, pos)
		if err != nil {
			return 0, false
		}
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(64<<20))
		if err != nil {
			return 0, false
		}
		defer dec.Close()
		if _, err := dec.DecodeAll(frame, nil); err != nil {
			return 0, false
		}
	}
	return pos, true
}

// lz4Extent sizes an lz4 frame starting at off by walking its frame
// descriptor and block lengths. Small frames are verified by
// decompressing with the lz4 library.
func lz4Extent(a *common.Arena, off int64) (int64, bool) {
	hdr := make([]byte, 19) // magic + max frame descriptor
	n, err := a.ReadInto(off, hdr)
	if err != nil || n < 7 {
		return 0, false
	}
	hdr = hdr[:n]

	flg := hdr[4]
	if flg>>6 != 0x01 || flg&0x02 != 0 {
		return 0, false // wrong version or reserved bit
	}
	blockChecksum := flg&0x10 != 0
	contentSize := flg&0x08 != 0
	contentChecksum := flg&0x04 != 0
	dictID := flg&0x01 != 0

	pos := int64(6) // magic + FLG + BD
	if contentSize {
		pos += 8
	}
	if dictID {
		pos += 4
	}
	pos++ // header checksum byte

	sizeWord := make([]byte, 4)
	for {
		if pos > probeFrameCap || off+pos+4 > a.Size() {
			return 0, false
		}
		if _, err := a.ReadInto(off+pos, sizeWord); err != nil {
			return 0, false
		}
		word := binary.LittleEndian.Uint32(sizeWord)
		pos += 4
		if word == 0 {
			break // end mark
		}
		pos += int64(word & 0x7FFFFFFF)
		if blockChecksum {
			pos += 4
		}
	}
	if contentChecksum {
		pos += 4
	}
	if off+pos > a.Size() {
		return 0, false
	}

	if pos <= probeVerifyCap {
		frame, err := a.Bytes(off, pos)
		if err != nil {
			return 0, false
		}
		if _, err := io.Copy(io.Discard, lz4.NewReader(bytes.NewReader(frame))); err != nil {
			return 0, false
		}
	}
	return pos, true
}

// ddsExtent sizes a DDS texture from its 124-byte header: 4 magic bytes,
// the header itself, then pitchOrLinearSize bytes of surface data. A zero
// size field means the writer did not record one and the candidate is
// rejected (extent would be a guess).
func ddsExtent(a *common.Arena, off int64) (int64, bool) {
	hdr, err := a.Bytes(off, 32)
	if err != nil {
		return 0, false
	}
	if binary.LittleEndian.Uint32(hdr[4:8]) != 124 {
		return 0, false // dwSize is always 124
	}
	linear := int64(binary.LittleEndian.Uint32(hdr[20:24]))
	if linear == 0 || linear > probeFrameCap {
		return 0, false
	}
	length := 4 + 124 + linear
	if off+length > a.Size() {
		return 0, false
	}
	return length, true
}

// bsaExtent sizes a game archive's header and index tables. The format
// records no total content size, so the extent covers the metadata block
// only: 36-byte header, folder records, folder name block, file records,
// file name block. Console builds store the fields big-endian and PC
// builds little-endian; the probe accepts whichever order yields a
// plausible header.
func bsaExtent(a *common.Arena, off int64) (int64, bool) {
	hdr, err := a.Bytes(off, 36)
	if err != nil {
		return 0, false
	}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		version := order.Uint32(hdr[4:8])
		folderOff := order.Uint32(hdr[8:12])
		folders := int64(order.Uint32(hdr[16:20]))
		files := int64(order.Uint32(hdr[20:24]))
		folderNames := int64(order.Uint32(hdr[24:28]))
		fileNames := int64(order.Uint32(hdr[28:32]))

		if (version != 103 && version != 104) || folderOff != 36 {
			continue
		}
		if folders == 0 || folders > 1<<20 || files > 1<<24 {
			continue
		}
		// Folder names carry a one-byte length prefix each; the prefix is
		// not counted in the header's total.
		length := 36 + folders*16 + folderNames + folders + files*16 + fileNames
		if length > probeFrameCap || off+length > a.Size() {
			continue
		}
		return length, true
	}
	return 0, false
}

// nifExtent sizes a Gamebryo model heuristically. The format records no
// total length, so after validating the version line the probe extends to
// the next run of sixteen zero bytes (allocator padding between runtime
// objects) within a cap. The low confidence on this entry lets any
// structurally-sized claim win a collision against it.
func nifExtent(a *common.Arena, off int64) (int64, bool) {
	const (
		padRun  = 16
		scanCap = 8 << 20
	)

	// Header string line is ASCII terminated by 0x0A within 64 bytes.
	line := make([]byte, 64)
	n, err := a.ReadInto(off, line)
	if err != nil {
		return 0, false
	}
	nl := bytes.IndexByte(line[:n], 0x0A)
	if nl < 0 {
		return 0, false
	}
	for _, b := range line[:nl] {
		if b < 0x20 || b > 0x7E {
			return 0, false
		}
	}

	limit := int64(scanCap)
	if remain := a.Size() - off; remain < limit {
		limit = remain
	}
	buf := make([]byte, 65536)
	zeros := 0
	for pos := int64(nl) + 1; pos < limit; {
		want := int64(len(buf))
		if limit-pos < want {
			want = limit - pos
		}
		n, err := a.ReadInto(off+pos, buf[:want])
		if n == 0 || err != nil {
			return 0, false
		}
		for i := 0; i < n; i++ {
			if buf[i] == 0 {
				zeros++
				if zeros == padRun {
					// Extent ends where the padding run began.
					return pos + int64(i) + 1 - padRun, true
				}
			} else {
				zeros = 0
			}
		}
		pos += int64(n)
	}
	return 0, false
}
