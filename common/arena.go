package common

import (
	"fmt"
	"os"
)

// ByteSource is the read-only accessor every analysis component uses to
// address the input image. Implementations must be safe for concurrent
// readers; the image is never mutated during a run.
//
// Implementations can provide:
// - In-memory buffers for small dumps and tests
// - File-backed access for multi-gigabyte minidumps
type ByteSource interface {
	// ReadAt reads len(p) bytes starting at offset off. It returns the
	// number of bytes read; short reads at the end of the image are not
	// an error. Offsets outside [0, Size()) return an error.
	ReadAt(off int64, p []byte) (int, error)

	// Size returns the total length of the image in bytes.
	Size() int64
}

// Arena wraps a ByteSource with the bounds-checked slicing helpers the
// scanners use. All analysis results store (offset, length) pairs into the
// arena rather than byte copies; only small payloads (strings, subrecord
// bytes) are ever copied out.
type Arena struct {
	src  ByteSource
	size int64
}

// NewArena creates an arena over src.
func NewArena(src ByteSource) *Arena {
	return &Arena{src: src, size: src.Size()}
}

// Size returns the total image length.
func (a *Arena) Size() int64 { return a.size }

// Bytes reads length bytes at off into a freshly allocated slice.
// The range must lie entirely inside the image.
func (a *Arena) Bytes(off, length int64) ([]byte, error) {
	if off < 0 || length < 0 || off+length > a.size {
		return nil, &Error{
			Code:   ErrRangeOutOfBounds,
			Sev:    SeverityError,
			Offset: off,
			Op:     "arena read",
			Message: fmt.Sprintf("range [0x%X, 0x%X) outside image of size 0x%X",
				off, off+length, a.size),
		}
	}
	p := make([]byte, length)
	n, err := a.src.ReadAt(off, p)
	if err != nil {
		return nil, &Error{
			Code:    ErrSourceRead,
			Sev:     SeverityError,
			Offset:  off,
			Op:      "arena read",
			Message: err.Error(),
		}
	}
	if int64(n) != length {
		return nil, &Error{
			Code:    ErrSourceRead,
			Sev:     SeverityError,
			Offset:  off,
			Op:      "arena read",
			Message: fmt.Sprintf("short read: got %d of %d bytes", n, length),
		}
	}
	return p, nil
}

// ReadInto fills p from offset off, returning the number of bytes read.
// Short reads at the end of the image are allowed.
func (a *Arena) ReadInto(off int64, p []byte) (int, error) {
	if off < 0 || off >= a.size {
		return 0, &Error{
			Code:    ErrRangeOutOfBounds,
			Sev:     SeverityError,
			Offset:  off,
			Op:      "arena read",
			Message: fmt.Sprintf("offset 0x%X outside image of size 0x%X", off, a.size),
		}
	}
	return a.src.ReadAt(off, p)
}

// Buffer is an in-memory ByteSource, the accessor used for tests and for
// dumps small enough to hold resident.
type Buffer struct {
	data []byte
}

// NewBuffer creates a ByteSource over data. The slice is referenced, not
// copied; callers must not mutate it while a scan is running.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// ReadAt implements ByteSource.
func (b *Buffer) ReadAt(off int64, p []byte) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, fmt.Errorf("offset 0x%X outside buffer of size 0x%X", off, len(b.data))
	}
	n := copy(p, b.data[off:])
	return n, nil
}

// Size implements ByteSource.
func (b *Buffer) Size() int64 { return int64(len(b.data)) }

// FileSource is a ByteSource backed by an open file. It never loads the
// whole image; reads go straight to the descriptor via pread, so it is
// safe for concurrent readers.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFileSource opens path for analysis.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}
	return &FileSource{f: f, size: st.Size()}, nil
}

// ReadAt implements ByteSource.
func (fs *FileSource) ReadAt(off int64, p []byte) (int, error) {
	if off < 0 || off >= fs.size {
		return 0, fmt.Errorf("offset 0x%X outside image of size 0x%X", off, fs.size)
	}
	n, err := fs.f.ReadAt(p, off)
	if err != nil && off+int64(n) == fs.size {
		// Short read at EOF is the expected end-of-image case.
		return n, nil
	}
	return n, err
}

// Size implements ByteSource.
func (fs *FileSource) Size() int64 { return fs.size }

// Close releases the underlying file.
func (fs *FileSource) Close() error { return fs.f.Close() }
