package ubifs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidOption is returned when a builder option fails validation.
	ErrInvalidOption = errors.New("invalid option")

	// ErrBadSource is returned when the source directory is missing or unreadable.
	ErrBadSource = errors.New("bad source")

	// ErrBadTarget is returned when the target file or volume cannot be opened for writing.
	ErrBadTarget = errors.New("bad target")

	// ErrGeometry is returned when device geometry bounds are violated.
	ErrGeometry = errors.New("invalid geometry")

	// ErrIO is returned on an underlying target or source I/O failure.
	ErrIO = errors.New("i/o error")

	// ErrCompression identifies a compressor failure. The builder does not return it: a block
	// whose compressors all fail is stored verbatim and counted in the compression-failure total.
	ErrCompression = errors.New("compression failed")

	// ErrEncoding is returned when a node is larger than a whole LEB.
	ErrEncoding = errors.New("node too large to encode")

	// ErrLinkAccount is returned when a counted hard link is never emitted.
	ErrLinkAccount = errors.New("hard link accounting mismatch")

	// ErrCapacity is returned when the image would need more LEBs than max_leb_cnt allows.
	ErrCapacity = errors.New("image exceeds maximum LEB count")

	// ErrImageChanged is returned when a source file's size changes while being read.
	ErrImageChanged = errors.New("source file changed during image build")
)

// BuildError wraps a sentinel error with the path, LEB, or inode context in
// which it occurred.
type BuildError struct {
	Op   string
	Path string
	Lnum int
	Ino  uint32
	Err  error
}

func (e *BuildError) Error() string {
	s := "ubifs: " + e.Op + ": "
	if e.Path != "" {
		s += e.Path + ": "
	}
	if e.Ino != 0 {
		s += "inode " + itoa(uint64(e.Ino)) + ": "
	}
	if e.Lnum != 0 {
		s += "leb " + itoa(uint64(e.Lnum)) + ": "
	}
	return s + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
