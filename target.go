package ubifs

import (
	"fmt"
	"io"
)

// Target is the addressable-by-LEB write API the layout emitter and write
// head drive; it is the only boundary between the core and a real file or
// erase-block device. Calls are assumed blocking and synchronous: the core
// never retries, and any failure propagates to the caller as a build
// failure.
type Target interface {
	// LebChange overwrites the LEB numbered lnum with buf's contents.
	// buf must be exactly LEBSize bytes.
	LebChange(lnum int, buf []byte) error

	// LebErase resets the LEB numbered lnum to its erased state (all
	// 0xFF). Implementations backed by a plain file may simply call
	// LebChange with an all-0xFF buffer.
	LebErase(lnum int) error

	// Close releases any resources the target holds.
	Close() error
}

// fileTarget is a Target backed by a regular file or any io.WriterAt,
// addressing LEB lnum at byte offset lnum*lebSize.
type fileTarget struct {
	w       io.WriterAt
	closer  io.Closer
	lebSize int
}

// NewFileTarget wraps an io.WriterAt (typically an *os.File opened for a
// regular file or a block device) as a LEB-addressable Target.
func NewFileTarget(w io.WriterAt, lebSize int) Target {
	t := &fileTarget{w: w, lebSize: lebSize}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

func (t *fileTarget) LebChange(lnum int, buf []byte) error {
	if len(buf) != t.lebSize {
		return fmt.Errorf("leb %d: buffer is %d bytes, want %d: %w", lnum, len(buf), t.lebSize, ErrIO)
	}
	off := int64(lnum) * int64(t.lebSize)
	if _, err := t.w.WriteAt(buf, off); err != nil {
		return fmt.Errorf("leb %d: %w: %v", lnum, ErrIO, err)
	}
	return nil
}

func (t *fileTarget) LebErase(lnum int) error {
	blank := make([]byte, t.lebSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	return t.LebChange(lnum, blank)
}

func (t *fileTarget) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
