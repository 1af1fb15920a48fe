package ubifs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// writeHead is the write-head state machine: the current LEB number,
// offset, and flags, plus the in-progress LEB buffer. It packs nodes into
// the buffer and flushes to the target when full.
type writeHead struct {
	cfg    *Config
	target Target
	lprops *lpropsTable
	idx    *indexList
	log    *logrus.Entry

	lnum  int
	offs  int
	flags int
	buf   []byte

	sqnum *uint64

	maxLnum int // one past the highest lnum flushed or skipped so far: the leb_cnt
}

func newWriteHead(cfg *Config, target Target, lprops *lpropsTable, idx *indexList, sqnum *uint64, log *logrus.Entry) *writeHead {
	buf := make([]byte, cfg.LEBSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &writeHead{
		cfg:     cfg,
		target:  target,
		lprops:  lprops,
		idx:     idx,
		log:     log.WithField("component", "writehead"),
		lnum:    cfg.mainFirst,
		offs:    0,
		buf:     buf,
		sqnum:   sqnum,
		maxLnum: cfg.mainFirst,
	}
}

// setIndexMode toggles the write head into index-emission mode: flushes any
// pending data LEB, reserves the GC LEB, advances past it, and sets the
// INDEX flag so subsequent flushes record index-LEB lprops. The flags.INDEX
// bit toggles exactly once per build, after data flush and GC-LEB
// reservation.
func (w *writeHead) setIndexMode() (gcLnum int, err error) {
	if err := w.flush(); err != nil {
		return 0, err
	}
	// Reserve a GC LEB: skip one LEB number, leaving it untouched (all
	// 0xFF, matching an erased LEB) for the runtime garbage collector.
	gcLnum = w.lnum
	w.lnum++
	if w.lnum > w.maxLnum {
		w.maxLnum = w.lnum
	}
	w.flags |= LpropsIndex
	return gcLnum, nil
}

// reserve ensures len bytes fit in the current LEB, flushing first if they
// would not, then returns the position the caller should write at and
// advances the in-buffer offset by align8(len).
func (w *writeHead) reserve(length int) (lnum, offs int, err error) {
	if length > w.cfg.LEBSize {
		return 0, 0, fmt.Errorf("node of %d bytes exceeds leb size %d: %w", length, w.cfg.LEBSize, ErrEncoding)
	}
	if w.offs+length > w.cfg.LEBSize {
		if err := w.flush(); err != nil {
			return 0, 0, err
		}
	}
	lnum, offs = w.lnum, w.offs
	w.offs += align8(length)
	return lnum, offs, nil
}

// flush pads the current LEB to min_io_size with 0xFF, writes it to the
// target, records its LEB properties, and advances to the next LEB. Flushing
// an empty LEB (offs==0) is a no-op, since there is nothing new to persist.
func (w *writeHead) flush() error {
	if w.offs == 0 {
		return nil
	}
	padded := alignTo(w.offs, w.cfg.MinIOSize)
	for i := w.offs; i < padded && i < len(w.buf); i++ {
		w.buf[i] = 0xFF
	}
	if err := w.target.LebChange(w.lnum, w.buf); err != nil {
		return err
	}
	w.lprops.setLprops(w.lnum, w.offs, w.cfg.LEBSize, w.flags)
	w.log.WithFields(logrus.Fields{"lnum": w.lnum, "used": w.offs}).Debug("flushed leb")

	for i := range w.buf {
		w.buf[i] = 0xFF
	}
	w.lnum++
	w.offs = 0
	if w.lnum > w.maxLnum {
		w.maxLnum = w.lnum
	}
	return nil
}

// nextSqnum returns the next strictly increasing sequence number.
func (w *writeHead) nextSqnum() uint64 {
	*w.sqnum++
	return *w.sqnum
}

// addNode reserves space for node, writes its already-serialized bytes
// (prepareNode must already have stamped sqnum/len/CRC), copies it into the
// LEB buffer, and records an index-list entry for it keyed by k/name.
func (w *writeHead) addNode(k Key, name string, node []byte, hash []byte) error {
	lnum, offs, err := w.reserve(len(node))
	if err != nil {
		return err
	}
	copy(w.buf[offs:], node)
	w.idx.add(indexEntry{
		Key:  k,
		Name: name,
		Lnum: lnum,
		Offs: offs,
		Len:  len(node),
		Hash: hash,
	})
	return nil
}

// leLnum and leOffs report the write head's current position, used by the
// master node and the index builder's ihead fields.
func (w *writeHead) position() (lnum, offs int) {
	return w.lnum, w.offs
}
