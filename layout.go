package ubifs

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
)

// Superblock flag bits.
const (
	SbFlagBigLPT = 1 << iota
	SbFlagSpaceFixup
	SbFlagDoubleHash
	SbFlagEncryption
	SbFlagAuthentication
)

// SBNode is the on-disk body of the superblock node.
type SBNode struct {
	KeyHash      uint8
	KeyFmt       uint8
	Flags        uint32
	MinIOSize    uint32
	LEBSize      uint32
	LEBCnt       uint32
	MaxLEBCnt    uint32
	MaxBudBytes  uint64
	LogLebs      uint32
	LptLebs      uint32
	OrphLebs     uint32
	JheadCnt     uint32
	Fanout       uint32
	LsaveCnt     uint32
	DefaultCompr uint16
	HashAlgo     uint8
	HashLen      uint8
	RpSize       uint64
	RpUid        uint32
	RpGid        uint32
	FmtVersion   uint32
	TimeGran     uint32
	UUID         [16]byte
}

// MstNode is the on-disk body of the master node, written identically in
// both LEB 1 and LEB 2.
type MstNode struct {
	HighestInum uint64
	CmtNo       uint64
	Flags       uint32
	LogLnum     uint32
	RootLnum    uint32
	RootOffs    uint32
	RootLen     uint32
	GCLnum      uint32
	IheadLnum   uint32
	IheadOffs   uint32
	IndexSize   uint64
	TotalFree   uint64
	TotalDirty  uint64
	TotalUsed   uint64
	TotalDead   uint64
	TotalDark   uint64
	LptLnum     uint32
	LptOffs     uint32
	LEBCnt      uint32
	EmptyLebs   uint32
	IdxLebs     uint32
}

func encodeSBNode(sqnum uint64, n SBNode) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, n)
	declLen := commonHeaderSize + body.Len()
	buf := make([]byte, align8(declLen))
	writeCommonHeader(buf, NodeTypeSB, 0)
	copy(buf[commonHeaderSize:declLen], body.Bytes())
	prepareNode(buf, sqnum, declLen)
	return buf
}

func encodeMstNode(sqnum uint64, n MstNode) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, n)
	declLen := commonHeaderSize + body.Len()
	buf := make([]byte, align8(declLen))
	writeCommonHeader(buf, NodeTypeMst, 0)
	copy(buf[commonHeaderSize:declLen], body.Bytes())
	prepareNode(buf, sqnum, declLen)
	return buf
}

// layoutEmitter writes the fixed-position LEBs: superblock, two master
// copies, log, LPT, and orphan area. Each LEB is addressed by absolute
// number, so the write order below is not semantically significant.
type layoutEmitter struct {
	cfg    *Config
	target Target
	sqnum  *uint64
}

func newLayoutEmitter(cfg *Config, target Target, sqnum *uint64) *layoutEmitter {
	return &layoutEmitter{cfg: cfg, target: target, sqnum: sqnum}
}

// lptRange returns the LPT area's first absolute LEB and its LEB count,
// derived the same way Config.validate derives mainFirst.
func (e *layoutEmitter) lptRange() (first, lebs int) {
	lptLebs, _ := calcLPTLebs(e.cfg.LEBSize, e.cfg.MaxLEBCnt)
	return logFirstLnum + e.cfg.LogLebs, lptLebs
}

func (e *layoutEmitter) orphRange() (first, lebs int) {
	lptFirst, lptLebs := e.lptRange()
	return lptFirst + lptLebs, e.cfg.OrphLebs
}

// writeSuperblock writes LEB 0: the SB node with a random UUID, followed by
// a signature node in the same LEB when signing is enabled.
func (e *layoutEmitter) writeSuperblock(leafCnt uint32, signer SbSigner) error {
	buf := make([]byte, e.cfg.LEBSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	flags := uint32(0)
	flags |= SbFlagBigLPT
	if e.cfg.SpaceFixup {
		flags |= SbFlagSpaceFixup
	}
	if e.cfg.DoubleHash {
		flags |= SbFlagDoubleHash
	}
	if e.cfg.Encrypted {
		flags |= SbFlagEncryption
	}
	if signer != nil {
		if _, ok, _ := signer.SignSuperblock(nil); ok {
			flags |= SbFlagAuthentication
		}
	}

	var rawUUID [16]byte
	generated := uuid.New()
	copy(rawUUID[:], generated[:])

	keyHash := uint8(e.cfg.KeyHashAlg)
	sb := SBNode{
		KeyHash:      keyHash,
		KeyFmt:       0,
		Flags:        flags,
		MinIOSize:    uint32(e.cfg.MinIOSize),
		LEBSize:      uint32(e.cfg.LEBSize),
		LEBCnt:       leafCnt,
		MaxLEBCnt:    uint32(e.cfg.MaxLEBCnt),
		MaxBudBytes:  uint64(e.cfg.MaxBudBytes),
		LogLebs:      uint32(e.cfg.LogLebs),
		LptLebs:      0,
		OrphLebs:     uint32(e.cfg.OrphLebs),
		JheadCnt:     1,
		Fanout:       uint32(e.cfg.Fanout),
		LsaveCnt:     256,
		DefaultCompr: uint16(e.cfg.DefaultCompr),
		HashAlgo:     uint8(e.cfg.HashAlgo),
		HashLen:      uint8(e.cfg.hashLen),
		RpSize:       uint64(e.cfg.RPSize),
		FmtVersion:   uint32(e.cfg.FormatVersion()),
		TimeGran:     1000000000,
		UUID:         rawUUID,
	}
	_, lptLebs := e.lptRange()
	sb.LptLebs = uint32(lptLebs)

	node := encodeSBNode(e.nextSqnum(), sb)
	copy(buf, node)
	off := align8(len(node))

	if signer != nil {
		if sig, ok, err := signer.SignSuperblock(node); ok {
			if err != nil {
				return err
			}
			sigNode := encodeSigNode(e.nextSqnum(), sig)
			copy(buf[off:], sigNode)
		}
	}

	return e.target.LebChange(0, buf)
}

// writeMaster writes two identical copies of the master node to LEB 1 and
// LEB 2.
func (e *layoutEmitter) writeMaster(m MstNode) error {
	buf := make([]byte, e.cfg.LEBSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	node := encodeMstNode(e.nextSqnum(), m)
	copy(buf, node)

	if err := e.target.LebChange(1, buf); err != nil {
		return err
	}
	return e.target.LebChange(2, buf)
}

// writeLog writes the log area: a commit-start node in the first log LEB,
// all remaining log LEBs left empty (0xFF).
func (e *layoutEmitter) writeLog() error {
	buf := make([]byte, e.cfg.LEBSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	node := encodeCSNode(e.nextSqnum())
	copy(buf, node)
	if err := e.target.LebChange(logFirstLnum, buf); err != nil {
		return err
	}

	empty := make([]byte, e.cfg.LEBSize)
	for i := range empty {
		empty[i] = 0xFF
	}
	for lnum := logFirstLnum + 1; lnum < logFirstLnum+e.cfg.LogLebs; lnum++ {
		if err := e.target.LebChange(lnum, empty); err != nil {
			return err
		}
	}
	return nil
}

// writeLPT writes the packed LEB-properties tree. The LPT codec itself
// (the on-disk bit-packed tree format) is an external collaborator per the
// spec; this emits a deterministic placeholder image that reserves the
// right number of LEBs and records per-LEB free/dirty/flags as a flat
// little-endian array, which is sufficient for an offline, never-mounted
// round trip test of this builder.
func (e *layoutEmitter) writeLPT(lp *lpropsTable) error {
	first, lebs := e.lptRange()
	empty := make([]byte, e.cfg.LEBSize)
	for i := range empty {
		empty[i] = 0xFF
	}

	var packed bytes.Buffer
	maxIdx := 0
	for idx := range lp.byIndex {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	for idx := 0; idx <= maxIdx; idx++ {
		p := lp.byIndex[idx]
		binary.Write(&packed, binary.LittleEndian, uint32(p.Free))
		binary.Write(&packed, binary.LittleEndian, uint32(p.Dirty))
		binary.Write(&packed, binary.LittleEndian, uint16(p.Flags))
		binary.Write(&packed, binary.LittleEndian, uint16(0))
	}

	data := packed.Bytes()
	for i := 0; i < lebs; i++ {
		lnum := first + i
		buf := make([]byte, e.cfg.LEBSize)
		copy(buf, empty)
		start := i * e.cfg.LEBSize
		if start < len(data) {
			end := start + e.cfg.LEBSize
			if end > len(data) {
				end = len(data)
			}
			copy(buf, data[start:end])
		}
		if err := e.target.LebChange(lnum, buf); err != nil {
			return err
		}
	}
	return nil
}

// writeOrphanArea writes empty (all-0xFF) LEBs for the orphan area; a
// freshly built image never has any orphaned inodes.
func (e *layoutEmitter) writeOrphanArea() error {
	first, lebs := e.orphRange()
	empty := make([]byte, e.cfg.LEBSize)
	for i := range empty {
		empty[i] = 0xFF
	}
	for i := 0; i < lebs; i++ {
		if err := e.target.LebChange(first+i, empty); err != nil {
			return err
		}
	}
	return nil
}

func (e *layoutEmitter) nextSqnum() uint64 {
	*e.sqnum++
	return *e.sqnum
}
