package ubifs

import (
	"bytes"
	"encoding/binary"
)

// This file lays out the specific node bodies that extend the common
// 24-byte header (node.go) from offset 24; each body struct is serialized
// with a single little-endian binary.Write call.

// InodeNode is the on-disk body of an inode node.
type InodeNode struct {
	CreatSqnum uint64
	Size       uint64
	AtimeSec   uint64
	MtimeSec   uint64
	CtimeSec   uint64
	AtimeNsec  uint32
	MtimeNsec  uint32
	CtimeNsec  uint32
	Nlink      uint32
	Uid        uint32
	Gid        uint32
	Mode       uint32
	Flags      uint32
	DataLen    uint32
	XattrCnt   uint32
	XattrSize  uint32
	XattrNames uint32
	ComprType  uint16
	_          uint16 // padding
}

// encodeInodeNode serializes the common header plus the inode body and any trailing
// data (symlink target, device major/minor, inline data) into a
// freshly-allocated, CRC-stamped, 8-byte-aligned buffer.
func encodeInodeNode(sqnum uint64, n InodeNode, data []byte) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, n)
	body.Write(data)

	declLen := commonHeaderSize + body.Len()
	buf := make([]byte, align8(declLen))
	for i := declLen; i < len(buf); i++ {
		buf[i] = 0
	}
	writeCommonHeader(buf, NodeTypeIno, 0)
	copy(buf[commonHeaderSize:declLen], body.Bytes())
	prepareNode(buf, sqnum, declLen)
	return buf
}

// DentNode is the on-disk body of a directory-entry or xattr-entry node;
// Key is the packed key of the entry. Cookie is only meaningful when
// double_hash is enabled.
type DentNode struct {
	Key    Key
	Inum   uint64
	Type   uint8
	_      uint8 // padding
	Nlen   uint16
	Cookie uint32 // double-hash disambiguation cookie, 0 when unused
}

func encodeDentNode(typ NodeType, sqnum uint64, n DentNode, name string) []byte {
	n.Nlen = uint16(len(name))
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, n)
	body.WriteString(name)
	body.WriteByte(0) // NUL terminator, matching on-disk dent names

	declLen := commonHeaderSize + body.Len()
	buf := make([]byte, align8(declLen))
	writeCommonHeader(buf, typ, 0)
	copy(buf[commonHeaderSize:declLen], body.Bytes())
	prepareNode(buf, sqnum, declLen)
	return buf
}

// DataNode is the on-disk body of a data node: the key identifies (inum,
// block index); Size is the uncompressed length.
type DataNode struct {
	Key       Key
	Size      uint32
	ComprType uint16
	_         uint16 // padding
}

func encodeDataNode(sqnum uint64, n DataNode, payload []byte) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, n)
	body.Write(payload)

	declLen := commonHeaderSize + body.Len()
	buf := make([]byte, align8(declLen))
	writeCommonHeader(buf, NodeTypeData, 0)
	copy(buf[commonHeaderSize:declLen], body.Bytes())
	prepareNode(buf, sqnum, declLen)
	return buf
}

// Branch is one (key, position, hash) child reference inside an index
// node.
type Branch struct {
	Key  Key
	Lnum uint32
	Offs uint32
	Len  uint32
}

// idxNodeHeader is the fixed-size prefix of an index node body.
type idxNodeHeader struct {
	ChildCnt uint16
	Level    uint16
}

func encodeIdxNode(sqnum uint64, level int, branches []Branch, hashes [][]byte) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, idxNodeHeader{ChildCnt: uint16(len(branches)), Level: uint16(level)})
	for i, b := range branches {
		binary.Write(&body, binary.LittleEndian, b)
		body.Write(hashes[i])
	}

	declLen := commonHeaderSize + body.Len()
	buf := make([]byte, align8(declLen))
	writeCommonHeader(buf, NodeTypeIdx, 0)
	copy(buf[commonHeaderSize:declLen], body.Bytes())
	prepareNode(buf, sqnum, declLen)
	return buf
}

// encodePadNode builds a padding node for the unused tail of a write unit;
// its body is empty save for a declared pad length so a reader can skip it.
func encodePadNode(sqnum uint64, totalLen int) []byte {
	buf := make([]byte, totalLen)
	writeCommonHeader(buf, NodeTypePad, 0)
	padLen := totalLen - commonHeaderSize - 4
	if padLen < 0 {
		padLen = 0
	}
	binary.LittleEndian.PutUint32(buf[commonHeaderSize:commonHeaderSize+4], uint32(padLen))
	prepareNode(buf, sqnum, totalLen)
	return buf
}

// CSNode is the log-commit-start node written at the first log LEB.
type CSNode struct {
	CmtNo uint64
}

func encodeCSNode(sqnum uint64) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, CSNode{CmtNo: 0})
	declLen := commonHeaderSize + body.Len()
	buf := make([]byte, align8(declLen))
	writeCommonHeader(buf, NodeTypeCS, 0)
	copy(buf[commonHeaderSize:declLen], body.Bytes())
	prepareNode(buf, sqnum, declLen)
	return buf
}

// SigNode appends an authentication signature after the superblock node.
type SigNode struct {
	Type uint8
	_    [3]uint8
	Len  uint32
}

func encodeSigNode(sqnum uint64, sig []byte) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, SigNode{Type: 0, Len: uint32(len(sig))})
	body.Write(sig)
	declLen := commonHeaderSize + body.Len()
	buf := make([]byte, align8(declLen))
	writeCommonHeader(buf, NodeTypeSig, 0)
	copy(buf[commonHeaderSize:declLen], body.Bytes())
	prepareNode(buf, sqnum, declLen)
	return buf
}
