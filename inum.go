package ubifs

import (
	"os"
	"sort"
)

// devIno uniquely identifies a source file across hard links by its host
// device and inode number.
type devIno struct {
	Dev uint64
	Ino uint64
}

// inumEntry records the chosen on-image inode number for a multi-linked
// source file, plus the running count of observed links and the first path
// seen, so the builder can defer emission until every link is accounted
// for.
type inumEntry struct {
	UseInum uint32
	UseNlink uint32
	FirstPath string
	Info      os.FileInfo
}

// inumMappingTable replaces the original's fixed-size (ino mod 10099) hash
// table with a plain Go map: the bucketing was a concession to a
// size-limited C hash table, and a map gives the same amortized O(1)
// lookup without any bucket management.
type inumMappingTable struct {
	byDevIno map[devIno]*inumEntry
}

func newInumMappingTable() *inumMappingTable {
	return &inumMappingTable{byDevIno: make(map[devIno]*inumEntry)}
}

// lookup returns the existing mapping for (dev, ino) if one exists. The
// caller distinguishes "first occurrence" (ok==false, caller inserts) from
// "seen again" (ok==true, caller bumps UseNlink).
func (t *inumMappingTable) lookup(key devIno) (*inumEntry, bool) {
	e, ok := t.byDevIno[key]
	return e, ok
}

// insert records the first occurrence of a multi-linked source file.
func (t *inumMappingTable) insert(key devIno, useInum uint32, path string, info os.FileInfo) *inumEntry {
	e := &inumEntry{UseInum: useInum, UseNlink: 1, FirstPath: path, Info: info}
	t.byDevIno[key] = e
	return e
}

// entries returns every deferred mapping ordered by on-image inode number,
// for the post-pass that emits held back files with their final nlink. The
// order is significant: builds must be deterministic given the same source
// tree, and Go map iteration is not.
func (t *inumMappingTable) entries() []*inumEntry {
	out := make([]*inumEntry, 0, len(t.byDevIno))
	for _, e := range t.byDevIno {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UseInum < out[j].UseInum })
	return out
}
