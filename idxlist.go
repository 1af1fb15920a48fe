package ubifs

// indexEntry is one leaf's (key, position, hash) tuple, produced by every
// leaf write. The name is retained for ordering among equal keys.
//
// The original mkfs.ubifs.c keeps these in an intrusive doubly-linked list;
// the backward pointer only ever existed for O(1) detach, which never
// happens to an index entry in practice, so this is just a growable slice.
type indexEntry struct {
	Key     Key
	Name    string
	Lnum    int
	Offs    int
	Len     int
	Hash    []byte
}

// indexList accumulates leaf index entries for the whole build, then is
// sorted and consumed exactly once by the index builder.
type indexList struct {
	entries []indexEntry
}

func newIndexList() *indexList {
	return &indexList{}
}

func (l *indexList) add(e indexEntry) {
	l.entries = append(l.entries, e)
}

func (l *indexList) len() int {
	return len(l.entries)
}
