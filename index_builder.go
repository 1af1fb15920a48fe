package ubifs

import "sort"

// levelItem is either a leaf's index entry (level 0's source) or a
// previously-built index node (levels 1..K's source), reduced to the
// branch a parent would reference plus the node's content hash.
type levelItem struct {
	branch Branch
	hash   []byte
}

// indexBuildResult carries the root position and its hash, the pieces the
// master node and superblock need.
type indexBuildResult struct {
	Zroot     Branch
	ZrootHash []byte
	IheadLnum int
	IheadOffs int
}

// buildIndex consumes the index list exactly once: sorts leaves by (key,
// name), packs level 0 nodes up to fanout leaves each, then builds levels
// 1..K by grouping the previous level's nodes the same way, stopping when a
// level has exactly one node (the root).
func buildIndex(cfg *Config, wh *writeHead, list *indexList, hashAlgo HashAlgo) (indexBuildResult, error) {
	entries := list.entries
	sort.SliceStable(entries, func(i, j int) bool {
		return dentKeyLess(entries[i].Key, entries[i].Name, entries[j].Key, entries[j].Name)
	})

	items := make([]levelItem, len(entries))
	for i, e := range entries {
		items[i] = levelItem{branch: Branch{
			Key:  e.Key,
			Lnum: uint32(e.Lnum),
			Offs: uint32(e.Offs),
			Len:  uint32(e.Len),
		}, hash: e.Hash}
	}

	level := 0
	for {
		next, err := buildLevel(cfg, wh, items, level, hashAlgo)
		if err != nil {
			return indexBuildResult{}, err
		}
		items = next
		if len(items) <= 1 {
			break
		}
		level++
	}

	if len(items) == 0 {
		return indexBuildResult{}, nil
	}

	iheadLnum, iheadOffsRaw := wh.position()
	iheadOffs := alignTo(iheadOffsRaw, cfg.MinIOSize)
	if err := wh.flush(); err != nil {
		return indexBuildResult{}, err
	}

	return indexBuildResult{
		Zroot:     items[0].branch,
		ZrootHash: items[0].hash,
		IheadLnum: iheadLnum,
		IheadOffs: iheadOffs,
	}, nil
}

// buildLevel packs up to cfg.Fanout items per index node at the given
// level and writes each node through the write head, returning one
// levelItem per node written — the next level's input.
func buildLevel(cfg *Config, wh *writeHead, items []levelItem, level int, hashAlgo HashAlgo) ([]levelItem, error) {
	var out []levelItem
	for start := 0; start < len(items); start += cfg.Fanout {
		end := start + cfg.Fanout
		if end > len(items) {
			end = len(items)
		}
		group := items[start:end]

		branches := make([]Branch, len(group))
		hashes := make([][]byte, len(group))
		for i, it := range group {
			branches[i] = it.branch
			hashes[i] = it.hash
		}

		node := encodeIdxNode(wh.nextSqnum(), level, branches, hashes)
		lnum, offs, err := wh.reserve(len(node))
		if err != nil {
			return nil, err
		}
		copy(wh.buf[offs:], node)

		nodeHash := calcHash(hashAlgo, node)
		out = append(out, levelItem{
			branch: Branch{Key: branches[0].Key, Lnum: uint32(lnum), Offs: uint32(offs), Len: uint32(len(node))},
			hash:   nodeHash,
		})
	}
	return out, nil
}
