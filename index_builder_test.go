package ubifs

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestBuildIndexSingleLeafBecomesRoot(t *testing.T) {
	cfg, err := NewConfig(WithMinIOSize(512), WithLEBSize(4096), WithMaxLEBCount(64), WithFanout(4), WithSourceRoot("."))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	target := newMemTarget(cfg.LEBSize)
	lp := newLpropsTable(cfg)
	idx := newIndexList()
	var sqnum uint64
	wh := newWriteHead(cfg, target, lp, idx, &sqnum, logrus.NewEntry(logrus.New()))

	k := MakeKey(RootIno, KeyTypeIno, 0)
	node := encodeInodeNode(wh.nextSqnum(), InodeNode{Nlink: 2, Mode: 0755}, nil)
	if err := wh.addNode(k, "", node, calcHash(HashSHA1, node)); err != nil {
		t.Fatalf("addNode: %v", err)
	}
	if _, err := wh.setIndexMode(); err != nil {
		t.Fatalf("setIndexMode: %v", err)
	}

	result, err := buildIndex(cfg, wh, idx, HashSHA1)
	if err != nil {
		t.Fatalf("buildIndex: %v", err)
	}
	if result.Zroot.Key != k {
		t.Fatalf("root branch key = %v, want %v", result.Zroot.Key, k)
	}
	if len(result.ZrootHash) == 0 {
		t.Fatalf("expected non-empty root hash")
	}
}

func TestBuildIndexMultiLevelConverges(t *testing.T) {
	cfg, err := NewConfig(WithMinIOSize(512), WithLEBSize(4096), WithMaxLEBCount(256), WithFanout(3), WithSourceRoot("."))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	target := newMemTarget(cfg.LEBSize)
	lp := newLpropsTable(cfg)
	idx := newIndexList()
	var sqnum uint64
	wh := newWriteHead(cfg, target, lp, idx, &sqnum, logrus.NewEntry(logrus.New()))

	// Fanout of 3 with 9 leaves forces two index levels (9 -> 3 -> 1),
	// exercising the "stop when exactly one node remains" loop condition.
	for i := uint32(0); i < 9; i++ {
		k := MakeKey(RootIno+i, KeyTypeIno, 0)
		node := encodeInodeNode(wh.nextSqnum(), InodeNode{Nlink: 1, Mode: 0644}, nil)
		if err := wh.addNode(k, "", node, calcHash(HashSHA1, node)); err != nil {
			t.Fatalf("addNode: %v", err)
		}
	}
	if _, err := wh.setIndexMode(); err != nil {
		t.Fatalf("setIndexMode: %v", err)
	}

	result, err := buildIndex(cfg, wh, idx, HashSHA1)
	if err != nil {
		t.Fatalf("buildIndex: %v", err)
	}
	if result.Zroot.Len == 0 {
		t.Fatalf("expected a non-empty root branch")
	}
}

func TestBuildIndexHonorsConfiguredHashAlgo(t *testing.T) {
	cfg, err := NewConfig(WithMinIOSize(512), WithLEBSize(4096), WithMaxLEBCount(64), WithFanout(4), WithSourceRoot("."), WithHashAlgo(HashSHA256))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	target := newMemTarget(cfg.LEBSize)
	lp := newLpropsTable(cfg)
	idx := newIndexList()
	var sqnum uint64
	wh := newWriteHead(cfg, target, lp, idx, &sqnum, logrus.NewEntry(logrus.New()))

	k := MakeKey(RootIno, KeyTypeIno, 0)
	node := encodeInodeNode(wh.nextSqnum(), InodeNode{Nlink: 2, Mode: 0755}, nil)
	if err := wh.addNode(k, "", node, calcHash(cfg.HashAlgo, node)); err != nil {
		t.Fatalf("addNode: %v", err)
	}
	if _, err := wh.setIndexMode(); err != nil {
		t.Fatalf("setIndexMode: %v", err)
	}

	result, err := buildIndex(cfg, wh, idx, cfg.HashAlgo)
	if err != nil {
		t.Fatalf("buildIndex: %v", err)
	}
	if len(result.ZrootHash) != 32 {
		t.Fatalf("ZrootHash len = %d, want 32 for sha256", len(result.ZrootHash))
	}
	if cfg.hashLen != 32 {
		t.Fatalf("cfg.hashLen = %d, want 32 for sha256", cfg.hashLen)
	}
}

func TestBuildLevelGroupsByFanout(t *testing.T) {
	cfg, err := NewConfig(WithMinIOSize(512), WithLEBSize(4096), WithMaxLEBCount(64), WithFanout(3), WithSourceRoot("."))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	target := newMemTarget(cfg.LEBSize)
	lp := newLpropsTable(cfg)
	idx := newIndexList()
	var sqnum uint64
	wh := newWriteHead(cfg, target, lp, idx, &sqnum, logrus.NewEntry(logrus.New()))

	items := make([]levelItem, 7) // fanout 3 over 7 items -> 3 groups (3,3,1)
	for i := range items {
		items[i] = levelItem{branch: Branch{Key: MakeKey(uint32(i), KeyTypeIno, 0), Len: 8}, hash: []byte{byte(i)}}
	}

	out, err := buildLevel(cfg, wh, items, 0, HashSHA1)
	if err != nil {
		t.Fatalf("buildLevel: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("buildLevel produced %d nodes, want 3 for 7 items at fanout 3", len(out))
	}
}
