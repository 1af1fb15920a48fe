package ubifs

import "testing"

func TestInumMappingTableLookupAndInsert(t *testing.T) {
	tbl := newInumMappingTable()
	key := devIno{Dev: 1, Ino: 100}

	if _, ok := tbl.lookup(key); ok {
		t.Fatalf("expected no mapping before insert")
	}

	e := tbl.insert(key, 42, "/src/a", nil)
	if e.UseInum != 42 || e.UseNlink != 1 {
		t.Fatalf("insert returned wrong entry: %+v", e)
	}

	got, ok := tbl.lookup(key)
	if !ok {
		t.Fatalf("expected mapping after insert")
	}
	if got.UseInum != 42 {
		t.Fatalf("lookup UseInum = %d, want 42", got.UseInum)
	}

	got.UseNlink++
	again, _ := tbl.lookup(key)
	if again.UseNlink != 2 {
		t.Fatalf("UseNlink mutation not visible through map, got %d", again.UseNlink)
	}
}

func TestInumMappingTableEntriesSortedByInum(t *testing.T) {
	tbl := newInumMappingTable()
	tbl.insert(devIno{Dev: 1, Ino: 3}, 30, "/c", nil)
	tbl.insert(devIno{Dev: 1, Ino: 1}, 10, "/a", nil)
	tbl.insert(devIno{Dev: 1, Ino: 2}, 20, "/b", nil)

	entries := tbl.entries()
	if len(entries) != 3 {
		t.Fatalf("entries() len = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].UseInum >= entries[i].UseInum {
			t.Fatalf("entries() not sorted by UseInum: %d before %d", entries[i-1].UseInum, entries[i].UseInum)
		}
	}
}
