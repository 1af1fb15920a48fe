package ubifs

import "testing"

func TestMakeKeyRoundTrip(t *testing.T) {
	k := MakeKey(42, KeyTypeDent, 0x1234567)
	if got := k.Inum(); got != 42 {
		t.Fatalf("Inum() = %d, want 42", got)
	}
	if got := k.Type(); got != KeyTypeDent {
		t.Fatalf("Type() = %v, want KeyTypeDent", got)
	}
	if got := k.Discriminator(); got != 0x1234567 {
		t.Fatalf("Discriminator() = %x, want %x", got, 0x1234567)
	}
}

func TestKeyOrderingByInum(t *testing.T) {
	a := MakeKey(1, KeyTypeIno, 0)
	b := MakeKey(2, KeyTypeIno, 0)
	if !a.Less(b) {
		t.Fatalf("expected key for inum 1 to sort before inum 2")
	}
}

func TestKeyOrderingByType(t *testing.T) {
	ino := MakeKey(5, KeyTypeIno, 0)
	data := MakeKey(5, KeyTypeData, 0)
	dent := MakeKey(5, KeyTypeDent, 0)
	if !ino.Less(data) {
		t.Fatalf("expected ino key to sort before data key within same inode")
	}
	if !data.Less(dent) {
		t.Fatalf("expected data key to sort before dent key within same inode")
	}
}

func TestDentKeyLessTieBreaksOnName(t *testing.T) {
	k := MakeKey(1, KeyTypeDent, 7)
	if !dentKeyLess(k, "alpha", k, "beta") {
		t.Fatalf("expected alpha to sort before beta on equal keys")
	}
	if dentKeyLess(k, "beta", k, "alpha") {
		t.Fatalf("expected beta to not sort before alpha on equal keys")
	}
	if dentKeyLess(k, "same", k, "same") {
		t.Fatalf("expected equal (key,name) to report false, not less")
	}
}

func TestR5HashDeterministic(t *testing.T) {
	h1 := r5Hash("hello.txt")
	h2 := r5Hash("hello.txt")
	if h1 != h2 {
		t.Fatalf("r5Hash not deterministic: %d != %d", h1, h2)
	}
	if h1 > keyBlockMask {
		t.Fatalf("r5Hash %d exceeds 29-bit mask", h1)
	}
}

func TestR5HashDiffers(t *testing.T) {
	if r5Hash("a") == r5Hash("b") {
		t.Fatalf("expected distinct short names to usually hash differently")
	}
}

func TestTestHashFirstFourBytes(t *testing.T) {
	got := testHash("abcd")
	want := uint32('a')<<24 | uint32('b')<<16 | uint32('c')<<8 | uint32('d')
	want &= keyBlockMask
	if got != want {
		t.Fatalf("testHash(%q) = %x, want %x", "abcd", got, want)
	}
}

func TestTestHashShortNamePadded(t *testing.T) {
	got := testHash("ab")
	want := uint32('a')<<24 | uint32('b')<<16
	want &= keyBlockMask
	if got != want {
		t.Fatalf("testHash(%q) = %x, want %x", "ab", got, want)
	}
}

func TestHashNameSelectsAlgorithm(t *testing.T) {
	name := "file.bin"
	if HashName(KeyHashR5, name) != r5Hash(name) {
		t.Fatalf("HashName(KeyHashR5, ...) did not match r5Hash")
	}
	if HashName(KeyHashTest, name) != testHash(name) {
		t.Fatalf("HashName(KeyHashTest, ...) did not match testHash")
	}
}
