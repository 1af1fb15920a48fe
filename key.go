package ubifs

// Key packs an inode number, a type tag, and a discriminator into a single
// totally-ordered value, following the on-disk key format: the high word is
// the inode number, the low word carries a 3-bit type tag in its top bits
// and a 29-bit discriminator (block index for data keys, name hash for
// dentry/xattr-entry keys) in the rest.
type Key uint64

// KeyType identifies what a Key addresses.
type KeyType uint8

const (
	KeyTypeIno KeyType = iota
	KeyTypeData
	KeyTypeDent
	KeyTypeXent
)

const (
	keyBlockBits = 29
	keyBlockMask = (1 << keyBlockBits) - 1
	keyTypeShift = keyBlockBits
)

// MakeKey packs an inode number, type tag, and discriminator into a Key.
func MakeKey(inum uint32, typ KeyType, discriminator uint32) Key {
	low := (uint64(typ) << keyTypeShift) | (uint64(discriminator) & keyBlockMask)
	return Key(uint64(inum)<<32 | low)
}

// Inum extracts the inode number component of a key.
func (k Key) Inum() uint32 {
	return uint32(k >> 32)
}

// Type extracts the type tag component of a key.
func (k Key) Type() KeyType {
	return KeyType((uint32(k) >> keyTypeShift) & 0x7)
}

// Discriminator extracts the block index or name hash component of a key.
func (k Key) Discriminator() uint32 {
	return uint32(k) & keyBlockMask
}

// Less orders two keys first by packed integer value, matching the on-disk
// B-tree ordering used by the index builder.
func (k Key) Less(other Key) bool {
	return k < other
}

// KeyHash selects the name-hashing algorithm used to build dentry and
// xattr-entry key discriminators.
type KeyHash int

const (
	KeyHashR5 KeyHash = iota
	KeyHashTest
)

// HashName hashes a directory entry or xattr entry name into a 29-bit
// discriminator, using the configured algorithm.
func HashName(h KeyHash, name string) uint32 {
	switch h {
	case KeyHashTest:
		return testHash(name)
	default:
		return r5Hash(name)
	}
}

// r5Hash is the rolling multiply-by-11 hash used by the default key hash
// algorithm: accumulate the high and low nibble contributions of every byte,
// multiplying by 11 between bytes, then mask to 29 bits.
func r5Hash(name string) uint32 {
	var a int32
	for i := 0; i < len(name); i++ {
		c := int8(name[i])
		a += int32(c) << 4
		a += int32(c) >> 4
		a *= 11
	}
	return uint32(a) & keyBlockMask
}

// testHash packs the first four bytes of name as a big-endian integer,
// zero-padding short names, then masks to 29 bits. It exists to give test
// fixtures a predictable, easily hand-computed discriminator.
func testHash(name string) uint32 {
	var buf [4]byte
	n := copy(buf[:], name)
	_ = n
	v := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return v & keyBlockMask
}

// dentKeyLess orders two leaves by (key, name) as required by the index
// builder: key first as a packed integer, then lexicographic name, then
// shorter name first on a further tie.
func dentKeyLess(k1 Key, name1 string, k2 Key, name2 string) bool {
	if k1 != k2 {
		return k1 < k2
	}
	if name1 != name2 {
		return name1 < name2
	}
	return false
}
