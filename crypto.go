package ubifs

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// HashAlgo selects the hash used for calc_hash/hash_node (node content
// hashing for authentication, independent of the CRC-32 in the common
// header).
type HashAlgo int

const (
	HashSHA1 HashAlgo = iota
	HashSHA256
	HashSHA512
)

// newHasher returns a fresh hash.Hash for the given algorithm. The standard
// library is used directly here: sha1/sha256/sha512 are exact, canonical
// implementations and no third-party package in the retrieved corpus
// improves on them for this.
func newHasher(a HashAlgo) hash.Hash {
	switch a {
	case HashSHA512:
		return sha512.New()
	case HashSHA256:
		return sha256.New()
	default:
		return sha1.New()
	}
}

// calcHash hashes a node's bytes with the configured algorithm, producing
// the per-node authentication digest referenced by calc_hash/hash_node.
func calcHash(a HashAlgo, node []byte) []byte {
	h := newHasher(a)
	h.Write(node)
	return h.Sum(nil)
}

// hashLenFor returns the digest width calc_hash produces for a, used to
// size branch hashes (config.go's hash_len) without hashing anything.
func hashLenFor(a HashAlgo) int {
	switch a {
	case HashSHA512:
		return sha512.Size
	case HashSHA256:
		return sha256.Size
	default:
		return sha1.Size
	}
}

// FnameEncryptor encrypts directory entry names and symlink targets under
// an fscrypt context. The core stays oblivious to the actual cipher; a
// no-op default lets unencrypted images skip the capability entirely.
type FnameEncryptor interface {
	EncryptName(ctx *FscryptContext, name string) (string, error)
}

// DataEncryptor encrypts file data blocks under an fscrypt context.
type DataEncryptor interface {
	EncryptData(ctx *FscryptContext, block []byte) ([]byte, error)
}

// SbSigner produces a signature node appended after the superblock node, or
// reports that signing is disabled.
type SbSigner interface {
	SignSuperblock(sb []byte) (sig []byte, ok bool, err error)
}

// FscryptContext carries the per-directory encryption policy inherited by
// children during traversal; nil means the subtree is unencrypted.
type FscryptContext struct {
	Cipher        string
	KeyDescriptor []byte
	PaddingFlag   int // one of {4, 8, 16, 32}
}

type noopFnameEncryptor struct{}

func (noopFnameEncryptor) EncryptName(_ *FscryptContext, name string) (string, error) {
	return name, nil
}

type noopDataEncryptor struct{}

func (noopDataEncryptor) EncryptData(_ *FscryptContext, block []byte) ([]byte, error) {
	return block, nil
}

type noopSbSigner struct{}

func (noopSbSigner) SignSuperblock(_ []byte) ([]byte, bool, error) {
	return nil, false, nil
}
