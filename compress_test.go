package ubifs

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestRouter(t *testing.T, favorLzo bool, encrypted bool) (*compressionRouter, *uint64) {
	t.Helper()
	var failures uint64
	log := logrus.NewEntry(logrus.New())
	r, err := newCompressionRouter(favorLzo, defaultFavorPercent, encrypted, log, &failures)
	if err != nil {
		t.Fatalf("newCompressionRouter: %v", err)
	}
	return r, &failures
}

func repeatBytes(n int) []byte {
	return bytes.Repeat([]byte("abcdefgh"), n)
}

func TestCompressBelowMinLenStaysVerbatim(t *testing.T) {
	r, _ := newTestRouter(t, false, false)
	in := []byte("short")
	out, chosen := r.compress(in, ComprZlib)
	if chosen != ComprNone {
		t.Fatalf("chosen = %v, want ComprNone for input shorter than minComprLen", chosen)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("expected verbatim passthrough for short input")
	}
}

func TestCompressZlibShrinksCompressibleInput(t *testing.T) {
	r, _ := newTestRouter(t, false, false)
	in := repeatBytes(64) // highly compressible, well above minComprLen
	out, chosen := r.compress(in, ComprZlib)
	if chosen != ComprZlib {
		t.Fatalf("chosen = %v, want ComprZlib", chosen)
	}
	if len(out) >= len(in) {
		t.Fatalf("compressed output (%d) not smaller than input (%d)", len(out), len(in))
	}
}

func TestCompressEncryptedForcesNone(t *testing.T) {
	r, _ := newTestRouter(t, false, true)
	in := repeatBytes(64)
	_, chosen := r.compress(in, ComprZlib)
	if chosen != ComprNone {
		t.Fatalf("chosen = %v, want ComprNone when encrypted", chosen)
	}
}

func TestCompressNoneRequestedStaysVerbatim(t *testing.T) {
	r, _ := newTestRouter(t, false, false)
	in := repeatBytes(64)
	out, chosen := r.compress(in, ComprNone)
	if chosen != ComprNone || !bytes.Equal(out, in) {
		t.Fatalf("requested ComprNone did not stay verbatim")
	}
}

func TestFavorLzoPicksASmallerOutput(t *testing.T) {
	r, _ := newTestRouter(t, true, false)
	in := repeatBytes(256)
	out, chosen := r.compress(in, ComprZlib)
	if chosen != ComprLzo && chosen != ComprZlib {
		t.Fatalf("favor-lzo chose unexpected compressor %v", chosen)
	}
	if len(out) >= len(in) {
		t.Fatalf("favor-lzo output not smaller than input")
	}
}

func TestCompressionTypeString(t *testing.T) {
	cases := map[CompressionType]string{
		ComprNone: "none",
		ComprLzo:  "lzo",
		ComprZlib: "zlib",
		ComprZstd: "zstd",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Fatalf("%v.String() = %q, want %q", typ, got, want)
		}
	}
}
