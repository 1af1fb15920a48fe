package ubifs

import (
	"errors"
	"testing"
)

func TestNewConfigDefaultsToSHA1(t *testing.T) {
	cfg := testConfig(t)
	if cfg.HashAlgo != HashSHA1 {
		t.Fatalf("default HashAlgo = %v, want HashSHA1", cfg.HashAlgo)
	}
	if cfg.hashLen != 20 {
		t.Fatalf("default hashLen = %d, want 20 for sha1", cfg.hashLen)
	}
}

func TestWithHashAlgoDerivesHashLen(t *testing.T) {
	cases := map[HashAlgo]int{
		HashSHA1:   20,
		HashSHA256: 32,
		HashSHA512: 64,
	}
	for algo, wantLen := range cases {
		cfg, err := NewConfig(
			WithSourceRoot("."),
			WithMinIOSize(512),
			WithLEBSize(4096),
			WithMaxLEBCount(64),
			WithHashAlgo(algo),
		)
		if err != nil {
			t.Fatalf("NewConfig with hash algo %v: %v", algo, err)
		}
		if cfg.hashLen != wantLen {
			t.Fatalf("hashLen for algo %v = %d, want %d", algo, cfg.hashLen, wantLen)
		}
	}
}

func TestWithHashAlgoRejectsUnknownValue(t *testing.T) {
	_, err := NewConfig(
		WithSourceRoot("."),
		WithMinIOSize(512),
		WithLEBSize(4096),
		WithMaxLEBCount(64),
		WithHashAlgo(HashAlgo(99)),
	)
	if err == nil {
		t.Fatalf("expected an error for an unknown hash algo")
	}
	if !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("error = %v, want wrapping ErrInvalidOption", err)
	}
}
