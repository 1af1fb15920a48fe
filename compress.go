package ubifs

import (
	"bytes"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/woozymasta/lzo"
)

// CompressionType tags which compressor, if any, produced a block's bytes.
type CompressionType uint8

const (
	ComprNone CompressionType = iota
	ComprLzo
	ComprZlib
	ComprZstd
)

func (c CompressionType) String() string {
	switch c {
	case ComprLzo:
		return "lzo"
	case ComprZlib:
		return "zlib"
	case ComprZstd:
		return "zstd"
	default:
		return "none"
	}
}

// minComprLen is the threshold below which data is stored verbatim,
// regardless of the requested compressor.
const minComprLen = 64

// compressor is the uniform capability every compression backend
// implements; the favor-lzo policy composes two of these rather than being
// one itself.
type compressor interface {
	compress(in []byte) ([]byte, error)
	kind() CompressionType
}

type noneCompressor struct{}

func (noneCompressor) compress(in []byte) ([]byte, error) { return in, nil }
func (noneCompressor) kind() CompressionType              { return ComprNone }

type lzoCompressor struct{}

func (lzoCompressor) compress(in []byte) ([]byte, error) {
	return lzo.Compress1X999(in)
}
func (lzoCompressor) kind() CompressionType { return ComprLzo }

// zlibCompressor produces raw-deflate output in place of compr.c's
// zlib_deflate (default compression level, raw/headerless stream, memLevel
// 8, default strategy). klauspost/compress/flate's raw deflate writer
// matches the headerless wire format, but NOT the window size: compr.c
// configures zlib with windowBits -11 (a 2 KiB window) while flate.Writer
// always uses the full 32 KiB DEFLATE window (the public API has no
// smaller-window knob). For the 4 KiB blocks this backend compresses, that
// means a block can carry a back-reference further back than a genuine
// windowBits-11 zlib_inflate could resolve. This is a known divergence from
// compr.c, not a byte-compatible reimplementation; see DESIGN.md.
type zlibCompressor struct{}

func (zlibCompressor) compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func (zlibCompressor) kind() CompressionType { return ComprZlib }

type zstdCompressor struct {
	enc *zstd.Encoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{enc: enc}, nil
}

func (z *zstdCompressor) compress(in []byte) ([]byte, error) {
	return z.enc.EncodeAll(in, nil), nil
}
func (*zstdCompressor) kind() CompressionType { return ComprZstd }

// compressionRouter implements the compress(in, requested) -> (out, chosen)
// contract: below the minimum length everything is verbatim; in favor-lzo
// mode both lzo and zlib run and the smaller (within favorPercent) wins;
// otherwise the requested backend runs, falling back to verbatim if it
// fails or does not shrink the input.
type compressionRouter struct {
	favorLzo     bool
	favorPercent int
	encrypted    bool

	lzo  lzoCompressor
	zlib zlibCompressor
	zstd *zstdCompressor

	log *logrus.Entry

	// comprFailures counts every fallback-to-verbatim caused by a
	// compressor error, printed once at the end of the build regardless
	// of overall success.
	comprFailures *uint64
}

func newCompressionRouter(favorLzo bool, favorPercent int, encrypted bool, log *logrus.Entry, failures *uint64) (*compressionRouter, error) {
	zc, err := newZstdCompressor()
	if err != nil {
		return nil, err
	}
	return &compressionRouter{
		favorLzo:      favorLzo,
		favorPercent:  favorPercent,
		encrypted:     encrypted,
		zstd:          zc,
		log:           log.WithField("component", "compress"),
		comprFailures: failures,
	}, nil
}

// compress applies the spec's compression selection rule and always
// succeeds: on any failure to shrink the input it returns the verbatim
// bytes tagged ComprNone.
func (r *compressionRouter) compress(in []byte, requested CompressionType) ([]byte, CompressionType) {
	if r.encrypted {
		requested = ComprNone
	}
	if len(in) < minComprLen || requested == ComprNone {
		return in, ComprNone
	}

	if r.favorLzo {
		return r.favorLzoCompress(in)
	}

	var c compressor
	switch requested {
	case ComprLzo:
		c = r.lzo
	case ComprZlib:
		c = r.zlib
	case ComprZstd:
		c = r.zstd
	default:
		return in, ComprNone
	}

	out, err := c.compress(in)
	if err != nil {
		r.fail(err)
		return in, ComprNone
	}
	if len(out) >= len(in) {
		return in, ComprNone
	}
	return out, c.kind()
}

// favorLzoCompress compresses with both lzo and zlib and selects lzo unless
// zlib beats it by more than favorPercent, matching compr.c's
// favor_lzo_compress.
func (r *compressionRouter) favorLzoCompress(in []byte) ([]byte, CompressionType) {
	lzoOut, lzoErr := r.lzo.compress(in)
	zlibOut, zlibErr := r.zlib.compress(in)

	switch {
	case lzoErr != nil && zlibErr != nil:
		r.fail(lzoErr)
		return in, ComprNone
	case lzoErr != nil:
		out := zlibOut
		if len(out) >= len(in) {
			return in, ComprNone
		}
		return out, ComprZlib
	case zlibErr != nil:
		out := lzoOut
		if len(out) >= len(in) {
			return in, ComprNone
		}
		return out, ComprLzo
	}

	if len(lzoOut) <= len(zlibOut) {
		if len(lzoOut) >= len(in) {
			return in, ComprNone
		}
		return lzoOut, ComprLzo
	}
	percent := float64(len(zlibOut)) / float64(len(lzoOut)) * 100
	if percent > float64(100-r.favorPercent) {
		if len(lzoOut) >= len(in) {
			return in, ComprNone
		}
		return lzoOut, ComprLzo
	}
	if len(zlibOut) >= len(in) {
		return in, ComprNone
	}
	return zlibOut, ComprZlib
}

func (r *compressionRouter) fail(err error) {
	*r.comprFailures++
	r.log.WithError(err).Warn("compression failed, falling back to verbatim")
}
