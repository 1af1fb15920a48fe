package ubifs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Geometry and node size constants mirrored from the UBIFS on-disk format.
const (
	RootIno = 1

	// WithLEBSize accepts 4 KiB..256 MiB; the minimum still holds the
	// superblock node plus slack.
	minAllowedLEBSize = 4 * 1024
	maxAllowedLEBSize = 256 * 1024 * 1024

	minAllowedMinIOSize = 8
	maxAllowedMinIOSize = 64 * 1024

	defaultFanout       = 8
	defaultOrphLebs     = 1
	defaultLogLebs      = 4
	defaultMaxBudBytes  = 15 * 1024 * 1024
	defaultFavorPercent = 20
	defaultBlockSize    = 4096 // UBIFS_BLOCK_SIZE

	logFirstLnum = 3 // LEB 0 = sb, 1-2 = master, log starts at 3

	minWriteSize  = 8
	ubifsMaxNodeSize = 4*1024 + 512 // UBIFS_MAX_NODE_SZ-ish upper bound for index/inode nodes
)

// Config holds every geometry, policy, and derived constant the builder
// needs, created once from options and mutated only by validation and by
// the builder advancing its running counters.
type Config struct {
	// Device geometry.
	MinIOSize  int
	LEBSize    int
	MaxLEBCnt  int

	// Tree parameters.
	Fanout     int
	KeyHashAlg KeyHash
	HashAlgo   HashAlgo

	// Policies.
	DefaultCompr CompressionType
	FavorLzo     bool
	FavorPercent int
	RPSize       int64
	MaxBudBytes  int64
	SpaceFixup   bool
	DoubleHash   bool
	Encrypted    bool
	SquashOwner  bool
	SetInodeAttr bool

	LogLebs  int
	OrphLebs int

	SourceRoot     string
	DeviceTable    DeviceTable
	SELinuxLabeler SELinuxLabeler
	XattrSource    XattrSource
	FnameEnc       FnameEncryptor
	DataEnc        DataEncryptor
	SbSign         SbSigner

	Logger logrus.FieldLogger

	// Derived constants, computed by validate().
	mainFirst int
	deadWM    int
	darkWM    int
	hashLen   int
}

// Option configures a Config; every option validates its own input so
// construction fails fast before any I/O happens.
type Option func(*Config) error

// WithMinIOSize sets the minimum I/O unit size (the -m flag).
func WithMinIOSize(size int) Option {
	return func(c *Config) error {
		if size < minAllowedMinIOSize || size > maxAllowedMinIOSize || size&(size-1) != 0 {
			return fmt.Errorf("min io size %d: %w", size, ErrGeometry)
		}
		c.MinIOSize = size
		return nil
	}
}

// WithLEBSize sets the logical erase block size (the -e flag).
func WithLEBSize(size int) Option {
	return func(c *Config) error {
		if size < minAllowedLEBSize || size > maxAllowedLEBSize {
			return fmt.Errorf("leb size %d: %w", size, ErrGeometry)
		}
		c.LEBSize = size
		return nil
	}
}

// WithMaxLEBCount sets the maximum number of LEBs the target may hold (the
// -c flag).
func WithMaxLEBCount(count int) Option {
	return func(c *Config) error {
		if count < 8 {
			return fmt.Errorf("max leb count %d: %w", count, ErrGeometry)
		}
		c.MaxLEBCnt = count
		return nil
	}
}

// WithFanout sets the index B-tree fanout (the -f flag).
func WithFanout(fanout int) Option {
	return func(c *Config) error {
		if fanout < 3 {
			return fmt.Errorf("fanout %d: %w", fanout, ErrGeometry)
		}
		c.Fanout = fanout
		return nil
	}
}

// WithCompression sets the default compressor (the -x flag).
func WithCompression(typ CompressionType, favorLzo bool, favorPercent int) Option {
	return func(c *Config) error {
		if favorPercent < 0 || favorPercent > 100 {
			return fmt.Errorf("favor percent %d: %w", favorPercent, ErrInvalidOption)
		}
		c.DefaultCompr = typ
		c.FavorLzo = favorLzo
		c.FavorPercent = favorPercent
		return nil
	}
}

// WithKeyHash sets the directory-entry/xattr key hash algorithm (the -k
// flag).
func WithKeyHash(h KeyHash) Option {
	return func(c *Config) error {
		c.KeyHashAlg = h
		return nil
	}
}

// WithHashAlgo sets the node content hash used by calc_hash/hash_node for
// branch and signature hashing (the --hash-algo flag).
func WithHashAlgo(h HashAlgo) Option {
	return func(c *Config) error {
		switch h {
		case HashSHA1, HashSHA256, HashSHA512:
		default:
			return fmt.Errorf("hash algo %d: %w", h, ErrInvalidOption)
		}
		c.HashAlgo = h
		return nil
	}
}

// WithSquashOwner zeroes uid/gid for every inode (the -U flag).
func WithSquashOwner(v bool) Option {
	return func(c *Config) error {
		c.SquashOwner = v
		return nil
	}
}

// WithSetInodeAttr synthesizes an image-inode-number xattr per inode (the
// -a flag).
func WithSetInodeAttr(v bool) Option {
	return func(c *Config) error {
		c.SetInodeAttr = v
		return nil
	}
}

// WithSpaceFixup sets the SPACE_FIXUP superblock flag (the -F flag).
func WithSpaceFixup(v bool) Option {
	return func(c *Config) error {
		c.SpaceFixup = v
		return nil
	}
}

// WithDoubleHash enables the double-hash dentry cookie and bumps
// format_version to 5.
func WithDoubleHash(v bool) Option {
	return func(c *Config) error {
		c.DoubleHash = v
		return nil
	}
}

// WithEncrypted marks the image as carrying fscrypt contexts; it forces the
// compression router to NONE by default and bumps format_version to 5.
func WithEncrypted(v bool) Option {
	return func(c *Config) error {
		c.Encrypted = v
		return nil
	}
}

// WithOrphLebs sets the number of orphan-area LEBs (the -p flag).
func WithOrphLebs(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("orphan lebs %d: %w", n, ErrGeometry)
		}
		c.OrphLebs = n
		return nil
	}
}

// WithLogLebs sets the number of log-area LEBs (the -l flag).
func WithLogLebs(n int) Option {
	return func(c *Config) error {
		if n < 2 {
			return fmt.Errorf("log lebs %d: %w", n, ErrGeometry)
		}
		c.LogLebs = n
		return nil
	}
}

// WithSourceRoot sets the host directory the image is built from (the -r
// flag).
func WithSourceRoot(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return fmt.Errorf("empty source root: %w", ErrInvalidOption)
		}
		c.SourceRoot = dir
		return nil
	}
}

// WithDeviceTable installs a device-table lookup (the -D flag).
func WithDeviceTable(dt DeviceTable) Option {
	return func(c *Config) error {
		c.DeviceTable = dt
		return nil
	}
}

// WithSELinuxLabeler installs a security-context labeler (the -s flag).
func WithSELinuxLabeler(l SELinuxLabeler) Option {
	return func(c *Config) error {
		c.SELinuxLabeler = l
		return nil
	}
}

// WithXattrSource installs a host extended-attribute collector.
func WithXattrSource(x XattrSource) Option {
	return func(c *Config) error {
		c.XattrSource = x
		return nil
	}
}

// WithFnameEncryptor installs an fscrypt filename encryption capability.
func WithFnameEncryptor(e FnameEncryptor) Option {
	return func(c *Config) error {
		c.FnameEnc = e
		return nil
	}
}

// WithDataEncryptor installs an fscrypt data encryption capability.
func WithDataEncryptor(e DataEncryptor) Option {
	return func(c *Config) error {
		c.DataEnc = e
		return nil
	}
}

// WithSbSigner installs a superblock-signing capability (--auth-key /
// --auth-cert).
func WithSbSigner(s SbSigner) Option {
	return func(c *Config) error {
		c.SbSign = s
		return nil
	}
}

// WithLogger overrides the default logrus logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) error {
		if l == nil {
			return fmt.Errorf("nil logger: %w", ErrInvalidOption)
		}
		c.Logger = l
		return nil
	}
}

// NewConfig builds a Config from defaults plus the given options, then
// validates geometry and computes derived constants.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		MinIOSize:    2048,
		LEBSize:      128 * 1024,
		MaxLEBCnt:    2048,
		Fanout:       defaultFanout,
		KeyHashAlg:   KeyHashR5,
		HashAlgo:     HashSHA1,
		DefaultCompr: ComprZlib,
		FavorPercent: defaultFavorPercent,
		MaxBudBytes:  defaultMaxBudBytes,
		LogLebs:      defaultLogLebs,
		OrphLebs:     defaultOrphLebs,
		Logger:       logrus.StandardLogger(),
		DeviceTable:    noDeviceTable{},
		SELinuxLabeler: noSELinuxLabeler{},
		XattrSource:    noXattrSource{},
		FnameEnc:     noopFnameEncryptor{},
		DataEnc:      noopDataEncryptor{},
		SbSign:       noopSbSigner{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// validate checks cross-field geometry constraints and computes the
// derived constants (main_first, watermarks, hash length).
func (c *Config) validate() error {
	if c.LEBSize%c.MinIOSize != 0 {
		return fmt.Errorf("leb size %d not a multiple of min io size %d: %w", c.LEBSize, c.MinIOSize, ErrGeometry)
	}
	lptLebs, _ := calcLPTLebs(c.LEBSize, c.MaxLEBCnt)
	c.mainFirst = logFirstLnum + c.LogLebs + lptLebs + c.OrphLebs
	if c.mainFirst+3 > c.MaxLEBCnt {
		return fmt.Errorf("max leb count %d too small for fixed areas: %w", c.MaxLEBCnt, ErrCapacity)
	}
	c.deadWM = alignTo(minWriteSize, c.MinIOSize)
	c.darkWM = alignTo(ubifsMaxNodeSize, c.MinIOSize)
	c.hashLen = hashLenFor(c.HashAlgo)
	return nil
}

// FormatVersion returns 5 when double_hash or encryption is enabled, else
// 4, per the layout emitter's rule.
func (c *Config) FormatVersion() int {
	if c.DoubleHash || c.Encrypted {
		return 5
	}
	return 4
}

// calcLPTLebs is a conservative estimate of the number of LEBs the LPT
// codec needs for a given LEB size and max LEB count; the real packed-tree
// size depends on the LPT codec (external per the spec), so this reserves
// enough headroom for small-to-medium images.
func calcLPTLebs(lebSize, maxLebCnt int) (int, error) {
	// Each LEB needs roughly 2 bytes of packed LPT entry (bits for free
	// space plus flags); round up generously and ensure at least 2 LEBs
	// so the LPT area is never degenerate.
	bitsPerEntry := 12
	totalBits := maxLebCnt * bitsPerEntry
	bytesNeeded := (totalBits + 7) / 8
	n := (bytesNeeded + lebSize - 1) / lebSize
	if n < 2 {
		n = 2
	}
	return n, nil
}
