package main

import (
	"fmt"
	"os"

	"github.com/flashimg/mkfs-ubifs"
)

const usage = `mkfs-ubifs - UBIFS image builder

Usage:
  mkfs-ubifs create -r <source_dir> <image_file>   Build a UBIFS image from a directory tree
  mkfs-ubifs help                                  Show this help message

Options (create):
  -r <dir>        Source directory to image (required)
  -m <size>       Min I/O unit size, e.g. 2048 (default 2048)
  -e <size>       LEB size, e.g. 128KiB (default 128KiB)
  -c <count>      Max LEB count (default 2048)
  -x <none|lzo|zlib|zstd>   Default compressor (default zlib)
  -F              Set the space-fixup superblock flag
  -U              Squash all file owners to uid/gid 0
  --hash-algo <sha1|sha256|sha512>   Node content hash algorithm (default sha1)

Examples:
  mkfs-ubifs create -r ./rootfs -e 128KiB -c 2048 -x lzo image.ubifs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "create":
		if err := runCreate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	case "help":
		fmt.Println(usage)
	default:
		fmt.Printf("Error: unknown command %q\n", os.Args[1])
		fmt.Println(usage)
		os.Exit(1)
	}
}

// createArgs holds the parsed "create" subcommand flags, filled by a hand
// rolled scan rather than the flag package so that a bare positional image
// path can sit after a run of short options, matching mkfs.ubifs's own CLI
// shape.
type createArgs struct {
	sourceRoot  string
	minIOSize   int
	lebSize     int64
	maxLEBCount int
	compr       string
	favorLzo    bool
	spaceFixup  bool
	squashOwner bool
	doubleHash  bool
	hashAlgo    string
	imagePath   string
}

func runCreate(args []string) error {
	a := createArgs{
		minIOSize:   2048,
		lebSize:     128 * 1024,
		maxLEBCount: 2048,
		compr:       "zlib",
		hashAlgo:    "sha1",
	}

	var positional []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-r":
			i++
			if i >= len(args) {
				return fmt.Errorf("-r requires a directory")
			}
			a.sourceRoot = args[i]
		case "-m":
			i++
			if i >= len(args) {
				return fmt.Errorf("-m requires a size")
			}
			v, err := ubifs.ParseSize(args[i])
			if err != nil {
				return err
			}
			a.minIOSize = int(v)
		case "-e":
			i++
			if i >= len(args) {
				return fmt.Errorf("-e requires a size")
			}
			v, err := ubifs.ParseSize(args[i])
			if err != nil {
				return err
			}
			a.lebSize = v
		case "-c":
			i++
			if i >= len(args) {
				return fmt.Errorf("-c requires a count")
			}
			v, err := ubifs.ParseSize(args[i])
			if err != nil {
				return err
			}
			a.maxLEBCount = int(v)
		case "-x":
			i++
			if i >= len(args) {
				return fmt.Errorf("-x requires a compressor name")
			}
			a.compr = args[i]
		case "--favor-lzo":
			a.favorLzo = true
		case "-F":
			a.spaceFixup = true
		case "-U":
			a.squashOwner = true
		case "--double-hash":
			a.doubleHash = true
		case "--hash-algo":
			i++
			if i >= len(args) {
				return fmt.Errorf("--hash-algo requires a name")
			}
			a.hashAlgo = args[i]
		default:
			positional = append(positional, args[i])
		}
	}

	if a.sourceRoot == "" {
		return fmt.Errorf("missing required -r <source_dir>")
	}
	if len(positional) != 1 {
		return fmt.Errorf("expected exactly one image file argument, got %d", len(positional))
	}
	a.imagePath = positional[0]

	compr, err := parseCompression(a.compr)
	if err != nil {
		return err
	}
	hashAlgo, err := parseHashAlgo(a.hashAlgo)
	if err != nil {
		return err
	}

	cfg, err := ubifs.NewConfig(
		ubifs.WithSourceRoot(a.sourceRoot),
		ubifs.WithMinIOSize(a.minIOSize),
		ubifs.WithLEBSize(int(a.lebSize)),
		ubifs.WithMaxLEBCount(a.maxLEBCount),
		ubifs.WithCompression(compr, a.favorLzo, 20),
		ubifs.WithSpaceFixup(a.spaceFixup),
		ubifs.WithSquashOwner(a.squashOwner),
		ubifs.WithDoubleHash(a.doubleHash),
		ubifs.WithHashAlgo(hashAlgo),
	)
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	f, err := os.Create(a.imagePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", a.imagePath, err)
	}

	target := ubifs.NewFileTarget(f, cfg.LEBSize)
	b, err := ubifs.NewBuilder(cfg, target)
	if err != nil {
		target.Close()
		return err
	}

	if err := b.Build(); err != nil {
		target.Close()
		return fmt.Errorf("build image: %w", err)
	}
	return target.Close()
}

func parseHashAlgo(name string) (ubifs.HashAlgo, error) {
	switch name {
	case "", "sha1":
		return ubifs.HashSHA1, nil
	case "sha256":
		return ubifs.HashSHA256, nil
	case "sha512":
		return ubifs.HashSHA512, nil
	default:
		return 0, fmt.Errorf("unknown hash algo %q", name)
	}
}

func parseCompression(name string) (ubifs.CompressionType, error) {
	switch name {
	case "none":
		return ubifs.ComprNone, nil
	case "lzo":
		return ubifs.ComprLzo, nil
	case "zlib":
		return ubifs.ComprZlib, nil
	case "zstd":
		return ubifs.ComprZstd, nil
	default:
		return 0, fmt.Errorf("unknown compressor %q", name)
	}
}
