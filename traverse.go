package ubifs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// dentBodySize and inodeBodySize are the fixed, non-variable-length
// portions of a dent and inode node body, used to compute aligned
// directory sizes without re-encoding every child twice.
const (
	dentBodySize  = 24 // Key(8) + Inum(8) + Type(1) + pad(1) + Nlen(2) + Cookie(4)
	xattrFlagBit  = 1 << 4
	inodeFlagXattr = xattrFlagBit
)

func dentNodeSize(name string) int {
	return align8(commonHeaderSize + dentBodySize + len(name) + 1)
}

// Builder owns every piece of mutable state the image-construction engine
// needs: the write head, index list, LEB properties table, inum mapping
// table, and running counters. It replaces the source's file-scope statics
// with an explicit value threaded through every operation.
type Builder struct {
	cfg    *Config
	target Target

	wh      *writeHead
	idxList *indexList
	lprops  *lpropsTable
	inumMap *inumMappingTable
	compr   *compressionRouter

	sqnum         uint64
	highestInum   uint32
	comprFailures uint64

	log *logrus.Entry
}

// NewBuilder creates a Builder ready to traverse a source tree and write
// to target. The caller is responsible for closing target once Build
// returns.
func NewBuilder(cfg *Config, target Target) (*Builder, error) {
	log, ok := cfg.Logger.(*logrus.Logger)
	var entry *logrus.Entry
	if ok {
		entry = logrus.NewEntry(log)
	} else if e, ok := cfg.Logger.(*logrus.Entry); ok {
		entry = e
	} else {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}

	b := &Builder{
		cfg:         cfg,
		target:      target,
		idxList:     newIndexList(),
		lprops:      newLpropsTable(cfg),
		inumMap:     newInumMappingTable(),
		highestInum: RootIno,
		log:         entry.WithField("component", "builder"),
	}
	router, err := newCompressionRouter(cfg.FavorLzo, cfg.FavorPercent, cfg.Encrypted, entry, &b.comprFailures)
	if err != nil {
		return nil, err
	}
	b.compr = router
	b.wh = newWriteHead(cfg, target, b.lprops, b.idxList, &b.sqnum, entry)
	return b, nil
}

// Build walks cfg.SourceRoot, emits every node, builds the index, and
// writes the fixed layout areas. It is the single orchestration entry
// point, analogous to mkfs().
func (b *Builder) Build() error {
	defer b.logCompressionFailures()

	root := b.cfg.SourceRoot
	info, err := os.Lstat(root)
	if err != nil {
		return fmt.Errorf("stat source root %s: %w: %v", root, ErrBadSource, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source root %s is not a directory: %w", root, ErrBadSource)
	}

	if err := b.addDirectory(root, RootIno, nil, info); err != nil {
		return err
	}

	if err := b.addMultiLinkedFiles(); err != nil {
		return err
	}

	gcLnum, err := b.wh.setIndexMode()
	if err != nil {
		return err
	}
	idxResult, err := buildIndex(b.cfg, b.wh, b.idxList, b.cfg.HashAlgo)
	if err != nil {
		return err
	}

	leafCnt := uint32(b.wh.maxLnum)
	if int(leafCnt) > b.cfg.MaxLEBCnt {
		return &BuildError{Op: "build", Lnum: int(leafCnt), Err: fmt.Errorf("built %d lebs, max is %d: %w", leafCnt, b.cfg.MaxLEBCnt, ErrCapacity)}
	}

	emitter := newLayoutEmitter(b.cfg, b.target, &b.sqnum)
	if err := emitter.writeSuperblock(leafCnt, b.cfg.SbSign); err != nil {
		return err
	}

	mst := MstNode{
		HighestInum: uint64(b.highestInum),
		RootLnum:    uint32(idxResult.Zroot.Lnum),
		RootOffs:    uint32(idxResult.Zroot.Offs),
		RootLen:     uint32(idxResult.Zroot.Len),
		LogLnum:     logFirstLnum,
		GCLnum:      uint32(gcLnum),
		IheadLnum:   uint32(idxResult.IheadLnum),
		IheadOffs:   uint32(idxResult.IheadOffs),
		TotalFree:   uint64(b.lprops.stats.TotalFree),
		TotalDirty:  uint64(b.lprops.stats.TotalDirty),
		TotalUsed:   uint64(b.lprops.stats.TotalUsed),
		TotalDead:   uint64(b.lprops.stats.TotalDead),
		TotalDark:   uint64(b.lprops.stats.TotalDark),
		LEBCnt:      leafCnt,
		EmptyLebs:   uint32(b.lprops.stats.EmptyLebs),
		IdxLebs:     uint32(b.lprops.stats.IdxLebs),
	}
	if err := emitter.writeMaster(mst); err != nil {
		return err
	}
	if err := emitter.writeLog(); err != nil {
		return err
	}
	if err := emitter.writeLPT(b.lprops); err != nil {
		return err
	}
	if err := emitter.writeOrphanArea(); err != nil {
		return err
	}

	b.log.WithFields(logrus.Fields{"leb_cnt": leafCnt, "highest_inum": b.highestInum}).Info("image build complete")
	return nil
}

func (b *Builder) logCompressionFailures() {
	if b.comprFailures > 0 {
		b.log.WithField("count", b.comprFailures).Warn("compression failures occurred during build")
	}
}

// pendingChild describes a directory entry not yet emitted as a dentry
// (but whose inode number, if any, is already decided), so the caller can
// compute the child-directory count before writing the parent's own inode.
type pendingChild struct {
	name   string
	inum   uint32
	typ    NodeType
	isDir  bool
	defer_ bool // true if this is a multi-linked non-directory deferred to the post-pass
}

// addDirectory walks one directory level: it drains host-discovered
// entries (recursing into subdirectories and dispatching files by mode),
// then the device table's synthetic children, emits a dentry for each, and
// finally emits the directory's own inode with its accumulated size and
// link count.
func (b *Builder) addDirectory(path string, ino uint32, fctx *FscryptContext, info fs.FileInfo) error {
	hostEntries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read dir %s: %w: %v", path, ErrBadSource, err)
	}
	sort.Slice(hostEntries, func(i, j int) bool { return hostEntries[i].Name() < hostEntries[j].Name() })

	var children []pendingChild
	var dirSize int
	childDirCount := 0

	for _, de := range hostEntries {
		name := de.Name()
		childPath := filepath.Join(path, name)
		childInfo, err := de.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w: %v", childPath, ErrBadSource, err)
		}

		override, hasOverride := b.cfg.DeviceTable.Lookup(path, name)
		if hasOverride && override.IsSynthetic {
			// A synthetic override on a host-discovered path is a
			// configuration error in the device table; the synthetic
			// flag is ignored here. An override is used only for host
			// device nodes (mode, owner and major/minor come from it);
			// a regular file with an override is rejected, and other
			// entry types do not consult it.
			hasOverride = true
		}

		childFctx := fctx
		childName := name
		if fctx != nil {
			encName, err := b.cfg.FnameEnc.EncryptName(fctx, name)
			if err != nil {
				return err
			}
			childName = encName
		}

		if childInfo.IsDir() {
			childIno := b.nextInum()
			if err := b.addDirectory(childPath, childIno, childFctx, childInfo); err != nil {
				return err
			}
			childDirCount++
			children = append(children, pendingChild{name: childName, inum: childIno, typ: NodeTypeDent, isDir: true})
			continue
		}

		dev, rawIno, nlink, _, _, _ := statExtras(childInfo)

		if nlink > 1 {
			key := devIno{Dev: dev, Ino: rawIno}
			if existing, seen := b.inumMap.lookup(key); seen {
				// The inode number for this dev/ino pair was already
				// allocated on the first sighting; a repeat sighting only
				// adds a name, it never allocates (and so never releases)
				// one.
				existing.UseNlink++
				children = append(children, pendingChild{name: childName, inum: existing.UseInum, typ: NodeTypeDent, defer_: true})
				continue
			}
			childIno := b.nextInum()
			b.inumMap.insert(key, childIno, childPath, childInfo)
			children = append(children, pendingChild{name: childName, inum: childIno, typ: NodeTypeDent, defer_: true})
			continue
		}

		childIno := b.nextInum()
		if err := b.addNonDir(childPath, childIno, childInfo, childFctx, hasOverride, override); err != nil {
			return err
		}
		children = append(children, pendingChild{name: childName, inum: childIno, typ: NodeTypeDent})
	}

	for _, syn := range b.cfg.DeviceTable.SyntheticChildren(path) {
		if syn.Override.Mode.IsRegular() {
			return fmt.Errorf("device table %s/%s: %w", path, syn.Name, ErrInvalidOption)
		}
		childIno := b.nextInum()
		if err := b.addDeviceTableInode(childIno, syn.Override); err != nil {
			return err
		}
		children = append(children, pendingChild{name: syn.Name, inum: childIno, typ: NodeTypeDent, isDir: syn.Override.Mode.IsDir()})
		if syn.Override.Mode.IsDir() {
			childDirCount++
		}
	}

	for _, c := range children {
		if err := b.emitDent(ino, c.name, c.inum, dentTypeFor(c)); err != nil {
			return err
		}
		dirSize += dentNodeSize(c.name)
	}

	return b.emitDirInode(path, ino, info, dirSize, 2+childDirCount, fctx)
}

// Directory entry type tags, matching the POSIX d_type convention the
// on-disk dent node reuses.
const (
	dtUnknown = 0
	dtDir     = 4
	dtReg     = 8
)

func dentTypeFor(c pendingChild) uint8 {
	if c.isDir {
		return dtDir
	}
	return dtReg
}

func (b *Builder) nextInum() uint32 {
	b.highestInum++
	return b.highestInum
}

// emitDent writes a directory-entry node naming child under parent. When
// double_hash is enabled, a secondary hash of the name is carried as a
// disambiguation cookie so colliding primary hashes remain distinguishable
// at mount time.
func (b *Builder) emitDent(parentIno uint32, name string, childIno uint32, typ uint8) error {
	hash := HashName(b.cfg.KeyHashAlg, name)
	key := MakeKey(parentIno, KeyTypeDent, hash)
	dn := DentNode{Key: key, Inum: uint64(childIno), Type: typ}
	if b.cfg.DoubleHash {
		dn.Cookie = testHash(name)
	}
	node := encodeDentNode(NodeTypeDent, b.wh.nextSqnum(), dn, name)
	nodeHash := calcHash(b.cfg.HashAlgo, node)
	return b.wh.addNode(key, name, node, nodeHash)
}

// emitDirInode writes a directory's own inode node with its accumulated
// dentry size and link count.
func (b *Builder) emitDirInode(path string, ino uint32, info fs.FileInfo, size int, nlink int, fctx *FscryptContext) error {
	uid, gid := ownerOf(info, b.cfg.SquashOwner)
	n := InodeNode{
		Size:  uint64(size),
		Nlink: uint32(nlink),
		Uid:   uid,
		Gid:   gid,
		Mode:  uint32(info.Mode().Perm()) | modeDirBit,
	}
	if err := b.fillXattrs(&n, path, ino, true); err != nil {
		return err
	}
	key := MakeKey(ino, KeyTypeIno, 0)
	node := encodeInodeNode(b.wh.nextSqnum(), n, nil)
	nodeHash := calcHash(b.cfg.HashAlgo, node)
	return b.wh.addNode(key, "", node, nodeHash)
}

// xattrsFor gathers the extended attributes an inode should carry: whatever
// the host reports, an SELinux label when a labeler is configured, and a
// synthesized image-inode-number attribute when SetInodeAttr is set.
func (b *Builder) xattrsFor(path string, hostIno uint32, isDir bool) ([]Xattr, error) {
	var xs []Xattr
	if b.cfg.XattrSource != nil {
		hostXattrs, err := b.cfg.XattrSource.ListXattrs(path)
		if err != nil {
			return nil, err
		}
		xs = append(xs, hostXattrs...)
	}
	if b.cfg.SELinuxLabeler != nil {
		if ctx, ok := b.cfg.SELinuxLabeler.Label(path, isDir); ok {
			xs = append(xs, Xattr{Name: xattrNameSELinux, Value: []byte(ctx)})
		}
	}
	if b.cfg.SetInodeAttr {
		xs = append(xs, Xattr{Name: xattrNameImageInodeNumber, Value: []byte(itoa(uint64(hostIno)))})
	}
	return xs, nil
}

// fillXattrs collects path's extended attributes, emits one xattr inode plus
// one xattr-entry node per attribute, and stamps the host inode's
// xattr_cnt/xattr_size/xattr_names fields to match.
func (b *Builder) fillXattrs(n *InodeNode, path string, hostIno uint32, isDir bool) error {
	xs, err := b.xattrsFor(path, hostIno, isDir)
	if err != nil {
		return err
	}
	for _, x := range xs {
		xIno := b.nextInum()
		xn := InodeNode{Size: uint64(len(x.Value)), Nlink: 1, DataLen: uint32(len(x.Value))}
		xkey := MakeKey(xIno, KeyTypeIno, 0)
		xnode := encodeInodeNode(b.wh.nextSqnum(), xn, x.Value)
		xnodeHash := calcHash(b.cfg.HashAlgo, xnode)
		if err := b.wh.addNode(xkey, "", xnode, xnodeHash); err != nil {
			return err
		}

		hash := HashName(b.cfg.KeyHashAlg, x.Name)
		entKey := MakeKey(hostIno, KeyTypeXent, hash)
		ent := DentNode{Key: entKey, Inum: uint64(xIno), Type: dtReg}
		entNode := encodeDentNode(NodeTypeXent, b.wh.nextSqnum(), ent, x.Name)
		entNodeHash := calcHash(b.cfg.HashAlgo, entNode)
		if err := b.wh.addNode(entKey, x.Name, entNode, entNodeHash); err != nil {
			return err
		}

		n.XattrCnt++
		n.XattrSize += uint32(len(x.Value))
		n.XattrNames += uint32(len(x.Name) + 1)
	}
	if n.XattrCnt > 0 {
		n.Flags |= inodeFlagXattr
	}
	return nil
}

const (
	modeDirBit = 1 << 14 // S_IFDIR marker bit kept distinct from permission bits
)

func ownerOf(info fs.FileInfo, squash bool) (uid, gid uint32) {
	if squash {
		return 0, 0
	}
	_, _, _, u, g, ok := statExtras(info)
	if !ok {
		return 0, 0
	}
	return u, g
}

// addNonDir dispatches a non-directory host entry by mode.
func (b *Builder) addNonDir(path string, ino uint32, info fs.FileInfo, fctx *FscryptContext, hasOverride bool, override DeviceOverride) error {
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		if hasOverride {
			return fmt.Errorf("device table cannot override regular file %s: %w", path, ErrInvalidOption)
		}
		return b.addFile(path, ino, info, fctx)
	case mode&fs.ModeSymlink != 0:
		return b.addSymlink(path, ino, info, fctx)
	case mode&fs.ModeDevice != 0 || mode&fs.ModeCharDevice != 0:
		return b.addDeviceTableInode(ino, override)
	case mode&fs.ModeNamedPipe != 0, mode&fs.ModeSocket != 0:
		return b.emitBareInode(ino, info)
	default:
		return b.emitBareInode(ino, info)
	}
}

// addFile reads the source in fixed-size blocks, drops all-zero blocks as
// sparse holes, compresses, and emits a data node per non-zero block.
func (b *Builder) addFile(path string, ino uint32, info fs.FileInfo, fctx *FscryptContext) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w: %v", path, ErrBadSource, err)
	}
	defer f.Close()

	size := info.Size()
	blockBuf := make([]byte, defaultBlockSize)
	var blockIdx uint32
	var totalRead int64

	for {
		n, readErr := f.Read(blockBuf)
		if n > 0 {
			totalRead += int64(n)
			block := blockBuf[:n]
			if !allZero(block) {
				if err := b.emitDataBlock(ino, blockIdx, block, fctx); err != nil {
					return err
				}
			}
			blockIdx++
		}
		if readErr != nil {
			break
		}
	}

	if totalRead != size {
		return fmt.Errorf("%s: %w", path, ErrImageChanged)
	}

	uid, gid := ownerOf(info, b.cfg.SquashOwner)
	n := InodeNode{
		Size:  uint64(size),
		Nlink: 1,
		Uid:   uid,
		Gid:   gid,
		Mode:  uint32(info.Mode().Perm()),
	}
	if err := b.fillXattrs(&n, path, ino, false); err != nil {
		return err
	}
	key := MakeKey(ino, KeyTypeIno, 0)
	node := encodeInodeNode(b.wh.nextSqnum(), n, nil)
	nodeHash := calcHash(b.cfg.HashAlgo, node)
	return b.wh.addNode(key, "", node, nodeHash)
}

func (b *Builder) emitDataBlock(ino uint32, blockIdx uint32, block []byte, fctx *FscryptContext) error {
	payload := block
	chosen := ComprNone
	if fctx == nil {
		payload, chosen = b.compr.compress(block, b.cfg.DefaultCompr)
	} else {
		enc, err := b.cfg.DataEnc.EncryptData(fctx, block)
		if err != nil {
			return err
		}
		payload = enc
	}
	key := MakeKey(ino, KeyTypeData, blockIdx)
	n := DataNode{Key: key, Size: uint32(len(block)), ComprType: uint16(chosen)}
	node := encodeDataNode(b.wh.nextSqnum(), n, payload)
	nodeHash := calcHash(b.cfg.HashAlgo, node)
	return b.wh.addNode(key, "", node, nodeHash)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// addSymlink emits a symlink inode with the target stored as trailing
// node data, encrypted first when the parent directory carries an fscrypt
// context.
func (b *Builder) addSymlink(path string, ino uint32, info fs.FileInfo, fctx *FscryptContext) error {
	target, err := os.Readlink(path)
	if err != nil {
		return fmt.Errorf("readlink %s: %w: %v", path, ErrBadSource, err)
	}
	if fctx != nil {
		enc, err := b.cfg.FnameEnc.EncryptName(fctx, target)
		if err != nil {
			return err
		}
		target = enc
	}
	uid, gid := ownerOf(info, b.cfg.SquashOwner)
	n := InodeNode{
		Size:    uint64(len(target)),
		Nlink:   1,
		Uid:     uid,
		Gid:     gid,
		Mode:    uint32(info.Mode().Perm()),
		DataLen: uint32(len(target)),
	}
	if err := b.fillXattrs(&n, path, ino, false); err != nil {
		return err
	}
	key := MakeKey(ino, KeyTypeIno, 0)
	node := encodeInodeNode(b.wh.nextSqnum(), n, []byte(target))
	nodeHash := calcHash(b.cfg.HashAlgo, node)
	return b.wh.addNode(key, "", node, nodeHash)
}

// addDeviceTableInode emits a device node (char/block) or an arbitrary
// device-table-only synthetic inode, with major/minor packed as trailing
// node data.
func (b *Builder) addDeviceTableInode(ino uint32, override DeviceOverride) error {
	devData := make([]byte, 8)
	devData[0] = byte(override.DevMajor)
	devData[4] = byte(override.DevMinor)
	n := InodeNode{
		Size:    0,
		Nlink:   1,
		Uid:     override.Uid,
		Gid:     override.Gid,
		Mode:    uint32(override.Mode.Perm()),
		DataLen: 8,
	}
	key := MakeKey(ino, KeyTypeIno, 0)
	node := encodeInodeNode(b.wh.nextSqnum(), n, devData)
	nodeHash := calcHash(b.cfg.HashAlgo, node)
	return b.wh.addNode(key, "", node, nodeHash)
}

// emitBareInode emits a fifo or socket inode: no data, no special payload.
func (b *Builder) emitBareInode(ino uint32, info fs.FileInfo) error {
	uid, gid := ownerOf(info, b.cfg.SquashOwner)
	n := InodeNode{
		Nlink: 1,
		Uid:   uid,
		Gid:   gid,
		Mode:  uint32(info.Mode().Perm()),
	}
	key := MakeKey(ino, KeyTypeIno, 0)
	node := encodeInodeNode(b.wh.nextSqnum(), n, nil)
	nodeHash := calcHash(b.cfg.HashAlgo, node)
	return b.wh.addNode(key, "", node, nodeHash)
}

// addMultiLinkedFiles emits every deferred hard-linked file exactly once,
// with its final nlink, after the whole tree has been walked.
func (b *Builder) addMultiLinkedFiles() error {
	for _, e := range b.inumMap.entries() {
		info := e.Info
		uid, gid := ownerOf(info, b.cfg.SquashOwner)
		n := InodeNode{
			Size:  uint64(info.Size()),
			Nlink: e.UseNlink,
			Uid:   uid,
			Gid:   gid,
			Mode:  uint32(info.Mode().Perm()),
		}
		if err := b.fillXattrs(&n, e.FirstPath, e.UseInum, false); err != nil {
			return err
		}
		key := MakeKey(e.UseInum, KeyTypeIno, 0)
		node := encodeInodeNode(b.wh.nextSqnum(), n, nil)
		nodeHash := calcHash(b.cfg.HashAlgo, node)
		if err := b.wh.addNode(key, "", node, nodeHash); err != nil {
			return err
		}

		f, err := os.Open(e.FirstPath)
		if err != nil {
			return fmt.Errorf("open %s: %w: %v", e.FirstPath, ErrBadSource, err)
		}
		blockBuf := make([]byte, defaultBlockSize)
		var blockIdx uint32
		for {
			nRead, readErr := f.Read(blockBuf)
			if nRead > 0 {
				block := blockBuf[:nRead]
				if !allZero(block) {
					if err := b.emitDataBlock(e.UseInum, blockIdx, block, nil); err != nil {
						f.Close()
						return err
					}
				}
				blockIdx++
			}
			if readErr != nil {
				break
			}
		}
		f.Close()
	}
	return nil
}
