package a1fs

import "time"

// createInode allocates a fresh inode of type typ, owned by parent, with
// its extent block allocated immediately (spec §4.3: "allocate an extent
// block from the block bitmap, zero the extent block"). Directories get
// their "." and ".." dentries written here too, which is what causes the
// very first data block to be allocated.
func (fs *FS) createInode(mode uint32, parent uint32, typ FileType) (*Inode, error) {
	inoIdx, ok := findFreeBit(fs.img, fs.sb, bitmapInode)
	if !ok {
		return nil, ErrNoSpace
	}
	extBlk, ok := findFreeBit(fs.img, fs.sb, bitmapBlock)
	if !ok {
		return nil, ErrNoSpace
	}
	setBit(fs.img, fs.sb, bitmapInode, inoIdx, true)
	setBit(fs.img, fs.sb, bitmapBlock, extBlk, true)
	zeroBlock(fs.img, uint32(extBlk))

	links := uint32(1)
	if typ == TypeDir {
		links = 2
	}
	in := &Inode{
		Ino:           uint32(inoIdx),
		Mode:          mode,
		Links:         links,
		Size:          0,
		Type:          typ,
		Mtime:         time.Now(),
		FreeExtentNum: ExtentsPerBlock,
		ExtentBlock:   uint32(extBlk),
		ParentIno:     parent,
	}
	if err := fs.putInode(in); err != nil {
		return nil, err
	}

	if typ == TypeDir {
		self := in.Ino
		if err := fs.insertDentry(in, ".", self); err != nil {
			return nil, err
		}
		if err := fs.insertDentry(in, "..", parent); err != nil {
			return nil, err
		}
	}
	if err := fs.syncSuperblock(); err != nil {
		return nil, err
	}
	return in, nil
}

// destroyInode frees every resource an inode owns: its data blocks, its
// extent block, and finally its own inode-bitmap bit. It does not touch
// any directory entry referring to ino; callers remove that separately.
func (fs *FS) destroyInode(in *Inode) error {
	eb, used, err := fs.extents(in)
	if err != nil {
		return err
	}
	var freeExtentNum = in.FreeExtentNum
	shrinkData(fs.img, fs.sb, eb, used, &freeExtentNum, 0)
	setBit(fs.img, fs.sb, bitmapBlock, uint64(in.ExtentBlock), false)
	setBit(fs.img, fs.sb, bitmapInode, uint64(in.Ino), false)
	return fs.syncSuperblock()
}

// updateMtime sets ino's mtime to now and propagates the update up the
// parent chain to the root (spec §4.3), iteratively rather than
// recursively per the Design Notes.
func (fs *FS) updateMtime(ino uint32) error {
	now := time.Now()
	cur := ino
	for {
		in, err := fs.inode(cur)
		if err != nil {
			return err
		}
		in.Mtime = now
		if err := fs.putInode(in); err != nil {
			return err
		}
		if cur == RootIno {
			return nil
		}
		cur = in.ParentIno
	}
}
