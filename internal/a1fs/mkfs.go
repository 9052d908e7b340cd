package a1fs

import "time"

// IsPresent reports whether img already carries a valid a1fs magic,
// mirroring the source's is_present check (spec §4.1). cmd/mkfs makes the
// same magic comparison on the raw file (its isFormatted helper) to refuse
// to reformat an existing image unless -f is given.
func IsPresent(img Image) bool {
	return isPresent(img.Bytes())
}

// Format lays out a fresh, empty a1fs filesystem over img: superblock,
// bitmaps, inode table, and a root directory inode containing "." and
// ".." (spec §4.1, C10). img's full size must already match the desired
// image size; Format zeroes it before writing the new layout.
func Format(img Image, nInodes uint64) error {
	size := uint64(len(img.Bytes()))
	lay, err := computeLayout(size, nInodes)
	if err != nil {
		return err
	}

	data := img.Bytes()
	for i := range data {
		data[i] = 0
	}

	sb := &Superblock{
		Magic:            Magic,
		Size:             size,
		InodesCount:      nInodes,
		FreeInodesCount:  nInodes,
		BlocksCount:      lay.totalBlocks,
		FreeBlocksCount:  lay.totalBlocks,
		InoBitmapBytes:   lay.inoBitmapBytes,
		BlkBitmapBytes:   lay.blkBitmapBytes,
		InodeBitmapStart: 1,
		BlockBitmapStart: uint32(1 + lay.inodeBitmapBlks),
		InodeTableStart:  uint32(1 + lay.inodeBitmapBlks + lay.blockBitmapBlks),
		DataStart:        uint32(lay.dataStart),
	}
	if err := putSuperblock(data, sb); err != nil {
		return err
	}

	fs := &FS{img: img, sb: sb}

	for i := uint64(0); i < lay.dataStart; i++ {
		setBit(img, sb, bitmapBlock, i, true)
	}

	rootBit, ok := findFreeBit(img, sb, bitmapInode)
	if !ok {
		return ErrNoSpace
	}
	setBit(img, sb, bitmapInode, rootBit, true)

	extBlk, ok := findFreeBit(img, sb, bitmapBlock)
	if !ok {
		return ErrNoSpace
	}
	setBit(img, sb, bitmapBlock, extBlk, true)
	zeroBlock(img, uint32(extBlk))

	root := &Inode{
		Ino:           uint32(rootBit),
		Mode:          0755,
		Links:         2,
		Size:          0,
		Type:          TypeDir,
		Mtime:         time.Now(),
		FreeExtentNum: ExtentsPerBlock,
		ExtentBlock:   uint32(extBlk),
		ParentIno:     0,
	}
	if err := fs.putInode(root); err != nil {
		return err
	}
	if err := fs.insertDentry(root, ".", root.Ino); err != nil {
		return err
	}
	if err := fs.insertDentry(root, "..", root.Ino); err != nil {
		return err
	}
	return fs.syncSuperblock()
}
