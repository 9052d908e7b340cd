package a1fs

// ReadAt resolves path (which must be a regular file) and reads up to
// len(buf) bytes starting at offset, per spec §4.7. If offset is at or
// past the end of the file, it returns (0, nil). If the read would run
// past the end of file, the tail of buf beyond the real data is
// zero-filled and the returned count reflects only the real data copied.
func (fs *FS) ReadAt(path string, buf []byte, offset uint64) (int, error) {
	ino, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	in, err := fs.inode(ino)
	if err != nil {
		return 0, err
	}
	if in.IsDir() {
		return 0, ErrIsDir
	}
	if offset >= in.Size {
		return 0, nil
	}
	eb, used, err := fs.extents(in)
	if err != nil {
		return 0, err
	}
	remaining := in.Size - offset
	want := uint64(len(buf))
	real := want
	if remaining < real {
		real = remaining
	}

	n := copyExtentBytes(fs.img, eb, used, offset, buf[:real])
	for i := real; i < want; i++ {
		buf[i] = 0
	}
	return n, nil
}

// WriteAt resolves path (which must be a regular file) and writes buf at
// offset, growing the file (zero-filling any gap) if offset+len(buf)
// exceeds the current size, per spec §4.7.
func (fs *FS) WriteAt(path string, buf []byte, offset uint64) (int, error) {
	ino, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	in, err := fs.inode(ino)
	if err != nil {
		return 0, err
	}
	if in.IsDir() {
		return 0, ErrIsDir
	}
	end := offset + uint64(len(buf))
	if end > in.Size {
		if err := fs.truncateInode(in, end); err != nil {
			return 0, err
		}
	}
	eb, used, err := fs.extents(in)
	if err != nil {
		return 0, err
	}
	n := copyExtentBytesIn(fs.img, eb, used, offset, buf)
	if err := fs.updateMtime(in.Ino); err != nil {
		return 0, err
	}
	if err := fs.syncSuperblock(); err != nil {
		return 0, err
	}
	return n, nil
}

// Truncate resolves path (which must be a regular file) and grows or
// shrinks it to newSize, zero-filling newly allocated blocks on growth
// and freeing trailing blocks on shrink (spec §4.7).
func (fs *FS) Truncate(path string, newSize uint64) error {
	ino, err := fs.resolve(path)
	if err != nil {
		return err
	}
	in, err := fs.inode(ino)
	if err != nil {
		return err
	}
	if in.IsDir() {
		return ErrIsDir
	}
	if err := fs.truncateInode(in, newSize); err != nil {
		return err
	}
	if err := fs.updateMtime(in.Ino); err != nil {
		return err
	}
	return fs.syncSuperblock()
}

// truncateInode implements the grow/shrink mechanics shared by Truncate
// and WriteAt's implicit pre-extension, leaving in.Size == newSize.
func (fs *FS) truncateInode(in *Inode, newSize uint64) error {
	eb, used, err := fs.extents(in)
	if err != nil {
		return err
	}
	blocksAllocated := uint64(0)
	for i := 0; i < used; i++ {
		blocksAllocated += uint64(eb[i].Count)
	}
	allocatedBytes := blocksAllocated * BlockSize

	if newSize > in.Size && in.Size < allocatedBytes {
		// The already-allocated tail past the old size may still hold
		// bytes from before an earlier shrink; clear it so growth reads
		// as zeros.
		end := newSize
		if end > allocatedBytes {
			end = allocatedBytes
		}
		copyExtentBytesIn(fs.img, eb, used, in.Size, make([]byte, end-in.Size))
	}

	switch {
	case newSize > allocatedBytes:
		newUsed, err := extendData(fs.img, fs.sb, eb, used, &in.FreeExtentNum, newSize-allocatedBytes)
		if err != nil {
			return err
		}
		used = newUsed
	case newSize < in.Size:
		keepBlocks := ceilDiv(newSize, BlockSize)
		used = shrinkData(fs.img, fs.sb, eb, used, &in.FreeExtentNum, keepBlocks)
	}
	in.Size = newSize
	if err := fs.putExtents(in, eb); err != nil {
		return err
	}
	return fs.putInode(in)
}

// copyExtentBytes copies len(dst) bytes starting at logical file offset
// start out of the used extents of eb into dst.
func copyExtentBytes(img Image, eb *extentBlock, used int, start uint64, dst []byte) int {
	return walkExtentBytes(img, eb, used, start, dst, false)
}

// copyExtentBytesIn copies len(src) bytes from src into the used extents
// of eb starting at logical file offset start.
func copyExtentBytesIn(img Image, eb *extentBlock, used int, start uint64, src []byte) int {
	return walkExtentBytes(img, eb, used, start, src, true)
}

// walkExtentBytes implements the byte-range walk spec §4.7 describes for
// both read and write: locate the starting data block from offset, then
// iterate byte-by-byte across that block and subsequent extents. write
// selects the direction of the copy (true copies buf into the image,
// false copies the image into buf).
func walkExtentBytes(img Image, eb *extentBlock, used int, start uint64, buf []byte, write bool) int {
	offsetBlk := start / BlockSize
	offsetByte := start % BlockSize

	// Find the extent (and position within it) holding offsetBlk.
	extIdx := 0
	blkWithin := offsetBlk
	for extIdx < used {
		if blkWithin < uint64(eb[extIdx].Count) {
			break
		}
		blkWithin -= uint64(eb[extIdx].Count)
		extIdx++
	}
	if extIdx >= used {
		return 0
	}

	copied := 0
	need := len(buf)
	curBlock := eb[extIdx].Start + uint32(blkWithin)
	remInExtent := uint64(eb[extIdx].Count) - blkWithin
	byteOff := offsetByte

	for copied < need {
		off := blockOffset(curBlock) + byteOff
		n := BlockSize - int(byteOff)
		if need-copied < n {
			n = need - copied
		}
		region := img.Bytes()[off : off+uint64(n)]
		if write {
			copy(region, buf[copied:copied+n])
		} else {
			copy(buf[copied:copied+n], region)
		}
		copied += n
		byteOff = 0

		remInExtent--
		curBlock++
		if remInExtent == 0 {
			extIdx++
			if extIdx >= used {
				break
			}
			curBlock = eb[extIdx].Start
			remInExtent = uint64(eb[extIdx].Count)
		}
	}
	return copied
}
