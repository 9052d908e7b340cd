package a1fs

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

// rawDentry is the 256-byte on-disk directory entry: a 4-byte inode
// number and a 252-byte null-terminated name.
type rawDentry struct {
	Ino  uint32
	Name [NameMax]byte
}

// dentriesPerBlock is the number of 256-byte dentries in one data block.
const dentriesPerBlock = BlockSize / DentrySize

func numDentries(size uint64) uint64 { return size / DentrySize }

// dentryLocation maps a logical dentry index to the data block holding it
// (by walking the used extent list) and the byte offset within that
// block. This replaces raw pointer/byte-offset arithmetic into the extent
// array with index math over typed accessors.
func dentryLocation(eb *extentBlock, used int, logicalIndex uint64) (blockNo uint32, byteOff uint64, ok bool) {
	blockSeq := logicalIndex / dentriesPerBlock
	within := logicalIndex % dentriesPerBlock
	blk, ok := nthDataBlock(eb, used, blockSeq)
	if !ok {
		return 0, 0, false
	}
	return blk, within * DentrySize, true
}

func readDentryAt(img Image, blockNo uint32, byteOff uint64) (*rawDentry, error) {
	off := blockOffset(blockNo) + byteOff
	var d rawDentry
	r := bytes.NewReader(img.Bytes()[off : off+DentrySize])
	if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
		return nil, xerrors.Errorf("decode dentry at block %d offset %d: %w", blockNo, byteOff, err)
	}
	return &d, nil
}

func writeDentryAt(img Image, blockNo uint32, byteOff uint64, d *rawDentry) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, d); err != nil {
		return xerrors.Errorf("encode dentry at block %d offset %d: %w", blockNo, byteOff, err)
	}
	off := blockOffset(blockNo) + byteOff
	copy(img.Bytes()[off:off+DentrySize], buf.Bytes())
	return nil
}

func dentryName(d *rawDentry) string {
	n := bytes.IndexByte(d.Name[:], 0)
	if n < 0 {
		n = len(d.Name)
	}
	return string(d.Name[:n])
}

// encodeName copies name into the 252-byte, null-terminated field. A name
// longer than 251 bytes is not truncated; it is rejected with
// ErrNameTooLong.
func encodeName(name string) ([NameMax]byte, error) {
	var out [NameMax]byte
	b := []byte(name)
	if len(b) > NameMax-1 {
		return out, xerrors.Errorf("%w: %q exceeds %d bytes", ErrNameTooLong, name, NameMax-1)
	}
	copy(out[:], b)
	return out, nil
}

// lookupDentry scans the logical dentry table [0, size/256) for an entry
// named name. The authoritative entry count comes from size rather than
// an in-band empty-marker sentinel, since the invariant that dentries
// [0, size/256) are exactly the in-use ones makes a sentinel scan
// redundant and harder to get right.
func lookupDentry(img Image, eb *extentBlock, used int, size uint64, name string) (ino uint32, logicalIndex uint64, found bool, err error) {
	n := numDentries(size)
	for li := uint64(0); li < n; li++ {
		blk, off, ok := dentryLocation(eb, used, li)
		if !ok {
			return 0, 0, false, xerrors.Errorf("directory size %d inconsistent with extent list", size)
		}
		d, err := readDentryAt(img, blk, off)
		if err != nil {
			return 0, 0, false, err
		}
		if dentryName(d) == name {
			return d.Ino, li, true, nil
		}
	}
	return 0, 0, false, nil
}

// listDentries returns every (name, ino) pair in the directory, in
// logical order.
func listDentries(img Image, eb *extentBlock, used int, size uint64) ([]DirEntry, error) {
	n := numDentries(size)
	entries := make([]DirEntry, 0, n)
	for li := uint64(0); li < n; li++ {
		blk, off, ok := dentryLocation(eb, used, li)
		if !ok {
			return nil, xerrors.Errorf("directory size %d inconsistent with extent list", size)
		}
		d, err := readDentryAt(img, blk, off)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: dentryName(d), Ino: d.Ino})
	}
	return entries, nil
}

// DirEntry is one resolved (name, inode) pair of a directory listing.
type DirEntry struct {
	Name string
	Ino  uint32
}

// insertDentry implements spec §4.5's write_dentry: it obtains a vacancy
// at the logical tail (growing the directory's extent list if the tail
// currently sits on a block boundary), writes (ino, name) there, and
// grows dirIn.Size by one dentry.
func (fs *FS) insertDentry(dirIn *Inode, name string, ino uint32) error {
	encoded, err := encodeName(name)
	if err != nil {
		return err
	}
	eb, used, err := fs.extents(dirIn)
	if err != nil {
		return err
	}
	if dirIn.Size%BlockSize == 0 {
		newUsed, err := growForDentry(fs.img, fs.sb, eb, used, &dirIn.FreeExtentNum)
		if err != nil {
			return err
		}
		used = newUsed
	}
	logicalIndex := numDentries(dirIn.Size)
	blk, off, ok := dentryLocation(eb, used, logicalIndex)
	if !ok {
		return xerrors.Errorf("a1fs: no vacancy for dentry %q after growth", name)
	}
	if err := writeDentryAt(fs.img, blk, off, &rawDentry{Ino: ino, Name: encoded}); err != nil {
		return err
	}
	dirIn.Size += DentrySize
	if err := fs.putExtents(dirIn, eb); err != nil {
		return err
	}
	return fs.putInode(dirIn)
}

// removeDentry implements spec §4.5's promote_last_dentry: the logical
// tail dentry is copied into the vacancy left by the removed entry (unless
// the vacancy is itself the tail), the tail slot is zeroed, and dirIn.Size
// shrinks by one dentry. If that emptied the last block of the tail
// extent, the block is freed and the extent's bookkeeping (count,
// free_extent_num) is restored to match.
func (fs *FS) removeDentry(dirIn *Inode, vacancy uint64) error {
	eb, used, err := fs.extents(dirIn)
	if err != nil {
		return err
	}
	tailIndex := numDentries(dirIn.Size) - 1
	if vacancy != tailIndex {
		tailBlk, tailOff, ok := dentryLocation(eb, used, tailIndex)
		if !ok {
			return xerrors.Errorf("a1fs: tail dentry index %d out of range", tailIndex)
		}
		tail, err := readDentryAt(fs.img, tailBlk, tailOff)
		if err != nil {
			return err
		}
		vBlk, vOff, ok := dentryLocation(eb, used, vacancy)
		if !ok {
			return xerrors.Errorf("a1fs: vacancy dentry index %d out of range", vacancy)
		}
		if err := writeDentryAt(fs.img, vBlk, vOff, tail); err != nil {
			return err
		}
	}
	tailBlk, tailOff, ok := dentryLocation(eb, used, tailIndex)
	if !ok {
		return xerrors.Errorf("a1fs: tail dentry index %d out of range", tailIndex)
	}
	if err := writeDentryAt(fs.img, tailBlk, tailOff, &rawDentry{}); err != nil {
		return err
	}
	dirIn.Size -= DentrySize

	if tailIndex%dentriesPerBlock == 0 && used > 0 {
		last := &eb[used-1]
		freeBlockRange(fs.img, fs.sb, last.Start+last.Count-1, 1)
		last.Count--
		if last.Count == 0 {
			eb[used-1] = Extent{}
			used--
			dirIn.FreeExtentNum++
		}
	}
	if err := fs.putExtents(dirIn, eb); err != nil {
		return err
	}
	return fs.putInode(dirIn)
}
