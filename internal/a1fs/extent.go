package a1fs

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Extent is a contiguous run of data-region blocks. Accessed by element
// index only, never by a byte-scaled pointer offset (the source's
// double-scaled extent indexing bug is not reproduced here).
type Extent struct {
	Start uint32
	Count uint32
}

// extentBlock is the fixed-size array of records an inode's extent block
// holds. The in-use prefix has length ExtentsPerBlock - inode.FreeExtentNum.
type extentBlock [ExtentsPerBlock]Extent

func blockOffset(blockNo uint32) uint64 { return uint64(blockNo) * BlockSize }

// readExtentBlock decodes the 512-entry extent array stored at blockNo.
func readExtentBlock(img Image, blockNo uint32) (*extentBlock, error) {
	var eb extentBlock
	off := blockOffset(blockNo)
	r := bytes.NewReader(img.Bytes()[off : off+BlockSize])
	if err := binary.Read(r, binary.LittleEndian, &eb); err != nil {
		return nil, xerrors.Errorf("decode extent block %d: %w", blockNo, err)
	}
	return &eb, nil
}

// writeExtentBlock encodes eb back to blockNo.
func writeExtentBlock(img Image, blockNo uint32, eb *extentBlock) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, eb); err != nil {
		return xerrors.Errorf("encode extent block %d: %w", blockNo, err)
	}
	off := blockOffset(blockNo)
	copy(img.Bytes()[off:off+BlockSize], buf.Bytes())
	return nil
}

// zeroBlock clears a single data block, used to zero-initialize freshly
// allocated file/directory blocks.
func zeroBlock(img Image, blockNo uint32) {
	off := blockOffset(blockNo)
	region := img.Bytes()[off : off+BlockSize]
	for i := range region {
		region[i] = 0
	}
}

// nthDataBlock walks the used prefix of eb (length `used`) and returns the
// block number holding logical data block n (0-indexed across the whole
// extent list), or ok=false if n is past the end of the used extents.
func nthDataBlock(eb *extentBlock, used int, n uint64) (blockNo uint32, ok bool) {
	for i := 0; i < used; i++ {
		e := eb[i]
		if n < uint64(e.Count) {
			return e.Start + uint32(n), true
		}
		n -= uint64(e.Count)
	}
	return 0, false
}

// freeBlockRange clears the block-bitmap bit of every block in
// [start, start+count), fixing the source's free_in_extent index bug
// (which added start twice).
func freeBlockRange(img Image, sb *Superblock, start, count uint32) {
	for i := uint32(0); i < count; i++ {
		setBit(img, sb, bitmapBlock, uint64(start+i), false)
	}
}

// tailAppend allocates one free data block and appends it to the used
// extent list, preferring to extend the last used extent when the newly
// allocated block continues it (spec §4.4 "tail append"). Returns the
// allocated block number and the new used-extent count.
func tailAppend(img Image, sb *Superblock, eb *extentBlock, used int, freeExtentNum *uint32) (blockNo uint32, newUsed int, err error) {
	blk, ok := findFreeBit(img, sb, bitmapBlock)
	if !ok {
		return 0, used, ErrNoSpace
	}
	if used > 0 && eb[used-1].Start+eb[used-1].Count == uint32(blk) {
		setBit(img, sb, bitmapBlock, blk, true)
		eb[used-1].Count++
		return uint32(blk), used, nil
	}
	if *freeExtentNum == 0 {
		return 0, used, ErrNoSpace
	}
	setBit(img, sb, bitmapBlock, blk, true)
	eb[used] = Extent{Start: uint32(blk), Count: 1}
	*freeExtentNum--
	return uint32(blk), used + 1, nil
}

// growForDentry allocates one new block the way tailAppend does, but when
// the tail lies on a block boundary and the newly allocated block happens
// to be adjacent to some *other*, non-tail used extent, that extent
// absorbs the block instead of a new slot being spent, and is then
// swapped into the last position so the "tail is always the last extent"
// invariant holds (spec §4.4 "vacancy for dentry").
func growForDentry(img Image, sb *Superblock, eb *extentBlock, used int, freeExtentNum *uint32) (newUsed int, err error) {
	blk, ok := findFreeBit(img, sb, bitmapBlock)
	if !ok {
		return used, ErrNoSpace
	}
	if used > 0 && eb[used-1].Start+eb[used-1].Count == uint32(blk) {
		setBit(img, sb, bitmapBlock, blk, true)
		eb[used-1].Count++
		return used, nil
	}
	for j := 0; j < used-1; j++ {
		if eb[j].Start+eb[j].Count == uint32(blk) {
			setBit(img, sb, bitmapBlock, blk, true)
			eb[j].Count++
			eb[j], eb[used-1] = eb[used-1], eb[j]
			return used, nil
		}
	}
	if *freeExtentNum == 0 {
		return used, ErrNoSpace
	}
	setBit(img, sb, bitmapBlock, blk, true)
	eb[used] = Extent{Start: uint32(blk), Count: 1}
	*freeExtentNum--
	return used + 1, nil
}

// extendData grows a file body by nBytes, allocating ceil(nBytes/BlockSize)
// new, zero-initialized blocks via the tail-append rule.
func extendData(img Image, sb *Superblock, eb *extentBlock, used int, freeExtentNum *uint32, nBytes uint64) (newUsed int, err error) {
	nBlocks := ceilDiv(nBytes, BlockSize)
	for i := uint64(0); i < nBlocks; i++ {
		blk, nu, err := tailAppend(img, sb, eb, used, freeExtentNum)
		if err != nil {
			return used, err
		}
		used = nu
		zeroBlock(img, blk)
	}
	return used, nil
}

// shrinkData walks the used extents in order, keeping the first
// keepBlocks data blocks and freeing everything past that point. Unlike
// the source, it restores the extent-list invariant: an extent emptied by
// the shrink is removed from the used prefix and freeExtentNum is
// incremented to match.
func shrinkData(img Image, sb *Superblock, eb *extentBlock, used int, freeExtentNum *uint32, keepBlocks uint64) (newUsed int) {
	var seen uint64
	newUsed = 0
	for i := 0; i < used; i++ {
		e := eb[i]
		if seen >= keepBlocks {
			freeBlockRange(img, sb, e.Start, e.Count)
			*freeExtentNum++
			continue
		}
		remaining := keepBlocks - seen
		if remaining >= uint64(e.Count) {
			seen += uint64(e.Count)
			eb[newUsed] = e
			newUsed++
			continue
		}
		freeFrom := e.Start + uint32(remaining)
		freeCount := e.Count - uint32(remaining)
		freeBlockRange(img, sb, freeFrom, freeCount)
		eb[newUsed] = Extent{Start: e.Start, Count: uint32(remaining)}
		newUsed++
		seen += remaining
	}
	for i := newUsed; i < used; i++ {
		eb[i] = Extent{}
	}
	return newUsed
}
