package a1fs

// bitmapKind distinguishes the two bit arrays a Superblock tracks.
type bitmapKind int

const (
	bitmapInode bitmapKind = iota
	bitmapBlock
)

// bitmapRegion returns the backing bytes of the given bitmap.
func bitmapRegion(img Image, sb *Superblock, kind bitmapKind) []byte {
	data := img.Bytes()
	switch kind {
	case bitmapInode:
		start := uint64(sb.InodeBitmapStart) * BlockSize
		return data[start : start+sb.InoBitmapBytes]
	case bitmapBlock:
		start := uint64(sb.BlockBitmapStart) * BlockSize
		return data[start : start+sb.BlkBitmapBytes]
	default:
		panic("a1fs: unknown bitmap kind")
	}
}

// bitGet reads bit index (LSB-first within its byte, per spec §6).
func bitGet(bm []byte, index uint64) bool {
	return bm[index/8]&(1<<(index%8)) != 0
}

func bitSet(bm []byte, index uint64, value bool) {
	if value {
		bm[index/8] |= 1 << (index % 8)
	} else {
		bm[index/8] &^= 1 << (index % 8)
	}
}

// setBit mutates bit index of the given bitmap and adjusts sb's matching
// free counter: incremented when the bit is cleared, decremented when
// set. A bit already at the requested value leaves the counter alone.
func setBit(img Image, sb *Superblock, kind bitmapKind, index uint64, value bool) {
	bm := bitmapRegion(img, sb, kind)
	if bitGet(bm, index) == value {
		return
	}
	bitSet(bm, index, value)
	delta := int64(1)
	if value {
		delta = -1
	}
	switch kind {
	case bitmapInode:
		sb.FreeInodesCount = uint64(int64(sb.FreeInodesCount) + delta)
	case bitmapBlock:
		sb.FreeBlocksCount = uint64(int64(sb.FreeBlocksCount) + delta)
	}
}

// findFreeBit returns the first clear bit in the relevant bitmap, or
// ok=false if none exists. This replaces the source's find_free_bit,
// which signaled "none free" with -1 stored in an unsigned type (so it
// aliased a valid-looking index); here the absence of a free bit is an
// explicit, checked return rather than an implicit sentinel value.
//
// For the block bitmap the scan starts at data_start, since every bit
// before it belongs to permanently-occupied metadata blocks.
func findFreeBit(img Image, sb *Superblock, kind bitmapKind) (index uint64, ok bool) {
	bm := bitmapRegion(img, sb, kind)
	var limit, start uint64
	switch kind {
	case bitmapInode:
		limit = sb.InodesCount
	case bitmapBlock:
		limit = sb.BlocksCount
		start = uint64(sb.DataStart)
	}
	for i := start; i < limit; i++ {
		if !bitGet(bm, i) {
			return i, true
		}
	}
	return 0, false
}

// allocBit finds and marks the first free bit of the given bitmap,
// returning ErrNoSpace if none is available.
func allocBit(img Image, sb *Superblock, kind bitmapKind) (uint64, error) {
	idx, ok := findFreeBit(img, sb, kind)
	if !ok {
		return 0, ErrNoSpace
	}
	setBit(img, sb, kind, idx, true)
	return idx, nil
}
