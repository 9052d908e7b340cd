package a1fs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/xerrors"
)

// Magic identifies an a1fs image. See spec §6.
const Magic uint64 = 0xC5C369A1C5C369A1

// InodeSize is the on-disk size of a single inode record. BlockSize must be
// an integral multiple of it.
const InodeSize = 64

// ExtentsPerBlock is the number of (start, count) extent records that fit in
// a single 4096-byte extent block (512 * 8 bytes == BlockSize).
const ExtentsPerBlock = BlockSize / 8

// DentrySize is the on-disk size of a single directory entry.
const DentrySize = 256

// NameMax is the longest name (including the null terminator) a directory
// entry can hold.
const NameMax = 252

func init() {
	if BlockSize%InodeSize != 0 {
		panic("a1fs: block size must be a multiple of inode size")
	}
}

// Superblock is the block-0 record of global filesystem geometry and free
// counters. Field order matches the packed little-endian wire layout in
// spec §6 exactly.
type Superblock struct {
	Magic            uint64
	Size             uint64
	InodesCount      uint64
	FreeInodesCount  uint64
	BlocksCount      uint64
	FreeBlocksCount  uint64
	InoBitmapBytes   uint64
	BlkBitmapBytes   uint64
	BlockBitmapStart uint32
	InodeBitmapStart uint32
	InodeTableStart  uint32
	DataStart        uint32
}

// superblockAt decodes the superblock from block 0 of region.
func superblockAt(region []byte) (*Superblock, error) {
	var sb Superblock
	if err := binary.Read(bytes.NewReader(region[:BlockSize]), binary.LittleEndian, &sb); err != nil {
		return nil, xerrors.Errorf("decode superblock: %w", err)
	}
	return &sb, nil
}

// putSuperblock encodes sb into block 0 of region.
func putSuperblock(region []byte, sb *Superblock) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, sb); err != nil {
		return xerrors.Errorf("encode superblock: %w", err)
	}
	copy(region[:BlockSize], buf.Bytes())
	return nil
}

// isPresent reports whether region already carries a valid a1fs magic.
func isPresent(region []byte) bool {
	if len(region) < 8 {
		return false
	}
	return binary.LittleEndian.Uint64(region[:8]) == Magic
}

// layout is the geometry mkfs computes: how many blocks each metadata region
// occupies, given an image size and an inode count. Shared between the
// formatter (which lays these regions out) and fsck (which re-derives them
// to sanity-check a superblock it doesn't otherwise trust).
type layout struct {
	totalBlocks      uint64
	inodeBitmapBlks  uint64
	blockBitmapBlks  uint64
	inodeTableBlks   uint64
	dataStart        uint64
	inoBitmapBytes   uint64
	blkBitmapBytes   uint64
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return a/b + boolToUint64(a%b != 0)
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// computeLayout derives the on-disk geometry for an image of the given size
// formatted with nInodes inodes. It returns ErrInvalidImage if the geometry
// cannot be satisfied (too few inodes, or the image too small to hold the
// metadata regions plus two data blocks), mirroring mkfs.c's size checks.
func computeLayout(size uint64, nInodes uint64) (layout, error) {
	if nInodes <= 1 {
		return layout{}, xerrors.Errorf("%w: need at least 2 inodes (root + 1 allocatable)", ErrInvalidImage)
	}
	if size == 0 || size%BlockSize != 0 {
		return layout{}, xerrors.Errorf("%w: image size %d is not a positive multiple of %d", ErrInvalidImage, size, BlockSize)
	}

	totalBlocks := size / BlockSize
	inodesPerBlock := uint64(BlockSize / InodeSize)
	inodeTableBlks := ceilDiv(nInodes, inodesPerBlock)
	inodeBitmapBlks := ceilDiv(nInodes, BlockSize*8)
	blockBitmapBlks := ceilDiv(totalBlocks, BlockSize*8)

	dataStart := 1 + inodeBitmapBlks + blockBitmapBlks + inodeTableBlks
	// spec §4.1: fail when size <= (2 + ibm + bbm + itb)*BlockSize, i.e.
	// size <= (dataStart+1)*BlockSize — an image must have room for at
	// least two data blocks beyond the metadata regions (the root
	// directory's extent block and its first dentry block).
	minSize := (dataStart + 1) * BlockSize
	if size <= minSize {
		return layout{}, xerrors.Errorf("%w: image of %d bytes is too small for %d inodes (need more than %d bytes)", ErrInvalidImage, size, nInodes, minSize)
	}

	return layout{
		totalBlocks:     totalBlocks,
		inodeBitmapBlks: inodeBitmapBlks,
		blockBitmapBlks: blockBitmapBlks,
		inodeTableBlks:  inodeTableBlks,
		dataStart:       dataStart,
		inoBitmapBytes:  ceilDiv(nInodes, 8),
		blkBitmapBytes:  ceilDiv(totalBlocks, 8),
	}, nil
}

// geometryMismatches re-derives the layout from sb's own size and inode
// count and compares it against the region offsets and byte lengths sb
// actually records, per spec §3's "starts are strictly increasing;
// data_start = 1 + |ino_bitmap| + |blk_bitmap| + |inode_table|" invariant.
// It is shared by Mount (which must reject a geometrically inconsistent
// superblock outright) and fsck's CheckGeometry (which reports the same
// comparison as non-fatal findings against an image it doesn't trust).
func geometryMismatches(sb *Superblock) ([]string, error) {
	lay, err := computeLayout(sb.Size, sb.InodesCount)
	if err != nil {
		return nil, err
	}
	wantBlockBitmapStart := 1 + lay.inodeBitmapBlks
	wantInodeTableStart := wantBlockBitmapStart + lay.blockBitmapBlks

	var msgs []string
	check := func(field string, got, want uint64) {
		if got != want {
			msgs = append(msgs, fmt.Sprintf("%s is %d, computed %d from size=%d inodes=%d", field, got, want, sb.Size, sb.InodesCount))
		}
	}
	check("blocks_count", sb.BlocksCount, lay.totalBlocks)
	check("ino_bitmap_bytes", sb.InoBitmapBytes, lay.inoBitmapBytes)
	check("blk_bitmap_bytes", sb.BlkBitmapBytes, lay.blkBitmapBytes)
	check("inode_bitmap_start", uint64(sb.InodeBitmapStart), 1)
	check("block_bitmap_start", uint64(sb.BlockBitmapStart), wantBlockBitmapStart)
	check("inode_table_start", uint64(sb.InodeTableStart), wantInodeTableStart)
	check("data_start", uint64(sb.DataStart), lay.dataStart)
	return msgs, nil
}
