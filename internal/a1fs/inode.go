package a1fs

import (
	"bytes"
	"encoding/binary"
	"time"

	"golang.org/x/xerrors"
)

// FileType is the inode type tag. Represented as a distinct type rather
// than a bare integer so file-only/directory-only operations can gate on
// it at compile time instead of comparing magic numbers.
type FileType uint32

const (
	TypeDir     FileType = 0
	TypeRegular FileType = 1
)

func (t FileType) String() string {
	switch t {
	case TypeDir:
		return "directory"
	case TypeRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// rawInode is the 64-byte packed on-disk record, field order per spec §6.
// The wire layout as documented sums to 60 bytes; Pad is widened to 16
// bytes here so the record satisfies the "block size is an integral
// multiple of inode size" invariant at exactly 64 bytes.
type rawInode struct {
	Mode          uint32
	Links         uint32
	Size          uint64
	Type          uint32
	MtimeSec      int64
	MtimeNsec     int64
	FreeExtentNum uint32
	BlockNo       uint32
	ParentIno     uint32
	Pad           [16]byte
}

// Inode is the in-memory, typed view of an inode record.
type Inode struct {
	Ino           uint32
	Mode          uint32
	Links         uint32
	Size          uint64
	Type          FileType
	Mtime         time.Time
	FreeExtentNum uint32
	ExtentBlock   uint32
	ParentIno     uint32
}

func inodeTableOffset(sb *Superblock, ino uint32) uint64 {
	return uint64(sb.InodeTableStart)*BlockSize + uint64(ino)*InodeSize
}

// inodeAt decodes inode number ino out of the inode table.
func inodeAt(img Image, sb *Superblock, ino uint32) (*Inode, error) {
	if uint64(ino) >= sb.InodesCount {
		return nil, xerrors.Errorf("inode %d out of range (count %d)", ino, sb.InodesCount)
	}
	off := inodeTableOffset(sb, ino)
	var raw rawInode
	r := bytes.NewReader(img.Bytes()[off : off+InodeSize])
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, xerrors.Errorf("decode inode %d: %w", ino, err)
	}
	return &Inode{
		Ino:           ino,
		Mode:          raw.Mode,
		Links:         raw.Links,
		Size:          raw.Size,
		Type:          FileType(raw.Type),
		Mtime:         time.Unix(raw.MtimeSec, raw.MtimeNsec).UTC(),
		FreeExtentNum: raw.FreeExtentNum,
		ExtentBlock:   raw.BlockNo,
		ParentIno:     raw.ParentIno,
	}, nil
}

// putInode encodes in back into the inode table.
func putInode(img Image, sb *Superblock, in *Inode) error {
	raw := rawInode{
		Mode:          in.Mode,
		Links:         in.Links,
		Size:          in.Size,
		Type:          uint32(in.Type),
		MtimeSec:      in.Mtime.Unix(),
		MtimeNsec:     int64(in.Mtime.Nanosecond()),
		FreeExtentNum: in.FreeExtentNum,
		BlockNo:       in.ExtentBlock,
		ParentIno:     in.ParentIno,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &raw); err != nil {
		return xerrors.Errorf("encode inode %d: %w", in.Ino, err)
	}
	off := inodeTableOffset(sb, in.Ino)
	copy(img.Bytes()[off:off+InodeSize], buf.Bytes())
	return nil
}

// IsDir reports whether in is a directory.
func (in *Inode) IsDir() bool { return in.Type == TypeDir }
