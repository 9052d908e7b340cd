// Package a1fs implements the extent-based, block-structured filesystem
// engine: on-disk layout, path resolution, and the mutating operations
// (mkdir, create, unlink, rmdir, rename, truncate, read, write) described by
// the specification this repository implements. It has no dependency on
// any particular kernel bridge; internal/fuseadapter binds an *FS to
// github.com/jacobsa/fuse's fuseutil.FileSystem interface.
package a1fs

import (
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// FS is an open a1fs image. All of its exported methods operate on
// absolute, "/"-separated path strings and return sentinel errors from
// errors.go rather than POSIX errno values; the FUSE adapter is
// responsible for that last translation.
type FS struct {
	img Image
	sb  *Superblock
}

// Mount opens img as an a1fs filesystem, validating its superblock magic
// and basic geometry. It does not take ownership of img; callers close it
// when done.
func Mount(img Image) (*FS, error) {
	sb, err := superblockAt(img.Bytes())
	if err != nil {
		return nil, err
	}
	if sb.Magic != Magic {
		return nil, xerrors.Errorf("%w: bad magic %#x", ErrInvalidImage, sb.Magic)
	}
	want := uint64(len(img.Bytes()))
	if sb.Size != want {
		return nil, xerrors.Errorf("%w: superblock size %d does not match image size %d", ErrInvalidImage, sb.Size, want)
	}
	msgs, err := geometryMismatches(sb)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return nil, xerrors.Errorf("%w: geometry mismatch: %s", ErrInvalidImage, strings.Join(msgs, "; "))
	}
	return &FS{img: img, sb: sb}, nil
}

// Flush persists the superblock and delegates to the underlying Image's
// Flush for full durability.
func (fs *FS) Flush() error {
	if err := fs.syncSuperblock(); err != nil {
		return err
	}
	return fs.img.Flush()
}

func (fs *FS) syncSuperblock() error {
	return putSuperblock(fs.img.Bytes(), fs.sb)
}

func (fs *FS) inode(ino uint32) (*Inode, error) {
	return inodeAt(fs.img, fs.sb, ino)
}

func (fs *FS) putInode(in *Inode) error {
	return putInode(fs.img, fs.sb, in)
}

// extents returns the decoded extent block of in along with its used
// (in-use) prefix length.
func (fs *FS) extents(in *Inode) (*extentBlock, int, error) {
	eb, err := readExtentBlock(fs.img, in.ExtentBlock)
	if err != nil {
		return nil, 0, err
	}
	used := ExtentsPerBlock - int(in.FreeExtentNum)
	return eb, used, nil
}

func (fs *FS) putExtents(in *Inode, eb *extentBlock) error {
	return writeExtentBlock(fs.img, in.ExtentBlock, eb)
}

// StatFS summarizes image-wide capacity, for the statfs(2) operation.
type StatFS struct {
	BlockSize   uint64
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint64
	FreeInodes  uint64
	MaxNameLen  uint64
}

// Statfs reports filesystem-wide capacity counters.
func (fs *FS) Statfs() StatFS {
	return StatFS{
		BlockSize:   BlockSize,
		TotalBlocks: fs.sb.BlocksCount,
		FreeBlocks:  fs.sb.FreeBlocksCount,
		TotalInodes: fs.sb.InodesCount,
		FreeInodes:  fs.sb.FreeInodesCount,
		MaxNameLen:  NameMax - 1,
	}
}

// Attr is the subset of inode metadata surfaced to callers (and, through
// the FUSE adapter, to getattr/readdir).
type Attr struct {
	Ino   uint32
	Mode  uint32
	Links uint32
	Size  uint64
	Type  FileType
	Mtime int64 // Unix seconds
	MtimeNsec int64
}

func attrOf(in *Inode) Attr {
	return Attr{
		Ino:       in.Ino,
		Mode:      in.Mode,
		Links:     in.Links,
		Size:      in.Size,
		Type:      in.Type,
		Mtime:     in.Mtime.Unix(),
		MtimeNsec: int64(in.Mtime.Nanosecond()),
	}
}

// Stat resolves path and returns its attributes.
func (fs *FS) Stat(path string) (Attr, error) {
	ino, err := fs.resolve(path)
	if err != nil {
		return Attr{}, err
	}
	in, err := fs.inode(ino)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(in), nil
}

// Readdir resolves path (which must be a directory) and lists its entries
// in logical order, including "." and "..".
func (fs *FS) Readdir(path string) ([]DirEntry, error) {
	ino, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	in, err := fs.inode(ino)
	if err != nil {
		return nil, err
	}
	if !in.IsDir() {
		return nil, ErrNotDir
	}
	eb, used, err := fs.extents(in)
	if err != nil {
		return nil, err
	}
	return listDentries(fs.img, eb, used, in.Size)
}

// Utimens sets the modification time of path to mtime. Per spec §4.8 this
// does not propagate to the parent chain the way a content mutation does.
func (fs *FS) Utimens(path string, mtime time.Time) error {
	ino, err := fs.resolve(path)
	if err != nil {
		return err
	}
	in, err := fs.inode(ino)
	if err != nil {
		return err
	}
	in.Mtime = mtime
	if err := fs.putInode(in); err != nil {
		return err
	}
	return fs.syncSuperblock()
}
