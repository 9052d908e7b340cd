// Package fuseadapter binds an *a1fs.FS to github.com/jacobsa/fuse's
// fuseutil.FileSystem interface, the same separation the teacher draws
// between internal/squashfs.Reader (pure format engine) and
// internal/fuse.fuseFS (the FUSE glue): this package owns everything
// specific to the kernel bridge, and a1fs.FS stays ignorant of FUSE
// entirely.
package fuseadapter

import (
	"context"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"github.com/XinyanHe/a1fs/internal/a1fs"
)

// FS adapts a mounted a1fs core engine to fuseutil.FileSystem. Inode IDs
// are a1fs inode numbers offset by one, since FUSE reserves ID 0 and
// dedicates fuseops.RootInodeID (1) to the mount root — which lines up
// exactly with a1fs's root inode number 0.
type FS struct {
	fuseutil.NotImplementedFileSystem

	core *a1fs.FS

	mu    sync.Mutex
	paths map[uint32]string // a1fs inode number -> absolute path, cached on lookup
}

// New wraps core for serving over FUSE.
func New(core *a1fs.FS) *FS {
	return &FS{
		core:  core,
		paths: map[uint32]string{a1fs.RootIno: "/"},
	}
}

func toFuseInode(ino uint32) fuseops.InodeID { return fuseops.InodeID(ino) + 1 }

func toA1fsIno(id fuseops.InodeID) uint32 { return uint32(id - 1) }

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func (fs *FS) pathOf(id fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, ok := fs.paths[toA1fsIno(id)]
	return p, ok
}

func (fs *FS) remember(ino uint32, p string) fuseops.InodeID {
	fs.mu.Lock()
	fs.paths[ino] = p
	fs.mu.Unlock()
	return toFuseInode(ino)
}

func (fs *FS) forget(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for ino, q := range fs.paths {
		if q == p {
			delete(fs.paths, ino)
			return
		}
	}
}

// rememberMoved updates every cached path that lay under oldPath (oldPath
// itself, and anything below it) to live under newPath instead, following
// a successful Rename. a1fs has no concurrent mutators (spec §5), so there
// is no race to guard against here; this just keeps the adapter's cache
// from returning stale paths for the renamed subtree's already-looked-up
// inodes.
func (fs *FS) rememberMoved(oldPath, newPath string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for ino, p := range fs.paths {
		if p == oldPath {
			fs.paths[ino] = newPath
		} else if rest := stripPrefix(p, oldPath+"/"); rest != "" {
			fs.paths[ino] = newPath + "/" + rest
		}
	}
}

func stripPrefix(p, prefix string) string {
	if len(p) > len(prefix) && p[:len(prefix)] == prefix {
		return p[len(prefix):]
	}
	return ""
}

// toErrno maps a1fs's sentinel errors to the POSIX errno values spec §6
// names. syscall.Errno satisfies jacobsa/fuse's error interface directly,
// the same way the teacher returns bare fuse.Errno values.
func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case xerrors.Is(err, a1fs.ErrNoEntry):
		return syscall.ENOENT
	case xerrors.Is(err, a1fs.ErrNotDir):
		return syscall.ENOTDIR
	case xerrors.Is(err, a1fs.ErrIsDir):
		return syscall.EISDIR
	case xerrors.Is(err, a1fs.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case xerrors.Is(err, a1fs.ErrExist):
		return syscall.EEXIST
	case xerrors.Is(err, a1fs.ErrNoSpace):
		return syscall.ENOSPC
	case xerrors.Is(err, a1fs.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	default:
		return syscall.EIO
	}
}

func toAttr(a a1fs.Attr) fuseops.InodeAttributes {
	mode := os.FileMode(a.Mode & 0777)
	if a.Type == a1fs.TypeDir {
		mode |= os.ModeDir
	}
	mtime := time.Unix(a.Mtime, a.MtimeNsec)
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: a.Links,
		Mode:  mode,
		Atime: mtime,
		Mtime: mtime,
		Ctime: mtime,
	}
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	st := fs.core.Statfs()
	op.BlockSize = uint32(st.BlockSize)
	op.Blocks = st.TotalBlocks
	op.BlocksFree = st.FreeBlocks
	op.BlocksAvailable = st.FreeBlocks
	op.Inodes = st.TotalInodes
	op.InodesFree = st.FreeInodes
	op.IoSize = a1fs.BlockSize
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, ok := fs.pathOf(op.Parent)
	if !ok {
		return syscall.EIO
	}
	childPath := joinPath(parent, op.Name)
	attr, err := fs.core.Stat(childPath)
	if err != nil {
		if xerrors.Is(err, a1fs.ErrNoEntry) {
			// A missing child is reported with a zero Child inode and a nil
			// error, not ENOENT, per fuseutil.FileSystem's LookUpInode contract.
			return nil
		}
		return toErrno(err)
	}
	op.Entry.Child = fs.remember(attr.Ino, childPath)
	op.Entry.Attributes = toAttr(attr)
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	p, ok := fs.pathOf(op.Inode)
	if !ok {
		return syscall.EIO
	}
	attr, err := fs.core.Stat(p)
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = toAttr(attr)
	return nil
}

func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	p, ok := fs.pathOf(op.Inode)
	if !ok {
		return syscall.EIO
	}
	if op.Size != nil {
		if err := fs.core.Truncate(p, *op.Size); err != nil {
			return toErrno(err)
		}
	}
	if op.Mtime != nil {
		if err := fs.core.Utimens(p, *op.Mtime); err != nil {
			return toErrno(err)
		}
	}
	attr, err := fs.core.Stat(p)
	if err != nil {
		return toErrno(err)
	}
	op.Attributes = toAttr(attr)
	return nil
}

func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parent, ok := fs.pathOf(op.Parent)
	if !ok {
		return syscall.EIO
	}
	childPath := joinPath(parent, op.Name)
	if err := fs.core.Mkdir(childPath, uint32(op.Mode.Perm())); err != nil {
		return toErrno(err)
	}
	attr, err := fs.core.Stat(childPath)
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = fs.remember(attr.Ino, childPath)
	op.Entry.Attributes = toAttr(attr)
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parent, ok := fs.pathOf(op.Parent)
	if !ok {
		return syscall.EIO
	}
	childPath := joinPath(parent, op.Name)
	if err := fs.core.Create(childPath, uint32(op.Mode.Perm())); err != nil {
		return toErrno(err)
	}
	attr, err := fs.core.Stat(childPath)
	if err != nil {
		return toErrno(err)
	}
	op.Entry.Child = fs.remember(attr.Ino, childPath)
	op.Entry.Attributes = toAttr(attr)
	return nil
}

func (fs *FS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parent, ok := fs.pathOf(op.Parent)
	if !ok {
		return syscall.EIO
	}
	childPath := joinPath(parent, op.Name)
	if err := fs.core.Rmdir(childPath); err != nil {
		return toErrno(err)
	}
	fs.forget(childPath)
	return nil
}

func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parent, ok := fs.pathOf(op.Parent)
	if !ok {
		return syscall.EIO
	}
	childPath := joinPath(parent, op.Name)
	if err := fs.core.Unlink(childPath); err != nil {
		return toErrno(err)
	}
	fs.forget(childPath)
	return nil
}

func (fs *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldParent, ok := fs.pathOf(op.OldParent)
	if !ok {
		return syscall.EIO
	}
	newParent, ok := fs.pathOf(op.NewParent)
	if !ok {
		return syscall.EIO
	}
	oldPath := joinPath(oldParent, op.OldName)
	newPath := joinPath(newParent, op.NewName)
	if err := fs.core.Rename(oldPath, newPath); err != nil {
		return toErrno(err)
	}
	fs.rememberMoved(oldPath, newPath)
	return nil
}

// OpenDir and OpenFile instruct the kernel to skip sending us open
// requests entirely (fuse.MountConfig.EnableNoOpendirSupport/
// EnableNoOpenSupport, set in cmd/a1fsmount), exactly as the teacher's
// OpenDir/OpenFile do. These bodies are unreachable in practice.
func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return syscall.ENOSYS
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return syscall.ENOSYS
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	p, ok := fs.pathOf(op.Inode)
	if !ok {
		return syscall.EIO
	}
	entries, err := fs.core.Readdir(p)
	if err != nil {
		return toErrno(err)
	}

	var dirents []fuseutil.Dirent
	for _, e := range entries {
		childPath := p
		switch e.Name {
		case ".":
		case "..":
			childPath = path.Dir(p)
		default:
			childPath = joinPath(p, e.Name)
		}
		fs.remember(e.Ino, childPath)

		typ := fuseutil.DT_File
		if childAttr, err := fs.core.Stat(childPath); err == nil && childAttr.Type == a1fs.TypeDir {
			typ = fuseutil.DT_Directory
		}
		dirents = append(dirents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(dirents) + 1),
			Inode:  toFuseInode(e.Ino),
			Name:   e.Name,
			Type:   typ,
		})
	}

	if op.Offset > fuseops.DirOffset(len(dirents)) {
		return syscall.EIO
	}
	for _, d := range dirents[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	p, ok := fs.pathOf(op.Inode)
	if !ok {
		return syscall.EIO
	}
	n, err := fs.core.ReadAt(p, op.Dst, uint64(op.Offset))
	op.BytesRead = n
	if err != nil {
		return toErrno(err)
	}
	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	p, ok := fs.pathOf(op.Inode)
	if !ok {
		return syscall.EIO
	}
	if _, err := fs.core.WriteAt(p, op.Data, uint64(op.Offset)); err != nil {
		return toErrno(err)
	}
	return nil
}

func (fs *FS) Destroy() {
	_ = fs.core.Flush()
}
