package a1fs

import "golang.org/x/xerrors"

// Sentinel errors returned by the core engine. The FUSE adapter
// (internal/fuseadapter) maps these to POSIX errno values; callers that only
// care about the core never need to know about errno at all.
var (
	// ErrNotDir is returned when a non-final path component does not name a
	// directory.
	ErrNotDir = xerrors.New("a1fs: not a directory")
	// ErrNoEntry is returned when a path component does not exist.
	ErrNoEntry = xerrors.New("a1fs: no such file or directory")
	// ErrIsDir is returned when a file-only operation is attempted on a
	// directory (e.g. truncate).
	ErrIsDir = xerrors.New("a1fs: is a directory")
	// ErrNotEmpty is returned by rmdir and by rename when the replaced
	// directory still has entries other than "." and "..".
	ErrNotEmpty = xerrors.New("a1fs: directory not empty")
	// ErrExist is returned when create/mkdir targets a name that already
	// exists in the parent directory.
	ErrExist = xerrors.New("a1fs: already exists")
	// ErrNoSpace is returned when an inode or block bitmap has no free bit
	// left, or an inode's extent block has no free slot left.
	ErrNoSpace = xerrors.New("a1fs: no space left on device")
	// ErrNameTooLong is returned for a path (or path component) that exceeds
	// the filesystem's length limits.
	ErrNameTooLong = xerrors.New("a1fs: name too long")
	// ErrInvalidImage is returned when an image fails the superblock magic
	// or geometry checks at mount/format time.
	ErrInvalidImage = xerrors.New("a1fs: not an a1fs image")
)
