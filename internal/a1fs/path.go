package a1fs

import (
	"strings"

	"golang.org/x/xerrors"
)

// PathMax bounds the length of any path accepted by the resolver,
// matching the ENAMETOOLONG check in spec §6.
const PathMax = 4096

// RootIno is the inode number of the filesystem root. The root's own
// parent is itself; the mtime-propagation walk stops once it has updated
// RootIno.
const RootIno = 0

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolve walks path from the root, failing with ErrNotDir if a
// non-final component isn't a directory and ErrNoEntry if a component is
// missing. "/" resolves to RootIno.
func (fs *FS) resolve(path string) (uint32, error) {
	if len(path) >= PathMax {
		return 0, ErrNameTooLong
	}
	cur := uint32(RootIno)
	for _, name := range splitPath(path) {
		in, err := fs.inode(cur)
		if err != nil {
			return 0, err
		}
		if !in.IsDir() {
			return 0, ErrNotDir
		}
		eb, used, err := fs.extents(in)
		if err != nil {
			return 0, err
		}
		ino, _, found, err := lookupDentry(fs.img, eb, used, in.Size, name)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, ErrNoEntry
		}
		cur = ino
	}
	return cur, nil
}

// resolveParent splits path into its parent directory's inode number and
// its final path component, resolving the parent but not the component
// itself (callers look the component up or create it).
func (fs *FS) resolveParent(path string) (parentIno uint32, name string, err error) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return 0, "", xerrors.Errorf("a1fs: %q is not a valid non-root path", path)
	}
	name = comps[len(comps)-1]
	if len(name) > NameMax-1 {
		return 0, "", ErrNameTooLong
	}
	parentIno, err = fs.resolve("/" + strings.Join(comps[:len(comps)-1], "/"))
	if err != nil {
		return 0, "", err
	}
	return parentIno, name, nil
}
