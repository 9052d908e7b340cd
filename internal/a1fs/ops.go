package a1fs

import "golang.org/x/xerrors"

// Mkdir creates a new, empty directory at path with the given permission
// bits. The parent directory must exist and must not already contain an
// entry named path's final component.
func (fs *FS) Mkdir(path string, mode uint32) error {
	parentIno, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	parentIn, err := fs.inode(parentIno)
	if err != nil {
		return err
	}
	if !parentIn.IsDir() {
		return ErrNotDir
	}
	if err := fs.checkAbsent(parentIn, name); err != nil {
		return err
	}

	child, err := fs.createInode(mode, parentIno, TypeDir)
	if err != nil {
		return err
	}
	if err := fs.insertDentry(parentIn, name, child.Ino); err != nil {
		fs.destroyInode(child)
		return err
	}
	parentIn.Links++
	if err := fs.putInode(parentIn); err != nil {
		return err
	}
	if err := fs.updateMtime(parentIno); err != nil {
		return err
	}
	return fs.syncSuperblock()
}

// Create creates a new, empty regular file at path with the given
// permission bits.
func (fs *FS) Create(path string, mode uint32) error {
	parentIno, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	parentIn, err := fs.inode(parentIno)
	if err != nil {
		return err
	}
	if !parentIn.IsDir() {
		return ErrNotDir
	}
	if err := fs.checkAbsent(parentIn, name); err != nil {
		return err
	}

	child, err := fs.createInode(mode, parentIno, TypeRegular)
	if err != nil {
		return err
	}
	if err := fs.insertDentry(parentIn, name, child.Ino); err != nil {
		fs.destroyInode(child)
		return err
	}
	if err := fs.updateMtime(parentIno); err != nil {
		return err
	}
	return fs.syncSuperblock()
}

// checkAbsent returns ErrExist if dirIn already contains a dentry named
// name.
func (fs *FS) checkAbsent(dirIn *Inode, name string) error {
	eb, used, err := fs.extents(dirIn)
	if err != nil {
		return err
	}
	_, _, found, err := lookupDentry(fs.img, eb, used, dirIn.Size, name)
	if err != nil {
		return err
	}
	if found {
		return ErrExist
	}
	return nil
}

// Unlink removes the regular file at path, freeing its inode and all of
// its data. Per spec §4.9/Design Notes this is unconditional: a file's
// size never blocks unlink (the source's size-based rejection bug is not
// reproduced).
func (fs *FS) Unlink(path string) error {
	parentIno, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	parentIn, err := fs.inode(parentIno)
	if err != nil {
		return err
	}
	if !parentIn.IsDir() {
		return ErrNotDir
	}
	eb, used, err := fs.extents(parentIn)
	if err != nil {
		return err
	}
	ino, idx, found, err := lookupDentry(fs.img, eb, used, parentIn.Size, name)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoEntry
	}
	target, err := fs.inode(ino)
	if err != nil {
		return err
	}
	if target.IsDir() {
		return ErrIsDir
	}
	if err := fs.removeDentry(parentIn, idx); err != nil {
		return err
	}
	if err := fs.destroyInode(target); err != nil {
		return err
	}
	if err := fs.updateMtime(parentIno); err != nil {
		return err
	}
	return fs.syncSuperblock()
}

// Rmdir removes the empty directory at path. It fails with ErrNotEmpty if
// the directory holds anything beyond "." and "..".
func (fs *FS) Rmdir(path string) error {
	parentIno, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	parentIn, err := fs.inode(parentIno)
	if err != nil {
		return err
	}
	if !parentIn.IsDir() {
		return ErrNotDir
	}
	eb, used, err := fs.extents(parentIn)
	if err != nil {
		return err
	}
	ino, idx, found, err := lookupDentry(fs.img, eb, used, parentIn.Size, name)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoEntry
	}
	target, err := fs.inode(ino)
	if err != nil {
		return err
	}
	if !target.IsDir() {
		return ErrNotDir
	}
	if target.Size != 2*DentrySize {
		return ErrNotEmpty
	}
	if err := fs.removeDentry(parentIn, idx); err != nil {
		return err
	}
	if err := fs.destroyInode(target); err != nil {
		return err
	}
	// removeDentry already persisted parentIn's shrunk size; re-fetch
	// before touching Links so we don't clobber that with a stale copy.
	parentIn, err = fs.inode(parentIno)
	if err != nil {
		return err
	}
	parentIn.Links--
	if err := fs.putInode(parentIn); err != nil {
		return err
	}
	if err := fs.updateMtime(parentIno); err != nil {
		return err
	}
	return fs.syncSuperblock()
}

// Rename implements spec §4.8's rename(from, to). See DESIGN.md for the
// resolution of the spec's ambiguous "replace the destination dentry's
// ... name with the source's" wording: this implementation keeps the
// destination's own name (standard rename-over-existing-target
// semantics), which is what end-to-end scenario S6 requires.
func (fs *FS) Rename(from, to string) error {
	fromParentIno, fromName, err := fs.resolveParent(from)
	if err != nil {
		return err
	}
	fromParentIn, err := fs.inode(fromParentIno)
	if err != nil {
		return err
	}
	if !fromParentIn.IsDir() {
		return ErrNotDir
	}
	fromEb, fromUsed, err := fs.extents(fromParentIn)
	if err != nil {
		return err
	}
	srcIno, srcIdx, found, err := lookupDentry(fs.img, fromEb, fromUsed, fromParentIn.Size, fromName)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoEntry
	}

	toParentIno, toName, err := fs.resolveParent(to)
	if err != nil {
		return err
	}
	toParentIn, err := fs.inode(toParentIno)
	if err != nil {
		return err
	}
	if !toParentIn.IsDir() {
		return ErrNotDir
	}
	toEb, toUsed, err := fs.extents(toParentIn)
	if err != nil {
		return err
	}
	dstIno, dstIdx, dstFound, err := lookupDentry(fs.img, toEb, toUsed, toParentIn.Size, toName)
	if err != nil {
		return err
	}

	srcIn, err := fs.inode(srcIno)
	if err != nil {
		return err
	}

	var dstIn *Inode
	if dstFound {
		dstIn, err = fs.inode(dstIno)
		if err != nil {
			return err
		}
		if dstIn.IsDir() && dstIn.Size != 2*DentrySize {
			return ErrNotEmpty
		}
	}

	crossParent := fromParentIno != toParentIno

	if dstFound {
		if err := fs.replaceDentryIno(toParentIn, dstIdx, srcIno); err != nil {
			return err
		}
	} else {
		if err := fs.insertDentry(toParentIn, toName, srcIno); err != nil {
			return err
		}
	}

	// Re-resolve fromParentIn/fromEb/fromUsed: if from and to share a
	// parent, insertDentry above may have grown its extent list and
	// moved the tail extent, invalidating the decoded copy we took
	// earlier.
	fromParentIn, err = fs.inode(fromParentIno)
	if err != nil {
		return err
	}
	fromEb, fromUsed, err = fs.extents(fromParentIn)
	if err != nil {
		return err
	}
	_, srcIdx, found, err = lookupDentry(fs.img, fromEb, fromUsed, fromParentIn.Size, fromName)
	if err != nil {
		return err
	}
	if !found {
		return xerrors.Errorf("a1fs: source dentry %q vanished mid-rename", fromName)
	}
	if err := fs.removeDentry(fromParentIn, srcIdx); err != nil {
		return err
	}

	if crossParent && srcIn.IsDir() {
		fromParentIn, err = fs.inode(fromParentIno)
		if err != nil {
			return err
		}
		fromParentIn.Links--
		if err := fs.putInode(fromParentIn); err != nil {
			return err
		}

		toParentIn, err = fs.inode(toParentIno)
		if err != nil {
			return err
		}
		toParentIn.Links++
		if err := fs.putInode(toParentIn); err != nil {
			return err
		}

		if err := fs.updateDotDot(srcIno, toParentIno); err != nil {
			return err
		}
	}

	if dstFound {
		if err := fs.destroyInode(dstIn); err != nil {
			return err
		}
		if dstIn.IsDir() {
			// The replaced directory no longer counts toward its parent's links.
			toParentIn, err = fs.inode(toParentIno)
			if err != nil {
				return err
			}
			toParentIn.Links--
			if err := fs.putInode(toParentIn); err != nil {
				return err
			}
		}
	}

	if err := fs.updateMtime(fromParentIno); err != nil {
		return err
	}
	if err := fs.updateMtime(toParentIno); err != nil {
		return err
	}
	return fs.syncSuperblock()
}

// replaceDentryIno rewrites the inode number of the dentry at logical
// index idx within dirIn, keeping its existing name.
func (fs *FS) replaceDentryIno(dirIn *Inode, idx uint64, newIno uint32) error {
	eb, used, err := fs.extents(dirIn)
	if err != nil {
		return err
	}
	blk, off, ok := dentryLocation(eb, used, idx)
	if !ok {
		return xerrors.Errorf("a1fs: dentry index %d out of range", idx)
	}
	d, err := readDentryAt(fs.img, blk, off)
	if err != nil {
		return err
	}
	d.Ino = newIno
	return writeDentryAt(fs.img, blk, off, d)
}

// updateDotDot rewrites the ".." dentry (always logical index 1) of the
// directory dirIno to point at newParent, and updates its ParentIno field.
func (fs *FS) updateDotDot(dirIno uint32, newParent uint32) error {
	dirIn, err := fs.inode(dirIno)
	if err != nil {
		return err
	}
	eb, used, err := fs.extents(dirIn)
	if err != nil {
		return err
	}
	blk, off, ok := dentryLocation(eb, used, 1)
	if !ok {
		return xerrors.Errorf("a1fs: directory %d missing \"..\" dentry", dirIno)
	}
	d, err := readDentryAt(fs.img, blk, off)
	if err != nil {
		return err
	}
	d.Ino = newParent
	if err := writeDentryAt(fs.img, blk, off, d); err != nil {
		return err
	}
	dirIn.ParentIno = newParent
	return fs.putInode(dirIn)
}
