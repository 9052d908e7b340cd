package a1fs

import (
	"fmt"
)

// Finding is a single consistency violation surfaced by the checks below,
// tied to the inode it concerns (or RootIno for whole-filesystem
// findings such as a bitmap popcount mismatch).
type Finding struct {
	Ino     uint32
	Problem string
}

func (f Finding) String() string {
	return fmt.Sprintf("inode %d: %s", f.Ino, f.Problem)
}

// AllocatedInodes returns every inode number whose bit is set in the
// inode bitmap, in ascending order.
func (fs *FS) AllocatedInodes() []uint32 {
	bm := bitmapRegion(fs.img, fs.sb, bitmapInode)
	var out []uint32
	for i := uint64(0); i < fs.sb.InodesCount; i++ {
		if bitGet(bm, i) {
			out = append(out, uint32(i))
		}
	}
	return out
}

// CheckGeometry verifies the superblock's recorded region offsets and
// byte lengths against the layout computeLayout derives from its size
// and inode count alone (spec §3's region-offset invariant; spec §7's
// "structural" error kind). Unlike Mount, which rejects a mismatch
// outright, this reports it as findings against an image fsck doesn't
// otherwise trust.
func (fs *FS) CheckGeometry() ([]Finding, error) {
	msgs, err := geometryMismatches(fs.sb)
	if err != nil {
		return nil, err
	}
	findings := make([]Finding, 0, len(msgs))
	for _, m := range msgs {
		findings = append(findings, Finding{RootIno, m})
	}
	return findings, nil
}

// CheckBitmapCounts verifies the superblock's free counters against the
// bitmaps' actual popcounts (spec §8 property 1: "free counts match the
// bitmaps").
func (fs *FS) CheckBitmapCounts() []Finding {
	var findings []Finding

	inodeBm := bitmapRegion(fs.img, fs.sb, bitmapInode)
	used := uint64(0)
	for i := uint64(0); i < fs.sb.InodesCount; i++ {
		if bitGet(inodeBm, i) {
			used++
		}
	}
	if want := fs.sb.InodesCount - used; want != fs.sb.FreeInodesCount {
		findings = append(findings, Finding{RootIno, fmt.Sprintf(
			"free_inodes_count is %d but %d of %d inode bits are set (want free=%d)",
			fs.sb.FreeInodesCount, used, fs.sb.InodesCount, want)})
	}

	blockBm := bitmapRegion(fs.img, fs.sb, bitmapBlock)
	used = 0
	for i := uint64(0); i < fs.sb.BlocksCount; i++ {
		if bitGet(blockBm, i) {
			used++
		}
	}
	if want := fs.sb.BlocksCount - used; want != fs.sb.FreeBlocksCount {
		findings = append(findings, Finding{RootIno, fmt.Sprintf(
			"free_blocks_count is %d but %d of %d block bits are set (want free=%d)",
			fs.sb.FreeBlocksCount, used, fs.sb.BlocksCount, want)})
	}

	for i := uint64(0); i < uint64(fs.sb.DataStart); i++ {
		if !bitGet(blockBm, i) {
			findings = append(findings, Finding{RootIno, fmt.Sprintf(
				"metadata block %d is not marked used in the block bitmap", i)})
		}
	}
	return findings
}

// InodeExtentsForCheck returns a copy of ino's used extent prefix, for
// callers (cmd/fsck) assembling the cross-inode ownership check.
func (fs *FS) InodeExtentsForCheck(ino uint32) (*Inode, []Extent, error) {
	return fs.inodeExtents(ino)
}

// inodeExtents returns a copy of ino's used extent prefix, for checks
// that need to inspect several inodes' extents at once.
func (fs *FS) inodeExtents(ino uint32) (*Inode, []Extent, error) {
	in, err := fs.inode(ino)
	if err != nil {
		return nil, nil, err
	}
	eb, used, err := fs.extents(in)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Extent, used)
	copy(out, eb[:used])
	return in, out, nil
}

// CheckInodeStructure validates one allocated inode in isolation: its
// extent bookkeeping is internally consistent and its data fits within
// the declared size (spec §8 property 2: "an inode's extents always
// describe exactly its size"). It does not check anything that requires
// comparing against other inodes, so callers may run it concurrently
// across inodes.
func (fs *FS) CheckInodeStructure(ino uint32) ([]Finding, error) {
	in, extents, err := fs.inodeExtents(ino)
	if err != nil {
		return nil, err
	}
	var findings []Finding
	add := func(format string, args ...interface{}) {
		findings = append(findings, Finding{ino, fmt.Sprintf(format, args...)})
	}

	used := len(extents)
	if uint32(used)+in.FreeExtentNum != ExtentsPerBlock {
		add("used extent count %d plus free_extent_num %d does not equal %d", used, in.FreeExtentNum, ExtentsPerBlock)
	}

	var blocks uint64
	for i, e := range extents {
		if e.Count == 0 {
			add("extent %d has zero count", i)
			continue
		}
		if uint64(e.Start) < uint64(fs.sb.DataStart) || uint64(e.Start)+uint64(e.Count) > fs.sb.BlocksCount {
			add("extent %d [%d,%d) lies outside the data region", i, e.Start, e.Start+e.Count)
		}
		blocks += uint64(e.Count)
	}

	wantBlocks := ceilDiv(in.Size, BlockSize)
	if blocks != wantBlocks {
		add("size %d needs %d data blocks but extents cover %d", in.Size, wantBlocks, blocks)
	}

	if in.IsDir() {
		if in.Size%DentrySize != 0 {
			add("directory size %d is not a multiple of the dentry size %d", in.Size, DentrySize)
		} else if in.Size < 2*DentrySize {
			add("directory size %d is smaller than the mandatory \".\"/\"..\" entries", in.Size)
		}
	}

	return findings, nil
}

// CheckBlockOwnership compares the extents collected for every allocated
// inode against each other, reporting any data block claimed by more
// than one inode (spec §8 property 3: "no two inodes ever share a data
// block").
func CheckBlockOwnership(extentsByIno map[uint32][]Extent) []Finding {
	owner := make(map[uint32]uint32) // block number -> owning inode
	var findings []Finding
	for ino, extents := range extentsByIno {
		for _, e := range extents {
			for b := e.Start; b < e.Start+e.Count; b++ {
				if prev, ok := owner[b]; ok {
					findings = append(findings, Finding{ino, fmt.Sprintf(
						"data block %d is also claimed by inode %d", b, prev)})
					continue
				}
				owner[b] = ino
			}
		}
	}
	return findings
}

// CheckTreeReachability walks the directory tree from the root and
// verifies every directory's "." and ".." entries point at itself and
// its true parent, and that its link count equals 2 plus its number of
// subdirectories (spec §8 property 4: "the directory tree has no
// orphans and no dangling parent pointers").
func (fs *FS) CheckTreeReachability() ([]Finding, error) {
	var findings []Finding
	seen := map[uint32]bool{}

	var walk func(ino, parent uint32) error
	walk = func(ino, parent uint32) error {
		if seen[ino] {
			findings = append(findings, Finding{ino, "reachable through more than one path"})
			return nil
		}
		seen[ino] = true

		in, err := fs.inode(ino)
		if err != nil {
			return err
		}
		if !in.IsDir() {
			return nil
		}
		eb, used, err := fs.extents(in)
		if err != nil {
			return err
		}
		entries, err := listDentries(fs.img, eb, used, in.Size)
		if err != nil {
			return err
		}

		subdirs := uint32(0)
		sawDot, sawDotDot := false, false
		for _, e := range entries {
			switch e.Name {
			case ".":
				sawDot = true
				if e.Ino != ino {
					findings = append(findings, Finding{ino, fmt.Sprintf(`"." points at inode %d, not itself`, e.Ino)})
				}
			case "..":
				sawDotDot = true
				if e.Ino != parent {
					findings = append(findings, Finding{ino, fmt.Sprintf(`".." points at inode %d, not parent %d`, e.Ino, parent)})
				}
			default:
				child, err := fs.inode(e.Ino)
				if err != nil {
					return err
				}
				if child.IsDir() {
					subdirs++
					if err := walk(e.Ino, ino); err != nil {
						return err
					}
				} else {
					seen[e.Ino] = true
				}
			}
		}
		if !sawDot {
			findings = append(findings, Finding{ino, `missing "." entry`})
		}
		if !sawDotDot {
			findings = append(findings, Finding{ino, `missing ".." entry`})
		}
		if want := 2 + subdirs; in.Links != want {
			findings = append(findings, Finding{ino, fmt.Sprintf("link count is %d, expected %d (2 + %d subdirectories)", in.Links, want, subdirs)})
		}
		return nil
	}

	if err := walk(RootIno, RootIno); err != nil {
		return nil, err
	}

	for _, ino := range fs.AllocatedInodes() {
		if !seen[ino] {
			findings = append(findings, Finding{ino, "allocated but not reachable from the root"})
		}
	}
	return findings, nil
}
