package a1fs

import (
	"bytes"
	"testing"
)

// TestFsckCleanFilesystem runs every check against a freshly formatted
// and lightly populated image and expects no findings at all (spec §8
// properties 1-4).
func TestFsckCleanFilesystem(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	if err := fs.Mkdir("/dir", 0755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Create("/dir/f", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.WriteAt("/dir/f", bytes.Repeat([]byte{'z'}, 3*BlockSize), 0); err != nil {
		t.Fatal(err)
	}

	if findings := fs.CheckBitmapCounts(); len(findings) != 0 {
		t.Fatalf("CheckBitmapCounts = %v, want none", findings)
	}

	treeFindings, err := fs.CheckTreeReachability()
	if err != nil {
		t.Fatal(err)
	}
	if len(treeFindings) != 0 {
		t.Fatalf("CheckTreeReachability = %v, want none", treeFindings)
	}

	extentsByIno := map[uint32][]Extent{}
	for _, ino := range fs.AllocatedInodes() {
		findings, err := fs.CheckInodeStructure(ino)
		if err != nil {
			t.Fatal(err)
		}
		if len(findings) != 0 {
			t.Fatalf("CheckInodeStructure(%d) = %v, want none", ino, findings)
		}
		_, extents, err := fs.InodeExtentsForCheck(ino)
		if err != nil {
			t.Fatal(err)
		}
		extentsByIno[ino] = extents
	}
	if findings := CheckBlockOwnership(extentsByIno); len(findings) != 0 {
		t.Fatalf("CheckBlockOwnership = %v, want none", findings)
	}
}

// TestFsckDetectsBitmapMismatch tampers with a free counter directly and
// expects CheckBitmapCounts to notice.
func TestFsckDetectsBitmapMismatch(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	fs.sb.FreeInodesCount++
	findings := fs.CheckBitmapCounts()
	if len(findings) == 0 {
		t.Fatal("expected a bitmap mismatch finding after tampering with FreeInodesCount")
	}
}

// TestFsckDetectsOrphanInode allocates an inode bit directly (bypassing
// createInode, so it is never linked into the tree) and expects
// CheckTreeReachability to flag it as unreachable.
func TestFsckDetectsOrphanInode(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	bit, ok := findFreeBit(fs.img, fs.sb, bitmapInode)
	if !ok {
		t.Fatal("no free inode bit")
	}
	setBit(fs.img, fs.sb, bitmapInode, bit, true)

	findings, err := fs.CheckTreeReachability()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range findings {
		if f.Ino == uint32(bit) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected inode %d to be reported as orphaned, got %v", bit, findings)
	}
}

// TestFsckDetectsBlockOverlap manufactures two inodes whose extents claim
// the same data block and expects CheckBlockOwnership to catch it.
func TestFsckDetectsBlockOverlap(t *testing.T) {
	extentsByIno := map[uint32][]Extent{
		1: {{Start: 100, Count: 2}},
		2: {{Start: 101, Count: 2}},
	}
	findings := CheckBlockOwnership(extentsByIno)
	if len(findings) == 0 {
		t.Fatal("expected an overlap finding for shared block 101")
	}
}
