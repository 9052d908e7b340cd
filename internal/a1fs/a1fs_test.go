package a1fs

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"
)

func newTestFS(t *testing.T, size int, nInodes uint64) *FS {
	t.Helper()
	img, err := NewMemImage(size)
	if err != nil {
		t.Fatalf("NewMemImage: %v", err)
	}
	if err := Format(img, nInodes); err != nil {
		t.Fatalf("Format: %v", err)
	}
	fs, err := Mount(img)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}

// TestFormatRejectsBadGeometry exercises mkfs.c's n_inodes check (spec
// §4.1, boundary property 13).
func TestFormatRejectsBadGeometry(t *testing.T) {
	img, err := NewMemImage(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	if err := Format(img, 1); err == nil {
		t.Fatal("Format with n_inodes=1 should fail")
	}
	if err := Format(img, 2); err != nil {
		t.Fatalf("Format with n_inodes=2 should succeed, got %v", err)
	}
}

// TestFormatRejectsImageWithNoRoomForData is spec §4.1's exact boundary:
// with n_inodes=2 the metadata regions (superblock + 1 inode bitmap block
// + 1 block bitmap block + 1 inode table block = 4 blocks) leave a 5-block
// image only one data block, while the root directory needs two (its
// extent block and its first dentry block), so formatting must fail
// rather than succeed and then hit ErrNoSpace partway through writing the
// root directory's "." and ".." entries.
func TestFormatRejectsImageWithNoRoomForData(t *testing.T) {
	img, err := NewMemImage(5 * BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := Format(img, 2); err == nil {
		t.Fatal("Format of a 5-block image with n_inodes=2 should fail (room for only one data block)")
	}
	// One more block (six total) gives the two data blocks past dataStart=4
	// that the root directory needs.
	img, err = NewMemImage(6 * BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := Format(img, 2); err != nil {
		t.Fatalf("Format of a 6-block image with n_inodes=2 should succeed, got %v", err)
	}
}

// TestMountRejectsGeometryMismatch tampers with a stored region offset
// after a valid format and expects Mount to refuse it, per spec §3's
// "data_start = 1 + |ino_bitmap| + |blk_bitmap| + |inode_table|"
// invariant and §7's structural error kind.
func TestMountRejectsGeometryMismatch(t *testing.T) {
	img, err := NewMemImage(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	if err := Format(img, 32); err != nil {
		t.Fatal(err)
	}
	sb, err := superblockAt(img.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	sb.DataStart++
	if err := putSuperblock(img.Bytes(), sb); err != nil {
		t.Fatal(err)
	}
	if _, err := Mount(img); !xerrors.Is(err, ErrInvalidImage) {
		t.Fatalf("Mount with a tampered data_start = %v, want ErrInvalidImage", err)
	}
}

func TestMkfsRootDirectory(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	entries, err := fs.Readdir("/")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name != "." || entries[1].Name != ".." {
		t.Fatalf("root entries = %+v, want [. ..]", entries)
	}
	attr, err := fs.Stat("/")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Links != 2 {
		t.Fatalf("root links = %d, want 2", attr.Links)
	}
}

// TestScenarioS1 mirrors spec §8 end-to-end scenario S1.
func TestScenarioS1(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)

	if err := fs.Mkdir("/a", 0755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Mkdir("/a/b", 0755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Create("/a/b/f", 0644); err != nil {
		t.Fatal(err)
	}
	if n, err := fs.WriteAt("/a/b/f", []byte("hello"), 0); err != nil || n != 5 {
		t.Fatalf("WriteAt = %d, %v", n, err)
	}

	buf := make([]byte, 5)
	n, err := fs.ReadAt("/a/b/f", buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("ReadAt = %q (%d), want hello", buf, n)
	}

	attr, err := fs.Stat("/a/b/f")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 5 {
		t.Fatalf("size = %d, want 5", attr.Size)
	}

	root, err := fs.Stat("/")
	if err != nil {
		t.Fatal(err)
	}
	if root.Links != 3 {
		t.Fatalf("root links = %d, want 3", root.Links)
	}
	a, err := fs.Stat("/a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Links != 3 {
		t.Fatalf("/a links = %d, want 3", a.Links)
	}
}

// TestScenarioS2 mirrors spec §8 S2: truncate-then-write-across-the-gap.
func TestScenarioS2(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	if err := fs.Truncate("/f", 8192); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.WriteAt("/f", []byte("X"), 4095); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.WriteAt("/f", []byte("Y"), 4096); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	if _, err := fs.ReadAt("/f", buf, 4095); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "XY" {
		t.Fatalf("read = %q, want XY", buf)
	}
	one := make([]byte, 1)
	if _, err := fs.ReadAt("/f", one, 8191); err != nil {
		t.Fatal(err)
	}
	if one[0] != 0 {
		t.Fatalf("read at 8191 = %v, want zero byte", one)
	}
}

// TestScenarioS3 mirrors spec §8 S3: truncate-down leaves the rest zeroed
// and bytes_read reflects only the real data.
func TestScenarioS3(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{'A'}, 4096)
	if _, err := fs.WriteAt("/f", payload, 0); err != nil {
		t.Fatal(err)
	}
	if err := fs.Truncate("/f", 1); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4096)
	n, err := fs.ReadAt("/f", buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("bytes_read = %d, want 1", n)
	}
	if buf[0] != 'A' {
		t.Fatalf("buf[0] = %v, want 'A'", buf[0])
	}
	for i := 1; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("buf[%d] = %v, want 0", i, buf[i])
		}
	}
}

// TestScenarioS4 mirrors spec §8 S4: renaming a directory across parents.
func TestScenarioS4(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	if err := fs.Mkdir("/a", 0755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Create("/a/f", 0644); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rename("/a", "/b"); err != nil {
		t.Fatal(err)
	}
	attr, err := fs.Stat("/b/f")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 0 {
		t.Fatalf("size = %d, want 0", attr.Size)
	}
	if _, err := fs.Stat("/a"); err != ErrNoEntry {
		t.Fatalf("Stat(/a) = %v, want ErrNoEntry", err)
	}
}

// TestScenarioS5 mirrors spec §8 S5: rmdir rejects non-empty directories
// and restores free-inode counts after a full empty-subtree teardown.
func TestScenarioS5(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	before := fs.sb.FreeInodesCount

	if err := fs.Mkdir("/a", 0755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Mkdir("/a/b", 0755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rmdir("/a"); err != ErrNotEmpty {
		t.Fatalf("Rmdir(/a) = %v, want ErrNotEmpty", err)
	}
	if err := fs.Rmdir("/a/b"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rmdir("/a"); err != nil {
		t.Fatal(err)
	}
	if fs.sb.FreeInodesCount != before {
		t.Fatalf("free inodes = %d, want %d", fs.sb.FreeInodesCount, before)
	}
}

// TestScenarioS6 mirrors spec §8 S6: renaming a file onto another file
// does not trip the directory NOTEMPTY check, and frees the displaced
// inode.
func TestScenarioS6(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rename("/f", "/g"); err != nil {
		t.Fatal(err)
	}
	afterFirstCreate := fs.sb.FreeInodesCount

	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rename("/g", "/f"); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Stat("/f"); err != nil {
		t.Fatalf("Stat(/f) = %v, want nil", err)
	}
	if _, err := fs.Stat("/g"); err != ErrNoEntry {
		t.Fatalf("Stat(/g) = %v, want ErrNoEntry", err)
	}
	if fs.sb.FreeInodesCount != afterFirstCreate {
		t.Fatalf("free inodes = %d, want %d", fs.sb.FreeInodesCount, afterFirstCreate)
	}
}

// TestCreateUnlinkRestoresFreeCounts is property 7 from spec §8.
func TestCreateUnlinkRestoresFreeCounts(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	beforeInodes := fs.sb.FreeInodesCount
	beforeBlocks := fs.sb.FreeBlocksCount

	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.WriteAt("/f", bytes.Repeat([]byte{'z'}, 10000), 0); err != nil {
		t.Fatal(err)
	}
	if err := fs.Unlink("/f"); err != nil {
		t.Fatal(err)
	}

	if fs.sb.FreeInodesCount != beforeInodes {
		t.Fatalf("free inodes = %d, want %d", fs.sb.FreeInodesCount, beforeInodes)
	}
	if fs.sb.FreeBlocksCount != beforeBlocks {
		t.Fatalf("free blocks = %d, want %d", fs.sb.FreeBlocksCount, beforeBlocks)
	}
}

// TestWriteReadRoundTrip is property 6 from spec §8.
func TestWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t, 1<<20, 8)
	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	payload := []byte("the quick brown fox jumps over the lazy dog")
	const offset = 1000
	if _, err := fs.WriteAt("/f", payload, offset); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(payload))
	if _, err := fs.ReadAt("/f", got, offset); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// TestExtentOverflowReturnsNoSpace is boundary property 12 from spec §8:
// the 513th contiguous-break extent in a single inode fails with NOSPC.
func TestExtentOverflowReturnsNoSpace(t *testing.T) {
	fs := newTestFS(t, 64<<20, 8)
	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	in, err := fs.inode(mustResolve(t, fs, "/f"))
	if err != nil {
		t.Fatal(err)
	}
	eb, used, err := fs.extents(in)
	if err != nil {
		t.Fatal(err)
	}

	// Manufacture ExtentsPerBlock single-block, non-adjacent extents by
	// hand so every subsequent tailAppend is forced to open a new extent
	// slot instead of coalescing.
	blk := uint32(fs.sb.DataStart)
	for i := 0; i < ExtentsPerBlock; i++ {
		eb[i] = Extent{Start: blk, Count: 1}
		setBit(fs.img, fs.sb, bitmapBlock, uint64(blk), true)
		blk += 2
	}
	in.FreeExtentNum = 0
	if err := fs.putExtents(in, eb); err != nil {
		t.Fatal(err)
	}
	if err := fs.putInode(in); err != nil {
		t.Fatal(err)
	}
	_ = used

	if _, err := fs.WriteAt("/f", []byte{1}, uint64(ExtentsPerBlock)*BlockSize+100); err != ErrNoSpace {
		t.Fatalf("WriteAt past 512 extents = %v, want ErrNoSpace", err)
	}
}

func mustResolve(t *testing.T, fs *FS, path string) uint32 {
	t.Helper()
	ino, err := fs.resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	return ino
}

// TestPathResolutionIsDeterministic is property 4 from spec §8.
func TestPathResolutionIsDeterministic(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	if err := fs.Mkdir("/a", 0755); err != nil {
		t.Fatal(err)
	}
	i1, err := fs.resolve("/a")
	if err != nil {
		t.Fatal(err)
	}
	i2, err := fs.resolve("/a")
	if err != nil {
		t.Fatal(err)
	}
	if i1 != i2 {
		t.Fatalf("resolve(/a) = %d then %d, want equal", i1, i2)
	}
}

// TestTruncateToZeroFreesBlocks is boundary property 10 from spec §8.
func TestTruncateToZeroFreesBlocks(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	before := fs.sb.FreeBlocksCount
	if _, err := fs.WriteAt("/f", bytes.Repeat([]byte{'x'}, 5*BlockSize), 0); err != nil {
		t.Fatal(err)
	}
	if err := fs.Truncate("/f", 0); err != nil {
		t.Fatal(err)
	}
	if fs.sb.FreeBlocksCount != before {
		t.Fatalf("free blocks after truncate-to-0 = %d, want %d", fs.sb.FreeBlocksCount, before)
	}
	attr, err := fs.Stat("/f")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 0 {
		t.Fatalf("size = %d, want 0", attr.Size)
	}
}

func TestUnlinkDoesNotRejectLargeFiles(t *testing.T) {
	fs := newTestFS(t, 1<<20, 32)
	if err := fs.Create("/f", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.WriteAt("/f", bytes.Repeat([]byte{'q'}, 4*BlockSize), 0); err != nil {
		t.Fatal(err)
	}
	if err := fs.Unlink("/f"); err != nil {
		t.Fatalf("Unlink on a >512-byte file = %v, want nil", err)
	}
}
