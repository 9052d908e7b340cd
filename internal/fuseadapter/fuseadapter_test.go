package fuseadapter

import (
	"context"
	"testing"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/XinyanHe/a1fs/internal/a1fs"
)

func newTestCore(t *testing.T) *a1fs.FS {
	t.Helper()
	img, err := a1fs.NewMemImage(1 << 20)
	if err != nil {
		t.Fatalf("NewMemImage: %v", err)
	}
	if err := a1fs.Format(img, 32); err != nil {
		t.Fatalf("Format: %v", err)
	}
	fs, err := a1fs.Mount(img)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}

func TestInodeIDRoundTrip(t *testing.T) {
	if got := toA1fsIno(toFuseInode(a1fs.RootIno)); got != a1fs.RootIno {
		t.Fatalf("round trip of root ino = %d, want %d", got, a1fs.RootIno)
	}
	if toFuseInode(a1fs.RootIno) != fuseops.RootInodeID {
		t.Fatalf("toFuseInode(root) = %d, want fuseops.RootInodeID (%d)", toFuseInode(a1fs.RootIno), fuseops.RootInodeID)
	}
}

func TestJoinPath(t *testing.T) {
	cases := []struct{ dir, name, want string }{
		{"/", "f", "/f"},
		{"/a", "b", "/a/b"},
	}
	for _, c := range cases {
		if got := joinPath(c.dir, c.name); got != c.want {
			t.Errorf("joinPath(%q, %q) = %q, want %q", c.dir, c.name, got, c.want)
		}
	}
}

func TestMkDirAndLookUpInode(t *testing.T) {
	ctx := context.Background()
	fs := New(newTestCore(t))

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sub", Mode: 0755}
	if err := fs.MkDir(ctx, mkdirOp); err != nil {
		t.Fatalf("MkDir: %v", err)
	}

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "sub"}
	if err := fs.LookUpInode(ctx, lookupOp); err != nil {
		t.Fatalf("LookUpInode: %v", err)
	}
	if lookupOp.Entry.Child != mkdirOp.Entry.Child {
		t.Fatalf("LookUpInode returned %d, want %d", lookupOp.Entry.Child, mkdirOp.Entry.Child)
	}
}

func TestLookUpInodeMissingChildIsNotAnError(t *testing.T) {
	ctx := context.Background()
	fs := New(newTestCore(t))

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	if err := fs.LookUpInode(ctx, op); err != nil {
		t.Fatalf("LookUpInode for a missing child returned %v, want nil", err)
	}
	if op.Entry.Child != 0 {
		t.Fatalf("Entry.Child = %d, want 0 for a missing child", op.Entry.Child)
	}
}

func TestRenameUpdatesCachedPaths(t *testing.T) {
	ctx := context.Background()
	fs := New(newTestCore(t))

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "a", Mode: 0755}
	if err := fs.MkDir(ctx, mk); err != nil {
		t.Fatal(err)
	}

	renameOp := &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID, OldName: "a",
		NewParent: fuseops.RootInodeID, NewName: "b",
	}
	if err := fs.Rename(ctx, renameOp); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	p, ok := fs.pathOf(mk.Entry.Child)
	if !ok || p != "/b" {
		t.Fatalf("cached path after rename = %q, %v, want /b, true", p, ok)
	}
}
