// Command fsck checks an a1fs image for internal consistency without
// mounting it, per spec §8's testable invariants. It never repairs
// anything; a violation is reported, not fixed.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/XinyanHe/a1fs/internal/a1fs"
)

const help = `usage: fsck <image-path>

Check image-path for a1fs consistency violations. Exits 0 if the image
is clean, 1 if violations were found, 2 if the image could not be read.
`

// exit codes per spec §8.
const (
	exitClean      = 0
	exitViolations = 1
	exitUnreadable = 2
)

func run(args []string) (int, error) {
	fset := flag.NewFlagSet("fsck", flag.ContinueOnError)
	showHelp := fset.Bool("help", false, "show help")
	fset.Usage = func() { fmt.Fprint(os.Stderr, help) }
	if err := fset.Parse(args); err != nil {
		return exitUnreadable, err
	}
	if *showHelp {
		fset.Usage()
		return exitClean, nil
	}
	if fset.NArg() != 1 {
		fset.Usage()
		return exitUnreadable, xerrors.Errorf("exactly one image path required")
	}
	imagePath := fset.Arg(0)

	img, err := a1fs.OpenMmap(imagePath)
	if err != nil {
		return exitUnreadable, xerrors.Errorf("open %s: %w", imagePath, err)
	}
	defer img.Close()

	fs, err := a1fs.Mount(img)
	if err != nil {
		return exitUnreadable, xerrors.Errorf("mount %s: %w", imagePath, err)
	}

	findings, err := check(fs)
	if err != nil {
		return exitUnreadable, xerrors.Errorf("check %s: %w", imagePath, err)
	}

	report(findings)
	if len(findings) > 0 {
		return exitViolations, nil
	}
	return exitClean, nil
}

// check runs the bitmap and tree-reachability passes (each whole-image,
// run sequentially), then fans out the per-inode structural checks
// across a bounded pool of goroutines via errgroup, finally collecting
// every inode's extents for the cross-inode ownership pass.
func check(fs *a1fs.FS) ([]a1fs.Finding, error) {
	var all []a1fs.Finding
	geomFindings, err := fs.CheckGeometry()
	if err != nil {
		return nil, err
	}
	all = append(all, geomFindings...)
	all = append(all, fs.CheckBitmapCounts()...)

	treeFindings, err := fs.CheckTreeReachability()
	if err != nil {
		return nil, err
	}
	all = append(all, treeFindings...)

	inodes := fs.AllocatedInodes()
	var (
		mu           sync.Mutex
		extentsByIno = make(map[uint32][]a1fs.Extent, len(inodes))
	)
	var g errgroup.Group
	g.SetLimit(8)
	for _, ino := range inodes {
		ino := ino
		g.Go(func() error {
			findings, err := fs.CheckInodeStructure(ino)
			if err != nil {
				return xerrors.Errorf("inode %d: %w", ino, err)
			}
			in, extents, err := fs.InodeExtentsForCheck(ino)
			if err != nil {
				return xerrors.Errorf("inode %d: %w", ino, err)
			}
			_ = in
			mu.Lock()
			all = append(all, findings...)
			extentsByIno[ino] = extents
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all = append(all, a1fs.CheckBlockOwnership(extentsByIno)...)

	slices.SortFunc(all, func(a, b a1fs.Finding) bool {
		if a.Ino != b.Ino {
			return a.Ino < b.Ino
		}
		return a.Problem < b.Problem
	})
	return all, nil
}

func report(findings []a1fs.Finding) {
	colorize := isatty.IsTerminal(os.Stdout.Fd())
	for _, f := range findings {
		if colorize {
			fmt.Printf("\x1b[31m!!\x1b[0m %s\n", f)
		} else {
			fmt.Printf("!! %s\n", f)
		}
	}
	if len(findings) == 0 {
		fmt.Println("a1fs: clean")
	}
}

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
	}
	os.Exit(code)
}
