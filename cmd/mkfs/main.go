// Command mkfs lays out a fresh a1fs filesystem on an existing,
// correctly-sized image file. See spec §6's "Formatter CLI".
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio"
	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/XinyanHe/a1fs/internal/a1fs"
)

const help = `usage: mkfs -i <n_inodes> [-f] [-s] [-v] [-z] <image-path>

Format image-path as an empty a1fs filesystem with n_inodes inodes.

  -i int   number of inodes to allocate (required, must be > 1)
  -f       overwrite an image that is already a1fs-formatted
  -s       flush the image to stable storage after formatting
  -v       verbose: report the resulting geometry
  -z       zero the image atomically before laying out metadata
`

func run(args []string) error {
	fset := flag.NewFlagSet("mkfs", flag.ContinueOnError)
	var (
		nInodes  = fset.Uint64("i", 0, "number of inodes")
		force    = fset.Bool("f", false, "overwrite an already-formatted image")
		sync     = fset.Bool("s", false, "flush after formatting")
		verbose  = fset.Bool("v", false, "verbose output")
		zero     = fset.Bool("z", false, "zero the image atomically before formatting")
		showHelp = fset.Bool("h", false, "show help")
	)
	fset.Usage = func() { fmt.Fprint(os.Stderr, help) }
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *showHelp {
		fset.Usage()
		return nil
	}
	if fset.NArg() != 1 {
		fset.Usage()
		return xerrors.Errorf("exactly one image path required")
	}
	if *nInodes <= 1 {
		return xerrors.Errorf("-i must be greater than 1 (need root + at least one allocatable inode)")
	}
	imagePath := fset.Arg(0)

	fi, err := os.Stat(imagePath)
	if err != nil {
		return xerrors.Errorf("stat %s: %w", imagePath, err)
	}
	size := fi.Size()
	if size <= 0 || size%a1fs.BlockSize != 0 {
		return xerrors.Errorf("%s: size %d is not a positive multiple of %d bytes", imagePath, size, a1fs.BlockSize)
	}

	colorize := isatty.IsTerminal(os.Stdout.Fd())
	report := func(format string, args ...interface{}) {
		if !*verbose {
			return
		}
		if colorize {
			fmt.Printf("\x1b[32m==>\x1b[0m "+format+"\n", args...)
		} else {
			fmt.Printf("==> "+format+"\n", args...)
		}
	}

	present, err := isFormatted(imagePath)
	if err != nil {
		return err
	}
	if present && !*force {
		return xerrors.Errorf("%s: already formatted (use -f to overwrite)", imagePath)
	}

	if present && *force {
		// An existing, already-formatted image is replaced atomically: build
		// the new layout in memory, then swap it into place with renameio so
		// a crash mid-format never leaves a half-written image, mirroring how
		// internal/install uses renameio for atomic package-store writes.
		report("formatting %s (%d bytes, %d inodes) via atomic replace", imagePath, size, *nInodes)
		img, err := a1fs.NewMemImage(int(size))
		if err != nil {
			return err
		}
		if err := a1fs.Format(img, *nInodes); err != nil {
			return xerrors.Errorf("format: %w", err)
		}
		t, err := renameio.TempFile("", imagePath)
		if err != nil {
			return err
		}
		defer t.Cleanup()
		if _, err := io.Copy(t, bytesReader(img)); err != nil {
			return err
		}
		if err := t.CloseAtomicallyReplace(); err != nil {
			return err
		}
		report("replaced %s", imagePath)
		return nil
	}

	if *zero {
		report("zeroing %s before layout", imagePath)
		if err := zeroFileAtomically(imagePath, size); err != nil {
			return err
		}
	}

	img, err := a1fs.OpenMmap(imagePath)
	if err != nil {
		return err
	}
	defer img.Close()

	if err := a1fs.Format(img, *nInodes); err != nil {
		return xerrors.Errorf("format: %w", err)
	}
	report("formatted %s: %d inodes, %d bytes", imagePath, *nInodes, size)

	if *sync {
		if err := img.Flush(); err != nil {
			return xerrors.Errorf("flush: %w", err)
		}
		report("flushed %s", imagePath)
	}
	return nil
}

func isFormatted(imagePath string) (bool, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return false, err
	}
	defer f.Close()
	var magic [8]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return false, nil
		}
		return false, err
	}
	want := a1fs.Magic
	for i := 0; i < 8; i++ {
		if magic[i] != byte(want>>(8*uint(i))) {
			return false, nil
		}
	}
	return true, nil
}

func zeroFileAtomically(imagePath string, size int64) error {
	t, err := renameio.TempFile("", imagePath)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if _, err := io.CopyN(t, zeroReader{}, size); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func bytesReader(img a1fs.Image) io.Reader {
	return &sliceReader{b: img.Bytes()}
}

type sliceReader struct {
	b []byte
	i int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
}
