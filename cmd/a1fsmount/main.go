// Command a1fsmount mounts an a1fs image at a mountpoint using FUSE. See
// spec §6's "Mount CLI".
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"github.com/XinyanHe/a1fs/internal/a1fs"
	"github.com/XinyanHe/a1fs/internal/fuseadapter"
)

const help = `usage: a1fsmount [-sync] <image-path> <mountpoint>

Mount the a1fs filesystem contained in image-path at mountpoint.
`

func run(args []string) error {
	fset := flag.NewFlagSet("a1fsmount", flag.ContinueOnError)
	var (
		sync       = fset.Bool("sync", false, "flush the image before unmounting")
		showHelp   = fset.Bool("help", false, "show help")
		showVerion = fset.Bool("version", false, "show version")
	)
	fset.Usage = func() { fmt.Fprint(os.Stderr, help) }
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *showHelp {
		fset.Usage()
		return nil
	}
	if *showVerion {
		fmt.Println("a1fsmount (a1fs)")
		return nil
	}
	if fset.NArg() != 2 {
		fset.Usage()
		return xerrors.Errorf("image path and mountpoint required")
	}
	imagePath, mountpoint := fset.Arg(0), fset.Arg(1)

	img, err := a1fs.OpenMmap(imagePath)
	if err != nil {
		return xerrors.Errorf("open image: %w", err)
	}
	defer img.Close()

	core, err := a1fs.Mount(img)
	if err != nil {
		return xerrors.Errorf("mount: %w", err)
	}

	server := fuseutil.NewFileSystemServer(fuseadapter.New(core))
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName: "a1fs",
		Options: map[string]string{
			"allow_other": "",
		},
		EnableNoOpenSupport:    true,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		return xerrors.Errorf("fuse.Mount: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fuse.Unmount(mountpoint)
	}()

	if err := mfs.Join(ctx); err != nil {
		return xerrors.Errorf("Join: %w", err)
	}
	if *sync {
		if err := img.Flush(); err != nil {
			return xerrors.Errorf("flush: %w", err)
		}
	}
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "a1fsmount: %v\n", err)
		os.Exit(1)
	}
}
