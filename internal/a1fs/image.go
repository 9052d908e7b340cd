package a1fs

import (
	"os"

	"github.com/orcaman/writerseeker"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// BlockSize is the fixed unit of allocation. Every metadata region and file
// body occupies an integral number of blocks of this size.
const BlockSize = 4096

// Image is a mutable, block-addressable byte region backing a filesystem.
// It is the only thing the core engine ever writes to; everything else in
// this package works in terms of block numbers into an Image, never raw
// pointers, per the "indexable byte region plus typed accessors" design.
type Image interface {
	// Bytes returns the entire region. Mutations to the returned slice are
	// visible to the backing store; the slice is valid until Close.
	Bytes() []byte
	// Flush synchronously persists the region to stable storage. It is a
	// no-op for backing stores that have none (e.g. an in-memory image).
	Flush() error
	// Close releases any resources associated with the image. Flush is not
	// implied; callers that want durability must Flush first.
	Close() error
}

// mmapImage maps a regular file into memory with read/write, shared
// semantics, so that mutations the core engine makes are visible to other
// readers of the file and can be persisted with msync.
type mmapImage struct {
	f    *os.File
	data []byte
}

// OpenMmap maps the file at path into memory. The file must already exist
// and its size must be a positive multiple of BlockSize.
func OpenMmap(path string) (Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, xerrors.Errorf("open image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("stat image: %w", err)
	}
	size := fi.Size()
	if size <= 0 || size%BlockSize != 0 {
		f.Close()
		return nil, xerrors.Errorf("image size %d is not a positive multiple of %d bytes", size, BlockSize)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("mmap image: %w", err)
	}
	return &mmapImage{f: f, data: data}, nil
}

func (m *mmapImage) Bytes() []byte { return m.data }

func (m *mmapImage) Flush() error {
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return xerrors.Errorf("msync: %w", err)
	}
	return nil
}

func (m *mmapImage) Close() error {
	err := unix.Munmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return xerrors.Errorf("close image: %w", err)
	}
	return nil
}

// memImage is an in-memory Image, used by tests and by tools that build a
// throwaway image without touching a real file.
type memImage struct {
	data []byte
}

// NewMemImage allocates a zero-filled in-memory image of the given size,
// which must be a positive multiple of BlockSize. The zero-fill pass goes
// through a writerseeker.WriterSeeker so the allocation path exercises the
// same io.Writer-shaped plumbing a caller streaming in an image over the
// network would use, rather than a bare make([]byte, size).
func NewMemImage(size int) (Image, error) {
	if size <= 0 || size%BlockSize != 0 {
		return nil, xerrors.Errorf("image size %d is not a positive multiple of %d bytes", size, BlockSize)
	}
	var ws writerseeker.WriterSeeker
	if _, err := ws.Write(make([]byte, size)); err != nil {
		return nil, xerrors.Errorf("allocate image: %w", err)
	}
	return &memImage{data: ws.Bytes()}, nil
}

func (m *memImage) Bytes() []byte { return m.data }
func (m *memImage) Flush() error  { return nil }
func (m *memImage) Close() error  { return nil }
