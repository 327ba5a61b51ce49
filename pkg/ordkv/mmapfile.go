package ordkv

import (
	"fmt"
	"os"
	"syscall"

	ofs "github.com/calvinalkan/ordkv/pkg/fs"
)

// mmapFile owns an open file descriptor and its current memory mapping.
// All reads and writes against the database go through data; growth remaps
// the file in place once it no longer has room for a new record.
//
// Opening, stating, and closing the file go through an ofs.FS so tests can
// substitute ofs.Chaos to exercise this package's durability under fault
// injection (see fault_injection_test.go). The mapping
// itself has no FS-level equivalent: syscall.Mmap/Munmap/Ftruncate operate
// directly on the descriptor obtained from ofs.File.Fd(), which the
// interface guarantees is a real, syscall-usable fd (see pkg/fs's File
// doc comment).
type mmapFile struct {
	fsys     ofs.FS
	file     ofs.File
	fd       int
	path     string
	data     []byte // current mapping, length == fileSize
	fileSize int64
	identity fileIdentity
	readOnly bool
}

// openMmapFile opens path (creating it if create is set and it doesn't
// exist), stats its size, and maps the whole file MAP_SHARED so writes are
// visible to other mappings of the same file (including other processes).
func openMmapFile(fsys ofs.FS, path string, create, readOnly bool, initialSize int64) (*mmapFile, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	if create {
		flags |= os.O_CREATE
	}

	f, err := fsys.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, ioErr("open", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ioErr("fstat", err)
	}

	fd := int(f.Fd())
	size := info.Size()

	if size == 0 {
		if readOnly {
			_ = f.Close()
			return nil, fmt.Errorf("%w: empty database opened read-only", ErrBadFormat)
		}

		size = initialSize
		if err := syscall.Ftruncate(fd, size); err != nil {
			_ = f.Close()
			return nil, ioErr("ftruncate", err)
		}
	}

	id, err := identityOf(fd)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	prot := syscall.PROT_READ
	if !readOnly {
		prot |= syscall.PROT_WRITE
	}

	data, err := syscall.Mmap(fd, 0, int(size), prot, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, ioErr("mmap", err)
	}

	return &mmapFile{
		fsys:     fsys,
		file:     f,
		fd:       fd,
		path:     path,
		data:     data,
		fileSize: size,
		identity: id,
		readOnly: readOnly,
	}, nil
}

// createExclusiveMmapFile creates path fresh via O_CREATE|O_EXCL, sized to
// initialSize, and maps it read-write. Used by Repack to stake out the
// sibling ".NEW" file: ErrLocked if a concurrent repack already holds it.
func createExclusiveMmapFile(fsys ofs.FS, path string, initialSize int64) (*mmapFile, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}

		return nil, ioErr("open", err)
	}

	fd := int(f.Fd())

	if err := syscall.Ftruncate(fd, initialSize); err != nil {
		_ = f.Close()
		return nil, ioErr("ftruncate", err)
	}

	id, err := identityOf(fd)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	data, err := syscall.Mmap(fd, 0, int(initialSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, ioErr("mmap", err)
	}

	return &mmapFile{fsys: fsys, file: f, fd: fd, path: path, data: data, fileSize: initialSize, identity: id}, nil
}

func (m *mmapFile) close() error {
	var unmapErr, closeErr error

	if m.data != nil {
		unmapErr = syscall.Munmap(m.data)
		m.data = nil
	}

	if m.file != nil {
		closeErr = m.file.Close()
		m.fd = -1
		m.file = nil
	}

	if unmapErr != nil {
		return ioErr("munmap", unmapErr)
	}

	if closeErr != nil {
		return ioErr("close", closeErr)
	}

	return nil
}

// sync flushes dirty mapped pages to disk (msync(MS_SYNC)) and, for belt and
// braces on filesystems where msync alone is insufficient, fsyncs the
// underlying file through ofs.File.Sync.
func (m *mmapFile) sync() error {
	if m.readOnly {
		return nil
	}

	if err := msync(m.data); err != nil {
		return ioErr("msync", err)
	}

	if err := m.file.Sync(); err != nil {
		return ioErr("fsync", err)
	}

	return nil
}

// growTo ensures the mapping covers at least minSize bytes, growing the
// underlying file (round up to 125%, then to a 16 KiB boundary, per
// spec.md §4.2) and remapping if necessary. The old mapping's byte slices
// become invalid; callers must not retain record views across a growTo.
func (m *mmapFile) growTo(minSize int64) error {
	if minSize <= m.fileSize {
		return nil
	}

	target := growthTarget(m.fileSize, minSize)

	if err := syscall.Ftruncate(m.fd, target); err != nil {
		return ioErr("ftruncate", err)
	}

	if err := syscall.Munmap(m.data); err != nil {
		return ioErr("munmap", err)
	}

	prot := syscall.PROT_READ
	if !m.readOnly {
		prot |= syscall.PROT_WRITE
	}

	data, err := syscall.Mmap(m.fd, 0, int(target), prot, syscall.MAP_SHARED)
	if err != nil {
		return ioErr("mmap", err)
	}

	m.data = data
	m.fileSize = target

	return nil
}

// growthTarget computes the next file size satisfying minSize: grow current
// to 125%, then round up to the next 16 KiB boundary, repeating if a single
// 125% step still isn't enough (pathological for single huge fat records).
func growthTarget(current, minSize int64) int64 {
	target := current
	for target < minSize {
		target = target * growthNumerator / growthDenominator
		if target <= current {
			target = current + growthRoundTo
		}

		target = roundUp(target, growthRoundTo)
	}

	return target
}

func roundUp(n, to int64) int64 {
	if n%to == 0 {
		return n
	}

	return (n/to + 1) * to
}
