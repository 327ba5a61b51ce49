package ordkv

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Locking architecture
//
//  1. registryEntry.mu — per-process, per-file guard coordinating handles
//     that share one open database within this process (fcntl byte-range
//     locks are per-process: multiple *DB handles here would otherwise
//     contend with themselves instead of with other processes).
//  2. header byte-range lock (bytes 0..16) — held briefly while a
//     transaction begins: taken before the data lock and released as soon
//     as the data lock is held. Commit does not take it.
//  3. data byte-range lock (bytes dummyOffset..dummyOffset+dummyRecordSize)
//     — held for the duration of a write transaction, serializing writers
//     across processes (spec.md §5's two-phase acquisition: header first,
//     then data, then header released).
//
// Lock ordering: registryEntry.mu -> header range -> data range.

// fileIdentity uniquely identifies an open database file by device and
// inode, so handles opened via different (but equivalent) paths still
// share one in-process registry entry.
type fileIdentity struct {
	dev uint64
	ino uint64
}

// fileRegistryEntry tracks per-file state shared across every *DB handle in
// this process backed by the same underlying file.
type fileRegistryEntry struct {
	mu sync.Mutex // serializes writers within this process

	openCount atomic.Int32
}

var fileRegistry sync.Map // map[fileIdentity]*fileRegistryEntry

func getOrCreateRegistryEntry(id fileIdentity) *fileRegistryEntry {
	for {
		if val, loaded := fileRegistry.Load(id); loaded {
			entry := val.(*fileRegistryEntry)

			for {
				old := entry.openCount.Load()
				if old <= 0 {
					break
				}

				if entry.openCount.CompareAndSwap(old, old+1) {
					return entry
				}
			}
		}

		entry := &fileRegistryEntry{}
		entry.openCount.Store(1)

		if _, loaded := fileRegistry.LoadOrStore(id, entry); !loaded {
			return entry
		}
	}
}

func releaseRegistryEntry(id fileIdentity) {
	val, ok := fileRegistry.Load(id)
	if !ok {
		return
	}

	entry := val.(*fileRegistryEntry)
	if entry.openCount.Add(-1) <= 0 {
		fileRegistry.CompareAndDelete(id, entry)
	}
}

func identityOf(fd int) (fileIdentity, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return fileIdentity{}, ioErr("fstat", err)
	}

	return fileIdentity{dev: uint64(stat.Dev), ino: stat.Ino}, nil
}

// byteRangeLock holds an advisory fcntl(2) lock over [start, start+length)
// on fd. Unlike flock(2), fcntl byte-range locks let the header and data
// regions of the same file be locked independently and are visible across
// NFS, matching spec.md §5's requirement that two processes never race on
// an uncommitted write.
//
// entry is non-nil only for an exclusive (writer) data lock: release also
// drops the in-process registryEntry.mu held alongside the fcntl lock, so
// two *DB handles in this process never both believe they hold the sole
// writer slot (see the package-level locking architecture comment above).
type byteRangeLock struct {
	fd       int
	start    int64
	length   int64
	typ      int16
	released bool
	entry    *fileRegistryEntry
}

// acquireRange blocks until it can place a lock of typ (unix.F_RDLCK or
// unix.F_WRLCK) on [start, start+length) of fd.
func acquireRange(fd int, start, length int64, typ int16) (*byteRangeLock, error) {
	lk := &unix.Flock_t{Type: typ, Whence: 0, Start: start, Len: length}

	if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLKW, lk); err != nil {
		return nil, ioErr("fcntl F_SETLKW", err)
	}

	return &byteRangeLock{fd: fd, start: start, length: length, typ: typ}, nil
}

// tryAcquireRange attempts a non-blocking lock. Returns ErrLocked if another
// process (or lock owner) already holds a conflicting lock on the range.
func tryAcquireRange(fd int, start, length int64, typ int16) (*byteRangeLock, error) {
	lk := &unix.Flock_t{Type: typ, Whence: 0, Start: start, Len: length}

	if err := unix.FcntlFlock(uintptr(fd), unix.F_SETLK, lk); err != nil {
		if isLockConflict(err) {
			return nil, ErrLocked
		}

		return nil, ioErr("fcntl F_SETLK", err)
	}

	return &byteRangeLock{fd: fd, start: start, length: length, typ: typ}, nil
}

func isLockConflict(err error) bool {
	return err == unix.EACCES || err == unix.EAGAIN
}

// release drops the lock. Idempotent.
func (l *byteRangeLock) release() error {
	if l == nil || l.released {
		return nil
	}

	lk := &unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: l.start, Len: l.length}

	err := unix.FcntlFlock(uintptr(l.fd), unix.F_SETLK, lk)
	l.released = true

	if l.entry != nil {
		l.entry.mu.Unlock()
	}

	if err != nil {
		return fmt.Errorf("ordkv: release lock: %w", err)
	}

	return nil
}

// acquireHeaderLock and acquireDataLock wrap acquireRange/tryAcquireRange
// with the fixed regions defined in header.go.
func acquireHeaderLock(fd int, exclusive bool) (*byteRangeLock, error) {
	return acquireRange(fd, headerLockStart, headerLockLen, lockTypeFor(exclusive))
}

func acquireDataLock(fd int, exclusive, nonBlocking bool) (*byteRangeLock, error) {
	if nonBlocking {
		return tryAcquireRange(fd, dataLockStart, dataLockLen, lockTypeFor(exclusive))
	}

	return acquireRange(fd, dataLockStart, dataLockLen, lockTypeFor(exclusive))
}

func lockTypeFor(exclusive bool) int16 {
	if exclusive {
		return unix.F_WRLCK
	}

	return unix.F_RDLCK
}
