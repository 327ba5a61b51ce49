package ordkv

// Txn is a transaction handle. Write transactions are exclusive across
// every process with the file open; read and MVCC-read transactions are
// shared. A Txn must not be shared between goroutines without external
// synchronization (spec.md §5).
type Txn struct {
	db       *DB
	mf       *mmapFile // captured at Begin/BeginRead/BeginMVCC; stable across a concurrent repack
	writable bool
	mvcc     bool

	active bool

	end              uint64 // written_size for writers, committed_size snapshot for readers
	committedAtBegin uint64 // db.current as observed at begin; stable for the whole txn

	dataLock *byteRangeLock

	pos position

	// Pending header deltas, applied atomically at commit.
	pendingMaxLevel   uint32
	pendingNumRecords int64
	pendingDirtyAdd   uint64

	yieldCount int
}

// Begin starts a write transaction. Only one may be Active across every
// process with this file open; with Options.NonBlocking set, Begin returns
// ErrLocked instead of waiting for the current writer to finish.
func (db *DB) Begin() (*Txn, error) {
	if db.opts.ReadOnly {
		return nil, ErrReadOnly
	}

	dataLock, err := db.acquireTxnLocks(true)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	committed := db.current
	db.mu.Unlock()

	t := &Txn{
		db:               db,
		mf:               db.mf,
		writable:         true,
		active:           true,
		end:              committed,
		committedAtBegin: committed,
		dataLock:         dataLock,
	}

	if err := db.markDirty(true); err != nil {
		dataLock.release()
		return nil, err
	}

	return t, nil
}

// BeginRead starts a shared read transaction. Its end refreshes to the
// latest committed_size each time the lock is (re)acquired after a yield.
func (db *DB) BeginRead() (*Txn, error) {
	dataLock, err := db.acquireTxnLocks(false)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	committed := db.current
	db.mu.Unlock()

	return &Txn{db: db, mf: db.mf, writable: false, mvcc: false, active: true, end: committed, dataLock: dataLock}, nil
}

// BeginMVCC starts a frozen-snapshot read transaction. Its end never
// changes again, even across yield/resume or a concurrent repack.
func (db *DB) BeginMVCC() (*Txn, error) {
	dataLock, err := db.acquireTxnLocks(false)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	committed := db.current
	db.mu.Unlock()

	return &Txn{db: db, mf: db.mf, writable: false, mvcc: true, active: true, end: committed, dataLock: dataLock}, nil
}

// acquireTxnLocks implements the two-phase acquisition of spec.md §5:
// header lock first (serializing against a concurrent open/header update),
// then the data lock, then the header lock is released.
//
// An exclusive (writer) request first takes this process's registryEntry.mu
// before touching fcntl at all: fcntl byte-range locks are associated with
// (process, inode), not (descriptor, inode), so two *DB handles open on the
// same file in this process would otherwise silently merge their locks
// instead of excluding each other.
func (db *DB) acquireTxnLocks(exclusive bool) (*byteRangeLock, error) {
	var heldEntry *fileRegistryEntry

	if exclusive {
		if db.opts.NonBlocking {
			if !db.entry.mu.TryLock() {
				return nil, ErrLocked
			}
		} else {
			db.entry.mu.Lock()
		}

		heldEntry = db.entry
	}

	header, err := acquireHeaderLock(db.mf.fd, true)
	if err != nil {
		if heldEntry != nil {
			heldEntry.mu.Unlock()
		}

		return nil, err
	}

	data, err := acquireDataLock(db.mf.fd, exclusive, db.opts.NonBlocking)

	_ = header.release()

	if err != nil {
		if heldEntry != nil {
			heldEntry.mu.Unlock()
		}

		return nil, err
	}

	data.entry = heldEntry

	return data, nil
}

func (db *DB) markDirty(dirty bool) error {
	h, err := decodeHeader(db.mf.data[0:headerSize])
	if err != nil {
		return err
	}

	if dirty {
		h.StateFlags |= stateDirty
	} else {
		h.StateFlags &^= stateDirty
	}

	copy(db.mf.data[0:headerSize], encodeHeader(h))

	if db.opts.NoSync {
		return nil
	}

	return db.mf.sync()
}

// Commit finalizes a transaction. For a write transaction this appends a
// COMMIT record, flushes the appended bytes, atomically updates the
// header, flushes the header, and releases the data lock. For read
// transactions commit and abort are equivalent.
func (t *Txn) Commit() error {
	if !t.active {
		return ErrBadUsage
	}

	if !t.writable {
		return t.endRead()
	}

	buf := encodeRecord(kindCommit, 0, 0, 0, 0, nil, nil, nil, t.committedAtBegin, t.db.checksum)

	offset, err := t.appendRecord(buf)
	if err != nil {
		return err
	}
	_ = offset

	if !t.db.opts.NoSync {
		if err := t.mf.sync(); err != nil {
			return err
		}
	}

	t.db.mu.Lock()
	t.db.current = t.end
	t.db.commitCount++
	if t.pendingMaxLevel > t.db.maxLevel {
		t.db.maxLevel = t.pendingMaxLevel
	}
	t.db.numRecords = uint64(int64(t.db.numRecords) + t.pendingNumRecords)
	t.db.dirtySize += t.pendingDirtyAdd
	current := t.db.current
	numRecords := t.db.numRecords
	commitCount := t.db.commitCount
	dirtySize := t.db.dirtySize
	maxLevel := t.db.maxLevel
	uuid := t.db.uuid
	generation := t.db.generation
	repackSize := t.db.repackSize
	t.db.mu.Unlock()

	h := &fileHeader{
		UUID:         uuid,
		Flags:        uint32(t.db.checksumKind),
		Generation:   generation,
		NumRecords:   numRecords,
		CommitCount:  commitCount,
		DirtySize:    dirtySize,
		RepackSize:   repackSize,
		CurrentSize:  current,
		MaxLevel:     maxLevel,
		StateFlags:   0,
		ComparatorID: comparatorTag(t.db.cmpName),
	}

	if t.db.cmpName != "bytes.Compare" {
		h.Flags |= flagExternalCmp
	}

	copy(t.mf.data[0:headerSize], encodeHeader(h))

	if !t.db.opts.NoSync {
		if err := t.mf.sync(); err != nil {
			return err
		}
	}

	t.active = false
	t.dataLock.release()

	return nil
}

// Abort discards every record appended since Begin, running the same
// procedure as crash recovery (spec.md §4.4) to leave the file
// indistinguishable from its pre-transaction state.
func (t *Txn) Abort() error {
	if !t.active {
		return ErrBadUsage
	}

	if !t.writable {
		return t.endRead()
	}

	if err := recoverChain(t.mf.data, t.committedAtBegin, t.db.checksum); err != nil {
		return err
	}

	if err := t.db.markDirty(false); err != nil {
		return err
	}

	t.active = false
	t.dataLock.release()

	return nil
}

func (t *Txn) endRead() error {
	if t.dataLock != nil {
		_ = t.dataLock.release()
		t.dataLock = nil
	}

	t.active = false

	return nil
}

// Yield releases a read transaction's lock, allowing a pending writer to
// proceed. Non-MVCC transactions refresh end to the latest committed_size
// on the next operation; MVCC transactions keep end frozen. Yielding a
// write transaction fails with ErrLocked.
func (t *Txn) Yield() error {
	if t.writable {
		return ErrLocked
	}

	if t.dataLock != nil {
		_ = t.dataLock.release()
		t.dataLock = nil
	}

	return nil
}

// resume re-acquires the read lock if a prior Yield released it.
func (t *Txn) resume() error {
	if t.writable || t.dataLock != nil {
		return nil
	}

	// Non-MVCC readers rebind to whatever file is current, including one
	// swapped in by a repack while this transaction was yielded; MVCC
	// readers keep their original mapping and lock against it instead.
	lockFd := t.mf.fd
	if !t.mvcc {
		lockFd = t.db.mf.fd
	}

	dataLock, err := acquireDataLock(lockFd, false, t.db.opts.NonBlocking)
	if err != nil {
		return err
	}

	t.dataLock = dataLock

	if !t.mvcc {
		t.db.mu.Lock()
		t.mf = t.db.mf
		t.end = t.db.current
		t.db.mu.Unlock()
	}

	return nil
}

// appendRecord writes buf at the transaction's current write position,
// growing the mapping if needed. Any previously decoded key/value slices
// become invalid after a growth-triggered remap (spec.md §4.2's safe
// pointer policy).
func (t *Txn) appendRecord(buf []byte) (uint64, error) {
	need := t.end + uint64(len(buf))

	if err := t.mf.growTo(int64(need)); err != nil {
		return 0, err
	}

	offset := t.end
	copy(t.mf.data[offset:need], buf)
	t.end = need

	return offset, nil
}

func (t *Txn) committedSize() uint64 {
	if t.writable {
		return t.committedAtBegin
	}

	return t.end
}

// yieldIfDue implements the automatic-yield policy for long iterations:
// every defaultYieldInterval callbacks by default, every callback with
// AlwaysYield, or never with NoYield.
func (t *Txn) yieldIfDue() error {
	if t.writable || t.db.opts.NoYield {
		return nil
	}

	interval := defaultYieldInterval
	if t.db.opts.AlwaysYield {
		interval = 1
	}

	t.yieldCount++
	if t.yieldCount < interval {
		return nil
	}

	t.yieldCount = 0

	if err := t.Yield(); err != nil {
		return err
	}

	return t.resume()
}
