package ordkv

import (
	"hash/fnv"
	"path/filepath"
	"sync"
)

// DB is a handle to an open database file. A DB is safe for concurrent use
// by multiple goroutines; each Begin call produces an independent
// transaction, but only one write transaction may be Active at a time
// across every process holding the file open (spec.md §5).
type DB struct {
	opts Options

	mf       *mmapFile
	identity fileIdentity
	entry    *fileRegistryEntry

	cmp          Comparator
	cmpName      string
	checksum     ChecksumEngine
	checksumKind ChecksumEngineKind

	levels *levelSource

	mu          sync.Mutex // guards header-derived volatile state below
	uuid        [16]byte
	generation  uint64
	maxLevel    uint32
	current     uint64 // current_size: logical end of committed data
	numRecords  uint64
	commitCount uint64
	dirtySize   uint64
	repackSize  uint64

	fileGen uint64 // bumped whenever mf is remapped or replaced (repack)

	closed bool
}

// Open opens or creates a database according to opts. See Options for the
// full set of knobs.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, ErrBadUsage
	}

	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, ioErr("resolve path", err)
	}

	cmp, cmpName, err := opts.comparator()
	if err != nil {
		return nil, err
	}

	fsys := opts.fs()

	exists, err := fileExists(fsys, path)
	if err != nil {
		return nil, err
	}

	if !exists && !opts.Create {
		return nil, ErrNotFound
	}

	mf, err := openMmapFile(fsys, path, opts.Create && !exists, opts.ReadOnly, int64(dummyOffset+dummyRecordSize))
	if err != nil {
		return nil, err
	}

	db := &DB{opts: opts, mf: mf, cmp: cmp, cmpName: cmpName}

	if !exists {
		if err := db.initializeNewFile(); err != nil {
			_ = mf.close()
			return nil, err
		}
	} else {
		if err := db.loadExistingFile(); err != nil {
			_ = mf.close()
			return nil, err
		}
	}

	db.identity = mf.identity
	db.entry = getOrCreateRegistryEntry(db.identity)
	db.levels = newLevelSource()

	if !opts.ReadOnly && db.headerDirty() {
		if err := db.recover(); err != nil {
			releaseRegistryEntry(db.identity)
			_ = mf.close()

			return nil, err
		}
	}

	return db, nil
}

func (db *DB) initializeNewFile() error {
	engine, kind, err := resolveNewChecksumEngine(db.opts)
	if err != nil {
		return err
	}

	db.checksum = engine
	db.checksumKind = kind
	db.uuid = newUUID()
	db.maxLevel = 0
	db.current = uint64(dummyOffset + dummyRecordSize)

	dummy := encodeRecord(kindDummy, maxLevel, 0, 0, 0, make([]uint64, maxLevel), nil, nil, 0, db.checksum)
	copy(db.mf.data[dummyOffset:], dummy)

	h := &fileHeader{
		UUID:         db.uuid,
		Flags:        uint32(kind),
		Generation:   0,
		NumRecords:   0,
		CommitCount:  0,
		DirtySize:    0,
		RepackSize:   db.current,
		CurrentSize:  db.current,
		MaxLevel:     0,
		StateFlags:   0,
		ComparatorID: comparatorTag(db.cmpName),
	}

	if db.cmpName != "bytes.Compare" {
		h.Flags |= flagExternalCmp
	}

	copy(db.mf.data[0:headerSize], encodeHeader(h))

	if !db.opts.NoSync {
		return db.mf.sync()
	}

	return nil
}

func (db *DB) loadExistingFile() error {
	h, err := decodeHeader(db.mf.data[0:headerSize])
	if err != nil {
		return err
	}

	engine, ok := engineForKind(h.checksumKind())
	if !ok {
		if h.checksumKind() != ChecksumExternal || db.opts.ExternalChecksum == nil {
			return ErrBadFormat
		}
	}

	if h.checksumKind() == ChecksumExternal {
		if db.opts.ExternalChecksum == nil {
			return ErrBadFormat
		}

		engine = externalChecksum{fn: db.opts.ExternalChecksum}
	}

	wantExternalCmp := db.cmpName != "bytes.Compare"
	if h.externalComparator() != wantExternalCmp {
		return ErrBadFormat
	}

	if wantExternalCmp && h.ComparatorID != comparatorTag(db.cmpName) {
		return ErrBadFormat
	}

	db.checksum = engine
	db.checksumKind = h.checksumKind()
	db.uuid = h.UUID
	db.generation = h.Generation
	db.maxLevel = h.MaxLevel
	db.current = h.CurrentSize
	db.numRecords = h.NumRecords
	db.commitCount = h.CommitCount
	db.dirtySize = h.DirtySize
	db.repackSize = h.RepackSize

	if int64(h.CurrentSize) > db.mf.fileSize {
		return ErrBadFormat
	}

	return nil
}

func (db *DB) headerDirty() bool {
	h, err := decodeHeader(db.mf.data[0:headerSize])
	if err != nil {
		return false
	}

	return h.dirty()
}

// comparatorTag derives an 8-bit approximate identity for a comparator
// name. Per spec.md §9's Open Question, the persisted form of comparator
// identity is a convention, not an exact serialization: this catches the
// common case (wrong comparator registered at open) without claiming to
// be a full collision-proof registry.
func comparatorTag(name string) uint8 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))

	return uint8(h.Sum32())
}

func resolveNewChecksumEngine(opts Options) (ChecksumEngine, ChecksumEngineKind, error) {
	kind := opts.ChecksumEngine

	if kind == ChecksumExternal {
		if opts.ExternalChecksum == nil {
			return nil, 0, ErrBadUsage
		}

		return externalChecksum{fn: opts.ExternalChecksum}, kind, nil
	}

	engine, ok := engineForKind(kind)
	if !ok {
		return nil, 0, ErrBadUsage
	}

	return engine, kind, nil
}

// Close releases this handle. The underlying file mapping and descriptor
// are only actually closed once every handle sharing this file identity in
// this process has closed (spec.md §5's reference-counted in-process
// state).
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}

	db.closed = true

	releaseRegistryEntry(db.identity)

	return db.mf.close()
}

// Name returns the resolved absolute path of the database file.
func (db *DB) Name() string { return db.mf.path }

// UUID returns the database's stable identifier, unchanged across repacks.
func (db *DB) UUID() [16]byte { return db.uuid }

// Generation returns the number of successful repacks so far.
func (db *DB) Generation() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.generation
}

// NumRecords returns the number of live (non-tombstoned) keys as of the
// last commit observed by this handle.
func (db *DB) NumRecords() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.numRecords
}

// Size returns the logical end of committed data (current_size).
func (db *DB) Size() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.current
}

// ShouldRepack reports whether dirty_size exceeds the minimum rewrite
// threshold and dead space exceeds 25% of the file (spec.md §6).
func (db *DB) ShouldRepack() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.dirtySize > minRewriteThreshold && db.current < 4*db.dirtySize
}

// Sync flushes the mapping (msync) and fsyncs the file descriptor. With
// NoSync set it does neither and returns nil.
func (db *DB) Sync() error {
	if db.opts.NoSync {
		return nil
	}

	return db.mf.sync()
}
