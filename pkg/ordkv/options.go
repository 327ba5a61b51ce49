package ordkv

import ofs "github.com/calvinalkan/ordkv/pkg/fs"

// Options configures Open. The zero value opens an existing database at
// Path read-write, blocking on lock contention, with the default xxhash
// checksum engine and the default byte-lexicographic comparator.
type Options struct {
	// Path is the filesystem path to the database file.
	Path string

	// Create creates the database if it does not already exist. Ignored
	// if the file exists.
	Create bool

	// ReadOnly opens the database for reads only. Write transactions on
	// such a handle fail with ErrReadOnly.
	ReadOnly bool

	// NoSync disables the synchronous flush that otherwise follows every
	// commit and header update. Durability then depends entirely on the
	// host filesystem's own write-back policy.
	NoSync bool

	// NonBlocking makes lock acquisition fail immediately with ErrLocked
	// instead of waiting on the kernel.
	NonBlocking bool

	// NoYield disables the transaction engine's automatic yield during
	// long iterations (see AlwaysYield for the opposite extreme).
	NoYield bool

	// AlwaysYield releases and re-acquires the read lock before every
	// foreach/cursor callback instead of the default 1024-callback
	// interval. Mutually exclusive with NoYield; NoYield wins if both
	// are set.
	AlwaysYield bool

	// ChecksumEngine selects the record checksum algorithm for newly
	// created databases. Ignored when opening an existing file, whose
	// own persisted choice always applies.
	ChecksumEngine ChecksumEngineKind

	// ExternalChecksum supplies the checksum function when ChecksumEngine
	// is ChecksumExternal, or when opening a file that was created with
	// one.
	ExternalChecksum func([]byte) uint32

	// ComparatorName selects a comparator registered via
	// RegisterComparator for newly created databases. Empty means the
	// default byte-lexicographic comparator. Opening an existing file
	// created with a named comparator requires that name to already be
	// registered, or Open fails with ErrBadFormat.
	ComparatorName string

	// SkipChecksumVerification disables per-record checksum verification
	// on the read path. Corruption is then only ever caught by an
	// explicit ConsistencyCheck.
	SkipChecksumVerification bool

	// OnDiagnostic, if set, receives a copy of every error the core
	// observes internally (for example a checksum mismatch encountered
	// mid-iteration), in addition to that error being returned normally.
	// It is a side channel for logging only; its return value, if any,
	// is ignored, and it must not call back into the database that
	// invoked it.
	OnDiagnostic func(error)

	// FS supplies the filesystem used for every open/stat/rename/remove
	// this package performs (everything except the mapping itself, which
	// always goes straight through syscall.Mmap on the opened fd). Nil
	// uses ofs.NewReal(). Tests substitute ofs.Chaos to exercise Open/Repack
	// under fault injection.
	FS ofs.FS
}

func (o *Options) fs() ofs.FS {
	if o.FS == nil {
		return ofs.NewReal()
	}

	return o.FS
}

func (o *Options) comparator() (Comparator, string, error) {
	name := o.ComparatorName
	if name == "" {
		return defaultComparator(), "bytes.Compare", nil
	}

	cmp, ok := comparatorRegistry[name]
	if !ok {
		return nil, "", ErrBadFormat
	}

	return cmp, name, nil
}

func (o *Options) diagnostic(err error) {
	if o.OnDiagnostic != nil && err != nil {
		o.OnDiagnostic(err)
	}
}
