package ordkv

import "github.com/cespare/xxhash/v2"

// ChecksumEngineKind selects the record checksum algorithm at file
// creation time. The choice is persisted in the header flags word and
// cannot change without a repack (spec.md §6).
type ChecksumEngineKind uint8

const (
	// ChecksumXXH64 is the default: a 64-bit non-cryptographic hash
	// (xxhash) truncated to its low 32 bits.
	ChecksumXXH64 ChecksumEngineKind = iota

	// ChecksumNull disables checksumming entirely (Sum always returns 0).
	// Intended only for tests that want to construct malformed fixtures
	// without fighting a real checksum.
	ChecksumNull

	// ChecksumExternal delegates to a caller-supplied function
	// (Options.ExternalChecksum). Opening a file created with an external
	// engine requires the same function to be supplied again.
	ChecksumExternal
)

// ChecksumEngine computes a 32-bit digest over a byte range. Implementations
// need not be cryptographically strong; they exist to detect accidental
// corruption, not tampering.
type ChecksumEngine interface {
	Sum(data []byte) uint32
}

type nullChecksum struct{}

func (nullChecksum) Sum([]byte) uint32 { return 0 }

type xxh64Checksum struct{}

func (xxh64Checksum) Sum(data []byte) uint32 {
	return uint32(xxhash.Sum64(data))
}

// externalChecksum adapts a caller-supplied function to ChecksumEngine.
type externalChecksum struct {
	fn func([]byte) uint32
}

func (e externalChecksum) Sum(data []byte) uint32 { return e.fn(data) }

// engineForKind returns the built-in engine for a persisted kind and true,
// or false for a kind with no built-in engine (ChecksumExternal, whose
// caller-supplied function is resolved by resolveNewChecksumEngine and
// loadExistingFile in db.go).
func engineForKind(kind ChecksumEngineKind) (ChecksumEngine, bool) {
	switch kind {
	case ChecksumNull:
		return nullChecksum{}, true
	case ChecksumXXH64:
		return xxh64Checksum{}, true
	default:
		return nil, false
	}
}
