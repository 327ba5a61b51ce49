package ordkv

import (
	"encoding/binary"
	"hash/crc32"
)

// recordKind tags the seven on-disk record variants. All kinds share an
// 8-byte prefix (type, level, reserved, head checksum).
type recordKind uint8

const (
	kindDummy recordKind = iota + 1
	kindAdd
	kindFatAdd
	kindReplace
	kindFatReplace
	kindDelete
	kindCommit
)

func (k recordKind) String() string {
	switch k {
	case kindDummy:
		return "DUMMY"
	case kindAdd:
		return "ADD"
	case kindFatAdd:
		return "FATADD"
	case kindReplace:
		return "REPLACE"
	case kindFatReplace:
		return "FATREPLACE"
	case kindDelete:
		return "DELETE"
	case kindCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

func (k recordKind) hasTail() bool {
	return k == kindAdd || k == kindFatAdd || k == kindReplace || k == kindFatReplace
}

func (k recordKind) hasAncestor() bool {
	return k == kindReplace || k == kindFatReplace || k == kindDelete
}

func (k recordKind) isFat() bool {
	return k == kindFatAdd || k == kindFatReplace
}

// participates reports whether the kind is reachable from DUMMY via
// level-0 forward pointers (invariant 1, spec.md §3). DELETE participates
// with a single forward pointer; COMMIT never participates.
func (k recordKind) participates() bool {
	return k != kindCommit
}

// hasDualLevel0 reports whether the kind carries two candidate level-0
// forward slots (the crash-safe publisher scheme of §4.3) rather than a
// single, never-rewritten forward pointer (DELETE) or none at all (COMMIT).
func (k recordKind) hasDualLevel0() bool {
	switch k {
	case kindDummy, kindAdd, kindFatAdd, kindReplace, kindFatReplace:
		return true
	default:
		return false
	}
}

// Byte layout.
//
// Every record begins with an 8-byte prefix: type(1) level(1) reserved(2)
// headChecksum(4). Kinds that participate in the skiplist (everything but
// COMMIT) then carry either a dual level-0 forward slot pair (16 bytes, for
// DUMMY/ADD/FATADD/REPLACE/FATREPLACE) or a single never-rewritten forward
// pointer (8 bytes, DELETE only) — see hasDualLevel0.
//
// Kinds with a tail (ADD/FATADD/REPLACE/FATREPLACE) next carry a
// length+checksum block holding the explicit key/value lengths (required:
// keys and values may contain embedded NUL bytes, so the tail cannot be
// delimited by scanning for NUL alone) and the tail checksum. Non-fat kinds
// use 32-bit length fields for layout simplicity (the 16-bit/64-bit key
// length distinction from spec.md §3 is enforced by chooseKind, not by the
// field width); fat kinds use 64-bit fields.
//
// REPLACE/FATREPLACE/DELETE then carry an 8-byte ancestor back-pointer.
// DUMMY/ADD/FATADD/REPLACE/FATREPLACE close with `level` extra forward
// pointers for skip levels 1..level (DUMMY always carries all 31).
// COMMIT instead carries an 8-byte start_offset and 8 reserved bytes.
//
// This diverges from the illustrative byte counts in spec.md §6 (which
// omit the length/tail-checksum fields), for the NUL-safety reason given
// above.
const (
	offType       = 0
	offLevel      = 1
	offPrefixPad  = 2 // 2 reserved bytes
	offHeadCRC    = 4
	recPrefixSize = 8

	dualSlotSize  = 16 // levelZeroSlot0(8) + levelZeroSlot1(8)
	lenBlockSize  = 16 // keyLen32(4) + valLen32(4) + tailCRC32(4) + reserved32(4)
	fatLenBlockSz = 24 // keyLen64(8) + valLen64(8) + tailCRC32(4) + reserved32(4)
	ancestorSize  = 8
)

// dummyRecordSize is the fixed, unvarying size of the DUMMY sentinel:
// prefix(8) + dual level-0 slots(16) + forward pointers for levels 1..31
// (31*8=248) = 272 bytes, matching spec.md §6.
const dummyRecordSize = recPrefixSize + dualSlotSize + maxLevel*8

// dummyOffset is the DUMMY record's fixed file offset, immediately after
// the 96-byte header.
const dummyOffset = headerSize

// fixedSize returns the byte length of a record's fixed part (everything
// before its tail), for a kind/level combination. level is the number of
// extra forward-pointer slots beyond the level-0 slot(s).
func fixedSize(kind recordKind, level int) int {
	switch kind {
	case kindDummy:
		return dummyRecordSize
	case kindAdd:
		return recPrefixSize + dualSlotSize + lenBlockSize + level*8
	case kindFatAdd:
		return recPrefixSize + dualSlotSize + fatLenBlockSz + level*8
	case kindReplace:
		return recPrefixSize + dualSlotSize + lenBlockSize + ancestorSize + level*8
	case kindFatReplace:
		return recPrefixSize + dualSlotSize + fatLenBlockSz + ancestorSize + level*8
	case kindDelete:
		return recPrefixSize + ancestorSize + 8 // single forward0
	case kindCommit:
		return recPrefixSize + 8 + 8 // startOffset + reserved
	default:
		return 0
	}
}

// tailSize returns pad8(keyLen+valLen+2): the two NUL separators bracketing
// the value, rounded up to an 8-byte boundary.
func tailSize(keyLen, valLen uint64) uint64 {
	return align8(keyLen + valLen + 2)
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// chooseKind selects the fat variant only when required, per spec.md §4.1.
func chooseKind(isReplace bool, keyLen, valLen uint64) recordKind {
	fat := keyLen > maxKeySizeNonFat || valLen > maxValueSizeNonFat

	switch {
	case isReplace && fat:
		return kindFatReplace
	case isReplace:
		return kindReplace
	case fat:
		return kindFatAdd
	default:
		return kindAdd
	}
}

// record is a decoded view into the mapping: it never copies key/value
// bytes, only slices into the backing mmap. Slices are valid until the
// next operation that may remap (see mmapfile.go's safe pointer policy).
type record struct {
	offset     uint64
	kind       recordKind
	level      int // number of extra forward slots beyond level-0
	headCRC    uint32
	tailCRC    uint32
	ancestor   uint64 // 0 if none
	levelZero0 uint64
	levelZero1 uint64 // unused for kindDelete/kindCommit
	keyLen     uint64
	valLen     uint64
	key        []byte
	value      []byte
	forward    []uint64 // levels 1..level, index 0 == level 1
	forwardBase uint64  // absolute file offset of forward[0], for in-place rewrite
	startOff   uint64   // kindCommit only
	fixedLen   int
	tailLen    uint64
}

// totalLen is the full padded on-disk length of the record.
func (r *record) totalLen() uint64 {
	return uint64(r.fixedLen) + r.tailLen
}

// encodeRecord serializes a new record and computes its head and (if
// present) tail checksums with engine. The returned buffer's length equals
// the record's total padded length.
func encodeRecord(kind recordKind, level int, ancestor uint64, slot0, slot1 uint64,
	forward []uint64, key, value []byte, startOff uint64, engine ChecksumEngine) []byte {
	var keyLen, valLen uint64
	if kind.hasTail() {
		keyLen, valLen = uint64(len(key)), uint64(len(value))
	}

	fsize := fixedSize(kind, level)

	var tlen uint64
	if kind.hasTail() {
		tlen = tailSize(keyLen, valLen)
	}

	buf := make([]byte, uint64(fsize)+tlen)
	buf[offType] = byte(kind)
	buf[offLevel] = byte(level)

	off := recPrefixSize

	if kind.hasDualLevel0() {
		binary.LittleEndian.PutUint64(buf[off:off+8], slot0)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], slot1)
		off += dualSlotSize
	}

	var tailCRCOff int

	switch {
	case kind == kindAdd || kind == kindReplace:
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(keyLen))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(valLen))
		tailCRCOff = off + 8
		off += lenBlockSize
	case kind == kindFatAdd || kind == kindFatReplace:
		binary.LittleEndian.PutUint64(buf[off:off+8], keyLen)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], valLen)
		tailCRCOff = off + 16
		off += fatLenBlockSz
	}

	if kind.hasAncestor() && kind != kindDelete {
		binary.LittleEndian.PutUint64(buf[off:off+8], ancestor)
		off += ancestorSize
	}

	switch kind {
	case kindDummy, kindAdd, kindFatAdd, kindReplace, kindFatReplace:
		for i, fp := range forward {
			binary.LittleEndian.PutUint64(buf[off+i*8:off+i*8+8], fp)
		}
	case kindDelete:
		binary.LittleEndian.PutUint64(buf[off:off+8], ancestor)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], slot0)
	case kindCommit:
		binary.LittleEndian.PutUint64(buf[off:off+8], startOff)
	}

	if kind.hasTail() {
		tailStart := fsize
		copy(buf[tailStart:], key)
		buf[tailStart+len(key)] = 0
		copy(buf[tailStart+len(key)+1:], value)
		buf[tailStart+len(key)+1+len(value)] = 0
		// remaining padding bytes are already zero

		tailCRC := engine.Sum(buf[tailStart:])
		binary.LittleEndian.PutUint32(buf[tailCRCOff:tailCRCOff+4], tailCRC)
	}

	headCRC := engine.Sum(headCoverage(buf, fsize))
	binary.LittleEndian.PutUint32(buf[offHeadCRC:offHeadCRC+4], headCRC)

	return buf
}

// headCoverage returns the bytes the head checksum covers: the entire
// fixed part excluding the 4-byte checksum field itself.
func headCoverage(buf []byte, fixedLen int) []byte {
	out := make([]byte, 0, fixedLen-4)
	out = append(out, buf[:offHeadCRC]...)
	out = append(out, buf[offHeadCRC+4:fixedLen]...)

	return out
}

// decodeRecord reads a record's view at offset o. It never copies key or
// value bytes; it slices the mapping directly. verify controls whether
// head and tail checksums are validated against engine.
func decodeRecord(data []byte, o uint64, engine ChecksumEngine, verify bool) (*record, error) {
	if o+recPrefixSize > uint64(len(data)) {
		return nil, ErrBadFormat
	}

	kind := recordKind(data[o+offType])
	level := int(data[o+offLevel])

	if level > maxLevel {
		return nil, ErrBadFormat
	}

	fsize := fixedSize(kind, level)
	if fsize == 0 || o+uint64(fsize) > uint64(len(data)) {
		return nil, ErrBadFormat
	}

	rec := &record{offset: o, kind: kind, level: level, fixedLen: fsize}
	buf := data[o : o+uint64(fsize)]
	rec.headCRC = binary.LittleEndian.Uint32(buf[offHeadCRC : offHeadCRC+4])

	off := recPrefixSize

	if kind.hasDualLevel0() {
		rec.levelZero0 = binary.LittleEndian.Uint64(buf[off : off+8])
		rec.levelZero1 = binary.LittleEndian.Uint64(buf[off+8 : off+16])
		off += dualSlotSize
	}

	var tailCRCOff int

	switch {
	case kind == kindAdd || kind == kindReplace:
		rec.keyLen = uint64(binary.LittleEndian.Uint32(buf[off : off+4]))
		rec.valLen = uint64(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		tailCRCOff = off + 8
		off += lenBlockSize
	case kind == kindFatAdd || kind == kindFatReplace:
		rec.keyLen = binary.LittleEndian.Uint64(buf[off : off+8])
		rec.valLen = binary.LittleEndian.Uint64(buf[off+8 : off+16])
		tailCRCOff = off + 16
		off += fatLenBlockSz
	}

	if kind == kindReplace || kind == kindFatReplace {
		rec.ancestor = binary.LittleEndian.Uint64(buf[off : off+8])
		off += ancestorSize
	}

	switch kind {
	case kindDummy, kindAdd, kindFatAdd, kindReplace, kindFatReplace:
		rec.forward = decodeForward(buf[off:], level)
		rec.forwardBase = o + uint64(off)
	case kindDelete:
		rec.ancestor = binary.LittleEndian.Uint64(buf[off : off+8])
		rec.levelZero0 = binary.LittleEndian.Uint64(buf[off+8 : off+16])
	case kindCommit:
		rec.startOff = binary.LittleEndian.Uint64(buf[off : off+8])
	default:
		return nil, ErrBadFormat
	}

	if kind.hasTail() {
		rec.tailCRC = binary.LittleEndian.Uint32(buf[tailCRCOff : tailCRCOff+4])

		tlen := tailSize(rec.keyLen, rec.valLen)
		rec.tailLen = tlen

		tailStart := o + uint64(fsize)
		if tailStart+tlen > uint64(len(data)) {
			return nil, ErrBadFormat
		}

		tail := data[tailStart : tailStart+tlen]
		if rec.keyLen+1+rec.valLen+1 > uint64(len(tail)) {
			return nil, ErrBadFormat
		}

		rec.key = tail[:rec.keyLen]
		rec.value = tail[rec.keyLen+1 : rec.keyLen+1+rec.valLen]

		if verify {
			tailCRC := engine.Sum(tail)
			if tailCRC != rec.tailCRC {
				return nil, ErrBadChecksum
			}
		}
	}

	if verify {
		headCRC := engine.Sum(headCoverage(buf, fsize))
		if headCRC != rec.headCRC {
			return nil, ErrBadChecksum
		}
	}

	return rec, nil
}

func decodeForward(buf []byte, level int) []uint64 {
	if level == 0 {
		return nil
	}

	fwd := make([]uint64, level)
	for i := 0; i < level; i++ {
		fwd[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}

	return fwd
}

// forwardAt returns the record's forward pointer for level k (k>=1).
func (r *record) forwardAt(k int) uint64 {
	if k < 1 {
		return 0
	}

	idx := k - 1
	if idx >= len(r.forward) {
		return 0
	}

	return r.forward[idx]
}

// recomputeHeadCRC rewrites the head checksum in place after a level-0
// forward-slot mutation (set_level0, spec.md §4.3).
func recomputeHeadCRC(data []byte, o uint64, fixedLen int, engine ChecksumEngine) {
	buf := data[o : o+uint64(fixedLen)]
	crc := engine.Sum(headCoverage(buf, fixedLen))
	binary.LittleEndian.PutUint32(buf[offHeadCRC:offHeadCRC+4], crc)
}

// crc32cTable is used only for the 96-byte file header's own checksum,
// independent of the record checksum engine (the header must be
// verifiable before the engine choice stored within it has even been read).
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func checksumIEEECastagnoli(buf []byte) uint32 {
	return crc32.Checksum(buf, crc32cTable)
}
