package ordkv

import "encoding/binary"

// recover runs the crash-recovery walk (spec.md §4.5) and clears the DIRTY
// bit once it completes. Called from Open when the header's DIRTY bit is
// found set. Txn.Abort does not call it: Abort runs recoverChain and
// clears the DIRTY bit itself, without the verifyChain pass.
func (db *DB) recover() error {
	if err := recoverChain(db.mf.data, db.current, db.checksum); err != nil {
		return err
	}

	if err := db.verifyChain(); err != nil {
		return err
	}

	return db.markDirty(false)
}

// recoverChain walks the level-0 chain from DUMMY bounded by currentSize.
// For every record with dual level-0 slots, any slot referencing an offset
// at or beyond currentSize (necessarily from an incomplete transaction) is
// zeroed and the head checksum recomputed. Higher-level forward pointers
// are left untouched: a stale one simply refers past currentSize, and
// locate's own range check skips it until a later insert overwrites it
// (spec.md §4.5).
func recoverChain(data []byte, currentSize uint64, engine ChecksumEngine) error {
	offset := uint64(dummyOffset)

	for {
		rec, err := decodeRecord(data, offset, engine, false)
		if err != nil {
			return err
		}

		var next uint64

		if rec.kind.hasDualLevel0() {
			slot0, slot1 := rec.levelZero0, rec.levelZero1
			changed := false

			if slot0 != 0 && slot0 >= currentSize {
				slot0 = 0
				changed = true
			}

			if slot1 != 0 && slot1 >= currentSize {
				slot1 = 0
				changed = true
			}

			if changed {
				writeLevel0Slots(data, rec, slot0, slot1, engine)
			}

			next = advance0(slot0, slot1, currentSize)
		} else {
			next = level0Next(rec, currentSize)
		}

		if next == 0 || next >= currentSize {
			return nil
		}

		offset = next
	}
}

func writeLevel0Slots(data []byte, rec *record, slot0, slot1 uint64, engine ChecksumEngine) {
	off := rec.offset + recPrefixSize
	binary.LittleEndian.PutUint64(data[off:off+8], slot0)
	binary.LittleEndian.PutUint64(data[off+8:off+16], slot1)
	recomputeHeadCRC(data, rec.offset, rec.fixedLen, engine)
}

// verifyChain re-verifies checksums and basic ordering along the level-0
// chain after recovery. Any failure means the file cannot be safely opened
// read-write (spec.md §4.5 step 3).
func (db *DB) verifyChain() error {
	offset := uint64(dummyOffset)

	var prevKey []byte
	first := true

	for {
		rec, err := decodeRecord(db.mf.data, offset, db.checksum, true)
		if err != nil {
			return err
		}

		next := level0Next(rec, db.current)
		if next == 0 || next >= db.current {
			return nil
		}

		nextRec, err := decodeRecord(db.mf.data, next, db.checksum, true)
		if err != nil {
			return err
		}

		if nextRec.kind != kindDelete && nextRec.kind.hasTail() {
			if !first && db.cmp(prevKey, nextRec.key) >= 0 {
				return ErrBadFormat
			}

			prevKey = nextRec.key
			first = false
		}

		offset = next
	}
}
