package ordkv

import "encoding/binary"

// location is the result of a search: the matched offset (or 0 on miss),
// an optional tombstone found in front of the key, and one predecessor
// offset per skip level (index 0 is the level-0 predecessor).
type location struct {
	matchOffset   uint64
	deletedOffset uint64
	backlocs      [maxLevel + 1]uint64
}

// advance0 implements the level-0 slot selection rule (spec.md §4.3): the
// committed slot wins, and among two committed candidates the numerically
// greater (freshest) one wins.
func advance0(slot0, slot1, end uint64) uint64 {
	switch {
	case slot0 >= end:
		return slot1
	case slot1 >= end:
		return slot0
	case slot0 > slot1:
		return slot0
	default:
		return slot1
	}
}

// level0Next returns the record's next level-0 offset given the caller's
// end, or 0 if the chain terminates within [0, end). DELETE carries a
// single, never-rewritten forward pointer rather than a dual slot pair.
func level0Next(rec *record, end uint64) uint64 {
	switch {
	case rec.kind == kindDelete:
		return rec.levelZero0
	case rec.kind.hasDualLevel0():
		return advance0(rec.levelZero0, rec.levelZero1, end)
	default:
		return 0
	}
}

// locate walks the skiplist from DUMMY to find key, per spec.md §4.3. It
// never verifies checksums (hot path); callers that need verification
// (recovery, consistency check) decode separately with verify=true.
func locate(data []byte, end uint64, cmp Comparator, key []byte, engine ChecksumEngine) (*location, error) {
	loc := &location{}

	curOffset := uint64(dummyOffset)

	cur, err := decodeRecord(data, curOffset, engine, false)
	if err != nil {
		return nil, err
	}

	if len(key) == 0 {
		for k := 0; k <= maxLevel; k++ {
			loc.backlocs[k] = curOffset
		}

		return loc, nil
	}

	// Descend levels 31..1. futureoffset: a level that points at the same
	// offset the level above already rejected doesn't need a fresh key
	// comparison — the outcome is known.
	var rejected uint64
	var rejectedLess bool

	for k := maxLevel; k >= 1; k-- {
		for {
			next := cur.forwardAt(k)
			if next == 0 || next >= end {
				break
			}

			var less bool

			if next == rejected {
				less = rejectedLess
			} else {
				nextRec, err := decodeRecord(data, next, engine, false)
				if err != nil {
					return nil, err
				}

				less = cmp(nextRec.key, key) < 0
			}

			if less {
				cur, err = decodeRecord(data, next, engine, false)
				if err != nil {
					return nil, err
				}

				curOffset = next
			} else {
				rejected, rejectedLess = next, false

				break
			}
		}

		loc.backlocs[k] = curOffset
	}

	// Level 0: DELETE nodes have no key of their own; they mask the key
	// of the record they precede (their ancestor, which equals their
	// forward target).
	for {
		next := level0Next(cur, end)
		if next == 0 || next >= end {
			break
		}

		nextRec, err := decodeRecord(data, next, engine, false)
		if err != nil {
			return nil, err
		}

		if nextRec.kind == kindDelete {
			maskedRec, err := decodeRecord(data, nextRec.ancestor, engine, false)
			if err != nil {
				return nil, err
			}

			c := cmp(maskedRec.key, key)
			if c < 0 {
				curOffset, cur = next, nextRec
				continue
			}

			if c == 0 {
				loc.deletedOffset = next
				loc.backlocs[0] = curOffset

				return loc, nil
			}

			break
		}

		c := cmp(nextRec.key, key)
		if c < 0 {
			curOffset, cur = next, nextRec
			continue
		}

		if c == 0 {
			loc.matchOffset = next
			loc.backlocs[0] = curOffset

			return loc, nil
		}

		break
	}

	loc.backlocs[0] = curOffset

	return loc, nil
}

// setLevel0 applies the level-0 slot write rule (spec.md §4.3): the slot
// still pointing into committed data is preserved; the stale or already-
// newer slot is overwritten. After mutation the head checksum is
// recomputed in place.
func setLevel0(data []byte, predOffset, newOffset, committedSize uint64, engine ChecksumEngine) error {
	pred, err := decodeRecord(data, predOffset, engine, false)
	if err != nil {
		return err
	}

	if !pred.kind.hasDualLevel0() {
		return ErrInternal
	}

	writeSlot1 := pred.levelZero0 < committedSize && (pred.levelZero1 >= committedSize || pred.levelZero0 > pred.levelZero1)

	slotOff := predOffset + recPrefixSize
	if writeSlot1 {
		slotOff += 8
	}

	binary.LittleEndian.PutUint64(data[slotOff:slotOff+8], newOffset)
	recomputeHeadCRC(data, predOffset, pred.fixedLen, engine)

	return nil
}

// setLevelK overwrites a predecessor's level-k (k>=1) forward pointer in
// place. Unlike level 0, higher levels carry no crash-safety: a stale
// pointer left by an aborted transaction simply refers to an offset
// >= end, which locate's range check skips over until some later insert
// happens to pass through this predecessor again at this level.
func setLevelK(data []byte, predOffset uint64, k int, newOffset uint64, engine ChecksumEngine) error {
	pred, err := decodeRecord(data, predOffset, engine, false)
	if err != nil {
		return err
	}

	if k < 1 || k > pred.level {
		return ErrInternal
	}

	off := pred.forwardBase + uint64(k-1)*8
	binary.LittleEndian.PutUint64(data[off:off+8], newOffset)
	recomputeHeadCRC(data, predOffset, pred.fixedLen, engine)

	return nil
}

// position is the owned, cacheable result of a prior find_loc, letting
// sequential scans and sorted bulk inserts stay O(1) per step instead of
// re-running locate from DUMMY each time (spec.md §4.3).
type position struct {
	valid    bool
	fileGen  uint64 // identity epoch; bumped on remap/repack to invalidate
	end      uint64
	key      []byte
	loc      location
	hasMatch bool
}

// findLoc wraps locate with the position-cache short-circuits described in
// spec.md §4.3. pos is updated in place to reflect the new search.
func findLoc(pos *position, data []byte, end uint64, fileGen uint64, cmp Comparator, key []byte, engine ChecksumEngine) (*location, error) {
	if pos.valid && pos.fileGen == fileGen && pos.end == end {
		if pos.hasMatch && cmp(pos.key, key) == 0 {
			// Exact-match cache hit: one comparison, no re-walk.
			loc := pos.loc
			return &loc, nil
		}

		if pos.hasMatch {
			matchRec, err := decodeRecord(data, pos.loc.matchOffset, engine, false)
			if err == nil {
				next := level0Next(matchRec, end)
				if next != 0 && next < end {
					nextRec, err := decodeRecord(data, next, engine, false)
					if err == nil && nextRec.kind != kindDelete {
						if cmp(nextRec.key, key) == 0 {
							loc := location{matchOffset: next, backlocs: pos.loc.backlocs}
							loc.backlocs[0] = pos.loc.matchOffset

							newPos := position{valid: true, fileGen: fileGen, end: end, key: key, loc: loc, hasMatch: true}
							*pos = newPos

							return &loc, nil
						}
					}
				}
			}
		}
	}

	loc, err := locate(data, end, cmp, key, engine)
	if err != nil {
		return nil, err
	}

	*pos = position{
		valid:    true,
		fileGen:  fileGen,
		end:      end,
		key:      key,
		loc:      *loc,
		hasMatch: loc.matchOffset != 0,
	}

	return loc, nil
}
