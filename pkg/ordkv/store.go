package ordkv

// StoreCond constrains a Store call based on whether the key currently
// exists.
type StoreCond uint8

const (
	// StoreAny stores unconditionally, inserting or replacing as needed.
	StoreAny StoreCond = iota

	// StoreIfNotExist fails with ErrExists if the key is currently live.
	StoreIfNotExist

	// StoreIfExist fails with ErrNotFound if the key is not currently live.
	StoreIfExist
)

// Store inserts or replaces key with value, following spec.md §4.4's
// insert protocol: find_loc locates the key; an exact live match becomes a
// REPLACE (or FATREPLACE) ancestoring the matched record, otherwise a new
// ADD (or FATADD) is linked in. A nil value means delete (spec.md §6, §8):
// Store(key, nil, ...) is equivalent to Delete(key), honoring cond the same
// way Delete would (StoreIfNotExist makes no sense for a delete and is
// rejected as ErrBadUsage). value == []byte{} (non-nil, zero length) stores
// an empty value and is distinct from a delete.
func (t *Txn) Store(key, value []byte, cond StoreCond) error {
	if !t.writable {
		return ErrReadOnly
	}

	if !t.active {
		return ErrBadUsage
	}

	if value == nil {
		if cond == StoreIfNotExist {
			return ErrBadUsage
		}

		return t.delete(key)
	}

	loc, err := findLoc(&t.pos, t.mf.data, t.end, t.db.fileGen, t.db.cmp, key, t.db.checksum)
	if err != nil {
		return err
	}

	exists := loc.matchOffset != 0

	switch cond {
	case StoreIfNotExist:
		if exists {
			return ErrExists
		}
	case StoreIfExist:
		if !exists {
			return ErrNotFound
		}
	}

	if exists {
		return t.replaceAt(loc, key, value)
	}

	return t.insertAt(loc, key, value)
}

// insertAt appends a new ADD/FATADD record and links it into the chain at
// every level 0..L-1 using the predecessors recorded in loc.
func (t *Txn) insertAt(loc *location, key, value []byte) error {
	level := t.db.levels.next()

	forward := make([]uint64, level)
	for k := 1; k <= level; k++ {
		pred, err := decodeRecord(t.mf.data, loc.backlocs[k], t.db.checksum, false)
		if err != nil {
			return err
		}

		forward[k-1] = pred.forwardAt(k)
	}

	kind := chooseKind(false, uint64(len(key)), uint64(len(value)))

	pred0, err := decodeRecord(t.mf.data, loc.backlocs[0], t.db.checksum, false)
	if err != nil {
		return err
	}

	slot0 := level0Next(pred0, t.end)

	buf := encodeRecord(kind, level, 0, slot0, slot0, forward, key, value, 0, t.db.checksum)

	offset, err := t.appendRecord(buf)
	if err != nil {
		return err
	}

	if err := setLevel0(t.mf.data, loc.backlocs[0], offset, t.committedSize(), t.db.checksum); err != nil {
		return err
	}

	for k := 1; k <= level; k++ {
		if err := setLevelK(t.mf.data, loc.backlocs[k], k, offset, t.db.checksum); err != nil {
			return err
		}
	}

	if level > int(t.pendingMaxLevel) {
		t.pendingMaxLevel = uint32(level)
	}

	t.pendingNumRecords++
	t.pos.valid = false

	return nil
}

// replaceAt appends a REPLACE/FATREPLACE ancestoring the matched record and
// splices it into the level-0 chain in the matched record's place.
func (t *Txn) replaceAt(loc *location, key, value []byte) error {
	matched, err := decodeRecord(t.mf.data, loc.matchOffset, t.db.checksum, false)
	if err != nil {
		return err
	}

	level := matched.level
	forward := make([]uint64, len(matched.forward))
	copy(forward, matched.forward)

	kind := chooseKind(true, uint64(len(key)), uint64(len(value)))

	slot0 := level0Next(matched, t.end)

	buf := encodeRecord(kind, level, loc.matchOffset, slot0, slot0, forward, key, value, 0, t.db.checksum)

	offset, err := t.appendRecord(buf)
	if err != nil {
		return err
	}

	if err := setLevel0(t.mf.data, loc.backlocs[0], offset, t.committedSize(), t.db.checksum); err != nil {
		return err
	}

	// dirty_size accounts the superseded record's padded size, not the
	// new record's size (spec.md §9's Open Question, resolved that way).
	t.pendingDirtyAdd += matched.totalLen()
	t.pos.valid = false

	return nil
}

// Delete tombstones key. A subsequent fetch within this or a later
// transaction returns ErrNotFound. Returns ErrNotFound if key is not
// currently live.
func (t *Txn) Delete(key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}

	if !t.active {
		return ErrBadUsage
	}

	return t.delete(key)
}

// delete implements the tombstoning shared by Delete and Store(key, nil, ...).
func (t *Txn) delete(key []byte) error {
	loc, err := findLoc(&t.pos, t.mf.data, t.end, t.db.fileGen, t.db.cmp, key, t.db.checksum)
	if err != nil {
		return err
	}

	if loc.matchOffset == 0 {
		return ErrNotFound
	}

	matched, err := decodeRecord(t.mf.data, loc.matchOffset, t.db.checksum, false)
	if err != nil {
		return err
	}

	buf := encodeRecord(kindDelete, 0, loc.matchOffset, loc.matchOffset, loc.matchOffset, nil, nil, nil, 0, t.db.checksum)

	offset, err := t.appendRecord(buf)
	if err != nil {
		return err
	}

	if err := setLevel0(t.mf.data, loc.backlocs[0], offset, t.committedSize(), t.db.checksum); err != nil {
		return err
	}

	// Two dead records accounted: the tombstoned target plus the
	// tombstone itself (spec.md §4.4 step 4).
	t.pendingDirtyAdd += matched.totalLen() + uint64(len(buf))
	t.pendingNumRecords--
	t.pos.valid = false

	return nil
}
