package ordkv

// Fetch looks up key and returns its current value, or ErrNotFound if the
// key is absent or tombstoned. The returned slice aliases the underlying
// mapping: per spec.md §4.2's safe pointer policy, it remains valid only
// until the next operation on this transaction that may append or remap
// (Store, Delete, Commit, Abort, Yield).
func (t *Txn) Fetch(key []byte) ([]byte, error) {
	if !t.active {
		return nil, ErrBadUsage
	}

	loc, err := findLoc(&t.pos, t.mf.data, t.end, t.db.fileGen, t.db.cmp, key, t.db.checksum)
	if err != nil {
		t.db.opts.diagnostic(err)
		return nil, err
	}

	offset := loc.deletedOffset
	if offset == 0 {
		offset = loc.matchOffset
	}

	if offset == 0 {
		return nil, ErrNotFound
	}

	verify := !t.db.opts.SkipChecksumVerification

	// MVCC ancestor walk (spec.md §4.4): offsets at or beyond this
	// transaction's frozen end belong to a commit the snapshot excludes.
	for offset >= t.end {
		rec, err := decodeRecord(t.mf.data, offset, t.db.checksum, verify)
		if err != nil {
			return nil, err
		}

		offset = rec.ancestor
		if offset == 0 {
			return nil, ErrNotFound
		}
	}

	rec, err := decodeRecord(t.mf.data, offset, t.db.checksum, verify)
	if err != nil {
		t.db.opts.diagnostic(err)
		return nil, err
	}

	if rec.kind == kindDelete {
		return nil, ErrNotFound
	}

	return rec.value, nil
}
