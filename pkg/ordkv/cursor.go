package ordkv

import "bytes"

// WalkFunc is a foreach/cursor callback. Returning a non-nil error stops
// iteration; that error is propagated as the result of Foreach. Key and
// value alias the mapping and are valid only until the callback returns or
// the caller performs an operation that may remap.
type WalkFunc func(key, value []byte) error

// ForeachOptions configures Foreach.
type ForeachOptions struct {
	// Prefix restricts iteration to keys sharing this byte prefix.
	Prefix []byte

	// StartAfter, if non-nil, begins iteration just after this exact key
	// rather than at the start of Prefix (skip-first-exact-match).
	StartAfter []byte

	// Predicate, if set, is consulted for every live key in range; keys
	// for which it returns false are skipped without invoking fn.
	Predicate func(key []byte) bool
}

// Foreach walks live keys in strictly increasing order starting from
// Prefix (or the file start if empty), calling fn for each one in range.
// Iteration stops at the first key not sharing Prefix, at Done from fn, on
// error, or at end of file. Automatic yielding follows the transaction's
// NoYield/AlwaysYield configuration (spec.md §5).
func (t *Txn) Foreach(opts ForeachOptions, fn WalkFunc) error {
	if !t.active {
		return ErrBadUsage
	}

	startKey := opts.Prefix
	if opts.StartAfter != nil {
		startKey = opts.StartAfter
	}

	loc, err := locate(t.mf.data, t.end, t.db.cmp, startKey, t.db.checksum)
	if err != nil {
		return err
	}

	cur := loc.backlocs[0]
	if opts.StartAfter != nil && loc.matchOffset != 0 {
		cur = loc.matchOffset
	}

	verify := !t.db.opts.SkipChecksumVerification

	for {
		rec, err := decodeRecord(t.mf.data, cur, t.db.checksum, verify)
		if err != nil {
			t.db.opts.diagnostic(err)
			return err
		}

		next := level0Next(rec, t.end)
		if next == 0 || next >= t.end {
			return nil
		}

		nextRec, err := decodeRecord(t.mf.data, next, t.db.checksum, verify)
		if err != nil {
			t.db.opts.diagnostic(err)
			return err
		}

		if nextRec.kind == kindDelete {
			cur = next
			continue
		}

		if len(opts.Prefix) > 0 && !bytes.HasPrefix(nextRec.key, opts.Prefix) {
			if t.db.cmp(nextRec.key, opts.Prefix) > 0 {
				return nil
			}

			cur = next
			continue
		}

		if opts.Predicate == nil || opts.Predicate(nextRec.key) {
			if err := fn(nextRec.key, nextRec.value); err != nil {
				return err
			}
		}

		cur = next

		if err := t.yieldIfDue(); err != nil {
			return err
		}
	}
}
