package ordkv

import "bytes"

// Comparator orders two byte-string keys the way bytes.Compare does:
// negative if a<b, zero if equal, positive if a>b. The empty key must
// compare less than every non-empty key (spec.md §4.3's "empty key sorts
// first" optimisation relies on this).
type Comparator func(a, b []byte) int

// namedComparator pairs a Comparator with the stable name persisted in the
// header's comparator-id flags field. Per spec.md §9's Open Question, a
// custom comparator is identified in the file by a short registered name
// rather than by an unstable function pointer, so a process without that
// name registered gets a clean ErrBadFormat instead of silently using the
// wrong order.
type namedComparator struct {
	name string
	cmp  Comparator
}

// comparatorRegistry maps stable names to comparator implementations.
// Register custom comparators here before Open if a database was created
// with one.
var comparatorRegistry = map[string]Comparator{
	"bytes.Compare": bytes.Compare,
}

// RegisterComparator makes a named comparator available to Open. Call this
// during program initialization, before opening any database created with
// a custom comparator.
func RegisterComparator(name string, cmp Comparator) {
	comparatorRegistry[name] = cmp
}

func defaultComparator() Comparator { return bytes.Compare }
