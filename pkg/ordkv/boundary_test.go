package ordkv_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/calvinalkan/ordkv/pkg/ordkv"
)

// Test_Empty_Key_Sorts_First_And_Round_Trips covers spec.md §8's
// "Empty key" boundary behaviour.
func Test_Empty_Key_Sorts_First_And_Round_Trips(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db, [2]string{"", "first"}, [2]string{"a", "second"}, [2]string{"b", "third"})

	v, err := fetchOne(t, db, "")
	if err != nil || string(v) != "first" {
		t.Fatalf("fetch empty key: got %q, %v", v, err)
	}

	txn, err := db.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer func() { _ = txn.Commit() }()

	var seen []string

	err = txn.Foreach(ordkv.ForeachOptions{}, func(key, value []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}

	if len(seen) == 0 || seen[0] != "" {
		t.Fatalf("foreach order: got %v, want empty key first", seen)
	}
}

// Test_Zero_Length_Value_Is_Distinct_From_Absent covers spec.md §8's
// "Zero-length value" boundary behaviour: storing an empty value is not
// the same as deleting the key, but storing a nil value is — store(NULL, 0)
// deletes, store("", 0) stores empty.
func Test_Zero_Length_Value_Is_Distinct_From_Absent(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db, [2]string{"k", ""})

	v, err := fetchOne(t, db, "k")
	if err != nil {
		t.Fatalf("fetch k: %v", err)
	}

	if len(v) != 0 {
		t.Fatalf("fetch k: got %q, want zero-length (not absent)", v)
	}

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := txn.Store([]byte("k"), nil, ordkv.StoreAny); err != nil {
		t.Fatalf("store with nil value: want delete to succeed, got %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := fetchOne(t, db, "k"); !errors.Is(err, ordkv.ErrNotFound) {
		t.Fatalf("fetch k after store(nil): want ErrNotFound, got %v", err)
	}
}

// Test_Binary_Key_Value_Round_Trip covers spec.md §8 invariant 2: arbitrary
// bytes 0..255, including NUL, tab, CR, LF, and high-bit bytes, survive a
// store/commit/fetch cycle exactly.
func Test_Binary_Key_Value_Round_Trip(t *testing.T) {
	t.Parallel()

	key := make([]byte, 256)
	value := make([]byte, 256)

	for i := range key {
		key[i] = byte(i)
		value[i] = byte(255 - i)
	}

	db := openTemp(t, ordkv.Options{})

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := txn.Store(key, value, ordkv.StoreAny); err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	readTxn, err := db.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer func() { _ = readTxn.Commit() }()

	got, err := readTxn.Fetch(key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Fatalf("fetch: got %v, want %v", got, value)
	}
}

// Test_Oversized_Key_Forces_Fat_Variant_And_Still_Round_Trips covers
// spec.md §8's "Keys > 65535 bytes force the fat variant" boundary.
func Test_Oversized_Key_Forces_Fat_Variant_And_Still_Round_Trips(t *testing.T) {
	t.Parallel()

	key := []byte(strings.Repeat("k", 70_000))
	value := []byte("fat-key-value")

	db := openTemp(t, ordkv.Options{})

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := txn.Store(key, value, ordkv.StoreAny); err != nil {
		t.Fatalf("store oversized key: %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := fetchOne(t, db, string(key))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Fatalf("fetch: got %q, want %q", got, value)
	}
}

// Test_Foreach_Returns_Strictly_Increasing_Order covers spec.md §8
// invariant 3.
func Test_Foreach_Returns_Strictly_Increasing_Order(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db,
		[2]string{"delta", "4"}, [2]string{"alpha", "1"},
		[2]string{"charlie", "3"}, [2]string{"bravo", "2"})

	txn, err := db.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer func() { _ = txn.Commit() }()

	var prev string
	first := true
	count := 0

	err = txn.Foreach(ordkv.ForeachOptions{}, func(key, value []byte) error {
		if !first && string(key) <= prev {
			t.Fatalf("foreach out of order: %q after %q", key, prev)
		}

		prev = string(key)
		first = false
		count++

		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}

	if count != 4 {
		t.Fatalf("foreach count: got %d, want 4", count)
	}
}

// Test_Abort_Of_Empty_Transaction_Is_A_No_Op covers spec.md §8 invariant 4:
// aborting a transaction that performed no mutation leaves num_records and
// current size unchanged.
func Test_Abort_Of_Empty_Transaction_Is_A_No_Op(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db, [2]string{"a", "1"})

	before := db.Size()
	beforeRecords := db.NumRecords()

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := txn.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	if got := db.Size(); got != before {
		t.Fatalf("size after empty abort: got %d, want %d", got, before)
	}

	if got := db.NumRecords(); got != beforeRecords {
		t.Fatalf("num records after empty abort: got %d, want %d", got, beforeRecords)
	}
}

// Test_Store_If_Not_Exist_And_If_Exist_Conditions covers the StoreCond
// variants.
func Test_Store_If_Not_Exist_And_If_Exist_Conditions(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db, [2]string{"present", "1"})

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = txn.Abort() }()

	if err := txn.Store([]byte("present"), []byte("2"), ordkv.StoreIfNotExist); !errors.Is(err, ordkv.ErrExists) {
		t.Fatalf("store if-not-exist on present key: want ErrExists, got %v", err)
	}

	if err := txn.Store([]byte("absent"), []byte("2"), ordkv.StoreIfExist); !errors.Is(err, ordkv.ErrNotFound) {
		t.Fatalf("store if-exist on absent key: want ErrNotFound, got %v", err)
	}
}
