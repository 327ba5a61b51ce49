package ordkv_test

import (
	"testing"

	"github.com/calvinalkan/ordkv/pkg/ordkv"
)

// Test_Foreach_Prefix_Restricts_Iteration covers ForeachOptions.Prefix.
func Test_Foreach_Prefix_Restricts_Iteration(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db,
		[2]string{"fruit/apple", "1"}, [2]string{"fruit/banana", "2"},
		[2]string{"veg/carrot", "3"}, [2]string{"zzz", "4"})

	txn, err := db.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer func() { _ = txn.Commit() }()

	var got []string

	err = txn.Foreach(ordkv.ForeachOptions{Prefix: []byte("fruit/")}, func(key, value []byte) error {
		got = append(got, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}

	if len(got) != 2 || got[0] != "fruit/apple" || got[1] != "fruit/banana" {
		t.Fatalf("foreach prefix: got %v, want [fruit/apple fruit/banana]", got)
	}
}

// Test_Foreach_StartAfter_Skips_Exact_Match covers ForeachOptions.StartAfter.
func Test_Foreach_StartAfter_Skips_Exact_Match(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db,
		[2]string{"a", "1"}, [2]string{"b", "2"}, [2]string{"c", "3"})

	txn, err := db.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer func() { _ = txn.Commit() }()

	var got []string

	err = txn.Foreach(ordkv.ForeachOptions{StartAfter: []byte("a")}, func(key, value []byte) error {
		got = append(got, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}

	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("foreach start-after: got %v, want [b c]", got)
	}
}

// Test_Foreach_Skips_Deleted_Keys verifies a tombstoned key never reaches
// the callback and does not break chain traversal past it.
func Test_Foreach_Skips_Deleted_Keys(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db,
		[2]string{"a", "1"}, [2]string{"b", "2"}, [2]string{"c", "3"})

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := txn.Delete([]byte("b")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	readTxn, err := db.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer func() { _ = readTxn.Commit() }()

	var got []string

	err = readTxn.Foreach(ordkv.ForeachOptions{}, func(key, value []byte) error {
		got = append(got, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}

	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("foreach after delete: got %v, want [a c]", got)
	}
}
