package ordkv_test

import (
	"path/filepath"
	"testing"

	"github.com/calvinalkan/ordkv/pkg/ordkv"
)

// openTemp opens a fresh database in a scratch directory, closing it when
// the test ends.
func openTemp(t *testing.T, opts ordkv.Options) *ordkv.DB {
	t.Helper()

	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "test.db")
	}
	opts.Create = true

	db, err := ordkv.Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func storeAndCommit(t *testing.T, db *ordkv.DB, pairs ...[2]string) {
	t.Helper()

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	for _, kv := range pairs {
		if err := txn.Store([]byte(kv[0]), []byte(kv[1]), ordkv.StoreAny); err != nil {
			t.Fatalf("store %q: %v", kv[0], err)
		}
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func fetchOne(t *testing.T, db *ordkv.DB, key string) ([]byte, error) {
	t.Helper()

	txn, err := db.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer func() { _ = txn.Commit() }()

	return txn.Fetch([]byte(key))
}

// simulateCrash closes db without giving any in-flight write transaction a
// chance to Commit or Abort, leaving the header's DIRTY bit set exactly as
// a real process crash would: the kernel still drops every fcntl lock this
// process held on the file the moment its last descriptor closes.
func simulateCrash(t *testing.T, db *ordkv.DB) {
	t.Helper()

	if err := db.Close(); err != nil {
		t.Fatalf("simulated crash close: %v", err)
	}
}
