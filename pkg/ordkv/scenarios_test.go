package ordkv_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/ordkv/pkg/ordkv"
)

// Test_Store_Fetch_Survives_Reopen covers scenario 1: two committed keys
// are visible after the handle is closed and the file reopened, and an
// absent key reports NotFound.
func Test_Store_Fetch_Survives_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scenario1.db")

	db := openTemp(t, ordkv.Options{Path: path})
	storeAndCommit(t, db, [2]string{"a", "1"}, [2]string{"b", "2"})

	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := ordkv.Open(ordkv.Options{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if v, err := fetchOne(t, reopened, "a"); err != nil || string(v) != "1" {
		t.Fatalf("fetch a: got %q, %v", v, err)
	}

	if v, err := fetchOne(t, reopened, "b"); err != nil || string(v) != "2" {
		t.Fatalf("fetch b: got %q, %v", v, err)
	}

	if _, err := fetchOne(t, reopened, "c"); !errors.Is(err, ordkv.ErrNotFound) {
		t.Fatalf("fetch c: want ErrNotFound, got %v", err)
	}
}

// Test_Delete_Shrinks_NumRecords_And_Passes_ConsistencyCheck covers
// scenario 2.
func Test_Delete_Shrinks_NumRecords_And_Passes_ConsistencyCheck(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db, [2]string{"k1", "v1"}, [2]string{"k2", "v2"}, [2]string{"k3", "v3"})

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := txn.Delete([]byte("k2")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := db.ConsistencyCheck(); err != nil {
		t.Fatalf("consistency check: %v", err)
	}

	if got := db.NumRecords(); got != 2 {
		t.Fatalf("num records: got %d, want 2", got)
	}

	if _, err := fetchOne(t, db, "k2"); !errors.Is(err, ordkv.ErrNotFound) {
		t.Fatalf("fetch k2: want ErrNotFound, got %v", err)
	}
}

// Test_Abort_Leaves_Original_Value_After_Reopen covers scenario 3: an
// aborted write transaction leaves no trace, even across a reopen.
func Test_Abort_Leaves_Original_Value_After_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scenario3.db")

	db := openTemp(t, ordkv.Options{Path: path})
	storeAndCommit(t, db,
		[2]string{"k1", "v1"}, [2]string{"k2", "v2"},
		[2]string{"k3", "v3"}, [2]string{"k4", "v4"})

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := txn.Store([]byte("k2"), []byte("x"), ordkv.StoreAny); err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := txn.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := ordkv.Open(ordkv.Options{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	v, err := fetchOne(t, reopened, "k2")
	if err != nil {
		t.Fatalf("fetch k2: %v", err)
	}

	if string(v) != "v2" {
		t.Fatalf("fetch k2: got %q, want original v2", v)
	}
}

// Test_MVCC_Reader_Is_Isolated_From_Concurrent_Writer covers scenario 4:
// a snapshot taken at BeginMVCC time never observes a commit that lands
// after it began, but a fresh reader started afterward does.
func Test_MVCC_Reader_Is_Isolated_From_Concurrent_Writer(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})
	storeAndCommit(t, db, [2]string{"apple", "1"}, [2]string{"banana", "2"}, [2]string{"cherry", "3"})

	snapshot, err := db.BeginMVCC()
	if err != nil {
		t.Fatalf("begin mvcc: %v", err)
	}

	writer, err := db.Begin()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}

	if err := writer.Store([]byte("banana"), []byte("replaced"), ordkv.StoreAny); err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := writer.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	v, err := snapshot.Fetch([]byte("banana"))
	if err != nil {
		t.Fatalf("snapshot fetch: %v", err)
	}

	if string(v) != "2" {
		t.Fatalf("snapshot fetch banana: got %q, want original 2", v)
	}

	if err := snapshot.Commit(); err != nil {
		t.Fatalf("snapshot commit: %v", err)
	}

	fresh, err := fetchOne(t, db, "banana")
	if err != nil {
		t.Fatalf("fresh fetch: %v", err)
	}

	if string(fresh) != "replaced" {
		t.Fatalf("fresh fetch banana: got %q, want replaced", fresh)
	}
}

// Test_Repack_Reclaims_Tombstoned_Space covers scenario 5: bulk insert,
// delete every other key, repack, and verify the post-repack invariants
// from spec.md §8.7.
func Test_Repack_Reclaims_Tombstoned_Space(t *testing.T) {
	t.Parallel()

	db := openTemp(t, ordkv.Options{})

	const total = 4096

	keys := orderedKeys(total)

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	for _, k := range keys {
		if err := txn.Store(k, k, ordkv.StoreAny); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	txn, err = db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	for i, k := range keys {
		if i%2 == 1 {
			if err := txn.Delete(k); err != nil {
				t.Fatalf("delete: %v", err)
			}
		}
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := db.ConsistencyCheck(); err != nil {
		t.Fatalf("consistency check before repack: %v", err)
	}

	if !db.ShouldRepack() {
		t.Fatalf("should repack: want true")
	}

	uuidBefore := db.UUID()
	genBefore := db.Generation()

	if err := db.Repack(); err != nil {
		t.Fatalf("repack: %v", err)
	}

	if err := db.ConsistencyCheck(); err != nil {
		t.Fatalf("consistency check after repack: %v", err)
	}

	if got := db.NumRecords(); got != total/2 {
		t.Fatalf("num records after repack: got %d, want %d", got, total/2)
	}

	if got := db.Generation(); got != genBefore+1 {
		t.Fatalf("generation after repack: got %d, want %d", got, genBefore+1)
	}

	if db.UUID() != uuidBefore {
		t.Fatalf("uuid changed across repack")
	}

	for i, k := range keys {
		v, err := fetchOne(t, db, string(k))
		if i%2 == 1 {
			if !errors.Is(err, ordkv.ErrNotFound) {
				t.Fatalf("fetch deleted key %q: want ErrNotFound, got %v", k, err)
			}
			continue
		}

		if err != nil || string(v) != string(k) {
			t.Fatalf("fetch live key %q: got %q, %v", k, v, err)
		}
	}
}

// Test_Crash_Recovery_Drops_Uncommitted_Write covers scenario 6: a write
// that never commits leaves the header DIRTY on the next open, recovery
// clears it, and the uncommitted key never existed.
func Test_Crash_Recovery_Drops_Uncommitted_Write(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scenario6.db")

	db, err := ordkv.Open(ordkv.Options{Path: path, Create: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := txn.Store([]byte("INVALID"), []byte("CRASHME"), ordkv.StoreAny); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Simulate a crash: no Commit, no Abort, the in-process lock simply
	// vanishes along with the (simulated) process. We only close the
	// underlying descriptor directly to avoid Abort's own recovery path
	// running before the reopen does.
	simulateCrash(t, db)

	reopened, err := ordkv.Open(ordkv.Options{Path: path})
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if err := reopened.ConsistencyCheck(); err != nil {
		t.Fatalf("consistency check after recovery: %v", err)
	}

	if _, err := fetchOne(t, reopened, "INVALID"); !errors.Is(err, ordkv.ErrNotFound) {
		t.Fatalf("fetch INVALID: want ErrNotFound, got %v", err)
	}
}

func orderedKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}
	}
	return keys
}
