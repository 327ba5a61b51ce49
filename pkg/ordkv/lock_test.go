package ordkv_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/ordkv/pkg/ordkv"
)

// Test_NonBlocking_Begin_Fails_While_Another_Writer_Is_Active covers
// spec.md §5: only one write transaction may be active across every
// process with the file open, and Options.NonBlocking turns contention
// into an immediate ErrLocked instead of a wait.
func Test_NonBlocking_Begin_Fails_While_Another_Writer_Is_Active(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lock.db")

	db, err := ordkv.Open(ordkv.Options{Path: path, Create: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	second, err := ordkv.Open(ordkv.Options{Path: path, NonBlocking: true})
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	defer func() { _ = second.Close() }()

	writer, err := db.Begin()
	if err != nil {
		t.Fatalf("begin writer: %v", err)
	}
	defer func() { _ = writer.Abort() }()

	if _, err := second.Begin(); !errors.Is(err, ordkv.ErrLocked) {
		t.Fatalf("begin on second handle: want ErrLocked, got %v", err)
	}
}

// Test_ReadOnly_Handle_Rejects_Writes covers Options.ReadOnly.
func Test_ReadOnly_Handle_Rejects_Writes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "readonly.db")

	db, err := ordkv.Open(ordkv.Options{Path: path, Create: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	storeAndCommit(t, db, [2]string{"k", "v"})

	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ro, err := ordkv.Open(ordkv.Options{Path: path, ReadOnly: true})
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer func() { _ = ro.Close() }()

	if _, err := ro.Begin(); !errors.Is(err, ordkv.ErrReadOnly) {
		t.Fatalf("begin on read-only handle: want ErrReadOnly, got %v", err)
	}

	if err := ro.Repack(); !errors.Is(err, ordkv.ErrReadOnly) {
		t.Fatalf("repack on read-only handle: want ErrReadOnly, got %v", err)
	}
}
