package ordkv_test

import (
	"errors"
	"path/filepath"
	"testing"

	ofs "github.com/calvinalkan/ordkv/pkg/fs"
	"github.com/calvinalkan/ordkv/pkg/ordkv"
)

// Test_Open_Surfaces_Underlying_Open_Failure exercises Options.FS: with
// every FS.OpenFile call forced to fail, Open must return an *IoError
// wrapping the injected fault rather than panicking or silently creating a
// mapping over a failed descriptor.
func Test_Open_Surfaces_Underlying_Open_Failure(t *testing.T) {
	t.Parallel()

	chaos := ofs.NewChaos(ofs.NewReal(), 1, &ofs.ChaosConfig{OpenFailRate: 1.0})

	_, err := ordkv.Open(ordkv.Options{
		Path:   filepath.Join(t.TempDir(), "chaos.db"),
		Create: true,
		FS:     chaos,
	})
	if err == nil {
		t.Fatal("open: want error from injected OpenFile failure, got nil")
	}

	var ioErr *ordkv.IoError
	if !errors.As(err, &ioErr) {
		t.Fatalf("open error: got %v (%T), want *ordkv.IoError", err, err)
	}
}

// Test_Repack_Surfaces_Rename_Failure_And_Leaves_Original_Intact exercises
// Options.FS on the repack path: a forced FS.Rename failure must abort the
// swap cleanly, leaving the original file's data fully readable, and must
// not leak the ".NEW" sibling it created.
func Test_Repack_Surfaces_Rename_Failure_And_Leaves_Original_Intact(t *testing.T) {
	t.Parallel()

	real := ofs.NewReal()

	path := filepath.Join(t.TempDir(), "repack_fault.db")

	db, err := ordkv.Open(ordkv.Options{Path: path, Create: true, FS: real})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	storeAndCommit(t, db, [2]string{"x", "1"}, [2]string{"y", "2"})

	chaosFailRename := ofs.NewChaos(real, 3, &ofs.ChaosConfig{RenameFailRate: 1.0})

	failingDB, err := ordkv.Open(ordkv.Options{Path: path, FS: chaosFailRename})
	if err != nil {
		t.Fatalf("reopen with rename-failing fs: %v", err)
	}
	defer func() { _ = failingDB.Close() }()

	if err := failingDB.Repack(); err == nil {
		t.Fatal("repack: want error from injected Rename failure, got nil")
	}

	if v, err := fetchOne(t, failingDB, "x"); err != nil || string(v) != "1" {
		t.Fatalf("fetch x after failed repack: got %q, %v", v, err)
	}

	siblingExists, err := real.Exists(path + ".NEW")
	if err != nil {
		t.Fatalf("stat sibling: %v", err)
	}

	if siblingExists {
		t.Fatal("repack left a .NEW sibling behind after a failed rename")
	}
}
