// Package ordkv provides an embedded, single-file, ordered key-value storage
// engine.
//
// A database is a single regular file containing a skiplist of records
// accessed through a shared memory mapping. Keys and values are arbitrary
// byte strings, including ones containing NUL. The engine provides
// crash-safe transactional mutation, snapshot-isolated concurrent readers,
// and online compaction (repack).
//
// ordkv is not a distributed database: there is no networked access, no
// replication, and only one writer per file may be active across processes
// at any time. Durability is whatever the host filesystem provides for
// memory-mapped writes followed by a synchronous flush.
//
// # Basic usage
//
//	db, err := ordkv.Open(ordkv.Options{Path: "/tmp/my.db", Create: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	txn, err := db.Begin()
//	if err != nil {
//	    return err
//	}
//	if err := txn.Store([]byte("a"), []byte("1"), 0); err != nil {
//	    txn.Abort()
//	    return err
//	}
//	if err := txn.Commit(); err != nil {
//	    return err
//	}
//
// # Concurrency
//
// Readers (plain or MVCC) may run concurrently with each other and with at
// most one writer. A plain read transaction refreshes to the latest commit
// each time it re-acquires its lock; an MVCC read transaction is frozen at
// a snapshot taken when it began and never observes later commits.
//
// # Errors
//
// Operations return one of a small set of sentinel errors (see errors.go),
// classified with errors.Is. ErrDone is not a failure: it signals iteration
// exhaustion, distinct from ErrNotFound.
package ordkv
