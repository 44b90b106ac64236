// Package kv defines the uniform transactional store-adapter contract
// (C3): the same Tx/RwTx/Cursor surface over every backend (in-memory,
// embedded RocksDB/SurrealKV-class, distributed TiKV/FoundationDB-class).
// Structurally grounded on
// _examples/other_examples/d3229039_fenghaojiang-erigon-lib__kv-kv_interface.go.go,
// narrowed to the point/range/batch/delete/prefix-delete surface spec.md
// §4.3 requires rather than erigon's full bucket-migration/dup-sort API.
package kv

import (
	"context"
)

// LockType selects the concurrency discipline a Begin call requests.
type LockType int

const (
	Optimistic LockType = iota
	Pessimistic
)

// Range is a half-open byte-key range [Low, High). A nil High means
// unbounded (scan to the end of the keyspace).
type Range struct {
	Low  []byte
	High []byte
}

// Iterator walks a Range in either direction. Callers must call Close.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close()
}

// Getter is the read-only surface shared by Tx and RwTx.
type Getter interface {
	// Get returns (nil, nil) if key is absent — NotFound is never
	// returned from Get, per §7 ("NotFound ... never propagated as an
	// error from get").
	Get(ctx context.Context, key []byte) ([]byte, error)
	// GetMulti batches point reads; result[i] is nil if keys[i] is absent.
	GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error)
	Exists(ctx context.Context, key []byte) (bool, error)
	// Scan returns key/value pairs in r, ascending unless reverse is set,
	// capped at limit (0 = unbounded).
	Scan(ctx context.Context, r Range, limit int, reverse bool) (Iterator, error)
	// Keys is Scan without decoding values, useful for existence/ordering
	// checks over large ranges.
	Keys(ctx context.Context, r Range, limit int, reverse bool) (Iterator, error)
}

// Tx is a read-only transaction handle.
type Tx interface {
	Getter
	// ViewID identifies the snapshot this Tx observes, where the backend
	// supports snapshotted reads; zero if unsupported.
	ViewID() uint64
	// Cancel releases the transaction without any observable effect.
	Cancel(ctx context.Context) error
}

// RwTx is a read-write transaction handle.
type RwTx interface {
	Tx
	Set(ctx context.Context, key, val []byte) error
	// Put fails with KeyAlreadyExists if key is already present.
	Put(ctx context.Context, key, val []byte) error
	// PutC is a compare-and-set: it fails with PreconditionFailed if the
	// current value does not equal expectedPrev (nil means "must be
	// absent").
	PutC(ctx context.Context, key, val, expectedPrev []byte) error
	Del(ctx context.Context, key []byte) error
	DelC(ctx context.Context, key, expectedPrev []byte) error
	// DelRange deletes every key in r.
	DelRange(ctx context.Context, r Range) error
	// DelPrefix deletes every key sharing prefix.
	DelPrefix(ctx context.Context, prefix []byte) error
	// Commit attempts to make every staged write visible atomically. On
	// failure (Conflict, ReadAndDeletionOnly, ...) no writes are visible.
	Commit(ctx context.Context) error
}

// Backend is the constructor surface every adapter implements.
type Backend interface {
	// Begin opens a transaction. write=false always returns a Tx (never
	// an RwTx); write=true returns an RwTx.
	Begin(ctx context.Context, write bool, lock LockType) (Tx, error)
	// Snapshotted reports whether this backend can serve point-in-time
	// consistent reads independent of concurrent writers (§4.3 "Snapshotted
	// ... is an optional capability; absence is reported to callers").
	Snapshotted() bool
	Close() error
}

// BeginRw is a convenience wrapper that type-asserts Begin's result,
// mirroring the backend contract's promise that write=true yields an RwTx.
func BeginRw(ctx context.Context, b Backend, lock LockType) (RwTx, error) {
	tx, err := b.Begin(ctx, true, lock)
	if err != nil {
		return nil, err
	}
	return tx.(RwTx), nil
}
