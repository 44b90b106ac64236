// Package record implements the record & graph layer (C11): point and
// range access to records by key-component, and graph edges between them.
// It is the thinnest layer in the stack — it only knows how to address
// records and edges through the key package and route reads/writes through
// a txn.Txn, leaving encoding (val) and change-feed staging (cf, via the
// Txn) to the layers below. Grounded structurally on
// original_source/crates/core/src/key/graph's (from, direction, predicate,
// to) edge-key convention and the table/record access patterns throughout
// original_source/core/src/kvs.
package record

import (
	"context"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/key"
	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/txn"
)

// Store addresses one (namespace, database) pair's records and edges.
type Store struct {
	nsID, dbID uint32
}

func New(nsID, dbID uint32) *Store {
	return &Store{nsID: nsID, dbID: dbID}
}

// Get fetches one record's raw (still value-codec-encoded) bytes, or nil
// if absent.
func (s *Store) Get(ctx context.Context, t *txn.Txn, table string, id key.Component) ([]byte, error) {
	k := key.EncodeRecord(s.nsID, s.dbID, table, id)
	return t.Get(ctx, k)
}

// GetMulti batches point reads across possibly-different tables, matching
// spec.md §4.11's `getm_records`.
func (s *Store) GetMulti(ctx context.Context, t *txn.Txn, refs []Ref) ([][]byte, error) {
	keys := make([][]byte, len(refs))
	for i, r := range refs {
		keys[i] = key.EncodeRecord(s.nsID, s.dbID, r.Table, r.ID)
	}
	return t.GetMulti(ctx, keys)
}

// Ref identifies one record across tables, for GetMulti/batch operations.
type Ref struct {
	Table string
	ID    key.Component
}

// Set writes a record's already-encoded value and stages the matching
// change-feed mutation for this commit, matching §4.11's `set_record`.
func (s *Store) Set(ctx context.Context, t *txn.Txn, table string, id key.Component, value []byte) error {
	k := key.EncodeRecord(s.nsID, s.dbID, table, id)
	if err := t.Set(ctx, k, value); err != nil {
		return err
	}
	t.Staged().Set(table, id, value)
	return nil
}

// Delete removes a record and stages the matching change-feed deletion,
// matching §4.11's `delete_record`. Returns NotFound if the record did not
// exist, per the invariant that deletes are not silently ignored at this
// layer (callers wanting upsert-delete semantics check Exists first).
func (s *Store) Delete(ctx context.Context, t *txn.Txn, table string, id key.Component) error {
	k := key.EncodeRecord(s.nsID, s.dbID, table, id)
	exists, err := t.Exists(ctx, k)
	if err != nil {
		return err
	}
	if !exists {
		return errs.New(errs.NotFound, "record: delete of a record that does not exist")
	}
	if err := t.Del(ctx, k); err != nil {
		return err
	}
	t.Staged().Del(table, id)
	return nil
}

// Scan iterates every record in [begin, end] of table, ascending, matching
// S6's `mytb:[1..=5]` range-scan scenario. endInclusive controls whether
// end itself is included.
func (s *Store) Scan(ctx context.Context, t *txn.Txn, table string, begin, end key.Component, endInclusive bool, limit int) (kv.Iterator, error) {
	low, high := key.RecordRange(s.nsID, s.dbID, table, begin, end, endInclusive)
	return t.Scan(ctx, kv.Range{Low: low, High: high}, limit, false)
}

// ScanTable iterates every record in table, ascending.
func (s *Store) ScanTable(ctx context.Context, t *txn.Txn, table string, limit int) (kv.Iterator, error) {
	low, high := key.RecordPrefix(s.nsID, s.dbID, table)
	return t.Scan(ctx, kv.Range{Low: low, High: high}, limit, false)
}
