package record

import (
	"context"

	"github.com/surrealdb/surrealdb-sub027/key"
	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/txn"
)

// presenceMarker is the (non-nil, empty) value written for edge keys: the
// edge's identity is entirely carried by the key itself, but a zero-length
// slice rather than a literal nil keeps the value distinguishable from "no
// entry" in backends (like memkv) whose tombstone representation is a nil
// value.
var presenceMarker = []byte{}

// AddEdge links from -(predicate)-> to, writing both the outgoing and
// incoming edge entries so traversal works in either direction without a
// secondary index, matching the graph-edge family's (from, direction,
// predicate, to) layout.
func (s *Store) AddEdge(ctx context.Context, t *txn.Txn, table string, from key.Component, predicate string, to Ref) error {
	out := key.EncodeEdge(s.nsID, s.dbID, table, from, key.DirectionOut, predicate, key.RecordKey{Table: to.Table, Component: to.ID})
	if err := t.Set(ctx, out, presenceMarker); err != nil {
		return err
	}
	in := key.EncodeEdge(s.nsID, s.dbID, to.Table, to.ID, key.DirectionIn, predicate, key.RecordKey{Table: table, Component: from})
	return t.Set(ctx, in, presenceMarker)
}

// RemoveEdge deletes both directions of one edge.
func (s *Store) RemoveEdge(ctx context.Context, t *txn.Txn, table string, from key.Component, predicate string, to Ref) error {
	out := key.EncodeEdge(s.nsID, s.dbID, table, from, key.DirectionOut, predicate, key.RecordKey{Table: to.Table, Component: to.ID})
	if err := t.Del(ctx, out); err != nil {
		return err
	}
	in := key.EncodeEdge(s.nsID, s.dbID, to.Table, to.ID, key.DirectionIn, predicate, key.RecordKey{Table: table, Component: from})
	return t.Del(ctx, in)
}

// Edges iterates every edge touching (table, from) in direction dir,
// narrowed to the family's prefix only — it does not decode the target,
// since the edge key itself carries the full (predicate, to) tuple and
// callers decode via key.DecodeRecord-style parsing of the iterator's Key.
func (s *Store) Edges(ctx context.Context, t *txn.Txn, table string, from key.Component, dir key.Direction, limit int) (kv.Iterator, error) {
	low, high := key.EdgePrefix(s.nsID, s.dbID, table, from, dir, true)
	return t.Scan(ctx, kv.Range{Low: low, High: high}, limit, false)
}
