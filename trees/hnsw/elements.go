package hnsw

import (
	"context"

	"github.com/surrealdb/surrealdb-sub027/key"
	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/val"
)

// ElementID identifies one node of the proximity graph.
type ElementID uint64

const elementSchema = "hnsw.Element"
const graphStateSchema = "hnsw.GraphState"

func init() {
	registry.Register(&val.Schema{Name: elementSchema, Current: 1, Migrations: map[uint8]val.Migration{}})
	registry.Register(&val.Schema{Name: graphStateSchema, Current: 1, Migrations: map[uint8]val.Migration{}})
}

// element is one graph node: its vector and, per layer, the ids of its
// connected neighbors (layer 0 is the base layer every element belongs
// to).
type element struct {
	ID        ElementID
	Vector    []float32
	TopLayer  int
	Neighbors map[int][]uint64 // layer -> neighbor element ids
}

// graphState is the persisted entry point and allocator, standing in for
// the original's in-memory HnswFlavor root bookkeeping.
type graphState struct {
	EntryPoint  uint64
	HasEntry    bool
	TopLayer    int
	NextElement uint64
}

// elementStore persists graph nodes and the entry-point/allocator state
// under the per-index SubHnswElement / SubHnswState sub-namespaces.
type elementStore struct {
	nsID, dbID uint32
	table      string
	ixID       uint32
}

func newElementStore(nsID, dbID uint32, table string, ixID uint32) *elementStore {
	return &elementStore{nsID: nsID, dbID: dbID, table: table, ixID: ixID}
}

func (s *elementStore) elemKey(id ElementID) []byte {
	return key.EncodeSub(s.nsID, s.dbID, s.table, s.ixID, key.SubHnswElement, key.ElementIDBytes(uint64(id)))
}

func (s *elementStore) stateKey() []byte {
	return key.EncodeSub(s.nsID, s.dbID, s.table, s.ixID, key.SubHnswState, nil)
}

func (s *elementStore) get(ctx context.Context, tx kv.Tx, id ElementID) (*element, error) {
	raw, err := tx.Get(ctx, s.elemKey(id))
	if err != nil || raw == nil {
		return nil, err
	}
	var e element
	if err := val.Decode(registry, elementSchema, raw, &e); err != nil {
		return nil, err
	}
	if e.Neighbors == nil {
		e.Neighbors = make(map[int][]uint64)
	}
	return &e, nil
}

func (s *elementStore) put(ctx context.Context, tx kv.RwTx, e *element) error {
	data, err := val.Encode(registry, elementSchema, *e)
	if err != nil {
		return err
	}
	return tx.Set(ctx, s.elemKey(e.ID), data)
}

func (s *elementStore) delete(ctx context.Context, tx kv.RwTx, id ElementID) error {
	return tx.Del(ctx, s.elemKey(id))
}

func (s *elementStore) loadState(ctx context.Context, tx kv.Tx) (graphState, error) {
	raw, err := tx.Get(ctx, s.stateKey())
	if err != nil {
		return graphState{}, err
	}
	if raw == nil {
		return graphState{}, nil
	}
	var st graphState
	if err := val.Decode(registry, graphStateSchema, raw, &st); err != nil {
		return graphState{}, err
	}
	return st, nil
}

func (s *elementStore) saveState(ctx context.Context, tx kv.RwTx, st graphState) error {
	data, err := val.Encode(registry, graphStateSchema, st)
	if err != nil {
		return err
	}
	return tx.Set(ctx, s.stateKey(), data)
}
