package trees

import (
	"context"
	"encoding/binary"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/key"
	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/val"
)

const nodeSchema = "trees.Node"

func init() {
	registry.Register(&val.Schema{Name: nodeSchema, Current: 1, Migrations: map[uint8]val.Migration{}})
}

var registry = val.NewRegistry()

// State is the on-disk root pointer + id allocator + generation counter for
// one B-tree index, persisted under SubBTreeState. Grounded on cache.rs's
// companion on-disk state (root id, generation) that every tree keeps
// alongside its pages.
type State struct {
	Root       NodeID
	NextID     NodeID
	Generation uint64
	Count      uint64 // number of keys currently indexed, for statistics()
}

// Store is the persistence layer for one B-tree's pages (C7): it loads and
// saves Node pages through a kv.Tx/kv.RwTx, addressed by the key package's
// per-index sub-namespace, and fronts reads with a generation-tagged Cache
// drawn from a shared Caches registry.
type Store struct {
	nsID, dbID uint32
	table      string
	ixID       uint32

	caches *Caches
	flavor Flavor
	size   int

	indexKey string
}

func NewStore(caches *Caches, flavor Flavor, cacheSize int, nsID, dbID uint32, table string, ixID uint32) *Store {
	return &Store{
		nsID: nsID, dbID: dbID, table: table, ixID: ixID,
		caches: caches, flavor: flavor, size: cacheSize,
		indexKey: table + "\x00" + string(key.NodeIDBytes(uint64(ixID))),
	}
}

func (s *Store) stateKey() []byte {
	return key.EncodeSub(s.nsID, s.dbID, s.table, s.ixID, key.SubBTreeState, nil)
}

func (s *Store) nodeKey(id NodeID) []byte {
	return key.EncodeSub(s.nsID, s.dbID, s.table, s.ixID, key.SubBTreeNode, key.NodeIDBytes(uint64(id)))
}

// LoadState reads the persisted root/allocator/generation, or zero-values
// if the index has never been written.
func (s *Store) LoadState(ctx context.Context, tx kv.Tx) (State, error) {
	raw, err := tx.Get(ctx, s.stateKey())
	if err != nil {
		return State{}, err
	}
	if raw == nil {
		return State{}, nil
	}
	if len(raw) != 32 {
		return State{}, errs.New(errs.Internal, "trees: corrupt index state")
	}
	return State{
		Root:       NodeID(binary.BigEndian.Uint64(raw[0:8])),
		NextID:     NodeID(binary.BigEndian.Uint64(raw[8:16])),
		Generation: binary.BigEndian.Uint64(raw[16:24]),
		Count:      binary.BigEndian.Uint64(raw[24:32]),
	}, nil
}

func (s *Store) SaveState(ctx context.Context, tx kv.RwTx, st State) error {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[0:8], uint64(st.Root))
	binary.BigEndian.PutUint64(buf[8:16], uint64(st.NextID))
	binary.BigEndian.PutUint64(buf[16:24], st.Generation)
	binary.BigEndian.PutUint64(buf[24:32], st.Count)
	return tx.Set(ctx, s.stateKey(), buf)
}

// Cache returns the shared (or private, for a stale snapshot) node cache
// for the index state's generation, per the C7 three-case protocol.
func (s *Store) Cache(st State) *Cache {
	return s.caches.GetCache(s.indexKey, st.Generation, s.flavor, s.size)
}

// GetNode loads a page by id, through the cache.
func (s *Store) GetNode(ctx context.Context, tx kv.Tx, c *Cache, id NodeID) (*Node, error) {
	return c.GetOrLoad(id, func() (*Node, error) {
		raw, err := tx.Get(ctx, s.nodeKey(id))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, errs.Newf(errs.NotFound, "trees: node %d not found", uint64(id))
		}
		var n Node
		if err := val.Decode(registry, nodeSchema, raw, &n); err != nil {
			return nil, err
		}
		return &n, nil
	})
}

// PutNode writes a dirty page and updates the in-flight write-set's cache
// (the caller commits the write-set's own private Cache via Advance once
// the whole operation succeeds).
func (s *Store) PutNode(ctx context.Context, tx kv.RwTx, c *Cache, n *Node) error {
	data, err := val.Encode(registry, nodeSchema, *n)
	if err != nil {
		return err
	}
	if err := tx.Set(ctx, s.nodeKey(n.ID), data); err != nil {
		return err
	}
	c.Put(n.ID, n)
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, tx kv.RwTx, id NodeID) error {
	return tx.Del(ctx, s.nodeKey(id))
}

// Advance installs writeCache as the shared cache for the next generation,
// per §4.7's "on commit, the freshly-built write-set cache supersedes the
// previous shared cache."
func (s *Store) Advance(writeCache *Cache) {
	s.caches.Advance(s.indexKey, writeCache)
}

// NewWriteCache builds a private cache tagged with generation, without
// installing it as the index's shared cache. A writer populates this cache
// as it mutates pages and only hands it to Advance after a successful
// commit, so concurrent readers never observe an in-flight writer's pages
// through the shared registry.
func (s *Store) NewWriteCache(generation uint64) *Cache {
	return newCache(generation, s.flavor, s.size)
}
