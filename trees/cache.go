// Package trees implements the generic B-tree node page store and its
// shared generation-tagged cache (C7), and the B-tree index itself (C8).
// The generation protocol is grounded verbatim (three-case
// match/replace/private-empty-cache) on
// original_source/core/src/idx/trees/store/cache.rs.
package trees

import (
	"encoding/binary"
	"sync"

	"github.com/elastic/go-freelru"
	"github.com/spaolacci/murmur3"
	"github.com/tidwall/btree"
)

// NodeID identifies a page, monotonic per index.
type NodeID uint64

// Payload is the fixed-width value type stored in leaf pages (§4.8).
type Payload uint64

// Node is one B-tree page: an ordering key-list plus either a payload-list
// (leaf) or a child-id list (internal), with the generation it was last
// written at.
type Node struct {
	ID         NodeID
	Leaf       bool
	Keys       [][]byte
	Payloads   []Payload // len(Keys) == len(Payloads) for a leaf
	Children   []NodeID  // len(Keys)+1 for an internal node
	Generation uint64
	Dirty      bool
}

func (n *Node) clone() *Node {
	c := &Node{ID: n.ID, Leaf: n.Leaf, Generation: n.Generation, Dirty: n.Dirty}
	c.Keys = append(c.Keys, n.Keys...)
	c.Payloads = append(c.Payloads, n.Payloads...)
	c.Children = append(c.Children, n.Children...)
	return c
}

// Flavor selects the cache implementation, per §4.7: "Two flavors
// selectable by configuration: LRU bounded by node count, or unbounded
// 'full' map."
type Flavor int

const (
	FlavorLRU Flavor = iota
	FlavorFull
)

func hashNodeID(id NodeID) uint32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return murmur3.Sum32(buf[:])
}

// cacheBody is the node-id -> *Node map underlying one cache instance,
// implemented by either the LRU or the Full flavor.
type cacheBody interface {
	get(id NodeID) (*Node, bool)
	put(id NodeID, n *Node)
}

// lruBody backs the shared cache, so it must tolerate concurrent readers
// observing the same generation; freelru.LRU itself is not safe for
// concurrent use, so this wraps the library's own synchronized variant
// rather than adding a second lock around a plain LRU.
type lruBody struct {
	lru *freelru.SyncedLRU[NodeID, *Node]
}

func newLRUBody(size int) *lruBody {
	if size <= 0 {
		size = 1
	}
	l, err := freelru.NewSynced[NodeID, *Node](uint32(size), hashNodeID)
	if err != nil {
		panic(err) // only fails on size==0, guarded above
	}
	return &lruBody{lru: l}
}

func (b *lruBody) get(id NodeID) (*Node, bool) { return b.lru.Get(id) }
func (b *lruBody) put(id NodeID, n *Node)       { b.lru.Add(id, n) }

// fullBody is the unbounded ordered flavor, backed by tidwall/btree so
// iteration (GC, statistics) stays ordered by NodeID even though this
// package's exported API never needs to iterate the cache directly today.
type fullBody struct {
	mu   sync.RWMutex
	tree *btree.Map[NodeID, *Node]
}

func newFullBody() *fullBody {
	return &fullBody{tree: btree.NewMap[NodeID, *Node](32)}
}

func (b *fullBody) get(id NodeID) (*Node, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.Get(id)
}

func (b *fullBody) put(id NodeID, n *Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tree.Set(id, n)
}

// Cache is one generation-tagged, shareable node cache. Multiple readers
// observing the same generation share the same Cache (and therefore the
// same cacheBody); a reader opening an older snapshot gets a private Cache
// that is never installed as the shared one.
type Cache struct {
	generation uint64
	body       cacheBody

	loadMu sync.Mutex
	inFlight map[NodeID]*loadWaiter
}

type loadWaiter struct {
	done chan struct{}
	node *Node
	err  error
}

func newCache(generation uint64, flavor Flavor, size int) *Cache {
	var body cacheBody
	if flavor == FlavorFull {
		body = newFullBody()
	} else {
		body = newLRUBody(size)
	}
	return &Cache{generation: generation, body: body, inFlight: make(map[NodeID]*loadWaiter)}
}

func (c *Cache) Generation() uint64 { return c.generation }

// GetOrLoad returns the cached node for id, or calls load exactly once
// even under concurrent callers (the "guard/insert pattern" from §4.7:
// "concurrent get_node calls on a cache miss must load the page at most
// once; losers wait and read the inserted value").
func (c *Cache) GetOrLoad(id NodeID, load func() (*Node, error)) (*Node, error) {
	if n, ok := c.body.get(id); ok {
		return n, nil
	}

	c.loadMu.Lock()
	if w, ok := c.inFlight[id]; ok {
		c.loadMu.Unlock()
		<-w.done
		return w.node, w.err
	}
	// A loader that finished between the unlocked lookup above and taking
	// loadMu has already stored its node.
	if n, ok := c.body.get(id); ok {
		c.loadMu.Unlock()
		return n, nil
	}
	w := &loadWaiter{done: make(chan struct{})}
	c.inFlight[id] = w
	c.loadMu.Unlock()

	n, err := load()
	if err == nil {
		c.body.put(id, n)
	}
	w.node, w.err = n, err
	close(w.done)

	c.loadMu.Lock()
	delete(c.inFlight, id)
	c.loadMu.Unlock()

	return n, err
}

func (c *Cache) Put(id NodeID, n *Node) { c.body.put(id, n) }

// Caches is the store-wide registry of per-index shared caches, grounded
// verbatim on cache.rs's TreeCaches::get_cache three-case protocol.
type Caches struct {
	mu    sync.RWMutex
	byKey map[string]*Cache
}

func NewCaches() *Caches {
	return &Caches{byKey: make(map[string]*Cache)}
}

// GetCache implements the three-case protocol from §4.7:
//   - cache's generation == requested: return the shared cache (a clone,
//     so hits benefit all concurrent readers — here "clone" is simply the
//     same pointer, since Cache's body is already safe for concurrent use
//     and immutable in identity once installed).
//   - cache's generation < requested (including "no cache yet", treated
//     as generation below any requested generation): build a fresh cache
//     tagged with the new generation and install it as the shared one.
//   - cache's generation > requested: the caller is opening an older
//     snapshot; return a private, empty cache of the requested generation,
//     and do NOT install it.
func (c *Caches) GetCache(indexKey string, requestedGeneration uint64, flavor Flavor, size int) *Cache {
	c.mu.RLock()
	existing, ok := c.byKey[indexKey]
	c.mu.RUnlock()

	if ok && existing.generation == requestedGeneration {
		return existing
	}
	if ok && existing.generation > requestedGeneration {
		return newCache(requestedGeneration, flavor, size)
	}

	// Either no cache yet, or the on-disk state is newer than any live
	// cache: build and install a fresh one.
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok = c.byKey[indexKey]
	if ok && existing.generation == requestedGeneration {
		return existing
	}
	if ok && existing.generation > requestedGeneration {
		return newCache(requestedGeneration, flavor, size)
	}
	fresh := newCache(requestedGeneration, flavor, size)
	c.byKey[indexKey] = fresh
	return fresh
}

// Advance installs newCache as the shared cache for indexKey, superseding
// whatever was there before. Called after a commit that wrote dirty pages,
// per §4.7 "On commit, if the index wrote anything, its generation is
// bumped ... and the freshly-built cache supersedes the previous shared
// cache."
func (c *Caches) Advance(indexKey string, newCache *Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[indexKey] = newCache
}
