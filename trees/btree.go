package trees

import (
	"bytes"
	"context"

	"github.com/surrealdb/surrealdb-sub027/kv"
)

// Order bounds the number of keys per page before it splits; MinKeys is the
// floor before a page merges with a sibling. These play the role of the
// node fan-out constants erigon-lib's table layout fixes per page type,
// generalized here to one configurable B-tree order per index.
const (
	DefaultOrder   = 64
	defaultMinKeys = DefaultOrder / 2
)

// Index is one generic COW-flavored B-tree (C8), addressed through a Store
// and fronted by a generation-tagged Cache per transaction.
type Index struct {
	store *Store
	order int
}

func NewIndex(store *Store, order int) *Index {
	if order <= 2 {
		order = DefaultOrder
	}
	return &Index{store: store, order: order}
}

func (ix *Index) minKeys() int { return ix.order / 2 }

// Statistics summarizes an index's shape, the `statistics()` operation.
type Statistics struct {
	KeyCount   uint64
	Generation uint64
}

// Search finds the payload for key, `search()`.
func (ix *Index) Search(ctx context.Context, tx kv.Tx, k []byte) (Payload, bool, error) {
	st, err := ix.store.LoadState(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	if st.Root == 0 && st.NextID == 0 {
		return 0, false, nil
	}
	c := ix.store.Cache(st)
	return ix.searchNode(ctx, tx, c, st.Root, k)
}

func (ix *Index) searchNode(ctx context.Context, tx kv.Tx, c *Cache, id NodeID, k []byte) (Payload, bool, error) {
	n, err := ix.store.GetNode(ctx, tx, c, id)
	if err != nil {
		return 0, false, err
	}
	i, found := search(n.Keys, k)
	if n.Leaf {
		if found {
			return n.Payloads[i], true, nil
		}
		return 0, false, nil
	}
	if found {
		i++ // descend right of an equal separator key
	}
	return ix.searchNode(ctx, tx, c, n.Children[i], k)
}

// search returns the index of the first key >= k, and whether it equals k.
func search(keys [][]byte, k []byte) (int, bool) {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := bytes.Compare(keys[mid], k)
		if cmp == 0 {
			return mid, true
		}
		if cmp < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// writeCtx threads the state through one mutating operation: a fresh root
// id/generation is only committed to the Store on success.
type writeCtx struct {
	ix    *Index
	store *Store
	tx    kv.RwTx
	cache *Cache
	st    State
}

func (ix *Index) begin(ctx context.Context, tx kv.RwTx) (*writeCtx, error) {
	st, err := ix.store.LoadState(ctx, tx)
	if err != nil {
		return nil, err
	}
	c := ix.store.NewWriteCache(st.Generation + 1)
	return &writeCtx{ix: ix, store: ix.store, tx: tx, cache: c, st: st}, nil
}

func (w *writeCtx) alloc() NodeID {
	w.st.NextID++
	return w.st.NextID
}

func (w *writeCtx) save(ctx context.Context, n *Node) error {
	n.Generation = w.st.Generation + 1
	n.Dirty = true
	return w.store.PutNode(ctx, w.tx, w.cache, n)
}

func (w *writeCtx) load(ctx context.Context, id NodeID) (*Node, error) {
	return w.store.GetNode(ctx, w.tx, w.cache, id)
}

// finish persists the bumped state and advances the shared cache, the
// commit-time half of the C7 generation protocol: "on commit, if the index
// wrote anything, its generation is bumped and the freshly-built cache
// supersedes the previous shared cache."
func (w *writeCtx) finish(ctx context.Context) error {
	w.st.Generation++
	if err := w.store.SaveState(ctx, w.tx, w.st); err != nil {
		return err
	}
	w.store.Advance(w.cache)
	return nil
}

// Insert adds or overwrites key -> payload, `insert()`.
func (ix *Index) Insert(ctx context.Context, tx kv.RwTx, k []byte, payload Payload) error {
	w, err := ix.begin(ctx, tx)
	if err != nil {
		return err
	}

	if w.st.Root == 0 && w.st.NextID == 0 {
		root := &Node{ID: w.alloc(), Leaf: true, Keys: [][]byte{clone(k)}, Payloads: []Payload{payload}}
		if err := w.save(ctx, root); err != nil {
			return err
		}
		w.st.Root = root.ID
		w.st.Count = 1
		return w.finish(ctx)
	}

	root, err := w.load(ctx, w.st.Root)
	if err != nil {
		return err
	}
	existed, err := ix.insertInto(ctx, w, root, k, payload)
	if err != nil {
		return err
	}
	if root.Leaf && len(root.Keys) > ix.order || !root.Leaf && len(root.Children) > ix.order+1 {
		// Root overflowed during the recursive insert; split it and grow
		// the tree by one level.
		left, right, sep, err := ix.splitNode(ctx, w, root)
		if err != nil {
			return err
		}
		newRoot := &Node{ID: w.alloc(), Leaf: false, Keys: [][]byte{sep}, Children: []NodeID{left.ID, right.ID}}
		if err := w.save(ctx, newRoot); err != nil {
			return err
		}
		w.st.Root = newRoot.ID
	}
	if !existed {
		w.st.Count++
	}
	return w.finish(ctx)
}

// insertInto inserts (k, payload) below n, splitting any overflowing child
// it descends through (classic "split full child before recursing" scheme
// so the caller only ever has to handle the root splitting). Returns
// whether k already existed (an overwrite, not a new key).
func (ix *Index) insertInto(ctx context.Context, w *writeCtx, n *Node, k []byte, payload Payload) (bool, error) {
	i, found := search(n.Keys, k)
	if n.Leaf {
		if found {
			n.Payloads[i] = payload
			return true, w.save(ctx, n)
		}
		n.Keys = insertAt(n.Keys, i, clone(k))
		n.Payloads = insertPayloadAt(n.Payloads, i, payload)
		return false, w.save(ctx, n)
	}
	childIdx := i
	if found {
		childIdx = i + 1
	}
	child, err := w.load(ctx, n.Children[childIdx])
	if err != nil {
		return false, err
	}
	if len(child.Keys) >= ix.order {
		left, right, sep, err := ix.splitNode(ctx, w, child)
		if err != nil {
			return false, err
		}
		n.Keys = insertAt(n.Keys, childIdx, sep)
		n.Children[childIdx] = left.ID
		n.Children = insertChildAt(n.Children, childIdx+1, right.ID)
		if bytes.Compare(k, sep) >= 0 {
			childIdx++
		}
		child, err = w.load(ctx, n.Children[childIdx])
		if err != nil {
			return false, err
		}
		if err := w.save(ctx, n); err != nil {
			return false, err
		}
	}
	return ix.insertInto(ctx, w, child, k, payload)
}

// splitNode splits an overflowing node in two around its median, returning
// the (now-shorter) left node, the new right node, and the separator key
// to install in the parent.
func (ix *Index) splitNode(ctx context.Context, w *writeCtx, n *Node) (*Node, *Node, []byte, error) {
	mid := len(n.Keys) / 2
	right := &Node{ID: w.alloc(), Leaf: n.Leaf}

	if n.Leaf {
		sep := clone(n.Keys[mid])
		right.Keys = append(right.Keys, n.Keys[mid:]...)
		right.Payloads = append(right.Payloads, n.Payloads[mid:]...)
		n.Keys = n.Keys[:mid]
		n.Payloads = n.Payloads[:mid]
		if err := w.save(ctx, right); err != nil {
			return nil, nil, nil, err
		}
		if err := w.save(ctx, n); err != nil {
			return nil, nil, nil, err
		}
		return n, right, sep, nil
	}

	sep := clone(n.Keys[mid])
	right.Keys = append(right.Keys, n.Keys[mid+1:]...)
	right.Children = append(right.Children, n.Children[mid+1:]...)
	n.Keys = n.Keys[:mid]
	n.Children = n.Children[:mid+1]
	if err := w.save(ctx, right); err != nil {
		return nil, nil, nil, err
	}
	if err := w.save(ctx, n); err != nil {
		return nil, nil, nil, err
	}
	return n, right, sep, nil
}

// Delete removes key, `delete()`. Returns whether the key was present.
func (ix *Index) Delete(ctx context.Context, tx kv.RwTx, k []byte) (bool, error) {
	w, err := ix.begin(ctx, tx)
	if err != nil {
		return false, err
	}
	if w.st.Root == 0 {
		return false, nil
	}
	root, err := w.load(ctx, w.st.Root)
	if err != nil {
		return false, err
	}
	removed, err := ix.deleteFrom(ctx, w, root, k)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	w.st.Count--

	if !root.Leaf && len(root.Children) == 1 {
		w.st.Root = root.Children[0]
		if err := w.store.DeleteNode(ctx, w.tx, root.ID); err != nil {
			return false, err
		}
	}
	if err := w.finish(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (ix *Index) deleteFrom(ctx context.Context, w *writeCtx, n *Node, k []byte) (bool, error) {
	i, found := search(n.Keys, k)
	if n.Leaf {
		if !found {
			return false, nil
		}
		n.Keys = removeAt(n.Keys, i)
		n.Payloads = removePayloadAt(n.Payloads, i)
		return true, w.save(ctx, n)
	}

	childIdx := i
	if found {
		childIdx = i + 1
	}
	child, err := w.load(ctx, n.Children[childIdx])
	if err != nil {
		return false, err
	}
	removed, err := ix.deleteFrom(ctx, w, child, k)
	if err != nil || !removed {
		return removed, err
	}
	if len(child.Keys) < ix.minKeys() {
		if err := ix.rebalance(ctx, w, n, childIdx); err != nil {
			return false, err
		}
	}
	return true, w.save(ctx, n)
}

// rebalance fixes an underflowed child at n.Children[idx] by borrowing a
// key from an adjacent sibling, or merging with one if neither sibling can
// spare a key — the standard B-tree delete-side invariant maintenance.
func (ix *Index) rebalance(ctx context.Context, w *writeCtx, n *Node, idx int) error {
	child, err := w.load(ctx, n.Children[idx])
	if err != nil {
		return err
	}

	if idx > 0 {
		left, err := w.load(ctx, n.Children[idx-1])
		if err != nil {
			return err
		}
		if len(left.Keys) > ix.minKeys() {
			borrowFromLeft(n, idx, left, child)
			return saveAll(ctx, w, left, child)
		}
	}
	if idx < len(n.Children)-1 {
		right, err := w.load(ctx, n.Children[idx+1])
		if err != nil {
			return err
		}
		if len(right.Keys) > ix.minKeys() {
			borrowFromRight(n, idx, right, child)
			return saveAll(ctx, w, right, child)
		}
	}

	if idx > 0 {
		left, err := w.load(ctx, n.Children[idx-1])
		if err != nil {
			return err
		}
		merged := mergeNodes(n, idx-1, left, child)
		if err := w.save(ctx, merged); err != nil {
			return err
		}
		return w.store.DeleteNode(ctx, w.tx, child.ID)
	}
	right, err := w.load(ctx, n.Children[idx+1])
	if err != nil {
		return err
	}
	merged := mergeNodes(n, idx, child, right)
	if err := w.save(ctx, merged); err != nil {
		return err
	}
	return w.store.DeleteNode(ctx, w.tx, right.ID)
}

func saveAll(ctx context.Context, w *writeCtx, nodes ...*Node) error {
	for _, n := range nodes {
		if err := w.save(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func borrowFromLeft(parent *Node, idx int, left, child *Node) {
	if child.Leaf {
		n := len(left.Keys) - 1
		child.Keys = insertAt(child.Keys, 0, left.Keys[n])
		child.Payloads = insertPayloadAt(child.Payloads, 0, left.Payloads[n])
		left.Keys = left.Keys[:n]
		left.Payloads = left.Payloads[:n]
		parent.Keys[idx-1] = clone(child.Keys[0])
		return
	}
	n := len(left.Keys) - 1
	child.Keys = insertAt(child.Keys, 0, clone(parent.Keys[idx-1]))
	child.Children = insertChildAt(child.Children, 0, left.Children[n+1])
	parent.Keys[idx-1] = left.Keys[n]
	left.Keys = left.Keys[:n]
	left.Children = left.Children[:n+1]
}

func borrowFromRight(parent *Node, idx int, right, child *Node) {
	if child.Leaf {
		child.Keys = append(child.Keys, right.Keys[0])
		child.Payloads = append(child.Payloads, right.Payloads[0])
		right.Keys = removeAt(right.Keys, 0)
		right.Payloads = removePayloadAt(right.Payloads, 0)
		parent.Keys[idx] = clone(right.Keys[0])
		return
	}
	child.Keys = append(child.Keys, clone(parent.Keys[idx]))
	child.Children = append(child.Children, right.Children[0])
	parent.Keys[idx] = right.Keys[0]
	right.Keys = removeAt(right.Keys, 0)
	right.Children = right.Children[1:]
}

// mergeNodes folds right into left (absorbing parent.Keys[idx] as the
// separator for internal nodes) and removes the separator + right child
// pointer from parent, returning parent for the caller to persist.
func mergeNodes(parent *Node, idx int, left, right *Node) *Node {
	if left.Leaf {
		left.Keys = append(left.Keys, right.Keys...)
		left.Payloads = append(left.Payloads, right.Payloads...)
	} else {
		left.Keys = append(left.Keys, clone(parent.Keys[idx]))
		left.Keys = append(left.Keys, right.Keys...)
		left.Children = append(left.Children, right.Children...)
	}
	parent.Keys = removeAt(parent.Keys, idx)
	parent.Children = append(parent.Children[:idx+1], parent.Children[idx+2:]...)
	return left
}

// Statistics reports the index's key count and generation, `statistics()`.
func (ix *Index) Statistics(ctx context.Context, tx kv.Tx) (Statistics, error) {
	st, err := ix.store.LoadState(ctx, tx)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{KeyCount: st.Count, Generation: st.Generation}, nil
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func insertAt(s [][]byte, i int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertPayloadAt(s []Payload, i int, v Payload) []Payload {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertChildAt(s []NodeID, i int, v NodeID) []NodeID {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt(s [][]byte, i int) [][]byte {
	return append(s[:i], s[i+1:]...)
}

func removePayloadAt(s []Payload, i int) []Payload {
	return append(s[:i], s[i+1:]...)
}
