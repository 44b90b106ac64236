// Package memkv is the in-memory store adapter backend: a sorted map with
// MVCC snapshots per txn, as called out by spec.md §4.3
// ("In-memory backend uses a sorted map with MVCC snapshots per txn").
// Grounded on github.com/google/btree (a direct erigon-lib dependency)
// whose copy-on-write Clone gives each Begin an O(1) consistent snapshot.
package memkv

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
)

type item struct {
	key   []byte
	value []byte
	stamp uint64 // store-global write counter at last mutation
}

func less(a, b item) bool { return bytes.Compare(a.key, b.key) < 0 }

// Store is the shared in-memory backend. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[item]
	stamp   uint64 // monotonic, bumped on every successful commit
	pessMu  sync.Mutex
}

func New() *Store {
	return &Store{tree: btree.NewG(32, less)}
}

func (s *Store) Snapshotted() bool { return true }

func (s *Store) Close() error { return nil }

func (s *Store) Begin(ctx context.Context, write bool, lock kv.LockType) (kv.Tx, error) {
	s.mu.Lock()
	snap := s.tree.Clone()
	baseStamp := s.stamp
	s.mu.Unlock()

	if !write {
		return &tx{store: s, snap: snap, viewID: baseStamp}, nil
	}

	rw := &rwTx{
		tx:        tx{store: s, snap: snap, viewID: baseStamp},
		baseStamp: baseStamp,
		pending:   btree.NewG(32, less),
		lock:      lock,
	}
	if lock == kv.Pessimistic {
		s.pessMu.Lock()
		rw.heldLock = true
	}
	return rw, nil
}

// --- read-only tx ---

type tx struct {
	store  *Store
	snap   *btree.BTreeG[item]
	viewID uint64
}

func (t *tx) ViewID() uint64 { return t.viewID }

func (t *tx) Cancel(ctx context.Context) error { return nil }

func (t *tx) Get(ctx context.Context, key []byte) ([]byte, error) {
	it, ok := t.snap.Get(item{key: key})
	if !ok {
		return nil, nil
	}
	return it.value, nil
}

func (t *tx) GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := t.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (t *tx) Exists(ctx context.Context, key []byte) (bool, error) {
	v, err := t.Get(ctx, key)
	return v != nil, err
}

func (t *tx) Scan(ctx context.Context, r kv.Range, limit int, reverse bool) (kv.Iterator, error) {
	return newMemIterator(t.snap, r, limit, reverse), nil
}

func (t *tx) Keys(ctx context.Context, r kv.Range, limit int, reverse bool) (kv.Iterator, error) {
	return t.Scan(ctx, r, limit, reverse)
}

// --- read-write tx ---

type rwTx struct {
	tx
	baseStamp uint64
	pending   *btree.BTreeG[item] // value==nil means tombstone
	touched   []item
	lock      kv.LockType
	heldLock  bool
	closed    bool
}

func (t *rwTx) overlayGet(key []byte) ([]byte, bool) {
	if it, ok := t.pending.Get(item{key: key}); ok {
		return it.value, true // it.value may be nil (tombstone)
	}
	return nil, false
}

func (t *rwTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	if v, ok := t.overlayGet(key); ok {
		return v, nil
	}
	return t.tx.Get(ctx, key)
}

func (t *rwTx) GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := t.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (t *rwTx) Exists(ctx context.Context, key []byte) (bool, error) {
	v, err := t.Get(ctx, key)
	return v != nil, err
}

func (t *rwTx) Scan(ctx context.Context, r kv.Range, limit int, reverse bool) (kv.Iterator, error) {
	return newOverlayIterator(t.snap, t.pending, r, limit, reverse), nil
}

func (t *rwTx) Keys(ctx context.Context, r kv.Range, limit int, reverse bool) (kv.Iterator, error) {
	return t.Scan(ctx, r, limit, reverse)
}

func (t *rwTx) mark(key []byte) {
	t.touched = append(t.touched, item{key: key})
}

func (t *rwTx) Set(ctx context.Context, key, val []byte) error {
	if t.closed {
		return errs.New(errs.TxClosed, "memkv: tx is not open")
	}
	t.pending.ReplaceOrInsert(item{key: key, value: val})
	t.mark(key)
	return nil
}

func (t *rwTx) Put(ctx context.Context, key, val []byte) error {
	exists, err := t.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return errs.New(errs.KeyAlreadyExists, "memkv: key already exists")
	}
	return t.Set(ctx, key, val)
}

func (t *rwTx) PutC(ctx context.Context, key, val, expectedPrev []byte) error {
	cur, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	if !bytes.Equal(cur, expectedPrev) {
		return errs.New(errs.PreconditionFailed, "memkv: compare-and-set mismatch")
	}
	return t.Set(ctx, key, val)
}

func (t *rwTx) Del(ctx context.Context, key []byte) error {
	if t.closed {
		return errs.New(errs.TxClosed, "memkv: tx is not open")
	}
	t.pending.ReplaceOrInsert(item{key: key, value: nil})
	t.mark(key)
	return nil
}

func (t *rwTx) DelC(ctx context.Context, key, expectedPrev []byte) error {
	cur, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	if !bytes.Equal(cur, expectedPrev) {
		return errs.New(errs.PreconditionFailed, "memkv: compare-and-delete mismatch")
	}
	return t.Del(ctx, key)
}

func (t *rwTx) DelRange(ctx context.Context, r kv.Range) error {
	it, err := t.Scan(ctx, r, 0, false)
	if err != nil {
		return err
	}
	defer it.Close()
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	for _, k := range keys {
		if err := t.Del(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (t *rwTx) DelPrefix(ctx context.Context, prefix []byte) error {
	return t.DelRange(ctx, kv.Range{Low: prefix, High: prefixUpperBound(prefix)})
}

func prefixUpperBound(p []byte) []byte {
	out := append([]byte(nil), p...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func (t *rwTx) Cancel(ctx context.Context) error {
	t.release()
	t.closed = true
	return nil
}

func (t *rwTx) release() {
	if t.lock == kv.Pessimistic && t.heldLock {
		t.store.pessMu.Unlock()
		t.heldLock = false
	}
}

// Commit validates optimistic conflicts (no touched key was mutated by any
// other commit since this tx's snapshot) then applies every pending write
// atomically under the store mutex.
func (t *rwTx) Commit(ctx context.Context) error {
	if t.closed {
		return errs.New(errs.TxClosed, "memkv: tx is not open")
	}
	defer t.release()
	defer func() { t.closed = true }()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.lock == kv.Optimistic {
		for _, w := range t.touched {
			if cur, ok := t.store.tree.Get(item{key: w.key}); ok {
				if cur.stamp > t.baseStamp {
					return errs.New(errs.Conflict, "memkv: optimistic write conflict")
				}
			}
		}
	}

	t.store.stamp++
	newStamp := t.store.stamp
	t.pending.Ascend(func(p item) bool {
		if p.value == nil {
			t.store.tree.Delete(item{key: p.key})
		} else {
			t.store.tree.ReplaceOrInsert(item{key: p.key, value: p.value, stamp: newStamp})
		}
		return true
	})
	return nil
}

// --- iterators ---

type memIterator struct {
	items []item
	pos   int
}

func newMemIterator(tree *btree.BTreeG[item], r kv.Range, limit int, reverse bool) *memIterator {
	it := &memIterator{pos: -1}
	visit := func(v item) bool {
		if limit > 0 && len(it.items) >= limit {
			return false
		}
		it.items = append(it.items, v)
		return true
	}
	switch {
	case r.Low == nil && r.High == nil:
		if reverse {
			tree.Descend(visit)
		} else {
			tree.Ascend(visit)
		}
	case r.High == nil:
		if reverse {
			// No natural descending-from-low bound in google/btree's API
			// beyond AscendGreaterOrEqual; collect then reverse.
			var buf []item
			tree.AscendGreaterOrEqual(item{key: r.Low}, func(v item) bool { buf = append(buf, v); return true })
			for i := len(buf) - 1; i >= 0 && (limit <= 0 || len(it.items) < limit); i-- {
				it.items = append(it.items, buf[i])
			}
		} else {
			tree.AscendGreaterOrEqual(item{key: r.Low}, visit)
		}
	default:
		if reverse {
			var buf []item
			tree.AscendRange(item{key: r.Low}, item{key: r.High}, func(v item) bool { buf = append(buf, v); return true })
			for i := len(buf) - 1; i >= 0 && (limit <= 0 || len(it.items) < limit); i-- {
				it.items = append(it.items, buf[i])
			}
		} else {
			tree.AscendRange(item{key: r.Low}, item{key: r.High}, visit)
		}
	}
	return it
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *memIterator) Key() []byte   { return it.items[it.pos].key }
func (it *memIterator) Value() []byte { return it.items[it.pos].value }
func (it *memIterator) Err() error    { return nil }
func (it *memIterator) Close()        {}

// overlayIterator merges the snapshot tree with the pending write-set,
// pending taking precedence and tombstones (nil value) suppressing the
// underlying entry.
type overlayIterator struct {
	merged []item
	pos    int
}

func newOverlayIterator(snap, pending *btree.BTreeG[item], r kv.Range, limit int, reverse bool) *overlayIterator {
	base := newMemIterator(snap, r, 0, false)
	overlay := newMemIterator(pending, r, 0, false)

	m := make(map[string]item, len(base.items)+len(overlay.items))
	for _, it := range base.items {
		m[string(it.key)] = it
	}
	for _, it := range overlay.items {
		m[string(it.key)] = it
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)

	out := &overlayIterator{pos: -1}
	for _, k := range keys {
		it := m[k]
		if it.value == nil {
			continue
		}
		out.merged = append(out.merged, it)
	}
	if reverse {
		for i, j := 0, len(out.merged)-1; i < j; i, j = i+1, j-1 {
			out.merged[i], out.merged[j] = out.merged[j], out.merged[i]
		}
	}
	if limit > 0 && len(out.merged) > limit {
		out.merged = out.merged[:limit]
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (it *overlayIterator) Next() bool {
	it.pos++
	return it.pos < len(it.merged)
}

func (it *overlayIterator) Key() []byte   { return it.merged[it.pos].key }
func (it *overlayIterator) Value() []byte { return it.merged[it.pos].value }
func (it *overlayIterator) Err() error    { return nil }
func (it *overlayIterator) Close()        {}
