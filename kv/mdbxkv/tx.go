package mdbxkv

import (
	"bytes"
	"context"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
)

type tx struct {
	backend *Backend
	txn     *mdbx.Txn
}

func (t *tx) ViewID() uint64 { return uint64(t.txn.ID()) }

func (t *tx) Cancel(ctx context.Context) error {
	t.txn.Abort()
	return nil
}

func (t *tx) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := t.txn.Get(t.backend.dbi, key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Internal, "mdbxkv: get", err)
	}
	return v, nil
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
	cur, err := t.txn.OpenCursor(t.backend.dbi)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "mdbxkv: open cursor", err)
	}
	return newCursorIterator(cur, r, limit, reverse), nil
}

func (t *tx) Keys(ctx context.Context, r kv.Range, limit int, reverse bool) (kv.Iterator, error) {
	return t.Scan(ctx, r, limit, reverse)
}

// cursorIterator walks an mdbx cursor within [Low, High), materializing the
// range eagerly; mdbx transactions are not safe for concurrent cursor use
// from multiple goroutines so this trades a little memory for a simple,
// safe kv.Iterator.
type cursorIterator struct {
	cur   *mdbx.Cursor
	items []kvPair
	pos   int
}

type kvPair struct {
	key, val []byte
}

func newCursorIterator(cur *mdbx.Cursor, r kv.Range, limit int, reverse bool) *cursorIterator {
	defer cur.Close()
	it := &cursorIterator{pos: -1}

	k, v, err := cur.Get(r.Low, nil, mdbx.SetRange)
	for err == nil {
		if r.High != nil && bytes.Compare(k, r.High) >= 0 {
			break
		}
		it.items = append(it.items, kvPair{key: append([]byte(nil), k...), val: append([]byte(nil), v...)})
		if limit > 0 && len(it.items) >= limit && !reverse {
			break
		}
		k, v, err = cur.Get(nil, nil, mdbx.Next)
	}
	if reverse {
		for i, j := 0, len(it.items)-1; i < j; i, j = i+1, j-1 {
			it.items[i], it.items[j] = it.items[j], it.items[i]
		}
		if limit > 0 && len(it.items) > limit {
			it.items = it.items[:limit]
		}
	}
	return it
}

func (it *cursorIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *cursorIterator) Key() []byte   { return it.items[it.pos].key }
func (it *cursorIterator) Value() []byte { return it.items[it.pos].val }
func (it *cursorIterator) Err() error    { return nil }
func (it *cursorIterator) Close()        {}
