package mdbxkv

import (
	"bytes"
	"context"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
)

type rwTx struct {
	tx
	lockType kv.LockType
	state    TransactionState
}

func (t *rwTx) Set(ctx context.Context, key, val []byte) error {
	t.state.Observe(TxHasWrites)
	if err := t.txn.Put(t.backend.dbi, key, val, 0); err != nil {
		return errs.Wrap(errs.Internal, "mdbxkv: set", err)
	}
	return nil
}

func (t *rwTx) Put(ctx context.Context, key, val []byte) error {
	t.state.Observe(TxHasWrites)
	err := t.txn.Put(t.backend.dbi, key, val, mdbx.NoOverwrite)
	if err != nil {
		if mdbx.IsKeyExist(err) {
			return errs.New(errs.KeyAlreadyExists, "mdbxkv: key already exists")
		}
		return errs.Wrap(errs.Internal, "mdbxkv: put", err)
	}
	return nil
}

func (t *rwTx) PutC(ctx context.Context, key, val, expectedPrev []byte) error {
	cur, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	if !bytes.Equal(cur, expectedPrev) {
		return errs.New(errs.PreconditionFailed, "mdbxkv: compare-and-set mismatch")
	}
	return t.Set(ctx, key, val)
}

func (t *rwTx) Del(ctx context.Context, key []byte) error {
	t.state.Observe(TxHasDeletes)
	if err := t.txn.Del(t.backend.dbi, key, nil); err != nil && !mdbx.IsNotFound(err) {
		return errs.Wrap(errs.Internal, "mdbxkv: del", err)
	}
	return nil
}

func (t *rwTx) DelC(ctx context.Context, key, expectedPrev []byte) error {
	cur, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	if !bytes.Equal(cur, expectedPrev) {
		return errs.New(errs.PreconditionFailed, "mdbxkv: compare-and-delete mismatch")
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

// Commit enforces the disk-space manager's admission policy (invariant 8),
// then joins the commit coordinator's grouped-flush batch so the caller
// only observes success once the entry is durably flushed (§5 "Commit
// coordination").
func (t *rwTx) Commit(ctx context.Context) error {
	if err := t.backend.space.Admit(t.state); err != nil {
		t.txn.Abort()
		return err
	}
	if _, err := t.txn.Commit(); err != nil {
		return errs.Wrap(errs.Internal, "mdbxkv: commit", err)
	}
	if t.backend.flusher.interval <= 0 {
		// Manual-WAL-flush mode disabled: mdbx's own commit durability
		// already applies, nothing further to coordinate.
		return nil
	}
	return t.backend.commitC.Join(ctx)
}
