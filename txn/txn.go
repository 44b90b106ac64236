// Package txn implements the transaction façade (C4): the single entry
// point for every read/write within one logical operation. It layers a
// bounded per-txn decoded-object cache over a kv.Tx/kv.RwTx, enforces
// read-only vs read-write, exposes the versionstamp oracle, and on commit
// flushes change-feed entries and advances index cache generations.
// Grounded structurally on erigon-lib's Tx/RwTx commit/rollback discipline
// (_examples/other_examples/d3229039_fenghaojiang-erigon-lib__kv-kv_interface.go.go).
package txn

import (
	"context"
	"hash/maphash"
	"sync"

	"github.com/elastic/go-freelru"

	"github.com/surrealdb/surrealdb-sub027/cf"
	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/vs"
)

// State is the Open -> {Committed, Canceled, Failed} machine from §4.4.
type State int

const (
	Open State = iota
	Committed
	Canceled
	Failed
)

var seed = maphash.MakeSeed()

func hashKey(k string) uint32 {
	return uint32(maphash.String(seed, k))
}

// GenerationBump is staged by index code during a txn (via Txn.BumpGeneration)
// and applied only on a successful commit, per §4.4's failure policy
// ("index generation bumps are only applied on successful commit").
type GenerationBump struct {
	Apply func()
}

// Txn is the per-operation handle threaded through every subsystem.
type Txn struct {
	mu      sync.Mutex
	state   State
	raw     kv.Tx
	rw      kv.RwTx // nil if read-only
	readOnly bool

	cache *freelru.LRU[string, any]

	oracle  *vs.Oracle
	nsID    uint32
	dbID    uint32
	staged  *cf.Staged
	current vs.VS
	bumps   []GenerationBump
}

// Open begins a new Txn over backend, matching §4.3's begin(write, lock).
func Open(ctx context.Context, backend kv.Backend, write bool, lock kv.LockType, nsID, dbID uint32, cacheSize uint32) (*Txn, error) {
	raw, err := backend.Begin(ctx, write, lock)
	if err != nil {
		return nil, err
	}
	cache, err := freelru.New[string, any](cacheSize, hashKey)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "txn: create decoded-object cache", err)
	}

	t := &Txn{
		state:    Open,
		raw:      raw,
		readOnly: !write,
		cache:    cache,
		oracle:   vs.NewOracle(nsID, dbID),
		nsID:     nsID,
		dbID:     dbID,
		staged:   cf.NewStaged(nsID, dbID),
	}
	if write {
		t.rw = raw.(kv.RwTx)
	}
	return t, nil
}

func (t *Txn) checkOpen() error {
	if t.state != Open {
		return errs.New(errs.TxClosed, "txn: operation on a non-open transaction")
	}
	return nil
}

func (t *Txn) checkWritable() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.readOnly {
		return errs.New(errs.ReadOnly, "txn: mutation attempted on a read-only transaction")
	}
	return nil
}

// --- cache-assisted reads ---

// CachedGet returns a previously decoded object for key if present, or
// calls load and caches the result. This is the "bounded per-txn cache of
// decoded objects (schema items, index state pages) keyed by the
// underlying byte key" from §4.4.
func (t *Txn) CachedGet(key []byte, load func() (any, error)) (any, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if v, ok := t.cache.Get(string(key)); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	t.cache.Add(string(key), v)
	return v, nil
}

func (t *Txn) InvalidateCache(key []byte) {
	t.cache.Remove(string(key))
}

// --- raw store passthrough ---

func (t *Txn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.raw.Get(ctx, key)
}

func (t *Txn) GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.raw.GetMulti(ctx, keys)
}

func (t *Txn) Exists(ctx context.Context, key []byte) (bool, error) {
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	return t.raw.Exists(ctx, key)
}

func (t *Txn) Scan(ctx context.Context, r kv.Range, limit int, reverse bool) (kv.Iterator, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.raw.Scan(ctx, r, limit, reverse)
}

func (t *Txn) Set(ctx context.Context, key, val []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.InvalidateCache(key)
	return t.rw.Set(ctx, key, val)
}

func (t *Txn) Put(ctx context.Context, key, val []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.rw.Put(ctx, key, val)
}

func (t *Txn) PutC(ctx context.Context, key, val, expectedPrev []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.InvalidateCache(key)
	return t.rw.PutC(ctx, key, val, expectedPrev)
}

func (t *Txn) Del(ctx context.Context, key []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.InvalidateCache(key)
	return t.rw.Del(ctx, key)
}

func (t *Txn) DelC(ctx context.Context, key, expectedPrev []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.InvalidateCache(key)
	return t.rw.DelC(ctx, key, expectedPrev)
}

func (t *Txn) DelRange(ctx context.Context, r kv.Range) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.rw.DelRange(ctx, r)
}

func (t *Txn) DelPrefix(ctx context.Context, prefix []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.rw.DelPrefix(ctx, prefix)
}

// --- versionstamp oracle exposure (§4.4 current_vs()/assign_vs()) ---

func (t *Txn) CurrentVS(ctx context.Context) (vs.VS, error) {
	if err := t.checkOpen(); err != nil {
		return vs.VS{}, err
	}
	return t.oracle.ReadVS(ctx, t.raw)
}

// AssignVS advances and caches the oracle's versionstamp for this txn,
// idempotent within one Txn (subsequent calls return the same stamp) so
// every change-feed entry and index generation bump emitted by this
// commit shares one versionstamp, per §3 "Change-set entry" invariants.
func (t *Txn) AssignVS(ctx context.Context) (vs.VS, error) {
	if err := t.checkWritable(); err != nil {
		return vs.VS{}, err
	}
	if t.current != (vs.VS{}) {
		return t.current, nil
	}
	stamp, err := t.oracle.AdvanceVS(ctx, t.rw)
	if err != nil {
		return vs.VS{}, err
	}
	t.current = stamp
	return stamp, nil
}

// --- change-feed staging (used by record/trees code during the txn) ---

func (t *Txn) Staged() *cf.Staged { return t.staged }

// BumpGeneration registers a deferred cache-generation bump to run only if
// Commit succeeds, per §4.4's failure policy.
func (t *Txn) BumpGeneration(b GenerationBump) {
	t.bumps = append(t.bumps, b)
}

// --- lifecycle ---

func (t *Txn) IsReadOnly() bool { return t.readOnly }

// Cancel releases the underlying transaction with no observable effect and
// discards all staged change-feed/generation work.
func (t *Txn) Cancel(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Open {
		return errs.New(errs.TxClosed, "txn: already closed")
	}
	t.state = Canceled
	return t.raw.Cancel(ctx)
}

// Commit flushes staged change-feed entries (assigning a versionstamp if
// none was assigned yet and there is anything to flush), commits the
// underlying store transaction, and only then applies deferred cache
// generation bumps — matching §4.4's "on commit: flushes index state keys,
// forwards change-feed entries ..., and advances affected index cache
// generations" plus the rollback-on-failure policy.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Open {
		return errs.New(errs.TxClosed, "txn: already closed")
	}
	if t.readOnly {
		t.state = Committed
		return t.raw.Cancel(ctx)
	}

	if !t.staged.Empty() {
		stamp, err := t.AssignVS(ctx)
		if err != nil {
			t.state = Failed
			_ = t.raw.Cancel(ctx)
			return err
		}
		if err := t.staged.Flush(ctx, t.rw, stamp); err != nil {
			t.state = Failed
			_ = t.raw.Cancel(ctx)
			return err
		}
	}

	if err := t.rw.Commit(ctx); err != nil {
		t.state = Failed
		return err
	}
	t.state = Committed
	for _, b := range t.bumps {
		b.Apply()
	}
	return nil
}

func (t *Txn) State() State { return t.state }
