package remotekv

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
)

// Backend is the client-side kv.Backend implementation dialing a remote
// RemoteKV grpc service (a TiKV/FoundationDB-class storage node, or a
// Server fronting one of the other local backends).
type Backend struct {
	conn *grpc.ClientConn
}

// Dial opens a grpc connection to a RemoteKV service at target. Callers
// own the returned Backend and must Close it.
func Dial(target string, opts ...grpc.DialOption) (*Backend, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "remotekv: dial", err)
	}
	return &Backend{conn: conn}, nil
}

func (b *Backend) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := b.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out); err != nil {
		return nil, internalErr(err)
	}
	return out, nil
}

func (b *Backend) Snapshotted() bool { return true }

func (b *Backend) Close() error {
	return b.conn.Close()
}

func (b *Backend) Begin(ctx context.Context, write bool, lock kv.LockType) (kv.Tx, error) {
	req, err := newStruct(map[string]any{"write": write, "lock": float64(lock)})
	if err != nil {
		return nil, err
	}
	resp, err := b.invoke(ctx, "Begin", req)
	if err != nil {
		return nil, err
	}
	id := uint64(resp.Fields["txn_id"].GetNumberValue())
	t := &clientTx{backend: b, id: id}
	if !write {
		return t, nil
	}
	return &clientRwTx{clientTx: *t}, nil
}

type clientTx struct {
	backend *Backend
	id      uint64
}

func (t *clientTx) ViewID() uint64 { return t.id }

func (t *clientTx) Cancel(ctx context.Context) error {
	req, err := newStruct(map[string]any{"txn_id": float64(t.id)})
	if err != nil {
		return err
	}
	_, err = t.backend.invoke(ctx, "Cancel", req)
	return err
}

func (t *clientTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	req, err := newStruct(map[string]any{"txn_id": float64(t.id), "key": encodeBytes(key)})
	if err != nil {
		return nil, err
	}
	resp, err := t.backend.invoke(ctx, "Get", req)
	if err != nil {
		return nil, err
	}
	return decodeBytes(resp.Fields["value"].GetStringValue()), nil
}

func (t *clientTx) GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error) {
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

func (t *clientTx) Exists(ctx context.Context, key []byte) (bool, error) {
	v, err := t.Get(ctx, key)
	return v != nil, err
}

func (t *clientTx) Scan(ctx context.Context, r kv.Range, limit int, reverse bool) (kv.Iterator, error) {
	req, err := newStruct(map[string]any{
		"txn_id":  float64(t.id),
		"low":     encodeBytes(r.Low),
		"high":    encodeBytes(r.High),
		"limit":   float64(limit),
		"reverse": reverse,
	})
	if err != nil {
		return nil, err
	}
	resp, err := t.backend.invoke(ctx, "Scan", req)
	if err != nil {
		return nil, err
	}
	pairsVal := resp.Fields["pairs"].GetListValue()
	it := &clientIterator{pos: -1}
	if pairsVal != nil {
		for _, v := range pairsVal.Values {
			st := v.GetStructValue()
			it.items = append(it.items, kvPair{
				key: decodeBytes(st.Fields["key"].GetStringValue()),
				val: decodeBytes(st.Fields["value"].GetStringValue()),
			})
		}
	}
	return it, nil
}

func (t *clientTx) Keys(ctx context.Context, r kv.Range, limit int, reverse bool) (kv.Iterator, error) {
	return t.Scan(ctx, r, limit, reverse)
}

type kvPair struct{ key, val []byte }

type clientIterator struct {
	items []kvPair
	pos   int
}

func (it *clientIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}
func (it *clientIterator) Key() []byte   { return it.items[it.pos].key }
func (it *clientIterator) Value() []byte { return it.items[it.pos].val }
func (it *clientIterator) Err() error     { return nil }
func (it *clientIterator) Close()         {}

type clientRwTx struct {
	clientTx
}

func (t *clientRwTx) mutate(ctx context.Context, fields map[string]any) error {
	fields["txn_id"] = float64(t.id)
	req, err := newStruct(fields)
	if err != nil {
		return err
	}
	_, err = t.backend.invoke(ctx, "Mutate", req)
	return err
}

func (t *clientRwTx) Set(ctx context.Context, key, val []byte) error {
	return t.mutate(ctx, map[string]any{"op": "set", "key": encodeBytes(key), "value": encodeBytes(val)})
}

func (t *clientRwTx) Put(ctx context.Context, key, val []byte) error {
	return t.mutate(ctx, map[string]any{"op": "put", "key": encodeBytes(key), "value": encodeBytes(val)})
}

func (t *clientRwTx) PutC(ctx context.Context, key, val, expectedPrev []byte) error {
	return t.mutate(ctx, map[string]any{
		"op": "putc", "key": encodeBytes(key), "value": encodeBytes(val),
		"expected_prev": encodeBytes(expectedPrev),
	})
}

func (t *clientRwTx) Del(ctx context.Context, key []byte) error {
	return t.mutate(ctx, map[string]any{"op": "del", "key": encodeBytes(key)})
}

func (t *clientRwTx) DelC(ctx context.Context, key, expectedPrev []byte) error {
	return t.mutate(ctx, map[string]any{"op": "delc", "key": encodeBytes(key), "expected_prev": encodeBytes(expectedPrev)})
}

func (t *clientRwTx) DelRange(ctx context.Context, r kv.Range) error {
	return t.mutate(ctx, map[string]any{"op": "delrange", "key": encodeBytes(r.Low), "high": encodeBytes(r.High)})
}

func (t *clientRwTx) DelPrefix(ctx context.Context, prefix []byte) error {
	return t.mutate(ctx, map[string]any{"op": "delprefix", "key": encodeBytes(prefix)})
}

func (t *clientRwTx) Commit(ctx context.Context) error {
	req, err := newStruct(map[string]any{"txn_id": float64(t.id)})
	if err != nil {
		return err
	}
	_, err = t.backend.invoke(ctx, "Commit", req)
	return err
}
