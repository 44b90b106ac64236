package remotekv

import (
	"context"
	"sync"
	"sync/atomic"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
)

// Server exposes a kv.Backend (typically kv/mdbxkv, or a remotekv.Backend
// dialing another Server for chained topologies) over the RemoteKV grpc service,
// standing in for a TiKV/FoundationDB-class storage node.
type Server struct {
	backend kv.Backend
	mu      sync.Mutex
	nextID  atomic.Uint64
	txns    map[uint64]kv.Tx
}

func NewServer(backend kv.Backend) *Server {
	return &Server{backend: backend, txns: make(map[uint64]kv.Tx)}
}

func (s *Server) register(tx kv.Tx) uint64 {
	id := s.nextID.Add(1)
	s.mu.Lock()
	s.txns[id] = tx
	s.mu.Unlock()
	return id
}

func (s *Server) lookup(id uint64) (kv.Tx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txns[id]
	return tx, ok
}

func (s *Server) forget(id uint64) {
	s.mu.Lock()
	delete(s.txns, id)
	s.mu.Unlock()
}

func (s *Server) Begin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	write, _ := in.Fields["write"].GetKind().(*structpb.Value_BoolValue)
	lockVal := in.Fields["lock"].GetNumberValue()
	lock := kv.Optimistic
	if lockVal == 1 {
		lock = kv.Pessimistic
	}
	isWrite := write != nil && write.BoolValue
	tx, err := s.backend.Begin(ctx, isWrite, lock)
	if err != nil {
		return nil, internalErr(err)
	}
	id := s.register(tx)
	return newStruct(map[string]any{"txn_id": float64(id)})
}

func txnIDOf(in *structpb.Struct) uint64 {
	return uint64(in.Fields["txn_id"].GetNumberValue())
}

func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	tx, ok := s.lookup(txnIDOf(in))
	if !ok {
		return nil, errs.New(errs.TxClosed, "remotekv: unknown txn id")
	}
	key := decodeBytes(in.Fields["key"].GetStringValue())
	v, err := tx.Get(ctx, key)
	if err != nil {
		return nil, internalErr(err)
	}
	return newStruct(map[string]any{"value": encodeBytes(v)})
}

func (s *Server) Scan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	tx, ok := s.lookup(txnIDOf(in))
	if !ok {
		return nil, errs.New(errs.TxClosed, "remotekv: unknown txn id")
	}
	r := kv.Range{
		Low:  decodeBytes(in.Fields["low"].GetStringValue()),
		High: decodeBytes(in.Fields["high"].GetStringValue()),
	}
	limit := int(in.Fields["limit"].GetNumberValue())
	reverse := in.Fields["reverse"].GetBoolValue()

	it, err := tx.Scan(ctx, r, limit, reverse)
	if err != nil {
		return nil, internalErr(err)
	}
	defer it.Close()

	var pairs []any
	for it.Next() {
		pairs = append(pairs, map[string]any{
			"key":   encodeBytes(it.Key()),
			"value": encodeBytes(it.Value()),
		})
	}
	return newStruct(map[string]any{"pairs": pairs})
}

// Mutate applies one staged write op (set/put/putc/del/delc/delrange/
// delprefix) against the named txn. op is one of those verbs as a string;
// the remaining fields are op-specific.
func (s *Server) Mutate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	tx, ok := s.lookup(txnIDOf(in))
	if !ok {
		return nil, errs.New(errs.TxClosed, "remotekv: unknown txn id")
	}
	rw, ok := tx.(kv.RwTx)
	if !ok {
		return nil, errs.New(errs.ReadOnly, "remotekv: txn is read-only")
	}

	op := in.Fields["op"].GetStringValue()
	key := decodeBytes(in.Fields["key"].GetStringValue())
	val := decodeBytes(in.Fields["value"].GetStringValue())
	prev := decodeBytes(in.Fields["expected_prev"].GetStringValue())

	var err error
	switch op {
	case "set":
		err = rw.Set(ctx, key, val)
	case "put":
		err = rw.Put(ctx, key, val)
	case "putc":
		err = rw.PutC(ctx, key, val, prev)
	case "del":
		err = rw.Del(ctx, key)
	case "delc":
		err = rw.DelC(ctx, key, prev)
	case "delrange":
		high := decodeBytes(in.Fields["high"].GetStringValue())
		err = rw.DelRange(ctx, kv.Range{Low: key, High: high})
	case "delprefix":
		err = rw.DelPrefix(ctx, key)
	default:
		err = errs.Newf(errs.Internal, "remotekv: unknown mutate op %q", op)
	}
	if err != nil {
		return nil, internalErr(err)
	}
	return newStruct(map[string]any{"ok": true})
}

func (s *Server) Commit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := txnIDOf(in)
	tx, ok := s.lookup(id)
	if !ok {
		return nil, errs.New(errs.TxClosed, "remotekv: unknown txn id")
	}
	defer s.forget(id)
	rw, ok := tx.(kv.RwTx)
	if !ok {
		return nil, errs.New(errs.ReadOnly, "remotekv: txn is read-only")
	}
	if err := rw.Commit(ctx); err != nil {
		return nil, internalErr(err)
	}
	return newStruct(map[string]any{"ok": true})
}

func (s *Server) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := txnIDOf(in)
	tx, ok := s.lookup(id)
	if !ok {
		return newStruct(map[string]any{"ok": true})
	}
	defer s.forget(id)
	_ = tx.Cancel(ctx)
	return newStruct(map[string]any{"ok": true})
}
