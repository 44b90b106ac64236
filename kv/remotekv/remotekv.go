// Package remotekv is the distributed TiKV/FoundationDB-class store
// adapter backend: a transport skeleton over github.com/erigontech/mdbx-go's
// sibling dependencies google.golang.org/grpc and google.golang.org/protobuf
// (both direct erigon-lib deps), mirroring erigon's own split between a
// local `mdbx` implementation and a remote `remotedbserver`/remote `kv.Tx`
// implementation of the same interface. The wire messages use the
// already-generated google.golang.org/protobuf/types/known/structpb well-
// known type rather than a hand-maintained .proto + protoc-gen-go pipeline,
// since this exercise never invokes the Go/protobuf toolchain.
package remotekv

import (
	"context"
	"encoding/base64"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
)

const serviceName = "surreal.kv.RemoteKV"

// --- wire helpers: byte slices travel as base64 strings inside a
// structpb.Struct envelope, keeping the payload a real protobuf message
// without generated per-field accessors. ---

func encodeBytes(b []byte) string {
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeBytes(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "remotekv: build response struct", err)
	}
	return s, nil
}

// --- hand-authored grpc service descriptor (no protoc-gen-go-grpc) ---

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*serverHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Begin", Handler: beginHandler},
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Scan", Handler: scanHandler},
		{MethodName: "Mutate", Handler: mutateHandler},
		{MethodName: "Commit", Handler: commitHandler},
		{MethodName: "Cancel", Handler: cancelHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kv/remotekv/remotekv.proto",
}

type serverHandler interface {
	Begin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Scan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Mutate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Commit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(call func(serverHandler, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(serverHandler)
		if interceptor == nil {
			return call(h, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/unary"}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(h, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var beginHandler = unaryHandler(func(h serverHandler, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.Begin(ctx, in)
})
var getHandler = unaryHandler(func(h serverHandler, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.Get(ctx, in)
})
var scanHandler = unaryHandler(func(h serverHandler, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.Scan(ctx, in)
})
var mutateHandler = unaryHandler(func(h serverHandler, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.Mutate(ctx, in)
})
var commitHandler = unaryHandler(func(h serverHandler, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.Commit(ctx, in)
})
var cancelHandler = unaryHandler(func(h serverHandler, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return h.Cancel(ctx, in)
})

// RegisterServer attaches a Server to a grpc.Server under the hand-authored
// service descriptor.
func RegisterServer(s *grpc.Server, srv *Server) {
	s.RegisterService(&serviceDesc, srv)
}

func internalErr(err error) error {
	return errs.Wrap(errs.Internal, "remotekv: rpc failed", err)
}
