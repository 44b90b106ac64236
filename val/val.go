// Package val implements the versioned value codec (C2): every persisted
// value is a byte string carrying (revision tag, serialized payload), with
// forward/back migration hooks keyed off the observed revision. Grounded on
// the `#[revisioned(revision = N)]` convention used throughout
// original_source for nearly every stored type, reimplemented here as an
// explicit Go revision registry rather than a derive macro. Encoding uses
// github.com/ugorji/go/codec (msgpack handle) for the tagged binary payload
// and github.com/klauspost/compress/zstd for optional compression above a
// size threshold, both direct erigon-lib dependencies.
package val

import (
	"bytes"
	"reflect"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/ugorji/go/codec"

	"github.com/surrealdb/surrealdb-sub027/errs"
)

// CompressionThreshold is the payload size at or above which the encoder
// applies zstd compression. Below it the space/CPU tradeoff favors leaving the
// payload raw.
const CompressionThreshold = 256

const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

var mh codec.MsgpackHandle

func init() {
	// Migrations decode an old revision into a generic map first; pin the
	// container type so that lookup is the map[string]any callers expect
	// rather than codec's interface{}-keyed default.
	mh.MapType = reflect.TypeOf(map[string]any(nil))
}

var (
	encPool = sync.Pool{New: func() any { return zstdEncoderMust() }}
	decPool = sync.Pool{New: func() any { return zstdDecoderMust() }}
)

func zstdEncoderMust() *zstd.Encoder {
	e, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err) // zstd.NewWriter(nil) with no options cannot fail
	}
	return e
}

func zstdDecoderMust() *zstd.Decoder {
	d, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	return d
}

// Migration converts a decoded value of an older revision into the current
// in-memory shape. Registered per (type name, from-revision).
type Migration func(old any) (any, error)

// Schema describes one persisted Go type's revision discipline: its current
// revision number and, for every prior revision, a Migration up to current.
type Schema struct {
	Name        string
	Current     uint8
	Migrations  map[uint8]Migration // keyed by the *old* revision
	AllowsOlder bool                 // not consulted by Decode, which ignores unknown payload fields at every revision
}

// Registry holds every persisted type's Schema, consulted by Decode to pick
// the right migration chain.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

func (r *Registry) Register(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Name] = s
}

func (r *Registry) schema(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Encode writes v (the current revision of the named schema) to the wire
// envelope: [revision byte][compression flag byte][payload]. It never emits
// anything but the current revision, per §4.2.
func Encode(reg *Registry, name string, v any) ([]byte, error) {
	s, ok := reg.schema(name)
	if !ok {
		return nil, errs.Newf(errs.Internal, "val: unknown schema %q", name)
	}

	var payload bytes.Buffer
	enc := codec.NewEncoder(&payload, &mh)
	if err := enc.Encode(v); err != nil {
		return nil, errs.Wrap(errs.Internal, "val: encode payload", err)
	}

	flag := flagPlain
	body := payload.Bytes()
	if payload.Len() >= CompressionThreshold {
		zw := encPool.Get().(*zstd.Encoder)
		var compressed bytes.Buffer
		zw.Reset(&compressed)
		if _, err := zw.Write(payload.Bytes()); err != nil {
			encPool.Put(zw)
			return nil, errs.Wrap(errs.Internal, "val: compress payload", err)
		}
		if err := zw.Close(); err != nil {
			encPool.Put(zw)
			return nil, errs.Wrap(errs.Internal, "val: close compressor", err)
		}
		encPool.Put(zw)
		body = compressed.Bytes()
		flag = flagCompressed
	}

	out := make([]byte, 0, len(body)+2)
	out = append(out, s.Current, flag)
	out = append(out, body...)
	return out, nil
}

// Decode reads an envelope produced by Encode (possibly at an older
// revision) into out, a pointer to the current in-memory shape, running
// any necessary migration chain. Unknown or missing revision is
// IncompatibleRevision.
func Decode(reg *Registry, name string, data []byte, out any) error {
	s, ok := reg.schema(name)
	if !ok {
		return errs.Newf(errs.Internal, "val: unknown schema %q", name)
	}
	if len(data) < 2 {
		return errs.New(errs.IncompatibleRevision, "val: truncated envelope")
	}
	rev, flag := data[0], data[1]
	body := data[2:]

	if flag == flagCompressed {
		zr := decPool.Get().(*zstd.Decoder)
		plain, err := zr.DecodeAll(body, nil)
		decPool.Put(zr)
		if err != nil {
			return errs.Wrap(errs.Internal, "val: decompress payload", err)
		}
		body = plain
	} else if flag != flagPlain {
		return errs.New(errs.IncompatibleRevision, "val: unknown compression flag")
	}

	if rev == s.Current {
		dec := codec.NewDecoderBytes(body, &mh)
		if err := dec.Decode(out); err != nil {
			return errs.Wrap(errs.Internal, "val: decode current-revision payload", err)
		}
		return nil
	}

	migrate, ok := s.Migrations[rev]
	if !ok {
		return errs.Newf(errs.IncompatibleRevision, "val: no migration from revision %d for %q", rev, name)
	}

	// Decode into a generic map first (msgpack is self-describing), then
	// let the migration reshape it into the current type.
	var old any
	dec := codec.NewDecoderBytes(body, &mh)
	if err := dec.Decode(&old); err != nil {
		return errs.Wrap(errs.IncompatibleRevision, "val: decode old-revision payload", err)
	}
	migrated, err := migrate(old)
	if err != nil {
		return errs.Wrap(errs.IncompatibleRevision, "val: migrate old revision", err)
	}

	// Round-trip migrated through msgpack into out's concrete type so
	// callers can treat Decode uniformly regardless of revision.
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mh)
	if err := enc.Encode(migrated); err != nil {
		return errs.Wrap(errs.Internal, "val: re-encode migrated payload", err)
	}
	dec2 := codec.NewDecoderBytes(buf.Bytes(), &mh)
	if err := dec2.Decode(out); err != nil {
		return errs.Wrap(errs.Internal, "val: decode migrated payload", err)
	}
	return nil
}
