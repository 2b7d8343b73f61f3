package coopipc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// Encoder turns a value into bytes for the wire. Decoder is its inverse.
// Both are invoked while the endpoint's lock is held for the duration of
// one Put/Get; any error they return propagates to the caller unchanged.
type Encoder func(v any) ([]byte, error)
type Decoder func(b []byte) (any, error)

// CodecMode records where a codec's Encoder/Decoder came from. It does not
// change how a pair encodes or decodes; it does decide how the codec is
// named in a child's control handshake (codecWireName in control.go).
type CodecMode byte

const (
	CodecDefault CodecMode = iota
	CodecRaw
	CodecCustom
)

func (m CodecMode) String() string {
	switch m {
	case CodecDefault:
		return "default"
	case CodecRaw:
		return "raw"
	case CodecCustom:
		return "custom"
	default:
		return "?"
	}
}

// codecPair is the fixed-at-construction, symmetrically shared Encoder and
// Decoder for one pipe (simplex or duplex). Both endpoints of a pipe hold a
// pointer to the same codecPair.
//
// Name is set only for CodecCustom pairs created via WithNamedCodec, and is
// what lets a custom codec survive Start's process-boundary transfer: a
// Go closure cannot be serialized into a re-exec'd child the way a
// gevent-inherited Python closure survives fork, so a transferred endpoint
// with a custom codec carries Name on the wire and the child looks it up
// in its own codecRegistry (which must have called RegisterCodec with a
// matching name during its own init, exactly as the child must call
// Register for the target function — see control.go/bootstrap.go).
type codecPair struct {
	Mode   CodecMode
	Name   string
	Encode Encoder
	Decode Decoder
}

var codecRegistry = xsync.NewMapOf[*codecPair]()

// RegisterCodec makes a custom encoder/decoder pair resolvable by name so
// that an endpoint using it can be transferred to a child process (§4.6).
// Call this from an init() reachable in both the parent and every process
// that might run as a child — the same requirement Register places on
// target functions.
func RegisterCodec(name string, enc Encoder, dec Decoder) error {
	if name == "" || name == "default" || name == "raw" {
		return fmt.Errorf("%w: %q is reserved or empty", ErrMisuse, name)
	}
	pair, err := newCustomCodec(enc, dec)
	if err != nil {
		return err
	}
	pair.Name = name
	codecRegistry.Store(name, pair)
	return nil
}

func lookupCodec(name string) (*codecPair, bool) {
	switch name {
	case "", "default":
		return newDefaultCodec(), true
	case "raw":
		return newRawCodec(), true
	default:
		return codecRegistry.Load(name)
	}
}

// gobEnvelope lets the default codec carry any value, including nils and
// primitives, through a single gob stream. gob requires every concrete
// type that ever flows through an interface{} field to be registered with
// gob.Register first — init() below does that for every built-in scalar
// and the common slice/map shapes, so a caller only needs gob.Register for
// its own named struct/interface types, exactly as gob already requires
// everywhere else.
type gobEnvelope struct {
	V any
}

func init() {
	for _, v := range []any{
		false,
		int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0),
		"",
		[]byte(nil),
		[]any(nil),
		map[string]any(nil),
	} {
		gob.Register(v)
	}
}

func defaultEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobEnvelope{V: v}); err != nil {
		return nil, fmt.Errorf("coopipc: default codec encode: %w", err)
	}
	return buf.Bytes(), nil
}

func defaultDecode(b []byte) (any, error) {
	var env gobEnvelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return nil, fmt.Errorf("coopipc: default codec decode: %w", err)
	}
	return env.V, nil
}

// rawEncode requires v to already be a byte sequence; anything else is the
// caller's problem per spec, surfaced as ErrMisuse.
func rawEncode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("%w: raw codec requires []byte or string, got %T", ErrMisuse, v)
	}
}

func rawDecode(b []byte) (any, error) {
	// identity: hand back a copy so the caller can't corrupt the next
	// frame's read buffer through an aliased slice.
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func newDefaultCodec() *codecPair {
	return &codecPair{Mode: CodecDefault, Encode: defaultEncode, Decode: defaultDecode}
}

func newRawCodec() *codecPair {
	return &codecPair{Mode: CodecRaw, Encode: rawEncode, Decode: rawDecode}
}

func newCustomCodec(enc Encoder, dec Decoder) (*codecPair, error) {
	if enc == nil || dec == nil {
		return nil, fmt.Errorf("%w: custom codec requires both encoder and decoder", ErrMisuse)
	}
	return &codecPair{Mode: CodecCustom, Encode: enc, Decode: dec}, nil
}
