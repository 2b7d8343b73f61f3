package coopipc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	jsp "github.com/buger/jsonparser"
)

// The control handshake is how a spawned child learns what to run and
// which of its inherited os.File descriptors (via exec.Cmd.ExtraFiles) are
// live endpoints versus plain data. It travels over a dedicated pipe whose
// read end is always exec.Cmd.ExtraFiles[0] in the child (§4.6/§4.7).
//
// Parent-side construction uses encoding/json.Marshal: the blob is small
// and fixed-shape, so full marshaling is the right amount of machinery.
// Child-side parsing uses jsonparser to pull fields without a full decode
// into an intermediate struct tree — the same allocation-conscious style
// the teacher's json package uses for BGP attribute parsing (json/json.go).

// wireArg describes one argument slot on the wire: either a plain
// gob-encoded value, or a reference to endpoint file(s) living later in
// exec.Cmd.ExtraFiles.
type wireArg struct {
	Kind     string `json:"kind"`               // "value" | "read" | "write" | "duplex"
	GobB64   string `json:"gob,omitempty"`      // base64 gob envelope, kind=="value"
	FDStart  int    `json:"fd"`                 // index into the endpoint-file section, kind!="value"
	Codec    string `json:"codec,omitempty"`    // "" (default), "raw", or a RegisterCodec name
}

type controlBlob struct {
	Target    string    `json:"target"`
	Daemon    bool      `json:"daemon"`
	Name      string    `json:"name"`
	Args      []wireArg `json:"args"`
	KwargKeys []string  `json:"kwarg_keys"`
	Kwargs    []wireArg `json:"kwargs"`
}

// buildControl serializes target/args/kwargs into a control blob. It
// returns, alongside the blob, the *os.File values that must be appended to
// exec.Cmd.ExtraFiles right after the control pipe's read end, and the
// transferable endpoints those files came from — step 7 of §4.6 requires
// the parent to close each one locally once the spawn succeeds, which
// requires the endpoint object itself, not just its raw fd.
func buildControl(targetName string, daemon bool, name string, args []any, kwargs map[string]any) ([]byte, []*os.File, []transferable, error) {
	var files []*os.File
	var endpoints []transferable

	toWireArg := func(v any) (wireArg, error) {
		if t, ok := v.(transferable); ok {
			codecName, err := codecWireName(t.transferCodec())
			if err != nil {
				return wireArg{}, err
			}
			start := len(files)
			files = append(files, t.transferFiles()...)
			endpoints = append(endpoints, t)
			return wireArg{Kind: transferKindName(t.transferKindOf()), FDStart: start, Codec: codecName}, nil
		}

		enc, err := defaultEncode(v)
		if err != nil {
			return wireArg{}, fmt.Errorf("coopipc: encoding argument for child: %w", err)
		}
		return wireArg{Kind: "value", GobB64: base64.StdEncoding.EncodeToString(enc)}, nil
	}

	wireArgs := make([]wireArg, len(args))
	for i, v := range args {
		wa, err := toWireArg(v)
		if err != nil {
			return nil, nil, nil, err
		}
		wireArgs[i] = wa
	}

	keys := make([]string, 0, len(kwargs))
	wireKwargs := make([]wireArg, 0, len(kwargs))
	for k, v := range kwargs {
		wa, err := toWireArg(v)
		if err != nil {
			return nil, nil, nil, err
		}
		keys = append(keys, k)
		wireKwargs = append(wireKwargs, wa)
	}

	blob, err := json.Marshal(controlBlob{
		Target:    targetName,
		Daemon:    daemon,
		Name:      name,
		Args:      wireArgs,
		KwargKeys: keys,
		Kwargs:    wireKwargs,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coopipc: marshaling control blob: %w", err)
	}
	return blob, files, endpoints, nil
}

func codecWireName(c *codecPair) (string, error) {
	switch c.Mode {
	case CodecDefault:
		return "", nil
	case CodecRaw:
		return "raw", nil
	case CodecCustom:
		if c.Name == "" {
			return "", fmt.Errorf("%w: endpoint uses an unnamed custom codec (WithCodec) and cannot be transferred; use WithNamedCodec", ErrMisuse)
		}
		return c.Name, nil
	default:
		return "", fmt.Errorf("%w: unknown codec mode", ErrMisuse)
	}
}

func transferKindName(k transferKind) string {
	switch k {
	case transferRead:
		return "read"
	case transferWrite:
		return "write"
	case transferDuplex:
		return "duplex"
	default:
		return ""
	}
}

// parsedControl is the child-side view of a controlBlob, extracted field by
// field with jsonparser instead of a full json.Unmarshal.
type parsedControl struct {
	target    string
	daemon    bool
	name      string
	args      []wireArg
	kwargKeys []string
	kwargs    []wireArg
}

func parseControl(data []byte) (*parsedControl, error) {
	pc := &parsedControl{}

	target, err := jsp.GetString(data, "target")
	if err != nil {
		return nil, fmt.Errorf("coopipc: control blob missing target: %w", err)
	}
	pc.target = target

	if daemon, err := jsp.GetBoolean(data, "daemon"); err == nil {
		pc.daemon = daemon
	}
	if name, err := jsp.GetString(data, "name"); err == nil {
		pc.name = name
	}

	if args, err := parseWireArgArray(data, "args"); err != nil {
		return nil, err
	} else {
		pc.args = args
	}
	if kwargs, err := parseWireArgArray(data, "kwargs"); err != nil {
		return nil, err
	} else {
		pc.kwargs = kwargs
	}

	_, _ = jsp.ArrayEach(data, func(value []byte, _ jsp.ValueType, _ int, _ error) {
		pc.kwargKeys = append(pc.kwargKeys, string(value))
	}, "kwarg_keys")

	return pc, nil
}

func parseWireArgArray(data []byte, key string) ([]wireArg, error) {
	var out []wireArg
	var perr error
	_, err := jsp.ArrayEach(data, func(value []byte, _ jsp.ValueType, _ int, _ error) {
		if perr != nil {
			return
		}
		kind, _ := jsp.GetString(value, "kind")
		codec, _ := jsp.GetString(value, "codec")
		wa := wireArg{Kind: kind, Codec: codec}
		switch kind {
		case "value":
			gobB64, err := jsp.GetString(value, "gob")
			if err != nil {
				perr = fmt.Errorf("coopipc: control blob value arg missing gob payload: %w", err)
				return
			}
			wa.GobB64 = gobB64
		case "read", "write", "duplex":
			fd, err := jsp.GetInt(value, "fd")
			if err != nil {
				perr = fmt.Errorf("coopipc: control blob endpoint arg missing fd: %w", err)
				return
			}
			wa.FDStart = int(fd)
		default:
			perr = fmt.Errorf("%w: unknown control blob arg kind %q", ErrMisuse, kind)
			return
		}
		out = append(out, wa)
	}, key)
	if err != nil && len(out) == 0 {
		// key absent or not an array: treat as empty, not an error — both
		// Args and Kwargs may legitimately be omitted.
		return nil, nil
	}
	return out, perr
}

// rehydrateArgs turns wire args back into Go values, reconstructing
// transferred endpoints from the given ExtraFiles slice (already offset
// past the control pipe's own read end and indexed from 0).
func rehydrateArgs(was []wireArg, files []*os.File) ([]any, error) {
	out := make([]any, len(was))
	for i, wa := range was {
		v, err := rehydrateOne(wa, files)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func rehydrateOne(wa wireArg, files []*os.File) (any, error) {
	switch wa.Kind {
	case "value":
		raw, err := base64.StdEncoding.DecodeString(wa.GobB64)
		if err != nil {
			return nil, fmt.Errorf("coopipc: decoding argument from parent: %w", err)
		}
		return defaultDecode(raw)
	case "read":
		codec, ok := lookupCodec(wa.Codec)
		if !ok {
			return nil, fmt.Errorf("%w: child has no codec registered under %q", ErrMisuse, wa.Codec)
		}
		return rehydrateRead(files[wa.FDStart], codec), nil
	case "write":
		codec, ok := lookupCodec(wa.Codec)
		if !ok {
			return nil, fmt.Errorf("%w: child has no codec registered under %q", ErrMisuse, wa.Codec)
		}
		return rehydrateWrite(files[wa.FDStart], codec), nil
	case "duplex":
		codec, ok := lookupCodec(wa.Codec)
		if !ok {
			return nil, fmt.Errorf("%w: child has no codec registered under %q", ErrMisuse, wa.Codec)
		}
		r := rehydrateRead(files[wa.FDStart], codec)
		w := rehydrateWrite(files[wa.FDStart+1], codec)
		return newDuplexEndpoint(r, w), nil
	default:
		return nil, fmt.Errorf("%w: unknown wire arg kind %q", ErrMisuse, wa.Kind)
	}
}

func rehydrateRead(f *os.File, codec *codecPair) *ReadEndpoint   { return newReadEndpoint(f, codec) }
func rehydrateWrite(f *os.File, codec *codecPair) *WriteEndpoint { return newWriteEndpoint(f, codec) }
