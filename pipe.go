package coopipc

import (
	"fmt"
	"os"
)

// PipeOption configures a pipe at creation time; the resulting codec is
// fixed for the lifetime of the pipe and shared symmetrically by both ends
// (§3, Codec pair; §4.4).
type PipeOption func(*pipeConfig) error

type pipeConfig struct {
	codec *codecPair
}

func newPipeConfig() *pipeConfig {
	return &pipeConfig{codec: newDefaultCodec()}
}

// WithRawCodec selects the identity codec: only []byte/string may be put,
// and get returns a []byte copy unchanged.
func WithRawCodec() PipeOption {
	return func(c *pipeConfig) error {
		c.codec = newRawCodec()
		return nil
	}
}

// WithCodec installs a caller-supplied encoder/decoder pair for use within
// this process only. An endpoint built with WithCodec cannot be passed to
// Start — the closure can't follow the child across the process boundary
// (see codec.go). Use WithNamedCodec for an endpoint you intend to
// transfer.
func WithCodec(enc Encoder, dec Decoder) PipeOption {
	return func(c *pipeConfig) error {
		pair, err := newCustomCodec(enc, dec)
		if err != nil {
			return err
		}
		c.codec = pair
		return nil
	}
}

// WithNamedCodec selects a codec previously installed with RegisterCodec.
// Endpoints built this way can be transferred to a child process: the
// child resolves the same name from its own codecRegistry instead of
// trying to carry the closure across the process boundary.
func WithNamedCodec(name string) PipeOption {
	return func(c *pipeConfig) error {
		pair, ok := lookupCodec(name)
		if !ok {
			return fmt.Errorf("%w: codec %q was never registered with RegisterCodec", ErrMisuse, name)
		}
		c.codec = pair
		return nil
	}
}

func applyOptions(opts []PipeOption) (*pipeConfig, error) {
	cfg := newPipeConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Pipe creates one OS pipe and returns its two simplex endpoints: a
// ReadEndpoint and a WriteEndpoint (§4.5, C5). By default it uses the
// default (gob-based) codec; pass WithRawCodec or WithCodec to change that.
func Pipe(opts ...PipeOption) (*ReadEndpoint, *WriteEndpoint, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	return newReadEndpoint(r, cfg.codec), newWriteEndpoint(w, cfg.codec), nil
}

// DuplexPipe creates two OS pipes and returns two DuplexEndpoint values:
// endpoint A exposes (pipe1.reader, pipe2.writer), endpoint B exposes
// (pipe2.reader, pipe1.writer) — a full-duplex channel where either side
// can Put and Get (§4.5).
func DuplexPipe(opts ...PipeOption) (*DuplexEndpoint, *DuplexEndpoint, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, nil, err
	}

	r1, w1, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	r2, w2, err := os.Pipe()
	if err != nil {
		r1.Close()
		w1.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	aRead := newReadEndpoint(r1, cfg.codec)
	aWrite := newWriteEndpoint(w2, cfg.codec)
	bRead := newReadEndpoint(r2, cfg.codec)
	bWrite := newWriteEndpoint(w1, cfg.codec)

	a := newDuplexEndpoint(aRead, aWrite)
	b := newDuplexEndpoint(bRead, bWrite)
	return a, b, nil
}

// ReleasePair closes a pipe pair the way a scoped acquisition exits it
// (§4.5): closes the second element first, then the first, capturing and
// rethrowing so both halves are always attempted even if the first close
// errors.
func ReleasePair(first, second interface{ Release() error }) error {
	secondErr := second.Release()
	firstErr := first.Release()
	if secondErr != nil {
		return secondErr
	}
	return firstErr
}
