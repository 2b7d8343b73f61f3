package coopipc

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// StartOption configures a child process at spawn time (§6 of spec.md:
// name?/daemon? on the start-process call), mirroring the teacher's
// Options/DefaultOptions builder style (pipe.Options, mrt.ReaderOptions)
// rather than a long positional parameter list.
type StartOption func(*startConfig) error

type startConfig struct {
	name        string
	daemon      bool
	joinTimeout time.Duration // 0 means no default timeout on Join
	logger      *zeroLogger
}

// defaultStartConfig mirrors the teacher's package-level DefaultOptions
// values: empty name, non-daemon, no join timeout, no logging.
func defaultStartConfig() *startConfig {
	return &startConfig{}
}

// WithName assigns a human-readable process name, surfaced by Process.Name().
func WithName(name string) StartOption {
	return func(c *startConfig) error {
		c.name = name
		return nil
	}
}

// WithDaemon marks the child as a daemon process (§3, Supplemented
// features): a daemon child is not waited for by any implicit "join all
// children" cleanup the caller performs, matching
// multiprocessing.Process.daemon semantics ported from gipc.
func WithDaemon(daemon bool) StartOption {
	return func(c *startConfig) error {
		c.daemon = daemon
		return nil
	}
}

// WithJoinTimeout sets a default timeout applied by Join when the caller
// does not pass one explicitly. Accepts anything github.com/spf13/cast can
// coerce to a time.Duration, following the same flexible-input convention
// as ReadEndpoint.Get's timeout parameter.
func WithJoinTimeout(v any) StartOption {
	return func(c *startConfig) error {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return fmt.Errorf("%w: invalid join timeout: %v", ErrMisuse, err)
		}
		c.joinTimeout = d
		return nil
	}
}

// WithLogger attaches a logger a Process uses for its lifecycle events
// (started, exited, repeated Start, failure to close a transferred
// endpoint). Unset defaults to a no-op logger, the same
// zerolog.Nop() fallback the teacher's Options types use.
func WithLogger(l *zeroLogger) StartOption {
	return func(c *startConfig) error {
		c.logger = l
		return nil
	}
}

func applyStartOptions(opts []StartOption) (*startConfig, error) {
	cfg := defaultStartConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
