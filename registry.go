package coopipc

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// registrable is what the handle registry needs to know about a live
// endpoint: its identity, nothing more. ReadEndpoint, WriteEndpoint and
// DuplexEndpoint all implement it.
type registrable interface {
	ID() string
}

// registry is the process-wide set of live endpoints, mirroring
// pipe.Pipe.KV in the teacher but keyed by endpoint identity rather than
// caller-chosen string keys. Touched only at endpoint construction, close,
// and during child bootstrap — never on the hot I/O path, so a concurrent
// map is more than the contention profile needs, but it's the same
// structure the teacher already reaches for (pipe.Pipe.KV) and keeps the
// registry safe if a future caller registers endpoints off the goroutine
// that created the pipe.
type registry struct {
	live *xsync.MapOf[string, registrable]
}

func newRegistry() *registry {
	return &registry{live: xsync.NewMapOf[registrable]()}
}

func (r *registry) insert(ep registrable) {
	r.live.Store(ep.ID(), ep)
}

func (r *registry) remove(id string) {
	r.live.Delete(id)
}

// snapshot returns every currently registered endpoint, in no particular
// order. The child bootstrap does not call it; it uses replace instead.
func (r *registry) snapshot() []registrable {
	out := make([]registrable, 0, r.live.Size())
	r.live.Range(func(_ string, v registrable) bool {
		out = append(out, v)
		return true
	})
	return out
}

// replace clears the registry and installs exactly the given endpoints.
// In the spawn-everywhere model (SPEC_FULL.md §0) nothing is ever
// inherited, so every child bootstrap calls replace with the endpoints
// that arrived over the control handshake — this is the Windows branch of
// §4.2 applied universally.
func (r *registry) replace(eps []registrable) {
	r.live.Clear()
	for _, ep := range eps {
		r.live.Store(ep.ID(), ep)
	}
}

// globalRegistry is the single process-wide registry: a process singleton
// initialized at package load and re-initialized by the child bootstrap
// (Design Notes §9).
var globalRegistry = newRegistry()
