package coopipc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"
)

// newID returns a short random opaque identity string, debug-only, never
// parsed by anything (§3, Endpoint attributes).
func newID() string {
	var b [4]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// lockOwner is the per-endpoint mutual-exclusion lock (I4/I5), plus a
// best-effort re-entrancy guard: gipc's single-thread-per-process
// assumption makes a task re-entering Get/Put on a handle it already holds
// impossible; goroutines don't get that for free, so a goroutine that
// tries to recurse into Get/Put while already holding this endpoint's lock
// is refused with ErrMisuse instead of deadlocking (supplemented feature,
// see SPEC_FULL.md §3). The holder check has a narrow benign race with a
// concurrent unlock/lock by another goroutine; that only means a recursive
// call occasionally blocks instead of being rejected immediately, never
// the reverse.
type lockOwner struct {
	mu     sync.Mutex
	holder atomic.Uint64
}

func (l *lockOwner) lock() error {
	gid := goroutineID()
	if gid != 0 && l.holder.Load() == gid {
		return fmt.Errorf("%w: recursive put/get on the same endpoint from the same goroutine", ErrMisuse)
	}
	l.mu.Lock()
	l.holder.Store(gid)
	return nil
}

func (l *lockOwner) unlock() {
	l.holder.Store(0)
	l.mu.Unlock()
}

func (l *lockOwner) tryLock() bool {
	return l.mu.TryLock()
}

// base carries everything common to every endpoint variant: identity,
// owner-pid stamp, the per-endpoint lock, and the closed flag (I1–I5).
type base struct {
	id       string
	ownerPID int
	lk       lockOwner
	closed   bool
	mu       sync.Mutex // guards closed + file swap, distinct from lk (the framing lock)
	file     *os.File
}

func newBase(f *os.File) base {
	return base{id: newID(), ownerPID: os.Getpid(), file: f}
}

func (b *base) ID() string { return b.id }

func (b *base) checkOwner() error {
	if pid := os.Getpid(); pid != b.ownerPID {
		return fmt.Errorf("%w: endpoint owned by pid %d, used from pid %d", ErrMisuse, b.ownerPID, pid)
	}
	return nil
}

func (b *base) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// closeSelf performs §4.3's Close steps: the not-closed, owner-pid and
// non-blocking lock checks, then the close itself. It takes b.mu on its own.
func (b *base) closeSelf() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrAlreadyClosed
	}
	if err := b.checkOwner(); err != nil {
		b.mu.Unlock()
		return err
	}
	if !b.lk.tryLock() {
		b.mu.Unlock()
		return ErrLocked
	}
	f := b.file
	var err error
	if f != nil {
		err = f.Close()
	}
	b.file = nil
	b.closed = true
	globalRegistry.remove(b.id)
	b.lk.unlock()
	b.mu.Unlock()
	return err
}

// releaseErr implements the scoped-acquisition exit semantics (§3, Lifecycle):
// swallow ErrAlreadyClosed (closing inside the scope is legitimate), but
// rethrow ErrLocked as ErrMisuse (a scope must not leave a locked endpoint
// behind).
func releaseErr(closeErr error) error {
	switch {
	case closeErr == nil:
		return nil
	case closeErr == ErrAlreadyClosed:
		return nil
	case closeErr == ErrLocked:
		return fmt.Errorf("%w: endpoint still locked at scope exit", ErrMisuse)
	default:
		return closeErr
	}
}

// ReadEndpoint is the readable half of a pipe: Get() only.
type ReadEndpoint struct {
	base
	codec *codecPair
}

// WriteEndpoint is the writable half of a pipe: Put() only.
type WriteEndpoint struct {
	base
	codec *codecPair
}

func newReadEndpoint(f *os.File, c *codecPair) *ReadEndpoint {
	ep := &ReadEndpoint{base: newBase(f), codec: c}
	globalRegistry.insert(ep)
	return ep
}

func newWriteEndpoint(f *os.File, c *codecPair) *WriteEndpoint {
	ep := &WriteEndpoint{base: newBase(f), codec: c}
	globalRegistry.insert(ep)
	return ep
}

// Close closes the endpoint per §4.3: already-closed/misuse/locked checks,
// then fd close, registry removal, and flag set, all before the lock is
// released. Idempotence is deliberately not provided.
func (e *ReadEndpoint) Close() error  { return e.closeSelf() }
func (e *WriteEndpoint) Close() error { return e.closeSelf() }

// Release is the scoped-acquisition exit path: defer ep.Release() instead
// of defer ep.Close() when you want already-closed swallowed and a
// still-locked endpoint to surface as ErrMisuse instead of ErrLocked.
func (e *ReadEndpoint) Release() error  { return releaseErr(e.Close()) }
func (e *WriteEndpoint) Release() error { return releaseErr(e.Close()) }

// Put encodes v and writes it as one length-prefixed frame (§4.3, put).
// The endpoint's lock is held for the entire frame so concurrent Put calls
// from different goroutines never interleave a prefix with another's
// payload (I4).
func (e *WriteEndpoint) Put(v any) error {
	if e.isClosed() {
		return ErrAlreadyClosed
	}
	if err := e.checkOwner(); err != nil {
		return err
	}
	if err := e.lk.lock(); err != nil {
		return err
	}
	defer e.lk.unlock()

	if e.isClosed() {
		return ErrAlreadyClosed
	}

	payload, err := e.codec.Encode(v)
	if err != nil {
		return err // codec errors propagate unchanged, §4.4
	}

	return writeFrame(e.base.file, payload)
}

// Get reads one complete frame and decodes it (§4.3, get). An optional
// timeout — accepted as time.Duration, a duration string such as "1s", or
// any other value github.com/spf13/cast can coerce to a Duration (cast reads
// a plain int/float, and a string without a unit, as nanoseconds) — bounds only
// the wait for the first byte of a new frame; once that arrives, the read
// runs to completion regardless of the timeout (§5, Cancellation).
func (e *ReadEndpoint) Get(timeout ...any) (any, error) {
	if e.isClosed() {
		return nil, ErrAlreadyClosed
	}
	if err := e.checkOwner(); err != nil {
		return nil, err
	}

	var deadline time.Duration
	var hasDeadline bool
	if len(timeout) > 0 && timeout[0] != nil {
		d, err := cast.ToDurationE(timeout[0])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid Get timeout: %v", ErrMisuse, err)
		}
		deadline = d
		hasDeadline = true
	}

	if err := e.lk.lock(); err != nil {
		return nil, err
	}
	defer e.lk.unlock()

	if e.isClosed() {
		return nil, ErrAlreadyClosed
	}

	f := e.base.file
	if hasDeadline {
		if err := platformSetReadDeadline(f, time.Now().Add(deadline)); err != nil {
			return nil, err
		}
	} else {
		// A prior Get on this endpoint may have timed out before reading
		// the first byte of a frame, leaving an expired deadline latched
		// on the file; clear it unconditionally so this call isn't
		// spuriously timed out by a deadline from a call that already
		// returned. Harmless no-op on platforms without a live deadline.
		f.SetReadDeadline(time.Time{})
	}

	payload, err := readFrame(f, hasDeadline)
	if err != nil {
		return nil, err
	}
	return e.codec.Decode(payload)
}

// DuplexEndpoint composes one ReadEndpoint and one WriteEndpoint sourced
// from two distinct underlying pipes (Design Notes §9: containment, no
// cycle). Put/Get delegate to the write/read halves.
type DuplexEndpoint struct {
	r *ReadEndpoint
	w *WriteEndpoint
}

func newDuplexEndpoint(r *ReadEndpoint, w *WriteEndpoint) *DuplexEndpoint {
	return &DuplexEndpoint{r: r, w: w}
}

// ID satisfies registrable; a duplex endpoint registers both halves
// individually (they were already inserted by newReadEndpoint/
// newWriteEndpoint), so its own ID is a derived debug label only.
func (d *DuplexEndpoint) ID() string { return d.r.id + "+" + d.w.id }

func (d *DuplexEndpoint) Put(v any) error          { return d.w.Put(v) }
func (d *DuplexEndpoint) Get(timeout ...any) (any, error) { return d.r.Get(timeout...) }

// Close closes the write half first, then the read half, to avoid a
// Windows-specific deadlock where closing the read side blocks until the
// write side is drained (§4.3). If one half is already closed, close the
// remaining half; if both are, surface ErrAlreadyClosed.
func (d *DuplexEndpoint) Close() error {
	wErr := d.w.Close()
	rErr := d.r.Close()

	if wErr == nil {
		if rErr == ErrAlreadyClosed {
			return nil
		}
		return rErr
	}
	if wErr == ErrAlreadyClosed && rErr == ErrAlreadyClosed {
		return ErrAlreadyClosed
	}
	if wErr == ErrAlreadyClosed {
		return rErr
	}
	return wErr
}

func (d *DuplexEndpoint) Release() error { return releaseErr(d.Close()) }

// transferKind distinguishes the three endpoint variants for the process
// primitive's arg/kwarg scan (§4.6 step 2).
type transferKind int

const (
	transferNone transferKind = iota
	transferRead
	transferWrite
	transferDuplex
)

// transferable is implemented by every endpoint variant so Start can find
// and transfer them without a type switch per caller.
type transferable interface {
	registrable
	transferKindOf() transferKind
	transferCodec() *codecPair
	transferFiles() []*os.File // 1 file for read/write, [read, write] for duplex
}

func (e *ReadEndpoint) transferKindOf() transferKind  { return transferRead }
func (e *WriteEndpoint) transferKindOf() transferKind { return transferWrite }
func (d *DuplexEndpoint) transferKindOf() transferKind { return transferDuplex }

func (e *ReadEndpoint) transferCodec() *codecPair  { return e.codec }
func (e *WriteEndpoint) transferCodec() *codecPair { return e.codec }
func (d *DuplexEndpoint) transferCodec() *codecPair { return d.r.codec }

func (e *ReadEndpoint) transferFiles() []*os.File  { return []*os.File{e.base.file} }
func (e *WriteEndpoint) transferFiles() []*os.File { return []*os.File{e.base.file} }
func (d *DuplexEndpoint) transferFiles() []*os.File {
	return []*os.File{d.r.base.file, d.w.base.file}
}
