package coopipc

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns a best-effort identifier for the calling goroutine,
// used only by the lockOwner re-entrancy guard (endpoint.go) — never for
// correctness-critical scheduling decisions. Go deliberately has no public
// API for this; parsing it out of a runtime.Stack dump is the same
// last-resort trick a number of debugging/logging libraries use. Returns 0
// on any parse failure, which simply disables the re-entrancy check for
// that call rather than producing a wrong answer.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:\n..."
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
