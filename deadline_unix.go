//go:build !windows

package coopipc

import (
	"os"
	"time"
)

// platformSetReadDeadline applies a read deadline to f. On POSIX, os.Pipe
// file descriptors are registered with the Go runtime's integrated poller,
// so SetReadDeadline is exactly the "park on a readability event, then
// cancel the timeout" mechanism spec.md §4.3/§5 describes for Get.
func platformSetReadDeadline(f *os.File, deadline time.Time) error {
	return f.SetReadDeadline(deadline)
}
