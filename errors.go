// Package coopipc provides cooperative inter-process communication for
// goroutine-based programs: a child-process primitive whose lifecycle is
// driven by channels instead of blocking syscalls, and a message-oriented
// pipe that frames arbitrary encoded values on top of an OS pipe.
package coopipc

import "errors"

// Error kinds, per the on-wire/lifecycle error taxonomy. All are sentinel
// values; wrap with %w and compare with errors.Is.
var (
	// ErrAlreadyClosed is returned by any operation on an endpoint whose
	// closed flag is already set, including a second Close.
	ErrAlreadyClosed = errors.New("coopipc: endpoint already closed")

	// ErrLocked is returned by Close when the endpoint's lock is held by
	// another goroutine at the moment of the non-blocking close attempt.
	ErrLocked = errors.New("coopipc: endpoint locked by another caller")

	// ErrMisuse covers owner-process violations, bad arguments, bad codec
	// specs, and leaving a scope with a still-locked endpoint.
	ErrMisuse = errors.New("coopipc: misuse")

	// ErrEOF is surfaced by Get when the peer closed its write end
	// cleanly between frames (zero bytes read at a frame boundary).
	ErrEOF = errors.New("coopipc: eof")

	// ErrIO is surfaced by Get/Put when a read or write syscall fails, or
	// when EOF is observed in the middle of a frame (truncation).
	ErrIO = errors.New("coopipc: io error")
)
