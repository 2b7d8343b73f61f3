//go:build windows

package coopipc

import (
	"os"
	"os/exec"
)

// resetSignalDispositions is a no-op on Windows: there is no POSIX signal
// disposition table to reset, and CreateProcess already starts every child
// with default handling (§4.6).
func resetSignalDispositions() {}

func platformTerminate(proc *os.Process) error {
	// Windows anonymous pipes/processes have no SIGTERM equivalent; the
	// closest polite option the platform offers is still a hard kill.
	return proc.Kill()
}

func setPlatformProcAttr(cmd *exec.Cmd) {
	// CREATE_NEW_PROCESS_GROUP would be set here via SysProcAttr if this
	// package needed to send a console-control event to the child group;
	// nothing in this spec needs that yet.
}
