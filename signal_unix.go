//go:build !windows

package coopipc

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// resetSignalDispositions calls signal.Reset for the fixed list in
// resettableSignals, which undoes any signal.Notify registration made in
// this process for those signals. Signals outside that list are not
// touched, and a disposition inherited across exec (such as an ignored
// signal) is not changed by it. SIGKILL and SIGSTOP cannot be caught or
// reset and are not in the list; SIGPIPE is
// left to Go's runtime default (which already turns it into an EPIPE
// return rather than terminating the process) since re-arming it here would
// fight the runtime's own signal handler installed before main() even
// begins.
func resetSignalDispositions() {
	for _, sig := range resettableSignals {
		signalIgnoreThenDefault(sig)
	}
}

var resettableSignals = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGQUIT,
	syscall.SIGTERM,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGALRM,
	syscall.SIGCHLD,
}

func signalIgnoreThenDefault(sig os.Signal) {
	signal.Reset(sig)
}

func platformTerminate(proc *os.Process) error {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	return nil
}

// setpgid puts the child in its own process group so a Ctrl-C delivered to
// the parent's foreground group doesn't also race the child's own signal
// reset (§4.7 step 2), the same isolation exec.Cmd.SysProcAttr is used for
// throughout aghassemi-go.ref/lib/exec.
func setPlatformProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
