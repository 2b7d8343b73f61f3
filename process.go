package coopipc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// The spawn-everywhere model (SPEC_FULL.md §0) means every child, on every
// platform, is this same binary re-executed with a marker environment
// variable and a control pipe as its first extra file descriptor — the
// uniform generalization of the exec.Cmd/ExtraFiles handshake
// aghassemi-go.ref/lib/exec/parent.go builds for its own parent/child
// protocol, minus that package's secret/auth handshake (not needed here:
// the control pipe itself is the unforgeable channel, inherited only by the
// one child it was created for).

const childMarkerEnvKey = "COOPIPC_CHILD"

// TargetFunc is a function a child process can run. It must be registered
// under a stable name with Register before any call to Start can name it —
// a child re-execs this same binary and looks the name up fresh, so a
// closure captured only in the parent's memory is unreachable to it.
type TargetFunc func(args []any, kwargs map[string]any) int

var targetRegistry = xsync.NewMapOf[TargetFunc]()

// Register makes fn callable as a child's target by name (§4.6 step 1: the
// parent tells the child what to run by name, not by transferring code).
// Call it from an init() that runs in every binary that might be spawned as
// a child for this target — normally that just means "the package's own
// init()", since the child is always this same executable.
func Register(name string, fn TargetFunc) {
	targetRegistry.Store(name, fn)
}

func lookupTarget(name string) (TargetFunc, bool) {
	return targetRegistry.Load(name)
}

// processState is the Created -> Started -> Exited state machine (§6).
type processState int32

const (
	stateCreated processState = iota
	stateStarted
	stateExited
)

// Process is a handle to a spawned child (§6, the process primitive).
// Zero value is not usable; construct with NewProcess or the package-level
// Start.
type Process struct {
	cfg    *startConfig
	target string
	args   []any
	kwargs map[string]any

	state     atomic.Int32
	cmd       *exec.Cmd
	pid       int
	parentPID int // stamped at construction; Join rejects callers from any other process (§3, Child process value)
	exited    chan struct{}
	exitOnce  sync.Once
	exitCode  int
	waitErr   error

	controlW *os.File // parent's end; closed after the handshake is written
	transferredFiles []*os.File
}

var liveChildren = xsync.NewMapOf[*Process]()

// NewProcess builds a Process bound to a registered target, without
// starting it. Most callers want the package-level Start instead.
func NewProcess(targetName string, args []any, kwargs map[string]any, opts ...StartOption) (*Process, error) {
	if _, ok := lookupTarget(targetName); !ok {
		return nil, fmt.Errorf("%w: target %q was never registered with Register", ErrMisuse, targetName)
	}
	cfg, err := applyStartOptions(opts)
	if err != nil {
		return nil, err
	}
	p := &Process{
		cfg:       cfg,
		target:    targetName,
		args:      args,
		kwargs:    kwargs,
		parentPID: os.Getpid(),
		exited:    make(chan struct{}),
	}
	p.state.Store(int32(stateCreated))
	return p, nil
}

// Start spawns the child process: a re-exec of the current binary carrying
// a control pipe (ExtraFiles[0]) and any transferred endpoint files after
// it (§4.6/§4.7). Calling Start more than once on the same Process is a
// no-op: the second and subsequent calls log a warning and return nil,
// mirroring gipc's tolerance of a repeated start_process-equivalent call
// rather than panicking.
func (p *Process) Start() error {
	if !p.state.CompareAndSwap(int32(stateCreated), int32(stateStarted)) {
		p.logger().Warn().Str("target", p.target).Msg("Start called more than once; ignoring")
		return nil
	}

	blob, transferFiles, transferEndpoints, err := buildControl(p.target, p.cfg.daemon, p.cfg.name, p.args, p.kwargs)
	if err != nil {
		p.state.Store(int32(stateCreated)) // allow a retry after a build error
		return err
	}

	controlR, controlW, err := os.Pipe()
	if err != nil {
		p.state.Store(int32(stateCreated))
		return fmt.Errorf("%w: control pipe: %v", ErrIO, err)
	}

	exe, err := os.Executable()
	if err != nil {
		controlR.Close()
		controlW.Close()
		// transferFiles are the transferred endpoints' own live fds, not
		// dups made for this attempt — the spawn never happened, so the
		// caller still owns them and they must NOT be closed here.
		p.state.Store(int32(stateCreated))
		return fmt.Errorf("%w: resolving re-exec path: %v", ErrIO, err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), childMarkerEnvKey+"=1")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = append([]*os.File{controlR}, transferFiles...)
	setPlatformProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		controlR.Close()
		controlW.Close()
		p.state.Store(int32(stateCreated))
		return fmt.Errorf("%w: spawning child: %v", ErrIO, err)
	}

	// The child now has its own dup'd copies of these fds (exec.Cmd dups
	// ExtraFiles into the child during Start). The parent's control-pipe
	// read end is no longer needed; the transferred endpoints themselves
	// must be closed through their own Close() so the registry and closed
	// flag stay consistent (§4.6 step 7: "parent loses access").
	controlR.Close()
	for _, ep := range transferEndpoints {
		if closer, ok := ep.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && err != ErrAlreadyClosed {
				p.logger().Warn().Err(err).Msg("closing transferred endpoint in parent")
			}
		}
	}

	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.controlW = controlW

	if err := writeFrame(controlW, blob); err != nil {
		controlW.Close()
		return fmt.Errorf("coopipc: writing control handshake: %w", err)
	}
	controlW.Close()

	liveChildren.Store(fmt.Sprintf("%d", p.pid), p)
	p.logger().Info().Int("pid", p.pid).Str("target", p.target).Bool("daemon", p.cfg.daemon).Msg("child started")

	go p.waitLoop()
	return nil
}

// waitLoop runs (*exec.Cmd).Wait on its own goroutine and signals exited,
// the direct analogue of libev's SIGCHLD watcher / a dedicated reaper
// greenlet (SPEC_FULL.md §0).
func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	p.exitOnce.Do(func() {
		p.waitErr = err
		if state := p.cmd.ProcessState; state != nil {
			p.exitCode = state.ExitCode()
		} else {
			p.exitCode = -1
		}
		liveChildren.Delete(fmt.Sprintf("%d", p.pid))
		p.state.Store(int32(stateExited))
		close(p.exited)
	})
	p.logger().Info().Int("pid", p.pid).Int("exit_code", p.exitCode).Msg("child exited")
}

// IsAlive reports whether the child has not yet exited.
func (p *Process) IsAlive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return processState(p.state.Load()) == stateStarted
	}
}

// ExitCode returns the child's exit code and true once it has exited, or
// (0, false) before that.
func (p *Process) ExitCode() (int, bool) {
	select {
	case <-p.exited:
		return p.exitCode, true
	default:
		return 0, false
	}
}

func (p *Process) Pid() int      { return p.pid }
func (p *Process) Name() string  { return p.cfg.name }
func (p *Process) Daemon() bool  { return p.cfg.daemon }

// SetDaemon changes the daemon flag; only legal before Start (§3, matching
// multiprocessing.Process.daemon's "settable only before start()" rule).
func (p *Process) SetDaemon(daemon bool) error {
	if processState(p.state.Load()) != stateCreated {
		return fmt.Errorf("%w: daemon flag can only be set before Start", ErrMisuse)
	}
	p.cfg.daemon = daemon
	return nil
}

// Join blocks until the child exits, ctx is done, or (if set, and ctx has
// no deadline of its own) the process's WithJoinTimeout default elapses.
// It waits on the exited channel — the wait goroutine already does the
// blocking syscall. Once ctx is done, Join hands over to
// pollUntilDoneOrCancel, which checks exited one last time and, with ctx
// already done, returns right away: the child's wait error if it has
// exited, otherwise an ErrIO-wrapped cancellation error.
func (p *Process) Join(ctx context.Context) error {
	if pid := os.Getpid(); pid != p.parentPID {
		return fmt.Errorf("%w: Process joined from pid %d, owned by pid %d", ErrMisuse, pid, p.parentPID)
	}
	if processState(p.state.Load()) == stateCreated {
		return fmt.Errorf("%w: Join called before Start", ErrMisuse)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.cfg.joinTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.joinTimeout)
		defer cancel()
	}

	select {
	case <-p.exited:
		return p.waitErr
	case <-ctx.Done():
		return p.pollUntilDoneOrCancel(ctx)
	}
}

// pollUntilDoneOrCancel paces IsAlive checks at ~100Hz using
// golang.org/x/time/rate, the Go analogue of the ~100Hz polling spec.md §6
// describes for platforms without a native child-exit notification.
func (p *Process) pollUntilDoneOrCancel(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(10*time.Millisecond), 1)
	for {
		select {
		case <-p.exited:
			return p.waitErr
		default:
		}
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: join canceled before child exited: %v", ErrIO, ctx.Err())
		}
	}
}

// Terminate asks the child to exit: SIGTERM on unix (signal_unix.go wires
// the actual send), Kill (TerminateProcess) on windows. It does not wait
// for the exit; call Join afterward for that.
func (p *Process) Terminate() error {
	if !p.IsAlive() {
		return nil
	}
	return platformTerminate(p.cmd.Process)
}

// Kill forcibly kills the child (SIGKILL/TerminateProcess); unlike
// Terminate this is not a polite request the child can catch.
func (p *Process) Kill() error {
	if !p.IsAlive() {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *Process) logger() *zeroLogger {
	if p.cfg.logger != nil {
		return p.cfg.logger
	}
	l := nopLogger()
	return &l
}

// Start is the package-level convenience wrapper most callers use: build a
// Process and start it in one call (§6).
func Start(targetName string, args []any, kwargs map[string]any, opts ...StartOption) (*Process, error) {
	p, err := NewProcess(targetName, args, kwargs, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

// LiveChildren returns every Process currently tracked as started and not
// yet exited in this process, mirroring multiprocessing.active_children().
func LiveChildren() []*Process {
	out := make([]*Process, 0, liveChildren.Size())
	liveChildren.Range(func(_ string, p *Process) bool {
		if p.IsAlive() {
			out = append(out, p)
		}
		return true
	})
	return out
}
