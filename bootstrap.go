package coopipc

import (
	"fmt"
	"os"
)

// IsChild reports whether the current process was spawned by Start/
// NewProcess.Start rather than being the original top-level process. A
// program's main() should check this before doing any of its normal
// top-level work: if true, it must call Main and never return to its own
// logic (§4.7: "the child runs only the target, nothing else").
func IsChild() bool {
	return os.Getenv(childMarkerEnvKey) == "1"
}

// Main is the C7 child bootstrap entrypoint. Every binary that can be
// spawned as a coopipc child must call this as close to the top of main()
// as possible, guarded by IsChild():
//
//	func main() {
//	    if coopipc.IsChild() {
//	        os.Exit(coopipc.Main())
//	    }
//	    ... normal top-level logic ...
//	}
//
// Main performs, in order: read the control handshake from ExtraFiles[0],
// reset signal dispositions (§4.7 step 2, see signal_unix.go), look up the
// named target, rehydrate the transferred endpoints and replace the
// process-wide registry with exactly them (§4.7 step 3 — nothing is
// inherited in the spawn-everywhere model, so "discard everything not
// explicitly handed over" reduces to "start from an empty registry and
// populate only what the control blob names"), invoke the target, close the
// transferred endpoints, and return the target's exit code. A target
// that panics is not recovered here: a crashing child should crash
// visibly, exactly as an uncaught exception propagates out of a gipc
// child's target function.
func Main() int {
	controlFile := os.NewFile(3, "coopipc-control") // fd 3 == ExtraFiles[0]
	if controlFile == nil {
		fmt.Fprintln(os.Stderr, "coopipc: child has no control file descriptor")
		return 1
	}

	blob, err := readFrame(controlFile, false)
	controlFile.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coopipc: reading control handshake: %v\n", err)
		return 1
	}

	pc, err := parseControl(blob)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coopipc: parsing control handshake: %v\n", err)
		return 1
	}

	resetSignalDispositions()

	target, ok := lookupTarget(pc.target)
	if !ok {
		fmt.Fprintf(os.Stderr, "coopipc: child target %q was never registered with Register in this binary\n", pc.target)
		return 1
	}

	// ExtraFiles[0] is the control pipe (fd 3); every transferred
	// endpoint file starts at fd 4. The control blob itself records how
	// many slots are needed (duplex endpoints consume two, at FDStart and
	// FDStart+1), so exactly that many are opened — no guessing window.
	extraFiles := collectExtraFiles(neededTransferSlots(pc))

	args, err := rehydrateArgs(pc.args, extraFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coopipc: rehydrating args: %v\n", err)
		return 1
	}
	kwargs := make(map[string]any, len(pc.kwargKeys))
	kwargVals, err := rehydrateArgs(pc.kwargs, extraFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coopipc: rehydrating kwargs: %v\n", err)
		return 1
	}
	for i, k := range pc.kwargKeys {
		if i < len(kwargVals) {
			kwargs[k] = kwargVals[i]
		}
	}

	registerRehydratedEndpoints(args, kwargs)

	exitCode := target(args, kwargs)

	closeTransferredEndpoints(args, kwargs)

	return exitCode
}

// neededTransferSlots returns how many endpoint-file slots the control
// blob references, one past the highest FDStart (+1 more for a duplex
// endpoint's second file).
func neededTransferSlots(pc *parsedControl) int {
	max := 0
	scan := func(was []wireArg) {
		for _, wa := range was {
			end := wa.FDStart + 1
			if wa.Kind == "duplex" {
				end++
			}
			if end > max {
				max = end
			}
		}
	}
	scan(pc.args)
	scan(pc.kwargs)
	return max
}

// collectExtraFiles wraps the n endpoint-transfer fds following the
// control pipe. Go's os/exec guarantees ExtraFiles[i] lands at fd 3+i in
// the child, so index 0 (the control pipe) is fd 3 and endpoint files
// start at fd 4.
func collectExtraFiles(n int) []*os.File {
	files := make([]*os.File, n)
	for i := 0; i < n; i++ {
		files[i] = os.NewFile(uintptr(4+i), fmt.Sprintf("coopipc-xfer-%d", i))
	}
	return files
}

func registerRehydratedEndpoints(args []any, kwargs map[string]any) {
	var eps []registrable
	collect := func(v any) {
		if d, ok := v.(*DuplexEndpoint); ok {
			eps = append(eps, d.r, d.w)
			return
		}
		if r, ok := v.(registrable); ok {
			eps = append(eps, r)
		}
	}
	for _, v := range args {
		collect(v)
	}
	for _, v := range kwargs {
		collect(v)
	}
	globalRegistry.replace(eps)
}

// closeTransferredEndpoints best-effort closes every endpoint handed to
// this child once its target returns, swallowing ErrAlreadyClosed — the
// target may have already closed some or all of them itself (§4.7 step 4).
func closeTransferredEndpoints(args []any, kwargs map[string]any) {
	closeOne := func(v any) {
		switch ep := v.(type) {
		case *ReadEndpoint:
			_ = releaseErr(ep.Close())
		case *WriteEndpoint:
			_ = releaseErr(ep.Close())
		case *DuplexEndpoint:
			_ = releaseErr(ep.Close())
		}
	}
	for _, v := range args {
		closeOne(v)
	}
	for _, v := range kwargs {
		closeOne(v)
	}
}
