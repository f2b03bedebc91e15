// tracer.go - pluggable file-access observation backend
//
// (c) 2024 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package walk

import (
	"context"
	"fmt"
	"runtime"
)

// Method selects which Tracer backend observes a command's file
// accesses (spec.md §4.4).
type Method uint8

const (
	// MethodAuto picks the OS default: syscall-tracer on Linux,
	// preload-shim elsewhere.
	MethodAuto Method = iota

	// MethodSyscallTracer spawns the command under strace -f and parses
	// its decoded syscall trace (Linux only: tracer_strace.go).
	MethodSyscallTracer

	// MethodPreload spawns the command with a small LD_PRELOAD shim
	// interposing open/openat/rename/unlink (tracer_preload.go).
	MethodPreload
)

func (m Method) String() string {
	switch m {
	case MethodSyscallTracer:
		return "trace"
	case MethodPreload:
		return "preload"
	default:
		return "auto"
	}
}

// ParseMethod converts the CLI's "-m preload"/"-m trace" values (and
// the empty string, meaning auto) into a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "auto":
		return MethodAuto, nil
	case "trace":
		return MethodSyscallTracer, nil
	case "preload":
		return MethodPreload, nil
	default:
		return MethodAuto, fmt.Errorf("walk: unknown method %q", s)
	}
}

// defaultMethod implements spec.md §4.4's OS-default half of the
// selection precedence ("explicit flag > OS default"): syscall-tracer
// on Linux, preload-shim everywhere else.
func defaultMethod() Method {
	if runtime.GOOS == "linux" {
		return MethodSyscallTracer
	}
	return MethodPreload
}

// resolveMethod applies spec.md §4.4's full precedence: a per-request
// override beats the Engine's configured default, which beats the OS
// default.
func resolveMethod(eng *Engine, req *CommandRequest) Method {
	m := req.Method
	if m == MethodAuto {
		m = eng.method
	}
	if m == MethodAuto {
		m = defaultMethod()
	}
	return m
}

// spawnResult is what a Tracer reports for one command invocation: the
// normalized access log, the child's exit status, and (for signal
// termination) the signal itself.
type spawnResult struct {
	log    AccessLog
	status int
	sigErr error // non-nil only when the child died from a signal
}

// Tracer runs command under /bin/sh -c and observes which files it (and
// any descendants) read and wrote, canonicalized per spec.md §4.3. dir,
// if non-empty, is the working directory for the spawned command.
type Tracer interface {
	Spawn(ctx context.Context, eng *Engine, command, dir, walkPath string) (spawnResult, error)
}

// newTracer constructs the Tracer backend named by m.
func newTracer(m Method) (Tracer, error) {
	switch m {
	case MethodSyscallTracer:
		return &syscallTracer{}, nil
	case MethodPreload:
		return &preloadTracer{}, nil
	default:
		return nil, fmt.Errorf("walk: cannot construct tracer for method %v", m)
	}
}
