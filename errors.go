// errors.go - descriptive errors for the walk engine
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
	"errors"
	"fmt"
)

// errAny returns true if the target error 'err' matches
// any in the list 'errs'; and returns false otherwise
func errAny(err error, errs ...error) bool {
	for _, e := range errs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// CommandError wraps the exit status of a command that ran to
// completion but exited non-zero or was signalled. It is the
// "CommandFailure" case of spec.md §7: surfaced as a value, never
// fatal to the engine.
type CommandError struct {
	Command string
	Status  int
	Err     error // non-nil only for signal termination
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("walk: command %q: %s", e.Command, e.Err)
	}
	return fmt.Sprintf("walk: command %q: exit status %d", e.Command, e.Status)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

var _ error = &CommandError{}

// EngineError represents an internal failure of the engine itself:
// it could not read/write a walk file, build the preload shim, spawn
// the tracer, or parse tracer output. This is the "EngineIO" case of
// spec.md §7, which also subsumes "TracerGap" (a tracer that returns
// without a child exit status, reported via ErrTracerGap below).
type EngineError struct {
	Op      string
	Path    string
	Command string
	Err     error
}

func (e *EngineError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("walk: %s: %s: %s", e.Op, e.Path, e.Err)
	case e.Command != "":
		return fmt.Sprintf("walk: %s: %q: %s", e.Op, e.Command, e.Err)
	default:
		return fmt.Sprintf("walk: %s: %s", e.Op, e.Err)
	}
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

var _ error = &EngineError{}

// ErrTracerGap reports that a tracer backend returned without ever
// delivering the child's exit status. Engine code wraps this in an
// EngineError (spec.md §7 treats TracerGap as EngineIO), but callers
// that want to distinguish it can errors.Is(err, ErrTracerGap).
var ErrTracerGap = errors.New("walk: tracer returned without child exit status")

// InvalidRecord and InterruptedPrior (spec.md §7) are not represented
// as distinct error values: both are silently downgraded to "no prior
// record" inside loadWalkFile (walkfile.go) and never escape to a caller.
