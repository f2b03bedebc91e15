// request.go - the in-memory value carried through System/Concurrent
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

// Force selects the forced run/skip override of spec.md §4.5 step 1
// and §6's "-f" flag.
type Force uint8

const (
	// ForceAuto lets the runner decide via the normal invalidation
	// algorithm (spec.md §4.5 steps 2-4).
	ForceAuto Force = iota

	// ForceNever ("-f 0"): always skip, report success, never run the
	// command or touch its walk file.
	ForceNever

	// ForceAlways ("-f 1"): always run the command regardless of the
	// prior record.
	ForceAlways
)

// CommandComparator replaces byte-for-byte command_text equality in
// spec.md §4.5 step 3. It must be pure and side-effect-free; a typical
// use is ignoring compiler warning flags that don't affect output.
type CommandComparator func(old, new string) bool

// CommandRequest is the immutable-after-submission value of spec.md
// §3: (command_text, walk_path, optional custom comparator, optional
// force flag), plus the method override and description of spec.md
// §6's system() options.
type CommandRequest struct {
	// CommandText is the verbatim command the caller wants memoized.
	// It is executed as `/bin/sh -c CommandText` (matching how shell
	// commands are conventionally spawned by build tools) and is also
	// the value compared across runs
	// for invalidation (spec.md §4.5 step 3).
	CommandText string

	// WalkPath is the on-disk location of this command's WalkFile.
	WalkPath string

	// Force overrides the normal invalidation decision.
	Force Force

	// Method overrides the Engine's default Tracer backend for this
	// request only.
	Method Method

	// Compare replaces byte equality when checking whether
	// CommandText changed since the prior run. Nil means exact byte
	// comparison.
	Compare CommandComparator

	// Description is a human-readable tag surfaced in logs and
	// errors; it plays no role in the invalidation algorithm.
	Description string

	// Touch lists paths to treat as freshly modified regardless of
	// their actual content hash (the CLI's repeatable "--new" flag).
	// If the prior WalkFile's AccessLog references any of these paths,
	// the prior record is invalidated outright.
	Touch []string
}

// Option configures a CommandRequest built via NewRequest.
type Option func(*CommandRequest)

// WithForce sets Force.
func WithForce(f Force) Option { return func(r *CommandRequest) { r.Force = f } }

// WithMethodOverride pins the Tracer backend for this request.
func WithMethodOverride(m Method) Option { return func(r *CommandRequest) { r.Method = m } }

// WithComparator installs a custom command-text comparator.
func WithComparator(cmp CommandComparator) Option {
	return func(r *CommandRequest) { r.Compare = cmp }
}

// WithDescription attaches a human-readable tag to the request.
func WithDescription(d string) Option { return func(r *CommandRequest) { r.Description = d } }

// WithTouch marks paths as freshly modified, forcing invalidation of
// any prior record that references them (the CLI's "--new").
func WithTouch(paths ...string) Option {
	return func(r *CommandRequest) { r.Touch = append(r.Touch, paths...) }
}

// NewRequest builds a CommandRequest for command, to be memoized at
// walkPath.
func NewRequest(command, walkPath string, opts ...Option) CommandRequest {
	r := CommandRequest{CommandText: command, WalkPath: walkPath}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func (r *CommandRequest) compare(oldText string) bool {
	if r.Compare != nil {
		return r.Compare(oldText, r.CommandText)
	}
	return oldText == r.CommandText
}
