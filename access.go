// access.go - normalized per-command file access log
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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AccessKind classifies how a path was touched during one command
// invocation (spec.md §3).
type AccessKind uint8

const (
	// AccessRead marks a path that was only ever opened for reading.
	AccessRead AccessKind = iota + 1

	// AccessWrite marks a path that was only ever opened for writing
	// (including truncate/create), never read.
	AccessWrite

	// AccessReadWrite marks a path that was both read and written
	// during the command (in either order).
	AccessReadWrite

	// AccessFailedRead marks an open-for-read that failed because the
	// path did not exist (or equivalent ENOENT-like failure). This is
	// semantically critical (spec.md §3): a command that probed for a
	// config file and found none must be re-run if that file later
	// appears.
	AccessFailedRead
)

func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "read_then_write"
	case AccessFailedRead:
		return "failed_read"
	default:
		return fmt.Sprintf("AccessKind(%d)", uint8(k))
	}
}

// rawEvent is what a tracer backend (tracer.go) reports for a single
// syscall-level observation, before path resolution/canonicalization
// and before the AccessKind merge (spec.md §4.3). Backends emit these
// in whatever order they observe them; the builder folds them.
type rawEvent struct {
	pid int
	cwd string // the observing process's cwd at event time

	path   string
	exists bool // false only for a failed read (ENOENT et al)
	read   bool
	write  bool
}

// AccessLog is a normalized mapping from absolute, canonicalized path
// to the AccessKind observed for that path during one command
// invocation (spec.md §3). Order is not significant.
type AccessLog map[string]AccessKind

// defaultIgnorePrefixes are filtered out of every AccessLog (spec.md
// §4.3 step 4): accesses below these roots are noise, not an input or
// output of the command. The walk_path itself is added per-builder,
// since it is a single absolute path rather than a prefix.
var defaultIgnorePrefixes = []string{
	"/dev",
	"/proc",
	"/sys",
}

// accessLogBuilder implements the four-step normalization of spec.md
// §4.3: path resolution relative to the observing process's cwd,
// canonicalization, AccessKind merge, and ignore-set filtering.
type accessLogBuilder struct {
	walkPath string
	ignore   []string
	log      AccessLog
	unlinked map[string]bool
}

func newAccessLogBuilder(walkPath string) *accessLogBuilder {
	ignore := append([]string(nil), defaultIgnorePrefixes...)
	ignore = append(ignore, os.TempDir())

	return &accessLogBuilder{
		walkPath: walkPath,
		ignore:   ignore,
		log:      make(AccessLog),
		unlinked: make(map[string]bool),
	}
}

func (b *accessLogBuilder) ignored(path string) bool {
	if path == b.walkPath {
		return true
	}
	for _, pfx := range b.ignore {
		if pfx == "" {
			continue
		}
		if path == pfx || strings.HasPrefix(path, pfx+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// CanonicalPath resolves path the same way the AccessLog builder does
// (spec.md §4.3 steps 1-2), relative to the current working directory.
// The CLI uses it to normalize "--new" arguments so they match the
// paths recorded in a WalkFile.
func CanonicalPath(path string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return resolvePath(cwd, path), nil
}

// resolvePath turns a possibly-relative path observed in process `cwd`
// into an absolute, symlink-resolved form (spec.md §4.3 steps 1-2).
func resolvePath(cwd, path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	path = filepath.Clean(path)

	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	// Path may not exist yet (a pending write) or may have vanished
	// since the event was recorded; fall back to the lexically
	// resolved form so a failed-read or a not-yet-created output is
	// still tracked under its intended name.
	return path
}

// observe folds one raw event into the builder's AccessLog using the
// merge rule of spec.md §4.3 step 3:
//
//	read          ∪ write        = read_then_write
//	failed_read   ∪ read         = read   (the later success dominates)
//	failed_read   ∪ write        = read_then_write
//
// and folds repeated accesses of the same kind idempotently.
func (b *accessLogBuilder) observe(ev rawEvent) {
	path := resolvePath(ev.cwd, ev.path)
	if b.ignored(path) {
		return
	}

	var kind AccessKind
	switch {
	case !ev.exists:
		kind = AccessFailedRead
	case ev.read && ev.write:
		kind = AccessReadWrite
	case ev.write:
		kind = AccessWrite
	default:
		kind = AccessRead
	}

	prev, ok := b.log[path]
	if !ok {
		b.log[path] = kind
		return
	}
	b.log[path] = mergeAccessKind(prev, kind)
}

// unlink marks path as removed and drops its accumulated access at
// once. An access observed after the unlink starts a fresh entry; the
// accesses made before the unlink are not kept, even when the path is
// accessed again later.
func (b *accessLogBuilder) unlink(cwd, path string) {
	path = resolvePath(cwd, path)
	delete(b.log, path)
	b.unlinked[path] = true
}

// build returns the finished AccessLog. Paths that were unlinked and
// never subsequently re-accessed are already absent (dropped eagerly
// by unlink); nothing further to do here.
func (b *accessLogBuilder) build() AccessLog {
	return b.log
}

// mergeAccessKind implements the explicit merge table of spec.md
// §4.3 step 3, encoded as a table rather than relying on the ordering
// of the AccessKind enum values (spec.md §9's design note).
func mergeAccessKind(a, b AccessKind) AccessKind {
	if a == b {
		return a
	}

	key := [2]AccessKind{a, b}
	if v, ok := mergeTable[key]; ok {
		return v
	}
	if v, ok := mergeTable[[2]AccessKind{b, a}]; ok {
		return v
	}

	// Any unlisted combination involving a read_then_write dominates,
	// since it is already the union of read and write.
	if a == AccessReadWrite || b == AccessReadWrite {
		return AccessReadWrite
	}
	return a
}

var mergeTable = map[[2]AccessKind]AccessKind{
	{AccessRead, AccessWrite}:        AccessReadWrite,
	{AccessFailedRead, AccessRead}:   AccessRead,
	{AccessFailedRead, AccessWrite}:  AccessReadWrite,
	{AccessRead, AccessReadWrite}:    AccessReadWrite,
	{AccessWrite, AccessReadWrite}:   AccessReadWrite,
	{AccessFailedRead, AccessReadWrite}: AccessReadWrite,
}
