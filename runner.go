// runner.go - decide run-vs-skip, execute, and re-record one command
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
	"time"
)

// Run implements spec.md §4.5's nine-step algorithm for one
// CommandRequest: decide whether req's command needs to run at all,
// execute it under the selected Tracer if so, and persist the
// resulting WalkFile. The returned int is the command's exit status
// (0 on a clean skip). A non-nil error is either a *CommandError, when
// the command exited non-zero or was signalled (the int then holds its
// status and the WalkFile has been written), or an engine failure;
// errors.As tells the two apart.
func Run(ctx context.Context, eng *Engine, req CommandRequest) (int, error) {
	// Step 1: force check.
	if req.Force == ForceNever {
		eng.debugf("force-skip %s", req.WalkPath)
		return 0, nil
	}

	var prior *WalkFile
	if req.Force != ForceAlways {
		// Step 2: load prior record.
		var err error
		prior, err = loadWalkFile(req.WalkPath)
		if err != nil {
			eng.warnf("load %s: %s", req.WalkPath, err)
			return 0, err
		}

		// Step 3: command-text check.
		if prior != nil && !req.compare(prior.CommandText) {
			eng.debugf("command changed for %s, invalidating", req.WalkPath)
			prior = nil
		}

		// --new: force invalidation of any record referencing a
		// caller-designated path, regardless of its actual hash.
		if prior != nil && touches(prior, req.Touch) {
			eng.debugf("touched path forces invalidation of %s", req.WalkPath)
			prior = nil
		}

		// Step 4: hash check.
		if prior != nil {
			if upToDate(eng, prior) {
				eng.debugf("skip %s (up to date)", req.WalkPath)
				return 0, nil
			}
			eng.debugf("stale %s, rerunning", req.WalkPath)
		}
	}

	// Step 5: interrupt guard.
	if err := truncateWalkFile(req.WalkPath); err != nil {
		eng.warnf("truncate %s: %s", req.WalkPath, err)
		return 0, err
	}

	// Step 6: execute under the selected tracer.
	tracer, err := newTracer(resolveMethod(eng, &req))
	if err != nil {
		eng.warnf("select tracer for %s: %s", req.WalkPath, err)
		return 0, err
	}

	start := time.Now()
	result, err := tracer.Spawn(ctx, eng, req.CommandText, "", req.WalkPath)
	duration := time.Since(start)
	if err != nil {
		engErr := &EngineError{Op: "run", Command: req.CommandText, Err: err}
		eng.warnf("%s", engErr)
		return 0, engErr
	}

	// Step 7: post-run capture, invalidating the cache for every
	// observed path before re-hashing it.
	entries := make([]AccessEntry, 0, len(result.log))
	for path := range result.log {
		eng.cache.invalidate(path)
	}
	for path, kind := range result.log {
		h, herr := eng.cache.hash(path)
		if herr != nil {
			engErr := &EngineError{Op: "hash", Path: path, Command: req.CommandText, Err: herr}
			eng.warnf("%s", engErr)
			return 0, engErr
		}
		entries = append(entries, AccessEntry{Path: path, Kind: kind, Hash: h})
	}

	wf := &WalkFile{
		CommandText: req.CommandText,
		Entries:     entries,
		RunDuration: duration,
		RecordedAt:  start,
	}

	// Step 8: persist. Only a successful atomic rename counts as
	// "recorded" (saveWalkFile itself performs the rename).
	if err := saveWalkFile(req.WalkPath, wf); err != nil {
		eng.warnf("save %s: %s", req.WalkPath, err)
		return 0, err
	}

	// Step 9: return the command's exit status verbatim, even on
	// failure; the WalkFile above is already durable regardless.
	if result.sigErr != nil {
		return result.status, &CommandError{Command: req.CommandText, Status: result.status, Err: result.sigErr}
	}
	if result.status != 0 {
		return result.status, &CommandError{Command: req.CommandText, Status: result.status}
	}
	return 0, nil
}

// touches reports whether prior's AccessLog references any of paths.
func touches(prior *WalkFile, paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if _, ok := prior.entry(p); ok {
			return true
		}
	}
	return false
}

// upToDate implements step 4: every recorded entry must still match
// the on-disk state for the command to be skipped.
func upToDate(eng *Engine, prior *WalkFile) bool {
	for _, e := range prior.Entries {
		h, err := eng.cache.hash(e.Path)
		if err != nil {
			return false
		}
		if e.Kind == AccessFailedRead && !h.IsAbsent() {
			return false
		}
		if h != e.Hash {
			return false
		}
	}
	return true
}

// System is the package's simplest entry point: memoize command at
// walkPath using a private, single-use Engine. Most callers that run
// more than one command should build their own Engine with NewEngine
// (so the hash cache is shared) and call Run directly, or use
// NewConcurrent for parallel batches.
func System(ctx context.Context, command, walkPath string, opts ...Option) (int, error) {
	eng := NewEngine()
	defer eng.Close()

	req := NewRequest(command, walkPath, opts...)
	return Run(ctx, eng, req)
}
