// tracer_preload.go - LD_PRELOAD shim backend
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
	_ "embed"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

//go:embed shim/interpose.c
var shimSource []byte

const (
	shimEventRead       = 0
	shimEventWrite      = 1
	shimEventFailedOpen = 2
	shimEventUnlink     = 3
)

// preloadTracer runs the command with LD_PRELOAD pointed at a small
// interposer library (shim/interpose.c) that reports open/openat/
// creat/rename/unlink calls over a pipe. It is the portable fallback
// for platforms without a Linux-style syscall tracer (spec.md §4.4).
type preloadTracer struct{}

// buildShim compiles shim/interpose.c into a shared object, caching the
// artifact under the user's cache directory keyed by the source's
// content hash so repeated runs skip recompilation. Engine.shimOnce
// guards the single build attempt per Engine lifetime; concurrent
// requests on the same Engine share its result or its error.
func buildShim(eng *Engine) (string, error) {
	eng.shimOnce.Do(func() {
		eng.shimPath, eng.shimErr = compileShim()
	})
	return eng.shimPath, eng.shimErr
}

func compileShim() (string, error) {
	sum := md5.Sum(shimSource)
	name := fmt.Sprintf("walk-shim-%s.so", hex.EncodeToString(sum[:]))

	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "walk")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &EngineError{Op: "build-shim", Path: dir, Err: err}
	}

	out := filepath.Join(dir, name)
	if _, err := os.Stat(out); err == nil {
		return out, nil
	}

	srcFile, err := os.CreateTemp(dir, "interpose-*.c")
	if err != nil {
		return "", &EngineError{Op: "build-shim", Path: dir, Err: err}
	}
	defer os.Remove(srcFile.Name())
	defer srcFile.Close()

	if _, err := srcFile.Write(shimSource); err != nil {
		return "", &EngineError{Op: "build-shim", Path: srcFile.Name(), Err: err}
	}
	srcFile.Close()

	objTmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp%d", name, os.Getpid()))
	defer os.Remove(objTmp)

	cc := "cc"
	if v := os.Getenv("CC"); v != "" {
		cc = v
	}
	cmd := exec.Command(cc, "-shared", "-fPIC", "-O2", "-o", objTmp, srcFile.Name(), "-ldl", "-lpthread")
	if combined, err := cmd.CombinedOutput(); err != nil {
		return "", &EngineError{Op: "build-shim", Path: string(combined), Err: err}
	}
	if err := os.Rename(objTmp, out); err != nil {
		return "", &EngineError{Op: "build-shim", Path: out, Err: err}
	}
	return out, nil
}

func (t *preloadTracer) Spawn(ctx context.Context, eng *Engine, command, dir, walkPath string) (spawnResult, error) {
	shimPath, err := buildShim(eng)
	if err != nil {
		return spawnResult{}, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return spawnResult{}, &EngineError{Op: "spawn-preload", Command: command, Err: err}
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"LD_PRELOAD="+preloadValue(shimPath),
		fmt.Sprintf("WALK_EVENTS_FD=%d", 3),
	)
	cmd.ExtraFiles = []*os.File{w}
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return spawnResult{}, &EngineError{Op: "spawn-preload", Command: command, Err: err}
	}
	w.Close() // parent's copy; the child (and its descendants) hold the writable end

	cwd := dir
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	b := newAccessLogBuilder(walkPath)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readShimEvents(r, cwd, b)
	}()

	werr := cmd.Wait()
	r.Close()
	<-done

	status, sigErr, ok := exitStatus(werr)
	if !ok {
		return spawnResult{}, fmt.Errorf("walk: %w", ErrTracerGap)
	}
	return spawnResult{log: b.build(), status: status, sigErr: sigErr}, nil
}

// preloadValue returns an LD_PRELOAD value compatible with an existing
// caller-set LD_PRELOAD, appending rather than clobbering it.
func preloadValue(shimPath string) string {
	if existing := os.Getenv("LD_PRELOAD"); existing != "" {
		return existing + ":" + shimPath
	}
	return shimPath
}

// readShimEvents drains length-prefixed records from the shim's pipe
// until EOF (the child and every descendant holding the write end have
// exited), folding each into b.
//
// Every path is resolved against the single cwd captured at Spawn time:
// shim/interpose.c does not interpose chdir(2), so a descendant that
// changes directory and then opens a relative path is resolved against
// the wrong base (spec.md §4.3 step 1 calls for the child's cwd at
// event time, which the syscall-tracer backend tracks per pid and this
// backend does not). Commands that chdir before touching relative
// paths should use MethodSyscallTracer.
func readShimEvents(r *os.File, cwd string, b *accessLogBuilder) {
	hdr := make([]byte, 9)
	for {
		if _, err := readFull(r, hdr); err != nil {
			return
		}
		pid := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16 | int(hdr[3])<<24
		kind := hdr[4]
		plen := int(hdr[5]) | int(hdr[6])<<8 | int(hdr[7])<<16 | int(hdr[8])<<24
		if plen < 0 || plen > 1<<20 {
			return
		}
		path := make([]byte, plen)
		if _, err := readFull(r, path); err != nil {
			return
		}

		switch kind {
		case shimEventUnlink:
			b.unlink(cwd, string(path))
		case shimEventFailedOpen:
			b.observe(rawEvent{pid: pid, cwd: cwd, path: string(path), exists: false})
		case shimEventWrite:
			b.observe(rawEvent{pid: pid, cwd: cwd, path: string(path), exists: true, write: true})
		default:
			b.observe(rawEvent{pid: pid, cwd: cwd, path: string(path), exists: true, read: true})
		}
	}
}

func readFull(r *os.File, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
