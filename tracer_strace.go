// tracer_strace.go - Linux syscall-tracer backend
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
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// syscallTracer runs the command under `strace -f`, parsing its
// decoded syscall trace to build an AccessLog. The regex shapes below
// are grounded on how canonical/etrace's internal/strace package reads
// "-f -ttt" output: <pid> <timestamp> <call>(<args>) = <retval>.
type syscallTracer struct{}

// openRE matches open(2)/openat(2) lines (creat(2) has creatRE below).
// Anything after the numeric return value (errno text) is ignored; we
// only need the path argument and the O_* flags to classify read vs
// write, plus the return value to detect failure.
var openRE = regexp.MustCompile(
	`^(\d+)\s+[\d.]+\s+open(?:at)?\((?:AT_FDCWD,\s*)?"((?:[^"\\]|\\.)*)",\s*([A-Z_|]+)(?:,\s*\d+)?\)\s*=\s*(-?\d+)`,
)

var creatRE = regexp.MustCompile(
	`^(\d+)\s+[\d.]+\s+creat\("((?:[^"\\]|\\.)*)",\s*\d+\)\s*=\s*(-?\d+)`,
)

var renameRE = regexp.MustCompile(
	`^(\d+)\s+[\d.]+\s+rename(?:at2?)?\((?:AT_FDCWD,\s*)?"((?:[^"\\]|\\.)*)",\s*(?:AT_FDCWD,\s*)?"((?:[^"\\]|\\.)*)"(?:,.*)?\)\s*=\s*(-?\d+)`,
)

var unlinkRE = regexp.MustCompile(
	`^(\d+)\s+[\d.]+\s+unlink(?:at)?\((?:AT_FDCWD,\s*)?"((?:[^"\\]|\\.)*)"(?:,.*)?\)\s*=\s*(-?\d+)`,
)

var chdirRE = regexp.MustCompile(
	`^(\d+)\s+[\d.]+\s+chdir\("((?:[^"\\]|\\.)*)"\)\s*=\s*(-?\d+)`,
)

func (t *syscallTracer) Spawn(ctx context.Context, eng *Engine, command, dir, walkPath string) (spawnResult, error) {
	cwd := dir
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return spawnResult{}, &EngineError{Op: "spawn-trace", Command: command, Err: err}
		}
	}

	// The trace stream goes out its own fd (3), inherited via
	// ExtraFiles, so strace's decoded syscall lines never share fd 2
	// with the traced command's real stderr (spec.md §4.5 step 6: the
	// command's stdout/stderr must reach the caller unchanged).
	r, w, err := os.Pipe()
	if err != nil {
		return spawnResult{}, &EngineError{Op: "spawn-trace", Command: command, Err: err}
	}

	straceArgs := []string{
		"-f", "-qq", "-s", "0", "-ttt", "-o", "/dev/fd/3",
		"-e", "trace=open,openat,creat,rename,renameat,renameat2,unlink,unlinkat,chdir",
		"/bin/sh", "-c", command,
	}
	cmd := exec.CommandContext(ctx, "strace", straceArgs...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{w}
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return spawnResult{}, &EngineError{Op: "spawn-trace", Command: command, Err: err}
	}
	w.Close() // parent's copy; strace holds the fd-3 end open for writing

	b := newAccessLogBuilder(walkPath)
	cwds := map[string]string{} // pid -> cwd, seeded lazily from the parent's

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			parseStraceLine(b, cwds, cwd, sc.Text())
		}
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

func pidCwd(cwds map[string]string, fallback, pid string) string {
	if c, ok := cwds[pid]; ok {
		return c
	}
	return fallback
}

func parseStraceLine(b *accessLogBuilder, cwds map[string]string, rootCwd, line string) {
	if m := chdirRE.FindStringSubmatch(line); m != nil {
		pid, path, rc := m[1], unescapeStrace(m[2]), m[3]
		if rc != "-1" {
			cwds[pid] = resolvePath(pidCwd(cwds, rootCwd, pid), path)
		}
		return
	}

	if m := openRE.FindStringSubmatch(line); m != nil {
		pid, path, flags, rc := m[1], unescapeStrace(m[2]), m[3], m[4]
		cwd := pidCwd(cwds, rootCwd, pid)
		read, write := classifyOpenFlags(flags)
		ok := rc != "-1"
		b.observe(rawEvent{pid: atoiOr0(pid), cwd: cwd, path: path, exists: ok, read: read, write: write})
		return
	}

	if m := creatRE.FindStringSubmatch(line); m != nil {
		pid, path, rc := m[1], unescapeStrace(m[2]), m[3]
		cwd := pidCwd(cwds, rootCwd, pid)
		ok := rc != "-1"
		b.observe(rawEvent{pid: atoiOr0(pid), cwd: cwd, path: path, exists: ok, write: ok})
		return
	}

	if m := renameRE.FindStringSubmatch(line); m != nil {
		pid, from, to, rc := m[1], unescapeStrace(m[2]), unescapeStrace(m[3]), m[4]
		cwd := pidCwd(cwds, rootCwd, pid)
		if rc != "-1" {
			b.unlink(cwd, from)
			b.observe(rawEvent{pid: atoiOr0(pid), cwd: cwd, path: to, exists: true, write: true})
		}
		return
	}

	if m := unlinkRE.FindStringSubmatch(line); m != nil {
		pid, path, rc := m[1], unescapeStrace(m[2]), m[3]
		cwd := pidCwd(cwds, rootCwd, pid)
		if rc != "-1" {
			b.unlink(cwd, path)
		}
		return
	}
}

// classifyOpenFlags maps strace's decoded O_* flag set to read/write
// booleans (O_RDONLY is zero-valued and so never appears in the
// flag text; its absence alongside O_WRONLY/O_RDWR is what we key on).
func classifyOpenFlags(flags string) (read, write bool) {
	hasWronly := strings.Contains(flags, "O_WRONLY")
	hasRdwr := strings.Contains(flags, "O_RDWR")
	hasCreat := strings.Contains(flags, "O_CREAT")
	hasTrunc := strings.Contains(flags, "O_TRUNC")

	switch {
	case hasRdwr:
		return true, true
	case hasWronly:
		return false, true
	default:
		read = true
	}
	if hasCreat || hasTrunc {
		write = true
	}
	return read, write
}

func unescapeStrace(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	r := strings.NewReplacer(`\"`, `"`, `\\`, `\`, `\n`, "\n", `\t`, "\t")
	return r.Replace(s)
}

func atoiOr0(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// exitStatus translates the error returned by cmd.Wait() into a shell
// style exit status plus, for signal termination, the signal itself
// (spec.md §4.5 step 9's "killed by signal" case). ok is false only
// when the error shape is not one Wait() actually produces, which
// ErrTracerGap (spec.md §7) treats as an engine failure.
func exitStatus(err error) (status int, sigErr error, ok bool) {
	if err == nil {
		return 0, nil, true
	}
	var ee *exec.ExitError
	if !asExitError(err, &ee) {
		return 0, nil, false
	}
	ws, isWS := ee.Sys().(syscall.WaitStatus)
	if !isWS {
		return 0, nil, false
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal()), fmt.Errorf("walk: killed by signal %s", ws.Signal()), true
	}
	return ws.ExitStatus(), nil, true
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
