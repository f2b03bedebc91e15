// runner_test.go -- tests for the invalidation decision logic

package walk

import (
	"os"
	"testing"
)

func TestUpToDateAllMatch(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	fn, h := writeHashed(t, tmpdir, "a.c", "int a(){return 1;}")
	wf := &WalkFile{
		CommandText: "cc -c a.c",
		Entries:     []AccessEntry{{Path: fn, Kind: AccessRead, Hash: h}},
	}

	eng := NewEngine()
	defer eng.Close()

	assert(upToDate(eng, wf), "expected up to date when content unchanged")
}

func TestUpToDateDetectsContentChange(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	fn, h := writeHashed(t, tmpdir, "a.c", "int a(){return 1;}")
	wf := &WalkFile{
		CommandText: "cc -c a.c",
		Entries:     []AccessEntry{{Path: fn, Kind: AccessRead, Hash: h}},
	}

	writeHashed(t, tmpdir, "a.c", "int a(){return 2;}")

	eng := NewEngine()
	defer eng.Close()

	assert(!upToDate(eng, wf), "expected stale after content change")
}

func TestUpToDateFailedReadRevival(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	missing := tmpdir + "/maybe.h"
	wf := &WalkFile{
		CommandText: "probe",
		Entries:     []AccessEntry{{Path: missing, Kind: AccessFailedRead, Hash: AbsentHash}},
	}

	eng := NewEngine()
	defer eng.Close()
	assert(upToDate(eng, wf), "expected up to date while still absent")

	writeHashed(t, tmpdir, "maybe.h", "#define X 1")

	// The next run gets a fresh Engine: eng's cache still holds the
	// absent hash it memoized above.
	eng2 := NewEngine()
	defer eng2.Close()
	assert(!upToDate(eng2, wf), "expected stale once the probed path exists")
}

func TestTouchesForcesInvalidation(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	fn, h := writeHashed(t, tmpdir, "a.c", "unchanged")
	wf := &WalkFile{
		CommandText: "cc -c a.c",
		Entries:     []AccessEntry{{Path: fn, Kind: AccessRead, Hash: h}},
	}

	assert(!touches(wf, nil), "no touch paths: expected false")
	assert(!touches(wf, []string{tmpdir + "/unrelated"}), "unrelated path: expected false")
	assert(touches(wf, []string{fn}), "expected touches() to find a.c in the prior record")
}

func writeHashed(t *testing.T, dir, name, content string) (string, Hash) {
	assert := newAsserter(t)
	fn := dir + "/" + name
	assert(os.WriteFile(fn, []byte(content), 0644) == nil, "write %s", fn)
	h, err := computeHash(fn)
	assert(err == nil, "hash %s: %s", fn, err)
	return fn, h
}
