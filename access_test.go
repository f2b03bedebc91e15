// access_test.go -- tests for AccessLog normalization

package walk

import (
	"testing"
)

func TestMergeAccessKind(t *testing.T) {
	assert := newAsserter(t)

	cases := []struct {
		a, b, want AccessKind
	}{
		{AccessRead, AccessWrite, AccessReadWrite},
		{AccessWrite, AccessRead, AccessReadWrite},
		{AccessFailedRead, AccessRead, AccessRead},
		{AccessFailedRead, AccessWrite, AccessReadWrite},
		{AccessRead, AccessReadWrite, AccessReadWrite},
		{AccessWrite, AccessReadWrite, AccessReadWrite},
		{AccessRead, AccessRead, AccessRead},
		{AccessFailedRead, AccessFailedRead, AccessFailedRead},
	}
	for _, c := range cases {
		got := mergeAccessKind(c.a, c.b)
		assert(got == c.want, "merge(%s, %s): exp %s, saw %s", c.a, c.b, c.want, got)
	}
}

// builderTestDir lies outside os.TempDir(), whose whole tree the
// builder ignores; resolvePath falls back to the lexical path for
// names that do not exist.
const builderTestDir = "/nonexistent/src"

func TestAccessLogBuilderBasic(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := builderTestDir

	b := newAccessLogBuilder("/ignored/walk/path")
	b.observe(rawEvent{cwd: tmpdir, path: "a.c", exists: true, read: true})
	b.observe(rawEvent{cwd: tmpdir, path: "a.o", exists: true, write: true})
	b.observe(rawEvent{cwd: tmpdir, path: "a.c", exists: true, write: true})

	log := b.build()
	aC := resolvePath(tmpdir, "a.c")
	aO := resolvePath(tmpdir, "a.o")

	assert(log[aC] == AccessReadWrite, "a.c: exp read_then_write, saw %s", log[aC])
	assert(log[aO] == AccessWrite, "a.o: exp write, saw %s", log[aO])
}

func TestAccessLogBuilderIgnoresDefaults(t *testing.T) {
	assert := newAsserter(t)

	b := newAccessLogBuilder("/nonexistent/walk")
	b.observe(rawEvent{cwd: "/", path: "/proc/self/status", exists: true, read: true})
	b.observe(rawEvent{cwd: "/", path: "/dev/null", exists: true, write: true})

	log := b.build()
	assert(len(log) == 0, "expected ignored paths to be filtered, saw %v", log)
}

func TestAccessLogBuilderIgnoresWalkPath(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := builderTestDir

	walkPath := resolvePath(tmpdir, "out.walk")
	b := newAccessLogBuilder(walkPath)
	b.observe(rawEvent{cwd: tmpdir, path: "out.walk", exists: true, write: true})

	log := b.build()
	assert(len(log) == 0, "expected walk_path to be excluded from its own log")
}

func TestAccessLogBuilderUnlinkDropsUnlessReaccessed(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := builderTestDir

	b := newAccessLogBuilder("/nonexistent/walk")
	b.observe(rawEvent{cwd: tmpdir, path: "tmp.o", exists: true, write: true})
	b.unlink(tmpdir, "tmp.o")

	log := b.build()
	p := resolvePath(tmpdir, "tmp.o")
	_, ok := log[p]
	assert(!ok, "expected unlinked-and-never-reaccessed path to be dropped")

	b2 := newAccessLogBuilder("/nonexistent/walk")
	b2.observe(rawEvent{cwd: tmpdir, path: "tmp2.o", exists: true, write: true})
	b2.unlink(tmpdir, "tmp2.o")
	b2.observe(rawEvent{cwd: tmpdir, path: "tmp2.o", exists: true, read: true})

	log2 := b2.build()
	p2 := resolvePath(tmpdir, "tmp2.o")
	assert(log2[p2] == AccessRead, "expected post-unlink access to survive, saw %s", log2[p2])
}

func TestAccessKindString(t *testing.T) {
	assert := newAsserter(t)
	assert(AccessRead.String() == "read", "AccessRead.String()")
	assert(AccessWrite.String() == "write", "AccessWrite.String()")
	assert(AccessReadWrite.String() == "read_then_write", "AccessReadWrite.String()")
	assert(AccessFailedRead.String() == "failed_read", "AccessFailedRead.String()")
}
