// walkfile_test.go -- tests for the WalkFile codec and persistence

package walk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sampleWalkFile() *WalkFile {
	return &WalkFile{
		CommandText: `cc -c -o a.o a.c`,
		Entries: []AccessEntry{
			{Path: "/tmp/a.c", Kind: AccessRead, Hash: Hash{1, 2, 3}},
			{Path: "/tmp/a.o", Kind: AccessWrite, Hash: Hash{4, 5, 6}},
			{Path: "/tmp/maybe.h", Kind: AccessFailedRead, Hash: AbsentHash},
		},
		RunDuration: 1500 * time.Millisecond,
		RecordedAt:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestWalkFileRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	wf := sampleWalkFile()
	b := wf.marshal()
	assert(len(b) == wf.marshalSize(), "marshalSize mismatch: exp %d, saw %d", wf.marshalSize(), len(b))

	got, err := parseWalkFile(b)
	assert(err == nil, "parse: %s", err)
	assert(got.CommandText == wf.CommandText, "command text round-trip")
	assert(len(got.Entries) == len(wf.Entries), "entry count round-trip")
	for i := range wf.Entries {
		assert(got.Entries[i] == wf.Entries[i], "entry %d round-trip: exp %+v, saw %+v", i, wf.Entries[i], got.Entries[i])
	}
	assert(got.RunDuration == wf.RunDuration, "run duration round-trip: exp %s, saw %s", wf.RunDuration, got.RunDuration)
	assert(got.RecordedAt.Equal(wf.RecordedAt), "recorded-at round-trip")
}

func TestWalkFileEmptyEntries(t *testing.T) {
	assert := newAsserter(t)

	wf := &WalkFile{CommandText: "true", RecordedAt: time.Unix(1, 0).UTC()}
	got, err := parseWalkFile(wf.marshal())
	assert(err == nil, "parse: %s", err)
	assert(len(got.Entries) == 0, "expected zero entries")
}

func TestWalkFileBadVersion(t *testing.T) {
	assert := newAsserter(t)

	b := sampleWalkFile().marshal()
	b[0] = 0xff
	_, err := parseWalkFile(b)
	assert(err != nil, "expected error for unsupported version")
}

func TestWalkFileTruncated(t *testing.T) {
	assert := newAsserter(t)

	b := sampleWalkFile().marshal()
	_, err := parseWalkFile(b[:len(b)-1])
	assert(err != nil, "expected error for truncated buffer")
}

func TestLoadWalkFileMissingIsNoPriorRecord(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	wf, err := loadWalkFile(filepath.Join(tmpdir, "does-not-exist.walk"))
	assert(err == nil, "missing file: %s", err)
	assert(wf == nil, "expected nil for missing file")
}

func TestLoadWalkFileZeroLengthIsNoPriorRecord(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	p := filepath.Join(tmpdir, "zero.walk")
	assert(truncateWalkFile(p) == nil, "truncate")

	wf, err := loadWalkFile(p)
	assert(err == nil, "zero-length file: %s", err)
	assert(wf == nil, "expected nil for zero-length (InterruptedPrior)")
}

func TestLoadWalkFileUnparseableIsNoPriorRecord(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	p := filepath.Join(tmpdir, "garbage.walk")
	assert(os.WriteFile(p, []byte{0xff, 0xff, 0xff}, 0644) == nil, "write garbage")

	wf, err := loadWalkFile(p)
	assert(err == nil, "unparseable file: %s", err)
	assert(wf == nil, "expected nil for unparseable (InvalidRecord)")
}

func TestSaveAndLoadWalkFileRoundTrip(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	p := filepath.Join(tmpdir, "out.walk")
	wf := sampleWalkFile()
	assert(saveWalkFile(p, wf) == nil, "save")

	got, err := loadWalkFile(p)
	assert(err == nil, "load: %s", err)
	assert(got != nil, "expected a record")
	if diff := cmp.Diff(wf, got); diff != "" {
		t.Fatalf("WalkFile round trip through disk mismatched (-want +got):\n%s", diff)
	}
}
