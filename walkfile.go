// walkfile.go - the durable per-command record and its codec
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
	"time"
)

// walkFileVersion is incremented whenever the on-disk encoding
// changes (spec.md §4.2: "both writer and reader must be the same
// build" — we additionally refuse to parse a record from a different
// version rather than silently misinterpreting it).
const walkFileVersion byte = 1

// AccessEntry is one (path, kind, hash) triple recorded in a
// WalkFile, the per-path unit of spec.md §3.
type AccessEntry struct {
	Path string
	Kind AccessKind
	Hash Hash
}

// WalkFile is the durable record for one (command, walk_path) pair
// (spec.md §3). The zero value is not meaningful on its own; use
// loadWalkFile, or fill in every field as Run does.
type WalkFile struct {
	CommandText string
	Entries     []AccessEntry
	RunDuration time.Duration
	RecordedAt  time.Time
}

// entry looks up the recorded entry for path, if any.
func (wf *WalkFile) entry(path string) (AccessEntry, bool) {
	for _, e := range wf.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return AccessEntry{}, false
}

// marshalSize returns the exact encoded size of wf.
func (wf *WalkFile) marshalSize() int {
	n := 1 // version
	n += 4 + len(wf.CommandText)
	n += 4 // entry count
	for _, e := range wf.Entries {
		n += 4 + len(e.Path) // path
		n += 1               // kind
		n += HashSize
	}
	n += 8 // run duration
	n += 8 // recorded-at
	return n
}

// marshal encodes wf into a freshly allocated buffer.
func (wf *WalkFile) marshal() []byte {
	b := make([]byte, wf.marshalSize())
	out := b

	out[0], out = walkFileVersion, out[1:]
	out = encstr(out, wf.CommandText)
	out = enc32(out, len(wf.Entries))
	for _, e := range wf.Entries {
		out = encstr(out, e.Path)
		out[0], out = byte(e.Kind), out[1:]
		copy(out[:HashSize], e.Hash[:])
		out = out[HashSize:]
	}
	out = enc64(out, int64(wf.RunDuration))
	out = enctime(out, wf.RecordedAt)
	return b
}

// parseWalkFile decodes a non-empty byte slice into a WalkFile. A
// malformed buffer returns an error; callers (loadWalkFile) treat any
// parse error the same as "no prior record" (spec.md §7's
// InvalidRecord).
func parseWalkFile(b []byte) (*WalkFile, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("walkfile: empty buffer: %w", ErrTooSmall)
	}

	ver, b := b[0], b[1:]
	if ver != walkFileVersion {
		return nil, fmt.Errorf("walkfile: unsupported version %d", ver)
	}

	var (
		wf  WalkFile
		err error
	)

	b, wf.CommandText, err = decstr(b)
	if err != nil {
		return nil, err
	}

	var n int
	b, n = dec32[int](b)
	if n < 0 || n > len(b) {
		return nil, fmt.Errorf("walkfile: entry count %d: %w", n, ErrTooSmall)
	}

	wf.Entries = make([]AccessEntry, 0, n)
	for i := 0; i < n; i++ {
		var e AccessEntry

		b, e.Path, err = decstr(b)
		if err != nil {
			return nil, err
		}
		if len(b) < 1+HashSize {
			return nil, fmt.Errorf("walkfile: entry %d: %w", i, ErrTooSmall)
		}
		e.Kind, b = AccessKind(b[0]), b[1:]
		copy(e.Hash[:], b[:HashSize])
		b = b[HashSize:]

		wf.Entries = append(wf.Entries, e)
	}

	if len(b) < 16 {
		return nil, fmt.Errorf("walkfile: trailer: %w", ErrTooSmall)
	}
	var dur int64
	b, dur = dec64[int64](b)
	wf.RunDuration = time.Duration(dur)
	b, wf.RecordedAt = dectime(b)

	return &wf, nil
}

// LoadWalkFile reads and parses the record at path, for callers
// outside the package (the CLI's --test-profile/--time-load-all). It
// is a thin, exported wrapper around loadWalkFile.
func LoadWalkFile(path string) (*WalkFile, error) {
	return loadWalkFile(path)
}

// loadWalkFile reads and parses the record at path. Per spec.md §3 and
// §7: a missing file, a zero-length file (InterruptedPrior), or an
// unparseable file (InvalidRecord) all return (nil, nil) — "no prior
// record" — rather than an error. Any other I/O error propagates as an
// EngineError.
func loadWalkFile(path string) (*WalkFile, error) {
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, &EngineError{Op: "read-walkfile", Path: path, Err: err}
	case len(b) == 0:
		return nil, nil
	}

	wf, perr := parseWalkFile(b)
	if perr != nil {
		return nil, nil
	}
	return wf, nil
}

// truncateWalkFile implements spec.md §4.5 step 5, the crash sentinel:
// the walk_path is truncated to zero length and flushed before the
// command is executed, so a crash between here and the atomic rename
// in saveWalkFile leaves a file that the next run's loadWalkFile reads
// as "no prior record".
func truncateWalkFile(path string) error {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &EngineError{Op: "truncate-walkfile", Path: path, Err: err}
	}
	defer fd.Close()
	if err := fd.Sync(); err != nil {
		return &EngineError{Op: "truncate-walkfile-sync", Path: path, Err: err}
	}
	return nil
}

// saveWalkFile serializes wf to a temp file beside path and
// atomically renames it over path (spec.md §4.5 step 8), via
// SafeFile's temp-then-rename discipline (safefile.go).
func saveWalkFile(path string, wf *WalkFile) error {
	sf, err := NewSafeFile(path, OPT_OVERWRITE, os.O_WRONLY, 0644)
	if err != nil {
		return &EngineError{Op: "create-walkfile", Path: path, Err: err}
	}
	defer sf.Abort()

	if _, err := sf.Write(wf.marshal()); err != nil {
		return &EngineError{Op: "write-walkfile", Path: path, Err: err}
	}
	if err := sf.Close(); err != nil {
		return &EngineError{Op: "rename-walkfile", Path: path, Err: err}
	}
	return nil
}
