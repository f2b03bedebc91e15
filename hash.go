// hash.go - content hashing for file-access comparison
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
	"crypto/md5"
	"io"
	"os"

	"github.com/opencoff/go-mmap"
	"github.com/puzpuzpuz/xsync/v3"
)

// HashSize is the width, in bytes, of a Hash (128-bit MD5, per
// spec.md §3: "specify 128-bit MD5 for on-disk compatibility with
// existing walk files").
const HashSize = md5.Size

// Hash is a fixed-width content digest. The zero Hash is the
// "absent" sentinel (spec.md §3): the digest recorded for a path that
// does not exist, or that failed to open for reading. A real MD5
// digest is never the all-zero value for any input this engine will
// ever hash (MD5 of the empty file is a fixed non-zero constant), so
// the sentinel can never collide with a genuine digest.
type Hash [HashSize]byte

// AbsentHash is the distinguished sentinel for a non-existent path.
var AbsentHash Hash

// IsAbsent reports whether h is the "absent" sentinel.
func (h Hash) IsAbsent() bool {
	return h == AbsentHash
}

// hashCache memoizes hash(path) results within one engine run (spec.md
// §4.1). It is backed by the same concurrent map type the teacher uses
// for its stat cache (fiomap.go/cmp/cache.go): a puzpuzpuz/xsync
// MapOf, safe for concurrent lookup from multiple pool workers.
type hashCache struct {
	m *xsync.MapOf[string, Hash]
}

func newHashCache() *hashCache {
	return &hashCache{m: xsync.NewMapOf[string, Hash]()}
}

// invalidate clears any cached entry for path. Called before
// re-hashing a path this run's command wrote or renamed (spec.md §4.5
// step 7): "clear the cache entry for every path in this command's
// AccessLog before re-hashing".
func (hc *hashCache) invalidate(path string) {
	hc.m.Delete(path)
}

// clear drops every cached entry. A hashCache belongs to exactly one
// Engine value and Engines are expected to be short-lived (one per
// run or one per Concurrent lifetime); clear exists mainly for tests
// and long-lived CLI self-test harnesses that reuse one Engine across
// otherwise-independent scenarios.
func (hc *hashCache) clear() {
	hc.m.Clear()
}

// hash returns the content hash of path, using and populating hc.
// A non-existent path, a directory, or any other non-regular-file
// entry yields AbsentHash with a nil error (spec.md §4.1); other I/O
// errors propagate.
func (hc *hashCache) hash(path string) (Hash, error) {
	if h, ok := hc.m.Load(path); ok {
		return h, nil
	}

	h, err := computeHash(path)
	if err != nil {
		return Hash{}, err
	}

	h, _ = hc.m.LoadOrStore(path, h)
	return h, nil
}

// computeHash reads path in reasonable-sized chunks and returns its
// MD5 digest, or AbsentHash if the path does not exist or is not a
// regular file the engine should compare (spec.md §4.1).
func computeHash(path string) (Hash, error) {
	st, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return AbsentHash, nil
	case err != nil:
		return Hash{}, err
	case st.IsDir():
		return AbsentHash, nil
	case !st.Mode().IsRegular():
		return AbsentHash, nil
	}

	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AbsentHash, nil
		}
		return Hash{}, err
	}
	defer fd.Close()

	h := md5.New()

	// mmap.Reader hands us the file's content in page-sized chunks;
	// for zero-length files (and other cases mmap can't handle, e.g.
	// pipes reached via a symlink race) fall back to a buffered copy.
	if st.Size() > 0 {
		_, err = mmap.Reader(fd, func(b []byte) error {
			_, werr := h.Write(b)
			return werr
		})
		if err != nil {
			if _, serr := fd.Seek(0, io.SeekStart); serr == nil {
				h.Reset()
				if _, cerr := io.Copy(h, fd); cerr != nil {
					return Hash{}, cerr
				}
			} else {
				return Hash{}, err
			}
		}
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}
