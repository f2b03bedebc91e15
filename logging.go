// logging.go - structured diagnostics for the engine
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

	"github.com/opencoff/go-logger"
)

// newLogger builds a logger.Logger the way the teacher's test runner
// does (testsuite/run.go): a named destination ("STDOUT" or a file
// path), a level, a prefix, and the usual date/time/microsecond flags.
// dest == "" defaults to STDOUT.
func newLogger(dest, prefix string, level int) (logger.Logger, error) {
	if dest == "" {
		dest = "STDOUT"
	}
	log, err := logger.NewLogger(dest, level, prefix, logger.Ldate|logger.Ltime|logger.Lmicroseconds)
	if err != nil {
		return nil, fmt.Errorf("walk: logger: %w", err)
	}
	return log, nil
}
