// engine.go - explicit engine context
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

// Package walk implements a command-memoizing build primitive: callers
// hand it shell commands one at a time; it records which files each
// command (and its descendants) read and wrote, and skips a command on
// a later call if nothing it depends on has changed.
//
// This file replaces what spec.md §9 calls "ambient module state" (a
// hash cache and a preload-library-built flag living at package scope)
// with an explicit *Engine value threaded through Run and
// Concurrent (System builds a private one per call). Workers borrow a reference to the same Engine; it is not
// safe to use one Engine's hash cache concurrently with a second
// Engine hashing the same paths mid-mutation, which is why a fresh
// Engine is expected per run or per Concurrent lifetime (spec.md
// §4.1).
package walk

import (
	"sync"

	"github.com/opencoff/go-logger"
)

// Engine owns the per-run state that spec.md's source implementation
// kept as ambient module globals: the content-hash cache (hash.go) and
// the preload-shim build lock (tracer_preload.go). Create one with
// NewEngine and share it across Run calls and/or a Concurrent pool
// that must observe each other's writes; do not share one Engine
// across two independent, concurrently-mutating runs.
type Engine struct {
	cache  *hashCache
	log    logger.Logger
	method Method

	shimOnce sync.Once
	shimPath string
	shimErr  error
}

// EngineOption configures a new Engine.
type EngineOption func(*Engine)

// WithMethod sets the default Tracer backend (spec.md §4.4's selection
// precedence: "explicit flag > OS default"). Per-request overrides via
// CommandRequest.Method still take precedence over this.
func WithMethod(m Method) EngineOption {
	return func(e *Engine) { e.method = m }
}

// WithLogger attaches a logger.Logger to the Engine instead of the
// STDOUT default built by NewEngine.
func WithLogger(log logger.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine constructs an Engine with a fresh hash cache and a STDOUT
// logger at the default level. Callers that want a different
// destination or level should build one with newLogger and pass it via
// WithLogger.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		cache:  newHashCache(),
		method: defaultMethod(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		log, err := newLogger("STDOUT", "walk", logger.LOG_INFO)
		if err == nil {
			e.log = log
		}
	}
	return e
}

// Close releases resources held by the Engine (currently just its
// logger, if any).
func (e *Engine) Close() error {
	if e.log != nil {
		e.log.Close()
	}
	return nil
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Debug(format, args...)
	}
}

func (e *Engine) warnf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Warn(format, args...)
	}
}
