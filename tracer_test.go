// tracer_test.go -- tests for Method parsing and selection precedence

package walk

import "testing"

func TestParseMethod(t *testing.T) {
	assert := newAsserter(t)

	m, err := ParseMethod("")
	assert(err == nil && m == MethodAuto, "empty string: expected MethodAuto")

	m, err = ParseMethod("trace")
	assert(err == nil && m == MethodSyscallTracer, "trace: expected MethodSyscallTracer")

	m, err = ParseMethod("preload")
	assert(err == nil && m == MethodPreload, "preload: expected MethodPreload")

	_, err = ParseMethod("bogus")
	assert(err != nil, "expected error for unknown method name")
}

func TestResolveMethodPrecedence(t *testing.T) {
	assert := newAsserter(t)

	eng := NewEngine(WithMethod(MethodPreload))
	defer eng.Close()

	// Per-request override beats the Engine default.
	req := CommandRequest{Method: MethodSyscallTracer}
	assert(resolveMethod(eng, &req) == MethodSyscallTracer, "request override should win")

	// No override: Engine default wins over the OS default.
	req2 := CommandRequest{}
	assert(resolveMethod(eng, &req2) == MethodPreload, "engine default should win absent an override")

	// Neither set: falls back to defaultMethod().
	eng2 := NewEngine()
	defer eng2.Close()
	assert(resolveMethod(eng2, &req2) == defaultMethod(), "should fall back to OS default")
}

func TestMethodString(t *testing.T) {
	assert := newAsserter(t)
	assert(MethodAuto.String() == "auto", "MethodAuto.String()")
	assert(MethodSyscallTracer.String() == "trace", "MethodSyscallTracer.String()")
	assert(MethodPreload.String() == "preload", "MethodPreload.String()")
}
