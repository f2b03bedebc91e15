// request_test.go -- tests for CommandRequest construction

package walk

import "testing"

func TestNewRequestDefaults(t *testing.T) {
	assert := newAsserter(t)

	r := NewRequest("echo hi", "/tmp/x.walk")
	assert(r.CommandText == "echo hi", "command text")
	assert(r.WalkPath == "/tmp/x.walk", "walk path")
	assert(r.Force == ForceAuto, "default force")
	assert(r.Method == MethodAuto, "default method")
	assert(r.Compare == nil, "default comparator")
}

func TestNewRequestOptions(t *testing.T) {
	assert := newAsserter(t)

	r := NewRequest("echo hi", "/tmp/x.walk",
		WithForce(ForceAlways),
		WithMethodOverride(MethodPreload),
		WithDescription("demo"),
		WithTouch("/tmp/a", "/tmp/b"),
	)
	assert(r.Force == ForceAlways, "force option")
	assert(r.Method == MethodPreload, "method option")
	assert(r.Description == "demo", "description option")
	assert(len(r.Touch) == 2, "touch option: exp 2 paths, saw %d", len(r.Touch))
}

func TestCommandRequestCompare(t *testing.T) {
	assert := newAsserter(t)

	r := NewRequest("cc -O2 -c a.c", "/tmp/a.walk")
	assert(r.compare("cc -O2 -c a.c"), "identical text should compare equal")
	assert(!r.compare("cc -O0 -c a.c"), "differing text should not compare equal without comparator")

	r2 := NewRequest("cc -O2 -c a.c", "/tmp/a.walk", WithComparator(func(old, new string) bool {
		return true
	}))
	assert(r2.compare("anything at all"), "custom comparator should override byte equality")
}
