//go:build shadowtick_debug

package eot

// raiseInvariantImpl panics in shadowtick_debug builds: a violated data
// model invariant is a programming error, and a development build should
// fail loudly at the call site rather than propagate a wrapped error
// several layers up the stack.
func raiseInvariantImpl(err *InvariantError) error {
	panic(err)
}
