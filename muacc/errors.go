// Package muacc implements the intercepted socket-lifecycle call surface:
// create, resolve, bind, set/get option, connect, close, and the
// all-in-one SocketConnect (spec §4.4). Every operation follows the same
// preflight -> lock -> mutate-context -> consult-daemon -> system-call
// pattern, with uniform fallback to the native syscall on every failure
// edge that permits one.
package muacc

import "errors"

// Errors surfaced directly to callers (spec §7: "argument-invalid errors
// are surfaced immediately"; "socketconnect has no fallback ... it must
// release the context and return failure").
var (
	// ErrNoDaemon is returned by SocketConnect when the daemon is
	// unreachable or never answers: unlike every other operation in this
	// package, there is no native syscall to fall back to for a URL-driven
	// connect the daemon never acknowledged.
	ErrNoDaemon = errors.New("muacc: daemon unreachable and no fallback exists for this operation")
)
