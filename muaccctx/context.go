// Package muaccctx implements the muacc context: the mutable,
// reference-counted, deep-cloneable aggregate that the intercepted call
// surface mutates and serializes to the MAM daemon on every
// policy-interesting operation (spec §3.1).
package muaccctx

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/m-lab/muacc/addr"
	"github.com/m-lab/muacc/optlist"
)

// Call identifies one of the intercepted operations a Context has seen.
// CallsPerformed is a bitset over these values, mirroring the C
// implementation's bitmask of MUACC_SOCKET_CALLED &c.
type Call uint

// Bits of the calls_performed bitset (spec §3.1).
const (
	CallSocket Call = 1 << iota
	CallBind
	CallConnect
	CallClose
	CallGetAddrInfo
)

// DaemonChannel is the interface a per-context connection to the MAM daemon
// must satisfy. It is declared here, at the point of use, rather than in
// package mamconn, so that muaccctx never needs to import mamconn: mamconn
// depends on muaccctx, not the reverse.
type DaemonChannel interface {
	// Closed reports whether the channel has been torn down (never
	// established, or torn down after a failure) and must be redialed.
	Closed() bool
	// Close releases the channel's underlying connection.
	Close() error
}

// ID is a process-unique 128-bit opaque context identifier.
type ID [16]byte

// String renders ID as 32 lowercase hex digits.
func (id ID) String() string {
	return fmt.Sprintf("%032x", [16]byte(id))
}

// MarshalCSV renders id as hex, mirroring the teacher's
// inetdiag.cookieType.MarshalCSV convention. Used by cmd/mamd's socket-set
// diagnostic dump.
func (id ID) MarshalCSV() (string, error) {
	return id.String(), nil
}

func newID() ID {
	var id ID
	// crypto/rand never fails on supported platforms; a failure here
	// would mean the OS entropy source is broken, which nativecall-level
	// operations would fail on anyway.
	_, _ = rand.Read(id[:])
	return id
}

// Context is the core per-flow aggregate described in spec §3.1.
type Context struct {
	ID             ID
	CallsPerformed Call

	Domain, Type, Protocol int32

	RemoteHostname *string
	RemoteService  *string
	RemotePort     uint16

	RemoteAddrInfoHint *addr.AddrInfo
	RemoteAddrInfoRes  *addr.AddrInfo

	BindSaReq       *addr.Address
	BindSaSuggested *addr.Address

	RemoteSa    *addr.Address
	RemoteSaLen int

	SockoptsCurrent   *optlist.List
	SockoptsSuggested *optlist.List

	Mamsock DaemonChannel

	Inode uint64

	refcount uint32
	locked   uint32 // accessed only via atomic; 0 = unlocked, 1 = locked
}

// Init returns a fresh Context with refcount 1, lock clear, no daemon
// channel, and a freshly generated id (spec §4.2 init).
func Init() *Context {
	return &Context{
		ID:                newID(),
		SockoptsCurrent:   optlist.New(),
		SockoptsSuggested: optlist.New(),
		refcount:          1,
	}
}

// Clone produces a deep copy of src with refcount 1 and an absent (nil)
// daemon channel (spec §4.2 clone; §3.1 lifecycle).
func Clone(src *Context) (*Context, error) {
	if src == nil {
		return nil, ErrNullContext
	}
	dst := &Context{
		ID:                newID(),
		CallsPerformed:    src.CallsPerformed,
		Domain:            src.Domain,
		Type:              src.Type,
		Protocol:          src.Protocol,
		RemotePort:        src.RemotePort,
		RemoteAddrInfoHint: src.RemoteAddrInfoHint.Clone(),
		RemoteAddrInfoRes:  src.RemoteAddrInfoRes.Clone(),
		BindSaReq:          src.BindSaReq.Clone(),
		BindSaSuggested:    src.BindSaSuggested.Clone(),
		RemoteSa:           src.RemoteSa.Clone(),
		RemoteSaLen:        src.RemoteSaLen,
		SockoptsCurrent:    src.SockoptsCurrent.Clone(),
		SockoptsSuggested:  src.SockoptsSuggested.Clone(),
		Inode:              src.Inode,
		refcount:           1,
	}
	if src.RemoteHostname != nil {
		s := *src.RemoteHostname
		dst.RemoteHostname = &s
	}
	if src.RemoteService != nil {
		s := *src.RemoteService
		dst.RemoteService = &s
	}
	return dst, nil
}

// Retain increments the reference count and returns the new value (spec
// §4.2 retain).
func Retain(ctx *Context) (uint32, error) {
	if ctx == nil {
		return 0, ErrNullContext
	}
	return atomic.AddUint32(&ctx.refcount, 1), nil
}

// Release decrements the reference count, freeing the owned graph and
// closing the daemon channel exactly once if it drops to zero (spec §4.2
// release; §5 ownership: "Release walks the graph exactly once").
func Release(ctx *Context) (uint32, error) {
	if ctx == nil {
		return 0, ErrNullContext
	}
	n := atomic.AddUint32(&ctx.refcount, ^uint32(0)) // refcount - 1
	if n == 0 {
		ctx.free()
	}
	return n, nil
}

// free releases every nested owned value. It is only ever called once, by
// Release, when refcount transitions to zero.
func (ctx *Context) free() {
	ctx.RemoteAddrInfoHint = nil
	ctx.RemoteAddrInfoRes = nil
	ctx.BindSaReq = nil
	ctx.BindSaSuggested = nil
	ctx.RemoteSa = nil
	ctx.SockoptsCurrent = nil
	ctx.SockoptsSuggested = nil
	ctx.RemoteHostname = nil
	ctx.RemoteService = nil
	if ctx.Mamsock != nil {
		_ = ctx.Mamsock.Close()
		ctx.Mamsock = nil
	}
}

// Refcount returns the current reference count, for tests and diagnostics.
func (ctx *Context) Refcount() uint32 {
	return atomic.LoadUint32(&ctx.refcount)
}

// TryLock acquires the non-reentrancy flag in one atomic step, returning
// false (without mutating anything else) if it was already held. Per spec
// §4.2/§5, this never blocks: acquisition failure must trigger fallback,
// not a wait.
func (ctx *Context) TryLock() bool {
	return atomic.CompareAndSwapUint32(&ctx.locked, 0, 1)
}

// Unlock releases the non-reentrancy flag. Call surface operations must
// call this on every exit path: success, fallback, and error (spec §5).
func (ctx *Context) Unlock() {
	atomic.StoreUint32(&ctx.locked, 0)
}

// HasPerformed reports whether call c has been recorded on this context.
func (ctx *Context) HasPerformed(c Call) bool {
	return ctx.CallsPerformed&c != 0
}

// MarkPerformed records that call c has occurred.
func (ctx *Context) MarkPerformed(c Call) {
	ctx.CallsPerformed |= c
}

// String renders a human-readable, side-effect-free summary of the context
// (spec §4.2 print).
func (ctx *Context) String() string {
	if ctx == nil {
		return "<nil context>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ctx %s refcount=%d domain=%d type=%d protocol=%d",
		ctx.ID, ctx.Refcount(), ctx.Domain, ctx.Type, ctx.Protocol)
	if ctx.RemoteHostname != nil {
		fmt.Fprintf(&b, " host=%s", *ctx.RemoteHostname)
	}
	if ctx.RemoteSa != nil {
		fmt.Fprintf(&b, " remote=%s", ctx.RemoteSa)
	}
	if ctx.BindSaReq != nil {
		fmt.Fprintf(&b, " bind_req=%s", ctx.BindSaReq)
	}
	if ctx.BindSaSuggested != nil {
		fmt.Fprintf(&b, " bind_suggested=%s", ctx.BindSaSuggested)
	}
	fmt.Fprintf(&b, " sockopts_current=%d sockopts_suggested=%d",
		ctx.SockoptsCurrent.Len(), ctx.SockoptsSuggested.Len())
	return b.String()
}
