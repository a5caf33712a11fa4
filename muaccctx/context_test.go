package muaccctx

import (
	"net"
	"testing"

	"github.com/m-lab/muacc/addr"
	"github.com/m-lab/muacc/optlist"
)

func TestInitRefcountOne(t *testing.T) {
	ctx := Init()
	if ctx.Refcount() != 1 {
		t.Fatalf("Refcount() = %d, want 1", ctx.Refcount())
	}
	if ctx.Mamsock != nil {
		t.Fatal("freshly initialized context should have no daemon channel")
	}
}

func TestRetainReleaseDiscipline(t *testing.T) {
	ctx := Init()
	n, err := Retain(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Retain: n=%d err=%v, want n=2", n, err)
	}
	n, err = Release(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Release: n=%d err=%v, want n=1", n, err)
	}
	n, err = Release(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Release: n=%d err=%v, want n=0", n, err)
	}
	if ctx.SockoptsCurrent != nil {
		t.Fatal("context should be freed once refcount reaches zero")
	}
}

func TestRetainReleaseNilContext(t *testing.T) {
	if _, err := Retain(nil); err != ErrNullContext {
		t.Fatalf("Retain(nil) err = %v, want ErrNullContext", err)
	}
	if _, err := Release(nil); err != ErrNullContext {
		t.Fatalf("Release(nil) err = %v, want ErrNullContext", err)
	}
}

func TestCloneDeepCopiesOwnedGraph(t *testing.T) {
	src := Init()
	src.Domain, src.Type, src.Protocol = 2, 1, 6
	host := "example.invalid"
	src.RemoteHostname = &host
	src.RemoteSa = addr.NewInet4(net.IPv4(192, 0, 2, 1), 80)
	src.SockoptsCurrent.Append(&optlist.Option{Level: 1, Name: 2, Value: []byte("x")})

	dst, err := Clone(src)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if dst.ID == src.ID {
		t.Fatal("clone must get a fresh ID")
	}
	if dst.Refcount() != 1 {
		t.Fatalf("clone Refcount() = %d, want 1", dst.Refcount())
	}
	if dst.Mamsock != nil {
		t.Fatal("clone should start with no daemon channel")
	}

	*dst.RemoteHostname = "mutated"
	if *src.RemoteHostname == "mutated" {
		t.Fatal("mutating clone's RemoteHostname affected the source")
	}

	dst.RemoteSa.Raw[0] ^= 0xFF
	if string(dst.RemoteSa.Raw) == string(src.RemoteSa.Raw) {
		t.Fatal("clone's RemoteSa should be independently owned")
	}
}

func TestCloneNilSource(t *testing.T) {
	if _, err := Clone(nil); err != ErrNullContext {
		t.Fatalf("Clone(nil) err = %v, want ErrNullContext", err)
	}
}

func TestTryLockExclusivity(t *testing.T) {
	ctx := Init()
	if !ctx.TryLock() {
		t.Fatal("first TryLock should succeed")
	}
	if ctx.TryLock() {
		t.Fatal("second TryLock while held should fail")
	}
	ctx.Unlock()
	if !ctx.TryLock() {
		t.Fatal("TryLock should succeed again after Unlock")
	}
}

func TestHasPerformedMarkPerformed(t *testing.T) {
	ctx := Init()
	if ctx.HasPerformed(CallSocket) {
		t.Fatal("fresh context should not report any calls performed")
	}
	ctx.MarkPerformed(CallSocket)
	if !ctx.HasPerformed(CallSocket) {
		t.Fatal("MarkPerformed should be observable via HasPerformed")
	}
	if ctx.HasPerformed(CallConnect) {
		t.Fatal("marking one call bit should not set another")
	}
}

func TestStringOnNilContext(t *testing.T) {
	var ctx *Context
	if ctx.String() != "<nil context>" {
		t.Fatalf("String() on nil context = %q", ctx.String())
	}
}

func TestIDStringIsStable(t *testing.T) {
	ctx := Init()
	if len(ctx.ID.String()) != 32 {
		t.Fatalf("ID.String() length = %d, want 32 hex chars", len(ctx.ID.String()))
	}
	s, err := ctx.ID.MarshalCSV()
	if err != nil || s != ctx.ID.String() {
		t.Fatalf("MarshalCSV = (%q, %v), want (%q, nil)", s, err, ctx.ID.String())
	}
}
