package addr

import (
	"net"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/m-lab/go/anonymize"
)

func TestInet4RoundTripSockaddr(t *testing.T) {
	a := NewInet4(net.IPv4(192, 0, 2, 1), 8080)
	sa, err := a.Sockaddr()
	if err != nil {
		t.Fatalf("Sockaddr: %v", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("got %T, want *unix.SockaddrInet4", sa)
	}
	if in4.Port != 8080 {
		t.Errorf("port = %d, want 8080", in4.Port)
	}
	want := net.IPv4(192, 0, 2, 1).To4()
	if net.IP(in4.Addr[:]).String() != net.IP(want).String() {
		t.Errorf("addr = %v, want %v", in4.Addr, want)
	}
}

func TestInet6RoundTripSockaddr(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	a := NewInet6(ip, 443)
	sa, err := a.Sockaddr()
	if err != nil {
		t.Fatalf("Sockaddr: %v", err)
	}
	in6, ok := sa.(*unix.SockaddrInet6)
	if !ok {
		t.Fatalf("got %T, want *unix.SockaddrInet6", sa)
	}
	if in6.Port != 443 {
		t.Errorf("port = %d, want 443", in6.Port)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := NewInet4(net.IPv4(10, 0, 0, 1), 22)
	b := a.Clone()
	b.Raw[len(b.Raw)-1] ^= 0xFF
	if string(a.Raw) == string(b.Raw) {
		t.Fatal("mutating clone's Raw affected the original")
	}
}

func TestCloneNil(t *testing.T) {
	var a *Address
	if a.Clone() != nil {
		t.Fatal("Clone of nil Address should be nil")
	}
}

func TestEqualIgnoresPort(t *testing.T) {
	a := NewInet4(net.IPv4(192, 0, 2, 1), 80)
	b := NewInet4(net.IPv4(192, 0, 2, 1), 443)
	if !a.Equal(b) {
		t.Fatal("addresses with same bytes but different ports should be equal for socket-set purposes")
	}
}

func TestEqualDetectsDifferentAddr(t *testing.T) {
	a := NewInet4(net.IPv4(192, 0, 2, 1), 80)
	b := NewInet4(net.IPv4(192, 0, 2, 2), 80)
	if a.Equal(b) {
		t.Fatal("addresses with different bytes should not be equal")
	}
}

func TestEqualDifferentFamily(t *testing.T) {
	a := NewInet4(net.IPv4(192, 0, 2, 1), 80)
	b := NewInet6(net.ParseIP("::1"), 80)
	if a.Equal(b) {
		t.Fatal("addresses of different families should never be equal")
	}
}

func TestEqualNilHandling(t *testing.T) {
	var a, b *Address
	if !a.Equal(b) {
		t.Fatal("two nil addresses should be equal")
	}
	c := NewInet4(net.IPv4(1, 2, 3, 4), 1)
	if a.Equal(c) || c.Equal(a) {
		t.Fatal("nil and non-nil addresses should never be equal")
	}
}

func TestSetPortThenPort(t *testing.T) {
	a := NewInet4(net.IPv4(192, 0, 2, 1), 0)
	a.SetPort(12345)
	if a.Port() != 12345 {
		t.Errorf("Port() = %d, want 12345", a.Port())
	}
}

func TestExtractSockaddrShortBuffer(t *testing.T) {
	_, err := ExtractSockaddr(Inet4, []byte{1, 2, 3})
	if err != ErrShortBuffer {
		t.Fatalf("err = %v, want ErrShortBuffer", err)
	}
}

func TestValidateDomainMismatch(t *testing.T) {
	a := NewInet6(net.ParseIP("::1"), 1)
	if err := ValidateDomain(a, unix.AF_INET); err == nil {
		t.Fatal("expected mismatch error for inet6 address against AF_INET domain")
	}
}

func TestValidateDomainNilAddr(t *testing.T) {
	if err := ValidateDomain(nil, unix.AF_INET); err != nil {
		t.Fatalf("nil address should never fail validation, got %v", err)
	}
}

func TestAddrInfoCloneAndLen(t *testing.T) {
	name := "example.invalid"
	chain := &AddrInfo{
		Family:    Inet4,
		Addr:      NewInet4(net.IPv4(192, 0, 2, 1), 80),
		CanonName: &name,
		Next: &AddrInfo{
			Family: Inet4,
			Addr:   NewInet4(net.IPv4(192, 0, 2, 2), 80),
		},
	}
	if chain.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", chain.Len())
	}
	clone := chain.Clone()
	if clone.Len() != 2 {
		t.Fatalf("clone Len() = %d, want 2", clone.Len())
	}
	*clone.CanonName = "mutated"
	if *chain.CanonName == "mutated" {
		t.Fatal("mutating clone's CanonName affected the original")
	}
	clone.Addr.Raw[0] ^= 0xFF
	if string(clone.Addr.Raw) == string(chain.Addr.Raw) {
		t.Fatal("clone's Addr should be independently owned")
	}
}

func TestRedactedLeavesOriginalUntouched(t *testing.T) {
	a := NewInet4(net.IPv4(192, 0, 2, 1), 80)
	redacted := a.Redacted(anonymize.New(anonymize.Netblock))
	if a.String() == redacted.String() {
		t.Fatal("Netblock anonymization should change the printed address")
	}
	if a.AddrBytes()[3] != 1 {
		t.Fatal("Redacted should not mutate the original address")
	}
}

func TestRedactedNoneIsIdentity(t *testing.T) {
	a := NewInet4(net.IPv4(192, 0, 2, 1), 80)
	redacted := a.Redacted(anonymize.New(anonymize.None))
	if a.String() != redacted.String() {
		t.Fatalf("anonymize.None should leave the address unchanged, got %q want %q", redacted.String(), a.String())
	}
}

func TestRedactedUnixAddress(t *testing.T) {
	sa := &unix.SockaddrUnix{Name: "/tmp/mam.sock"}
	a, err := NewFromSockaddr(sa)
	if err != nil {
		t.Fatalf("NewFromSockaddr: %v", err)
	}
	redacted := a.Redacted(anonymize.New(anonymize.Netblock))
	if redacted.String() != a.String() {
		t.Fatal("Unix addresses have no IP component and should pass through Redacted unchanged")
	}
}

func TestAddrInfoAppend(t *testing.T) {
	a := &AddrInfo{Family: Inet4}
	b := &AddrInfo{Family: Inet6}
	joined := Append(a, b)
	if joined.Len() != 2 || joined.Next != b {
		t.Fatal("Append should link b after a")
	}
	if Append(nil, b) != b {
		t.Fatal("Append with nil head should return node itself")
	}
}
