// Package addr models the sockaddr values muacc contexts carry around:
// tagged, family-specific byte blobs that round-trip bit-exactly through
// the TLV wire codec, plus the addrinfo chains getaddrinfo produces.
package addr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/m-lab/go/anonymize"
)

// Family mirrors the socket address families muacc cares about. Unlike
// syscall.AF_*, this is a closed set: the rest of the TLV tag space and
// the socket-set equivalence rule only ever reason about these three.
type Family uint8

// Supported address families.
const (
	Inet4 Family = iota
	Inet6
	Unix
)

// Errors returned by this package.
var (
	ErrShortBuffer    = errors.New("addr: buffer too short for sockaddr")
	ErrUnknownFamily  = errors.New("addr: unknown address family")
	ErrFamilyMismatch = errors.New("addr: family does not match socket domain")
)

// Address is a tagged sockaddr value. Raw holds the exact bytes of the
// OS-level sockaddr struct for Family, preserved bit-for-bit so the TLV
// codec can copy them verbatim in both directions.
type Address struct {
	Family Family
	Raw    []byte
}

// NewFromSockaddr converts a golang.org/x/sys/unix.Sockaddr, as returned by
// unix.Getsockname/Accept/etc, into an Address with the same raw bytes the
// kernel would hand back from a sockaddr_storage.
func NewFromSockaddr(sa unix.Sockaddr) (*Address, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		raw := unix.RawSockaddrInet4{
			Family: unix.AF_INET,
		}
		binary.BigEndian.PutUint16(rawBytes(unsafe.Pointer(&raw.Port), 2), uint16(v.Port))
		copy(raw.Addr[:], v.Addr[:])
		return &Address{Family: Inet4, Raw: append([]byte(nil), rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw)))...)}, nil
	case *unix.SockaddrInet6:
		raw := unix.RawSockaddrInet6{
			Family:   unix.AF_INET6,
			Scope_id: v.ZoneId,
		}
		binary.BigEndian.PutUint16(rawBytes(unsafe.Pointer(&raw.Port), 2), uint16(v.Port))
		copy(raw.Addr[:], v.Addr[:])
		return &Address{Family: Inet6, Raw: append([]byte(nil), rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw)))...)}, nil
	case *unix.SockaddrUnix:
		raw := unix.RawSockaddrUnix{Family: unix.AF_UNIX}
		copyPath(raw.Path[:], v.Name)
		return &Address{Family: Unix, Raw: append([]byte(nil), rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw)))...)}, nil
	default:
		return nil, ErrUnknownFamily
	}
}

// NewInet4 builds an Address for an IPv4 host:port pair.
func NewInet4(ip net.IP, port uint16) *Address {
	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], ip.To4())
	a, _ := NewFromSockaddr(sa)
	return a
}

// NewInet6 builds an Address for an IPv6 host:port pair.
func NewInet6(ip net.IP, port uint16) *Address {
	sa := &unix.SockaddrInet6{Port: int(port)}
	copy(sa.Addr[:], ip.To16())
	a, _ := NewFromSockaddr(sa)
	return a
}

// copyPath copies a path string into a fixed-size int8 array field, the
// shape unix.RawSockaddrUnix.Path has on every platform.
func copyPath(dst []int8, src string) {
	n := len(src)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int8(src[i])
	}
}

// rawBytes returns a byte slice view of the n bytes starting at p. Used to
// copy fixed-layout unix.RawSockaddr* structs into wire bytes, mirroring the
// teacher's use of unsafe.Pointer casts to serialize fixed linux structs
// (inetdiag.LinuxSockID, inetdiag.InetDiagMsg).
func rawBytes(p unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(p), n)
}

// ExtractSockaddr copies raw into a freshly allocated Address of the given
// family, failing on a short buffer. This backs the TLV codec's
// extract_sockaddr contract (spec §4.1): the bytes are copied exactly, never
// reinterpreted.
func ExtractSockaddr(family Family, raw []byte) (*Address, error) {
	n := sockaddrLen(family)
	if len(raw) < n {
		return nil, ErrShortBuffer
	}
	cp := make([]byte, n)
	copy(cp, raw[:n])
	return &Address{Family: family, Raw: cp}, nil
}

func sockaddrLen(f Family) int {
	switch f {
	case Inet4:
		return int(unsafe.Sizeof(unix.RawSockaddrInet4{}))
	case Inet6:
		return int(unsafe.Sizeof(unix.RawSockaddrInet6{}))
	case Unix:
		return int(unsafe.Sizeof(unix.RawSockaddrUnix{}))
	default:
		return 0
	}
}

// Clone returns a deep, independently owned copy of a. Safe to call on a
// nil *Address (returns nil), matching the "absence means no record"
// convention used throughout the context's owned graph.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	cp := make([]byte, len(a.Raw))
	copy(cp, a.Raw)
	return &Address{Family: a.Family, Raw: cp}
}

// AddrBytes returns just the address portion (4 bytes for inet4, 16 for
// inet6), the subset the socket-set equivalence rule in spec §3.2 compares.
// Returns nil for Unix, which has no fixed-width address component.
func (a *Address) AddrBytes() []byte {
	if a == nil {
		return nil
	}
	switch a.Family {
	case Inet4:
		var raw unix.RawSockaddrInet4
		if len(a.Raw) < int(unsafe.Sizeof(raw)) {
			return nil
		}
		copy(rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw))), a.Raw)
		return append([]byte(nil), raw.Addr[:]...)
	case Inet6:
		var raw unix.RawSockaddrInet6
		if len(a.Raw) < int(unsafe.Sizeof(raw)) {
			return nil
		}
		copy(rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw))), a.Raw)
		return append([]byte(nil), raw.Addr[:]...)
	default:
		return nil
	}
}

// Port returns the address's port in host byte order, or 0 for Unix
// addresses.
func (a *Address) Port() uint16 {
	if a == nil {
		return 0
	}
	switch a.Family {
	case Inet4:
		var raw unix.RawSockaddrInet4
		copy(rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw))), a.Raw)
		return binary.BigEndian.Uint16(rawBytes(unsafe.Pointer(&raw.Port), 2))
	case Inet6:
		var raw unix.RawSockaddrInet6
		copy(rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw))), a.Raw)
		return binary.BigEndian.Uint16(rawBytes(unsafe.Pointer(&raw.Port), 2))
	default:
		return 0
	}
}

// SetPort overwrites the port field in place, used by muacc.SocketConnect to
// inject the resolved remote port into a daemon-chosen address (spec §4.4
// step 7).
func (a *Address) SetPort(port uint16) {
	if a == nil {
		return
	}
	switch a.Family {
	case Inet4:
		if len(a.Raw) < int(unsafe.Sizeof(unix.RawSockaddrInet4{})) {
			return
		}
		binary.BigEndian.PutUint16(portFieldOffset(a.Raw, 2), port)
	case Inet6:
		if len(a.Raw) < int(unsafe.Sizeof(unix.RawSockaddrInet6{})) {
			return
		}
		binary.BigEndian.PutUint16(portFieldOffset(a.Raw, 2), port)
	}
}

// portFieldOffset returns the 2 bytes following the family field, which is
// where sockaddr_in/sockaddr_in6 both place sin_port.
func portFieldOffset(raw []byte, n int) []byte {
	return raw[2 : 2+n]
}

// Equal reports whether a and b are equivalent for the socket-set key:
// same family, same address bytes. Ports are deliberately ignored (spec
// §3.2, §8 boundary behavior: "find_set_for_ctx treats addresses with
// matching bytes but differing ports as equivalent").
func (a *Address) Equal(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Family != b.Family {
		return false
	}
	if a.Family == Unix {
		return string(a.Raw) == string(b.Raw)
	}
	ab, bb := a.AddrBytes(), b.AddrBytes()
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}

// ValidateDomain checks the invariant from spec §3.1: "If remote_sa is set
// and domain is inet4 or inet6, the family in the address matches domain."
func ValidateDomain(a *Address, domain int) error {
	if a == nil {
		return nil
	}
	switch domain {
	case unix.AF_INET:
		if a.Family != Inet4 {
			return fmt.Errorf("%w: domain=AF_INET addr family=%d", ErrFamilyMismatch, a.Family)
		}
	case unix.AF_INET6:
		if a.Family != Inet6 {
			return fmt.Errorf("%w: domain=AF_INET6 addr family=%d", ErrFamilyMismatch, a.Family)
		}
	}
	return nil
}

// Sockaddr converts back to a unix.Sockaddr suitable for the native
// syscalls (bind, connect).
func (a *Address) Sockaddr() (unix.Sockaddr, error) {
	if a == nil {
		return nil, ErrShortBuffer
	}
	switch a.Family {
	case Inet4:
		var raw unix.RawSockaddrInet4
		if len(a.Raw) < int(unsafe.Sizeof(raw)) {
			return nil, ErrShortBuffer
		}
		copy(rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw))), a.Raw)
		sa := &unix.SockaddrInet4{Port: int(a.Port())}
		copy(sa.Addr[:], raw.Addr[:])
		return sa, nil
	case Inet6:
		var raw unix.RawSockaddrInet6
		if len(a.Raw) < int(unsafe.Sizeof(raw)) {
			return nil, ErrShortBuffer
		}
		copy(rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw))), a.Raw)
		sa := &unix.SockaddrInet6{Port: int(a.Port()), ZoneId: raw.Scope_id}
		copy(sa.Addr[:], raw.Addr[:])
		return sa, nil
	case Unix:
		var raw unix.RawSockaddrUnix
		if len(a.Raw) < int(unsafe.Sizeof(raw)) {
			return nil, ErrShortBuffer
		}
		copy(rawBytes(unsafe.Pointer(&raw), int(unsafe.Sizeof(raw))), a.Raw)
		n := 0
		for n < len(raw.Path) && raw.Path[n] != 0 {
			n++
		}
		b := make([]byte, n)
		for i := 0; i < n; i++ {
			b[i] = byte(raw.Path[i])
		}
		return &unix.SockaddrUnix{Name: string(b)}, nil
	default:
		return nil, ErrUnknownFamily
	}
}

// MarshalCSV renders a as a single CSV field, mirroring the teacher's
// inetdiag.ipType/Port MarshalCSV convention for nontrivial binary fields.
// It returns the same text as String.
func (a *Address) MarshalCSV() (string, error) {
	return a.String(), nil
}

// String renders a human-readable form, used by Context.String (spec §4.2
// print) and never mutates the receiver.
func (a *Address) String() string {
	if a == nil {
		return "<nil>"
	}
	switch a.Family {
	case Inet4, Inet6:
		b := a.AddrBytes()
		ip := net.IP(b)
		return fmt.Sprintf("%s:%d", ip.String(), a.Port())
	case Unix:
		sa, err := a.Sockaddr()
		if err != nil {
			return "<unix:invalid>"
		}
		return "unix:" + sa.(*unix.SockaddrUnix).Name
	default:
		return "<unknown>"
	}
}

// Redacted returns a clone of a with its IP address bytes anonymized by anon,
// for logging contexts that must not record raw client addresses. Unix
// addresses have no IP component and are returned unchanged (cloned but not
// anonymized), matching anon.IP's own no-op behavior on non-IP input.
func (a *Address) Redacted(anon anonymize.IPAnonymizer) *Address {
	cp := a.Clone()
	if cp == nil || cp.Family == Unix {
		return cp
	}
	b := cp.AddrBytes()
	anon.IP(net.IP(b))
	switch cp.Family {
	case Inet4:
		copy(cp.Raw[4:8], b)
	case Inet6:
		copy(cp.Raw[8:24], b)
	}
	return cp
}
