// Package nativecall wraps the OS socket API muacc falls back to on every
// failure edge: socket, bind, connect, setsockopt, getsockopt, close,
// getaddrinfo, and fstat (spec §6's "OS socket API" collaborator). Nothing
// in this package consults the MAM daemon; it is the bottom of every
// fallback path.
package nativecall

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/m-lab/muacc/addr"
)

// Socket creates a new socket with the given domain/type/protocol triple,
// mirroring the POSIX socket(2) call.
func Socket(domain, typ, protocol int) (int, error) {
	return unix.Socket(domain, typ, protocol)
}

// Bind binds fd to a.
func Bind(fd int, a *addr.Address) error {
	sa, err := a.Sockaddr()
	if err != nil {
		return err
	}
	return unix.Bind(fd, sa)
}

// Connect connects fd to a.
func Connect(fd int, a *addr.Address) error {
	sa, err := a.Sockaddr()
	if err != nil {
		return err
	}
	return unix.Connect(fd, sa)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// SetSockopt sets an arbitrary byte-valued option at (level, name). unix's
// typed Setsockopt* helpers only cover int/string-shaped options, so for
// intent-carrying arbitrary-length values we drop to the raw syscall the
// way the teacher's uuid package does for SO_COOKIE (uuid/uuid.go's
// getCookie calls syscall.Syscall6 directly for the same reason: the
// typed helpers don't cover this shape).
func SetSockopt(fd, level, name int, value []byte) error {
	if len(value) == 0 {
		return unix.SetsockoptInt(fd, level, name, 0)
	}
	_, _, errno := syscall.Syscall6(
		uintptr(syscall.SYS_SETSOCKOPT),
		uintptr(fd),
		uintptr(level),
		uintptr(name),
		uintptr(unsafe.Pointer(&value[0])),
		uintptr(len(value)),
		0)
	if errno != 0 {
		return errno
	}
	return nil
}

// GetSockopt reads up to maxLen bytes of an option's current value at
// (level, name).
func GetSockopt(fd, level, name, maxLen int) ([]byte, error) {
	value := make([]byte, maxLen)
	vallen := uint32(maxLen)
	_, _, errno := syscall.Syscall6(
		uintptr(syscall.SYS_GETSOCKOPT),
		uintptr(fd),
		uintptr(level),
		uintptr(name),
		uintptr(unsafe.Pointer(&value[0])),
		uintptr(unsafe.Pointer(&vallen)),
		0)
	if errno != 0 {
		return nil, errno
	}
	return value[:vallen], nil
}

// Fstat returns the inode number backing fd, used as a socket-set
// equivalence aid (spec §3.1's inode field).
func Fstat(fd int) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, err
	}
	return uint64(st.Ino), nil
}

// GetAddrInfo resolves host/service into an addr.AddrInfo chain using the
// stdlib resolver (net.Resolver), which is the idiomatic Go substitute for
// libc's getaddrinfo(3): this module never reimplements name resolution
// (spec §1 lists "URL parsing" and implicitly the resolver itself among
// the external collaborators accessed only through interfaces, not
// reimplemented).
func GetAddrInfo(ctx context.Context, host, service string, hint *addr.AddrInfo) (*addr.AddrInfo, error) {
	var resolver net.Resolver

	family := "ip"
	if hint != nil {
		switch hint.Family {
		case addr.Inet4:
			family = "ip4"
		case addr.Inet6:
			family = "ip6"
		}
	}

	ips, err := resolver.LookupIP(ctx, family, host)
	if err != nil {
		return nil, err
	}

	port, err := resolvePort(service)
	if err != nil {
		return nil, err
	}

	var head, tail *addr.AddrInfo
	for _, ip := range ips {
		node := &addr.AddrInfo{}
		if ip4 := ip.To4(); ip4 != nil {
			node.Family = addr.Inet4
			node.Addr = addr.NewInet4(ip4, port)
		} else {
			node.Family = addr.Inet6
			node.Addr = addr.NewInet6(ip, port)
		}
		if hint != nil {
			node.SockType = hint.SockType
			node.Protocol = hint.Protocol
			node.Flags = hint.Flags
		}
		if head == nil {
			head = node
		} else {
			tail.Next = node
		}
		tail = node
	}
	return head, nil
}

func resolvePort(service string) (uint16, error) {
	if service == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(service); err == nil {
		return uint16(n), nil
	}
	port, err := net.LookupPort("tcp", service)
	if err != nil {
		return 0, fmt.Errorf("nativecall: could not resolve service %q: %w", service, err)
	}
	return uint16(port), nil
}
