package muacc

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/m-lab/muacc/addr"
	"github.com/m-lab/muacc/mamconn"
	"github.com/m-lab/muacc/metrics"
	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/nativecall"
	"github.com/m-lab/muacc/optlist"
)

// Socket creates a new socket, recording the (domain, type, protocol)
// triple and the resulting inode on ctx. There is no daemon round trip for
// this call (spec §4.4: socket() is purely local bookkeeping).
func Socket(ctx *muaccctx.Context, domain, typ, protocol int) (int, error) {
	if ctx == nil {
		return 0, muaccctx.ErrNullContext
	}
	if !ctx.TryLock() {
		metrics.ContextBusyTotal.WithLabelValues("socket").Inc()
		return nativecall.Socket(domain, typ, protocol)
	}
	defer ctx.Unlock()

	fd, err := nativecall.Socket(domain, typ, protocol)
	if err != nil {
		return 0, err
	}
	ctx.Domain, ctx.Type, ctx.Protocol = int32(domain), int32(typ), int32(protocol)
	if inode, ierr := nativecall.Fstat(fd); ierr == nil {
		ctx.Inode = inode
	}
	ctx.MarkPerformed(muaccctx.CallSocket)
	return fd, nil
}

// Bind binds fd to a, recording a as bind_sa_req on success. There is no
// daemon round trip for this call (spec §4.4).
func Bind(ctx *muaccctx.Context, fd int, a *addr.Address) error {
	if ctx == nil {
		return muaccctx.ErrNullContext
	}
	if !ctx.TryLock() {
		metrics.ContextBusyTotal.WithLabelValues("bind").Inc()
		return nativecall.Bind(fd, a)
	}
	defer ctx.Unlock()

	if err := nativecall.Bind(fd, a); err != nil {
		return err
	}
	ctx.BindSaReq = a.Clone()
	ctx.MarkPerformed(muaccctx.CallBind)
	return nil
}

// SetSockopt installs an option. Options at optlist.IntentsLevel are
// recorded in sockopts_current only, never forwarded to the kernel
// (spec §3.1's intents are policy hints, not kernel state); every other
// option is applied natively first and recorded only on success.
func SetSockopt(ctx *muaccctx.Context, fd, level, name int, value []byte) error {
	if ctx == nil {
		return muaccctx.ErrNullContext
	}
	if !ctx.TryLock() {
		metrics.ContextBusyTotal.WithLabelValues("setsockopt").Inc()
		if level == int(optlist.IntentsLevel) {
			// No kernel-level fallback exists for a pure intent hint; it is
			// dropped rather than surfaced as an error.
			return nil
		}
		return nativecall.SetSockopt(fd, level, name, value)
	}
	defer ctx.Unlock()

	if level == int(optlist.IntentsLevel) {
		ctx.SockoptsCurrent.OverwriteByName(&optlist.Option{
			Level: optlist.IntentsLevel,
			Name:  int32(name),
			Value: append([]byte(nil), value...),
			Flags: optlist.IsSet,
		})
		return nil
	}

	if err := nativecall.SetSockopt(fd, level, name, value); err != nil {
		return err
	}
	ctx.SockoptsCurrent.OverwriteByName(&optlist.Option{
		Level: int32(level),
		Name:  int32(name),
		Value: append([]byte(nil), value...),
		Flags: optlist.IsSet,
	})
	return nil
}

// GetSockopt reads an option's current value. Options at
// optlist.IntentsLevel are answered from sockopts_current, failing with
// ErrOptionMissing if no such intent was ever set; every other option is
// read natively.
func GetSockopt(ctx *muaccctx.Context, fd, level, name, maxLen int) ([]byte, error) {
	if ctx == nil {
		return nil, muaccctx.ErrNullContext
	}
	if !ctx.TryLock() {
		metrics.ContextBusyTotal.WithLabelValues("getsockopt").Inc()
		if level == int(optlist.IntentsLevel) {
			return nil, muaccctx.ErrOptionMissing
		}
		return nativecall.GetSockopt(fd, level, name, maxLen)
	}
	defer ctx.Unlock()

	if level == int(optlist.IntentsLevel) {
		opt := ctx.SockoptsCurrent.FindByName(optlist.IntentsLevel, int32(name))
		if opt == nil {
			return nil, muaccctx.ErrOptionMissing
		}
		return append([]byte(nil), opt.Value...), nil
	}
	return nativecall.GetSockopt(fd, level, name, maxLen)
}

// GetAddrInfo resolves host/service, consulting the daemon first: if its
// response carries a resolved chain it is used and recorded; otherwise a
// native resolve is performed and its result recorded instead (spec §4.4).
func GetAddrInfo(ctx *muaccctx.Context, host, service string, hints *addr.AddrInfo) (*addr.AddrInfo, error) {
	if ctx == nil {
		return nil, muaccctx.ErrNullContext
	}
	if !ctx.TryLock() {
		metrics.ContextBusyTotal.WithLabelValues("getaddrinfo").Inc()
		return nativecall.GetAddrInfo(context.Background(), host, service, hints)
	}
	defer ctx.Unlock()

	h := host
	ctx.RemoteHostname = &h
	ctx.RemoteAddrInfoHint = hints.Clone()
	ctx.RemoteAddrInfoRes = nil

	resp, err := mamconn.RoundTrip(ctx, mamconn.ActionGetAddrInfoResolveReq)
	if err != nil {
		metrics.FallbackTotal.WithLabelValues("getaddrinfo", "daemon_unreachable").Inc()
		res, nerr := nativecall.GetAddrInfo(context.Background(), host, service, hints)
		if nerr == nil {
			ctx.RemoteAddrInfoRes = res.Clone()
		}
		ctx.MarkPerformed(muaccctx.CallGetAddrInfo)
		return res, nerr
	}

	mamconn.ApplyResponse(ctx, resp)
	if resp.RemoteAddrInfoRes != nil {
		ctx.MarkPerformed(muaccctx.CallGetAddrInfo)
		return ctx.RemoteAddrInfoRes.Clone(), nil
	}

	res, nerr := nativecall.GetAddrInfo(context.Background(), host, service, hints)
	if nerr == nil {
		ctx.RemoteAddrInfoRes = res.Clone()
	}
	ctx.MarkPerformed(muaccctx.CallGetAddrInfo)
	return res, nerr
}

// Close performs a native close, then releases the context, and mirrors the
// C API's muacc_context_t convention of zeroing the caller's handle after
// close: ctxHandle is set to nil on return so the caller cannot
// accidentally reuse a released context. If the context is busy, only the
// native close is performed; the context is neither released nor cleared
// from ctxHandle.
func Close(ctxHandle **muaccctx.Context, fd int) error {
	ctx := *ctxHandle
	if ctx == nil {
		return nativecall.Close(fd)
	}
	if !ctx.TryLock() {
		metrics.ContextBusyTotal.WithLabelValues("close").Inc()
		return nativecall.Close(fd)
	}

	err := nativecall.Close(fd)
	ctx.MarkPerformed(muaccctx.CallClose)
	ctx.Unlock()
	muaccctx.Release(ctx)
	*ctxHandle = nil
	return err
}

// domainFromFamily maps an addr.Family to the corresponding AF_* domain
// constant, used by Connect to keep ctx.Domain consistent with remote_sa.
func domainFromFamily(f addr.Family) int32 {
	switch f {
	case addr.Inet4:
		return unix.AF_INET
	case addr.Inet6:
		return unix.AF_INET6
	case addr.Unix:
		return unix.AF_UNIX
	default:
		return 0
	}
}
