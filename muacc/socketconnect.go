package muacc

import (
	"fmt"
	"log"
	"net/url"
	"strconv"

	"github.com/m-lab/muacc/mamconn"
	"github.com/m-lab/muacc/metrics"
	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/nativecall"
	"github.com/m-lab/muacc/optlist"
)

// defaultPortsByScheme covers the handful of schemes the reference
// example-client command exercises; anything else must come with an
// explicit port in rawURL.
var defaultPortsByScheme = map[string]uint16{
	"http":  80,
	"https": 443,
	"ftp":   21,
}

// SocketConnect is the all-in-one operation described in spec §4.4: parse
// rawURL, initialize a fresh context, ask the daemon to either pick an
// existing socket from the caller's set or drive a fresh connect, and
// return the context that now owns fd.
//
// fdSlot is an in/out parameter mirroring the C API's int* argument: a
// non-negative value on entry means the caller already has a descriptor it
// would like reused if the daemon agrees (socketchoose_req); on return it
// holds the descriptor the caller must use (which may be its own, if the
// daemon picked an existing entry from the set, or a freshly opened one).
func SocketConnect(fdSlot *int, rawURL string, sockopts *optlist.List, domain, typ, protocol int) (*muaccctx.Context, error) {
	host, port, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	ctx := muaccctx.Init()
	ctx.Domain, ctx.Type, ctx.Protocol = int32(domain), int32(typ), int32(protocol)
	if sockopts != nil {
		ctx.SockoptsCurrent = sockopts.Clone()
	}
	ctx.RemoteHostname = &host
	ctx.RemotePort = port

	if !ctx.TryLock() {
		// A freshly initialized context is never already locked; this path
		// exists only for symmetry with every other call-surface operation.
		muaccctx.Release(ctx)
		return nil, muaccctx.ErrContextBusy
	}

	existing := *fdSlot >= 0
	action := mamconn.ActionSocketConnectReq
	if existing {
		action = mamconn.ActionSocketChooseReq
	}

	resp, err := mamconn.RoundTrip(ctx, action)
	if err != nil {
		metrics.FallbackTotal.WithLabelValues("socketconnect", "daemon_unreachable").Inc()
		ctx.Unlock()
		muaccctx.Release(ctx)
		return nil, ErrNoDaemon
	}
	mamconn.ApplyResponse(ctx, resp)

	if existing && resp.Action == mamconn.ActionSocketChooseRespExisting {
		if resp.HasSocketsetFile {
			*fdSlot = int(resp.SocketsetFile)
		}
		ctx.MarkPerformed(muaccctx.CallConnect)
		ctx.Unlock()
		return ctx, nil
	}
	if existing {
		// resp_new: the daemon declined to hand back an existing
		// descriptor; fall through to opening one exactly as the fresh
		// path would.
		*fdSlot = -1
	}

	fd, err := nativecall.Socket(int(ctx.Domain), int(ctx.Type), int(ctx.Protocol))
	if err != nil {
		ctx.Unlock()
		muaccctx.Release(ctx)
		return nil, err
	}

	if err := applySuggestedSockopts(fd, ctx.SockoptsSuggested); err != nil {
		nativecall.Close(fd)
		ctx.Unlock()
		muaccctx.Release(ctx)
		return nil, err
	}

	if ctx.BindSaSuggested != nil {
		if berr := nativecall.Bind(fd, ctx.BindSaSuggested); berr != nil {
			log.Println("muacc: suggested bind failed (non-fatal):", berr)
		}
	}

	if ctx.RemoteSa != nil && ctx.RemoteSa.Port() == 0 {
		ctx.RemoteSa.SetPort(ctx.RemotePort)
	}
	if ctx.RemoteSa == nil {
		nativecall.Close(fd)
		ctx.Unlock()
		muaccctx.Release(ctx)
		return nil, fmt.Errorf("muacc: socketconnect daemon resolved no remote address for %q", rawURL)
	}
	if err := nativecall.Connect(fd, ctx.RemoteSa); err != nil {
		nativecall.Close(fd)
		ctx.Unlock()
		muaccctx.Release(ctx)
		return nil, err
	}

	*fdSlot = fd
	ctx.MarkPerformed(muaccctx.CallConnect)
	ctx.Unlock()
	return ctx, nil
}

// parseURL extracts a host and numeric port from rawURL, defaulting the
// port by scheme when the URL omits one.
func parseURL(rawURL string) (string, uint16, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("muacc: invalid url %q: %w", rawURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("muacc: url %q has no host", rawURL)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("muacc: url %q has invalid port: %w", rawURL, err)
		}
		return host, uint16(n), nil
	}
	if port, ok := defaultPortsByScheme[u.Scheme]; ok {
		return host, port, nil
	}
	return host, 0, nil
}
