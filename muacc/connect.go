package muacc

import (
	"log"

	"github.com/m-lab/muacc/addr"
	"github.com/m-lab/muacc/mamconn"
	"github.com/m-lab/muacc/metrics"
	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/nativecall"
	"github.com/m-lab/muacc/optlist"
)

// Connect records a as remote_sa, consults the daemon, applies whatever the
// daemon suggested, and finally connects fd natively (spec §4.4). Any
// daemon/channel/codec failure falls back to a plain native connect to the
// caller's own address, with nothing suggested applied.
func Connect(ctx *muaccctx.Context, fd int, a *addr.Address) error {
	if ctx == nil {
		return muaccctx.ErrNullContext
	}
	if !ctx.TryLock() {
		metrics.ContextBusyTotal.WithLabelValues("connect").Inc()
		return nativecall.Connect(fd, a)
	}
	defer ctx.Unlock()

	ctx.RemoteSa = a.Clone()
	ctx.Domain = domainFromFamily(a.Family)

	resp, err := mamconn.RoundTrip(ctx, mamconn.ActionConnectReq)
	if err != nil {
		metrics.FallbackTotal.WithLabelValues("connect", "daemon_unreachable").Inc()
		return nativecall.Connect(fd, a)
	}
	mamconn.ApplyResponse(ctx, resp)

	if ctx.BindSaReq == nil && ctx.BindSaSuggested != nil {
		if berr := nativecall.Bind(fd, ctx.BindSaSuggested); berr != nil {
			log.Println("muacc: suggested bind failed (non-fatal):", berr)
		}
	}

	if err := applySuggestedSockopts(fd, ctx.SockoptsSuggested); err != nil {
		return err
	}

	target := ctx.RemoteSa
	if target == nil {
		target = a
	}
	if err := nativecall.Connect(fd, target); err != nil {
		return err
	}
	ctx.MarkPerformed(muaccctx.CallConnect)
	return nil
}

// applySuggestedSockopts applies every non-intent option in suggested to
// fd. A failure on an Optional option is logged and tolerated; a failure on
// a required one aborts and is returned (spec §4.4: "applying a suggested
// option whose OPTIONAL flag is clear fails the whole connect attempt").
func applySuggestedSockopts(fd int, suggested *optlist.List) error {
	var failErr error
	suggested.Each(func(o *optlist.Option) {
		if failErr != nil || o.Level == optlist.IntentsLevel {
			return
		}
		if err := nativecall.SetSockopt(fd, int(o.Level), int(o.Name), o.Value); err != nil {
			if o.Flags&optlist.Optional != 0 {
				log.Println("muacc: optional suggested sockopt failed (non-fatal):", err)
				return
			}
			failErr = err
		}
	})
	return failErr
}
