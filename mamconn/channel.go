package mamconn

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/m-lab/muacc/metrics"
	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/tlv"
)

// DefaultSocketPath is the well-known filesystem path the MAM daemon
// listens on (spec §6). Overridable by the cmd/ entry points' flags.
var DefaultSocketPath = "/var/run/mam/mam.sock"

// DialTimeout bounds how long establishing the channel may block before
// the caller falls back to the native call.
var DialTimeout = 200 * time.Millisecond

// Errors returned by this package.
var (
	ErrChannelClosed   = errors.New("mamconn: channel closed")
	ErrProtocol        = errors.New("mamconn: unparseable response")
	ErrUnknownResponse = errors.New("mamconn: unexpected action in response")
)

// Channel is a single-flight, lazily-established stream connection to the
// MAM daemon (spec §4.3). It implements muaccctx.DaemonChannel.
type Channel struct {
	conn net.Conn
}

var _ muaccctx.DaemonChannel = (*Channel)(nil)

// Dial opens a new Channel to path, or DefaultSocketPath if path is empty.
func Dial(path string) (*Channel, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		metrics.DaemonDialFailures.Inc()
		return nil, err
	}
	return &Channel{conn: conn}, nil
}

// Closed reports whether the channel has no live connection.
func (c *Channel) Closed() bool {
	return c == nil || c.conn == nil
}

// Close tears down the underlying connection.
func (c *Channel) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ensure returns ctx's channel, dialing a fresh one if absent or previously
// marked closed (spec §4.3: "Lazily established on first contact request.
// After connect failure the channel is marked absent and retried on the
// next request.").
func ensure(ctx *muaccctx.Context) (*Channel, error) {
	if ctx.Mamsock != nil {
		if ch, ok := ctx.Mamsock.(*Channel); ok && !ch.Closed() {
			return ch, nil
		}
	}
	ch, err := Dial("")
	if err != nil {
		ctx.Mamsock = nil
		return nil, err
	}
	ctx.Mamsock = ch
	return ch, nil
}

// RoundTrip sends a request for action built from ctx's current state,
// reads the daemon's response, and returns it decoded (spec §4.3). It does
// not itself apply the response to ctx; callers do that via ApplyResponse
// so that callers needing only the socket-choose fields can skip the rest.
//
// The context lock must already be held by the caller (spec §4.3: "no
// concurrent use within one context, guarded by the context lock").
func RoundTrip(ctx *muaccctx.Context, action Action) (*Response, error) {
	ch, err := ensure(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	req := PackCtx(action, ctx)
	if _, err := ch.conn.Write(req.Bytes()); err != nil {
		log.Println("mamconn: write failed, falling back:", err)
		ch.Close()
		ctx.Mamsock = nil
		metrics.DaemonRoundTripFailures.Inc()
		return nil, err
	}

	resp, err := readResponse(ch.conn)
	metrics.DaemonRoundTripLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Println("mamconn: response read failed, falling back:", err)
		ch.Close()
		ctx.Mamsock = nil
		metrics.DaemonRoundTripFailures.Inc()
		return nil, err
	}
	return resp, nil
}

// PackCtx serializes action and the subset of ctx's fields spec §4.3
// names, in the fixed order it specifies, terminated by eof. Fields that
// are nil/empty are simply not emitted.
func PackCtx(action Action, ctx *muaccctx.Context) *tlv.Buffer {
	buf := tlv.NewBuffer(tlvBufferSize)
	_ = buf.Push(tlv.TagAction, actionPayload(action))
	if ctx.BindSaReq != nil {
		_ = buf.Push(tlv.TagBindSaReq, ctx.BindSaReq.Raw)
	}
	if ctx.BindSaSuggested != nil {
		_ = buf.Push(tlv.TagBindSaRes, ctx.BindSaSuggested.Raw)
	}
	if ctx.RemoteSa != nil {
		_ = buf.Push(tlv.TagRemoteSaReq, ctx.RemoteSa.Raw)
	}
	// remote_sa_res is never populated by any client code path (spec §9);
	// the tag exists in the codec but client packing never emits it.
	if ctx.RemoteHostname != nil {
		_ = buf.Push(tlv.TagRemoteHostname, []byte(*ctx.RemoteHostname))
	}
	// remote_srvname/remote_port are never packed onto the wire (spec §4.3's
	// closed field list): remote_port is applied client-side only, after the
	// round trip, by muacc.SocketConnect.
	_ = buf.PushAddrInfo(tlv.TagRemoteAddrinfoHint, ctx.RemoteAddrInfoHint)
	_ = buf.PushAddrInfo(tlv.TagRemoteAddrinfoRes, ctx.RemoteAddrInfoRes)
	_ = buf.PushSockopts(tlv.TagSockoptsCurrent, ctx.SockoptsCurrent)
	_ = buf.PushSockopts(tlv.TagSockoptsSuggested, ctx.SockoptsSuggested)
	_ = buf.Push(tlv.TagCtxid, ctx.ID[:])
	_ = buf.PushEOF()
	return buf
}

// tlvBufferSize bounds a single packed request/response, mirroring
// MUACC_TLV_MAXLEN from the original C headers.
const tlvBufferSize = 2048
