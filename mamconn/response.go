package mamconn

import (
	"io"
	"log"

	"github.com/m-lab/muacc/addr"
	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/optlist"
	"github.com/m-lab/muacc/tlv"
)

// Response is the decoded form of whatever TLVs the daemon sent back
// (spec §4.3 response handling).
type Response struct {
	Action Action

	BindSaSuggested    *addr.Address
	RemoteSaRes        *addr.Address
	RemoteHostname     *string
	RemoteAddrInfoRes  *addr.AddrInfo
	SockoptsSuggested  *optlist.List

	// HasSocketsetFile and SocketsetFile carry the descriptor named by a
	// trailing socketset_file TLV when Action is
	// ActionSocketChooseRespExisting.
	HasSocketsetFile bool
	SocketsetFile    int32
}

// readResponse reads TLVs from r until eof, decoding each according to the
// unpack-into-context rules (spec §4.1, §4.3). An unparseable response
// yields ErrProtocol (spec §4.3: "An unparseable response yields a
// protocol error; the caller falls back.").
func readResponse(r io.Reader) (*Response, error) {
	resp := &Response{}
	for {
		tag, value, _, err := tlv.ReadTLV(r)
		if err != nil {
			return nil, ErrProtocol
		}
		if tag == tlv.TagEOF {
			return resp, nil
		}
		switch tag {
		case tlv.TagAction:
			resp.Action = decodeActionPayload(value)
		case tlv.TagBindSaRes:
			a, err := addr.ExtractSockaddr(guessFamily(value), value)
			if err != nil {
				return nil, ErrProtocol
			}
			resp.BindSaSuggested = a
		case tlv.TagRemoteSaRes:
			a, err := addr.ExtractSockaddr(guessFamily(value), value)
			if err != nil {
				return nil, ErrProtocol
			}
			resp.RemoteSaRes = a
		case tlv.TagRemoteHostname:
			s := string(value)
			resp.RemoteHostname = &s
		case tlv.TagRemoteAddrinfoRes:
			chain, err := tlv.ExtractAddrInfo(value)
			if err != nil {
				return nil, ErrProtocol
			}
			resp.RemoteAddrInfoRes = chain
		case tlv.TagSockoptsSuggested:
			list, err := tlv.ExtractSockopts(value)
			if err != nil {
				return nil, ErrProtocol
			}
			resp.SockoptsSuggested = list
		case tlv.TagSocketsetFile:
			resp.HasSocketsetFile = true
			resp.SocketsetFile = decodeFD(value)
		default:
			// Unknown tags are logged and skipped without aborting the
			// parse (spec §4.1).
			log.Printf("mamconn: skipping response tag %d (%v)", uint32(tag), tag)
		}
	}
}

// guessFamily infers the address family from the raw sockaddr's length,
// since the wire format does not carry a separate family tag alongside
// bind_sa_res/remote_sa_res (the family is encoded inside the sockaddr
// bytes themselves, as on the real kernel ABI).
func guessFamily(raw []byte) addr.Family {
	switch len(raw) {
	case 16:
		return addr.Inet4
	case 28:
		return addr.Inet6
	default:
		return addr.Unix
	}
}

func decodeFD(buf []byte) int32 {
	if len(buf) < 4 {
		return -1
	}
	return int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
}

// ApplyResponse performs the "unpack-into-context rules" of spec §4.1: each
// replaced field is dropped before the new value is installed (Go's GC
// handles the actual free; what matters is that we never leave a stale
// pointer pair around).
func ApplyResponse(ctx *muaccctx.Context, resp *Response) {
	if resp.BindSaSuggested != nil {
		ctx.BindSaSuggested = resp.BindSaSuggested
	}
	if resp.RemoteSaRes != nil {
		ctx.RemoteSa = resp.RemoteSaRes
	}
	if resp.RemoteHostname != nil {
		ctx.RemoteHostname = resp.RemoteHostname
	}
	if resp.RemoteAddrInfoRes != nil {
		ctx.RemoteAddrInfoRes = resp.RemoteAddrInfoRes
	}
	if resp.SockoptsSuggested != nil {
		ctx.SockoptsSuggested = resp.SockoptsSuggested
	}
}
