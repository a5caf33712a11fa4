// Package tlvserver implements the incremental, non-blocking side of the
// TLV codec (spec §4.1's proc_tlv_event): it consumes complete records out
// of an accumulating read buffer and applies the unpack-into-context rules
// as each one arrives, without ever blocking for more bytes. This is the
// reference MAM daemon's half of the protocol; package mamconn implements
// the client's synchronous half (tlv.ReadTLV over a blocking stream).
package tlvserver

import (
	"errors"

	"github.com/m-lab/muacc/addr"
	"github.com/m-lab/muacc/mamconn"
	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/tlv"
)

// Status reports what ProcessEvent did with the bytes it was given.
type Status int

// Status values.
const (
	// StatusConsumed means one complete record was parsed and applied;
	// Consumed bytes should be dropped from the caller's read buffer.
	StatusConsumed Status = iota
	// StatusTooShort means buf holds an incomplete record; the caller must
	// accumulate more bytes before calling again (spec §4.1: "returns
	// TOO_SHORT if a record is partially present").
	StatusTooShort
	// StatusEOF means the terminating eof record was consumed; the request
	// is complete.
	StatusEOF
)

// ErrUnknownAction is returned when an action TLV carries a code outside
// mamconn's closed action-code set (spec §4.1: "unknown actions yield an
// error response").
var ErrUnknownAction = errors.New("tlvserver: unknown action code")

// Child is one socket-set member context accumulated while parsing a
// socketset_file-delimited run of records (spec §4.1: "in server
// incremental mode [socketset_file] starts a new socket-set child context
// or attaches further TLVs to the last-added child").
type Child struct {
	Fd  int32
	Ctx *muaccctx.Context
}

// Parser holds the incremental decode state for one in-flight request:
// the root context every record applies to by default, the action it has
// seen so far, and any socket-set children a socketset_file tag has
// opened.
type Parser struct {
	Root     *muaccctx.Context
	Action   mamconn.Action
	Children []*Child
}

// NewParser returns a Parser that will decode directly into root.
func NewParser(root *muaccctx.Context) *Parser {
	return &Parser{Root: root}
}

// target returns the context the next non-socketset_file record should
// mutate: the last-opened child if one is open, else Root.
func (p *Parser) target() *muaccctx.Context {
	if n := len(p.Children); n > 0 {
		return p.Children[n-1].Ctx
	}
	return p.Root
}

// ProcessEvent attempts to consume exactly one record from the front of
// buf. It never blocks: if buf does not yet hold a complete record it
// returns (StatusTooShort, 0, nil) and the caller is expected to read more
// bytes and retry with the enlarged buffer.
func (p *Parser) ProcessEvent(buf []byte) (Status, int, error) {
	tag, length, ok := tlv.PeekHeader(buf)
	if !ok {
		return StatusTooShort, 0, nil
	}
	total := tlv.HeaderSize + int(length)
	if len(buf) < total {
		return StatusTooShort, 0, nil
	}
	if tag == tlv.TagEOF {
		return StatusEOF, tlv.HeaderSize, nil
	}

	value := buf[tlv.HeaderSize:total]
	if err := p.apply(tag, value); err != nil {
		return StatusConsumed, total, err
	}
	return StatusConsumed, total, nil
}

// Drain repeatedly calls ProcessEvent over buf until it sees StatusEOF,
// StatusTooShort, or an error, returning the total number of bytes
// consumed and whether the request is complete.
func (p *Parser) Drain(buf []byte) (consumed int, done bool, err error) {
	for {
		status, n, perr := p.ProcessEvent(buf[consumed:])
		if perr != nil {
			return consumed, false, perr
		}
		switch status {
		case StatusTooShort:
			return consumed, false, nil
		case StatusEOF:
			return consumed + n, true, nil
		default:
			consumed += n
			if n == 0 {
				// Defensive: a well-formed codec never returns StatusConsumed
				// with zero bytes, but refuse to spin if it ever does.
				return consumed, false, nil
			}
		}
	}
}

// apply performs the unpack-into-context rules of spec §4.1 for a single
// decoded record, against whatever target() currently is.
func (p *Parser) apply(tag tlv.Tag, value []byte) error {
	switch tag {
	case tlv.TagAction:
		p.Action = mamconn.DecodeAction(value)
		if p.Action <= 0 || p.Action > mamconn.ActionErrorUnknownRequest {
			return ErrUnknownAction
		}
	case tlv.TagBindSaReq:
		a, err := addr.ExtractSockaddr(guessFamily(value), value)
		if err != nil {
			return err
		}
		p.target().BindSaReq = a
	case tlv.TagBindSaRes:
		a, err := addr.ExtractSockaddr(guessFamily(value), value)
		if err != nil {
			return err
		}
		p.target().BindSaSuggested = a
	case tlv.TagRemoteSaReq, tlv.TagRemoteSaRes:
		a, err := addr.ExtractSockaddr(guessFamily(value), value)
		if err != nil {
			return err
		}
		p.target().RemoteSa = a
	case tlv.TagRemoteHostname:
		s := string(value)
		p.target().RemoteHostname = &s
	case tlv.TagRemoteSrvname:
		s := string(value)
		p.target().RemoteService = &s
	case tlv.TagRemotePort:
		if len(value) >= 2 {
			p.target().RemotePort = uint16(value[0]) | uint16(value[1])<<8
		}
	case tlv.TagRemoteAddrinfoHint:
		chain, err := tlv.ExtractAddrInfo(value)
		if err != nil {
			return err
		}
		p.target().RemoteAddrInfoHint = chain
	case tlv.TagRemoteAddrinfoRes:
		chain, err := tlv.ExtractAddrInfo(value)
		if err != nil {
			return err
		}
		p.target().RemoteAddrInfoRes = chain
	case tlv.TagSockoptsCurrent:
		list, err := tlv.ExtractSockopts(value)
		if err != nil {
			return err
		}
		p.target().SockoptsCurrent = list
	case tlv.TagSockoptsSuggested:
		list, err := tlv.ExtractSockopts(value)
		if err != nil {
			return err
		}
		p.target().SockoptsSuggested = list
	case tlv.TagSocketsetFile:
		fd := decodeFD(value)
		clone, err := muaccctx.Clone(p.Root)
		if err != nil {
			return err
		}
		p.Children = append(p.Children, &Child{Fd: fd, Ctx: clone})
	case tlv.TagCtxid:
		if len(value) == len(p.target().ID) {
			copy(p.target().ID[:], value)
		}
	case tlv.TagActionErrorCodes:
		// Carries a server-assigned error code on a response the parser is
		// reused to decode; nothing to apply to the context itself.
	default:
		// Unknown tags are skipped without aborting the parse (spec §4.1).
	}
	return nil
}

// guessFamily infers the address family from a raw sockaddr's length, the
// same heuristic package mamconn's response reader uses on the client
// side, since the wire format carries the family inside the sockaddr bytes
// rather than as a separate tag.
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
