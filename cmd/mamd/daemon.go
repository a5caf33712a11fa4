package main

import (
	"context"
	"log"
	"net"
	"os"
	"sync"

	"github.com/m-lab/muacc/mamconn"
	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/socketset"
	"github.com/m-lab/muacc/tlv"
	"github.com/m-lab/muacc/tlvserver"
)

// daemon accepts connections on a Unix-domain socket and answers each
// request strictly in order, mirroring eventsocket.server's Listen/Serve
// split but for a request/response protocol rather than a broadcast feed.
type daemon struct {
	filename        string
	preferInterface bool
	dumpCSVPath     string

	listener net.Listener

	mu       sync.Mutex
	registry *socketset.Registry
	nextSlot int
}

func newDaemon(filename string, preferInterface bool, dumpCSVPath string) *daemon {
	return &daemon{
		filename:        filename,
		preferInterface: preferInterface,
		dumpCSVPath:     dumpCSVPath,
		registry:        socketset.New(),
	}
}

// Listen opens the Unix-domain socket, removing any stale file left behind
// by an unclean shutdown first (grounded on eventsocket.server.Listen).
func (d *daemon) Listen() error {
	os.Remove(d.filename)
	l, err := net.Listen("unix", d.filename)
	if err != nil {
		return err
	}
	d.listener = l
	return nil
}

// Serve accepts connections until ctx is canceled, handling each on its own
// goroutine (grounded on eventsocket.server.Serve's accept loop).
func (d *daemon) Serve(ctx context.Context) error {
	if d.dumpCSVPath != "" {
		go d.dumpCSVLoop(ctx)
	}

	go func() {
		<-ctx.Done()
		d.listener.Close()
	}()

	var wg sync.WaitGroup
	var err error
	for ctx.Err() == nil {
		var conn net.Conn
		conn, err = d.listener.Accept()
		if err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleConn(conn)
		}()
	}
	wg.Wait()
	return err
}

// handleConn serves one client connection: strictly one request, one
// response, repeated until the client closes (spec §4.3: "no pipelining,
// no concurrent use").
func (d *daemon) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		p, err := d.readRequest(conn)
		if err != nil {
			return
		}
		resp := d.buildResponse(p)
		if _, err := conn.Write(resp.Bytes()); err != nil {
			log.Println("mamd: write response failed:", err)
			return
		}
	}
}

// readRequest accumulates bytes from conn until a full request (terminated
// by eof) has been decoded via the incremental parser.
func (d *daemon) readRequest(conn net.Conn) (*tlvserver.Parser, error) {
	p := tlvserver.NewParser(muaccctx.Init())
	var buf []byte
	chunk := make([]byte, 1024)
	for {
		consumed, done, err := p.Drain(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[consumed:]
		if done {
			return p, nil
		}
		n, rerr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// buildResponse implements the toy policy named in spec §4.3/§4.4: by
// default it suggests nothing and the client proceeds with its own
// values; socketconnect_req is the one action the daemon must answer
// meaningfully, since the client has no address of its own to fall back
// to until a hostname is resolved.
func (d *daemon) buildResponse(p *tlvserver.Parser) *tlv.Buffer {
	buf := tlv.NewBuffer(tlvServerBufferSize)

	switch p.Action {
	case mamconn.ActionGetAddrInfoResolveReq:
		buf.Push(tlv.TagAction, mamconn.EncodeAction(mamconn.ActionGetAddrInfoResolveResp))
	case mamconn.ActionConnectReq:
		buf.Push(tlv.TagAction, mamconn.EncodeAction(mamconn.ActionConnectResp))
		d.maybeLogPreferredInterface()
		d.recordSet(p.Root)
	case mamconn.ActionSocketConnectReq:
		buf.Push(tlv.TagAction, mamconn.EncodeAction(mamconn.ActionSocketConnectResp))
		d.resolveForSocketConnect(p.Root, buf)
		d.maybeLogPreferredInterface()
		d.recordSet(p.Root)
	case mamconn.ActionSocketChooseReq:
		// The daemon has no visibility into the client's own descriptor
		// table, so the toy policy always declines and lets the client
		// open a fresh socket.
		buf.Push(tlv.TagAction, mamconn.EncodeAction(mamconn.ActionSocketChooseRespNew))
	default:
		buf.Push(tlv.TagAction, mamconn.EncodeAction(mamconn.ActionErrorUnknownRequest))
	}

	buf.PushEOF()
	return buf
}

// tlvServerBufferSize bounds one packed response, matching mamconn's
// client-side request buffer size.
const tlvServerBufferSize = 2048

func (d *daemon) recordSet(ctx *muaccctx.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	slot := d.nextSlot
	d.nextSlot++
	d.registry.Add(slot, ctx)
	return slot
}
