package main

import (
	"context"
	"log"
	"net"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/vishvananda/netlink"

	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/nativecall"
	"github.com/m-lab/muacc/tlv"
)

// maybeLogPreferredInterface implements the "prefer-up-interface" toy
// policy named in the module's design notes: when enabled, it looks up
// the host's link state and logs the first interface it finds up, as a
// stand-in for the kind of interface-selection decision the excluded
// policy engine would make. It never rewrites the response.
func (d *daemon) maybeLogPreferredInterface() {
	if !d.preferInterface {
		return
	}
	links, err := netlink.LinkList()
	if err != nil {
		log.Println("mamd: netlink.LinkList failed:", err)
		return
	}
	for _, l := range links {
		attrs := l.Attrs()
		if attrs == nil {
			continue
		}
		if attrs.Flags&net.FlagUp != 0 && attrs.Flags&net.FlagLoopback == 0 {
			log.Printf("mamd: preferred interface candidate %s (mtu %d)", attrs.Name, attrs.MTU)
			return
		}
	}
	log.Println("mamd: no up, non-loopback interface found")
}

// resolveForSocketConnect answers socketconnect_req: the client has only a
// hostname, so the daemon must resolve it and hand back a concrete address
// before the client can do anything with it (spec §4.4's all-in-one
// socketconnect has no native fallback of its own). The port is never part
// of the wire request (spec §4.3's closed field list); muacc.SocketConnect
// applies it client-side after the round trip.
func (d *daemon) resolveForSocketConnect(ctx *muaccctx.Context, buf *tlv.Buffer) {
	if ctx.RemoteHostname == nil {
		return
	}
	res, err := nativecall.GetAddrInfo(context.Background(), *ctx.RemoteHostname, "", nil)
	if err != nil || res == nil {
		log.Println("mamd: could not resolve", *ctx.RemoteHostname, "for socketconnect:", err)
		return
	}
	buf.Push(tlv.TagRemoteSaRes, res.Addr.Raw)
}

// dumpCSVLoop periodically snapshots the socket-set registry to a CSV file
// for operator inspection, exercising gocarina/gocsv the way the teacher's
// cmd/csvtool exercises it for ParsedMessage dumps.
func (d *daemon) dumpCSVLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.writeCSVSnapshot(); err != nil {
				log.Println("mamd: csv snapshot failed:", err)
			}
		}
	}
}

// socketSetRow is one flattened row of the socket-set registry, CSV-tagged
// the way inetdiag.LinuxSockID's fields are for cmd/csvtool's dump.
type socketSetRow struct {
	Fd       int            `csv:"fd"`
	CtxID    muaccctx.ID    `csv:"ctx_id"`
	Domain   int32          `csv:"domain"`
	Type     int32          `csv:"type"`
	Protocol int32          `csv:"protocol"`
	Remote   *remoteSaField `csv:"remote_addr"`
}

// remoteSaField adapts *addr.Address's MarshalCSV to a field that tolerates
// a nil remote address (sets with no resolved remote yet).
type remoteSaField struct {
	addrString string
}

func (r *remoteSaField) MarshalCSV() (string, error) {
	if r == nil {
		return "", nil
	}
	return r.addrString, nil
}

func (d *daemon) writeCSVSnapshot() error {
	d.mu.Lock()
	rows := make([]*socketSetRow, 0)
	for _, set := range d.registry.Sets {
		for _, e := range set.Entries {
			row := &socketSetRow{
				Fd:       e.Fd,
				CtxID:    e.Ctx.ID,
				Domain:   e.Ctx.Domain,
				Type:     e.Ctx.Type,
				Protocol: e.Ctx.Protocol,
			}
			if e.Ctx.RemoteSa != nil {
				row.Remote = &remoteSaField{addrString: e.Ctx.RemoteSa.String()}
			}
			rows = append(rows, row)
		}
	}
	d.mu.Unlock()

	f, err := os.Create(d.dumpCSVPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return gocsv.Marshal(rows, f)
}
