package tlvserver

import (
	"testing"

	"github.com/m-lab/muacc/mamconn"
	"github.com/m-lab/muacc/muaccctx"
	"github.com/m-lab/muacc/tlv"
)

func TestProcessEventTooShortThenConsumed(t *testing.T) {
	buf := tlv.NewBuffer(256)
	if err := buf.Push(tlv.TagRemoteHostname, []byte("example.org")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	full := buf.Bytes()

	p := NewParser(muaccctx.Init())

	// Feed only the header, not the full value: must report TooShort and
	// consume nothing.
	status, n, err := p.ProcessEvent(full[:tlv.HeaderSize])
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if status != StatusTooShort || n != 0 {
		t.Fatalf("got status=%v n=%d, want TooShort/0", status, n)
	}

	status, n, err = p.ProcessEvent(full)
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if status != StatusConsumed || n != len(full) {
		t.Fatalf("got status=%v n=%d, want Consumed/%d", status, n, len(full))
	}
	if p.Root.RemoteHostname == nil || *p.Root.RemoteHostname != "example.org" {
		t.Fatalf("hostname not applied: %+v", p.Root.RemoteHostname)
	}
}

func TestDrainStopsAtEOF(t *testing.T) {
	buf := tlv.NewBuffer(256)
	buf.Push(tlv.TagAction, mamconn.EncodeAction(mamconn.ActionConnectReq))
	buf.Push(tlv.TagRemoteHostname, []byte("example.org"))
	buf.PushEOF()

	p := NewParser(muaccctx.Init())
	consumed, done, err := p.Drain(buf.Bytes())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !done {
		t.Fatal("expected done after eof")
	}
	if consumed != len(buf.Bytes()) {
		t.Fatalf("consumed=%d, want %d", consumed, len(buf.Bytes()))
	}
	if p.Action != mamconn.ActionConnectReq {
		t.Fatalf("action=%v, want ActionConnectReq", p.Action)
	}
	if p.Root.RemoteHostname == nil || *p.Root.RemoteHostname != "example.org" {
		t.Fatal("hostname not applied before eof")
	}
}

func TestUnknownActionErrors(t *testing.T) {
	buf := tlv.NewBuffer(64)
	buf.Push(tlv.TagAction, mamconn.EncodeAction(mamconn.Action(999)))

	p := NewParser(muaccctx.Init())
	_, _, err := p.Drain(buf.Bytes())
	if err != ErrUnknownAction {
		t.Fatalf("got %v, want ErrUnknownAction", err)
	}
}

func TestSocketsetFileOpensChild(t *testing.T) {
	buf := tlv.NewBuffer(256)
	buf.Push(tlv.TagSocketsetFile, []byte{7, 0, 0, 0})
	buf.Push(tlv.TagRemoteHostname, []byte("child.example"))
	buf.PushEOF()

	root := muaccctx.Init()
	h := "root.example"
	root.RemoteHostname = &h

	p := NewParser(root)
	_, done, err := p.Drain(buf.Bytes())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !done {
		t.Fatal("expected done")
	}
	if len(p.Children) != 1 {
		t.Fatalf("len(Children) = %d, want 1", len(p.Children))
	}
	if p.Children[0].Fd != 7 {
		t.Fatalf("child fd = %d, want 7", p.Children[0].Fd)
	}
	if p.Children[0].Ctx.RemoteHostname == nil || *p.Children[0].Ctx.RemoteHostname != "child.example" {
		t.Fatal("record after socketset_file must attach to the child, not root")
	}
	if root.RemoteHostname == nil || *root.RemoteHostname != "root.example" {
		t.Fatal("root context must be unaffected by records addressed to a child")
	}
}
