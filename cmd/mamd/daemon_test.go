package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-lab/muacc/mamconn"
	"github.com/m-lab/muacc/muaccctx"
)

func TestDaemonServesConnectRequest(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "mamd.sock")
	d := newDaemon(sockPath, false, "")
	if err := d.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	origPath, origTimeout := mamconn.DefaultSocketPath, mamconn.DialTimeout
	mamconn.DefaultSocketPath = sockPath
	mamconn.DialTimeout = 2 * time.Second
	defer func() { mamconn.DefaultSocketPath, mamconn.DialTimeout = origPath, origTimeout }()

	cctx := muaccctx.Init()
	resp, err := mamconn.RoundTrip(cctx, mamconn.ActionConnectReq)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.Action != mamconn.ActionConnectResp {
		t.Fatalf("resp.Action = %v, want ActionConnectResp", resp.Action)
	}

	if len(d.registry.Sets) != 1 {
		t.Fatalf("daemon should have recorded one socket set, got %d", len(d.registry.Sets))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestDaemonAnswersSocketChooseWithNew(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "mamd.sock")
	d := newDaemon(sockPath, false, "")
	if err := d.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Serve(ctx)

	origPath, origTimeout := mamconn.DefaultSocketPath, mamconn.DialTimeout
	mamconn.DefaultSocketPath = sockPath
	mamconn.DialTimeout = 2 * time.Second
	defer func() { mamconn.DefaultSocketPath, mamconn.DialTimeout = origPath, origTimeout }()

	cctx := muaccctx.Init()
	resp, err := mamconn.RoundTrip(cctx, mamconn.ActionSocketChooseReq)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.Action != mamconn.ActionSocketChooseRespNew {
		t.Fatalf("resp.Action = %v, want ActionSocketChooseRespNew (toy policy never has a descriptor to offer)", resp.Action)
	}
}
