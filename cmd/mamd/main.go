// mamd is a minimal reference implementation of the MAM daemon this
// module's client library dials. It exists so muacc and its example client
// have a real counterpart to talk to; its policy decisions are
// intentionally trivial.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/muacc/mamconn"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	socketPath      = flag.String("socket", mamconn.DefaultSocketPath, "Unix-domain socket to listen on for client connections.")
	promAddr        = flag.String("prom", ":9991", "Prometheus metrics export address and port.")
	preferInterface = flag.Bool("prefer-interface", false, "Look up the current link state of an up interface with vishvananda/netlink before replying to connect requests.")
	dumpCSVPath     = flag.String("dump-csv", "", "If set, periodically write a CSV snapshot of the socket-set registry to this path.")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(ctx)

	d := newDaemon(*socketPath, *preferInterface, *dumpCSVPath)
	rtx.Must(d.Listen(), "Could not listen on %s", *socketPath)

	log.Println("mamd listening on", *socketPath)
	if err := d.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("mamd exited with error: ", err)
	}
}
