// example-client is a minimal reference implementation of a muacc client:
// it performs a SocketConnect against a URL given on the command line,
// demonstrating the all-in-one call surface from muacc.SocketConnect
// rather than the lower-level socket/bind/connect operations.
package main

import (
	"flag"
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/muacc/mamconn"
	"github.com/m-lab/muacc/muacc"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	targetURL  = flag.String("url", "http://example.invalid:8080", "URL to connect to via muacc.SocketConnect.")
	daemonSock = flag.String("socket", mamconn.DefaultSocketPath, "Unix-domain socket the MAM daemon listens on.")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	mamconn.DefaultSocketPath = *daemonSock

	fd := -1
	ctx, err := muacc.SocketConnect(&fd, *targetURL, nil, unix.AF_INET, unix.SOCK_STREAM, 0)
	rtx.Must(err, "SocketConnect to %q failed", *targetURL)

	fmt.Println(ctx.String())
	fmt.Println("connected on fd", fd)

	rtx.Must(muacc.Close(&ctx, fd), "Close failed")
}
