// beep-echo is a BEEP listener serving the echo profiles.
//
// Usage:
//
//	beep-echo [options]
//
// Options:
//
//	-transport  tcp or quic (default: tcp)
//	-addr       listen address (default: :10288)
//	-advertise  publish the listener via DNS-SD
//	-instance   DNS-SD instance name
//	-window     receive window per channel (default: 4096)
//	-v          debug logging
//
// Example:
//
//	beep-echo -addr :10288 -advertise
package main

import (
	"flag"
	"log"
	"os"

	"github.com/backkem/beep/examples/common"
	"github.com/backkem/beep/examples/echo"
	"github.com/backkem/beep/pkg/session"
	"github.com/backkem/beep/pkg/transport"
)

func main() {
	var opts common.Options
	fs := flag.NewFlagSet("beep-echo", flag.ExitOnError)
	common.RegisterFlags(fs, &opts, common.DefaultOptions())
	fs.Usage = func() { common.PrintUsage(fs, "") }
	_ = fs.Parse(os.Args[1:])

	lf := common.NewLoggerFactory(opts.Verbose)

	ln, err := common.Listen(opts, lf)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	handler := func(*transport.Conn) session.Handler { return echo.NewServerHandler(lf) }
	if err := common.RunServer(opts, ln, echo.Profiles(), handler, lf); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
