// Command msrpcat sends and receives MSRP messages from the command line.
//
//	msrpcat listen --addr :2855 --local-uri msrp://host.example.com:2855/inbox;tcp --dir ./received
//	msrpcat send --local-uri msrp://me.example.com:2855/out;tcp \
//	    --remote-uri msrp://host.example.com:2855/inbox;tcp --file photo.jpg
//
// Options not given as flags come from a YAML file (--config) or from
// MSRP_* environment variables, optionally declared in a .env file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCLI().rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
