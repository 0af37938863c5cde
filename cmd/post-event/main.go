// Command post-event publishes signed events to relays. It behaves exactly
// like "nostrbox post-event".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nostrbox/pkg/commands"
)

var version = "dev"

func main() {
	e, err := commands.NewEngine("post-event", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "post-event: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := e.RunFixed(ctx, "post-event", os.Args[1:])
	stop()
	os.Exit(code)
}
