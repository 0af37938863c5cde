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
	e, err := commands.NewEngine("nostrbox", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nostrbox: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := e.Main(ctx, os.Args)
	stop()
	os.Exit(code)
}
