// Command keygen generates a key pair. It behaves exactly like
// "nostrbox keygen".
package main

import (
	"context"
	"fmt"
	"os"

	"nostrbox/pkg/commands"
)

var version = "dev"

func main() {
	e, err := commands.NewEngine("keygen", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	os.Exit(e.RunFixed(context.Background(), "keygen", os.Args[1:]))
}
