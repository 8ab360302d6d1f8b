// Command linesearch indexes a text file by word and serves line search
// over JSON-RPC 2.0 on one or more HTTP listeners.
//
// Usage:
//
//	linesearch -a 127.0.0.1:8080 -a 127.0.0.1:8081 [-v] [--corpus db.txt]
//	linesearch analytics -a 127.0.0.1:9090 -c configs/development.yaml
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
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "linesearch: %v\n", err)
		stop()
		os.Exit(1)
	}
}
