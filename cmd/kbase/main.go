// Command kbase maintains an append-only knowledge base of question/answer
// records and compacts it in the background with an LLM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodia-labs/kbase/internal/adapters/driving/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx, bootstrap, version)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
