package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"genpipe/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCmd(cli.Options{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		exitWithError(err)
	}
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "genctl: %v\n", err)
	os.Exit(1)
}
