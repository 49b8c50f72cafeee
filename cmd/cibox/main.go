package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/cibox/internal/cmd"
	"github.com/felixgeelhaar/cibox/internal/exitcode"
)

func main() {
	// Create a context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		exitcode.Exit(exitcode.Success)
	}

	if stderrors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(os.Stderr, "\nRun cancelled")
		exitcode.Exit(exitcode.Interrupted)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	exitcode.ExitWithError(err)
}
