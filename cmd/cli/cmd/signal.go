package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signalContext is canceled on SIGINT or SIGTERM, which aborts a running
// merge at its next checkpoint.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
