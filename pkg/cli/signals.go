package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context cancelled by the first SIGINT or
// SIGTERM. A second signal exits the process with status 1, for operators
// who do not want to wait for a graceful drain.
func SetupSignalHandler() context.Context {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	return handleSignals(context.Background(), sigChan, os.Exit)
}

func handleSignals(parent context.Context, sigChan <-chan os.Signal, exit func(int)) context.Context {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		<-sigChan
		cancel()
		<-sigChan
		exit(ExitFailure)
	}()

	return ctx
}
