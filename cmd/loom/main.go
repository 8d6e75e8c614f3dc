package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/loomworks/loom/cmd/loom/commands"
	"github.com/loomworks/loom/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to process exit codes: 2 for a partial failure
// under continue-on-error, 1 for hard failures.
func exitCode(err error) int {
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) && engineErr.Code == engine.ErrCodePartialFailure {
		return 2
	}
	return 1
}
