package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/vigildev/vigil/cmd"
)

var osExit = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			// Graceful shutdown via signal.
			osExit(0)
		case errors.Is(err, cmd.ErrRegressionsFound):
			osExit(2)
		default:
			osExit(1)
		}
	}
}
