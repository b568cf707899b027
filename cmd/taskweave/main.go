package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func main() {
	// Signal-aware context for graceful shutdown. A signal cancels the
	// context; in-flight tasks settle and their statuses land in the store.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := Execute(ctx)

	// Kill any executor subprocesses still tracked, preventing orphans.
	if processManager.Count() > 0 {
		if killErr := processManager.KillAll(); killErr != nil {
			log.WithError(killErr).Error("Failed to kill executor subprocesses")
		}
	}

	if err != nil {
		os.Exit(1)
	}
}
