// Package main provides the entry point for the push bridge, which relays the
// book stream to browsers as server-sent events.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/listenupapp/bookstream/internal/di"
	"github.com/listenupapp/bookstream/internal/logger"
)

func main() {
	injector := di.NewBridgeContainer()

	if err := di.BootstrapBridge(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap bridge: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bridge gracefully...")

	if err := injector.Shutdown(); err != nil {
		log.WithError(err).Error("Shutdown error")
	}

	log.Info("Bridge stopped")
}
