package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/di"
	"github.com/mikey/mail-risk/internal/factory"
	"github.com/mikey/mail-risk/internal/ports"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	servers []ports.Server,
	repo factory.Store,
	scanCache ports.ScanCache,
	narrator core.NarrativeGenerator,
) error {
	defer logger.Sync()
	defer repo.Stop()

	// Start the listeners
	started := make([]ports.Server, 0, len(servers))
	for _, srv := range servers {
		if err := srv.Start(); err != nil {
			logger.Error("Failed to start server", zap.Error(err))
			stopAll(logger, started)
			return err
		}
		started = append(started, srv)
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	stopAll(logger, started)

	// Close any resources that need closing
	if closer, ok := narrator.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close narrative client", zap.Error(err))
		}
	}

	// Stop the cache if needed
	if scanCache != nil {
		scanCache.Stop()
	}

	logger.Info("Shutdown complete")
	return nil
}

func stopAll(logger *zap.Logger, servers []ports.Server) {
	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].Stop(); err != nil {
			logger.Error("Failed to stop server", zap.Error(err))
		}
	}
}
