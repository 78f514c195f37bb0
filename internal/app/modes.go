package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"conductor/pkg/logging"
)

// shutdownTimeout bounds the deregistration of in-process participants.
const shutdownTimeout = 10 * time.Second

// runServer starts the runtime and blocks until ctx is cancelled, SIGINT or
// SIGTERM arrives, then shuts everything down.
func runServer(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.Start(ctx); err != nil {
		logging.Error("Server", err, "Failed to start runtime")
		_ = services.Stop(context.Background())
		return err
	}
	logging.Info("Server", "Runtime started. Press Ctrl+C to stop.")

	<-ctx.Done()

	logging.Info("Server", "Shutting down")
	for _, k := range services.Supervisor.Summary().PerKind {
		logging.Info("Server", "%s: opened %d, converged %d, failed %d, expired %d",
			k.Kind, k.Opened, k.Converged, k.Failed, k.Expired)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return services.Stop(shutdownCtx)
}
