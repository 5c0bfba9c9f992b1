package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bibliopanel/internal/logger"
	"bibliopanel/internal/scheduler"
)

// Run serves the API and the maintenance jobs until ctx is cancelled, then
// shuts both down within the configured timeout.
func Run(ctx context.Context, app *App) error {
	cfg := app.Config
	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	jobs := scheduler.NewScheduler(cfg.Scheduler, scheduler.NewJobRunner(app.Catalog, app.Theme))
	jobs.Start()
	defer jobs.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
