package scheduler

import (
	"context"
	"time"

	"bibliopanel/internal/logger"
)

// StockReconciler clamps catalog stock back into [0, initialExemplaire].
type StockReconciler interface {
	ReconcileStock(ctx context.Context) (int, error)
}

// ConfigRefresher drops and reloads cached organisation settings.
type ConfigRefresher interface {
	Refresh(ctx context.Context) error
}

// JobRunner holds the dependencies of scheduled jobs.
type JobRunner struct {
	stock   StockReconciler
	config  ConfigRefresher
	timeout time.Duration
}

func NewJobRunner(stock StockReconciler, config ConfigRefresher) *JobRunner {
	return &JobRunner{stock: stock, config: config, timeout: 5 * time.Minute}
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.timeout)
	defer cancel()

	logger.Info("Starting job", "job", jobName)
	jobFunc(ctx)
	logger.Info("Job completed", "job", jobName)
}

// ReconcileStock repairs documents whose available copies left the owned range.
func (jr *JobRunner) ReconcileStock() {
	jr.runWithRecovery("ReconcileStock", func(ctx context.Context) {
		fixed, err := jr.stock.ReconcileStock(ctx)
		if err != nil {
			logger.Error("Failed to reconcile stock", "error", err)
			return
		}
		logger.Info("Stock reconciled", "fixed", fixed)
	})
}

// RefreshConfig reloads the organisation settings and loan limit.
func (jr *JobRunner) RefreshConfig() {
	jr.runWithRecovery("RefreshConfig", func(ctx context.Context) {
		if err := jr.config.Refresh(ctx); err != nil {
			logger.Error("Failed to refresh organisation settings", "error", err)
		}
	})
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.RefreshConfig()
	jr.ReconcileStock()
}
