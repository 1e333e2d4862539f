package jobs

import (
	"context"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/clock"
)

// ReconcileDate diffs one UTC day of payments against the gateway.
func (jr *JobRunner) ReconcileDate(ctx context.Context, date time.Time) (*domain.ReconciliationReport, error) {
	var report *domain.ReconciliationReport
	err := jr.runWithRecovery(ctx, JobDailyReconciliation, func(ctx context.Context) error {
		r, err := jr.services.Reconciliation.RunDailyReconciliation(ctx, date)
		report = r
		return err
	})
	return report, err
}

// ReconcileYesterday reconciles the last complete UTC day.
func (jr *JobRunner) ReconcileYesterday(ctx context.Context) error {
	_, err := jr.ReconcileDate(ctx, clock.Today(jr.clock).AddDate(0, 0, -1))
	return err
}

// DailyReconciliationScheduled is the cron entry point.
func (jr *JobRunner) DailyReconciliationScheduled() {
	_ = jr.ReconcileYesterday(context.Background())
}
