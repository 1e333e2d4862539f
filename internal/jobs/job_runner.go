package jobs

import (
	"context"
	"time"

	"car-rental-backend/internal/config"
	"car-rental-backend/internal/lock"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/metrics"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/service"
)

const (
	JobDetectLateReturns   = "detect-late-returns"
	JobDailyReconciliation = "daily-reconciliation"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	services *Services
	locker   lock.Locker
	metrics  *metrics.Metrics
	clock    clock.Clock
	config   *config.Config
}

// Services holds all service dependencies needed by jobs
type Services struct {
	LateReturns    service.LateReturnService
	Reconciliation service.ReconciliationService
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(services *Services, locker lock.Locker, m *metrics.Metrics, clk clock.Clock, cfg *config.Config) *JobRunner {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &JobRunner{
		services: services,
		locker:   locker,
		metrics:  m,
		clock:    clk,
		config:   cfg,
	}
}

func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery runs a job under its distributed lock, turning a panic into
// an error. A job whose lock is held elsewhere is skipped, not failed.
func (jr *JobRunner) runWithRecovery(ctx context.Context, jobName string, jobFunc func(ctx context.Context) error) (err error) {
	log := logger.WithJob(jobName)

	release, err := jr.locker.Acquire(ctx, jobName, jr.config.Redis.LockTTL)
	if errs.Is(err, lock.ErrNotAcquired) {
		log.Info("Job already running elsewhere, skipping")
		return nil
	}
	if err != nil {
		log.Error("Failed to acquire job lock", "error", err)
		return err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn("Failed to release job lock", "error", rerr)
		}
	}()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", "panic", r)
			err = errs.Newf("job %s panicked: %v", jobName, r)
		}
		jr.metrics.JobRun(jobName, err, time.Since(start))
	}()

	log.Info("Starting job")
	if err = jobFunc(ctx); err != nil {
		log.Error("Job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return err
	}
	log.Info("Job completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll(ctx context.Context) error {
	lateErr := jr.DetectLateReturns(ctx)
	reconErr := jr.ReconcileYesterday(ctx)
	if lateErr != nil {
		return lateErr
	}
	return reconErr
}
