package jobs

import (
	"context"
)

// DetectLateReturns refreshes the late status and projected penalty of every
// overdue rental still on the road.
func (jr *JobRunner) DetectLateReturns(ctx context.Context) error {
	return jr.runWithRecovery(ctx, JobDetectLateReturns, func(ctx context.Context) error {
		_, err := jr.services.LateReturns.DetectLateReturns(ctx)
		return err
	})
}

// DetectLateReturnsScheduled is the cron entry point.
func (jr *JobRunner) DetectLateReturnsScheduled() {
	_ = jr.DetectLateReturns(context.Background())
}
