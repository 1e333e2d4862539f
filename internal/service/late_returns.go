package service

import (
	"context"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/events"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/metrics"
	"car-rental-backend/internal/penalty"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/repository"
)

type lateReturnService struct {
	tx        repository.TxManager
	rentals   repository.RentalRepository
	publisher events.Publisher
	metrics   *metrics.Metrics
	clock     clock.Clock
	cfg       penalty.Config
	pageSize  int
}

func NewLateReturnService(
	tx repository.TxManager,
	rentals repository.RentalRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
	clk clock.Clock,
	cfg penalty.Config,
	pageSize int,
) LateReturnService {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &lateReturnService{
		tx:        tx,
		rentals:   rentals,
		publisher: publisher,
		metrics:   m,
		clock:     clk,
		cfg:       cfg,
		pageSize:  pageSize,
	}
}

// DetectLateReturns walks every IN_USE rental past its end date and stores
// the current late status and projected penalty. Each rental is updated in
// its own transaction so a return racing the sweep only ever loses to the
// row lock. A failure on one rental is logged and the sweep continues.
func (s *lateReturnService) DetectLateReturns(ctx context.Context) (*DetectionSummary, error) {
	log := logger.WithJob("detect-late-returns")
	today := clock.Today(s.clock)
	summary := &DetectionSummary{}

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		page, err := s.rentals.ListOverdueInUse(ctx, today, afterID, s.pageSize)
		if err != nil {
			log.Error("Failed to list overdue rentals", "afterID", afterID, "error", err)
			return summary, err
		}
		for i := range page {
			summary.Scanned++
			updated, notified, err := s.assess(ctx, page[i].ID)
			if err != nil {
				summary.Failed++
				log.Error("Failed to assess late rental", "rentalID", page[i].ID, "error", err)
				continue
			}
			if updated {
				summary.Updated++
			}
			if notified {
				summary.Notified++
			}
		}
		if len(page) < s.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	log.Info("Late return sweep finished", "scanned", summary.Scanned, "updated", summary.Updated,
		"notified", summary.Notified, "failed", summary.Failed)
	return summary, nil
}

// assess reports whether the rental row was written and whether a
// notification went out. Notices only follow a change of late status.
func (s *lateReturnService) assess(ctx context.Context, rentalID int64) (updated, notified bool, err error) {
	now := s.clock.Now()
	var rental *domain.Rental
	var result penalty.Result
	changed := false
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		changed, rental = false, nil
		r, err := repos.Rentals().GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if r.Status != domain.RentalStatusInUse {
			return nil
		}
		result = penalty.Calculate(r.DailyPrice, r.EndDate, now, s.cfg)
		previous := r.LateReturnStatus
		sameProjection := r.LateHours == result.LateHours && r.OutstandingPenalty().Equal(result.Penalty)
		if previous == result.Status && sameProjection {
			return nil
		}
		r.RecordLateStatus(result.Status, result.LateHours, result.Penalty, now)
		if err := repos.Rentals().Update(ctx, r); err != nil {
			return err
		}
		changed = previous != result.Status
		rental = r
		return nil
	})
	if err != nil || rental == nil {
		return false, false, err
	}
	if !changed {
		return true, false, nil
	}

	s.metrics.LateStatusChange(string(result.Status))
	eventType, ok := domain.LateNoticeType(result.Status)
	if !ok {
		return true, false, nil
	}
	if s.publisher != nil {
		s.publisher.Publish(domain.LateReturnNotice{
			EventMeta:        domain.NewEventMeta(eventType, rental.ID, rental.UserID, now),
			Status:           result.Status,
			LateHours:        result.LateHours,
			ProjectedPenalty: result.Penalty,
			EndDate:          rental.EndDate,
		})
	}
	return true, true, nil
}
