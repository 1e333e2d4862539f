package service

import (
	"context"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/events"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"

	"github.com/shopspring/decimal"
)

type penaltyService struct {
	tx        repository.TxManager
	repos     repository.Repos
	payments  PaymentOrchestrator
	publisher events.Publisher
	clock     clock.Clock
}

func NewPenaltyService(
	tx repository.TxManager,
	repos repository.Repos,
	payments PaymentOrchestrator,
	publisher events.Publisher,
	clk clock.Clock,
) PenaltyService {
	return &penaltyService{
		tx:        tx,
		repos:     repos,
		payments:  payments,
		publisher: publisher,
		clock:     clk,
	}
}

func (s *penaltyService) WaivePenalty(ctx context.Context, caller domain.Caller, rentalID int64, amount decimal.Decimal, reason string) (*domain.PenaltyWaiver, error) {
	return s.waive(ctx, caller, rentalID, &amount, reason)
}

// WaiveFullPenalty forgives whatever is outstanding at the time the rental
// row is locked.
func (s *penaltyService) WaiveFullPenalty(ctx context.Context, caller domain.Caller, rentalID int64, reason string) (*domain.PenaltyWaiver, error) {
	return s.waive(ctx, caller, rentalID, nil, reason)
}

// waive records the waiver and lowers the penalty in one transaction. When
// the penalty was already paid the waived amount is refunded afterwards; a
// failed refund leaves the waiver standing and is returned as ErrRefundFailed
// for manual follow-up.
func (s *penaltyService) waive(ctx context.Context, caller domain.Caller, rentalID int64, amount *decimal.Decimal, reason string) (*domain.PenaltyWaiver, error) {
	if err := domain.RequireAdmin(caller); err != nil {
		return nil, err
	}
	logger.EnterMethod("penaltyService.waive", "rentalID", rentalID, "adminID", caller.UserID, "full", amount == nil)

	now := s.clock.Now()
	var rental *domain.Rental
	var waiver *domain.PenaltyWaiver
	var captured *domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		captured = nil
		r, err := repos.Rentals().GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if r.Status != domain.RentalStatusReturned {
			return errs.Wrapf(domain.ErrNoPenalty, "penalty is assessed on return, rental is %s", r.Status)
		}
		outstanding := r.OutstandingPenalty()
		waived := outstanding
		if amount != nil {
			waived = *amount
		}
		w, err := domain.NewPenaltyWaiver(r.ID, outstanding, waived, reason, caller.UserID, now)
		if err != nil {
			return err
		}
		if err := repos.Waivers().Create(ctx, w); err != nil {
			return err
		}
		r.SetPenalty(w.RemainingPenalty)
		if err := repos.Rentals().Update(ctx, r); err != nil {
			return err
		}
		if r.PenaltyPaid {
			p, err := repos.Payments().FindCapturedPenalty(ctx, r.ID)
			switch {
			case errs.Is(err, domain.ErrPaymentNotFound):
				logger.Warn("Paid penalty has no refundable payment", "rentalID", r.ID)
			case err != nil:
				return err
			default:
				captured = p
			}
		}
		rental, waiver = r, w
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("penaltyService.waive", err, "rentalID", rentalID)
		return nil, err
	}

	var refundErr error
	if captured != nil {
		refundErr = s.refundWaived(ctx, rental, waiver, captured)
	}

	s.publish(domain.PenaltyWaived{
		EventMeta:        domain.NewEventMeta(domain.EventPenaltyWaived, rental.ID, rental.UserID, s.clock.Now()),
		WaiverID:         waiver.ID,
		WaivedAmount:     waiver.WaivedAmount,
		RemainingPenalty: waiver.RemainingPenalty,
		AdminID:          waiver.AdminID,
		RefundInitiated:  waiver.RefundInitiated,
	})
	if refundErr != nil {
		logger.ExitMethodWithError("penaltyService.waive", refundErr, "rentalID", rentalID, "waiverID", waiver.ID)
		return waiver, refundErr
	}
	logger.ExitMethod("penaltyService.waive", "rentalID", rentalID, "waiverID", waiver.ID,
		"waived", waiver.WaivedAmount.StringFixed(2), "remaining", waiver.RemainingPenalty.StringFixed(2))
	return waiver, nil
}

func (s *penaltyService) refundWaived(ctx context.Context, rental *domain.Rental, waiver *domain.PenaltyWaiver, pay *domain.Payment) error {
	amount := waiver.WaivedAmount
	if amount.GreaterThan(pay.Refundable()) {
		amount = pay.Refundable()
	}
	if !amount.IsPositive() {
		return nil
	}
	refund, callErr := s.payments.Refund(ctx, pay, amount, "penalty waiver: "+waiver.Reason)
	ok := callErr == nil && refund.Success
	reason := failureReason(refund, callErr)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		p, err := repos.Payments().GetForUpdate(ctx, pay.ID)
		if err != nil {
			return err
		}
		if !ok {
			// The captured charge stays CAPTURED so an operator can retry the refund.
			p.FailureReason = "waiver refund failed: " + reason
			return repos.Payments().Update(ctx, p)
		}
		if err := p.ApplyRefund(amount); err != nil {
			return err
		}
		if err := repos.Payments().Update(ctx, p); err != nil {
			return err
		}
		w := *waiver
		if err := w.MarkRefundInitiated(refund.TransactionID); err != nil {
			return err
		}
		if err := repos.Waivers().Update(ctx, &w); err != nil {
			return err
		}
		*waiver = w
		return nil
	})
	if err != nil {
		logger.Escalate(ctx, "Waiver refund outcome could not be recorded", "rentalID", rental.ID,
			"waiverID", waiver.ID, "paymentID", pay.ID, "refunded", ok, "error", err)
		if ok {
			return nil
		}
	}
	if ok {
		return nil
	}

	logger.Escalate(ctx, "Waiver refund needs manual follow-up", "rentalID", rental.ID,
		"waiverID", waiver.ID, "paymentID", pay.ID, "amount", amount.StringFixed(2), "reason", reason)
	s.publish(domain.PaymentEscalated{
		EventMeta: domain.NewEventMeta(domain.EventPaymentEscalated, rental.ID, rental.UserID, s.clock.Now()),
		PaymentID: pay.ID,
		Amount:    amount,
		Operation: domain.OperationRefund,
		Reason:    reason,
	})
	return errs.Wrapf(domain.ErrRefundFailed, "waiver %d: %s", waiver.ID, reason)
}

// GetPenaltyHistory lists the waivers granted on a rental, oldest first.
func (s *penaltyService) GetPenaltyHistory(ctx context.Context, caller domain.Caller, rentalID int64) ([]domain.PenaltyWaiver, error) {
	if caller.UserID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	r, err := s.repos.Rentals().GetByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if err := domain.RequireOwnerOrAdmin(caller, r); err != nil {
		return nil, err
	}
	return s.repos.Waivers().ListByRental(ctx, rentalID)
}

func (s *penaltyService) publish(e domain.Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}
