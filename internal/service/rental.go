package service

import (
	"context"
	"fmt"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/events"
	"car-rental-backend/internal/gateway"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/payment"
	"car-rental-backend/internal/penalty"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"

	"github.com/shopspring/decimal"
)

// RentalConfig holds the business limits the lifecycle enforces.
type RentalConfig struct {
	Penalty       penalty.Config
	MaxRentalDays int
}

func DefaultRentalConfig() RentalConfig {
	return RentalConfig{Penalty: penalty.DefaultConfig(), MaxRentalDays: 90}
}

type rentalService struct {
	tx        repository.TxManager
	repos     repository.Repos
	inventory Inventory
	payments  PaymentOrchestrator
	publisher events.Publisher
	clock     clock.Clock
	cfg       RentalConfig
}

func NewRentalService(
	tx repository.TxManager,
	repos repository.Repos,
	inventory Inventory,
	payments PaymentOrchestrator,
	publisher events.Publisher,
	clk clock.Clock,
	cfg RentalConfig,
) RentalService {
	return &rentalService{
		tx:        tx,
		repos:     repos,
		inventory: inventory,
		payments:  payments,
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
	}
}

func (s *rentalService) RequestRental(ctx context.Context, caller domain.Caller, req RentalRequest) (*TransitionResult, error) {
	if caller.UserID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	logger.EnterMethod("rentalService.RequestRental", "userID", caller.UserID, "carID", req.CarID)

	start, end := clock.DateOf(req.StartDate), clock.DateOf(req.EndDate)
	if err := s.validateDates(start, end); err != nil {
		logger.ExitMethodWithError("rentalService.RequestRental", err, "carID", req.CarID)
		return nil, err
	}

	car, err := s.inventory.GetCar(ctx, req.CarID)
	if err != nil {
		logger.ExitMethodWithError("rentalService.RequestRental", err, "carID", req.CarID)
		return nil, err
	}
	if domain.IsBlocking(car.Status) {
		return nil, errs.Wrapf(domain.ErrCarUnavailable, "car %d is %s", car.ID, car.Status)
	}
	available, err := s.inventory.IsAvailable(ctx, req.CarID, start, end)
	if err != nil {
		return nil, errs.Wrap(err, "failed to check car availability")
	}
	if !available {
		return nil, domain.ErrDateOverlap
	}

	var rental *domain.Rental
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		locked, err := repos.Cars().LockForUpdate(ctx, req.CarID)
		if err != nil {
			return err
		}
		if domain.IsBlocking(locked.Status) {
			return errs.Wrapf(domain.ErrCarUnavailable, "car %d is %s", locked.ID, locked.Status)
		}
		overlap, err := repos.Rentals().HasOverlap(ctx, locked.ID, start, end, 0)
		if err != nil {
			return err
		}
		if overlap {
			return domain.ErrDateOverlap
		}
		days := domain.RentalDays(start, end)
		rental = &domain.Rental{
			UserID:           caller.UserID,
			CarID:            locked.ID,
			CarBrand:         locked.Brand,
			CarModel:         locked.Model,
			CarPlate:         locked.Plate,
			StartDate:        start,
			EndDate:          end,
			DailyPrice:       locked.DailyPrice.Round(2),
			TotalPrice:       locked.DailyPrice.Mul(decimal.NewFromInt(int64(days))).Round(2),
			Currency:         locked.Currency,
			CustomerRef:      req.CustomerRef,
			Status:           domain.RentalStatusRequested,
			LateReturnStatus: domain.LateStatusOnTime,
		}
		return repos.Rentals().Create(ctx, rental)
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.RequestRental", err, "carID", req.CarID)
		return nil, err
	}

	res := &TransitionResult{Rental: rental}
	s.emit(res, domain.RentalRequested{
		EventMeta:  s.meta(domain.EventRentalRequested, rental),
		CarID:      rental.CarID,
		StartDate:  rental.StartDate,
		EndDate:    rental.EndDate,
		TotalPrice: rental.TotalPrice,
		Currency:   rental.Currency,
	})
	logger.ExitMethod("rentalService.RequestRental", "rentalID", rental.ID, "total", rental.TotalPrice.StringFixed(2))
	return res, nil
}

func (s *rentalService) validateDates(start, end time.Time) error {
	if end.Before(start) {
		return errs.Wrap(domain.ErrInvalidDateRange, "end date is before start date")
	}
	if start.Before(clock.Today(s.clock)) {
		return errs.Wrap(domain.ErrInvalidDateRange, "start date is in the past")
	}
	if limit := s.cfg.MaxRentalDays; limit > 0 && domain.RentalDays(start, end) > limit {
		return errs.Wrapf(domain.ErrRentalTooLong, "at most %d days", limit)
	}
	return nil
}

// ConfirmRental authorizes the rental charge and confirms the booking. The
// gateway call happens between two short transactions so no row lock is held
// across the network; the second transaction re-checks the rental before
// committing the confirmation.
func (s *rentalService) ConfirmRental(ctx context.Context, caller domain.Caller, rentalID int64) (*TransitionResult, error) {
	if err := domain.RequireAdmin(caller); err != nil {
		return nil, err
	}
	logger.EnterMethod("rentalService.ConfirmRental", "rentalID", rentalID, "adminID", caller.UserID)

	var rental *domain.Rental
	var pay *domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		r, err := repos.Rentals().GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if !domain.CanConfirm(r.Status) {
			return errs.Wrapf(domain.ErrInvalidTransition, "cannot confirm a %s rental", r.Status)
		}
		if _, err := repos.Cars().LockForUpdate(ctx, r.CarID); err != nil {
			return err
		}
		overlap, err := repos.Rentals().HasOverlap(ctx, r.CarID, r.StartDate, r.EndDate, r.ID)
		if err != nil {
			return err
		}
		if overlap {
			return domain.ErrDateOverlap
		}
		existing, err := repos.Payments().FindActiveBase(ctx, r.ID)
		switch {
		case err == nil && existing.Status == domain.PaymentStatusPending:
			return errs.Wrap(domain.ErrConcurrentUpdate, "a confirmation is already in progress")
		case err == nil:
			return errs.Wrapf(domain.ErrInvalidPayment, "rental already has a %s payment", existing.Status)
		case !errs.Is(err, domain.ErrPaymentNotFound):
			return err
		}
		p, err := domain.NewPayment(r.ID, r.TotalPrice, r.Currency, domain.PaymentMethodCard)
		if err != nil {
			return err
		}
		if err := repos.Payments().Create(ctx, p); err != nil {
			return err
		}
		rental, pay = r, p
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.ConfirmRental", err, "rentalID", rentalID)
		return nil, err
	}

	auth, authErr := s.payments.Authorize(ctx, pay, rental.CustomerRef)
	if authErr != nil || !auth.Success {
		// The FAILED row stays as the record of the decline; a retry opens a new payment.
		reason := failureReason(auth, authErr)
		if err := s.failPayment(ctx, pay.ID, reason, auth.Raw); err != nil {
			logger.Error("Failed to record declined authorization", "paymentID", pay.ID, "error", err)
		}
		if authErr == nil {
			authErr = errs.Wrap(domain.ErrPaymentDeclined, reason)
		}
		logger.ExitMethodWithError("rentalService.ConfirmRental", authErr, "rentalID", rentalID)
		return nil, authErr
	}

	raced := false
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		raced = false
		r, err := repos.Rentals().GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		p, err := repos.Payments().GetForUpdate(ctx, pay.ID)
		if err != nil {
			return err
		}
		if err := p.MarkAuthorized(auth.TransactionID, auth.Raw); err != nil {
			return err
		}
		stillFree := false
		if r.Status == domain.RentalStatusRequested {
			overlap, err := repos.Rentals().HasOverlap(ctx, r.CarID, r.StartDate, r.EndDate, r.ID)
			if err != nil {
				return err
			}
			stillFree = !overlap
		}
		if !stillFree {
			// The rental moved on while the gateway was working; drop the hold.
			raced = true
			if err := p.ReleaseAuthorization(); err != nil {
				return err
			}
			rental, pay = r, p
			return repos.Payments().Update(ctx, p)
		}
		if err := r.TransitionTo(domain.RentalStatusConfirmed); err != nil {
			return err
		}
		if err := repos.Rentals().Update(ctx, r); err != nil {
			return err
		}
		if err := repos.Payments().Update(ctx, p); err != nil {
			return err
		}
		rental, pay = r, p
		return nil
	})
	if err != nil {
		logger.Escalate(ctx, "Authorized payment could not be recorded", "rentalID", rentalID,
			"paymentID", pay.ID, "transactionID", auth.TransactionID, "error", err)
		logger.ExitMethodWithError("rentalService.ConfirmRental", err, "rentalID", rentalID)
		return nil, err
	}
	if raced {
		err := errs.Wrapf(domain.ErrInvalidTransition, "rental became %s during authorization", rental.Status)
		logger.ExitMethodWithError("rentalService.ConfirmRental", err, "rentalID", rentalID)
		return nil, err
	}

	if err := s.inventory.Reserve(ctx, rental.CarID); err != nil {
		logger.Warn("Failed to reserve car", "carID", rental.CarID, "rentalID", rental.ID, "error", err)
	}

	res := &TransitionResult{Rental: rental, Payment: pay}
	s.emit(res, domain.RentalConfirmed{
		EventMeta:     s.meta(domain.EventRentalConfirmed, rental),
		PaymentID:     pay.ID,
		Amount:        pay.Amount,
		TransactionID: pay.TransactionID,
	})
	logger.ExitMethod("rentalService.ConfirmRental", "rentalID", rental.ID, "paymentID", pay.ID)
	return res, nil
}

// PickupRental hands the car over and captures the authorized charge. A
// failed capture does not undo the pickup; the payment is marked FAILED and
// escalated. A cancel that commits while the capture is in flight leaves the
// payment AUTHORIZED; the captured money is then refunded here.
func (s *rentalService) PickupRental(ctx context.Context, caller domain.Caller, rentalID int64, note string) (*TransitionResult, error) {
	if err := domain.RequireAdmin(caller); err != nil {
		return nil, err
	}
	logger.EnterMethod("rentalService.PickupRental", "rentalID", rentalID, "adminID", caller.UserID)

	var rental *domain.Rental
	var pay *domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		r, err := repos.Rentals().GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if !domain.CanPickup(r.Status) {
			return errs.Wrapf(domain.ErrInvalidTransition, "cannot pick up a %s rental", r.Status)
		}
		p, err := repos.Payments().FindActiveBase(ctx, r.ID)
		if err != nil {
			return err
		}
		if !domain.CanCapture(p.Status) {
			return errs.Wrapf(domain.ErrInvalidPayment, "payment %d is %s", p.ID, p.Status)
		}
		if err := r.TransitionTo(domain.RentalStatusInUse); err != nil {
			return err
		}
		r.PickupNote = note
		if err := repos.Rentals().Update(ctx, r); err != nil {
			return err
		}
		rental, pay = r, p
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.PickupRental", err, "rentalID", rentalID)
		return nil, err
	}

	res := &TransitionResult{Rental: rental}
	s.emit(res, domain.RentalPickedUp{EventMeta: s.meta(domain.EventRentalPickedUp, rental), Note: note})

	capRes, capErr := s.payments.Capture(ctx, pay)
	captured := capErr == nil && capRes.Success
	cancelled := false
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		r, err := repos.Rentals().GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		p, err := repos.Payments().GetForUpdate(ctx, pay.ID)
		if err != nil {
			return err
		}
		if captured {
			if err := p.MarkCaptured(capRes.TransactionID, capRes.Raw); err != nil {
				return err
			}
		} else {
			p.MarkFailed(failureReason(capRes, capErr), capRes.Raw)
		}
		if err := repos.Payments().Update(ctx, p); err != nil {
			return err
		}
		cancelled = r.Status == domain.RentalStatusCancelled
		pay = p
		if cancelled {
			rental = r
		}
		return nil
	})
	reason := failureReason(capRes, capErr)
	if err != nil {
		logger.Escalate(ctx, "Capture outcome could not be recorded", "rentalID", rentalID,
			"paymentID", pay.ID, "captured", captured, "error", err)
		if captured {
			reason = "capture " + capRes.TransactionID + " succeeded but was not recorded: " + err.Error()
		}
		captured = false
	}
	res.Rental = rental
	res.Payment = pay

	if captured && cancelled {
		logger.Warn("Rental was cancelled during capture, refunding", "rentalID", rental.ID, "paymentID", pay.ID)
		res.Payment, _, _ = s.refundInFull(ctx, res, pay, cancelReason(rental.CancelReason))
		logger.ExitMethod("rentalService.PickupRental", "rentalID", rental.ID, "captured", captured, "cancelled", true)
		return res, nil
	}
	if captured {
		s.emit(res, domain.PaymentCaptured{
			EventMeta:     s.meta(domain.EventPaymentCaptured, rental),
			PaymentID:     pay.ID,
			Amount:        pay.Amount,
			Currency:      pay.Currency,
			TransactionID: pay.TransactionID,
			Method:        pay.Method,
		})
	} else {
		res.SettlementFailed = true
		s.escalate(ctx, res, rental, pay, pay.Amount, domain.OperationCapture, reason)
	}
	logger.ExitMethod("rentalService.PickupRental", "rentalID", rental.ID, "captured", captured)
	return res, nil
}

// ReturnRental closes the rental, assesses the late penalty against the
// current time and charges it. A failed penalty charge is recorded and
// escalated; the return itself stands.
func (s *rentalService) ReturnRental(ctx context.Context, caller domain.Caller, rentalID int64, note string) (*TransitionResult, error) {
	if err := domain.RequireAdmin(caller); err != nil {
		return nil, err
	}
	logger.EnterMethod("rentalService.ReturnRental", "rentalID", rentalID, "adminID", caller.UserID)

	now := s.clock.Now()
	var rental *domain.Rental
	var penaltyPay *domain.Payment
	var assessed penalty.Result
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		penaltyPay = nil
		r, err := repos.Rentals().GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if !domain.CanReturn(r.Status) {
			return errs.Wrapf(domain.ErrInvalidTransition, "cannot return a %s rental", r.Status)
		}
		assessed = penalty.Calculate(r.DailyPrice, r.EndDate, now, s.cfg.Penalty)
		if err := r.MarkReturned(now); err != nil {
			return err
		}
		r.ReturnNote = note
		r.PenaltyPaid = false
		r.RecordLateStatus(assessed.Status, assessed.LateHours, assessed.Penalty, now)
		if err := repos.Rentals().Update(ctx, r); err != nil {
			return err
		}
		if assessed.Penalty.IsPositive() {
			p, err := domain.NewPayment(r.ID, assessed.Penalty, r.Currency, domain.PaymentMethodPenalty)
			if err != nil {
				return err
			}
			if err := repos.Payments().Create(ctx, p); err != nil {
				return err
			}
			penaltyPay = p
		}
		rental = r
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.ReturnRental", err, "rentalID", rentalID)
		return nil, err
	}

	if err := s.inventory.Release(ctx, rental.CarID); err != nil {
		logger.Warn("Failed to release car", "carID", rental.CarID, "rentalID", rental.ID, "error", err)
	}

	res := &TransitionResult{Rental: rental, Penalty: &assessed, PenaltyPayment: penaltyPay}
	s.emit(res, domain.RentalReturned{
		EventMeta:        s.meta(domain.EventRentalReturned, rental),
		ActualReturnTime: *rental.ActualReturnTime,
		LateReturnStatus: rental.LateReturnStatus,
	})

	if penaltyPay != nil {
		s.settlePenalty(ctx, res)
	}

	summary := domain.PenaltySummary{
		EventMeta:        s.meta(domain.EventPenaltySummary, res.Rental),
		LateReturnStatus: assessed.Status,
		LateHours:        assessed.LateHours,
		Penalty:          assessed.Penalty,
		Capped:           assessed.Capped,
		PenaltyPaid:      res.Rental.PenaltyPaid,
	}
	if res.PenaltyPayment != nil {
		summary.PaymentID = res.PenaltyPayment.ID
	}
	s.emit(res, summary)
	logger.ExitMethod("rentalService.ReturnRental", "rentalID", rental.ID,
		"lateStatus", assessed.Status, "penalty", assessed.Penalty.StringFixed(2))
	return res, nil
}

func (s *rentalService) settlePenalty(ctx context.Context, res *TransitionResult) {
	rental, pay := res.Rental, res.PenaltyPayment
	charge, chargeErr := s.payments.Charge(ctx, pay, rental.CustomerRef)
	paid := chargeErr == nil && charge.Success

	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		p, err := repos.Payments().GetForUpdate(ctx, pay.ID)
		if err != nil {
			return err
		}
		r, err := repos.Rentals().GetForUpdate(ctx, rental.ID)
		if err != nil {
			return err
		}
		if paid {
			if err := p.MarkAuthorized(charge.TransactionID, charge.Raw); err != nil {
				return err
			}
			if err := p.MarkCaptured("", charge.Raw); err != nil {
				return err
			}
			r.PenaltyPaid = true
			if err := repos.Rentals().Update(ctx, r); err != nil {
				return err
			}
		} else {
			if charge.Authorized && charge.TransactionID != "" {
				p.TransactionID = charge.TransactionID
			}
			p.MarkFailed(failureReason(charge, chargeErr), charge.Raw)
		}
		if err := repos.Payments().Update(ctx, p); err != nil {
			return err
		}
		res.Rental, res.PenaltyPayment = r, p
		return nil
	})
	if err != nil {
		logger.Escalate(ctx, "Penalty charge outcome could not be recorded", "rentalID", rental.ID,
			"paymentID", pay.ID, "paid", paid, "error", err)
		paid = false
	}

	if paid {
		p := res.PenaltyPayment
		s.emit(res, domain.PaymentCaptured{
			EventMeta:     s.meta(domain.EventPaymentCaptured, res.Rental),
			PaymentID:     p.ID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			TransactionID: p.TransactionID,
			Method:        p.Method,
		})
		return
	}
	res.SettlementFailed = true
	s.escalate(ctx, res, res.Rental, res.PenaltyPayment, res.PenaltyPayment.Amount,
		domain.OperationCapture, failureReason(charge, chargeErr))
}

// CancelRental cancels a rental that has not been returned. An uncaptured
// authorization is released without a gateway call; a captured charge is
// refunded in full. No pro-rating is applied.
func (s *rentalService) CancelRental(ctx context.Context, caller domain.Caller, rentalID int64, reason string) (*TransitionResult, error) {
	if caller.UserID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	logger.EnterMethod("rentalService.CancelRental", "rentalID", rentalID, "userID", caller.UserID)

	var rental *domain.Rental
	var released, toRefund, inFlight *domain.Payment
	var previous domain.RentalStatus
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		released, toRefund, inFlight = nil, nil, nil
		r, err := repos.Rentals().GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := domain.RequireOwnerOrAdmin(caller, r); err != nil {
			return err
		}
		if !domain.CanCancel(r.Status) {
			return errs.Wrapf(domain.ErrInvalidTransition, "cannot cancel a %s rental", r.Status)
		}
		previous = r.Status
		if err := r.TransitionTo(domain.RentalStatusCancelled); err != nil {
			return err
		}
		r.CancelReason = reason
		if err := repos.Rentals().Update(ctx, r); err != nil {
			return err
		}
		p, err := repos.Payments().FindActiveBase(ctx, r.ID)
		switch {
		case errs.Is(err, domain.ErrPaymentNotFound):
		case err != nil:
			return err
		case p.Status == domain.PaymentStatusAuthorized && previous == domain.RentalStatusInUse:
			// Pickup is still capturing this authorization and refunds the
			// charge once it sees the cancellation.
			inFlight = p
		case p.Status == domain.PaymentStatusAuthorized:
			if err := p.ReleaseAuthorization(); err != nil {
				return err
			}
			if err := repos.Payments().Update(ctx, p); err != nil {
				return err
			}
			released = p
		case p.Status == domain.PaymentStatusCaptured:
			toRefund = p
		}
		rental = r
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.CancelRental", err, "rentalID", rentalID)
		return nil, err
	}

	if domain.HoldsCar(previous) {
		if err := s.inventory.Release(ctx, rental.CarID); err != nil {
			logger.Warn("Failed to release car", "carID", rental.CarID, "rentalID", rental.ID, "error", err)
		}
	}

	res := &TransitionResult{Rental: rental}
	cancelled := domain.RentalCancelled{
		EventMeta:    s.meta(domain.EventRentalCancelled, rental),
		Reason:       reason,
		RefundAmount: decimal.Zero,
	}
	switch {
	case released != nil:
		res.Payment = released
		cancelled.Refunded = true
		cancelled.RefundAmount = released.Amount
		cancelled.RefundTransactionID = released.TransactionID
	case toRefund != nil:
		res.Payment = s.refundCancelled(ctx, res, toRefund, reason, &cancelled)
	case inFlight != nil:
		logger.Info("Cancelled during capture, pickup settles the charge", "rentalID", rental.ID, "paymentID", inFlight.ID)
		res.Payment = inFlight
	}
	s.emit(res, cancelled)
	logger.ExitMethod("rentalService.CancelRental", "rentalID", rental.ID,
		"refunded", cancelled.Refunded, "refundFailed", cancelled.RefundFailed)
	return res, nil
}

func (s *rentalService) refundCancelled(ctx context.Context, res *TransitionResult, pay *domain.Payment,
	reason string, ev *domain.RentalCancelled) *domain.Payment {
	amount := pay.Refundable()
	pay, refundID, ok := s.refundInFull(ctx, res, pay, cancelReason(reason))
	if ok {
		ev.Refunded = true
		ev.RefundAmount = amount
		ev.RefundTransactionID = refundID
		return pay
	}
	ev.RefundFailed = true
	return pay
}

// refundInFull returns whatever is still refundable on a captured payment. A
// failed refund marks the payment FAILED and escalates it.
func (s *rentalService) refundInFull(ctx context.Context, res *TransitionResult, pay *domain.Payment,
	reason string) (*domain.Payment, string, bool) {
	amount := pay.Refundable()
	refund, refundErr := s.payments.Refund(ctx, pay, amount, reason)
	ok := refundErr == nil && refund.Success

	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		p, err := repos.Payments().GetForUpdate(ctx, pay.ID)
		if err != nil {
			return err
		}
		if ok {
			if err := p.ApplyRefund(amount); err != nil {
				return err
			}
		} else {
			p.MarkFailed(failureReason(refund, refundErr), refund.Raw)
		}
		if err := repos.Payments().Update(ctx, p); err != nil {
			return err
		}
		pay = p
		return nil
	})
	if err != nil {
		logger.Escalate(ctx, "Refund outcome could not be recorded", "rentalID", pay.RentalID,
			"paymentID", pay.ID, "refunded", ok, "error", err)
	}

	if ok {
		return pay, refund.TransactionID, true
	}
	res.SettlementFailed = true
	s.escalate(ctx, res, res.Rental, pay, amount, domain.OperationRefund, failureReason(refund, refundErr))
	return pay, "", false
}

func cancelReason(reason string) string {
	if reason == "" {
		return "rental cancelled"
	}
	return "rental cancelled: " + reason
}

func (s *rentalService) GetRental(ctx context.Context, caller domain.Caller, rentalID int64) (*domain.Rental, error) {
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
	return r, nil
}

// ListRentals pages rentals. Customers only ever see their own.
func (s *rentalService) ListRentals(ctx context.Context, caller domain.Caller, filter domain.RentalFilter) ([]domain.Rental, int, error) {
	if caller.UserID == 0 {
		return nil, 0, domain.ErrUnauthenticated
	}
	if !caller.IsAdmin() {
		filter.UserID = caller.UserID
	}
	if filter.Status != "" && !domain.IsValidRentalStatus(filter.Status) {
		return nil, 0, errs.Wrapf(domain.ErrUnknownStatus, "%q", filter.Status)
	}
	return s.repos.Rentals().List(ctx, filter.Normalize())
}

func (s *rentalService) ListPayments(ctx context.Context, caller domain.Caller, rentalID int64) ([]domain.Payment, error) {
	if _, err := s.GetRental(ctx, caller, rentalID); err != nil {
		return nil, err
	}
	return s.repos.Payments().ListByRental(ctx, rentalID)
}

func (s *rentalService) PaymentAudit(ctx context.Context, caller domain.Caller, rentalID int64) ([]domain.PaymentAttempt, error) {
	if err := domain.RequireAdmin(caller); err != nil {
		return nil, err
	}
	if _, err := s.repos.Rentals().GetByID(ctx, rentalID); err != nil {
		return nil, err
	}
	return s.payments.AuditTrail(ctx, rentalID)
}

// CreateCheckoutSession opens a hosted payment page for a rental that is
// still waiting for confirmation.
func (s *rentalService) CreateCheckoutSession(ctx context.Context, caller domain.Caller, rentalID int64) (*gateway.CheckoutSession, error) {
	r, err := s.GetRental(ctx, caller, rentalID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.RentalStatusRequested {
		return nil, errs.Wrapf(domain.ErrInvalidTransition, "checkout is only open for REQUESTED rentals, got %s", r.Status)
	}
	desc := fmt.Sprintf("%s %s (%s) %s to %s", r.CarBrand, r.CarModel, r.CarPlate,
		r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly))
	return s.payments.CreateCheckoutSession(ctx, r.ID, r.TotalPrice, r.Currency, desc)
}

func (s *rentalService) failPayment(ctx context.Context, paymentID int64, reason, raw string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		p, err := repos.Payments().GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		p.MarkFailed(reason, raw)
		return repos.Payments().Update(ctx, p)
	})
}

func (s *rentalService) meta(t domain.EventType, r *domain.Rental) domain.EventMeta {
	return domain.NewEventMeta(t, r.ID, r.UserID, s.clock.Now())
}

func (s *rentalService) emit(res *TransitionResult, e domain.Event) {
	res.Events = append(res.Events, e)
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}

func (s *rentalService) escalate(ctx context.Context, res *TransitionResult, r *domain.Rental, p *domain.Payment,
	amount decimal.Decimal, op domain.GatewayOperation, reason string) {
	logger.Escalate(ctx, "Payment needs manual follow-up", "rentalID", r.ID, "paymentID", p.ID,
		"operation", op, "amount", amount.StringFixed(2), "reason", reason)
	s.emit(res, domain.PaymentEscalated{
		EventMeta: s.meta(domain.EventPaymentEscalated, r),
		PaymentID: p.ID,
		Amount:    amount,
		Operation: op,
		Reason:    reason,
	})
}

// failureReason turns an orchestrator outcome into the text stored on a
// failed payment.
func failureReason(res payment.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res.Message != "" {
		return res.Message
	}
	return "gateway declined the request"
}
