package service

import (
	"context"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/gateway"
	"car-rental-backend/internal/payment"
	"car-rental-backend/internal/penalty"

	"github.com/shopspring/decimal"
)

// RentalRequest is the customer's ask for a car over an inclusive date range.
type RentalRequest struct {
	CarID       int64
	StartDate   time.Time
	EndDate     time.Time
	CustomerRef string
}

// TransitionResult is what a lifecycle operation changed and announced.
type TransitionResult struct {
	Rental         *domain.Rental
	Payment        *domain.Payment
	PenaltyPayment *domain.Payment
	Penalty        *penalty.Result
	Events         []domain.Event
	// SettlementFailed is set when money could not be moved after the
	// transition committed. The payment carries the reason.
	SettlementFailed bool
}

type RentalService interface {
	RequestRental(ctx context.Context, caller domain.Caller, req RentalRequest) (*TransitionResult, error)
	ConfirmRental(ctx context.Context, caller domain.Caller, rentalID int64) (*TransitionResult, error)
	PickupRental(ctx context.Context, caller domain.Caller, rentalID int64, note string) (*TransitionResult, error)
	ReturnRental(ctx context.Context, caller domain.Caller, rentalID int64, note string) (*TransitionResult, error)
	CancelRental(ctx context.Context, caller domain.Caller, rentalID int64, reason string) (*TransitionResult, error)
	GetRental(ctx context.Context, caller domain.Caller, rentalID int64) (*domain.Rental, error)
	ListRentals(ctx context.Context, caller domain.Caller, filter domain.RentalFilter) ([]domain.Rental, int, error)
	ListPayments(ctx context.Context, caller domain.Caller, rentalID int64) ([]domain.Payment, error)
	PaymentAudit(ctx context.Context, caller domain.Caller, rentalID int64) ([]domain.PaymentAttempt, error)
	CreateCheckoutSession(ctx context.Context, caller domain.Caller, rentalID int64) (*gateway.CheckoutSession, error)
}

type PenaltyService interface {
	WaivePenalty(ctx context.Context, caller domain.Caller, rentalID int64, amount decimal.Decimal, reason string) (*domain.PenaltyWaiver, error)
	WaiveFullPenalty(ctx context.Context, caller domain.Caller, rentalID int64, reason string) (*domain.PenaltyWaiver, error)
	GetPenaltyHistory(ctx context.Context, caller domain.Caller, rentalID int64) ([]domain.PenaltyWaiver, error)
}

type ReconciliationService interface {
	RunDailyReconciliation(ctx context.Context, date time.Time) (*domain.ReconciliationReport, error)
}

// DetectionSummary counts what one late-return sweep did.
type DetectionSummary struct {
	Scanned  int
	Updated  int
	Notified int
	Failed   int
}

type LateReturnService interface {
	DetectLateReturns(ctx context.Context) (*DetectionSummary, error)
}

// Inventory is the car catalogue as seen by the rental lifecycle.
type Inventory interface {
	GetCar(ctx context.Context, carID int64) (*domain.CarSnapshot, error)
	IsAvailable(ctx context.Context, carID int64, start, end time.Time) (bool, error)
	Reserve(ctx context.Context, carID int64) error
	Release(ctx context.Context, carID int64) error
}

// PaymentOrchestrator moves money through the gateway with retries and audit.
type PaymentOrchestrator interface {
	Authorize(ctx context.Context, p *domain.Payment, customerRef string) (payment.Result, error)
	Capture(ctx context.Context, p *domain.Payment) (payment.Result, error)
	Refund(ctx context.Context, p *domain.Payment, amount decimal.Decimal, reason string) (payment.Result, error)
	Charge(ctx context.Context, p *domain.Payment, customerRef string) (payment.Result, error)
	CreateCheckoutSession(ctx context.Context, rentalID int64, amount decimal.Decimal, currency, description string) (*gateway.CheckoutSession, error)
	AuditTrail(ctx context.Context, rentalID int64) ([]domain.PaymentAttempt, error)
}

var _ PaymentOrchestrator = (*payment.Orchestrator)(nil)
