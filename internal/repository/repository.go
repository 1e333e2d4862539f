package repository

import (
	"context"
	"time"

	"car-rental-backend/internal/domain"
)

type RentalRepository interface {
	Create(ctx context.Context, rental *domain.Rental) error
	GetByID(ctx context.Context, id int64) (*domain.Rental, error)
	// GetForUpdate reads the rental and holds a row lock until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Rental, error)
	// Update writes the rental if its version still matches and bumps the version.
	Update(ctx context.Context, rental *domain.Rental) error
	// HasOverlap reports whether another live rental holds the car on any day of [start, end].
	HasOverlap(ctx context.Context, carID int64, start, end time.Time, excludeID int64) (bool, error)
	// ListOverdueInUse pages IN_USE rentals whose end date is before the given date, ordered by id.
	ListOverdueInUse(ctx context.Context, before time.Time, afterID int64, limit int) ([]domain.Rental, error)
	List(ctx context.Context, filter domain.RentalFilter) ([]domain.Rental, int, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.Payment, error)
	Update(ctx context.Context, payment *domain.Payment) error
	// FindActiveBase returns the live base rental charge or ErrPaymentNotFound.
	FindActiveBase(ctx context.Context, rentalID int64) (*domain.Payment, error)
	// FindCapturedPenalty returns the most recent penalty charge that can still be refunded.
	FindCapturedPenalty(ctx context.Context, rentalID int64) (*domain.Payment, error)
	ListByRental(ctx context.Context, rentalID int64) ([]domain.Payment, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Payment, error)
}

type WaiverRepository interface {
	Create(ctx context.Context, waiver *domain.PenaltyWaiver) error
	Update(ctx context.Context, waiver *domain.PenaltyWaiver) error
	ListByRental(ctx context.Context, rentalID int64) ([]domain.PenaltyWaiver, error)
}

type CarRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.CarSnapshot, error)
	// LockForUpdate serializes rental writes for one car.
	LockForUpdate(ctx context.Context, id int64) (*domain.CarSnapshot, error)
	UpdateStatus(ctx context.Context, id int64, status domain.CarStatus) error
}

type PaymentAuditRepository interface {
	Record(ctx context.Context, attempt *domain.PaymentAttempt) error
	ListByRental(ctx context.Context, rentalID int64) ([]domain.PaymentAttempt, error)
}

type SettlementRepository interface {
	Upsert(ctx context.Context, charge *domain.SettledCharge) error
	ListSettledCharges(ctx context.Context, from, to time.Time) ([]domain.SettledCharge, error)
}

// Repos is the set of repositories bound to one unit of work.
type Repos interface {
	Rentals() RentalRepository
	Payments() PaymentRepository
	Waivers() WaiverRepository
	Cars() CarRepository
}

// TxManager runs fn inside a single database transaction. A nil return commits.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}
