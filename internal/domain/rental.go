package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RentalStatus string

const (
	RentalStatusRequested RentalStatus = "REQUESTED"
	RentalStatusConfirmed RentalStatus = "CONFIRMED"
	RentalStatusInUse     RentalStatus = "IN_USE"
	RentalStatusReturned  RentalStatus = "RETURNED"
	RentalStatusCancelled RentalStatus = "CANCELLED"
)

type LateReturnStatus string

const (
	LateStatusOnTime       LateReturnStatus = "ON_TIME"
	LateStatusGracePeriod  LateReturnStatus = "GRACE_PERIOD"
	LateStatusLate         LateReturnStatus = "LATE"
	LateStatusSeverelyLate LateReturnStatus = "SEVERELY_LATE"
)

// Severity orders late statuses so escalation can be detected.
func (s LateReturnStatus) Severity() int {
	switch s {
	case LateStatusGracePeriod:
		return 1
	case LateStatusLate:
		return 2
	case LateStatusSeverelyLate:
		return 3
	default:
		return 0
	}
}

type Rental struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
	CarID  int64 `json:"car_id"`
	// Car snapshot captured when the rental is requested.
	CarBrand string `json:"car_brand"`
	CarModel string `json:"car_model"`
	CarPlate string `json:"car_plate"`
	// StartDate and EndDate are calendar dates held as midnight UTC.
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	DailyPrice decimal.Decimal `json:"daily_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
	// CustomerRef is the saved payment method handed to the gateway.
	CustomerRef      string           `json:"-"`
	Status           RentalStatus     `json:"status"`
	PenaltyAmount    *decimal.Decimal `json:"penalty_amount,omitempty"`
	PenaltyPaid      bool             `json:"penalty_paid"`
	LateReturnStatus LateReturnStatus `json:"late_return_status"`
	LateDetectedAt   *time.Time       `json:"late_detected_at,omitempty"`
	LateHours        int              `json:"late_hours"`
	ActualReturnTime *time.Time       `json:"actual_return_time,omitempty"`
	PickupNote       string           `json:"pickup_note"`
	ReturnNote       string           `json:"return_note"`
	CancelReason     string           `json:"cancel_reason,omitempty"`
	Deleted          bool             `json:"-"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Days is the inclusive number of calendar days covered by the rental.
func (r *Rental) Days() int {
	return RentalDays(r.StartDate, r.EndDate)
}

func RentalDays(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}

// OutstandingPenalty is the assessed penalty still standing after waivers.
func (r *Rental) OutstandingPenalty() decimal.Decimal {
	if r.PenaltyAmount == nil {
		return decimal.Zero
	}
	return *r.PenaltyAmount
}

func (r *Rental) SetPenalty(amount decimal.Decimal) {
	a := amount.Round(2)
	r.PenaltyAmount = &a
}

// TransitionTo moves the rental along the transition table.
func (r *Rental) TransitionTo(next RentalStatus) error {
	if !CanTransition(r.Status, next) {
		return ErrInvalidTransition
	}
	r.Status = next
	return nil
}

// MarkReturned records the actual return time; it may only be set once.
func (r *Rental) MarkReturned(at time.Time) error {
	if r.ActualReturnTime != nil {
		return ErrAlreadyReturned
	}
	if err := r.TransitionTo(RentalStatusReturned); err != nil {
		return err
	}
	t := at.UTC()
	r.ActualReturnTime = &t
	return nil
}

// RecordLateStatus stores a late-return assessment. LateDetectedAt is only set
// the first time the rental leaves ON_TIME.
func (r *Rental) RecordLateStatus(status LateReturnStatus, lateHours int, penalty decimal.Decimal, at time.Time) {
	r.LateReturnStatus = status
	r.LateHours = lateHours
	r.SetPenalty(penalty)
	if status != LateStatusOnTime && r.LateDetectedAt == nil {
		t := at.UTC()
		r.LateDetectedAt = &t
	}
}

// RentalFilter narrows rental listings.
type RentalFilter struct {
	UserID   int64
	CarID    int64
	Status   RentalStatus
	Page     int
	PageSize int
}

func (f RentalFilter) Normalize() RentalFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}
