package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventRentalRequested         EventType = "rental.requested"
	EventRentalConfirmed         EventType = "rental.confirmed"
	EventRentalPickedUp          EventType = "rental.picked_up"
	EventPaymentCaptured         EventType = "payment.captured"
	EventRentalReturned          EventType = "rental.returned"
	EventPenaltySummary          EventType = "penalty.summary"
	EventRentalCancelled         EventType = "rental.cancelled"
	EventGracePeriodWarning      EventType = "late.grace_period_warning"
	EventLateReturnNotice        EventType = "late.notice"
	EventSeverelyLateEscalation  EventType = "late.severely_late"
	EventPenaltyWaived           EventType = "penalty.waived"
	EventPaymentEscalated        EventType = "payment.escalated"
	EventReconciliationCompleted EventType = "reconciliation.completed"
)

// Event is a typed domain event handed to the event sink.
type Event interface {
	Meta() EventMeta
}

type EventMeta struct {
	ID         string    `json:"event_id"`
	Type       EventType `json:"type"`
	RentalID   int64     `json:"rental_id,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (m EventMeta) Meta() EventMeta { return m }

func NewEventMeta(t EventType, rentalID, userID int64, at time.Time) EventMeta {
	return EventMeta{
		ID:         uuid.NewString(),
		Type:       t,
		RentalID:   rentalID,
		UserID:     userID,
		OccurredAt: at.UTC(),
	}
}

type RentalRequested struct {
	EventMeta
	CarID      int64           `json:"car_id"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
}

type RentalConfirmed struct {
	EventMeta
	PaymentID     int64           `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
}

type RentalPickedUp struct {
	EventMeta
	Note string `json:"note,omitempty"`
}

type PaymentCaptured struct {
	EventMeta
	PaymentID     int64           `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id"`
	Method        PaymentMethod   `json:"payment_method"`
}

type RentalReturned struct {
	EventMeta
	ActualReturnTime time.Time        `json:"actual_return_time"`
	LateReturnStatus LateReturnStatus `json:"late_return_status"`
}

type PenaltySummary struct {
	EventMeta
	LateReturnStatus LateReturnStatus `json:"late_return_status"`
	LateHours        int              `json:"late_hours"`
	Penalty          decimal.Decimal  `json:"penalty"`
	Capped           bool             `json:"capped"`
	PenaltyPaid      bool             `json:"penalty_paid"`
	PaymentID        int64            `json:"payment_id,omitempty"`
}

type RentalCancelled struct {
	EventMeta
	Reason              string          `json:"reason,omitempty"`
	Refunded            bool            `json:"refunded"`
	RefundAmount        decimal.Decimal `json:"refund_amount"`
	RefundTransactionID string          `json:"refund_transaction_id,omitempty"`
	RefundFailed        bool            `json:"refund_failed"`
}

// LateReturnNotice carries the detector's projection. Its Type is one of the
// grace-period warning, late notice or severely-late escalation events.
type LateReturnNotice struct {
	EventMeta
	Status           LateReturnStatus `json:"late_return_status"`
	LateHours        int              `json:"late_hours"`
	ProjectedPenalty decimal.Decimal  `json:"projected_penalty"`
	EndDate          time.Time        `json:"end_date"`
}

type PenaltyWaived struct {
	EventMeta
	WaiverID         int64           `json:"waiver_id"`
	WaivedAmount     decimal.Decimal `json:"waived_amount"`
	RemainingPenalty decimal.Decimal `json:"remaining_penalty"`
	AdminID          int64           `json:"admin_id"`
	RefundInitiated  bool            `json:"refund_initiated"`
}

// PaymentEscalated flags money that must be moved by an operator.
type PaymentEscalated struct {
	EventMeta
	PaymentID int64            `json:"payment_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Operation GatewayOperation `json:"operation"`
	Reason    string           `json:"reason"`
}

type ReconciliationCompleted struct {
	EventMeta
	Date             time.Time               `json:"date"`
	HasDiscrepancies bool                    `json:"has_discrepancies"`
	Counts           map[DiscrepancyKind]int `json:"counts"`
}

// LateNoticeType maps a late status to the notification tier it triggers.
func LateNoticeType(s LateReturnStatus) (EventType, bool) {
	switch s {
	case LateStatusGracePeriod:
		return EventGracePeriodWarning, true
	case LateStatusLate:
		return EventLateReturnNotice, true
	case LateStatusSeverelyLate:
		return EventSeverelyLateEscalation, true
	default:
		return "", false
	}
}
