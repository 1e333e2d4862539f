package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusCaptured   PaymentStatus = "CAPTURED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// PaymentMethod tags what a payment is for.
type PaymentMethod string

const (
	PaymentMethodCard    PaymentMethod = "CARD"
	PaymentMethodPenalty PaymentMethod = "PENALTY"
)

type Payment struct {
	ID              int64           `json:"id"`
	RentalID        int64           `json:"rental_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          PaymentStatus   `json:"status"`
	Method          PaymentMethod   `json:"payment_method"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	GatewayResponse string          `json:"-"`
	Deleted         bool            `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func NewPayment(rentalID int64, amount decimal.Decimal, currency string, method PaymentMethod) (*Payment, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return &Payment{
		RentalID:       rentalID,
		Amount:         amount,
		Currency:       currency,
		Status:         PaymentStatusPending,
		Method:         method,
		RefundedAmount: decimal.Zero,
	}, nil
}

func (p *Payment) IsPenalty() bool { return p.Method == PaymentMethodPenalty }

func (p *Payment) IsActive() bool { return !p.Deleted && IsActivePayment(p.Status) }

// Refundable is the captured amount not yet returned to the customer.
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

func (p *Payment) MarkAuthorized(transactionID, response string) error {
	if p.Status != PaymentStatusPending {
		return ErrInvalidPayment
	}
	if transactionID == "" {
		return ErrMissingReference
	}
	p.Status = PaymentStatusAuthorized
	p.TransactionID = transactionID
	p.GatewayResponse = response
	p.FailureReason = ""
	return nil
}

// MarkCaptured settles an authorized payment. A capture may return a new
// gateway reference; an empty one keeps the authorization's.
func (p *Payment) MarkCaptured(transactionID, response string) error {
	if !CanCapture(p.Status) {
		return ErrInvalidPayment
	}
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	if p.TransactionID == "" {
		return ErrMissingReference
	}
	p.Status = PaymentStatusCaptured
	p.GatewayResponse = response
	p.FailureReason = ""
	return nil
}

func (p *Payment) MarkFailed(reason, response string) {
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	if response != "" {
		p.GatewayResponse = response
	}
}

// ApplyRefund records money returned by the gateway. Reaching the full
// amount moves the payment to REFUNDED.
func (p *Payment) ApplyRefund(amount decimal.Decimal) error {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !CanRefund(p.Status) {
		return ErrInvalidPayment
	}
	if p.TransactionID == "" {
		return ErrMissingReference
	}
	if amount.GreaterThan(p.Refundable()) {
		return ErrRefundExceeds
	}
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	if p.RefundedAmount.Equal(p.Amount) {
		p.Status = PaymentStatusRefunded
	}
	return nil
}

// ReleaseAuthorization closes an uncaptured authorization without a gateway
// call; the hold simply expires on the gateway side.
func (p *Payment) ReleaseAuthorization() error {
	if p.Status != PaymentStatusAuthorized {
		return ErrInvalidPayment
	}
	p.RefundedAmount = p.Amount
	p.Status = PaymentStatusRefunded
	return nil
}
