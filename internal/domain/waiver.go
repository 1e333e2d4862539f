package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PenaltyWaiver records an admin decision to forgive part or all of a
// rental's penalty. Only the refund fields change after creation.
type PenaltyWaiver struct {
	ID                  int64           `json:"id"`
	RentalID            int64           `json:"rental_id"`
	OriginalPenalty     decimal.Decimal `json:"original_penalty"`
	WaivedAmount        decimal.Decimal `json:"waived_amount"`
	RemainingPenalty    decimal.Decimal `json:"remaining_penalty"`
	Reason              string          `json:"reason"`
	AdminID             int64           `json:"admin_id"`
	WaivedAt            time.Time       `json:"waived_at"`
	RefundInitiated     bool            `json:"refund_initiated"`
	RefundTransactionID string          `json:"refund_transaction_id,omitempty"`
}

func NewPenaltyWaiver(rentalID int64, outstanding, amount decimal.Decimal, reason string, adminID int64, at time.Time) (*PenaltyWaiver, error) {
	amount = amount.Round(2)
	outstanding = outstanding.Round(2)
	if strings.TrimSpace(reason) == "" || adminID <= 0 {
		return nil, ErrInvalidWaiver
	}
	if !outstanding.IsPositive() {
		return nil, ErrNoPenalty
	}
	if !amount.IsPositive() || amount.GreaterThan(outstanding) {
		return nil, ErrInvalidWaiver
	}
	return &PenaltyWaiver{
		RentalID:         rentalID,
		OriginalPenalty:  outstanding,
		WaivedAmount:     amount,
		RemainingPenalty: outstanding.Sub(amount),
		Reason:           strings.TrimSpace(reason),
		AdminID:          adminID,
		WaivedAt:         at.UTC(),
	}, nil
}

func (w *PenaltyWaiver) MarkRefundInitiated(transactionID string) error {
	if w.RefundInitiated {
		return ErrRefundRecorded
	}
	w.RefundInitiated = true
	w.RefundTransactionID = transactionID
	return nil
}
