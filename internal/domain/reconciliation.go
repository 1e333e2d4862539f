package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExternalStatus is the gateway-neutral status of a settled charge.
type ExternalStatus string

const (
	ExternalStatusSucceeded       ExternalStatus = "SUCCEEDED"
	ExternalStatusProcessing      ExternalStatus = "PROCESSING"
	ExternalStatusCanceled        ExternalStatus = "CANCELED"
	ExternalStatusRefunded        ExternalStatus = "REFUNDED"
	ExternalStatusRequiresCapture ExternalStatus = "REQUIRES_CAPTURE"
)

// SettledCharge is the gateway's view of a charge.
type SettledCharge struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        ExternalStatus  `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StatusEquivalent reports whether a local payment status matches the
// gateway status.
func StatusEquivalent(local PaymentStatus, external ExternalStatus) bool {
	switch local {
	case PaymentStatusCaptured:
		return external == ExternalStatusSucceeded
	case PaymentStatusPending:
		return external == ExternalStatusProcessing
	case PaymentStatusFailed:
		return external == ExternalStatusCanceled
	case PaymentStatusRefunded:
		return external == ExternalStatusRefunded
	case PaymentStatusAuthorized:
		return external == ExternalStatusRequiresCapture
	default:
		return false
	}
}

type DiscrepancyKind string

const (
	DiscrepancyMissingInGateway  DiscrepancyKind = "MISSING_IN_GATEWAY"
	DiscrepancyMissingInDatabase DiscrepancyKind = "MISSING_IN_DATABASE"
	DiscrepancyAmountMismatch    DiscrepancyKind = "AMOUNT_MISMATCH"
	DiscrepancyStatusMismatch    DiscrepancyKind = "STATUS_MISMATCH"
)

type Discrepancy struct {
	Kind           DiscrepancyKind  `json:"kind"`
	TransactionID  string           `json:"transaction_id"`
	PaymentID      int64            `json:"payment_id,omitempty"`
	RentalID       int64            `json:"rental_id,omitempty"`
	LocalAmount    *decimal.Decimal `json:"local_amount,omitempty"`
	ExternalAmount *decimal.Decimal `json:"external_amount,omitempty"`
	LocalStatus    PaymentStatus    `json:"local_status,omitempty"`
	ExternalStatus ExternalStatus   `json:"external_status,omitempty"`
}

type ReconciliationReport struct {
	Date             time.Time     `json:"date"`
	LocalCount       int           `json:"local_count"`
	ExternalCount    int           `json:"external_count"`
	Matched          int           `json:"matched"`
	Skipped          int           `json:"skipped"`
	Discrepancies    []Discrepancy `json:"discrepancies"`
	HasDiscrepancies bool          `json:"has_discrepancies"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

func (r *ReconciliationReport) Add(d Discrepancy) {
	r.Discrepancies = append(r.Discrepancies, d)
	r.HasDiscrepancies = true
}

// CountByKind summarizes discrepancies for logs and metrics.
func (r *ReconciliationReport) CountByKind() map[DiscrepancyKind]int {
	out := make(map[DiscrepancyKind]int)
	for _, d := range r.Discrepancies {
		out[d.Kind]++
	}
	return out
}
