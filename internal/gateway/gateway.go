// Package gateway defines the payment processor boundary and its adapters.
package gateway

import (
	"context"
	"fmt"
	"time"

	"car-rental-backend/internal/domain"

	"github.com/shopspring/decimal"
)

type AuthorizeRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	CustomerRef    string
	IdempotencyKey string
}

type CaptureRequest struct {
	TransactionID  string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type RefundRequest struct {
	TransactionID  string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

type CheckoutRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
}

// Response is a successful gateway reply.
type Response struct {
	TransactionID string
	Status        string
	Raw           string
}

type CheckoutSession struct {
	OrderID     string `json:"order_id"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// Gateway is the payment processor capability set.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Response, error)
	Capture(ctx context.Context, req CaptureRequest) (*Response, error)
	Refund(ctx context.Context, req RefundRequest) (*Response, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// SettlementSource lists the charges the gateway considers settled.
type SettlementSource interface {
	ListSettledCharges(ctx context.Context, from, to time.Time) ([]domain.SettledCharge, error)
}

// Error is a failed gateway call. StatusCode 0 means no response was received.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("gateway: no response: %s", e.Message)
	}
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the same call may succeed if sent again.
func (e *Error) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// NormalizeStatus maps a processor transaction status to the neutral form
// used by reconciliation.
func NormalizeStatus(status string) domain.ExternalStatus {
	switch status {
	case "capture", "settlement", "partial_refund":
		return domain.ExternalStatusSucceeded
	case "pending":
		return domain.ExternalStatusProcessing
	case "authorize":
		return domain.ExternalStatusRequiresCapture
	case "refund":
		return domain.ExternalStatusRefunded
	case "deny", "cancel", "expire", "failure":
		return domain.ExternalStatusCanceled
	default:
		return domain.ExternalStatus(status)
	}
}
