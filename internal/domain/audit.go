package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type GatewayOperation string

const (
	OperationAuthorize GatewayOperation = "AUTHORIZE"
	OperationCapture   GatewayOperation = "CAPTURE"
	OperationRefund    GatewayOperation = "REFUND"
	OperationCheckout  GatewayOperation = "CHECKOUT"
)

type AttemptOutcome string

const (
	OutcomeSuccess   AttemptOutcome = "SUCCESS"
	OutcomeTransient AttemptOutcome = "TRANSIENT_FAILURE"
	OutcomePermanent AttemptOutcome = "PERMANENT_FAILURE"
)

// PaymentAttempt is one gateway call as recorded in the audit trail.
type PaymentAttempt struct {
	ID             int64            `json:"id"`
	RentalID       int64            `json:"rental_id"`
	PaymentID      int64            `json:"payment_id,omitempty"`
	Operation      GatewayOperation `json:"operation"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
	IdempotencyKey string           `json:"idempotency_key"`
	Attempt        int              `json:"attempt"`
	Outcome        AttemptOutcome   `json:"outcome"`
	StatusCode     int              `json:"status_code"`
	TransactionID  string           `json:"transaction_id,omitempty"`
	Message        string           `json:"message"`
	CreatedAt      time.Time        `json:"created_at"`
}
