package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeclineToken is a customer reference the sandbox always declines.
const DeclineToken = "tok_decline"

type sandboxCharge struct {
	orderID  string
	amount   decimal.Decimal
	refunded decimal.Decimal
	currency string
	status   string
	created  time.Time
}

// Sandbox is an in-process gateway for local development. It replays the
// first response for a repeated idempotency key and mirrors every state
// change into the settlement table so reconciliation has data to read.
type Sandbox struct {
	mu          sync.Mutex
	clock       clock.Clock
	settlements repository.SettlementRepository
	charges     map[string]*sandboxCharge
	replies     map[string]*Response
}

func NewSandbox(c clock.Clock, settlements repository.SettlementRepository) *Sandbox {
	return &Sandbox{
		clock:       c,
		settlements: settlements,
		charges:     make(map[string]*sandboxCharge),
		replies:     make(map[string]*Response),
	}
}

func (s *Sandbox) Authorize(ctx context.Context, req AuthorizeRequest) (*Response, error) {
	if req.CustomerRef == DeclineToken {
		return nil, &Error{StatusCode: 402, Message: "card declined"}
	}
	return s.once(ctx, req.IdempotencyKey, func() (*Response, string, error) {
		txn := "sbx_" + uuid.NewString()
		s.charges[txn] = &sandboxCharge{
			orderID:  req.OrderID,
			amount:   req.Amount,
			refunded: decimal.Zero,
			currency: req.Currency,
			status:   "authorize",
			created:  s.clock.Now(),
		}
		return &Response{TransactionID: txn, Status: "authorize"}, txn, nil
	})
}

func (s *Sandbox) Capture(ctx context.Context, req CaptureRequest) (*Response, error) {
	return s.once(ctx, req.IdempotencyKey, func() (*Response, string, error) {
		ch, ok := s.charges[req.TransactionID]
		if !ok {
			return nil, "", &Error{StatusCode: 404, Message: "transaction not found"}
		}
		if ch.status != "authorize" {
			return nil, "", &Error{StatusCode: 412, Message: "transaction is not authorized"}
		}
		ch.status = "capture"
		return &Response{TransactionID: req.TransactionID, Status: "capture"}, req.TransactionID, nil
	})
}

func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	return s.once(ctx, req.IdempotencyKey, func() (*Response, string, error) {
		ch, ok := s.charges[req.TransactionID]
		if !ok {
			return nil, "", &Error{StatusCode: 404, Message: "transaction not found"}
		}
		if ch.status != "capture" && ch.status != "partial_refund" {
			return nil, "", &Error{StatusCode: 412, Message: "transaction is not refundable"}
		}
		if ch.refunded.Add(req.Amount).GreaterThan(ch.amount) {
			return nil, "", &Error{StatusCode: 400, Message: "refund exceeds captured amount"}
		}
		ch.refunded = ch.refunded.Add(req.Amount)
		ch.status = "partial_refund"
		if ch.refunded.Equal(ch.amount) {
			ch.status = "refund"
		}
		return &Response{TransactionID: req.TransactionID, Status: ch.status}, req.TransactionID, nil
	})
}

func (s *Sandbox) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	token := uuid.NewString()
	return &CheckoutSession{
		OrderID:     req.OrderID,
		Token:       token,
		RedirectURL: fmt.Sprintf("https://sandbox.invalid/checkout/%s", token),
	}, nil
}

// once runs fn unless the idempotency key was already answered, then records
// the touched charge in the settlement mirror.
func (s *Sandbox) once(ctx context.Context, key string, fn func() (*Response, string, error)) (*Response, error) {
	s.mu.Lock()
	if prev, ok := s.replies[key]; ok && key != "" {
		s.mu.Unlock()
		return prev, nil
	}
	resp, txn, err := fn()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if key != "" {
		s.replies[key] = resp
	}
	ch := *s.charges[txn]
	s.mu.Unlock()

	if s.settlements != nil {
		settled := &domain.SettledCharge{
			TransactionID: txn,
			OrderID:       ch.orderID,
			Amount:        ch.amount,
			Currency:      ch.currency,
			Status:        NormalizeStatus(ch.status),
			CreatedAt:     ch.created,
		}
		if err := s.settlements.Upsert(ctx, settled); err != nil {
			return nil, &Error{StatusCode: 500, Message: err.Error()}
		}
	}
	return resp, nil
}
