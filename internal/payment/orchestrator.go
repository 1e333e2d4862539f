// Package payment wraps the gateway with retries, idempotency keys and an
// audit trail of every attempt.
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/gateway"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/metrics"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/pkg/errs"
	"car-rental-backend/internal/repository"
	"car-rental-backend/internal/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sleeper waits between attempts. It returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	IdempotencyWindow time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: time.Second, IdempotencyWindow: 10 * time.Minute}
}

// Result is the normalized outcome of a gateway operation. Permanent gateway
// refusals come back as Success=false with a nil error.
type Result struct {
	Success        bool
	TransactionID  string
	Message        string
	StatusCode     int
	Attempts       int
	IdempotencyKey string
	Raw            string
	// Authorized is set by Charge when the authorization went through but
	// the capture did not.
	Authorized bool
}

type Orchestrator struct {
	gateway gateway.Gateway
	audit   repository.PaymentAuditRepository
	clock   clock.Clock
	sleep   Sleeper
	cfg     Config
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Orchestrator)

func WithSleeper(s Sleeper) Option { return func(o *Orchestrator) { o.sleep = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

func NewOrchestrator(gw gateway.Gateway, audit repository.PaymentAuditRepository, c clock.Clock, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = DefaultConfig().IdempotencyWindow
	}
	o := &Orchestrator{
		gateway: gw,
		audit:   audit,
		clock:   c,
		sleep:   SleepContext,
		cfg:     cfg,
		tracer:  telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IdempotencyKey derives the gateway idempotency key for an operation on a
// rental. Calls inside the same time bucket share a key.
func IdempotencyKey(rentalID int64, operation string, at time.Time, window time.Duration) string {
	bucket := at.UTC().Truncate(window).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%d", rentalID, operation, bucket)))
	return hex.EncodeToString(sum[:])
}

func orderID(p *domain.Payment) string {
	return fmt.Sprintf("rental-%d-payment-%d", p.RentalID, p.ID)
}

type target struct {
	rentalID  int64
	paymentID int64
	amount    decimal.Decimal
	currency  string
}

func targetOf(p *domain.Payment, amount decimal.Decimal) target {
	return target{rentalID: p.RentalID, paymentID: p.ID, amount: amount, currency: p.Currency}
}

func (o *Orchestrator) Authorize(ctx context.Context, p *domain.Payment, customerRef string) (Result, error) {
	scope := fmt.Sprintf("authorize:payment:%d", p.ID)
	return o.execute(ctx, domain.OperationAuthorize, scope, targetOf(p, p.Amount), func(ctx context.Context, key string) (*gateway.Response, error) {
		return o.gateway.Authorize(ctx, gateway.AuthorizeRequest{
			OrderID:        orderID(p),
			Amount:         p.Amount,
			Currency:       p.Currency,
			CustomerRef:    customerRef,
			IdempotencyKey: key,
		})
	})
}

func (o *Orchestrator) Capture(ctx context.Context, p *domain.Payment) (Result, error) {
	if p.TransactionID == "" {
		return Result{}, domain.ErrMissingReference
	}
	return o.capture(ctx, p, p.TransactionID)
}

func (o *Orchestrator) capture(ctx context.Context, p *domain.Payment, transactionID string) (Result, error) {
	scope := fmt.Sprintf("capture:payment:%d", p.ID)
	return o.execute(ctx, domain.OperationCapture, scope, targetOf(p, p.Amount), func(ctx context.Context, key string) (*gateway.Response, error) {
		return o.gateway.Capture(ctx, gateway.CaptureRequest{
			TransactionID:  transactionID,
			Amount:         p.Amount,
			IdempotencyKey: key,
		})
	})
}

// Refund returns amount of a captured payment. The key scope includes what
// was already refunded so each partial refund is a distinct operation.
func (o *Orchestrator) Refund(ctx context.Context, p *domain.Payment, amount decimal.Decimal, reason string) (Result, error) {
	if p.TransactionID == "" {
		return Result{}, domain.ErrMissingReference
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return Result{}, domain.ErrInvalidAmount
	}
	if amount.GreaterThan(p.Refundable()) {
		return Result{}, domain.ErrRefundExceeds
	}
	scope := fmt.Sprintf("refund:payment:%d:%s", p.ID, p.RefundedAmount.StringFixed(2))
	return o.execute(ctx, domain.OperationRefund, scope, targetOf(p, amount), func(ctx context.Context, key string) (*gateway.Response, error) {
		return o.gateway.Refund(ctx, gateway.RefundRequest{
			TransactionID:  p.TransactionID,
			Amount:         amount,
			Reason:         reason,
			IdempotencyKey: key,
		})
	})
}

// Charge authorizes and immediately captures a payment.
func (o *Orchestrator) Charge(ctx context.Context, p *domain.Payment, customerRef string) (Result, error) {
	auth, err := o.Authorize(ctx, p, customerRef)
	if err != nil || !auth.Success {
		return auth, err
	}
	capRes, err := o.capture(ctx, p, auth.TransactionID)
	if err != nil {
		return Result{Authorized: true, TransactionID: auth.TransactionID, Attempts: capRes.Attempts, Message: capRes.Message}, err
	}
	if !capRes.Success {
		capRes.Authorized = true
		capRes.TransactionID = auth.TransactionID
		return capRes, nil
	}
	if capRes.TransactionID == "" {
		capRes.TransactionID = auth.TransactionID
	}
	return capRes, nil
}

// CreateCheckoutSession opens a hosted payment page for the rental.
func (o *Orchestrator) CreateCheckoutSession(ctx context.Context, rentalID int64, amount decimal.Decimal, currency, description string) (*gateway.CheckoutSession, error) {
	order := fmt.Sprintf("rental-%d-checkout-%s", rentalID, uuid.NewString()[:8])
	var session *gateway.CheckoutSession
	t := target{rentalID: rentalID, amount: amount, currency: currency}
	res, err := o.execute(ctx, domain.OperationCheckout, "checkout", t, func(ctx context.Context, key string) (*gateway.Response, error) {
		s, err := o.gateway.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
			OrderID:        order,
			Amount:         amount,
			Currency:       currency,
			Description:    description,
			IdempotencyKey: key,
		})
		if err != nil {
			return nil, err
		}
		session = s
		return &gateway.Response{TransactionID: s.OrderID, Status: "checkout"}, nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errs.Wrap(domain.ErrPaymentDeclined, res.Message)
	}
	return session, nil
}

func (o *Orchestrator) execute(ctx context.Context, op domain.GatewayOperation, scope string, t target,
	call func(ctx context.Context, key string) (*gateway.Response, error)) (Result, error) {
	key := IdempotencyKey(t.rentalID, scope, o.clock.Now(), o.cfg.IdempotencyWindow)
	opName := strings.ToLower(string(op))

	ctx, span := o.tracer.Start(ctx, "payment."+opName, trace.WithAttributes(
		attribute.Int64("rental.id", t.rentalID),
		attribute.Int64("payment.id", t.paymentID),
		attribute.String("payment.amount", t.amount.StringFixed(2)),
	))
	defer span.End()

	backoff := o.cfg.InitialBackoff
	var lastErr *gateway.Error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		logger.ExternalServiceCall("PaymentGateway", string(op), "rental_id", t.rentalID, "payment_id", t.paymentID, "attempt", attempt)
		start := time.Now()
		resp, err := call(ctx, key)
		took := time.Since(start)

		if err == nil {
			o.record(ctx, t, op, key, attempt, domain.OutcomeSuccess, 200, resp.TransactionID, resp.Status)
			o.metrics.GatewayAttempt(string(op), string(domain.OutcomeSuccess), took)
			logger.ExternalServiceResult("PaymentGateway", string(op), nil, "duration_ms", took.Milliseconds(), "transaction_id", resp.TransactionID)
			span.SetAttributes(attribute.Int("payment.attempts", attempt))
			return Result{
				Success:        true,
				TransactionID:  resp.TransactionID,
				Message:        resp.Status,
				StatusCode:     200,
				Attempts:       attempt,
				IdempotencyKey: key,
				Raw:            resp.Raw,
			}, nil
		}

		gwErr := asGatewayError(err)
		logger.ExternalServiceResult("PaymentGateway", string(op), gwErr, "duration_ms", took.Milliseconds(), "attempt", attempt, "status_code", gwErr.StatusCode)

		if !gwErr.Retryable() {
			o.record(ctx, t, op, key, attempt, domain.OutcomePermanent, gwErr.StatusCode, "", gwErr.Message)
			o.metrics.GatewayAttempt(string(op), string(domain.OutcomePermanent), took)
			span.SetStatus(codes.Error, gwErr.Message)
			return Result{
				Success:        false,
				Message:        gwErr.Message,
				StatusCode:     gwErr.StatusCode,
				Attempts:       attempt,
				IdempotencyKey: key,
			}, nil
		}

		o.record(ctx, t, op, key, attempt, domain.OutcomeTransient, gwErr.StatusCode, "", gwErr.Message)
		o.metrics.GatewayAttempt(string(op), string(domain.OutcomeTransient), took)
		lastErr = gwErr

		if attempt < o.cfg.MaxAttempts {
			if err := o.sleep(ctx, backoff); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return Result{Attempts: attempt, IdempotencyKey: key, Message: err.Error()},
					errs.Wrapf(domain.ErrGatewayUnavailable, "%s interrupted after %d attempts: %v", opName, attempt, err)
			}
			backoff *= 2
		}
	}

	span.SetStatus(codes.Error, lastErr.Message)
	logger.Error("Gateway retries exhausted", "operation", op, "rental_id", t.rentalID, "payment_id", t.paymentID, "attempts", o.cfg.MaxAttempts, "error", lastErr)
	return Result{
			Success:        false,
			Message:        lastErr.Message,
			StatusCode:     lastErr.StatusCode,
			Attempts:       o.cfg.MaxAttempts,
			IdempotencyKey: key,
		},
		errs.Wrapf(domain.ErrGatewayUnavailable, "%s failed after %d attempts: %v", opName, o.cfg.MaxAttempts, lastErr)
}

// asGatewayError treats anything that is not a gateway.Error as a call that
// never got a response.
func asGatewayError(err error) *gateway.Error {
	var gwErr *gateway.Error
	if errs.As(err, &gwErr) {
		return gwErr
	}
	return &gateway.Error{StatusCode: 0, Message: err.Error()}
}

func (o *Orchestrator) record(ctx context.Context, t target, op domain.GatewayOperation, key string, attempt int,
	outcome domain.AttemptOutcome, statusCode int, transactionID, message string) {
	if o.audit == nil {
		return
	}
	a := &domain.PaymentAttempt{
		RentalID:       t.rentalID,
		PaymentID:      t.paymentID,
		Operation:      op,
		Amount:         t.amount,
		Currency:       t.currency,
		IdempotencyKey: key,
		Attempt:        attempt,
		Outcome:        outcome,
		StatusCode:     statusCode,
		TransactionID:  transactionID,
		Message:        message,
		CreatedAt:      o.clock.Now(),
	}
	// The audit write must not mask the gateway outcome.
	if err := o.audit.Record(context.WithoutCancel(ctx), a); err != nil {
		logger.Error("Failed to record payment attempt", "operation", op, "rental_id", t.rentalID, "error", err)
	}
}

// AuditTrail lists the recorded gateway attempts for a rental.
func (o *Orchestrator) AuditTrail(ctx context.Context, rentalID int64) ([]domain.PaymentAttempt, error) {
	if o.audit == nil {
		return nil, nil
	}
	return o.audit.ListByRental(ctx, rentalID)
}
