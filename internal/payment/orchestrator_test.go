package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/gateway"
	"car-rental-backend/internal/pkg/clock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (*gateway.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Response), args.Error(1)
}

func (m *MockGateway) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Response), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Response), args.Error(1)
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.CheckoutSession), args.Error(1)
}

type auditLog struct {
	mu       sync.Mutex
	attempts []domain.PaymentAttempt
}

func (a *auditLog) Record(_ context.Context, at *domain.PaymentAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = append(a.attempts, *at)
	return nil
}

func (a *auditLog) ListByRental(_ context.Context, rentalID int64) ([]domain.PaymentAttempt, error) {
	var out []domain.PaymentAttempt
	for _, at := range a.attempts {
		if at.RentalID == rentalID {
			out = append(out, at)
		}
	}
	return out, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

var now = time.Date(2026, 5, 1, 10, 3, 0, 0, time.UTC)

func newTestOrchestrator(gw gateway.Gateway) (*Orchestrator, *auditLog, *sleepRecorder) {
	audit := &auditLog{}
	sleeper := &sleepRecorder{}
	o := NewOrchestrator(gw, audit, clock.NewMockClock(now), DefaultConfig(), WithSleeper(sleeper.sleep))
	return o, audit, sleeper
}

func pendingPayment() *domain.Payment {
	return &domain.Payment{
		ID: 4, RentalID: 11, Amount: decimal.NewFromInt(1500), Currency: "IDR",
		Status: domain.PaymentStatusPending, Method: domain.PaymentMethodCard, RefundedAmount: decimal.Zero,
	}
}

func TestIdempotencyKey(t *testing.T) {
	window := 10 * time.Minute
	a := IdempotencyKey(11, "authorize:payment:4", now, window)
	b := IdempotencyKey(11, "authorize:payment:4", now.Add(5*time.Minute), window)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, IdempotencyKey(11, "authorize:payment:4", now.Add(10*time.Minute), window))
	assert.NotEqual(t, a, IdempotencyKey(12, "authorize:payment:4", now, window))
	assert.NotEqual(t, a, IdempotencyKey(11, "capture:payment:4", now, window))
}

func TestOrchestrator_RetriesTransientFailures(t *testing.T) {
	gw := new(MockGateway)
	o, audit, sleeper := newTestOrchestrator(gw)
	ctx := context.Background()

	gw.On("Authorize", mock.Anything, mock.Anything).Return(nil, &gateway.Error{StatusCode: 503, Message: "unavailable"}).Once()
	gw.On("Authorize", mock.Anything, mock.Anything).Return(nil, &gateway.Error{StatusCode: 0, Message: "timeout"}).Once()
	gw.On("Authorize", mock.Anything, mock.Anything).Return(&gateway.Response{TransactionID: "txn-1", Status: "authorize"}, nil).Once()

	res, err := o.Authorize(ctx, pendingPayment(), "tok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "txn-1", res.TransactionID)
	assert.Equal(t, 3, res.Attempts)
	gw.AssertNumberOfCalls(t, "Authorize", 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)

	require.Len(t, audit.attempts, 3)
	assert.Equal(t, domain.OutcomeTransient, audit.attempts[0].Outcome)
	assert.Equal(t, domain.OutcomeSuccess, audit.attempts[2].Outcome)
	for _, at := range audit.attempts {
		assert.Equal(t, res.IdempotencyKey, at.IdempotencyKey)
	}

	keys := map[string]bool{}
	for _, c := range gw.Calls {
		keys[c.Arguments.Get(1).(gateway.AuthorizeRequest).IdempotencyKey] = true
	}
	assert.Len(t, keys, 1)
}

func TestOrchestrator_PermanentFailureStopsImmediately(t *testing.T) {
	gw := new(MockGateway)
	o, audit, sleeper := newTestOrchestrator(gw)

	gw.On("Authorize", mock.Anything, mock.Anything).Return(nil, &gateway.Error{StatusCode: 400, Message: "card declined"})

	res, err := o.Authorize(context.Background(), pendingPayment(), "tok")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 400, res.StatusCode)
	assert.Equal(t, "card declined", res.Message)
	gw.AssertNumberOfCalls(t, "Authorize", 1)
	assert.Empty(t, sleeper.waits)
	require.Len(t, audit.attempts, 1)
	assert.Equal(t, domain.OutcomePermanent, audit.attempts[0].Outcome)
}

func TestOrchestrator_ExhaustedRetries(t *testing.T) {
	gw := new(MockGateway)
	o, audit, _ := newTestOrchestrator(gw)

	gw.On("Capture", mock.Anything, mock.Anything).Return(nil, &gateway.Error{StatusCode: 429, Message: "slow down"})

	p := pendingPayment()
	require.NoError(t, p.MarkAuthorized("txn-1", ""))
	res, err := o.Capture(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	gw.AssertNumberOfCalls(t, "Capture", 3)
	assert.Len(t, audit.attempts, 3)
}

func TestOrchestrator_Refund(t *testing.T) {
	gw := new(MockGateway)
	o, _, _ := newTestOrchestrator(gw)
	ctx := context.Background()

	p := pendingPayment()
	require.NoError(t, p.MarkAuthorized("txn-1", ""))
	require.NoError(t, p.MarkCaptured("", ""))

	t.Run("Rejects more than refundable", func(t *testing.T) {
		_, err := o.Refund(ctx, p, decimal.NewFromInt(1501), "too much")
		assert.ErrorIs(t, err, domain.ErrRefundExceeds)
		gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	})

	t.Run("Distinct keys per partial refund", func(t *testing.T) {
		gw.On("Refund", mock.Anything, mock.Anything).Return(&gateway.Response{TransactionID: "txn-1", Status: "partial_refund"}, nil)

		first, err := o.Refund(ctx, p, decimal.NewFromInt(500), "waiver")
		require.NoError(t, err)
		require.NoError(t, p.ApplyRefund(decimal.NewFromInt(500)))
		second, err := o.Refund(ctx, p, decimal.NewFromInt(500), "waiver")
		require.NoError(t, err)
		assert.NotEqual(t, first.IdempotencyKey, second.IdempotencyKey)
	})

	t.Run("Requires a transaction id", func(t *testing.T) {
		_, err := o.Refund(ctx, pendingPayment(), decimal.NewFromInt(1), "x")
		assert.ErrorIs(t, err, domain.ErrMissingReference)
	})
}

func TestOrchestrator_Charge(t *testing.T) {
	t.Run("Authorize then capture", func(t *testing.T) {
		gw := new(MockGateway)
		o, _, _ := newTestOrchestrator(gw)
		gw.On("Authorize", mock.Anything, mock.Anything).Return(&gateway.Response{TransactionID: "auth-1"}, nil)
		gw.On("Capture", mock.Anything, mock.MatchedBy(func(r gateway.CaptureRequest) bool {
			return r.TransactionID == "auth-1"
		})).Return(&gateway.Response{TransactionID: "auth-1", Status: "capture"}, nil)

		res, err := o.Charge(context.Background(), pendingPayment(), "tok")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "auth-1", res.TransactionID)
	})

	t.Run("Capture refused after authorization", func(t *testing.T) {
		gw := new(MockGateway)
		o, _, _ := newTestOrchestrator(gw)
		gw.On("Authorize", mock.Anything, mock.Anything).Return(&gateway.Response{TransactionID: "auth-1"}, nil)
		gw.On("Capture", mock.Anything, mock.Anything).Return(nil, &gateway.Error{StatusCode: 412, Message: "expired"})

		res, err := o.Charge(context.Background(), pendingPayment(), "tok")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.True(t, res.Authorized)
		assert.Equal(t, "auth-1", res.TransactionID)
	})
}

func TestOrchestrator_CreateCheckoutSession(t *testing.T) {
	gw := new(MockGateway)
	o, audit, _ := newTestOrchestrator(gw)
	gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&gateway.CheckoutSession{OrderID: "o-1", Token: "tok", RedirectURL: "https://pay"}, nil)

	s, err := o.CreateCheckoutSession(context.Background(), 11, decimal.NewFromInt(1500), "IDR", "Rental #11")
	require.NoError(t, err)
	assert.Equal(t, "https://pay", s.RedirectURL)
	require.Len(t, audit.attempts, 1)
	assert.Equal(t, domain.OperationCheckout, audit.attempts[0].Operation)
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
