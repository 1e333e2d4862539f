package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/gateway"
	"car-rental-backend/internal/payment"
	"car-rental-backend/internal/penalty"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/repository"
	"car-rental-backend/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory unit of work. WithinTx restores the previous
// state when fn fails, the way a rolled back transaction would.
type memStore struct {
	txMu     sync.Mutex
	clock    clock.Clock
	nextID   int64
	rentals  map[int64]domain.Rental
	payments map[int64]domain.Payment
	waivers  map[int64]domain.PenaltyWaiver
	cars     map[int64]domain.CarSnapshot
	attempts []domain.PaymentAttempt

	failPaymentUpdates bool
}

func newMemStore(c clock.Clock) *memStore {
	return &memStore{
		clock:    c,
		rentals:  map[int64]domain.Rental{},
		payments: map[int64]domain.Payment{},
		waivers:  map[int64]domain.PenaltyWaiver{},
		cars:     map[int64]domain.CarSnapshot{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	rentals := copyMap(s.rentals)
	payments := copyMap(s.payments)
	waivers := copyMap(s.waivers)
	cars := copyMap(s.cars)
	if err := fn(ctx, s); err != nil {
		s.rentals, s.payments, s.waivers, s.cars = rentals, payments, waivers, cars
		return err
	}
	return nil
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memStore) Rentals() repository.RentalRepository   { return (*memRentals)(s) }
func (s *memStore) Payments() repository.PaymentRepository { return (*memPayments)(s) }
func (s *memStore) Waivers() repository.WaiverRepository   { return (*memWaivers)(s) }
func (s *memStore) Cars() repository.CarRepository         { return (*memCars)(s) }
func (s *memStore) Audit() repository.PaymentAuditRepository {
	return (*memAudit)(s)
}

func (s *memStore) rental(t *testing.T, id int64) *domain.Rental {
	t.Helper()
	r, ok := s.rentals[id]
	require.True(t, ok, "rental %d missing", id)
	return &r
}

func (s *memStore) paymentsOf(rentalID int64, method domain.PaymentMethod) []domain.Payment {
	var out []domain.Payment
	for _, p := range s.payments {
		if p.RentalID == rentalID && p.Method == method {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memRentals memStore

func (r *memRentals) Create(_ context.Context, rental *domain.Rental) error {
	s := (*memStore)(r)
	rental.ID = s.id()
	rental.Version = 1
	rental.CreatedAt = s.clock.Now()
	rental.UpdatedAt = rental.CreatedAt
	s.rentals[rental.ID] = *rental
	return nil
}

func (r *memRentals) GetByID(_ context.Context, id int64) (*domain.Rental, error) {
	rental, ok := r.rentals[id]
	if !ok || rental.Deleted {
		return nil, domain.ErrRentalNotFound
	}
	return &rental, nil
}

func (r *memRentals) GetForUpdate(ctx context.Context, id int64) (*domain.Rental, error) {
	return r.GetByID(ctx, id)
}

func (r *memRentals) Update(_ context.Context, rental *domain.Rental) error {
	current, ok := r.rentals[rental.ID]
	if !ok {
		return domain.ErrRentalNotFound
	}
	if current.Version != rental.Version {
		return domain.ErrConcurrentUpdate
	}
	rental.Version++
	rental.UpdatedAt = (*memStore)(r).clock.Now()
	r.rentals[rental.ID] = *rental
	return nil
}

func (r *memRentals) HasOverlap(_ context.Context, carID int64, start, end time.Time, excludeID int64) (bool, error) {
	for _, rental := range r.rentals {
		if rental.CarID != carID || rental.ID == excludeID || rental.Status == domain.RentalStatusCancelled {
			continue
		}
		if !start.After(rental.EndDate) && !end.Before(rental.StartDate) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRentals) ListOverdueInUse(_ context.Context, before time.Time, afterID int64, limit int) ([]domain.Rental, error) {
	var out []domain.Rental
	for _, rental := range r.rentals {
		if rental.Status == domain.RentalStatusInUse && rental.EndDate.Before(before) && rental.ID > afterID {
			out = append(out, rental)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRentals) List(_ context.Context, f domain.RentalFilter) ([]domain.Rental, int, error) {
	var out []domain.Rental
	for _, rental := range r.rentals {
		if f.UserID != 0 && rental.UserID != f.UserID {
			continue
		}
		if f.CarID != 0 && rental.CarID != f.CarID {
			continue
		}
		if f.Status != "" && rental.Status != f.Status {
			continue
		}
		out = append(out, rental)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	from := (f.Page - 1) * f.PageSize
	if from >= total {
		return []domain.Rental{}, total, nil
	}
	to := from + f.PageSize
	if to > total {
		to = total
	}
	return out[from:to], total, nil
}

type memPayments memStore

func (r *memPayments) Create(_ context.Context, p *domain.Payment) error {
	s := (*memStore)(r)
	p.ID = s.id()
	p.CreatedAt = s.clock.Now()
	p.UpdatedAt = p.CreatedAt
	s.payments[p.ID] = *p
	return nil
}

func (r *memPayments) GetByID(_ context.Context, id int64) (*domain.Payment, error) {
	p, ok := r.payments[id]
	if !ok || p.Deleted {
		return nil, domain.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *memPayments) GetForUpdate(ctx context.Context, id int64) (*domain.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *memPayments) Update(_ context.Context, p *domain.Payment) error {
	if r.failPaymentUpdates {
		return errDatabaseDown
	}
	if _, ok := r.payments[p.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	p.UpdatedAt = (*memStore)(r).clock.Now()
	r.payments[p.ID] = *p
	return nil
}

func (r *memPayments) latest(rentalID int64, match func(domain.Payment) bool) (*domain.Payment, error) {
	var found *domain.Payment
	for _, p := range r.payments {
		if p.RentalID != rentalID || p.Deleted || !match(p) {
			continue
		}
		if found == nil || p.ID > found.ID {
			cp := p
			found = &cp
		}
	}
	if found == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return found, nil
}

func (r *memPayments) FindActiveBase(_ context.Context, rentalID int64) (*domain.Payment, error) {
	return r.latest(rentalID, func(p domain.Payment) bool {
		return p.Method == domain.PaymentMethodCard && domain.IsActivePayment(p.Status)
	})
}

func (r *memPayments) FindCapturedPenalty(_ context.Context, rentalID int64) (*domain.Payment, error) {
	return r.latest(rentalID, func(p domain.Payment) bool {
		return p.Method == domain.PaymentMethodPenalty && p.Status == domain.PaymentStatusCaptured
	})
}

func (r *memPayments) ListByRental(_ context.Context, rentalID int64) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range r.payments {
		if p.RentalID == rentalID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memPayments) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range r.payments {
		if !p.CreatedAt.Before(from) && p.CreatedAt.Before(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memWaivers memStore

func (r *memWaivers) Create(_ context.Context, w *domain.PenaltyWaiver) error {
	w.ID = (*memStore)(r).id()
	r.waivers[w.ID] = *w
	return nil
}

func (r *memWaivers) Update(_ context.Context, w *domain.PenaltyWaiver) error {
	r.waivers[w.ID] = *w
	return nil
}

func (r *memWaivers) ListByRental(_ context.Context, rentalID int64) ([]domain.PenaltyWaiver, error) {
	out := []domain.PenaltyWaiver{}
	for _, w := range r.waivers {
		if w.RentalID == rentalID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memCars memStore

func (r *memCars) GetByID(_ context.Context, id int64) (*domain.CarSnapshot, error) {
	c, ok := r.cars[id]
	if !ok {
		return nil, domain.ErrCarNotFound
	}
	return &c, nil
}

func (r *memCars) LockForUpdate(ctx context.Context, id int64) (*domain.CarSnapshot, error) {
	return r.GetByID(ctx, id)
}

func (r *memCars) UpdateStatus(_ context.Context, id int64, status domain.CarStatus) error {
	c, ok := r.cars[id]
	if !ok {
		return domain.ErrCarNotFound
	}
	c.Status = status
	r.cars[id] = c
	return nil
}

type memAudit memStore

func (r *memAudit) Record(_ context.Context, a *domain.PaymentAttempt) error {
	a.ID = int64(len(r.attempts) + 1)
	r.attempts = append(r.attempts, *a)
	return nil
}

func (r *memAudit) ListByRental(_ context.Context, rentalID int64) ([]domain.PaymentAttempt, error) {
	var out []domain.PaymentAttempt
	for _, a := range r.attempts {
		if a.RentalID == rentalID {
			out = append(out, a)
		}
	}
	return out, nil
}

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

type MockSettlementSource struct {
	mock.Mock
}

func (m *MockSettlementSource) ListSettledCharges(ctx context.Context, from, to time.Time) ([]domain.SettledCharge, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SettledCharge), args.Error(1)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(events ...domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *eventRecorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Meta().Type)
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type dbError string

func (e dbError) Error() string { return string(e) }

const errDatabaseDown = dbError("database is down")

var (
	admin    = domain.Caller{UserID: 1, Role: domain.RoleAdmin}
	customer = domain.Caller{UserID: 42, Role: domain.RoleCustomer}
	stranger = domain.Caller{UserID: 77, Role: domain.RoleCustomer}
)

const carID = int64(500)

type fixture struct {
	store     *memStore
	gw        *MockGateway
	events    *eventRecorder
	clock     *clock.MockClock
	rentals   service.RentalService
	penalties service.PenaltyService
}

func noSleep(context.Context, time.Duration) error { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	store := newMemStore(clk)
	store.cars[carID] = domain.CarSnapshot{
		ID:         carID,
		Brand:      "Toyota",
		Model:      "Avanza",
		Plate:      "B 1234 XYZ",
		DailyPrice: decimal.RequireFromString("50.00"),
		Currency:   "USD",
		Status:     domain.CarStatusAvailable,
	}
	store.nextID = 1000

	gw := new(MockGateway)
	rec := &eventRecorder{}
	orch := payment.NewOrchestrator(gw, store.Audit(), clk, payment.DefaultConfig(), payment.WithSleeper(noSleep))
	cfg := service.RentalConfig{Penalty: penalty.DefaultConfig(), MaxRentalDays: 30}

	return &fixture{
		store:     store,
		gw:        gw,
		events:    rec,
		clock:     clk,
		rentals:   service.NewRentalService(store, store, service.NewInventory(store.Cars(), store.Rentals()), orch, rec, clk, cfg),
		penalties: service.NewPenaltyService(store, store, orch, rec, clk),
	}
}

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// requested books the car from the 12th to the 14th.
func (f *fixture) requested(t *testing.T) *domain.Rental {
	t.Helper()
	res, err := f.rentals.RequestRental(context.Background(), customer, service.RentalRequest{
		CarID:       carID,
		StartDate:   day(12),
		EndDate:     day(14),
		CustomerRef: "tok_visa",
	})
	require.NoError(t, err)
	return res.Rental
}

func (f *fixture) confirmed(t *testing.T) *domain.Rental {
	t.Helper()
	r := f.requested(t)
	f.gw.On("Authorize", mock.Anything, mock.MatchedBy(func(req gateway.AuthorizeRequest) bool {
		return req.OrderID != "" && req.CustomerRef == "tok_visa"
	})).Return(&gateway.Response{TransactionID: "auth-1", Status: "authorize"}, nil).Once()
	res, err := f.rentals.ConfirmRental(context.Background(), admin, r.ID)
	require.NoError(t, err)
	return res.Rental
}

func (f *fixture) pickedUp(t *testing.T) *domain.Rental {
	t.Helper()
	r := f.confirmed(t)
	f.gw.On("Capture", mock.Anything, mock.MatchedBy(func(req gateway.CaptureRequest) bool {
		return req.TransactionID == "auth-1"
	})).Return(&gateway.Response{TransactionID: "auth-1", Status: "capture"}, nil).Once()
	res, err := f.rentals.PickupRental(context.Background(), admin, r.ID, "full tank")
	require.NoError(t, err)
	require.False(t, res.SettlementFailed)
	return res.Rental
}

// returnedLate returns the car at 03:00 on the day after the scheduled end,
// two billable hours past the grace period.
func (f *fixture) returnedLate(t *testing.T) *domain.Rental {
	t.Helper()
	r := f.pickedUp(t)
	f.clock.Set(time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC))
	f.gw.On("Authorize", mock.Anything, mock.MatchedBy(func(req gateway.AuthorizeRequest) bool {
		return req.Amount.Equal(amount("10.00"))
	})).Return(&gateway.Response{TransactionID: "pen-1", Status: "authorize"}, nil).Once()
	f.gw.On("Capture", mock.Anything, mock.MatchedBy(func(req gateway.CaptureRequest) bool {
		return req.TransactionID == "pen-1"
	})).Return(&gateway.Response{TransactionID: "pen-1", Status: "capture"}, nil).Once()
	res, err := f.rentals.ReturnRental(context.Background(), admin, r.ID, "")
	require.NoError(t, err)
	require.True(t, res.Rental.PenaltyPaid)
	return res.Rental
}
