package service_test

import (
	"context"
	"testing"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/metrics"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func localPayment(id int64, txn, amt string, status domain.PaymentStatus) domain.Payment {
	return domain.Payment{ID: id, RentalID: id * 10, TransactionID: txn, Amount: amount(amt), Status: status}
}

func settled(txn, amt string, status domain.ExternalStatus) domain.SettledCharge {
	return domain.SettledCharge{TransactionID: txn, Amount: amount(amt), Status: status}
}

func TestReconcile(t *testing.T) {
	t.Run("Amount mismatch is reported once", func(t *testing.T) {
		report := service.Reconcile(
			[]domain.Payment{localPayment(1, "X", "100", domain.PaymentStatusCaptured)},
			[]domain.SettledCharge{settled("X", "90", domain.ExternalStatusSucceeded)},
		)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, domain.DiscrepancyAmountMismatch, d.Kind)
		assert.True(t, d.LocalAmount.Equal(amount("100")))
		assert.True(t, d.ExternalAmount.Equal(amount("90")))
		assert.True(t, report.HasDiscrepancies)
	})

	t.Run("Charge unknown locally", func(t *testing.T) {
		report := service.Reconcile(nil, []domain.SettledCharge{settled("X", "90", domain.ExternalStatusSucceeded)})
		require.Len(t, report.Discrepancies, 1)
		assert.Equal(t, domain.DiscrepancyMissingInDatabase, report.Discrepancies[0].Kind)
		assert.Equal(t, "X", report.Discrepancies[0].TransactionID)
	})

	t.Run("Charge unknown to the gateway", func(t *testing.T) {
		report := service.Reconcile([]domain.Payment{localPayment(1, "Y", "50", domain.PaymentStatusCaptured)}, nil)
		require.Len(t, report.Discrepancies, 1)
		assert.Equal(t, domain.DiscrepancyMissingInGateway, report.Discrepancies[0].Kind)
		assert.Equal(t, int64(1), report.Discrepancies[0].PaymentID)
	})

	t.Run("Status mismatch", func(t *testing.T) {
		report := service.Reconcile(
			[]domain.Payment{localPayment(1, "Z", "50", domain.PaymentStatusFailed)},
			[]domain.SettledCharge{settled("Z", "50", domain.ExternalStatusSucceeded)},
		)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, domain.DiscrepancyStatusMismatch, d.Kind)
		assert.Equal(t, domain.PaymentStatusFailed, d.LocalStatus)
		assert.Equal(t, domain.ExternalStatusSucceeded, d.ExternalStatus)
	})

	t.Run("Clean ledgers", func(t *testing.T) {
		report := service.Reconcile(
			[]domain.Payment{
				localPayment(1, "A", "10", domain.PaymentStatusCaptured),
				localPayment(2, "B", "20", domain.PaymentStatusRefunded),
				localPayment(3, "C", "30", domain.PaymentStatusAuthorized),
				localPayment(4, "", "40", domain.PaymentStatusPending),
			},
			[]domain.SettledCharge{
				settled("A", "10.00", domain.ExternalStatusSucceeded),
				settled("B", "20", domain.ExternalStatusRefunded),
				settled("C", "30", domain.ExternalStatusRequiresCapture),
			},
		)
		assert.False(t, report.HasDiscrepancies)
		assert.Empty(t, report.Discrepancies)
		assert.Equal(t, 3, report.Matched)
		assert.Equal(t, 1, report.Skipped)
		assert.Equal(t, 4, report.LocalCount)
		assert.Equal(t, 3, report.ExternalCount)
	})
}

func TestReconciliationService_RunDailyReconciliation(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 17, 45, 0, 0, time.UTC)
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	setup := func(t *testing.T) (*memStore, *MockSettlementSource, *eventRecorder, service.ReconciliationService) {
		clk := clock.NewMockClock(time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC))
		store := newMemStore(clk)
		store.payments[1] = domain.Payment{ID: 1, TransactionID: "X", Amount: amount("100"), Status: domain.PaymentStatusCaptured, CreatedAt: from.Add(time.Hour)}
		store.payments[2] = domain.Payment{ID: 2, TransactionID: "Y", Amount: amount("5"), Status: domain.PaymentStatusCaptured, CreatedAt: from.Add(-time.Hour)}
		source := new(MockSettlementSource)
		rec := &eventRecorder{}
		m := metrics.New(prometheus.NewRegistry())
		return store, source, rec, service.NewReconciliationService(store.Payments(), source, rec, m, clk)
	}

	t.Run("Window is the UTC day", func(t *testing.T) {
		_, source, rec, svc := setup(t)
		source.On("ListSettledCharges", mock.Anything, from, to).
			Return([]domain.SettledCharge{settled("X", "90", domain.ExternalStatusSucceeded)}, nil).Once()

		report, err := svc.RunDailyReconciliation(ctx, date)
		require.NoError(t, err)
		assert.Equal(t, from, report.Date)
		assert.Equal(t, 1, report.LocalCount)
		require.Len(t, report.Discrepancies, 1)
		assert.Equal(t, domain.DiscrepancyAmountMismatch, report.Discrepancies[0].Kind)
		assert.Equal(t, []domain.EventType{domain.EventReconciliationCompleted}, rec.types())
		source.AssertExpectations(t)
	})

	t.Run("Fetch failure fails the run", func(t *testing.T) {
		_, source, rec, svc := setup(t)
		source.On("ListSettledCharges", mock.Anything, from, to).Return(nil, errDatabaseDown).Once()

		report, err := svc.RunDailyReconciliation(ctx, date)
		assert.ErrorIs(t, err, domain.ErrReconciliationFetch)
		assert.Nil(t, report)
		assert.Empty(t, rec.types())
	})
}
