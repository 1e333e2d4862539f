package service_test

import (
	"context"
	"testing"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/metrics"
	"car-rental-backend/internal/penalty"
	"car-rental-backend/internal/pkg/clock"
	"car-rental-backend/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inUse(store *memStore, id int64, end time.Time) {
	store.rentals[id] = domain.Rental{
		ID:               id,
		UserID:           42,
		CarID:            carID,
		StartDate:        end.AddDate(0, 0, -2),
		EndDate:          end,
		DailyPrice:       amount("50.00"),
		TotalPrice:       amount("150.00"),
		Status:           domain.RentalStatusInUse,
		LateReturnStatus: domain.LateStatusOnTime,
		Version:          1,
	}
}

func TestLateReturnService_DetectLateReturns(t *testing.T) {
	ctx := context.Background()

	setup := func(now time.Time, pageSize int) (*memStore, *clock.MockClock, *eventRecorder, service.LateReturnService) {
		clk := clock.NewMockClock(now)
		store := newMemStore(clk)
		rec := &eventRecorder{}
		m := metrics.New(prometheus.NewRegistry())
		return store, clk, rec, service.NewLateReturnService(store, store.Rentals(), rec, m, clk, penalty.DefaultConfig(), pageSize)
	}

	t.Run("Tiers follow lateness", func(t *testing.T) {
		store, _, rec, svc := setup(time.Date(2026, 3, 15, 0, 30, 0, 0, time.UTC), 50)
		inUse(store, 1, day(14)) // 30 minutes late
		inUse(store, 2, day(13)) // a day late
		inUse(store, 3, day(15)) // not due yet
		store.rentals[4] = domain.Rental{ID: 4, EndDate: day(1), Status: domain.RentalStatusReturned, Version: 1}

		summary, err := svc.DetectLateReturns(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Scanned)
		assert.Equal(t, 2, summary.Updated)
		assert.Equal(t, 2, summary.Notified)
		assert.Equal(t, 0, summary.Failed)

		grace := store.rentals[1]
		assert.Equal(t, domain.LateStatusGracePeriod, grace.LateReturnStatus)
		assert.True(t, grace.OutstandingPenalty().IsZero())
		require.NotNil(t, grace.LateDetectedAt)

		severe := store.rentals[2]
		assert.Equal(t, domain.LateStatusSeverelyLate, severe.LateReturnStatus)
		assert.Equal(t, 24, severe.LateHours)
		assert.True(t, severe.OutstandingPenalty().Equal(amount("75.00")))
		assert.Equal(t, domain.RentalStatusInUse, severe.Status)

		assert.ElementsMatch(t, []domain.EventType{domain.EventGracePeriodWarning, domain.EventSeverelyLateEscalation}, rec.types())
		assert.Equal(t, domain.LateStatusOnTime, store.rentals[3].LateReturnStatus)
	})

	t.Run("Repeat runs only notify on a tier change", func(t *testing.T) {
		store, clk, rec, svc := setup(time.Date(2026, 3, 15, 0, 30, 0, 0, time.UTC), 50)
		inUse(store, 1, day(14))

		_, err := svc.DetectLateReturns(ctx)
		require.NoError(t, err)
		first := store.rentals[1].LateDetectedAt

		clk.Add(10 * time.Minute)
		summary, err := svc.DetectLateReturns(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Notified)
		assert.Len(t, rec.types(), 1)

		clk.Set(time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC))
		summary, err = svc.DetectLateReturns(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Notified)
		assert.Equal(t, domain.LateStatusLate, store.rentals[1].LateReturnStatus)
		assert.Equal(t, first, store.rentals[1].LateDetectedAt, "first detection time is kept")
		assert.Equal(t, []domain.EventType{domain.EventGracePeriodWarning, domain.EventLateReturnNotice}, rec.types())
	})

	t.Run("Pages through every overdue rental", func(t *testing.T) {
		store, _, _, svc := setup(time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC), 2)
		for id := int64(1); id <= 5; id++ {
			inUse(store, id, day(14))
		}
		summary, err := svc.DetectLateReturns(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, summary.Scanned)
		for id := int64(1); id <= 5; id++ {
			assert.Equal(t, domain.LateStatusSeverelyLate, store.rentals[id].LateReturnStatus)
		}
	})
}
