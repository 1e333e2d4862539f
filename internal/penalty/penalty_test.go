package penalty

import (
	"testing"
	"time"

	"car-rental-backend/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var (
	endDate   = time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	endOfDay  = EndOfDay(endDate)
	dailyRate = decimal.NewFromInt(500)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// returnedAfterGrace returns the instant that is graceMinutes+minutes past the end of day.
func returnedAfterGrace(minutes int) time.Time {
	return endOfDay.Add(time.Duration(60+minutes) * time.Minute)
}

func TestCalculate_OnTime(t *testing.T) {
	cfg := DefaultConfig()
	for _, at := range []time.Time{endDate.Add(10 * time.Hour), endOfDay, endOfDay.Add(59 * time.Second)} {
		res := Calculate(dailyRate, endDate, at, cfg)
		assert.Equal(t, domain.LateStatusOnTime, res.Status)
		assert.True(t, res.Penalty.IsZero())
	}
}

func TestCalculate_GraceBoundary(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("Exactly grace minutes late", func(t *testing.T) {
		res := Calculate(dailyRate, endDate, endOfDay.Add(60*time.Minute), cfg)
		assert.Equal(t, domain.LateStatusGracePeriod, res.Status)
		assert.Equal(t, 60, res.LateMinutes)
		assert.True(t, res.Penalty.IsZero())
	})

	t.Run("One minute past grace", func(t *testing.T) {
		res := Calculate(dailyRate, endDate, returnedAfterGrace(1), cfg)
		assert.Equal(t, domain.LateStatusLate, res.Status)
		assert.Equal(t, 1, res.LateHours)
		assert.True(t, res.Penalty.Equal(dec("50")))
	})
}

func TestCalculate_TierBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name    string
		hours   int
		status  domain.LateReturnStatus
		tier    Tier
		days    int
		penalty string
	}{
		{"6 hours hourly tier", 6, domain.LateStatusLate, TierHourly, 0, "300"},
		{"7 hours daily tier", 7, domain.LateStatusLate, TierDaily, 0, "750"},
		{"23 hours daily tier", 23, domain.LateStatusLate, TierDaily, 0, "750"},
		{"24 hours still one day", 24, domain.LateStatusSeverelyLate, TierDaily, 1, "750"},
		{"25 hours multi day", 25, domain.LateStatusSeverelyLate, TierMultiDay, 1, "750"},
		{"48 hours two days", 48, domain.LateStatusSeverelyLate, TierMultiDay, 2, "1500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Calculate(dailyRate, endDate, returnedAfterGrace(tt.hours*60), cfg)
			assert.Equal(t, tt.hours, res.LateHours)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.tier, res.Tier)
			assert.Equal(t, tt.days, res.LateDays)
			assert.True(t, res.Penalty.Equal(dec(tt.penalty)), "got %s", res.Penalty)
		})
	}
}

func TestCalculate_PartialHourRoundsUp(t *testing.T) {
	res := Calculate(dailyRate, endDate, returnedAfterGrace(121), DefaultConfig())
	assert.Equal(t, 3, res.LateHours)
	assert.True(t, res.Penalty.Equal(dec("150")))
}

func TestCalculate_Cap(t *testing.T) {
	cfg := DefaultConfig()
	res := Calculate(dailyRate, endDate, returnedAfterGrace(5*24*60), cfg)
	assert.True(t, res.Capped)
	assert.True(t, res.Penalty.Equal(dec("1500")))

	res = Calculate(dailyRate, endDate, returnedAfterGrace(48*60), cfg)
	assert.False(t, res.Capped)
}

func TestCalculate_MonotonicAndBounded(t *testing.T) {
	cfg := DefaultConfig()
	rate := dec("333.33")
	limit := Cap(rate, cfg)
	prev := decimal.Zero
	for minutes := -120; minutes <= 10*24*60; minutes += 17 {
		res := Calculate(rate, endDate, endOfDay.Add(time.Duration(minutes)*time.Minute), cfg)
		assert.False(t, res.Penalty.LessThan(prev), "penalty decreased at %d minutes", minutes)
		assert.False(t, res.Penalty.GreaterThan(limit), "penalty above cap at %d minutes", minutes)
		assert.True(t, res.Penalty.Equal(res.Penalty.Round(2)))
		prev = res.Penalty
	}
}

func TestCalculate_Scenarios(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("Three hours after grace", func(t *testing.T) {
		res := Calculate(dailyRate, endDate, returnedAfterGrace(3*60), cfg)
		assert.Equal(t, domain.LateStatusLate, res.Status)
		assert.True(t, res.Penalty.Equal(dailyRate.Mul(cfg.HourlyPenaltyRate).Mul(decimal.NewFromInt(3))))
	})

	t.Run("Thirty hours late", func(t *testing.T) {
		res := Calculate(dailyRate, endDate, returnedAfterGrace(30*60), cfg)
		assert.Equal(t, 1, res.LateDays)
		assert.Equal(t, domain.LateStatusSeverelyLate, res.Status)
		assert.True(t, res.Penalty.Equal(dailyRate.Mul(cfg.DailyPenaltyRate)))
		assert.False(t, res.Capped)
	})
}

func TestCalculate_RoundsHalfUp(t *testing.T) {
	cfg := DefaultConfig()
	res := Calculate(dec("0.05"), endDate, returnedAfterGrace(60), cfg)
	// 0.05 * 0.10 * 1 = 0.005
	assert.True(t, res.Penalty.Equal(dec("0.01")), "got %s", res.Penalty)
}
