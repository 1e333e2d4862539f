// Package penalty computes late-return penalties. Everything here is pure:
// the same inputs always give the same breakdown.
package penalty

import (
	"time"

	"car-rental-backend/internal/domain"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierNone     Tier = "NONE"
	TierHourly   Tier = "HOURLY"
	TierDaily    Tier = "DAILY"
	TierMultiDay Tier = "MULTI_DAY"
)

// hourlyTierMaxHours and dailyTierMaxHours bound the tiered rate table.
const (
	hourlyTierMaxHours = 6
	dailyTierMaxHours  = 24
)

type Config struct {
	GracePeriodMinutes         int
	HourlyPenaltyRate          decimal.Decimal
	DailyPenaltyRate           decimal.Decimal
	PenaltyCapMultiplier       decimal.Decimal
	SeverelyLateThresholdHours int
}

func DefaultConfig() Config {
	return Config{
		GracePeriodMinutes:         60,
		HourlyPenaltyRate:          decimal.RequireFromString("0.10"),
		DailyPenaltyRate:           decimal.RequireFromString("1.50"),
		PenaltyCapMultiplier:       decimal.NewFromInt(3),
		SeverelyLateThresholdHours: 24,
	}
}

type Result struct {
	Status      domain.LateReturnStatus
	LateMinutes int
	LateHours   int
	LateDays    int
	Penalty     decimal.Decimal
	Capped      bool
	Tier        Tier
}

// EndOfDay is the last second of the scheduled return date.
func EndOfDay(date time.Time) time.Time {
	d := date.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.UTC)
}

// Cap is the largest penalty a rental at dailyRate can carry.
func Cap(dailyRate decimal.Decimal, cfg Config) decimal.Decimal {
	return dailyRate.Mul(cfg.PenaltyCapMultiplier).Round(2)
}

// Calculate returns the penalty for returning a car scheduled back on
// scheduledEnd at actualReturn. Lateness is counted in whole minutes past
// the end of the scheduled day.
func Calculate(dailyRate decimal.Decimal, scheduledEnd, actualReturn time.Time, cfg Config) Result {
	res := Result{Status: domain.LateStatusOnTime, Penalty: decimal.Zero, Tier: TierNone}

	late := actualReturn.UTC().Sub(EndOfDay(scheduledEnd))
	lateMinutes := int(late / time.Minute)
	if lateMinutes <= 0 {
		return res
	}
	res.LateMinutes = lateMinutes

	remainder := lateMinutes - cfg.GracePeriodMinutes
	if remainder <= 0 {
		res.Status = domain.LateStatusGracePeriod
		return res
	}

	res.LateHours = (remainder + 59) / 60
	res.LateDays = res.LateHours / 24

	if res.LateHours >= cfg.SeverelyLateThresholdHours {
		res.Status = domain.LateStatusSeverelyLate
	} else {
		res.Status = domain.LateStatusLate
	}

	var amount decimal.Decimal
	switch {
	case res.LateHours <= hourlyTierMaxHours:
		res.Tier = TierHourly
		amount = dailyRate.Mul(cfg.HourlyPenaltyRate).Mul(decimal.NewFromInt(int64(res.LateHours)))
	case res.LateHours <= dailyTierMaxHours:
		res.Tier = TierDaily
		amount = dailyRate.Mul(cfg.DailyPenaltyRate)
	default:
		res.Tier = TierMultiDay
		amount = dailyRate.Mul(cfg.DailyPenaltyRate).Mul(decimal.NewFromInt(int64(res.LateDays)))
	}
	amount = amount.Round(2)

	if limit := Cap(dailyRate, cfg); amount.GreaterThan(limit) {
		amount = limit
		res.Capped = true
	}
	res.Penalty = amount
	return res
}
