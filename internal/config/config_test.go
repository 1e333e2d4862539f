package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
database:
  host: localhost
  user: rental
  database: rentals
jwt:
  secret: 0123456789abcdef0123456789abcdef
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "0 */15 * * * *", cfg.Scheduler.DetectLateReturns)
	assert.Equal(t, "0 0 1 * * *", cfg.Scheduler.DailyReconciliation)
	assert.Equal(t, 60, cfg.Penalty.Grace())
	assert.Equal(t, 90, cfg.Penalty.MaxRentalDays)
	assert.Equal(t, 3, cfg.Payment.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Payment.InitialBackoff)
	assert.Equal(t, "sandbox", cfg.Payment.Gateway)
	assert.Equal(t, 50, cfg.LateDetection.PageSize)
	assert.Equal(t, "log", cfg.Events.Driver)

	pc := cfg.Penalty.CalculatorConfig()
	assert.True(t, pc.HourlyPenaltyRate.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, pc.DailyPenaltyRate.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, pc.PenaltyCapMultiplier.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 24, pc.SeverelyLateThresholdHours)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("PENALTY_GRACE_PERIOD_MINUTES", "30")
	t.Setenv("PAYMENT_INITIAL_BACKOFF", "250ms")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 30, cfg.Penalty.Grace())
	assert.Equal(t, 250*time.Millisecond, cfg.Payment.InitialBackoff)
}

func TestParse_ZeroGracePeriod(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "penalty:\n  grace_period_minutes: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Penalty.GracePeriodMinutes)
	assert.Equal(t, 0, cfg.Penalty.Grace())
	assert.Equal(t, 0, cfg.Penalty.CalculatorConfig().GracePeriodMinutes)

	t.Setenv("PENALTY_GRACE_PERIOD_MINUTES", "0")
	cfg, err = Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Penalty.Grace())
}

func TestParse_Invalid(t *testing.T) {
	t.Run("Short JWT secret", func(t *testing.T) {
		_, err := Parse([]byte("database: {host: h, user: u, database: d}\njwt: {secret: short}\n"))
		assert.Error(t, err)
	})

	t.Run("Midtrans without server key", func(t *testing.T) {
		_, err := Parse([]byte(minimalYAML + "payment:\n  gateway: midtrans\n"))
		assert.Error(t, err)
	})

	t.Run("Kafka without brokers", func(t *testing.T) {
		_, err := Parse([]byte(minimalYAML + "events:\n  driver: kafka\n"))
		assert.Error(t, err)
	})
}

func TestGetDatabaseConnectionString(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "postgres://rental:@localhost:5432/rentals?sslmode=disable", cfg.GetDatabaseConnectionString())
}

func TestGetSecurityLevel(t *testing.T) {
	assert.Equal(t, SecurityPublic, GetSecurityLevel(RouteHealth))
	assert.Equal(t, SecurityWebhook, GetSecurityLevel(RouteGatewayWebhook))
	assert.Equal(t, SecurityAccess, GetSecurityLevel(RouteConfirmRental))
	assert.Equal(t, SecurityAccess, GetSecurityLevel("some-new-route"))
}
