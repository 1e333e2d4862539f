package config

import (
	"fmt"
	"os"
	"time"

	"car-rental-backend/internal/penalty"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	JWT           JWTConfig           `yaml:"jwt"`
	Log           LogConfig           `yaml:"log"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Penalty       PenaltyConfig       `yaml:"penalty"`
	Payment       PaymentConfig       `yaml:"payment"`
	LateDetection LateDetectionConfig `yaml:"late_detection"`
	Events        EventsConfig        `yaml:"events"`
	Redis         RedisConfig         `yaml:"redis"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"SERVER_HOST"`
	Port int    `yaml:"port" envconfig:"SERVER_PORT"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"DB_HOST"`
	Port     int    `yaml:"port" envconfig:"DB_PORT"`
	User     string `yaml:"user" envconfig:"DB_USER"`
	Password string `yaml:"password" envconfig:"DB_PASSWORD"`
	Database string `yaml:"database" envconfig:"DB_NAME"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"DB_SSL_MODE"`
	MaxConns int    `yaml:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS"`
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret            string `yaml:"secret" envconfig:"JWT_SECRET"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes" envconfig:"JWT_ACCESS_TOKEN_EXPIRY_MINUTES"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`   // "debug", "info", "warn", "error"
	Format     string `yaml:"format" envconfig:"LOG_FORMAT"` // "json" or "text"
	File       string `yaml:"file" envconfig:"LOG_FILE"`     // optional rotating file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SchedulerConfig contains cron schedule settings (with seconds)
type SchedulerConfig struct {
	DetectLateReturns   string `yaml:"detect_late_returns" envconfig:"SCHEDULE_DETECT_LATE_RETURNS"`
	DailyReconciliation string `yaml:"daily_reconciliation" envconfig:"SCHEDULE_DAILY_RECONCILIATION"`
}

// PenaltyConfig contains late-return penalty settings
type PenaltyConfig struct {
	GracePeriodMinutes         *int    `yaml:"grace_period_minutes" envconfig:"PENALTY_GRACE_PERIOD_MINUTES"` // nil means default; 0 disables the grace period
	HourlyPenaltyRate          float64 `yaml:"hourly_penalty_rate" envconfig:"PENALTY_HOURLY_RATE"`
	DailyPenaltyRate           float64 `yaml:"daily_penalty_rate" envconfig:"PENALTY_DAILY_RATE"`
	PenaltyCapMultiplier       float64 `yaml:"penalty_cap_multiplier" envconfig:"PENALTY_CAP_MULTIPLIER"`
	SeverelyLateThresholdHours int     `yaml:"severely_late_threshold_hours" envconfig:"PENALTY_SEVERELY_LATE_HOURS"`
	MaxRentalDays              int     `yaml:"max_rental_days" envconfig:"MAX_RENTAL_DAYS"`
}

// PaymentConfig contains gateway and retry settings
type PaymentConfig struct {
	Gateway           string         `yaml:"gateway" envconfig:"PAYMENT_GATEWAY"` // "midtrans" or "sandbox"
	MaxAttempts       int            `yaml:"max_attempts" envconfig:"PAYMENT_MAX_ATTEMPTS"`
	InitialBackoff    time.Duration  `yaml:"initial_backoff" envconfig:"PAYMENT_INITIAL_BACKOFF"`
	IdempotencyWindow time.Duration  `yaml:"idempotency_window" envconfig:"PAYMENT_IDEMPOTENCY_WINDOW"`
	Midtrans          MidtransConfig `yaml:"midtrans"`
}

// MidtransConfig contains Midtrans credentials
type MidtransConfig struct {
	ServerKey   string `yaml:"server_key" envconfig:"MIDTRANS_SERVER_KEY"`
	ClientKey   string `yaml:"client_key" envconfig:"MIDTRANS_CLIENT_KEY"`
	Environment string `yaml:"environment" envconfig:"MIDTRANS_ENVIRONMENT"` // "sandbox" or "production"
}

// LateDetectionConfig contains late-return detector settings
type LateDetectionConfig struct {
	PageSize int `yaml:"page_size" envconfig:"LATE_DETECTION_PAGE_SIZE"`
}

// EventsConfig contains event sink settings
type EventsConfig struct {
	Driver       string   `yaml:"driver" envconfig:"EVENTS_DRIVER"` // "nats", "kafka" or "log"
	NatsURL      string   `yaml:"nats_url" envconfig:"NATS_URL"`
	StreamName   string   `yaml:"stream_name" envconfig:"NATS_STREAM"`
	KafkaBrokers []string `yaml:"kafka_brokers" envconfig:"KAFKA_BROKERS"`
	Topic        string   `yaml:"topic" envconfig:"EVENTS_TOPIC"`
	BufferSize   int      `yaml:"buffer_size" envconfig:"EVENTS_BUFFER_SIZE"`
}

// RedisConfig contains job lock settings
type RedisConfig struct {
	URL     string        `yaml:"url" envconfig:"REDIS_URL"`
	LockTTL time.Duration `yaml:"lock_ttl" envconfig:"REDIS_LOCK_TTL"`
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"OTEL_ENABLED"`
	Endpoint    string `yaml:"endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" envconfig:"OTEL_SERVICE_NAME"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes, environment overrides and defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Database validation
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	// Scheduler defaults
	if c.Scheduler.DetectLateReturns == "" {
		c.Scheduler.DetectLateReturns = "0 */15 * * * *" // every 15 minutes
	}
	if c.Scheduler.DailyReconciliation == "" {
		c.Scheduler.DailyReconciliation = "0 0 1 * * *" // 1 AM UTC
	}

	// Penalty defaults
	def := penalty.DefaultConfig()
	if c.Penalty.GracePeriodMinutes == nil {
		grace := def.GracePeriodMinutes
		c.Penalty.GracePeriodMinutes = &grace
	}
	if c.Penalty.HourlyPenaltyRate == 0 {
		c.Penalty.HourlyPenaltyRate = def.HourlyPenaltyRate.InexactFloat64()
	}
	if c.Penalty.DailyPenaltyRate == 0 {
		c.Penalty.DailyPenaltyRate = def.DailyPenaltyRate.InexactFloat64()
	}
	if c.Penalty.PenaltyCapMultiplier == 0 {
		c.Penalty.PenaltyCapMultiplier = def.PenaltyCapMultiplier.InexactFloat64()
	}
	if c.Penalty.SeverelyLateThresholdHours == 0 {
		c.Penalty.SeverelyLateThresholdHours = def.SeverelyLateThresholdHours
	}
	if c.Penalty.MaxRentalDays == 0 {
		c.Penalty.MaxRentalDays = 90
	}
	if *c.Penalty.GracePeriodMinutes < 0 || c.Penalty.HourlyPenaltyRate < 0 || c.Penalty.DailyPenaltyRate < 0 || c.Penalty.PenaltyCapMultiplier < 0 {
		return fmt.Errorf("penalty settings must not be negative")
	}

	// Payment defaults
	if c.Payment.Gateway == "" {
		c.Payment.Gateway = "sandbox"
	}
	if c.Payment.Gateway != "sandbox" && c.Payment.Gateway != "midtrans" {
		return fmt.Errorf("unknown payment gateway: %s", c.Payment.Gateway)
	}
	if c.Payment.Gateway == "midtrans" && c.Payment.Midtrans.ServerKey == "" {
		return fmt.Errorf("midtrans server key is required")
	}
	if c.Payment.MaxAttempts == 0 {
		c.Payment.MaxAttempts = 3
	}
	if c.Payment.InitialBackoff == 0 {
		c.Payment.InitialBackoff = time.Second
	}
	if c.Payment.IdempotencyWindow == 0 {
		c.Payment.IdempotencyWindow = 10 * time.Minute
	}

	if c.LateDetection.PageSize == 0 {
		c.LateDetection.PageSize = 50
	}

	// Events defaults
	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}
	switch c.Events.Driver {
	case "log":
	case "nats":
		if c.Events.NatsURL == "" {
			return fmt.Errorf("nats url is required for the nats event driver")
		}
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka brokers are required for the kafka event driver")
		}
	default:
		return fmt.Errorf("unknown event driver: %s", c.Events.Driver)
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "rentals"
	}
	if c.Events.StreamName == "" {
		c.Events.StreamName = "RENTALS"
	}
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = 256
	}

	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 10 * time.Minute
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "car-rental-backend"
	}

	return nil
}

// Grace returns the grace period in minutes, falling back to the default when
// Validate has not run.
func (p PenaltyConfig) Grace() int {
	if p.GracePeriodMinutes == nil {
		return penalty.DefaultConfig().GracePeriodMinutes
	}
	return *p.GracePeriodMinutes
}

// CalculatorConfig converts the penalty settings for the penalty package
func (p PenaltyConfig) CalculatorConfig() penalty.Config {
	return penalty.Config{
		GracePeriodMinutes:         p.Grace(),
		HourlyPenaltyRate:          decimal.NewFromFloat(p.HourlyPenaltyRate),
		DailyPenaltyRate:           decimal.NewFromFloat(p.DailyPenaltyRate),
		PenaltyCapMultiplier:       decimal.NewFromFloat(p.PenaltyCapMultiplier),
		SeverelyLateThresholdHours: p.SeverelyLateThresholdHours,
	}
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
