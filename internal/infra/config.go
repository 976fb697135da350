package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL     string        `env:"DATABASE_URL"`
	PGHost          string        `env:"PGHOST" envDefault:"localhost"`
	PGPort          int           `env:"PGPORT" envDefault:"5432"`
	PGUser          string        `env:"PGUSER" envDefault:"escrow"`
	PGPassword      string        `env:"PGPASSWORD" envDefault:"escrow"`
	PGDatabase      string        `env:"PGDATABASE" envDefault:"escrow"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"true"`
	MigrationsDir   string        `env:"MIGRATIONS_DIR"`
	LockTimeout     time.Duration `env:"DB_LOCK_TIMEOUT" envDefault:"5s"`
	TxMaxRetries    uint64        `env:"DB_TX_MAX_RETRIES" envDefault:"5"`
	TxRetryBaseWait time.Duration `env:"DB_TX_RETRY_BASE_WAIT" envDefault:"50ms"`

	// Redis (balance projection)
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"false"`

	// Admin auth
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTAdminExpiry    time.Duration `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`
	AdminUsername     string        `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	AdminLoginLimit   int           `env:"ADMIN_LOGIN_LIMIT" envDefault:"5"`
	AdminLoginWindow  time.Duration `env:"ADMIN_LOGIN_WINDOW" envDefault:"15m"`

	// Server
	APIPort int `env:"API_PORT" envDefault:"8000"`

	// Front-end API; routes under /v1 are not mounted when empty.
	FrontendAPIKey string `env:"FRONTEND_API_KEY"`

	// Kafka
	KafkaBrokers       string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled       bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxTopicPrefix  string        `env:"OUTBOX_TOPIC_PREFIX" envDefault:"escrow"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	NowPayments NowPaymentsConfig
	Payments    PaymentsConfig
	Monitor     MonitorConfig
}

// NowPaymentsConfig configures the processor client and webhook verification.
type NowPaymentsConfig struct {
	APIKey         string        `env:"NOWPAYMENTS_API_KEY"`
	BaseURL        string        `env:"NOWPAYMENTS_BASE_URL" envDefault:"https://api.nowpayments.io/v1"`
	IPNSecret      string        `env:"NOWPAYMENTS_IPN_SECRET"`
	SuccessURL     string        `env:"NOWPAYMENTS_SUCCESS_URL" envDefault:"http://localhost:8000/webhook/success"`
	CancelURL      string        `env:"NOWPAYMENTS_CANCEL_URL" envDefault:"http://localhost:8000/webhook/cancel"`
	Timeout        time.Duration `env:"NOWPAYMENTS_TIMEOUT" envDefault:"30s"`
	MaxRetries     uint64        `env:"NOWPAYMENTS_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"NOWPAYMENTS_RETRY_BASE_DELAY" envDefault:"2s"`
	BreakerFails   int           `env:"NOWPAYMENTS_BREAKER_FAILURES" envDefault:"5"`
	BreakerReset   time.Duration `env:"NOWPAYMENTS_BREAKER_RESET" envDefault:"1m"`
}

// PaymentsConfig holds amount limits, fees and currencies.
type PaymentsConfig struct {
	MinDeposit          string   `env:"PAYMENT_MIN_DEPOSIT" envDefault:"10"`
	MaxDeposit          string   `env:"PAYMENT_MAX_DEPOSIT" envDefault:"10000"`
	MinWithdrawal       string   `env:"PAYMENT_MIN_WITHDRAWAL" envDefault:"5"`
	DepositFeePercent   string   `env:"PAYMENT_DEPOSIT_FEE_PERCENT" envDefault:"3"`
	EscrowFeePercent    string   `env:"PAYMENT_ESCROW_FEE_PERCENT" envDefault:"2"`
	PriceCurrency       string   `env:"PAYMENT_PRICE_CURRENCY" envDefault:"usd"`
	SupportedCurrencies []string `env:"PAYMENT_SUPPORTED_CURRENCIES" envDefault:"usdttrc20,btc,eth,ltc,bch,xrp,ada,dot,link,uni" envSeparator:","`
}

// MonitorConfig configures the reconciliation poller and housekeeping.
type MonitorConfig struct {
	Enabled         bool          `env:"MONITOR_ENABLED" envDefault:"true"`
	Interval        time.Duration `env:"MONITOR_INTERVAL" envDefault:"5m"`
	MaxPendingAge   time.Duration `env:"MONITOR_MAX_PENDING_AGE" envDefault:"24h"`
	BatchSize       int           `env:"MONITOR_BATCH_SIZE" envDefault:"50"`
	CallTimeout     time.Duration `env:"MONITOR_CALL_TIMEOUT" envDefault:"45s"`
	StuckDealAge    time.Duration `env:"MONITOR_STUCK_DEAL_AGE" envDefault:"72h"`
	RetentionWindow time.Duration `env:"MONITOR_RETENTION_WINDOW" envDefault:"720h"`
}

// Limits is the parsed, decimal form of PaymentsConfig.
type Limits struct {
	MinDeposit        decimal.Decimal
	MaxDeposit        decimal.Decimal
	MinWithdrawal     decimal.Decimal
	DepositFeePercent decimal.Decimal
	EscrowFeePercent  decimal.Decimal
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i, c := range cfg.Payments.SupportedCurrencies {
		cfg.Payments.SupportedCurrencies[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return cfg, nil
}

// Validate checks for insecure or inconsistent configuration.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	if _, err := c.Payments.Limits(); err != nil {
		return err
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	if c.Monitor.BatchSize <= 0 {
		return fmt.Errorf("MONITOR_BATCH_SIZE must be positive")
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD_HASH is empty; admin login would be impossible")
	}
	if c.NowPayments.IPNSecret == "" {
		return fmt.Errorf("NOWPAYMENTS_IPN_SECRET is empty; webhook signatures would not be verified")
	}
	return nil
}

// Limits parses the decimal settings.
func (p PaymentsConfig) Limits() (Limits, error) {
	var l Limits
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"PAYMENT_MIN_DEPOSIT", p.MinDeposit, &l.MinDeposit},
		{"PAYMENT_MAX_DEPOSIT", p.MaxDeposit, &l.MaxDeposit},
		{"PAYMENT_MIN_WITHDRAWAL", p.MinWithdrawal, &l.MinWithdrawal},
		{"PAYMENT_DEPOSIT_FEE_PERCENT", p.DepositFeePercent, &l.DepositFeePercent},
		{"PAYMENT_ESCROW_FEE_PERCENT", p.EscrowFeePercent, &l.EscrowFeePercent},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Limits{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if d.IsNegative() {
			return Limits{}, fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return l, nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
