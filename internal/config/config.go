package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Billing modes decide what happens when a tenant wallet cannot cover a send.
const (
	BillingModeAdvisory = "advisory"
	BillingModeStrict   = "strict"
)

// Database drivers supported by the repository layer.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config aggregates every runtime setting of the service.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	WhatsApp WhatsAppConfig
	Payment  PaymentConfig
	Billing  BillingConfig
	Recovery RecoveryConfig
	Engine   EngineConfig
}

type AppConfig struct {
	Env              string `envconfig:"APP_ENV" default:"development"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string `envconfig:"LOG_FORMAT" default:"text"`
	HTTPListenAddr   string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`
	PublicBasePath   string `envconfig:"PUBLIC_BASE_PATH"`
	PublicBaseURL    string `envconfig:"PUBLIC_BASE_URL"`
	AdminToken       string `envconfig:"ADMIN_TOKEN"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"chatshop"`
}

type DatabaseConfig struct {
	Driver     string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	URL        string `envconfig:"DATABASE_URL"`
	Schema     string `envconfig:"DATABASE_SCHEMA"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/chatshop.db"`
}

type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	TLS      bool          `envconfig:"REDIS_TLS" default:"false"`
	LockTTL  time.Duration `envconfig:"REDIS_LOCK_TTL" default:"50m"`
}

// Enabled reports whether a Redis server was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type WhatsAppConfig struct {
	BaseURL     string        `envconfig:"WHATSAPP_API_URL" default:"https://graph.facebook.com"`
	APIVersion  string        `envconfig:"WHATSAPP_API_VERSION" default:"v21.0"`
	VerifyToken string        `envconfig:"WHATSAPP_VERIFY_TOKEN"`
	AppSecret   string        `envconfig:"WHATSAPP_APP_SECRET"`
	Timeout     time.Duration `envconfig:"WHATSAPP_TIMEOUT" default:"10s"`
}

type PaymentConfig struct {
	BaseURL       string        `envconfig:"RAZORPAY_API_URL" default:"https://api.razorpay.com"`
	WebhookSecret string        `envconfig:"RAZORPAY_WEBHOOK_SECRET"`
	CallbackURL   string        `envconfig:"RAZORPAY_CALLBACK_URL"`
	Currency      string        `envconfig:"RAZORPAY_CURRENCY" default:"INR"`
	Timeout       time.Duration `envconfig:"RAZORPAY_TIMEOUT" default:"15s"`
	DemoFallback  bool          `envconfig:"RAZORPAY_DEMO_FALLBACK" default:"false"`
}

type BillingConfig struct {
	Mode               string `envconfig:"BILLING_MODE" default:"advisory"`
	DefaultMessageCost string `envconfig:"BILLING_DEFAULT_MESSAGE_COST" default:"1.00"`
}

// MessageCost parses the fallback per-message cost.
func (b BillingConfig) MessageCost() (decimal.Decimal, error) {
	cost, err := decimal.NewFromString(strings.TrimSpace(b.DefaultMessageCost))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse default message cost: %w", err)
	}
	return cost, nil
}

type RecoveryConfig struct {
	Enabled  bool          `envconfig:"RECOVERY_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"RECOVERY_INTERVAL" default:"1h"`
	MinIdle  time.Duration `envconfig:"RECOVERY_MIN_IDLE" default:"1h"`
	MaxIdle  time.Duration `envconfig:"RECOVERY_MAX_IDLE" default:"24h"`
}

type EngineConfig struct {
	EventTimeout   time.Duration `envconfig:"ENGINE_EVENT_TIMEOUT" default:"30s"`
	DedupeTTL      time.Duration `envconfig:"ENGINE_DEDUPE_TTL" default:"24h"`
	MaxQuantity    int           `envconfig:"ENGINE_MAX_QUANTITY" default:"100"`
	CurrencySymbol string        `envconfig:"ENGINE_CURRENCY_SYMBOL" default:"₹"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	c.Billing.Mode = strings.ToLower(strings.TrimSpace(c.Billing.Mode))
	switch c.Billing.Mode {
	case BillingModeAdvisory, BillingModeStrict:
	default:
		return fmt.Errorf("invalid BILLING_MODE %q (want %s or %s)", c.Billing.Mode, BillingModeAdvisory, BillingModeStrict)
	}
	if _, err := c.Billing.MessageCost(); err != nil {
		return err
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %s", DriverPostgres)
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for driver %s", DriverSQLite)
		}
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER %q", c.Database.Driver)
	}

	if c.Recovery.MinIdle <= 0 || c.Recovery.MaxIdle <= c.Recovery.MinIdle {
		return fmt.Errorf("recovery window invalid: min idle %s must be positive and below max idle %s", c.Recovery.MinIdle, c.Recovery.MaxIdle)
	}
	if c.Engine.MaxQuantity <= 0 {
		return fmt.Errorf("ENGINE_MAX_QUANTITY must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}
