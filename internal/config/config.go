package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	LogLevel          string   `mapstructure:"LOG_LEVEL"`
	StoreDriver       string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	OwnerAccount      string   `mapstructure:"OWNER_ACCOUNT"`
	AuthIssuer        string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string   `mapstructure:"AUTH_SIGNING_KEY"`
	JournalPath       string   `mapstructure:"JOURNAL_PATH"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit         string   `mapstructure:"BODY_LIMIT"`
	RequestTimeout    string   `mapstructure:"REQUEST_TIMEOUT"`
	UnderstockLevel   int64    `mapstructure:"UNDERSTOCK_THRESHOLD"`
	OverstockLevel    int64    `mapstructure:"OVERSTOCK_THRESHOLD"`
	ExpiryWarningDays int      `mapstructure:"EXPIRY_WARNING_DAYS"`
	WebhookURLs       []string `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret     string   `mapstructure:"WEBHOOK_SECRET"`
	WebhookEvents     []string `mapstructure:"WEBHOOK_EVENTS"`
}

var keys = []string{
	"PORT",
	"ENV",
	"LOG_LEVEL",
	"STORE_DRIVER",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"OWNER_ACCOUNT",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY",
	"JOURNAL_PATH",
	"CORS_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"BODY_LIMIT",
	"REQUEST_TIMEOUT",
	"UNDERSTOCK_THRESHOLD",
	"OVERSTOCK_THRESHOLD",
	"EXPIRY_WARNING_DAYS",
	"WEBHOOK_URLS",
	"WEBHOOK_SECRET",
	"WEBHOOK_EVENTS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AUTH_ISSUER", "medsafar")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("UNDERSTOCK_THRESHOLD", 10)
	v.SetDefault("OVERSTOCK_THRESHOLD", 1000)
	v.SetDefault("EXPIRY_WARNING_DAYS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes AUTH_SIGNING_KEY. An empty setting yields a nil key.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// ExpiryWarning is the window before expiry in which a batch raises an
// expiring alert.
func (c *Config) ExpiryWarning() time.Duration {
	return time.Duration(c.ExpiryWarningDays) * 24 * time.Hour
}

// Timeout parses REQUEST_TIMEOUT. Empty or zero disables the deadline.
func (c *Config) Timeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("REQUEST_TIMEOUT must be a non-negative duration, got %q", c.RequestTimeout)
	}
	return d, nil
}

// Validate checks that the configuration is safe to serve with. Outside
// development a signing key is mandatory so callers are authenticated.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OwnerAccount) == "" {
		return fmt.Errorf("OWNER_ACCOUNT is required")
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreDriver)
	}

	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (current ENV=%q)", c.Env)
	}
	if _, err := c.SigningKey(); err != nil {
		return err
	}

	if c.UnderstockLevel < 0 || c.OverstockLevel < 0 {
		return fmt.Errorf("stock thresholds must not be negative")
	}
	if c.OverstockLevel != 0 && c.OverstockLevel < c.UnderstockLevel {
		return fmt.Errorf("OVERSTOCK_THRESHOLD (%d) is below UNDERSTOCK_THRESHOLD (%d)", c.OverstockLevel, c.UnderstockLevel)
	}
	if c.ExpiryWarningDays < 0 {
		return fmt.Errorf("EXPIRY_WARNING_DAYS must not be negative, got %d", c.ExpiryWarningDays)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if len(c.WebhookURLs) > 0 && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URLS is set")
	}
	return nil
}
