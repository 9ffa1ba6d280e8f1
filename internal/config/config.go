// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Log      LogConfig
	Payments PaymentsConfig
	Webhooks WebhooksConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
	// PublicURL is the externally reachable base URL, used for checkout redirects.
	PublicURL string
}

// DatabaseConfig holds connection settings. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Path is the sqlite file (or ":memory:") when Driver is sqlite.
	Path  string
	Debug bool
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev bool
	// Migrations selects the schema strategy: "auto" (gorm AutoMigrate), "sql"
	// (embedded versioned migrations) or "off".
	Migrations      string
	SessionSecret   string
	OverdueSweep    time.Duration
	TaskWorkers     int
	TaskQueueSize   int
	NumberPrefix    string
	DefaultCurrency string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string // trace, debug, info, warn, error
	Format string // console, json
}

// PaymentsConfig holds payment processor settings.
type PaymentsConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	// FeePercentage is the platform fee as a fraction of the charged amount (0.01 = 1%).
	FeePercentage decimal.Decimal
	SuccessURL    string
	CancelURL     string
}

// WebhooksConfig holds outbound webhook settings.
type WebhooksConfig struct {
	Timeout time.Duration
}

// Enabled reports whether a processor key is configured.
func (p PaymentsConfig) Enabled() bool { return p.StripeSecretKey != "" }

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	publicURL := strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/")
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
			PublicURL:    publicURL,
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "invoices"),
			Password: getEnv("DB_PASSWORD", "invoices123"),
			DBName:   getEnv("DB_NAME", "invoices"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "invoicing.db"),
			Debug:    getEnvBool("DB_DEBUG", false),
		},
		App: AppConfig{
			Dev:             getEnvBool("DEV", true),
			Migrations:      strings.ToLower(getEnv("MIGRATIONS", "auto")),
			SessionSecret:   getEnv("SESSION_SECRET", "devsessionsecret"),
			OverdueSweep:    getEnvDuration("OVERDUE_SWEEP_INTERVAL", time.Hour),
			TaskWorkers:     getEnvInt("TASK_WORKERS", 4),
			TaskQueueSize:   getEnvInt("TASK_QUEUE_SIZE", 256),
			NumberPrefix:    getEnv("INVOICE_NUMBER_PREFIX", "INV"),
			DefaultCurrency: strings.ToLower(getEnv("DEFAULT_CURRENCY", "usd")),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Payments: PaymentsConfig{
			StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			FeePercentage:       getEnvDecimal("PLATFORM_FEE_PERCENTAGE", decimal.RequireFromString("0.01")),
			SuccessURL:          getEnv("CHECKOUT_SUCCESS_URL", publicURL+"/public/invoices/{token}?paid=1"),
			CancelURL:           getEnv("CHECKOUT_CANCEL_URL", publicURL+"/public/invoices/{token}"),
		},
		Webhooks: WebhooksConfig{
			Timeout: getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
	}
}

// Validate fails fast on settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Payments.Enabled() && c.Payments.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if c.Payments.StripeWebhookSecret != "" && !strings.HasPrefix(c.Payments.StripeWebhookSecret, "whsec_") {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET must start with whsec_"))
	}
	if c.Payments.FeePercentage.IsNegative() || c.Payments.FeePercentage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("PLATFORM_FEE_PERCENTAGE must be in [0, 1)"))
	}
	if !c.App.Dev && c.App.SessionSecret == "devsessionsecret" {
		errs = append(errs, errors.New("SESSION_SECRET must be set outside dev mode"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	switch c.App.Migrations {
	case "auto", "sql", "off":
	default:
		errs = append(errs, fmt.Errorf("unsupported MIGRATIONS mode %q", c.App.Migrations))
	}
	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
