// Package config loads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mihaimyh/gofulfill/pkg/credentials"
	"github.com/mihaimyh/gofulfill/pkg/notify"
)

// Document store backends.
const (
	BackendREST      = "rest"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// PricePrefix starts every price configuration key.
const PricePrefix = "STRIPE_PRICE_"

// Config is the typed service configuration.
type Config struct {
	Port             string `validate:"required,numeric"`
	LogLevel         string `validate:"oneof=debug info warn error"`
	LogFormat        string `validate:"oneof=json console"`
	MetricsNamespace string `validate:"required,alphanum"`

	StripeSecretKey     string `validate:"required"`
	StripeWebhookSecret string

	// Prices maps STRIPE_PRICE_* keys to price ids.
	Prices map[string]string

	AppBaseURL        string `validate:"omitempty,url"`
	StorefrontBaseURL string `validate:"omitempty,url"`
	DownloadsBaseURL  string `validate:"omitempty,url"`

	Backend              string `validate:"omitempty,oneof=rest firestore postgres memory"`
	ServiceAccount       credentials.ServiceAccount
	FirestoreEmulator    string
	DatabaseURL          string
	RedisURL             string
	SMTP                 notify.SMTPConfig
	CheckoutRateLimit    int `validate:"gte=0"`
	WebhookRateLimit     int `validate:"gte=0"`
	StoreBreakerFailures int `validate:"gte=1"`
}

// Load reads .env (when present) and the process environment. Non-empty
// process variables win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	env := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := env[k]; !ok {
				env[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && v != "" {
			env[k] = v
		}
	}
	return FromMap(env)
}

// FromMap builds and validates a Config from key/value pairs.
func FromMap(env map[string]string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(env[key]); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:                get("PORT", "8080"),
		LogLevel:            strings.ToLower(get("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(get("LOG_FORMAT", "json")),
		MetricsNamespace:    get("METRICS_NAMESPACE", "gofulfill"),
		StripeSecretKey:     get("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: get("STRIPE_WEBHOOK_SECRET", ""),
		Prices:              map[string]string{},
		AppBaseURL:          get("APP_BASE_URL", ""),
		StorefrontBaseURL:   get("STOREFRONT_BASE_URL", ""),
		DownloadsBaseURL:    get("DOWNLOADS_BASE_URL", ""),
		Backend:             strings.ToLower(get("DOCSTORE_BACKEND", "")),
		ServiceAccount: credentials.ServiceAccount{
			ProjectID:   get("FIREBASE_PROJECT_ID", ""),
			ClientEmail: get("FIREBASE_CLIENT_EMAIL", ""),
			PrivateKey:  get("FIREBASE_PRIVATE_KEY", ""),
		},
		FirestoreEmulator: get("FIRESTORE_EMULATOR_HOST", ""),
		DatabaseURL:       get("DATABASE_URL", ""),
		RedisURL:          get("REDIS_URL", ""),
		SMTP: notify.SMTPConfig{
			Host:     get("SMTP_HOST", ""),
			Port:     get("SMTP_PORT", ""),
			Username: get("SMTP_USERNAME", ""),
			Password: get("SMTP_PASSWORD", ""),
			Sender:   get("SMTP_SENDER", ""),
		},
	}

	var err error
	if cfg.CheckoutRateLimit, err = intValue(get("CHECKOUT_RATE_LIMIT", "30")); err != nil {
		return nil, fmt.Errorf("CHECKOUT_RATE_LIMIT: %w", err)
	}
	if cfg.WebhookRateLimit, err = intValue(get("WEBHOOK_RATE_LIMIT", "300")); err != nil {
		return nil, fmt.Errorf("WEBHOOK_RATE_LIMIT: %w", err)
	}
	if cfg.StoreBreakerFailures, err = intValue(get("STORE_BREAKER_FAILURES", "5")); err != nil {
		return nil, fmt.Errorf("STORE_BREAKER_FAILURES: %w", err)
	}

	for k, v := range env {
		if strings.HasPrefix(k, PricePrefix) && strings.TrimSpace(v) != "" {
			cfg.Prices[k] = strings.TrimSpace(v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func intValue(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return n, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid configuration: %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DocstoreBackend returns the effective backend: the explicit choice, else
// rest when a service account is configured, else postgres when a database
// URL is set, else "" (store disabled).
func (c *Config) DocstoreBackend() string {
	switch {
	case c.Backend != "":
		return c.Backend
	case c.ServiceAccount.Enabled():
		return BackendREST
	case c.DatabaseURL != "":
		return BackendPostgres
	}
	return ""
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}
