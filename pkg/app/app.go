// Package app assembles the fulfillment pipeline from a config.Config: the
// document store backend, the payment provider, the notification log and
// mailer, and the HTTP handler.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/mihaimyh/gofulfill/pkg/api"
	stripeprovider "github.com/mihaimyh/gofulfill/pkg/billing/stripe"
	"github.com/mihaimyh/gofulfill/pkg/catalog"
	"github.com/mihaimyh/gofulfill/pkg/checkout"
	"github.com/mihaimyh/gofulfill/pkg/config"
	"github.com/mihaimyh/gofulfill/pkg/credentials"
	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/pkg/downloads"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
	"github.com/mihaimyh/gofulfill/pkg/ledger"
	"github.com/mihaimyh/gofulfill/pkg/notify"
	"github.com/mihaimyh/gofulfill/pkg/webhook"
	fsstore "github.com/mihaimyh/gofulfill/storage/firestore"
	"github.com/mihaimyh/gofulfill/storage/memory"
	"github.com/mihaimyh/gofulfill/storage/postgres"
	"github.com/mihaimyh/gofulfill/storage/redis"
	"github.com/mihaimyh/gofulfill/storage/rest"
	"github.com/mihaimyh/gofulfill/storage/tiered"
)

// App is a wired pipeline.
type App struct {
	Handler *api.Handler
	Store   docstore.Store

	closers []func()
}

// Option configures New.
type Option func(*options)

type options struct {
	logger         fulfill.Logger
	metrics        fulfill.Metrics
	metricsHandler http.Handler
}

// WithLogger sets the logger used by every component.
func WithLogger(l fulfill.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder used by every component.
func WithMetrics(m fulfill.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metricsHandler = h }
}

// New opens the configured backends and builds the handler. Close releases
// the backends.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := fulfill.OrNoop(o.logger)
	metrics := fulfill.MetricsOrNoop(o.metrics)

	a := &App{}
	store, release, err := OpenStore(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	a.add(release)
	a.Store = store

	h, release, err := buildHandler(ctx, cfg, store, logger, metrics, o.metricsHandler)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.add(release)
	a.Handler = h
	return a, nil
}

func (a *App) add(fn func()) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// OpenStore selects the document store backend and wraps it with the
// circuit breaker and instrumentation. An unconfigured store is Disabled.
func OpenStore(ctx context.Context, cfg *config.Config, logger fulfill.Logger,
	metrics fulfill.Metrics) (docstore.Store, func(), error) {
	var (
		store   docstore.Store
		release func()
	)

	switch backend := cfg.DocstoreBackend(); backend {
	case config.BackendREST:
		var tokens credentials.TokenSource
		endpoint := ""
		if cfg.FirestoreEmulator != "" {
			endpoint = rest.EmulatorEndpoint(cfg.FirestoreEmulator)
			tokens = credentials.StaticToken(rest.EmulatorToken)
		} else {
			m, err := credentials.NewManager(cfg.ServiceAccount, credentials.NewTokenCache(),
				credentials.WithLogger(logger), credentials.WithMetrics(metrics))
			if err != nil {
				return nil, nil, fmt.Errorf("service account: %w", err)
			}
			tokens = m
		}
		s, err := rest.New(rest.Config{
			ProjectID: cfg.ServiceAccount.ProjectID,
			Endpoint:  endpoint,
			Tokens:    tokens,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		store = s

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.ServiceAccount.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		s, err := fsstore.New(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store, release = s, func() { _ = s.Close() }

	case config.BackendPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		s, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		store, release = s, s.Close

	case config.BackendMemory:
		logger.Warn("Using in-memory document store; ledger writes are lost on restart")
		store = memory.New()

	default:
		logger.Warn("No document store configured; ledger writes will be skipped")
		return docstore.Disabled{}, nil, nil
	}

	cb := fulfill.NewDefaultCircuitBreaker(cfg.StoreBreakerFailures, 30*time.Second,
		func(state fulfill.CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("Document store circuit breaker state changed", fulfill.F("state", string(state)))
		}).WithFailureFilter(docstore.CountsAsFailure)

	logger.Info("Document store ready", fulfill.F("backend", cfg.DocstoreBackend()))
	return docstore.Instrument(docstore.WithCircuitBreaker(store, cb), metrics), release, nil
}

// buildHandler wires the pipeline components into the HTTP handler.
func buildHandler(ctx context.Context, cfg *config.Config, store docstore.Store, logger fulfill.Logger,
	metrics fulfill.Metrics, metricsHandler http.Handler) (*api.Handler, func(), error) {
	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		SecretKey: cfg.StripeSecretKey,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	verifier := stripeprovider.NewVerifier(cfg.StripeWebhookSecret)
	if !verifier.Configured() {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set; webhook deliveries will be refused")
	}

	cat, err := catalog.Default(cfg.Prices)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: %w", err)
	}
	res, err := downloads.Default(cfg.DownloadsBaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("downloads: %w", err)
	}

	builder, err := checkout.New(checkout.Config{
		Catalog:  cat,
		Provider: provider,
		Redirects: checkout.Redirects{
			AppBaseURL:        cfg.AppBaseURL,
			StorefrontBaseURL: cfg.StorefrontBaseURL,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	led := ledger.New(store, ledger.WithLogger(logger), ledger.WithMetrics(metrics))

	var (
		notifyLog notify.Log = notify.NewDocstoreLog(store)
		release   func()
	)
	if cfg.RedisURL != "" {
		rs, err := redis.NewFromURL(cfg.RedisURL, redis.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("Redis unreachable; notification log falls back to the document store", fulfill.F("error", err.Error()))
		}
		tl, err := tiered.New(tiered.Config{
			Hot:  rs,
			Cold: notifyLog,
			AsyncErrorHandler: func(err error) {
				logger.Warn("Notification log cache write failed", fulfill.F("error", err.Error()))
			},
		})
		if err != nil {
			_ = rs.Close()
			return nil, nil, err
		}
		notifyLog, release = tl, func() {
			_ = tl.Close()
			_ = rs.Close()
		}
	}

	var mailer notify.Mailer
	if cfg.SMTP.Enabled() {
		m, err := notify.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			return nil, nil, fmt.Errorf("smtp: %w", err)
		}
		mailer = m
	} else {
		logger.Warn("SMTP is not configured; purchase confirmations are disabled")
	}

	guard := notify.NewGuard(notifyLog, notify.WithGuardLogger(logger), notify.WithGuardMetrics(metrics))
	dispatcher, err := notify.NewDispatcher(mailer, guard, notify.WithLogger(logger), notify.WithMetrics(metrics))
	if err != nil {
		return nil, nil, err
	}

	proc, err := webhook.New(webhook.Config{
		Verifier:   verifier,
		Provider:   provider,
		Catalog:    cat,
		Ledger:     led,
		Downloads:  res,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	h, err := api.NewHandler(api.Config{
		Checkout:          builder,
		Provider:          provider,
		Catalog:           cat,
		Ledger:            led,
		Downloads:         res,
		Webhook:           proc,
		MetricsHandler:    metricsHandler,
		CheckoutRateLimit: cfg.CheckoutRateLimit,
		WebhookRateLimit:  cfg.WebhookRateLimit,
		RateLimitWindow:   time.Minute,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return h, release, nil
}
