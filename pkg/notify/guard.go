package notify

import (
	"context"
	"sync"
	"time"

	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Outcome is what Guard.Do did.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDuplicate Outcome = "duplicate"
)

// Guard makes a side effect at-most-once-successful per key. Durable state
// lives in the Log; when the log is unavailable it falls back to a
// once-per-process set.
type Guard struct {
	log     Log
	logger  fulfill.Logger
	metrics fulfill.Metrics
	now     func() time.Time

	mu   sync.Mutex
	sent map[string]struct{}
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger.
func WithGuardLogger(l fulfill.Logger) GuardOption {
	return func(g *Guard) { g.logger = fulfill.OrNoop(l) }
}

// WithGuardMetrics sets the metrics sink.
func WithGuardMetrics(m fulfill.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = fulfill.MetricsOrNoop(m) }
}

// WithGuardClock overrides the clock stamped on log entries.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a Guard over log. A nil log uses the in-process set only.
func NewGuard(log Log, opts ...GuardOption) *Guard {
	g := &Guard{
		log:     log,
		logger:  &fulfill.NoopLogger{},
		metrics: &fulfill.NoopMetrics{},
		now:     time.Now,
		sent:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs send unless key is already recorded as sent. A successful send is
// recorded as sent; a failed one is recorded as an error and returned so the
// caller's retry can re-attempt it.
func (g *Guard) Do(ctx context.Context, key string, entry Entry, send func(context.Context) error) (Outcome, error) {
	if g.seen(key) {
		g.metrics.RecordNotification(string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	durable := g.log != nil && g.log.Enabled()
	if durable {
		existing, err := g.log.Lookup(ctx, key)
		switch {
		case err != nil:
			g.logger.Warn("Notification log unavailable, using in-process dedup",
				fulfill.F("key", key),
				fulfill.F("error", err.Error()))
			durable = false
		case existing != nil && existing.Status == StatusSent:
			g.mark(key)
			g.metrics.RecordNotification(string(OutcomeDuplicate))
			g.logger.Debug("Notification already sent", fulfill.F("key", key))
			return OutcomeDuplicate, nil
		}
	}

	if err := send(ctx); err != nil {
		g.metrics.RecordNotification("error")
		if durable {
			entry.Status = StatusError
			entry.Error = err.Error()
			entry.UpdatedAt = g.now().UTC()
			if recErr := g.log.Record(ctx, key, entry); recErr != nil {
				g.logger.Error("Failed to record notification error",
					fulfill.F("key", key),
					fulfill.F("error", recErr.Error()))
			}
		}
		return "", err
	}

	g.mark(key)
	g.metrics.RecordNotification(string(OutcomeSent))
	if durable {
		entry.Status = StatusSent
		entry.Error = ""
		entry.UpdatedAt = g.now().UTC()
		if err := g.log.Record(ctx, key, entry); err != nil {
			// The message is out; failing here would make the retry send it again.
			g.logger.Error("Failed to record sent notification",
				fulfill.F("key", key),
				fulfill.F("error", err.Error()))
		}
	}
	return OutcomeSent, nil
}

func (g *Guard) seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.sent[key]
	return ok
}

func (g *Guard) mark(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent[key] = struct{}{}
}
