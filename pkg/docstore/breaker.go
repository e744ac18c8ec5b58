package docstore

import (
	"context"
	"errors"

	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// CircuitBreakerStore wraps a Store with circuit breaker protection so a
// failing backend fails fast instead of stalling every webhook delivery.
type CircuitBreakerStore struct {
	store Store
	cb    fulfill.CircuitBreaker
}

var _ Store = (*CircuitBreakerStore)(nil)

// WithCircuitBreaker wraps store with cb. A disabled store is returned as is.
func WithCircuitBreaker(store Store, cb fulfill.CircuitBreaker) Store {
	if store == nil || !store.Enabled() || cb == nil {
		return store
	}
	return &CircuitBreakerStore{store: store, cb: cb}
}

// CountsAsFailure is the breaker failure filter for document store errors:
// caller mistakes, credential failures and the disabled capability never
// trip the breaker.
func CountsAsFailure(err error) bool {
	return !IsDisabled(err) && !errors.Is(err, ErrInvalidUpdate) && !errors.Is(err, fulfill.ErrCredentials)
}

func (s *CircuitBreakerStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var doc *Document
	err := s.cb.Execute(ctx, func() error {
		var e error
		doc, e = s.store.Get(ctx, collection, id)
		return e
	})
	return doc, err
}

func (s *CircuitBreakerStore) Patch(ctx context.Context, collection, id string, updates ...Update) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.Patch(ctx, collection, id, updates...)
	})
}

func (s *CircuitBreakerStore) QueryEqual(ctx context.Context, collection string, field FieldPath,
	value Value) (*Document, error) {
	var doc *Document
	err := s.cb.Execute(ctx, func() error {
		var e error
		doc, e = s.store.QueryEqual(ctx, collection, field, value)
		return e
	})
	return doc, err
}

func (s *CircuitBreakerStore) Enabled() bool {
	return s.store.Enabled()
}
