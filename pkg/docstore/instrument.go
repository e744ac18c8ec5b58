package docstore

import (
	"context"
	"time"

	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

type instrumentedStore struct {
	store   Store
	metrics fulfill.Metrics
}

// Instrument records latency and outcome of every store call into metrics.
func Instrument(store Store, metrics fulfill.Metrics) Store {
	if store == nil || metrics == nil {
		return store
	}
	return &instrumentedStore{store: store, metrics: metrics}
}

func (s *instrumentedStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	start := time.Now()
	doc, err := s.store.Get(ctx, collection, id)
	s.metrics.RecordStoreOperation("get", time.Since(start), err)
	return doc, err
}

func (s *instrumentedStore) Patch(ctx context.Context, collection, id string, updates ...Update) error {
	start := time.Now()
	err := s.store.Patch(ctx, collection, id, updates...)
	s.metrics.RecordStoreOperation("patch", time.Since(start), err)
	return err
}

func (s *instrumentedStore) QueryEqual(ctx context.Context, collection string, field FieldPath,
	value Value) (*Document, error) {
	start := time.Now()
	doc, err := s.store.QueryEqual(ctx, collection, field, value)
	s.metrics.RecordStoreOperation("query", time.Since(start), err)
	return doc, err
}

func (s *instrumentedStore) Enabled() bool {
	return s.store.Enabled()
}
