package docstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
	"github.com/mihaimyh/gofulfill/storage/memory"
)

type failingStore struct {
	docstore.Store
	err   error
	calls int
}

func (f *failingStore) Get(context.Context, string, string) (*docstore.Document, error) {
	f.calls++
	return nil, f.err
}

func TestWithCircuitBreaker_FailsFast(t *testing.T) {
	backend := &failingStore{Store: memory.New(), err: errors.New("unavailable")}
	cb := fulfill.NewDefaultCircuitBreaker(2, time.Minute, nil)
	store := docstore.WithCircuitBreaker(backend, cb)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := store.Get(ctx, "users", "u1")
		require.Error(t, err)
	}
	_, err := store.Get(ctx, "users", "u1")

	assert.ErrorIs(t, err, fulfill.ErrCircuitOpen)
	assert.Equal(t, 2, backend.calls)
}

func TestWithCircuitBreaker_FilterIgnoresCallerErrors(t *testing.T) {
	backend := &failingStore{Store: memory.New(), err: docstore.ErrInvalidUpdate}
	cb := fulfill.NewDefaultCircuitBreaker(1, time.Minute, nil).WithFailureFilter(docstore.CountsAsFailure)
	store := docstore.WithCircuitBreaker(backend, cb)

	for i := 0; i < 3; i++ {
		_, err := store.Get(context.Background(), "users", "u1")
		assert.ErrorIs(t, err, docstore.ErrInvalidUpdate)
	}
	assert.Equal(t, fulfill.StateClosed, cb.State())
}

func TestWithCircuitBreaker_CredentialFailuresStayClassified(t *testing.T) {
	backend := &failingStore{Store: memory.New(), err: fulfill.Wrap(fulfill.ErrCredentials, "invalid_grant")}
	cb := fulfill.NewDefaultCircuitBreaker(1, time.Minute, nil).WithFailureFilter(docstore.CountsAsFailure)
	store := docstore.WithCircuitBreaker(backend, cb)

	for i := 0; i < 3; i++ {
		_, err := store.Get(context.Background(), "users", "u1")
		assert.ErrorIs(t, err, fulfill.ErrCredentials)
		assert.Equal(t, fulfill.KindAuthentication, fulfill.KindOf(err))
	}
	assert.Equal(t, fulfill.StateClosed, cb.State())
}

func TestWithCircuitBreaker_LeavesDisabledAlone(t *testing.T) {
	cb := fulfill.NewDefaultCircuitBreaker(1, time.Minute, nil)
	store := docstore.WithCircuitBreaker(docstore.Disabled{}, cb)

	assert.Equal(t, docstore.Disabled{}, store)
	assert.False(t, store.Enabled())
}

type recordingMetrics struct {
	fulfill.NoopMetrics
	ops []string
}

func (m *recordingMetrics) RecordStoreOperation(op string, _ time.Duration, _ error) {
	m.ops = append(m.ops, op)
}

func TestInstrument_RecordsOperations(t *testing.T) {
	metrics := &recordingMetrics{}
	store := docstore.Instrument(memory.New(), metrics)
	ctx := context.Background()

	require.NoError(t, store.Patch(ctx, "users", "u1", docstore.Set("a@b.com", "email")))
	_, err := store.Get(ctx, "users", "u1")
	require.NoError(t, err)
	_, err = store.QueryEqual(ctx, "users", docstore.Path("email"), docstore.String("a@b.com"))
	require.NoError(t, err)

	assert.Equal(t, []string{"patch", "get", "query"}, metrics.ops)
}

func TestDisabled_EveryOperation(t *testing.T) {
	var store docstore.Store = docstore.Disabled{}
	ctx := context.Background()

	_, err := store.Get(ctx, "users", "u1")
	assert.True(t, docstore.IsDisabled(err))
	assert.True(t, docstore.IsDisabled(store.Patch(ctx, "users", "u1", docstore.Set(true, "x"))))
	_, err = store.QueryEqual(ctx, "users", docstore.Path("email"), docstore.String("x"))
	assert.True(t, docstore.IsDisabled(err))
}
