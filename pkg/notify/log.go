package notify

import (
	"context"
	"time"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
)

// Log entry statuses.
const (
	StatusSent  = "sent"
	StatusError = "error"
)

// CollectionLog holds one entry per source session.
const CollectionLog = "notificationLog"

// Entry is the idempotency record of one notification.
type Entry struct {
	Status    string
	UpdatedAt time.Time
	Trigger   string
	Recipient string
	ProductID string
	Error     string
}

// Log stores idempotency entries keyed by session id.
type Log interface {
	// Lookup returns the entry for key, or nil when none exists.
	Lookup(ctx context.Context, key string) (*Entry, error)
	// Record replaces the entry for key.
	Record(ctx context.Context, key string, e Entry) error
	// Enabled reports whether the log is backed by durable storage.
	Enabled() bool
}

// DocstoreLog keeps entries in the notificationLog collection.
type DocstoreLog struct {
	store docstore.Store
}

var _ Log = (*DocstoreLog)(nil)

// NewDocstoreLog returns a Log over store.
func NewDocstoreLog(store docstore.Store) *DocstoreLog {
	if store == nil {
		store = docstore.Disabled{}
	}
	return &DocstoreLog{store: store}
}

func (l *DocstoreLog) Enabled() bool {
	return l.store.Enabled()
}

func (l *DocstoreLog) Lookup(ctx context.Context, key string) (*Entry, error) {
	doc, err := l.store.Get(ctx, CollectionLog, key)
	if err != nil || doc == nil {
		return nil, err
	}
	f := doc.Fields
	e := &Entry{
		Status:    f.String("status"),
		Trigger:   f.String("trigger"),
		Recipient: f.String("recipient"),
		ProductID: f.String("productId"),
		Error:     f.String("error"),
	}
	if t, err := time.Parse(time.RFC3339Nano, f.String("updatedAt")); err == nil {
		e.UpdatedAt = t
	}
	return e, nil
}

// Record writes every field of e, clearing a stale error on success.
func (l *DocstoreLog) Record(ctx context.Context, key string, e Entry) error {
	var errValue docstore.Value = docstore.Null{}
	if e.Error != "" {
		errValue = docstore.String(e.Error)
	}
	return l.store.Patch(ctx, CollectionLog, key,
		docstore.Set(e.Status, "status"),
		docstore.Set(e.UpdatedAt, "updatedAt"),
		docstore.Set(e.Trigger, "trigger"),
		docstore.Set(e.Recipient, "recipient"),
		docstore.Set(e.ProductID, "productId"),
		docstore.Update{Path: docstore.Path("error"), Value: errValue},
	)
}
