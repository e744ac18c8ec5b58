package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDisabled is returned by every operation of an unconfigured store.
	// Callers treat it as "best-effort skipped", not as a failure.
	ErrDisabled = errors.New("docstore: not configured")

	// ErrInvalidUpdate is returned when an update has an empty or malformed path,
	// or when two updates in one patch overlap.
	ErrInvalidUpdate = errors.New("docstore: invalid update")
)

// Document is a single stored document.
type Document struct {
	Collection string
	ID         string
	Fields     Map
	UpdateTime time.Time
}

// Update replaces the value at Path, leaving every other field untouched.
type Update struct {
	Path  FieldPath
	Value Value
}

// Set is shorthand for an Update built from a native Go value.
func Set(value any, path ...string) Update {
	return Update{Path: Path(path...), Value: MustNative(value)}
}

// Store is the minimal document store contract: single-document get,
// merge-patch, and a single-field equality query limited to one result.
type Store interface {
	// Get returns the document, or nil with a nil error when it does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Patch merges updates into the document, creating it if absent. It never
	// reads the whole document first.
	Patch(ctx context.Context, collection, id string, updates ...Update) error

	// QueryEqual returns the first document whose field equals value, or nil.
	QueryEqual(ctx context.Context, collection string, field FieldPath, value Value) (*Document, error)

	// Enabled reports whether the store is configured.
	Enabled() bool
}

// Disabled is the Store used when no backend is configured.
type Disabled struct{}

var _ Store = Disabled{}

func (Disabled) Get(context.Context, string, string) (*Document, error) {
	return nil, ErrDisabled
}

func (Disabled) Patch(context.Context, string, string, ...Update) error {
	return ErrDisabled
}

func (Disabled) QueryEqual(context.Context, string, FieldPath, Value) (*Document, error) {
	return nil, ErrDisabled
}

func (Disabled) Enabled() bool { return false }

// IsDisabled reports whether err signals an unconfigured store.
func IsDisabled(err error) bool {
	return errors.Is(err, ErrDisabled)
}
