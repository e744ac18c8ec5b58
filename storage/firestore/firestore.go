// Package firestore provides a Firestore implementation of the docstore.Store interface
// on top of the Cloud Firestore Go SDK. It suits deployments that use
// application default credentials or the local emulator.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Storage implements docstore.Store using Google Cloud Firestore
type Storage struct {
	client *firestore.Client
}

var _ docstore.Store = (*Storage)(nil)

// New creates a new Firestore storage adapter
func New(client *firestore.Client) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	return &Storage{client: client}, nil
}

// Get implements docstore.Store
func (s *Storage) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fulfill.Upstream("firestore get "+collection, err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return toDocument(collection, snap)
}

// Patch implements docstore.Store. The merge option restricts the write to
// the updated paths so sibling map entries survive.
func (s *Storage) Patch(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	if err := docstore.ValidateUpdates(updates); err != nil {
		return err
	}

	body := docstore.ApplyUpdates(nil, updates)
	paths := make([]firestore.FieldPath, len(updates))
	for i, u := range updates {
		paths[i] = firestore.FieldPath(u.Path)
	}

	data, _ := docstore.Native(body).(map[string]interface{})
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, data, firestore.Merge(paths...))
	if err != nil {
		return fulfill.Upstream("firestore patch "+collection, err)
	}
	return nil
}

// QueryEqual implements docstore.Store
func (s *Storage) QueryEqual(ctx context.Context, collection string, field docstore.FieldPath,
	value docstore.Value) (*docstore.Document, error) {
	snaps, err := s.client.Collection(collection).
		WherePath(firestore.FieldPath(field), "==", docstore.Native(value)).
		Limit(1).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fulfill.Upstream("firestore query "+collection, err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return toDocument(collection, snaps[0])
}

// Enabled implements docstore.Store
func (s *Storage) Enabled() bool {
	return true
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

func toDocument(collection string, snap *firestore.DocumentSnapshot) (*docstore.Document, error) {
	fields, err := fromSDK(snap.Data())
	if err != nil {
		return nil, fulfill.Upstream("firestore decode "+collection+"/"+snap.Ref.ID, err)
	}
	return &docstore.Document{
		Collection: collection,
		ID:         snap.Ref.ID,
		Fields:     fields.(docstore.Map),
		UpdateTime: snap.UpdateTime,
	}, nil
}

// fromSDK converts SDK values, mapping timestamps and references to strings
// the same way the REST wire decoder does.
func fromSDK(x interface{}) (docstore.Value, error) {
	switch v := x.(type) {
	case time.Time:
		return docstore.String(v.UTC().Format(time.RFC3339Nano)), nil
	case *firestore.DocumentRef:
		if v == nil {
			return docstore.Null{}, nil
		}
		return docstore.String(v.Path), nil
	case []interface{}:
		out := make(docstore.Array, len(v))
		for i, item := range v {
			conv, err := fromSDK(item)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]interface{}:
		out := make(docstore.Map, len(v))
		for k, item := range v {
			conv, err := fromSDK(item)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return docstore.FromNative(x)
	}
}
