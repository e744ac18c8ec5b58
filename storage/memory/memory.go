// Package memory provides an in-memory implementation of the docstore.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
)

type document struct {
	fields  docstore.Map
	updated time.Time
}

// Storage implements docstore.Store using in-memory maps
type Storage struct {
	mu          sync.RWMutex
	collections map[string]map[string]*document
	now         func() time.Time
}

var _ docstore.Store = (*Storage)(nil)

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		collections: make(map[string]map[string]*document),
		now:         time.Now,
	}
}

// Get implements docstore.Store
func (s *Storage) Get(_ context.Context, collection, id string) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, nil // Not found is not an error
	}
	return toDocument(collection, id, doc), nil
}

// Patch implements docstore.Store with merge semantics
func (s *Storage) Patch(_ context.Context, collection, id string, updates ...docstore.Update) error {
	if err := docstore.ValidateUpdates(updates); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]*document)
		s.collections[collection] = docs
	}

	var base docstore.Map
	if existing, ok := docs[id]; ok {
		base = existing.fields
	}
	docs[id] = &document{
		fields:  docstore.ApplyUpdates(base, updates),
		updated: s.now().UTC(),
	}
	return nil
}

// QueryEqual implements docstore.Store. Documents are scanned in id order so
// the first match is deterministic.
func (s *Storage) QueryEqual(_ context.Context, collection string, field docstore.FieldPath,
	value docstore.Value) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		doc := docs[id]
		if v, ok := doc.fields.Lookup(field); ok && docstore.Equal(v, value) {
			return toDocument(collection, id, doc), nil
		}
	}
	return nil, nil
}

// Enabled implements docstore.Store
func (s *Storage) Enabled() bool {
	return true
}

// Len returns the number of documents in collection.
func (s *Storage) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Clear removes all documents
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]map[string]*document)
}

// Return a copy to prevent external mutations
func toDocument(collection, id string, doc *document) *docstore.Document {
	return &docstore.Document{
		Collection: collection,
		ID:         id,
		Fields:     doc.fields.Clone(),
		UpdateTime: doc.updated,
	}
}
