package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/pkg/docstore/storetest"
)

func TestStorage_Conformance(t *testing.T) {
	storetest.Run(t, New(), "test_")
}

func TestStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Patch(ctx, "users", "u1", docstore.Set("a@b.com", "email")))

	doc, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	doc.Fields["email"] = docstore.String("mutated")

	doc, err = s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", doc.Fields.String("email"))
}

func TestStorage_ConcurrentPatchesToDifferentKeys(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			assert.NoError(t, s.Patch(ctx, "users", "u1", docstore.Set(true, "entitlements", key, "active")))
		}(i)
	}
	wg.Wait()

	doc, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Len(t, doc.Fields.Map("entitlements"), 50)
}

func TestStorage_Clear(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Patch(ctx, "notificationLog", "cs_1", docstore.Set("sent", "status")))
	assert.Equal(t, 1, s.Len("notificationLog"))

	s.Clear()
	assert.Equal(t, 0, s.Len("notificationLog"))
}
