package cart

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryKV is an in-memory stand-in for the redis repository.
type memoryKV struct {
	data    map[string]string
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]string)}
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	value, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("key not found")
	}
	return value, nil
}

func (m *memoryKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value.(string)
	m.lastTTL = expiration
	return nil
}

func (m *memoryKV) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func newTestStore() (*Store, *memoryKV) {
	kv := newMemoryKV()
	return NewStore(kv, zap.NewNop()), kv
}

func TestAddAndListItems(t *testing.T) {
	store, kv := newTestStore()
	ctx := context.Background()

	first, err := store.Add(ctx, "sess-1", Item{Name: "Hoodie", Price: 30})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := store.Add(ctx, "sess-1", Item{Name: "Cap", Price: 20})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	items := store.Items(ctx, "sess-1")
	require.Len(t, items, 2)
	assert.Equal(t, "Hoodie", items[0].Name, "insertion order preserved")
	assert.Equal(t, "Cap", items[1].Name)
	assert.Equal(t, cartTTL, kv.lastTTL)
}

func TestCartsAreIsolatedBySession(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.Add(ctx, "sess-a", Item{Name: "Hoodie", Price: 30})
	require.NoError(t, err)

	assert.Len(t, store.Items(ctx, "sess-a"), 1)
	assert.Empty(t, store.Items(ctx, "sess-b"))
}

func TestRemoveItem(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	first, err := store.Add(ctx, "sess-1", Item{Name: "Hoodie", Price: 30})
	require.NoError(t, err)
	_, err = store.Add(ctx, "sess-1", Item{Name: "Cap", Price: 20})
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "sess-1", first.ID))
	items := store.Items(ctx, "sess-1")
	require.Len(t, items, 1)
	assert.Equal(t, "Cap", items[0].Name)
}

func TestRemoveUnknownIDIsNoOp(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.Add(ctx, "sess-1", Item{Name: "Hoodie", Price: 30})
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "sess-1", "no-such-id"))
	assert.Len(t, store.Items(ctx, "sess-1"), 1)
}

func TestClear(t *testing.T) {
	store, kv := newTestStore()
	ctx := context.Background()

	_, err := store.Add(ctx, "sess-1", Item{Name: "Hoodie", Price: 30})
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "sess-1"))
	assert.Empty(t, store.Items(ctx, "sess-1"))
	assert.Empty(t, kv.data)
}

func TestTotal(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	assert.Zero(t, store.Total(ctx, "sess-1"))

	_, err := store.Add(ctx, "sess-1", Item{Name: "Hoodie", Price: 29.99})
	require.NoError(t, err)
	_, err = store.Add(ctx, "sess-1", Item{Name: "Cap", Price: 20.01})
	require.NoError(t, err)

	assert.InDelta(t, 50.0, store.Total(ctx, "sess-1"), 1e-9)
}

func TestMalformedStoredCartFailsOpen(t *testing.T) {
	store, kv := newTestStore()
	ctx := context.Background()
	kv.data[cartKey("sess-1")] = "{definitely not a cart"

	assert.Empty(t, store.Items(ctx, "sess-1"))

	// Adding to a corrupt cart starts a fresh one instead of failing.
	_, err := store.Add(ctx, "sess-1", Item{Name: "Hoodie", Price: 30})
	require.NoError(t, err)
	assert.Len(t, store.Items(ctx, "sess-1"), 1)
}

func TestUnreadableBackendFailsOpen(t *testing.T) {
	store, kv := newTestStore()
	kv.getErr = fmt.Errorf("connection refused")

	assert.Empty(t, store.Items(context.Background(), "sess-1"))
	assert.Zero(t, store.Total(context.Background(), "sess-1"))
}

func TestAddSurfacesWriteErrors(t *testing.T) {
	store, kv := newTestStore()
	kv.setErr = fmt.Errorf("connection refused")

	_, err := store.Add(context.Background(), "sess-1", Item{Name: "Hoodie", Price: 30})
	assert.Error(t, err)
}
