package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/redisclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStockCache struct {
	mu        sync.Mutex
	stock     map[string]*models.Inventory
	err       error
	released  map[string]int
	committed map[string]int
}

func newFakeStockCache() *fakeStockCache {
	return &fakeStockCache{stock: map[string]*models.Inventory{}, released: map[string]int{}, committed: map[string]int{}}
}

func (c *fakeStockCache) GetInventory(ctx context.Context, productID string) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, 0, c.err
	}
	inv, ok := c.stock[productID]
	if !ok {
		return 0, 0, redisclient.ErrNotCached
	}
	return inv.Available, inv.Reserved, nil
}

func (c *fakeStockCache) InitInventory(ctx context.Context, productID string, available, reserved int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.stock[productID] = &models.Inventory{ProductID: productID, Available: available, Reserved: reserved}
	return nil
}

func (c *fakeStockCache) ReserveStock(ctx context.Context, productID string, quantity int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	inv, ok := c.stock[productID]
	if !ok {
		return false, redisclient.ErrNotCached
	}
	if inv.Available < quantity {
		return false, nil
	}
	inv.Available -= quantity
	inv.Reserved += quantity
	return true, nil
}

func (c *fakeStockCache) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released[productID] += quantity
	return c.err
}

func (c *fakeStockCache) CommitStock(ctx context.Context, productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed[productID] += quantity
	return c.err
}

type fakeStockStore struct {
	mu           sync.Mutex
	stock        map[string]*models.Inventory
	reserved     map[string]int
	released     map[string]int
	committed    map[string]int
	reserveDelay time.Duration
	err          error
}

func newFakeStockStore() *fakeStockStore {
	return &fakeStockStore{
		stock:     map[string]*models.Inventory{},
		reserved:  map[string]int{},
		released:  map[string]int{},
		committed: map[string]int{},
	}
}

func (s *fakeStockStore) GetInventory(ctx context.Context, productID string) (*models.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	inv, ok := s.stock[productID]
	if !ok {
		return nil, nil
	}
	copied := *inv
	return &copied, nil
}

func (s *fakeStockStore) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Inventory
	for _, inv := range s.stock {
		out = append(out, *inv)
	}
	return out, s.err
}

func (s *fakeStockStore) ReserveStockTx(ctx context.Context, productID string, quantity int) error {
	time.Sleep(s.reserveDelay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	inv, ok := s.stock[productID]
	if !ok || inv.Available < quantity {
		return fmt.Errorf("%w: product %s", models.ErrInsufficientStock, productID)
	}
	inv.Available -= quantity
	inv.Reserved += quantity
	s.reserved[productID] += quantity
	return nil
}

// ReleaseStock and CommitStock only move what is actually reserved, like
// the SQL they stand in for.
func (s *fakeStockStore) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[productID] += quantity
	if inv, ok := s.stock[productID]; ok {
		released := min(inv.Reserved, quantity)
		inv.Available += released
		inv.Reserved -= released
	}
	return s.err
}

func (s *fakeStockStore) CommitStock(ctx context.Context, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed[productID] += quantity
	if inv, ok := s.stock[productID]; ok {
		inv.Reserved -= min(inv.Reserved, quantity)
	}
	return s.err
}

func TestCheckAvailability_Cached(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	cache.stock["p-1"] = &models.Inventory{Available: 5}
	client := NewInventoryClient(store, cache)

	ok, err := client.CheckAvailability(context.Background(), "p-1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.CheckAvailability(context.Background(), "p-1", 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckAvailability_FallsBackToStoreAndWarmsCache(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	store.stock["p-1"] = &models.Inventory{ProductID: "p-1", Available: 7, Reserved: 1}
	client := NewInventoryClient(store, cache)

	ok, err := client.CheckAvailability(context.Background(), "p-1", 7)

	require.NoError(t, err)
	assert.True(t, ok)
	require.Contains(t, cache.stock, "p-1")
	assert.Equal(t, 7, cache.stock["p-1"].Available)
	assert.Equal(t, 1, cache.stock["p-1"].Reserved)
}

func TestCheckAvailability_UnknownProduct(t *testing.T) {
	client := NewInventoryClient(newFakeStockStore(), newFakeStockCache())

	ok, err := client.CheckAvailability(context.Background(), "missing", 1)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckAvailability_StoreError(t *testing.T) {
	store := newFakeStockStore()
	store.err = errors.New("db down")
	client := NewInventoryClient(store, newFakeStockCache())

	_, err := client.CheckAvailability(context.Background(), "p-1", 1)

	assert.ErrorIs(t, err, store.err)
}

func TestReserveStock_RedisFastPathSyncsToStore(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	cache.stock["p-1"] = &models.Inventory{Available: 4}
	store.stock["p-1"] = &models.Inventory{Available: 4}
	client := NewInventoryClient(store, cache)

	ok, err := client.ReserveStock(context.Background(), "p-1", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	client.Wait()
	assert.Equal(t, 3, store.reserved["p-1"])
	assert.Equal(t, 1, cache.stock["p-1"].Available)

	ok, err = client.ReserveStock(context.Background(), "p-1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReserveStock_FallsBackToStore(t *testing.T) {
	tests := []struct {
		name     string
		cacheErr error
	}{
		{"not cached", nil},
		{"redis down", errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newFakeStockCache()
			cache.err = tt.cacheErr
			store := newFakeStockStore()
			store.stock["p-1"] = &models.Inventory{Available: 2}
			client := NewInventoryClient(store, cache)

			ok, err := client.ReserveStock(context.Background(), "p-1", 2)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 2, store.reserved["p-1"])

			ok, err = client.ReserveStock(context.Background(), "p-1", 1)
			require.NoError(t, err)
			assert.False(t, ok, "insufficient stock is not an error")
		})
	}
}

func TestReleaseAndCommitStock(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	client := NewInventoryClient(store, cache)
	ctx := context.Background()

	require.NoError(t, client.ReleaseStock(ctx, "p-1", 2))
	require.NoError(t, client.CommitStock(ctx, "p-2", 3))

	assert.Equal(t, 2, cache.released["p-1"])
	assert.Equal(t, 2, store.released["p-1"])
	assert.Equal(t, 3, cache.committed["p-2"])
	assert.Equal(t, 3, store.committed["p-2"])
}

func TestReleaseStock_WaitsForReservationSync(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	store.reserveDelay = 30 * time.Millisecond
	cache.stock["p-1"] = &models.Inventory{Available: 10}
	store.stock["p-1"] = &models.Inventory{ProductID: "p-1", Available: 10}
	client := NewInventoryClient(store, cache)
	ctx := context.Background()

	ok, err := client.ReserveStock(ctx, "p-1", 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, client.ReleaseStock(ctx, "p-1", 3))
	client.Wait()

	inv := store.stock["p-1"]
	assert.Equal(t, 10, inv.Available)
	assert.Equal(t, 0, inv.Reserved, "release must not run before the reservation reaches the database")
}

func TestCommitStock_WaitsForReservationSync(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	store.reserveDelay = 30 * time.Millisecond
	cache.stock["p-1"] = &models.Inventory{Available: 10}
	store.stock["p-1"] = &models.Inventory{ProductID: "p-1", Available: 10}
	client := NewInventoryClient(store, cache)
	ctx := context.Background()

	ok, err := client.ReserveStock(ctx, "p-1", 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, client.CommitStock(ctx, "p-1", 4))
	client.Wait()

	inv := store.stock["p-1"]
	assert.Equal(t, 6, inv.Available)
	assert.Equal(t, 0, inv.Reserved)
}

func TestReleaseStock_GivesUpWaitingWhenContextEnds(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	store.reserveDelay = 200 * time.Millisecond
	cache.stock["p-1"] = &models.Inventory{Available: 10}
	store.stock["p-1"] = &models.Inventory{ProductID: "p-1", Available: 10}
	client := NewInventoryClient(store, cache)

	ok, err := client.ReserveStock(context.Background(), "p-1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = client.ReleaseStock(ctx, "p-1", 3)

	assert.ErrorIs(t, err, context.DeadlineExceeded)

	client.Wait()
	assert.Zero(t, store.released["p-1"])
	assert.Equal(t, 3, store.stock["p-1"].Reserved)
}

func TestReleaseStock_OtherProductsDoNotWait(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	store.reserveDelay = 200 * time.Millisecond
	cache.stock["p-1"] = &models.Inventory{Available: 10}
	store.stock["p-1"] = &models.Inventory{ProductID: "p-1", Available: 10}
	client := NewInventoryClient(store, cache)

	ok, err := client.ReserveStock(context.Background(), "p-1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, client.ReleaseStock(ctx, "p-2", 1))
	client.Wait()
}

func TestReleaseStock_RedisFailureDoesNotBlockStore(t *testing.T) {
	cache := newFakeStockCache()
	cache.err = errors.New("redis down")
	store := newFakeStockStore()
	client := NewInventoryClient(store, cache)

	require.NoError(t, client.ReleaseStock(context.Background(), "p-1", 2))
	assert.Equal(t, 2, store.released["p-1"])
}

func TestSyncInventoryToRedis(t *testing.T) {
	cache := newFakeStockCache()
	store := newFakeStockStore()
	store.stock["p-1"] = &models.Inventory{ProductID: "p-1", Available: 10, Reserved: 2}
	store.stock["p-2"] = &models.Inventory{ProductID: "p-2", Available: 0}
	client := NewInventoryClient(store, cache)

	require.NoError(t, client.SyncInventoryToRedis(context.Background()))

	assert.Len(t, cache.stock, 2)
	assert.Equal(t, 10, cache.stock["p-1"].Available)
	assert.Equal(t, 2, cache.stock["p-1"].Reserved)
}
