package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}

	client, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStockScripts(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	productID := "SKU-" + uuid.New().String()[:8]

	require.NoError(t, client.InitInventory(ctx, productID, 5, 0))

	ok, err := client.ReserveStock(ctx, productID, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.ReserveStock(ctx, productID, 3)
	require.NoError(t, err)
	assert.False(t, ok, "only 2 left")

	require.NoError(t, client.ReleaseStock(ctx, productID, 1))
	require.NoError(t, client.CommitStock(ctx, productID, 2))

	available, reserved, err := client.GetInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 3, available)
	assert.Equal(t, 0, reserved)
}

func TestReleaseStockTwice(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	productID := "SKU-" + uuid.New().String()[:8]

	require.NoError(t, client.InitInventory(ctx, productID, 5, 0))

	ok, err := client.ReserveStock(ctx, productID, 2)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, client.ReleaseStock(ctx, productID, 1))
	require.NoError(t, client.ReleaseStock(ctx, productID, 2))

	available, reserved, err := client.GetInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 5, available, "released more than was reserved")
	assert.Equal(t, 0, reserved)
}

func TestStockScriptsNotCached(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.ReserveStock(ctx, "SKU-MISSING-"+uuid.New().String(), 1)
	assert.ErrorIs(t, err, ErrNotCached)

	_, _, err = client.GetInventory(ctx, "SKU-MISSING-"+uuid.New().String())
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestClaimIdempotencyKey(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := uuid.New().String()

	existing, claimed, err := client.ClaimIdempotencyKey(ctx, key, "order-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "order-1", existing)

	existing, claimed, err = client.ClaimIdempotencyKey(ctx, key, "order-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", existing)

	require.NoError(t, client.ReleaseIdempotencyKey(ctx, key))
}
