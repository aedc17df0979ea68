package store

import (
	"context"
	"os"
	"testing"
	"time"

	"order-fulfillment/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to TEST_DATABASE_URL, which must already have
// migrations/001_init.sql applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newPendingOrder() *models.Order {
	return &models.Order{
		ID:            uuid.New().String(),
		CustomerID:    "cust-" + uuid.New().String()[:8],
		CustomerTier:  models.TierVIP,
		PaymentMethod: models.PaymentEWallet,
		Status:        models.OrderStatusPending,
		Items: []models.OrderItem{
			{ProductID: "SKU-KEYBOARD", ProductName: "Keyboard", UnitPrice: decimal.RequireFromString("120.50"), Quantity: 2},
			{ProductID: "SKU-MOUSE", ProductName: "Mouse", UnitPrice: decimal.RequireFromString("39.99"), Quantity: 1},
		},
		DiscountAmount: decimal.RequireFromString("28.099"),
		ShippingFee:    decimal.RequireFromString("40"),
	}
}

func TestSaveAndGetOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := newPendingOrder()
	saved, err := store.Save(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
	assert.Equal(t, int64(0), order.Version, "input must not be mutated")

	retrieved, err := store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.CustomerID, retrieved.CustomerID)
	assert.Equal(t, models.OrderStatusPending, retrieved.Status)
	require.Len(t, retrieved.Items, 2)
	assert.Equal(t, "SKU-KEYBOARD", retrieved.Items[0].ProductID)
	assert.True(t, order.TotalAmount().Equal(retrieved.TotalAmount()))
}

func TestSaveKeepsFractionalAmounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := newPendingOrder()
	order.Items = []models.OrderItem{
		{ProductID: "SKU-MOUSE", ProductName: "Mouse", UnitPrice: decimal.RequireFromString("33.33"), Quantity: 1},
	}
	// 12.5% of 33.33
	order.DiscountAmount = decimal.RequireFromString("4.16625")
	order.ShippingFee = decimal.RequireFromString("40")

	saved, err := store.Save(ctx, order)
	require.NoError(t, err)

	confirmed := saved.Clone()
	confirmed.Status = models.OrderStatusConfirmed
	_, err = store.Save(ctx, confirmed)
	require.NoError(t, err)

	retrieved, err := store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "4.16625", retrieved.DiscountAmount.String())
	assert.Equal(t, "69.16375", retrieved.TotalAmount().String())
	assert.True(t, order.TotalAmount().Equal(retrieved.TotalAmount()))

	payment := &models.Payment{
		ProviderTxID: "TXN-" + uuid.New().String(),
		Method:       string(models.PaymentEWallet),
		Status:       models.PaymentStatusSuccess,
		Amount:       order.TotalAmount(),
	}
	require.NoError(t, store.CreatePayment(ctx, payment))

	stored, err := store.GetPaymentByProviderTxID(ctx, payment.ProviderTxID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, order.TotalAmount().Equal(stored.Amount), "charged %s, stored %s", order.TotalAmount(), stored.Amount)
}

func TestSaveVersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saved, err := store.Save(ctx, newPendingOrder())
	require.NoError(t, err)

	first := saved.Clone()
	first.Status = models.OrderStatusCancelled
	_, err = store.Save(ctx, first)
	require.NoError(t, err)

	stale := saved.Clone()
	stale.Status = models.OrderStatusConfirmed
	_, err = store.Save(ctx, stale)
	assert.ErrorIs(t, err, models.ErrVersionConflict)

	current, err := store.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, current.Status)
	assert.Equal(t, int64(2), current.Version)
}

func TestSaveDuplicateInsertConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := newPendingOrder()
	_, err := store.Save(ctx, order)
	require.NoError(t, err)

	_, err = store.Save(ctx, order)
	assert.ErrorIs(t, err, models.ErrVersionConflict)
}

func TestGetByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByID(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestListByCustomer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newPendingOrder()
	second := newPendingOrder()
	second.CustomerID = first.CustomerID

	_, err := store.Save(ctx, first)
	require.NoError(t, err)
	_, err = store.Save(ctx, second)
	require.NoError(t, err)

	orders, err := store.ListByCustomer(ctx, first.CustomerID, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, order := range orders {
		assert.Len(t, order.Items, 2)
	}
}

func TestDiscountRules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rule := &models.DiscountRule{
		Code:               "TEST-" + uuid.New().String()[:8],
		Kind:               models.DiscountPercentage,
		Value:              decimal.NewFromInt(15),
		ActiveFrom:         time.Now().Add(-time.Hour).UTC(),
		ActiveTo:           time.Now().Add(time.Hour).UTC(),
		MinimumOrderAmount: decimal.NewFromInt(100),
		IsActive:           true,
	}
	require.NoError(t, store.UpsertRule(ctx, rule))

	got, err := store.GetRuleByCode(ctx, rule.Code)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, rule.Value.Equal(got.Value))
	assert.True(t, got.ActiveAt(time.Now()))

	missing, err := store.GetRuleByCode(ctx, "NO-SUCH-CODE")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReserveStockTx(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv, err := store.GetInventory(ctx, "SKU-MONITOR")
	require.NoError(t, err)
	require.NotNil(t, inv)

	err = store.ReserveStockTx(ctx, "SKU-MONITOR", inv.Available+1)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	require.NoError(t, store.ReserveStockTx(ctx, "SKU-MONITOR", 1))
	require.NoError(t, store.ReleaseStock(ctx, "SKU-MONITOR", 1))

	after, err := store.GetInventory(ctx, "SKU-MONITOR")
	require.NoError(t, err)
	assert.Equal(t, inv.Available, after.Available)

	unknown, err := store.GetInventory(ctx, "SKU-UNKNOWN")
	assert.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestReleaseStockTwiceDoesNotCreateStock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	before, err := store.GetInventory(ctx, "SKU-KEYBOARD")
	require.NoError(t, err)
	require.NotNil(t, before)

	require.NoError(t, store.ReserveStockTx(ctx, "SKU-KEYBOARD", 2))
	require.NoError(t, store.ReleaseStock(ctx, "SKU-KEYBOARD", 2))
	require.NoError(t, store.ReleaseStock(ctx, "SKU-KEYBOARD", 2))

	after, err := store.GetInventory(ctx, "SKU-KEYBOARD")
	require.NoError(t, err)
	assert.Equal(t, before.Available, after.Available)
	assert.Equal(t, before.Reserved, after.Reserved)
}

func TestIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	eventID := uuid.New().String()

	processed, err := store.IsEventProcessed(ctx, eventID)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.MarkEventProcessed(ctx, eventID, models.EventTypePaymentSettled))
	require.NoError(t, store.MarkEventProcessed(ctx, eventID, models.EventTypePaymentSettled))

	processed, err = store.IsEventProcessed(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, processed)
}
