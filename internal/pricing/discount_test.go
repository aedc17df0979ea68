package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-fulfillment/internal/apperror"
	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeRuleStore struct {
	rules   map[string]*models.DiscountRule
	err     error
	lookups int
}

func (f *fakeRuleStore) GetRuleByCode(ctx context.Context, code string) (*models.DiscountRule, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	return f.rules[code], nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func orderWithSubTotal(subTotal string) *models.Order {
	return &models.Order{
		ID:           "order-1",
		CustomerTier: models.TierRegular,
		Status:       models.OrderStatusPending,
		Items: []models.OrderItem{
			{ProductID: "p-1", ProductName: "Widget", UnitPrice: dec(subTotal), Quantity: 1},
		},
	}
}

func activeRule(code string, kind models.DiscountKind, value, minimum string) *models.DiscountRule {
	return &models.DiscountRule{
		Code:               code,
		Kind:               kind,
		Value:              dec(value),
		ActiveFrom:         fixedNow.Add(-24 * time.Hour),
		ActiveTo:           fixedNow.Add(24 * time.Hour),
		MinimumOrderAmount: dec(minimum),
		IsActive:           true,
	}
}

func newTestEngine(store *fakeRuleStore) *DiscountEngine {
	return NewDiscountEngine(store, WithClock(func() time.Time { return fixedNow }))
}

func TestCalculateDiscountedPrice(t *testing.T) {
	engine := newTestEngine(&fakeRuleStore{})

	tests := []struct {
		name  string
		price string
		rate  string
		want  string
	}{
		{"twenty percent", "100", "0.2", "80"},
		{"exact decimal", "99.99", "0.15", "84.9915"},
		{"zero rate", "42.42", "0", "42.42"},
		{"full rate", "42.42", "1", "0"},
		{"zero price", "0", "0.5", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.CalculateDiscountedPrice(dec(tt.price), dec(tt.rate))
			require.NoError(t, err)
			assertDecimal(t, tt.want, got)
		})
	}
}

func TestCalculateDiscountedPrice_InvalidArguments(t *testing.T) {
	engine := newTestEngine(&fakeRuleStore{})

	_, err := engine.CalculateDiscountedPrice(dec("-0.01"), dec("0.1"))
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalidArgument, apperror.KindOf(err))
	assert.Equal(t, "original price must not be negative", err.Error())

	for _, rate := range []string{"-0.01", "1.01", "2"} {
		_, err := engine.CalculateDiscountedPrice(dec("100"), dec(rate))
		require.Error(t, err, rate)
		assert.Equal(t, apperror.KindInvalidArgument, apperror.KindOf(err))
		assert.Equal(t, "discount rate must be between 0 and 1", err.Error())
	}
}

func TestCalculateBulkDiscount(t *testing.T) {
	engine := newTestEngine(&fakeRuleStore{})

	got, err := engine.CalculateBulkDiscount(dec("10"), 15)
	require.NoError(t, err)
	assertDecimal(t, "142.5", got)

	got, err = engine.CalculateBulkDiscount(dec("0.99"), 100)
	require.NoError(t, err)
	assertDecimal(t, "84.15", got)
}

func TestBulkDiscountRate_TierEdges(t *testing.T) {
	tests := []struct {
		quantity int
		want     string
	}{
		{1, "0"},
		{9, "0"},
		{10, "0.05"},
		{49, "0.05"},
		{50, "0.10"},
		{99, "0.10"},
		{100, "0.15"},
		{1000, "0.15"},
	}

	for _, tt := range tests {
		assertDecimal(t, tt.want, BulkDiscountRate(tt.quantity))
	}
}

func TestCalculateBulkDiscount_InvalidArguments(t *testing.T) {
	engine := newTestEngine(&fakeRuleStore{})

	_, err := engine.CalculateBulkDiscount(dec("-1"), 5)
	assert.Equal(t, apperror.KindInvalidArgument, apperror.KindOf(err))

	_, err = engine.CalculateBulkDiscount(dec("1"), 0)
	assert.Equal(t, apperror.KindInvalidArgument, apperror.KindOf(err))

	_, err = engine.CalculateBulkDiscount(dec("1"), -3)
	assert.Equal(t, apperror.KindInvalidArgument, apperror.KindOf(err))
}

func TestCalculateDiscount(t *testing.T) {
	expired := activeRule("OLD", models.DiscountPercentage, "10", "0")
	expired.ActiveTo = fixedNow.Add(-time.Hour)

	notYet := activeRule("SOON", models.DiscountPercentage, "10", "0")
	notYet.ActiveFrom = fixedNow.Add(time.Hour)

	inactive := activeRule("OFF", models.DiscountPercentage, "10", "0")
	inactive.IsActive = false

	store := &fakeRuleStore{rules: map[string]*models.DiscountRule{
		"TEN":     activeRule("TEN", models.DiscountPercentage, "10", "0"),
		"FIFTY":   activeRule("FIFTY", models.DiscountFixedAmount, "50", "0"),
		"HUGE":    activeRule("HUGE", models.DiscountFixedAmount, "5000", "0"),
		"OVER":    activeRule("OVER", models.DiscountPercentage, "150", "0"),
		"MIN1000": activeRule("MIN1000", models.DiscountPercentage, "10", "1000"),
		"OLD":     expired,
		"SOON":    notYet,
		"OFF":     inactive,
	}}
	engine := newTestEngine(store)

	tests := []struct {
		name     string
		subTotal string
		code     string
		want     string
	}{
		{"percentage", "250", "TEN", "25"},
		{"fixed amount", "250", "FIFTY", "50"},
		{"fixed amount clamped to subtotal", "250", "HUGE", "250"},
		{"percentage clamped to subtotal", "250", "OVER", "250"},
		{"below minimum", "999.99", "MIN1000", "0"},
		{"at minimum", "1000", "MIN1000", "100"},
		{"unknown code", "250", "NOPE", "0"},
		{"expired", "250", "OLD", "0"},
		{"not yet active", "250", "SOON", "0"},
		{"inactive", "250", "OFF", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := orderWithSubTotal(tt.subTotal)

			got, err := engine.CalculateDiscount(context.Background(), order, tt.code)
			require.NoError(t, err)
			assertDecimal(t, tt.want, got)

			assert.True(t, got.GreaterThanOrEqual(decimal.Zero))
			assert.True(t, got.LessThanOrEqual(order.SubTotal()))
			assert.True(t, order.DiscountAmount.IsZero(), "engine must not mutate the order")
		})
	}
}

func TestCalculateDiscount_EmptyCodeSkipsLookup(t *testing.T) {
	store := &fakeRuleStore{}
	engine := newTestEngine(store)

	got, err := engine.CalculateDiscount(context.Background(), orderWithSubTotal("100"), "")

	require.NoError(t, err)
	assert.True(t, got.IsZero())
	assert.Zero(t, store.lookups)
}

func TestCalculateDiscount_Errors(t *testing.T) {
	engine := newTestEngine(&fakeRuleStore{})
	_, err := engine.CalculateDiscount(context.Background(), nil, "TEN")
	assert.Equal(t, apperror.KindInvalidArgument, apperror.KindOf(err))

	storeErr := errors.New("connection refused")
	engine = newTestEngine(&fakeRuleStore{err: storeErr})
	_, err = engine.CalculateDiscount(context.Background(), orderWithSubTotal("100"), "TEN")
	assert.ErrorIs(t, err, storeErr)

	engine = newTestEngine(&fakeRuleStore{err: context.DeadlineExceeded})
	_, err = engine.CalculateDiscount(context.Background(), orderWithSubTotal("100"), "TEN")
	assert.Equal(t, apperror.KindUnavailable, apperror.KindOf(err))
}
