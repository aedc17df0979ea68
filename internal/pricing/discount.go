package pricing

import (
	"context"
	"fmt"
	"time"

	"order-fulfillment/internal/apperror"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// RuleStore looks up discount rules by code.
// Implementations return (nil, nil) when no rule exists for the code.
type RuleStore interface {
	GetRuleByCode(ctx context.Context, code string) (*models.DiscountRule, error)
}

// bulkTier grants rate to quantities at or above minQuantity
type bulkTier struct {
	minQuantity int
	rate        decimal.Decimal
}

// bulkTiers is ordered from the highest threshold down; the first match wins.
var bulkTiers = []bulkTier{
	{minQuantity: 100, rate: decimal.RequireFromString("0.15")},
	{minQuantity: 50, rate: decimal.RequireFromString("0.10")},
	{minQuantity: 10, rate: decimal.RequireFromString("0.05")},
}

// DiscountEngine computes per-line and per-order discounts
type DiscountEngine struct {
	rules  RuleStore
	now    func() time.Time
	logger *zap.Logger
}

// DiscountOption configures a DiscountEngine
type DiscountOption func(*DiscountEngine)

// WithClock overrides the clock used to evaluate rule windows
func WithClock(now func() time.Time) DiscountOption {
	return func(e *DiscountEngine) {
		e.now = now
	}
}

// NewDiscountEngine creates a new discount engine backed by rules
func NewDiscountEngine(rules RuleStore, opts ...DiscountOption) *DiscountEngine {
	e := &DiscountEngine{
		rules:  rules,
		now:    time.Now,
		logger: util.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CalculateDiscountedPrice returns originalPrice × (1 − discountRate) without rounding
func (e *DiscountEngine) CalculateDiscountedPrice(originalPrice, discountRate decimal.Decimal) (decimal.Decimal, error) {
	if originalPrice.IsNegative() {
		return decimal.Zero, apperror.InvalidArgument("original price must not be negative")
	}
	if discountRate.IsNegative() || discountRate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, apperror.InvalidArgument("discount rate must be between 0 and 1")
	}

	return originalPrice.Mul(decimal.NewFromInt(1).Sub(discountRate)), nil
}

// CalculateBulkDiscount returns the line total after the quantity discount
func (e *DiscountEngine) CalculateBulkDiscount(originalPrice decimal.Decimal, quantity int) (decimal.Decimal, error) {
	if originalPrice.IsNegative() {
		return decimal.Zero, apperror.InvalidArgument("original price must not be negative")
	}
	if quantity <= 0 {
		return decimal.Zero, apperror.InvalidArgument("quantity must be greater than 0")
	}

	rate := BulkDiscountRate(quantity)
	return originalPrice.Mul(decimal.NewFromInt(int64(quantity))).Mul(decimal.NewFromInt(1).Sub(rate)), nil
}

// BulkDiscountRate returns the discount rate granted for quantity
func BulkDiscountRate(quantity int) decimal.Decimal {
	for _, tier := range bulkTiers {
		if quantity >= tier.minQuantity {
			return tier.rate
		}
	}
	return decimal.Zero
}

// CalculateDiscount returns the discount the code grants on order.
// Unknown, inactive, expired or below-minimum codes yield zero without error.
// The order is not modified.
func (e *DiscountEngine) CalculateDiscount(ctx context.Context, order *models.Order, code string) (decimal.Decimal, error) {
	if order == nil {
		return decimal.Zero, apperror.InvalidArgument("order must not be nil")
	}
	if code == "" {
		return decimal.Zero, nil
	}

	ctx, span := util.StartSpan(ctx, "DiscountEngine.CalculateDiscount")
	defer span.End()

	rule, err := e.rules.GetRuleByCode(ctx, code)
	if err != nil {
		util.RecordError(span, err)
		return decimal.Zero, apperror.FromDependency("discount rule lookup", fmt.Errorf("failed to get discount rule: %w", err))
	}

	subTotal := order.SubTotal()
	if reason := ineligibility(rule, subTotal, e.now()); reason != "" {
		util.DiscountsEvaluatedTotal.WithLabelValues(reason).Inc()
		e.logger.Info("Discount code not applied",
			zap.String("order_id", order.ID),
			zap.String("code", code),
			zap.String("reason", reason))
		return decimal.Zero, nil
	}

	var amount decimal.Decimal
	switch rule.Kind {
	case models.DiscountPercentage:
		amount = subTotal.Mul(rule.Value).Div(hundred)
	case models.DiscountFixedAmount:
		amount = rule.Value
	default:
		util.DiscountsEvaluatedTotal.WithLabelValues("unknown_kind").Inc()
		e.logger.Warn("Discount rule has unknown kind",
			zap.String("code", code),
			zap.String("kind", string(rule.Kind)))
		return decimal.Zero, nil
	}

	util.DiscountsEvaluatedTotal.WithLabelValues("applied").Inc()
	return clamp(amount, decimal.Zero, subTotal), nil
}

func ineligibility(rule *models.DiscountRule, subTotal decimal.Decimal, now time.Time) string {
	switch {
	case rule == nil:
		return "unknown_code"
	case !rule.IsActive:
		return "inactive"
	case !rule.ActiveAt(now):
		return "outside_window"
	case subTotal.LessThan(rule.MinimumOrderAmount):
		return "below_minimum"
	default:
		return ""
	}
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
