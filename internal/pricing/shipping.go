package pricing

import (
	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
)

// Default shipping policy values
var (
	DefaultStandardFee           = decimal.NewFromInt(80)
	DefaultFreeShippingThreshold = decimal.NewFromInt(1000)
)

// shippingRule charges fee when applies matches; rules are evaluated in order
type shippingRule struct {
	name    string
	applies func(tier models.CustomerTier, subTotal decimal.Decimal) bool
	fee     decimal.Decimal
}

// ShippingCalculator computes shipping fees from customer tier and subtotal
type ShippingCalculator struct {
	rules       []shippingRule
	standardFee decimal.Decimal
}

// NewShippingCalculator creates a calculator with the given standard fee and
// free-shipping threshold. VIP and Platinum customers pay half the standard fee.
func NewShippingCalculator(standardFee, freeThreshold decimal.Decimal) *ShippingCalculator {
	rules := []shippingRule{
		{name: "diamond", applies: isDiamond, fee: decimal.Zero},
		{name: "free_threshold", applies: subTotalAtLeast(freeThreshold), fee: decimal.Zero},
		{name: "member", applies: isMember, fee: standardFee.Div(decimal.NewFromInt(2))},
	}

	return &ShippingCalculator{
		rules:       rules,
		standardFee: standardFee,
	}
}

// NewDefaultShippingCalculator creates a calculator with the standard policy
func NewDefaultShippingCalculator() *ShippingCalculator {
	return NewShippingCalculator(DefaultStandardFee, DefaultFreeShippingThreshold)
}

// CalculateShippingFee returns the shipping fee for order
func (c *ShippingCalculator) CalculateShippingFee(order *models.Order) decimal.Decimal {
	fee, _ := c.match(order)
	return fee
}

// IsEligibleForFreeShipping reports whether order ships for free
func (c *ShippingCalculator) IsEligibleForFreeShipping(order *models.Order) bool {
	return c.CalculateShippingFee(order).IsZero()
}

// match returns the fee and the name of the rule that produced it
func (c *ShippingCalculator) match(order *models.Order) (decimal.Decimal, string) {
	subTotal := order.SubTotal()
	for _, rule := range c.rules {
		if rule.applies(order.CustomerTier, subTotal) {
			return rule.fee, rule.name
		}
	}
	return c.standardFee, "standard"
}

func isDiamond(tier models.CustomerTier, _ decimal.Decimal) bool {
	return tier == models.TierDiamond
}

func isMember(tier models.CustomerTier, _ decimal.Decimal) bool {
	return tier == models.TierVIP || tier == models.TierPlatinum
}

func subTotalAtLeast(threshold decimal.Decimal) func(models.CustomerTier, decimal.Decimal) bool {
	return func(_ models.CustomerTier, subTotal decimal.Decimal) bool {
		return subTotal.GreaterThanOrEqual(threshold)
	}
}
