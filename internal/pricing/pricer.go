package pricing

import (
	"context"

	"order-fulfillment/internal/apperror"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// Pricer applies discount and shipping to pending orders at checkout
type Pricer struct {
	discounts *DiscountEngine
	shipping  *ShippingCalculator
	logger    *zap.Logger
}

// NewPricer creates a new pricer
func NewPricer(discounts *DiscountEngine, shipping *ShippingCalculator) *Pricer {
	return &Pricer{
		discounts: discounts,
		shipping:  shipping,
		logger:    util.GetLogger(),
	}
}

// ApplyPricing sets DiscountAmount and ShippingFee on a pending order
func (p *Pricer) ApplyPricing(ctx context.Context, order *models.Order, code string) error {
	if order == nil {
		return apperror.InvalidArgument("order must not be nil")
	}
	if order.Status != models.OrderStatusPending {
		return apperror.FailedPrecondition("only pending orders can be priced")
	}

	ctx, span := util.StartSpan(ctx, "Pricer.ApplyPricing")
	defer span.End()

	discount, err := p.discounts.CalculateDiscount(ctx, order, code)
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	fee, rule := p.shipping.match(order)

	order.DiscountAmount = discount
	order.ShippingFee = fee

	p.logger.Debug("Order priced",
		zap.String("order_id", order.ID),
		zap.String("sub_total", order.SubTotal().String()),
		zap.String("discount", discount.String()),
		zap.String("shipping_fee", fee.String()),
		zap.String("shipping_rule", rule))
	return nil
}
