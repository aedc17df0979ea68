package service

import (
	"context"
	"fmt"
	"time"

	"order-fulfillment/internal/apperror"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderPricer sets discount and shipping on a pending order
type OrderPricer interface {
	ApplyPricing(ctx context.Context, order *models.Order, code string) error
}

// OrderProcessor is the fulfillment workflow seen by checkout
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// IdempotencyStore remembers which order a client request key produced
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) (existing string, claimed bool, err error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

const defaultIdempotencyTTL = 24 * time.Hour

// OrderService handles checkout: it builds and prices an order, stores it as
// pending and hands it to the fulfillment workflow.
type OrderService struct {
	pricer         OrderPricer
	orders         OrderRepository
	processor      OrderProcessor
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewOrderService creates a new order service. idempotency may be nil.
func NewOrderService(
	pricer OrderPricer,
	orders OrderRepository,
	processor OrderProcessor,
	idempotency IdempotencyStore,
) *OrderService {
	return &OrderService{
		pricer:         pricer,
		orders:         orders,
		processor:      processor,
		idempotency:    idempotency,
		idempotencyTTL: defaultIdempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID     string             `json:"customer_id" binding:"required"`
	CustomerTier   string             `json:"customer_tier" binding:"required"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	PaymentMethod  string             `json:"payment_method" binding:"required"`
	DiscountCode   string             `json:"discount_code,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID   string          `json:"product_id" binding:"required"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity" binding:"required,min=1"`
}

// Quote prices a request without storing or fulfilling it
func (s *OrderService) Quote(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Quote")
	defer span.End()

	order, err := buildOrder(req, "")
	if err != nil {
		return nil, err
	}
	if err := s.pricer.ApplyPricing(ctx, order, req.DiscountCode); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return order, nil
}

// CreateOrder prices, stores and fulfills a new order. Repeating a request
// with the same idempotency key returns the order the first one produced.
// An order whose fulfillment fails is cancelled and the error returned.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	order, err := buildOrder(req, uuid.New().String())
	if err != nil {
		return nil, err
	}

	logger := util.LoggerFromContext(ctx).With(zap.String("order_id", order.ID))

	if req.IdempotencyKey != "" && s.idempotency != nil {
		existing, claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, req.IdempotencyKey, order.ID, s.idempotencyTTL)
		if err != nil {
			return nil, apperror.FromDependency("idempotency check", fmt.Errorf("failed to check idempotency: %w", err))
		}
		if !claimed {
			logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("existing_order_id", existing))

			previous, err := s.processor.GetOrder(ctx, existing)
			if apperror.IsKind(err, apperror.KindNotFound) {
				return nil, apperror.Conflict("an order for this idempotency key is still being processed")
			}
			return previous, err
		}
	}

	created, err := s.checkout(ctx, order, req.DiscountCode)
	if err != nil {
		util.RecordError(span, err)
		if req.IdempotencyKey != "" && s.idempotency != nil {
			if relErr := s.idempotency.ReleaseIdempotencyKey(context.WithoutCancel(ctx), req.IdempotencyKey); relErr != nil {
				logger.Warn("Failed to release idempotency key", zap.Error(relErr))
			}
		}
		return nil, err
	}

	return created, nil
}

func (s *OrderService) checkout(ctx context.Context, order *models.Order, code string) (*models.Order, error) {
	if err := s.pricer.ApplyPricing(ctx, order, code); err != nil {
		return nil, err
	}

	pending, err := s.orders.Save(ctx, order)
	if err != nil {
		return nil, apperror.FromDependency("order repository", fmt.Errorf("failed to create order: %w", err))
	}
	s.logger.Info("Order created",
		zap.String("order_id", pending.ID),
		zap.String("total_amount", pending.TotalAmount().String()))

	confirmed, err := s.processor.ProcessOrder(ctx, pending)
	if err != nil {
		if _, cancelErr := s.processor.CancelOrder(context.WithoutCancel(ctx), pending.ID); cancelErr != nil {
			s.logger.Error("Failed to cancel unfulfilled order",
				zap.String("order_id", pending.ID),
				zap.Error(cancelErr))
		}
		return nil, err
	}
	return confirmed, nil
}

func buildOrder(req *CreateOrderRequest, orderID string) (*models.Order, error) {
	if req == nil {
		return nil, apperror.InvalidArgument("request must not be nil")
	}

	tier := models.CustomerTier(req.CustomerTier)
	if !tier.IsValid() {
		return nil, apperror.InvalidArgument(fmt.Sprintf("unknown customer tier %q", req.CustomerTier))
	}
	method := models.PaymentMethod(req.PaymentMethod)
	if !method.IsValid() {
		return nil, apperror.InvalidArgument(fmt.Sprintf("unknown payment method %q", req.PaymentMethod))
	}
	if len(req.Items) == 0 {
		return nil, apperror.InvalidArgument("order must contain at least one item")
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, apperror.InvalidArgument(fmt.Sprintf("quantity for product %s must be greater than 0", item.ProductID))
		}
		if item.UnitPrice.IsNegative() {
			return nil, apperror.InvalidArgument(fmt.Sprintf("unit price for product %s must not be negative", item.ProductID))
		}
		items = append(items, models.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		})
	}

	return &models.Order{
		ID:            orderID,
		CustomerID:    req.CustomerID,
		CustomerTier:  tier,
		Items:         items,
		PaymentMethod: method,
		Status:        models.OrderStatusPending,
	}, nil
}
