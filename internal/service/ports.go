package service

import (
	"context"

	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
)

// OrderRepository persists orders.
// Save rejects a stale order with models.ErrVersionConflict and GetByID
// reports a missing order with models.ErrOrderNotFound.
type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*models.Order, error)
	Save(ctx context.Context, order *models.Order) (*models.Order, error)
}

// InventoryService checks, reserves and releases stock
type InventoryService interface {
	CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error)
	ReserveStock(ctx context.Context, productID string, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, productID string, quantity int) error
}

// PaymentService charges and refunds customers
type PaymentService interface {
	ProcessPayment(ctx context.Context, amount decimal.Decimal, method models.PaymentMethod) (*models.PaymentResult, error)
	Refund(ctx context.Context, transactionID string) error
}

// NotificationService tells customers about their orders
type NotificationService interface {
	SendOrderConfirmation(ctx context.Context, customerID, orderID string) (bool, error)
}

// StatusPublisher announces persisted lifecycle transitions
type StatusPublisher interface {
	PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}
