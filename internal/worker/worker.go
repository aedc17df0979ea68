package worker

import (
	"context"
	"fmt"

	"order-fulfillment/internal/apperror"
	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// OrderSettler is the part of the fulfillment workflow the worker drives
type OrderSettler interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	SettleOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// StockCommitter turns reservations into final deductions
type StockCommitter interface {
	CommitStock(ctx context.Context, productID string, quantity int) error
}

// EventLog deduplicates redelivered events
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// SettlementWorker moves confirmed orders to paid when the payment provider
// reports settlement.
type SettlementWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       OrderSettler
	stock        StockCommitter
	events       EventLog
	logger       *zap.Logger
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(
	consumer *broker.Consumer,
	orders OrderSettler,
	stock StockCommitter,
	events EventLog,
) *SettlementWorker {
	w := &SettlementWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		orders:       orders,
		stock:        stock,
		events:       events,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPaymentSettled(w.HandlePaymentSettled)
	return w
}

// Start starts the worker
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting settlement worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SettlementWorker) Stop() error {
	w.logger.Info("Stopping settlement worker")
	return w.consumer.Close()
}

// HandlePaymentSettled settles the order named by event. Events that can
// never succeed are marked processed so they are not retried; only
// infrastructure failures are returned.
func (w *SettlementWorker) HandlePaymentSettled(ctx context.Context, event *models.PaymentSettledEvent) error {
	ctx, span := util.StartSpan(ctx, "SettlementWorker.HandlePaymentSettled")
	defer span.End()

	logger := util.LoggerFromContext(ctx).With(
		zap.String("event_id", event.EventID),
		zap.String("order_id", event.OrderID))

	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event %s: %w", event.EventID, err)
	}
	if processed {
		logger.Info("Event already processed, skipping")
		return nil
	}

	order, err := w.orders.GetOrder(ctx, event.OrderID)
	if apperror.IsKind(err, apperror.KindNotFound) {
		logger.Warn("Settlement for unknown order")
		return w.markProcessed(ctx, event)
	}
	if err != nil {
		return err
	}

	if order.TransactionID != event.TransactionID {
		logger.Warn("Settlement transaction does not match order",
			zap.String("order_transaction_id", order.TransactionID),
			zap.String("event_transaction_id", event.TransactionID))
		return w.markProcessed(ctx, event)
	}

	if _, err := w.orders.SettleOrder(ctx, event.OrderID); err != nil {
		if apperror.IsKind(err, apperror.KindFailedPrecondition) {
			logger.Warn("Order cannot be settled", zap.String("status", string(order.Status)), zap.Error(err))
			return w.markProcessed(ctx, event)
		}
		util.RecordError(span, err)
		return err
	}

	for _, item := range order.Items {
		if err := w.stock.CommitStock(ctx, item.ProductID, item.Quantity); err != nil {
			logger.Error("Failed to commit stock",
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}

	logger.Info("Order settled", zap.String("transaction_id", event.TransactionID))
	return w.markProcessed(ctx, event)
}

func (w *SettlementWorker) markProcessed(ctx context.Context, event *models.PaymentSettledEvent) error {
	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", event.EventID, err)
	}
	return nil
}
