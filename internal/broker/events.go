package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func orderKey(orderID string) string {
	return "order-" + orderID
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	orders   EventWriter
	payments EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(orders, payments EventWriter) *EventPublisher {
	return &EventPublisher{orders: orders, payments: payments}
}

// PublishStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentSettled publishes PaymentSettled event
func (ep *EventPublisher) PublishPaymentSettled(ctx context.Context, orderID, transactionID string) error {
	event := &models.PaymentSettledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentSettled,
			Timestamp: time.Now(),
		},
		OrderID:       orderID,
		TransactionID: transactionID,
	}
	return ep.payments.PublishEvent(ctx, orderKey(orderID), event)
}

// NotificationPublisher hands order confirmations to the notification
// pipeline. A confirmation counts as sent once it is queued.
type NotificationPublisher struct {
	writer EventWriter
}

// NewNotificationPublisher creates a new notification publisher
func NewNotificationPublisher(writer EventWriter) *NotificationPublisher {
	return &NotificationPublisher{writer: writer}
}

// SendOrderConfirmation queues a confirmation for customerID
func (np *NotificationPublisher) SendOrderConfirmation(ctx context.Context, customerID, orderID string) (bool, error) {
	if customerID == "" || orderID == "" {
		return false, nil
	}

	event := &models.OrderConfirmationRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderConfirmationRequested,
			Timestamp: time.Now(),
		},
		OrderID:    orderID,
		CustomerID: customerID,
	}

	if err := np.writer.PublishEvent(ctx, orderKey(orderID), event); err != nil {
		return false, err
	}
	return true, nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentSettled func(context.Context, *models.PaymentSettledEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentSettled registers a handler for PaymentSettled events
func (eh *EventHandler) OnPaymentSettled(handler func(context.Context, *models.PaymentSettledEvent) error) {
	eh.onPaymentSettled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentSettled:
		if eh.onPaymentSettled != nil {
			var event models.PaymentSettledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentSettled event: %w", err)
			}
			return eh.onPaymentSettled(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
