package models

import "time"

// Event types
const (
	EventTypeOrderStatusChanged         = "ORDER_STATUS_CHANGED"
	EventTypeOrderConfirmationRequested = "ORDER_CONFIRMATION_REQUESTED"
	EventTypePaymentSettled             = "PAYMENT_SETTLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderStatusChangedEvent published after every persisted lifecycle transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     string      `json:"order_id"`
	CustomerID  string      `json:"customer_id"`
	FromStatus  OrderStatus `json:"from_status"`
	ToStatus    OrderStatus `json:"to_status"`
	TotalAmount string      `json:"total_amount"`
	Version     int64       `json:"version"`
}

// OrderConfirmationRequestedEvent asks the notification pipeline to email the customer
type OrderConfirmationRequestedEvent struct {
	BaseEvent
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
}

// PaymentSettledEvent published by the payment provider once funds are settled
type PaymentSettledEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}
