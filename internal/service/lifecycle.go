package service

import (
	"fmt"

	"order-fulfillment/internal/apperror"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"
)

// OrderEvent drives a lifecycle transition
type OrderEvent string

const (
	EventConfirm OrderEvent = "CONFIRM"
	EventCancel  OrderEvent = "CANCEL"
	EventSettle  OrderEvent = "SETTLE"
)

type transitionKey struct {
	from  models.OrderStatus
	event OrderEvent
}

// transitions is the only place lifecycle legality is defined
var transitions = map[transitionKey]models.OrderStatus{
	{models.OrderStatusPending, EventConfirm}:  models.OrderStatusConfirmed,
	{models.OrderStatusPending, EventCancel}:   models.OrderStatusCancelled,
	{models.OrderStatusConfirmed, EventCancel}: models.OrderStatusCancelled,
	{models.OrderStatusConfirmed, EventSettle}: models.OrderStatusPaid,
}

// rejections carries specific messages for well-known illegal pairs
var rejections = map[transitionKey]string{
	{models.OrderStatusPaid, EventCancel}:      "paid orders cannot be cancelled",
	{models.OrderStatusCancelled, EventCancel}: "order already cancelled",
}

// Transition returns the status reached by applying event to from, or a
// FailedPrecondition error when the table has no such edge.
func Transition(from models.OrderStatus, event OrderEvent) (models.OrderStatus, error) {
	key := transitionKey{from: from, event: event}
	if to, ok := transitions[key]; ok {
		return to, nil
	}

	util.TransitionsRejectedTotal.WithLabelValues(string(from), string(event)).Inc()
	if msg, ok := rejections[key]; ok {
		return from, apperror.FailedPrecondition(msg)
	}
	return from, apperror.FailedPrecondition(fmt.Sprintf("cannot %s order in status %s", event, from))
}
