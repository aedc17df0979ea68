package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-fulfillment/internal/apperror"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// FulfillmentService drives orders through reservation, payment,
// persistence and notification, and owns every status change after pricing.
type FulfillmentService struct {
	repo                OrderRepository
	inventory           InventoryService
	payments            PaymentService
	notifier            NotificationService
	publisher           StatusPublisher
	dependencyTimeout   time.Duration
	compensationTimeout time.Duration
	logger              *zap.Logger
}

// FulfillmentOption configures a FulfillmentService
type FulfillmentOption func(*FulfillmentService)

// WithStatusPublisher publishes an event after every persisted transition
func WithStatusPublisher(publisher StatusPublisher) FulfillmentOption {
	return func(s *FulfillmentService) {
		s.publisher = publisher
	}
}

// WithDependencyTimeout bounds every call to an external service
func WithDependencyTimeout(timeout time.Duration) FulfillmentOption {
	return func(s *FulfillmentService) {
		s.dependencyTimeout = timeout
	}
}

// WithCompensationTimeout bounds the rollback of a failed order
func WithCompensationTimeout(timeout time.Duration) FulfillmentOption {
	return func(s *FulfillmentService) {
		s.compensationTimeout = timeout
	}
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(
	repo OrderRepository,
	inventory InventoryService,
	payments PaymentService,
	notifier NotificationService,
	opts ...FulfillmentOption,
) *FulfillmentService {
	s := &FulfillmentService{
		repo:                repo,
		inventory:           inventory,
		payments:            payments,
		notifier:            notifier,
		compensationTimeout: defaultCompensationTimeout,
		logger:              util.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessOrder reserves stock, captures payment and persists the order as
// confirmed. Steps run strictly in that order and stop at the first failure;
// completed steps are compensated before the error is returned.
func (s *FulfillmentService) ProcessOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order == nil {
		return nil, apperror.InvalidArgument("order must not be nil")
	}

	ctx, span := util.StartSpan(ctx, "FulfillmentService.ProcessOrder")
	defer span.End()

	logger := util.LoggerFromContext(ctx).With(zap.String("order_id", order.ID))

	if err := validateOrder(order); err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	previous := order.Status
	next, err := Transition(previous, EventConfirm)
	if err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	if err := s.checkAvailability(ctx, order); err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	var (
		reserved  []models.OrderItem
		payment   *models.PaymentResult
		persisted *models.Order
	)

	saga := NewSaga("process_order", s.compensationTimeout,
		SagaStep{
			Name: "reserve_stock",
			Execute: func(ctx context.Context) error {
				var err error
				reserved, err = s.reserveStock(ctx, order)
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.releaseStock(ctx, order.ID, reserved)
			},
		},
		SagaStep{
			Name: "capture_payment",
			Execute: func(ctx context.Context) error {
				var err error
				payment, err = s.capturePayment(ctx, order)
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.refund(ctx, payment.TransactionID)
			},
		},
		SagaStep{
			Name: "persist_order",
			Execute: func(ctx context.Context) error {
				order.Status = next
				order.TransactionID = payment.TransactionID

				saved, err := s.save(ctx, order)
				if err != nil {
					order.Status = previous
					order.TransactionID = ""
					return err
				}
				persisted = saved
				return nil
			},
		},
	)

	if err := saga.Run(ctx); err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	util.OrdersConfirmedTotal.Inc()
	logger.Info("Order confirmed",
		zap.String("transaction_id", persisted.TransactionID),
		zap.String("total_amount", persisted.TotalAmount().String()))

	s.notify(ctx, persisted)
	s.publishStatusChanged(ctx, persisted, previous)

	return persisted, nil
}

// CancelOrder cancels a pending or confirmed order. A confirmed order's
// stock and payment are released after the cancellation is persisted.
func (s *FulfillmentService) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, apperror.InvalidArgument("order id must not be empty")
	}

	ctx, span := util.StartSpan(ctx, "FulfillmentService.CancelOrder")
	defer span.End()

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	previous := order.Status
	next, err := Transition(previous, EventCancel)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	order.Status = next
	saved, err := s.save(ctx, order)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCancelledTotal.WithLabelValues(string(previous)).Inc()
	util.LoggerFromContext(ctx).Info("Order cancelled",
		zap.String("order_id", orderID),
		zap.String("from_status", string(previous)))

	if previous == models.OrderStatusConfirmed {
		s.unwindConfirmed(ctx, saved)
	}
	s.publishStatusChanged(ctx, saved, previous)

	return saved, nil
}

// SettleOrder marks a confirmed order as paid once the payment provider has
// settled its transaction.
func (s *FulfillmentService) SettleOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, apperror.InvalidArgument("order id must not be empty")
	}

	ctx, span := util.StartSpan(ctx, "FulfillmentService.SettleOrder")
	defer span.End()

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	previous := order.Status
	next, err := Transition(previous, EventSettle)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	order.Status = next
	saved, err := s.save(ctx, order)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersPaidTotal.Inc()
	s.publishStatusChanged(ctx, saved, previous)

	return saved, nil
}

// GetOrder retrieves an order by ID
func (s *FulfillmentService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, apperror.InvalidArgument("order id must not be empty")
	}
	return s.getOrder(ctx, orderID)
}

func validateOrder(order *models.Order) error {
	if len(order.Items) == 0 {
		return apperror.InvalidArgument("order must contain at least one item")
	}

	for _, item := range order.Items {
		if item.Quantity <= 0 {
			return apperror.InvalidArgument(fmt.Sprintf("quantity for product %s must be greater than 0", item.ProductID))
		}
		if item.UnitPrice.IsNegative() {
			return apperror.InvalidArgument(fmt.Sprintf("unit price for product %s must not be negative", item.ProductID))
		}
	}

	if order.DiscountAmount.IsNegative() || order.DiscountAmount.GreaterThan(order.SubTotal()) {
		return apperror.InvalidArgument("discount amount must be between 0 and the order subtotal")
	}
	if order.ShippingFee.IsNegative() {
		return apperror.InvalidArgument("shipping fee must not be negative")
	}

	return nil
}

func (s *FulfillmentService) checkAvailability(ctx context.Context, order *models.Order) error {
	for _, item := range order.Items {
		callCtx, cancel := s.callContext(ctx)
		available, err := s.inventory.CheckAvailability(callCtx, item.ProductID, item.Quantity)
		cancel()

		if err != nil {
			return apperror.FromDependency("inventory availability check",
				fmt.Errorf("failed to check stock for product %s: %w", item.ProductID, err))
		}
		if !available {
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return apperror.FailedPrecondition("insufficient stock")
		}
	}
	return nil
}

// reserveStock reserves every line, releasing the lines already reserved if
// a later one cannot be.
func (s *FulfillmentService) reserveStock(ctx context.Context, order *models.Order) ([]models.OrderItem, error) {
	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	reserved := make([]models.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		callCtx, cancel := s.callContext(ctx)
		ok, err := s.inventory.ReserveStock(callCtx, item.ProductID, item.Quantity)
		cancel()

		if err != nil || !ok {
			if len(reserved) > 0 {
				if relErr := s.releaseStock(context.WithoutCancel(ctx), order.ID, reserved); relErr != nil {
					s.logger.Error("Failed to release partial reservation",
						zap.String("order_id", order.ID),
						zap.Error(relErr))
				}
			}
		}

		if err != nil {
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
			return nil, apperror.FromDependency("inventory reservation",
				fmt.Errorf("failed to reserve stock for product %s: %w", item.ProductID, err))
		}
		if !ok {
			util.InventoryReservationsFailed.WithLabelValues("not_reservable").Inc()
			return nil, apperror.FailedPrecondition("cannot reserve stock")
		}

		reserved = append(reserved, item)
	}

	return reserved, nil
}

func (s *FulfillmentService) releaseStock(ctx context.Context, orderID string, items []models.OrderItem) error {
	var errs []error
	for _, item := range items {
		callCtx, cancel := s.callContext(ctx)
		err := s.inventory.ReleaseStock(callCtx, item.ProductID, item.Quantity)
		cancel()

		if err != nil {
			s.logger.Error("Failed to release stock",
				zap.String("order_id", orderID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FulfillmentService) capturePayment(ctx context.Context, order *models.Order) (*models.PaymentResult, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	result, err := s.payments.ProcessPayment(callCtx, order.TotalAmount(), order.PaymentMethod)
	if err != nil {
		return nil, apperror.FromDependency("payment", fmt.Errorf("failed to process payment: %w", err))
	}
	if result == nil {
		return nil, errors.New("payment service returned no result")
	}
	if !result.Success {
		return nil, apperror.FailedPrecondition("payment failed: " + result.ErrorMessage)
	}
	return result, nil
}

func (s *FulfillmentService) refund(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return nil
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.payments.Refund(callCtx, transactionID); err != nil {
		return fmt.Errorf("failed to refund transaction %s: %w", transactionID, err)
	}
	return nil
}

// unwindConfirmed gives back what a confirmed order held. Failures are logged
// for manual follow-up; the cancellation itself already succeeded.
func (s *FulfillmentService) unwindConfirmed(ctx context.Context, order *models.Order) {
	if err := s.releaseStock(ctx, order.ID, order.Items); err != nil {
		util.SagaCompensationsTotal.WithLabelValues("cancel_release_stock", "failed").Inc()
	}
	if err := s.refund(ctx, order.TransactionID); err != nil {
		util.SagaCompensationsTotal.WithLabelValues("cancel_refund", "failed").Inc()
		s.logger.Error("Failed to refund cancelled order",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func (s *FulfillmentService) getOrder(ctx context.Context, orderID string) (*models.Order, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	order, err := s.repo.GetByID(callCtx, orderID)
	if errors.Is(err, models.ErrOrderNotFound) || (err == nil && order == nil) {
		return nil, apperror.NotFound("order not found")
	}
	if err != nil {
		return nil, apperror.FromDependency("order lookup", err)
	}
	return order, nil
}

// save persists order. Repository errors are returned as-is except for
// version conflicts and timeouts, which are classified.
func (s *FulfillmentService) save(ctx context.Context, order *models.Order) (*models.Order, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	saved, err := s.repo.Save(callCtx, order)
	if errors.Is(err, models.ErrVersionConflict) {
		return nil, apperror.Wrap(apperror.KindConflict, "order was modified concurrently", err)
	}
	if err != nil {
		return nil, apperror.FromDependency("order repository", err)
	}
	return saved, nil
}

// notify is best effort: neither a rejected nor a failed notification fails the order.
func (s *FulfillmentService) notify(ctx context.Context, order *models.Order) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	sent, err := s.notifier.SendOrderConfirmation(callCtx, order.CustomerID, order.ID)
	switch {
	case err != nil:
		util.NotificationsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("Failed to send order confirmation",
			zap.String("order_id", order.ID),
			zap.Error(err))
	case !sent:
		util.NotificationsTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("Order confirmation was not sent", zap.String("order_id", order.ID))
	default:
		util.NotificationsTotal.WithLabelValues("sent").Inc()
	}
}

func (s *FulfillmentService) publishStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) {
	if s.publisher == nil {
		return
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		FromStatus:  from,
		ToStatus:    order.Status,
		TotalAmount: order.TotalAmount().String(),
		Version:     order.Version,
	}

	if err := s.publisher.PublishStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func (s *FulfillmentService) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.dependencyTimeout > 0 {
		return context.WithTimeout(ctx, s.dependencyTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *FulfillmentService) recordFailure(span trace.Span, err error) {
	util.RecordError(span, err)
	util.OrdersFailedTotal.WithLabelValues(strings.ToLower(string(apperror.KindOf(err)))).Inc()
}
