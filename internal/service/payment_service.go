package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentStore persists payment transactions
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByProviderTxID(ctx context.Context, providerTxID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status, failureReason string) error
}

const declinedReason = "card declined"

// PaymentGateway handles payment processing (mocked)
type PaymentGateway struct {
	store       PaymentStore
	successRate float64
	maxLatency  time.Duration
	random      func() float64
	logger      *zap.Logger
}

// NewPaymentGateway creates a mock gateway that approves roughly
// successRate of charges after up to maxLatency of simulated processing.
func NewPaymentGateway(store PaymentStore, successRate float64, maxLatency time.Duration) *PaymentGateway {
	return &PaymentGateway{
		store:       store,
		successRate: successRate,
		maxLatency:  maxLatency,
		random:      rand.Float64,
		logger:      util.GetLogger(),
	}
}

// ProcessPayment charges amount using method. A decline is reported in the
// result; an error means the outcome is unknown.
func (pg *PaymentGateway) ProcessPayment(ctx context.Context, amount decimal.Decimal, method models.PaymentMethod) (*models.PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentGateway.ProcessPayment")
	defer span.End()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if !method.IsValid() {
		util.PaymentFailedTotal.Inc()
		return &models.PaymentResult{Success: false, ErrorMessage: fmt.Sprintf("unsupported payment method %q", method)}, nil
	}
	if amount.IsNegative() {
		util.PaymentFailedTotal.Inc()
		return &models.PaymentResult{Success: false, ErrorMessage: "invalid amount"}, nil
	}

	pg.logger.Info("Processing payment",
		zap.String("amount", amount.String()),
		zap.String("method", string(method)))

	if pg.maxLatency > 0 {
		delay := time.Duration(pg.random() * float64(pg.maxLatency))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	payment := &models.Payment{
		ProviderTxID: "TXN-" + uuid.New().String(),
		Method:       string(method),
		Status:       models.PaymentStatusSuccess,
		Amount:       amount,
	}
	success := pg.random() < pg.successRate
	if !success {
		payment.Status = models.PaymentStatusFailed
		payment.FailureReason = declinedReason
	}

	if err := pg.store.CreatePayment(ctx, payment); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	if !success {
		pg.logger.Warn("Payment declined", zap.String("tx_id", payment.ProviderTxID))
		util.PaymentFailedTotal.Inc()
		return &models.PaymentResult{Success: false, ErrorMessage: declinedReason}, nil
	}

	pg.logger.Info("Payment succeeded", zap.String("tx_id", payment.ProviderTxID))
	util.PaymentSuccessTotal.Inc()
	return &models.PaymentResult{Success: true, TransactionID: payment.ProviderTxID}, nil
}

// Refund returns a captured payment. Refunding twice is a no-op.
func (pg *PaymentGateway) Refund(ctx context.Context, transactionID string) error {
	ctx, span := util.StartSpan(ctx, "PaymentGateway.Refund")
	defer span.End()

	payment, err := pg.store.GetPaymentByProviderTxID(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to get payment %s: %w", transactionID, err)
	}
	if payment == nil {
		return fmt.Errorf("payment not found: %s", transactionID)
	}

	switch payment.Status {
	case models.PaymentStatusRefunded:
		return nil
	case models.PaymentStatusSuccess:
	default:
		return fmt.Errorf("cannot refund payment %s in status %s", transactionID, payment.Status)
	}

	if err := pg.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusRefunded, ""); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	util.PaymentRefundsTotal.Inc()
	pg.logger.Info("Payment refunded",
		zap.String("tx_id", transactionID),
		zap.String("amount", payment.Amount.String()))
	return nil
}
