package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type orderRow struct {
	ID             string          `db:"id"`
	CustomerID     string          `db:"customer_id"`
	CustomerTier   string          `db:"customer_tier"`
	PaymentMethod  string          `db:"payment_method"`
	Status         string          `db:"status"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	ShippingFee    decimal.Decimal `db:"shipping_fee"`
	TransactionID  string          `db:"transaction_id"`
	Version        int64           `db:"version"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (r *orderRow) toModel(items []models.OrderItem) *models.Order {
	return &models.Order{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		CustomerTier:   models.CustomerTier(r.CustomerTier),
		Items:          items,
		PaymentMethod:  models.PaymentMethod(r.PaymentMethod),
		Status:         models.OrderStatus(r.Status),
		DiscountAmount: r.DiscountAmount,
		ShippingFee:    r.ShippingFee,
		TransactionID:  r.TransactionID,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type orderItemRow struct {
	OrderID string `db:"order_id"`
	models.OrderItem
}

const orderColumns = `id, customer_id, customer_tier, payment_method, status, discount_amount,
	shipping_fee, transaction_id, version, created_at, updated_at`

// GetByID retrieves an order with its items. Returns models.ErrOrderNotFound
// when no order has the given id.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Store.GetByID")
	defer span.End()

	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}

	var items []models.OrderItem
	err = s.db.SelectContext(ctx, &items,
		"SELECT product_id, product_name, unit_price, quantity FROM order_items WHERE order_id = $1 ORDER BY line_no", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for order %s: %w", id, err)
	}

	return row.toModel(items), nil
}

// Save inserts an order with Version 0 or updates an existing one whose
// stored version equals order.Version. The returned copy carries the new
// version. A lost race returns models.ErrVersionConflict.
func (s *Store) Save(ctx context.Context, order *models.Order) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Store.Save")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	saved := order.Clone()
	if order.Version == 0 {
		err = insertOrder(ctx, tx, saved)
	} else {
		err = updateOrder(ctx, tx, saved)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order %s: %w", order.ID, err)
	}
	return saved, nil
}

func insertOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (id, customer_id, customer_tier, payment_method, status,
			discount_amount, shipping_fee, transaction_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		ON CONFLICT (id) DO NOTHING
		RETURNING version, created_at, updated_at`

	err := tx.QueryRowxContext(ctx, query,
		order.ID, order.CustomerID, order.CustomerTier, order.PaymentMethod, order.Status,
		order.DiscountAmount, order.ShippingFee, order.TransactionID,
	).Scan(&order.Version, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}

	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, product_name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, i, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert item %d of order %s: %w", i, order.ID, err)
		}
	}
	return nil
}

// updateOrder writes the mutable columns; line items are fixed at creation.
func updateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		UPDATE orders
		SET status = $1, discount_amount = $2, shipping_fee = $3, transaction_id = $4,
			version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING version, created_at, updated_at`

	err := tx.QueryRowxContext(ctx, query,
		order.Status, order.DiscountAmount, order.ShippingFee, order.TransactionID,
		order.ID, order.Version,
	).Scan(&order.Version, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}
	return nil
}

// ListByCustomer retrieves a customer's orders, newest first
func (s *Store) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Store.ListByCustomer")
	defer span.End()

	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2",
		customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for customer %s: %w", customerID, err)
	}
	if len(rows) == 0 {
		return []*models.Order{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	query, args, err := sqlx.In(
		"SELECT order_id, product_id, product_name, unit_price, quantity FROM order_items WHERE order_id IN (?) ORDER BY order_id, line_no",
		ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var itemRows []orderItemRow
	if err := s.db.SelectContext(ctx, &itemRows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	itemsByOrder := make(map[string][]models.OrderItem, len(rows))
	for _, item := range itemRows {
		itemsByOrder[item.OrderID] = append(itemsByOrder[item.OrderID], item.OrderItem)
	}

	orders := make([]*models.Order, len(rows))
	for i := range rows {
		orders[i] = rows[i].toModel(itemsByOrder[rows[i].ID])
	}
	return orders, nil
}

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (provider_tx_id, method, status, amount, failure_reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.ProviderTxID, payment.Method, payment.Status, payment.Amount, payment.FailureReason)
}

// GetPaymentByProviderTxID retrieves a payment, or nil if none has the id
func (s *Store) GetPaymentByProviderTxID(ctx context.Context, providerTxID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT id, provider_tx_id, method, status, amount, failure_reason, created_at, updated_at FROM payments WHERE provider_tx_id = $1",
		providerTxID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatus updates payment status
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID int64, status, failureReason string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3",
		status, failureReason, paymentID)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
