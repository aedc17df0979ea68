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
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetInventory retrieves inventory for a product, or nil if the product is unknown
func (s *Store) GetInventory(ctx context.Context, productID string) (*models.Inventory, error) {
	ctx, span := util.StartSpan(ctx, "Store.GetInventory")
	defer span.End()

	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv,
		"SELECT product_id, available, reserved, updated_at FROM inventory WHERE product_id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory for product %s: %w", productID, err)
	}
	return &inv, nil
}

// ListInventory retrieves inventory for every product
func (s *Store) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	var inventory []models.Inventory
	err := s.db.SelectContext(ctx, &inventory,
		"SELECT product_id, available, reserved, updated_at FROM inventory ORDER BY product_id")
	return inventory, err
}

// ReserveStockTx reserves stock within a transaction (FOR UPDATE lock).
// Returns models.ErrInsufficientStock when the product cannot cover quantity.
func (s *Store) ReserveStockTx(ctx context.Context, productID string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "Store.ReserveStockTx")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var available int
	err = tx.GetContext(ctx, &available,
		"SELECT available FROM inventory WHERE product_id = $1 FOR UPDATE", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: unknown product %s", models.ErrInsufficientStock, productID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock inventory: %w", err)
	}

	if available < quantity {
		return fmt.Errorf("%w: available=%d, requested=%d", models.ErrInsufficientStock, available, quantity)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE inventory SET available = available - $1, reserved = reserved + $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	return tx.Commit()
}

// ReleaseStock releases reserved stock (compensation). Only what is still
// reserved returns to available, so releasing twice is harmless.
func (s *Store) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inventory
		SET available = available + LEAST(reserved, $1), reserved = reserved - LEAST(reserved, $1), updated_at = NOW()
		WHERE product_id = $2`,
		quantity, productID)
	return err
}

// CommitStock commits reserved stock (final deduction)
func (s *Store) CommitStock(ctx context.Context, productID string, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE inventory SET reserved = GREATEST(reserved - $1, 0), updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	return err
}
