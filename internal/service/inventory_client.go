package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/redisclient"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// StockCache is the Redis fast path for stock counts
type StockCache interface {
	GetInventory(ctx context.Context, productID string) (available, reserved int, err error)
	InitInventory(ctx context.Context, productID string, available, reserved int) error
	ReserveStock(ctx context.Context, productID string, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, productID string, quantity int) error
	CommitStock(ctx context.Context, productID string, quantity int) error
}

// StockStore is the durable record of stock counts
type StockStore interface {
	GetInventory(ctx context.Context, productID string) (*models.Inventory, error)
	ListInventory(ctx context.Context) ([]models.Inventory, error)
	ReserveStockTx(ctx context.Context, productID string, quantity int) error
	ReleaseStock(ctx context.Context, productID string, quantity int) error
	CommitStock(ctx context.Context, productID string, quantity int) error
}

// InventoryClient handles inventory operations
type InventoryClient struct {
	store   StockStore
	cache   StockCache
	pending sync.WaitGroup

	// inflight holds one channel per reservation of a product whose
	// database write has not finished yet; it is closed when it does.
	mu       sync.Mutex
	inflight map[string][]chan struct{}

	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client
func NewInventoryClient(store StockStore, cache StockCache) *InventoryClient {
	return &InventoryClient{
		store:    store,
		cache:    cache,
		inflight: map[string][]chan struct{}{},
		logger:   util.GetLogger(),
	}
}

// CheckAvailability reports whether quantity units are free to reserve.
// Unknown products are never available.
func (ic *InventoryClient) CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.CheckAvailability")
	defer span.End()

	available, _, err := ic.cache.GetInventory(ctx, productID)
	if err == nil {
		return available >= quantity, nil
	}
	if !errors.Is(err, redisclient.ErrNotCached) {
		ic.logger.Warn("Redis availability check failed, falling back to DB",
			zap.String("product_id", productID),
			zap.Error(err))
	}

	inv, err := ic.store.GetInventory(ctx, productID)
	if err != nil {
		return false, err
	}
	if inv == nil {
		return false, nil
	}

	if err := ic.cache.InitInventory(ctx, productID, inv.Available, inv.Reserved); err != nil {
		ic.logger.Debug("Failed to warm Redis inventory", zap.String("product_id", productID), zap.Error(err))
	}
	return inv.Available >= quantity, nil
}

// ReserveStock reserves stock for a product (fast path via Redis)
func (ic *InventoryClient) ReserveStock(ctx context.Context, productID string, quantity int) (bool, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.ReserveStock")
	defer span.End()

	success, err := ic.cache.ReserveStock(ctx, productID, quantity)
	if err != nil {
		if !errors.Is(err, redisclient.ErrNotCached) {
			ic.logger.Warn("Redis reservation failed, falling back to DB",
				zap.String("product_id", productID),
				zap.Error(err))
		}
		return ic.reserveStockDB(ctx, productID, quantity)
	}

	if !success {
		return false, nil
	}

	done := ic.startSync(productID)
	ic.pending.Add(1)
	go func() {
		defer ic.pending.Done()
		defer ic.finishSync(productID, done)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := ic.store.ReserveStockTx(ctx, productID, quantity); err != nil {
			ic.logger.Error("Failed to sync reservation to DB",
				zap.String("product_id", productID),
				zap.Error(err))
		}
	}()

	return true, nil
}

// reserveStockDB reserves stock using database transaction (fallback)
func (ic *InventoryClient) reserveStockDB(ctx context.Context, productID string, quantity int) (bool, error) {
	err := ic.store.ReserveStockTx(ctx, productID, quantity)
	if errors.Is(err, models.ErrInsufficientStock) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (ic *InventoryClient) startSync(productID string) chan struct{} {
	done := make(chan struct{})
	ic.mu.Lock()
	ic.inflight[productID] = append(ic.inflight[productID], done)
	ic.mu.Unlock()
	return done
}

func (ic *InventoryClient) finishSync(productID string, done chan struct{}) {
	ic.mu.Lock()
	pending := ic.inflight[productID]
	for i, ch := range pending {
		if ch == done {
			pending = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(pending) == 0 {
		delete(ic.inflight, productID)
	} else {
		ic.inflight[productID] = pending
	}
	ic.mu.Unlock()
	close(done)
}

// awaitSync blocks until every reservation of productID started so far has
// reached the database. A release or commit written before its reservation
// would be clamped to zero and leave the reservation behind.
func (ic *InventoryClient) awaitSync(ctx context.Context, productID string) error {
	ic.mu.Lock()
	pending := append([]chan struct{}(nil), ic.inflight[productID]...)
	ic.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for reservation sync of product %s: %w", productID, ctx.Err())
		}
	}
	return nil
}

// ReleaseStock releases reserved stock (compensation)
func (ic *InventoryClient) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.ReleaseStock")
	defer span.End()

	if err := ic.cache.ReleaseStock(ctx, productID, quantity); err != nil && !errors.Is(err, redisclient.ErrNotCached) {
		ic.logger.Error("Failed to release stock in Redis",
			zap.String("product_id", productID),
			zap.Error(err))
	}

	if err := ic.awaitSync(ctx, productID); err != nil {
		return err
	}
	if err := ic.store.ReleaseStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("failed to release stock for product %s: %w", productID, err)
	}
	return nil
}

// CommitStock commits reserved stock (final deduction)
func (ic *InventoryClient) CommitStock(ctx context.Context, productID string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.CommitStock")
	defer span.End()

	if err := ic.cache.CommitStock(ctx, productID, quantity); err != nil && !errors.Is(err, redisclient.ErrNotCached) {
		ic.logger.Error("Failed to commit stock in Redis",
			zap.String("product_id", productID),
			zap.Error(err))
	}

	if err := ic.awaitSync(ctx, productID); err != nil {
		return err
	}
	if err := ic.store.CommitStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("failed to commit stock for product %s: %w", productID, err)
	}
	return nil
}

// SyncInventoryToRedis synchronizes database inventory to Redis
func (ic *InventoryClient) SyncInventoryToRedis(ctx context.Context) error {
	ic.logger.Info("Starting inventory sync to Redis")

	inventory, err := ic.store.ListInventory(ctx)
	if err != nil {
		return fmt.Errorf("failed to list inventory: %w", err)
	}

	synced := 0
	for _, inv := range inventory {
		if err := ic.cache.InitInventory(ctx, inv.ProductID, inv.Available, inv.Reserved); err != nil {
			ic.logger.Error("Failed to init Redis inventory",
				zap.String("product_id", inv.ProductID),
				zap.Error(err))
			continue
		}
		synced++
	}

	ic.logger.Info("Inventory sync completed", zap.Int("count", synced))
	return nil
}

// Wait blocks until background DB syncs have finished
func (ic *InventoryClient) Wait() {
	ic.pending.Wait()
}
