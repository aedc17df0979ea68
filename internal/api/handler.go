package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"order-fulfillment/internal/apperror"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Checkout creates and quotes orders
type Checkout interface {
	Quote(ctx context.Context, req *service.CreateOrderRequest) (*models.Order, error)
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*models.Order, error)
}

// Orders reads and cancels existing orders
type Orders interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// OrderLister lists a customer's orders
type OrderLister interface {
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Order, error)
}

// SettlementPublisher forwards provider settlement callbacks to the worker
type SettlementPublisher interface {
	PublishPaymentSettled(ctx context.Context, orderID, transactionID string) error
}

// RuleWriter stores discount rules
type RuleWriter interface {
	UpsertRule(ctx context.Context, rule *models.DiscountRule) error
}

// RuleInvalidator drops cached discount rules
type RuleInvalidator interface {
	Invalidate(ctx context.Context, code string) error
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	checkout    Checkout
	orders      Orders
	lister      OrderLister
	settlements SettlementPublisher
	rules       RuleWriter
	ruleCache   RuleInvalidator
	checks      map[string]ReadinessCheck
	logger      *zap.Logger
}

// Option configures optional routes of a Handler
type Option func(*Handler)

// WithOrderLister enables GET /customers/:id/orders
func WithOrderLister(lister OrderLister) Option {
	return func(h *Handler) { h.lister = lister }
}

// WithSettlementPublisher enables POST /payments/settlements
func WithSettlementPublisher(publisher SettlementPublisher) Option {
	return func(h *Handler) { h.settlements = publisher }
}

// WithRuleAdmin enables PUT /discount-rules/:code
func WithRuleAdmin(rules RuleWriter, cache RuleInvalidator) Option {
	return func(h *Handler) {
		h.rules = rules
		h.ruleCache = cache
	}
}

// WithReadinessCheck adds a dependency to /ready
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout Checkout, orders Orders, opts ...Option) *Handler {
	h := &Handler{
		checkout: checkout,
		orders:   orders,
		checks:   map[string]ReadinessCheck{},
		logger:   util.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders/quote", h.quoteOrder)
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		if h.lister != nil {
			v1.GET("/customers/:id/orders", h.listCustomerOrders)
		}
		if h.settlements != nil {
			v1.POST("/payments/settlements", h.paymentSettled)
		}
		if h.rules != nil {
			v1.PUT("/discount-rules/:code", h.putDiscountRule)
		}
	}
}

// orderResponse adds the derived totals to an order
type orderResponse struct {
	*models.Order
	SubTotal    decimal.Decimal `json:"sub_total"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func newOrderResponse(order *models.Order) orderResponse {
	return orderResponse{
		Order:       order,
		SubTotal:    order.SubTotal(),
		TotalAmount: order.TotalAmount(),
	}
}

// writeError maps classified errors to their status; anything else is a 500
// whose cause is logged but not returned.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  apperror.KindOf(err),
	})
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func bindOrderRequest(c *gin.Context) (*service.CreateOrderRequest, bool) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return nil, false
	}
	return &req, true
}

// quoteOrder prices an order without placing it
func (h *Handler) quoteOrder(c *gin.Context) {
	req, ok := bindOrderRequest(c)
	if !ok {
		return
	}

	order, err := h.checkout.Quote(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newOrderResponse(order))
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	req, ok := bindOrderRequest(c)
	if !ok {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.checkout.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newOrderResponse(order))
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) cancelOrder(c *gin.Context) {
	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) listCustomerOrders(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	orders, err := h.lister.ListByCustomer(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, order := range orders {
		resp[i] = newOrderResponse(order)
	}
	c.JSON(http.StatusOK, gin.H{"orders": resp})
}

type settlementRequest struct {
	OrderID       string `json:"order_id" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"`
}

// paymentSettled queues a provider settlement callback for the worker
func (h *Handler) paymentSettled(c *gin.Context) {
	var req settlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.settlements.PublishPaymentSettled(c.Request.Context(), req.OrderID, req.TransactionID); err != nil {
		h.writeError(c, apperror.Unavailable("failed to queue settlement", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type discountRuleRequest struct {
	Kind               models.DiscountKind `json:"kind" binding:"required,oneof=PERCENTAGE FIXED_AMOUNT"`
	Value              decimal.Decimal     `json:"value"`
	ActiveFrom         time.Time           `json:"active_from" binding:"required"`
	ActiveTo           time.Time           `json:"active_to" binding:"required"`
	MinimumOrderAmount decimal.Decimal     `json:"minimum_order_amount"`
	IsActive           *bool               `json:"is_active"`
}

func (h *Handler) putDiscountRule(c *gin.Context) {
	var req discountRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.Value.IsNegative() || req.MinimumOrderAmount.IsNegative() {
		h.writeError(c, apperror.InvalidArgument("value and minimum_order_amount must not be negative"))
		return
	}
	if req.ActiveTo.Before(req.ActiveFrom) {
		h.writeError(c, apperror.InvalidArgument("active_to must not be before active_from"))
		return
	}

	rule := &models.DiscountRule{
		Code:               c.Param("code"),
		Kind:               req.Kind,
		Value:              req.Value,
		ActiveFrom:         req.ActiveFrom,
		ActiveTo:           req.ActiveTo,
		MinimumOrderAmount: req.MinimumOrderAmount,
		IsActive:           req.IsActive == nil || *req.IsActive,
	}

	if err := h.rules.UpsertRule(c.Request.Context(), rule); err != nil {
		h.writeError(c, err)
		return
	}
	if h.ruleCache != nil {
		if err := h.ruleCache.Invalidate(c.Request.Context(), rule.Code); err != nil {
			h.logger.Warn("Failed to invalidate cached discount rule",
				zap.String("code", rule.Code),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, rule)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
