package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerTier classifies customers for shipping and discount eligibility
type CustomerTier string

const (
	TierRegular  CustomerTier = "REGULAR"
	TierVIP      CustomerTier = "VIP"
	TierPlatinum CustomerTier = "PLATINUM"
	TierDiamond  CustomerTier = "DIAMOND"
)

func (t CustomerTier) IsValid() bool {
	switch t {
	case TierRegular, TierVIP, TierPlatinum, TierDiamond:
		return true
	default:
		return false
	}
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

// PaymentMethod identifies how the customer pays
type PaymentMethod string

const (
	PaymentCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentDebitCard    PaymentMethod = "DEBIT_CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentEWallet      PaymentMethod = "E_WALLET"
)

func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentCreditCard, PaymentDebitCard, PaymentBankTransfer, PaymentEWallet:
		return true
	default:
		return false
	}
}

// Repository errors
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrVersionConflict   = errors.New("order version conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// OrderItem represents a line of an order
type OrderItem struct {
	ProductID   string          `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity    int             `db:"quantity" json:"quantity"`
}

// TotalPrice is UnitPrice × Quantity
func (i OrderItem) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order represents a customer order
type Order struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id"`
	CustomerTier   CustomerTier    `json:"customer_tier"`
	Items          []OrderItem     `json:"items"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	Status         OrderStatus     `json:"status"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SubTotal is the sum of all line totals before discount and shipping
func (o *Order) SubTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice())
	}
	return total
}

// TotalAmount is the amount charged to the customer
func (o *Order) TotalAmount() decimal.Decimal {
	return o.SubTotal().Sub(o.DiscountAmount).Add(o.ShippingFee)
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	cloned := *o
	cloned.Items = append([]OrderItem(nil), o.Items...)
	return &cloned
}

// DiscountKind is how a discount rule value is interpreted
type DiscountKind string

const (
	DiscountPercentage  DiscountKind = "PERCENTAGE"
	DiscountFixedAmount DiscountKind = "FIXED_AMOUNT"
)

// DiscountRule is the stored definition of a discount code
type DiscountRule struct {
	Code               string          `db:"code" json:"code"`
	Kind               DiscountKind    `db:"kind" json:"kind"`
	Value              decimal.Decimal `db:"value" json:"value"`
	ActiveFrom         time.Time       `db:"active_from" json:"active_from"`
	ActiveTo           time.Time       `db:"active_to" json:"active_to"`
	MinimumOrderAmount decimal.Decimal `db:"minimum_order_amount" json:"minimum_order_amount"`
	IsActive           bool            `db:"is_active" json:"is_active"`
}

// ActiveAt reports whether the rule is enabled and inside its window at t
func (r *DiscountRule) ActiveAt(t time.Time) bool {
	if !r.IsActive {
		return false
	}
	return !t.Before(r.ActiveFrom) && !t.After(r.ActiveTo)
}

// PaymentResult is the outcome reported by the payment gateway
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Inventory represents product stock
type Inventory struct {
	ProductID string    `db:"product_id" json:"product_id"`
	Available int       `db:"available" json:"available"`
	Reserved  int       `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Payment represents a payment transaction
type Payment struct {
	ID            int64           `db:"id" json:"id"`
	ProviderTxID  string          `db:"provider_tx_id" json:"provider_tx_id"`
	Method        string          `db:"method" json:"method"`
	Status        string          `db:"status" json:"status"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	FailureReason string          `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Payment statuses
const (
	PaymentStatusSuccess  = "SUCCESS"
	PaymentStatusFailed   = "FAILED"
	PaymentStatusRefunded = "REFUNDED"
)
