package domain

import (
	"strings"
	"time"
)

// OrderStatus tracks the fulfillment lifecycle of an order, independent of payment.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// ValidOrderStatus reports whether the value is a known fulfillment status.
func ValidOrderStatus(value string) bool {
	switch OrderStatus(strings.ToLower(strings.TrimSpace(value))) {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// PaymentStatus tracks the monetary transaction backing an order.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially-refunded"
)

// ValidPaymentStatus reports whether the value is a known payment status.
func ValidPaymentStatus(value string) bool {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(value))) {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed,
		PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// PaymentMethodCOD marks cash-on-delivery orders, which skip the hosted checkout flow.
const PaymentMethodCOD = "cod"

// Address is a postal address captured at checkout time.
type Address struct {
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Email      string  `json:"email"`
	Phone      *string `json:"phone,omitempty"`
	Street     string  `json:"street"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
}

// OrderItem is a line-item snapshot frozen at order time. Later catalog price
// changes never affect persisted orders.
type OrderItem struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId,omitempty"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
	Discount  float64 `json:"discount"`
	LineTotal float64 `json:"lineTotal"`
}

// PaymentInfo carries the payment state embedded in an order document.
type PaymentInfo struct {
	Method        string        `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID *string       `json:"transactionId,omitempty"`
	ReceiptURL    *string       `json:"receiptUrl,omitempty"`
	PaidAt        *time.Time    `json:"paidAt,omitempty"`
	RefundedAt    *time.Time    `json:"refundedAt,omitempty"`
	RefundAmount  float64       `json:"refundAmount"`
	RefundID      *string       `json:"refundId,omitempty"`
}

// Order is the aggregate root of the checkout pipeline. It is created once by
// the order service and mutated only through its named transitions.
type Order struct {
	ID                string      `json:"id"`
	OrderNumber       string      `json:"orderNumber"`
	UserID            string      `json:"userId"`
	Items             []OrderItem `json:"items"`
	SubTotal          float64     `json:"subTotal"`
	Tax               float64     `json:"tax"`
	Shipping          float64     `json:"shipping"`
	Discount          float64     `json:"discount"`
	DiscountCode      *string     `json:"discountCode,omitempty"`
	GrandTotal        float64     `json:"grandTotal"`
	Currency          string      `json:"currency"`
	ShippingAddress   Address     `json:"shippingAddress"`
	BillingAddress    *Address    `json:"billingAddress,omitempty"`
	Payment           PaymentInfo `json:"payment"`
	FulfillmentStatus OrderStatus `json:"fulfillmentStatus"`
	Notes             *string     `json:"notes,omitempty"`
	IsDeleted         bool        `json:"isDeleted"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	ShippedAt         *time.Time  `json:"shippedAt,omitempty"`
	DeliveredAt       *time.Time  `json:"deliveredAt,omitempty"`
	CancelledAt       *time.Time  `json:"cancelledAt,omitempty"`
}

// BillingOrShipping returns the billing address, falling back to shipping.
func (o Order) BillingOrShipping() Address {
	if o.BillingAddress != nil {
		return *o.BillingAddress
	}
	return o.ShippingAddress
}

// Coupon is a redeemable discount code. usesCount never exceeds maxUses while
// maxUses is non-zero, and never decrements.
type Coupon struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	DiscountPercent float64    `json:"discountPercent"`
	UserEmail       *string    `json:"userEmail,omitempty"`
	MaxUses         int        `json:"maxUses"`
	UsesCount       int        `json:"usesCount"`
	Used            bool       `json:"used"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	MinOrderAmount  *float64   `json:"minOrderAmount,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// CouponValidation is the outcome of validating a code for a given purchase.
type CouponValidation struct {
	Valid        bool    `json:"valid"`
	Code         string  `json:"code"`
	DiscountRate float64 `json:"discountRate"`
}

// ProductVariant is a purchasable variation of a configurable product.
type ProductVariant struct {
	ID            string  `json:"id"`
	SKU           string  `json:"sku"`
	Price         float64 `json:"price"`
	StockQuantity int     `json:"stockQuantity"`
}

// Product is the slice of the catalog the order pipeline reads, plus the stock
// counters it decrements.
type Product struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	SKU            string           `json:"sku"`
	Price          float64          `json:"price"`
	StockQuantity  int              `json:"stockQuantity"`
	IsConfigurable bool             `json:"isConfigurable"`
	Variants       []ProductVariant `json:"variants,omitempty"`
}

// UserStatus gates whether an account may place orders.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusPending  UserStatus = "pending"
	UserStatusBanned   UserStatus = "banned"
	UserStatusInactive UserStatus = "inactive"
	UserStatusDeleted  UserStatus = "deleted"
)

// CanOrder reports whether an account in this status may place orders.
func (s UserStatus) CanOrder() bool {
	switch s {
	case UserStatusDeleted, UserStatusBanned, UserStatusInactive:
		return false
	}
	return true
}

// UserMetrics accumulates purchase totals on the user document.
type UserMetrics struct {
	TotalOrders       int     `json:"totalOrders"`
	TotalSpent        float64 `json:"totalSpent"`
	AverageOrderValue float64 `json:"averageOrderValue"`
	LifetimeValue     float64 `json:"lifetimeValue"`
}

// User is the account slice the order pipeline depends on. PasswordHash is
// never serialised to API responses.
type User struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	FirstName    string      `json:"firstName"`
	LastName     string      `json:"lastName"`
	Phone        *string     `json:"phone,omitempty"`
	Status       UserStatus  `json:"status"`
	IsGuest      bool        `json:"isGuest"`
	PasswordHash string      `json:"-"`
	Metrics      UserMetrics `json:"metrics"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// NewsletterSubscriber is a marketing list entry keyed by email.
type NewsletterSubscriber struct {
	Email        string    `json:"email"`
	FirstName    *string   `json:"firstName,omitempty"`
	LastName     *string   `json:"lastName,omitempty"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

// PagedResult is the offset-paginated envelope returned by admin queries.
type PagedResult[T any] struct {
	Data            []T   `json:"data"`
	TotalCount      int64 `json:"totalCount"`
	FilterCount     int64 `json:"filterCount"`
	Page            int   `json:"page"`
	Limit           int   `json:"limit"`
	TotalPages      int   `json:"totalPages"`
	HasNextPage     bool  `json:"hasNextPage"`
	HasPreviousPage bool  `json:"hasPreviousPage"`
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string                       `json:"status"`
	Checks      map[string]SystemHealthCheck `json:"checks"`
	GeneratedAt time.Time                    `json:"generatedAt"`
}

// OrderAnalytics is the dashboard aggregation over non-deleted orders.
type OrderAnalytics struct {
	TotalOrders          int64   `json:"totalOrders"`
	OrdersToday          int64   `json:"ordersToday"`
	TotalRevenue         float64 `json:"totalRevenue"`
	RevenueThisWeek      float64 `json:"revenueThisWeek"`
	PendingOrders        int64   `json:"pendingOrders"`
	ProcessingOrders     int64   `json:"processingOrders"`
	ShippedOrders        int64   `json:"shippedOrders"`
	AvgOrderValueMonth   float64 `json:"averageOrderValueThisMonth"`
	AvgOrderValueQuarter float64 `json:"averageOrderValueTrailingQuarter"`
}
