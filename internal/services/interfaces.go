package services

import (
	"context"
	"time"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	PaymentStatus        = domain.PaymentStatus
	Address              = domain.Address
	Coupon               = domain.Coupon
	CouponValidation     = domain.CouponValidation
	Product              = domain.Product
	User                 = domain.User
	UserMetrics          = domain.UserMetrics
	NewsletterSubscriber = domain.NewsletterSubscriber
	OrderAnalytics       = domain.OrderAnalytics
	SystemHealthReport   = domain.SystemHealthReport
)

// OrderItemInput is a checkout line item as submitted by the storefront.
// Prices arrive from the client and are persisted as the order snapshot.
type OrderItemInput struct {
	ProductID string   `json:"productId"`
	VariantID *string  `json:"variantId,omitempty"`
	Name      string   `json:"name"`
	SKU       string   `json:"sku"`
	UnitPrice float64  `json:"unitPrice"`
	Quantity  int      `json:"quantity"`
	Discount  *float64 `json:"discount,omitempty"`
}

// CreateOrderCommand carries everything needed to run the checkout pipeline.
// UserID and UserEmail come from the gateway identity headers and are empty
// for guest checkouts.
type CreateOrderCommand struct {
	UserID              string
	UserEmail           string
	Items               []OrderItemInput
	ShippingAddress     Address
	BillingAddress      *Address
	PaymentMethod       string
	Currency            string
	CouponCode          *string
	Tax                 float64
	ShippingFee         float64
	Notes               *string
	SubscribeNewsletter bool
}

// InitiatePaymentCommand starts a hosted checkout session for a pending order.
type InitiatePaymentCommand struct {
	OrderID    string
	UserID     string
	IsAdmin    bool
	SuccessURL string
	CancelURL  string
}

// PaymentSession is the client-facing result of initiating payment.
type PaymentSession struct {
	SessionID   string    `json:"sessionId"`
	RedirectURL string    `json:"redirectUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// PaymentWebhookCommand carries the raw PSP event for verification.
type PaymentWebhookCommand struct {
	Payload   []byte
	Signature string
}

// WebhookReceipt reports what a processed webhook did.
type WebhookReceipt struct {
	EventType string `json:"eventType"`
	OrderID   string `json:"orderId,omitempty"`
	Handled   bool   `json:"handled"`
}

// CancelOrderCommand cancels a pending order on behalf of its owner or an admin.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	IsAdmin bool
	Reason  *string
}

// RefundOrderCommand triggers a PSP refund for the unrefunded remainder.
type RefundOrderCommand struct {
	OrderID string
	Amount  *float64
	Reason  *string
}

// UpdateOrderCommand applies admin fulfillment changes.
type UpdateOrderCommand struct {
	OrderID           string
	FulfillmentStatus *string
	Notes             *string
}

// OrderReadOptions scopes single-order reads to the caller.
type OrderReadOptions struct {
	UserID         string
	IsAdmin        bool
	IncludeDeleted bool
}

// OrderQuery is the admin listing filter surfaced over the repository filter.
type OrderQuery struct {
	UserID            string
	Status            *string
	PaymentStatus     *string
	OrderNumberSearch string
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
	MinTotal          *float64
	MaxTotal          *float64
	IncludeDeleted    bool
	Page              int
	Limit             int
	SortField         string
	SortDesc          bool
}

// OrderService orchestrates the checkout pipeline and order lifecycle transitions.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentSession, error)
	HandlePaymentWebhook(ctx context.Context, cmd PaymentWebhookCommand) (WebhookReceipt, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string, opts OrderReadOptions) (Order, error)
	ListUserOrders(ctx context.Context, userID string, page, limit int) (domain.PagedResult[Order], error)
	QueryOrders(ctx context.Context, query OrderQuery) (domain.PagedResult[Order], error)
	Analytics(ctx context.Context) (OrderAnalytics, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	RefundOrder(ctx context.Context, cmd RefundOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
}

// ValidateCouponCommand checks a code against a purchase context.
type ValidateCouponCommand struct {
	Code        string
	UserEmail   string
	TotalAmount float64
}

// CreateCouponCommand mints a new coupon with a generated code.
type CreateCouponCommand struct {
	Prefix          string
	DiscountPercent float64
	UserEmail       *string
	MaxUses         int
	ExpiresAt       *time.Time
	MinOrderAmount  *float64
}

// CouponService validates and redeems discount codes.
type CouponService interface {
	ValidateCode(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error)
	RedeemCode(ctx context.Context, code string) (Coupon, error)
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	WelcomeCouponFor(ctx context.Context, email string) (CouponValidation, error)
}

// StockLine is one product/variant quantity to check or reserve.
type StockLine struct {
	ProductID string
	VariantID *string
	SKU       string
	Quantity  int
}

// InventoryService guards stock levels around order persistence.
type InventoryService interface {
	CheckAvailability(ctx context.Context, lines []StockLine) error
	ReserveItems(ctx context.Context, lines []StockLine) error
}

// CreateGuestCommand synthesizes an account for an unauthenticated checkout.
type CreateGuestCommand struct {
	Email     string
	FirstName string
	LastName  string
	Phone     *string
}

// UserService resolves and maintains the accounts behind orders.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (User, error)
	ResolveOrCreateGuest(ctx context.Context, cmd CreateGuestCommand) (User, error)
	RecordPurchase(ctx context.Context, userID string, amount float64) (UserMetrics, error)
}

// SubscribeCommand adds an address to the marketing list.
type SubscribeCommand struct {
	Email     string
	FirstName *string
	LastName  *string
}

// NewsletterService manages marketing list membership and welcome rewards.
type NewsletterService interface {
	Subscribe(ctx context.Context, cmd SubscribeCommand) (NewsletterSubscriber, bool, error)
	WelcomeCoupon(ctx context.Context, email string) (CouponValidation, error)
}

// Mailer delivers rendered email messages.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MailMessage is a rendered outbound email.
type MailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// NotificationService renders and sends transactional emails. Failures are
// surfaced as errors but callers treat delivery as best effort.
type NotificationService interface {
	SendOrderConfirmation(ctx context.Context, order Order, recipient string) error
	SendPaymentReceived(ctx context.Context, order Order, recipient string) error
	SendOrderCancelled(ctx context.Context, order Order, recipient string) error
	SendOrderShipped(ctx context.Context, order Order, recipient string) error
	SendOrderDelivered(ctx context.Context, order Order, recipient string) error
	SendRefundIssued(ctx context.Context, order Order, recipient string, amount float64) error
	SendWelcomeCoupon(ctx context.Context, subscriber NewsletterSubscriber, coupon Coupon) error
}

// SystemService surfaces dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventMessage is the lifecycle event published after order transitions.
type OrderEventMessage struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Order lifecycle event types.
const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderRefunded      = "order.refunded"
	EventOrderShipped       = "order.shipped"
	EventOrderDelivered     = "order.delivered"
)

// OrderEventPublisher pushes lifecycle events to the message broker.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// toRepositoryFilter converts the service query into the repository filter.
func (q OrderQuery) toRepositoryFilter() repositories.OrderListFilter {
	filter := repositories.OrderListFilter{
		UserID:            q.UserID,
		OrderNumberSearch: q.OrderNumberSearch,
		CreatedFrom:       q.CreatedFrom,
		CreatedTo:         q.CreatedTo,
		MinTotal:          q.MinTotal,
		MaxTotal:          q.MaxTotal,
		IncludeDeleted:    q.IncludeDeleted,
		Page:              q.Page,
		Limit:             q.Limit,
		SortField:         q.SortField,
		SortDesc:          q.SortDesc,
	}
	if q.Status != nil {
		status := domain.OrderStatus(*q.Status)
		filter.Status = &status
	}
	if q.PaymentStatus != nil {
		status := domain.PaymentStatus(*q.PaymentStatus)
		filter.PaymentStatus = &status
	}
	return filter
}
