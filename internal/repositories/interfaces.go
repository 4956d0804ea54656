package repositories

import (
	"context"
	"time"

	domain "github.com/ambercart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Coupons() CouponRepository
	Products() ProductRepository
	Users() UserRepository
	Newsletter() NewsletterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderListFilter narrows and paginates order queries. Soft-deleted orders are
// excluded unless IncludeDeleted is set.
type OrderListFilter struct {
	UserID            string
	Status            *domain.OrderStatus
	PaymentStatus     *domain.PaymentStatus
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

// OrderRepository persists order aggregates. One document↔domain mapping lives
// in the implementation; no other code touches raw order documents.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// UpdatePayment applies targeted dotted-field updates under payment.* plus updatedAt.
	UpdatePayment(ctx context.Context, orderID string, fields map[string]any, updatedAt time.Time) error
	FindByID(ctx context.Context, orderID string, includeDeleted bool) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.PagedResult[domain.Order], error)
	SoftDelete(ctx context.Context, orderID string, deletedAt time.Time) error
	Analytics(ctx context.Context, now time.Time) (domain.OrderAnalytics, error)
}

// CouponRepository persists coupons and enforces the usage cap transactionally.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// IncrementUsage bumps usesCount inside a transaction. At the cap it marks
	// the coupon used without incrementing and returns a CouponError with code
	// CouponErrorExhausted.
	IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
	FindWelcomeByEmail(ctx context.Context, email string) (domain.Coupon, error)
}

// ProductRepository exposes the catalog slice the order pipeline needs: stock
// reads and the atomic conditional decrement.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// DecrementStock atomically lowers the product or variant stock counter,
	// failing with StockErrorInsufficient when stockQuantity < quantity.
	DecrementStock(ctx context.Context, productID string, variantID *string, quantity int) error
}

// UserRepository persists account profiles and purchase metrics.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	// ApplyOrderMetrics folds a completed order amount into the user's
	// cumulative metrics inside a transaction.
	ApplyOrderMetrics(ctx context.Context, userID string, amount float64, updatedAt time.Time) (domain.UserMetrics, error)
}

// NewsletterRepository stores marketing subscribers keyed by email.
type NewsletterRepository interface {
	// Upsert stores the subscriber and reports whether the email was new.
	Upsert(ctx context.Context, subscriber domain.NewsletterSubscriber) (bool, error)
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
