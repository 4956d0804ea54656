package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/ambercart/api/internal/platform/firestore"
	"github.com/ambercart/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider   *pfirestore.Provider
	orders     *OrderRepository
	coupons    *CouponRepository
	products   *ProductRepository
	users      *UserRepository
	newsletter *NewsletterRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	newsletter, err := NewNewsletterRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				_, probeErr := provider.Client(ctx)
				return probeErr
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:   provider,
		orders:     orders,
		coupons:    coupons,
		products:   products,
		users:      users,
		newsletter: newsletter,
		health:     health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Coupons returns the coupon repository.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Newsletter returns the newsletter repository.
func (r *Registry) Newsletter() repositories.NewsletterRepository { return r.newsletter }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }
