package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ambercart/api/internal/payments"
	"github.com/ambercart/api/internal/platform/config"
	"github.com/ambercart/api/internal/repositories"
	"github.com/ambercart/api/internal/services"
)

// Services bundles the service-layer contracts handlers rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Orders        services.OrderService
	Coupons       services.CouponService
	Inventory     services.InventoryService
	Users         services.UserService
	Newsletter    services.NewsletterService
	Notifications services.NotificationService
	System        services.SystemService
}

// Deps carries the externally constructed dependencies the container cannot
// build itself: the payment provider, the event publisher, and the mail
// transport. Events and Mailer are optional.
type Deps struct {
	Payments payments.Provider
	Events   services.OrderEventPublisher
	Mailer   services.Mailer
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Clock    func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependency graph. Everything is passed
// explicitly; nothing is resolved through package-level state.
func NewContainer(cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	svc, err := buildServices(cfg, reg, deps, clock)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients and other held resources.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, deps Deps, clock func() time.Time) (Services, error) {
	var svc Services

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   clock,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:  reg.Users(),
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	if deps.Mailer != nil {
		notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
			Mailer:        deps.Mailer,
			StoreName:     cfg.Mail.StoreName,
			StorefrontURL: cfg.Mail.StorefrontURL,
			Logger:        deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		svc.Notifications = notificationSvc
	}

	newsletterSvc, err := services.NewNewsletterService(services.NewsletterServiceDeps{
		Subscribers:   reg.Newsletter(),
		Coupons:       couponSvc,
		Notifications: svc.Notifications,
		Clock:         clock,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build newsletter service: %w", err)
	}
	svc.Newsletter = newsletterSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Pricing:       services.NewPricingCalculator(),
		Coupons:       couponSvc,
		Inventory:     inventorySvc,
		Users:         userSvc,
		Newsletter:    newsletterSvc,
		Notifications: svc.Notifications,
		Payments:      deps.Payments,
		Events:        deps.Events,
		Clock:         clock,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			Health: healthRepo,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
