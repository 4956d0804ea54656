package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/repositories"
)

const (
	welcomeCouponPrefix   = "WELCOME"
	welcomeCouponDiscount = 10.0
	welcomeCouponValidity = 30 * 24 * time.Hour
)

var (
	// ErrNewsletterInvalidInput indicates the caller supplied an invalid subscription.
	ErrNewsletterInvalidInput = errors.New("newsletter: invalid input")
	// ErrNewsletterUnavailable indicates newsletter dependencies are currently unavailable.
	ErrNewsletterUnavailable = errors.New("newsletter: unavailable")
)

// NewsletterServiceDeps wires the dependencies required by the newsletter service.
type NewsletterServiceDeps struct {
	Subscribers   repositories.NewsletterRepository
	Coupons       CouponService
	Notifications NotificationService
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type newsletterService struct {
	subscribers   repositories.NewsletterRepository
	coupons       CouponService
	notifications NotificationService
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewNewsletterService constructs a NewsletterService validating required dependencies.
// Coupons and Notifications are optional; without them a subscribe still succeeds
// but no welcome reward is issued.
func NewNewsletterService(deps NewsletterServiceDeps) (NewsletterService, error) {
	if deps.Subscribers == nil {
		return nil, errors.New("newsletter service: subscriber repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &newsletterService{
		subscribers:   deps.Subscribers,
		coupons:       deps.Coupons,
		notifications: deps.Notifications,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Subscribe adds the email to the marketing list. First-time subscribers get a
// single-use welcome coupon; coupon and email failures are logged, not fatal.
func (s *newsletterService) Subscribe(ctx context.Context, cmd SubscribeCommand) (NewsletterSubscriber, bool, error) {
	if s == nil || s.subscribers == nil {
		return NewsletterSubscriber{}, false, ErrNewsletterUnavailable
	}
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" || !strings.Contains(email, "@") {
		return NewsletterSubscriber{}, false, ErrNewsletterInvalidInput
	}

	subscriber := domain.NewsletterSubscriber{
		Email:        email,
		FirstName:    cmd.FirstName,
		LastName:     cmd.LastName,
		SubscribedAt: s.now(),
	}
	created, err := s.subscribers.Upsert(ctx, subscriber)
	if err != nil {
		return NewsletterSubscriber{}, false, fmt.Errorf("%w: %v", ErrNewsletterUnavailable, err)
	}
	if created {
		s.issueWelcomeCoupon(ctx, subscriber)
	}
	return subscriber, created, nil
}

// WelcomeCoupon returns the validated welcome coupon bound to the email.
func (s *newsletterService) WelcomeCoupon(ctx context.Context, email string) (CouponValidation, error) {
	if s == nil {
		return CouponValidation{}, ErrNewsletterUnavailable
	}
	if s.coupons == nil {
		return CouponValidation{}, ErrNewsletterUnavailable
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return CouponValidation{}, ErrNewsletterInvalidInput
	}
	return s.coupons.WelcomeCouponFor(ctx, normalized)
}

func (s *newsletterService) issueWelcomeCoupon(ctx context.Context, subscriber domain.NewsletterSubscriber) {
	if s.coupons == nil {
		return
	}

	expiresAt := s.now().Add(welcomeCouponValidity)
	email := subscriber.Email
	coupon, err := s.coupons.CreateCoupon(ctx, CreateCouponCommand{
		Prefix:          welcomeCouponPrefix,
		DiscountPercent: welcomeCouponDiscount,
		UserEmail:       &email,
		MaxUses:         1,
		ExpiresAt:       &expiresAt,
	})
	if err != nil {
		s.logger(ctx, "newsletter.welcome_coupon_failed", map[string]any{
			"email": subscriber.Email,
			"error": err.Error(),
		})
		return
	}

	if s.notifications != nil {
		if err := s.notifications.SendWelcomeCoupon(ctx, subscriber, coupon); err != nil {
			s.logger(ctx, "newsletter.welcome_email_failed", map[string]any{
				"email": subscriber.Email,
				"error": err.Error(),
			})
		}
	}
}
