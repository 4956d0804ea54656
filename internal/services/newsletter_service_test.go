package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/ambercart/api/internal/domain"
)

type stubNewsletterRepository struct {
	upsertFn func(ctx context.Context, subscriber domain.NewsletterSubscriber) (bool, error)
}

func (s *stubNewsletterRepository) Upsert(ctx context.Context, subscriber domain.NewsletterSubscriber) (bool, error) {
	return s.upsertFn(ctx, subscriber)
}

type stubCouponService struct {
	createFn  func(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	welcomeFn func(ctx context.Context, email string) (CouponValidation, error)
}

func (s *stubCouponService) ValidateCode(context.Context, ValidateCouponCommand) (CouponValidation, error) {
	return CouponValidation{}, errors.New("not implemented")
}

func (s *stubCouponService) RedeemCode(context.Context, string) (Coupon, error) {
	return Coupon{}, errors.New("not implemented")
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubCouponService) WelcomeCouponFor(ctx context.Context, email string) (CouponValidation, error) {
	if s.welcomeFn != nil {
		return s.welcomeFn(ctx, email)
	}
	return CouponValidation{}, errors.New("not implemented")
}

type recordingNotifications struct {
	NotificationService
	welcomeCalls int
	lastCoupon   Coupon
}

func (r *recordingNotifications) SendWelcomeCoupon(_ context.Context, _ NewsletterSubscriber, coupon Coupon) error {
	r.welcomeCalls++
	r.lastCoupon = coupon
	return nil
}

func TestSubscribeIssuesWelcomeCouponForNewEmail(t *testing.T) {
	repo := &stubNewsletterRepository{
		upsertFn: func(_ context.Context, subscriber domain.NewsletterSubscriber) (bool, error) {
			if subscriber.Email != "new@example.com" {
				t.Fatalf("expected normalised email, got %s", subscriber.Email)
			}
			return true, nil
		},
	}
	var issued *CreateCouponCommand
	coupons := &stubCouponService{
		createFn: func(_ context.Context, cmd CreateCouponCommand) (Coupon, error) {
			issued = &cmd
			return Coupon{Code: "WELCOME-ABC123", DiscountPercent: cmd.DiscountPercent}, nil
		},
	}
	notifications := &recordingNotifications{}

	svc, err := NewNewsletterService(NewsletterServiceDeps{
		Subscribers:   repo,
		Coupons:       coupons,
		Notifications: notifications,
		Clock: func() time.Time {
			return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewNewsletterService returned error: %v", err)
	}

	_, created, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: " NEW@example.com "})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if !created {
		t.Fatal("expected new subscription")
	}
	if issued == nil {
		t.Fatal("expected welcome coupon to be created")
	}
	if issued.Prefix != "WELCOME" || issued.MaxUses != 1 || issued.UserEmail == nil || *issued.UserEmail != "new@example.com" {
		t.Fatalf("unexpected coupon command: %+v", issued)
	}
	if notifications.welcomeCalls != 1 {
		t.Fatalf("expected 1 welcome email, got %d", notifications.welcomeCalls)
	}
}

func TestWelcomeCouponDelegatesWithNormalisedEmail(t *testing.T) {
	repo := &stubNewsletterRepository{}
	coupons := &stubCouponService{
		welcomeFn: func(_ context.Context, email string) (CouponValidation, error) {
			if email != "grace@example.com" {
				t.Fatalf("expected normalised email, got %s", email)
			}
			return CouponValidation{Valid: true, Code: "WELCOME-ABC123", DiscountRate: 10}, nil
		},
	}

	svc, err := NewNewsletterService(NewsletterServiceDeps{Subscribers: repo, Coupons: coupons})
	if err != nil {
		t.Fatalf("NewNewsletterService returned error: %v", err)
	}

	validation, err := svc.WelcomeCoupon(context.Background(), " Grace@Example.COM ")
	if err != nil {
		t.Fatalf("WelcomeCoupon returned error: %v", err)
	}
	if !validation.Valid || validation.Code != "WELCOME-ABC123" {
		t.Fatalf("unexpected validation: %+v", validation)
	}
}

func TestWelcomeCouponRejectsInvalidEmail(t *testing.T) {
	svc, err := NewNewsletterService(NewsletterServiceDeps{
		Subscribers: &stubNewsletterRepository{},
		Coupons:     &stubCouponService{},
	})
	if err != nil {
		t.Fatalf("NewNewsletterService returned error: %v", err)
	}

	if _, err := svc.WelcomeCoupon(context.Background(), "not-an-email"); !errors.Is(err, ErrNewsletterInvalidInput) {
		t.Fatalf("expected ErrNewsletterInvalidInput, got %v", err)
	}
}

func TestSubscribeRepeatEmailSkipsCoupon(t *testing.T) {
	repo := &stubNewsletterRepository{
		upsertFn: func(context.Context, domain.NewsletterSubscriber) (bool, error) {
			return false, nil
		},
	}
	coupons := &stubCouponService{
		createFn: func(context.Context, CreateCouponCommand) (Coupon, error) {
			t.Fatal("coupon should not be created for a repeat subscribe")
			return Coupon{}, nil
		},
	}

	svc, err := NewNewsletterService(NewsletterServiceDeps{Subscribers: repo, Coupons: coupons})
	if err != nil {
		t.Fatalf("NewNewsletterService returned error: %v", err)
	}

	_, created, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: "repeat@example.com"})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if created {
		t.Fatal("expected repeat subscription")
	}
}

func TestSubscribeSurvivesCouponFailure(t *testing.T) {
	repo := &stubNewsletterRepository{
		upsertFn: func(context.Context, domain.NewsletterSubscriber) (bool, error) {
			return true, nil
		},
	}
	coupons := &stubCouponService{
		createFn: func(context.Context, CreateCouponCommand) (Coupon, error) {
			return Coupon{}, ErrCouponUnavailable
		},
	}

	svc, err := NewNewsletterService(NewsletterServiceDeps{Subscribers: repo, Coupons: coupons})
	if err != nil {
		t.Fatalf("NewNewsletterService returned error: %v", err)
	}

	_, created, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: "lucky@example.com"})
	if err != nil {
		t.Fatalf("coupon failure must not fail the subscribe: %v", err)
	}
	if !created {
		t.Fatal("expected new subscription")
	}
}

func TestSubscribeRejectsInvalidEmail(t *testing.T) {
	svc, err := NewNewsletterService(NewsletterServiceDeps{Subscribers: &stubNewsletterRepository{}})
	if err != nil {
		t.Fatalf("NewNewsletterService returned error: %v", err)
	}

	if _, _, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: "not-an-email"}); !errors.Is(err, ErrNewsletterInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, _, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: "  "}); !errors.Is(err, ErrNewsletterInvalidInput) {
		t.Fatalf("expected invalid input for blank email, got %v", err)
	}
}
