package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/services"
)

type stubNewsletterService struct {
	subscribeFn func(ctx context.Context, cmd services.SubscribeCommand) (domain.NewsletterSubscriber, bool, error)
	welcomeFn   func(ctx context.Context, email string) (domain.CouponValidation, error)
}

func (s *stubNewsletterService) Subscribe(ctx context.Context, cmd services.SubscribeCommand) (domain.NewsletterSubscriber, bool, error) {
	return s.subscribeFn(ctx, cmd)
}

func (s *stubNewsletterService) WelcomeCoupon(ctx context.Context, email string) (domain.CouponValidation, error) {
	return s.welcomeFn(ctx, email)
}

func newNewsletterRouter(svc services.NewsletterService) http.Handler {
	handlers := NewNewsletterHandlers(svc)
	return NewRouter(
		WithMiddlewares(IdentityMiddleware()),
		WithNewsletterRoutes(handlers.Routes),
	)
}

func TestSubscribeNewEmailReturnsCreated(t *testing.T) {
	svc := &stubNewsletterService{
		subscribeFn: func(_ context.Context, cmd services.SubscribeCommand) (domain.NewsletterSubscriber, bool, error) {
			if cmd.Email != "grace@example.com" {
				t.Fatalf("email not forwarded: %s", cmd.Email)
			}
			return domain.NewsletterSubscriber{Email: "grace@example.com"}, true, nil
		},
	}
	router := newNewsletterRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletter/subscribe",
		bytes.NewBufferString(`{"email":"grace@example.com","firstName":"Grace"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubscribeExistingEmailReturnsOK(t *testing.T) {
	svc := &stubNewsletterService{
		subscribeFn: func(context.Context, services.SubscribeCommand) (domain.NewsletterSubscriber, bool, error) {
			return domain.NewsletterSubscriber{Email: "grace@example.com"}, false, nil
		},
	}
	router := newNewsletterRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletter/subscribe",
		bytes.NewBufferString(`{"email":"grace@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec.Body)
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data envelope: %v", payload)
	}
	if data["created"] != false {
		t.Fatalf("repeat subscription must report created=false: %v", data)
	}
}

func TestWelcomeCouponRequiresIdentity(t *testing.T) {
	router := newNewsletterRouter(&stubNewsletterService{
		welcomeFn: func(context.Context, string) (domain.CouponValidation, error) {
			t.Fatal("service must not be reached without identity")
			return domain.CouponValidation{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/newsletter/welcome-coupon", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWelcomeCouponReturnsValidation(t *testing.T) {
	router := newNewsletterRouter(&stubNewsletterService{
		welcomeFn: func(_ context.Context, email string) (domain.CouponValidation, error) {
			if email != "grace@example.com" {
				t.Fatalf("identity email not forwarded: %s", email)
			}
			return domain.CouponValidation{Valid: true, Code: "WELCOME-ABC123", DiscountRate: 10}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/newsletter/welcome-coupon", nil)
	req.Header.Set(headerUserID, "usr_1")
	req.Header.Set(headerUserEmail, "grace@example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeEnvelope(t, rec.Body)
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data envelope: %v", payload)
	}
	if data["valid"] != true || data["code"] != "WELCOME-ABC123" {
		t.Fatalf("unexpected validation payload: %v", data)
	}
}

func TestWelcomeCouponExpiredReturns422(t *testing.T) {
	router := newNewsletterRouter(&stubNewsletterService{
		welcomeFn: func(context.Context, string) (domain.CouponValidation, error) {
			return domain.CouponValidation{}, services.ErrCouponExpired
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/newsletter/welcome-coupon", nil)
	req.Header.Set(headerUserID, "usr_1")
	req.Header.Set(headerUserEmail, "grace@example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestSubscribeRejectsInvalidEmail(t *testing.T) {
	svc := &stubNewsletterService{
		subscribeFn: func(context.Context, services.SubscribeCommand) (domain.NewsletterSubscriber, bool, error) {
			return domain.NewsletterSubscriber{}, false, services.ErrNewsletterInvalidInput
		},
	}
	router := newNewsletterRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletter/subscribe",
		bytes.NewBufferString(`{"email":"not-an-email"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
