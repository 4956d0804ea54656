package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/repositories"
)

const (
	couponCodeAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	couponCodeLength     = 6
	couponInsertAttempts = 5
)

var (
	// ErrCouponInvalidInput indicates the caller supplied invalid coupon parameters.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates no coupon exists for the code.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponExpired indicates the coupon expiry has passed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponExhausted indicates the usage cap has been reached.
	ErrCouponExhausted = errors.New("coupon: exhausted")
	// ErrCouponNotApplicable indicates the coupon is bound to a different customer.
	ErrCouponNotApplicable = errors.New("coupon: not applicable")
	// ErrCouponMinOrder indicates the purchase total is below the coupon threshold.
	ErrCouponMinOrder = errors.New("coupon: minimum order amount not met")
	// ErrCouponUnavailable indicates coupon dependencies are currently unavailable.
	ErrCouponUnavailable = errors.New("coupon: unavailable")
)

// CouponServiceDeps wires the dependencies required by the coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	now     func() time.Time
	newID   func() string
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewCouponService constructs a CouponService validating required dependencies.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string {
			return "cpn_" + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		coupons: deps.Coupons,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// ValidateCode checks the code against expiry, binding, usage cap, and minimum
// order rules without consuming a use.
func (s *couponService) ValidateCode(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
	if s == nil || s.coupons == nil {
		return CouponValidation{}, ErrCouponUnavailable
	}
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return CouponValidation{}, ErrCouponInvalidInput
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return CouponValidation{}, s.translateCouponError(err)
	}

	if err := s.checkRedeemable(coupon, cmd.UserEmail, cmd.TotalAmount); err != nil {
		return CouponValidation{}, err
	}

	return CouponValidation{
		Valid:        true,
		Code:         coupon.Code,
		DiscountRate: coupon.DiscountPercent,
	}, nil
}

// RedeemCode consumes one use of the coupon. The repository enforces the cap
// atomically, so concurrent redemptions of the last use cannot both succeed.
func (s *couponService) RedeemCode(ctx context.Context, code string) (Coupon, error) {
	if s == nil || s.coupons == nil {
		return Coupon{}, ErrCouponUnavailable
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return Coupon{}, ErrCouponInvalidInput
	}

	coupon, err := s.coupons.IncrementUsage(ctx, normalized, s.now())
	if err != nil {
		return Coupon{}, s.translateCouponError(err)
	}
	s.logger(ctx, "coupon.redeemed", map[string]any{
		"code":      coupon.Code,
		"usesCount": coupon.UsesCount,
	})
	return coupon, nil
}

// CreateCoupon mints a coupon with a generated code, retrying on the rare
// collision with an existing code.
func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	if s == nil || s.coupons == nil {
		return Coupon{}, ErrCouponUnavailable
	}
	prefix := strings.ToUpper(strings.TrimSpace(cmd.Prefix))
	if prefix == "" {
		return Coupon{}, ErrCouponInvalidInput
	}
	if cmd.DiscountPercent <= 0 || cmd.DiscountPercent > 100 {
		return Coupon{}, ErrCouponInvalidInput
	}
	if cmd.MaxUses < 0 {
		return Coupon{}, ErrCouponInvalidInput
	}

	now := s.now()
	coupon := domain.Coupon{
		DiscountPercent: cmd.DiscountPercent,
		MaxUses:         cmd.MaxUses,
		ExpiresAt:       cmd.ExpiresAt,
		MinOrderAmount:  cmd.MinOrderAmount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if cmd.UserEmail != nil {
		email := strings.ToLower(strings.TrimSpace(*cmd.UserEmail))
		if email == "" {
			return Coupon{}, ErrCouponInvalidInput
		}
		coupon.UserEmail = &email
	}

	var lastErr error
	for attempt := 0; attempt < couponInsertAttempts; attempt++ {
		coupon.ID = s.newID()
		code, err := randomCouponCode(prefix)
		if err != nil {
			return Coupon{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
		}
		coupon.Code = code

		err = s.coupons.Insert(ctx, coupon)
		if err == nil {
			s.logger(ctx, "coupon.created", map[string]any{
				"code":    coupon.Code,
				"maxUses": coupon.MaxUses,
			})
			return coupon, nil
		}

		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) && couponErr.Code == repositories.CouponErrorDuplicateCode {
			lastErr = err
			continue
		}
		return Coupon{}, s.translateCouponError(err)
	}
	return Coupon{}, fmt.Errorf("%w: could not generate unique code: %v", ErrCouponUnavailable, lastErr)
}

// WelcomeCouponFor finds the welcome coupon bound to the email and validates
// it like any other code. A missing coupon is an input error, not a 404.
func (s *couponService) WelcomeCouponFor(ctx context.Context, email string) (CouponValidation, error) {
	if s == nil || s.coupons == nil {
		return CouponValidation{}, ErrCouponUnavailable
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return CouponValidation{}, ErrCouponInvalidInput
	}

	coupon, err := s.coupons.FindWelcomeByEmail(ctx, normalized)
	if err != nil {
		translated := s.translateCouponError(err)
		if errors.Is(translated, ErrCouponNotFound) {
			return CouponValidation{}, fmt.Errorf("%w: no welcome coupon for email", ErrCouponInvalidInput)
		}
		return CouponValidation{}, translated
	}

	// No order total exists at lookup time; the minimum-order rule is
	// enforced again when the code is applied at checkout.
	total := 0.0
	if coupon.MinOrderAmount != nil {
		total = *coupon.MinOrderAmount
	}
	if err := s.checkRedeemable(coupon, normalized, total); err != nil {
		return CouponValidation{}, err
	}

	return CouponValidation{
		Valid:        true,
		Code:         coupon.Code,
		DiscountRate: coupon.DiscountPercent,
	}, nil
}

func (s *couponService) checkRedeemable(coupon domain.Coupon, userEmail string, totalAmount float64) error {
	now := s.now()
	if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(now) {
		return ErrCouponExpired
	}
	if coupon.Used {
		return ErrCouponExhausted
	}
	if coupon.MaxUses > 0 && coupon.UsesCount >= coupon.MaxUses {
		return ErrCouponExhausted
	}
	if coupon.UserEmail != nil {
		email := strings.ToLower(strings.TrimSpace(userEmail))
		if email == "" || email != *coupon.UserEmail {
			return ErrCouponNotApplicable
		}
	}
	if coupon.MinOrderAmount != nil && totalAmount < *coupon.MinOrderAmount {
		return ErrCouponMinOrder
	}
	return nil
}

func (s *couponService) translateCouponError(err error) error {
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		switch couponErr.Code {
		case repositories.CouponErrorNotFound:
			return ErrCouponNotFound
		case repositories.CouponErrorExhausted:
			return ErrCouponExhausted
		case repositories.CouponErrorDuplicateCode:
			return ErrCouponInvalidInput
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrCouponNotFound
		}
	}
	return fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
}

func randomCouponCode(prefix string) (string, error) {
	buf := make([]byte, couponCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte('-')
	for _, b := range buf {
		sb.WriteByte(couponCodeAlphabet[int(b)%len(couponCodeAlphabet)])
	}
	return sb.String(), nil
}
