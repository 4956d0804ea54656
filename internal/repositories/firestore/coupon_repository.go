package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/ambercart/api/internal/domain"
	pfirestore "github.com/ambercart/api/internal/platform/firestore"
	"github.com/ambercart/api/internal/repositories"
)

const (
	couponCollection  = "coupons"
	welcomeCodePrefix = "WELCOME-"
)

// CouponRepository persists coupons in Firestore. Usage increments run inside
// a transaction so the cap holds under concurrent redemptions.
type CouponRepository struct {
	base     *pfirestore.BaseRepository[couponDocument]
	provider *pfirestore.Provider
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil, nil)
	return &CouponRepository{
		base:     base,
		provider: provider,
	}, nil
}

type couponDocument struct {
	Code            string     `firestore:"code"`
	DiscountPercent float64    `firestore:"discountPercent"`
	UserEmail       *string    `firestore:"userEmail,omitempty"`
	MaxUses         int        `firestore:"maxUses"`
	UsesCount       int        `firestore:"usesCount"`
	Used            bool       `firestore:"used"`
	ExpiresAt       *time.Time `firestore:"expiresAt,omitempty"`
	MinOrderAmount  *float64   `firestore:"minOrderAmount,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

// encodeCoupon is the single storage mapping for coupons.
func encodeCoupon(coupon domain.Coupon) couponDocument {
	doc := couponDocument{
		Code:            strings.ToUpper(strings.TrimSpace(coupon.Code)),
		DiscountPercent: coupon.DiscountPercent,
		MaxUses:         coupon.MaxUses,
		UsesCount:       coupon.UsesCount,
		Used:            coupon.Used,
		ExpiresAt:       coupon.ExpiresAt,
		MinOrderAmount:  coupon.MinOrderAmount,
		CreatedAt:       coupon.CreatedAt.UTC(),
		UpdatedAt:       coupon.UpdatedAt.UTC(),
	}
	if coupon.UserEmail != nil {
		email := strings.ToLower(strings.TrimSpace(*coupon.UserEmail))
		doc.UserEmail = &email
	}
	return doc
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:              id,
		Code:            d.Code,
		DiscountPercent: d.DiscountPercent,
		UserEmail:       d.UserEmail,
		MaxUses:         d.MaxUses,
		UsesCount:       d.UsesCount,
		Used:            d.Used,
		ExpiresAt:       d.ExpiresAt,
		MinOrderAmount:  d.MinOrderAmount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// Insert creates the coupon, enforcing code uniqueness inside a transaction.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	if strings.TrimSpace(coupon.ID) == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	code := strings.ToUpper(strings.TrimSpace(coupon.Code))
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(couponCollection).Doc(coupon.ID)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		iter := tx.Documents(client.Collection(couponCollection).Where("code", "==", code).Limit(1))
		defer iter.Stop()
		if _, iterErr := iter.Next(); iterErr == nil {
			return repositories.NewCouponError(repositories.CouponErrorDuplicateCode, "coupon code already exists: "+code, nil)
		} else if !errors.Is(iterErr, iterator.Done) {
			return iterErr
		}
		return tx.Create(ref, encodeCoupon(coupon))
	})
	return wrapCouponError("coupons.insert", err)
}

// FindByCode looks up a coupon by its uppercased code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon not found: "+normalized, nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// IncrementUsage bumps usesCount transactionally. At the cap it marks the
// coupon used without incrementing and reports CouponErrorExhausted.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}

	existing, err := r.FindByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Coupon{}, err
	}
	ref := client.Collection(couponCollection).Doc(existing.ID)

	var updated domain.Coupon
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, txErr := tx.Get(ref)
		if txErr != nil {
			return txErr
		}
		var doc couponDocument
		if txErr := snap.DataTo(&doc); txErr != nil {
			return txErr
		}

		current := doc.toDomain(snap.Ref.ID)
		next, usageErr := repositories.NextCouponUsage(current, now)
		if usageErr != nil {
			if next.Used != current.Used {
				if txErr := tx.Update(ref, []firestore.Update{
					{Path: "used", Value: next.Used},
					{Path: "updatedAt", Value: next.UpdatedAt},
				}); txErr != nil {
					return txErr
				}
			}
			return usageErr
		}

		if txErr := tx.Update(ref, []firestore.Update{
			{Path: "usesCount", Value: next.UsesCount},
			{Path: "used", Value: next.Used},
			{Path: "updatedAt", Value: next.UpdatedAt},
		}); txErr != nil {
			return txErr
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Coupon{}, wrapCouponError("coupons.incrementUsage", err)
	}
	return updated, nil
}

// FindWelcomeByEmail returns the welcome coupon bound to the email, if any.
func (r *CouponRepository) FindWelcomeByEmail(ctx context.Context, email string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return domain.Coupon{}, errors.New("coupon repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userEmail", "==", normalized).
			Where("code", ">=", welcomeCodePrefix).
			Where("code", "<", welcomeCodePrefix+"\uf8ff").
			Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "no welcome coupon for "+normalized, nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func wrapCouponError(op string, err error) error {
	if err == nil {
		return nil
	}
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		if couponErr.Op == "" {
			couponErr.Op = op
		}
		return couponErr
	}
	return pfirestore.WrapError(op, err)
}
