package repositories

import (
	"time"

	domain "github.com/ambercart/api/internal/domain"
)

// NextCouponUsage computes the coupon state after consuming one use. At the
// cap it does not increment: it only backfills the used flag and reports
// CouponErrorExhausted, so a redeem of the last use is idempotent. Storage
// implementations apply the returned state inside their own transaction.
func NextCouponUsage(coupon domain.Coupon, now time.Time) (domain.Coupon, error) {
	if coupon.MaxUses > 0 && coupon.UsesCount >= coupon.MaxUses {
		exhausted := coupon
		if !exhausted.Used {
			exhausted.Used = true
			exhausted.UpdatedAt = now.UTC()
		}
		return exhausted, NewCouponError(CouponErrorExhausted, "coupon already used: "+coupon.Code, nil)
	}

	next := coupon
	next.UsesCount++
	next.Used = next.MaxUses > 0 && next.UsesCount >= next.MaxUses
	next.UpdatedAt = now.UTC()
	return next, nil
}
