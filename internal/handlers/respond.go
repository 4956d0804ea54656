package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ambercart/api/internal/platform/httpx"
	"github.com/ambercart/api/internal/services"
)

var errBodyTooLarge = errors.New("request body too large")

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// writeServiceError maps service sentinels onto the shared error envelope.
// Unrecognised errors become an opaque 500 so internals never leak.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput),
		errors.Is(err, services.ErrUserInvalidInput),
		errors.Is(err, services.ErrNewsletterInvalidInput),
		errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderWebhookInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "webhook verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound),
		errors.Is(err, services.ErrCouponExpired),
		errors.Is(err, services.ErrCouponNotApplicable),
		errors.Is(err, services.ErrCouponMinOrder):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_exhausted", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInventoryProductNotFound),
		errors.Is(err, services.ErrInventoryVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInventoryInsufficientStock),
		errors.Is(err, services.ErrInventoryNotConfigurable):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "operation not permitted", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotCancellable),
		errors.Is(err, services.ErrOrderNotRefundable),
		errors.Is(err, services.ErrOrderPaymentNotPending),
		errors.Is(err, services.ErrOrderPaymentUnsupported):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", "payment provider rejected the request", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrCouponUnavailable),
		errors.Is(err, services.ErrInventoryUnavailable),
		errors.Is(err, services.ErrUserUnavailable),
		errors.Is(err, services.ErrNewsletterUnavailable),
		errors.Is(err, services.ErrSystemUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}
