package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ambercart/api/internal/platform/httpx"
	"github.com/ambercart/api/internal/services"
)

// Stripe webhook payloads are small; anything larger is hostile.
const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives payment provider callbacks.
type WebhookHandlers struct {
	orders services.OrderService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

// stripe verifies the raw payload against the Stripe-Signature header and
// applies the resulting payment transition. Replays and unknown event types
// are acknowledged with 200 so Stripe stops retrying.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "could not read webhook payload", http.StatusBadRequest))
		return
	}

	receipt, err := h.orders.HandlePaymentWebhook(ctx, services.PaymentWebhookCommand{
		Payload:   payload,
		Signature: r.Header.Get("Stripe-Signature"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "webhook processed", receipt)
}
