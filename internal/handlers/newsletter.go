package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ambercart/api/internal/platform/httpx"
	"github.com/ambercart/api/internal/platform/requestctx"
	"github.com/ambercart/api/internal/services"
)

const maxNewsletterBodySize = 4 * 1024

type subscribeRequest struct {
	Email     string  `json:"email"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

type subscribeResponse struct {
	Email      string `json:"email"`
	Subscribed bool   `json:"subscribed"`
	Created    bool   `json:"created"`
}

// NewsletterHandlers exposes the marketing list endpoints.
type NewsletterHandlers struct {
	newsletter services.NewsletterService
}

// NewNewsletterHandlers constructs a new NewsletterHandlers instance.
func NewNewsletterHandlers(newsletter services.NewsletterService) *NewsletterHandlers {
	return &NewsletterHandlers{newsletter: newsletter}
}

// Routes registers the /newsletter endpoints.
func (h *NewsletterHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/subscribe", h.subscribe)
	r.Get("/welcome-coupon", h.welcomeCoupon)
}

func (h *NewsletterHandlers) welcomeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.newsletter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "newsletter service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	validation, err := h.newsletter.WelcomeCoupon(ctx, identity.Email)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "welcome coupon", validation)
}

func (h *NewsletterHandlers) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.newsletter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "newsletter service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxNewsletterBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "could not read request body", http.StatusBadRequest))
		return
	}
	var req subscribeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	subscriber, created, err := h.newsletter.Subscribe(ctx, services.SubscribeCommand{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteData(w, status, "subscribed", subscribeResponse{
		Email:      subscriber.Email,
		Subscribed: true,
		Created:    created,
	})
}
