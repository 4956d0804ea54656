package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/platform/httpx"
	"github.com/ambercart/api/internal/platform/requestctx"
	"github.com/ambercart/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

type createOrderRequest struct {
	Items               []services.OrderItemInput `json:"items"`
	ShippingAddress     domain.Address            `json:"shippingAddress"`
	BillingAddress      *domain.Address           `json:"billingAddress,omitempty"`
	PaymentMethod       string                    `json:"paymentMethod"`
	Currency            string                    `json:"currency,omitempty"`
	CouponCode          *string                   `json:"couponCode,omitempty"`
	Tax                 float64                   `json:"tax"`
	ShippingFee         float64                   `json:"shippingFee"`
	Notes               *string                   `json:"notes,omitempty"`
	SubscribeNewsletter bool                      `json:"subscribeNewsletter"`
}

type checkoutSessionRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type cancelOrderRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// OrderHandlers exposes the storefront order endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/number/{orderNumber}", h.getOrderByNumber)
	r.Post("/{orderID}/checkout-session", h.createCheckoutSession)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

// createOrder accepts guest checkouts, so no identity is required. When the
// gateway asserted one it binds the order to that account.
func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		Items:               req.Items,
		ShippingAddress:     req.ShippingAddress,
		BillingAddress:      req.BillingAddress,
		PaymentMethod:       req.PaymentMethod,
		Currency:            req.Currency,
		CouponCode:          req.CouponCode,
		Tax:                 req.Tax,
		ShippingFee:         req.ShippingFee,
		Notes:               req.Notes,
		SubscribeNewsletter: req.SubscribeNewsletter,
	}
	if identity, ok := requestctx.IdentityFrom(ctx); ok {
		cmd.UserID = identity.UserID
		cmd.UserEmail = identity.Email
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, "order created", order)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	page, limit := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	result, err := h.orders.ListUserOrders(ctx, identity.UserID, page, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "orders", result)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"), services.OrderReadOptions{
		UserID:  identity.UserID,
		IsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "order", order)
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	order, err := h.orders.GetOrderByNumber(ctx, chi.URLParam(r, "orderNumber"), services.OrderReadOptions{
		UserID:  identity.UserID,
		IsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "order", order)
}

func (h *OrderHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req checkoutSessionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	session, err := h.orders.InitiatePayment(ctx, services.InitiatePaymentCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		UserID:     identity.UserID,
		IsAdmin:    identity.IsAdmin(),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, "checkout session created", session)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requestctx.IdentityFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req cancelOrderRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UserID,
		IsAdmin: identity.IsAdmin(),
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "order cancelled", order)
}

// decodeBody reads a bounded JSON body into dst. An empty body is accepted
// and leaves dst zeroed.
func (h *OrderHandlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if err == errBodyTooLarge {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		} else {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "could not read request body", http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func parsePagination(r *http.Request, fallback, max int) (int, int) {
	query := r.URL.Query()
	page := 1
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}
	limit := fallback
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return page, limit
}
