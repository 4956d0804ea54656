package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ambercart/api/internal/platform/httpx"
	"github.com/ambercart/api/internal/services"
)

type updateOrderRequest struct {
	FulfillmentStatus *string `json:"fulfillmentStatus,omitempty"`
	Notes             *string `json:"notes,omitempty"`
}

type refundOrderRequest struct {
	Amount *float64 `json:"amount,omitempty"`
	Reason *string  `json:"reason,omitempty"`
}

// AdminOrderHandlers exposes the back-office order endpoints. The /admin
// group carries the RequireAdmin middleware, so handlers trust the caller.
type AdminOrderHandlers struct {
	orders services.OrderService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{orders: orders}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(group chi.Router) {
		group.Get("/", h.queryOrders)
		group.Get("/analytics", h.analytics)
		group.Get("/{orderID}", h.getOrder)
		group.Patch("/{orderID}", h.updateOrder)
		group.Delete("/{orderID}", h.deleteOrder)
		group.Post("/{orderID}/refund", h.refundOrder)
	})
}

func (h *AdminOrderHandlers) queryOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query, err := parseOrderQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, serviceErr := h.orders.QueryOrders(ctx, query)
	if serviceErr != nil {
		writeServiceError(ctx, w, serviceErr)
		return
	}
	httpx.WriteData(w, http.StatusOK, "orders", result)
}

func (h *AdminOrderHandlers) analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	analytics, err := h.orders.Analytics(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "analytics", analytics)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	includeDeleted := strings.EqualFold(r.URL.Query().Get("includeDeleted"), "true")

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"), services.OrderReadOptions{
		IsAdmin:        true,
		IncludeDeleted: includeDeleted,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "order", order)
}

func (h *AdminOrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateOrderRequest
	if !decodeAdminBody(w, r, &req) {
		return
	}

	order, err := h.orders.UpdateOrder(ctx, services.UpdateOrderCommand{
		OrderID:           chi.URLParam(r, "orderID"),
		FulfillmentStatus: req.FulfillmentStatus,
		Notes:             req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "order updated", order)
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.orders.DeleteOrder(ctx, chi.URLParam(r, "orderID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteNoContent(w)
}

func (h *AdminOrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refundOrderRequest
	if !decodeAdminBody(w, r, &req) {
		return
	}

	order, err := h.orders.RefundOrder(ctx, services.RefundOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Amount:  req.Amount,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, "refund issued", order)
}

func decodeAdminBody(w http.ResponseWriter, r *http.Request, dst any) bool {
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

func parseOrderQuery(r *http.Request) (services.OrderQuery, error) {
	values := r.URL.Query()
	query := services.OrderQuery{
		UserID:            strings.TrimSpace(values.Get("userId")),
		OrderNumberSearch: strings.TrimSpace(values.Get("orderNumber")),
		IncludeDeleted:    strings.EqualFold(values.Get("includeDeleted"), "true"),
		SortField:         strings.TrimSpace(values.Get("sortBy")),
		SortDesc:          !strings.EqualFold(values.Get("sortDir"), "asc"),
	}

	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		status := strings.ToLower(raw)
		query.Status = &status
	}
	if raw := strings.TrimSpace(values.Get("paymentStatus")); raw != "" {
		status := strings.ToLower(raw)
		query.PaymentStatus = &status
	}

	var err error
	if query.CreatedFrom, err = parseTimeValue(values.Get("createdFrom")); err != nil {
		return services.OrderQuery{}, err
	}
	if query.CreatedTo, err = parseTimeValue(values.Get("createdTo")); err != nil {
		return services.OrderQuery{}, err
	}
	if query.MinTotal, err = parseFloatValue(values.Get("minTotal")); err != nil {
		return services.OrderQuery{}, err
	}
	if query.MaxTotal, err = parseFloatValue(values.Get("maxTotal")); err != nil {
		return services.OrderQuery{}, err
	}

	query.Page, query.Limit = parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	return query, nil
}

func parseTimeValue(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func parseFloatValue(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
