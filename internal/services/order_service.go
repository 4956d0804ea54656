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
	"github.com/ambercart/api/internal/payments"
	"github.com/ambercart/api/internal/repositories"
)

const (
	orderNumberPrefix       = "ORD"
	orderNumberSuffixLength = 6
	orderNumberAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultOrderCurrency    = "USD"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid order parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or is hidden from the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller may not act on this order or account.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderNotCancellable indicates the order left the pending state.
	ErrOrderNotCancellable = errors.New("order: not cancellable")
	// ErrOrderNotRefundable indicates the payment state does not permit a refund.
	ErrOrderNotRefundable = errors.New("order: not refundable")
	// ErrOrderPaymentNotPending indicates payment was already initiated or settled.
	ErrOrderPaymentNotPending = errors.New("order: payment is not pending")
	// ErrOrderPaymentUnsupported indicates the payment method has no hosted checkout.
	ErrOrderPaymentUnsupported = errors.New("order: payment method does not support checkout sessions")
	// ErrOrderPaymentFailed indicates the PSP rejected the request.
	ErrOrderPaymentFailed = errors.New("order: payment provider failure")
	// ErrOrderWebhookInvalid indicates webhook signature verification failed.
	ErrOrderWebhookInvalid = errors.New("order: invalid webhook")
)

var allowedPaymentMethods = map[string]struct{}{
	"stripe":                {},
	domain.PaymentMethodCOD: {},
}

// OrderServiceDeps wires the dependencies required by the order service.
// Newsletter, Notifications, and Events are optional best-effort side channels.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Pricing       *PricingCalculator
	Coupons       CouponService
	Inventory     InventoryService
	Users         UserService
	Newsletter    NewsletterService
	Notifications NotificationService
	Payments      payments.Provider
	Events        OrderEventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	NumberSuffix  func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	pricing       *PricingCalculator
	coupons       CouponService
	inventory     InventoryService
	users         UserService
	newsletter    NewsletterService
	notifications NotificationService
	payments      payments.Provider
	events        OrderEventPublisher
	now           func() time.Time
	newID         func() string
	numberSuffix  func() string
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing calculator is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string {
			return "ord_" + ulid.Make().String()
		}
	}
	suffix := deps.NumberSuffix
	if suffix == nil {
		suffix = randomOrderSuffix
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		pricing:       deps.Pricing,
		coupons:       deps.Coupons,
		inventory:     deps.Inventory,
		users:         deps.Users,
		newsletter:    deps.Newsletter,
		notifications: deps.Notifications,
		payments:      deps.Payments,
		events:        deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:        newID,
		numberSuffix: suffix,
		logger:       logger,
	}, nil
}

// CreateOrder runs the checkout pipeline: resolve the customer, price the
// cart, validate the coupon, persist the order, reserve stock, redeem the
// coupon, then fan out best-effort side effects.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	if err := validateCreateOrderCommand(cmd); err != nil {
		return Order{}, err
	}

	user, err := s.resolveCustomer(ctx, cmd)
	if err != nil {
		return Order{}, err
	}
	if !user.Status.CanOrder() {
		return Order{}, fmt.Errorf("%w: account may not place orders", ErrOrderForbidden)
	}

	baseQuote, err := s.pricing.Quote(cmd.Items, cmd.Tax, cmd.ShippingFee, 0)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	discountRate := 0.0
	var couponCode *string
	if cmd.CouponCode != nil && strings.TrimSpace(*cmd.CouponCode) != "" {
		validation, err := s.coupons.ValidateCode(ctx, ValidateCouponCommand{
			Code:        *cmd.CouponCode,
			UserEmail:   user.Email,
			TotalAmount: baseQuote.SubTotal,
		})
		if err != nil {
			return Order{}, err
		}
		discountRate = validation.DiscountRate
		couponCode = &validation.Code
	}

	quote, err := s.pricing.Quote(cmd.Items, cmd.Tax, cmd.ShippingFee, discountRate)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	lines := stockLinesFromItems(quote.Items)
	if err := s.inventory.CheckAvailability(ctx, lines); err != nil {
		return Order{}, err
	}

	now := s.now()
	order := s.buildOrder(cmd, user, quote, couponCode, now)

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.translateOrderError(err)
	}

	if err := s.inventory.ReserveItems(ctx, lines); err != nil {
		s.voidUnreservableOrder(ctx, order)
		return Order{}, err
	}

	if couponCode != nil {
		if _, err := s.coupons.RedeemCode(ctx, *couponCode); err != nil {
			// The discount is already priced in; a lost increment is logged
			// rather than unwinding the placed order.
			s.logger(ctx, "order.coupon_redeem_failed", map[string]any{
				"orderId": order.ID,
				"code":    *couponCode,
				"error":   err.Error(),
			})
		}
	}

	if cmd.SubscribeNewsletter && s.newsletter != nil {
		first := order.ShippingAddress.FirstName
		last := order.ShippingAddress.LastName
		if _, _, err := s.newsletter.Subscribe(ctx, SubscribeCommand{
			Email:     user.Email,
			FirstName: &first,
			LastName:  &last,
		}); err != nil {
			s.logger(ctx, "order.newsletter_subscribe_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	if _, err := s.users.RecordPurchase(ctx, user.ID, order.GrandTotal); err != nil {
		s.logger(ctx, "order.metrics_update_failed", map[string]any{
			"orderId": order.ID,
			"userId":  user.ID,
			"error":   err.Error(),
		})
	}

	s.notify(ctx, order, func() error {
		return s.notifications.SendOrderConfirmation(ctx, order, user.Email)
	})
	s.publishEvent(ctx, EventOrderCreated, order)

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      user.ID,
		"grandTotal":  order.GrandTotal,
	})
	return order, nil
}

// InitiatePayment creates a hosted checkout session for a pending order.
func (s *orderService) InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentSession, error) {
	if s == nil || s.orders == nil || s.payments == nil {
		return PaymentSession{}, ErrOrderUnavailable
	}

	order, err := s.loadOwnedOrder(ctx, cmd.OrderID, cmd.UserID, cmd.IsAdmin, false)
	if err != nil {
		return PaymentSession{}, err
	}
	if order.Payment.Method == domain.PaymentMethodCOD {
		return PaymentSession{}, ErrOrderPaymentUnsupported
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		return PaymentSession{}, ErrOrderPaymentNotPending
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:      item.Name,
			SKU:       item.SKU,
			Quantity:  int64(item.Quantity),
			UnitPrice: item.UnitPrice,
		})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.ShippingAddress.Email,
		Currency:      order.Currency,
		Amount:        order.GrandTotal,
		Items:         items,
		SuccessURL:    cmd.SuccessURL,
		CancelURL:     cmd.CancelURL,
	})
	if err != nil {
		s.logger(ctx, "order.checkout_session_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrOrderPaymentFailed, err)
	}

	return PaymentSession{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// HandlePaymentWebhook verifies the PSP event and applies the matching payment
// transition. Replayed success events are acknowledged without re-applying.
func (s *orderService) HandlePaymentWebhook(ctx context.Context, cmd PaymentWebhookCommand) (WebhookReceipt, error) {
	if s == nil || s.orders == nil || s.payments == nil {
		return WebhookReceipt{}, ErrOrderUnavailable
	}

	result, err := s.payments.VerifyWebhook(cmd.Payload, cmd.Signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) || errors.Is(err, payments.ErrMissingOrderReference) {
			return WebhookReceipt{}, fmt.Errorf("%w: %v", ErrOrderWebhookInvalid, err)
		}
		return WebhookReceipt{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}

	receipt := WebhookReceipt{EventType: result.EventType, OrderID: result.OrderID}
	if result.Outcome == payments.OutcomeIgnored {
		return receipt, nil
	}

	order, err := s.orders.FindByID(ctx, result.OrderID, false)
	if err != nil {
		return WebhookReceipt{}, s.translateOrderError(err)
	}

	switch result.Outcome {
	case payments.OutcomeSuccess:
		handled, err := s.markPaid(ctx, order, result)
		if err != nil {
			return WebhookReceipt{}, err
		}
		receipt.Handled = handled
	case payments.OutcomeFailure:
		handled, err := s.markFailed(ctx, order, result)
		if err != nil {
			return WebhookReceipt{}, err
		}
		receipt.Handled = handled
	}
	return receipt, nil
}

// markPaid applies the success transition once. A replayed event sees the paid
// status and becomes a no-op.
func (s *orderService) markPaid(ctx context.Context, order domain.Order, result payments.WebhookResult) (bool, error) {
	if order.Payment.Status == domain.PaymentStatusPaid {
		s.logger(ctx, "order.webhook_replayed", map[string]any{
			"orderId": order.ID,
			"eventId": result.EventID,
		})
		return false, nil
	}

	now := s.now()
	order.Payment.Status = domain.PaymentStatusPaid
	order.Payment.PaidAt = &now
	if result.TransactionID != "" {
		txID := result.TransactionID
		order.Payment.TransactionID = &txID
	}
	if result.ReceiptURL != nil {
		order.Payment.ReceiptURL = result.ReceiptURL
	}
	if order.FulfillmentStatus == domain.OrderStatusPending {
		order.FulfillmentStatus = domain.OrderStatusProcessing
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return false, s.translateOrderError(err)
	}

	s.notify(ctx, order, func() error {
		return s.notifications.SendPaymentReceived(ctx, order, order.ShippingAddress.Email)
	})
	s.publishEvent(ctx, EventOrderPaid, order)

	s.logger(ctx, "order.paid", map[string]any{
		"orderId":       order.ID,
		"transactionId": result.TransactionID,
	})
	return true, nil
}

// markFailed records a failed attempt without downgrading a settled payment.
func (s *orderService) markFailed(ctx context.Context, order domain.Order, result payments.WebhookResult) (bool, error) {
	if order.Payment.Status == domain.PaymentStatusPaid {
		return false, nil
	}

	now := s.now()
	fields := map[string]any{
		"status": string(domain.PaymentStatusFailed),
	}
	if result.TransactionID != "" {
		fields["transactionId"] = result.TransactionID
	}
	if err := s.orders.UpdatePayment(ctx, order.ID, fields, now); err != nil {
		return false, s.translateOrderError(err)
	}

	s.publishEvent(ctx, EventOrderPaymentFailed, order)
	s.logger(ctx, "order.payment_failed", map[string]any{
		"orderId": order.ID,
		"eventId": result.EventID,
	})
	return true, nil
}

// GetOrder fetches one order scoped to the caller.
func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	return s.loadOwnedOrder(ctx, orderID, opts.UserID, opts.IsAdmin, opts.IsAdmin && opts.IncludeDeleted)
}

// GetOrderByNumber fetches one order by its human-facing number.
func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string, opts OrderReadOptions) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	if strings.TrimSpace(orderNumber) == "" {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}
	if !opts.IsAdmin && order.UserID != opts.UserID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListUserOrders pages through the caller's own orders, newest first.
func (s *orderService) ListUserOrders(ctx context.Context, userID string, page, limit int) (domain.PagedResult[Order], error) {
	if s == nil || s.orders == nil {
		return domain.PagedResult[Order]{}, ErrOrderUnavailable
	}
	if strings.TrimSpace(userID) == "" {
		return domain.PagedResult[Order]{}, ErrOrderInvalidInput
	}

	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: userID,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return domain.PagedResult[Order]{}, s.translateOrderError(err)
	}
	return result, nil
}

// QueryOrders runs the admin listing with filters and pagination.
func (s *orderService) QueryOrders(ctx context.Context, query OrderQuery) (domain.PagedResult[Order], error) {
	if s == nil || s.orders == nil {
		return domain.PagedResult[Order]{}, ErrOrderUnavailable
	}
	if query.Status != nil && !domain.ValidOrderStatus(*query.Status) {
		return domain.PagedResult[Order]{}, ErrOrderInvalidInput
	}
	if query.PaymentStatus != nil && !domain.ValidPaymentStatus(*query.PaymentStatus) {
		return domain.PagedResult[Order]{}, ErrOrderInvalidInput
	}

	result, err := s.orders.List(ctx, query.toRepositoryFilter())
	if err != nil {
		return domain.PagedResult[Order]{}, s.translateOrderError(err)
	}
	return result, nil
}

// Analytics aggregates the dashboard metrics over non-deleted orders.
func (s *orderService) Analytics(ctx context.Context) (OrderAnalytics, error) {
	if s == nil || s.orders == nil {
		return OrderAnalytics{}, ErrOrderUnavailable
	}
	analytics, err := s.orders.Analytics(ctx, s.now())
	if err != nil {
		return OrderAnalytics{}, s.translateOrderError(err)
	}
	return analytics, nil
}

// CancelOrder cancels an order that has not started fulfillment.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}

	order, err := s.loadOwnedOrder(ctx, cmd.OrderID, cmd.UserID, cmd.IsAdmin, false)
	if err != nil {
		return Order{}, err
	}
	if order.FulfillmentStatus != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: status is %s", ErrOrderNotCancellable, order.FulfillmentStatus)
	}

	now := s.now()
	order.FulfillmentStatus = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	if cmd.Reason != nil && strings.TrimSpace(*cmd.Reason) != "" {
		reason := strings.TrimSpace(*cmd.Reason)
		order.Notes = &reason
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateOrderError(err)
	}

	s.notify(ctx, order, func() error {
		return s.notifications.SendOrderCancelled(ctx, order, order.ShippingAddress.Email)
	})
	s.publishEvent(ctx, EventOrderCancelled, order)

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId": order.ID,
	})
	return order, nil
}

// UpdateOrder applies admin fulfillment changes and notes.
func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	if cmd.FulfillmentStatus == nil && cmd.Notes == nil {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, strings.TrimSpace(cmd.OrderID), false)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}

	now := s.now()
	var transitionedTo domain.OrderStatus
	if cmd.FulfillmentStatus != nil {
		status := strings.ToLower(strings.TrimSpace(*cmd.FulfillmentStatus))
		if !domain.ValidOrderStatus(status) {
			return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
		next := domain.OrderStatus(status)
		if next != order.FulfillmentStatus {
			order.FulfillmentStatus = next
			transitionedTo = next
			switch next {
			case domain.OrderStatusShipped:
				order.ShippedAt = &now
			case domain.OrderStatusDelivered:
				order.DeliveredAt = &now
			case domain.OrderStatusCancelled:
				order.CancelledAt = &now
			}
		}
	}
	if cmd.Notes != nil {
		notes := strings.TrimSpace(*cmd.Notes)
		order.Notes = &notes
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateOrderError(err)
	}

	switch transitionedTo {
	case domain.OrderStatusShipped:
		s.notify(ctx, order, func() error {
			return s.notifications.SendOrderShipped(ctx, order, order.ShippingAddress.Email)
		})
		s.publishEvent(ctx, EventOrderShipped, order)
	case domain.OrderStatusDelivered:
		s.notify(ctx, order, func() error {
			return s.notifications.SendOrderDelivered(ctx, order, order.ShippingAddress.Email)
		})
		s.publishEvent(ctx, EventOrderDelivered, order)
	}

	return order, nil
}

// RefundOrder issues a PSP refund for the unrefunded remainder, or a smaller
// amount when requested. The cumulative refund never exceeds the grand total.
func (s *orderService) RefundOrder(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	if s == nil || s.orders == nil || s.payments == nil {
		return Order{}, ErrOrderUnavailable
	}

	order, err := s.orders.FindByID(ctx, strings.TrimSpace(cmd.OrderID), false)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}

	switch order.Payment.Status {
	case domain.PaymentStatusPaid, domain.PaymentStatusPartiallyRefunded:
	default:
		return Order{}, fmt.Errorf("%w: payment status is %s", ErrOrderNotRefundable, order.Payment.Status)
	}
	if order.Payment.TransactionID == nil || *order.Payment.TransactionID == "" {
		return Order{}, fmt.Errorf("%w: no transaction recorded", ErrOrderNotRefundable)
	}

	remaining := roundCents(order.GrandTotal - order.Payment.RefundAmount)
	if remaining <= 0 {
		return Order{}, fmt.Errorf("%w: already fully refunded", ErrOrderNotRefundable)
	}
	amount := remaining
	if cmd.Amount != nil {
		amount = roundCents(*cmd.Amount)
	}
	if amount <= 0 || amount > remaining {
		return Order{}, fmt.Errorf("%w: refund amount out of range", ErrOrderInvalidInput)
	}

	reason := ""
	if cmd.Reason != nil {
		reason = *cmd.Reason
	}
	refund, err := s.payments.CreateRefund(ctx, payments.RefundRequest{
		OrderID:       order.ID,
		TransactionID: *order.Payment.TransactionID,
		Amount:        amount,
		Currency:      order.Currency,
		Reason:        reason,
	})
	if err != nil {
		s.logger(ctx, "order.refund_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return Order{}, fmt.Errorf("%w: %v", ErrOrderPaymentFailed, err)
	}

	now := s.now()
	total := order.Payment.RefundAmount + amount
	if total > order.GrandTotal {
		total = order.GrandTotal
	}
	total = roundCents(total)

	status := domain.PaymentStatusPartiallyRefunded
	if total >= order.GrandTotal {
		status = domain.PaymentStatusRefunded
	}

	fields := map[string]any{
		"status":       string(status),
		"refundAmount": total,
		"refundedAt":   now,
		"refundId":     refund.ID,
	}
	if err := s.orders.UpdatePayment(ctx, order.ID, fields, now); err != nil {
		return Order{}, s.translateOrderError(err)
	}

	order.Payment.Status = status
	order.Payment.RefundAmount = total
	order.Payment.RefundedAt = &now
	order.Payment.RefundID = &refund.ID
	order.UpdatedAt = now

	s.notify(ctx, order, func() error {
		return s.notifications.SendRefundIssued(ctx, order, order.ShippingAddress.Email, amount)
	})
	s.publishEvent(ctx, EventOrderRefunded, order)

	s.logger(ctx, "order.refunded", map[string]any{
		"orderId":      order.ID,
		"refundId":     refund.ID,
		"amount":       amount,
		"totalRefund":  total,
		"refundStatus": string(status),
	})
	return order, nil
}

// DeleteOrder soft-deletes the order; it disappears from default reads.
func (s *orderService) DeleteOrder(ctx context.Context, orderID string) error {
	if s == nil || s.orders == nil {
		return ErrOrderUnavailable
	}
	if strings.TrimSpace(orderID) == "" {
		return ErrOrderInvalidInput
	}
	if err := s.orders.SoftDelete(ctx, strings.TrimSpace(orderID), s.now()); err != nil {
		return s.translateOrderError(err)
	}
	return nil
}

func (s *orderService) resolveCustomer(ctx context.Context, cmd CreateOrderCommand) (User, error) {
	if strings.TrimSpace(cmd.UserID) != "" {
		user, err := s.users.GetProfile(ctx, cmd.UserID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return User{}, fmt.Errorf("%w: unknown account", ErrOrderForbidden)
			}
			return User{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
		return user, nil
	}

	addr := cmd.ShippingAddress
	user, err := s.users.ResolveOrCreateGuest(ctx, CreateGuestCommand{
		Email:     addr.Email,
		FirstName: addr.FirstName,
		LastName:  addr.LastName,
		Phone:     addr.Phone,
	})
	if err != nil {
		if errors.Is(err, ErrUserInvalidInput) {
			return User{}, fmt.Errorf("%w: shipping email is required", ErrOrderInvalidInput)
		}
		return User{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return user, nil
}

func (s *orderService) buildOrder(cmd CreateOrderCommand, user User, quote PriceQuote, couponCode *string, now time.Time) domain.Order {
	items := make([]domain.OrderItem, 0, len(quote.Items))
	for _, item := range quote.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			SKU:       item.SKU,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Discount:  item.Discount,
			LineTotal: item.LineTotal,
		})
	}

	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	fulfillment := domain.OrderStatusPending
	if method == domain.PaymentMethodCOD {
		// Nothing to collect up front, so fulfillment starts immediately.
		fulfillment = domain.OrderStatusProcessing
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = defaultOrderCurrency
	}

	return domain.Order{
		ID:              s.newID(),
		OrderNumber:     fmt.Sprintf("%s-%d-%s", orderNumberPrefix, now.UnixMilli(), s.numberSuffix()),
		UserID:          user.ID,
		Items:           items,
		SubTotal:        quote.SubTotal,
		Tax:             quote.Tax,
		Shipping:        quote.Shipping,
		Discount:        quote.Discount,
		DiscountCode:    couponCode,
		GrandTotal:      quote.GrandTotal,
		Currency:        currency,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		Payment: domain.PaymentInfo{
			Method: method,
			Status: domain.PaymentStatusPending,
		},
		FulfillmentStatus: fulfillment,
		Notes:             cmd.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// voidUnreservableOrder cancels an order whose stock reservation failed after
// the document was persisted.
func (s *orderService) voidUnreservableOrder(ctx context.Context, order domain.Order) {
	now := s.now()
	order.FulfillmentStatus = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "order.void_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) loadOwnedOrder(ctx context.Context, orderID, userID string, isAdmin, includeDeleted bool) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, strings.TrimSpace(orderID), includeDeleted)
	if err != nil {
		return domain.Order{}, s.translateOrderError(err)
	}
	if !isAdmin && order.UserID != userID {
		// Existence of another customer's order is not disclosed.
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) notify(ctx context.Context, order domain.Order, send func() error) {
	if s.notifications == nil {
		return
	}
	if err := send(); err != nil {
		s.logger(ctx, "order.notification_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order domain.Order) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OccurredAt:  s.now(),
	}); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) translateOrderError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: conflicting write", ErrOrderUnavailable)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

func validateCreateOrderCommand(cmd CreateOrderCommand) error {
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if _, ok := allowedPaymentMethods[method]; !ok {
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	addr := cmd.ShippingAddress
	if strings.TrimSpace(addr.Email) == "" && strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: shipping email is required for guest checkout", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Street) == "" || strings.TrimSpace(addr.City) == "" || strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: incomplete shipping address", ErrOrderInvalidInput)
	}
	if cmd.Tax < 0 || cmd.ShippingFee < 0 {
		return fmt.Errorf("%w: negative charges", ErrOrderInvalidInput)
	}
	return nil
}

func randomOrderSuffix() string {
	buf := make([]byte, orderNumberSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a time-derived suffix; uniqueness still holds through
		// the millisecond component of the order number.
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1000000)
	}
	out := make([]byte, orderNumberSuffixLength)
	for i, b := range buf {
		out[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return string(out)
}
