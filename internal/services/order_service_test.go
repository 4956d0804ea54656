package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/payments"
	"github.com/ambercart/api/internal/repositories"
)

type memoryOrderRepository struct {
	orders      map[string]domain.Order
	insertErr   error
	analyticsFn func(ctx context.Context, now time.Time) (domain.OrderAnalytics, error)
}

func newMemoryOrderRepository() *memoryOrderRepository {
	return &memoryOrderRepository{orders: make(map[string]domain.Order)}
}

func (r *memoryOrderRepository) Insert(_ context.Context, order domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memoryOrderRepository) Update(_ context.Context, order domain.Order) error {
	if _, ok := r.orders[order.ID]; !ok {
		return stubRepositoryError{notFound: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memoryOrderRepository) UpdatePayment(_ context.Context, orderID string, fields map[string]any, updatedAt time.Time) error {
	order, ok := r.orders[orderID]
	if !ok {
		return stubRepositoryError{notFound: true}
	}
	for key, value := range fields {
		switch key {
		case "status":
			order.Payment.Status = domain.PaymentStatus(value.(string))
		case "transactionId":
			id := value.(string)
			order.Payment.TransactionID = &id
		case "refundAmount":
			order.Payment.RefundAmount = value.(float64)
		case "refundedAt":
			at := value.(time.Time)
			order.Payment.RefundedAt = &at
		case "refundId":
			id := value.(string)
			order.Payment.RefundID = &id
		}
	}
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	return nil
}

func (r *memoryOrderRepository) FindByID(_ context.Context, orderID string, includeDeleted bool) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok || (order.IsDeleted && !includeDeleted) {
		return domain.Order{}, stubRepositoryError{notFound: true}
	}
	return order, nil
}

func (r *memoryOrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber && !order.IsDeleted {
			return order, nil
		}
	}
	return domain.Order{}, stubRepositoryError{notFound: true}
}

func (r *memoryOrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.PagedResult[domain.Order], error) {
	var matched []domain.Order
	for _, order := range r.orders {
		if order.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		matched = append(matched, order)
	}
	return domain.PagedResult[domain.Order]{Data: matched, FilterCount: int64(len(matched))}, nil
}

func (r *memoryOrderRepository) SoftDelete(_ context.Context, orderID string, deletedAt time.Time) error {
	order, ok := r.orders[orderID]
	if !ok {
		return stubRepositoryError{notFound: true}
	}
	order.IsDeleted = true
	order.UpdatedAt = deletedAt
	r.orders[orderID] = order
	return nil
}

func (r *memoryOrderRepository) Analytics(ctx context.Context, now time.Time) (domain.OrderAnalytics, error) {
	if r.analyticsFn != nil {
		return r.analyticsFn(ctx, now)
	}
	return domain.OrderAnalytics{}, nil
}

type fakeCouponService struct {
	validateFn func(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error)
	redeemFn   func(ctx context.Context, code string) (Coupon, error)
}

func (f *fakeCouponService) ValidateCode(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
	if f.validateFn == nil {
		return CouponValidation{}, ErrCouponNotFound
	}
	return f.validateFn(ctx, cmd)
}

func (f *fakeCouponService) RedeemCode(ctx context.Context, code string) (Coupon, error) {
	if f.redeemFn == nil {
		return Coupon{}, ErrCouponNotFound
	}
	return f.redeemFn(ctx, code)
}

func (f *fakeCouponService) CreateCoupon(context.Context, CreateCouponCommand) (Coupon, error) {
	return Coupon{}, errors.New("not implemented")
}

func (f *fakeCouponService) WelcomeCouponFor(context.Context, string) (CouponValidation, error) {
	return CouponValidation{}, errors.New("not implemented")
}

type fakeInventoryService struct {
	checkFn   func(ctx context.Context, lines []StockLine) error
	reserveFn func(ctx context.Context, lines []StockLine) error
}

func (f *fakeInventoryService) CheckAvailability(ctx context.Context, lines []StockLine) error {
	if f.checkFn == nil {
		return nil
	}
	return f.checkFn(ctx, lines)
}

func (f *fakeInventoryService) ReserveItems(ctx context.Context, lines []StockLine) error {
	if f.reserveFn == nil {
		return nil
	}
	return f.reserveFn(ctx, lines)
}

type fakeUserService struct {
	profileFn func(ctx context.Context, userID string) (User, error)
	guestFn   func(ctx context.Context, cmd CreateGuestCommand) (User, error)
	recorded  []float64
}

func (f *fakeUserService) GetProfile(ctx context.Context, userID string) (User, error) {
	if f.profileFn == nil {
		return User{ID: userID, Email: userID + "@example.com", Status: domain.UserStatusActive}, nil
	}
	return f.profileFn(ctx, userID)
}

func (f *fakeUserService) ResolveOrCreateGuest(ctx context.Context, cmd CreateGuestCommand) (User, error) {
	if f.guestFn == nil {
		return User{ID: "usr_guest", Email: strings.ToLower(cmd.Email), Status: domain.UserStatusActive, IsGuest: true}, nil
	}
	return f.guestFn(ctx, cmd)
}

func (f *fakeUserService) RecordPurchase(_ context.Context, _ string, amount float64) (UserMetrics, error) {
	f.recorded = append(f.recorded, amount)
	return UserMetrics{}, nil
}

type fakePaymentsProvider struct {
	sessionFn func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	refundFn  func(ctx context.Context, req payments.RefundRequest) (payments.Refund, error)
	verifyFn  func(payload []byte, signature string) (payments.WebhookResult, error)
}

func (f *fakePaymentsProvider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if f.sessionFn == nil {
		return payments.CheckoutSession{ID: "cs_1", RedirectURL: "https://pay.example/cs_1"}, nil
	}
	return f.sessionFn(ctx, req)
}

func (f *fakePaymentsProvider) CreateRefund(ctx context.Context, req payments.RefundRequest) (payments.Refund, error) {
	if f.refundFn == nil {
		return payments.Refund{ID: "re_1", Amount: req.Amount, Status: payments.StatusSucceeded}, nil
	}
	return f.refundFn(ctx, req)
}

func (f *fakePaymentsProvider) VerifyWebhook(payload []byte, signature string) (payments.WebhookResult, error) {
	if f.verifyFn == nil {
		return payments.WebhookResult{Outcome: payments.OutcomeIgnored}, nil
	}
	return f.verifyFn(payload, signature)
}

type recordingOrderNotifications struct {
	calls []string
}

func (r *recordingOrderNotifications) record(name string) error {
	r.calls = append(r.calls, name)
	return nil
}

func (r *recordingOrderNotifications) SendOrderConfirmation(context.Context, Order, string) error {
	return r.record("confirmation")
}
func (r *recordingOrderNotifications) SendPaymentReceived(context.Context, Order, string) error {
	return r.record("payment_received")
}
func (r *recordingOrderNotifications) SendOrderCancelled(context.Context, Order, string) error {
	return r.record("cancelled")
}
func (r *recordingOrderNotifications) SendOrderShipped(context.Context, Order, string) error {
	return r.record("shipped")
}
func (r *recordingOrderNotifications) SendOrderDelivered(context.Context, Order, string) error {
	return r.record("delivered")
}
func (r *recordingOrderNotifications) SendRefundIssued(context.Context, Order, string, float64) error {
	return r.record("refund")
}
func (r *recordingOrderNotifications) SendWelcomeCoupon(context.Context, NewsletterSubscriber, Coupon) error {
	return r.record("welcome")
}

type recordingPublisher struct {
	events []OrderEventMessage
	err    error
}

func (r *recordingPublisher) PublishOrderEvent(_ context.Context, msg OrderEventMessage) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.events = append(r.events, msg)
	return "msg-1", nil
}

type orderServiceFixture struct {
	repo          *memoryOrderRepository
	coupons       *fakeCouponService
	inventory     *fakeInventoryService
	users         *fakeUserService
	payments      *fakePaymentsProvider
	notifications *recordingOrderNotifications
	publisher     *recordingPublisher
	service       OrderService
}

var orderTestClock = func() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newOrderServiceFixture(t *testing.T) *orderServiceFixture {
	t.Helper()
	f := &orderServiceFixture{
		repo:          newMemoryOrderRepository(),
		coupons:       &fakeCouponService{},
		inventory:     &fakeInventoryService{},
		users:         &fakeUserService{},
		payments:      &fakePaymentsProvider{},
		notifications: &recordingOrderNotifications{},
		publisher:     &recordingPublisher{},
	}

	counter := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        f.repo,
		Pricing:       NewPricingCalculator(),
		Coupons:       f.coupons,
		Inventory:     f.inventory,
		Users:         f.users,
		Newsletter:    nil,
		Notifications: f.notifications,
		Payments:      f.payments,
		Events:        f.publisher,
		Clock:         orderTestClock,
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("ord_%d", counter)
		},
		NumberSuffix: func() string { return "ABC123" },
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	f.service = svc
	return f
}

func validCreateCommand() CreateOrderCommand {
	return CreateOrderCommand{
		Items: []OrderItemInput{
			{ProductID: "p1", Name: "Mug", SKU: "MUG-1", UnitPrice: 24.99, Quantity: 2},
			{ProductID: "p2", Name: "Tee", SKU: "TEE-1", UnitPrice: 15.00, Quantity: 1},
		},
		ShippingAddress: domain.Address{
			FirstName:  "Ada",
			LastName:   "Lovelace",
			Email:      "ada@example.com",
			Street:     "1 Analytical Way",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "GB",
		},
		PaymentMethod: "stripe",
		Currency:      "usd",
		Tax:           4.50,
		ShippingFee:   7.00,
	}
}

func TestCreateOrderGuestCheckoutWithCoupon(t *testing.T) {
	f := newOrderServiceFixture(t)

	redeemed := ""
	f.coupons.validateFn = func(_ context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
		if cmd.UserEmail != "ada@example.com" {
			t.Fatalf("coupon validated against wrong email: %s", cmd.UserEmail)
		}
		if cmd.TotalAmount != 64.98 {
			t.Fatalf("coupon validated against wrong subtotal: %f", cmd.TotalAmount)
		}
		return CouponValidation{Valid: true, Code: "SAVE10", DiscountRate: 10}, nil
	}
	f.coupons.redeemFn = func(_ context.Context, code string) (Coupon, error) {
		redeemed = code
		return Coupon{Code: code}, nil
	}

	cmd := validCreateCommand()
	code := "save10"
	cmd.CouponCode = &code

	order, err := f.service.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	if order.UserID != "usr_guest" {
		t.Fatalf("expected synthesized guest, got %s", order.UserID)
	}
	if order.OrderNumber != "ORD-1717243200000-ABC123" {
		t.Fatalf("unexpected order number: %s", order.OrderNumber)
	}
	if order.SubTotal != 64.98 || order.Discount != 6.50 {
		t.Fatalf("unexpected pricing: subtotal=%f discount=%f", order.SubTotal, order.Discount)
	}
	want := order.SubTotal + order.Tax + order.Shipping - order.Discount
	if diff := order.GrandTotal - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("grand total identity violated: %f vs %f", order.GrandTotal, want)
	}
	if order.FulfillmentStatus != domain.OrderStatusPending {
		t.Fatalf("expected pending fulfillment, got %s", order.FulfillmentStatus)
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", order.Payment.Status)
	}
	if order.Currency != "USD" {
		t.Fatalf("expected normalised currency, got %s", order.Currency)
	}
	if redeemed != "SAVE10" {
		t.Fatalf("coupon was not redeemed: %q", redeemed)
	}
	if len(f.users.recorded) != 1 || f.users.recorded[0] != order.GrandTotal {
		t.Fatalf("purchase metrics not recorded: %v", f.users.recorded)
	}
	if len(f.notifications.calls) != 1 || f.notifications.calls[0] != "confirmation" {
		t.Fatalf("unexpected notifications: %v", f.notifications.calls)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != EventOrderCreated {
		t.Fatalf("unexpected events: %v", f.publisher.events)
	}
	if _, ok := f.repo.orders[order.ID]; !ok {
		t.Fatal("order was not persisted")
	}
}

func TestCreateOrderCODStartsProcessing(t *testing.T) {
	f := newOrderServiceFixture(t)

	cmd := validCreateCommand()
	cmd.PaymentMethod = "cod"

	order, err := f.service.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if order.FulfillmentStatus != domain.OrderStatusProcessing {
		t.Fatalf("expected processing fulfillment for cod, got %s", order.FulfillmentStatus)
	}
}

func TestCreateOrderRejectsBlockedAccount(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.users.profileFn = func(context.Context, string) (User, error) {
		return User{ID: "usr_banned", Status: domain.UserStatusBanned}, nil
	}

	cmd := validCreateCommand()
	cmd.UserID = "usr_banned"

	if _, err := f.service.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	if len(f.repo.orders) != 0 {
		t.Fatal("order must not be persisted for a blocked account")
	}
}

func TestCreateOrderInsufficientStockBeforePersist(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.inventory.checkFn = func(context.Context, []StockLine) error {
		return fmt.Errorf("%w: MUG-1", ErrInventoryInsufficientStock)
	}

	if _, err := f.service.CreateOrder(context.Background(), validCreateCommand()); !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if len(f.repo.orders) != 0 {
		t.Fatal("order must not be persisted when the stock check fails")
	}
}

func TestCreateOrderVoidsOrderWhenReservationLosesRace(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.inventory.reserveFn = func(context.Context, []StockLine) error {
		return fmt.Errorf("%w: MUG-1", ErrInventoryInsufficientStock)
	}

	_, err := f.service.CreateOrder(context.Background(), validCreateCommand())
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if len(f.repo.orders) != 1 {
		t.Fatalf("expected the persisted order to remain, got %d", len(f.repo.orders))
	}
	for _, order := range f.repo.orders {
		if order.FulfillmentStatus != domain.OrderStatusCancelled {
			t.Fatalf("expected voided order to be cancelled, got %s", order.FulfillmentStatus)
		}
	}
}

func TestCreateOrderCouponErrorsPropagate(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.coupons.validateFn = func(context.Context, ValidateCouponCommand) (CouponValidation, error) {
		return CouponValidation{}, ErrCouponExhausted
	}

	cmd := validCreateCommand()
	code := "USED"
	cmd.CouponCode = &code

	if _, err := f.service.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCouponExhausted) {
		t.Fatalf("expected ErrCouponExhausted, got %v", err)
	}
	if len(f.repo.orders) != 0 {
		t.Fatal("order must not be persisted with an invalid coupon")
	}
}

func TestCreateOrderValidatesInput(t *testing.T) {
	f := newOrderServiceFixture(t)

	cmd := validCreateCommand()
	cmd.Items = nil
	if _, err := f.service.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for empty items, got %v", err)
	}

	cmd = validCreateCommand()
	cmd.PaymentMethod = "bitcoin"
	if _, err := f.service.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unsupported method, got %v", err)
	}

	cmd = validCreateCommand()
	cmd.ShippingAddress.Email = ""
	if _, err := f.service.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for missing guest email, got %v", err)
	}
}

func seedOrder(f *orderServiceFixture, mutate func(*domain.Order)) domain.Order {
	order := domain.Order{
		ID:          "ord_seed",
		OrderNumber: "ORD-1717243100000-SEED01",
		UserID:      "usr_1",
		Items: []domain.OrderItem{
			{ProductID: "p1", Name: "Mug", SKU: "MUG-1", UnitPrice: 50, Quantity: 2, LineTotal: 100},
		},
		SubTotal:   100,
		GrandTotal: 100,
		Currency:   "USD",
		ShippingAddress: domain.Address{
			FirstName: "Ada", Email: "ada@example.com",
			Street: "1 Analytical Way", City: "London", Country: "GB",
		},
		Payment: domain.PaymentInfo{
			Method: "stripe",
			Status: domain.PaymentStatusPending,
		},
		FulfillmentStatus: domain.OrderStatusPending,
		CreatedAt:         orderTestClock().Add(-time.Hour),
		UpdatedAt:         orderTestClock().Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&order)
	}
	f.repo.orders[order.ID] = order
	return order
}

func TestHandleWebhookSuccessMarksPaid(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)
	f.payments.verifyFn = func([]byte, string) (payments.WebhookResult, error) {
		return payments.WebhookResult{
			EventID:       "evt_1",
			EventType:     "checkout.session.completed",
			Outcome:       payments.OutcomeSuccess,
			OrderID:       "ord_seed",
			TransactionID: "pi_123",
		}, nil
	}

	receipt, err := f.service.HandlePaymentWebhook(context.Background(), PaymentWebhookCommand{Payload: []byte("{}"), Signature: "sig"})
	if err != nil {
		t.Fatalf("HandlePaymentWebhook returned error: %v", err)
	}
	if !receipt.Handled {
		t.Fatal("expected webhook to be handled")
	}

	order := f.repo.orders["ord_seed"]
	if order.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected paid status, got %s", order.Payment.Status)
	}
	if order.Payment.PaidAt == nil || order.Payment.TransactionID == nil || *order.Payment.TransactionID != "pi_123" {
		t.Fatalf("payment fields not recorded: %+v", order.Payment)
	}
	if order.FulfillmentStatus != domain.OrderStatusProcessing {
		t.Fatalf("expected fulfillment to advance to processing, got %s", order.FulfillmentStatus)
	}
	if len(f.notifications.calls) != 1 || f.notifications.calls[0] != "payment_received" {
		t.Fatalf("unexpected notifications: %v", f.notifications.calls)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != EventOrderPaid {
		t.Fatalf("unexpected events: %v", f.publisher.events)
	}
}

func TestHandleWebhookReplayIsIdempotent(t *testing.T) {
	f := newOrderServiceFixture(t)
	paidAt := orderTestClock().Add(-10 * time.Minute)
	txID := "pi_123"
	seedOrder(f, func(o *domain.Order) {
		o.Payment.Status = domain.PaymentStatusPaid
		o.Payment.PaidAt = &paidAt
		o.Payment.TransactionID = &txID
		o.FulfillmentStatus = domain.OrderStatusProcessing
	})
	f.payments.verifyFn = func([]byte, string) (payments.WebhookResult, error) {
		return payments.WebhookResult{
			Outcome:       payments.OutcomeSuccess,
			OrderID:       "ord_seed",
			TransactionID: "pi_123",
		}, nil
	}

	receipt, err := f.service.HandlePaymentWebhook(context.Background(), PaymentWebhookCommand{Payload: []byte("{}"), Signature: "sig"})
	if err != nil {
		t.Fatalf("HandlePaymentWebhook returned error: %v", err)
	}
	if receipt.Handled {
		t.Fatal("replayed event must not be re-applied")
	}

	order := f.repo.orders["ord_seed"]
	if order.Payment.PaidAt == nil || !order.Payment.PaidAt.Equal(paidAt) {
		t.Fatalf("paidAt must not change on replay: %v", order.Payment.PaidAt)
	}
	if len(f.notifications.calls) != 0 || len(f.publisher.events) != 0 {
		t.Fatal("replay must not emit side effects")
	}
}

func TestHandleWebhookFailureDoesNotDowngradePaid(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, func(o *domain.Order) {
		o.Payment.Status = domain.PaymentStatusPaid
	})
	f.payments.verifyFn = func([]byte, string) (payments.WebhookResult, error) {
		return payments.WebhookResult{
			Outcome: payments.OutcomeFailure,
			OrderID: "ord_seed",
		}, nil
	}

	receipt, err := f.service.HandlePaymentWebhook(context.Background(), PaymentWebhookCommand{Payload: []byte("{}"), Signature: "sig"})
	if err != nil {
		t.Fatalf("HandlePaymentWebhook returned error: %v", err)
	}
	if receipt.Handled {
		t.Fatal("failure after settlement must be ignored")
	}
	if f.repo.orders["ord_seed"].Payment.Status != domain.PaymentStatusPaid {
		t.Fatal("paid status must not be downgraded")
	}
}

func TestHandleWebhookFailureMarksFailed(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)
	f.payments.verifyFn = func([]byte, string) (payments.WebhookResult, error) {
		return payments.WebhookResult{
			Outcome: payments.OutcomeFailure,
			OrderID: "ord_seed",
		}, nil
	}

	receipt, err := f.service.HandlePaymentWebhook(context.Background(), PaymentWebhookCommand{Payload: []byte("{}"), Signature: "sig"})
	if err != nil {
		t.Fatalf("HandlePaymentWebhook returned error: %v", err)
	}
	if !receipt.Handled {
		t.Fatal("expected failure to be recorded")
	}
	if f.repo.orders["ord_seed"].Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed status, got %s", f.repo.orders["ord_seed"].Payment.Status)
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.payments.verifyFn = func([]byte, string) (payments.WebhookResult, error) {
		return payments.WebhookResult{}, payments.ErrInvalidSignature
	}

	if _, err := f.service.HandlePaymentWebhook(context.Background(), PaymentWebhookCommand{Payload: []byte("{}"), Signature: "bad"}); !errors.Is(err, ErrOrderWebhookInvalid) {
		t.Fatalf("expected ErrOrderWebhookInvalid, got %v", err)
	}
}

func TestInitiatePaymentGuards(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, func(o *domain.Order) {
		o.Payment.Method = domain.PaymentMethodCOD
	})

	_, err := f.service.InitiatePayment(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", UserID: "usr_1"})
	if !errors.Is(err, ErrOrderPaymentUnsupported) {
		t.Fatalf("expected unsupported method, got %v", err)
	}

	f2 := newOrderServiceFixture(t)
	seedOrder(f2, func(o *domain.Order) {
		o.Payment.Status = domain.PaymentStatusPaid
	})
	_, err = f2.service.InitiatePayment(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", UserID: "usr_1"})
	if !errors.Is(err, ErrOrderPaymentNotPending) {
		t.Fatalf("expected payment not pending, got %v", err)
	}
}

func TestInitiatePaymentCreatesSession(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)
	f.payments.sessionFn = func(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		if req.OrderID != "ord_seed" || req.Amount != 100 || req.Currency != "USD" {
			t.Fatalf("unexpected session request: %+v", req)
		}
		return payments.CheckoutSession{ID: "cs_9", RedirectURL: "https://pay.example/cs_9"}, nil
	}

	session, err := f.service.InitiatePayment(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", UserID: "usr_1"})
	if err != nil {
		t.Fatalf("InitiatePayment returned error: %v", err)
	}
	if session.RedirectURL != "https://pay.example/cs_9" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestInitiatePaymentWrapsProviderFailure(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)
	f.payments.sessionFn = func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		return payments.CheckoutSession{}, errors.New("stripe is down")
	}

	if _, err := f.service.InitiatePayment(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", UserID: "usr_1"}); !errors.Is(err, ErrOrderPaymentFailed) {
		t.Fatalf("expected ErrOrderPaymentFailed, got %v", err)
	}
}

func TestCancelOrderOnlyFromPending(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)

	order, err := f.service.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_seed", UserID: "usr_1"})
	if err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	if order.FulfillmentStatus != domain.OrderStatusCancelled || order.CancelledAt == nil {
		t.Fatalf("cancel not applied: %+v", order)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != EventOrderCancelled {
		t.Fatalf("unexpected events: %v", f.publisher.events)
	}

	f2 := newOrderServiceFixture(t)
	seedOrder(f2, func(o *domain.Order) {
		o.FulfillmentStatus = domain.OrderStatusShipped
	})
	if _, err := f2.service.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_seed", UserID: "usr_1"}); !errors.Is(err, ErrOrderNotCancellable) {
		t.Fatalf("expected ErrOrderNotCancellable, got %v", err)
	}
}

func TestCancelOrderHidesForeignOrders(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)

	if _, err := f.service.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_seed", UserID: "usr_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign order must read as not found, got %v", err)
	}
}

func TestRefundOrderPartialThenFull(t *testing.T) {
	f := newOrderServiceFixture(t)
	txID := "pi_123"
	seedOrder(f, func(o *domain.Order) {
		o.Payment.Status = domain.PaymentStatusPaid
		o.Payment.TransactionID = &txID
	})

	partial := 40.0
	order, err := f.service.RefundOrder(context.Background(), RefundOrderCommand{OrderID: "ord_seed", Amount: &partial})
	if err != nil {
		t.Fatalf("RefundOrder returned error: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusPartiallyRefunded || order.Payment.RefundAmount != 40 {
		t.Fatalf("partial refund not applied: %+v", order.Payment)
	}

	order, err = f.service.RefundOrder(context.Background(), RefundOrderCommand{OrderID: "ord_seed"})
	if err != nil {
		t.Fatalf("second RefundOrder returned error: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusRefunded || order.Payment.RefundAmount != 100 {
		t.Fatalf("full refund not applied: %+v", order.Payment)
	}

	if _, err := f.service.RefundOrder(context.Background(), RefundOrderCommand{OrderID: "ord_seed"}); !errors.Is(err, ErrOrderNotRefundable) {
		t.Fatalf("expected ErrOrderNotRefundable after full refund, got %v", err)
	}
}

func TestRefundOrderGuards(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)

	if _, err := f.service.RefundOrder(context.Background(), RefundOrderCommand{OrderID: "ord_seed"}); !errors.Is(err, ErrOrderNotRefundable) {
		t.Fatalf("expected ErrOrderNotRefundable for pending payment, got %v", err)
	}

	f2 := newOrderServiceFixture(t)
	seedOrder(f2, func(o *domain.Order) {
		o.Payment.Status = domain.PaymentStatusPaid
	})
	if _, err := f2.service.RefundOrder(context.Background(), RefundOrderCommand{OrderID: "ord_seed"}); !errors.Is(err, ErrOrderNotRefundable) {
		t.Fatalf("expected ErrOrderNotRefundable without transaction, got %v", err)
	}

	f3 := newOrderServiceFixture(t)
	txID := "pi_1"
	seedOrder(f3, func(o *domain.Order) {
		o.Payment.Status = domain.PaymentStatusPaid
		o.Payment.TransactionID = &txID
	})
	tooMuch := 500.0
	if _, err := f3.service.RefundOrder(context.Background(), RefundOrderCommand{OrderID: "ord_seed", Amount: &tooMuch}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for oversized refund, got %v", err)
	}
}

func TestUpdateOrderShippedSetsTimestampAndNotifies(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, func(o *domain.Order) {
		o.FulfillmentStatus = domain.OrderStatusProcessing
	})

	status := "shipped"
	order, err := f.service.UpdateOrder(context.Background(), UpdateOrderCommand{OrderID: "ord_seed", FulfillmentStatus: &status})
	if err != nil {
		t.Fatalf("UpdateOrder returned error: %v", err)
	}
	if order.FulfillmentStatus != domain.OrderStatusShipped || order.ShippedAt == nil {
		t.Fatalf("shipped transition not applied: %+v", order)
	}
	if len(f.notifications.calls) != 1 || f.notifications.calls[0] != "shipped" {
		t.Fatalf("unexpected notifications: %v", f.notifications.calls)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != EventOrderShipped {
		t.Fatalf("unexpected events: %v", f.publisher.events)
	}
}

func TestUpdateOrderRejectsUnknownStatus(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)

	status := "teleported"
	if _, err := f.service.UpdateOrder(context.Background(), UpdateOrderCommand{OrderID: "ord_seed", FulfillmentStatus: &status}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestGetOrderScopesToOwner(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)

	if _, err := f.service.GetOrder(context.Background(), "ord_seed", OrderReadOptions{UserID: "usr_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign order must read as not found, got %v", err)
	}
	if _, err := f.service.GetOrder(context.Background(), "ord_seed", OrderReadOptions{UserID: "usr_other", IsAdmin: true}); err != nil {
		t.Fatalf("admin read failed: %v", err)
	}
}

func TestQueryOrdersRejectsUnknownStatuses(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)

	bogus := "shippedd"
	if _, err := f.service.QueryOrders(context.Background(), OrderQuery{Status: &bogus}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown fulfillment status, got %v", err)
	}
	if _, err := f.service.QueryOrders(context.Background(), OrderQuery{PaymentStatus: &bogus}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown payment status, got %v", err)
	}

	paid := "pending"
	result, err := f.service.QueryOrders(context.Background(), OrderQuery{PaymentStatus: &paid})
	if err != nil {
		t.Fatalf("QueryOrders returned error: %v", err)
	}
	if len(result.Data) != 1 {
		t.Fatalf("expected the seeded order, got %d items", len(result.Data))
	}
}

func TestGetOrderByNumberRoundTrip(t *testing.T) {
	f := newOrderServiceFixture(t)

	created, err := f.service.CreateOrder(context.Background(), validCreateCommand())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	byNumber, err := f.service.GetOrderByNumber(context.Background(), created.OrderNumber, OrderReadOptions{UserID: created.UserID})
	if err != nil {
		t.Fatalf("GetOrderByNumber returned error: %v", err)
	}
	if byNumber.ID != created.ID {
		t.Fatalf("number lookup resolved a different order: %s != %s", byNumber.ID, created.ID)
	}

	byID, err := f.service.GetOrder(context.Background(), created.ID, OrderReadOptions{UserID: created.UserID})
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if byID.OrderNumber != created.OrderNumber {
		t.Fatalf("id lookup lost the order number: %s != %s", byID.OrderNumber, created.OrderNumber)
	}

	if _, err := f.service.GetOrderByNumber(context.Background(), created.OrderNumber, OrderReadOptions{UserID: "usr_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign number lookup must read as not found, got %v", err)
	}
	if _, err := f.service.GetOrderByNumber(context.Background(), "ORD-0-NOPE", OrderReadOptions{IsAdmin: true}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("unknown number must read as not found, got %v", err)
	}
}

func TestDeleteOrderSoftDeletesAndHides(t *testing.T) {
	f := newOrderServiceFixture(t)
	seedOrder(f, nil)

	if err := f.service.DeleteOrder(context.Background(), "ord_seed"); err != nil {
		t.Fatalf("DeleteOrder returned error: %v", err)
	}
	if !f.repo.orders["ord_seed"].IsDeleted {
		t.Fatal("order was not soft deleted")
	}
	if _, err := f.service.GetOrder(context.Background(), "ord_seed", OrderReadOptions{UserID: "usr_1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("deleted order must be hidden, got %v", err)
	}
	if _, err := f.service.GetOrder(context.Background(), "ord_seed", OrderReadOptions{IsAdmin: true, IncludeDeleted: true}); err != nil {
		t.Fatalf("admin includeDeleted read failed: %v", err)
	}
}

func TestEventPublishFailureIsNotFatal(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.publisher.err = errors.New("broker down")

	if _, err := f.service.CreateOrder(context.Background(), validCreateCommand()); err != nil {
		t.Fatalf("event publish failure must not fail checkout: %v", err)
	}
}
