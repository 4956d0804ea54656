package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

type eventConstructor func(payload []byte, header string, secret string) (stripe.Event, error)

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
	Construct     eventConstructor
}

// StripeProvider implements the Provider interface against Stripe Checkout.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	successURL    string
	cancelURL     string
	construct     eventConstructor
	clock         func() time.Time
	logger        StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			refunds:  sc.Refunds,
		}
	}
	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	construct := cfg.Construct
	if construct == nil {
		construct = webhook.ConstructEvent
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		successURL:    strings.TrimSpace(cfg.SuccessURL),
		cancelURL:     strings.TrimSpace(cfg.CancelURL),
		construct:     construct,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session for the order. The
// order id travels in both the session and payment intent metadata so webhook
// events can be routed back.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return CheckoutSession{}, errors.New("stripe: order id is required")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	metadata := map[string]string{
		"orderId":     req.OrderID,
		"orderNumber": req.OrderNumber,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(defaultString(req.SuccessURL, p.successURL)),
		CancelURL:  stripe.String(defaultString(req.CancelURL, p.cancelURL)),
		Metadata:   metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(ToMinorUnits(item.UnitPrice, currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		lineItems = append(lineItems, line)
	}
	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(ToMinorUnits(req.Amount, currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderNumber),
				},
			},
		})
	}
	params.LineItems = lineItems

	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":   session.ID,
		"orderId":     req.OrderID,
		"orderNumber": req.OrderNumber,
		"currency":    currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		IntentID:    intentID,
		ExpiresAt:   expiresAt,
	}, nil
}

// CreateRefund issues a refund against the captured payment intent.
func (p *StripeProvider) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	if p == nil {
		return Refund{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return Refund{}, errors.New("stripe: transaction id is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
		Amount:        stripe.Int64(ToMinorUnits(req.Amount, currency)),
		Metadata: map[string]string{
			"orderId": req.OrderID,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}

	status := StatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = StatusFailed
	}

	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"refundId":      refund.ID,
		"paymentIntent": req.TransactionID,
		"orderId":       req.OrderID,
		"status":        string(status),
	})

	return Refund{
		ID:     refund.ID,
		Amount: FromMinorUnits(refund.Amount, currency),
		Status: status,
	}, nil
}

// VerifyWebhook authenticates the payload against the Stripe-Signature header
// and maps the event to a normalised outcome.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (WebhookResult, error) {
	if p == nil {
		return WebhookResult{}, errors.New("stripe: provider is nil")
	}

	event, err := p.construct(payload, signature, p.webhookSecret)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := WebhookResult{
		EventID:   event.ID,
		EventType: string(event.Type),
		Outcome:   OutcomeIgnored,
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return WebhookResult{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
		}
		result.OrderID = session.Metadata["orderId"]
		result.PaymentMethod = "stripe"
		if session.PaymentIntent != nil {
			result.TransactionID = session.PaymentIntent.ID
		}
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			result.Outcome = OutcomeSuccess
		}

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookResult{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		result.OrderID = intent.Metadata["orderId"]
		result.TransactionID = intent.ID
		result.PaymentMethod = "stripe"
		if event.Type == "payment_intent.succeeded" {
			result.Outcome = OutcomeSuccess
		} else {
			result.Outcome = OutcomeFailure
		}
		if charge := intent.LatestCharge; charge != nil && charge.ReceiptURL != "" {
			url := charge.ReceiptURL
			result.ReceiptURL = &url
		}

	default:
		return result, nil
	}

	if result.Outcome != OutcomeIgnored && strings.TrimSpace(result.OrderID) == "" {
		return WebhookResult{}, ErrMissingOrderReference
	}
	return result, nil
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
