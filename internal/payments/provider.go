package payments

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// WebhookOutcome is the normalised verdict extracted from a PSP webhook event.
type WebhookOutcome string

const (
	// OutcomeSuccess indicates the payment completed and the order may be marked paid.
	OutcomeSuccess WebhookOutcome = "success"
	// OutcomeFailure indicates the payment attempt failed.
	OutcomeFailure WebhookOutcome = "failure"
	// OutcomeIgnored indicates an event type the pipeline does not act on.
	OutcomeIgnored WebhookOutcome = "ignored"
)

// ErrInvalidSignature is returned when webhook signature verification fails.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// ErrMissingOrderReference is returned when a webhook event carries no order id.
var ErrMissingOrderReference = errors.New("payments: webhook event missing order reference")

// CheckoutLineItem describes a single line item to include in a checkout session.
// Amounts are in major currency units; adapters convert to minor units.
type CheckoutLineItem struct {
	Name      string
	SKU       string
	Quantity  int64
	UnitPrice float64
}

// CheckoutSessionRequest captures the payload required to create a hosted
// checkout session for an order.
type CheckoutSessionRequest struct {
	OrderID        string
	OrderNumber    string
	CustomerEmail  string
	Currency       string
	Amount         float64
	Items          []CheckoutLineItem
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// RefundRequest defines a PSP refund attempt against a captured transaction.
type RefundRequest struct {
	OrderID        string
	TransactionID  string
	Amount         float64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Refund is the normalised refund record returned by the PSP.
type Refund struct {
	ID     string
	Amount float64
	Status Status
}

// WebhookResult is the normalised payload extracted from a verified event.
type WebhookResult struct {
	EventID       string
	EventType     string
	Outcome       WebhookOutcome
	OrderID       string
	TransactionID string
	PaymentMethod string
	ReceiptURL    *string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Refund, error)
	// VerifyWebhook authenticates the raw event payload against its signature
	// header and extracts the order outcome. Unauthenticated payloads fail
	// with ErrInvalidSignature.
	VerifyWebhook(payload []byte, signature string) (WebhookResult, error)
}

// zeroDecimalCurrencies lists ISO codes whose minor unit equals the major unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// ToMinorUnits converts a major-unit amount to the PSP integer representation.
func ToMinorUnits(amount float64, currency string) int64 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return int64(amount + 0.5)
	}
	return int64(amount*100 + 0.5)
}

// FromMinorUnits converts a PSP integer amount back to major units.
func FromMinorUnits(amount int64, currency string) float64 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return float64(amount)
	}
	return float64(amount) / 100
}
