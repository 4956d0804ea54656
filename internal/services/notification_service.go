package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

//go:embed templates/*.tmpl
var mailTemplateFS embed.FS

var (
	// ErrNotificationInvalidInput indicates a missing recipient or malformed payload.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationUnavailable indicates the mail transport rejected the message.
	ErrNotificationUnavailable = errors.New("notification: unavailable")
)

// NotificationServiceDeps wires the dependencies required by the notification service.
type NotificationServiceDeps struct {
	Mailer        Mailer
	StoreName     string
	StorefrontURL string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	mailer    Mailer
	templates *template.Template
	sanitize  *bluemonday.Policy
	printer   *message.Printer
	storeName string
	storeURL  string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewNotificationService constructs a NotificationService validating required dependencies.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Mailer == nil {
		return nil, errors.New("notification service: mailer is required")
	}

	templates, err := template.ParseFS(mailTemplateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("notification service: parse templates: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	storeName := strings.TrimSpace(deps.StoreName)
	if storeName == "" {
		storeName = "AmberCart"
	}

	return &notificationService{
		mailer:    deps.Mailer,
		templates: templates,
		sanitize:  bluemonday.StrictPolicy(),
		printer:   message.NewPrinter(language.English),
		storeName: storeName,
		storeURL:  strings.TrimSpace(deps.StorefrontURL),
		logger:    logger,
	}, nil
}

type mailLineItem struct {
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

type orderMailData struct {
	FirstName    string
	OrderNumber  string
	Items        []mailLineItem
	SubTotal     string
	Tax          string
	Shipping     string
	Discount     string
	GrandTotal   string
	RefundAmount string
	ReceiptURL   string
	Reason       string
	ShippingLine string
	OrderURL     string
	StoreName    string
	StoreURL     string
}

// SendOrderConfirmation emails the full order summary after checkout.
func (s *notificationService) SendOrderConfirmation(ctx context.Context, order Order, recipient string) error {
	data := s.orderData(order)
	return s.send(ctx, "order_confirmation", recipient,
		fmt.Sprintf("Order %s confirmed", order.OrderNumber), data)
}

// SendPaymentReceived emails the payment confirmation with the receipt link.
func (s *notificationService) SendPaymentReceived(ctx context.Context, order Order, recipient string) error {
	data := s.orderData(order)
	if order.Payment.ReceiptURL != nil {
		data.ReceiptURL = *order.Payment.ReceiptURL
	}
	return s.send(ctx, "payment_received", recipient,
		fmt.Sprintf("Payment received for order %s", order.OrderNumber), data)
}

// SendOrderCancelled emails the cancellation notice.
func (s *notificationService) SendOrderCancelled(ctx context.Context, order Order, recipient string) error {
	data := s.orderData(order)
	if order.Notes != nil {
		data.Reason = s.clean(*order.Notes)
	}
	return s.send(ctx, "order_cancelled", recipient,
		fmt.Sprintf("Order %s cancelled", order.OrderNumber), data)
}

// SendOrderShipped emails the shipping notice.
func (s *notificationService) SendOrderShipped(ctx context.Context, order Order, recipient string) error {
	data := s.orderData(order)
	addr := order.ShippingAddress
	data.ShippingLine = s.clean(strings.Join([]string{addr.Street, addr.City, addr.PostalCode, addr.Country}, ", "))
	return s.send(ctx, "order_shipped", recipient,
		fmt.Sprintf("Order %s has shipped", order.OrderNumber), data)
}

// SendOrderDelivered emails the delivery notice.
func (s *notificationService) SendOrderDelivered(ctx context.Context, order Order, recipient string) error {
	return s.send(ctx, "order_delivered", recipient,
		fmt.Sprintf("Order %s delivered", order.OrderNumber), s.orderData(order))
}

// SendRefundIssued emails the refund confirmation.
func (s *notificationService) SendRefundIssued(ctx context.Context, order Order, recipient string, amount float64) error {
	data := s.orderData(order)
	data.RefundAmount = s.money(order.Currency, amount)
	return s.send(ctx, "refund_issued", recipient,
		fmt.Sprintf("Refund issued for order %s", order.OrderNumber), data)
}

// SendWelcomeCoupon emails the welcome discount to a new subscriber.
func (s *notificationService) SendWelcomeCoupon(ctx context.Context, subscriber NewsletterSubscriber, coupon Coupon) error {
	firstName := ""
	if subscriber.FirstName != nil {
		firstName = s.clean(*subscriber.FirstName)
	}
	data := map[string]any{
		"FirstName":       firstName,
		"CouponCode":      coupon.Code,
		"DiscountPercent": s.printer.Sprintf("%v", number.Decimal(coupon.DiscountPercent)),
		"ExpiresAt":       "",
		"StoreName":       s.storeName,
		"StoreURL":        s.storeURL,
	}
	if coupon.ExpiresAt != nil {
		data["ExpiresAt"] = coupon.ExpiresAt.Format("January 2, 2006")
	}
	return s.send(ctx, "welcome_coupon", subscriber.Email,
		fmt.Sprintf("Your %s welcome code", s.storeName), data)
}

func (s *notificationService) orderData(order Order) orderMailData {
	items := make([]mailLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, mailLineItem{
			Name:      s.clean(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: s.money(order.Currency, item.UnitPrice),
			LineTotal: s.money(order.Currency, item.LineTotal),
		})
	}

	discount := ""
	if order.Discount > 0 {
		discount = s.money(order.Currency, order.Discount)
	}

	orderURL := s.storeURL
	if orderURL != "" {
		orderURL = strings.TrimRight(orderURL, "/") + "/orders/" + order.ID
	}

	return orderMailData{
		FirstName:   s.clean(order.ShippingAddress.FirstName),
		OrderNumber: order.OrderNumber,
		Items:       items,
		SubTotal:    s.money(order.Currency, order.SubTotal),
		Tax:         s.money(order.Currency, order.Tax),
		Shipping:    s.money(order.Currency, order.Shipping),
		Discount:    discount,
		GrandTotal:  s.money(order.Currency, order.GrandTotal),
		OrderURL:    orderURL,
		StoreName:   s.storeName,
		StoreURL:    s.storeURL,
	}
}

func (s *notificationService) send(ctx context.Context, templateName, recipient, subject string, data any) error {
	if s == nil || s.mailer == nil {
		return ErrNotificationUnavailable
	}
	to := strings.TrimSpace(recipient)
	if to == "" {
		return ErrNotificationInvalidInput
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("notification: render %s: %w", templateName, err)
	}

	if err := s.mailer.Send(ctx, MailMessage{
		To:       to,
		Subject:  subject,
		HTMLBody: body.String(),
	}); err != nil {
		s.logger(ctx, "notification.send_failed", map[string]any{
			"template":  templateName,
			"recipient": to,
			"error":     err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrNotificationUnavailable, err)
	}

	s.logger(ctx, "notification.sent", map[string]any{
		"template":  templateName,
		"recipient": to,
	})
	return nil
}

func (s *notificationService) clean(value string) string {
	return strings.TrimSpace(s.sanitize.Sanitize(value))
}

func (s *notificationService) money(currency string, amount float64) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	formatted := s.printer.Sprintf("%v", number.Decimal(amount,
		number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	if code == "" {
		return formatted
	}
	return code + " " + formatted
}

// logMailer writes outbound mail to the event logger instead of a transport.
// Used in environments without SMTP credentials.
type logMailer struct {
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewLogMailer constructs a Mailer that records messages without sending them.
func NewLogMailer(logger func(ctx context.Context, event string, fields map[string]any)) Mailer {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &logMailer{logger: logger}
}

func (m *logMailer) Send(ctx context.Context, msg MailMessage) error {
	m.logger(ctx, "mail.logged", map[string]any{
		"to":      msg.To,
		"subject": msg.Subject,
		"bytes":   len(msg.HTMLBody),
	})
	return nil
}
