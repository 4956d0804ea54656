package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/ambercart/api/internal/domain"
	pfirestore "github.com/ambercart/api/internal/platform/firestore"
	"github.com/ambercart/api/internal/repositories"
)

const (
	orderCollection   = "orders"
	defaultOrderLimit = 20
	maxOrderLimit     = 100
)

var paidLikeStatuses = []string{
	string(domain.PaymentStatusPaid),
	string(domain.PaymentStatusPartiallyRefunded),
	string(domain.PaymentStatusRefunded),
}

// OrderRepository persists order aggregates in Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

type orderDocument struct {
	OrderNumber       string              `firestore:"orderNumber"`
	UserID            string              `firestore:"userId"`
	Items             []orderItemDocument `firestore:"items"`
	SubTotal          float64             `firestore:"subTotal"`
	Tax               float64             `firestore:"tax"`
	Shipping          float64             `firestore:"shipping"`
	Discount          float64             `firestore:"discount"`
	DiscountCode      *string             `firestore:"discountCode,omitempty"`
	GrandTotal        float64             `firestore:"grandTotal"`
	Currency          string              `firestore:"currency"`
	ShippingAddress   addressDocument     `firestore:"shippingAddress"`
	BillingAddress    *addressDocument    `firestore:"billingAddress,omitempty"`
	Payment           paymentDocument     `firestore:"payment"`
	FulfillmentStatus string              `firestore:"fulfillmentStatus"`
	Notes             *string             `firestore:"notes,omitempty"`
	IsDeleted         bool                `firestore:"isDeleted"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	ShippedAt         *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string  `firestore:"productId"`
	VariantID *string `firestore:"variantId,omitempty"`
	Name      string  `firestore:"name"`
	SKU       string  `firestore:"sku"`
	UnitPrice float64 `firestore:"unitPrice"`
	Quantity  int     `firestore:"quantity"`
	Discount  float64 `firestore:"discount"`
	LineTotal float64 `firestore:"lineTotal"`
}

type addressDocument struct {
	FirstName  string  `firestore:"firstName"`
	LastName   string  `firestore:"lastName"`
	Email      string  `firestore:"email"`
	Phone      *string `firestore:"phone,omitempty"`
	Street     string  `firestore:"street"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
}

type paymentDocument struct {
	Method        string     `firestore:"method"`
	Status        string     `firestore:"status"`
	TransactionID *string    `firestore:"transactionId,omitempty"`
	ReceiptURL    *string    `firestore:"receiptUrl,omitempty"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
	RefundedAt    *time.Time `firestore:"refundedAt,omitempty"`
	RefundAmount  float64    `firestore:"refundAmount"`
	RefundID      *string    `firestore:"refundId,omitempty"`
}

// encodeOrder is the single storage mapping for orders.
func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
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

	doc := orderDocument{
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Items:             items,
		SubTotal:          order.SubTotal,
		Tax:               order.Tax,
		Shipping:          order.Shipping,
		Discount:          order.Discount,
		DiscountCode:      order.DiscountCode,
		GrandTotal:        order.GrandTotal,
		Currency:          strings.ToUpper(strings.TrimSpace(order.Currency)),
		ShippingAddress:   encodeAddress(order.ShippingAddress),
		Payment:           encodePayment(order.Payment),
		FulfillmentStatus: string(order.FulfillmentStatus),
		Notes:             order.Notes,
		IsDeleted:         order.IsDeleted,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
		CancelledAt:       order.CancelledAt,
	}
	if order.BillingAddress != nil {
		billing := encodeAddress(*order.BillingAddress)
		doc.BillingAddress = &billing
	}
	return doc
}

// toDomain maps the storage identifier onto the public id field.
func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
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

	order := domain.Order{
		ID:                id,
		OrderNumber:       d.OrderNumber,
		UserID:            d.UserID,
		Items:             items,
		SubTotal:          d.SubTotal,
		Tax:               d.Tax,
		Shipping:          d.Shipping,
		Discount:          d.Discount,
		DiscountCode:      d.DiscountCode,
		GrandTotal:        d.GrandTotal,
		Currency:          d.Currency,
		ShippingAddress:   d.ShippingAddress.toDomain(),
		Payment:           d.Payment.toDomain(),
		FulfillmentStatus: domain.OrderStatus(d.FulfillmentStatus),
		Notes:             d.Notes,
		IsDeleted:         d.IsDeleted,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		ShippedAt:         d.ShippedAt,
		DeliveredAt:       d.DeliveredAt,
		CancelledAt:       d.CancelledAt,
	}
	if d.BillingAddress != nil {
		billing := d.BillingAddress.toDomain()
		order.BillingAddress = &billing
	}
	return order
}

func encodeAddress(addr domain.Address) addressDocument {
	return addressDocument{
		FirstName:  strings.TrimSpace(addr.FirstName),
		LastName:   strings.TrimSpace(addr.LastName),
		Email:      strings.ToLower(strings.TrimSpace(addr.Email)),
		Phone:      addr.Phone,
		Street:     strings.TrimSpace(addr.Street),
		City:       strings.TrimSpace(addr.City),
		State:      addr.State,
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		Email:      d.Email,
		Phone:      d.Phone,
		Street:     d.Street,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
	}
}

func encodePayment(payment domain.PaymentInfo) paymentDocument {
	return paymentDocument{
		Method:        strings.ToLower(strings.TrimSpace(payment.Method)),
		Status:        string(payment.Status),
		TransactionID: payment.TransactionID,
		ReceiptURL:    payment.ReceiptURL,
		PaidAt:        payment.PaidAt,
		RefundedAt:    payment.RefundedAt,
		RefundAmount:  payment.RefundAmount,
		RefundID:      payment.RefundID,
	}
}

func (d paymentDocument) toDomain() domain.PaymentInfo {
	return domain.PaymentInfo{
		Method:        d.Method,
		Status:        domain.PaymentStatus(d.Status),
		TransactionID: d.TransactionID,
		ReceiptURL:    d.ReceiptURL,
		PaidAt:        d.PaidAt,
		RefundedAt:    d.RefundedAt,
		RefundAmount:  d.RefundAmount,
		RefundID:      d.RefundID,
	}
}

// Insert creates the order document, failing on duplicate identifiers.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the full order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Set(ctx, order.ID, encodeOrder(order))
	return err
}

// UpdatePayment applies targeted dotted-field updates beneath payment.*.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID string, fields map[string]any, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if len(fields) == 0 {
		return errors.New("order repository: payment update requires fields")
	}

	paths := make([]string, 0, len(fields))
	for key := range fields {
		paths = append(paths, key)
	}
	sort.Strings(paths)

	updates := make([]firestore.Update, 0, len(fields)+1)
	for _, key := range paths {
		updates = append(updates, firestore.Update{Path: "payment." + key, Value: fields[key]})
	}
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: updatedAt.UTC()})

	_, err := r.base.Update(ctx, orderID, updates)
	return err
}

// FindByID fetches an order, excluding soft-deleted documents unless asked.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string, includeDeleted bool) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if doc.Data.IsDeleted && !includeDeleted {
		return domain.Order{}, pfirestore.WrapError("orders.get", status.Error(codes.NotFound, "order is deleted"))
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByNumber resolves the human-readable order number to the order.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", number).Where("isDeleted", "==", false).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", status.Error(codes.NotFound, "order not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns a filtered, offset-paginated page of orders.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.PagedResult[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.PagedResult[domain.Order]{}, errors.New("order repository not initialised")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultOrderLimit
	}
	if limit > maxOrderLimit {
		limit = maxOrderLimit
	}

	baseline := func(q firestore.Query) firestore.Query {
		if !filter.IncludeDeleted {
			q = q.Where("isDeleted", "==", false)
		}
		return q
	}
	filtered := func(q firestore.Query) firestore.Query {
		q = baseline(q)
		if strings.TrimSpace(filter.UserID) != "" {
			q = q.Where("userId", "==", strings.TrimSpace(filter.UserID))
		}
		if filter.Status != nil {
			q = q.Where("fulfillmentStatus", "==", string(*filter.Status))
		}
		if filter.PaymentStatus != nil {
			q = q.Where("payment.status", "==", string(*filter.PaymentStatus))
		}
		if search := strings.TrimSpace(filter.OrderNumberSearch); search != "" {
			// Prefix match over the lexicographically ordered order numbers.
			q = q.Where("orderNumber", ">=", search).Where("orderNumber", "<", search+"\uf8ff")
		}
		if filter.CreatedFrom != nil {
			q = q.Where("createdAt", ">=", filter.CreatedFrom.UTC())
		}
		if filter.CreatedTo != nil {
			q = q.Where("createdAt", "<", filter.CreatedTo.UTC())
		}
		if filter.MinTotal != nil {
			q = q.Where("grandTotal", ">=", *filter.MinTotal)
		}
		if filter.MaxTotal != nil {
			q = q.Where("grandTotal", "<=", *filter.MaxTotal)
		}
		return q
	}

	totalCount, err := r.base.Count(ctx, baseline)
	if err != nil {
		return domain.PagedResult[domain.Order]{}, err
	}
	filterCount, err := r.base.Count(ctx, filtered)
	if err != nil {
		return domain.PagedResult[domain.Order]{}, err
	}

	sortField := strings.TrimSpace(filter.SortField)
	if sortField == "" {
		sortField = "createdAt"
	}
	direction := firestore.Asc
	if filter.SortDesc || filter.SortField == "" {
		direction = firestore.Desc
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = filtered(q)
		q = q.OrderBy(sortField, direction)
		return q.Offset((page - 1) * limit).Limit(limit)
	})
	if err != nil {
		return domain.PagedResult[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	totalPages := int((filterCount + int64(limit) - 1) / int64(limit))
	return domain.PagedResult[domain.Order]{
		Data:            orders,
		TotalCount:      totalCount,
		FilterCount:     filterCount,
		Page:            page,
		Limit:           limit,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1 && filterCount > 0,
	}, nil
}

// SoftDelete flags the order as deleted without removing the document.
func (r *OrderRepository) SoftDelete(ctx context.Context, orderID string, deletedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	_, err := r.base.Update(ctx, orderID, []firestore.Update{
		{Path: "isDeleted", Value: true},
		{Path: "updatedAt", Value: deletedAt.UTC()},
	})
	return err
}

// Analytics aggregates dashboard figures over non-deleted orders.
func (r *OrderRepository) Analytics(ctx context.Context, now time.Time) (domain.OrderAnalytics, error) {
	if r == nil || r.base == nil {
		return domain.OrderAnalytics{}, errors.New("order repository not initialised")
	}

	now = now.UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startOfWeek := startOfDay.AddDate(0, 0, -int((now.Weekday()+6)%7))
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	quarterStart := startOfMonth.AddDate(0, -3, 0)

	live := func(q firestore.Query) firestore.Query {
		return q.Where("isDeleted", "==", false)
	}
	paid := func(q firestore.Query) firestore.Query {
		return live(q).Where("payment.status", "in", paidLikeStatuses)
	}

	var analytics domain.OrderAnalytics
	var err error

	if analytics.TotalOrders, err = r.base.Count(ctx, live); err != nil {
		return domain.OrderAnalytics{}, fmt.Errorf("analytics: total orders: %w", err)
	}
	if analytics.OrdersToday, err = r.base.Count(ctx, func(q firestore.Query) firestore.Query {
		return live(q).Where("createdAt", ">=", startOfDay)
	}); err != nil {
		return domain.OrderAnalytics{}, fmt.Errorf("analytics: orders today: %w", err)
	}
	if analytics.TotalRevenue, err = r.base.Sum(ctx, "grandTotal", paid); err != nil {
		return domain.OrderAnalytics{}, fmt.Errorf("analytics: total revenue: %w", err)
	}
	if analytics.RevenueThisWeek, err = r.base.Sum(ctx, "grandTotal", func(q firestore.Query) firestore.Query {
		return paid(q).Where("createdAt", ">=", startOfWeek)
	}); err != nil {
		return domain.OrderAnalytics{}, fmt.Errorf("analytics: revenue this week: %w", err)
	}

	statusCounts := map[domain.OrderStatus]*int64{
		domain.OrderStatusPending:    &analytics.PendingOrders,
		domain.OrderStatusProcessing: &analytics.ProcessingOrders,
		domain.OrderStatusShipped:    &analytics.ShippedOrders,
	}
	for orderStatus, target := range statusCounts {
		count, countErr := r.base.Count(ctx, func(q firestore.Query) firestore.Query {
			return live(q).Where("fulfillmentStatus", "==", string(orderStatus))
		})
		if countErr != nil {
			return domain.OrderAnalytics{}, fmt.Errorf("analytics: %s orders: %w", orderStatus, countErr)
		}
		*target = count
	}

	monthAvg, err := r.averageOrderValue(ctx, startOfMonth, now.Add(time.Second))
	if err != nil {
		return domain.OrderAnalytics{}, err
	}
	quarterAvg, err := r.averageOrderValue(ctx, quarterStart, startOfMonth)
	if err != nil {
		return domain.OrderAnalytics{}, err
	}
	analytics.AvgOrderValueMonth = monthAvg
	analytics.AvgOrderValueQuarter = quarterAvg

	return analytics, nil
}

func (r *OrderRepository) averageOrderValue(ctx context.Context, from, to time.Time) (float64, error) {
	window := func(q firestore.Query) firestore.Query {
		return q.Where("isDeleted", "==", false).
			Where("createdAt", ">=", from).
			Where("createdAt", "<", to)
	}
	count, err := r.base.Count(ctx, window)
	if err != nil {
		return 0, fmt.Errorf("analytics: order count %s..%s: %w", from.Format(time.DateOnly), to.Format(time.DateOnly), err)
	}
	if count == 0 {
		return 0, nil
	}
	sum, err := r.base.Sum(ctx, "grandTotal", window)
	if err != nil {
		return 0, fmt.Errorf("analytics: revenue %s..%s: %w", from.Format(time.DateOnly), to.Format(time.DateOnly), err)
	}
	return sum / float64(count), nil
}
