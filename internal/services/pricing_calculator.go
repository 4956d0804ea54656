package services

import (
	"errors"
	"math"
	"strings"
)

var (
	// ErrPricingInvalidInput signals bad request data such as missing items or negative prices.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// PricedItem is a line item with its extended total computed.
type PricedItem struct {
	ProductID string
	VariantID *string
	Name      string
	SKU       string
	UnitPrice float64
	Quantity  int
	Discount  float64
	LineTotal float64
}

// PriceQuote is the order-level pricing breakdown. The identity
// grandTotal = subTotal + tax + shipping - discount holds to within a cent.
type PriceQuote struct {
	Items      []PricedItem
	SubTotal   float64
	Tax        float64
	Shipping   float64
	Discount   float64
	GrandTotal float64
}

// PricingCalculator computes order totals from line items and a discount rate.
// It is pure: no clock, no storage, no side effects.
type PricingCalculator struct{}

// NewPricingCalculator constructs the calculator.
func NewPricingCalculator() *PricingCalculator {
	return &PricingCalculator{}
}

// Quote prices the submitted items. discountRate is a percentage in [0, 100]
// applied to the subtotal after per-item discounts.
func (c *PricingCalculator) Quote(items []OrderItemInput, tax, shipping, discountRate float64) (PriceQuote, error) {
	if len(items) == 0 {
		return PriceQuote{}, ErrPricingInvalidInput
	}
	if tax < 0 || shipping < 0 || discountRate < 0 || discountRate > 100 {
		return PriceQuote{}, ErrPricingInvalidInput
	}

	priced := make([]PricedItem, 0, len(items))
	subTotal := 0.0
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity <= 0 || item.UnitPrice < 0 {
			return PriceQuote{}, ErrPricingInvalidInput
		}
		itemDiscount := 0.0
		if item.Discount != nil {
			itemDiscount = *item.Discount
		}
		if itemDiscount < 0 {
			return PriceQuote{}, ErrPricingInvalidInput
		}
		lineTotal := item.UnitPrice*float64(item.Quantity) - itemDiscount
		if lineTotal < 0 {
			lineTotal = 0
		}
		priced = append(priced, PricedItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			SKU:       item.SKU,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Discount:  itemDiscount,
			LineTotal: roundCents(lineTotal),
		})
		subTotal += lineTotal
	}

	subTotal = roundCents(subTotal)
	discount := roundCents(subTotal * discountRate / 100)
	grandTotal := roundCents(subTotal + tax + shipping - discount)
	if grandTotal < 0 {
		grandTotal = 0
	}

	return PriceQuote{
		Items:      priced,
		SubTotal:   subTotal,
		Tax:        tax,
		Shipping:   shipping,
		Discount:   discount,
		GrandTotal: grandTotal,
	}, nil
}

func roundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}
