package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorProductNotFound indicates the product document is missing.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorVariantNotFound indicates the variant is absent on the product.
	StockErrorVariantNotFound StockErrorCode = "stock_variant_not_found"
	// StockErrorNotConfigurable indicates a variant was supplied for a simple product.
	StockErrorNotConfigurable StockErrorCode = "stock_not_configurable"
	// StockErrorInsufficient indicates requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
)

// StockError wraps stock-specific failures with machine readable codes. SKU
// identifies the offending item when known.
type StockError struct {
	Op      string
	Code    StockErrorCode
	SKU     string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, sku string, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		SKU:     sku,
		Message: message,
		Err:     err,
	}
}
