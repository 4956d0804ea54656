package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ambercart/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates the caller supplied invalid stock lines.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryProductNotFound indicates a referenced product does not exist.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
	// ErrInventoryVariantNotFound indicates the variant is absent on the product.
	ErrInventoryVariantNotFound = errors.New("inventory: variant not found")
	// ErrInventoryNotConfigurable indicates a variant was supplied for a simple product.
	ErrInventoryNotConfigurable = errors.New("inventory: product is not configurable")
	// ErrInventoryInsufficientStock indicates requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryUnavailable indicates inventory dependencies are currently unavailable.
	ErrInventoryUnavailable = errors.New("inventory: unavailable")
)

// InventoryServiceDeps wires the dependencies required by the inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewInventoryService constructs an InventoryService validating required dependencies.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		products: deps.Products,
		logger:   logger,
	}, nil
}

// CheckAvailability reads current stock for every line without mutating it.
// The authoritative guard is ReserveItems; this pass rejects obviously
// unfulfillable requests before anything is persisted.
func (s *inventoryService) CheckAvailability(ctx context.Context, lines []StockLine) error {
	if s == nil || s.products == nil {
		return ErrInventoryUnavailable
	}
	if err := validateStockLines(lines); err != nil {
		return err
	}

	for _, line := range lines {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return s.translateStockError(err)
		}

		if line.VariantID == nil || strings.TrimSpace(*line.VariantID) == "" {
			if product.StockQuantity < line.Quantity {
				return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, product.SKU)
			}
			continue
		}

		if !product.IsConfigurable {
			return fmt.Errorf("%w: %s", ErrInventoryNotConfigurable, line.ProductID)
		}
		found := false
		for _, variant := range product.Variants {
			if variant.ID != strings.TrimSpace(*line.VariantID) {
				continue
			}
			found = true
			if variant.StockQuantity < line.Quantity {
				return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, variant.SKU)
			}
			break
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrInventoryVariantNotFound, *line.VariantID)
		}
	}
	return nil
}

// ReserveItems decrements stock for every line. Each decrement is an atomic
// conditional update, so two orders cannot both consume the last unit.
func (s *inventoryService) ReserveItems(ctx context.Context, lines []StockLine) error {
	if s == nil || s.products == nil {
		return ErrInventoryUnavailable
	}
	if err := validateStockLines(lines); err != nil {
		return err
	}

	for _, line := range lines {
		if err := s.products.DecrementStock(ctx, line.ProductID, line.VariantID, line.Quantity); err != nil {
			s.logger(ctx, "inventory.reserve_failed", map[string]any{
				"productId": line.ProductID,
				"sku":       line.SKU,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
			return s.translateStockError(err)
		}
	}
	return nil
}

func validateStockLines(lines []StockLine) error {
	if len(lines) == 0 {
		return ErrInventoryInvalidInput
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
			return ErrInventoryInvalidInput
		}
	}
	return nil
}

func (s *inventoryService) translateStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryProductNotFound, stockErr.Message)
		case repositories.StockErrorVariantNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryVariantNotFound, stockErr.Message)
		case repositories.StockErrorNotConfigurable:
			return fmt.Errorf("%w: %s", ErrInventoryNotConfigurable, stockErr.Message)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, stockErr.SKU)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrInventoryProductNotFound
	}
	return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
}

// stockLinesFromItems converts priced order items into stock lines.
func stockLinesFromItems(items []PricedItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		})
	}
	return lines
}
