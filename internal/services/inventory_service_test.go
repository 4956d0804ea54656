package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/repositories"
)

type stubProductRepository struct {
	findByIDFn       func(ctx context.Context, productID string) (domain.Product, error)
	decrementStockFn func(ctx context.Context, productID string, variantID *string, quantity int) error
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	return s.findByIDFn(ctx, productID)
}

func (s *stubProductRepository) DecrementStock(ctx context.Context, productID string, variantID *string, quantity int) error {
	return s.decrementStockFn(ctx, productID, variantID, quantity)
}

func newInventoryService(t *testing.T, repo repositories.ProductRepository) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}
	return svc
}

func strPtr(v string) *string { return &v }

func TestCheckAvailabilitySimpleProduct(t *testing.T) {
	repo := &stubProductRepository{
		findByIDFn: func(_ context.Context, productID string) (domain.Product, error) {
			return domain.Product{ID: productID, SKU: "MUG-1", StockQuantity: 3}, nil
		},
	}
	svc := newInventoryService(t, repo)

	err := svc.CheckAvailability(context.Background(), []StockLine{{ProductID: "p1", Quantity: 3}})
	if err != nil {
		t.Fatalf("expected availability, got %v", err)
	}

	err = svc.CheckAvailability(context.Background(), []StockLine{{ProductID: "p1", Quantity: 4}})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "MUG-1") {
		t.Fatalf("error should name the offending sku: %v", err)
	}
}

func TestCheckAvailabilityVariantRules(t *testing.T) {
	repo := &stubProductRepository{
		findByIDFn: func(_ context.Context, productID string) (domain.Product, error) {
			if productID == "simple" {
				return domain.Product{ID: productID, SKU: "S-1", StockQuantity: 10}, nil
			}
			return domain.Product{
				ID:             productID,
				SKU:            "TEE-1",
				IsConfigurable: true,
				Variants: []domain.ProductVariant{
					{ID: "v1", SKU: "TEE-1-S", StockQuantity: 2},
				},
			}, nil
		},
	}
	svc := newInventoryService(t, repo)

	err := svc.CheckAvailability(context.Background(), []StockLine{{ProductID: "simple", VariantID: strPtr("v1"), Quantity: 1}})
	if !errors.Is(err, ErrInventoryNotConfigurable) {
		t.Fatalf("expected not configurable, got %v", err)
	}

	err = svc.CheckAvailability(context.Background(), []StockLine{{ProductID: "tee", VariantID: strPtr("missing"), Quantity: 1}})
	if !errors.Is(err, ErrInventoryVariantNotFound) {
		t.Fatalf("expected variant not found, got %v", err)
	}

	err = svc.CheckAvailability(context.Background(), []StockLine{{ProductID: "tee", VariantID: strPtr("v1"), Quantity: 3}})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	err = svc.CheckAvailability(context.Background(), []StockLine{{ProductID: "tee", VariantID: strPtr("v1"), Quantity: 2}})
	if err != nil {
		t.Fatalf("expected availability, got %v", err)
	}
}

func TestCheckAvailabilityProductNotFound(t *testing.T) {
	repo := &stubProductRepository{
		findByIDFn: func(context.Context, string) (domain.Product, error) {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, "", "product not found", nil)
		},
	}
	svc := newInventoryService(t, repo)

	err := svc.CheckAvailability(context.Background(), []StockLine{{ProductID: "ghost", Quantity: 1}})
	if !errors.Is(err, ErrInventoryProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestReserveItemsStopsOnFirstFailure(t *testing.T) {
	var decremented []string
	repo := &stubProductRepository{
		decrementStockFn: func(_ context.Context, productID string, _ *string, _ int) error {
			decremented = append(decremented, productID)
			if productID == "p2" {
				return repositories.NewStockError(repositories.StockErrorInsufficient, "TEE-1", "insufficient", nil)
			}
			return nil
		},
	}
	svc := newInventoryService(t, repo)

	err := svc.ReserveItems(context.Background(), []StockLine{
		{ProductID: "p1", SKU: "MUG-1", Quantity: 1},
		{ProductID: "p2", SKU: "TEE-1", Quantity: 2},
		{ProductID: "p3", SKU: "STK-1", Quantity: 1},
	})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "TEE-1") {
		t.Fatalf("error should name the offending sku: %v", err)
	}
	if len(decremented) != 2 {
		t.Fatalf("expected reservation to stop after failure, got %v", decremented)
	}
}

func TestReserveItemsValidatesInput(t *testing.T) {
	svc := newInventoryService(t, &stubProductRepository{})

	if err := svc.ReserveItems(context.Background(), nil); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for empty lines, got %v", err)
	}
	if err := svc.ReserveItems(context.Background(), []StockLine{{ProductID: "", Quantity: 1}}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for blank product, got %v", err)
	}
	if err := svc.ReserveItems(context.Background(), []StockLine{{ProductID: "p1", Quantity: 0}}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
}
