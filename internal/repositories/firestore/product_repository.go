package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/ambercart/api/internal/domain"
	pfirestore "github.com/ambercart/api/internal/platform/firestore"
	"github.com/ambercart/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads catalog stock and performs the conditional decrement
// used by order reservation. The decrement runs inside a transaction so the
// check and the write are a single atomic step.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{
		base:     base,
		provider: provider,
	}, nil
}

type productDocument struct {
	Name           string                   `firestore:"name"`
	SKU            string                   `firestore:"sku"`
	Price          float64                  `firestore:"price"`
	StockQuantity  int                      `firestore:"stockQuantity"`
	IsConfigurable bool                     `firestore:"isConfigurable"`
	Variants       []productVariantDocument `firestore:"variants,omitempty"`
	UpdatedAt      time.Time                `firestore:"updatedAt"`
}

type productVariantDocument struct {
	ID            string  `firestore:"id"`
	SKU           string  `firestore:"sku"`
	Price         float64 `firestore:"price"`
	StockQuantity int     `firestore:"stockQuantity"`
}

func (d productDocument) toDomain(id string) domain.Product {
	variants := make([]domain.ProductVariant, 0, len(d.Variants))
	for _, variant := range d.Variants {
		variants = append(variants, domain.ProductVariant{
			ID:            variant.ID,
			SKU:           variant.SKU,
			Price:         variant.Price,
			StockQuantity: variant.StockQuantity,
		})
	}
	return domain.Product{
		ID:             id,
		Name:           d.Name,
		SKU:            d.SKU,
		Price:          d.Price,
		StockQuantity:  d.StockQuantity,
		IsConfigurable: d.IsConfigurable,
		Variants:       variants,
	}
}

// FindByID fetches the product document.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}

	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, "", "product not found: "+productID, err)
		}
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// DecrementStock lowers the stock counter for the product or variant as one
// conditional update: it fails with StockErrorInsufficient when the remaining
// quantity cannot cover the request, and nothing is written.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, variantID *string, quantity int) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if quantity <= 0 {
		return errors.New("product repository: quantity must be positive")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(productCollection).Doc(strings.TrimSpace(productID))

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, txErr := tx.Get(ref)
		if txErr != nil {
			if status.Code(txErr) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, "", "product not found: "+productID, txErr)
			}
			return txErr
		}
		var doc productDocument
		if txErr := snap.DataTo(&doc); txErr != nil {
			return txErr
		}

		if variantID == nil || strings.TrimSpace(*variantID) == "" {
			if doc.StockQuantity < quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, doc.SKU,
					fmt.Sprintf("insufficient stock for %s: have %d, want %d", doc.SKU, doc.StockQuantity, quantity), nil)
			}
			return tx.Update(ref, []firestore.Update{
				{Path: "stockQuantity", Value: doc.StockQuantity - quantity},
				{Path: "updatedAt", Value: time.Now().UTC()},
			})
		}

		if !doc.IsConfigurable {
			return repositories.NewStockError(repositories.StockErrorNotConfigurable, doc.SKU,
				"product is not configurable: "+productID, nil)
		}

		target := strings.TrimSpace(*variantID)
		for idx, variant := range doc.Variants {
			if variant.ID != target {
				continue
			}
			if variant.StockQuantity < quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, variant.SKU,
					fmt.Sprintf("insufficient stock for %s: have %d, want %d", variant.SKU, variant.StockQuantity, quantity), nil)
			}
			doc.Variants[idx].StockQuantity = variant.StockQuantity - quantity
			return tx.Update(ref, []firestore.Update{
				{Path: "variants", Value: doc.Variants},
				{Path: "updatedAt", Value: time.Now().UTC()},
			})
		}
		return repositories.NewStockError(repositories.StockErrorVariantNotFound, "",
			fmt.Sprintf("variant %s not found on product %s", target, productID), nil)
	})
	return wrapStockError("products.decrementStock", err)
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
