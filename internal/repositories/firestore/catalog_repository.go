package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/threadline/api/internal/domain"
	pfirestore "github.com/threadline/api/internal/platform/firestore"
)

const productsCollection = "products"

// CatalogRepository is the read-only product view the checkout flow validates
// submitted prices against. Product management lives in a separate system.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &CatalogRepository{provider: provider, products: products}, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.CatalogProduct, error) {
	if r == nil || r.products == nil {
		return domain.CatalogProduct{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CatalogProduct{}, errors.New("catalog get: product id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.CatalogProduct{}, pfirestore.WrapError("catalog.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetProducts resolves a batch of product ids. Missing products are omitted
// from the result; callers decide whether absence is an error.
func (r *CatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.CatalogProduct, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	products := make(map[string]domain.CatalogProduct, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := products[id]; ok {
			continue
		}
		doc, err := r.products.Get(ctx, id)
		if err != nil {
			if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
				continue
			}
			return nil, pfirestore.WrapError("catalog.getProducts", err)
		}
		products[id] = doc.Data.toDomain(doc.ID)
	}
	return products, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Name      string    `firestore:"name"`
	Category  string    `firestore:"category"`
	UnitPrice int64     `firestore:"unitPrice"`
	Active    bool      `firestore:"active"`
	Sizes     []string  `firestore:"sizes,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.CatalogProduct {
	return domain.CatalogProduct{
		ID:        id,
		Name:      d.Name,
		Category:  d.Category,
		UnitPrice: d.UnitPrice,
		Active:    d.Active,
		Sizes:     d.Sizes,
		UpdatedAt: d.UpdatedAt,
	}
}
