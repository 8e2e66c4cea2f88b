package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shoplane/api/internal/domain"
	pfirestore "github.com/shoplane/api/internal/platform/firestore"
)

const productsCollection = "products"

type variantDocument struct {
	ID    string `firestore:"id"`
	Price *int64 `firestore:"price,omitempty"`
	Stock int64  `firestore:"stock"`
	Size  string `firestore:"size,omitempty"`
	Color string `firestore:"color,omitempty"`
}

type productDocument struct {
	Name           string            `firestore:"name"`
	Price          int64             `firestore:"price"`
	CompareAtPrice *int64            `firestore:"compareAtPrice,omitempty"`
	Stock          int64             `firestore:"stock"`
	CategoryID     string            `firestore:"categoryId,omitempty"`
	CategoryPath   []string          `firestore:"categoryPath,omitempty"`
	Variants       []variantDocument `firestore:"variants,omitempty"`
	CreatedAt      time.Time         `firestore:"createdAt"`
	UpdatedAt      time.Time         `firestore:"updatedAt"`
}

// CatalogRepository reads products and their variants from Firestore.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// FindProduct loads one product with its variants and category path.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return productFromDocument(doc.ID, doc.Data), nil
}

// FindProducts loads a batch of products keyed by id. Missing ids surface as
// a not-found error so pricing never silently drops a line.
func (r *CatalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if _, ok := products[id]; ok {
			continue
		}
		product, err := r.FindProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		products[id] = product
	}
	return products, nil
}

func productFromDocument(id string, doc productDocument) domain.Product {
	variants := make([]domain.Variant, 0, len(doc.Variants))
	for _, v := range doc.Variants {
		variants = append(variants, domain.Variant{
			ID:    v.ID,
			Price: v.Price,
			Stock: v.Stock,
			Size:  v.Size,
			Color: v.Color,
		})
	}
	return domain.Product{
		ID:             id,
		Name:           doc.Name,
		Price:          doc.Price,
		CompareAtPrice: doc.CompareAtPrice,
		Stock:          doc.Stock,
		CategoryID:     doc.CategoryID,
		CategoryPath:   doc.CategoryPath,
		Variants:       variants,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}
