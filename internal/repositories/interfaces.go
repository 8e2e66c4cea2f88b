package repositories

import (
	"context"
	"time"

	domain "github.com/shoplane/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Offers() OfferRepository
	Catalog() CatalogRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Settings() SettingsRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary
// when the backing store supports it. Callers consult SupportsTransactions and
// fall back to compensating writes when it reports false.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	SupportsTransactions() bool
}

// OfferRepository reads promotional offers. List preserves the store's fetch
// order so best-offer selection stays deterministic for equal sort keys.
type OfferRepository interface {
	List(ctx context.Context) ([]domain.Offer, error)
	FindByID(ctx context.Context, offerID string) (domain.Offer, error)
}

// CatalogRepository reads products with their variants and category paths.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// StockLine addresses one stock pool and the quantity to move. A nil
// VariantID addresses the product-level pool.
type StockLine struct {
	ProductID string
	VariantID *string
	Quantity  int64
}

// InventoryRepository manages stock levels with per-document conditional
// updates. Decrement fails with an insufficient-stock error instead of ever
// letting a pool go negative. The batch variants read every addressed pool
// before queueing a single write, so they can share one Firestore transaction
// with other repository work; Firestore rejects reads issued after a write.
type InventoryRepository interface {
	Decrement(ctx context.Context, line StockLine) error
	Increment(ctx context.Context, line StockLine) error
	DecrementAll(ctx context.Context, lines []StockLine) error
	IncrementAll(ctx context.Context, lines []StockLine) error
	GetStock(ctx context.Context, productID string, variantID *string) (domain.InventoryStock, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     string
	Limit      int
}

// OrderRepository persists orders. Update enforces the expected version so
// concurrent mutations surface as conflicts rather than lost writes. FindByID
// joins the ambient transaction when the caller opened one; Put writes
// unconditionally and is meant for callers that already verified the stored
// version with FindByID inside the same transaction, before any write was
// queued.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error)
	Put(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// SettingsRepository reads the store-wide pricing settings document.
type SettingsRepository interface {
	Get(ctx context.Context) (domain.Settings, error)
}

// CounterRepository allocates monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, name string, at time.Time) (int64, error)
}

// HealthRepository reports the readiness of backing dependencies.
type HealthRepository interface {
	Check(ctx context.Context) error
}
