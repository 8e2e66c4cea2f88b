package firestore

import (
	"context"
	"errors"
	"sync/atomic"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/shoplane/api/internal/platform/firestore"
	"github.com/shoplane/api/internal/repositories"
)

type txContextKey struct{}

func withTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// txFrom returns the transaction opened by RunInTx, when the caller is running
// inside one. Repositories consult it so their writes join the ambient
// transaction instead of committing independently.
func txFrom(ctx context.Context) (*firestore.Transaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface and owns the shared provider lifecycle.
type Registry struct {
	provider *pfirestore.Provider

	offers    *OfferRepository
	catalog   *CatalogRepository
	inventory *InventoryRepository
	orders    *OrderRepository
	settings  *SettingsRepository
	counters  *CounterRepository
	health    repositories.HealthRepository

	// txUnsupported flips to 1 the first time the backend rejects a
	// transaction as unsupported. Emulated and datastore-mode backends do.
	txUnsupported atomic.Bool
}

// NewRegistry wires every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	offers, err := NewOfferRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:  provider,
		offers:    offers,
		catalog:   catalog,
		inventory: inventory,
		orders:    orders,
		settings:  settings,
		counters:  counters,
		health:    health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Offers() repositories.OfferRepository { return r.offers }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Settings() repositories.SettingsRepository { return r.settings }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn inside one Firestore transaction. Repository mutations made
// with the context passed to fn join that transaction. When the backend
// reports transactions as unsupported the registry remembers it and the error
// is returned for the caller's fallback path.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTx(ctx, tx))
	})
	if err != nil && pfirestore.IsTransactionsUnsupported(err) {
		r.txUnsupported.Store(true)
	}
	return err
}

// SupportsTransactions reports whether the backend is known to accept
// transactions. It starts optimistic and turns false after the first
// unsupported rejection seen by RunInTx.
func (r *Registry) SupportsTransactions() bool {
	return !r.txUnsupported.Load()
}
