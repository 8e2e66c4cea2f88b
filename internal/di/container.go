package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shoplane/api/internal/payments"
	"github.com/shoplane/api/internal/platform/config"
	"github.com/shoplane/api/internal/repositories"
	"github.com/shoplane/api/internal/services"
)

// Services bundles the service-layer contracts handlers rely upon.
type Services struct {
	Resolver services.OfferResolver
	Pricing  services.PricingEngine
	Ledger   services.InventoryLedger
	Checkout services.CheckoutService
	Orders   services.OrderService
}

// Deps enumerates the externally constructed collaborators NewContainer wires together.
type Deps struct {
	Config   config.Config
	Registry repositories.Registry
	Payments *payments.Manager
	Events   services.OrderEventPublisher
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries and stub
// gateways.
func NewContainer(ctx context.Context, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payments manager is required")
	}

	svc, err := buildServices(deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(deps Deps) (Services, error) {
	reg := deps.Registry
	cfg := deps.Config

	resolver, err := services.NewOfferResolver(services.OfferResolverDeps{
		Offers: reg.Offers(),
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build offer resolver: %w", err)
	}

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Catalog:  reg.Catalog(),
		Resolver: resolver,
		Currency: cfg.Checkout.Currency,
		Clock:    time.Now,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	ledger, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Inventory:  reg.Inventory(),
		UnitOfWork: reg,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory ledger: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Pricing:           pricing,
		Ledger:            ledger,
		Catalog:           reg.Catalog(),
		Orders:            reg.Orders(),
		Settings:          reg.Settings(),
		Counters:          reg.Counters(),
		Payments:          deps.Payments,
		Events:            deps.Events,
		Gateway:           cfg.PSP.DefaultGateway,
		OrderNumberPrefix: cfg.Checkout.OrderNumberPrefix,
		Clock:             time.Now,
		Logger:            deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Ledger:     ledger,
		UnitOfWork: reg,
		Payments:   deps.Payments,
		Events:     deps.Events,
		Gateway:    cfg.PSP.DefaultGateway,
		Clock:      time.Now,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	return Services{
		Resolver: resolver,
		Pricing:  pricing,
		Ledger:   ledger,
		Checkout: checkout,
		Orders:   orders,
	}, nil
}
