package services

import (
	"context"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Offer           = domain.Offer
	OfferScope      = domain.OfferScope
	Product         = domain.Product
	Variant         = domain.Variant
	Settings        = domain.Settings
	ShippingMethod  = domain.ShippingMethod
	Order           = domain.Order
	OrderLine       = domain.OrderLine
	Address         = domain.Address
	StatusChange    = domain.StatusChange
	Tracking        = domain.Tracking
	PricedLine      = domain.PricedLine
	PricingSnapshot = domain.PricingSnapshot
	DeliveryEta     = domain.DeliveryEta
	InventoryStock  = domain.InventoryStock
	StockLine       = repositories.StockLine
	OrderListFilter = repositories.OrderListFilter
)

// OfferResolver selects the best applicable offer per catalog item and
// computes the discounted price it yields.
type OfferResolver interface {
	ResolveActiveOffers(ctx context.Context, now time.Time) ([]Offer, error)
	PickBestOffer(offers []Offer, product Product) *Offer
	ApplyOffer(product Product, basePrice int64, offer *Offer) AppliedOffer
}

// AppliedOffer is the per-item outcome of applying an offer to a base price.
type AppliedOffer struct {
	SalePrice int64
	Discount  int64
	OfferID   string
}

// CartLine is one requested item at checkout, before pricing.
type CartLine struct {
	ProductID string
	VariantID *string
	Quantity  int64
	Size      string
	Color     string
}

// PricedCart is the outcome of pricing a line list.
type PricedCart struct {
	Lines    []PricedLine
	Subtotal int64
}

// PricingEngine turns cart lines into an authoritative price breakdown.
type PricingEngine interface {
	ComputeSubtotal(ctx context.Context, lines []CartLine) (PricedCart, error)
	BuildPricingSnapshot(subtotal int64, settings Settings) PricingSnapshot
}

// InventoryLedger reserves and returns stock for order lines. Reserve either
// applies every decrement or none; Restock unconditionally increments and is
// called once per cancellation event.
type InventoryLedger interface {
	Reserve(ctx context.Context, lines []StockLine) error
	Restock(ctx context.Context, lines []StockLine) error
}

// CheckoutService turns a validated cart into a persisted order.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// OrderService drives a placed order through payment and fulfillment states.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error)
	Capture(ctx context.Context, cmd CaptureCommand) (Order, error)
	RejectAuthorization(ctx context.Context, cmd RejectAuthorizationCommand) (Order, error)
	CustomerCancel(ctx context.Context, cmd CustomerCancelCommand) (Order, error)
	Ship(ctx context.Context, cmd ShipCommand) (Order, error)
	Deliver(ctx context.Context, cmd DeliverCommand) (Order, error)
}

// OrderEventPublisher publishes order lifecycle events for downstream
// consumers. It returns the broker-assigned message id.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Name          string
	OrderID       string
	OrderNumber   string
	Status        string
	PaymentStatus string
	OccurredAt    time.Time
}

type PlaceOrderCommand struct {
	CustomerID      string
	Email           string
	ShippingAddress Address
	Lines           []CartLine
	PaymentMethod   string
}

type CaptureCommand struct {
	OrderID string
	ActorID string
}

type RejectAuthorizationCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type CustomerCancelCommand struct {
	OrderID    string
	CustomerID string
	Reason     string
}

type ShipCommand struct {
	OrderID        string
	ActorID        string
	Carrier        string
	TrackingNumber string
}

type DeliverCommand struct {
	OrderID string
	ActorID string
}
