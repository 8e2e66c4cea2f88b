package domain

import (
	"time"
)

// OfferType distinguishes how an offer's value is interpreted.
type OfferType string

const (
	// OfferTypePercent applies the value as a whole-percent discount.
	OfferTypePercent OfferType = "percent"
	// OfferTypeAmount applies the value as a fixed minor-unit discount.
	OfferTypeAmount OfferType = "amount"
)

// ScopeKind enumerates the targeting modes an offer scope can take.
type ScopeKind string

const (
	// ScopeAll targets every item in the catalog.
	ScopeAll ScopeKind = "all"
	// ScopeCategories targets items whose category matches the listed IDs.
	ScopeCategories ScopeKind = "categories"
	// ScopeProducts targets the listed product IDs only.
	ScopeProducts ScopeKind = "products"
)

// OfferScope describes which catalog items an offer targets. Kind is
// validated when the offer is decoded; an unknown kind matches nothing.
type OfferScope struct {
	Kind               ScopeKind
	CategoryIDs        []string
	ProductIDs         []string
	IncludeDescendants bool
}

// Offer is a promotional discount with an activation window, targeting
// scope, and selection metadata used to pick the best offer per item.
type Offer struct {
	ID               string
	Name             string
	Type             OfferType
	Value            int64
	MaxDiscount      *int64
	Active           bool
	Exclusive        bool
	Priority         int
	StartsAt         *time.Time
	EndsAt           *time.Time
	Scope            OfferScope
	ApplyToSaleItems bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Variant is a sellable variation of a product with its own stock pool
// and an optional price override.
type Variant struct {
	ID    string
	Price *int64
	Stock int64
	Size  string
	Color string
}

// Product is a catalog item. CategoryPath lists the ancestor category IDs
// from root to the immediate category, immediate category last.
type Product struct {
	ID             string
	Name           string
	Price          int64
	CompareAtPrice *int64
	Stock          int64
	CategoryID     string
	CategoryPath   []string
	Variants       []Variant
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShippingMethod is a configured delivery option.
type ShippingMethod struct {
	Code       string
	Name       string
	Fee        int64
	EtaMinDays int
	EtaMaxDays int
	Active     bool
}

// Settings holds the store-wide pricing configuration. It is read once per
// pricing operation and passed by value so a pricing run never observes a
// mid-flight settings change.
type Settings struct {
	ShippingMethods []ShippingMethod
	DefaultMethod   string
	FreeOver        int64
	TaxRateBps      int64
	TaxDisplay      string
	UpdatedAt       time.Time
}

// OrderLine is a purchased item reference. Lines are immutable once the
// order is created.
type OrderLine struct {
	ProductID string
	VariantID *string
	Name      string
	UnitPrice int64
	Quantity  int64
	Size      string
	Color     string
}

// Address is the shipping destination captured at checkout. It is frozen on
// the order the same way the pricing snapshot is.
type Address struct {
	RecipientName string
	Phone         string
	PostalCode    string
	Country       string
	State         string
	City          string
	Line1         string
	Line2         string
}

// StatusChange is one append-only entry in an order's status history.
type StatusChange struct {
	Status string
	Note   string
	At     time.Time
}

// Tracking carries shipment tracking details supplied at ship time.
type Tracking struct {
	Carrier        string
	TrackingNumber string
	ShippedAt      time.Time
}

// Order is the aggregate root for a placed order.
type Order struct {
	ID              string
	Number          string
	CustomerID      string
	Email           string
	ShippingAddress Address
	Lines           []OrderLine
	Pricing         PricingSnapshot
	PaymentMethod   string
	PaymentStatus   string
	PaymentRef      string
	Status          string
	StatusHistory   []StatusChange
	Tracking        *Tracking
	CancelledAt     *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InventoryStock mirrors a persisted stock document for a product or
// variant pool.
type InventoryStock struct {
	ProductID string
	VariantID *string
	OnHand    int64
	UpdatedAt time.Time
}
