package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shoplane/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals the caller provided an unpriceable line list.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingProductNotFound indicates a line references a missing product.
	ErrPricingProductNotFound = errors.New("pricing: product not found")
	// ErrPricingVariantNotFound indicates a line's variant does not belong to its product.
	ErrPricingVariantNotFound = errors.New("pricing: variant not found")
)

// PricingEngineDeps bundles the collaborators required to construct a pricing engine.
type PricingEngineDeps struct {
	Catalog  repositories.CatalogRepository
	Resolver OfferResolver
	Currency string
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type pricingEngine struct {
	catalog  repositories.CatalogRepository
	resolver OfferResolver
	currency string
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewPricingEngine wires dependencies into a concrete PricingEngine implementation.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing engine: catalog repository is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("pricing engine: offer resolver is required")
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		return nil, errors.New("pricing engine: currency is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingEngine{
		catalog:  deps.Catalog,
		resolver: deps.Resolver,
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ComputeSubtotal prices each line through the offer resolver and sums the
// line subtotals. Every product must exist and a given variant must belong
// to its product; anything else is a validation error, never a silent skip.
func (s *pricingEngine) ComputeSubtotal(ctx context.Context, lines []CartLine) (PricedCart, error) {
	if len(lines) == 0 {
		return PricedCart{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return PricedCart{}, fmt.Errorf("%w: product id is required", ErrPricingInvalidInput)
		}
		if line.Quantity <= 0 {
			return PricedCart{}, fmt.Errorf("%w: quantity must be positive for product %s", ErrPricingInvalidInput, line.ProductID)
		}
		ids = append(ids, line.ProductID)
	}

	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return PricedCart{}, fmt.Errorf("%w: %s", ErrPricingProductNotFound, err)
		}
		return PricedCart{}, err
	}

	offers, err := s.resolver.ResolveActiveOffers(ctx, s.clock())
	if err != nil {
		return PricedCart{}, err
	}

	cart := PricedCart{Lines: make([]PricedLine, 0, len(lines))}
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return PricedCart{}, fmt.Errorf("%w: product %s", ErrPricingProductNotFound, line.ProductID)
		}
		basePrice := product.Price
		if line.VariantID != nil {
			variant, ok := findVariant(product, *line.VariantID)
			if !ok {
				return PricedCart{}, fmt.Errorf("%w: variant %s does not belong to product %s", ErrPricingVariantNotFound, *line.VariantID, line.ProductID)
			}
			if variant.Price != nil {
				basePrice = *variant.Price
			}
		}

		applied := s.resolver.ApplyOffer(product, basePrice, s.resolver.PickBestOffer(offers, product))
		priced := PricedLine{
			ProductID:    line.ProductID,
			VariantID:    line.VariantID,
			Quantity:     line.Quantity,
			BasePrice:    basePrice,
			SalePrice:    applied.SalePrice,
			Discount:     applied.Discount,
			OfferID:      applied.OfferID,
			LineSubtotal: applied.SalePrice * line.Quantity,
		}
		cart.Lines = append(cart.Lines, priced)
		cart.Subtotal += priced.LineSubtotal
	}

	s.logger(ctx, "pricing.subtotal.computed", map[string]any{
		"lines":    len(cart.Lines),
		"subtotal": cart.Subtotal,
	})
	return cart, nil
}

// BuildPricingSnapshot derives shipping, tax, and the grand total from the
// subtotal and the settings in force at the time of the call.
func (s *pricingEngine) BuildPricingSnapshot(subtotal int64, settings Settings) PricingSnapshot {
	method, ok := selectShippingMethod(settings)
	snapshot := PricingSnapshot{
		Currency: s.currency,
		Subtotal: subtotal,
	}
	if ok {
		snapshot.ShippingFee = method.Fee
		snapshot.ShippingMethod = method.Code
		snapshot.DeliveryEta = DeliveryEta{MinDays: method.EtaMinDays, MaxDays: method.EtaMaxDays}
	}
	if settings.FreeOver > 0 && subtotal >= settings.FreeOver {
		snapshot.ShippingFee = 0
	}
	snapshot.TaxRateBps = settings.TaxRateBps
	snapshot.TaxAmount = settings.TaxRateBps * (subtotal + snapshot.ShippingFee) / 10000
	snapshot.GrandTotal = subtotal + snapshot.ShippingFee + snapshot.TaxAmount
	return snapshot
}

func findVariant(product Product, variantID string) (Variant, bool) {
	for _, variant := range product.Variants {
		if variant.ID == variantID {
			return variant, true
		}
	}
	return Variant{}, false
}

// selectShippingMethod prefers the configured default when it is active,
// falling back to the first active method.
func selectShippingMethod(settings Settings) (ShippingMethod, bool) {
	var fallback *ShippingMethod
	for i, method := range settings.ShippingMethods {
		if !method.Active {
			continue
		}
		if method.Code == settings.DefaultMethod {
			return method, true
		}
		if fallback == nil {
			fallback = &settings.ShippingMethods[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return ShippingMethod{}, false
}
