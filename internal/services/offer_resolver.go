package services

import (
	"context"
	"errors"
	"slices"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/repositories"
)

// OfferResolverDeps bundles the collaborators required to construct an offer resolver.
type OfferResolverDeps struct {
	Offers repositories.OfferRepository
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type offerResolver struct {
	offers repositories.OfferRepository
	logger func(context.Context, string, map[string]any)
}

// NewOfferResolver wires dependencies into a concrete OfferResolver implementation.
func NewOfferResolver(deps OfferResolverDeps) (OfferResolver, error) {
	if deps.Offers == nil {
		return nil, errors.New("offer resolver: offer repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &offerResolver{
		offers: deps.Offers,
		logger: logger,
	}, nil
}

// ResolveActiveOffers loads every offer that is active and inside its
// scheduling window at the given instant. Fetch order is preserved so
// equal-ranked offers stay deterministic.
func (s *offerResolver) ResolveActiveOffers(ctx context.Context, now time.Time) ([]Offer, error) {
	all, err := s.offers.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]Offer, 0, len(all))
	for _, offer := range all {
		if !offer.Active {
			continue
		}
		if !offerWindowContains(offer, now) {
			continue
		}
		active = append(active, offer)
	}
	s.logger(ctx, "offers.resolved", map[string]any{
		"total":  len(all),
		"active": len(active),
	})
	return active, nil
}

// PickBestOffer returns the highest-ranked offer matching the product, or nil
// when none matches. Ranking: exclusive first, then priority, then percent
// over amount, then larger value. The sort is stable so fetch order breaks
// remaining ties.
func (s *offerResolver) PickBestOffer(offers []Offer, product Product) *Offer {
	matched := make([]Offer, 0, len(offers))
	for _, offer := range offers {
		if !offerMatchesProduct(offer, product) {
			continue
		}
		matched = append(matched, offer)
	}
	if len(matched) == 0 {
		return nil
	}
	slices.SortStableFunc(matched, compareOffers)
	best := matched[0]
	return &best
}

// ApplyOffer computes the discounted price for one item. A sale item keeps
// its base price when the chosen offer skips sale items; the exemption never
// falls through to a lower-ranked offer. Percent discounts honour the
// optional max-discount cap; no discount ever exceeds the base price.
func (s *offerResolver) ApplyOffer(product Product, basePrice int64, offer *Offer) AppliedOffer {
	if offer == nil || basePrice <= 0 {
		return AppliedOffer{SalePrice: basePrice}
	}
	if isSaleItem(product) && !offer.ApplyToSaleItems {
		return AppliedOffer{SalePrice: basePrice}
	}
	var discount int64
	switch offer.Type {
	case domain.OfferTypePercent:
		discount = basePrice * offer.Value / 100
		if offer.MaxDiscount != nil && discount > *offer.MaxDiscount {
			discount = *offer.MaxDiscount
		}
	case domain.OfferTypeAmount:
		discount = offer.Value
	}
	if discount > basePrice {
		discount = basePrice
	}
	if discount < 0 {
		discount = 0
	}
	if discount == 0 {
		return AppliedOffer{SalePrice: basePrice}
	}
	return AppliedOffer{
		SalePrice: basePrice - discount,
		Discount:  discount,
		OfferID:   offer.ID,
	}
}

// offerWindowContains reports whether now falls inside [startsAt, endsAt).
// Nil bounds are open-ended.
func offerWindowContains(offer Offer, now time.Time) bool {
	if offer.StartsAt != nil && now.Before(*offer.StartsAt) {
		return false
	}
	if offer.EndsAt != nil && !now.Before(*offer.EndsAt) {
		return false
	}
	return true
}

// isSaleItem reports whether the product already carries a compare-at
// markdown, which exempts it from offers that skip sale items.
func isSaleItem(product Product) bool {
	return product.CompareAtPrice != nil && *product.CompareAtPrice > product.Price
}

// offerMatchesProduct dispatches on the scope kind exhaustively. An unknown
// kind matches nothing.
func offerMatchesProduct(offer Offer, product Product) bool {
	switch offer.Scope.Kind {
	case domain.ScopeAll:
		return true
	case domain.ScopeCategories:
		if offer.Scope.IncludeDescendants {
			for _, id := range offer.Scope.CategoryIDs {
				if slices.Contains(product.CategoryPath, id) || id == product.CategoryID {
					return true
				}
			}
			return false
		}
		return slices.Contains(offer.Scope.CategoryIDs, product.CategoryID)
	case domain.ScopeProducts:
		return slices.Contains(offer.Scope.ProductIDs, product.ID)
	default:
		return false
	}
}

// compareOffers ranks a before b when a should win the tie-break.
func compareOffers(a, b Offer) int {
	if a.Exclusive != b.Exclusive {
		if a.Exclusive {
			return -1
		}
		return 1
	}
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	if a.Type != b.Type {
		if a.Type == domain.OfferTypePercent {
			return -1
		}
		return 1
	}
	if a.Value != b.Value {
		if a.Value > b.Value {
			return -1
		}
		return 1
	}
	return 0
}
