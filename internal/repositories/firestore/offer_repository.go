package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/shoplane/api/internal/domain"
	pfirestore "github.com/shoplane/api/internal/platform/firestore"
)

const offersCollection = "offers"

type offerScopeDocument struct {
	Kind               string   `firestore:"kind"`
	CategoryIDs        []string `firestore:"categoryIds,omitempty"`
	ProductIDs         []string `firestore:"productIds,omitempty"`
	IncludeDescendants bool     `firestore:"includeDescendants"`
}

type offerDocument struct {
	Name             string             `firestore:"name"`
	Type             string             `firestore:"type"`
	Value            int64              `firestore:"value"`
	MaxDiscount      *int64             `firestore:"maxDiscount,omitempty"`
	Active           bool               `firestore:"active"`
	Exclusive        bool               `firestore:"exclusive"`
	Priority         int                `firestore:"priority"`
	StartsAt         *time.Time         `firestore:"startsAt,omitempty"`
	EndsAt           *time.Time         `firestore:"endsAt,omitempty"`
	Scope            offerScopeDocument `firestore:"scope"`
	ApplyToSaleItems bool               `firestore:"applyToSaleItems"`
	CreatedAt        time.Time          `firestore:"createdAt"`
	UpdatedAt        time.Time          `firestore:"updatedAt"`
}

// OfferRepository reads promotional offers from Firestore. Listings come back
// ordered by creation time so equal-ranked offers resolve deterministically.
type OfferRepository struct {
	offers *pfirestore.BaseRepository[offerDocument]
}

// NewOfferRepository constructs a Firestore-backed offer repository.
func NewOfferRepository(provider *pfirestore.Provider) (*OfferRepository, error) {
	if provider == nil {
		return nil, errors.New("offer repository requires firestore provider")
	}
	return &OfferRepository{
		offers: pfirestore.NewBaseRepository[offerDocument](provider, offersCollection, nil, nil),
	}, nil
}

// List returns every stored offer in creation order. Filtering by activity
// and schedule is the resolver's concern, not the store's.
func (r *OfferRepository) List(ctx context.Context) ([]domain.Offer, error) {
	docs, err := r.offers.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	offers := make([]domain.Offer, 0, len(docs))
	for _, doc := range docs {
		offer, err := offerFromDocument(doc.ID, doc.Data)
		if err != nil {
			return nil, pfirestore.WrapError("offers.list", err)
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// FindByID loads one offer.
func (r *OfferRepository) FindByID(ctx context.Context, offerID string) (domain.Offer, error) {
	if strings.TrimSpace(offerID) == "" {
		return domain.Offer{}, errors.New("offer id is required")
	}
	doc, err := r.offers.Get(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}
	offer, err := offerFromDocument(doc.ID, doc.Data)
	if err != nil {
		return domain.Offer{}, pfirestore.WrapError("offers.get", err)
	}
	return offer, nil
}

func offerFromDocument(id string, doc offerDocument) (domain.Offer, error) {
	offerType := domain.OfferType(doc.Type)
	switch offerType {
	case domain.OfferTypePercent, domain.OfferTypeAmount:
	default:
		return domain.Offer{}, fmt.Errorf("offer %s has unknown type %q", id, doc.Type)
	}
	return domain.Offer{
		ID:          id,
		Name:        doc.Name,
		Type:        offerType,
		Value:       doc.Value,
		MaxDiscount: doc.MaxDiscount,
		Active:      doc.Active,
		Exclusive:   doc.Exclusive,
		Priority:    doc.Priority,
		StartsAt:    doc.StartsAt,
		EndsAt:      doc.EndsAt,
		Scope: domain.OfferScope{
			Kind:               domain.ScopeKind(doc.Scope.Kind),
			CategoryIDs:        doc.Scope.CategoryIDs,
			ProductIDs:         doc.Scope.ProductIDs,
			IncludeDescendants: doc.Scope.IncludeDescendants,
		},
		ApplyToSaleItems: doc.ApplyToSaleItems,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}, nil
}
