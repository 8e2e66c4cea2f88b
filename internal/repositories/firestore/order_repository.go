package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shoplane/api/internal/domain"
	pfirestore "github.com/shoplane/api/internal/platform/firestore"
	"github.com/shoplane/api/internal/repositories"
)

const ordersCollection = "orders"

type orderLineDocument struct {
	ProductID string  `firestore:"productId"`
	VariantID *string `firestore:"variantId,omitempty"`
	Name      string  `firestore:"name"`
	UnitPrice int64   `firestore:"unitPrice"`
	Quantity  int64   `firestore:"quantity"`
	Size      string  `firestore:"size,omitempty"`
	Color     string  `firestore:"color,omitempty"`
}

type deliveryEtaDocument struct {
	MinDays int `firestore:"minDays"`
	MaxDays int `firestore:"maxDays"`
}

type addressDocument struct {
	RecipientName string `firestore:"recipientName"`
	Phone         string `firestore:"phone,omitempty"`
	PostalCode    string `firestore:"postalCode"`
	Country       string `firestore:"country,omitempty"`
	State         string `firestore:"state,omitempty"`
	City          string `firestore:"city"`
	Line1         string `firestore:"line1"`
	Line2         string `firestore:"line2,omitempty"`
}

type pricingDocument struct {
	Currency       string              `firestore:"currency"`
	Subtotal       int64               `firestore:"subtotal"`
	ShippingFee    int64               `firestore:"shippingFee"`
	ShippingMethod string              `firestore:"shippingMethod"`
	DeliveryEta    deliveryEtaDocument `firestore:"deliveryEta"`
	TaxAmount      int64               `firestore:"taxAmount"`
	TaxRateBps     int64               `firestore:"taxRateBps"`
	GrandTotal     int64               `firestore:"grandTotal"`
}

type statusChangeDocument struct {
	Status string    `firestore:"status"`
	Note   string    `firestore:"note,omitempty"`
	At     time.Time `firestore:"at"`
}

type trackingDocument struct {
	Carrier        string    `firestore:"carrier"`
	TrackingNumber string    `firestore:"trackingNumber"`
	ShippedAt      time.Time `firestore:"shippedAt"`
}

type orderDocument struct {
	Number          string                 `firestore:"number"`
	CustomerID      string                 `firestore:"customerId,omitempty"`
	Email           string                 `firestore:"email"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	Lines           []orderLineDocument    `firestore:"lines"`
	Pricing         pricingDocument        `firestore:"pricing"`
	PaymentMethod   string                 `firestore:"paymentMethod"`
	PaymentStatus   string                 `firestore:"paymentStatus"`
	PaymentRef      string                 `firestore:"paymentRef,omitempty"`
	Status          string                 `firestore:"status"`
	StatusHistory   []statusChangeDocument `firestore:"statusHistory"`
	Tracking        *trackingDocument      `firestore:"tracking,omitempty"`
	CancelledAt     *time.Time             `firestore:"cancelledAt,omitempty"`
	Version         int64                  `firestore:"version"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

// OrderRepository persists orders in Firestore. Updates run inside a
// transaction that compares the stored version against the caller's expected
// version, so concurrent writers surface as conflicts.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert creates the order document, failing if the id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	return r.orders.Create(ctx, order.ID, orderToDocument(order))
}

// Update writes the order back when the stored version still equals
// expectedVersion, bumping the version by one. A mismatch returns a conflict.
// The write joins the ambient transaction when the caller opened one.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	next := order
	next.Version = expectedVersion + 1

	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snapshot.DataTo(&current); err != nil {
			return fmt.Errorf("decode order document %s: %w", order.ID, err)
		}
		if current.Version != expectedVersion {
			return status.Errorf(codes.Aborted,
				"order %s version mismatch: expected %d, stored %d", order.ID, expectedVersion, current.Version)
		}
		return tx.Set(ref, orderToDocument(next))
	}

	var err error
	if tx, ok := txFrom(ctx); ok {
		err = apply(ctx, tx)
	} else {
		err = r.provider.RunTransaction(ctx, apply)
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return next, nil
}

// Put writes the order unconditionally, joining the ambient transaction when
// one is open. Callers inside a transaction verify the stored version with
// FindByID before queueing this write; standalone callers want Update.
func (r *OrderRepository) Put(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	if tx, ok := txFrom(ctx); ok {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, orderToDocument(order)); err != nil {
			return pfirestore.WrapError("orders.put", err)
		}
		return nil
	}
	return r.orders.Set(ctx, order.ID, orderToDocument(order))
}

// FindByID loads one order. Inside an ambient transaction the read joins it,
// so the snapshot is consistent with the transaction's eventual commit.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	if tx, ok := txFrom(ctx); ok {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.find", err)
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return domain.Order{}, fmt.Errorf("decode order document %s: %w", orderID, err)
		}
		return orderFromDocument(orderID, doc), nil
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.CustomerID != "" {
			q = q.Where("customerId", "==", filter.CustomerID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", filter.Status)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

func orderToDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Size:      line.Size,
			Color:     line.Color,
		})
	}
	history := make([]statusChangeDocument, 0, len(order.StatusHistory))
	for _, change := range order.StatusHistory {
		history = append(history, statusChangeDocument{
			Status: change.Status,
			Note:   change.Note,
			At:     change.At,
		})
	}
	doc := orderDocument{
		Number:     order.Number,
		CustomerID: order.CustomerID,
		Email:      order.Email,
		ShippingAddress: addressDocument{
			RecipientName: order.ShippingAddress.RecipientName,
			Phone:         order.ShippingAddress.Phone,
			PostalCode:    order.ShippingAddress.PostalCode,
			Country:       order.ShippingAddress.Country,
			State:         order.ShippingAddress.State,
			City:          order.ShippingAddress.City,
			Line1:         order.ShippingAddress.Line1,
			Line2:         order.ShippingAddress.Line2,
		},
		Lines: lines,
		Pricing: pricingDocument{
			Currency:       order.Pricing.Currency,
			Subtotal:       order.Pricing.Subtotal,
			ShippingFee:    order.Pricing.ShippingFee,
			ShippingMethod: order.Pricing.ShippingMethod,
			DeliveryEta: deliveryEtaDocument{
				MinDays: order.Pricing.DeliveryEta.MinDays,
				MaxDays: order.Pricing.DeliveryEta.MaxDays,
			},
			TaxAmount:  order.Pricing.TaxAmount,
			TaxRateBps: order.Pricing.TaxRateBps,
			GrandTotal: order.Pricing.GrandTotal,
		},
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		PaymentRef:    order.PaymentRef,
		Status:        order.Status,
		StatusHistory: history,
		CancelledAt:   order.CancelledAt,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	if order.Tracking != nil {
		doc.Tracking = &trackingDocument{
			Carrier:        order.Tracking.Carrier,
			TrackingNumber: order.Tracking.TrackingNumber,
			ShippedAt:      order.Tracking.ShippedAt,
		}
	}
	return doc
}

func orderFromDocument(id string, doc orderDocument) domain.Order {
	lines := make([]domain.OrderLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Size:      line.Size,
			Color:     line.Color,
		})
	}
	history := make([]domain.StatusChange, 0, len(doc.StatusHistory))
	for _, change := range doc.StatusHistory {
		history = append(history, domain.StatusChange{
			Status: change.Status,
			Note:   change.Note,
			At:     change.At,
		})
	}
	order := domain.Order{
		ID:         id,
		Number:     doc.Number,
		CustomerID: doc.CustomerID,
		Email:      doc.Email,
		ShippingAddress: domain.Address{
			RecipientName: doc.ShippingAddress.RecipientName,
			Phone:         doc.ShippingAddress.Phone,
			PostalCode:    doc.ShippingAddress.PostalCode,
			Country:       doc.ShippingAddress.Country,
			State:         doc.ShippingAddress.State,
			City:          doc.ShippingAddress.City,
			Line1:         doc.ShippingAddress.Line1,
			Line2:         doc.ShippingAddress.Line2,
		},
		Lines: lines,
		Pricing: domain.PricingSnapshot{
			Currency:       doc.Pricing.Currency,
			Subtotal:       doc.Pricing.Subtotal,
			ShippingFee:    doc.Pricing.ShippingFee,
			ShippingMethod: doc.Pricing.ShippingMethod,
			DeliveryEta: domain.DeliveryEta{
				MinDays: doc.Pricing.DeliveryEta.MinDays,
				MaxDays: doc.Pricing.DeliveryEta.MaxDays,
			},
			TaxAmount:  doc.Pricing.TaxAmount,
			TaxRateBps: doc.Pricing.TaxRateBps,
			GrandTotal: doc.Pricing.GrandTotal,
		},
		PaymentMethod: doc.PaymentMethod,
		PaymentStatus: doc.PaymentStatus,
		PaymentRef:    doc.PaymentRef,
		Status:        doc.Status,
		StatusHistory: history,
		CancelledAt:   doc.CancelledAt,
		Version:       doc.Version,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if doc.Tracking != nil {
		order.Tracking = &domain.Tracking{
			Carrier:        doc.Tracking.Carrier,
			TrackingNumber: doc.Tracking.TrackingNumber,
			ShippedAt:      doc.Tracking.ShippedAt,
		}
	}
	return order
}
