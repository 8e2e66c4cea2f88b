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

const stockCollection = "inventoryStock"

type stockDocument struct {
	ProductID string    `firestore:"productId"`
	VariantID *string   `firestore:"variantId,omitempty"`
	OnHand    int64     `firestore:"onHand"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// InventoryRepository implements repositories.InventoryRepository with one
// Firestore document per stock pool. Every mutation runs as a read-check-write
// inside a transaction so a pool can never go negative.
type InventoryRepository struct {
	provider *pfirestore.Provider
	stock    *pfirestore.BaseRepository[stockDocument]
	now      func() time.Time
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider: provider,
		stock:    pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// stockDocID keys the pool document. Variant pools append the variant id so
// they live next to the product pool without colliding.
func stockDocID(productID string, variantID *string) string {
	if variantID == nil || strings.TrimSpace(*variantID) == "" {
		return productID
	}
	return productID + "__" + *variantID
}

// Decrement subtracts line.Quantity from the addressed pool. When the pool
// holds less than requested, the returned error carries the requested and
// remaining quantities and nothing is written.
func (r *InventoryRepository) Decrement(ctx context.Context, line repositories.StockLine) error {
	return r.DecrementAll(ctx, []repositories.StockLine{line})
}

// Increment adds line.Quantity back to the addressed pool, creating the pool
// document when it does not exist yet.
func (r *InventoryRepository) Increment(ctx context.Context, line repositories.StockLine) error {
	return r.IncrementAll(ctx, []repositories.StockLine{line})
}

// DecrementAll subtracts every line from its pool. A shortfall on any line
// aborts with nothing written.
func (r *InventoryRepository) DecrementAll(ctx context.Context, lines []repositories.StockLine) error {
	return r.mutateAll(ctx, "inventory.decrement", lines, func(line repositories.StockLine, doc *stockDocument) error {
		if doc.OnHand < line.Quantity {
			return &repositories.InventoryError{
				Code:      repositories.InventoryErrorInsufficientStock,
				Message:   fmt.Sprintf("insufficient stock for product %s: requested %d, remaining %d", line.ProductID, line.Quantity, doc.OnHand),
				ProductID: line.ProductID,
				VariantID: line.VariantID,
				Requested: line.Quantity,
				Remaining: doc.OnHand,
			}
		}
		doc.OnHand -= line.Quantity
		return nil
	})
}

// IncrementAll adds every line back to its pool, creating pool documents that
// do not exist yet.
func (r *InventoryRepository) IncrementAll(ctx context.Context, lines []repositories.StockLine) error {
	return r.mutateAll(ctx, "inventory.increment", lines, func(line repositories.StockLine, doc *stockDocument) error {
		doc.OnHand += line.Quantity
		return nil
	})
}

// GetStock reads the current on-hand quantity for a pool.
func (r *InventoryRepository) GetStock(ctx context.Context, productID string, variantID *string) (domain.InventoryStock, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorUnknown, "product id is required", nil)
	}
	doc, err := r.stock.Get(ctx, stockDocID(productID, variantID))
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.InventoryStock{}, &repositories.InventoryError{
				Op:        "inventory.get_stock",
				Code:      repositories.InventoryErrorStockNotFound,
				Message:   fmt.Sprintf("no stock record for product %s", productID),
				ProductID: productID,
				VariantID: variantID,
				Err:       err,
			}
		}
		return domain.InventoryStock{}, err
	}
	return domain.InventoryStock{
		ProductID: doc.Data.ProductID,
		VariantID: doc.Data.VariantID,
		OnHand:    doc.Data.OnHand,
		UpdatedAt: doc.Data.UpdatedAt,
	}, nil
}

// mutateAll applies change to every addressed pool document inside the
// ambient transaction when the caller opened one, otherwise inside a
// transaction of its own. The transaction client rejects any read issued
// after a queued write, so all pools are fetched and checked before the
// first write is staged.
func (r *InventoryRepository) mutateAll(ctx context.Context, op string, lines []repositories.StockLine, change func(repositories.StockLine, *stockDocument) error) error {
	for _, line := range lines {
		if err := validateStockLine(line); err != nil {
			return err
		}
	}

	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, len(lines))
		for i, line := range lines {
			ref, err := r.stock.DocumentRef(ctx, stockDocID(line.ProductID, line.VariantID))
			if err != nil {
				return err
			}
			refs[i] = ref
		}

		docs := make([]stockDocument, len(lines))
		missing := make([]bool, len(lines))
		for i, ref := range refs {
			snapshot, err := tx.Get(ref)
			if status.Code(err) == codes.NotFound {
				missing[i] = true
				continue
			}
			if err != nil {
				return err
			}
			if err := snapshot.DataTo(&docs[i]); err != nil {
				return fmt.Errorf("decode stock document %s: %w", snapshot.Ref.ID, err)
			}
		}

		// Checks run before any write so a shortfall aborts with an empty
		// write set.
		for i, line := range lines {
			if err := change(line, &docs[i]); err != nil {
				return err
			}
			docs[i].ProductID = line.ProductID
			docs[i].VariantID = line.VariantID
			docs[i].UpdatedAt = r.now()
		}

		for i, ref := range refs {
			if missing[i] {
				if err := tx.Create(ref, docs[i]); err != nil {
					return err
				}
				continue
			}
			if err := tx.Set(ref, docs[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if tx, ok := txFrom(ctx); ok {
		return wrapInventoryError(op, apply(ctx, tx))
	}
	return wrapInventoryError(op, r.provider.RunTransaction(ctx, apply))
}

func validateStockLine(line repositories.StockLine) error {
	if strings.TrimSpace(line.ProductID) == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown, "product id is required", nil)
	}
	if line.Quantity <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("quantity must be positive, got %d", line.Quantity), nil)
	}
	return nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
