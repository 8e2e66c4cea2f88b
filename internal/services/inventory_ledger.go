package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shoplane/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid stock lines.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates a requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
)

// InventoryLedgerDeps bundles the collaborators required to construct an inventory ledger.
type InventoryLedgerDeps struct {
	Inventory  repositories.InventoryRepository
	UnitOfWork repositories.UnitOfWork
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type inventoryLedger struct {
	repo   repositories.InventoryRepository
	uow    repositories.UnitOfWork
	logger func(context.Context, string, map[string]any)
}

// NewInventoryLedger wires dependencies into a concrete InventoryLedger implementation.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory ledger: inventory repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("inventory ledger: unit of work is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryLedger{
		repo:   deps.Inventory,
		uow:    deps.UnitOfWork,
		logger: logger,
	}, nil
}

// Reserve decrements every line's stock pool or none of them. When the store
// supports transactions all decrements share one; otherwise each line is a
// single-document conditional update and applied decrements are re-incremented
// on any later failure.
func (s *inventoryLedger) Reserve(ctx context.Context, lines []StockLine) error {
	if err := validateLedgerLines(lines); err != nil {
		return err
	}

	if s.uow.SupportsTransactions() {
		// One batch call: the repository reads every pool before it queues
		// a write, which per-line calls cannot do inside one transaction.
		err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
			return s.repo.DecrementAll(ctx, lines)
		})
		if err == nil {
			s.logger(ctx, "inventory.reserved", map[string]any{"lines": len(lines), "path": "transaction"})
			return nil
		}
		// The registry flips SupportsTransactions when the backend rejected
		// the transaction itself rather than a decrement inside it.
		if s.uow.SupportsTransactions() {
			return s.mapLedgerError(err)
		}
		s.logger(ctx, "inventory.reserve.tx_unsupported", map[string]any{"lines": len(lines)})
	}

	return s.reserveWithCompensation(ctx, lines)
}

// reserveWithCompensation applies decrements line by line, remembering each
// success. A failure rolls the applied decrements back before surfacing.
func (s *inventoryLedger) reserveWithCompensation(ctx context.Context, lines []StockLine) error {
	applied := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		if err := s.repo.Decrement(ctx, line); err != nil {
			s.compensate(ctx, applied)
			return s.mapLedgerError(err)
		}
		applied = append(applied, line)
	}
	s.logger(ctx, "inventory.reserved", map[string]any{"lines": len(lines), "path": "compensation"})
	return nil
}

// compensate re-increments decrements that already went through. Increment
// failures here are logged and swallowed; the original failure is what the
// caller needs to see.
func (s *inventoryLedger) compensate(ctx context.Context, applied []StockLine) {
	for i := len(applied) - 1; i >= 0; i-- {
		line := applied[i]
		if err := s.repo.Increment(ctx, line); err != nil {
			s.logger(ctx, "inventory.compensate.failed", map[string]any{
				"product_id": line.ProductID,
				"quantity":   line.Quantity,
				"error":      err.Error(),
			})
		}
	}
}

// Restock unconditionally increments every line in one batch, so it can run
// inside a caller's transaction alongside other writes. Callers invoke it
// once per cancellation event; double restocking the same order is their bug
// to avoid.
func (s *inventoryLedger) Restock(ctx context.Context, lines []StockLine) error {
	if err := validateLedgerLines(lines); err != nil {
		return err
	}
	if err := s.repo.IncrementAll(ctx, lines); err != nil {
		return s.mapLedgerError(err)
	}
	s.logger(ctx, "inventory.restocked", map[string]any{"lines": len(lines)})
	return nil
}

func validateLedgerLines(lines []StockLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive for product %s", ErrInventoryInvalidInput, line.ProductID)
		}
	}
	return nil
}

// mapLedgerError surfaces shortfalls under the service sentinel while keeping
// the typed inventory error reachable for callers that need the quantities.
func (s *inventoryLedger) mapLedgerError(err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock {
		return fmt.Errorf("%w: %w", ErrInventoryInsufficientStock, invErr)
	}
	return err
}
