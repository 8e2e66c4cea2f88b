package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/repositories"
)

type stubInventoryRepo struct {
	decrementFn func(ctx context.Context, line repositories.StockLine) error
	incrementFn func(ctx context.Context, line repositories.StockLine) error
	getFn       func(ctx context.Context, productID string, variantID *string) (domain.InventoryStock, error)

	decrements      []repositories.StockLine
	increments      []repositories.StockLine
	batchDecrements [][]repositories.StockLine
	batchIncrements [][]repositories.StockLine
}

func (s *stubInventoryRepo) Decrement(ctx context.Context, line repositories.StockLine) error {
	s.decrements = append(s.decrements, line)
	if s.decrementFn != nil {
		return s.decrementFn(ctx, line)
	}
	return nil
}

func (s *stubInventoryRepo) Increment(ctx context.Context, line repositories.StockLine) error {
	s.increments = append(s.increments, line)
	if s.incrementFn != nil {
		return s.incrementFn(ctx, line)
	}
	return nil
}

func (s *stubInventoryRepo) DecrementAll(ctx context.Context, lines []repositories.StockLine) error {
	s.batchDecrements = append(s.batchDecrements, lines)
	for _, line := range lines {
		if s.decrementFn != nil {
			if err := s.decrementFn(ctx, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *stubInventoryRepo) IncrementAll(ctx context.Context, lines []repositories.StockLine) error {
	s.batchIncrements = append(s.batchIncrements, lines)
	for _, line := range lines {
		if s.incrementFn != nil {
			if err := s.incrementFn(ctx, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *stubInventoryRepo) GetStock(ctx context.Context, productID string, variantID *string) (domain.InventoryStock, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID, variantID)
	}
	return domain.InventoryStock{}, errors.New("not implemented")
}

type stubUnitOfWork struct {
	runFn    func(ctx context.Context, fn func(ctx context.Context) error) error
	supports bool
	runs     int
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.runs++
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

func (s *stubUnitOfWork) SupportsTransactions() bool { return s.supports }

func newTestLedger(t *testing.T, repo *stubInventoryRepo, uow *stubUnitOfWork) InventoryLedger {
	t.Helper()
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{Inventory: repo, UnitOfWork: uow})
	if err != nil {
		t.Fatalf("NewInventoryLedger: %v", err)
	}
	return ledger
}

func TestReserveRunsAllDecrementsInOneTransaction(t *testing.T) {
	repo := &stubInventoryRepo{}
	uow := &stubUnitOfWork{supports: true}
	ledger := newTestLedger(t, repo, uow)

	lines := []StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", VariantID: strPtr("v1"), Quantity: 1},
	}
	if err := ledger.Reserve(context.Background(), lines); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if uow.runs != 1 {
		t.Fatalf("expected one transaction, got %d", uow.runs)
	}
	// Every line travels in one batch call; per-line decrements inside a
	// transaction would interleave reads with writes.
	if len(repo.batchDecrements) != 1 || len(repo.batchDecrements[0]) != 2 {
		t.Fatalf("expected one batch of 2 decrements, got %+v", repo.batchDecrements)
	}
	if len(repo.decrements) != 0 {
		t.Fatalf("expected no single-line decrements on the transaction path, got %d", len(repo.decrements))
	}
	if len(repo.increments) != 0 || len(repo.batchIncrements) != 0 {
		t.Fatalf("expected no increments on success")
	}
}

func TestReserveShortfallSurfacesQuantities(t *testing.T) {
	shortfall := &repositories.InventoryError{
		Code:      repositories.InventoryErrorInsufficientStock,
		Message:   "insufficient stock",
		ProductID: "p1",
		Requested: 5,
		Remaining: 2,
	}
	repo := &stubInventoryRepo{
		decrementFn: func(context.Context, repositories.StockLine) error { return shortfall },
	}
	uow := &stubUnitOfWork{supports: true}
	ledger := newTestLedger(t, repo, uow)

	err := ledger.Reserve(context.Background(), []StockLine{{ProductID: "p1", Quantity: 5}})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock sentinel, got %v", err)
	}
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected typed inventory error, got %v", err)
	}
	if invErr.Requested != 5 || invErr.Remaining != 2 {
		t.Fatalf("expected requested 5 remaining 2, got %d/%d", invErr.Requested, invErr.Remaining)
	}
}

func TestReserveCompensationReincrementsAppliedLines(t *testing.T) {
	repo := &stubInventoryRepo{}
	repo.decrementFn = func(_ context.Context, line repositories.StockLine) error {
		if line.ProductID == "p3" {
			return &repositories.InventoryError{
				Code:      repositories.InventoryErrorInsufficientStock,
				Message:   "insufficient stock",
				ProductID: "p3",
				Requested: line.Quantity,
				Remaining: 0,
			}
		}
		return nil
	}
	uow := &stubUnitOfWork{supports: false}
	ledger := newTestLedger(t, repo, uow)

	lines := []StockLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 2},
		{ProductID: "p3", Quantity: 3},
	}
	err := ledger.Reserve(context.Background(), lines)
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if uow.runs != 0 {
		t.Fatalf("expected no transaction attempts, got %d", uow.runs)
	}
	if len(repo.increments) != 2 {
		t.Fatalf("expected 2 compensating increments, got %d", len(repo.increments))
	}
	// Rollback runs in reverse application order.
	if repo.increments[0].ProductID != "p2" || repo.increments[1].ProductID != "p1" {
		t.Fatalf("unexpected rollback order: %s then %s", repo.increments[0].ProductID, repo.increments[1].ProductID)
	}
}

func TestReserveFallsBackWhenBackendRejectsTransactions(t *testing.T) {
	repo := &stubInventoryRepo{}
	uow := &stubUnitOfWork{supports: true}
	uow.runFn = func(ctx context.Context, fn func(ctx context.Context) error) error {
		// The backend rejects the transaction itself; the registry remembers.
		uow.supports = false
		return errors.New("transactions are not supported")
	}
	ledger := newTestLedger(t, repo, uow)

	lines := []StockLine{{ProductID: "p1", Quantity: 1}}
	if err := ledger.Reserve(context.Background(), lines); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if uow.runs != 1 {
		t.Fatalf("expected one transaction attempt, got %d", uow.runs)
	}
	if len(repo.decrements) != 1 {
		t.Fatalf("expected fallback decrement, got %d", len(repo.decrements))
	}
}

func TestRestockIncrementsEveryLine(t *testing.T) {
	repo := &stubInventoryRepo{}
	ledger := newTestLedger(t, repo, &stubUnitOfWork{supports: true})

	lines := []StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", VariantID: strPtr("v1"), Quantity: 4},
	}
	if err := ledger.Restock(context.Background(), lines); err != nil {
		t.Fatalf("Restock: %v", err)
	}
	if len(repo.batchIncrements) != 1 || len(repo.batchIncrements[0]) != 2 {
		t.Fatalf("expected one batch of 2 increments, got %+v", repo.batchIncrements)
	}
	if repo.batchIncrements[0][1].Quantity != 4 {
		t.Fatalf("expected quantity 4, got %d", repo.batchIncrements[0][1].Quantity)
	}
}

func TestLedgerValidatesLines(t *testing.T) {
	ledger := newTestLedger(t, &stubInventoryRepo{}, &stubUnitOfWork{supports: true})

	if err := ledger.Reserve(context.Background(), nil); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for empty lines, got %v", err)
	}
	err := ledger.Restock(context.Background(), []StockLine{{ProductID: "p1", Quantity: 0}})
	if !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
}
