package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/payments"
)

type stubGateway struct {
	captureFn  func(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error)
	cancelFn   func(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error)
	retrieveFn func(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error)

	captures []string
	cancels  []string
}

func (s *stubGateway) Capture(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error) {
	s.captures = append(s.captures, referenceID)
	if s.captureFn != nil {
		return s.captureFn(ctx, gateway, referenceID)
	}
	return payments.PaymentDetails{ReferenceID: referenceID, Status: payments.StatusSucceeded}, nil
}

func (s *stubGateway) CancelAuthorization(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error) {
	s.cancels = append(s.cancels, referenceID)
	if s.cancelFn != nil {
		return s.cancelFn(ctx, gateway, referenceID)
	}
	return payments.PaymentDetails{ReferenceID: referenceID, Status: payments.StatusCanceled}, nil
}

func (s *stubGateway) Retrieve(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error) {
	if s.retrieveFn != nil {
		return s.retrieveFn(ctx, gateway, referenceID)
	}
	return payments.PaymentDetails{ReferenceID: referenceID, Status: payments.StatusRequiresCapture}, nil
}

type orderFixture struct {
	orders  *stubOrderRepo
	ledger  *stubLedger
	uow     *stubUnitOfWork
	gateway *stubGateway
	events  *captureOrderEvents
}

func newOrderFixture(stored domain.Order) *orderFixture {
	f := &orderFixture{
		orders:  &stubOrderRepo{},
		ledger:  &stubLedger{},
		uow:     &stubUnitOfWork{supports: true},
		gateway: &stubGateway{},
		events:  &captureOrderEvents{},
	}
	f.orders.findFn = func(_ context.Context, orderID string) (domain.Order, error) {
		if orderID == stored.ID {
			return stored, nil
		}
		return domain.Order{}, &notFoundError{msg: "order not found"}
	}
	return f
}

func newTestOrderService(t *testing.T, f *orderFixture) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     f.orders,
		Ledger:     f.ledger,
		UnitOfWork: f.uow,
		Payments:   f.gateway,
		Events:     f.events,
		Gateway:    "stripe",
		Clock: func() time.Time {
			return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func authorizedCardOrder() domain.Order {
	placed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            "ord_1",
		Number:        "SO-1042",
		CustomerID:    "cust_1",
		Email:         "buyer@example.com",
		Lines: []domain.OrderLine{
			{ProductID: "p1", Quantity: 2, UnitPrice: 90, Name: "Ring"},
			{ProductID: "p2", VariantID: strPtr("v1"), Quantity: 1, UnitPrice: 150, Name: "Band"},
		},
		PaymentMethod: domain.PaymentMethodCard,
		PaymentStatus: domain.PaymentStatusAuthorized,
		PaymentRef:    "pi_123",
		Status:        domain.OrderStatusPendingConfirmation,
		StatusHistory: []domain.StatusChange{{Status: domain.OrderStatusPendingConfirmation, Note: "order placed", At: placed}},
		Version:       1,
		CreatedAt:     placed,
		UpdatedAt:     placed,
	}
}

func TestCaptureMovesPaymentToPaid(t *testing.T) {
	f := newOrderFixture(authorizedCardOrder())
	var expectedVersion int64
	f.orders.updateFn = func(_ context.Context, order domain.Order, expected int64) (domain.Order, error) {
		expectedVersion = expected
		order.Version = expected + 1
		return order, nil
	}
	svc := newTestOrderService(t, f)

	order, err := svc.Capture(context.Background(), CaptureCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected payment paid, got %s", order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected status pending, got %s", order.Status)
	}
	if expectedVersion != 1 {
		t.Fatalf("expected version precondition 1, got %d", expectedVersion)
	}
	if len(order.StatusHistory) != 2 {
		t.Fatalf("expected history appended, got %d entries", len(order.StatusHistory))
	}
	if len(f.gateway.captures) != 1 || f.gateway.captures[0] != "pi_123" {
		t.Fatalf("unexpected captures %v", f.gateway.captures)
	}
	if len(f.events.events) != 1 || f.events.events[0].Name != "payment-captured" {
		t.Fatalf("expected payment-captured event, got %+v", f.events.events)
	}
}

func TestCaptureRejectedWhenGatewayAlreadySettled(t *testing.T) {
	f := newOrderFixture(authorizedCardOrder())
	f.gateway.retrieveFn = func(context.Context, string, string) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{ReferenceID: "pi_123", Status: payments.StatusSucceeded}, nil
	}
	updateCalled := false
	f.orders.updateFn = func(_ context.Context, order domain.Order, expected int64) (domain.Order, error) {
		updateCalled = true
		return order, nil
	}
	svc := newTestOrderService(t, f)

	_, err := svc.Capture(context.Background(), CaptureCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if len(f.gateway.captures) != 0 {
		t.Fatalf("expected no capture call, got %v", f.gateway.captures)
	}
	if updateCalled {
		t.Fatal("expected no local mutation on rejection")
	}
}

func TestCaptureRejectedWhenNotAuthorized(t *testing.T) {
	stored := authorizedCardOrder()
	stored.PaymentStatus = domain.PaymentStatusPaid
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	_, err := svc.Capture(context.Background(), CaptureCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state for double capture, got %v", err)
	}
}

func TestCaptureRejectedOnCancelledOrder(t *testing.T) {
	stored := authorizedCardOrder()
	stored.Status = domain.OrderStatusCancelled
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	_, err := svc.Capture(context.Background(), CaptureCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestRejectAuthorizationRestocksAndCancels(t *testing.T) {
	f := newOrderFixture(authorizedCardOrder())
	svc := newTestOrderService(t, f)

	order, err := svc.RejectAuthorization(context.Background(), RejectAuthorizationCommand{OrderID: "ord_1", Reason: "fraud review"})
	if err != nil {
		t.Fatalf("RejectAuthorization: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.PaymentStatus != domain.PaymentStatusCancelled {
		t.Fatalf("expected cancelled/cancelled, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.CancelledAt == nil {
		t.Fatal("expected cancelledAt set")
	}
	if len(order.StatusHistory) != 2 {
		t.Fatalf("expected exactly one new history entry, got %d total", len(order.StatusHistory))
	}
	if len(f.gateway.cancels) != 1 || f.gateway.cancels[0] != "pi_123" {
		t.Fatalf("expected gateway authorization cancelled, got %v", f.gateway.cancels)
	}
	if f.uow.runs != 1 {
		t.Fatalf("expected restock and update in one unit of work, got %d runs", f.uow.runs)
	}
	if len(f.ledger.restocks) != 1 {
		t.Fatalf("expected one restock call, got %d", len(f.ledger.restocks))
	}
	restocked := f.ledger.restocks[0]
	if len(restocked) != 2 || restocked[0].Quantity != 2 || restocked[1].Quantity != 1 {
		t.Fatalf("expected exact quantities restocked, got %+v", restocked)
	}
	if len(f.events.events) != 1 || f.events.events[0].Name != "payment-cancelled" {
		t.Fatalf("expected payment-cancelled event, got %+v", f.events.events)
	}
	if order.Version != 2 {
		t.Fatalf("expected version bumped to 2, got %d", order.Version)
	}
	if len(f.orders.puts) != 1 || f.orders.puts[0].Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order written, got %+v", f.orders.puts)
	}
}

// The transactional reject must issue its version-check read before the
// restock queues any pool write, or Firestore aborts the transaction.
func TestRejectAuthorizationReadsOrderBeforeWriting(t *testing.T) {
	f := newOrderFixture(authorizedCardOrder())
	stored := authorizedCardOrder()
	var calls []string
	f.orders.findFn = func(_ context.Context, orderID string) (domain.Order, error) {
		calls = append(calls, "find")
		return stored, nil
	}
	f.ledger.restockFn = func(context.Context, []StockLine) error {
		calls = append(calls, "restock")
		return nil
	}
	f.orders.putFn = func(context.Context, domain.Order) error {
		calls = append(calls, "put")
		return nil
	}
	f.gateway.cancelFn = func(context.Context, string, string) (payments.PaymentDetails, error) {
		calls = append(calls, "cancel")
		return payments.PaymentDetails{Status: payments.StatusCanceled}, nil
	}
	svc := newTestOrderService(t, f)

	if _, err := svc.RejectAuthorization(context.Background(), RejectAuthorizationCommand{OrderID: "ord_1"}); err != nil {
		t.Fatalf("RejectAuthorization: %v", err)
	}
	want := []string{"find", "find", "restock", "put", "cancel"}
	if len(calls) != len(want) {
		t.Fatalf("unexpected call sequence %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected call sequence %v, got %v", want, calls)
		}
	}
}

func TestRejectAuthorizationKeepsHoldWhenPersistFails(t *testing.T) {
	f := newOrderFixture(authorizedCardOrder())
	putErr := errors.New("write failed")
	f.orders.putFn = func(context.Context, domain.Order) error {
		return putErr
	}
	svc := newTestOrderService(t, f)

	_, err := svc.RejectAuthorization(context.Background(), RejectAuthorizationCommand{OrderID: "ord_1"})
	if !errors.Is(err, putErr) {
		t.Fatalf("expected persist failure to surface, got %v", err)
	}
	// The authorization stays intact until the local cancellation is durable.
	if len(f.gateway.cancels) != 0 {
		t.Fatalf("expected no gateway cancel, got %v", f.gateway.cancels)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no events, got %+v", f.events.events)
	}
}

func TestRejectAuthorizationDetectsVersionConflict(t *testing.T) {
	f := newOrderFixture(authorizedCardOrder())
	finds := 0
	f.orders.findFn = func(context.Context, string) (domain.Order, error) {
		finds++
		stored := authorizedCardOrder()
		if finds > 1 {
			// A concurrent mutation bumped the version between the load
			// and the transactional re-read.
			stored.Version = 3
		}
		return stored, nil
	}
	svc := newTestOrderService(t, f)

	_, err := svc.RejectAuthorization(context.Background(), RejectAuthorizationCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(f.ledger.restocks) != 0 {
		t.Fatalf("expected no restock after conflict, got %d", len(f.ledger.restocks))
	}
	if len(f.gateway.cancels) != 0 {
		t.Fatalf("expected no gateway cancel, got %v", f.gateway.cancels)
	}
}

func TestRejectAuthorizationCompensatesWithoutTransactions(t *testing.T) {
	f := newOrderFixture(authorizedCardOrder())
	f.uow.supports = false
	updateErr := errors.New("write failed")
	f.orders.updateFn = func(context.Context, domain.Order, int64) (domain.Order, error) {
		return domain.Order{}, updateErr
	}
	svc := newTestOrderService(t, f)

	_, err := svc.RejectAuthorization(context.Background(), RejectAuthorizationCommand{OrderID: "ord_1"})
	if !errors.Is(err, updateErr) {
		t.Fatalf("expected update failure to surface, got %v", err)
	}
	if len(f.ledger.restocks) != 1 {
		t.Fatalf("expected restock attempted, got %d", len(f.ledger.restocks))
	}
	// The failed update re-reserves the restocked lines.
	if len(f.ledger.reserved) != 2 {
		t.Fatalf("expected compensating re-reservation, got %+v", f.ledger.reserved)
	}
	if len(f.gateway.cancels) != 0 {
		t.Fatalf("expected hold untouched after failed cancel, got %v", f.gateway.cancels)
	}
}

func TestRejectAuthorizationRequiresAuthorizedPayment(t *testing.T) {
	stored := authorizedCardOrder()
	stored.PaymentStatus = domain.PaymentStatusPending
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	_, err := svc.RejectAuthorization(context.Background(), RejectAuthorizationCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if len(f.gateway.cancels) != 0 {
		t.Fatalf("expected no gateway call, got %v", f.gateway.cancels)
	}
}

func TestCustomerCancelKeepsStock(t *testing.T) {
	stored := authorizedCardOrder()
	stored.Status = domain.OrderStatusPending
	stored.PaymentMethod = domain.PaymentMethodCOD
	stored.PaymentStatus = domain.PaymentStatusPending
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	order, err := svc.CustomerCancel(context.Background(), CustomerCancelCommand{OrderID: "ord_1", CustomerID: "cust_1"})
	if err != nil {
		t.Fatalf("CustomerCancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if order.CancelledAt == nil {
		t.Fatal("expected cancelledAt set")
	}
	if len(f.ledger.restocks) != 0 {
		t.Fatalf("expected no restock on customer cancel, got %d", len(f.ledger.restocks))
	}
	if len(f.events.events) != 1 || f.events.events[0].Name != "order-cancelled" {
		t.Fatalf("expected order-cancelled event, got %+v", f.events.events)
	}
}

func TestCustomerCancelRejectedFromTerminalStatuses(t *testing.T) {
	for _, status := range []string{
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
		domain.OrderStatusPendingConfirmation,
	} {
		t.Run(status, func(t *testing.T) {
			stored := authorizedCardOrder()
			stored.Status = status
			f := newOrderFixture(stored)
			svc := newTestOrderService(t, f)

			_, err := svc.CustomerCancel(context.Background(), CustomerCancelCommand{OrderID: "ord_1", CustomerID: "cust_1"})
			if !errors.Is(err, ErrOrderInvalidState) {
				t.Fatalf("expected invalid state from %s, got %v", status, err)
			}
		})
	}
}

func TestCustomerCancelHidesForeignOrders(t *testing.T) {
	stored := authorizedCardOrder()
	stored.Status = domain.OrderStatusPending
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	_, err := svc.CustomerCancel(context.Background(), CustomerCancelCommand{OrderID: "ord_1", CustomerID: "someone-else"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign customer, got %v", err)
	}
}

func TestShipStoresTrackingAndAdvances(t *testing.T) {
	stored := authorizedCardOrder()
	stored.Status = domain.OrderStatusPending
	stored.PaymentStatus = domain.PaymentStatusPaid
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	order, err := svc.Ship(context.Background(), ShipCommand{OrderID: "ord_1", Carrier: "ups", TrackingNumber: "1Z999"})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", order.Status)
	}
	if order.Tracking == nil || order.Tracking.TrackingNumber != "1Z999" {
		t.Fatalf("expected tracking stored, got %+v", order.Tracking)
	}
	if len(f.events.events) != 1 || f.events.events[0].Name != "order-shipped" {
		t.Fatalf("expected order-shipped event, got %+v", f.events.events)
	}
}

func TestShipWithoutTrackingNumberDoesNotAdvance(t *testing.T) {
	stored := authorizedCardOrder()
	stored.Status = domain.OrderStatusPending
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	order, err := svc.Ship(context.Background(), ShipCommand{OrderID: "ord_1", Carrier: "ups"})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected status unchanged, got %s", order.Status)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no events, got %+v", f.events.events)
	}
}

func TestDeliverMarksCODPaid(t *testing.T) {
	stored := authorizedCardOrder()
	stored.Status = domain.OrderStatusShipped
	stored.PaymentMethod = domain.PaymentMethodCOD
	stored.PaymentStatus = domain.PaymentStatusPending
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	order, err := svc.Deliver(context.Background(), DeliverCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected COD payment settled on delivery, got %s", order.PaymentStatus)
	}
	if len(f.events.events) != 1 || f.events.events[0].Name != "order-delivered" {
		t.Fatalf("expected order-delivered event, got %+v", f.events.events)
	}
}

func TestDeliverRequiresShippedStatus(t *testing.T) {
	stored := authorizedCardOrder()
	stored.Status = domain.OrderStatusPending
	f := newOrderFixture(stored)
	svc := newTestOrderService(t, f)

	if _, err := svc.Deliver(context.Background(), DeliverCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	f := newOrderFixture(authorizedCardOrder())
	svc := newTestOrderService(t, f)

	if _, err := svc.GetOrder(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
