package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/payments"
	"github.com/shoplane/api/internal/repositories"
)

const (
	eventPaymentCaptured  = "payment-captured"
	eventPaymentCancelled = "payment-cancelled"
	eventOrderCancelled   = "order-cancelled"
	eventOrderShipped     = "order-shipped"
	eventOrderDelivered   = "order-delivered"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the requested transition is not allowed from
	// the order's current state.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a concurrent mutation won the version race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentFailed indicates the gateway rejected a payment operation.
	ErrOrderPaymentFailed = errors.New("order: payment failed")
)

// customerCancellableStatuses lists the states a customer may cancel from.
// Card orders awaiting capture are excluded; the operator resolves those
// through RejectAuthorization so the gateway hold is voided too.
var customerCancellableStatuses = []string{
	domain.OrderStatusPending,
	domain.OrderStatusAuthorized,
}

// orderGateway abstracts payments.Manager for easier testing.
type orderGateway interface {
	Capture(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error)
	CancelAuthorization(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error)
	Retrieve(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Ledger     InventoryLedger
	UnitOfWork repositories.UnitOfWork
	Payments   orderGateway
	Events     OrderEventPublisher
	Gateway    string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders  repositories.OrderRepository
	ledger  InventoryLedger
	uow     repositories.UnitOfWork
	gateway orderGateway
	events  OrderEventPublisher
	psp     string
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: inventory ledger is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:  deps.Orders,
		ledger:  deps.Ledger,
		uow:     deps.UnitOfWork,
		gateway: deps.Payments,
		events:  deps.Events,
		psp:     strings.TrimSpace(deps.Gateway),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetOrder loads one order.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// ListOrders returns orders matching the filter.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// Capture settles an authorized card payment. The gateway is consulted first;
// capture proceeds only when it still reports the hold as awaiting capture,
// and a rejection leaves the order untouched.
func (s *orderService) Capture(ctx context.Context, cmd CaptureCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order %s is cancelled", ErrOrderInvalidState, order.ID)
	}
	if order.PaymentStatus != domain.PaymentStatusAuthorized {
		return Order{}, fmt.Errorf("%w: payment status is %s, expected %s", ErrOrderInvalidState, order.PaymentStatus, domain.PaymentStatusAuthorized)
	}

	details, err := s.gateway.Retrieve(ctx, s.psp, order.PaymentRef)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderPaymentFailed, err)
	}
	if details.Status != payments.StatusRequiresCapture {
		return Order{}, fmt.Errorf("%w: gateway reports payment as %s", ErrOrderInvalidState, details.Status)
	}
	if _, err := s.gateway.Capture(ctx, s.psp, order.PaymentRef); err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderPaymentFailed, err)
	}

	now := s.now()
	expected := order.Version
	order.PaymentStatus = domain.PaymentStatusPaid
	if order.Status == domain.OrderStatusPendingConfirmation {
		order.Status = domain.OrderStatusPending
	}
	order = appendHistory(order, order.Status, "payment captured", now)

	updated, err := s.orders.Update(ctx, order, expected)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.publishEvent(ctx, eventPaymentCaptured, updated, now)
	return updated, nil
}

// RejectAuthorization restocks every line, cancels the order, and then voids
// the gateway hold. The restock and the status update share one unit of
// work; without transaction support the restock is compensated when the
// update fails. The gateway is only touched once the local transition is
// durable, so a storage failure never strands a cancelled hold behind an
// order that still claims to be authorized.
func (s *orderService) RejectAuthorization(ctx context.Context, cmd RejectAuthorizationCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.PaymentStatus != domain.PaymentStatusAuthorized {
		return Order{}, fmt.Errorf("%w: payment status is %s, expected %s", ErrOrderInvalidState, order.PaymentStatus, domain.PaymentStatusAuthorized)
	}

	now := s.now()
	expected := order.Version
	note := strings.TrimSpace(cmd.Reason)
	if note == "" {
		note = "authorization rejected"
	}
	order.PaymentStatus = domain.PaymentStatusCancelled
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order = appendHistory(order, domain.OrderStatusCancelled, note, now)

	stockLines := stockLinesFromOrder(order)
	var updated Order
	if s.uow.SupportsTransactions() {
		err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
			// The version check reads before the restock queues its pool
			// writes; every read in the transaction precedes every write.
			current, err := s.orders.FindByID(ctx, order.ID)
			if err != nil {
				return err
			}
			if current.Version != expected {
				return fmt.Errorf("%w: order %s version changed from %d to %d", ErrOrderConflict, order.ID, expected, current.Version)
			}
			if err := s.ledger.Restock(ctx, stockLines); err != nil {
				return err
			}
			next := order
			next.Version = expected + 1
			if err := s.orders.Put(ctx, next); err != nil {
				return err
			}
			updated = next
			return nil
		})
		if err != nil && s.uow.SupportsTransactions() {
			return Order{}, s.mapRepositoryError(err)
		}
	}
	if !s.uow.SupportsTransactions() {
		updated, err = s.rejectWithCompensation(ctx, order, expected, stockLines)
		if err != nil {
			return Order{}, err
		}
	}

	if _, err := s.gateway.CancelAuthorization(ctx, s.psp, updated.PaymentRef); err != nil {
		// The hold expires on the gateway's side; surface it for followup.
		s.logger(ctx, "order.reject.gateway_cancel_failed", map[string]any{
			"order_id":    updated.ID,
			"payment_ref": updated.PaymentRef,
			"error":       err.Error(),
		})
	}

	s.publishEvent(ctx, eventPaymentCancelled, updated, now)
	return updated, nil
}

// rejectWithCompensation restocks first and re-reserves the lines when the
// subsequent order update fails, so stock and order state stay consistent.
func (s *orderService) rejectWithCompensation(ctx context.Context, order Order, expected int64, stockLines []StockLine) (Order, error) {
	if err := s.ledger.Restock(ctx, stockLines); err != nil {
		return Order{}, err
	}
	updated, err := s.orders.Update(ctx, order, expected)
	if err != nil {
		if reserveErr := s.ledger.Reserve(ctx, stockLines); reserveErr != nil {
			s.logger(ctx, "order.reject.compensate_failed", map[string]any{
				"order_id": order.ID,
				"error":    reserveErr.Error(),
			})
		}
		return Order{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

// CustomerCancel marks the order cancelled on the customer's behalf. Stock is
// deliberately retained; see the warning log.
func (s *orderService) CustomerCancel(ctx context.Context, cmd CustomerCancelCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if cmd.CustomerID != "" && order.CustomerID != cmd.CustomerID {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, cmd.OrderID)
	}
	if !statusIn(order.Status, customerCancellableStatuses) {
		return Order{}, fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	expected := order.Version
	note := strings.TrimSpace(cmd.Reason)
	if note == "" {
		note = "cancelled by customer"
	}
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order = appendHistory(order, domain.OrderStatusCancelled, note, now)

	updated, err := s.orders.Update(ctx, order, expected)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.cancel.stock_retained", map[string]any{
		"order_id": updated.ID,
		"lines":    len(updated.Lines),
	})
	s.publishEvent(ctx, eventOrderCancelled, updated, now)
	return updated, nil
}

// Ship stores tracking details. A pending order with both carrier and
// tracking number advances to shipped.
func (s *orderService) Ship(ctx context.Context, cmd ShipCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	switch order.Status {
	case domain.OrderStatusCancelled, domain.OrderStatusDelivered:
		return Order{}, fmt.Errorf("%w: cannot ship order in status %s", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	expected := order.Version
	carrier := strings.TrimSpace(cmd.Carrier)
	trackingNumber := strings.TrimSpace(cmd.TrackingNumber)
	order.Tracking = &domain.Tracking{
		Carrier:        carrier,
		TrackingNumber: trackingNumber,
		ShippedAt:      now,
	}

	advanced := false
	if order.Status == domain.OrderStatusPending && carrier != "" && trackingNumber != "" {
		order.Status = domain.OrderStatusShipped
		order = appendHistory(order, domain.OrderStatusShipped, "shipped via "+carrier, now)
		advanced = true
	}
	order.UpdatedAt = now

	updated, err := s.orders.Update(ctx, order, expected)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if advanced {
		s.publishEvent(ctx, eventOrderShipped, updated, now)
	}
	return updated, nil
}

// Deliver marks a shipped order as delivered. Cash-on-delivery orders settle
// their payment at the door, so delivery also marks them paid.
func (s *orderService) Deliver(ctx context.Context, cmd DeliverCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusShipped {
		return Order{}, fmt.Errorf("%w: cannot deliver order in status %s", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	expected := order.Version
	order.Status = domain.OrderStatusDelivered
	if order.PaymentMethod == domain.PaymentMethodCOD && order.PaymentStatus == domain.PaymentStatusPending {
		order.PaymentStatus = domain.PaymentStatusPaid
	}
	order = appendHistory(order, domain.OrderStatusDelivered, "delivered", now)

	updated, err := s.orders.Update(ctx, order, expected)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.publishEvent(ctx, eventOrderDelivered, updated, now)
	return updated, nil
}

// appendHistory returns the order with one more history entry and a fresh
// UpdatedAt. History is only ever appended to, never rewritten.
func appendHistory(order Order, status, note string, at time.Time) Order {
	history := make([]domain.StatusChange, 0, len(order.StatusHistory)+1)
	history = append(history, order.StatusHistory...)
	history = append(history, domain.StatusChange{Status: status, Note: note, At: at})
	order.StatusHistory = history
	order.UpdatedAt = at
	return order
}

func statusIn(status string, allowed []string) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

func stockLinesFromOrder(order Order) []StockLine {
	lines := make([]StockLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, repositories.StockLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		})
	}
	return lines
}

func (s *orderService) publishEvent(ctx context.Context, name string, order Order, at time.Time) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Name:          name,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		OccurredAt:    at,
	}); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"event":    name,
			"order_id": order.ID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrOrderConflict, err)
		}
	}
	return err
}
