package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/payments"
	"github.com/shoplane/api/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	orderNumberCounter = "orders"

	eventOrderPlaced = "order-placed"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutInsufficientStock indicates stock could not be reserved for the requested lines.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutPaymentFailed indicates the gateway declined or failed the authorization.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// paymentProcessor abstracts payments.Manager for easier testing.
type paymentProcessor interface {
	Authorize(ctx context.Context, gateway string, req payments.AuthorizeRequest) (payments.Authorization, error)
	CancelAuthorization(ctx context.Context, gateway, referenceID string) (payments.PaymentDetails, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Pricing           PricingEngine
	Ledger            InventoryLedger
	Catalog           repositories.CatalogRepository
	Orders            repositories.OrderRepository
	Settings          repositories.SettingsRepository
	Counters          repositories.CounterRepository
	Payments          paymentProcessor
	Events            OrderEventPublisher
	Gateway           string
	OrderNumberPrefix string
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	pricing      PricingEngine
	ledger       InventoryLedger
	catalog      repositories.CatalogRepository
	orders       repositories.OrderRepository
	settings     repositories.SettingsRepository
	counters     repositories.CounterRepository
	payments     paymentProcessor
	events       OrderEventPublisher
	gateway      string
	numberPrefix string
	now          func() time.Time
	newID        func() string
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("checkout service: inventory ledger is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("checkout service: settings repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment processor is required")
	}

	prefix := strings.TrimSpace(deps.OrderNumberPrefix)
	if prefix == "" {
		prefix = "SO"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		pricing:      deps.Pricing,
		ledger:       deps.Ledger,
		catalog:      deps.Catalog,
		orders:       deps.Orders,
		settings:     deps.Settings,
		counters:     deps.Counters,
		payments:     deps.Payments,
		events:       deps.Events,
		gateway:      strings.TrimSpace(deps.Gateway),
		numberPrefix: prefix,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder prices the cart, reserves stock, authorizes card payments, and
// persists the order, strictly in that sequence. Any failure after the
// reservation releases it; any failure after authorization also voids the
// hold. No order document exists unless every step succeeded.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if err := validatePlaceOrder(cmd); err != nil {
		return Order{}, err
	}
	now := s.now()

	cart, err := s.pricing.ComputeSubtotal(ctx, cmd.Lines)
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) || errors.Is(err, ErrPricingProductNotFound) || errors.Is(err, ErrPricingVariantNotFound) {
			return Order{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, err)
		}
		return Order{}, err
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Order{}, err
	}
	snapshot := s.pricing.BuildPricingSnapshot(cart.Subtotal, settings)

	lines, err := s.buildOrderLines(ctx, cmd.Lines, cart.Lines)
	if err != nil {
		return Order{}, err
	}

	stockLines := stockLinesFromCart(cmd.Lines)
	if err := s.ledger.Reserve(ctx, stockLines); err != nil {
		if errors.Is(err, ErrInventoryInsufficientStock) {
			return Order{}, fmt.Errorf("%w: %w", ErrCheckoutInsufficientStock, err)
		}
		return Order{}, err
	}

	orderID := s.newID()
	order := domain.Order{
		ID:              orderID,
		CustomerID:      strings.TrimSpace(cmd.CustomerID),
		Email:           strings.TrimSpace(cmd.Email),
		ShippingAddress: trimAddress(cmd.ShippingAddress),
		Lines:           lines,
		Pricing:         snapshot,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if cmd.PaymentMethod == domain.PaymentMethodCard {
		auth, err := s.authorizeCard(ctx, order, snapshot)
		if err != nil {
			s.releaseReservation(ctx, stockLines, "authorize_failed")
			return Order{}, err
		}
		order.PaymentRef = auth.ReferenceID
		order.PaymentStatus = domain.PaymentStatusAuthorized
		order.Status = domain.OrderStatusPendingConfirmation
	}

	number, err := s.counters.Next(ctx, orderNumberCounter, now)
	if err != nil {
		s.rollbackPlacement(ctx, order, stockLines, "number_failed")
		return Order{}, err
	}
	order.Number = fmt.Sprintf("%s-%d", s.numberPrefix, number)
	order.StatusHistory = []domain.StatusChange{{Status: order.Status, Note: "order placed", At: now}}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.rollbackPlacement(ctx, order, stockLines, "persist_failed")
		return Order{}, err
	}

	s.publishEvent(ctx, eventOrderPlaced, order, now)
	s.logger(ctx, "checkout.order.placed", map[string]any{
		"order_id":       order.ID,
		"order_number":   order.Number,
		"payment_method": order.PaymentMethod,
		"grand_total":    order.Pricing.GrandTotal,
	})
	return order, nil
}

// authorizeCard places a manual-capture hold for the grand total. Anything
// other than a requires-capture outcome counts as a payment failure.
func (s *checkoutService) authorizeCard(ctx context.Context, order Order, snapshot PricingSnapshot) (payments.Authorization, error) {
	auth, err := s.payments.Authorize(ctx, s.gateway, payments.AuthorizeRequest{
		Amount:         snapshot.GrandTotal,
		Currency:       snapshot.Currency,
		CustomerEmail:  order.Email,
		Description:    "order " + order.ID,
		Metadata:       map[string]string{"order_id": order.ID},
		IdempotencyKey: order.ID,
	})
	if err != nil {
		return payments.Authorization{}, fmt.Errorf("%w: %s", ErrCheckoutPaymentFailed, err)
	}
	if auth.Status != payments.StatusRequiresCapture {
		if auth.ReferenceID != "" {
			if _, cancelErr := s.payments.CancelAuthorization(ctx, s.gateway, auth.ReferenceID); cancelErr != nil {
				s.logger(ctx, "checkout.authorization.cancel_failed", map[string]any{
					"payment_ref": auth.ReferenceID,
					"error":       cancelErr.Error(),
				})
			}
		}
		return payments.Authorization{}, fmt.Errorf("%w: authorization status %s", ErrCheckoutPaymentFailed, auth.Status)
	}
	return auth, nil
}

// rollbackPlacement undoes the reservation and, for authorized card orders,
// voids the gateway hold after a post-authorization failure.
func (s *checkoutService) rollbackPlacement(ctx context.Context, order Order, stockLines []StockLine, reason string) {
	if order.PaymentRef != "" {
		if _, err := s.payments.CancelAuthorization(ctx, s.gateway, order.PaymentRef); err != nil {
			s.logger(ctx, "checkout.authorization.cancel_failed", map[string]any{
				"payment_ref": order.PaymentRef,
				"error":       err.Error(),
			})
		}
	}
	s.releaseReservation(ctx, stockLines, reason)
}

func (s *checkoutService) releaseReservation(ctx context.Context, stockLines []StockLine, reason string) {
	if err := s.ledger.Restock(ctx, stockLines); err != nil {
		s.logger(ctx, "checkout.reservation.release_failed", map[string]any{
			"reason": reason,
			"error":  err.Error(),
		})
	}
}

// buildOrderLines joins the priced lines with catalog names. Priced lines and
// cart lines share index order.
func (s *checkoutService) buildOrderLines(ctx context.Context, cartLines []CartLine, priced []PricedLine) ([]domain.OrderLine, error) {
	ids := make([]string, 0, len(cartLines))
	for _, line := range cartLines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.OrderLine, 0, len(cartLines))
	for i, line := range cartLines {
		lines = append(lines, domain.OrderLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Name:      products[line.ProductID].Name,
			UnitPrice: priced[i].SalePrice,
			Quantity:  line.Quantity,
			Size:      line.Size,
			Color:     line.Color,
		})
	}
	return lines, nil
}

func (s *checkoutService) publishEvent(ctx context.Context, name string, order Order, at time.Time) {
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
		s.logger(ctx, "checkout.event.publish_failed", map[string]any{
			"event":    name,
			"order_id": order.ID,
			"error":    err.Error(),
		})
	}
}

func validatePlaceOrder(cmd PlaceOrderCommand) error {
	if strings.TrimSpace(cmd.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrCheckoutInvalidInput)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return err
	}
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrCheckoutInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCard, domain.PaymentMethodCOD:
	default:
		return fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	return nil
}

// validateShippingAddress rejects an undeliverable destination before any
// stock or gateway side effect.
func validateShippingAddress(addr Address) error {
	switch {
	case strings.TrimSpace(addr.RecipientName) == "":
		return fmt.Errorf("%w: shipping address recipient is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.PostalCode) == "":
		return fmt.Errorf("%w: shipping address postal code is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.City) == "":
		return fmt.Errorf("%w: shipping address city is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.Line1) == "":
		return fmt.Errorf("%w: shipping address line1 is required", ErrCheckoutInvalidInput)
	}
	return nil
}

func trimAddress(addr Address) Address {
	return Address{
		RecipientName: strings.TrimSpace(addr.RecipientName),
		Phone:         strings.TrimSpace(addr.Phone),
		PostalCode:    strings.TrimSpace(addr.PostalCode),
		Country:       strings.TrimSpace(addr.Country),
		State:         strings.TrimSpace(addr.State),
		City:          strings.TrimSpace(addr.City),
		Line1:         strings.TrimSpace(addr.Line1),
		Line2:         strings.TrimSpace(addr.Line2),
	}
}

func stockLinesFromCart(lines []CartLine) []StockLine {
	stock := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		stock = append(stock, repositories.StockLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		})
	}
	return stock
}
