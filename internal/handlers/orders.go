package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shoplane/api/internal/platform/auth"
	"github.com/shoplane/api/internal/platform/httpx"
	"github.com/shoplane/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 4 * 1024
)

// OrderHandlers exposes order endpoints for authenticated customers.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.Unauthenticated())
		return
	}

	query := r.URL.Query()

	limit := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.Invalid("limit must be an integer"))
			return
		}
		switch {
		case parsed <= 0:
			limit = defaultOrderPageSize
		case parsed > maxOrderPageSize:
			limit = maxOrderPageSize
		default:
			limit = parsed
		}
	}

	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(identity.UID),
		Status:     strings.TrimSpace(query.Get("status")),
		Limit:      limit,
	}

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.Unauthenticated())
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.Invalid("order id is required"))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if !strings.EqualFold(strings.TrimSpace(order.CustomerID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.Unauthenticated())
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.Invalid("order id is required"))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.Invalid("invalid JSON body"))
			return
		}
	}

	cmd := services.CustomerCancelCommand{
		OrderID:    orderID,
		CustomerID: strings.TrimSpace(identity.UID),
		Reason:     strings.TrimSpace(req.Reason),
	}

	cancelled, err := h.orders.CustomerCancel(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

type orderListResponse struct {
	Items []orderSummaryPayload `json:"items"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	GrandTotal    int64  `json:"grand_total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	Number          string                `json:"number"`
	CustomerID      string                `json:"customer_id"`
	Email           string                `json:"email,omitempty"`
	ShippingAddress *addressPayload       `json:"shipping_address,omitempty"`
	Status          string                `json:"status"`
	PaymentMethod   string                `json:"payment_method"`
	PaymentStatus   string                `json:"payment_status"`
	PaymentRef      string                `json:"payment_ref,omitempty"`
	Lines           []orderLinePayload    `json:"lines"`
	Pricing         orderPricingPayload   `json:"pricing"`
	Tracking        *orderTrackingPayload `json:"tracking,omitempty"`
	StatusHistory   []statusChangePayload `json:"status_history,omitempty"`
	CancelledAt     string                `json:"cancelled_at,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
}

type addressPayload struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone,omitempty"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country,omitempty"`
	State         string `json:"state,omitempty"`
	City          string `json:"city"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
}

type orderLinePayload struct {
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Name      string  `json:"name,omitempty"`
	UnitPrice int64   `json:"unit_price"`
	Quantity  int64   `json:"quantity"`
	Size      string  `json:"size,omitempty"`
	Color     string  `json:"color,omitempty"`
}

type orderPricingPayload struct {
	Currency       string              `json:"currency"`
	Subtotal       int64               `json:"subtotal"`
	ShippingFee    int64               `json:"shipping_fee"`
	ShippingMethod string              `json:"shipping_method,omitempty"`
	DeliveryEta    *deliveryEtaPayload `json:"delivery_eta,omitempty"`
	TaxAmount      int64               `json:"tax_amount"`
	TaxRateBps     int64               `json:"tax_rate_bps"`
	GrandTotal     int64               `json:"grand_total"`
}

type deliveryEtaPayload struct {
	MinDays int `json:"min_days"`
	MaxDays int `json:"max_days"`
}

type orderTrackingPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	ShippedAt      string `json:"shipped_at,omitempty"`
}

type statusChangePayload struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
	At     string `json:"at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		Number:        order.Number,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Currency:      order.Pricing.Currency,
		GrandTotal:    order.Pricing.GrandTotal,
		CreatedAt:     formatTimestamp(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		Number:        order.Number,
		CustomerID:    order.CustomerID,
		Email:         order.Email,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		PaymentRef:    order.PaymentRef,
		Pricing:       buildOrderPricing(order.Pricing),
		Version:       order.Version,
		CreatedAt:     formatTimestamp(order.CreatedAt),
		UpdatedAt:     formatTimestamp(order.UpdatedAt),
	}

	payload.Lines = make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Size:      line.Size,
			Color:     line.Color,
		})
	}

	if len(order.StatusHistory) > 0 {
		payload.StatusHistory = make([]statusChangePayload, 0, len(order.StatusHistory))
		for _, change := range order.StatusHistory {
			payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
				Status: change.Status,
				Note:   change.Note,
				At:     formatTimestamp(change.At),
			})
		}
	}

	if order.Tracking != nil {
		payload.Tracking = &orderTrackingPayload{
			Carrier:        order.Tracking.Carrier,
			TrackingNumber: order.Tracking.TrackingNumber,
			ShippedAt:      formatTimestamp(order.Tracking.ShippedAt),
		}
	}

	if order.CancelledAt != nil {
		payload.CancelledAt = formatTimestamp(*order.CancelledAt)
	}

	if order.ShippingAddress != (services.Address{}) {
		payload.ShippingAddress = &addressPayload{
			RecipientName: order.ShippingAddress.RecipientName,
			Phone:         order.ShippingAddress.Phone,
			PostalCode:    order.ShippingAddress.PostalCode,
			Country:       order.ShippingAddress.Country,
			State:         order.ShippingAddress.State,
			City:          order.ShippingAddress.City,
			Line1:         order.ShippingAddress.Line1,
			Line2:         order.ShippingAddress.Line2,
		}
	}

	return payload
}

func buildOrderPricing(pricing services.PricingSnapshot) orderPricingPayload {
	payload := orderPricingPayload{
		Currency:       pricing.Currency,
		Subtotal:       pricing.Subtotal,
		ShippingFee:    pricing.ShippingFee,
		ShippingMethod: pricing.ShippingMethod,
		TaxAmount:      pricing.TaxAmount,
		TaxRateBps:     pricing.TaxRateBps,
		GrandTotal:     pricing.GrandTotal,
	}
	if pricing.DeliveryEta.MinDays > 0 || pricing.DeliveryEta.MaxDays > 0 {
		payload.DeliveryEta = &deliveryEtaPayload{
			MinDays: pricing.DeliveryEta.MinDays,
			MaxDays: pricing.DeliveryEta.MaxDays,
		}
	}
	return payload
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.Invalid(err.Error()))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order cannot be modified in its current status", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment operation failed", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
