package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shoplane/api/internal/platform/auth"
	"github.com/shoplane/api/internal/platform/httpx"
	"github.com/shoplane/api/internal/platform/observability"
	"github.com/shoplane/api/internal/services"
)

const (
	maxCheckoutRequestBody = 8 * 1024

	defaultCheckoutRateLimit  = 10
	defaultCheckoutRateWindow = time.Minute
)

// CheckoutHandlers exposes order placement for authenticated customers.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutOption customises checkout handler construction.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimiter overrides the per-customer placement throttle.
func WithCheckoutRateLimiter(limiter rateLimiter) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = limiter
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		limiter:  newSimpleRateLimiter(defaultCheckoutRateLimit, defaultCheckoutRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/order", h.placeOrder)
}

type placeOrderRequest struct {
	Email         string             `json:"email"`
	Address       *addressRequest    `json:"address"`
	PaymentMethod string             `json:"paymentMethod"`
	Lines         []orderLineRequest `json:"lines"`
}

type addressRequest struct {
	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`
	PostalCode    string `json:"postalCode"`
	Country       string `json:"country"`
	State         string `json:"state"`
	City          string `json:"city"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2"`
}

type orderLineRequest struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId"`
	Quantity  int64   `json:"quantity"`
	Size      string  `json:"size"`
	Color     string  `json:"color"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.Unauthenticated())
		return
	}

	if h.limiter != nil && !h.limiter.Allow(observability.SanitizeCustomerID(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.Invalid("request body must be valid JSON"))
		return
	}

	if req.Address == nil {
		httpx.WriteError(ctx, w, httpx.Invalid("shipping address is required"))
		return
	}

	if len(req.Lines) == 0 {
		httpx.WriteError(ctx, w, httpx.Invalid("at least one line is required"))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CartLine{
			ProductID: strings.TrimSpace(line.ProductID),
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			Size:      strings.TrimSpace(line.Size),
			Color:     strings.TrimSpace(line.Color),
		})
	}

	cmd := services.PlaceOrderCommand{
		CustomerID: identity.UID,
		Email:      strings.TrimSpace(req.Email),
		ShippingAddress: services.Address{
			RecipientName: strings.TrimSpace(req.Address.RecipientName),
			Phone:         strings.TrimSpace(req.Address.Phone),
			PostalCode:    strings.TrimSpace(req.Address.PostalCode),
			Country:       strings.TrimSpace(req.Address.Country),
			State:         strings.TrimSpace(req.Address.State),
			City:          strings.TrimSpace(req.Address.City),
			Line1:         strings.TrimSpace(req.Address.Line1),
			Line2:         strings.TrimSpace(req.Address.Line2),
		},
		Lines:         lines,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	}

	order, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.Invalid(err.Error()))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock to reserve items", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be authorized", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to place order", http.StatusInternalServerError))
	}
}
