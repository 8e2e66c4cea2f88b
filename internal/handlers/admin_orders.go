package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shoplane/api/internal/platform/auth"
	"github.com/shoplane/api/internal/platform/httpx"
	"github.com/shoplane/api/internal/services"
)

// AdminOrderHandlers exposes payment and fulfillment operations for operators.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs admin order handlers guarded by the admin role.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the admin order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleSupport))
	}
	r.Post("/orders/{orderID}:capture", h.captureOrder)
	r.Post("/orders/{orderID}:reject", h.rejectOrder)
	r.Post("/orders/{orderID}:ship", h.shipOrder)
	r.Post("/orders/{orderID}:deliver", h.deliverOrder)
}

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

type shipOrderRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

func (h *AdminOrderHandlers) captureOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, actorID, ok := h.adminRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Capture(ctx, services.CaptureCommand{
		OrderID: orderID,
		ActorID: actorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, actorID, ok := h.adminRequest(w, r)
	if !ok {
		return
	}

	var req rejectOrderRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	order, err := h.orders.RejectAuthorization(ctx, services.RejectAuthorizationCommand{
		OrderID: orderID,
		ActorID: actorID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, actorID, ok := h.adminRequest(w, r)
	if !ok {
		return
	}

	var req shipOrderRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	order, err := h.orders.Ship(ctx, services.ShipCommand{
		OrderID:        orderID,
		ActorID:        actorID,
		Carrier:        strings.TrimSpace(req.Carrier),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, actorID, ok := h.adminRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Deliver(ctx, services.DeliverCommand{
		OrderID: orderID,
		ActorID: actorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// adminRequest validates availability, identity and the orderID path param.
func (h *AdminOrderHandlers) adminRequest(w http.ResponseWriter, r *http.Request) (orderID, actorID string, ok bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return "", "", false
	}

	identity, found := auth.IdentityFromContext(ctx)
	if !found || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.Unauthenticated())
		return "", "", false
	}

	orderID = strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.Invalid("order id is required"))
		return "", "", false
	}

	return orderID, strings.TrimSpace(identity.UID), true
}

func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) {
			return true
		}
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.Invalid("invalid JSON body"))
		return false
	}
	return true
}
