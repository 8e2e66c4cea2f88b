package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/shoplane/api/internal/platform/auth"
	"github.com/shoplane/api/internal/services"
)

func newAdminRouter(service services.OrderService) chi.Router {
	handler := NewAdminOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func adminRequest(method, target string, body *bytes.Buffer) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "op_1", Roles: []string{"admin"}}))
}

func TestAdminOrderHandlersCapture(t *testing.T) {
	var capturedCmd services.CaptureCommand
	service := &stubOrderService{
		captureFn: func(ctx context.Context, cmd services.CaptureCommand) (services.Order, error) {
			capturedCmd = cmd
			captured := sampleOrder()
			captured.PaymentStatus = "paid"
			return captured, nil
		},
	}

	rr := httptest.NewRecorder()
	newAdminRouter(service).ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/ord_123:capture", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedCmd.OrderID != "ord_123" {
		t.Fatalf("expected order id ord_123, got %s", capturedCmd.OrderID)
	}
	if capturedCmd.ActorID != "op_1" {
		t.Fatalf("expected actor op_1, got %s", capturedCmd.ActorID)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.PaymentStatus != "paid" {
		t.Fatalf("expected payment status paid, got %s", resp.Order.PaymentStatus)
	}
}

func TestAdminOrderHandlersCaptureInvalidState(t *testing.T) {
	service := &stubOrderService{
		captureFn: func(ctx context.Context, cmd services.CaptureCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}

	rr := httptest.NewRecorder()
	newAdminRouter(service).ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/ord_123:capture", nil))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersReject(t *testing.T) {
	var capturedCmd services.RejectAuthorizationCommand
	service := &stubOrderService{
		rejectFn: func(ctx context.Context, cmd services.RejectAuthorizationCommand) (services.Order, error) {
			capturedCmd = cmd
			rejected := sampleOrder()
			rejected.Status = "cancelled"
			rejected.PaymentStatus = "cancelled"
			return rejected, nil
		},
	}

	body := bytes.NewBufferString(`{"reason":"suspected fraud"}`)
	rr := httptest.NewRecorder()
	newAdminRouter(service).ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/ord_123:reject", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedCmd.Reason != "suspected fraud" {
		t.Fatalf("expected reason to be forwarded, got %q", capturedCmd.Reason)
	}
}

func TestAdminOrderHandlersShip(t *testing.T) {
	var capturedCmd services.ShipCommand
	service := &stubOrderService{
		shipFn: func(ctx context.Context, cmd services.ShipCommand) (services.Order, error) {
			capturedCmd = cmd
			shipped := sampleOrder()
			shipped.Status = "shipped"
			return shipped, nil
		},
	}

	body := bytes.NewBufferString(`{"carrier":"ups","trackingNumber":"1Z999"}`)
	rr := httptest.NewRecorder()
	newAdminRouter(service).ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/ord_123:ship", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedCmd.Carrier != "ups" || capturedCmd.TrackingNumber != "1Z999" {
		t.Fatalf("unexpected ship command: %#v", capturedCmd)
	}
}

func TestAdminOrderHandlersShipInvalidJSON(t *testing.T) {
	service := &stubOrderService{}

	body := bytes.NewBufferString(`{carrier}`)
	rr := httptest.NewRecorder()
	newAdminRouter(service).ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/ord_123:ship", body))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersDeliver(t *testing.T) {
	service := &stubOrderService{
		deliverFn: func(ctx context.Context, cmd services.DeliverCommand) (services.Order, error) {
			delivered := sampleOrder()
			delivered.Status = "delivered"
			return delivered, nil
		},
	}

	rr := httptest.NewRecorder()
	newAdminRouter(service).ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/ord_123:deliver", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "delivered" {
		t.Fatalf("expected status delivered, got %s", resp.Order.Status)
	}
}

func TestAdminOrderHandlersUnauthenticated(t *testing.T) {
	handler := NewAdminOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_123:capture", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
