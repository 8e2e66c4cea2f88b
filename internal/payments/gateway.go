package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	// StatusRequiresCapture indicates funds are held and awaiting manual capture.
	StatusRequiresCapture Status = "requires_capture"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusCanceled indicates the authorization was voided before capture.
	StatusCanceled Status = "canceled"
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
)

// ErrUnsupportedGateway is returned when the manager cannot locate a gateway.
var ErrUnsupportedGateway = errors.New("payments: unsupported gateway")

// AuthorizeRequest captures the payload required to place a hold on funds.
type AuthorizeRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Authorization represents the gateway-side hold created for an order.
type Authorization struct {
	ReferenceID  string
	Status       Status
	ClientSecret string
}

// PaymentDetails normalises gateway specific fields for storage and checks.
type PaymentDetails struct {
	ReferenceID string
	Status      Status
	Amount      int64
	Currency    string
}

// Gateway defines the contract payment adapters implement. ReferenceID values
// returned from Authorize address the same payment in every other call.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	Capture(ctx context.Context, referenceID string) (PaymentDetails, error)
	CancelAuthorization(ctx context.Context, referenceID string) (PaymentDetails, error)
	Retrieve(ctx context.Context, referenceID string) (PaymentDetails, error)
}

// Manager coordinates gateway selection and exposes the aggregated interface.
type Manager struct {
	gateways       map[string]Gateway
	defaultGateway string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultGateway overrides the gateway used when no preference is given.
func WithDefaultGateway(name string) ManagerOption {
	return func(m *Manager) {
		m.defaultGateway = strings.TrimSpace(strings.ToLower(name))
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	copyMap := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		gateways: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultGateway = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Resolve returns the gateway registered under name, falling back to the
// default and finally to a sole registration.
func (m *Manager) Resolve(name string) (string, Gateway, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.gateways) == 0 {
		return "", nil, errors.New("payments: no gateways registered")
	}
	if key := strings.TrimSpace(strings.ToLower(name)); key != "" {
		if g, ok := m.gateways[key]; ok {
			return key, g, nil
		}
	}
	if def := m.defaultGateway; def != "" {
		if g, ok := m.gateways[def]; ok {
			return def, g, nil
		}
	}
	if len(m.gateways) == 1 {
		for key, g := range m.gateways {
			return key, g, nil
		}
	}
	return "", nil, ErrUnsupportedGateway
}

// Authorize delegates to the resolved gateway.
func (m *Manager) Authorize(ctx context.Context, gateway string, req AuthorizeRequest) (Authorization, error) {
	_, g, err := m.Resolve(gateway)
	if err != nil {
		return Authorization{}, err
	}
	return g.Authorize(ctx, req)
}

// Capture delegates to the resolved gateway.
func (m *Manager) Capture(ctx context.Context, gateway, referenceID string) (PaymentDetails, error) {
	_, g, err := m.Resolve(gateway)
	if err != nil {
		return PaymentDetails{}, err
	}
	return g.Capture(ctx, referenceID)
}

// CancelAuthorization delegates to the resolved gateway.
func (m *Manager) CancelAuthorization(ctx context.Context, gateway, referenceID string) (PaymentDetails, error) {
	_, g, err := m.Resolve(gateway)
	if err != nil {
		return PaymentDetails{}, err
	}
	return g.CancelAuthorization(ctx, referenceID)
}

// Retrieve delegates to the resolved gateway.
func (m *Manager) Retrieve(ctx context.Context, gateway, referenceID string) (PaymentDetails, error) {
	_, g, err := m.Resolve(gateway)
	if err != nil {
		return PaymentDetails{}, err
	}
	return g.Retrieve(ctx, referenceID)
}
