package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Processor event types reconciled by the service.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventPaymentIntentCanceled  = "payment_intent.canceled"
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutExpired        = "checkout.session.expired"
)

// Metadata keys written on processor objects.
const (
	MetadataOrderID   = "orderId"
	MetadataProductID = "productId"
	MetadataQuantity  = "quantity"
	MetadataOrderType = "order_type"

	OrderTypeSingleProduct = "single_product_purchase"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a gateway.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrSignatureInvalid is returned when a webhook payload fails verification.
	ErrSignatureInvalid = errors.New("payments: invalid webhook signature")
	// ErrGateway wraps processor API failures.
	ErrGateway = errors.New("payments: gateway error")
	// ErrMetadataMissing is returned when an event does not reference an order.
	ErrMetadataMissing = errors.New("payments: event metadata missing")
)

// IntentRequest creates an in-app payment intent for an order.
type IntentRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the processor's payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountMinor  int64
}

// PaymentLinkRequest creates a hosted checkout session for a catalog price.
type PaymentLinkRequest struct {
	OrderID        string
	ProductID      string
	PriceID        string
	Quantity       int
	CustomerEmail  string
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentLink is a hosted checkout session.
type PaymentLink struct {
	SessionID string
	URL       string
	ExpiresAt time.Time
}

// ProductRequest describes a processor catalog product.
type ProductRequest struct {
	Name        string
	Description string
	Metadata    map[string]string
}

// PriceRequest describes a processor price for a product.
type PriceRequest struct {
	ProductID string
	UnitPrice decimal.Decimal
	Currency  string
}

// RefundRequest refunds a captured payment intent, fully when Amount is nil.
type RefundRequest struct {
	PaymentIntentID string
	Amount          *decimal.Decimal
	Currency        string
	Reason          string
	IdempotencyKey  string
}

// RefundResult summarises a processor refund.
type RefundResult struct {
	ID          string
	Status      string
	AmountMinor int64
}

// Event is a verified processor notification.
type Event struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Object    json.RawMessage
}

// EventMetadata is the order correlation data carried by an event.
type EventMetadata struct {
	OrderID    string
	ProductID  string
	Quantity   string
	OrderType  string
	ExternalID string
	// PaymentIntentID is the intent behind the event; for checkout sessions, the session's intent.
	PaymentIntentID string
	FailureMessage  string
}

// Gateway is the contract for payment processor adapters.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error)
	CreateProduct(ctx context.Context, req ProductRequest) (string, error)
	UpdateProduct(ctx context.Context, productID string, req ProductRequest) error
	ArchiveProduct(ctx context.Context, productID string) error
	CreatePrice(ctx context.Context, req PriceRequest) (string, error)
	ArchivePrice(ctx context.Context, priceID string) error
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	// ConstructWebhookEvent verifies the signature and fails closed.
	ConstructWebhookEvent(payload []byte, signatureHeader string) (Event, error)
	GetMetadata(event Event) (EventMetadata, error)
}

// Manager routes calls to a gateway by currency, falling back to a default.
type Manager struct {
	gateways        map[string]Gateway
	defaultProvider string
	currencyRoutes  map[string]string
}

var _ Gateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default gateway for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithCurrencyRoutes configures static currency to gateway mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
		}
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	registered := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{gateways: registered}
	if _, ok := registered[ProviderStripe]; ok {
		m.defaultProvider = ProviderStripe
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Resolve returns the gateway key and implementation for a currency.
func (m *Manager) Resolve(currency string) (string, Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return "", nil, errors.New("payments: no gateways registered")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency != "" {
		if key, ok := m.currencyRoutes[currency]; ok {
			if gw, ok := m.gateways[key]; ok {
				return key, gw, nil
			}
		}
	}
	if gw, ok := m.gateways[m.defaultProvider]; ok {
		return m.defaultProvider, gw, nil
	}
	if len(m.gateways) == 1 {
		for key, gw := range m.gateways {
			return key, gw, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

func (m *Manager) byCurrency(currency string) (Gateway, error) {
	_, gw, err := m.Resolve(currency)
	return gw, err
}

func (m *Manager) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	gw, err := m.byCurrency(req.Currency)
	if err != nil {
		return Intent{}, err
	}
	return gw.CreatePaymentIntent(ctx, req)
}

func (m *Manager) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error) {
	gw, err := m.byCurrency(req.Currency)
	if err != nil {
		return PaymentLink{}, err
	}
	return gw.CreatePaymentLink(ctx, req)
}

func (m *Manager) CreateProduct(ctx context.Context, req ProductRequest) (string, error) {
	gw, err := m.byCurrency("")
	if err != nil {
		return "", err
	}
	return gw.CreateProduct(ctx, req)
}

func (m *Manager) UpdateProduct(ctx context.Context, productID string, req ProductRequest) error {
	gw, err := m.byCurrency("")
	if err != nil {
		return err
	}
	return gw.UpdateProduct(ctx, productID, req)
}

func (m *Manager) ArchiveProduct(ctx context.Context, productID string) error {
	gw, err := m.byCurrency("")
	if err != nil {
		return err
	}
	return gw.ArchiveProduct(ctx, productID)
}

func (m *Manager) CreatePrice(ctx context.Context, req PriceRequest) (string, error) {
	gw, err := m.byCurrency(req.Currency)
	if err != nil {
		return "", err
	}
	return gw.CreatePrice(ctx, req)
}

func (m *Manager) ArchivePrice(ctx context.Context, priceID string) error {
	gw, err := m.byCurrency("")
	if err != nil {
		return err
	}
	return gw.ArchivePrice(ctx, priceID)
}

func (m *Manager) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	gw, err := m.byCurrency(req.Currency)
	if err != nil {
		return RefundResult{}, err
	}
	return gw.Refund(ctx, req)
}

// ConstructWebhookEvent verifies webhooks with the default gateway.
func (m *Manager) ConstructWebhookEvent(payload []byte, signatureHeader string) (Event, error) {
	gw, err := m.byCurrency("")
	if err != nil {
		return Event{}, err
	}
	return gw.ConstructWebhookEvent(payload, signatureHeader)
}

func (m *Manager) GetMetadata(event Event) (EventMetadata, error) {
	gw, err := m.byCurrency("")
	if err != nil {
		return EventMetadata{}, err
	}
	return gw.GetMetadata(event)
}
