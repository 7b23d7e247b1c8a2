package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/api/internal/platform/textutil"
)

// ProviderStripe is the gateway key used for Stripe.
const ProviderStripe = "stripe"

// Stripe rejects checkout sessions that expire sooner than 30 minutes.
const minCheckoutSessionTTL = 30 * time.Minute

var stripeTracer = otel.Tracer("github.com/storefront/api/internal/payments")

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

// LatencyObserver records gateway call durations by operation and outcome.
type LatencyObserver func(operation string, outcome string, elapsed time.Duration)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeProductAPI interface {
	New(params *stripe.ProductParams) (*stripe.Product, error)
	Update(id string, params *stripe.ProductParams) (*stripe.Product, error)
}

type stripePriceAPI interface {
	New(params *stripe.PriceParams) (*stripe.Price, error)
	Update(id string, params *stripe.PriceParams) (*stripe.Price, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeClients lets tests replace the Stripe API surface.
type StripeClients struct {
	Intents  stripeIntentAPI
	Sessions stripeSessionAPI
	Products stripeProductAPI
	Prices   stripePriceAPI
	Refunds  stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	SuccessURL    string
	CancelURL     string
	SessionTTL    time.Duration
	Backends      *stripe.Backends
	Clients       *StripeClients
	Logger        StripeLogger
	Latency       LatencyObserver
	Clock         func() time.Time
}

// StripeGateway implements Gateway using Stripe APIs.
type StripeGateway struct {
	api           StripeClients
	webhookSecret string
	account       string
	successURL    string
	cancelURL     string
	sessionTTL    time.Duration
	clock         func() time.Time
	logger        StripeLogger
	latency       LatencyObserver
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	var clients StripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = StripeClients{
			Intents:  sc.PaymentIntents,
			Sessions: sc.CheckoutSessions,
			Products: sc.Products,
			Prices:   sc.Prices,
			Refunds:  sc.Refunds,
		}
	}
	if clients.Intents == nil || clients.Sessions == nil || clients.Products == nil || clients.Prices == nil || clients.Refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	ttl := cfg.SessionTTL
	if ttl < minCheckoutSessionTTL {
		ttl = minCheckoutSessionTTL
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	latency := cfg.Latency
	if latency == nil {
		latency = func(string, string, time.Duration) {}
	}

	return &StripeGateway{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		successURL:    strings.TrimSpace(cfg.SuccessURL),
		cancelURL:     strings.TrimSpace(cfg.CancelURL),
		sessionTTL:    ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		latency: latency,
	}, nil
}

// CreatePaymentIntent creates an intent with automatic payment methods and redirects disabled.
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	amount, err := ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return Intent{}, err
	}
	ctx, finish := g.observe(ctx, "create_payment_intent", attribute.String("order.id", req.OrderID))

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String(string(stripe.PaymentIntentAutomaticPaymentMethodsAllowRedirectsNever)),
		},
	}
	g.prepare(ctx, &params.Params, req.IdempotencyKey)
	for k, v := range textutil.MergeMetadata(map[string]string{MetadataOrderID: req.OrderID}, req.Metadata) {
		params.AddMetadata(k, v)
	}

	intent, err := g.api.Intents.New(params)
	finish(err)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create payment intent: %v", ErrGateway, err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderId":       req.OrderID,
		"amount":        amount,
	})
	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
		AmountMinor:  intent.Amount,
	}, nil
}

// CreatePaymentLink creates a hosted checkout session for a single catalog price.
func (g *StripeGateway) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (PaymentLink, error) {
	if strings.TrimSpace(req.PriceID) == "" {
		return PaymentLink{}, errors.New("stripe: price id is required")
	}
	quantity := int64(req.Quantity)
	if quantity < 1 {
		quantity = 1
	}
	ctx, finish := g.observe(ctx, "create_payment_link", attribute.String("order.id", req.OrderID))

	expiresAt := g.clock().Add(g.sessionTTL)
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(quantity),
		}},
		ExpiresAt: stripe.Int64(expiresAt.Unix()),
	}
	if g.successURL != "" {
		params.SuccessURL = stripe.String(g.successURL)
	}
	if g.cancelURL != "" {
		params.CancelURL = stripe.String(g.cancelURL)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	g.prepare(ctx, &params.Params, req.IdempotencyKey)

	metadata := textutil.MergeMetadata(map[string]string{
		MetadataOrderID:   req.OrderID,
		MetadataProductID: req.ProductID,
		MetadataQuantity:  strconv.FormatInt(quantity, 10),
		MetadataOrderType: OrderTypeSingleProduct,
	}, req.Metadata)
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
		params.PaymentIntentData.AddMetadata(k, v)
	}

	session, err := g.api.Sessions.New(params)
	finish(err)
	if err != nil {
		return PaymentLink{}, fmt.Errorf("%w: create checkout session: %v", ErrGateway, err)
	}

	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
	})
	return PaymentLink{SessionID: session.ID, URL: session.URL, ExpiresAt: expiresAt}, nil
}

func (g *StripeGateway) CreateProduct(ctx context.Context, req ProductRequest) (string, error) {
	ctx, finish := g.observe(ctx, "create_product")
	params := &stripe.ProductParams{Name: stripe.String(req.Name)}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	g.prepare(ctx, &params.Params, "")
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	product, err := g.api.Products.New(params)
	finish(err)
	if err != nil {
		return "", fmt.Errorf("%w: create product: %v", ErrGateway, err)
	}
	return product.ID, nil
}

func (g *StripeGateway) UpdateProduct(ctx context.Context, productID string, req ProductRequest) error {
	ctx, finish := g.observe(ctx, "update_product")
	params := &stripe.ProductParams{}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	g.prepare(ctx, &params.Params, "")
	_, err := g.api.Products.Update(productID, params)
	finish(err)
	if err != nil {
		return fmt.Errorf("%w: update product: %v", ErrGateway, err)
	}
	return nil
}

// ArchiveProduct deactivates the product. Stripe keeps archived products for history.
func (g *StripeGateway) ArchiveProduct(ctx context.Context, productID string) error {
	ctx, finish := g.observe(ctx, "archive_product")
	params := &stripe.ProductParams{Active: stripe.Bool(false)}
	g.prepare(ctx, &params.Params, "")
	_, err := g.api.Products.Update(productID, params)
	finish(err)
	if err != nil {
		return fmt.Errorf("%w: archive product: %v", ErrGateway, err)
	}
	return nil
}

func (g *StripeGateway) CreatePrice(ctx context.Context, req PriceRequest) (string, error) {
	amount, err := ToMinorUnits(req.UnitPrice, req.Currency)
	if err != nil {
		return "", err
	}
	ctx, finish := g.observe(ctx, "create_price")
	params := &stripe.PriceParams{
		Product:    stripe.String(req.ProductID),
		UnitAmount: stripe.Int64(amount),
		Currency:   stripe.String(strings.ToLower(req.Currency)),
	}
	g.prepare(ctx, &params.Params, "")
	price, err := g.api.Prices.New(params)
	finish(err)
	if err != nil {
		return "", fmt.Errorf("%w: create price: %v", ErrGateway, err)
	}
	return price.ID, nil
}

func (g *StripeGateway) ArchivePrice(ctx context.Context, priceID string) error {
	ctx, finish := g.observe(ctx, "archive_price")
	params := &stripe.PriceParams{Active: stripe.Bool(false)}
	g.prepare(ctx, &params.Params, "")
	_, err := g.api.Prices.Update(priceID, params)
	finish(err)
	if err != nil {
		return fmt.Errorf("%w: archive price: %v", ErrGateway, err)
	}
	return nil
}

// Refund refunds a payment intent.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		return RefundResult{}, errors.New("stripe: payment intent id is required")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.PaymentIntentID)}
	if req.Amount != nil {
		amount, err := ToMinorUnits(*req.Amount, req.Currency)
		if err != nil {
			return RefundResult{}, err
		}
		params.Amount = stripe.Int64(amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	ctx, finish := g.observe(ctx, "refund", attribute.String("payment_intent.id", req.PaymentIntentID))
	g.prepare(ctx, &params.Params, req.IdempotencyKey)

	refund, err := g.api.Refunds.New(params)
	finish(err)
	if err != nil {
		return RefundResult{}, fmt.Errorf("%w: refund payment intent: %v", ErrGateway, err)
	}
	g.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.PaymentIntentID,
		"refund":        refund.ID,
	})
	return RefundResult{ID: refund.ID, Status: string(refund.Status), AmountMinor: refund.Amount}, nil
}

// ConstructWebhookEvent verifies the Stripe-Signature header against the endpoint secret.
func (g *StripeGateway) ConstructWebhookEvent(payload []byte, signatureHeader string) (Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return Event{}, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	event := Event{
		ID:        evt.ID,
		Type:      string(evt.Type),
		CreatedAt: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Data != nil {
		event.Object = evt.Data.Raw
	}
	return event, nil
}

// GetMetadata extracts the order reference from payment intent and checkout session events.
func (g *StripeGateway) GetMetadata(event Event) (EventMetadata, error) {
	switch {
	case strings.HasPrefix(event.Type, "payment_intent."):
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Object, &intent); err != nil {
			return EventMetadata{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		meta := metadataFrom(intent.Metadata)
		meta.ExternalID = intent.ID
		meta.PaymentIntentID = intent.ID
		if intent.LastPaymentError != nil {
			meta.FailureMessage = intent.LastPaymentError.Msg
		}
		return requireOrder(meta)
	case strings.HasPrefix(event.Type, "checkout.session."):
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Object, &session); err != nil {
			return EventMetadata{}, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		meta := metadataFrom(session.Metadata)
		meta.ExternalID = session.ID
		if session.PaymentIntent != nil {
			meta.PaymentIntentID = session.PaymentIntent.ID
		}
		return requireOrder(meta)
	default:
		return EventMetadata{}, fmt.Errorf("%w: unsupported object for %s", ErrMetadataMissing, event.Type)
	}
}

func (g *StripeGateway) prepare(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
}

func (g *StripeGateway) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := g.clock()
	ctx, span := stripeTracer.Start(ctx, "stripe."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		g.latency(operation, outcome, g.clock().Sub(start))
	}
}

func metadataFrom(values map[string]string) EventMetadata {
	return EventMetadata{
		OrderID:   strings.TrimSpace(values[MetadataOrderID]),
		ProductID: strings.TrimSpace(values[MetadataProductID]),
		Quantity:  strings.TrimSpace(values[MetadataQuantity]),
		OrderType: strings.TrimSpace(values[MetadataOrderType]),
	}
}

func requireOrder(meta EventMetadata) (EventMetadata, error) {
	if meta.OrderID == "" {
		return meta, fmt.Errorf("%w: orderId", ErrMetadataMissing)
	}
	return meta, nil
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
