package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test"

type fakeIntentAPI struct {
	params *stripe.PaymentIntentParams
	resp   *stripe.PaymentIntent
	err    error
}

func (f *fakeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.params = params
	return f.resp, f.err
}

type fakeSessionAPI struct {
	params *stripe.CheckoutSessionParams
	resp   *stripe.CheckoutSession
	err    error
}

func (f *fakeSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.resp, f.err
}

type fakeProductAPI struct {
	created *stripe.ProductParams
	updated map[string]*stripe.ProductParams
}

func (f *fakeProductAPI) New(params *stripe.ProductParams) (*stripe.Product, error) {
	f.created = params
	return &stripe.Product{ID: "prod_123"}, nil
}

func (f *fakeProductAPI) Update(id string, params *stripe.ProductParams) (*stripe.Product, error) {
	if f.updated == nil {
		f.updated = map[string]*stripe.ProductParams{}
	}
	f.updated[id] = params
	return &stripe.Product{ID: id}, nil
}

type fakePriceAPI struct {
	created *stripe.PriceParams
	updated map[string]*stripe.PriceParams
}

func (f *fakePriceAPI) New(params *stripe.PriceParams) (*stripe.Price, error) {
	f.created = params
	return &stripe.Price{ID: "price_123"}, nil
}

func (f *fakePriceAPI) Update(id string, params *stripe.PriceParams) (*stripe.Price, error) {
	if f.updated == nil {
		f.updated = map[string]*stripe.PriceParams{}
	}
	f.updated[id] = params
	return &stripe.Price{ID: id}, nil
}

type fakeRefundAPI struct {
	params *stripe.RefundParams
}

func (f *fakeRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return &stripe.Refund{ID: "re_123", Status: stripe.RefundStatusSucceeded, Amount: 1999}, nil
}

type fakeStripe struct {
	intents  *fakeIntentAPI
	sessions *fakeSessionAPI
	products *fakeProductAPI
	prices   *fakePriceAPI
	refunds  *fakeRefundAPI
}

func newTestGateway(t *testing.T, now time.Time) (*StripeGateway, *fakeStripe) {
	t.Helper()
	fakes := &fakeStripe{
		intents:  &fakeIntentAPI{resp: &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod, Amount: 1999}},
		sessions: &fakeSessionAPI{resp: &stripe.CheckoutSession{ID: "cs_123", URL: "https://checkout.stripe.test/cs_123"}},
		products: &fakeProductAPI{},
		prices:   &fakePriceAPI{},
		refunds:  &fakeRefundAPI{},
	}
	gw, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: testWebhookSecret,
		SuccessURL:    "https://shop.test/success",
		CancelURL:     "https://shop.test/cancel",
		SessionTTL:    5 * time.Minute,
		Clock:         func() time.Time { return now },
		Clients: &StripeClients{
			Intents:  fakes.intents,
			Sessions: fakes.sessions,
			Products: fakes.products,
			Prices:   fakes.prices,
			Refunds:  fakes.refunds,
		},
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw, fakes
}

func TestStripeGatewayCreatePaymentIntent(t *testing.T) {
	gw, fakes := newTestGateway(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	intent, err := gw.CreatePaymentIntent(context.Background(), IntentRequest{
		OrderID:        "ord_1",
		Amount:         decimal.RequireFromString("19.99"),
		Currency:       "USD",
		IdempotencyKey: "order-ord_1-intent",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected intent %+v", intent)
	}

	p := fakes.intents.params
	if p == nil {
		t.Fatalf("expected params to be recorded")
	}
	if *p.Amount != 1999 {
		t.Fatalf("expected amount 1999, got %d", *p.Amount)
	}
	if *p.Currency != "usd" {
		t.Fatalf("expected lower-case currency, got %s", *p.Currency)
	}
	if p.AutomaticPaymentMethods == nil || !*p.AutomaticPaymentMethods.Enabled {
		t.Fatalf("expected automatic payment methods")
	}
	if *p.AutomaticPaymentMethods.AllowRedirects != "never" {
		t.Fatalf("expected redirects disabled, got %s", *p.AutomaticPaymentMethods.AllowRedirects)
	}
	if p.Metadata[MetadataOrderID] != "ord_1" {
		t.Fatalf("expected order metadata, got %v", p.Metadata)
	}
	if p.IdempotencyKey == nil || *p.IdempotencyKey != "order-ord_1-intent" {
		t.Fatalf("expected idempotency key")
	}
	if p.Context == nil {
		t.Fatalf("expected request context on params")
	}
}

func TestStripeGatewayCreatePaymentIntentGatewayError(t *testing.T) {
	gw, fakes := newTestGateway(t, time.Now())
	fakes.intents.err = errors.New("card network down")

	_, err := gw.CreatePaymentIntent(context.Background(), IntentRequest{OrderID: "ord_1", Amount: decimal.NewFromInt(5), Currency: "USD"})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestStripeGatewayCreatePaymentLinkEnforcesMinimumTTL(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gw, fakes := newTestGateway(t, now)

	link, err := gw.CreatePaymentLink(context.Background(), PaymentLinkRequest{
		OrderID:       "ord_2",
		ProductID:     "prd_1",
		PriceID:       "price_1",
		Quantity:      3,
		CustomerEmail: "guest@example.com",
		Currency:      "USD",
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if link.SessionID != "cs_123" || link.URL == "" {
		t.Fatalf("unexpected link %+v", link)
	}
	if !link.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("expected 30 minute expiry, got %s", link.ExpiresAt)
	}

	p := fakes.sessions.params
	if *p.Mode != string(stripe.CheckoutSessionModePayment) {
		t.Fatalf("expected payment mode")
	}
	if len(p.LineItems) != 1 || *p.LineItems[0].Price != "price_1" || *p.LineItems[0].Quantity != 3 {
		t.Fatalf("unexpected line items")
	}
	if *p.CustomerEmail != "guest@example.com" {
		t.Fatalf("expected customer email")
	}
	if *p.SuccessURL != "https://shop.test/success" || *p.CancelURL != "https://shop.test/cancel" {
		t.Fatalf("expected redirect urls")
	}
	if p.Metadata[MetadataOrderType] != OrderTypeSingleProduct || p.Metadata[MetadataQuantity] != "3" {
		t.Fatalf("unexpected session metadata %v", p.Metadata)
	}
	if p.PaymentIntentData.Metadata[MetadataOrderID] != "ord_2" {
		t.Fatalf("expected order id on payment intent data")
	}
}

func TestStripeGatewayCatalogLifecycle(t *testing.T) {
	gw, fakes := newTestGateway(t, time.Now())
	ctx := context.Background()

	productID, err := gw.CreateProduct(ctx, ProductRequest{Name: "Mug", Description: "Ceramic"})
	if err != nil || productID != "prod_123" {
		t.Fatalf("create product: %v %s", err, productID)
	}
	priceID, err := gw.CreatePrice(ctx, PriceRequest{ProductID: productID, UnitPrice: decimal.RequireFromString("12.50"), Currency: "USD"})
	if err != nil || priceID != "price_123" {
		t.Fatalf("create price: %v %s", err, priceID)
	}
	if *fakes.prices.created.UnitAmount != 1250 {
		t.Fatalf("expected unit amount 1250, got %d", *fakes.prices.created.UnitAmount)
	}

	if err := gw.ArchivePrice(ctx, priceID); err != nil {
		t.Fatalf("archive price: %v", err)
	}
	if err := gw.ArchiveProduct(ctx, productID); err != nil {
		t.Fatalf("archive product: %v", err)
	}
	if *fakes.prices.updated[priceID].Active {
		t.Fatalf("expected price to be deactivated")
	}
	if *fakes.products.updated[productID].Active {
		t.Fatalf("expected product to be deactivated")
	}
}

func TestStripeGatewayRefund(t *testing.T) {
	gw, fakes := newTestGateway(t, time.Now())
	amount := decimal.RequireFromString("5.00")

	result, err := gw.Refund(context.Background(), RefundRequest{
		PaymentIntentID: "pi_123",
		Amount:          &amount,
		Currency:        "USD",
		Reason:          "requested_by_customer",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.ID != "re_123" {
		t.Fatalf("unexpected refund %+v", result)
	}
	if *fakes.refunds.params.Amount != 500 || *fakes.refunds.params.PaymentIntent != "pi_123" {
		t.Fatalf("unexpected refund params")
	}
	if *fakes.refunds.params.Reason != "requested_by_customer" {
		t.Fatalf("expected reason to be forwarded")
	}

	if _, err := gw.Refund(context.Background(), RefundRequest{}); err == nil {
		t.Fatalf("expected error without payment intent")
	}
}

func TestStripeGatewayConstructWebhookEvent(t *testing.T) {
	gw, _ := newTestGateway(t, time.Now())
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","created":1767322800,"data":{"object":{"id":"pi_123","object":"payment_intent","metadata":{"orderId":"ord_9"}}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})

	event, err := gw.ConstructWebhookEvent(payload, signed.Header)
	if err != nil {
		t.Fatalf("construct event: %v", err)
	}
	if event.ID != "evt_1" || event.Type != EventPaymentIntentSucceeded {
		t.Fatalf("unexpected event %+v", event)
	}

	meta, err := gw.GetMetadata(event)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.OrderID != "ord_9" || meta.ExternalID != "pi_123" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestStripeGatewayConstructWebhookEventRejectsBadSignature(t *testing.T) {
	gw, _ := newTestGateway(t, time.Now())
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})

	if _, err := gw.ConstructWebhookEvent(payload, signed.Header); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if _, err := gw.ConstructWebhookEvent(payload, ""); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected invalid signature for missing header, got %v", err)
	}
}

func TestStripeGatewayGetMetadata(t *testing.T) {
	gw, _ := newTestGateway(t, time.Now())

	failed := Event{
		Type:   EventPaymentIntentFailed,
		Object: []byte(`{"id":"pi_9","metadata":{"orderId":"ord_1"},"last_payment_error":{"message":"card declined"}}`),
	}
	meta, err := gw.GetMetadata(failed)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.FailureMessage != "card declined" {
		t.Fatalf("expected failure message, got %q", meta.FailureMessage)
	}

	session := Event{
		Type:   EventCheckoutExpired,
		Object: []byte(`{"id":"cs_1","metadata":{"orderId":"ord_2","order_type":"single_product_purchase","productId":"prd_1","quantity":"2"}}`),
	}
	meta, err = gw.GetMetadata(session)
	if err != nil {
		t.Fatalf("session metadata: %v", err)
	}
	if meta.OrderID != "ord_2" || meta.ExternalID != "cs_1" || meta.Quantity != "2" {
		t.Fatalf("unexpected session metadata %+v", meta)
	}

	completed := Event{
		Type:   EventCheckoutCompleted,
		Object: []byte(`{"id":"cs_2","payment_intent":"pi_77","metadata":{"orderId":"ord_3"}}`),
	}
	meta, err = gw.GetMetadata(completed)
	if err != nil {
		t.Fatalf("completed session metadata: %v", err)
	}
	if meta.PaymentIntentID != "pi_77" || meta.ExternalID != "cs_2" {
		t.Fatalf("expected session intent id, got %+v", meta)
	}

	missing := Event{Type: EventPaymentIntentSucceeded, Object: []byte(`{"id":"pi_1","metadata":{}}`)}
	if _, err := gw.GetMetadata(missing); !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected missing metadata, got %v", err)
	}
	if _, err := gw.GetMetadata(Event{Type: "customer.created", Object: []byte(`{}`)}); !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected unsupported object error, got %v", err)
	}
}
