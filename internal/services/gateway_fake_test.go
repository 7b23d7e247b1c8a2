package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storefront/api/internal/payments"
)

// fakeGateway records processor calls. Err fields fail the matching call.
type fakeGateway struct {
	intents  []payments.IntentRequest
	links    []payments.PaymentLinkRequest
	products []payments.ProductRequest
	prices   []payments.PriceRequest
	refunds  []payments.RefundRequest
	archived []string

	intentErr  error
	linkErr    error
	productErr error
	refundErr  error
	verifyErr  error

	events map[string]payments.Event
	meta   map[string]payments.EventMetadata
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		events: map[string]payments.Event{},
		meta:   map[string]payments.EventMetadata{},
	}
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	if g.intentErr != nil {
		return payments.Intent{}, g.intentErr
	}
	g.intents = append(g.intents, req)
	id := fmt.Sprintf("pi_%d", len(g.intents))
	return payments.Intent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method"}, nil
}

func (g *fakeGateway) CreatePaymentLink(ctx context.Context, req payments.PaymentLinkRequest) (payments.PaymentLink, error) {
	if g.linkErr != nil {
		return payments.PaymentLink{}, g.linkErr
	}
	g.links = append(g.links, req)
	id := fmt.Sprintf("cs_%d", len(g.links))
	return payments.PaymentLink{SessionID: id, URL: "https://checkout.test/" + id}, nil
}

func (g *fakeGateway) CreateProduct(ctx context.Context, req payments.ProductRequest) (string, error) {
	if g.productErr != nil {
		return "", g.productErr
	}
	g.products = append(g.products, req)
	return fmt.Sprintf("prod_%d", len(g.products)), nil
}

func (g *fakeGateway) UpdateProduct(ctx context.Context, productID string, req payments.ProductRequest) error {
	if g.productErr != nil {
		return g.productErr
	}
	g.products = append(g.products, req)
	return nil
}

func (g *fakeGateway) ArchiveProduct(ctx context.Context, productID string) error {
	g.archived = append(g.archived, productID)
	return nil
}

func (g *fakeGateway) CreatePrice(ctx context.Context, req payments.PriceRequest) (string, error) {
	if g.productErr != nil {
		return "", g.productErr
	}
	g.prices = append(g.prices, req)
	return fmt.Sprintf("price_%d", len(g.prices)), nil
}

func (g *fakeGateway) ArchivePrice(ctx context.Context, priceID string) error {
	g.archived = append(g.archived, priceID)
	return nil
}

func (g *fakeGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	if g.refundErr != nil {
		return payments.RefundResult{}, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return payments.RefundResult{ID: fmt.Sprintf("re_%d", len(g.refunds)), Status: "succeeded", AmountMinor: 1000}, nil
}

// ConstructWebhookEvent looks the payload's "id" up in events; the signature must be "valid".
func (g *fakeGateway) ConstructWebhookEvent(payload []byte, signatureHeader string) (payments.Event, error) {
	if g.verifyErr != nil {
		return payments.Event{}, g.verifyErr
	}
	if signatureHeader != "valid" {
		return payments.Event{}, payments.ErrSignatureInvalid
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return payments.Event{}, fmt.Errorf("%w: %v", payments.ErrSignatureInvalid, err)
	}
	evt, ok := g.events[body.ID]
	if !ok {
		return payments.Event{}, payments.ErrSignatureInvalid
	}
	return evt, nil
}

func (g *fakeGateway) GetMetadata(event payments.Event) (payments.EventMetadata, error) {
	meta, ok := g.meta[event.ID]
	if !ok {
		return payments.EventMetadata{}, payments.ErrMetadataMissing
	}
	return meta, nil
}

var _ payments.Gateway = (*fakeGateway)(nil)
