package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/services"
)

type stubProductService struct {
	product  services.Product
	err      error
	likes    []string
	unlikes  []string
	actor    services.Actor
	update   services.UpdateSellableProductCommand
	disabled string
}

func (s *stubProductService) CreateSellableProduct(_ context.Context, productID string) (services.Product, error) {
	product := s.product
	product.ID = productID
	product.ProcessorProductID = "prod_" + productID
	return product, s.err
}

func (s *stubProductService) UpdateSellableProduct(_ context.Context, cmd services.UpdateSellableProductCommand) (services.Product, error) {
	s.update = cmd
	return s.product, s.err
}

func (s *stubProductService) DisableSellableProduct(_ context.Context, productID string) (services.Product, error) {
	s.disabled = productID
	product := s.product
	product.Status = domain.ProductStatusDisabled
	return product, s.err
}

func (s *stubProductService) LikeProduct(_ context.Context, actor services.Actor, productID string) error {
	s.actor = actor
	s.likes = append(s.likes, productID)
	return s.err
}

func (s *stubProductService) UnlikeProduct(_ context.Context, actor services.Actor, productID string) error {
	s.actor = actor
	s.unlikes = append(s.unlikes, productID)
	return s.err
}

func newProductRouter(t *testing.T, identity *auth.Identity, svc services.ProductService) http.Handler {
	t.Helper()
	h := NewProductHandlers(nil, newTestPolicy(t), svc)
	r := chi.NewRouter()
	r.Use(withIdentity(identity))
	r.Route("/products", h.Routes)
	r.Route("/admin", h.AdminRoutes)
	return r
}

func sampleProduct() services.Product {
	return services.Product{
		ID:     "prod-1",
		Name:   "Desk Lamp",
		Price:  decimal.RequireFromString("39.5"),
		Stock:  12,
		Status: domain.ProductStatusActive,
	}
}

func TestProductHandlersLikes(t *testing.T) {
	svc := &stubProductService{}
	router := newProductRouter(t, clientIdentity("user-1"), svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/products/prod-1/likes", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/products/prod-1/likes", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(svc.likes) != 1 || len(svc.unlikes) != 1 || svc.actor.UserID != "user-1" {
		t.Fatalf("unexpected calls likes=%v unlikes=%v actor=%+v", svc.likes, svc.unlikes, svc.actor)
	}
}

func TestProductHandlersLikeErrors(t *testing.T) {
	cases := []struct {
		name     string
		identity *auth.Identity
		err      error
		want     int
	}{
		{name: "guest", identity: nil, want: http.StatusUnauthorized},
		{name: "forbidden", identity: clientIdentity("user-1"), err: policy.ErrForbidden, want: http.StatusForbidden},
		{name: "missing product", identity: clientIdentity("user-1"), err: services.ErrProductNotFound, want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newProductRouter(t, tc.identity, &stubProductService{err: tc.err})
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/products/prod-1/likes", nil))
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestProductHandlersSellableLifecycle(t *testing.T) {
	svc := &stubProductService{product: sampleProduct()}
	router := newProductRouter(t, managerIdentity, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/products/prod-1:sellable", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Product.ProcessorProductID != "prod_prod-1" || resp.Product.Price != "39.50" {
		t.Fatalf("unexpected product %+v", resp.Product)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/admin/products/prod-1", strings.NewReader(`{"name":"Floor Lamp","price":"45"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.update.ProductID != "prod-1" || svc.update.Name == nil || *svc.update.Name != "Floor Lamp" {
		t.Fatalf("unexpected update %+v", svc.update)
	}
	if svc.update.Price == nil || !svc.update.Price.Equal(decimal.NewFromInt(45)) || svc.update.Description != nil {
		t.Fatalf("unexpected update price %+v", svc.update)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/products/prod-1:disable", nil))
	if rr.Code != http.StatusOK || svc.disabled != "prod-1" {
		t.Fatalf("unexpected disable %d %q", rr.Code, svc.disabled)
	}
}

func TestProductHandlersAdminRejects(t *testing.T) {
	router := newProductRouter(t, clientIdentity("user-1"), &stubProductService{product: sampleProduct()})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/products/prod-1:sellable", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", rr.Code)
	}

	router = newProductRouter(t, managerIdentity, &stubProductService{product: sampleProduct()})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/admin/products/prod-1", strings.NewReader(`{"price":"cheap"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad price, got %d", rr.Code)
	}

	router = newProductRouter(t, managerIdentity, &stubProductService{err: services.ErrProductProcessor})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/products/prod-1:sellable", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for processor failure, got %d", rr.Code)
	}
}
