package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/services"
)

const maxProductBodySize = 16 * 1024

// ProductHandlers exposes product likes and the manager sellable lifecycle.
type ProductHandlers struct {
	authn    *auth.Authenticator
	authz    services.Authorizer
	products services.ProductService
}

// NewProductHandlers constructs product handlers.
func NewProductHandlers(authn *auth.Authenticator, authz services.Authorizer, products services.ProductService) *ProductHandlers {
	return &ProductHandlers{
		authn:    authn,
		authz:    authz,
		products: products,
	}
}

// Routes wires the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/{productID}/likes", h.like)
	r.Delete("/{productID}/likes", h.unlike)
}

// AdminRoutes wires the manager-only /admin/products endpoints.
func (h *ProductHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleManager))
	}
	r.Post("/products/{productID}:sellable", h.createSellable)
	r.Patch("/products/{productID}", h.updateSellable)
	r.Post("/products/{productID}:disable", h.disableSellable)
}

type updateSellableProductRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Price       *string `json:"price"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

func (h *ProductHandlers) like(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		serviceUnavailable(r.Context(), w, "product")
		return
	}
	h.toggleLike(w, r, h.products.LikeProduct)
}

func (h *ProductHandlers) unlike(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		serviceUnavailable(r.Context(), w, "product")
		return
	}
	h.toggleLike(w, r, h.products.UnlikeProduct)
}

type likeFunc func(ctx context.Context, actor services.Actor, productID string) error

// toggleLike relies on the product service to evaluate ownership of the like.
func (h *ProductHandlers) toggleLike(w http.ResponseWriter, r *http.Request, call likeFunc) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if err := call(ctx, actor, productID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) createSellable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager(w, r) {
		return
	}
	product, err := h.products.CreateSellableProduct(ctx, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateSellable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager(w, r) {
		return
	}
	var req updateSellableProductRequest
	if err := httpx.DecodeJSON(r, &req, maxProductBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	cmd := services.UpdateSellableProductCommand{
		ProductID:   strings.TrimSpace(chi.URLParam(r, "productID")),
		Name:        req.Name,
		Description: req.Description,
	}
	if req.Price != nil {
		price, err := parseDecimalParam(*req.Price)
		if err != nil || price == nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "price must be a decimal string", http.StatusBadRequest))
			return
		}
		cmd.Price = price
	}

	product, err := h.products.UpdateSellableProduct(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) disableSellable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager(w, r) {
		return
	}
	product, err := h.products.DisableSellableProduct(ctx, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) manager(w http.ResponseWriter, r *http.Request) bool {
	if h.products == nil {
		serviceUnavailable(r.Context(), w, "product")
		return false
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return false
	}
	return allowed(w, r, h.authz, actor, policy.ActionManage, policy.ResourceProduct, nil)
}
