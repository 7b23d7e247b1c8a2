package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	authz services.Authorizer
	carts services.CartService
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, authz services.Authorizer, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		authz: authz,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/promo-code", h.applyPromoCode)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type applyPromoCodeRequest struct {
	Code string `json:"code"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false, func(actor services.Actor) (services.Cart, error) {
		return h.carts.GetCart(r.Context(), actor.UserID)
	})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true, func(actor services.Actor) (services.Cart, error) {
		return h.carts.ClearCart(r.Context(), actor.UserID)
	})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, &req, maxCartBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	h.serve(w, r, true, func(actor services.Actor) (services.Cart, error) {
		return h.carts.AddItem(r.Context(), services.AddCartItemCommand{
			UserID:    actor.UserID,
			ProductID: strings.TrimSpace(req.ProductID),
			Quantity:  req.Quantity,
		})
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateCartItemRequest
	if err := httpx.DecodeJSON(r, &req, maxCartBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	h.serve(w, r, true, func(actor services.Actor) (services.Cart, error) {
		return h.carts.UpdateItem(r.Context(), services.UpdateCartItemCommand{
			UserID:   actor.UserID,
			ItemID:   itemID,
			Quantity: req.Quantity,
		})
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	h.serve(w, r, true, func(actor services.Actor) (services.Cart, error) {
		return h.carts.RemoveItem(r.Context(), actor.UserID, itemID)
	})
}

func (h *CartHandlers) applyPromoCode(w http.ResponseWriter, r *http.Request) {
	var req applyPromoCodeRequest
	if err := httpx.DecodeJSON(r, &req, maxCartBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	h.serve(w, r, true, func(actor services.Actor) (services.Cart, error) {
		return h.carts.ApplyPromoCode(r.Context(), actor.UserID, req.Code)
	})
}

// serve resolves the caller, checks cart ownership for mutations, and renders the cart.
func (h *CartHandlers) serve(w http.ResponseWriter, r *http.Request, mutating bool, call func(services.Actor) (services.Cart, error)) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if mutating && !allowed(w, r, h.authz, actor, policy.ActionManage, policy.ResourceCart, policy.Attributes{
		policy.AttrOwnerID: actor.UserID,
	}) {
		return
	}

	cart, err := call(actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}
