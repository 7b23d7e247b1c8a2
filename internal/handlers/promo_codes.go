package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/services"
)

const maxPromoBodySize = 8 * 1024

// PromoCodeHandlers exposes promo code administration and client-side validation.
type PromoCodeHandlers struct {
	authn  *auth.Authenticator
	authz  services.Authorizer
	promos services.PromotionService
}

// NewPromoCodeHandlers constructs promo code handlers.
func NewPromoCodeHandlers(authn *auth.Authenticator, authz services.Authorizer, promos services.PromotionService) *PromoCodeHandlers {
	return &PromoCodeHandlers{
		authn:  authn,
		authz:  authz,
		promos: promos,
	}
}

// Routes wires the /promo-codes endpoints. The {promo} segment is the promo id for
// management routes and the customer facing code for :validate.
func (h *PromoCodeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{promo}", h.get)
	r.Patch("/{promo}", h.update)
	r.Post("/{promo}:disable", h.disable)
	r.Get("/{promo}:validate", h.validate)
}

type createPromoCodeRequest struct {
	Code                  string  `json:"code"`
	DiscountType          string  `json:"discountType"`
	DiscountValue         string  `json:"discountValue"`
	ExpirationDate        string  `json:"expirationDate"`
	UsageLimit            *int    `json:"usageLimit"`
	MinimumPurchaseAmount *string `json:"minimumPurchaseAmount"`
}

type updatePromoCodeRequest struct {
	ExpirationDate  *string `json:"expirationDate"`
	ClearExpiration bool    `json:"clearExpiration"`
	UsageLimit      *int    `json:"usageLimit"`
	ClearUsageLimit bool    `json:"clearUsageLimit"`
	Status          *string `json:"status"`
}

type promoCodeResponse struct {
	PromoCode promoCodePayload `json:"promoCode"`
}

type promoCodeListResponse struct {
	Items         []promoCodePayload `json:"items"`
	NextPageToken string             `json:"nextPageToken,omitempty"`
}

type promoValidationResponse struct {
	Valid     bool             `json:"valid"`
	PromoCode promoCodePayload `json:"promoCode"`
}

func (h *PromoCodeHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager(w, r) {
		return
	}

	var req createPromoCodeRequest
	if err := httpx.DecodeJSON(r, &req, maxPromoBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	value, err := decimal.NewFromString(strings.TrimSpace(req.DiscountValue))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "discountValue must be a decimal string", http.StatusBadRequest))
		return
	}
	cmd := services.CreatePromoCodeCommand{
		Code:          req.Code,
		DiscountType:  domain.DiscountType(strings.ToUpper(strings.TrimSpace(req.DiscountType))),
		DiscountValue: value,
		UsageLimit:    req.UsageLimit,
	}
	if cmd.ExpirationDate, err = parseTimeParam(req.ExpirationDate); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expirationDate must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}
	if req.MinimumPurchaseAmount != nil {
		if cmd.MinimumPurchaseAmount, err = parseDecimalParam(*req.MinimumPurchaseAmount); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "minimumPurchaseAmount must be a decimal string", http.StatusBadRequest))
			return
		}
	}

	promo, err := h.promos.Create(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, promoCodeResponse{PromoCode: buildPromoCodePayload(promo)})
}

func (h *PromoCodeHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager(w, r) {
		return
	}

	var req updatePromoCodeRequest
	if err := httpx.DecodeJSON(r, &req, maxPromoBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	cmd := services.UpdatePromoCodeCommand{
		PromoCodeID:     strings.TrimSpace(chi.URLParam(r, "promo")),
		ClearExpiration: req.ClearExpiration,
		UsageLimit:      req.UsageLimit,
		ClearUsageLimit: req.ClearUsageLimit,
	}
	if req.ExpirationDate != nil {
		ts, err := parseTimeParam(*req.ExpirationDate)
		if err != nil || ts == nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expirationDate must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ExpirationDate = ts
	}
	if req.Status != nil {
		status := domain.PromoCodeStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}

	promo, err := h.promos.Update(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, promoCodeResponse{PromoCode: buildPromoCodePayload(promo)})
}

func (h *PromoCodeHandlers) disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager(w, r) {
		return
	}
	promo, err := h.promos.Disable(ctx, strings.TrimSpace(chi.URLParam(r, "promo")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, promoCodeResponse{PromoCode: buildPromoCodePayload(promo)})
}

func (h *PromoCodeHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager(w, r) {
		return
	}
	promo, err := h.promos.Get(ctx, strings.TrimSpace(chi.URLParam(r, "promo")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, promoCodeResponse{PromoCode: buildPromoCodePayload(promo)})
}

func (h *PromoCodeHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.manager(w, r) {
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	filter := services.PromoCodeListFilter{Pagination: page}
	for _, raw := range parseFilterValues(r.URL.Query()["status"]) {
		filter.Status = append(filter.Status, domain.PromoCodeStatus(raw))
	}

	result, err := h.promos.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := promoCodeListResponse{Items: make([]promoCodePayload, 0, len(result.Items)), NextPageToken: result.NextPageToken}
	for _, promo := range result.Items {
		resp.Items = append(resp.Items, buildPromoCodePayload(promo))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// validate checks a code against an optional purchase amount without consuming it.
func (h *PromoCodeHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promos == nil {
		serviceUnavailable(ctx, w, "promotion")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !allowed(w, r, h.authz, actor, policy.ActionRead, policy.ResourcePromoCode, nil) {
		return
	}
	amount, err := parseDecimalParam(r.URL.Query().Get("amount"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a decimal", http.StatusBadRequest))
		return
	}

	promo, err := h.promos.Validate(ctx, chi.URLParam(r, "promo"), amount)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, promoValidationResponse{Valid: true, PromoCode: buildPromoCodePayload(promo)})
}

func (h *PromoCodeHandlers) manager(w http.ResponseWriter, r *http.Request) bool {
	if h.promos == nil {
		serviceUnavailable(r.Context(), w, "promotion")
		return false
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return false
	}
	return allowed(w, r, h.authz, actor, policy.ActionManage, policy.ResourcePromoCode, nil)
}
