package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/services"
)

var listPageOptions = pagination.Options{DefaultPageSize: 20, MaxPageSize: 100}

// actorFromRequest converts the authenticated identity into a service actor. Callers without
// an identity become guests.
func actorFromRequest(r *http.Request) services.Actor {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil {
		return services.Actor{}
	}
	return services.Actor{
		UserID: strings.TrimSpace(identity.UID),
		Email:  strings.TrimSpace(identity.Email),
		Roles:  append([]string(nil), identity.Roles...),
	}
}

// requireActor writes 401 and reports false when the request is not authenticated.
func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor := actorFromRequest(r)
	if actor.IsGuest() {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actor, true
}

// allowed evaluates the rule table for the actor before a mutating call. Guests are
// evaluated under the guest role.
func allowed(w http.ResponseWriter, r *http.Request, authz services.Authorizer, actor services.Actor, action string, resource string, attrs policy.Attributes) bool {
	if authz == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "access denied", http.StatusForbidden))
		return false
	}
	roles := actor.Roles
	if actor.IsGuest() {
		roles = []string{policy.RoleGuest}
	}
	merged := policy.Attributes{policy.AttrSubjectID: actor.UserID}
	for k, v := range attrs {
		merged[k] = v
	}
	if err := authz.Authorize(roles, action, resource, merged); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "access denied", http.StatusForbidden))
		return false
	}
	return true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func pageFromRequest(w http.ResponseWriter, r *http.Request) (services.Pagination, bool) {
	params, err := pagination.FromRequest(r, listPageOptions)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.Pagination{}, false
	}
	return services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, true
}

// writeServiceError maps service sentinels to the HTTP error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		stockErr      *services.InsufficientStockError
		transitionErr *services.InvalidTransitionError
		minimumErr    *services.BelowMinimumError
	)
	switch {
	case errors.Is(err, policy.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "access denied", http.StatusForbidden))
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"productId": stockErr.ProductID,
		}))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.As(err, &transitionErr):
		allowedFrom := make([]string, 0, len(transitionErr.Allowed))
		for _, status := range transitionErr.Allowed {
			allowedFrom = append(allowedFrom, string(status))
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"currentStatus": string(transitionErr.Current),
			"targetStatus":  string(transitionErr.Target),
			"allowedFrom":   allowedFrom,
		}))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.As(err, &minimumErr):
		httpx.WriteError(ctx, w, httpx.NewError("promo_below_minimum", err.Error(), http.StatusBadRequest).WithDetails(map[string]any{
			"minimumPurchaseAmount": minimumErr.Minimum.StringFixed(2),
		}))
	case errors.Is(err, services.ErrPromotionNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("promo_not_eligible", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("order_in_progress", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderAddressAmbiguous):
		httpx.WriteError(ctx, w, httpx.NewError("address_ambiguous", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotAssigned):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "access denied", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderPaymentUnavailable),
		errors.Is(err, services.ErrPaymentGateway),
		errors.Is(err, services.ErrProductProcessor):
		httpx.WriteError(ctx, w, httpx.NewError("payment_processor_error", "payment processor unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentNotRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("not_refundable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderTotalNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("total_not_payable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderCartEmpty),
		errors.Is(err, services.ErrOrderAddressRequired),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput),
		errors.Is(err, services.ErrPromotionInvalidInput),
		errors.Is(err, services.ErrProductInvalidInput),
		errors.Is(err, services.ErrPaymentInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrPromotionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("promo_not_found", "promo code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDeadLetterNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("dead_letter_not_found", "dead letter not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrCartConflict),
		errors.Is(err, services.ErrPromotionConflict),
		errors.Is(err, services.ErrProductConflict),
		errors.Is(err, services.ErrDeadLetterConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrPromotionUnavailable),
		errors.Is(err, services.ErrDeadLetterUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func parseDecimalParam(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	return &ts, nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatOptionalTime(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return formatTime(*ts)
}

func money(value decimal.Decimal) string {
	return value.StringFixed(2)
}

// parseFilterValues splits repeated and comma separated query values, upper-casing and
// de-duplicating them.
func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}
