package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/services"
)

const (
	maxOrderBodySize        = 16 * 1024
	defaultGuestOrderLimit  = 10
	defaultGuestOrderWindow = time.Minute
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusPaid:       {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

// OrderHandlers exposes checkout, order queries, and order status operations.
type OrderHandlers struct {
	authn       *auth.Authenticator
	authz       services.Authorizer
	orders      services.OrderService
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
	guestLimit  checkoutLimiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards both order creation routes with mw.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithOrderPayments enables the manager refund route.
func WithOrderPayments(payments services.PaymentService) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.payments = payments
	}
}

// WithGuestOrderRateLimit caps guest single product checkouts per client address. A
// non-positive limit disables the cap.
func WithGuestOrderRateLimit(limit int, window time.Duration, clock func() time.Time) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.guestLimit = newWindowLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(authn *auth.Authenticator, authz services.Authorizer, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:      authn,
		authz:      authz,
		orders:     orders,
		guestLimit: newWindowLimiter(defaultGuestOrderLimit, defaultGuestOrderWindow, nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the order endpoints against the API root.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Group(func(guest chi.Router) {
		if h.authn != nil {
			guest.Use(h.authn.OptionalFirebaseAuth())
		}
		if h.idempotency != nil {
			guest.Use(h.idempotency)
		}
		guest.Post("/orders:single-product", h.createFromProduct)
	})

	r.Group(func(authed chi.Router) {
		if h.authn != nil {
			authed.Use(h.authn.RequireFirebaseAuth())
		}
		authed.With(h.idempotencyOrPass()).Post("/orders", h.createFromCart)
		authed.Get("/orders", h.listOrders)
		authed.Get("/orders/available", h.listAvailable)
		authed.Get("/orders/deliveries", h.listDeliveries)
		authed.Get("/orders/{orderID}", h.getOrder)
		authed.Post("/orders/{orderID}:process", h.processOrder)
		authed.Post("/orders/{orderID}:ship", h.shipOrder)
		authed.Post("/orders/{orderID}:deliver", h.deliverOrder)
		authed.Post("/orders/{orderID}:cancel", h.cancelOrder)
		authed.Post("/orders/{orderID}:refund", h.refundOrder)
	})
}

func (h *OrderHandlers) idempotencyOrPass() func(http.Handler) http.Handler {
	if h.idempotency != nil {
		return h.idempotency
	}
	return func(next http.Handler) http.Handler { return next }
}

type addressRequest struct {
	Line1         string `json:"line1"`
	Line2         string `json:"line2"`
	City          string `json:"city"`
	StateProvince string `json:"stateProvince"`
	PostalCode    string `json:"postalCode"`
	CountryCode   string `json:"countryCode"`
	PhoneNumber   string `json:"phoneNumber"`
}

func (a *addressRequest) input() *services.AddressInput {
	if a == nil {
		return nil
	}
	return &services.AddressInput{
		Line1:         a.Line1,
		Line2:         a.Line2,
		City:          a.City,
		StateProvince: a.StateProvince,
		PostalCode:    a.PostalCode,
		CountryCode:   a.CountryCode,
		PhoneNumber:   a.PhoneNumber,
	}
}

type createOrderRequest struct {
	AddressID string          `json:"addressId"`
	Address   *addressRequest `json:"address"`
	PromoCode string          `json:"promoCode"`
}

type contactRequest struct {
	Email       string `json:"email"`
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
}

type createSingleProductOrderRequest struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Contact   *contactRequest `json:"contact"`
	AddressID string          `json:"addressId"`
	Address   *addressRequest `json:"address"`
}

type shipOrderRequest struct {
	DeliveryUserID string `json:"deliveryUserId"`
}

type refundOrderRequest struct {
	Amount *string `json:"amount"`
	Reason string  `json:"reason"`
}

type refundResponse struct {
	OrderID  string `json:"orderId"`
	RefundID string `json:"refundId"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
}

func (h *OrderHandlers) createFromCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if !allowed(w, r, h.authz, actor, policy.ActionCreate, policy.ResourceOrder, nil) {
		return
	}

	checkout, err := h.orders.CreateFromCart(ctx, services.CreateOrderFromCartCommand{
		UserID:    actor.UserID,
		AddressID: strings.TrimSpace(req.AddressID),
		Address:   req.Address.input(),
		PromoCode: strings.TrimSpace(req.PromoCode),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{
		Order:   buildOrderPayload(checkout.Order),
		Payment: buildPaymentHandle(checkout.Payment),
	})
}

func (h *OrderHandlers) createFromProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor := actorFromRequest(r)
	if actor.IsGuest() && h.guestLimit != nil {
		if ok, wait := h.guestLimit.Take(r.RemoteAddr); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many guest checkouts; retry later", http.StatusTooManyRequests))
			return
		}
	}

	var req createSingleProductOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if !allowed(w, r, h.authz, actor, policy.ActionPurchase, policy.ResourceProduct, nil) {
		return
	}

	cmd := services.CreateOrderFromProductCommand{
		Actor:     actor,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
		AddressID: strings.TrimSpace(req.AddressID),
		Address:   req.Address.input(),
	}
	if req.Contact != nil {
		cmd.Contact = services.ContactInfo{
			Email:       req.Contact.Email,
			FullName:    req.Contact.FullName,
			PhoneNumber: req.Contact.PhoneNumber,
		}
	}

	checkout, err := h.orders.CreateFromSingleProduct(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{
		Order:   buildOrderPayload(checkout.Order),
		Payment: buildPaymentHandle(checkout.Payment),
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListOrders(ctx, actor, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page.Items, page.NextPageToken))
}

func (h *OrderHandlers) listAvailable(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return
	}
	h.listDeliveryView(w, r, h.orders.ListAvailableOrders)
}

func (h *OrderHandlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return
	}
	h.listDeliveryView(w, r, h.orders.ListDeliveryHistory)
}

type deliveryListFunc func(ctx context.Context, actor services.Actor, page services.Pagination) (domain.CursorPage[services.Order], error)

func (h *OrderHandlers) listDeliveryView(w http.ResponseWriter, r *http.Request, list deliveryListFunc) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	result, err := list(ctx, actor, page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(result.Items, result.NextPageToken))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := orderResponse{Order: buildOrderPayload(view.Order)}
	if view.Payment != nil && view.Order.Status == domain.OrderStatusPending {
		resp.Payment = buildPaymentHandle(*view.Payment)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandlers) processOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor services.Actor, orderID string) (services.Order, error) {
		return h.orders.ProcessOrder(r.Context(), actor, orderID)
	})
}

func (h *OrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	var req shipOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	h.transition(w, r, func(actor services.Actor, orderID string) (services.Order, error) {
		return h.orders.ShipOrder(r.Context(), actor, orderID, strings.TrimSpace(req.DeliveryUserID))
	})
}

func (h *OrderHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor services.Actor, orderID string) (services.Order, error) {
		return h.orders.DeliverOrder(r.Context(), actor, orderID)
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor services.Actor, orderID string) (services.Order, error) {
		return h.orders.CancelOrder(r.Context(), actor, orderID)
	})
}

// transition runs a status operation. The order service evaluates the rule table against
// the stored order, since the conditions depend on its owner and status.
func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request, call func(services.Actor, string) (services.Order, error)) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := call(actor, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req refundOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	cmd := services.RefundOrderPaymentCommand{OrderID: orderID, Reason: strings.TrimSpace(req.Reason)}
	if req.Amount != nil {
		amount, err := decimal.NewFromString(strings.TrimSpace(*req.Amount))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a decimal string", http.StatusBadRequest))
			return
		}
		cmd.Amount = &amount
	}
	if !allowed(w, r, h.authz, actor, policy.ActionRefund, policy.ResourceOrder, nil) {
		return
	}

	outcome, err := h.payments.RefundOrderPayment(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, refundResponse{
		OrderID:  outcome.OrderID,
		RefundID: outcome.RefundID,
		Status:   outcome.Status,
		Amount:   money(outcome.Amount),
	})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func parseOrderListFilter(w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	ctx := r.Context()
	query := r.URL.Query()

	var filter services.OrderListFilter
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.OrderStatus(raw)
		if _, ok := validOrderStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+raw, http.StatusBadRequest))
			return services.OrderListFilter{}, false
		}
		filter.Status = append(filter.Status, status)
	}

	var err error
	if filter.TotalRange.From, err = parseDecimalParam(query.Get("minTotal")); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "minTotal must be a decimal", http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}
	if filter.TotalRange.To, err = parseDecimalParam(query.Get("maxTotal")); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "maxTotal must be a decimal", http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}
	if filter.CreatedRange.From, err = parseTimeParam(query.Get("createdAfter")); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdAfter must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}
	if filter.CreatedRange.To, err = parseTimeParam(query.Get("createdBefore")); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdBefore must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}

	page, ok := pageFromRequest(w, r)
	if !ok {
		return services.OrderListFilter{}, false
	}
	filter.Pagination = page
	return filter, true
}
