package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/services"
)

type stubOrderService struct {
	createFromCartFn    func(context.Context, services.CreateOrderFromCartCommand) (services.OrderCheckout, error)
	createFromProductFn func(context.Context, services.CreateOrderFromProductCommand) (services.OrderCheckout, error)
	getFn               func(context.Context, services.Actor, string) (services.OrderView, error)
	listFn              func(context.Context, services.Actor, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	availableFn         func(context.Context, services.Actor, services.Pagination) (domain.CursorPage[services.Order], error)
	transitionFn        func(ctx context.Context, op string, actor services.Actor, orderID string, deliveryUserID string) (services.Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.OrderCheckout, error) {
	if s.createFromCartFn != nil {
		return s.createFromCartFn(ctx, cmd)
	}
	return services.OrderCheckout{}, errors.New("not implemented")
}

func (s *stubOrderService) CreateFromSingleProduct(ctx context.Context, cmd services.CreateOrderFromProductCommand) (services.OrderCheckout, error) {
	if s.createFromProductFn != nil {
		return s.createFromProductFn(ctx, cmd)
	}
	return services.OrderCheckout{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, actor services.Actor, orderID string) (services.OrderView, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, orderID)
	}
	return services.OrderView{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ListOrders(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListAvailableOrders(ctx context.Context, actor services.Actor, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.availableFn != nil {
		return s.availableFn(ctx, actor, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListDeliveryHistory(ctx context.Context, actor services.Actor, page services.Pagination) (domain.CursorPage[services.Order], error) {
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ProcessOrder(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	return s.transition(ctx, "process", actor, orderID, "")
}

func (s *stubOrderService) ShipOrder(ctx context.Context, actor services.Actor, orderID string, deliveryUserID string) (services.Order, error) {
	return s.transition(ctx, "ship", actor, orderID, deliveryUserID)
}

func (s *stubOrderService) DeliverOrder(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	return s.transition(ctx, "deliver", actor, orderID, "")
}

func (s *stubOrderService) CancelOrder(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	return s.transition(ctx, "cancel", actor, orderID, "")
}

func (s *stubOrderService) transition(ctx context.Context, op string, actor services.Actor, orderID string, deliveryUserID string) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, op, actor, orderID, deliveryUserID)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubPaymentService struct {
	refundFn func(context.Context, services.RefundOrderPaymentCommand) (services.RefundOutcome, error)
}

func (s *stubPaymentService) RefundOrderPayment(ctx context.Context, cmd services.RefundOrderPaymentCommand) (services.RefundOutcome, error) {
	return s.refundFn(ctx, cmd)
}

func newTestPolicy(t *testing.T) *policy.Engine {
	t.Helper()
	engine, err := policy.Default()
	if err != nil {
		t.Fatalf("policy.Default: %v", err)
	}
	return engine
}

// withIdentity stands in for the Firebase middleware.
func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: []string{auth.RoleClient}}
}

func newOrderRouter(identity *auth.Identity, h *OrderHandlers) http.Handler {
	r := chi.NewRouter()
	r.Use(withIdentity(identity))
	h.Routes(r)
	return r
}

func sampleOrder(id string, status domain.OrderStatus) services.Order {
	return services.Order{
		ID:       id,
		UserID:   "user-1",
		Status:   status,
		Currency: "usd",
		Subtotal: decimal.RequireFromString("100"),
		Discount: decimal.RequireFromString("10"),
		Total:    decimal.RequireFromString("90"),
		Items: []services.OrderItem{{
			ID:              "itm-1",
			ProductID:       "prd-1",
			NameAtPurchase:  "Mug",
			PriceAtPurchase: decimal.RequireFromString("50"),
			Quantity:        2,
		}},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOrderHandlersCreateFromCart(t *testing.T) {
	var captured services.CreateOrderFromCartCommand
	svc := &stubOrderService{
		createFromCartFn: func(_ context.Context, cmd services.CreateOrderFromCartCommand) (services.OrderCheckout, error) {
			captured = cmd
			return services.OrderCheckout{
				Order:   sampleOrder("ord-1", domain.OrderStatusPending),
				Payment: services.PaymentHandle{Kind: domain.PaymentKindIntent, ClientSecret: "pi_secret"},
			}, nil
		},
	}
	router := newOrderRouter(clientIdentity("user-1"), NewOrderHandlers(nil, newTestPolicy(t), svc))

	body := `{"addressId":" addr-1 ","promoCode":"SAVE10"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.AddressID != "addr-1" || captured.PromoCode != "SAVE10" || captured.Address != nil {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp struct {
		Order struct {
			ID    string `json:"id"`
			Total string `json:"total"`
		} `json:"order"`
		Payment struct {
			Kind         string `json:"kind"`
			ClientSecret string `json:"clientSecret"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.ID != "ord-1" || resp.Order.Total != "90.00" {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
	if resp.Payment.Kind != "intent" || resp.Payment.ClientSecret != "pi_secret" {
		t.Fatalf("unexpected payment payload %+v", resp.Payment)
	}
}

func TestOrderHandlersCreateFromCartErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"insufficient stock", &services.InsufficientStockError{ProductID: "prd-1", ProductName: "Mug", Requested: 3}, http.StatusConflict, "insufficient_stock"},
		{"pending order", services.ErrOrderInProgress, http.StatusConflict, "order_in_progress"},
		{"empty cart", services.ErrOrderCartEmpty, http.StatusBadRequest, "invalid_request"},
		{"address id and inline address", services.ErrOrderAddressAmbiguous, http.StatusConflict, "address_ambiguous"},
		{"no address", services.ErrOrderAddressRequired, http.StatusBadRequest, "invalid_request"},
		{"foreign address", fmt.Errorf("%w: adr-9", services.ErrOrderAddressNotFound), http.StatusNotFound, "address_not_found"},
		{"missing product", fmt.Errorf("%w: prd-9", services.ErrProductNotFound), http.StatusNotFound, "product_not_found"},
		{"free order", services.ErrOrderTotalNotPayable, http.StatusBadRequest, "total_not_payable"},
		{"promo below minimum", &services.BelowMinimumError{Code: "BIG", Minimum: decimal.RequireFromString("50")}, http.StatusBadRequest, "promo_below_minimum"},
		{"promo not eligible", services.ErrPromotionNotEligible, http.StatusBadRequest, "promo_not_eligible"},
		{"processor down", services.ErrOrderPaymentUnavailable, http.StatusBadGateway, "payment_processor_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFromCartFn: func(context.Context, services.CreateOrderFromCartCommand) (services.OrderCheckout, error) {
					return services.OrderCheckout{}, tc.err
				},
			}
			router := newOrderRouter(clientIdentity("user-1"), NewOrderHandlers(nil, newTestPolicy(t), svc))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`)))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("expected error %s, got %v", tc.wantCode, body["error"])
			}
		})
	}
}

func TestOrderHandlersCreateFromCartRequiresAuthentication(t *testing.T) {
	router := newOrderRouter(nil, NewOrderHandlers(nil, newTestPolicy(t), &stubOrderService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateFromCartForbiddenForDelivery(t *testing.T) {
	identity := &auth.Identity{UID: "courier", Roles: []string{auth.RoleDelivery}}
	router := newOrderRouter(identity, NewOrderHandlers(nil, newTestPolicy(t), &stubOrderService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`)))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestOrderHandlersGuestSingleProduct(t *testing.T) {
	var captured services.CreateOrderFromProductCommand
	svc := &stubOrderService{
		createFromProductFn: func(_ context.Context, cmd services.CreateOrderFromProductCommand) (services.OrderCheckout, error) {
			captured = cmd
			order := sampleOrder("ord-2", domain.OrderStatusPending)
			order.UserID = ""
			return services.OrderCheckout{
				Order:   order,
				Payment: services.PaymentHandle{Kind: domain.PaymentKindCheckoutSession, RedirectURL: "https://checkout.example/s"},
			}, nil
		},
	}
	router := newOrderRouter(nil, NewOrderHandlers(nil, newTestPolicy(t), svc))

	body := `{"productId":"prd-1","quantity":2,"contact":{"email":"guest@example.com","fullName":"Guest"},"address":{"line1":"1 Main","city":"Springfield","postalCode":"12345","countryCode":"US"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders:single-product", strings.NewReader(body)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.Actor.IsGuest() || captured.Quantity != 2 || captured.Contact.Email != "guest@example.com" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Address == nil || captured.Address.City != "Springfield" {
		t.Fatalf("expected inline address, got %+v", captured.Address)
	}
	if !strings.Contains(rr.Body.String(), `"redirectUrl":"https://checkout.example/s"`) {
		t.Fatalf("expected redirect url in response: %s", rr.Body.String())
	}
}

func TestOrderHandlersGuestRateLimit(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubOrderService{
		createFromProductFn: func(context.Context, services.CreateOrderFromProductCommand) (services.OrderCheckout, error) {
			return services.OrderCheckout{Order: sampleOrder("ord-3", domain.OrderStatusPending)}, nil
		},
	}
	h := NewOrderHandlers(nil, newTestPolicy(t), svc, WithGuestOrderRateLimit(1, time.Minute, func() time.Time { return now }))
	router := newOrderRouter(nil, h)

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders:single-product", strings.NewReader(`{"productId":"prd-1","quantity":1}`))
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}
	if rr := send("203.0.113.9:5000"); rr.Code != http.StatusCreated {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	rr := send("203.0.113.9:5001")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for the same host, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
	if rr := send("198.51.100.4:5000"); rr.Code != http.StatusCreated {
		t.Fatalf("expected another host to pass, got %d", rr.Code)
	}
	now = now.Add(time.Minute)
	if rr := send("203.0.113.9:5000"); rr.Code != http.StatusCreated {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersParsesFilter(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("ord-1", domain.OrderStatusPaid)},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newOrderRouter(clientIdentity("user-1"), NewOrderHandlers(nil, newTestPolicy(t), svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders?status=paid,shipped&minTotal=10&createdAfter=2024-01-01T00:00:00Z&pageSize=5", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPaid || captured.Status[1] != domain.OrderStatusShipped {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
	if captured.TotalRange.From == nil || !captured.TotalRange.From.Equal(decimal.NewFromInt(10)) || captured.TotalRange.To != nil {
		t.Fatalf("unexpected total range %+v", captured.TotalRange)
	}
	if captured.CreatedRange.From == nil || captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected list response %+v", resp)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(clientIdentity("user-1"), NewOrderHandlers(nil, newTestPolicy(t), &stubOrderService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders?status=lost", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderHidesPaidHandle(t *testing.T) {
	handle := services.PaymentHandle{Kind: domain.PaymentKindIntent, ClientSecret: "pi_secret"}
	status := domain.OrderStatusPending
	svc := &stubOrderService{
		getFn: func(_ context.Context, actor services.Actor, orderID string) (services.OrderView, error) {
			return services.OrderView{Order: sampleOrder(orderID, status), Payment: &handle}, nil
		},
	}
	router := newOrderRouter(clientIdentity("user-1"), NewOrderHandlers(nil, newTestPolicy(t), svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pi_secret") {
		t.Fatalf("expected pending order with payment handle, got %d %s", rr.Code, rr.Body.String())
	}

	status = domain.OrderStatusPaid
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil))
	if rr.Code != http.StatusOK || strings.Contains(rr.Body.String(), "pi_secret") {
		t.Fatalf("expected paid order without payment handle, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersTransitions(t *testing.T) {
	var ops []string
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, op string, actor services.Actor, orderID string, deliveryUserID string) (services.Order, error) {
			ops = append(ops, op+":"+orderID+":"+deliveryUserID)
			return sampleOrder(orderID, domain.OrderStatusProcessing), nil
		},
	}
	manager := &auth.Identity{UID: "mgr", Roles: []string{auth.RoleManager}}
	router := newOrderRouter(manager, NewOrderHandlers(nil, newTestPolicy(t), svc))

	requests := []struct {
		path string
		body string
	}{
		{"/orders/ord-1:process", ""},
		{"/orders/ord-1:ship", `{"deliveryUserId":"courier-1"}`},
		{"/orders/ord-1:deliver", ""},
		{"/orders/ord-1:cancel", ""},
	}
	for _, req := range requests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, req.path, strings.NewReader(req.body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", req.path, rr.Code, rr.Body.String())
		}
	}
	want := []string{"process:ord-1:", "ship:ord-1:courier-1", "deliver:ord-1:", "cancel:ord-1:"}
	if strings.Join(ops, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected operations %v", ops)
	}
}

func TestOrderHandlersTransitionErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid transition", &services.InvalidTransitionError{Current: domain.OrderStatusDelivered, Target: domain.OrderStatusCancelled}, http.StatusConflict},
		{"forbidden", policy.ErrForbidden, http.StatusForbidden},
		{"not found", services.ErrOrderNotFound, http.StatusNotFound},
		{"wrong courier", services.ErrOrderNotAssigned, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				transitionFn: func(context.Context, string, services.Actor, string, string) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newOrderRouter(clientIdentity("user-1"), NewOrderHandlers(nil, newTestPolicy(t), svc))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord-1:cancel", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestOrderHandlersInvalidTransitionDetails(t *testing.T) {
	svc := &stubOrderService{
		transitionFn: func(context.Context, string, services.Actor, string, string) (services.Order, error) {
			return services.Order{}, &services.InvalidTransitionError{
				Current: domain.OrderStatusShipped,
				Target:  domain.OrderStatusCancelled,
				Allowed: []services.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusPending, domain.OrderStatusProcessing},
			}
		},
	}
	router := newOrderRouter(clientIdentity("user-1"), NewOrderHandlers(nil, newTestPolicy(t), svc))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord-1:cancel", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body struct {
		Error         string   `json:"error"`
		CurrentStatus string   `json:"currentStatus"`
		TargetStatus  string   `json:"targetStatus"`
		AllowedFrom   []string `json:"allowedFrom"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "invalid_transition" || body.CurrentStatus != "SHIPPED" || body.TargetStatus != "CANCELLED" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if strings.Join(body.AllowedFrom, ",") != "PAID,PENDING,PROCESSING" {
		t.Fatalf("unexpected allowedFrom %v", body.AllowedFrom)
	}
}

func TestOrderHandlersRefund(t *testing.T) {
	var captured services.RefundOrderPaymentCommand
	payments := &stubPaymentService{
		refundFn: func(_ context.Context, cmd services.RefundOrderPaymentCommand) (services.RefundOutcome, error) {
			captured = cmd
			return services.RefundOutcome{OrderID: cmd.OrderID, RefundID: "re_1", Status: "succeeded", Amount: *cmd.Amount}, nil
		},
	}
	h := NewOrderHandlers(nil, newTestPolicy(t), &stubOrderService{}, WithOrderPayments(payments))

	manager := newOrderRouter(&auth.Identity{UID: "mgr", Roles: []string{auth.RoleManager}}, h)
	rr := httptest.NewRecorder()
	manager.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord-1:refund", strings.NewReader(`{"amount":"12.50","reason":"damaged"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-1" || captured.Reason != "damaged" || !captured.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected command %+v", captured)
	}

	client := newOrderRouter(clientIdentity("user-1"), h)
	rr = httptest.NewRecorder()
	client.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord-1:refund", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client refund, got %d", rr.Code)
	}
}

func TestOrderHandlersAvailableOrders(t *testing.T) {
	var page services.Pagination
	svc := &stubOrderService{
		availableFn: func(_ context.Context, actor services.Actor, p services.Pagination) (domain.CursorPage[services.Order], error) {
			if !actor.HasRole(domain.RoleDelivery) {
				return domain.CursorPage[services.Order]{}, policy.ErrForbidden
			}
			page = p
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("ord-9", domain.OrderStatusShipped)}}, nil
		},
	}
	courier := &auth.Identity{UID: "courier", Roles: []string{auth.RoleDelivery}}
	router := newOrderRouter(courier, NewOrderHandlers(nil, newTestPolicy(t), svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/available", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if page.PageSize != listPageOptions.DefaultPageSize {
		t.Fatalf("expected default page size, got %d", page.PageSize)
	}
}
