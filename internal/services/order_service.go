package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix   = "ord_"
	paymentIDPrefix = "pay_"
	addressIDPrefix = "adr_"

	orderFlowCart          = "cart"
	orderFlowSingleProduct = "single_product"

	defaultOrderCurrency = "USD"

	maxAddressFieldLength = 120
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Store         repositories.Store
	Carts         CartService
	Inventory     InventoryService
	Promotions    PromotionService
	Pricing       *PricingEngine
	StatusMachine OrderStatusMachine
	Gateway       payments.Gateway
	Authorizer    Authorizer
	Events        OrderEventPublisher
	Metrics       Metrics
	// Provider names the processor recorded on payment rows.
	Provider    string
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	store      repositories.Store
	carts      CartService
	inventory  InventoryService
	promotions PromotionService
	pricing    *PricingEngine
	status     OrderStatusMachine
	gateway    payments.Gateway
	authz      Authorizer
	events     OrderEventPublisher
	metrics    Metrics
	provider   string
	currency   string
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Store == nil {
		return nil, errors.New("order service: store is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("order service: promotion service is required")
	}
	if deps.StatusMachine == nil {
		return nil, errors.New("order service: status machine is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("order service: authorizer is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewPricingEngine(PricingEngineDeps{})
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	provider := strings.TrimSpace(deps.Provider)
	if provider == "" {
		provider = payments.ProviderStripe
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultOrderCurrency
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		store:      deps.Store,
		carts:      deps.Carts,
		inventory:  deps.Inventory,
		promotions: deps.Promotions,
		pricing:    pricing,
		status:     deps.StatusMachine,
		gateway:    deps.Gateway,
		authz:      deps.Authorizer,
		events:     deps.Events,
		metrics:    metrics,
		provider:   provider,
		currency:   currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateFromCart prices the user's active cart, reserves stock and stores a PENDING order in
// one transaction, then creates the payment intent.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (OrderCheckout, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return OrderCheckout{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if err := s.ensureNoPendingOrder(ctx, userID); err != nil {
		return OrderCheckout{}, err
	}

	cart, err := s.carts.GetActiveCart(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return OrderCheckout{}, ErrOrderCartEmpty
		}
		return OrderCheckout{}, err
	}
	if len(cart.Items) == 0 {
		return OrderCheckout{}, ErrOrderCartEmpty
	}
	if err := validateAddressChoice(cmd.AddressID, cmd.Address); err != nil {
		return OrderCheckout{}, err
	}

	lines, items, err := cartOrderLines(cart)
	if err != nil {
		return OrderCheckout{}, err
	}
	base, err := s.pricing.ComputeTotals(lines, nil)
	if err != nil {
		return OrderCheckout{}, err
	}

	promo, err := s.resolveCartPromo(ctx, cart, cmd.PromoCode, base)
	if err != nil {
		return OrderCheckout{}, err
	}
	totals, err := s.pricing.ComputeTotals(lines, promo)
	if err != nil {
		return OrderCheckout{}, err
	}
	if !totals.Total.IsPositive() {
		return OrderCheckout{}, ErrOrderTotalNotPayable
	}

	now := s.clock()
	order := Order{
		ID:        orderIDPrefix + s.newID(),
		UserID:    userID,
		Status:    domain.OrderStatusPending,
		Currency:  s.currency,
		Subtotal:  totals.Subtotal,
		Discount:  totals.Discount,
		Total:     totals.Total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if promo != nil {
		order.PromoCode = promo.Snapshot()
	}
	order.Items = s.assignItemIDs(order.ID, items)

	err = s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		address, err := s.resolveAddress(ctx, tx, userID, cmd.AddressID, cmd.Address)
		if err != nil {
			return err
		}
		order.ShippingAddress = address

		if err := s.inventory.ReserveAll(ctx, tx, orderInventoryLines(order)); err != nil {
			return err
		}
		if err := tx.Orders().Insert(ctx, order); err != nil {
			return s.mapInsertError(err)
		}
		if promo != nil {
			if err := s.promotions.IncrementUsage(ctx, tx, promo.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return OrderCheckout{}, err
	}

	s.metrics.OrderCreated(orderFlowCart)
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		UserID:        userID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata:      map[string]any{"flow": orderFlowCart, "total": order.Total.String()},
	})

	handle, err := s.createIntent(ctx, order)
	if err != nil {
		return OrderCheckout{}, err
	}
	return OrderCheckout{Order: order, Payment: handle}, nil
}

// CreateFromSingleProduct buys one catalog product directly, for a user or a guest, and pays
// through a hosted checkout session.
func (s *orderService) CreateFromSingleProduct(ctx context.Context, cmd CreateOrderFromProductCommand) (OrderCheckout, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return OrderCheckout{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	if cmd.Quantity < 1 {
		return OrderCheckout{}, fmt.Errorf("%w: quantity must be at least 1", ErrOrderInvalidInput)
	}

	actor := cmd.Actor
	contact := normalizeContact(cmd.Contact)
	if actor.IsGuest() {
		if strings.TrimSpace(cmd.AddressID) != "" {
			return OrderCheckout{}, fmt.Errorf("%w: guests must provide an inline address", ErrOrderInvalidInput)
		}
		if cmd.Address == nil {
			return OrderCheckout{}, ErrOrderAddressRequired
		}
		if contact.Email == "" {
			return OrderCheckout{}, fmt.Errorf("%w: contact email is required", ErrOrderInvalidInput)
		}
	} else {
		if err := validateAddressChoice(cmd.AddressID, cmd.Address); err != nil {
			return OrderCheckout{}, err
		}
		if contact.Email == "" {
			contact.Email = actor.Email
		}
		if err := s.ensureNoPendingOrder(ctx, actor.UserID); err != nil {
			return OrderCheckout{}, err
		}
	}

	product, err := s.store.Products().FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return OrderCheckout{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return OrderCheckout{}, mapOrderRepositoryError(err)
	}
	if product.Status != domain.ProductStatusActive || product.ProcessorPriceID == "" {
		return OrderCheckout{}, fmt.Errorf("%w: product %s is not available for purchase", ErrOrderInvalidInput, productID)
	}

	totals, err := s.pricing.ComputeTotals([]PricedLine{{ProductID: product.ID, UnitPrice: product.Price, Quantity: cmd.Quantity}}, nil)
	if err != nil {
		return OrderCheckout{}, err
	}
	if !totals.Total.IsPositive() {
		return OrderCheckout{}, ErrOrderTotalNotPayable
	}

	now := s.clock()
	order := Order{
		ID:        orderIDPrefix + s.newID(),
		UserID:    actor.UserID,
		Status:    domain.OrderStatusPending,
		Currency:  s.currency,
		Subtotal:  totals.Subtotal,
		Discount:  totals.Discount,
		Total:     totals.Total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if contact != (ContactInfo{}) {
		order.Contact = &contact
	}
	order.Items = s.assignItemIDs(order.ID, []OrderItem{{
		ProductID:       product.ID,
		NameAtPurchase:  product.Name,
		PriceAtPurchase: product.Price,
		Quantity:        cmd.Quantity,
	}})

	err = s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var address *AddressSnapshot
		var err error
		if actor.IsGuest() {
			address, err = snapshotFromInput(*cmd.Address)
		} else {
			address, err = s.resolveAddress(ctx, tx, actor.UserID, cmd.AddressID, cmd.Address)
		}
		if err != nil {
			return err
		}
		order.ShippingAddress = address

		if err := s.inventory.Reserve(ctx, tx, InventoryLine{ProductID: product.ID, ProductName: product.Name, Quantity: cmd.Quantity}); err != nil {
			return err
		}
		if err := tx.Orders().Insert(ctx, order); err != nil {
			return s.mapInsertError(err)
		}
		return nil
	})
	if err != nil {
		return OrderCheckout{}, err
	}

	s.metrics.OrderCreated(orderFlowSingleProduct)
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       actor.UserID,
		OccurredAt:    now,
		Metadata:      map[string]any{"flow": orderFlowSingleProduct, "total": order.Total.String()},
	})

	link, err := s.gateway.CreatePaymentLink(ctx, payments.PaymentLinkRequest{
		OrderID:        order.ID,
		ProductID:      product.ID,
		PriceID:        product.ProcessorPriceID,
		Quantity:       cmd.Quantity,
		CustomerEmail:  contact.Email,
		Currency:       order.Currency,
		IdempotencyKey: "order-" + order.ID + "-session",
	})
	if err != nil {
		s.logger(ctx, "order.payment.link_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return OrderCheckout{}, fmt.Errorf("%w: %v", ErrOrderPaymentUnavailable, err)
	}

	if err := s.store.Orders().SetPaymentSession(ctx, order.ID, link.SessionID); err != nil {
		s.logger(ctx, "order.payment.session_not_recorded", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
	order.PaymentSessionID = link.SessionID

	payment := Payment{
		ID:                paymentIDPrefix + s.newID(),
		OrderID:           order.ID,
		UserID:            order.UserID,
		Provider:          s.provider,
		Kind:              domain.PaymentKindCheckoutSession,
		ExternalPaymentID: link.SessionID,
		Amount:            order.Total,
		Currency:          order.Currency,
		Status:            domain.PaymentStatusPending,
		Metadata:          domain.PaymentMetadata{SessionID: link.SessionID, SessionURL: link.URL},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Payments().Insert(ctx, payment); err != nil {
		s.logger(ctx, "order.payment.insert_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return OrderCheckout{}, fmt.Errorf("%w: record payment: %v", ErrOrderPaymentUnavailable, err)
	}
	order.Payments = []Payment{payment}

	return OrderCheckout{
		Order:   order,
		Payment: PaymentHandle{Kind: domain.PaymentKindCheckoutSession, RedirectURL: link.URL},
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	if err := s.authorize(actor, policy.ActionRead, order); err != nil {
		return OrderView{}, err
	}
	return OrderView{Order: order, Payment: latestPaymentHandle(order.Payments)}, nil
}

// ListOrders scopes the listing to the actor: managers see everything, delivery users their
// assignments and clients their own orders.
func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		Status:       filter.Status,
		TotalRange:   filter.TotalRange,
		CreatedRange: filter.CreatedRange,
		Pagination:   filter.Pagination,
	}
	switch {
	case actor.HasRole(domain.RoleManager):
	case actor.HasRole(domain.RoleDelivery):
		repoFilter.DeliveryUserID = actor.UserID
	case actor.HasRole(domain.RoleClient) && !actor.IsGuest():
		repoFilter.UserID = actor.UserID
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: list orders", policy.ErrForbidden)
	}
	return s.listOrders(ctx, repoFilter)
}

// ListAvailableOrders returns shipped orders awaiting delivery.
func (s *orderService) ListAvailableOrders(ctx context.Context, actor Actor, page Pagination) (domain.CursorPage[Order], error) {
	if !actor.HasRole(domain.RoleDelivery) && !actor.HasRole(domain.RoleManager) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: list available orders", policy.ErrForbidden)
	}
	return s.listOrders(ctx, repositories.OrderListFilter{
		Status:     []OrderStatus{domain.OrderStatusShipped},
		Pagination: page,
	})
}

func (s *orderService) ListDeliveryHistory(ctx context.Context, actor Actor, page Pagination) (domain.CursorPage[Order], error) {
	if !actor.HasRole(domain.RoleDelivery) || actor.IsGuest() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: list delivery history", policy.ErrForbidden)
	}
	return s.listOrders(ctx, repositories.OrderListFilter{
		DeliveryUserID: actor.UserID,
		Status:         []OrderStatus{domain.OrderStatusDelivered},
		Pagination:     page,
	})
}

func (s *orderService) ProcessOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	return s.transition(ctx, actor, policy.ActionProcess, TransitionCommand{OrderID: orderID, Target: domain.OrderStatusProcessing})
}

func (s *orderService) ShipOrder(ctx context.Context, actor Actor, orderID string, deliveryUserID string) (Order, error) {
	deliveryUserID = strings.TrimSpace(deliveryUserID)
	if deliveryUserID == "" {
		return Order{}, fmt.Errorf("%w: delivery user id is required", ErrOrderInvalidInput)
	}
	return s.transition(ctx, actor, policy.ActionShip, TransitionCommand{
		OrderID:        orderID,
		Target:         domain.OrderStatusShipped,
		DeliveryUserID: deliveryUserID,
	})
}

func (s *orderService) DeliverOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	return s.transition(ctx, actor, policy.ActionDeliver, TransitionCommand{
		OrderID:        orderID,
		Target:         domain.OrderStatusDelivered,
		DeliveryUserID: actor.UserID,
	})
}

// CancelOrder cancels the order and restores stock and promo usage. Captured payments are
// not refunded here; managers refund separately.
func (s *orderService) CancelOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.authorize(actor, policy.ActionCancel, order); err != nil {
		return Order{}, err
	}
	if !slices.Contains(restorableStatuses, order.Status) {
		return Order{}, newInvalidTransitionError(order.Status, domain.OrderStatusCancelled)
	}

	var result RestoreResult
	err = s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		result, err = s.status.Restore(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	if !result.Restored {
		return Order{}, newInvalidTransitionError(result.Order.Status, domain.OrderStatusCancelled)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(result.Order.Status),
		ActorID:        actor.UserID,
		OccurredAt:     s.clock(),
	})
	return result.Order, nil
}

func (s *orderService) transition(ctx context.Context, actor Actor, action string, cmd TransitionCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.authorize(actor, action, order); err != nil {
		return Order{}, err
	}
	if !canTransition(order.Status, cmd.Target) {
		return Order{}, newInvalidTransitionError(order.Status, cmd.Target)
	}

	var updated Order
	err = s.runInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		updated, err = s.status.Transition(ctx, tx, cmd)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		UserID:         updated.UserID,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(updated.Status),
		ActorID:        actor.UserID,
		OccurredAt:     s.clock(),
	})
	return updated, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) listOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.store.Orders().List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) authorize(actor Actor, action string, order Order) error {
	return s.authz.Authorize(actorRoles(actor), action, policy.ResourceOrder, orderAttributes(actor, order))
}

func (s *orderService) ensureNoPendingOrder(ctx context.Context, userID string) error {
	pending, err := s.store.Orders().ExistsWithStatus(ctx, userID, domain.OrderStatusPending)
	if err != nil {
		return mapOrderRepositoryError(err)
	}
	if pending {
		return ErrOrderInProgress
	}
	return nil
}

// resolveCartPromo prefers an explicit code over the promo attached to the cart and
// re-validates it against the fresh subtotal.
func (s *orderService) resolveCartPromo(ctx context.Context, cart Cart, explicit string, base Totals) (*PromoCode, error) {
	code := strings.TrimSpace(explicit)
	if code == "" && cart.PromoCodeID != "" {
		attached, err := s.promotions.Get(ctx, cart.PromoCodeID)
		if err != nil {
			return nil, err
		}
		code = attached.Code
	}
	if code == "" {
		return nil, nil
	}
	promo, err := s.promotions.Validate(ctx, code, &base.Subtotal)
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (s *orderService) resolveAddress(ctx context.Context, tx repositories.Tx, userID string, addressID string, input *AddressInput) (*AddressSnapshot, error) {
	addressID = strings.TrimSpace(addressID)
	if addressID != "" {
		address, err := tx.Addresses().FindForUser(ctx, userID, addressID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrOrderAddressNotFound, addressID)
			}
			return nil, mapOrderRepositoryError(err)
		}
		return address.Snapshot(), nil
	}

	snapshot, err := snapshotFromInput(*input)
	if err != nil {
		return nil, err
	}
	address := Address{
		ID:            addressIDPrefix + s.newID(),
		UserID:        userID,
		Line1:         snapshot.Line1,
		Line2:         snapshot.Line2,
		City:          snapshot.City,
		StateProvince: snapshot.StateProvince,
		PostalCode:    snapshot.PostalCode,
		CountryCode:   snapshot.CountryCode,
		PhoneNumber:   snapshot.PhoneNumber,
		CreatedAt:     s.clock(),
	}
	if err := tx.Addresses().Create(ctx, address); err != nil {
		return nil, mapOrderRepositoryError(err)
	}
	return address.Snapshot(), nil
}

// createIntent asks the processor for a payment intent and records the PENDING payment.
// The order keeps its reservation when this fails; expiry or cancellation releases it.
func (s *orderService) createIntent(ctx context.Context, order Order) (PaymentHandle, error) {
	intent, err := s.gateway.CreatePaymentIntent(ctx, payments.IntentRequest{
		OrderID:        order.ID,
		Amount:         order.Total,
		Currency:       order.Currency,
		IdempotencyKey: "order-" + order.ID + "-intent",
		Metadata:       map[string]string{payments.MetadataQuantity: strconv.Itoa(totalQuantity(order.Items))},
	})
	if err != nil {
		s.logger(ctx, "order.payment.intent_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return PaymentHandle{}, fmt.Errorf("%w: %v", ErrOrderPaymentUnavailable, err)
	}

	now := s.clock()
	payment := Payment{
		ID:                paymentIDPrefix + s.newID(),
		OrderID:           order.ID,
		UserID:            order.UserID,
		Provider:          s.provider,
		Kind:              domain.PaymentKindIntent,
		ExternalPaymentID: intent.ID,
		Amount:            order.Total,
		Currency:          order.Currency,
		Status:            domain.PaymentStatusPending,
		Metadata:          domain.PaymentMetadata{ClientSecret: intent.ClientSecret},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Payments().Insert(ctx, payment); err != nil {
		s.logger(ctx, "order.payment.insert_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return PaymentHandle{}, fmt.Errorf("%w: record payment: %v", ErrOrderPaymentUnavailable, err)
	}
	return PaymentHandle{Kind: domain.PaymentKindIntent, ClientSecret: intent.ClientSecret}, nil
}

func (s *orderService) mapInsertError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		// the partial unique index on (user_id) WHERE status = 'PENDING' lost a race
		return fmt.Errorf("%w: %v", ErrOrderInProgress, err)
	}
	return mapOrderRepositoryError(err)
}

func (s *orderService) assignItemIDs(orderID string, items []OrderItem) []OrderItem {
	out := make([]OrderItem, len(items))
	for i, item := range items {
		item.ID = "oit_" + s.newID()
		item.OrderID = orderID
		out[i] = item
	}
	return out
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context, repositories.Tx) error) error {
	return s.store.RunInTx(ctx, fn)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// cartOrderLines joins cart items with live product prices. Every product must still be sellable.
func cartOrderLines(cart Cart) ([]PricedLine, []OrderItem, error) {
	lines := make([]PricedLine, 0, len(cart.Items))
	items := make([]OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Product == nil {
			return nil, nil, fmt.Errorf("%w: product %s no longer exists", ErrOrderInvalidInput, item.ProductID)
		}
		if item.Product.Status != domain.ProductStatusActive {
			return nil, nil, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, item.ProductID)
		}
		lines = append(lines, PricedLine{ProductID: item.ProductID, UnitPrice: item.Product.Price, Quantity: item.Quantity})
		items = append(items, OrderItem{
			ProductID:       item.ProductID,
			NameAtPurchase:  item.Product.Name,
			PriceAtPurchase: item.Product.Price,
			Quantity:        item.Quantity,
		})
	}
	return lines, items, nil
}

func validateAddressChoice(addressID string, input *AddressInput) error {
	hasID := strings.TrimSpace(addressID) != ""
	switch {
	case hasID && input != nil:
		return ErrOrderAddressAmbiguous
	case !hasID && input == nil:
		return ErrOrderAddressRequired
	}
	return nil
}

func snapshotFromInput(input AddressInput) (*AddressSnapshot, error) {
	snapshot := &AddressSnapshot{
		Line1:         textutil.CleanLimited(input.Line1, maxAddressFieldLength),
		Line2:         textutil.CleanLimited(input.Line2, maxAddressFieldLength),
		City:          textutil.CleanLimited(input.City, maxAddressFieldLength),
		StateProvince: textutil.CleanLimited(input.StateProvince, maxAddressFieldLength),
		PostalCode:    textutil.CleanLimited(input.PostalCode, 20),
		CountryCode:   strings.ToUpper(textutil.CleanText(input.CountryCode)),
		PhoneNumber:   textutil.CleanLimited(input.PhoneNumber, 32),
	}
	if snapshot.Line1 == "" || snapshot.City == "" || snapshot.PostalCode == "" {
		return nil, fmt.Errorf("%w: address line1, city and postal code are required", ErrOrderInvalidInput)
	}
	if len(snapshot.CountryCode) != 2 {
		return nil, fmt.Errorf("%w: country code must be ISO 3166-1 alpha-2", ErrOrderInvalidInput)
	}
	return snapshot, nil
}

func normalizeContact(contact ContactInfo) ContactInfo {
	return ContactInfo{
		Email:       strings.ToLower(textutil.CleanText(contact.Email)),
		FullName:    textutil.CleanLimited(contact.FullName, maxAddressFieldLength),
		PhoneNumber: textutil.CleanLimited(contact.PhoneNumber, 32),
	}
}

// latestPaymentHandle rebuilds the client handle from the newest pending payment.
func latestPaymentHandle(list []Payment) *PaymentHandle {
	var latest *Payment
	for i := range list {
		if list[i].Status != domain.PaymentStatusPending {
			continue
		}
		if latest == nil || list[i].CreatedAt.After(latest.CreatedAt) {
			latest = &list[i]
		}
	}
	if latest == nil {
		return nil
	}
	return &PaymentHandle{
		Kind:         latest.Kind,
		ClientSecret: latest.Metadata.ClientSecret,
		RedirectURL:  latest.Metadata.SessionURL,
	}
}

func totalQuantity(items []OrderItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func actorRoles(actor Actor) []string {
	if actor.IsGuest() || len(actor.Roles) == 0 {
		return []string{policy.RoleGuest}
	}
	return actor.Roles
}

func orderAttributes(actor Actor, order Order) policy.Attributes {
	return policy.Attributes{
		policy.AttrSubjectID:      actor.UserID,
		policy.AttrOwnerID:        order.UserID,
		policy.AttrStatus:         string(order.Status),
		policy.AttrDeliveryUserID: order.DeliveryUserID,
	}
}
