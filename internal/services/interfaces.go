package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	PromoCode          = domain.PromoCode
	PromoSnapshot      = domain.PromoSnapshot
	Address            = domain.Address
	AddressSnapshot    = domain.AddressSnapshot
	ContactInfo        = domain.ContactInfo
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	Payment            = domain.Payment
	PaymentHandle      = domain.PaymentHandle
	PricedLine         = domain.PricedLine
	Totals             = domain.Totals
	InterestedUser     = domain.InterestedUser
	WebhookEvent       = domain.WebhookEvent
	WebhookDelivery    = domain.WebhookDelivery
	DeadLetter         = domain.DeadLetter
	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the caller of a service operation. A zero Actor is a guest.
type Actor struct {
	UserID string
	Email  string
	Roles  []string
}

// IsGuest reports whether the actor is unauthenticated.
func (a Actor) IsGuest() bool {
	return a.UserID == ""
}

// HasRole reports whether the actor carries role.
func (a Actor) HasRole(role domain.Role) bool {
	for _, r := range a.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// Authorizer decides instance-level access using the declarative rule table.
type Authorizer interface {
	Authorize(roles []string, action string, resourceType string, attrs policy.Attributes) error
}

// PromotionService validates promo codes and owns their lifecycle and usage counters.
type PromotionService interface {
	Validate(ctx context.Context, code string, purchaseAmount *decimal.Decimal) (PromoCode, error)
	Create(ctx context.Context, cmd CreatePromoCodeCommand) (PromoCode, error)
	Update(ctx context.Context, cmd UpdatePromoCodeCommand) (PromoCode, error)
	Disable(ctx context.Context, promoID string) (PromoCode, error)
	Get(ctx context.Context, promoID string) (PromoCode, error)
	List(ctx context.Context, filter PromoCodeListFilter) (domain.CursorPage[PromoCode], error)
	IncrementUsage(ctx context.Context, tx repositories.Tx, promoID string) error
	ReleaseUsage(ctx context.Context, tx repositories.Tx, snapshot *PromoSnapshot) error
}

// InventoryService reserves and restores product stock inside a caller's transaction.
type InventoryService interface {
	Reserve(ctx context.Context, tx repositories.Tx, line InventoryLine) error
	ReserveAll(ctx context.Context, tx repositories.Tx, lines []InventoryLine) error
	Restore(ctx context.Context, tx repositories.Tx, productID string, qty int) error
	RestoreAll(ctx context.Context, tx repositories.Tx, lines []InventoryLine) error
}

// CartService manages the user's active cart.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, userID string, itemID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) (Cart, error)
	ApplyPromoCode(ctx context.Context, userID string, code string) (Cart, error)
	GetActiveCart(ctx context.Context, userID string) (Cart, error)
	MarkAsOrdered(ctx context.Context, tx repositories.Tx, cartID string) error
	// CheckoutActiveCart marks the user's active cart ORDERED within tx. It reports false
	// when the user has no active cart.
	CheckoutActiveCart(ctx context.Context, tx repositories.Tx, userID string) (bool, error)
}

// OrderService creates orders from carts or single products and drives their status.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (OrderCheckout, error)
	CreateFromSingleProduct(ctx context.Context, cmd CreateOrderFromProductCommand) (OrderCheckout, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (OrderView, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListAvailableOrders(ctx context.Context, actor Actor, page Pagination) (domain.CursorPage[Order], error)
	ListDeliveryHistory(ctx context.Context, actor Actor, page Pagination) (domain.CursorPage[Order], error)
	ProcessOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ShipOrder(ctx context.Context, actor Actor, orderID string, deliveryUserID string) (Order, error)
	DeliverOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	CancelOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
}

// OrderStatusMachine applies guarded status transitions and compensating restores.
type OrderStatusMachine interface {
	Transition(ctx context.Context, tx repositories.Tx, cmd TransitionCommand) (Order, error)
	Restore(ctx context.Context, tx repositories.Tx, orderID string) (RestoreResult, error)
}

// ProductService manages sellable catalog products and likes.
type ProductService interface {
	CreateSellableProduct(ctx context.Context, productID string) (Product, error)
	UpdateSellableProduct(ctx context.Context, cmd UpdateSellableProductCommand) (Product, error)
	DisableSellableProduct(ctx context.Context, productID string) (Product, error)
	LikeProduct(ctx context.Context, actor Actor, productID string) error
	UnlikeProduct(ctx context.Context, actor Actor, productID string) error
}

// PaymentService exposes manager payment operations.
type PaymentService interface {
	RefundOrderPayment(ctx context.Context, cmd RefundOrderPaymentCommand) (RefundOutcome, error)
}

// WebhookIngress verifies processor notifications and hands them to the reconciler.
type WebhookIngress interface {
	Receive(ctx context.Context, payload []byte, signature string) (WebhookReceipt, error)
}

// WebhookReconciler applies verified processor events to orders exactly once.
type WebhookReconciler interface {
	Reconcile(ctx context.Context, event WebhookEvent) (ReconcileOutcome, error)
}

// WebhookRetryQueue accepts deliveries that must be retried later.
type WebhookRetryQueue interface {
	Enqueue(ctx context.Context, delivery WebhookDelivery) error
}

// WebhookRetryWorker processes retry deliveries and dead-letters exhausted ones.
type WebhookRetryWorker interface {
	Process(ctx context.Context, delivery WebhookDelivery) error
}

// DeadLetterService lists and redrives exhausted webhook deliveries.
type DeadLetterService interface {
	List(ctx context.Context, filter DeadLetterListFilter) (domain.CursorPage[DeadLetter], error)
	Redrive(ctx context.Context, letterID string) (DeadLetter, error)
}

// NotificationService sends best-effort stock alerts.
type NotificationService interface {
	SendLowStockAlert(ctx context.Context, product Product) error
	SendMassiveLowStockAlert(ctx context.Context, users []InterestedUser, product Product) error
}

// StockAlerter notifies interested users about products running low after a sale.
type StockAlerter interface {
	NotifyLowStock(ctx context.Context, productIDs []string)
}

// Metrics receives business counters. The Prometheus registry in platform/metrics implements it.
type Metrics interface {
	OrderCreated(flow string)
	ReservationFailed(productID string)
	WebhookProcessed(eventType string, outcome string)
	WebhookRetried(attempt int)
	WebhookDeadLettered(eventType string)
}

type noopMetrics struct{}

func (noopMetrics) OrderCreated(string)             {}
func (noopMetrics) ReservationFailed(string)        {}
func (noopMetrics) WebhookProcessed(string, string) {}
func (noopMetrics) WebhookRetried(int)              {}
func (noopMetrics) WebhookDeadLettered(string)      {}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type CreatePromoCodeCommand struct {
	Code                  string
	DiscountType          domain.DiscountType
	DiscountValue         decimal.Decimal
	ExpirationDate        *time.Time
	UsageLimit            *int
	MinimumPurchaseAmount *decimal.Decimal
}

// UpdatePromoCodeCommand carries the mutable promo fields. Nil leaves a field unchanged;
// ClearExpiration and ClearUsageLimit remove the respective limit.
type UpdatePromoCodeCommand struct {
	PromoCodeID     string
	ExpirationDate  *time.Time
	ClearExpiration bool
	UsageLimit      *int
	ClearUsageLimit bool
	Status          *domain.PromoCodeStatus
}

type PromoCodeListFilter struct {
	Status     []domain.PromoCodeStatus
	Pagination Pagination
}

// InventoryLine is one product quantity to reserve or restore.
type InventoryLine struct {
	ProductID   string
	ProductName string
	Quantity    int
}

type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type UpdateCartItemCommand struct {
	UserID   string
	ItemID   string
	Quantity int
}

// AddressInput is an inline shipping address supplied at checkout.
type AddressInput struct {
	Line1         string
	Line2         string
	City          string
	StateProvince string
	PostalCode    string
	CountryCode   string
	PhoneNumber   string
}

type CreateOrderFromCartCommand struct {
	UserID    string
	AddressID string
	Address   *AddressInput
	PromoCode string
}

type CreateOrderFromProductCommand struct {
	Actor     Actor
	ProductID string
	Quantity  int
	Contact   ContactInfo
	AddressID string
	Address   *AddressInput
}

// OrderCheckout is the created order plus what the client needs to pay for it.
type OrderCheckout struct {
	Order   Order
	Payment PaymentHandle
}

// OrderView is an order with the payment handle of its latest payment attempt.
type OrderView struct {
	Order   Order
	Payment *PaymentHandle
}

type OrderListFilter struct {
	Status       []OrderStatus
	TotalRange   domain.RangeQuery[decimal.Decimal]
	CreatedRange domain.RangeQuery[time.Time]
	Pagination   Pagination
}

// TransitionCommand moves an order to Target when its status allows it.
type TransitionCommand struct {
	OrderID string
	Target  OrderStatus
	// DeliveryUserID is assigned on ship and required to match on deliver.
	DeliveryUserID string
}

// RestoreResult reports what a compensating restore changed.
type RestoreResult struct {
	Order    Order
	Restored bool
}

type UpdateSellableProductCommand struct {
	ProductID   string
	Name        *string
	Description *string
	Price       *decimal.Decimal
}

type RefundOrderPaymentCommand struct {
	OrderID string
	Amount  *decimal.Decimal
	Reason  string
}

// RefundOutcome summarises a processor refund for an order.
type RefundOutcome struct {
	OrderID  string
	RefundID string
	Status   string
	Amount   decimal.Decimal
}

// WebhookReceipt tells the ingress caller how a verified event was handled.
type WebhookReceipt struct {
	EventID  string
	Type     string
	Outcome  ReconcileOutcome
	Deferred bool
}

// ReconcileOutcome describes the effect of reconciling one event.
type ReconcileOutcome string

const (
	ReconcileApplied   ReconcileOutcome = "applied"
	ReconcileDuplicate ReconcileOutcome = "duplicate"
	ReconcileIgnored   ReconcileOutcome = "ignored"
	ReconcileNoop      ReconcileOutcome = "noop"
)

type DeadLetterListFilter struct {
	Status     []domain.DeadLetterStatus
	Pagination Pagination
}
