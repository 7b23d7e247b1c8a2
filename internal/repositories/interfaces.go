package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// Repositories exposes typed repository accessors bound to a connection or a transaction.
type Repositories interface {
	Products() ProductRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	PromoCodes() PromoCodeRepository
	Carts() CartRepository
	Addresses() AddressRepository
	Likes() LikeRepository
	WebhookEvents() WebhookEventRepository
}

// Tx is an explicit transaction scope. Repositories obtained from it share the transaction.
type Tx interface {
	Repositories
	Commit() error
	Rollback() error
}

// UnitOfWork opens transaction scopes. RunInTx commits when fn returns nil and rolls back
// on error or panic.
type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is the relational persistence root.
type Store interface {
	Repositories
	UnitOfWork
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ProductRepository persists catalog products and their stock counters.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// DecrementStock subtracts qty only when stock >= qty. It reports false when no row matched.
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID string, qty int) error
	UpdateProcessorRefs(ctx context.Context, productID string, processorProductID string, processorPriceID string) error
	UpdateStatus(ctx context.Context, productID string, status domain.ProductStatus) error
	UpdateDetails(ctx context.Context, productID string, name string, description string, price decimal.Decimal) error
	ListLowStock(ctx context.Context, productIDs []string, threshold int) ([]domain.Product, error)
}

// OrderRepository persists orders together with their items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ExistsWithStatus(ctx context.Context, userID string, status domain.OrderStatus) (bool, error)
	// Transition moves an order to To only while its status is one of From. It reports false
	// when the guard did not match.
	Transition(ctx context.Context, transition OrderTransition) (bool, error)
	SetPaymentSession(ctx context.Context, orderID string, sessionID string) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	PurchaserIDs(ctx context.Context, productID string, statuses []domain.OrderStatus) ([]string, error)
}

// PaymentRepository stores payment attempts for orders.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	// TransitionForOrder updates every payment of the order in status from. It returns the affected count.
	TransitionForOrder(ctx context.Context, orderID string, from domain.PaymentStatus, to domain.PaymentStatus, at time.Time) (int64, error)
	RecordFailure(ctx context.Context, orderID string, externalID string, message string, at time.Time) error
	// SetPaymentIntent stores the intent id on the order's checkout session payments that lack one.
	SetPaymentIntent(ctx context.Context, orderID string, intentID string, at time.Time) error
}

// PromoCodeRepository persists promo codes and their usage counters.
type PromoCodeRepository interface {
	Insert(ctx context.Context, promo domain.PromoCode) error
	Update(ctx context.Context, promo domain.PromoCode) error
	FindByID(ctx context.Context, promoID string) (domain.PromoCode, error)
	FindByCode(ctx context.Context, code string) (domain.PromoCode, error)
	List(ctx context.Context, filter PromoCodeListFilter) (domain.CursorPage[domain.PromoCode], error)
	// IncrementUsage bumps usage_count while below usage_limit. It reports false when exhausted.
	IncrementUsage(ctx context.Context, promoID string) (bool, error)
	// DecrementUsage lowers usage_count while above zero. It reports false when already zero.
	DecrementUsage(ctx context.Context, promoID string) (bool, error)
}

// CartRepository owns the cart header and item rows.
type CartRepository interface {
	FindActive(ctx context.Context, userID string) (domain.Cart, error)
	Create(ctx context.Context, cart domain.Cart) error
	SaveItem(ctx context.Context, item domain.CartItem) error
	DeleteItem(ctx context.Context, cartID string, itemID string) error
	ClearItems(ctx context.Context, cartID string) error
	AttachPromo(ctx context.Context, cartID string, promoID string) error
	UpdateStatus(ctx context.Context, cartID string, status domain.CartStatus) error
}

// AddressRepository persists user-owned shipping addresses.
type AddressRepository interface {
	FindForUser(ctx context.Context, userID string, addressID string) (domain.Address, error)
	Create(ctx context.Context, address domain.Address) error
}

// LikeRepository stores product likes used to target stock alerts.
type LikeRepository interface {
	Like(ctx context.Context, like domain.ProductLike) error
	Unlike(ctx context.Context, userID string, productID string) error
	ListInterested(ctx context.Context, productID string) ([]domain.InterestedUser, error)
}

// WebhookEventRepository is the processed-event ledger for processor notifications.
type WebhookEventRepository interface {
	// MarkProcessed records the event id. It reports false when the id was already recorded.
	MarkProcessed(ctx context.Context, eventID string, eventType string, at time.Time) (bool, error)
}

// DeadLetterRepository keeps webhook deliveries that exhausted their retries.
type DeadLetterRepository interface {
	Save(ctx context.Context, letter domain.DeadLetter) error
	Get(ctx context.Context, letterID string) (domain.DeadLetter, error)
	List(ctx context.Context, filter DeadLetterListFilter) (domain.CursorPage[domain.DeadLetter], error)
	MarkRedriven(ctx context.Context, letterID string, at time.Time) error
}

// HealthRepository exposes dependency health information.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderTransition is a guarded status update.
type OrderTransition struct {
	OrderID string
	From    []domain.OrderStatus
	To      domain.OrderStatus
	// RequireDeliveryUserID restricts the update to orders assigned to that user when set.
	RequireDeliveryUserID string
	// AssignDeliveryUserID records the delivery user when set.
	AssignDeliveryUserID string
	At                   time.Time
}

type OrderListFilter struct {
	UserID         string
	DeliveryUserID string
	Status         []domain.OrderStatus
	TotalRange     domain.RangeQuery[decimal.Decimal]
	CreatedRange   domain.RangeQuery[time.Time]
	Pagination     domain.Pagination
}

type PromoCodeListFilter struct {
	Status     []domain.PromoCodeStatus
	Pagination domain.Pagination
}

type DeadLetterListFilter struct {
	Status     []domain.DeadLetterStatus
	Pagination domain.Pagination
}
