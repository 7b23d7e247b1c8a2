package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results with the token needed to fetch the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// Role identifies the subject type used for authorization decisions.
type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleManager  Role = "MANAGER"
	RoleDelivery Role = "DELIVERY"
)

// ProductStatus enumerates catalog visibility states.
type ProductStatus string

const (
	ProductStatusActive    ProductStatus = "ACTIVE"
	ProductStatusDisabled  ProductStatus = "DISABLED"
	ProductStatusPending   ProductStatus = "PENDING"
	ProductStatusSuspended ProductStatus = "SUSPENDED"
)

// Product is the catalog entry whose stock is the contended resource during checkout.
type Product struct {
	ID                 string
	Name               string
	Description        string
	Price              decimal.Decimal
	Stock              int
	Status             ProductStatus
	ProcessorProductID string
	ProcessorPriceID   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CartStatus describes the lifecycle of a user's cart.
type CartStatus string

const (
	CartStatusActive    CartStatus = "ACTIVE"
	CartStatusOrdered   CartStatus = "ORDERED"
	CartStatusAbandoned CartStatus = "ABANDONED"
)

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	ID          string
	UserID      string
	Status      CartStatus
	PromoCodeID string
	Items       []CartItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CartItem is unique per (cart, product). Product is populated on reads that join the catalog.
type CartItem struct {
	ID        string
	CartID    string
	ProductID string
	Quantity  int
	Product   *Product
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DiscountType enumerates how a promo code discount is computed.
type DiscountType string

const (
	// DiscountTypePercentage stores DiscountValue as a 0-100 percentage.
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	// DiscountTypeFixed stores DiscountValue as a currency amount.
	DiscountTypeFixed DiscountType = "FIXED"
)

// PromoCodeStatus toggles whether a promo code can be redeemed.
type PromoCodeStatus string

const (
	PromoCodeStatusActive   PromoCodeStatus = "ACTIVE"
	PromoCodeStatusDisabled PromoCodeStatus = "DISABLED"
)

// PromoCode is a redeemable discount with temporal and usage limits.
type PromoCode struct {
	ID                    string
	Code                  string
	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	ExpirationDate        *time.Time
	UsageLimit            *int
	UsageCount            int
	MinimumPurchaseAmount *decimal.Decimal
	Status                PromoCodeStatus
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PromoSnapshot freezes the promo code terms applied to an order.
type PromoSnapshot struct {
	ID                    string
	Code                  string
	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	MinimumPurchaseAmount *decimal.Decimal
}

// Address is a shipping address owned by a user. It is never mutated once referenced by an order.
type Address struct {
	ID            string
	UserID        string
	Line1         string
	Line2         string
	City          string
	StateProvince string
	PostalCode    string
	CountryCode   string
	PhoneNumber   string
	CreatedAt     time.Time
}

// AddressSnapshot is the shipping address copied onto an order.
type AddressSnapshot struct {
	AddressID     string
	Line1         string
	Line2         string
	City          string
	StateProvince string
	PostalCode    string
	CountryCode   string
	PhoneNumber   string
}

// ContactInfo captures guest checkout contact details.
type ContactInfo struct {
	Email       string
	FullName    string
	PhoneNumber string
}

// OrderStatus captures order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Order is the immutable pricing snapshot of a purchase plus its mutable status.
type Order struct {
	ID               string
	UserID           string
	Status           OrderStatus
	Currency         string
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	Tax              decimal.Decimal
	Total            decimal.Decimal
	PromoCode        *PromoSnapshot
	ShippingAddress  *AddressSnapshot
	Contact          *ContactInfo
	PaymentSessionID string
	DeliveryUserID   string
	Items            []OrderItem
	Payments         []Payment
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderItem stores the price-at-purchase snapshot of an ordered product.
type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	NameAtPurchase  string
	PriceAtPurchase decimal.Decimal
	Quantity        int
	Tax             decimal.Decimal
}

// PaymentStatus captures the single-capture payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PaymentKind distinguishes in-app intents from hosted checkout sessions.
type PaymentKind string

const (
	PaymentKindIntent          PaymentKind = "intent"
	PaymentKindCheckoutSession PaymentKind = "checkout_session"
)

// PaymentMetadata stores processor correlation data.
type PaymentMetadata struct {
	ClientSecret string
	SessionID    string
	SessionURL   string
	// PaymentIntentID is learned from the completed checkout session and used for refunds.
	PaymentIntentID string
}

// Payment records one payment attempt against an order.
type Payment struct {
	ID                string
	OrderID           string
	UserID            string
	Provider          string
	Kind              PaymentKind
	ExternalPaymentID string
	Amount            decimal.Decimal
	Currency          string
	Status            PaymentStatus
	Metadata          PaymentMetadata
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentHandle is what a client needs to complete payment: a client secret or a redirect URL.
type PaymentHandle struct {
	Kind         PaymentKind
	ClientSecret string
	RedirectURL  string
}

// ProductLike records a user's interest in a product, used for low-stock alerts.
type ProductLike struct {
	UserID    string
	UserEmail string
	ProductID string
	CreatedAt time.Time
}

// InterestedUser is a notification recipient for product alerts.
type InterestedUser struct {
	UserID string
	Email  string
}
