package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
)

type productModel struct {
	ID                 string          `gorm:"primaryKey;size:64"`
	Name               string          `gorm:"size:255;not null"`
	Description        string          `gorm:"type:text"`
	Price              decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Stock              int             `gorm:"not null;check:chk_products_stock,stock >= 0"`
	Status             string          `gorm:"size:16;not null;index"`
	ProcessorProductID string          `gorm:"size:128"`
	ProcessorPriceID   string          `gorm:"size:128"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (productModel) TableName() string { return "products" }

type promoCodeModel struct {
	ID                    string              `gorm:"primaryKey;size:64"`
	Code                  string              `gorm:"size:12;not null;uniqueIndex"`
	DiscountType          string              `gorm:"size:16;not null"`
	DiscountValue         decimal.Decimal     `gorm:"type:numeric(12,2);not null"`
	ExpirationDate        *time.Time          `gorm:""`
	UsageLimit            *int                `gorm:""`
	UsageCount            int                 `gorm:"not null;default:0;check:chk_promo_usage,usage_count >= 0"`
	MinimumPurchaseAmount decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	Status                string              `gorm:"size:16;not null;index"`
	CreatedAt             time.Time           `gorm:"index"`
	UpdatedAt             time.Time
}

func (promoCodeModel) TableName() string { return "promo_codes" }

type addressModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	UserID        string `gorm:"size:128;not null;index"`
	Line1         string `gorm:"size:255;not null"`
	Line2         string `gorm:"size:255"`
	City          string `gorm:"size:128;not null"`
	StateProvince string `gorm:"size:128"`
	PostalCode    string `gorm:"size:32;not null"`
	CountryCode   string `gorm:"size:2;not null"`
	PhoneNumber   string `gorm:"size:32"`
	CreatedAt     time.Time
}

func (addressModel) TableName() string { return "addresses" }

type promoSnapshotColumns struct {
	ID                    string              `gorm:"size:64"`
	Code                  string              `gorm:"size:12"`
	DiscountType          string              `gorm:"size:16"`
	DiscountValue         decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	MinimumPurchaseAmount decimal.NullDecimal `gorm:"type:numeric(12,2)"`
}

type addressSnapshotColumns struct {
	AddressID     string `gorm:"size:64"`
	Line1         string `gorm:"size:255"`
	Line2         string `gorm:"size:255"`
	City          string `gorm:"size:128"`
	StateProvince string `gorm:"size:128"`
	PostalCode    string `gorm:"size:32"`
	CountryCode   string `gorm:"size:2"`
	PhoneNumber   string `gorm:"size:32"`
}

type contactColumns struct {
	Email       string `gorm:"size:255"`
	FullName    string `gorm:"size:255"`
	PhoneNumber string `gorm:"size:32"`
}

type orderModel struct {
	ID               string                 `gorm:"primaryKey;size:64"`
	UserID           *string                `gorm:"size:128;index;uniqueIndex:idx_orders_user_pending,where:status = 'PENDING'"`
	Status           string                 `gorm:"size:16;not null;index"`
	Currency         string                 `gorm:"size:3;not null"`
	Subtotal         decimal.Decimal        `gorm:"type:numeric(12,2);not null"`
	Discount         decimal.Decimal        `gorm:"type:numeric(12,2);not null"`
	Tax              decimal.Decimal        `gorm:"type:numeric(12,2);not null"`
	Total            decimal.Decimal        `gorm:"type:numeric(12,2);not null;index"`
	Promo            promoSnapshotColumns   `gorm:"embedded;embeddedPrefix:promo_"`
	Shipping         addressSnapshotColumns `gorm:"embedded;embeddedPrefix:ship_"`
	Contact          contactColumns         `gorm:"embedded;embeddedPrefix:contact_"`
	PaymentSessionID string                 `gorm:"size:255"`
	DeliveryUserID   string                 `gorm:"size:128;index"`
	Items            []orderItemModel       `gorm:"foreignKey:OrderID"`
	Payments         []paymentModel         `gorm:"foreignKey:OrderID"`
	CreatedAt        time.Time              `gorm:"index"`
	UpdatedAt        time.Time
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	ID              string          `gorm:"primaryKey;size:64"`
	OrderID         string          `gorm:"size:64;not null;index"`
	ProductID       string          `gorm:"size:64;not null;index"`
	NameAtPurchase  string          `gorm:"size:255;not null"`
	PriceAtPurchase decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Quantity        int             `gorm:"not null"`
	Tax             decimal.Decimal `gorm:"type:numeric(12,2);not null"`
}

func (orderItemModel) TableName() string { return "order_items" }

type paymentMetadataColumns struct {
	ClientSecret    string `gorm:"size:255"`
	SessionID       string `gorm:"size:255"`
	SessionURL      string `gorm:"type:text"`
	PaymentIntentID string `gorm:"size:255"`
}

type paymentModel struct {
	ID                string                 `gorm:"primaryKey;size:64"`
	OrderID           string                 `gorm:"size:64;not null;index"`
	UserID            string                 `gorm:"size:128"`
	Provider          string                 `gorm:"size:32;not null"`
	Kind              string                 `gorm:"size:32;not null"`
	ExternalPaymentID string                 `gorm:"size:255;index"`
	Amount            decimal.Decimal        `gorm:"type:numeric(12,2);not null"`
	Currency          string                 `gorm:"size:3;not null"`
	Status            string                 `gorm:"size:16;not null;index"`
	Metadata          paymentMetadataColumns `gorm:"embedded;embeddedPrefix:meta_"`
	LastError         string                 `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (paymentModel) TableName() string { return "payments" }

type cartModel struct {
	ID          string          `gorm:"primaryKey;size:64"`
	UserID      string          `gorm:"size:128;not null;index;uniqueIndex:idx_carts_user_active,where:status = 'ACTIVE'"`
	Status      string          `gorm:"size:16;not null"`
	PromoCodeID *string         `gorm:"size:64"`
	Items       []cartItemModel `gorm:"foreignKey:CartID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (cartModel) TableName() string { return "carts" }

type cartItemModel struct {
	ID        string        `gorm:"primaryKey;size:64"`
	CartID    string        `gorm:"size:64;not null;uniqueIndex:idx_cart_items_cart_product"`
	ProductID string        `gorm:"size:64;not null;uniqueIndex:idx_cart_items_cart_product"`
	Quantity  int           `gorm:"not null"`
	Product   *productModel `gorm:"foreignKey:ProductID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (cartItemModel) TableName() string { return "cart_items" }

type productLikeModel struct {
	UserID    string `gorm:"primaryKey;size:128"`
	ProductID string `gorm:"primaryKey;size:64;index"`
	UserEmail string `gorm:"size:255"`
	CreatedAt time.Time
}

func (productLikeModel) TableName() string { return "product_likes" }

type processedWebhookEventModel struct {
	EventID     string `gorm:"primaryKey;size:255"`
	EventType   string `gorm:"size:64;not null"`
	ProcessedAt time.Time
}

func (processedWebhookEventModel) TableName() string { return "processed_webhook_events" }

func allModels() []any {
	return []any{
		&productModel{},
		&promoCodeModel{},
		&addressModel{},
		&orderModel{},
		&orderItemModel{},
		&paymentModel{},
		&cartModel{},
		&cartItemModel{},
		&productLikeModel{},
		&processedWebhookEventModel{},
	}
}

// conversions ----------------------------------------------------------------

func productFromDomain(p domain.Product) productModel {
	return productModel{
		ID:                 p.ID,
		Name:               p.Name,
		Description:        p.Description,
		Price:              p.Price,
		Stock:              p.Stock,
		Status:             string(p.Status),
		ProcessorProductID: p.ProcessorProductID,
		ProcessorPriceID:   p.ProcessorPriceID,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func (m productModel) toDomain() domain.Product {
	return domain.Product{
		ID:                 m.ID,
		Name:               m.Name,
		Description:        m.Description,
		Price:              m.Price,
		Stock:              m.Stock,
		Status:             domain.ProductStatus(m.Status),
		ProcessorProductID: m.ProcessorProductID,
		ProcessorPriceID:   m.ProcessorPriceID,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func promoFromDomain(p domain.PromoCode) promoCodeModel {
	model := promoCodeModel{
		ID:             p.ID,
		Code:           p.Code,
		DiscountType:   string(p.DiscountType),
		DiscountValue:  p.DiscountValue,
		ExpirationDate: p.ExpirationDate,
		UsageLimit:     p.UsageLimit,
		UsageCount:     p.UsageCount,
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.MinimumPurchaseAmount != nil {
		model.MinimumPurchaseAmount = decimal.NewNullDecimal(*p.MinimumPurchaseAmount)
	}
	return model
}

func (m promoCodeModel) toDomain() domain.PromoCode {
	promo := domain.PromoCode{
		ID:             m.ID,
		Code:           m.Code,
		DiscountType:   domain.DiscountType(m.DiscountType),
		DiscountValue:  m.DiscountValue,
		ExpirationDate: utcPtr(m.ExpirationDate),
		UsageLimit:     m.UsageLimit,
		UsageCount:     m.UsageCount,
		Status:         domain.PromoCodeStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.MinimumPurchaseAmount.Valid {
		minimum := m.MinimumPurchaseAmount.Decimal
		promo.MinimumPurchaseAmount = &minimum
	}
	return promo
}

func addressFromDomain(a domain.Address) addressModel {
	return addressModel{
		ID:            a.ID,
		UserID:        a.UserID,
		Line1:         a.Line1,
		Line2:         a.Line2,
		City:          a.City,
		StateProvince: a.StateProvince,
		PostalCode:    a.PostalCode,
		CountryCode:   a.CountryCode,
		PhoneNumber:   a.PhoneNumber,
		CreatedAt:     a.CreatedAt,
	}
}

func (m addressModel) toDomain() domain.Address {
	return domain.Address{
		ID:            m.ID,
		UserID:        m.UserID,
		Line1:         m.Line1,
		Line2:         m.Line2,
		City:          m.City,
		StateProvince: m.StateProvince,
		PostalCode:    m.PostalCode,
		CountryCode:   m.CountryCode,
		PhoneNumber:   m.PhoneNumber,
		CreatedAt:     m.CreatedAt,
	}
}

func orderFromDomain(o domain.Order) orderModel {
	model := orderModel{
		ID:               o.ID,
		Status:           string(o.Status),
		Currency:         o.Currency,
		Subtotal:         o.Subtotal,
		Discount:         o.Discount,
		Tax:              o.Tax,
		Total:            o.Total,
		PaymentSessionID: o.PaymentSessionID,
		DeliveryUserID:   o.DeliveryUserID,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.UserID != "" {
		userID := o.UserID
		model.UserID = &userID
	}
	if promo := o.PromoCode; promo != nil {
		model.Promo = promoSnapshotColumns{
			ID:            promo.ID,
			Code:          promo.Code,
			DiscountType:  string(promo.DiscountType),
			DiscountValue: decimal.NewNullDecimal(promo.DiscountValue),
		}
		if promo.MinimumPurchaseAmount != nil {
			model.Promo.MinimumPurchaseAmount = decimal.NewNullDecimal(*promo.MinimumPurchaseAmount)
		}
	}
	if addr := o.ShippingAddress; addr != nil {
		model.Shipping = addressSnapshotColumns(*addr)
	}
	if contact := o.Contact; contact != nil {
		model.Contact = contactColumns(*contact)
	}
	model.Items = make([]orderItemModel, 0, len(o.Items))
	for _, item := range o.Items {
		model.Items = append(model.Items, orderItemModel{
			ID:              item.ID,
			OrderID:         o.ID,
			ProductID:       item.ProductID,
			NameAtPurchase:  item.NameAtPurchase,
			PriceAtPurchase: item.PriceAtPurchase,
			Quantity:        item.Quantity,
			Tax:             item.Tax,
		})
	}
	return model
}

func (m orderModel) toDomain() domain.Order {
	order := domain.Order{
		ID:               m.ID,
		Status:           domain.OrderStatus(m.Status),
		Currency:         m.Currency,
		Subtotal:         m.Subtotal,
		Discount:         m.Discount,
		Tax:              m.Tax,
		Total:            m.Total,
		PaymentSessionID: m.PaymentSessionID,
		DeliveryUserID:   m.DeliveryUserID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.UserID != nil {
		order.UserID = *m.UserID
	}
	if m.Promo.ID != "" {
		order.PromoCode = &domain.PromoSnapshot{
			ID:            m.Promo.ID,
			Code:          m.Promo.Code,
			DiscountType:  domain.DiscountType(m.Promo.DiscountType),
			DiscountValue: m.Promo.DiscountValue.Decimal,
		}
		if m.Promo.MinimumPurchaseAmount.Valid {
			minimum := m.Promo.MinimumPurchaseAmount.Decimal
			order.PromoCode.MinimumPurchaseAmount = &minimum
		}
	}
	if m.Shipping.Line1 != "" {
		addr := domain.AddressSnapshot(m.Shipping)
		order.ShippingAddress = &addr
	}
	if m.Contact.Email != "" {
		contact := domain.ContactInfo(m.Contact)
		order.Contact = &contact
	}
	for _, item := range m.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:              item.ID,
			OrderID:         item.OrderID,
			ProductID:       item.ProductID,
			NameAtPurchase:  item.NameAtPurchase,
			PriceAtPurchase: item.PriceAtPurchase,
			Quantity:        item.Quantity,
			Tax:             item.Tax,
		})
	}
	for _, payment := range m.Payments {
		order.Payments = append(order.Payments, payment.toDomain())
	}
	return order
}

func paymentFromDomain(p domain.Payment) paymentModel {
	return paymentModel{
		ID:                p.ID,
		OrderID:           p.OrderID,
		UserID:            p.UserID,
		Provider:          p.Provider,
		Kind:              string(p.Kind),
		ExternalPaymentID: p.ExternalPaymentID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Status:            string(p.Status),
		Metadata:          paymentMetadataColumns(p.Metadata),
		LastError:         p.LastError,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (m paymentModel) toDomain() domain.Payment {
	return domain.Payment{
		ID:                m.ID,
		OrderID:           m.OrderID,
		UserID:            m.UserID,
		Provider:          m.Provider,
		Kind:              domain.PaymentKind(m.Kind),
		ExternalPaymentID: m.ExternalPaymentID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Status:            domain.PaymentStatus(m.Status),
		Metadata:          domain.PaymentMetadata(m.Metadata),
		LastError:         m.LastError,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func (m cartModel) toDomain() domain.Cart {
	cart := domain.Cart{
		ID:        m.ID,
		UserID:    m.UserID,
		Status:    domain.CartStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.PromoCodeID != nil {
		cart.PromoCodeID = *m.PromoCodeID
	}
	for _, item := range m.Items {
		converted := domain.CartItem{
			ID:        item.ID,
			CartID:    item.CartID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		}
		if item.Product != nil {
			product := item.Product.toDomain()
			converted.Product = &product
		}
		cart.Items = append(cart.Items, converted)
	}
	return cart
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}
