package handlers

import (
	"github.com/storefront/api/internal/services"
)

type orderItemPayload struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId"`
	Name            string `json:"name"`
	PriceAtPurchase string `json:"priceAtPurchase"`
	Quantity        int    `json:"quantity"`
}

type addressPayload struct {
	AddressID     string `json:"addressId,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	StateProvince string `json:"stateProvince,omitempty"`
	PostalCode    string `json:"postalCode"`
	CountryCode   string `json:"countryCode"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
}

type promoSnapshotPayload struct {
	Code          string `json:"code"`
	DiscountType  string `json:"discountType"`
	DiscountValue string `json:"discountValue"`
}

type paymentHandlePayload struct {
	Kind         string `json:"kind"`
	ClientSecret string `json:"clientSecret,omitempty"`
	RedirectURL  string `json:"redirectUrl,omitempty"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	UserID          string                `json:"userId,omitempty"`
	Status          string                `json:"status"`
	Currency        string                `json:"currency"`
	Subtotal        string                `json:"subtotal"`
	Discount        string                `json:"discount"`
	Total           string                `json:"total"`
	PromoCode       *promoSnapshotPayload `json:"promoCode,omitempty"`
	ShippingAddress *addressPayload       `json:"shippingAddress,omitempty"`
	DeliveryUserID  string                `json:"deliveryUserId,omitempty"`
	Items           []orderItemPayload    `json:"items"`
	CreatedAt       string                `json:"createdAt,omitempty"`
	UpdatedAt       string                `json:"updatedAt,omitempty"`
}

type orderResponse struct {
	Order   orderPayload          `json:"order"`
	Payment *paymentHandlePayload `json:"payment,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		Currency:       order.Currency,
		Subtotal:       money(order.Subtotal),
		Discount:       money(order.Discount),
		Total:          money(order.Total),
		DeliveryUserID: order.DeliveryUserID,
		Items:          make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:              item.ID,
			ProductID:       item.ProductID,
			Name:            item.NameAtPurchase,
			PriceAtPurchase: money(item.PriceAtPurchase),
			Quantity:        item.Quantity,
		})
	}
	if promo := order.PromoCode; promo != nil {
		payload.PromoCode = &promoSnapshotPayload{
			Code:          promo.Code,
			DiscountType:  string(promo.DiscountType),
			DiscountValue: promo.DiscountValue.String(),
		}
	}
	if addr := order.ShippingAddress; addr != nil {
		payload.ShippingAddress = &addressPayload{
			AddressID:     addr.AddressID,
			Line1:         addr.Line1,
			Line2:         addr.Line2,
			City:          addr.City,
			StateProvince: addr.StateProvince,
			PostalCode:    addr.PostalCode,
			CountryCode:   addr.CountryCode,
			PhoneNumber:   addr.PhoneNumber,
		}
	}
	return payload
}

func buildPaymentHandle(handle services.PaymentHandle) *paymentHandlePayload {
	if handle.ClientSecret == "" && handle.RedirectURL == "" {
		return nil
	}
	return &paymentHandlePayload{
		Kind:         string(handle.Kind),
		ClientSecret: handle.ClientSecret,
		RedirectURL:  handle.RedirectURL,
	}
}

func buildOrderList(items []services.Order, next string) orderListResponse {
	resp := orderListResponse{Items: make([]orderPayload, 0, len(items)), NextPageToken: next}
	for _, order := range items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	return resp
}

type cartItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	UnitPrice string `json:"unitPrice,omitempty"`
	Quantity  int    `json:"quantity"`
}

type cartPayload struct {
	ID          string            `json:"id,omitempty"`
	Status      string            `json:"status"`
	PromoCodeID string            `json:"promoCodeId,omitempty"`
	Items       []cartItemPayload `json:"items"`
	ItemsCount  int               `json:"itemsCount"`
	UpdatedAt   string            `json:"updatedAt,omitempty"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:          cart.ID,
		Status:      string(cart.Status),
		PromoCodeID: cart.PromoCodeID,
		Items:       make([]cartItemPayload, 0, len(cart.Items)),
		UpdatedAt:   formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		entry := cartItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
		if item.Product != nil {
			entry.Name = item.Product.Name
			entry.UnitPrice = money(item.Product.Price)
		}
		payload.Items = append(payload.Items, entry)
		payload.ItemsCount += item.Quantity
	}
	return payload
}

type promoCodePayload struct {
	ID                    string `json:"id"`
	Code                  string `json:"code"`
	DiscountType          string `json:"discountType"`
	DiscountValue         string `json:"discountValue"`
	ExpirationDate        string `json:"expirationDate,omitempty"`
	UsageLimit            *int   `json:"usageLimit,omitempty"`
	UsageCount            int    `json:"usageCount"`
	MinimumPurchaseAmount string `json:"minimumPurchaseAmount,omitempty"`
	Status                string `json:"status"`
}

func buildPromoCodePayload(promo services.PromoCode) promoCodePayload {
	payload := promoCodePayload{
		ID:             promo.ID,
		Code:           promo.Code,
		DiscountType:   string(promo.DiscountType),
		DiscountValue:  promo.DiscountValue.String(),
		ExpirationDate: formatOptionalTime(promo.ExpirationDate),
		UsageCount:     promo.UsageCount,
		Status:         string(promo.Status),
	}
	if promo.UsageLimit != nil {
		limit := *promo.UsageLimit
		payload.UsageLimit = &limit
	}
	if promo.MinimumPurchaseAmount != nil {
		payload.MinimumPurchaseAmount = money(*promo.MinimumPurchaseAmount)
	}
	return payload
}

type productPayload struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	Price              string `json:"price"`
	Stock              int    `json:"stock"`
	Status             string `json:"status"`
	ProcessorProductID string `json:"processorProductId,omitempty"`
	ProcessorPriceID   string `json:"processorPriceId,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:                 product.ID,
		Name:               product.Name,
		Description:        product.Description,
		Price:              money(product.Price),
		Stock:              product.Stock,
		Status:             string(product.Status),
		ProcessorProductID: product.ProcessorProductID,
		ProcessorPriceID:   product.ProcessorPriceID,
	}
}

type deadLetterPayload struct {
	ID         string `json:"id"`
	EventID    string `json:"eventId"`
	EventType  string `json:"eventType"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"lastError,omitempty"`
	PayloadRef string `json:"payloadRef,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
	RedrivenAt string `json:"redrivenAt,omitempty"`
}

func buildDeadLetterPayload(letter services.DeadLetter) deadLetterPayload {
	return deadLetterPayload{
		ID:         letter.ID,
		EventID:    letter.EventID,
		EventType:  letter.EventType,
		Attempts:   letter.Attempts,
		LastError:  letter.LastError,
		PayloadRef: letter.PayloadRef,
		Status:     string(letter.Status),
		CreatedAt:  formatTime(letter.CreatedAt),
		RedrivenAt: formatOptionalTime(letter.RedrivenAt),
	}
}
