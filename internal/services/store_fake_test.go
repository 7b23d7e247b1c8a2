package services

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
	"github.com/storefront/api/internal/repositories"
)

// memoryStore is an in-memory repositories.Store. RunInTx snapshots state and restores it
// when fn fails, which is enough to observe rollback behaviour in service tests.
type memoryStore struct {
	products  map[string]domain.Product
	orders    map[string]domain.Order
	payments  []domain.Payment
	promos    map[string]domain.PromoCode
	carts     map[string]domain.Cart
	addresses map[string]domain.Address
	likes     []domain.ProductLike
	events    map[string]string

	// fail injects an error for the named operation, e.g. "orders.insert".
	fail map[string]error

	txCount   int
	rollbacks int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		products:  map[string]domain.Product{},
		orders:    map[string]domain.Order{},
		promos:    map[string]domain.PromoCode{},
		carts:     map[string]domain.Cart{},
		addresses: map[string]domain.Address{},
		events:    map[string]string{},
		fail:      map[string]error{},
	}
}

type memorySnapshot struct {
	products  map[string]domain.Product
	orders    map[string]domain.Order
	payments  []domain.Payment
	promos    map[string]domain.PromoCode
	carts     map[string]domain.Cart
	addresses map[string]domain.Address
	likes     []domain.ProductLike
	events    map[string]string
}

func (s *memoryStore) snapshot() memorySnapshot {
	carts := make(map[string]domain.Cart, len(s.carts))
	for id, cart := range s.carts {
		cart.Items = slices.Clone(cart.Items)
		carts[id] = cart
	}
	return memorySnapshot{
		products:  maps.Clone(s.products),
		orders:    maps.Clone(s.orders),
		payments:  slices.Clone(s.payments),
		promos:    maps.Clone(s.promos),
		carts:     carts,
		addresses: maps.Clone(s.addresses),
		likes:     slices.Clone(s.likes),
		events:    maps.Clone(s.events),
	}
}

func (s *memoryStore) restore(snap memorySnapshot) {
	s.products = snap.products
	s.orders = snap.orders
	s.payments = snap.payments
	s.promos = snap.promos
	s.carts = snap.carts
	s.addresses = snap.addresses
	s.likes = snap.likes
	s.events = snap.events
}

func (s *memoryStore) failure(op string) error {
	if err, ok := s.fail[op]; ok {
		return err
	}
	return nil
}

func (s *memoryStore) Products() repositories.ProductRepository           { return memProducts{s} }
func (s *memoryStore) Orders() repositories.OrderRepository               { return memOrders{s} }
func (s *memoryStore) Payments() repositories.PaymentRepository           { return memPayments{s} }
func (s *memoryStore) PromoCodes() repositories.PromoCodeRepository       { return memPromos{s} }
func (s *memoryStore) Carts() repositories.CartRepository                 { return memCarts{s} }
func (s *memoryStore) Addresses() repositories.AddressRepository          { return memAddresses{s} }
func (s *memoryStore) Likes() repositories.LikeRepository                 { return memLikes{s} }
func (s *memoryStore) WebhookEvents() repositories.WebhookEventRepository { return memEvents{s} }

func (s *memoryStore) Ping(context.Context) error  { return s.failure("ping") }
func (s *memoryStore) Close(context.Context) error { return nil }

func (s *memoryStore) Begin(ctx context.Context) (repositories.Tx, error) {
	if err := s.failure("begin"); err != nil {
		return nil, err
	}
	s.txCount++
	return &memoryTx{memoryStore: s, snap: s.snapshot()}, nil
}

func (s *memoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

type memoryTx struct {
	*memoryStore
	snap memorySnapshot
	done bool
}

func (t *memoryTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.failure("commit")
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.rollbacks++
	t.restore(t.snap)
	return nil
}

type memProducts struct{ s *memoryStore }

func (r memProducts) Insert(ctx context.Context, product domain.Product) error {
	r.s.products[product.ID] = product
	return nil
}

func (r memProducts) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if err := r.s.failure("products.find"); err != nil {
		return domain.Product{}, err
	}
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, sqldb.NotFound("products.find")
	}
	return product, nil
}

func (r memProducts) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (r memProducts) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	if err := r.s.failure("products.decrement"); err != nil {
		return false, err
	}
	product, ok := r.s.products[productID]
	if !ok || product.Stock < qty {
		return false, nil
	}
	product.Stock -= qty
	r.s.products[productID] = product
	return true, nil
}

func (r memProducts) IncrementStock(ctx context.Context, productID string, qty int) error {
	product, ok := r.s.products[productID]
	if !ok {
		return sqldb.NotFound("products.increment")
	}
	product.Stock += qty
	r.s.products[productID] = product
	return nil
}

func (r memProducts) UpdateProcessorRefs(ctx context.Context, productID string, processorProductID string, processorPriceID string) error {
	product, ok := r.s.products[productID]
	if !ok {
		return sqldb.NotFound("products.update_refs")
	}
	product.ProcessorProductID = processorProductID
	product.ProcessorPriceID = processorPriceID
	r.s.products[productID] = product
	return nil
}

func (r memProducts) UpdateStatus(ctx context.Context, productID string, status domain.ProductStatus) error {
	product, ok := r.s.products[productID]
	if !ok {
		return sqldb.NotFound("products.update_status")
	}
	product.Status = status
	r.s.products[productID] = product
	return nil
}

func (r memProducts) UpdateDetails(ctx context.Context, productID string, name string, description string, price decimal.Decimal) error {
	product, ok := r.s.products[productID]
	if !ok {
		return sqldb.NotFound("products.update_details")
	}
	product.Name = name
	product.Description = description
	product.Price = price
	r.s.products[productID] = product
	return nil
}

func (r memProducts) ListLowStock(ctx context.Context, productIDs []string, threshold int) ([]domain.Product, error) {
	var out []domain.Product
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok && product.Stock <= threshold {
			out = append(out, product)
		}
	}
	return out, nil
}

type memOrders struct{ s *memoryStore }

func (r memOrders) Insert(ctx context.Context, order domain.Order) error {
	if err := r.s.failure("orders.insert"); err != nil {
		return err
	}
	if order.UserID != "" && order.Status == domain.OrderStatusPending {
		for _, existing := range r.s.orders {
			if existing.UserID == order.UserID && existing.Status == domain.OrderStatusPending {
				return sqldb.Conflict("orders.insert", "pending order exists")
			}
		}
	}
	order.Payments = nil
	r.s.orders[order.ID] = order
	return nil
}

func (r memOrders) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, sqldb.NotFound("orders.find")
	}
	for _, payment := range r.s.payments {
		if payment.OrderID == orderID {
			order.Payments = append(order.Payments, payment)
		}
	}
	return order, nil
}

func (r memOrders) ExistsWithStatus(ctx context.Context, userID string, status domain.OrderStatus) (bool, error) {
	for _, order := range r.s.orders {
		if order.UserID == userID && order.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (r memOrders) Transition(ctx context.Context, transition repositories.OrderTransition) (bool, error) {
	if err := r.s.failure("orders.transition"); err != nil {
		return false, err
	}
	order, ok := r.s.orders[transition.OrderID]
	if !ok || !slices.Contains(transition.From, order.Status) {
		return false, nil
	}
	if transition.RequireDeliveryUserID != "" && order.DeliveryUserID != transition.RequireDeliveryUserID {
		return false, nil
	}
	order.Status = transition.To
	if transition.AssignDeliveryUserID != "" {
		order.DeliveryUserID = transition.AssignDeliveryUserID
	}
	order.UpdatedAt = transition.At
	r.s.orders[order.ID] = order
	return true, nil
}

func (r memOrders) SetPaymentSession(ctx context.Context, orderID string, sessionID string) error {
	order, ok := r.s.orders[orderID]
	if !ok {
		return sqldb.NotFound("orders.set_payment_session")
	}
	order.PaymentSessionID = sessionID
	r.s.orders[orderID] = order
	return nil
}

func (r memOrders) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var out []domain.Order
	for _, order := range r.s.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.DeliveryUserID != "" && order.DeliveryUserID != filter.DeliveryUserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

func (r memOrders) PurchaserIDs(ctx context.Context, productID string, statuses []domain.OrderStatus) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, order := range r.s.orders {
		if order.UserID == "" || !slices.Contains(statuses, order.Status) {
			continue
		}
		for _, item := range order.Items {
			if item.ProductID == productID && !seen[order.UserID] {
				seen[order.UserID] = true
				out = append(out, order.UserID)
			}
		}
	}
	return out, nil
}

type memPayments struct{ s *memoryStore }

func (r memPayments) Insert(ctx context.Context, payment domain.Payment) error {
	if err := r.s.failure("payments.insert"); err != nil {
		return err
	}
	r.s.payments = append(r.s.payments, payment)
	return nil
}

func (r memPayments) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, payment := range r.s.payments {
		if payment.OrderID == orderID {
			out = append(out, payment)
		}
	}
	return out, nil
}

func (r memPayments) TransitionForOrder(ctx context.Context, orderID string, from domain.PaymentStatus, to domain.PaymentStatus, at time.Time) (int64, error) {
	var n int64
	for i, payment := range r.s.payments {
		if payment.OrderID == orderID && payment.Status == from {
			r.s.payments[i].Status = to
			r.s.payments[i].UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (r memPayments) RecordFailure(ctx context.Context, orderID string, externalID string, message string, at time.Time) error {
	for i, payment := range r.s.payments {
		if payment.OrderID != orderID || payment.Status != domain.PaymentStatusPending {
			continue
		}
		if externalID != "" && payment.ExternalPaymentID != externalID {
			continue
		}
		r.s.payments[i].LastError = message
		r.s.payments[i].UpdatedAt = at
	}
	return nil
}

func (r memPayments) SetPaymentIntent(ctx context.Context, orderID string, intentID string, at time.Time) error {
	for i, payment := range r.s.payments {
		if payment.OrderID != orderID || payment.Kind != domain.PaymentKindCheckoutSession || payment.Metadata.PaymentIntentID != "" {
			continue
		}
		r.s.payments[i].Metadata.PaymentIntentID = intentID
		r.s.payments[i].UpdatedAt = at
	}
	return nil
}

type memPromos struct{ s *memoryStore }

func (r memPromos) Insert(ctx context.Context, promo domain.PromoCode) error {
	for _, existing := range r.s.promos {
		if existing.Code == promo.Code {
			return sqldb.Conflict("promo_codes.insert", "duplicate code")
		}
	}
	r.s.promos[promo.ID] = promo
	return nil
}

func (r memPromos) Update(ctx context.Context, promo domain.PromoCode) error {
	existing, ok := r.s.promos[promo.ID]
	if !ok {
		return sqldb.NotFound("promo_codes.update")
	}
	existing.ExpirationDate = promo.ExpirationDate
	existing.UsageLimit = promo.UsageLimit
	existing.Status = promo.Status
	existing.UpdatedAt = promo.UpdatedAt
	r.s.promos[promo.ID] = existing
	return nil
}

func (r memPromos) FindByID(ctx context.Context, promoID string) (domain.PromoCode, error) {
	promo, ok := r.s.promos[promoID]
	if !ok {
		return domain.PromoCode{}, sqldb.NotFound("promo_codes.find")
	}
	return promo, nil
}

func (r memPromos) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	for _, promo := range r.s.promos {
		if promo.Code == code {
			return promo, nil
		}
	}
	return domain.PromoCode{}, sqldb.NotFound("promo_codes.find_by_code")
}

func (r memPromos) List(ctx context.Context, filter repositories.PromoCodeListFilter) (domain.CursorPage[domain.PromoCode], error) {
	var out []domain.PromoCode
	for _, promo := range r.s.promos {
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, promo.Status) {
			continue
		}
		out = append(out, promo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return domain.CursorPage[domain.PromoCode]{Items: out}, nil
}

func (r memPromos) IncrementUsage(ctx context.Context, promoID string) (bool, error) {
	promo, ok := r.s.promos[promoID]
	if !ok {
		return false, nil
	}
	if promo.UsageLimit != nil && promo.UsageCount >= *promo.UsageLimit {
		return false, nil
	}
	promo.UsageCount++
	r.s.promos[promoID] = promo
	return true, nil
}

func (r memPromos) DecrementUsage(ctx context.Context, promoID string) (bool, error) {
	promo, ok := r.s.promos[promoID]
	if !ok || promo.UsageCount <= 0 {
		return false, nil
	}
	promo.UsageCount--
	r.s.promos[promoID] = promo
	return true, nil
}

type memCarts struct{ s *memoryStore }

func (r memCarts) FindActive(ctx context.Context, userID string) (domain.Cart, error) {
	for _, cart := range r.s.carts {
		if cart.UserID == userID && cart.Status == domain.CartStatusActive {
			items := make([]domain.CartItem, 0, len(cart.Items))
			for _, item := range cart.Items {
				if product, ok := r.s.products[item.ProductID]; ok {
					p := product
					item.Product = &p
				}
				items = append(items, item)
			}
			cart.Items = items
			return cart, nil
		}
	}
	return domain.Cart{}, sqldb.NotFound("carts.find_active")
}

func (r memCarts) Create(ctx context.Context, cart domain.Cart) error {
	r.s.carts[cart.ID] = cart
	return nil
}

func (r memCarts) SaveItem(ctx context.Context, item domain.CartItem) error {
	cart, ok := r.s.carts[item.CartID]
	if !ok {
		return sqldb.NotFound("carts.save_item")
	}
	item.Product = nil
	items := slices.Clone(cart.Items)
	replaced := false
	for i := range items {
		if items[i].ID == item.ID {
			items[i].Quantity = item.Quantity
			items[i].UpdatedAt = item.UpdatedAt
			replaced = true
		}
	}
	if !replaced {
		items = append(items, item)
	}
	cart.Items = items
	r.s.carts[cart.ID] = cart
	return nil
}

func (r memCarts) DeleteItem(ctx context.Context, cartID string, itemID string) error {
	cart, ok := r.s.carts[cartID]
	if !ok {
		return sqldb.NotFound("carts.delete_item")
	}
	idx := slices.IndexFunc(cart.Items, func(item domain.CartItem) bool { return item.ID == itemID })
	if idx < 0 {
		return sqldb.NotFound("carts.delete_item")
	}
	cart.Items = slices.Delete(slices.Clone(cart.Items), idx, idx+1)
	r.s.carts[cartID] = cart
	return nil
}

func (r memCarts) ClearItems(ctx context.Context, cartID string) error {
	cart, ok := r.s.carts[cartID]
	if !ok {
		return sqldb.NotFound("carts.clear")
	}
	cart.Items = nil
	r.s.carts[cartID] = cart
	return nil
}

func (r memCarts) AttachPromo(ctx context.Context, cartID string, promoID string) error {
	cart, ok := r.s.carts[cartID]
	if !ok {
		return sqldb.NotFound("carts.attach_promo")
	}
	cart.PromoCodeID = promoID
	r.s.carts[cartID] = cart
	return nil
}

func (r memCarts) UpdateStatus(ctx context.Context, cartID string, status domain.CartStatus) error {
	if err := r.s.failure("carts.update_status"); err != nil {
		return err
	}
	cart, ok := r.s.carts[cartID]
	if !ok {
		return sqldb.NotFound("carts.update_status")
	}
	cart.Status = status
	r.s.carts[cartID] = cart
	return nil
}

type memAddresses struct{ s *memoryStore }

func (r memAddresses) FindForUser(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	address, ok := r.s.addresses[addressID]
	if !ok || address.UserID != userID {
		return domain.Address{}, sqldb.NotFound("addresses.find")
	}
	return address, nil
}

func (r memAddresses) Create(ctx context.Context, address domain.Address) error {
	r.s.addresses[address.ID] = address
	return nil
}

type memLikes struct{ s *memoryStore }

func (r memLikes) Like(ctx context.Context, like domain.ProductLike) error {
	for _, existing := range r.s.likes {
		if existing.UserID == like.UserID && existing.ProductID == like.ProductID {
			return nil
		}
	}
	r.s.likes = append(r.s.likes, like)
	return nil
}

func (r memLikes) Unlike(ctx context.Context, userID string, productID string) error {
	r.s.likes = slices.DeleteFunc(slices.Clone(r.s.likes), func(like domain.ProductLike) bool {
		return like.UserID == userID && like.ProductID == productID
	})
	return nil
}

func (r memLikes) ListInterested(ctx context.Context, productID string) ([]domain.InterestedUser, error) {
	var out []domain.InterestedUser
	for _, like := range r.s.likes {
		if like.ProductID == productID {
			out = append(out, domain.InterestedUser{UserID: like.UserID, Email: like.UserEmail})
		}
	}
	return out, nil
}

type memEvents struct{ s *memoryStore }

func (r memEvents) MarkProcessed(ctx context.Context, eventID string, eventType string, at time.Time) (bool, error) {
	if _, ok := r.s.events[eventID]; ok {
		return false, nil
	}
	r.s.events[eventID] = eventType
	return true, nil
}

var _ repositories.Store = (*memoryStore)(nil)
