package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	cartIDPrefix     = "cart_"
	cartItemIDPrefix = "ci_"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartNotFound indicates the cart, item or product does not exist.
	ErrCartNotFound = errors.New("cart service: not found")
	// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
	ErrCartConflict = errors.New("cart service: conflict")
	// ErrCartUnavailable indicates the backing store could not be reached.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

// CartServiceDeps wires the repositories and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Promotions  PromotionService
	Pricing     *PricingEngine
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	promotions PromotionService
	pricing    *PricingEngine
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("cart service: promotion service is required")
	}
	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewPricingEngine(PricingEngineDeps{})
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		carts:      deps.Carts,
		products:   deps.Products,
		promotions: deps.Promotions,
		pricing:    pricing,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// GetCart returns the user's active cart, creating an empty one on first access.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.FindActive(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !isRepoNotFound(err) {
		return Cart{}, s.translateRepoError(err)
	}

	now := s.clock()
	cart = Cart{
		ID:        cartIDPrefix + s.newID(),
		UserID:    userID,
		Status:    domain.CartStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.carts.Create(ctx, cart); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// another request created the cart first
			existing, findErr := s.carts.FindActive(ctx, userID)
			if findErr != nil {
				return Cart{}, s.translateRepoError(findErr)
			}
			return existing, nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	s.logger(ctx, "cart.created", map[string]any{"cartId": cart.ID, "userId": userID})
	return cart, nil
}

// GetActiveCart returns the active cart without creating one.
func (s *cartService) GetActiveCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.carts.FindActive(ctx, userID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

// AddItem adds a product or merges the quantity into the existing line. Stock is checked
// softly here; the authoritative check happens when the order reserves it.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}
	product, err := s.sellableProduct(ctx, productID)
	if err != nil {
		return Cart{}, err
	}

	now := s.clock()
	item := CartItem{
		ID:        cartItemIDPrefix + s.newID(),
		CartID:    cart.ID,
		ProductID: productID,
		Quantity:  cmd.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, existing := range cart.Items {
		if existing.ProductID == productID {
			item = existing
			item.Quantity += cmd.Quantity
			item.UpdatedAt = now
			break
		}
	}
	if item.Quantity > product.Stock {
		return Cart{}, &InsufficientStockError{ProductID: product.ID, ProductName: product.Name, Requested: item.Quantity}
	}

	if err := s.carts.SaveItem(ctx, item); err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.reload(ctx, cart.UserID)
}

func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}
	idx := indexOfCartItem(cart.Items, itemID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: cart item %s", ErrCartNotFound, itemID)
	}
	item := cart.Items[idx]

	product, err := s.sellableProduct(ctx, item.ProductID)
	if err != nil {
		return Cart{}, err
	}
	if cmd.Quantity > product.Stock {
		return Cart{}, &InsufficientStockError{ProductID: product.ID, ProductName: product.Name, Requested: cmd.Quantity}
	}

	item.Quantity = cmd.Quantity
	item.UpdatedAt = s.clock()
	if err := s.carts.SaveItem(ctx, item); err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.reload(ctx, cart.UserID)
}

func (s *cartService) RemoveItem(ctx context.Context, userID string, itemID string) (Cart, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if err := s.carts.DeleteItem(ctx, cart.ID, itemID); err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.reload(ctx, cart.UserID)
}

func (s *cartService) ClearCart(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if err := s.carts.ClearItems(ctx, cart.ID); err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.reload(ctx, cart.UserID)
}

// ApplyPromoCode validates the code against the cart's current subtotal and attaches it.
func (s *cartService) ApplyPromoCode(ctx context.Context, userID string, code string) (Cart, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if len(cart.Items) == 0 {
		return Cart{}, fmt.Errorf("%w: cart is empty", ErrCartInvalidInput)
	}

	totals, err := s.pricing.ComputeTotals(cartPricedLines(cart), nil)
	if err != nil {
		return Cart{}, err
	}
	promo, err := s.promotions.Validate(ctx, code, &totals.Subtotal)
	if err != nil {
		return Cart{}, err
	}
	if err := s.carts.AttachPromo(ctx, cart.ID, promo.ID); err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	s.logger(ctx, "cart.promo.applied", map[string]any{"cartId": cart.ID, "promoCode": promo.Code})
	cart.PromoCodeID = promo.ID
	return cart, nil
}

func (s *cartService) MarkAsOrdered(ctx context.Context, tx repositories.Tx, cartID string) error {
	if err := tx.Carts().UpdateStatus(ctx, cartID, domain.CartStatusOrdered); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

func (s *cartService) CheckoutActiveCart(ctx context.Context, tx repositories.Tx, userID string) (bool, error) {
	cart, err := tx.Carts().FindActive(ctx, userID)
	switch {
	case isRepoNotFound(err):
		return false, nil
	case err != nil:
		return false, s.translateRepoError(err)
	}
	if err := s.MarkAsOrdered(ctx, tx, cart.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *cartService) reload(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.carts.FindActive(ctx, userID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

func (s *cartService) sellableProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, fmt.Errorf("%w: product %s", ErrCartNotFound, productID)
		}
		return Product{}, s.translateRepoError(err)
	}
	if product.Status != domain.ProductStatusActive {
		return Product{}, fmt.Errorf("%w: product %s is not available", ErrCartInvalidInput, productID)
	}
	return product, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCartConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	return err
}

// cartPricedLines prices cart items at the current catalog price.
func cartPricedLines(cart Cart) []PricedLine {
	lines := make([]PricedLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		line := PricedLine{ProductID: item.ProductID, Quantity: item.Quantity}
		if item.Product != nil {
			line.UnitPrice = item.Product.Price
		}
		lines = append(lines, line)
	}
	return lines
}

func indexOfCartItem(items []CartItem, itemID string) int {
	for i, item := range items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}
