package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrProductInvalidInput indicates the caller supplied invalid product data.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductConflict indicates the product is already in the requested state.
	ErrProductConflict = errors.New("product: conflict")
	// ErrProductProcessor wraps payment processor catalog failures.
	ErrProductProcessor = errors.New("product: payment processor error")
)

// ProductServiceDeps wires catalog persistence and the processor catalog.
type ProductServiceDeps struct {
	Products   repositories.ProductRepository
	Likes      repositories.LikeRepository
	Gateway    payments.Gateway
	Authorizer Authorizer
	Currency   string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	products repositories.ProductRepository
	likes    repositories.LikeRepository
	gateway  payments.Gateway
	authz    Authorizer
	currency string
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewProductService constructs a ProductService.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Products == nil {
		return nil, errors.New("product service: product repository is required")
	}
	if deps.Likes == nil {
		return nil, errors.New("product service: like repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("product service: payment gateway is required")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("product service: authorizer is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultOrderCurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &productService{
		products: deps.Products,
		likes:    deps.Likes,
		gateway:  deps.Gateway,
		authz:    deps.Authorizer,
		currency: currency,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// CreateSellableProduct registers the product and its price with the processor and activates it.
func (s *productService) CreateSellableProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.find(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if product.ProcessorProductID != "" && product.ProcessorPriceID != "" {
		return Product{}, fmt.Errorf("%w: product %s is already sellable", ErrProductConflict, product.ID)
	}
	if !product.Price.IsPositive() {
		return Product{}, fmt.Errorf("%w: product %s needs a positive price", ErrProductInvalidInput, product.ID)
	}

	processorID := product.ProcessorProductID
	if processorID == "" {
		processorID, err = s.gateway.CreateProduct(ctx, productRequest(product))
		if err != nil {
			return Product{}, fmt.Errorf("%w: %v", ErrProductProcessor, err)
		}
	}
	priceID, err := s.gateway.CreatePrice(ctx, payments.PriceRequest{ProductID: processorID, UnitPrice: product.Price, Currency: s.currency})
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrProductProcessor, err)
	}

	if err := s.products.UpdateProcessorRefs(ctx, product.ID, processorID, priceID); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if err := s.products.UpdateStatus(ctx, product.ID, domain.ProductStatusActive); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "product.sellable.created", map[string]any{"productId": product.ID, "processorProductId": processorID})
	return s.find(ctx, product.ID)
}

// UpdateSellableProduct renames the product and moves it to a new processor price when the
// price changes. Processor prices are immutable, so the old one is archived.
func (s *productService) UpdateSellableProduct(ctx context.Context, cmd UpdateSellableProductCommand) (Product, error) {
	product, err := s.find(ctx, cmd.ProductID)
	if err != nil {
		return Product{}, err
	}

	name := product.Name
	if cmd.Name != nil {
		name = strings.TrimSpace(*cmd.Name)
		if name == "" {
			return Product{}, fmt.Errorf("%w: name cannot be empty", ErrProductInvalidInput)
		}
	}
	description := product.Description
	if cmd.Description != nil {
		description = strings.TrimSpace(*cmd.Description)
	}
	price := product.Price
	if cmd.Price != nil {
		if !cmd.Price.IsPositive() {
			return Product{}, fmt.Errorf("%w: price must be positive", ErrProductInvalidInput)
		}
		price = *cmd.Price
	}

	updated := product
	updated.Name = name
	updated.Description = description
	updated.Price = price

	processorID := product.ProcessorProductID
	if processorID == "" {
		processorID, err = s.gateway.CreateProduct(ctx, productRequest(updated))
		if err != nil {
			return Product{}, fmt.Errorf("%w: %v", ErrProductProcessor, err)
		}
	} else if name != product.Name || description != product.Description {
		if err := s.gateway.UpdateProduct(ctx, processorID, productRequest(updated)); err != nil {
			return Product{}, fmt.Errorf("%w: %v", ErrProductProcessor, err)
		}
	}

	priceID := product.ProcessorPriceID
	if priceID == "" || !price.Equal(product.Price) {
		newPriceID, err := s.gateway.CreatePrice(ctx, payments.PriceRequest{ProductID: processorID, UnitPrice: price, Currency: s.currency})
		if err != nil {
			return Product{}, fmt.Errorf("%w: %v", ErrProductProcessor, err)
		}
		if priceID != "" {
			if err := s.gateway.ArchivePrice(ctx, priceID); err != nil {
				s.logger(ctx, "product.price.archive_failed", map[string]any{"productId": product.ID, "priceId": priceID, "error": err.Error()})
			}
		}
		priceID = newPriceID
	}

	if err := s.products.UpdateDetails(ctx, product.ID, name, description, price); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if err := s.products.UpdateProcessorRefs(ctx, product.ID, processorID, priceID); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return s.find(ctx, product.ID)
}

// DisableSellableProduct archives the processor price and product and hides the product.
func (s *productService) DisableSellableProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.find(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if product.Status == domain.ProductStatusDisabled {
		return product, nil
	}
	if product.ProcessorPriceID != "" {
		if err := s.gateway.ArchivePrice(ctx, product.ProcessorPriceID); err != nil {
			return Product{}, fmt.Errorf("%w: %v", ErrProductProcessor, err)
		}
	}
	if product.ProcessorProductID != "" {
		if err := s.gateway.ArchiveProduct(ctx, product.ProcessorProductID); err != nil {
			return Product{}, fmt.Errorf("%w: %v", ErrProductProcessor, err)
		}
	}
	if err := s.products.UpdateStatus(ctx, product.ID, domain.ProductStatusDisabled); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "product.sellable.disabled", map[string]any{"productId": product.ID})
	return s.find(ctx, product.ID)
}

func (s *productService) LikeProduct(ctx context.Context, actor Actor, productID string) error {
	if err := s.authorizeLike(actor); err != nil {
		return err
	}
	product, err := s.find(ctx, productID)
	if err != nil {
		return err
	}
	like := domain.ProductLike{
		UserID:    actor.UserID,
		UserEmail: actor.Email,
		ProductID: product.ID,
		CreatedAt: s.clock(),
	}
	if err := s.likes.Like(ctx, like); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *productService) UnlikeProduct(ctx context.Context, actor Actor, productID string) error {
	if err := s.authorizeLike(actor); err != nil {
		return err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if err := s.likes.Unlike(ctx, actor.UserID, productID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *productService) authorizeLike(actor Actor) error {
	if actor.IsGuest() {
		return fmt.Errorf("%w: sign in to like products", policy.ErrForbidden)
	}
	return s.authz.Authorize(actor.Roles, policy.ActionCreate, policy.ResourceProductLike, policy.Attributes{
		policy.AttrSubjectID: actor.UserID,
		policy.AttrOwnerID:   actor.UserID,
	})
}

func (s *productService) find(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *productService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProductConflict, err)
		}
	}
	return err
}

func productRequest(product Product) payments.ProductRequest {
	return payments.ProductRequest{
		Name:        product.Name,
		Description: product.Description,
		Metadata:    map[string]string{payments.MetadataProductID: product.ID},
	}
}
