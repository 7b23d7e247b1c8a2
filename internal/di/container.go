package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing       *services.PricingEngine
	Promotions    services.PromotionService
	Inventory     services.InventoryService
	Carts         services.CartService
	StatusMachine services.OrderStatusMachine
	Orders        services.OrderService
	Payments      services.PaymentService
	Products      services.ProductService
	Notifications services.NotificationService
	Alerter       services.StockAlerter
	Reconciler    services.WebhookReconciler
	Ingress       services.WebhookIngress
	RetryWorker   services.WebhookRetryWorker
	DeadLetters   services.DeadLetterService
	System        services.SystemService
}

// Infrastructure carries the adapters built by the binary: persistence, the processor gateway,
// messaging and telemetry. Optional members may be nil.
type Infrastructure struct {
	Store         repositories.Store
	DeadLetters   repositories.DeadLetterRepository
	Health        repositories.HealthRepository
	Gateway       payments.Gateway
	Authorizer    services.Authorizer
	RetryQueue    services.WebhookRetryQueue
	RetryBacklog  services.RetryBacklog
	Notifications services.NotificationPublisher
	OrderEvents   services.OrderEventPublisher
	Archive       services.PayloadArchive
	Metrics       services.Metrics
	Build         services.BuildInfo
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Infra    Infrastructure
	Services Services
}

// NewContainer constructs the runtime dependencies.
func NewContainer(cfg config.Config, infra Infrastructure) (*Container, error) {
	if infra.Store == nil {
		return nil, errors.New("di: relational store is required")
	}
	if infra.Gateway == nil {
		return nil, errors.New("di: payment gateway is required")
	}
	if infra.Authorizer == nil {
		return nil, errors.New("di: authorizer is required")
	}
	if infra.RetryQueue == nil {
		return nil, errors.New("di: webhook retry queue is required")
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}
	if infra.Logger == nil {
		infra.Logger = func(context.Context, string, map[string]any) {}
	}

	svc, err := buildServices(cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:   cfg,
		Infra:    infra,
		Services: svc,
	}, nil
}

// Close releases the relational store.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Infra.Store == nil {
		return nil
	}
	return c.Infra.Store.Close(ctx)
}

func buildServices(cfg config.Config, infra Infrastructure) (Services, error) {
	var (
		svc    Services
		err    error
		store  = infra.Store
		logger = infra.Logger
		clock  = infra.Clock
	)
	retry := services.WebhookRetryPolicy{
		MaxAttempts: cfg.Webhooks.MaxAttempts,
		BaseBackoff: cfg.Webhooks.BaseBackoff,
		MaxBackoff:  cfg.Webhooks.MaxBackoff,
	}

	svc.Pricing = services.NewPricingEngine(services.PricingEngineDeps{})

	if svc.Promotions, err = services.NewPromotionService(services.PromotionServiceDeps{
		PromoCodes: store.PromoCodes(),
		Clock:      clock,
		Logger:     logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}

	if svc.Inventory, err = services.NewInventoryService(services.InventoryServiceDeps{
		Metrics: infra.Metrics,
		Logger:  logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}

	if svc.Carts, err = services.NewCartService(services.CartServiceDeps{
		Carts:      store.Carts(),
		Products:   store.Products(),
		Promotions: svc.Promotions,
		Pricing:    svc.Pricing,
		Clock:      clock,
		Logger:     logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	if svc.StatusMachine, err = services.NewOrderStatusMachine(services.OrderStatusMachineDeps{
		Inventory:  svc.Inventory,
		Promotions: svc.Promotions,
		Clock:      clock,
		Logger:     logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build order status machine: %w", err)
	}

	if svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Store:         store,
		Carts:         svc.Carts,
		Inventory:     svc.Inventory,
		Promotions:    svc.Promotions,
		Pricing:       svc.Pricing,
		StatusMachine: svc.StatusMachine,
		Gateway:       infra.Gateway,
		Authorizer:    infra.Authorizer,
		Events:        infra.OrderEvents,
		Metrics:       infra.Metrics,
		Provider:      payments.ProviderStripe,
		Currency:      cfg.Stripe.Currency,
		Clock:         clock,
		Logger:        logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	if svc.Payments, err = services.NewPaymentService(services.PaymentServiceDeps{
		Orders:  store.Orders(),
		Gateway: infra.Gateway,
		Logger:  logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	if svc.Products, err = services.NewProductService(services.ProductServiceDeps{
		Products:   store.Products(),
		Likes:      store.Likes(),
		Gateway:    infra.Gateway,
		Authorizer: infra.Authorizer,
		Currency:   cfg.Stripe.Currency,
		Clock:      clock,
		Logger:     logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build product service: %w", err)
	}

	if infra.Notifications != nil {
		if svc.Notifications, err = services.NewNotificationService(services.NotificationServiceDeps{
			Publisher: infra.Notifications,
			Clock:     clock,
			Logger:    logger,
		}); err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		if svc.Alerter, err = services.NewStockAlerter(services.StockAlerterDeps{
			Products:      store.Products(),
			Likes:         store.Likes(),
			Orders:        store.Orders(),
			Notifications: svc.Notifications,
			Threshold:     cfg.Inventory.LowStockThreshold,
			Logger:        logger,
		}); err != nil {
			return Services{}, fmt.Errorf("build stock alerter: %w", err)
		}
	}

	if svc.Reconciler, err = services.NewWebhookReconciler(services.WebhookReconcilerDeps{
		Store:         store,
		StatusMachine: svc.StatusMachine,
		Carts:         svc.Carts,
		Alerter:       svc.Alerter,
		Metrics:       infra.Metrics,
		Clock:         clock,
		Logger:        logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build webhook reconciler: %w", err)
	}

	if svc.Ingress, err = services.NewWebhookIngress(services.WebhookIngressDeps{
		Gateway:    infra.Gateway,
		Reconciler: svc.Reconciler,
		Queue:      infra.RetryQueue,
		Retry:      retry,
		Clock:      clock,
		Logger:     logger,
	}); err != nil {
		return Services{}, fmt.Errorf("build webhook ingress: %w", err)
	}

	if infra.DeadLetters != nil {
		if svc.RetryWorker, err = services.NewWebhookRetryWorker(services.WebhookRetryWorkerDeps{
			Reconciler:  svc.Reconciler,
			Queue:       infra.RetryQueue,
			DeadLetters: infra.DeadLetters,
			Archive:     infra.Archive,
			Retry:       retry,
			Metrics:     infra.Metrics,
			Clock:       clock,
			Logger:      logger,
		}); err != nil {
			return Services{}, fmt.Errorf("build webhook retry worker: %w", err)
		}
		if svc.DeadLetters, err = services.NewDeadLetterService(services.DeadLetterServiceDeps{
			DeadLetters: infra.DeadLetters,
			Queue:       infra.RetryQueue,
			Archive:     infra.Archive,
			Clock:       clock,
			Logger:      logger,
		}); err != nil {
			return Services{}, fmt.Errorf("build dead letter service: %w", err)
		}
	}

	if infra.Health != nil {
		if svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: infra.Health,
			Backlog:          infra.RetryBacklog,
			Clock:            clock,
			Build:            infra.Build,
		}); err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
