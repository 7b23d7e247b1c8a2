package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5/middleware"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/metrics"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/policy"
	"github.com/storefront/api/internal/platform/secrets"
	"github.com/storefront/api/internal/platform/sqldb"
	platformstorage "github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/repositories"
	firestoreRepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/repositories/sqlstore"
	"github.com/storefront/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)
	eventLogger := observability.NewEventLogger(logger.Named("events"))

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := secrets.NewFetcher(ctx, append(secrets.OptionsFromEnv(envValues),
		secrets.WithLogger(logger.Named("secrets")))...)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	registry := metrics.New()

	db, err := sqldb.Open(ctx, sqldb.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SlowThreshold:   cfg.Database.SlowThreshold,
	}, sqldb.WithLogger(logger.Named("sql")))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	store, err := sqlstore.New(db)
	if err != nil {
		logger.Fatal("failed to initialise sql store", zap.Error(err))
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	var firestoreOpts []pfirestore.ProviderOption
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(path)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	deadLetterRepo, err := firestoreRepo.NewDeadLetterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise dead letter repository", zap.Error(err))
	}

	var archive services.PayloadArchive
	if bucket := strings.TrimSpace(cfg.Storage.DeadLetterBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		deadLetterArchive, err := platformstorage.NewArchive(storageClient, bucket,
			platformstorage.WithArchivePrefix(cfg.Storage.DeadLetterPrefix),
		)
		if err != nil {
			logger.Fatal("failed to initialise dead letter archive", zap.Error(err))
		}
		archive = deadLetterArchive
	} else {
		logger.Warn("dead letter bucket not configured; payloads are kept inline")
	}

	var (
		retryQueue    services.WebhookRetryQueue
		retryBacklog  services.RetryBacklog
		memoryQueue   *jobs.MemoryQueue
		notifications services.NotificationPublisher
		orderEvents   services.OrderEventPublisher
	)
	if cfg.Webhooks.InlineRetries || strings.TrimSpace(cfg.PubSub.ProjectID) == "" {
		memoryQueue = jobs.NewMemoryQueue(eventLogger)
		defer memoryQueue.Close()
		retryQueue = memoryQueue
		retryBacklog = memoryQueue
		logger.Info("webhook retries run in-process")
	} else {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		retryTopic := pubsubClient.Topic(cfg.PubSub.WebhookRetryTopic)
		defer retryTopic.Stop()
		pubsubQueue, err := jobs.NewPubSubWebhookQueue(retryTopic)
		if err != nil {
			logger.Fatal("failed to initialise webhook retry queue", zap.Error(err))
		}
		retryQueue = pubsubQueue

		if name := strings.TrimSpace(cfg.PubSub.NotificationTopic); name != "" {
			topic := pubsubClient.Topic(name)
			defer topic.Stop()
			publisher, err := jobs.NewPubSubNotificationPublisher(topic)
			if err != nil {
				logger.Fatal("failed to initialise notification publisher", zap.Error(err))
			}
			notifications = publisher
		}
		if name := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); name != "" {
			topic := pubsubClient.Topic(name)
			defer topic.Stop()
			publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
			if err != nil {
				logger.Fatal("failed to initialise order event publisher", zap.Error(err))
			}
			orderEvents = publisher
		}
	}

	stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
		SessionTTL:    cfg.Stripe.SessionTTL,
		Logger:        payments.StripeLogger(eventLogger),
		Latency:       registry.ObserveGateway,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}
	gateway, err := payments.NewManager(map[string]payments.Gateway{
		payments.ProviderStripe: stripeGateway,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	authorizer, err := policy.Default()
	if err != nil {
		logger.Fatal("failed to load access policy", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(store, firestoreProvider, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, di.Infrastructure{
		Store:         store,
		DeadLetters:   deadLetterRepo,
		Health:        healthRepo,
		Gateway:       gateway,
		Authorizer:    authorizer,
		RetryQueue:    retryQueue,
		RetryBacklog:  retryBacklog,
		Notifications: notifications,
		OrderEvents:   orderEvents,
		Archive:       archive,
		Metrics:       registry,
		Build:         buildInfo,
		Clock:         time.Now,
		Logger:        eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("sql store close error", zap.Error(err))
		}
	}()
	svc := container.Services
	if memoryQueue != nil {
		memoryQueue.SetHandler(svc.RetryWorker.Process)
	}

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(eventLogger),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		sweeper := idempotency.NewSweeper(idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, eventLogger)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			sweeper.Run(backgroundCtx)
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	pushAuthenticator := buildPushAuthenticator(logger.Named("auth"), cfg)

	cartHandlers := handlers.NewCartHandlers(authenticator, authorizer, svc.Carts)
	orderHandlers := handlers.NewOrderHandlers(authenticator, authorizer, svc.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithOrderPayments(svc.Payments),
	)
	promoHandlers := handlers.NewPromoCodeHandlers(authenticator, authorizer, svc.Promotions)
	productHandlers := handlers.NewProductHandlers(authenticator, authorizer, svc.Products)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Ingress)
	internalHandlers := handlers.NewInternalHandlers(pushAuthenticator, authenticator, svc.RetryWorker, svc.DeadLetters)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		registry.Middleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(registry.Handler()),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPromoCodeRoutes(promoHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithAdminRoutes(productHandlers.AdminRoutes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(middleware.AllowContentType("application/json")),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(middleware.NoCache),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if err := serve(ctx, logger.Named("http"), server, buildInfo); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}
	backgroundCancel()
	backgroundWG.Wait()
}

// serve runs server until SIGINT or SIGTERM, then drains in-flight requests for up to ten
// seconds. A listener failure is returned without waiting for a signal.
func serve(ctx context.Context, logger *zap.Logger, server *http.Server, build services.BuildInfo) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := make(chan error, 1)
	go func() {
		logger.Info("storefront api listening",
			zap.String("addr", server.Addr),
			zap.String("version", build.Version),
			zap.String("environment", build.Environment),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}
	logger.Info("draining requests")
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return server.Shutdown(drainCtx)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	orDefault := func(value, fallback string) string {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     orDefault(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   orDefault(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: orDefault(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}

// newHealthRepository checks the relational store as the only critical dependency.
func newHealthRepository(store repositories.Store, provider *pfirestore.Provider, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:     "database",
			Critical: true,
			Timeout:  time.Second,
			Check:    store.Ping,
		},
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		},
	}
	if fetcher != nil {
		// A missing health secret still proves Secret Manager answered.
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				fetcher.Invalidate("secret://system/healthz")
				if _, err := fetcher.Resolve(ctx, "secret://system/healthz"); err != nil && !errors.Is(err, secrets.ErrNotFound) {
					return err
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildPushAuthenticator(logger *zap.Logger, cfg config.Config) *auth.PushAuthenticator {
	jwksURL := strings.TrimSpace(cfg.Security.OIDC.JWKSURL)
	if jwksURL == "" {
		logger.Warn("auth: OIDC JWKS url not configured; push endpoints are unauthenticated")
		return nil
	}
	audience := strings.TrimSpace(cfg.PubSub.WebhookRetryAudience)
	if audience == "" {
		logger.Warn("auth: push audience not configured; push endpoints will reject requests")
	}

	adapter := observability.NewPrintfAdapter(logger)
	keys := auth.NewJWKSCache(jwksURL, auth.WithJWKSLogger(adapter))
	return auth.NewPushAuthenticator(keys, auth.PushAuthConfig{
		Audience:        audience,
		Issuers:         cfg.Security.OIDC.Issuers,
		ServiceAccounts: cfg.Security.OIDC.ServiceAccounts,
	}, adapter)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func requiredSecretNames() []string {
	return []string{
		"Database.DSN",
		"Stripe.APIKey",
		"Stripe.WebhookSecret",
	}
}
