package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDBMaxOpenConns       = 20
	defaultDBMaxIdleConns       = 5
	defaultDBConnMaxLifetime    = 30 * time.Minute
	defaultDBSlowThreshold      = 200 * time.Millisecond
	defaultDeadLetterPrefix     = "webhooks/dead-letters"
	defaultWebhookRetryTopic    = "webhook-retries"
	defaultNotificationTopic    = "stock-notifications"
	defaultOrderEventsTopic     = "order-events"
	defaultStripeCurrency       = "usd"
	defaultStripeSessionTTL     = 30 * time.Minute
	defaultWebhookMaxAttempts   = 5
	defaultWebhookBaseBackoff   = 30 * time.Second
	defaultWebhookMaxBackoff    = 30 * time.Minute
	defaultLowStockThreshold    = 3
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityBareIssuer   = "accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config is the runtime configuration of the storefront binaries, read from API_* variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Stripe      StripeConfig
	Webhooks    WebhookConfig
	Inventory   InventoryConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowThreshold   time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked asks Firebase whether a session was revoked on every request.
	CheckRevoked bool
}

// FirestoreConfig stores document database parameters.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// StorageConfig names the bucket that archives dead-lettered webhook payloads.
type StorageConfig struct {
	DeadLetterBucket string
	DeadLetterPrefix string
}

// PubSubConfig lists topics used for background delivery.
type PubSubConfig struct {
	ProjectID            string
	WebhookRetryTopic    string
	WebhookRetryAudience string
	NotificationTopic    string
	OrderEventsTopic     string
}

// StripeConfig carries processor credentials and checkout defaults.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
	SessionTTL    time.Duration
}

// WebhookConfig controls retry of failed webhook reconciliation.
type WebhookConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// InlineRetries processes retries in-process instead of through Pub/Sub.
	InlineRetries bool
}

// InventoryConfig holds stock alert settings.
type InventoryConfig struct {
	LowStockThreshold int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls verification of Google-signed tokens on Pub/Sub push requests.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
	// ServiceAccounts restricts push callers to these emails when set.
	ServiceAccounts []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists fields that are missing, out of range or could not be parsed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field paths and variable names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Load reads the environment, resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := collect(options)
	if err != nil {
		return Config{}, err
	}

	env := &reader{values: values}
	cfg := read(env)
	applyDerivedDefaults(&cfg)

	err = resolveSecrets(ctx, []secretField{
		{name: "Database.DSN", value: &cfg.Database.DSN},
		{name: "Stripe.APIKey", value: &cfg.Stripe.APIKey},
		{name: "Stripe.WebhookSecret", value: &cfg.Stripe.WebhookSecret},
	}, options.resolver, options.requiredSecrets)
	if err != nil {
		return Config{}, err
	}

	if problems := append(env.malformed, cfg.problems()...); len(problems) > 0 {
		return Config{}, &ValidationError{fields: problems}
	}
	return cfg, nil
}

func read(env *reader) Config {
	return Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			DSN:             env.str("API_DATABASE_DSN", ""),
			MaxOpenConns:    env.integer("API_DATABASE_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
			MaxIdleConns:    env.integer("API_DATABASE_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
			ConnMaxLifetime: env.duration("API_DATABASE_CONN_MAX_LIFETIME", defaultDBConnMaxLifetime),
			SlowThreshold:   env.duration("API_DATABASE_SLOW_THRESHOLD", defaultDBSlowThreshold),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    env.flag("API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			DatabaseID:   env.str("API_FIRESTORE_DATABASE_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			DeadLetterBucket: env.str("API_STORAGE_DEAD_LETTER_BUCKET", ""),
			DeadLetterPrefix: env.str("API_STORAGE_DEAD_LETTER_PREFIX", defaultDeadLetterPrefix),
		},
		PubSub: PubSubConfig{
			ProjectID:            env.str("API_PUBSUB_PROJECT_ID", ""),
			WebhookRetryTopic:    env.str("API_PUBSUB_WEBHOOK_RETRY_TOPIC", defaultWebhookRetryTopic),
			WebhookRetryAudience: env.str("API_PUBSUB_WEBHOOK_RETRY_AUDIENCE", ""),
			NotificationTopic:    env.str("API_PUBSUB_NOTIFICATION_TOPIC", defaultNotificationTopic),
			OrderEventsTopic:     env.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Stripe: StripeConfig{
			APIKey:        env.str("API_STRIPE_API_KEY", ""),
			WebhookSecret: env.str("API_STRIPE_WEBHOOK_SECRET", ""),
			Currency:      env.lower("API_STRIPE_CURRENCY", defaultStripeCurrency),
			SuccessURL:    env.str("API_STRIPE_SUCCESS_URL", ""),
			CancelURL:     env.str("API_STRIPE_CANCEL_URL", ""),
			SessionTTL:    env.duration("API_STRIPE_SESSION_TTL", defaultStripeSessionTTL),
		},
		Webhooks: WebhookConfig{
			MaxAttempts:   env.integer("API_WEBHOOK_MAX_ATTEMPTS", defaultWebhookMaxAttempts),
			BaseBackoff:   env.duration("API_WEBHOOK_BASE_BACKOFF", defaultWebhookBaseBackoff),
			MaxBackoff:    env.duration("API_WEBHOOK_MAX_BACKOFF", defaultWebhookMaxBackoff),
			InlineRetries: env.flag("API_WEBHOOK_INLINE_RETRIES", false),
		},
		Inventory: InventoryConfig{
			LowStockThreshold: env.integer("API_INVENTORY_LOW_STOCK_THRESHOLD", defaultLowStockThreshold),
		},
		Security: SecurityConfig{
			Environment: env.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			OIDC: OIDCConfig{
				JWKSURL:         env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:        env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:       env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:         env.list("API_SECURITY_OIDC_ISSUERS"),
				ServiceAccounts: env.list("API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
}

// applyDerivedDefaults fills values that default to other settings.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{defaultSecurityIssuer, defaultSecurityBareIssuer}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[cfg.Security.Environment]
	}
	if cfg.PubSub.WebhookRetryAudience == "" {
		cfg.PubSub.WebhookRetryAudience = oidc.Audience
	}
}

func (c Config) problems() []string {
	checks := []struct {
		field string
		ok    bool
	}{
		{"Server.Port", c.Server.Port != ""},
		{"Firebase.ProjectID", c.Firebase.ProjectID != ""},
		{"Firestore.ProjectID", c.Firestore.ProjectID != ""},
		{"Database.DSN", strings.TrimSpace(c.Database.DSN) != ""},
		{"Database.MaxOpenConns", c.Database.MaxOpenConns > 0},
		{"Stripe.Currency", len(c.Stripe.Currency) == 3},
		{"Webhooks.MaxAttempts", c.Webhooks.MaxAttempts > 0},
		{"Webhooks.Backoff", c.Webhooks.BaseBackoff > 0 && c.Webhooks.MaxBackoff >= c.Webhooks.BaseBackoff},
		{"Inventory.LowStockThreshold", c.Inventory.LowStockThreshold >= 0},
		{"Idempotency.Header", strings.TrimSpace(c.Idempotency.Header) != ""},
		{"Idempotency.TTL", c.Idempotency.TTL > 0},
		{"Idempotency.CleanupInterval", c.Idempotency.CleanupInterval > 0},
		{"Idempotency.CleanupBatchSize", c.Idempotency.CleanupBatchSize > 0},
	}
	var out []string
	for _, check := range checks {
		if !check.ok {
			out = append(out, check.field)
		}
	}
	return out
}
