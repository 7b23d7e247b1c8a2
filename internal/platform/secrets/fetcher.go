package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 15 * time.Minute
	meterName           = "github.com/storefront/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the reference.
var ErrNotFound = errors.New("secrets: secret not found")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references for config.Load: Stripe keys, the webhook signing
// secret and the database DSN. Lookups go cache, Secret Manager, then the local file.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	retry      []gax.CallOption

	environment string
	project     string
	projects    map[string]string
	pins        map[string]string

	cache  *valueCache
	local  *localFile
	logger *zap.Logger

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type settings struct {
	logger      *zap.Logger
	environment string
	project     string
	projects    map[string]string
	pins        map[string]string
	localPath   string
	ttl         time.Duration
	meter       metric.Meter
	client      secretManagerClient
	clientOpts  []option.ClientOption
	now         func() time.Time
}

// Option customises Fetcher construction.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects the key used against WithProjectMap and env-scoped pins.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.environment = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject is used when the environment has no project mapping.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environments to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) { s.projects = cloneMap(m) }
}

// WithVersionPins pins references to versions. Keys are reference names, optionally
// prefixed with "env:" to apply to one environment only.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.pins = cloneMap(pins) }
}

// WithFallbackFile overrides the local fallback file path. Empty disables it.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.localPath = strings.TrimSpace(path) }
}

// WithCacheTTL bounds how long a value is served from memory. Zero caches forever.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) { s.ttl = ttl }
}

// WithMeter replaces the global OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient injects a client instead of dialling one.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions is forwarded when the fetcher dials Secret Manager itself.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// NewFetcher builds a Fetcher. Failing to dial Secret Manager is logged, not returned, and
// leaves the fetcher serving the local file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		environment: strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		localPath:   defaultFallbackPath,
		ttl:         defaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.environment == "" {
		s.environment = defaultEnvironment
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		environment: s.environment,
		project:     s.project,
		projects:    cloneMap(s.projects),
		pins:        cloneMap(s.pins),
		cache:       newValueCache(s.ttl, s.now),
		local:       &localFile{path: s.localPath},
		logger:      s.logger,
		retry: []gax.CallOption{gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
				Initial:    100 * time.Millisecond,
				Max:        2 * time.Second,
				Multiplier: 2,
			})
		})},
	}
	f.instrument(s.meter)

	switch {
	case s.client != nil:
		f.client = s.client
	default:
		client, err := secretManagerClientFactory(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
			break
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

func (f *Fetcher) instrument(meter metric.Meter) {
	var err error
	if f.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		f.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
		f.latency = nil
	}
	if f.cacheHits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from memory"),
	); err != nil {
		f.logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
		f.cacheHits = nil
	}
}

// Close releases the Secret Manager client when the fetcher dialled it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref. NotFound from Secret Manager is final; only
// reachability and permission failures fall through to the local file.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	started := time.Now()
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)

	if value, ok := f.cache.get(ref.Name, version); ok {
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", mask(ref.Name))))
		}
		f.observe(ctx, started, "cache", false)
		return value, nil
	}

	if project := f.projectFor(ref); project != "" && f.client != nil {
		value, err := f.access(ctx, project, ref.Secret, version)
		switch {
		case err == nil:
			f.cache.put(ref.Name, version, value)
			f.observe(ctx, started, "remote", false)
			return value, nil
		case status.Code(err) == codes.NotFound:
			f.observe(ctx, started, "remote", true)
			return "", fmt.Errorf("%w: %s", ErrNotFound, ref.Name)
		case !unreachable(err):
			f.observe(ctx, started, "remote", true)
			return "", fmt.Errorf("secrets: fetch %s: %w", ref.Name, err)
		}
		f.logger.Debug("secrets: secret manager unreachable, trying fallback file",
			zap.String("ref", mask(ref.Name)),
			zap.Error(err),
		)
	}

	value, ok, err := f.local.lookup(ref.Secret)
	if err != nil {
		f.logger.Warn("secrets: fallback file unreadable", zap.Error(err))
	}
	if !ok {
		f.observe(ctx, started, "fallback", true)
		return "", fmt.Errorf("%w: no fallback value for %s", ErrNotFound, ref.Name)
	}
	f.cache.put(ref.Name, version, value)
	f.observe(ctx, started, "fallback", false)
	return value, nil
}

// Invalidate forgets cached values for ref, e.g. after a key rotation.
func (f *Fetcher) Invalidate(raw string) {
	if ref, err := ParseReference(raw); err == nil {
		f.cache.drop(ref.Name)
	}
}

func (f *Fetcher) access(ctx context.Context, project, secret, version string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, secret, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, f.retry...)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if project := strings.TrimSpace(f.projects[f.environment]); project != "" {
		return project
	}
	return f.project
}

func (f *Fetcher) version(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	for _, key := range []string{f.environment + ":" + ref.Name, ref.Name} {
		if pin := strings.TrimSpace(f.pins[key]); pin != "" {
			return pin
		}
	}
	return "latest"
}

func (f *Fetcher) observe(ctx context.Context, started time.Time, source string, failed bool) {
	if f.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if failed {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	f.latency.Record(ctx, float64(time.Since(started))/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

// unreachable reports failures where the local file may stand in for Secret Manager.
func unreachable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func mask(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
