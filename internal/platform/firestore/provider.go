package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/storefront/api/internal/platform/config"
)

const (
	dialTimeout     = 10 * time.Second
	defaultDatabase = firestore.DefaultDatabaseID
	healthCheckPath = "_health"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

type dialFunc func(ctx context.Context, projectID, databaseID string, opts ...option.ClientOption) (*firestore.Client, error)

// Provider owns the single Firestore client behind the idempotency store and the
// dead-letter repository. The client is dialled on first use; a failed dial is retried
// by the next caller.
type Provider struct {
	target  target
	timeout time.Duration
	extra   []option.ClientOption
	dial    dialFunc

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// target is where the client connects, resolved from config and the environment.
type target struct {
	project  string
	database string
	emulator string
}

func resolveTarget(cfg config.FirestoreConfig) target {
	return target{
		project:  firstNonBlank(cfg.ProjectID, os.Getenv("GOOGLE_CLOUD_PROJECT")),
		database: firstNonBlank(cfg.DatabaseID, defaultDatabase),
		emulator: firstNonBlank(cfg.EmulatorHost, os.Getenv("FIRESTORE_EMULATOR_HOST")),
	}
}

func (t target) options() []option.ClientOption {
	if t.emulator == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(t.emulator),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

// ProviderOption adjusts NewProvider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithClientOptions adds options such as a credentials file.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.extra = append(p.extra, opts...) }
}

func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		target:  resolveTarget(cfg),
		timeout: dialTimeout,
		dial:    firestore.NewClientWithDatabase,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if p == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	case p.target.project == "":
		return nil, errors.New("firestore: project id is required")
	}

	opts := append(p.target.options(), p.extra...)
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	client, err := p.dial(dialCtx, p.target.project, p.target.database, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial %s/%s: %w", p.target.project, p.target.database, err)
	}
	p.client = client
	return client, nil
}

// Ping reads at most one document so readiness notices an unreachable backend.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	docs := client.Collection(healthCheckPath).Limit(1).Documents(ctx)
	defer docs.Stop()
	if _, err := docs.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return WrapError("ping", err)
	}
	return nil
}

// RunTransaction runs fn on the shared client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

// Close releases the client and refuses later calls. It gives up when ctx ends first.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}

	result := make(chan error, 1)
	go func() { result <- client.Close() }()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
