package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	apiKeyLatest = "projects/shop-dev/secrets/stripe_api_key/versions/latest"
	localSecrets = "STRIPE_API_KEY=sk_local\nDB_DSN=postgres://local\n"
)

func TestFetcherResolveSources(t *testing.T) {
	tests := []struct {
		name      string
		ref       string
		opts      []Option
		values    map[string]string
		failures  map[string]error
		want      string
		wantErr   error
		wantCalls map[string]int
	}{
		{
			name:      "remote value",
			ref:       "secret://stripe/api-key",
			values:    map[string]string{"projects/shop-dev/secrets/stripe_api-key/versions/latest": "sk_remote"},
			want:      "sk_remote",
			wantCalls: map[string]int{"projects/shop-dev/secrets/stripe_api-key/versions/latest": 1},
		},
		{
			name:     "permission denied falls back to file",
			ref:      "secret://stripe_api_key",
			failures: map[string]error{apiKeyLatest: status.Error(codes.PermissionDenied, "denied")},
			want:     "sk_local",
		},
		{
			name:     "unavailable falls back to file",
			ref:      "sm://stripe_api_key",
			failures: map[string]error{apiKeyLatest: status.Error(codes.Unavailable, "down")},
			want:     "sk_local",
		},
		{
			name:     "not found is final",
			ref:      "secret://stripe_api_key",
			failures: map[string]error{apiKeyLatest: status.Error(codes.NotFound, "missing")},
			wantErr:  ErrNotFound,
		},
		{
			name:      "version pin",
			ref:       "secret://stripe_api_key",
			opts:      []Option{WithVersionPins(map[string]string{"secret://stripe_api_key": "5"})},
			values:    map[string]string{"projects/shop-dev/secrets/stripe_api_key/versions/5": "sk_v5"},
			want:      "sk_v5",
			wantCalls: map[string]int{"projects/shop-dev/secrets/stripe_api_key/versions/5": 1},
		},
		{
			name: "environment pin wins",
			ref:  "secret://stripe_api_key",
			opts: []Option{WithVersionPins(map[string]string{
				"secret://stripe_api_key":      "5",
				"test:secret://stripe_api_key": "7",
			})},
			values: map[string]string{"projects/shop-dev/secrets/stripe_api_key/versions/7": "sk_v7"},
			want:   "sk_v7",
		},
		{
			name:   "reference project and version",
			ref:    "secret://stripe_api_key?version=2&project=shop-prod",
			values: map[string]string{"projects/shop-prod/secrets/stripe_api_key/versions/2": "sk_prod"},
			want:   "sk_prod",
		},
		{
			name:   "environment project map",
			ref:    "secret://stripe_api_key",
			opts:   []Option{WithProjectMap(map[string]string{"test": "shop-test"})},
			values: map[string]string{"projects/shop-test/secrets/stripe_api_key/versions/latest": "sk_mapped"},
			want:   "sk_mapped",
		},
		{
			name:    "bad scheme",
			ref:     "vault://stripe_api_key",
			wantErr: errAny,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeSecretClient()
			for k, v := range tc.values {
				client.values[k] = v
			}
			for k, err := range tc.failures {
				client.failures[k] = err
			}
			fetcher := newTestFetcher(t, client, tc.opts...)

			got, err := fetcher.Resolve(context.Background(), tc.ref)
			switch {
			case tc.wantErr == errAny:
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			case err != nil:
				t.Fatalf("Resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			for name, want := range tc.wantCalls {
				if calls := client.calls(name); calls != want {
					t.Fatalf("expected %d calls to %s, got %d", want, name, calls)
				}
			}
		})
	}
}

func TestFetcherCacheLifetime(t *testing.T) {
	client := newFakeSecretClient()
	resource := "projects/shop-dev/secrets/stripe_webhook/versions/latest"
	client.values[resource] = "whsec_1"

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := newTestFetcher(t, client,
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	steps := []struct {
		advance    time.Duration
		invalidate bool
		update     string
		want       string
		calls      int
	}{
		{want: "whsec_1", calls: 1},
		{advance: 30 * time.Second, update: "whsec_2", want: "whsec_1", calls: 1},
		{advance: time.Minute, want: "whsec_2", calls: 2},
		{update: "whsec_3", invalidate: true, want: "whsec_3", calls: 3},
	}
	for i, step := range steps {
		now = now.Add(step.advance)
		if step.update != "" {
			client.set(resource, step.update)
		}
		if step.invalidate {
			fetcher.Invalidate("sm://stripe/webhook")
		}
		got, err := fetcher.ResolveSecret(ctx, "secret://stripe/webhook")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != step.want {
			t.Fatalf("step %d: expected %q, got %q", i, step.want, got)
		}
		if calls := client.calls(resource); calls != step.calls {
			t.Fatalf("step %d: expected %d remote calls, got %d", i, step.calls, calls)
		}
	}
}

func TestFetcherWithoutClientUsesFile(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher, err := NewFetcher(context.Background(),
		WithDefaultProject("shop-dev"),
		WithFallbackFile(writeLocalSecrets(t)),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = fetcher.Close() })

	got, err := fetcher.Resolve(context.Background(), "secret://db/dsn")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "postgres://local" {
		t.Fatalf("unexpected value %q", got)
	}
	if _, err := fetcher.Resolve(context.Background(), "secret://unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown key, got %v", err)
	}
}

var errAny = errors.New("any error")

func newTestFetcher(t *testing.T, client *fakeSecretClient, opts ...Option) *Fetcher {
	t.Helper()
	base := []Option{
		WithSecretManagerClient(client),
		WithEnvironment("test"),
		WithDefaultProject("shop-dev"),
		WithFallbackFile(writeLocalSecrets(t)),
	}
	fetcher, err := NewFetcher(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

func writeLocalSecrets(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(localSecrets), 0o600); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu       sync.Mutex
	values   map[string]string
	failures map[string]error
	hits     map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:   map[string]string{},
		failures: map[string]error{},
		hits:     map[string]int{},
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[req.GetName()]++
	if err := f.failures[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) set(name, value string) {
	f.mu.Lock()
	f.values[name] = value
	f.mu.Unlock()
}

func (f *fakeSecretClient) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[name]
}
