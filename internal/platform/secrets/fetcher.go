package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references through Google Secret Manager with an
// in-process cache. References are either full resource paths
// (projects/<p>/secrets/<name>[/versions/<v>]) or bare secret names resolved
// against the default project.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string
	cacheTTL   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithCacheTTL overrides how long resolved secrets are cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.cacheTTL = ttl
		}
	}
}

// WithClient injects a pre-built Secret Manager client, mainly for tests.
func WithClient(client secretManagerClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher constructs a Fetcher bound to the given default project.
func NewFetcher(ctx context.Context, projectID string, opts ...Option) (*Fetcher, error) {
	fetcher := &Fetcher{
		logger:    zap.NewNop(),
		projectID: strings.TrimSpace(projectID),
		cacheTTL:  5 * time.Minute,
		cache:     make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(fetcher)
		}
	}

	if fetcher.client == nil {
		client, err := secretManagerClientFactory(ctx)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		fetcher.client = client
		fetcher.ownsClient = true
	}
	return fetcher, nil
}

// ResolveSecret fetches the secret payload for the given reference.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if f == nil || f.client == nil {
		return "", errors.New("secrets: fetcher is not initialised")
	}
	name, err := f.canonicalName(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	entry, ok := f.cache[name]
	f.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < f.cacheTTL {
		return entry.value, nil
	}

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	value := string(resp.GetPayload().GetData())

	f.mu.Lock()
	f.cache[name] = cacheEntry{value: value, fetchedAt: time.Now()}
	f.mu.Unlock()

	f.logger.Debug("secret resolved", zap.String("name", name))
	return value, nil
}

// Close releases the underlying client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

func (f *Fetcher) canonicalName(ref string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(ref), "/")
	if trimmed == "" {
		return "", errors.New("secrets: empty secret reference")
	}
	if strings.HasPrefix(trimmed, "projects/") {
		if strings.Contains(trimmed, "/versions/") {
			return trimmed, nil
		}
		return trimmed + "/versions/latest", nil
	}
	if f.projectID == "" {
		return "", fmt.Errorf("secrets: reference %q needs a default project", ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", f.projectID, trimmed), nil
}
