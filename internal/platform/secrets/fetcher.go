// Package secrets resolves secret:// configuration references (database password, JWT signing
// key, Redis password) against Google Secret Manager with a local file fallback.
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
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

const defaultFallbackPath = ".secrets.local"

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher caches resolved values for the life of the process.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	callOpts   []gax.CallOption
	project    string
	logger     *zap.Logger
	fallback   map[string]string

	mu    sync.RWMutex
	cache map[string]string

	resolves      metric.Int64Counter
	remoteLatency metric.Float64Histogram
}

type settings struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
	retry        *gax.Backoff
}

type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithDefaultProject is used for references without ?project=.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile sets the local secrets file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithSecretManagerClient injects a client; the fetcher will not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions is passed to secretmanager.NewClient.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithRetry retries Unavailable and DeadlineExceeded with the given backoff.
func WithRetry(backoff gax.Backoff) Option {
	return func(s *settings) { s.retry = &backoff }
}

// NewFetcher loads the fallback file and connects to Secret Manager. When no client can be
// created the fetcher keeps working from the fallback file alone.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	fallback, err := readFallbackFile(s.fallbackPath)
	if err != nil {
		return nil, err
	}
	f := &Fetcher{
		project:  s.project,
		logger:   s.logger,
		fallback: fallback,
		cache:    make(map[string]string),
	}
	meter := otel.Meter("github.com/oceanbutterfly/shop-api/secrets")
	if f.resolves, err = meter.Int64Counter("secrets.resolve", metric.WithDescription("Secret resolutions by source")); err != nil {
		s.logger.Warn("secrets: resolve counter unavailable", zap.Error(err))
	}
	if f.remoteLatency, err = meter.Float64Histogram("secrets.remote.latency", metric.WithUnit("ms")); err != nil {
		s.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}
	if s.retry != nil {
		backoff := *s.retry
		f.callOpts = append(f.callOpts, gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, backoff)
		}))
	}

	if s.client != nil {
		f.client = s.client
		return f, nil
	}
	client, err := secretManagerClientFactory(ctx, s.clientOpts...)
	if err != nil {
		s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		return f, nil
	}
	f.client, f.ownsClient = client, true
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient {
		return f.client.Close()
	}
	return nil
}

// Resolve has the shape of config.SecretResolverFunc. Remote permission, auth and
// availability failures fall back to the local file; NotFound and other errors do not.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := ParseRef(raw)
	if err != nil {
		return "", err
	}
	key := ref.cacheKey()

	f.mu.RLock()
	value, cached := f.cache[key]
	f.mu.RUnlock()
	if cached {
		f.count(ctx, "cache")
		return value, nil
	}

	if resource := ref.resource(f.project); resource != "" && f.client != nil {
		value, err := f.access(ctx, resource)
		switch {
		case err == nil:
			f.remember(key, value)
			f.count(ctx, "remote")
			return value, nil
		case !fallbackAllowed(err):
			f.count(ctx, "error")
			return "", fmt.Errorf("secrets: access %s: %w", ref.Name, err)
		}
		f.logger.Debug("secrets: remote unavailable, trying fallback", zap.String("secret", ref.Name), zap.Error(err))
	}

	value, ok := f.fallback[ref.Name]
	if !ok {
		f.count(ctx, "error")
		return "", fmt.Errorf("secrets: no value for %s", ref.Name)
	}
	f.remember(key, value)
	f.count(ctx, "fallback")
	return value, nil
}

// Invalidate drops cached values of every version of ref's secret.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseRef(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if _, name, _ := strings.Cut(key, "|secret://"); name == ref.Name || strings.HasPrefix(name, ref.Name+"?") {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	start := time.Now()
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource}, f.callOpts...)
	if f.remoteLatency != nil {
		f.remoteLatency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond))
	}
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) remember(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) count(ctx context.Context, source string) {
	if f.resolves != nil {
		f.resolves.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
