package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultEnvironment         = "local"
	defaultLogLevel            = "info"
	defaultDBMaxOpenConns      = 20
	defaultDBMaxIdleConns      = 5
	defaultDBConnMaxLifetime   = 30 * time.Minute
	defaultDBSlowQuery         = 200 * time.Millisecond
	defaultDBTxAttempts        = 3
	defaultDBTxTimeout         = 10 * time.Second
	defaultDBConnectTimeout    = 5 * time.Second
	defaultJWTIssuer           = "shop-api"
	defaultEventsDriver        = EventsDriverNone
	defaultEventsTopic         = "order-events"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyStore    = "memory"
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultPageSize            = 10
	defaultMaxPageSize         = 100
)

// Event sink drivers accepted by API_EVENTS_DRIVER.
const (
	EventsDriverNone   = "none"
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Redis         RedisConfig
	Events        EventsConfig
	Idempotency   IdempotencyConfig
	Orders        OrdersConfig
	Observability ObservabilityConfig
	GCP           GCPConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig stores relational store parameters.
type DatabaseConfig struct {
	DSN                string
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	SlowQueryThreshold time.Duration
	TxAttempts         int
	TxTimeout          time.Duration
	ConnectTimeout     time.Duration
	RunMigrations      bool
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// RedisConfig points at the shared Redis used for idempotency records.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects where order lifecycle events are published.
type EventsConfig struct {
	Driver       string
	Topic        string
	KafkaBrokers []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	Store            string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// OrdersConfig tunes order listing defaults.
type OrdersConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// ObservabilityConfig controls logging.
type ObservabilityConfig struct {
	LogLevel string
}

// GCPConfig is used by Secret Manager and Pub/Sub clients.
type GCPConfig struct {
	ProjectID string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed secret identifiers, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map). main uses it to build the
// secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	src, err := newEnvSource(options)
	if err != nil {
		return nil, err
	}
	return src.values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names, e.g. "Auth.JWTSecret" or "Database.Password".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	src, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: src.lower("API_ENVIRONMENT", defaultEnvironment),
		Server: ServerConfig{
			Port:            src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: src.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			DSN:                src.str("API_DATABASE_DSN", ""),
			Password:           src.str("API_DATABASE_PASSWORD", ""),
			MaxOpenConns:       src.integer("API_DATABASE_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
			MaxIdleConns:       src.integer("API_DATABASE_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
			ConnMaxLifetime:    src.duration("API_DATABASE_CONN_MAX_LIFETIME", defaultDBConnMaxLifetime),
			SlowQueryThreshold: src.duration("API_DATABASE_SLOW_QUERY", defaultDBSlowQuery),
			TxAttempts:         src.integer("API_DATABASE_TX_ATTEMPTS", defaultDBTxAttempts),
			TxTimeout:          src.duration("API_DATABASE_TX_TIMEOUT", defaultDBTxTimeout),
			ConnectTimeout:     src.duration("API_DATABASE_CONNECT_TIMEOUT", defaultDBConnectTimeout),
			RunMigrations:      src.flag("API_DATABASE_MIGRATIONS", false),
		},
		Auth: AuthConfig{
			JWTSecret: src.str("API_AUTH_JWT_SECRET", ""),
			Issuer:    src.str("API_AUTH_JWT_ISSUER", defaultJWTIssuer),
			Audience:  src.str("API_AUTH_JWT_AUDIENCE", ""),
		},
		Redis: RedisConfig{
			Addr:     src.str("API_REDIS_ADDR", ""),
			Password: src.str("API_REDIS_PASSWORD", ""),
			DB:       src.integer("API_REDIS_DB", 0),
		},
		Events: EventsConfig{
			Driver:       src.lower("API_EVENTS_DRIVER", defaultEventsDriver),
			Topic:        src.str("API_EVENTS_TOPIC", defaultEventsTopic),
			KafkaBrokers: src.list("API_EVENTS_KAFKA_BROKERS"),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			Store:            src.lower("API_IDEMPOTENCY_STORE", defaultIdempotencyStore),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Orders: OrdersConfig{
			DefaultPageSize: src.integer("API_ORDERS_DEFAULT_PAGE_SIZE", defaultPageSize),
			MaxPageSize:     src.integer("API_ORDERS_MAX_PAGE_SIZE", defaultMaxPageSize),
		},
		Observability: ObservabilityConfig{
			LogLevel: src.str("LOG_LEVEL", defaultLogLevel),
		},
		GCP: GCPConfig{
			ProjectID: src.str("API_GCP_PROJECT_ID", ""),
		},
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.Password", &cfg.Database.Password},
		{"Auth.JWTSecret", &cfg.Auth.JWTSecret},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg, src.malformedKeys()); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config, malformed []string) error {
	missing := append([]string(nil), malformed...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		missing = append(missing, "Database.DSN")
	}
	if cfg.Database.TxAttempts <= 0 {
		missing = append(missing, "Database.TxAttempts")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		missing = append(missing, "Auth.JWTSecret")
	}
	switch cfg.Events.Driver {
	case EventsDriverNone:
	case EventsDriverPubSub:
		if cfg.GCP.ProjectID == "" {
			missing = append(missing, "GCP.ProjectID")
		}
		if cfg.Events.Topic == "" {
			missing = append(missing, "Events.Topic")
		}
	case EventsDriverKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			missing = append(missing, "Events.KafkaBrokers")
		}
		if cfg.Events.Topic == "" {
			missing = append(missing, "Events.Topic")
		}
	default:
		missing = append(missing, "Events.Driver")
	}
	switch cfg.Idempotency.Store {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Idempotency.Store")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Orders.DefaultPageSize <= 0 || cfg.Orders.MaxPageSize < cfg.Orders.DefaultPageSize {
		missing = append(missing, "Orders.PageSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
