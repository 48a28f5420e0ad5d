package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/googleapis/gax-go/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/oceanbutterfly/shop-api/internal/di"
	"github.com/oceanbutterfly/shop-api/internal/handlers"
	"github.com/oceanbutterfly/shop-api/internal/platform/auth"
	"github.com/oceanbutterfly/shop-api/internal/platform/config"
	"github.com/oceanbutterfly/shop-api/internal/platform/events"
	"github.com/oceanbutterfly/shop-api/internal/platform/idempotency"
	"github.com/oceanbutterfly/shop-api/internal/platform/observability"
	ppostgres "github.com/oceanbutterfly/shop-api/internal/platform/postgres"
	"github.com/oceanbutterfly/shop-api/internal/platform/secrets"
	"github.com/oceanbutterfly/shop-api/internal/repositories"
	pgrepo "github.com/oceanbutterfly/shop-api/internal/repositories/postgres"
	"github.com/oceanbutterfly/shop-api/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shop-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"], envValues["API_ENVIRONMENT"])
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Auth.JWTSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}
	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	provider := ppostgres.NewProvider(cfg.Database,
		ppostgres.WithLogger(logger.Named("db")),
		ppostgres.WithDialTimeout(cfg.Database.ConnectTimeout),
	)
	if cfg.Database.RunMigrations {
		if err := provider.Migrate(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	var extraChecks []repositories.DependencyCheck

	var redisClient *redis.Client
	if strings.EqualFold(cfg.Idempotency.Store, "redis") || strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		extraChecks = append(extraChecks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: true,
			Check:    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	publisher, eventChecks, cleanupEvents, err := newEventPublisher(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialise event publisher: %w", err)
	}
	defer cleanupEvents()
	extraChecks = append(extraChecks, eventChecks...)

	txOpts := []ppostgres.TxOption{
		ppostgres.WithTxAttempts(cfg.Database.TxAttempts),
		ppostgres.WithTxTimeout(cfg.Database.TxTimeout),
		ppostgres.WithIsolation(sql.LevelReadCommitted),
	}
	registry, err := pgrepo.NewRegistry(provider, txOpts, extraChecks...)
	if err != nil {
		return fmt.Errorf("initialise repositories: %w", err)
	}

	containerOpts := []di.Option{
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
	}
	if publisher != nil {
		containerOpts = append(containerOpts, di.WithEventPublisher(publisher))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		return fmt.Errorf("initialise services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	authenticator, err := auth.NewAuthenticator(cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithLogger(observability.NewPrintfAdapter(logger.Named("auth"))),
	)
	if err != nil {
		return fmt.Errorf("initialise authenticator: %w", err)
	}

	idempotencyStore, err := newIdempotencyStore(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("initialise idempotency store: %w", err)
	}
	idempotencyLogger := observability.NewPrintfAdapter(logger.Named("idempotency"))
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idempotencyLogger),
		idempotency.WithOptionalKey(),
	)

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
			observability.IdentityLoggerMiddleware(),
		),
		handlers.WithHandlerTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		serverLogger := httpLogger.With(zap.String("addr", server.Addr))
		serverLogger.Info("shop api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return idempotency.RunCleanup(groupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, idempotencyLogger)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithRetry(gax.Backoff{
			Initial:    200 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		}),
	}
	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_GCP_PROJECT_ID")
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if credentialsFile := lookup("API_GCP_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// newEventPublisher returns a nil publisher for the "none" driver. The returned cleanup stops
// any client the publisher depends on and is always safe to call.
func newEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.OrderEventPublisher, []repositories.DependencyCheck, func(), error) {
	noop := func() {}
	switch cfg.Events.Driver {
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.Topic)
		publisher, err := events.NewPubSubOrderPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, noop, err
		}
		check := repositories.DependencyCheck{
			Name:     "events",
			Optional: true,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s not found", cfg.Events.Topic)
				}
				return nil
			},
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
		return publisher, []repositories.DependencyCheck{check}, cleanup, nil
	case config.EventsDriverKafka:
		publisher, err := events.NewKafkaOrderPublisher(events.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.Topic,
		})
		if err != nil {
			return nil, nil, noop, err
		}
		check := repositories.DependencyCheck{
			Name:     "events",
			Optional: true,
			Check: func(ctx context.Context) error {
				conn, err := kafka.DialContext(ctx, "tcp", cfg.Events.KafkaBrokers[0])
				if err != nil {
					return err
				}
				return conn.Close()
			},
		}
		return publisher, []repositories.DependencyCheck{check}, noop, nil
	default:
		logger.Info("order events disabled", zap.String("driver", cfg.Events.Driver))
		return nil, nil, noop, nil
	}
}

func newIdempotencyStore(cfg config.Config, client *redis.Client) (idempotency.Store, error) {
	if strings.EqualFold(cfg.Idempotency.Store, "redis") {
		if client == nil {
			return nil, errors.New("redis store selected without API_REDIS_ADDR")
		}
		return idempotency.NewRedisStore(client, "shop-api:idempotency")
	}
	return idempotency.NewMemoryStore(), nil
}
