package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbutterfly/shop-api/internal/platform/config"
	"github.com/oceanbutterfly/shop-api/internal/platform/observability"
	"github.com/oceanbutterfly/shop-api/internal/repositories"
	"github.com/oceanbutterfly/shop-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryLedger
	Codes     services.CodeGenerator
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	events services.OrderEventPublisher
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger *zap.Logger
	events services.OrderEventPublisher
	build  services.BuildInfo
	clock  func() time.Time
}

// WithLogger sets the base logger handed to services.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithEventPublisher sets the sink for order lifecycle events. Without one events are dropped.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = publisher
	}
}

// WithBuildInfo sets the metadata reported by the readiness endpoint.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithClock overrides the wall clock used by services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependencies on top of reg. Tests can supply in-memory
// registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		events:       options.events,
	}, nil
}

// Close releases the event sink and the repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if closer, ok := c.events.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event publisher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services

	svc.Codes = services.NewCodeGenerator(services.CodeGeneratorDeps{
		Logger: observability.EventLogger(opts.logger, "codes"),
	})

	ledger, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Products: reg.Products(),
		Logger:   observability.EventLogger(opts.logger, "inventory"),
	})
	if err != nil {
		return svc, fmt.Errorf("build inventory ledger: %w", err)
	}
	svc.Inventory = ledger

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Products:        reg.Products(),
		Users:           reg.Users(),
		Inventory:       ledger,
		Codes:           svc.Codes,
		UnitOfWork:      reg,
		Clock:           opts.clock,
		Events:          opts.events,
		DefaultPageSize: cfg.Orders.DefaultPageSize,
		MaxPageSize:     cfg.Orders.MaxPageSize,
		Logger:          observability.EventLogger(opts.logger, "orders"),
	})
	if err != nil {
		return svc, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	if health := reg.Health(); health != nil {
		build := opts.build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            opts.clock,
			Build:            build,
		})
		if err != nil {
			return svc, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
