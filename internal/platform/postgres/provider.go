package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/oceanbutterfly/shop-api/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
)

var ErrProviderClosed = errors.New("postgres: provider is closed")

// Provider lazily opens a shared gorm connection pool.
type Provider struct {
	cfg         config.DatabaseConfig
	dialTimeout time.Duration
	dialector   gorm.Dialector
	logger      *zap.Logger

	mu     sync.Mutex
	db     *gorm.DB
	closed atomic.Bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithDialTimeout overrides the timeout used for the initial ping.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithDialector replaces the postgres dialector, used by tests running on sqlite.
func WithDialector(dialector gorm.Dialector) ProviderOption {
	return func(p *Provider) {
		if dialector != nil {
			p.dialector = dialector
		}
	}
}

// WithLogger routes gorm logs through zap.
func WithLogger(logger *zap.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		cfg:         cfg,
		dialTimeout: defaultDialTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// DB returns the lazily initialised connection pool bound to ctx.
func (p *Provider) DB(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("postgres: context is required")
	}
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	if p.db == nil {
		db, err := p.open(ctx)
		if err != nil {
			return nil, err
		}
		p.db = db
	}
	return p.db.WithContext(ctx), nil
}

func (p *Provider) open(ctx context.Context) (*gorm.DB, error) {
	dialector := p.dialector
	if dialector == nil {
		dsn, err := p.dsn()
		if err != nil {
			return nil, err
		}
		dialector = gormpostgres.New(gormpostgres.Config{DSN: dsn})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(p.logger, p.cfg.SlowQueryThreshold),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if p.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(p.cfg.MaxOpenConns)
	}
	if p.cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(p.cfg.MaxIdleConns)
	}
	if p.cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, WrapError("ping", err)
	}
	return db, nil
}

func (p *Provider) dsn() (string, error) {
	dsn := strings.TrimSpace(p.cfg.DSN)
	if dsn == "" {
		return "", errors.New("postgres: dsn is required")
	}
	password := p.cfg.Password
	if password == "" {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("postgres: parse dsn: %w", err)
		}
		username := ""
		if u.User != nil {
			username = u.User.Username()
		}
		u.User = url.UserPassword(username, password)
		return u.String(), nil
	}
	if strings.Contains(dsn, "password=") {
		return dsn, nil
	}
	return dsn + " password=" + password, nil
}

// Ping verifies connectivity for readiness probes.
func (p *Provider) Ping(ctx context.Context) error {
	db, err := p.DB(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return WrapError("ping", sqlDB.PingContext(ctx))
}

// Close releases the pool. The Provider cannot be reused afterwards.
func (p *Provider) Close(_ context.Context) error {
	if p == nil || p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	db := p.db
	p.db = nil
	p.mu.Unlock()
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
