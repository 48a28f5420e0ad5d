package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 15 * time.Second
)

type txContextKey struct{}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts  int
	timeout   time.Duration
	isolation sql.IsolationLevel
}

// WithTxAttempts overrides how often a transaction is retried after serialization failures or deadlocks.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithIsolation requests a specific isolation level. The driver default is used otherwise.
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(cfg *txConfig) {
		cfg.isolation = level
	}
}

// TxFromContext returns the transaction opened by RunTransaction, if any.
func TxFromContext(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// Conn returns the transaction carried by ctx or a pool handle from the provider.
func (p *Provider) Conn(ctx context.Context) (*gorm.DB, error) {
	if tx, ok := TxFromContext(ctx); ok {
		return tx.WithContext(ctx), nil
	}
	return p.DB(ctx)
}

// RunTransaction executes fn inside a database transaction. The ctx passed to fn carries the
// transaction so repositories join it. Calls nested inside an open transaction reuse it.
func (p *Provider) RunTransaction(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout, isolation: sql.LevelDefault}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	db, err := p.DB(txnCtx)
	if err != nil {
		return err
	}

	var txOpts []*sql.TxOptions
	if cfg.isolation != sql.LevelDefault {
		txOpts = append(txOpts, &sql.TxOptions{Isolation: cfg.isolation})
	}

	for attempt := 1; ; attempt++ {
		err = db.Transaction(func(tx *gorm.DB) error {
			return fn(context.WithValue(txnCtx, txContextKey{}, tx))
		}, txOpts...)
		if err == nil || attempt >= cfg.attempts || !isRetryable(err) || txnCtx.Err() != nil {
			break
		}
	}
	if err == nil {
		return nil
	}
	// domain errors returned by fn travel through untouched
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}
	if isDriverError(err) {
		return WrapError("transaction", err)
	}
	return err
}

// UnitOfWork adapts the provider to repositories.UnitOfWork.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork binds transaction options to the provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx implements repositories.UnitOfWork.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return u.provider.RunTransaction(ctx, fn, u.opts...)
}
