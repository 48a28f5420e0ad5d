package postgres

import (
	"context"
	"errors"
	"fmt"

	ppostgres "github.com/oceanbutterfly/shop-api/internal/platform/postgres"
	"github.com/oceanbutterfly/shop-api/internal/repositories"
)

// Registry implements repositories.Registry on top of a single postgres provider.
type Registry struct {
	provider *ppostgres.Provider
	uow      *ppostgres.UnitOfWork
	orders   *OrderRepository
	products *ProductRepository
	users    *UserRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository against provider. The database ping is always part of
// the health checks; extra checks (redis, event sink) are appended after it.
func NewRegistry(provider *ppostgres.Provider, txOpts []ppostgres.TxOption, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires postgres provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "database", Check: provider.Ping}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider: provider,
		uow:      ppostgres.NewUnitOfWork(provider, txOpts...),
		orders:   orders,
		products: products,
		users:    users,
		health:   health,
	}, nil
}

// Close releases the connection pool.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Users() repositories.UserRepository       { return r.users }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}
