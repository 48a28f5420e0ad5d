package repositories

import (
	"context"
	"time"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Users() UserRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories called with the ctx handed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their items.
type OrderRepository interface {
	// Insert stores the order header and every item, assigning ids in place.
	Insert(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, orderID int64) (domain.Order, error)
	// FindByIDForUpdate reads the order and, inside a transaction, holds its row lock until
	// commit so concurrent writers of the same order queue behind each other.
	FindByIDForUpdate(ctx context.Context, orderID int64) (domain.Order, error)
	FindByCode(ctx context.Context, code string) (domain.Order, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	// UpdateStatus writes status and payment fields only while the stored status still equals
	// from, returning ErrOrderStatusChanged otherwise. Items are immutable.
	UpdateStatus(ctx context.Context, order domain.Order, from domain.OrderStatus) error
	UpdatePayment(ctx context.Context, orderID int64, method *domain.PaymentMethod, paidAt *time.Time, updatedAt time.Time) error
	// Delete removes the items and then the order header, under the same status precondition
	// as UpdateStatus.
	Delete(ctx context.Context, orderID int64, status domain.OrderStatus) error
	List(ctx context.Context, filter domain.OrderListFilter) (domain.Page[domain.Order], error)
}

// ProductRepository owns the stock counter of each product. Stock only changes through
// DecrementStock and IncrementStock.
type ProductRepository interface {
	FindByID(ctx context.Context, productID int64) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)
	// DecrementStock atomically subtracts quantity when enough stock remains. It returns an
	// InventoryError with InventoryErrorInsufficientStock or InventoryErrorStockNotFound otherwise.
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	IncrementStock(ctx context.Context, productID int64, quantity int) error
}

// UserRepository resolves order owners.
type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (domain.User, error)
	FindByAccount(ctx context.Context, account string) (domain.User, error)
}

// HealthRepository probes backing dependencies for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
