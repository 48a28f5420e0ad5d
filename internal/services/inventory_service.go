package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/oceanbutterfly/shop-api/internal/repositories"
)

const (
	eventInventoryReserve = "inventory.reserve"
	eventInventoryRelease = "inventory.release"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates the requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrProductNotFound indicates the product row does not exist.
	ErrProductNotFound = errors.New("inventory: product not found")
)

// InsufficientStockError carries the counter values observed when a reservation failed.
// It matches ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Is lets errors.Is(err, ErrInsufficientStock) succeed.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InventoryLedgerDeps bundles the collaborators required to construct an inventory ledger.
type InventoryLedgerDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryLedger struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

var _ InventoryLedger = (*inventoryLedger)(nil)

// NewInventoryLedger wires the product repository into an InventoryLedger. The ledger joins
// whatever transaction ctx carries.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory ledger: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryLedger{products: deps.Products, logger: logger}, nil
}

// Reserve takes quantity units out of the product's stock or fails without touching it.
func (l *inventoryLedger) Reserve(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity for product %d must be greater than zero", ErrInventoryInvalidInput, productID)
	}
	if err := l.products.DecrementStock(ctx, productID, quantity); err != nil {
		mapped := mapInventoryError(productID, quantity, err)
		if errors.Is(mapped, ErrInsufficientStock) {
			l.logger(ctx, eventInventoryReserve+".rejected", map[string]any{
				"productId": productID,
				"requested": quantity,
			})
		}
		return mapped
	}
	return nil
}

// Release returns quantity units to the product's stock. Callers must only release what an
// earlier Reserve took; the counter has no upper bound.
func (l *inventoryLedger) Release(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity for product %d must be greater than zero", ErrInventoryInvalidInput, productID)
	}
	if err := l.products.IncrementStock(ctx, productID, quantity); err != nil {
		return mapInventoryError(productID, quantity, err)
	}
	l.logger(ctx, eventInventoryRelease, map[string]any{
		"productId": productID,
		"quantity":  quantity,
	})
	return nil
}

func mapInventoryError(productID int64, quantity int, err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{ProductID: productID, Available: invErr.Available, Requested: quantity}
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: product %d", ErrProductNotFound, productID)
		default:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: product %d", ErrProductNotFound, productID)
	}
	return err
}
