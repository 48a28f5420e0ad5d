package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
	ppostgres "github.com/oceanbutterfly/shop-api/internal/platform/postgres"
	"github.com/oceanbutterfly/shop-api/internal/repositories"
)

// ProductRepository reads products and owns their stock counter.
type ProductRepository struct {
	provider *ppostgres.Provider
	now      func() time.Time
}

// NewProductRepository constructs a gorm backed product repository.
func NewProductRepository(provider *ppostgres.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires postgres provider")
	}
	return &ProductRepository{provider: provider, now: time.Now}, nil
}

func (r *ProductRepository) conn(ctx context.Context) (*gorm.DB, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	return r.provider.Conn(ctx)
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID int64) (domain.Product, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	var rec productRecord
	if err := db.Where("product_id = ?", productID).First(&rec).Error; err != nil {
		return domain.Product{}, ppostgres.WrapError("product.find_by_id", err)
	}
	return rec.toDomain(), nil
}

// FindByIDs loads every existing product among productIDs keyed by id. Missing ids are absent from the map.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var records []productRecord
	if err := db.Where("product_id IN ?", productIDs).Find(&records).Error; err != nil {
		return nil, ppostgres.WrapError("product.find_by_ids", err)
	}
	for _, rec := range records {
		out[rec.ID] = rec.toDomain()
	}
	return out, nil
}

// DecrementStock subtracts quantity in a single conditional update so concurrent callers cannot
// oversell. When no row qualifies the product is re-read to report why.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown,
			fmt.Sprintf("quantity for product %d must be > 0", productID), nil)
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&productRecord{}).
		Where("product_id = ? AND quantity_stock >= ?", productID, quantity).
		UpdateColumns(map[string]any{
			"quantity_stock": gorm.Expr("quantity_stock - ?", quantity),
			"updated_at":     r.now().UTC(),
		})
	if res.Error != nil {
		return ppostgres.WrapError("product.decrement_stock", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var rec productRecord
	err = db.Select("product_id", "quantity_stock").Where("product_id = ?", productID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repositories.NewStockNotFoundError(productID, err)
	}
	if err != nil {
		return ppostgres.WrapError("product.decrement_stock", err)
	}
	return repositories.NewInsufficientStockError(productID, rec.Stock, quantity)
}

// IncrementStock adds quantity back to the counter without an upper bound.
func (r *ProductRepository) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown,
			fmt.Sprintf("quantity for product %d must be > 0", productID), nil)
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Model(&productRecord{}).
		Where("product_id = ?", productID).
		UpdateColumns(map[string]any{
			"quantity_stock": gorm.Expr("quantity_stock + ?", quantity),
			"updated_at":     r.now().UTC(),
		})
	if res.Error != nil {
		return ppostgres.WrapError("product.increment_stock", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.NewStockNotFoundError(productID, nil)
	}
	return nil
}
