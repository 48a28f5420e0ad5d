package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
	ppostgres "github.com/oceanbutterfly/shop-api/internal/platform/postgres"
	"github.com/oceanbutterfly/shop-api/internal/repositories"
)

const (
	defaultListPageSize = 10
	maxListPageSize     = 100
)

var orderSortColumns = map[domain.OrderSortField]string{
	domain.OrderSortID:          "order_id",
	domain.OrderSortCode:        "order_code",
	domain.OrderSortOrderDate:   "order_date",
	domain.OrderSortCreatedAt:   "created_at",
	domain.OrderSortTotalAmount: "order_amount",
}

// OrderRepository persists orders and their items in postgres.
type OrderRepository struct {
	provider *ppostgres.Provider
}

// NewOrderRepository constructs a gorm backed order repository.
func NewOrderRepository(provider *ppostgres.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires postgres provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) conn(ctx context.Context) (*gorm.DB, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	return r.provider.Conn(ctx)
}

// Insert writes the order header and then every item, filling generated ids back into order.
func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return errors.New("order insert: order is required")
	}
	if len(order.Items) == 0 {
		return errors.New("order insert: at least one item is required")
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	rec := newOrderRecord(*order)
	rec.ID = 0
	if err := db.Omit(clause.Associations).Create(&rec).Error; err != nil {
		if isOrderCodeViolation(err) {
			return fmt.Errorf("order.insert: code %s: %w", rec.Code, repositories.ErrOrderCodeTaken)
		}
		return ppostgres.WrapError("order.insert", err)
	}

	items := make([]orderItemRecord, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemRecord{
			OrderID:   rec.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	if err := db.Create(&items).Error; err != nil {
		return ppostgres.WrapError("order.insert_items", err)
	}

	order.ID = rec.ID
	order.CreatedAt = rec.CreatedAt
	order.UpdatedAt = rec.UpdatedAt
	for i := range order.Items {
		order.Items[i].ID = items[i].ID
		order.Items[i].OrderID = rec.ID
	}
	return nil
}

// FindByID loads the order and its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID int64) (domain.Order, error) {
	if orderID <= 0 {
		return domain.Order{}, errors.New("order id must be positive")
	}
	return r.findOne(ctx, "order.find_by_id", "order_id = ?", orderID)
}

// FindByIDForUpdate is FindByID with SELECT ... FOR UPDATE on the order row. Dialects without
// row locks (sqlite in tests) read without it and rely on the conditional writes alone.
func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (domain.Order, error) {
	if orderID <= 0 {
		return domain.Order{}, errors.New("order id must be positive")
	}
	db, err := r.conn(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if db.Dialector.Name() == "postgres" {
		var locked orderRecord
		err := db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			Select("order_id").Where("order_id = ?", orderID).First(&locked).Error
		if err != nil {
			return domain.Order{}, ppostgres.WrapError("order.lock", err)
		}
	}
	return r.findOne(ctx, "order.find_for_update", "order_id = ?", orderID)
}

// FindByCode loads the order identified by its external code.
func (r *OrderRepository) FindByCode(ctx context.Context, code string) (domain.Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Order{}, errors.New("order code is required")
	}
	return r.findOne(ctx, "order.find_by_code", "order_code = ?", code)
}

func (r *OrderRepository) findOne(ctx context.Context, op string, query string, arg any) (domain.Order, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	var rec orderRecord
	err = db.Preload("Items", orderItemsByID).Where(query, arg).First(&rec).Error
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	return rec.toDomain(), nil
}

// ExistsByCode reports whether an order already uses code.
func (r *OrderRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return false, err
	}
	var count int64
	if err := db.Model(&orderRecord{}).Where("order_code = ?", code).Count(&count).Error; err != nil {
		return false, ppostgres.WrapError("order.exists_by_code", err)
	}
	return count > 0, nil
}

// UpdateStatus writes the status and payment columns of order, guarded by the status the
// caller read.
func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, from domain.OrderStatus) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	rec := newOrderRecord(order)
	res := db.Model(&orderRecord{}).
		Where("order_id = ? AND order_status = ?", order.ID, string(from)).
		Updates(map[string]any{
			"order_status":   rec.Status,
			"payment_date":   rec.PaymentDate,
			"payment_method": rec.PaymentMethod,
			"updated_at":     rec.UpdatedAt,
		})
	if res.Error == nil && res.RowsAffected == 0 {
		return r.explainMissedWrite(db, "order.update_status", order.ID)
	}
	return checkSingleRow("order.update_status", order.ID, res)
}

// UpdatePayment sets the payment method and payment date columns.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID int64, method *domain.PaymentMethod, paidAt *time.Time, updatedAt time.Time) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	var methodValue *string
	if method != nil {
		v := method.String()
		methodValue = &v
	}
	res := db.Model(&orderRecord{}).Where("order_id = ?", orderID).Updates(map[string]any{
		"payment_method": methodValue,
		"payment_date":   utcPtr(paidAt),
		"updated_at":     updatedAt.UTC(),
	})
	return checkSingleRow("order.update_payment", orderID, res)
}

// Delete removes the items and then the order row, the latter only while it still has status.
// Callers run it inside a transaction so a missed header delete also restores the items.
func (r *OrderRepository) Delete(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.Where("order_id = ?", orderID).Delete(&orderItemRecord{}).Error; err != nil {
		return ppostgres.WrapError("order.delete_items", err)
	}
	res := db.Where("order_id = ? AND order_status = ?", orderID, string(status)).Delete(&orderRecord{})
	if res.Error != nil {
		return ppostgres.WrapError("order.delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.explainMissedWrite(db, "order.delete", orderID)
	}
	return nil
}

// explainMissedWrite tells a vanished order apart from one whose status moved on.
func (r *OrderRepository) explainMissedWrite(db *gorm.DB, op string, orderID int64) error {
	var count int64
	if err := db.Model(&orderRecord{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return ppostgres.WrapError(op, err)
	}
	if count == 0 {
		return ppostgres.WrapError(op, fmt.Errorf("order %d: %w", orderID, gorm.ErrRecordNotFound))
	}
	return fmt.Errorf("%s: order %d: %w", op, orderID, repositories.ErrOrderStatusChanged)
}

// isOrderCodeViolation matches the unique index on orders.order_code, by constraint name on
// postgres and by message on sqlite.
func isOrderCodeViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "order_code")
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "order_code")
}

// List returns a page of orders matching filter. Pages are zero based.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.Page[domain.Order], error) {
	db, err := r.conn(ctx)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	page, size := normalisePage(filter.Pagination)
	scope := orderFilterScope(filter)

	var total int64
	if err := db.Model(&orderRecord{}).Scopes(scope).Count(&total).Error; err != nil {
		return domain.Page[domain.Order]{}, ppostgres.WrapError("order.list_count", err)
	}

	var records []orderRecord
	err = db.Model(&orderRecord{}).
		Scopes(scope).
		Preload("Items", orderItemsByID).
		Order(orderClause(filter.Pagination.Sort)).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "order_id"}, Desc: true}).
		Offset(page * size).
		Limit(size).
		Find(&records).Error
	if err != nil {
		return domain.Page[domain.Order]{}, ppostgres.WrapError("order.list", err)
	}

	items := make([]domain.Order, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.toDomain())
	}
	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return domain.Page[domain.Order]{
		Items:      items,
		Page:       page,
		Size:       size,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

func orderFilterScope(filter domain.OrderListFilter) func(*gorm.DB) *gorm.DB {
	return func(query *gorm.DB) *gorm.DB {
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, status := range filter.Statuses {
				statuses = append(statuses, status.String())
			}
			query = query.Where("order_status IN ?", statuses)
		}
		if filter.CustomerID != nil {
			query = query.Where("user_id = ?", *filter.CustomerID)
		}
		if filter.OrderDate.From != nil {
			query = query.Where("order_date >= ?", filter.OrderDate.From.UTC())
		}
		if filter.OrderDate.To != nil {
			query = query.Where("order_date <= ?", filter.OrderDate.To.UTC())
		}
		return query
	}
}

func orderItemsByID(db *gorm.DB) *gorm.DB {
	return db.Order("order_item_id ASC")
}

func orderClause(sort domain.SortSpec) clause.OrderByColumn {
	column, ok := orderSortColumns[sort.Field]
	if !ok {
		column = orderSortColumns[domain.OrderSortCreatedAt]
	}
	desc := sort.Order != domain.SortAsc
	return clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}
}

func normalisePage(p domain.Pagination) (int, int) {
	page := p.Page
	if page < 0 {
		page = 0
	}
	size := p.Size
	if size <= 0 {
		size = defaultListPageSize
	}
	if size > maxListPageSize {
		size = maxListPageSize
	}
	return page, size
}

func checkSingleRow(op string, id int64, res *gorm.DB) error {
	if res.Error != nil {
		return ppostgres.WrapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ppostgres.WrapError(op, fmt.Errorf("order %d: %w", id, gorm.ErrRecordNotFound))
	}
	return nil
}
