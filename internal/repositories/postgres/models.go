package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
)

type userRecord struct {
	ID        int64     `gorm:"column:user_id;primaryKey;autoIncrement"`
	Code      string    `gorm:"column:user_code;size:10;not null;uniqueIndex"`
	Account   string    `gorm:"column:user_account;size:100;not null;uniqueIndex"`
	Name      string    `gorm:"column:user_name;size:255;not null"`
	Role      string    `gorm:"column:role_code;size:16;not null"`
	Address   string    `gorm:"column:user_address;not null"`
	Phone     string    `gorm:"column:user_phone;size:11;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (userRecord) TableName() string { return "users" }

func (r userRecord) toDomain() domain.User {
	role, err := domain.ParseRole(r.Role)
	if err != nil {
		role = domain.RoleCustomer
	}
	return domain.User{
		ID:      r.ID,
		Code:    r.Code,
		Account: r.Account,
		Name:    r.Name,
		Role:    role,
		Address: r.Address,
		Phone:   r.Phone,
	}
}

type productRecord struct {
	ID        int64           `gorm:"column:product_id;primaryKey;autoIncrement"`
	Code      string          `gorm:"column:product_code;size:10;not null;uniqueIndex"`
	Name      string          `gorm:"column:product_name;size:255;not null"`
	Price     decimal.Decimal `gorm:"column:product_price;type:numeric(15,2);not null"`
	Stock     int             `gorm:"column:quantity_stock;not null"`
	Status    string          `gorm:"column:product_status;size:16;not null"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (productRecord) TableName() string { return "products" }

func (r productRecord) toDomain() domain.Product {
	return domain.Product{
		ID:            r.ID,
		Code:          r.Code,
		Name:          r.Name,
		Price:         r.Price,
		StockQuantity: r.Stock,
		Status:        domain.ProductStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type orderRecord struct {
	ID              int64             `gorm:"column:order_id;primaryKey;autoIncrement"`
	Code            string            `gorm:"column:order_code;size:10;not null;uniqueIndex"`
	UserID          int64             `gorm:"column:user_id;not null;index"`
	OrderDate       time.Time         `gorm:"column:order_date;type:date;not null"`
	Status          string            `gorm:"column:order_status;size:16;not null;index"`
	Amount          decimal.Decimal   `gorm:"column:order_amount;type:numeric(15,2);not null"`
	ShippingAddress string            `gorm:"column:shipping_address;not null"`
	ShippingPhone   string            `gorm:"column:shipping_phone;size:11;not null"`
	PaymentDate     *time.Time        `gorm:"column:payment_date;type:date"`
	PaymentMethod   *string           `gorm:"column:payment_method;size:16"`
	CreatedAt       time.Time         `gorm:"column:created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at"`
	Items           []orderItemRecord `gorm:"foreignKey:OrderID;references:ID"`
}

func (orderRecord) TableName() string { return "orders" }

type orderItemRecord struct {
	ID        int64           `gorm:"column:order_item_id;primaryKey;autoIncrement"`
	OrderID   int64           `gorm:"column:order_id;not null;index"`
	ProductID int64           `gorm:"column:product_id;not null"`
	Quantity  int             `gorm:"column:item_quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:item_price;type:numeric(15,2);not null"`
}

func (orderItemRecord) TableName() string { return "order_items" }

func newOrderRecord(order domain.Order) orderRecord {
	rec := orderRecord{
		ID:              order.ID,
		Code:            order.Code,
		UserID:          order.CustomerID,
		OrderDate:       order.OrderDate.UTC(),
		Status:          order.Status.String(),
		Amount:          order.TotalAmount,
		ShippingAddress: order.ShippingAddress,
		ShippingPhone:   order.ShippingPhone,
		PaymentDate:     utcPtr(order.PaymentDate),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.PaymentMethod != nil {
		method := order.PaymentMethod.String()
		rec.PaymentMethod = &method
	}
	return rec
}

func (r orderRecord) toDomain() domain.Order {
	order := domain.Order{
		ID:              r.ID,
		Code:            r.Code,
		CustomerID:      r.UserID,
		OrderDate:       r.OrderDate.UTC(),
		Status:          domain.OrderStatus(r.Status),
		TotalAmount:     r.Amount,
		ShippingAddress: r.ShippingAddress,
		ShippingPhone:   r.ShippingPhone,
		PaymentDate:     utcPtr(r.PaymentDate),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.PaymentMethod != nil {
		if method, err := domain.ParsePaymentMethod(*r.PaymentMethod); err == nil {
			order.PaymentMethod = &method
		}
	}
	if len(r.Items) > 0 {
		order.Items = make([]domain.OrderItem, 0, len(r.Items))
		for _, item := range r.Items {
			order.Items = append(order.Items, domain.OrderItem{
				ID:        item.ID,
				OrderID:   item.OrderID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}
	}
	return order
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
