package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentMethod      = domain.PaymentMethod
	Product            = domain.Product
	User               = domain.User
	Role               = domain.Role
	Pagination         = domain.Pagination
	SortSpec           = domain.SortSpec
	OrderListFilter    = domain.OrderListFilter
	SystemHealthReport = domain.SystemHealthReport
)

// Identity is the caller resolved by the auth layer. Services trust it as given.
type Identity struct {
	UserID int64
	Role   Role
}

// OrderService owns the order lifecycle: creation with stock reservation, status changes,
// cancellation, deletion and reads guarded by ownership.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	UpdatePayment(ctx context.Context, cmd UpdatePaymentCommand) (Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
	GetOrder(ctx context.Context, orderID int64, actor Identity) (Order, error)
	GetOrderByCode(ctx context.Context, code string, actor Identity) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter, actor Identity) (domain.Page[Order], error)
	ListOrdersByCustomer(ctx context.Context, customerID int64, page Pagination, actor Identity) (domain.Page[Order], error)
	ListOrdersByStatus(ctx context.Context, status OrderStatus, page Pagination, actor Identity) (domain.Page[Order], error)
	CalculateAmount(ctx context.Context, productIDs []int64, quantities []int) (decimal.Decimal, error)
}

// InventoryLedger is the only path through which order activity changes product stock.
type InventoryLedger interface {
	Reserve(ctx context.Context, productID int64, quantity int) error
	Release(ctx context.Context, productID int64, quantity int) error
}

// CodeGenerator produces prefixed human readable codes.
type CodeGenerator interface {
	Generate(prefix string) (string, error)
	GenerateUnique(ctx context.Context, prefix string, exists CodeExistsFunc) (string, error)
}

// CodeExistsFunc reports whether code is already taken in the relevant store.
type CodeExistsFunc func(ctx context.Context, code string) (bool, error)

// SystemService exposes health information for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        int64
	OrderCode      string
	CustomerID     int64
	PreviousStatus string
	CurrentStatus  string
	ActorID        int64
	OccurredAt     time.Time
	Metadata       map[string]any
}

// CreateOrderItem is one requested order line.
type CreateOrderItem struct {
	ProductID int64
	Quantity  int
}

// CreateOrderCommand places an order for CustomerID. Blank shipping fields are copied from the
// customer's profile.
type CreateOrderCommand struct {
	CustomerID      int64
	Items           []CreateOrderItem
	ShippingAddress string
	ShippingPhone   string
	PaymentMethod   *PaymentMethod
	Actor           Identity
}

// UpdateOrderStatusCommand moves an order to Status.
type UpdateOrderStatusCommand struct {
	OrderID int64
	Status  OrderStatus
	Actor   Identity
}

// UpdatePaymentCommand records the payment method of an order.
type UpdatePaymentCommand struct {
	OrderID int64
	Method  PaymentMethod
	Actor   Identity
}

// UpdatePaymentStatusCommand marks an order paid or unpaid.
type UpdatePaymentStatusCommand struct {
	OrderID int64
	Paid    bool
	Actor   Identity
}

// CancelOrderCommand cancels an order and returns its stock.
type CancelOrderCommand struct {
	OrderID int64
	Actor   Identity
}

// DeleteOrderCommand hard deletes an order.
type DeleteOrderCommand struct {
	OrderID int64
	Actor   Identity
}
