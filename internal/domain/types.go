package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines page-number based paging inputs for list operations.
type Pagination struct {
	Page int
	Size int
	Sort SortSpec
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// SortSpec names the field and direction used to order a listing.
type SortSpec struct {
	Field OrderSortField
	Order SortOrder
}

// OrderSortField indicates the field used to order order listings.
type OrderSortField string

const (
	OrderSortID          OrderSortField = "orderId"
	OrderSortCode        OrderSortField = "orderCode"
	OrderSortOrderDate   OrderSortField = "orderDate"
	OrderSortCreatedAt   OrderSortField = "createdAt"
	OrderSortTotalAmount OrderSortField = "totalAmount"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Page wraps a slice of results with page-number metadata.
type Page[T any] struct {
	Items      []T
	Page       int
	Size       int
	TotalItems int64
	TotalPages int
}

// Order is a customer purchase with price and shipping snapshots taken at creation.
type Order struct {
	ID              int64
	Code            string
	CustomerID      int64
	OrderDate       time.Time
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	ShippingAddress string
	ShippingPhone   string
	PaymentMethod   *PaymentMethod
	PaymentDate     *time.Time
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is one line of an order. UnitPrice is copied from the product when the order is placed.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal returns unit price multiplied by quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Product carries the inventory relevant fields of a catalog product.
type Product struct {
	ID            int64
	Code          string
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	Status        ProductStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// User carries the identity and contact fields orders depend on.
type User struct {
	ID      int64
	Code    string
	Account string
	Name    string
	Role    Role
	Address string
	Phone   string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Statuses   []OrderStatus
	CustomerID *int64
	OrderDate  RangeQuery[time.Time]
	Pagination Pagination
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
