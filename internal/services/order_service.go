package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
	"github.com/oceanbutterfly/shop-api/internal/platform/textutil"
	"github.com/oceanbutterfly/shop-api/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventCancelled      = "order.cancelled"
	orderEventDeleted        = "order.deleted"
	orderEventPaymentUpdated = "order.payment.updated"

	orderCodeInsertAttempts = 3

	orderInstrumentationName = "github.com/oceanbutterfly/shop-api/internal/services"

	maxShippingPhoneLength = 11
	defaultOrderPageSize   = 10
	maxOrderPageSize       = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrCustomerNotFound indicates the ordering customer does not exist.
	ErrCustomerNotFound = errors.New("order: customer not found")
	// ErrOrderInvalidTransition indicates the order's status does not allow the operation.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderForbidden indicates the caller may not act on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates a concurrent write or duplicate key.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusNew:        {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipping, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusShipping:   {domain.OrderStatusDelivered},
}

var orderSortFields = []domain.OrderSortField{
	domain.OrderSortID,
	domain.OrderSortCode,
	domain.OrderSortOrderDate,
	domain.OrderSortCreatedAt,
	domain.OrderSortTotalAmount,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Products        repositories.ProductRepository
	Users           repositories.UserRepository
	Inventory       InventoryLedger
	Codes           CodeGenerator
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	Events          OrderEventPublisher
	DefaultPageSize int
	MaxPageSize     int
	Tracer          trace.Tracer
	Meter           metric.Meter
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	users      repositories.UserRepository
	inventory  InventoryLedger
	codes      CodeGenerator
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	events     OrderEventPublisher
	guard      OrderAccessGuard
	pageSize   int
	maxPage    int
	tracer     trace.Tracer
	metrics    orderMetrics
	logger     func(context.Context, string, map[string]any)
}

type orderMetrics struct {
	created            metric.Int64Counter
	reservationsFailed metric.Int64Counter
	stockReleased      metric.Int64Counter
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}

	ledger := deps.Inventory
	if ledger == nil {
		built, err := NewInventoryLedger(InventoryLedgerDeps{Products: deps.Products, Logger: deps.Logger})
		if err != nil {
			return nil, err
		}
		ledger = built
	}

	codes := deps.Codes
	if codes == nil {
		codes = NewCodeGenerator(CodeGeneratorDeps{Logger: deps.Logger})
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	pageSize := deps.DefaultPageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	maxPage := deps.MaxPageSize
	if maxPage <= 0 {
		maxPage = maxOrderPageSize
	}
	if pageSize > maxPage {
		pageSize = maxPage
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(orderInstrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(orderInstrumentationName)
	}
	metrics, err := newOrderMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("order service: init metrics: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		users:      deps.Users,
		inventory:  ledger,
		codes:      codes,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		events:   deps.Events,
		pageSize: pageSize,
		maxPage:  maxPage,
		tracer:   tracer,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func newOrderMetrics(meter metric.Meter) (orderMetrics, error) {
	created, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders placed successfully"))
	if err != nil {
		return orderMetrics{}, err
	}
	failed, err := meter.Int64Counter("orders.reservations.failed",
		metric.WithDescription("Order placements rejected for insufficient stock"))
	if err != nil {
		return orderMetrics{}, err
	}
	released, err := meter.Int64Counter("orders.stock.released",
		metric.WithDescription("Units returned to stock by cancellation or deletion"),
		metric.WithUnit("{unit}"))
	if err != nil {
		return orderMetrics{}, err
	}
	return orderMetrics{created: created, reservationsFailed: failed, stockReleased: released}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.create")
	defer func() { endSpan(span, err) }()

	customerID := cmd.CustomerID
	if customerID == 0 {
		customerID = cmd.Actor.UserID
	}
	if customerID <= 0 {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if !cmd.Actor.Role.IsPrivileged() && cmd.Actor.UserID != customerID {
		return Order{}, fmt.Errorf("%w: user %d may not order for customer %d", ErrOrderForbidden, cmd.Actor.UserID, customerID)
	}

	lines, err := mergeOrderLines(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	var method *domain.PaymentMethod
	if cmd.PaymentMethod != nil {
		parsed, err := domain.ParsePaymentMethod(string(*cmd.PaymentMethod))
		if err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		method = &parsed
	}

	now := s.now()
	place := func(txCtx context.Context) error {
		customer, err := s.users.FindByID(txCtx, customerID)
		if err != nil {
			return s.mapCustomerError(customerID, err)
		}

		address, phone, err := shippingSnapshot(cmd.ShippingAddress, cmd.ShippingPhone, customer)
		if err != nil {
			return err
		}

		code, err := s.codes.GenerateUnique(txCtx, OrderCodePrefix, s.orders.ExistsByCode)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		ids := make([]int64, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ProductID)
		}
		products, err := s.products.FindByIDs(txCtx, ids)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		items := make([]domain.OrderItem, 0, len(lines))
		total := decimal.Zero
		for _, line := range lines {
			product, ok := products[line.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d", ErrProductNotFound, line.ProductID)
			}
			item := domain.OrderItem{
				ProductID: product.ID,
				Quantity:  line.Quantity,
				UnitPrice: product.Price,
			}
			items = append(items, item)
			total = total.Add(item.LineTotal())
		}

		// Reserve in ascending product id order so concurrent orders lock rows consistently.
		reserveOrder := slices.Clone(lines)
		slices.SortFunc(reserveOrder, func(a, b CreateOrderItem) int {
			switch {
			case a.ProductID < b.ProductID:
				return -1
			case a.ProductID > b.ProductID:
				return 1
			}
			return 0
		})
		for _, line := range reserveOrder {
			if err := s.inventory.Reserve(txCtx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		order = Order{
			Code:            code,
			CustomerID:      customer.ID,
			OrderDate:       now,
			Status:          domain.OrderStatusNew,
			TotalAmount:     total,
			ShippingAddress: address,
			ShippingPhone:   phone,
			PaymentMethod:   method,
			Items:           items,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.orders.Insert(txCtx, &order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	}
	// A code drawn concurrently by another request only surfaces at Insert; the whole
	// transaction is replayed with a fresh code.
	for attempt := 1; ; attempt++ {
		err = s.runInTx(ctx, place)
		if !errors.Is(err, repositories.ErrOrderCodeTaken) {
			break
		}
		if attempt == orderCodeInsertAttempts {
			err = fmt.Errorf("%w: %v", ErrCodeGenerationExhausted, err)
			break
		}
		s.logger(ctx, "order.create.code_collision", map[string]any{"attempt": attempt})
	}
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.metrics.reservationsFailed.Add(ctx, 1)
		}
		if errors.Is(err, ErrCodeGenerationExhausted) {
			s.logger(ctx, "order.create.code_exhausted", map[string]any{
				"customerId": customerID,
				"error":      err.Error(),
			})
		}
		return Order{}, err
	}

	s.metrics.created.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.String("order.code", order.Code))
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderCode:     order.Code,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.Actor.UserID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalAmount": order.TotalAmount.StringFixed(2),
			"itemCount":   len(order.Items),
		},
	})

	return order, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.update_status", attribute.Int64("order.id", cmd.OrderID))
	defer func() { endSpan(span, err) }()

	if err := s.guard.CanManage(cmd.Actor); err != nil {
		return Order{}, err
	}
	if cmd.OrderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, err := domain.ParseOrderStatus(string(cmd.Status))
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if target == domain.OrderStatusCancelled {
		return s.cancel(ctx, cmd.OrderID, cmd.Actor)
	}

	var previous domain.OrderStatus
	now := s.now()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByIDForUpdate(txCtx, cmd.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("%w: order is already %s", ErrOrderInvalidTransition, current.Status)
		}
		if !canTransition(current.Status, target) {
			return fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, current.Status, target)
		}
		previous = current.Status
		current.Status = target
		if target == domain.OrderStatusDelivered && current.PaymentDate == nil {
			paidAt := now
			current.PaymentDate = &paidAt
		}
		current.UpdatedAt = now
		if err := s.orders.UpdateStatus(txCtx, current, previous); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderCode:      order.Code,
		CustomerID:     order.CustomerID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.Actor.UserID,
		OccurredAt:     now,
	})
	return order, nil
}

func (s *orderService) UpdatePayment(ctx context.Context, cmd UpdatePaymentCommand) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.update_payment", attribute.Int64("order.id", cmd.OrderID))
	defer func() { endSpan(span, err) }()

	if err := s.guard.CanManage(cmd.Actor); err != nil {
		return Order{}, err
	}
	method, err := domain.ParsePaymentMethod(string(cmd.Method))
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.now()
	order, err = s.writePayment(ctx, cmd.OrderID, func(current *Order) {
		current.PaymentMethod = &method
		if current.PaymentDate == nil {
			paidAt := now
			current.PaymentDate = &paidAt
		}
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentUpdated,
		OrderID:       order.ID,
		OrderCode:     order.Code,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.Actor.UserID,
		OccurredAt:    now,
		Metadata:      map[string]any{"paymentMethod": string(method)},
	})
	return order, nil
}

func (s *orderService) UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.update_payment_status", attribute.Int64("order.id", cmd.OrderID))
	defer func() { endSpan(span, err) }()

	if err := s.guard.CanManage(cmd.Actor); err != nil {
		return Order{}, err
	}

	now := s.now()
	order, err = s.writePayment(ctx, cmd.OrderID, func(current *Order) {
		if cmd.Paid {
			paidAt := now
			current.PaymentDate = &paidAt
			return
		}
		current.PaymentDate = nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentUpdated,
		OrderID:       order.ID,
		OrderCode:     order.Code,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.Actor.UserID,
		OccurredAt:    now,
		Metadata:      map[string]any{"paid": cmd.Paid},
	})
	return order, nil
}

func (s *orderService) writePayment(ctx context.Context, orderID int64, mutate func(*Order)) (Order, error) {
	if orderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	var order Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		mutate(&current)
		current.UpdatedAt = s.now()
		if err := s.orders.UpdatePayment(txCtx, current.ID, current.PaymentMethod, current.PaymentDate, current.UpdatedAt); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		return nil
	})
	return order, err
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "orders.cancel", attribute.Int64("order.id", cmd.OrderID))
	defer func() { endSpan(span, err) }()

	return s.cancel(ctx, cmd.OrderID, cmd.Actor)
}

func (s *orderService) cancel(ctx context.Context, orderID int64, actor Identity) (Order, error) {
	if orderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		order    Order
		previous domain.OrderStatus
		released int
	)
	now := s.now()
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.guard.CanCancel(actor, current); err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("%w: order is already %s", ErrOrderInvalidTransition, current.Status)
		}
		if !canTransition(current.Status, domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: order in status %s cannot be cancelled", ErrOrderInvalidTransition, current.Status)
		}
		units, err := s.releaseItems(txCtx, current.Items)
		if err != nil {
			return err
		}
		previous = current.Status
		current.Status = domain.OrderStatusCancelled
		current.UpdatedAt = now
		if err := s.orders.UpdateStatus(txCtx, current, previous); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		released = units
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.stockReleased.Add(ctx, int64(released))
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		OrderCode:      order.Code,
		CustomerID:     order.CustomerID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        actor.UserID,
		OccurredAt:     now,
		Metadata:       map[string]any{"releasedUnits": released},
	})
	return order, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (err error) {
	ctx, span := s.startSpan(ctx, "orders.delete", attribute.Int64("order.id", cmd.OrderID))
	defer func() { endSpan(span, err) }()

	if err := s.guard.CanDelete(cmd.Actor); err != nil {
		return err
	}
	if cmd.OrderID <= 0 {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		order    Order
		released int
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByIDForUpdate(txCtx, cmd.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		switch current.Status {
		case domain.OrderStatusProcessing:
			// stock of a processing order is still held
			units, err := s.releaseItems(txCtx, current.Items)
			if err != nil {
				return err
			}
			released = units
		case domain.OrderStatusCancelled:
			// already returned by the cancellation
		default:
			return fmt.Errorf("%w: only cancelled or processing orders can be deleted, order is %s",
				ErrOrderInvalidTransition, current.Status)
		}
		if err := s.orders.Delete(txCtx, current.ID, current.Status); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil {
		return err
	}

	if released > 0 {
		s.metrics.stockReleased.Add(ctx, int64(released))
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventDeleted,
		OrderID:        order.ID,
		OrderCode:      order.Code,
		CustomerID:     order.CustomerID,
		PreviousStatus: string(order.Status),
		ActorID:        cmd.Actor.UserID,
		OccurredAt:     s.now(),
		Metadata:       map[string]any{"releasedUnits": released},
	})
	return nil
}

func (s *orderService) releaseItems(ctx context.Context, items []OrderItem) (int, error) {
	units := 0
	for _, item := range items {
		if err := s.inventory.Release(ctx, item.ProductID, item.Quantity); err != nil {
			return 0, err
		}
		units += item.Quantity
	}
	return units, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID int64, actor Identity) (Order, error) {
	if orderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if err := s.guard.CanRead(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) GetOrderByCode(ctx context.Context, code string, actor Identity) (Order, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Order{}, fmt.Errorf("%w: order code is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByCode(ctx, code)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if err := s.guard.CanRead(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter, actor Identity) (domain.Page[Order], error) {
	if !actor.Role.IsPrivileged() {
		if actor.UserID <= 0 {
			return domain.Page[Order]{}, fmt.Errorf("%w: identity is required", ErrOrderForbidden)
		}
		own := actor.UserID
		filter.CustomerID = &own
	}
	statuses := make([]domain.OrderStatus, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		parsed, err := domain.ParseOrderStatus(string(status))
		if err != nil {
			return domain.Page[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		statuses = append(statuses, parsed)
	}
	filter.Statuses = statuses
	if from, to := filter.OrderDate.From, filter.OrderDate.To; from != nil && to != nil && from.After(*to) {
		return domain.Page[Order]{}, fmt.Errorf("%w: from must not be after to", ErrOrderInvalidInput)
	}
	page, err := s.normalisePagination(filter.Pagination, domain.OrderSortCreatedAt)
	if err != nil {
		return domain.Page[Order]{}, err
	}
	filter.Pagination = page

	result, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) ListOrdersByCustomer(ctx context.Context, customerID int64, page Pagination, actor Identity) (domain.Page[Order], error) {
	if customerID <= 0 {
		return domain.Page[Order]{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if !actor.Role.IsPrivileged() && actor.UserID != customerID {
		return domain.Page[Order]{}, fmt.Errorf("%w: user %d may not list orders of customer %d", ErrOrderForbidden, actor.UserID, customerID)
	}
	normalised, err := s.normalisePagination(page, domain.OrderSortOrderDate)
	if err != nil {
		return domain.Page[Order]{}, err
	}
	result, err := s.orders.List(ctx, OrderListFilter{CustomerID: &customerID, Pagination: normalised})
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) ListOrdersByStatus(ctx context.Context, status OrderStatus, page Pagination, actor Identity) (domain.Page[Order], error) {
	if err := s.guard.CanManage(actor); err != nil {
		return domain.Page[Order]{}, err
	}
	parsed, err := domain.ParseOrderStatus(string(status))
	if err != nil {
		return domain.Page[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	normalised, err := s.normalisePagination(page, domain.OrderSortOrderDate)
	if err != nil {
		return domain.Page[Order]{}, err
	}
	result, err := s.orders.List(ctx, OrderListFilter{Statuses: []domain.OrderStatus{parsed}, Pagination: normalised})
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) CalculateAmount(ctx context.Context, productIDs []int64, quantities []int) (decimal.Decimal, error) {
	if len(productIDs) != len(quantities) {
		return decimal.Zero, fmt.Errorf("%w: %d product ids but %d quantities", ErrOrderInvalidInput, len(productIDs), len(quantities))
	}
	for i, quantity := range quantities {
		if productIDs[i] <= 0 {
			return decimal.Zero, fmt.Errorf("%w: product id at position %d is invalid", ErrOrderInvalidInput, i)
		}
		if quantity <= 0 {
			return decimal.Zero, fmt.Errorf("%w: quantity for product %d must be greater than zero", ErrOrderInvalidInput, productIDs[i])
		}
	}
	if len(productIDs) == 0 {
		return decimal.Zero, nil
	}

	products, err := s.products.FindByIDs(ctx, productIDs)
	if err != nil {
		return decimal.Zero, s.mapRepositoryError(err)
	}
	total := decimal.Zero
	for i, id := range productIDs {
		product, ok := products[id]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: product %d", ErrProductNotFound, id)
		}
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(quantities[i]))))
	}
	return total, nil
}

func (s *orderService) normalisePagination(page Pagination, defaultField domain.OrderSortField) (Pagination, error) {
	if page.Page < 0 {
		return Pagination{}, fmt.Errorf("%w: page must not be negative", ErrOrderInvalidInput)
	}
	switch {
	case page.Size <= 0:
		page.Size = s.pageSize
	case page.Size > s.maxPage:
		page.Size = s.maxPage
	}
	if page.Sort.Field == "" {
		page.Sort.Field = defaultField
	}
	if !slices.Contains(orderSortFields, page.Sort.Field) {
		return Pagination{}, fmt.Errorf("%w: unsupported sort field %q", ErrOrderInvalidInput, page.Sort.Field)
	}
	switch page.Sort.Order {
	case "":
		page.Sort.Order = domain.SortDesc
	case domain.SortAsc, domain.SortDesc:
	default:
		return Pagination{}, fmt.Errorf("%w: unsupported sort direction %q", ErrOrderInvalidInput, page.Sort.Order)
	}
	return page, nil
}

func (s *orderService) mapCustomerError(customerID int64, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: customer %d", ErrCustomerNotFound, customerID)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrOrderStatusChanged) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidTransition, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// mergeOrderLines validates requested lines and folds repeated products into one line,
// keeping first-seen order.
func mergeOrderLines(items []CreateOrderItem) ([]CreateOrderItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	merged := make([]CreateOrderItem, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		if item.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %d must be greater than zero", ErrOrderInvalidInput, item.ProductID)
		}
		if pos, ok := index[item.ProductID]; ok {
			merged[pos].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

// shippingSnapshot picks the requested shipping details, falling back to the customer's
// profile for blank fields. The result is copied onto the order and never re-synced.
func shippingSnapshot(address, phone string, customer domain.User) (string, string, error) {
	cleanAddress := textutil.CleanText(address)
	if cleanAddress == "" {
		cleanAddress = textutil.CleanText(customer.Address)
	}
	cleanPhone := textutil.DigitsOnly(textutil.CleanText(phone))
	if cleanPhone == "" {
		cleanPhone = textutil.DigitsOnly(customer.Phone)
	}
	if cleanAddress == "" {
		return "", "", fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	if utf8.RuneCountInString(cleanPhone) > maxShippingPhoneLength {
		return "", "", fmt.Errorf("%w: shipping phone must be at most %d characters", ErrOrderInvalidInput, maxShippingPhoneLength)
	}
	return cleanAddress, cleanPhone, nil
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
