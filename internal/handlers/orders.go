package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
	"github.com/oceanbutterfly/shop-api/internal/platform/auth"
	"github.com/oceanbutterfly/shop-api/internal/platform/httpx"
	"github.com/oceanbutterfly/shop-api/internal/platform/pagination"
	"github.com/oceanbutterfly/shop-api/internal/platform/requestctx"
	"github.com/oceanbutterfly/shop-api/internal/services"
)

const maxOrderBodySize = 64 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

var orderSortOptions = pagination.Options{
	DefaultPageSize: pagination.DefaultPageSize,
	MaxPageSize:     pagination.DefaultMaxPageSize,
	AllowedSortFields: []string{
		string(domain.OrderSortID),
		string(domain.OrderSortCode),
		string(domain.OrderSortOrderDate),
		string(domain.OrderSortCreatedAt),
		string(domain.OrderSortTotalAmount),
	},
}

// OrderHandlers exposes the /orders endpoints to authenticated users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation with the supplied idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}

	r.Get("/", h.listOrders)
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/calculate-amount", h.calculateAmount)
	r.Get("/code/{orderCode}", h.getOrderByCode)
	r.Get("/user/{userId}", h.listOrdersByCustomer)
	r.Get("/status/{status}", h.listOrdersByStatus)
	r.Get("/{orderId}", h.getOrder)
	r.Delete("/{orderId}", h.deleteOrder)
	r.Put("/{orderId}/status", h.updateStatus)
	r.Put("/{orderId}/payment", h.updatePayment)
	r.Put("/{orderId}/payment-status", h.updatePaymentStatus)
	r.Put("/{orderId}/cancel", h.cancelOrder)
}

type createOrderRequest struct {
	CustomerID      int64                    `json:"customerId"`
	Items           []createOrderItemRequest `json:"items"`
	ShippingAddress string                   `json:"shippingAddress"`
	ShippingPhone   string                   `json:"shippingPhone"`
	PaymentMethod   string                   `json:"paymentMethod"`
}

type createOrderItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req createOrderRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerID:      req.CustomerID,
		ShippingAddress: req.ShippingAddress,
		ShippingPhone:   req.ShippingPhone,
		Actor:           actor,
	}
	if raw := strings.TrimSpace(req.PaymentMethod); raw != "" {
		method, err := domain.ParsePaymentMethod(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentMethod must be one of CASH, BANK_TRANSFER, CARD", http.StatusBadRequest))
			return
		}
		cmd.PaymentMethod = &method
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/orders/%d", apiBasePath, order.ID))
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}

	page, ok := parseOrderPagination(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	filter := services.OrderListFilter{Pagination: page}
	for _, raw := range parseFilterValues(query["status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown status %q", raw), http.StatusBadRequest))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := strings.TrimSpace(query.Get("customerId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "customerId must be a positive integer", http.StatusBadRequest))
			return
		}
		filter.CustomerID = &id
	}
	for _, bound := range []struct {
		name   string
		target **time.Time
		endOf  bool
	}{
		{name: "from", target: &filter.OrderDate.From},
		{name: "to", target: &filter.OrderDate.To, endOf: true},
	} {
		raw := strings.TrimSpace(query.Get(bound.name))
		if raw == "" {
			continue
		}
		ts, err := parseDateParam(raw, bound.endOf)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("%s must be a date (YYYY-MM-DD) or RFC3339 timestamp", bound.name), http.StatusBadRequest))
			return
		}
		*bound.target = &ts
	}

	result, err := h.orders.ListOrders(ctx, filter, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPage(result))
}

func (h *OrderHandlers) listOrdersByCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	customerID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	page, ok := parseOrderPagination(w, r)
	if !ok {
		return
	}

	result, err := h.orders.ListOrdersByCustomer(ctx, customerID, page, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPage(result))
}

func (h *OrderHandlers) listOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	status, err := domain.ParseOrderStatus(chi.URLParam(r, "status"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest))
		return
	}
	page, ok := parseOrderPagination(w, r)
	if !ok {
		return
	}

	result, err := h.orders.ListOrdersByStatus(ctx, status, page, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPage(result))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "orderCode"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order code is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrderByCode(ctx, code, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}
	status, err := domain.ParseOrderStatus(r.URL.Query().Get("status"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{OrderID: orderID, Status: status, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}
	method, err := domain.ParsePaymentMethod(r.URL.Query().Get("paymentMethod"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentMethod must be one of CASH, BANK_TRANSFER, CARD", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdatePayment(ctx, services.UpdatePaymentCommand{OrderID: orderID, Method: method, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}
	paid, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("paid")))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paid must be true or false", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdatePaymentStatus(ctx, services.UpdatePaymentStatusCommand{OrderID: orderID, Paid: paid, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{OrderID: orderID, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}

	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{OrderID: orderID, Actor: actor}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) calculateAmount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.begin(w, r); !ok {
		return
	}

	query := r.URL.Query()
	productIDs, err := parseInt64List(query.Get("productIds"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productIds must be a comma separated list of integers", http.StatusBadRequest))
		return
	}
	quantities, err := parseIntList(query.Get("quantities"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantities must be a comma separated list of integers", http.StatusBadRequest))
		return
	}

	amount, err := h.orders.CalculateAmount(ctx, productIDs, quantities)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"totalAmount": amount.StringFixed(2)})
}

// begin resolves the caller identity. It writes the error response itself when it returns false.
func (h *OrderHandlers) begin(w http.ResponseWriter, r *http.Request) (services.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return services.Identity{}, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.UserID <= 0 {
		httpx.WriteError(ctx, w, httpx.ErrUnauthenticated)
		return services.Identity{}, false
	}
	return services.Identity{UserID: identity.UserID, Role: identity.Role}, true
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPagePayload struct {
	Items      []orderPayload `json:"items"`
	Page       int            `json:"page"`
	Size       int            `json:"size"`
	TotalItems int64          `json:"totalItems"`
	TotalPages int            `json:"totalPages"`
}

type orderPayload struct {
	ID              int64              `json:"id"`
	Code            string             `json:"code"`
	CustomerID      int64              `json:"customerId"`
	OrderDate       string             `json:"orderDate"`
	Status          string             `json:"status"`
	TotalAmount     string             `json:"totalAmount"`
	ShippingAddress string             `json:"shippingAddress"`
	ShippingPhone   string             `json:"shippingPhone"`
	PaymentMethod   string             `json:"paymentMethod,omitempty"`
	PaymentDate     string             `json:"paymentDate,omitempty"`
	Items           []orderItemPayload `json:"items"`
	CreatedAt       string             `json:"createdAt,omitempty"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

type orderItemPayload struct {
	ID        int64  `json:"id,omitempty"`
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal"`
}

func buildOrderPage(page domain.Page[services.Order]) orderPagePayload {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderPagePayload{
		Items:      items,
		Page:       page.Page,
		Size:       page.Size,
		TotalItems: page.TotalItems,
		TotalPages: page.TotalPages,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Code:            order.Code,
		CustomerID:      order.CustomerID,
		OrderDate:       formatTime(order.OrderDate),
		Status:          order.Status.String(),
		TotalAmount:     order.TotalAmount.StringFixed(2),
		ShippingAddress: order.ShippingAddress,
		ShippingPhone:   order.ShippingPhone,
		PaymentDate:     formatTime(pointerTime(order.PaymentDate)),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.PaymentMethod != nil {
		payload.PaymentMethod = order.PaymentMethod.String()
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal().StringFixed(2),
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var stockErr *services.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"productId": stockErr.ProductID,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		}))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCodeGenerationExhausted), errors.Is(err, services.ErrOrderUnavailable):
		requestctx.Logger(ctx).Warn("order request unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.ErrInternal)
	}
}

func parseOrderPagination(w http.ResponseWriter, r *http.Request) (services.Pagination, bool) {
	params, err := pagination.FromRequest(r, orderSortOptions)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.Pagination{}, false
	}
	page := services.Pagination{Page: params.Page, Size: params.Size}
	if params.Sort.Field != "" {
		page.Sort.Field = domain.OrderSortField(params.Sort.Field)
		page.Sort.Order = domain.SortAsc
		if params.Sort.Desc {
			page.Sort.Order = domain.SortDesc
		}
	}
	return page, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, param)), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", fmt.Sprintf("%s must be a positive integer", param), http.StatusBadRequest))
		return 0, false
	}
	return id, true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

// parseDateParam accepts RFC3339 timestamps or plain dates. A plain date used as an upper
// bound covers the whole day.
func parseDateParam(value string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

func parseInt64List(raw string) ([]int64, error) {
	parts := splitList(raw)
	values := make([]int64, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func parseIntList(raw string) ([]int, error) {
	parts := splitList(raw)
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func splitList(raw string) []string {
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
