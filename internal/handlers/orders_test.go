package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
	"github.com/oceanbutterfly/shop-api/internal/platform/auth"
	"github.com/oceanbutterfly/shop-api/internal/platform/idempotency"
	"github.com/oceanbutterfly/shop-api/internal/services"
)

type stubOrderService struct {
	createFn        func(context.Context, services.CreateOrderCommand) (services.Order, error)
	updateStatusFn  func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	paymentFn       func(context.Context, services.UpdatePaymentCommand) (services.Order, error)
	paymentStatusFn func(context.Context, services.UpdatePaymentStatusCommand) (services.Order, error)
	cancelFn        func(context.Context, services.CancelOrderCommand) (services.Order, error)
	deleteFn        func(context.Context, services.DeleteOrderCommand) error
	getFn           func(context.Context, int64, services.Identity) (services.Order, error)
	getByCodeFn     func(context.Context, string, services.Identity) (services.Order, error)
	listFn          func(context.Context, services.OrderListFilter, services.Identity) (domain.Page[services.Order], error)
	byCustomerFn    func(context.Context, int64, services.Pagination, services.Identity) (domain.Page[services.Order], error)
	byStatusFn      func(context.Context, services.OrderStatus, services.Pagination, services.Identity) (domain.Page[services.Order], error)
	amountFn        func(context.Context, []int64, []int) (decimal.Decimal, error)
}

var _ services.OrderService = (*stubOrderService)(nil)

var errStubNotImplemented = errors.New("not implemented")

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) UpdatePayment(ctx context.Context, cmd services.UpdatePaymentCommand) (services.Order, error) {
	if s.paymentFn != nil {
		return s.paymentFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) UpdatePaymentStatus(ctx context.Context, cmd services.UpdatePaymentStatusCommand) (services.Order, error) {
	if s.paymentStatusFn != nil {
		return s.paymentStatusFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errStubNotImplemented
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID int64, actor services.Identity) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) GetOrderByCode(ctx context.Context, code string, actor services.Identity) (services.Order, error) {
	if s.getByCodeFn != nil {
		return s.getByCodeFn(ctx, code, actor)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter, actor services.Identity) (domain.Page[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter, actor)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderService) ListOrdersByCustomer(ctx context.Context, customerID int64, page services.Pagination, actor services.Identity) (domain.Page[services.Order], error) {
	if s.byCustomerFn != nil {
		return s.byCustomerFn(ctx, customerID, page, actor)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderService) ListOrdersByStatus(ctx context.Context, status services.OrderStatus, page services.Pagination, actor services.Identity) (domain.Page[services.Order], error) {
	if s.byStatusFn != nil {
		return s.byStatusFn(ctx, status, page, actor)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderService) CalculateAmount(ctx context.Context, productIDs []int64, quantities []int) (decimal.Decimal, error) {
	if s.amountFn != nil {
		return s.amountFn(ctx, productIDs, quantities)
	}
	return decimal.Zero, errStubNotImplemented
}

var (
	handlerCustomer = &auth.Identity{UserID: 7, Account: "an.nguyen", Role: domain.RoleCustomer}
	handlerStaff    = &auth.Identity{UserID: 50, Account: "staff", Role: domain.RoleStaff}
	handlerAdmin    = &auth.Identity{UserID: 99, Account: "admin", Role: domain.RoleAdmin}
)

func sampleOrder() services.Order {
	placed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	cash := domain.PaymentMethodCash
	return services.Order{
		ID:              42,
		Code:            "DH00001234",
		CustomerID:      7,
		OrderDate:       placed,
		Status:          domain.OrderStatusNew,
		TotalAmount:     decimal.RequireFromString("59.97"),
		ShippingAddress: "12 Tran Phu, Da Nang",
		ShippingPhone:   "0905123456",
		PaymentMethod:   &cash,
		Items: []services.OrderItem{
			{ID: 1, OrderID: 42, ProductID: 10, Quantity: 3, UnitPrice: decimal.RequireFromString("19.99")},
		},
		CreatedAt: placed,
		UpdatedAt: placed,
	}
}

func newOrderRouter(h *OrderHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", h.Routes)
	return router
}

func serveAs(router http.Handler, identity *auth.Identity, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	rr := serveAs(router, handlerCustomer, http.MethodPost, "/orders",
		`{"items":[{"productId":10,"quantity":3}],"shippingPhone":"0905123456","paymentMethod":"cash"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/42" {
		t.Fatalf("unexpected location %q", loc)
	}
	if captured.Actor.UserID != 7 || captured.Actor.Role != domain.RoleCustomer {
		t.Fatalf("expected actor from identity, got %+v", captured.Actor)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != 10 || captured.Items[0].Quantity != 3 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if captured.PaymentMethod == nil || *captured.PaymentMethod != domain.PaymentMethodCash {
		t.Fatalf("expected CASH payment method, got %v", captured.PaymentMethod)
	}

	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["code"] != "DH00001234" {
		t.Fatalf("unexpected code %v", order["code"])
	}
	if order["totalAmount"] != "59.97" {
		t.Fatalf("expected totalAmount 59.97, got %v", order["totalAmount"])
	}
	items := order["items"].([]any)
	if line := items[0].(map[string]any); line["lineTotal"] != "59.97" || line["unitPrice"] != "19.99" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestOrderHandlersCreateOrderRejectsBadBodies(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			t.Fatalf("service must not be called")
			return services.Order{}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	cases := map[string]string{
		"malformed":      `{"items":`,
		"unknown field":  `{"items":[],"coupon":"X"}`,
		"payment method": `{"items":[{"productId":1,"quantity":1}],"paymentMethod":"BITCOIN"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := serveAs(router, handlerCustomer, http.MethodPost, "/orders", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), handlerCustomer))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubOrderService{}))

	rr := serveAs(router, nil, http.MethodGet, "/orders", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "unauthenticated" {
		t.Fatalf("expected unauthenticated error, got %v", body["error"])
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "insufficient stock", err: &services.InsufficientStockError{ProductID: 10, Available: 2, Requested: 3}, status: http.StatusConflict, code: "insufficient_stock"},
		{name: "invalid input", err: services.ErrOrderInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "not found", err: services.ErrOrderNotFound, status: http.StatusNotFound, code: "order_not_found"},
		{name: "customer not found", err: services.ErrCustomerNotFound, status: http.StatusNotFound, code: "customer_not_found"},
		{name: "product not found", err: services.ErrProductNotFound, status: http.StatusNotFound, code: "product_not_found"},
		{name: "forbidden", err: services.ErrOrderForbidden, status: http.StatusForbidden, code: "forbidden"},
		{name: "transition", err: services.ErrOrderInvalidTransition, status: http.StatusConflict, code: "invalid_transition"},
		{name: "exhausted", err: services.ErrCodeGenerationExhausted, status: http.StatusServiceUnavailable, code: "service_unavailable"},
		{name: "unexpected", err: errors.New("connection reset"), status: http.StatusInternalServerError, code: "internal_server_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubOrderService{
				getFn: func(context.Context, int64, services.Identity) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newOrderRouter(NewOrderHandlers(nil, service))

			rr := serveAs(router, handlerCustomer, http.MethodGet, "/orders/42", "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected error %s, got %v", tc.code, body["error"])
			}
			if tc.code == "internal_server_error" && strings.Contains(rr.Body.String(), "connection reset") {
				t.Fatalf("internal error details must not leak: %s", rr.Body.String())
			}
		})
	}
}

func TestOrderHandlersInsufficientStockDetails(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, &services.InsufficientStockError{ProductID: 10, Available: 2, Requested: 3}
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	rr := serveAs(router, handlerCustomer, http.MethodPost, "/orders", `{"items":[{"productId":10,"quantity":3}]}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["productId"] != float64(10) || body["available"] != float64(2) || body["requested"] != float64(3) {
		t.Fatalf("expected stock details, got %v", body)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var (
		captured services.OrderListFilter
		actor    services.Identity
	)
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter, identity services.Identity) (domain.Page[services.Order], error) {
			captured = filter
			actor = identity
			return domain.Page[services.Order]{
				Items:      []services.Order{sampleOrder()},
				Page:       1,
				Size:       5,
				TotalItems: 6,
				TotalPages: 2,
			}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	rr := serveAs(router, handlerStaff, http.MethodGet,
		"/orders?page=1&size=5&sort=totalAmount,asc&status=new,processing&customerId=7&from=2026-03-01&to=2026-03-31", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if actor.UserID != 50 || actor.Role != domain.RoleStaff {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if captured.Pagination.Page != 1 || captured.Pagination.Size != 5 {
		t.Fatalf("unexpected pagination %+v", captured.Pagination)
	}
	if captured.Pagination.Sort.Field != domain.OrderSortTotalAmount || captured.Pagination.Sort.Order != domain.SortAsc {
		t.Fatalf("unexpected sort %+v", captured.Pagination.Sort)
	}
	if len(captured.Statuses) != 2 || captured.Statuses[0] != domain.OrderStatusNew || captured.Statuses[1] != domain.OrderStatusProcessing {
		t.Fatalf("unexpected statuses %v", captured.Statuses)
	}
	if captured.CustomerID == nil || *captured.CustomerID != 7 {
		t.Fatalf("expected customer filter 7, got %v", captured.CustomerID)
	}
	wantTo := time.Date(2026, 3, 31, 23, 59, 59, 999999999, time.UTC)
	if captured.OrderDate.From == nil || !captured.OrderDate.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", captured.OrderDate.From)
	}
	if captured.OrderDate.To == nil || !captured.OrderDate.To.Equal(wantTo) {
		t.Fatalf("unexpected to %v", captured.OrderDate.To)
	}

	body := decodeBody(t, rr)
	if body["totalItems"] != float64(6) || body["totalPages"] != float64(2) || body["page"] != float64(1) {
		t.Fatalf("unexpected page metadata %v", body)
	}
	if items := body["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
}

func TestOrderHandlersListOrdersDefaultsLeaveSortToService(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter, _ services.Identity) (domain.Page[services.Order], error) {
			captured = filter
			return domain.Page[services.Order]{}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	rr := serveAs(router, handlerCustomer, http.MethodGet, "/orders?size=500", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.Pagination.Size != 100 {
		t.Fatalf("expected size clamped to 100, got %d", captured.Pagination.Size)
	}
	if captured.Pagination.Sort.Field != "" {
		t.Fatalf("expected empty sort so the service default applies, got %+v", captured.Pagination.Sort)
	}
	if items := decodeBody(t, rr)["items"].([]any); len(items) != 0 {
		t.Fatalf("expected empty items array, got %v", items)
	}
}

func TestOrderHandlersListOrdersRejectsBadQuery(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubOrderService{}))

	for _, query := range []string{
		"page=-1",
		"size=abc",
		"sort=password,desc",
		"status=LOST",
		"customerId=zero",
		"from=yesterday",
	} {
		t.Run(query, func(t *testing.T) {
			rr := serveAs(router, handlerAdmin, http.MethodGet, "/orders?"+query, "")
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestOrderHandlersListByCustomerAndStatus(t *testing.T) {
	var (
		customerID int64
		status     services.OrderStatus
	)
	service := &stubOrderService{
		byCustomerFn: func(_ context.Context, id int64, _ services.Pagination, _ services.Identity) (domain.Page[services.Order], error) {
			customerID = id
			return domain.Page[services.Order]{}, nil
		},
		byStatusFn: func(_ context.Context, s services.OrderStatus, _ services.Pagination, _ services.Identity) (domain.Page[services.Order], error) {
			status = s
			return domain.Page[services.Order]{}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	if rr := serveAs(router, handlerStaff, http.MethodGet, "/orders/user/7", ""); rr.Code != http.StatusOK {
		t.Fatalf("by customer: expected 200, got %d", rr.Code)
	}
	if customerID != 7 {
		t.Fatalf("expected customer 7, got %d", customerID)
	}
	if rr := serveAs(router, handlerStaff, http.MethodGet, "/orders/status/shipping", ""); rr.Code != http.StatusOK {
		t.Fatalf("by status: expected 200, got %d", rr.Code)
	}
	if status != domain.OrderStatusShipping {
		t.Fatalf("expected SHIPPING, got %s", status)
	}
	if rr := serveAs(router, handlerStaff, http.MethodGet, "/orders/status/lost", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", rr.Code)
	}
	if rr := serveAs(router, handlerStaff, http.MethodGet, "/orders/user/abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad user id: expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetByCode(t *testing.T) {
	var code string
	service := &stubOrderService{
		getByCodeFn: func(_ context.Context, c string, _ services.Identity) (services.Order, error) {
			code = c
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	rr := serveAs(router, handlerCustomer, http.MethodGet, "/orders/code/DH00001234", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if code != "DH00001234" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestOrderHandlersMutations(t *testing.T) {
	var (
		statusCmd  services.UpdateOrderStatusCommand
		paymentCmd services.UpdatePaymentCommand
		paidCmd    services.UpdatePaymentStatusCommand
		cancelCmd  services.CancelOrderCommand
		deleteCmd  services.DeleteOrderCommand
	)
	service := &stubOrderService{
		updateStatusFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			statusCmd = cmd
			return sampleOrder(), nil
		},
		paymentFn: func(_ context.Context, cmd services.UpdatePaymentCommand) (services.Order, error) {
			paymentCmd = cmd
			return sampleOrder(), nil
		},
		paymentStatusFn: func(_ context.Context, cmd services.UpdatePaymentStatusCommand) (services.Order, error) {
			paidCmd = cmd
			return sampleOrder(), nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			cancelCmd = cmd
			return sampleOrder(), nil
		},
		deleteFn: func(_ context.Context, cmd services.DeleteOrderCommand) error {
			deleteCmd = cmd
			return nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	if rr := serveAs(router, handlerStaff, http.MethodPut, "/orders/42/status?status=processing", ""); rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	if statusCmd.OrderID != 42 || statusCmd.Status != domain.OrderStatusProcessing || statusCmd.Actor.UserID != 50 {
		t.Fatalf("unexpected status command %+v", statusCmd)
	}

	if rr := serveAs(router, handlerStaff, http.MethodPut, "/orders/42/payment?paymentMethod=BANK_TRANSFER", ""); rr.Code != http.StatusOK {
		t.Fatalf("payment: expected 200, got %d", rr.Code)
	}
	if paymentCmd.Method != domain.PaymentMethodBankTransfer {
		t.Fatalf("unexpected payment command %+v", paymentCmd)
	}

	if rr := serveAs(router, handlerStaff, http.MethodPut, "/orders/42/payment-status?paid=true", ""); rr.Code != http.StatusOK {
		t.Fatalf("payment status: expected 200, got %d", rr.Code)
	}
	if !paidCmd.Paid {
		t.Fatalf("expected paid=true, got %+v", paidCmd)
	}

	if rr := serveAs(router, handlerCustomer, http.MethodPut, "/orders/42/cancel", ""); rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", rr.Code)
	}
	if cancelCmd.OrderID != 42 || cancelCmd.Actor.UserID != 7 {
		t.Fatalf("unexpected cancel command %+v", cancelCmd)
	}

	if rr := serveAs(router, handlerAdmin, http.MethodDelete, "/orders/42", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rr.Code)
	}
	if deleteCmd.OrderID != 42 || deleteCmd.Actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected delete command %+v", deleteCmd)
	}
}

func TestOrderHandlersMutationsRejectBadParams(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubOrderService{}))

	for _, target := range []string{
		"/orders/42/status?status=LOST",
		"/orders/42/status",
		"/orders/42/payment?paymentMethod=IOU",
		"/orders/42/payment-status?paid=maybe",
		"/orders/0/cancel",
		"/orders/abc/cancel",
	} {
		t.Run(target, func(t *testing.T) {
			rr := serveAs(router, handlerAdmin, http.MethodPut, target, "")
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestOrderHandlersCalculateAmount(t *testing.T) {
	var (
		ids []int64
		qty []int
	)
	service := &stubOrderService{
		amountFn: func(_ context.Context, productIDs []int64, quantities []int) (decimal.Decimal, error) {
			ids, qty = productIDs, quantities
			return decimal.RequireFromString("81.97"), nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, service))

	rr := serveAs(router, handlerCustomer, http.MethodGet, "/orders/calculate-amount?productIds=10,11&quantities=3,4", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(ids) != 2 || ids[1] != 11 || len(qty) != 2 || qty[1] != 4 {
		t.Fatalf("unexpected arguments %v %v", ids, qty)
	}
	if body := decodeBody(t, rr); body["totalAmount"] != "81.97" {
		t.Fatalf("expected 81.97, got %v", body["totalAmount"])
	}

	if rr := serveAs(router, handlerCustomer, http.MethodGet, "/orders/calculate-amount?productIds=a&quantities=1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad ids, got %d", rr.Code)
	}
}

func TestOrderHandlersBearerAuthentication(t *testing.T) {
	authn, err := auth.NewAuthenticator("test-signing-secret")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	var actor services.Identity
	service := &stubOrderService{
		getFn: func(_ context.Context, _ int64, identity services.Identity) (services.Order, error) {
			actor = identity
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(authn, service))

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	token, err := authn.Issue(*handlerCustomer, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rr.Code, rr.Body.String())
	}
	if actor.UserID != 7 || actor.Role != domain.RoleCustomer {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestOrderHandlersCreateOrderIdempotent(t *testing.T) {
	var calls atomic.Int32
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			calls.Add(1)
			return sampleOrder(), nil
		},
	}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithOptionalKey())
	router := newOrderRouter(NewOrderHandlers(nil, service, WithOrderIdempotency(mw)))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"items":[{"productId":10,"quantity":3}]}`))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		req = req.WithContext(auth.WithIdentity(req.Context(), handlerCustomer))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send("order-1")
	second := send("order-1")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both 201, got %d and %d", first.Code, second.Code)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one order placement for a repeated key, got %d", calls.Load())
	}

	if rr := send(""); rr.Code != http.StatusCreated {
		t.Fatalf("expected keyless create to pass through, got %d", rr.Code)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected keyless create to reach the service, got %d calls", calls.Load())
	}
}
