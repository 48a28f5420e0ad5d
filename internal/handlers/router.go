package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oceanbutterfly/shop-api/internal/platform/httpx"
)

const (
	apiBasePath           = "/api/v1"
	defaultHandlerTimeout = 30 * time.Second
)

// RouteRegistrar mounts a route group.
type RouteRegistrar func(r chi.Router)

type routerSettings struct {
	basePath string
	timeout  time.Duration
	extra    []func(http.Handler) http.Handler
	health   *HealthHandlers
	orders   RouteRegistrar
}

// Option adjusts NewRouter.
type Option func(*routerSettings)

// WithMiddlewares runs mw after the request id, real ip and timeout middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(s *routerSettings) {
		s.extra = append(s.extra, mw...)
	}
}

// WithHandlerTimeout bounds each request. Values <= 0 keep the default.
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *routerSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(s *routerSettings) {
		s.health = h
	}
}

func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(s *routerSettings) {
		s.orders = reg
	}
}

// NewRouter serves the probes at the root and the order API under /api/v1/orders.
// Without an order registrar the group answers 503.
func NewRouter(opts ...Option) chi.Router {
	settings := routerSettings{basePath: apiBasePath, timeout: defaultHandlerTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if settings.health == nil {
		settings.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(settings.timeout))
	for _, mw := range settings.extra {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		msg := strings.Join([]string{"method", req.Method, "not allowed on", req.URL.Path}, " ")
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", msg, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", settings.health.Healthz)
	r.Get("/readyz", settings.health.Readyz)

	r.Route(settings.basePath+"/orders", func(orders chi.Router) {
		if settings.orders == nil {
			orders.HandleFunc("/", ordersUnavailable)
			orders.HandleFunc("/*", ordersUnavailable)
			return
		}
		settings.orders(orders)
	})
	return r
}

func ordersUnavailable(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("orders_unavailable", "order service is not configured", http.StatusServiceUnavailable))
}
