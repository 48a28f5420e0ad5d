package observability

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oceanbutterfly/shop-api/internal/platform/auth"
	"github.com/oceanbutterfly/shop-api/internal/platform/httpx"
	"github.com/oceanbutterfly/shop-api/internal/platform/requestctx"
)

// InjectLoggerMiddleware makes logger the request scoped logger.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// callerSlot is filled by IdentityLoggerMiddleware, which runs deeper in the chain than the
// request logger that reports it.
type callerSlot struct {
	userID int64
}

type callerSlotKey struct{}

type requestLog struct {
	logger *zap.Logger
	caller *callerSlot
	start  time.Time
}

// RequestLoggerMiddleware writes one "request completed" line per request. The level follows
// the status: info below 400, warn for 4xx, error for 5xx and panics.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			entry := &requestLog{
				logger: WithRequestFields(requestctx.Logger(ctx),
					zap.String("request_id", middleware.GetReqID(ctx)),
					zap.String("method", SanitizeMethod(r.Method)),
					zap.String("path", sanitizeString(r.URL.Path, 180)),
					zap.String("trace_id", requestctx.TraceID(ctx)),
					zap.String("remote_ip", remoteIP(r.RemoteAddr)),
				),
				caller: &callerSlot{},
				start:  time.Now(),
			}
			ctx = requestctx.WithLogger(ctx, entry.logger)
			ctx = context.WithValue(ctx, callerSlotKey{}, entry.caller)
			r = r.WithContext(ctx)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			completed := false
			defer func() {
				entry.finish(r, ww, !completed)
			}()
			next.ServeHTTP(ww, r)
			completed = true
		})
	}
}

// finish runs while a panic may still be unwinding towards RecoveryMiddleware.
func (l *requestLog) finish(r *http.Request, ww middleware.WrapResponseWriter, panicked bool) {
	status := ww.Status()
	switch {
	case panicked && status < http.StatusInternalServerError:
		status = http.StatusInternalServerError
	case status == 0:
		status = http.StatusOK
	}
	route := SanitizeRoute(routePattern(r))
	annotateSpan(trace.SpanFromContext(r.Context()), route, status)

	fields := []zap.Field{
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(l.start)),
		zap.Int("bytes", ww.BytesWritten()),
	}
	if l.caller.userID > 0 {
		fields = append(fields, zap.String("user_id", strconv.FormatInt(l.caller.userID, 10)))
	}
	level := zapcore.InfoLevel
	if status >= http.StatusInternalServerError {
		level = zapcore.ErrorLevel
	} else if status >= http.StatusBadRequest {
		level = zapcore.WarnLevel
	}
	if ce := l.logger.Check(level, "request completed"); ce != nil {
		ce.Write(fields...)
	}
}

// RecoveryMiddleware turns a panic into a logged stack and a 500 envelope.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger, ok := requestctx.LoggerFrom(r.Context())
				if !ok {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(r.Context(), w, httpx.ErrInternal)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityLoggerMiddleware belongs after authentication. It tags the scoped logger with the
// caller and reports the caller to the request completion line.
func IdentityLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := auth.IdentityFromContext(ctx)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if slot, ok := ctx.Value(callerSlotKey{}).(*callerSlot); ok {
				slot.userID = identity.UserID
			}
			logger := requestctx.Logger(ctx).With(
				zap.Int64("user_id", identity.UserID),
				zap.String("role", identity.Role.String()),
			)
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(ctx, logger)))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

func annotateSpan(span trace.Span, route string, status int) {
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
