package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oceanbutterfly/shop-api/internal/platform/auth"
	"github.com/oceanbutterfly/shop-api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger is satisfied by observability.PrintfAdapter.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type guard struct {
	store      Store
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     Logger
	optional   bool
}

// MiddlewareOption customises the middleware.
type MiddlewareOption func(*guard)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.headerName = name
		}
	}
}

// WithTTL sets how long a completed response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods limits the guarded HTTP methods. The default is every mutating method.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithLogger receives store failures that do not reach the client.
func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithOptionalKey lets requests without the header through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) {
		g.optional = true
	}
}

// WithClock overrides the time source.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware makes retried mutations safe: the first request with a key runs the handler and
// its response is stored, later requests with the same key and body get the stored response.
// Keys are scoped to the authenticated user. Server errors are not stored so the client may
// retry them.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	g := &guard{
		store:      store,
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	if _, guarded := g.methods[r.Method]; !guarded {
		next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.headerName))
	if key == "" {
		if g.optional {
			next.ServeHTTP(w, r)
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.headerName+" header", http.StatusBadRequest))
		return
	}

	body, err := readAndReplayBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_read_body_failed", "unable to read request body", http.StatusBadRequest))
		return
	}

	requester := extractRequester(ctx)
	fingerprint := requestFingerprint(r, body, requester)
	scoped := scopedKey(key, requester)

	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.clock().UTC(), g.ttl)
	if err != nil {
		g.storeFailure(ctx, w, err)
		return
	}
	switch reservation.State {
	case ReservationStateCompleted:
		writeStoredResponse(w, reservation.Record)
		return
	case ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	case ReservationStateNew:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unknown_state", "unexpected idempotency state", http.StatusInternalServerError))
		return
	}

	buffered := newBufferedResponse()
	next.ServeHTTP(buffered, r)

	if buffered.status >= http.StatusInternalServerError {
		g.release(ctx, scoped, fingerprint)
		g.flush(w, buffered)
		return
	}

	resp := Response{Status: buffered.status, Headers: buffered.header.Clone(), Body: buffered.body.Bytes()}
	if err := g.store.SaveResponse(ctx, scoped, fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: persist response for %s: %v", requester, err)
		g.release(ctx, scoped, fingerprint)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}
	g.flush(w, buffered)
}

func (g *guard) storeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	}
	g.logf("idempotency: store error: %v", err)
	httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
}

func (g *guard) release(ctx context.Context, key, fingerprint string) {
	if err := g.store.Release(ctx, key, fingerprint); err != nil {
		g.logf("idempotency: release key: %v", err)
	}
}

func (g *guard) flush(w http.ResponseWriter, buffered *bufferedResponse) {
	if err := buffered.copyTo(w); err != nil {
		g.logf("idempotency: write response: %v", err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint identifies what was asked, so a key reused for another order is rejected.
func requestFingerprint(r *http.Request, body []byte, requester string) string {
	h := sha256.New()
	for _, part := range []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
	} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UserID > 0 {
		return "user:" + strconv.FormatInt(identity.UserID, 10)
	}
	return "anonymous"
}

func scopedKey(key, requester string) string {
	if requester = strings.TrimSpace(requester); requester == "" {
		requester = "anonymous"
	}
	return strings.TrimSpace(key) + "|" + requester
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for name, values := range record.header() {
		dst[name] = values
	}
	dst.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// bufferedResponse holds the handler output until the store decides what to do with it.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	return b.body.Write(data)
}

func (b *bufferedResponse) copyTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.status)
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
