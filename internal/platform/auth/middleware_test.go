package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
)

const testSecret = "test-signing-secret"

func newTestAuthenticator(t *testing.T, now time.Time, opts ...Option) *Authenticator {
	t.Helper()
	opts = append(opts, WithClock(func() time.Time { return now }))
	authn, err := NewAuthenticator(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return authn
}

func TestRequireAuth_AllowsValidToken(t *testing.T) {
	now := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	authn := newTestAuthenticator(t, now, WithIssuer("shop-api"))

	token, err := authn.Issue(Identity{UserID: 42, Account: "linh", Role: domain.RoleStaff}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	called := false
	handler := authn.RequireAuth(domain.RoleStaff, domain.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UserID != 42 {
			t.Fatalf("expected user id 42, got %d", identity.UserID)
		}
		if identity.Account != "linh" {
			t.Fatalf("expected account linh, got %q", identity.Account)
		}
		if !identity.HasRole(domain.RoleStaff) {
			t.Fatalf("expected staff role, got %s", identity.Role)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	authn := newTestAuthenticator(t, time.Now())
	handler := authn.RequireAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "unauthenticated" {
		t.Fatalf("expected unauthenticated error, got %v", body["error"])
	}
}

func TestRequireAuth_RejectsRoleOutsideAllowList(t *testing.T) {
	now := time.Now()
	authn := newTestAuthenticator(t, now)
	token, err := authn.Issue(Identity{UserID: 7, Role: domain.RoleCustomer}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	handler := authn.RequireAuth(domain.RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	}))
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	issuedAt := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	issuer := newTestAuthenticator(t, issuedAt)
	token, err := issuer.Issue(Identity{UserID: 1, Role: domain.RoleAdmin}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier := newTestAuthenticator(t, issuedAt.Add(time.Hour))
	if _, err := verifier.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerify_RejectsForeignSignature(t *testing.T) {
	claims := jwt.MapClaims{"uid": 3, "role": "ADMIN", "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	authn := newTestAuthenticator(t, time.Now())
	if _, err := authn.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_AcceptsShortRoleCodes(t *testing.T) {
	now := time.Now()
	claims := jwt.MapClaims{"uid": "12", "role": "ADM", "sub": "root", "exp": now.Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	identity, err := newTestAuthenticator(t, now).Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != 12 || identity.Role != domain.RoleAdmin {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestVerify_RejectsUnknownRole(t *testing.T) {
	now := time.Now()
	claims := jwt.MapClaims{"uid": 5, "role": "guest", "exp": now.Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestAuthenticator(t, now).Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
