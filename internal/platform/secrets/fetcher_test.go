package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// secretStore fakes Secret Manager keyed by full version resource name.
type secretStore struct {
	mu     sync.Mutex
	data   map[string]string
	failed map[string]error
	hits   map[string]int
	closed bool
}

func newSecretStore() *secretStore {
	return &secretStore{data: map[string]string{}, failed: map[string]error{}, hits: map[string]int{}}
}

func (s *secretStore) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[req.GetName()]++
	if err := s.failed[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := s.data[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "no such secret")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (s *secretStore) Close() error {
	s.closed = true
	return nil
}

func (s *secretStore) put(name, value string) {
	s.mu.Lock()
	s.data[name] = value
	s.mu.Unlock()
}

func (s *secretStore) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[name]
}

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

const jwtResource = "projects/shop-prod/secrets/jwt_signing_key/versions/latest"

func TestFetcherCachesRemoteValue(t *testing.T) {
	store := newSecretStore()
	store.put(jwtResource, "s3cr3t")
	f, err := NewFetcher(context.Background(), WithSecretManagerClient(store), WithDefaultProject("shop-prod"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := f.Resolve(context.Background(), "secret://jwt_signing_key")
		if err != nil || got != "s3cr3t" {
			t.Fatalf("resolve %d: got %q, %v", i, got, err)
		}
	}
	if n := store.count(jwtResource); n != 1 {
		t.Fatalf("expected one remote access, got %d", n)
	}
	if err := f.Close(); err != nil || store.closed {
		t.Fatalf("injected clients must not be closed by the fetcher")
	}
}

func TestFetcherInvalidateRefetches(t *testing.T) {
	store := newSecretStore()
	store.put(jwtResource, "before")
	f, err := NewFetcher(context.Background(), WithSecretManagerClient(store), WithDefaultProject("shop-prod"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := f.Resolve(context.Background(), "secret://jwt_signing_key"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	store.put(jwtResource, "after")
	f.Invalidate("sm://jwt_signing_key")

	got, err := f.Resolve(context.Background(), "secret://jwt_signing_key")
	if err != nil || got != "after" {
		t.Fatalf("expected rotated value, got %q, %v", got, err)
	}
}

func TestFetcherVersionAndProjectOverride(t *testing.T) {
	store := newSecretStore()
	store.put("projects/shared/secrets/db_password/versions/3", "v3")
	f, err := NewFetcher(context.Background(), WithSecretManagerClient(store), WithDefaultProject("shop-prod"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	got, err := f.Resolve(context.Background(), "secret://db_password?version=3&project=shared")
	if err != nil || got != "v3" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestFetcherFallback(t *testing.T) {
	path := writeFallback(t, "# local\nsecret://jwt_signing_key=local-jwt\nsm://db_password=local-db\nnot a ref\n")

	cases := []struct {
		name    string
		remote  error
		ref     string
		want    string
		wantErr bool
	}{
		{name: "permission denied", remote: status.Error(codes.PermissionDenied, "denied"), ref: "secret://jwt_signing_key", want: "local-jwt"},
		{name: "unavailable", remote: status.Error(codes.Unavailable, "down"), ref: "secret://jwt_signing_key?version=4", want: "local-jwt"},
		{name: "not found is authoritative", remote: status.Error(codes.NotFound, "gone"), ref: "secret://jwt_signing_key", wantErr: true},
		{name: "legacy scheme key", remote: status.Error(codes.Unauthenticated, "no creds"), ref: "secret://db_password", want: "local-db"},
		{name: "absent everywhere", remote: status.Error(codes.Unavailable, "down"), ref: "secret://redis_password", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newSecretStore()
			ref, err := ParseRef(tc.ref)
			if err != nil {
				t.Fatalf("ParseRef: %v", err)
			}
			store.failed[ref.resource("shop-prod")] = tc.remote

			f, err := NewFetcher(context.Background(), WithSecretManagerClient(store), WithDefaultProject("shop-prod"), WithFallbackFile(path))
			if err != nil {
				t.Fatalf("NewFetcher: %v", err)
			}
			got, err := f.Resolve(context.Background(), tc.ref)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q, %v", got, err)
			}
		})
	}
}

func TestFetcherWithoutClientOrProjectUsesFallback(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("could not find default credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	f, err := NewFetcher(context.Background(), WithFallbackFile(writeFallback(t, "secret://db_password=dev\n")))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := f.Resolve(context.Background(), "sm://db_password")
	if err != nil || got != "dev" {
		t.Fatalf("got %q, %v", got, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef(" sm://jwt_signing_key?version=7&project=ops ")
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	if ref.Name != "jwt_signing_key" || ref.Version != "7" || ref.Project != "ops" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if got := ref.resource("ignored"); got != "projects/ops/secrets/jwt_signing_key/versions/7" {
		t.Fatalf("unexpected resource %s", got)
	}
	if got := (Ref{Name: "x", Version: latestVersion}).resource(""); got != "" {
		t.Fatalf("expected no resource without a project, got %s", got)
	}

	for _, bad := range []string{"", "secret://", "https://vault/x", "db_password"} {
		if _, err := ParseRef(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestParseFallbackKeepsValueEquals(t *testing.T) {
	values, err := parseFallback(strings.NewReader("secret://api_token=abc==\n"))
	if err != nil {
		t.Fatalf("parseFallback: %v", err)
	}
	if values["api_token"] != "abc==" {
		t.Fatalf("unexpected value %q", values["api_token"])
	}
}
