package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res, err := store.Reserve(ctx, "k1", "fp", testNow, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v / %v", res, err)
	}
	res, err = store.Reserve(ctx, "k1", "fp", testNow, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v / %v", res, err)
	}
	if _, err := store.Reserve(ctx, "k1", "other", testNow, time.Hour); err != ErrFingerprintMismatch {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}

	headers := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"12"}}
	if err := store.SaveResponse(ctx, "k1", "fp", Response{Status: http.StatusCreated, Headers: headers, Body: []byte(`{"id":1}`)}, testNow, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = store.Reserve(ctx, "k1", "fp", testNow.Add(time.Minute), time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v / %v", res, err)
	}
	if _, ok := res.Record.ResponseHeaders["Content-Length"]; ok {
		t.Fatalf("hop-by-hop headers must not be stored")
	}

	removed, err := store.CleanupExpired(ctx, testNow.Add(2*time.Hour), 10)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 expired record removed, got %d / %v", removed, err)
	}
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	if _, err := NewRedisStore(nil, ""); err == nil {
		t.Fatalf("expected error without client")
	}
}

func TestRedisStoreKeysArePrefixed(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer func() { _ = client.Close() }()

	store, err := NewRedisStore(client, "")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	key := store.redisKey("abc")
	if key != defaultRedisPrefix+recordID("abc") {
		t.Fatalf("unexpected key %q", key)
	}

	custom, _ := NewRedisStore(client, "shop:idem:")
	if got := custom.redisKey("abc"); got != "shop:idem:"+recordID("abc") {
		t.Fatalf("unexpected custom key %q", got)
	}
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = client.Close() }()

	store, err := NewRedisStore(client, "")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	if _, err := store.Reserve(context.Background(), "k", "fp", testNow, time.Minute); err == nil {
		t.Fatalf("expected reserve to fail without a server")
	}
}

func TestRunCleanupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunCleanup(ctx, NewMemoryStore(), 5*time.Millisecond, 10, nil)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cleanup loop did not stop")
	}
}
