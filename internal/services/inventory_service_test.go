package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
)

func newLedgerFixture(t *testing.T, stock int) (*memStore, InventoryLedger) {
	t.Helper()
	store := newMemStore()
	store.products[testProductP] = domain.Product{ID: testProductP, Price: decimal.NewFromInt(3), StockQuantity: stock}
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{Products: memProducts{s: store}})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return store, ledger
}

func TestNewInventoryLedgerRequiresProducts(t *testing.T) {
	if _, err := NewInventoryLedger(InventoryLedgerDeps{}); err == nil {
		t.Fatalf("expected error without product repository")
	}
}

func TestInventoryLedgerReserveAndRelease(t *testing.T) {
	store, ledger := newLedgerFixture(t, 5)
	ctx := context.Background()

	if err := ledger.Reserve(ctx, testProductP, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := store.stock(testProductP); got != 2 {
		t.Fatalf("expected 2 after reserve, got %d", got)
	}
	if err := ledger.Release(ctx, testProductP, 3); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := store.stock(testProductP); got != 5 {
		t.Fatalf("expected round trip back to 5, got %d", got)
	}
}

func TestInventoryLedgerReserveInsufficient(t *testing.T) {
	var events []string
	store := newMemStore()
	store.products[testProductP] = domain.Product{ID: testProductP, StockQuantity: 2}
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{
		Products: memProducts{s: store},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	err = ledger.Reserve(context.Background(), testProductP, 3)
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected errors.Is to match ErrInsufficientStock")
	}
	if stockErr.Available != 2 || stockErr.Requested != 3 {
		t.Fatalf("unexpected counters %+v", stockErr)
	}
	if got := store.stock(testProductP); got != 2 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
	if len(events) != 1 || events[0] != "inventory.reserve.rejected" {
		t.Fatalf("expected rejection to be logged, got %v", events)
	}
}

func TestInventoryLedgerRejectsBadInput(t *testing.T) {
	_, ledger := newLedgerFixture(t, 5)
	ctx := context.Background()

	for _, quantity := range []int{0, -1} {
		if err := ledger.Reserve(ctx, testProductP, quantity); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("reserve %d: expected ErrInventoryInvalidInput, got %v", quantity, err)
		}
		if err := ledger.Release(ctx, testProductP, quantity); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("release %d: expected ErrInventoryInvalidInput, got %v", quantity, err)
		}
	}
}

func TestInventoryLedgerMissingProduct(t *testing.T) {
	_, ledger := newLedgerFixture(t, 5)
	ctx := context.Background()

	if err := ledger.Reserve(ctx, 404, 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("reserve: expected ErrProductNotFound, got %v", err)
	}
	if err := ledger.Release(ctx, 404, 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("release: expected ErrProductNotFound, got %v", err)
	}
}

func TestInventoryLedgerReleaseIsUnbounded(t *testing.T) {
	store, ledger := newLedgerFixture(t, 5)

	if err := ledger.Release(context.Background(), testProductP, 10); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := store.stock(testProductP); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
}

func TestInventoryLedgerConcurrentReservesNeverOversell(t *testing.T) {
	store, ledger := newLedgerFixture(t, 20)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Reserve(context.Background(), testProductP, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case !errors.Is(err, ErrInsufficientStock):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != 20 {
		t.Fatalf("expected 20 reservations, got %d", got)
	}
	if got := store.stock(testProductP); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}
