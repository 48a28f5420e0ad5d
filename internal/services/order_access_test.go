package services

import (
	"errors"
	"testing"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
)

func TestOrderAccessGuard(t *testing.T) {
	guard := OrderAccessGuard{}
	owned := Order{ID: 7, CustomerID: testCustomerA}

	cases := []struct {
		name      string
		actor     Identity
		canRead   bool
		canDelete bool
		canManage bool
	}{
		{name: "owner", actor: customerA, canRead: true},
		{name: "other customer", actor: customerB},
		{name: "anonymous", actor: Identity{}},
		{name: "customer without id", actor: Identity{Role: domain.RoleCustomer}},
		{name: "staff", actor: staff, canRead: true, canManage: true},
		{name: "admin", actor: admin, canRead: true, canDelete: true, canManage: true},
	}

	check := func(t *testing.T, op string, err error, allowed bool) {
		t.Helper()
		if allowed && err != nil {
			t.Fatalf("%s: expected allowed, got %v", op, err)
		}
		if !allowed && !errors.Is(err, ErrOrderForbidden) {
			t.Fatalf("%s: expected ErrOrderForbidden, got %v", op, err)
		}
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check(t, "read", guard.CanRead(tc.actor, owned), tc.canRead)
			check(t, "cancel", guard.CanCancel(tc.actor, owned), tc.canRead)
			check(t, "delete", guard.CanDelete(tc.actor), tc.canDelete)
			check(t, "manage", guard.CanManage(tc.actor), tc.canManage)
		})
	}
}
