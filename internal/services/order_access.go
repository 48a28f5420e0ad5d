package services

import (
	"fmt"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
)

// OrderAccessGuard decides whether an identity may act on a given order.
type OrderAccessGuard struct{}

// CanRead allows admins and staff everywhere and customers on their own orders only.
func (OrderAccessGuard) CanRead(actor Identity, order Order) error {
	return checkOwnership(actor, order, "read")
}

// CanCancel follows the same ownership rule as CanRead.
func (OrderAccessGuard) CanCancel(actor Identity, order Order) error {
	return checkOwnership(actor, order, "cancel")
}

// CanDelete allows admins only, whoever owns the order.
func (OrderAccessGuard) CanDelete(actor Identity) error {
	if actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: only administrators may delete orders", ErrOrderForbidden)
	}
	return nil
}

// CanManage gates status and payment changes to admins and staff.
func (OrderAccessGuard) CanManage(actor Identity) error {
	if !actor.Role.IsPrivileged() {
		return fmt.Errorf("%w: role %q may not manage orders", ErrOrderForbidden, actor.Role)
	}
	return nil
}

func checkOwnership(actor Identity, order Order, action string) error {
	if actor.Role.IsPrivileged() {
		return nil
	}
	if actor.Role == domain.RoleCustomer && actor.UserID > 0 && order.CustomerID == actor.UserID {
		return nil
	}
	return fmt.Errorf("%w: user %d may not %s order %d", ErrOrderForbidden, actor.UserID, action, order.ID)
}
