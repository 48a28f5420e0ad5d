package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEnumValue is returned when a string does not name a known enum member.
var ErrUnknownEnumValue = errors.New("domain: unknown enum value")

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusNew is the state of a freshly placed order.
	OrderStatusNew OrderStatus = "NEW"
	// OrderStatusProcessing indicates staff accepted the order and are preparing it.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipping indicates the order has been handed to the carrier.
	OrderStatusShipping OrderStatus = "SHIPPING"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderStatuses = []OrderStatus{
	OrderStatusNew,
	OrderStatusProcessing,
	OrderStatusShipping,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// OrderStatuses lists every order status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return append([]OrderStatus(nil), orderStatuses...)
}

// ParseOrderStatus parses a status name case-insensitively.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	for _, status := range orderStatuses {
		if candidate == status {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: order status %q", ErrUnknownEnumValue, raw)
}

// IsTerminal reports whether no further transition is permitted from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) String() string { return string(s) }

// PaymentMethod records how the customer intends to pay. It is never processed here.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCard         PaymentMethod = "CARD"
)

// ParsePaymentMethod parses a payment method name case-insensitively.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(raw))) {
	case PaymentMethodCash:
		return PaymentMethodCash, nil
	case PaymentMethodBankTransfer:
		return PaymentMethodBankTransfer, nil
	case PaymentMethodCard:
		return PaymentMethodCard, nil
	}
	return "", fmt.Errorf("%w: payment method %q", ErrUnknownEnumValue, raw)
}

func (m PaymentMethod) String() string { return string(m) }

// Role is the coarse authorisation role of a user.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStaff    Role = "STAFF"
	RoleCustomer Role = "CUSTOMER"
)

// ParseRole accepts role names and the short codes used in tokens (ADM, STF, CUS).
func ParseRole(raw string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ADMIN", "ADMINISTRATOR", "ADM":
		return RoleAdmin, nil
	case "STAFF", "STF":
		return RoleStaff, nil
	case "CUSTOMER", "CUS", "USER":
		return RoleCustomer, nil
	}
	return "", fmt.Errorf("%w: role %q", ErrUnknownEnumValue, raw)
}

// IsPrivileged reports whether the role may act on orders it does not own.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleStaff
}

func (r Role) String() string { return string(r) }

// ProductStatus tracks whether a product can currently be sold.
type ProductStatus string

const (
	ProductStatusSelling    ProductStatus = "SELLING"
	ProductStatusOutOfStock ProductStatus = "OUT_OF_STOCK"
)
