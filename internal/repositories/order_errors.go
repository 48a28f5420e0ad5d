package repositories

import "errors"

var (
	// ErrOrderStatusChanged means a conditional order write found a different status than the
	// one the caller read, so another transaction moved the order first.
	ErrOrderStatusChanged = errors.New("order status changed concurrently")
	// ErrOrderCodeTaken means Insert hit the unique index on the order code.
	ErrOrderCodeTaken = errors.New("order code already taken")
)
