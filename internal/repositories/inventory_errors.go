package repositories

import "fmt"

// InventoryErrorCode classifies a failed stock counter update.
type InventoryErrorCode string

const (
	InventoryErrorUnknown           InventoryErrorCode = "inventory_unknown"
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	InventoryErrorStockNotFound     InventoryErrorCode = "inventory_stock_not_found"
)

// InventoryError is returned by ProductRepository stock operations. Available and Requested are
// only meaningful for InventoryErrorInsufficientStock.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	Message   string
	ProductID int64
	Available int
	Requested int
	Err       error
}

var _ RepositoryError = (*InventoryError)(nil)

func (e *InventoryError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op == "":
		return e.Message
	default:
		return e.Op + ": " + e.Message
	}
}

func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *InventoryError) is(code InventoryErrorCode) bool { return e != nil && e.Code == code }

func (e *InventoryError) IsNotFound() bool    { return e.is(InventoryErrorStockNotFound) }
func (e *InventoryError) IsConflict() bool    { return e.is(InventoryErrorInsufficientStock) }
func (e *InventoryError) IsUnavailable() bool { return false }

// NewInventoryError builds an error whose message defaults to the code.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{Code: code, Message: message, Err: err}
}

func NewStockNotFoundError(productID int64, cause error) *InventoryError {
	e := NewInventoryError(InventoryErrorStockNotFound, fmt.Sprintf("product %d not found", productID), cause)
	e.ProductID = productID
	return e
}

func NewInsufficientStockError(productID int64, available, requested int) *InventoryError {
	e := NewInventoryError(InventoryErrorInsufficientStock,
		fmt.Sprintf("product %d has %d units available, %d requested", productID, available, requested), nil)
	e.ProductID, e.Available, e.Requested = productID, available, requested
	return e
}
