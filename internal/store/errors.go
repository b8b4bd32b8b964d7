package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrRetailerNotFound is returned when an order references an unknown retailer.
	ErrRetailerNotFound = errors.New("retailer not found")
	// ErrOrderNotFound is returned for lookups of nonexistent orders.
	ErrOrderNotFound = errors.New("order not found")
	// ErrConcurrentModification signals a serialization failure; the caller
	// should retry selection with fresh data.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrOrderNotCancellable is returned when cancelling a terminal order.
	ErrOrderNotCancellable = errors.New("order is in a terminal state")
	// ErrOrderNotPayable is returned for payments against orders whose totals
	// are not final yet (or never will be).
	ErrOrderNotPayable = errors.New("order is not accepting payments")
)

// InsufficientStockError reports a stock re-validation failure at commit time.
type InsufficientStockError struct {
	CatalogItemID int64
	VendorOfferID int64
	Available     int
	Requested     int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d (offer %d): available=%d, requested=%d",
		e.CatalogItemID, e.VendorOfferID, e.Available, e.Requested)
}

// CreditLimitExceededError reports a failed credit gate.
type CreditLimitExceededError struct {
	RetailerID  int64
	Outstanding int64
	Attempted   int64
	CreditLimit int64
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("credit limit exceeded for retailer %d: outstanding=%d + attempted=%d > limit=%d",
		e.RetailerID, e.Outstanding, e.Attempted, e.CreditLimit)
}

// isRetryable reports whether err is a serialization failure or deadlock
// that a fresh attempt may resolve.
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// isUniqueViolation detects unique-constraint conflicts, used to resolve the
// single-active-assignment race in favor of the first writer.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
