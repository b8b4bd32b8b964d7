package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
)

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key.
// Returns nil, nil when no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrdersByRetailerID retrieves orders for a retailer
func (s *Store) GetOrdersByRetailerID(ctx context.Context, retailerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE retailer_id = $1 ORDER BY created_at DESC", retailerID)
	return orders, err
}

// GetActiveAssignment retrieves the unresponded assignment for an order.
// Returns nil, nil when the order has no open assignment.
func (s *Store) GetActiveAssignment(ctx context.Context, orderID int64) (*models.Assignment, error) {
	var a models.Assignment
	err := s.db.GetContext(ctx, &a,
		"SELECT * FROM assignments WHERE order_id = $1 AND responded_at IS NULL", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAssignmentHistory retrieves all assignments for an order, oldest first.
// Prior attempts are retained for vendor performance accounting.
func (s *Store) GetAssignmentHistory(ctx context.Context, orderID int64) ([]models.Assignment, error) {
	var assignments []models.Assignment
	err := s.db.SelectContext(ctx, &assignments,
		"SELECT * FROM assignments WHERE order_id = $1 ORDER BY attempt_number", orderID)
	return assignments, err
}

// TriedVendorIDs lists vendors that already held an assignment for an order,
// so reassignment can exclude them.
func (s *Store) TriedVendorIDs(ctx context.Context, orderID int64) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		"SELECT DISTINCT vendor_id FROM assignments WHERE order_id = $1", orderID)
	return ids, err
}

// GetExpiredAssignments finds unresponded assignments past their deadline.
func (s *Store) GetExpiredAssignments(ctx context.Context, now time.Time, limit int) ([]models.Assignment, error) {
	var assignments []models.Assignment
	err := s.db.SelectContext(ctx, &assignments, `
		SELECT * FROM assignments
		WHERE responded_at IS NULL AND timeout_at < $1
		ORDER BY timeout_at
		LIMIT $2`, now, limit)
	return assignments, err
}

// MarkAssignmentResponded performs the conditional update that resolves the
// race between the timeout sweep and an in-flight vendor response: whichever
// writer lands first wins, the loser's update matches zero rows.
func (s *Store) MarkAssignmentResponded(ctx context.Context, assignmentID int64, response string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE assignments
		SET responded_at = $1, response = $2
		WHERE id = $3 AND responded_at IS NULL`, at, response, assignmentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetLedgerEntries retrieves the append-only ledger for a retailer.
func (s *Store) GetLedgerEntries(ctx context.Context, retailerID int64) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM ledger_entries WHERE retailer_id = $1 ORDER BY id", retailerID)
	return entries, err
}

// ReconcileOutstandingDebt recomputes a retailer's debt from the ledger, the
// source of truth for the denormalized outstanding_debt column.
func (s *Store) ReconcileOutstandingDebt(ctx context.Context, retailerID int64) (int64, error) {
	var total sql.NullInt64
	err := s.db.GetContext(ctx, &total,
		"SELECT SUM(amount) FROM ledger_entries WHERE retailer_id = $1", retailerID)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
