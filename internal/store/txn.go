package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
)

// CommitItem is one line of an order commit: the selected offer and quantity.
type CommitItem struct {
	CatalogItemID int64
	VendorOfferID int64
	Quantity      int
}

// CommitRequest carries everything the commit transaction needs.
type CommitRequest struct {
	RetailerID      int64
	VendorID        int64
	CashOnly        bool
	IdempotencyKey  string
	Items           []CommitItem
	ResponseTimeout time.Duration
}

// CommitOrder executes the all-or-nothing order commit under serializable
// isolation: lock offers, re-validate stock, credit gate, create order and
// items, decrement stock, append the debit ledger entry, bump the vendor's
// pending counter, and open the first assignment. Any failure rolls back the
// whole set.
func (s *Store) CommitOrder(ctx context.Context, req CommitRequest) (*models.Order, *models.Assignment, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	offers, err := lockOffers(ctx, tx, req.Items)
	if err != nil {
		return nil, nil, wrapRetryable(err)
	}

	var total int64
	for _, item := range req.Items {
		offer := offers[item.VendorOfferID]
		if offer == nil {
			return nil, nil, fmt.Errorf("vendor offer not found: %d", item.VendorOfferID)
		}
		if !offer.IsAvailable || offer.StockQuantity < item.Quantity {
			return nil, nil, &InsufficientStockError{
				CatalogItemID: item.CatalogItemID,
				VendorOfferID: item.VendorOfferID,
				Available:     offer.StockQuantity,
				Requested:     item.Quantity,
			}
		}
		total += offer.Price * int64(item.Quantity)
	}

	retailer, err := lockRetailer(ctx, tx, req.RetailerID)
	if err != nil {
		return nil, nil, wrapRetryable(err)
	}
	if !req.CashOnly && retailer.OutstandingDebt+total > retailer.CreditLimit {
		return nil, nil, &CreditLimitExceededError{
			RetailerID:  retailer.ID,
			Outstanding: retailer.OutstandingDebt,
			Attempted:   total,
			CreditLimit: retailer.CreditLimit,
		}
	}

	due := total
	if req.CashOnly {
		due = 0
	}

	order := &models.Order{
		RetailerID:     req.RetailerID,
		Status:         models.OrderStatusAssigned,
		TotalAmount:    total,
		DueAmount:      due,
		CashOnly:       req.CashOnly,
		IdempotencyKey: req.IdempotencyKey,
	}
	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (retailer_id, status, total_amount, due_amount, cash_only, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		order.RetailerID, order.Status, order.TotalAmount, order.DueAmount, order.CashOnly, order.IdempotencyKey)
	if err != nil {
		return nil, nil, wrapRetryable(err)
	}

	for _, item := range req.Items {
		offer := offers[item.VendorOfferID]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, catalog_item_id, vendor_offer_id, vendor_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, item.CatalogItemID, item.VendorOfferID, offer.VendorID, item.Quantity, offer.Price)
		if err != nil {
			return nil, nil, wrapRetryable(err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE vendor_offers SET stock_quantity = stock_quantity - $1, updated_at = NOW()
			WHERE id = $2`, item.Quantity, item.VendorOfferID)
		if err != nil {
			return nil, nil, wrapRetryable(err)
		}
	}

	if !req.CashOnly {
		if err := appendLedgerEntry(ctx, tx, req.RetailerID, order.ID, total, models.LedgerTypeOrderDebit); err != nil {
			return nil, nil, wrapRetryable(err)
		}
	}

	if err := adjustVendorPending(ctx, tx, req.VendorID, 1); err != nil {
		return nil, nil, wrapRetryable(err)
	}

	assignment, err := insertAssignment(ctx, tx, order.ID, req.VendorID, 1, now, now.Add(req.ResponseTimeout))
	if err != nil {
		return nil, nil, wrapRetryable(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, wrapRetryable(err)
	}
	return order, assignment, nil
}

// ReassignRequest moves an ASSIGNED order from a failed vendor to the next
// candidate: prior vendor stock is restored, the new vendor's offers are
// re-validated and decremented, items repriced, and the ledger adjusted if
// the total changed. The old assignment must already be marked responded.
type ReassignRequest struct {
	OrderID         int64
	OldVendorID     int64
	NewVendorID     int64
	AttemptNumber   int
	Items           []CommitItem
	ResponseTimeout time.Duration
}

func (s *Store) ReassignOrder(ctx context.Context, req ReassignRequest) (*models.Assignment, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	order, err := lockOrder(ctx, tx, req.OrderID)
	if err != nil {
		return nil, wrapRetryable(err)
	}
	if order.Status != models.OrderStatusAssigned {
		return nil, fmt.Errorf("order %d is %s, not reassignable: %w",
			order.ID, order.Status, ErrConcurrentModification)
	}

	oldItems, err := lockOrderItems(ctx, tx, req.OrderID)
	if err != nil {
		return nil, wrapRetryable(err)
	}
	for _, item := range oldItems {
		_, err = tx.ExecContext(ctx, `
			UPDATE vendor_offers SET stock_quantity = stock_quantity + $1, updated_at = NOW()
			WHERE id = $2`, item.Quantity, item.VendorOfferID)
		if err != nil {
			return nil, wrapRetryable(err)
		}
	}

	offers, err := lockOffers(ctx, tx, req.Items)
	if err != nil {
		return nil, wrapRetryable(err)
	}

	var newTotal int64
	for _, item := range req.Items {
		offer := offers[item.VendorOfferID]
		if offer == nil {
			return nil, fmt.Errorf("vendor offer not found: %d", item.VendorOfferID)
		}
		if !offer.IsAvailable || offer.StockQuantity < item.Quantity {
			return nil, &InsufficientStockError{
				CatalogItemID: item.CatalogItemID,
				VendorOfferID: item.VendorOfferID,
				Available:     offer.StockQuantity,
				Requested:     item.Quantity,
			}
		}
		newTotal += offer.Price * int64(item.Quantity)
	}

	if !order.CashOnly && newTotal != order.TotalAmount {
		retailer, err := lockRetailer(ctx, tx, order.RetailerID)
		if err != nil {
			return nil, wrapRetryable(err)
		}
		if retailer.OutstandingDebt-order.TotalAmount+newTotal > retailer.CreditLimit {
			return nil, &CreditLimitExceededError{
				RetailerID:  retailer.ID,
				Outstanding: retailer.OutstandingDebt,
				Attempted:   newTotal - order.TotalAmount,
				CreditLimit: retailer.CreditLimit,
			}
		}
		if err := appendLedgerEntry(ctx, tx, order.RetailerID, order.ID, -order.TotalAmount, models.LedgerTypeOrderReversal); err != nil {
			return nil, wrapRetryable(err)
		}
		if err := appendLedgerEntry(ctx, tx, order.RetailerID, order.ID, newTotal, models.LedgerTypeOrderDebit); err != nil {
			return nil, wrapRetryable(err)
		}
	}

	for _, item := range req.Items {
		offer := offers[item.VendorOfferID]
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items SET vendor_offer_id = $1, vendor_id = $2, unit_price = $3
			WHERE order_id = $4 AND catalog_item_id = $5`,
			item.VendorOfferID, offer.VendorID, offer.Price, req.OrderID, item.CatalogItemID)
		if err != nil {
			return nil, wrapRetryable(err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE vendor_offers SET stock_quantity = stock_quantity - $1, updated_at = NOW()
			WHERE id = $2`, item.Quantity, item.VendorOfferID)
		if err != nil {
			return nil, wrapRetryable(err)
		}
	}

	// No payment can have landed yet (payments open at CONFIRMED, totals are
	// only mutable while ASSIGNED), so due tracks the new total directly.
	due := newTotal
	if order.CashOnly {
		due = 0
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET total_amount = $1, due_amount = $2, updated_at = NOW()
		WHERE id = $3`, newTotal, due, req.OrderID)
	if err != nil {
		return nil, wrapRetryable(err)
	}

	if err := adjustVendorPending(ctx, tx, req.OldVendorID, -1); err != nil {
		return nil, wrapRetryable(err)
	}
	if err := adjustVendorPending(ctx, tx, req.NewVendorID, 1); err != nil {
		return nil, wrapRetryable(err)
	}

	assignment, err := insertAssignment(ctx, tx, req.OrderID, req.NewVendorID,
		req.AttemptNumber, now, now.Add(req.ResponseTimeout))
	if err != nil {
		if isUniqueViolation(err) {
			// Another writer opened an assignment first; let the caller
			// re-read and no-op.
			return nil, fmt.Errorf("active assignment already exists for order %d: %w",
				req.OrderID, ErrConcurrentModification)
		}
		return nil, wrapRetryable(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapRetryable(err)
	}
	return assignment, nil
}

// ConfirmOrder transitions ASSIGNED -> CONFIRMED after a vendor accepts and
// moves the vendor's pending count into active.
func (s *Store) ConfirmOrder(ctx context.Context, orderID, vendorID int64) error {
	return s.transitionOrder(ctx, orderID, models.OrderStatusAssigned, models.OrderStatusConfirmed,
		func(ctx context.Context, tx *sqlx.Tx) error {
			if err := adjustVendorPending(ctx, tx, vendorID, -1); err != nil {
				return err
			}
			return adjustVendorActive(ctx, tx, vendorID, 1)
		})
}

// MarkOrderDelayed transitions ASSIGNED -> DELAYED after reassignment
// attempts are exhausted and releases the vendor's pending slot.
func (s *Store) MarkOrderDelayed(ctx context.Context, orderID, vendorID int64) error {
	return s.transitionOrder(ctx, orderID, models.OrderStatusAssigned, models.OrderStatusDelayed,
		func(ctx context.Context, tx *sqlx.Tx) error {
			return adjustVendorPending(ctx, tx, vendorID, -1)
		})
}

// MarkOrderDispatched transitions CONFIRMED -> DISPATCHED.
func (s *Store) MarkOrderDispatched(ctx context.Context, orderID int64) error {
	return s.transitionOrder(ctx, orderID, models.OrderStatusConfirmed, models.OrderStatusDispatched, nil)
}

// MarkOrderCompleted transitions DISPATCHED -> COMPLETED and releases the
// vendor's active slot.
func (s *Store) MarkOrderCompleted(ctx context.Context, orderID, vendorID int64) error {
	return s.transitionOrder(ctx, orderID, models.OrderStatusDispatched, models.OrderStatusCompleted,
		func(ctx context.Context, tx *sqlx.Tx) error {
			return adjustVendorActive(ctx, tx, vendorID, -1)
		})
}

// CancelOrder is the compensating transaction: restore decremented stock,
// reverse the ledger debit, release the vendor's counter, and close any open
// assignment. Valid from any non-terminal state.
func (s *Store) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, wrapRetryable(err)
	}
	if models.IsTerminalOrderStatus(order.Status) {
		return nil, ErrOrderNotCancellable
	}

	items, err := lockOrderItems(ctx, tx, orderID)
	if err != nil {
		return nil, wrapRetryable(err)
	}
	// Stock stays decremented through every pre-terminal state, so the
	// restore applies uniformly here.
	for _, item := range items {
		_, err = tx.ExecContext(ctx, `
			UPDATE vendor_offers SET stock_quantity = stock_quantity + $1, updated_at = NOW()
			WHERE id = $2`, item.Quantity, item.VendorOfferID)
		if err != nil {
			return nil, wrapRetryable(err)
		}
	}

	// The full debit is reversed even when part of it was already paid. The
	// payment entries stay on the books, so a paid-then-cancelled order
	// leaves the retailer with a credit balance (negative outstanding debt)
	// that offsets their next order.
	if !order.CashOnly && order.TotalAmount > 0 {
		if err := appendLedgerEntry(ctx, tx, order.RetailerID, order.ID, -order.TotalAmount, models.LedgerTypeOrderReversal); err != nil {
			return nil, wrapRetryable(err)
		}
	}

	var openAssignment models.Assignment
	err = tx.GetContext(ctx, &openAssignment,
		"SELECT * FROM assignments WHERE order_id = $1 AND responded_at IS NULL FOR UPDATE", orderID)
	if err != nil && err != sql.ErrNoRows {
		return nil, wrapRetryable(err)
	}
	if err == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE assignments SET responded_at = $1, response = $2 WHERE id = $3`,
			now, models.AssignmentCancelled, openAssignment.ID)
		if err != nil {
			return nil, wrapRetryable(err)
		}
	}

	switch order.Status {
	case models.OrderStatusAssigned:
		if openAssignment.ID != 0 {
			if err := adjustVendorPending(ctx, tx, openAssignment.VendorID, -1); err != nil {
				return nil, wrapRetryable(err)
			}
		}
	case models.OrderStatusConfirmed, models.OrderStatusDispatched:
		if len(items) > 0 {
			if err := adjustVendorActive(ctx, tx, items[0].VendorID, -1); err != nil {
				return nil, wrapRetryable(err)
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, due_amount = 0, updated_at = NOW() WHERE id = $2",
		models.OrderStatusCancelled, orderID)
	if err != nil {
		return nil, wrapRetryable(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapRetryable(err)
	}
	order.Status = models.OrderStatusCancelled
	order.DueAmount = 0
	return order, nil
}

// RecordPayment applies a payment against an order: a PAYMENT_CREDIT ledger
// entry, the retailer's debt, and the order's due amount move together.
// Overpayment is rejected rather than carried as negative dues.
func (s *Store) RecordPayment(ctx context.Context, orderID, amount int64) (*models.Order, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, wrapRetryable(err)
	}
	// Totals are only final once a vendor has confirmed; an earlier payment
	// would race reassignment repricing, which resets due_amount.
	switch order.Status {
	case models.OrderStatusConfirmed, models.OrderStatusDispatched, models.OrderStatusCompleted:
	default:
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, ErrOrderNotPayable)
	}
	if amount > order.DueAmount {
		return nil, fmt.Errorf("payment %d exceeds due amount %d on order %d", amount, order.DueAmount, orderID)
	}

	if err := appendLedgerEntry(ctx, tx, order.RetailerID, order.ID, -amount, models.LedgerTypePayment); err != nil {
		return nil, wrapRetryable(err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET due_amount = due_amount - $1, updated_at = NOW() WHERE id = $2",
		amount, orderID)
	if err != nil {
		return nil, wrapRetryable(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapRetryable(err)
	}
	order.DueAmount -= amount
	return order, nil
}

// transitionOrder runs a conditional status transition plus counter updates
// in one transaction. The WHERE status guard makes racing transitions no-op
// for the loser.
func (s *Store) transitionOrder(ctx context.Context, orderID int64, from, to string,
	extra func(context.Context, *sqlx.Tx) error) error {

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, orderID, from)
	if err != nil {
		return wrapRetryable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %d is not %s: %w", orderID, from, ErrConcurrentModification)
	}

	if extra != nil {
		if err := extra(ctx, tx); err != nil {
			return wrapRetryable(err)
		}
	}
	return tx.Commit()
}

func lockOrder(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func lockOrderItems(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id FOR UPDATE", orderID)
	return items, err
}

func lockRetailer(ctx context.Context, tx *sqlx.Tx, retailerID int64) (*models.Retailer, error) {
	var retailer models.Retailer
	err := tx.GetContext(ctx, &retailer, "SELECT * FROM retailers WHERE id = $1 FOR UPDATE", retailerID)
	if err == sql.ErrNoRows {
		return nil, ErrRetailerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &retailer, nil
}

// lockOffers locks offer rows in ascending id order to avoid lock-order
// deadlocks between concurrent commits.
func lockOffers(ctx context.Context, tx *sqlx.Tx, items []CommitItem) (map[int64]*models.VendorOffer, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.VendorOfferID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	offers := make(map[int64]*models.VendorOffer, len(ids))
	for _, id := range ids {
		var offer models.VendorOffer
		err := tx.GetContext(ctx, &offer, "SELECT * FROM vendor_offers WHERE id = $1 FOR UPDATE", id)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("vendor offer not found: %d", id)
		}
		if err != nil {
			return nil, err
		}
		offers[id] = &offer
	}
	return offers, nil
}

func appendLedgerEntry(ctx context.Context, tx *sqlx.Tx, retailerID, orderID, amount int64, entryType string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (retailer_id, order_id, amount, type)
		VALUES ($1, $2, $3, $4)`, retailerID, orderID, amount, entryType)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE retailers SET outstanding_debt = outstanding_debt + $1 WHERE id = $2",
		amount, retailerID)
	return err
}

func insertAssignment(ctx context.Context, tx *sqlx.Tx, orderID, vendorID int64, attempt int, assignedAt, timeoutAt time.Time) (*models.Assignment, error) {
	assignment := &models.Assignment{
		OrderID:       orderID,
		VendorID:      vendorID,
		AttemptNumber: attempt,
		AssignedAt:    assignedAt,
		TimeoutAt:     timeoutAt,
	}
	err := tx.GetContext(ctx, &assignment.ID, `
		INSERT INTO assignments (order_id, vendor_id, attempt_number, assigned_at, timeout_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		orderID, vendorID, attempt, assignedAt, timeoutAt)
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

func adjustVendorPending(ctx context.Context, tx *sqlx.Tx, vendorID int64, delta int) error {
	// GREATEST keeps the counter invariant (never negative) even if a manual
	// override already released the slot.
	_, err := tx.ExecContext(ctx,
		"UPDATE vendors SET pending_order_count = GREATEST(pending_order_count + $1, 0) WHERE id = $2",
		delta, vendorID)
	return err
}

func adjustVendorActive(ctx context.Context, tx *sqlx.Tx, vendorID int64, delta int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE vendors SET active_order_count = GREATEST(active_order_count + $1, 0) WHERE id = $2",
		delta, vendorID)
	return err
}

func wrapRetryable(err error) error {
	if isRetryable(err) {
		return fmt.Errorf("%v: %w", err, ErrConcurrentModification)
	}
	return err
}
