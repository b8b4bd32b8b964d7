package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/broker"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/queue"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/selection"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

var (
	// ErrNoActiveAssignment means the order has no open assignment to act on.
	ErrNoActiveAssignment = errors.New("no active assignment for order")
	// ErrWrongVendor means the responding vendor does not hold the assignment.
	ErrWrongVendor = errors.New("vendor does not hold the active assignment")
	// ErrAlreadyResolved means another writer (a response or the timeout
	// sweep) closed the assignment first.
	ErrAlreadyResolved = errors.New("assignment already resolved")
	// ErrInvalidResponse covers anything other than accept/reject.
	ErrInvalidResponse = errors.New("response must be ACCEPTED or REJECTED")
)

// Machine drives assignments through their lifecycle: vendor responses,
// timeout expiry, and the reassignment chain that follows a rejection or
// timeout.
type Machine struct {
	store     *store.Store
	selector  *selection.Selector
	publisher *broker.EventPublisher
	queue     *queue.Queue
	cfg       config.TimeoutConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewMachine creates the assignment state machine
func NewMachine(st *store.Store, sel *selection.Selector, pub *broker.EventPublisher, q *queue.Queue, cfg config.TimeoutConfig) *Machine {
	return &Machine{
		store:     st,
		selector:  sel,
		publisher: pub,
		queue:     q,
		cfg:       cfg,
		logger:    util.NamedLogger("assignment"),
		now:       time.Now,
	}
}

func (m *Machine) responseTimeout() time.Duration {
	return time.Duration(m.cfg.ResponseTimeoutMinutes) * time.Minute
}

// HandleResponse records a vendor's accept or reject. Accept confirms the
// order; reject releases it and immediately starts reassignment, the same
// path a timeout takes. The conditional responded_at update decides races
// against the sweep: the loser gets ErrAlreadyResolved.
func (m *Machine) HandleResponse(ctx context.Context, orderID, vendorID int64, response string) error {
	ctx, span := util.StartSpan(ctx, "Machine.HandleResponse")
	defer span.End()

	if response != models.AssignmentAccepted && response != models.AssignmentRejected {
		return ErrInvalidResponse
	}

	active, err := m.store.GetActiveAssignment(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load active assignment: %w", err)
	}
	if active == nil {
		return ErrNoActiveAssignment
	}
	if active.VendorID != vendorID {
		return ErrWrongVendor
	}

	won, err := m.store.MarkAssignmentResponded(ctx, active.ID, response, m.now())
	if err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}
	if !won {
		return ErrAlreadyResolved
	}
	active.Response = response

	m.logger.Info("Vendor responded",
		zap.Int64("order_id", orderID),
		zap.Int64("vendor_id", vendorID),
		zap.Int("attempt", active.AttemptNumber),
		zap.String("response", response))

	m.enqueueScoreRecalc(ctx, vendorID)

	if response == models.AssignmentAccepted {
		return m.confirm(ctx, orderID, vendorID)
	}
	return m.reassign(ctx, orderID, active)
}

func (m *Machine) confirm(ctx context.Context, orderID, vendorID int64) error {
	if err := m.store.ConfirmOrder(ctx, orderID, vendorID); err != nil {
		return fmt.Errorf("failed to confirm order %d: %w", orderID, err)
	}
	util.OrdersConfirmedTotal.Inc()

	if err := m.publisher.PublishOrderConfirmed(ctx, orderID, vendorID); err != nil {
		m.logger.Error("Failed to publish order confirmed event",
			zap.Int64("order_id", orderID), zap.Error(err))
	}
	m.enqueueRetailerNotice(ctx, orderID, models.OrderStatusConfirmed)
	return nil
}

// HandleTimeout expires one overdue assignment. Called by the sweeper, which
// already holds the leader lock. A concurrent vendor response simply wins
// the conditional update and the timeout becomes a no-op.
func (m *Machine) HandleTimeout(ctx context.Context, expired *models.Assignment) error {
	ctx, span := util.StartSpan(ctx, "Machine.HandleTimeout")
	defer span.End()

	won, err := m.store.MarkAssignmentResponded(ctx, expired.ID, models.AssignmentTimedOut, m.now())
	if err != nil {
		return fmt.Errorf("failed to mark assignment timed out: %w", err)
	}
	if !won {
		return nil
	}

	util.AssignmentsTimedOutTotal.Inc()
	m.logger.Warn("Assignment timed out",
		zap.Int64("order_id", expired.OrderID),
		zap.Int64("vendor_id", expired.VendorID),
		zap.Int("attempt", expired.AttemptNumber))

	if err := m.publisher.PublishVendorTimedOut(ctx, expired); err != nil {
		m.logger.Error("Failed to publish vendor timed out event", zap.Error(err))
	}
	m.enqueueScoreRecalc(ctx, expired.VendorID)

	return m.reassign(ctx, expired.OrderID, expired)
}

// reassignmentExhausted reports whether the attempt that just failed spent
// the reassignment budget. Attempt numbers start at 1, so with a budget of 3
// the third failure parks the order instead of opening a fourth assignment.
func reassignmentExhausted(attemptNumber, maxAttempts int) bool {
	return attemptNumber >= maxAttempts
}

// reassign hands the order to the next eligible vendor, excluding everyone
// already tried. Vendors that fail the commit-time stock or credit check are
// excluded in-flight and selection reruns, so one bad candidate does not
// burn the whole attempt.
func (m *Machine) reassign(ctx context.Context, orderID int64, failed *models.Assignment) error {
	order, err := m.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusAssigned {
		// Cancelled or otherwise moved on while the response was in flight.
		m.logger.Info("Skipping reassignment, order no longer assigned",
			zap.Int64("order_id", orderID), zap.String("status", order.Status))
		return nil
	}

	if reassignmentExhausted(failed.AttemptNumber, m.cfg.MaxReassignmentAttempts) {
		return m.exhaust(ctx, order, failed)
	}

	tried, err := m.store.TriedVendorIDs(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load tried vendors: %w", err)
	}

	items, err := m.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	lines := make([]selection.LineRequirement, 0, len(items))
	for _, item := range items {
		lines = append(lines, selection.LineRequirement{
			CatalogItemID: item.CatalogItemID,
			Quantity:      item.Quantity,
		})
	}

	trigger := "timeout"
	if failed.Response == models.AssignmentRejected {
		trigger = "rejection"
	}

	for {
		sel, err := m.selector.PickVendor(ctx, lines, tried)
		var noVendor *selection.NoEligibleVendorError
		if errors.As(err, &noVendor) {
			return m.exhaust(ctx, order, failed)
		}
		if err != nil {
			return fmt.Errorf("reassignment selection failed for order %d: %w", orderID, err)
		}

		commitItems := make([]store.CommitItem, 0, len(lines))
		for _, line := range lines {
			commitItems = append(commitItems, store.CommitItem{
				CatalogItemID: line.CatalogItemID,
				VendorOfferID: sel.OfferPerItem[line.CatalogItemID].Offer.ID,
				Quantity:      line.Quantity,
			})
		}

		next, err := m.store.ReassignOrder(ctx, store.ReassignRequest{
			OrderID:         orderID,
			OldVendorID:     failed.VendorID,
			NewVendorID:     sel.VendorID,
			AttemptNumber:   failed.AttemptNumber + 1,
			Items:           commitItems,
			ResponseTimeout: m.responseTimeout(),
		})
		if err != nil {
			var stockErr *store.InsufficientStockError
			var creditErr *store.CreditLimitExceededError
			if errors.As(err, &stockErr) || errors.As(err, &creditErr) {
				// Candidate went stale between selection and commit.
				m.logger.Warn("Reassignment candidate failed commit checks, trying next",
					zap.Int64("order_id", orderID),
					zap.Int64("vendor_id", sel.VendorID),
					zap.Error(err))
				tried = append(tried, sel.VendorID)
				continue
			}
			return fmt.Errorf("failed to reassign order %d: %w", orderID, err)
		}

		util.ReassignmentsTotal.WithLabelValues(trigger).Inc()
		m.logger.Info("Order reassigned",
			zap.Int64("order_id", orderID),
			zap.Int64("old_vendor_id", failed.VendorID),
			zap.Int64("new_vendor_id", next.VendorID),
			zap.Int("attempt", next.AttemptNumber))

		if err := m.publisher.PublishOrderAssigned(ctx, next); err != nil {
			m.logger.Error("Failed to publish order assigned event", zap.Error(err))
		}
		m.enqueueAssignmentJobs(ctx, next)
		return nil
	}
}

// exhaust parks the order as DELAYED for manual intervention once no vendor
// remains or the attempt budget is spent. The failed vendor still holds the
// pending slot (reassignment never ran), so it is the one to release.
func (m *Machine) exhaust(ctx context.Context, order *models.Order, failed *models.Assignment) error {
	attempts := failed.AttemptNumber
	if err := m.store.MarkOrderDelayed(ctx, order.ID, failed.VendorID); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			return nil
		}
		return fmt.Errorf("failed to mark order %d delayed: %w", order.ID, err)
	}

	util.OrdersDelayedTotal.Inc()
	m.logger.Error("Reassignment exhausted, order delayed",
		zap.Int64("order_id", order.ID),
		zap.Int("attempts", attempts))

	if err := m.publisher.PublishOrderDelayed(ctx, order.ID, attempts, "no vendor accepted within the attempt budget"); err != nil {
		m.logger.Error("Failed to publish order delayed event", zap.Error(err))
	}
	m.enqueueRetailerNotice(ctx, order.ID, models.OrderStatusDelayed)

	_, err := m.queue.Enqueue(ctx, queue.QueueNotifyAdmin, queue.NotifyAdminPayload{
		Severity: "URGENT",
		Subject:  fmt.Sprintf("Order %d delayed after %d attempts", order.ID, attempts),
		Details:  fmt.Sprintf("retailer=%d total=%d; manual vendor intervention required", order.RetailerID, order.TotalAmount),
	}, &queue.Options{DedupKey: fmt.Sprintf("delay-escalation:%d", order.ID)})
	if err != nil {
		m.logger.Error("Failed to enqueue delay escalation", zap.Error(err))
	}
	return nil
}

// EnqueueAssignmentJobs schedules the vendor notification and the mid-window
// reminder for a fresh assignment.
func (m *Machine) EnqueueAssignmentJobs(ctx context.Context, a *models.Assignment) {
	m.enqueueAssignmentJobs(ctx, a)
}

func (m *Machine) enqueueAssignmentJobs(ctx context.Context, a *models.Assignment) {
	_, err := m.queue.Enqueue(ctx, queue.QueueNotifyVendor, queue.NotifyVendorPayload{
		OrderID:       a.OrderID,
		VendorID:      a.VendorID,
		AttemptNumber: a.AttemptNumber,
	}, &queue.Options{DedupKey: fmt.Sprintf("notify:%d:%d", a.OrderID, a.AttemptNumber)})
	if err != nil {
		m.logger.Error("Failed to enqueue vendor notification",
			zap.Int64("order_id", a.OrderID), zap.Error(err))
	}

	_, err = m.queue.Enqueue(ctx, queue.QueueReminder, queue.ReminderPayload{
		AssignmentID: a.ID,
		OrderID:      a.OrderID,
		VendorID:     a.VendorID,
	}, &queue.Options{
		DedupKey: fmt.Sprintf("reminder:%d", a.ID),
		Delay:    m.responseTimeout() / 2,
	})
	if err != nil {
		m.logger.Error("Failed to enqueue response reminder",
			zap.Int64("order_id", a.OrderID), zap.Error(err))
	}
}

func (m *Machine) enqueueRetailerNotice(ctx context.Context, orderID int64, status string) {
	_, err := m.queue.Enqueue(ctx, queue.QueueNotifyRetailer, queue.NotifyRetailerPayload{
		OrderID: orderID,
		Status:  status,
	}, &queue.Options{DedupKey: fmt.Sprintf("retailer:%d:%s", orderID, status)})
	if err != nil {
		m.logger.Error("Failed to enqueue retailer notification",
			zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (m *Machine) enqueueScoreRecalc(ctx context.Context, vendorID int64) {
	_, err := m.queue.Enqueue(ctx, queue.QueueScoreRecalc, queue.ScoreRecalcPayload{VendorID: vendorID},
		&queue.Options{DedupKey: fmt.Sprintf("score:%d", vendorID)})
	if err != nil {
		m.logger.Error("Failed to enqueue score recalculation",
			zap.Int64("vendor_id", vendorID), zap.Error(err))
	}
}
