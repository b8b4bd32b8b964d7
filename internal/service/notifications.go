package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/gateway"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/queue"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

// NotificationService owns the queue handlers that talk to the outside
// world. Everything here runs async with at-least-once delivery, so handlers
// re-check state before sending.
type NotificationService struct {
	store     *store.Store
	messenger gateway.Messenger
	notifier  gateway.AdminNotifier
	logger    *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(st *store.Store, messenger gateway.Messenger, notifier gateway.AdminNotifier) *NotificationService {
	return &NotificationService{
		store:     st,
		messenger: messenger,
		notifier:  notifier,
		logger:    util.NamedLogger("notifications"),
	}
}

// Register binds the handlers to their queues.
func (n *NotificationService) Register(q *queue.Queue) {
	q.Register(queue.QueueNotifyVendor, n.HandleNotifyVendor)
	q.Register(queue.QueueNotifyRetailer, n.HandleNotifyRetailer)
	q.Register(queue.QueueNotifyAdmin, n.HandleNotifyAdmin)
	q.Register(queue.QueueReminder, n.HandleReminder)
}

// HandleNotifyVendor tells a vendor about a fresh assignment, with the order
// contents and the response deadline.
func (n *NotificationService) HandleNotifyVendor(ctx context.Context, payload json.RawMessage) error {
	var p queue.NotifyVendorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid vendor notification payload: %w", err)
	}

	assignment, err := n.store.GetActiveAssignment(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if assignment == nil || assignment.VendorID != p.VendorID {
		// Resolved or reassigned before delivery; stale notification.
		n.logger.Info("Dropping stale vendor notification",
			zap.Int64("order_id", p.OrderID),
			zap.Int64("vendor_id", p.VendorID))
		return nil
	}

	vendor, err := n.store.GetVendorByID(ctx, p.VendorID)
	if err != nil {
		return err
	}
	items, err := n.store.GetOrderItems(ctx, p.OrderID)
	if err != nil {
		return err
	}

	text := n.renderAssignment(ctx, p.OrderID, assignment, items)
	_, err = n.messenger.Send(ctx, vendor.Name, text)
	return err
}

// HandleNotifyRetailer tells the retailer where their order stands.
func (n *NotificationService) HandleNotifyRetailer(ctx context.Context, payload json.RawMessage) error {
	var p queue.NotifyRetailerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid retailer notification payload: %w", err)
	}

	order, err := n.store.GetOrderByID(ctx, p.OrderID)
	if err != nil {
		return err
	}
	retailer, err := n.store.GetRetailerByID(ctx, order.RetailerID)
	if err != nil {
		return err
	}

	var text string
	switch p.Status {
	case models.OrderStatusConfirmed:
		text = fmt.Sprintf("Order #%d confirmed. Total %d, due %d.", order.ID, order.TotalAmount, order.DueAmount)
	case models.OrderStatusDelayed:
		text = fmt.Sprintf("Order #%d is delayed; our team is arranging fulfillment.", order.ID)
	default:
		text = fmt.Sprintf("Order #%d is now %s.", order.ID, order.Status)
	}
	_, err = n.messenger.Send(ctx, retailer.Name, text)
	return err
}

// HandleNotifyAdmin forwards an escalation to the admin channel.
func (n *NotificationService) HandleNotifyAdmin(ctx context.Context, payload json.RawMessage) error {
	var p queue.NotifyAdminPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid admin notification payload: %w", err)
	}
	return n.notifier.Notify(ctx, p.Severity, p.Subject, p.Details)
}

// HandleReminder nudges a vendor halfway through the response window. It
// no-ops if the assignment was resolved or superseded in the meantime.
func (n *NotificationService) HandleReminder(ctx context.Context, payload json.RawMessage) error {
	var p queue.ReminderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid reminder payload: %w", err)
	}

	assignment, err := n.store.GetActiveAssignment(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if assignment == nil || assignment.ID != p.AssignmentID {
		return nil
	}

	vendor, err := n.store.GetVendorByID(ctx, p.VendorID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Reminder: order #%d is waiting for your response until %s.",
		p.OrderID, assignment.TimeoutAt.Format("15:04"))
	_, err = n.messenger.Send(ctx, vendor.Name, text)
	return err
}

func (n *NotificationService) renderAssignment(ctx context.Context, orderID int64, a *models.Assignment, items []models.OrderItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New order #%d (attempt %d). Respond by %s.\n",
		orderID, a.AttemptNumber, a.TimeoutAt.Format("15:04"))
	for _, item := range items {
		name := fmt.Sprintf("item %d", item.CatalogItemID)
		if ci, err := n.store.GetCatalogItemByID(ctx, item.CatalogItemID); err == nil {
			name = ci.Name
		}
		fmt.Fprintf(&b, "- %s x%d @ %d\n", name, item.Quantity, item.UnitPrice)
	}
	return b.String()
}
