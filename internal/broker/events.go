package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
)

// EventPublisher handles publishing order lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		RetailerID:  order.RetailerID,
		TotalAmount: order.TotalAmount,
		CashOnly:    order.CashOnly,
	}
	for _, item := range items {
		event.Items = append(event.Items, models.OrderItemData{
			CatalogItemID: item.CatalogItemID,
			VendorID:      item.VendorID,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
		})
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderAssigned publishes OrderAssigned event, on first assignment and
// every reassignment
func (ep *EventPublisher) PublishOrderAssigned(ctx context.Context, a *models.Assignment) error {
	event := &models.OrderAssignedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderAssigned),
		OrderID:       a.OrderID,
		VendorID:      a.VendorID,
		AttemptNumber: a.AttemptNumber,
		TimeoutAt:     a.TimeoutAt,
	}
	return ep.producer.PublishEvent(ctx, orderKey(a.OrderID), event)
}

// PublishOrderConfirmed publishes OrderConfirmed event
func (ep *EventPublisher) PublishOrderConfirmed(ctx context.Context, orderID, vendorID int64) error {
	event := &models.OrderConfirmedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderConfirmed),
		OrderID:   orderID,
		VendorID:  vendorID,
	}
	return ep.producer.PublishEvent(ctx, orderKey(orderID), event)
}

// PublishOrderDelayed publishes OrderDelayed event
func (ep *EventPublisher) PublishOrderDelayed(ctx context.Context, orderID int64, attempts int, reason string) error {
	event := &models.OrderDelayedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderDelayed),
		OrderID:   orderID,
		Attempts:  attempts,
		Reason:    reason,
	}
	return ep.producer.PublishEvent(ctx, orderKey(orderID), event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, orderID int64, reason string) error {
	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		Reason:    reason,
	}
	return ep.producer.PublishEvent(ctx, orderKey(orderID), event)
}

// PublishVendorTimedOut publishes VendorTimedOut event
func (ep *EventPublisher) PublishVendorTimedOut(ctx context.Context, a *models.Assignment) error {
	event := &models.VendorTimedOutEvent{
		BaseEvent:     newBaseEvent(models.EventTypeVendorTimedOut),
		OrderID:       a.OrderID,
		VendorID:      a.VendorID,
		AttemptNumber: a.AttemptNumber,
	}
	return ep.producer.PublishEvent(ctx, orderKey(a.OrderID), event)
}
