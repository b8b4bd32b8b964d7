package models

import "time"

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderAssigned  = "ORDER_ASSIGNED"
	EventTypeOrderConfirmed = "ORDER_CONFIRMED"
	EventTypeOrderDelayed   = "ORDER_DELAYED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeVendorTimedOut = "VENDOR_TIMED_OUT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	RetailerID  int64           `json:"retailer_id"`
	TotalAmount int64           `json:"total_amount"`
	CashOnly    bool            `json:"cash_only"`
	Items       []OrderItemData `json:"items"`
}

// OrderAssignedEvent published on every assignment, including reassignments
type OrderAssignedEvent struct {
	BaseEvent
	OrderID       int64     `json:"order_id"`
	VendorID      int64     `json:"vendor_id"`
	AttemptNumber int       `json:"attempt_number"`
	TimeoutAt     time.Time `json:"timeout_at"`
}

// OrderConfirmedEvent published when the assigned vendor accepts
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID  int64 `json:"order_id"`
	VendorID int64 `json:"vendor_id"`
}

// OrderDelayedEvent published when reassignment attempts are exhausted
type OrderDelayedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

// OrderCancelledEvent published after the compensating transaction
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// VendorTimedOutEvent published when the sweep expires an assignment
type VendorTimedOutEvent struct {
	BaseEvent
	OrderID       int64 `json:"order_id"`
	VendorID      int64 `json:"vendor_id"`
	AttemptNumber int   `json:"attempt_number"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	CatalogItemID int64 `json:"catalog_item_id"`
	VendorID      int64 `json:"vendor_id"`
	Quantity      int   `json:"quantity"`
	UnitPrice     int64 `json:"unit_price"`
}
