package models

import (
	"encoding/json"
	"time"
)

// CatalogItem is immutable reference data owned by the catalog service.
// SearchTokens holds space-separated aliases used by the fuzzy matcher.
type CatalogItem struct {
	ID           int64     `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	SearchTokens string    `db:"search_tokens" json:"search_tokens,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Vendor represents a wholesale vendor competing for orders.
// ActiveOrderCount and PendingOrderCount are denormalized counters updated
// inside the same transaction as their triggering event.
type Vendor struct {
	ID                int64   `db:"id" json:"id"`
	Name              string  `db:"name" json:"name"`
	ReliabilityScore  float64 `db:"reliability_score" json:"reliability_score"`
	ActiveOrderCount  int     `db:"active_order_count" json:"active_order_count"`
	PendingOrderCount int     `db:"pending_order_count" json:"pending_order_count"`
	WorkingHoursStart int     `db:"working_hours_start" json:"working_hours_start"`
	WorkingHoursEnd   int     `db:"working_hours_end" json:"working_hours_end"`
	Timezone          string  `db:"timezone" json:"timezone"`
}

// VendorOffer is a per-(vendor, item) price/stock tuple. Stock is decremented
// only inside the order commit transaction.
type VendorOffer struct {
	ID            int64     `db:"id" json:"id"`
	VendorID      int64     `db:"vendor_id" json:"vendor_id"`
	CatalogItemID int64     `db:"catalog_item_id" json:"catalog_item_id"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	LeadTimeDays  int       `db:"lead_time_days" json:"lead_time_days"`
	IsAvailable   bool      `db:"is_available" json:"is_available"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Retailer places purchase orders against a credit line.
type Retailer struct {
	ID              int64  `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	CreditLimit     int64  `db:"credit_limit" json:"credit_limit"`
	OutstandingDebt int64  `db:"outstanding_debt" json:"outstanding_debt"`
	CreditScore     int    `db:"credit_score" json:"credit_score"`
}

// Order represents a committed purchase order.
type Order struct {
	ID             int64     `db:"id" json:"id"`
	RetailerID     int64     `db:"retailer_id" json:"retailer_id"`
	Status         string    `db:"status" json:"status"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount"`
	DueAmount      int64     `db:"due_amount" json:"due_amount"`
	CashOnly       bool      `db:"cash_only" json:"cash_only"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is immutable once the order moves past ASSIGNED.
type OrderItem struct {
	ID            int64 `db:"id" json:"id"`
	OrderID       int64 `db:"order_id" json:"order_id"`
	CatalogItemID int64 `db:"catalog_item_id" json:"catalog_item_id"`
	VendorOfferID int64 `db:"vendor_offer_id" json:"vendor_offer_id"`
	VendorID      int64 `db:"vendor_id" json:"vendor_id"`
	Quantity      int   `db:"quantity" json:"quantity"`
	UnitPrice     int64 `db:"unit_price" json:"unit_price"`
}

// Assignment records one vendor being given the chance to fulfill an order.
// At most one unresponded assignment exists per order (partial unique index).
type Assignment struct {
	ID            int64      `db:"id" json:"id"`
	OrderID       int64      `db:"order_id" json:"order_id"`
	VendorID      int64      `db:"vendor_id" json:"vendor_id"`
	AttemptNumber int        `db:"attempt_number" json:"attempt_number"`
	AssignedAt    time.Time  `db:"assigned_at" json:"assigned_at"`
	TimeoutAt     time.Time  `db:"timeout_at" json:"timeout_at"`
	RespondedAt   *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	Response      string     `db:"response" json:"response,omitempty"`
}

// LedgerEntry is append-only and the source of truth for outstanding debt.
type LedgerEntry struct {
	ID         int64     `db:"id" json:"id"`
	RetailerID int64     `db:"retailer_id" json:"retailer_id"`
	OrderID    int64     `db:"order_id" json:"order_id"`
	Amount     int64     `db:"amount" json:"amount"`
	Type       string    `db:"type" json:"type"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Job is a durable task-queue record.
type Job struct {
	ID          string          `db:"id" json:"id"`
	QueueName   string          `db:"queue_name" json:"queue_name"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	DedupKey    *string         `db:"dedup_key" json:"dedup_key,omitempty"`
	Status      string          `db:"status" json:"status"`
	Attempt     int             `db:"attempt" json:"attempt"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	NextRunAt   time.Time       `db:"next_run_at" json:"next_run_at"`
	LastError   *string         `db:"last_error" json:"last_error,omitempty"`
	AttemptLog  json.RawMessage `db:"attempt_log" json:"attempt_log,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// JobAttempt is one entry in a job's attempt history.
type JobAttempt struct {
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetterEntry retains an exhausted job for inspection and re-drive.
type DeadLetterEntry struct {
	ID         int64           `db:"id" json:"id"`
	JobID      string          `db:"job_id" json:"job_id"`
	QueueName  string          `db:"queue_name" json:"queue_name"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	LastError  string          `db:"last_error" json:"last_error"`
	AttemptLog json.RawMessage `db:"attempt_log" json:"attempt_log,omitempty"`
	FailedAt   time.Time       `db:"failed_at" json:"failed_at"`
	RequeuedAt *time.Time      `db:"requeued_at" json:"requeued_at,omitempty"`
}

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusAssigned   = "ASSIGNED"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusDispatched = "DISPATCHED"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
	OrderStatusDelayed    = "DELAYED"
)

// Assignment responses
const (
	AssignmentAccepted  = "ACCEPTED"
	AssignmentRejected  = "REJECTED"
	AssignmentTimedOut  = "TIMED_OUT"
	AssignmentCancelled = "CANCELLED"
)

// Job statuses
const (
	JobStatusQueued    = "QUEUED"
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
	JobStatusDead      = "DEAD"
)

// Ledger entry types
const (
	LedgerTypeOrderDebit    = "ORDER_DEBIT"
	LedgerTypeOrderReversal = "ORDER_REVERSAL"
	LedgerTypePayment       = "PAYMENT_CREDIT"
)

// IsTerminalOrderStatus reports whether a status admits no further transitions.
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}
