package queue

// Job payloads shared between enqueuers and handlers.

// NotifyVendorPayload asks the messenger to tell a vendor about a new
// assignment.
type NotifyVendorPayload struct {
	OrderID       int64 `json:"order_id"`
	VendorID      int64 `json:"vendor_id"`
	AttemptNumber int   `json:"attempt_number"`
}

// NotifyRetailerPayload tells a retailer about an order status change.
type NotifyRetailerPayload struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// NotifyAdminPayload carries an admin escalation.
type NotifyAdminPayload struct {
	Severity string `json:"severity"`
	Subject  string `json:"subject"`
	Details  string `json:"details"`
}

// ReminderPayload nudges a vendor partway through the response window. The
// handler drops it silently if the assignment was resolved in the meantime.
type ReminderPayload struct {
	AssignmentID int64 `json:"assignment_id"`
	OrderID      int64 `json:"order_id"`
	VendorID     int64 `json:"vendor_id"`
}

// ScoreRecalcPayload triggers a vendor reliability recalculation.
type ScoreRecalcPayload struct {
	VendorID int64 `json:"vendor_id"`
}
