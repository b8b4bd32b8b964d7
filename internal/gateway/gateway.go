package gateway

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

// Messenger is the outbound messaging gateway. Implementations must be safe
// to call repeatedly for the same logical message: delivery runs through
// at-least-once queue jobs, never synchronously on the commit path.
type Messenger interface {
	Send(ctx context.Context, recipient, text string) (deliveryID string, err error)
}

// AdminNotifier is the admin notification surface, consumed only by the
// timeout-escalation and dead-letter paths.
type AdminNotifier interface {
	Notify(ctx context.Context, severity, subject, details string) error
}

// LogMessenger is the default Messenger: it records the message instead of
// delivering it, for environments without a configured gateway.
type LogMessenger struct {
	logger *zap.Logger
}

// NewLogMessenger creates a messenger that only logs
func NewLogMessenger() *LogMessenger {
	return &LogMessenger{logger: util.NamedLogger("messenger")}
}

func (m *LogMessenger) Send(ctx context.Context, recipient, text string) (string, error) {
	deliveryID := uuid.New().String()
	m.logger.Info("Outbound message",
		zap.String("recipient", recipient),
		zap.String("text", text),
		zap.String("delivery_id", deliveryID))
	return deliveryID, nil
}

// LogNotifier is the default AdminNotifier, logging at a level matching the
// severity so escalations stand out in aggregated logs.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.NamedLogger("admin-notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, severity, subject, details string) error {
	fields := []zap.Field{
		zap.String("severity", severity),
		zap.String("subject", subject),
		zap.String("details", details),
	}
	if severity == SeverityUrgent {
		n.logger.Error("Admin notification", fields...)
	} else {
		n.logger.Warn("Admin notification", fields...)
	}
	return nil
}

// Severities used by the escalation paths.
const (
	SeverityUrgent = "URGENT"
	SeverityWarn   = "WARN"
)
