package alert

import (
	"context"
	"time"
)

// Severity classifies how urgent a message is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Well-known topics published by the control plane.
const (
	TopicEmergencyShutdown = "emergency_shutdown"
	TopicRolloutRollback   = "rollout_rollback"
	TopicCostControl       = "cost_control"
)

// Message is a single notification event.
type Message struct {
	Topic    string    `json:"topic"`
	Subject  string    `json:"subject"` // feature name or subject ID the event concerns
	Severity Severity  `json:"severity"`
	Body     string    `json:"body"`
	At       time.Time `json:"at"`
}

// Publisher delivers messages to an external notification channel.
// Implementations must be safe for concurrent use and must not block
// indefinitely: delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// NopPublisher discards all messages. Useful as a default when no alerting
// infrastructure is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, msg Message) error { return nil }
