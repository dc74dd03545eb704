package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the work a tick triggers.
type Kind string

const (
	// KindRolloutIncrement raises a percentage rollout by its configured step.
	KindRolloutIncrement Kind = "rollout_increment"
	// KindCanaryEvaluation decides canary promotion or rollback.
	KindCanaryEvaluation Kind = "canary_evaluation"
	// KindActionReversal reverses an expired governance control action.
	KindActionReversal Kind = "action_reversal"
)

// Status is the lifecycle state of a tick.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Tick is a persisted scheduled unit of work. Key identifies the record the
// work applies to: a feature name for rollout ticks, a control-action ID
// for reversals.
type Tick struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Key       string    `json:"key"`
	RunAt     time.Time `json:"run_at"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
