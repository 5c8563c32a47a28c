package types

import "time"

// StageStatus is the lifecycle state of a pipeline stage checkpoint.
type StageStatus string

const (
	StatusInProgress StageStatus = "in_progress"
	StatusComplete   StageStatus = "complete"
	StatusFailed     StageStatus = "failed"
)

// Checkpoint is the durable progress marker for one pipeline stage.
// The cursor is stage-defined: a pagination offset for metadata sync, a
// unix timestamp for the event feed and the transformation stage.
type Checkpoint struct {
	StageID     string         `json:"stage"`
	Cursor      string         `json:"cursor"`
	Status      StageStatus    `json:"status"`
	CompletedAt time.Time      `json:"completed_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsFresh reports whether a complete checkpoint is still inside the
// freshness window at the given instant. Non-complete checkpoints are
// never fresh.
func (c *Checkpoint) IsFresh(window time.Duration, now time.Time) bool {
	if c.Status != StatusComplete {
		return false
	}

	return now.Sub(c.CompletedAt) <= window
}
