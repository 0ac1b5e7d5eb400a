package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptOutcome represents how a single candidate attempt ended
type AttemptOutcome string

const (
	AttemptOutcomeSuccess     AttemptOutcome = "success"
	AttemptOutcomeFailed      AttemptOutcome = "failed"
	AttemptOutcomeRateLimited AttemptOutcome = "rate_limited" // Rejected locally, never dispatched
)

// AttemptRecord is the persisted form of one candidate attempt within a routed call
type AttemptRecord struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	CallID    uuid.UUID      `json:"call_id" db:"call_id"`
	Sequence  int            `json:"sequence" db:"sequence"` // 1-based position in the candidate list
	Model     string         `json:"model" db:"model"`
	Tier      Tier           `json:"tier" db:"tier"`
	CostClass CostClass      `json:"cost_class" db:"cost_class"`
	Outcome   AttemptOutcome `json:"outcome" db:"outcome"`

	// Failure details, empty on success
	ErrorKind    string `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`
	StatusCode   int    `json:"status_code,omitempty" db:"status_code"`

	PromptTokens     int `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" db:"completion_tokens"`
	LatencyMs        int `json:"latency_ms" db:"latency_ms"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewAttemptRecord creates a record with a fresh id and creation time
func NewAttemptRecord(callID uuid.UUID, sequence int, model ModelDescriptor, outcome AttemptOutcome) *AttemptRecord {
	return &AttemptRecord{
		ID:        uuid.New(),
		CallID:    callID,
		Sequence:  sequence,
		Model:     model.ID,
		Tier:      model.Tier,
		CostClass: model.CostClass,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
}

// TableName returns the table name for the attempt record
func (AttemptRecord) TableName() string {
	return "route_attempts"
}

// IsSuccess returns true if the attempt produced a response
func (r *AttemptRecord) IsSuccess() bool {
	return r.Outcome == AttemptOutcomeSuccess
}
