package handoff

import "time"

// HandoffRecord is an accepted handoff between two consecutive stages. Records
// are appended to a run and never rewritten.
type HandoffRecord struct {
	Seq              int              `json:"seq"`
	TraceID          string           `json:"trace_id"`
	RunID            string           `json:"run_id"`
	StageFrom        Stage            `json:"stage_from"`
	StageTo          Stage            `json:"stage_to"`
	Payload          Payload          `json:"payload"`
	Timestamp        time.Time        `json:"timestamp"`
	ValidationResult ValidationResult `json:"validation_result"`
	QualityScore     *QualityScore    `json:"quality_score,omitempty"`
	Forced           bool             `json:"forced,omitempty"`
	ContentHash      string           `json:"content_hash,omitempty"`
}

// RunStatus is the coarse lifecycle status of a pipeline run.
type RunStatus string

const (
	StatusRunning   RunStatus = "Running"
	StatusImproving RunStatus = "Improving"
	StatusEscalated RunStatus = "Escalated"
	StatusFailed    RunStatus = "Failed"
	StatusCompleted RunStatus = "Completed"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == StatusFailed || s == StatusCompleted
}

// State is the orchestrator state machine position. The five productive
// stages are states in their own right.
type State string

const (
	StateDataCollection State = State(StageDataCollection)
	StateContent        State = State(StageContent)
	StateDesign         State = State(StageDesign)
	StateQuality        State = State(StageQuality)
	StateDelivery       State = State(StageDelivery)
	StateImproving      State = "Improving"
	StateEscalated      State = "Escalated"
	StateCompleted      State = "Completed"
	StateFailed         State = "Failed"
)

// PipelineRun carries all mutable state of one run. Retry state lives here
// and nowhere else, so a stored run can be resumed mid-retry.
type PipelineRun struct {
	RunID          string        `json:"run_id"`
	TraceID        string        `json:"trace_id"`
	CurrentStage   Stage         `json:"current_stage"`
	State          State         `json:"state"`
	IterationCount int           `json:"iteration_count"`
	MaxRetries     int           `json:"max_retries"`
	Status         RunStatus     `json:"status"`
	Warning        bool          `json:"warning"`
	Warnings       []string      `json:"warnings,omitempty"`
	Feedback       []string      `json:"feedback,omitempty"`
	LastScore      *QualityScore `json:"last_score,omitempty"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
