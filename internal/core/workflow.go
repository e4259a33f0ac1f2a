package core

import (
	"time"
)

// PhaseRecord is one entry of the append-only phase history.
type PhaseRecord struct {
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// RecoveryAction is the corrective step chosen by the recovery phase.
type RecoveryAction string

const (
	RecoverySwitchExpert  RecoveryAction = "switch_expert"
	RecoveryRetrySame     RecoveryAction = "retry_same"
	RecoveryRetryOther    RecoveryAction = "retry_different"
	RecoveryClarification RecoveryAction = "request_clarification"
	RecoveryEscalate      RecoveryAction = "escalate"
)

// RecoveryHint carries the recovery decision into the next implementation attempt.
type RecoveryHint struct {
	Action   RecoveryAction `json:"action"`
	ExpertID string         `json:"expert_id,omitempty"`
}

// FailureKind records where the latest failure came from so Recovery does
// not have to guess it from free text.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureCall covers backend errors, blocked tool calls and critical
	// responses. LastError holds the message.
	FailureCall FailureKind = "call"
	// FailureRejected means the reviewer returned a verdict that was not
	// accepted. The findings live in VerificationFailures.
	FailureRejected FailureKind = "rejected"
)

// WorkflowContext is the mutable record threaded through every phase of one
// execution. Attempt counters never decrease; once EscalationRequired is set
// only Completion may run.
type WorkflowContext struct {
	ID          string     `json:"id"`
	Request     string     `json:"request"`
	Intent      Intent     `json:"intent"`
	Complexity  Complexity `json:"complexity"`
	MaxAttempts int        `json:"max_attempts"`

	ImplementationAttempts int `json:"implementation_attempts"`
	VerificationAttempts   int `json:"verification_attempts"`

	Keywords           []string   `json:"keywords,omitempty"`
	RelevantFiles      []string   `json:"relevant_files,omitempty"`
	CodebaseContext    string     `json:"codebase_context,omitempty"`
	ExplorationResults []string   `json:"exploration_results,omitempty"`
	LastImplementation string     `json:"last_implementation,omitempty"`
	LastToolCalls      []ToolCall `json:"-"`

	LastError            string        `json:"last_error,omitempty"`
	LastFailure          FailureKind   `json:"last_failure,omitempty"`
	VerificationFailures []string      `json:"verification_failures,omitempty"`
	RecoveryActions      []string      `json:"recovery_actions,omitempty"`
	RecoveryHint         *RecoveryHint `json:"recovery_hint,omitempty"`
	EscalationRequired   bool          `json:"escalation_required"`
	EscalationReason     string        `json:"escalation_reason,omitempty"`
	LastExpertUsed       string        `json:"last_expert_used,omitempty"`

	PhaseHistory []PhaseRecord `json:"phase_history"`
	StartedAt    time.Time     `json:"started_at"`
}

// NewWorkflowContext creates the context for one execution.
func NewWorkflowContext(id, request string, maxAttempts int, now time.Time) *WorkflowContext {
	return &WorkflowContext{
		ID:          id,
		Request:     request,
		MaxAttempts: maxAttempts,
		StartedAt:   now,
	}
}

// AttemptsExhausted reports whether implementation attempts reached the limit.
func (w *WorkflowContext) AttemptsExhausted() bool {
	return w.ImplementationAttempts >= w.MaxAttempts
}

// Escalate marks the workflow for escalation. The first reason wins.
func (w *WorkflowContext) Escalate(reason string) {
	if !w.EscalationRequired {
		w.EscalationReason = reason
	}
	w.EscalationRequired = true
}

// Clone returns a deep copy. Phases run against a clone that is committed
// only when their result is accepted.
func (w *WorkflowContext) Clone() *WorkflowContext {
	c := *w
	c.Keywords = append([]string(nil), w.Keywords...)
	c.RelevantFiles = append([]string(nil), w.RelevantFiles...)
	c.ExplorationResults = append([]string(nil), w.ExplorationResults...)
	c.LastToolCalls = append([]ToolCall(nil), w.LastToolCalls...)
	c.VerificationFailures = append([]string(nil), w.VerificationFailures...)
	c.RecoveryActions = append([]string(nil), w.RecoveryActions...)
	c.PhaseHistory = append([]PhaseRecord(nil), w.PhaseHistory...)
	if w.RecoveryHint != nil {
		h := *w.RecoveryHint
		c.RecoveryHint = &h
	}
	return &c
}

// PhaseResult is the output contract of every phase. A nil NextPhase ends
// the workflow loop.
type PhaseResult struct {
	Phase     Phase          `json:"phase"`
	Success   bool           `json:"success"`
	Output    string         `json:"output"`
	NextPhase *Phase         `json:"next_phase,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WithMeta sets a metadata key and returns the result.
func (r *PhaseResult) WithMeta(key string, value any) *PhaseResult {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// WorkflowResult is what Execute returns to its caller.
type WorkflowResult struct {
	ID             string        `json:"id"`
	Success        bool          `json:"success"`
	Output         string        `json:"output"`
	PhasesExecuted []Phase       `json:"phases_executed"`
	TotalTime      time.Duration `json:"total_time"`
	AttemptsMade   int           `json:"attempts_made"`
	Escalated      bool          `json:"escalated"`
	Error          string        `json:"error,omitempty"`
	// Err is the typed failure behind Error, when there is one.
	Err error `json:"-"`
}
