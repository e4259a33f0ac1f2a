package core

import (
	"context"
	"time"
)

// LoopState is the persisted record of a running loop.
type LoopState struct {
	Active            bool      `json:"active"`
	Iteration         int       `json:"iteration"`
	MaxIterations     int       `json:"max_iterations"`
	CompletionPromise string    `json:"completion_promise"`
	Prompt            string    `json:"prompt"`
	ExpertID          string    `json:"expert_id"`
	LastResponse      string    `json:"last_response,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate checks that a loaded record is usable.
func (s *LoopState) Validate() error {
	if s.Prompt == "" {
		return ErrValidation(CodeEmptyPrompt, "loop state has no prompt")
	}
	if s.ExpertID == "" {
		return ErrValidation(CodeUnknownExpert, "loop state has no expert")
	}
	if s.MaxIterations <= 0 || s.Iteration < 0 || s.Iteration > s.MaxIterations {
		return ErrValidation(CodeInvalidConfig, "loop state has invalid iteration bounds")
	}
	return nil
}

// LoopStateStore persists loop state. Load returns nil, nil when there is
// no usable state.
type LoopStateStore interface {
	Save(ctx context.Context, s *LoopState) error
	Load(ctx context.Context) (*LoopState, error)
	Clear(ctx context.Context) error
}
