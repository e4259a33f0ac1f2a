package core

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a background task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusCancelled
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// BackgroundTask is one asynchronous expert call owned by the task manager.
type BackgroundTask struct {
	ID          string     `json:"id"`
	ExpertID    string     `json:"expert_id"`
	Model       string     `json:"model"`
	Provider    string     `json:"provider"`
	Prompt      string     `json:"prompt"`
	Context     string     `json:"context,omitempty"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ActualID    string     `json:"actual_expert_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewBackgroundTask creates a pending task.
func NewBackgroundTask(id string, expert Expert, prompt, context string, now time.Time) *BackgroundTask {
	return &BackgroundTask{
		ID:        id,
		ExpertID:  expert.ID,
		Model:     expert.Model,
		Provider:  expert.Provider,
		Prompt:    prompt,
		Context:   context,
		Status:    TaskStatusPending,
		CreatedAt: now,
	}
}

func (t *BackgroundTask) transition(next TaskStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return ErrState(CodeInvalidTransition, fmt.Sprintf("task %s: cannot move from %s to %s", t.ID, t.Status, next))
	}
	t.Status = next
	return nil
}

// MarkRunning transitions a pending task to running.
func (t *BackgroundTask) MarkRunning(now time.Time) error {
	if err := t.transition(TaskStatusRunning); err != nil {
		return err
	}
	t.StartedAt = &now
	return nil
}

// MarkCompleted records a successful result.
func (t *BackgroundTask) MarkCompleted(result, actualExpert string, now time.Time) error {
	if err := t.transition(TaskStatusCompleted); err != nil {
		return err
	}
	t.Result = result
	t.ActualID = actualExpert
	t.CompletedAt = &now
	return nil
}

// MarkFailed records a failure.
func (t *BackgroundTask) MarkFailed(err error, now time.Time) error {
	if terr := t.transition(TaskStatusFailed); terr != nil {
		return terr
	}
	if err != nil {
		t.Error = err.Error()
	}
	t.CompletedAt = &now
	return nil
}

// MarkCancelled cancels a pending or running task.
func (t *BackgroundTask) MarkCancelled(now time.Time) error {
	if err := t.transition(TaskStatusCancelled); err != nil {
		return err
	}
	t.CompletedAt = &now
	return nil
}

// Duration returns the running time, or zero if the task never started.
func (t *BackgroundTask) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.CompletedAt == nil {
		return time.Since(*t.StartedAt)
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// Clone returns a copy safe to hand to callers.
func (t *BackgroundTask) Clone() *BackgroundTask {
	c := *t
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := *t.CompletedAt
		c.CompletedAt = &s
	}
	return &c
}
