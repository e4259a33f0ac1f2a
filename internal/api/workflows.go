package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

// RunWorkflowRequest starts a workflow.
type RunWorkflowRequest struct {
	Request   string             `json:"request"`
	Overrides workflow.Overrides `json:"overrides,omitempty"`
}

// handleRunWorkflow runs a workflow to completion on the request context.
// A client disconnect cancels the workflow.
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workflows == nil {
		unavailable(w, "workflow runner")
		return
	}
	var req RunWorkflowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDomainError(w, err)
		return
	}
	if strings.TrimSpace(req.Request) == "" {
		respondDomainError(w, core.ErrValidation(core.CodeEmptyPrompt, "request cannot be empty"))
		return
	}

	result := s.deps.Workflows.Execute(r.Context(), req.Request, req.Overrides)
	if errors.Is(result.Err, workflow.ErrAlreadyRunning) {
		respondDomainError(w, result.Err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleCurrentWorkflow returns the context of the running or last workflow.
func (s *Server) handleCurrentWorkflow(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Workflows == nil {
		unavailable(w, "workflow runner")
		return
	}
	wc := s.deps.Workflows.Context()
	if wc.ID == "" {
		respondDomainError(w, core.ErrNotFound("workflow", "current"))
		return
	}
	respondJSON(w, http.StatusOK, wc)
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Workflows == nil {
		unavailable(w, "workflow runner")
		return
	}
	s.deps.Workflows.Cancel()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handlePauseWorkflow pauses or resumes the running workflow. Nothing to
// change is a state conflict.
func (s *Server) handlePauseWorkflow(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.deps.Workflows == nil {
			unavailable(w, "workflow runner")
			return
		}
		changed, status := false, "paused"
		if pause {
			changed = s.deps.Workflows.Pause()
		} else {
			changed, status = s.deps.Workflows.Resume(), "running"
		}
		if !changed {
			respondDomainError(w, core.ErrState(core.CodeInvalidTransition, "no running workflow in a state that allows this"))
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"status": status})
	}
}
