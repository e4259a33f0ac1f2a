package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/switchboard/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
)

// handleListTasks lists live tasks, or persisted ones with ?history=true.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := core.TaskStatus(q.Get("status"))
	expertID := q.Get("expert")

	if q.Get("history") == "true" {
		if s.deps.History == nil {
			unavailable(w, "task history")
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		tasks, err := s.deps.History.List(r.Context(), state.HistoryFilter{Status: status, ExpertID: expertID, Limit: limit})
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, tasks)
		return
	}

	if s.deps.Tasks == nil {
		unavailable(w, "task manager")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Tasks.List(background.ListFilter{Status: status, ExpertID: expertID}))
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		unavailable(w, "task manager")
		return
	}
	var req background.StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDomainError(w, err)
		return
	}
	task, err := s.deps.Tasks.Start(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

// handleGetTask serves a live task, falling back to the history store.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if s.deps.Tasks != nil {
		task, err := s.deps.Tasks.Get(id)
		if err == nil {
			respondJSON(w, http.StatusOK, task)
			return
		}
		if !core.IsCategory(err, core.ErrCatNotFound) || s.deps.History == nil {
			respondDomainError(w, err)
			return
		}
	}
	if s.deps.History == nil {
		unavailable(w, "task manager")
		return
	}
	task, err := s.deps.History.GetTask(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		unavailable(w, "task manager")
		return
	}
	task, err := s.deps.Tasks.Cancel(chi.URLParam(r, "taskID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}
