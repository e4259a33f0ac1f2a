package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListHooks(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Hooks == nil {
		unavailable(w, "hook registry")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Hooks.List())
}

func (s *Server) handleToggleHook(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Hooks == nil {
			unavailable(w, "hook registry")
			return
		}
		name := chi.URLParam(r, "name")
		toggle := s.deps.Hooks.Disable
		if enable {
			toggle = s.deps.Hooks.Enable
		}
		if err := toggle(name); err != nil {
			respondDomainError(w, err)
			return
		}

		if s.persistHook != nil {
			if err := s.persistHook(s.disabledHooks()); err != nil {
				s.logger.Warn("persisting hook state failed", "hook", name, "error", err)
			}
		}
		for _, h := range s.deps.Hooks.List() {
			if h.Name == name {
				respondJSON(w, http.StatusOK, h)
				return
			}
		}
		respondJSON(w, http.StatusOK, nil)
	}
}

func (s *Server) disabledHooks() []string {
	disabled := []string{}
	for _, h := range s.deps.Hooks.List() {
		if !h.Enabled {
			disabled = append(disabled, h.Name)
		}
	}
	return disabled
}
