package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/orchestra/internal/scheduler"
	"github.com/me/orchestra/pkg/model"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.scheduler.List())
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("Invalid JSON body: "+err.Error()))
		return
	}

	var missing []model.FieldError
	if req.Name == "" {
		missing = append(missing, model.FieldError{Field: "name", Message: "required"})
	}
	if req.Cron == "" {
		missing = append(missing, model.FieldError{Field: "cron", Message: "required"})
	}
	if req.TaskRef == "" {
		missing = append(missing, model.FieldError{Field: "task_ref", Message: "required"})
	}
	if len(missing) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("missing required fields", missing...))
		return
	}

	opts := []scheduler.ScheduleOption{
		scheduler.WithDescription(req.Description),
		scheduler.WithParams(req.Params),
	}
	if req.Enabled != nil && !*req.Enabled {
		opts = append(opts, scheduler.Disabled())
	}
	sched, err := s.scheduler.CreateSchedule(r.Context(), req.Name, req.Cron, req.TaskRef, opts...)
	if err != nil {
		respondDomainError(w, reqID, err)
		return
	}
	respondCreated(w, reqID, sched)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	sched, err := s.scheduler.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, reqID, err)
		return
	}
	respondOK(w, reqID, sched)
}

func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	sched, err := s.scheduler.Enable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, reqID, err)
		return
	}
	respondOK(w, reqID, sched)
}

func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	sched, err := s.scheduler.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, reqID, err)
		return
	}
	respondOK(w, reqID, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Remove(r.Context(), id); err != nil {
		respondDomainError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"id": id, "deleted": true})
}
