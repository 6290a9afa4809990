package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/orchestra/pkg/model"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := model.HistoryOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid limit",
				model.FieldError{Field: "limit", Message: "must be a positive integer"}))
			return
		}
		opts.Limit = n
	}
	opts.Clamp()

	records, err := s.history.Query(r.Context(), opts.Limit)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if records == nil {
		records = []model.ExecutionRecord{}
	}
	respondOK(w, reqID, records)
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	running := []model.ExecutionRecord{}
	if s.dispatcher != nil {
		running = s.dispatcher.Running()
	}
	respondOK(w, reqID, running)
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.history.Stats())
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	jobID := chi.URLParam(r, "jobID")

	for _, rec := range s.history.Recent(s.history.Capacity()) {
		if rec.JobID == jobID {
			respondOK(w, reqID, rec)
			return
		}
	}
	if s.store != nil {
		rec, err := s.store.GetExecution(r.Context(), jobID)
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
		if rec != nil {
			respondOK(w, reqID, rec)
			return
		}
	}
	respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("execution", jobID))
}
