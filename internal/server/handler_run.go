package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/orchestra/pkg/model"
)

// handleRun dispatches a task by ref and waits for its record. A failed run
// still answers 200: the failure is on the record.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	ref := chi.URLParam(r, "taskRef")

	var req model.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("Invalid JSON body: "+err.Error()))
		return
	}

	rec, err := s.scheduler.RunNow(r.Context(), ref, req.Params)
	if errors.Is(err, model.ErrUnknownTask) {
		respondError(w, reqID, http.StatusNotFound, &model.APIError{Code: model.CodeUnknownTask, Message: err.Error()})
		return
	}
	if err != nil {
		respondDomainError(w, reqID, err)
		return
	}
	respondOK(w, reqID, rec)
}
