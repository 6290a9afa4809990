package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/me/orchestra/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil)
}

// respondCreated writes a 201 response with the standard envelope.
func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, apiErr)
}

// respondDomainError maps a domain error onto a status and error code.
// Unknown errors become 500s.
func respondDomainError(w http.ResponseWriter, reqID string, err error) {
	status, code := http.StatusInternalServerError, model.CodeInternal
	switch {
	case errors.Is(err, model.ErrInvalidCronExpression):
		status, code = http.StatusBadRequest, model.CodeInvalidCron
	case errors.Is(err, model.ErrUnknownTask):
		status, code = http.StatusBadRequest, model.CodeUnknownTask
	case errors.Is(err, model.ErrDuplicateName):
		status, code = http.StatusConflict, model.CodeConflict
	case errors.Is(err, model.ErrScheduleNotFound):
		status, code = http.StatusNotFound, model.CodeNotFound
	}
	respondError(w, reqID, status, &model.APIError{Code: code, Message: err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, apiErr *model.APIError) {
	resp := model.Response{
		RequestID: reqID,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
		resp.Success = true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
