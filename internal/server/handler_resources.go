package server

import (
	"net/http"

	"github.com/me/orchestra/pkg/model"
)

func (s *Server) handleResourceStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	st := s.monitor.Status()
	if st.Resources == nil {
		st.Resources = []model.Resource{}
	}
	respondOK(w, reqID, st)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.catalog.List())
}
