package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	GoVersion      string `json:"go_version"`
	Uptime         string `json:"uptime"`
	BackendHealthy bool   `json:"backend_healthy"`
	Schedules      int    `json:"schedules"`
	Running        int    `json:"running"`
	Queued         int    `json:"queued"`
}

// handleHealth reports process liveness. A degraded backend pool is reported
// but does not fail the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	resp := healthResponse{
		Status:         "healthy",
		Version:        Version,
		GoVersion:      runtime.Version(),
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		BackendHealthy: s.monitor.Healthy(),
		Schedules:      len(s.scheduler.List()),
	}
	if !resp.BackendHealthy {
		resp.Status = "degraded"
	}
	if s.dispatcher != nil {
		resp.Running = s.dispatcher.InFlight()
		resp.Queued = s.dispatcher.QueueDepth()
	}
	respondOK(w, reqID, resp)
}
