package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "Orchestra API",
		Version:     "v1",
		Description: "Cron scheduling and adaptive backend dispatch",
		Endpoints: []endpointInfo{
			{"/api/v1/schedules", []string{"GET", "POST"}, "List or create schedules"},
			{"/api/v1/schedules/{id}", []string{"GET", "DELETE"}, "Single schedule"},
			{"/api/v1/schedules/{id}/enable", []string{"PUT"}, "Arm a schedule"},
			{"/api/v1/schedules/{id}/disable", []string{"PUT"}, "Disarm a schedule"},
			{"/api/v1/run/{task_ref}", []string{"POST"}, "Run a task now and return its execution record"},
			{"/api/v1/history", []string{"GET"}, "Execution records, newest first (?limit=N)"},
			{"/api/v1/history/running", []string{"GET"}, "Executions in flight"},
			{"/api/v1/history/stats", []string{"GET"}, "Success rate per task type"},
			{"/api/v1/history/{job_id}", []string{"GET"}, "Single execution record"},
			{"/api/v1/resources/status", []string{"GET"}, "Resources, performance profiles and pool health"},
			{"/api/v1/tasks", []string{"GET"}, "Task catalog"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/metrics", []string{"GET"}, "Prometheus metrics"},
		},
	})
}
