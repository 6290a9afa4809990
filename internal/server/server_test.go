package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/orchestra/internal/config"
	"github.com/me/orchestra/internal/dispatch"
	"github.com/me/orchestra/internal/health"
	"github.com/me/orchestra/internal/history"
	"github.com/me/orchestra/internal/metrics"
	"github.com/me/orchestra/internal/registry"
	"github.com/me/orchestra/internal/scheduler"
	"github.com/me/orchestra/internal/selection"
	"github.com/me/orchestra/internal/store"
	"github.com/me/orchestra/pkg/model"
)

type echoInvoker struct{}

func (echoInvoker) Invoke(_ context.Context, res model.Resource, p model.Payload) (model.InvokeResult, error) {
	out, _ := json.Marshal(map[string]string{"resource": res.Name, "prompt": p.Prompt})
	return model.InvokeResult{Output: out}, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New(logger)
	for _, name := range []string{"mistral-7b", "llama3", "codellama"} {
		if err := reg.Register(model.Resource{Name: name, Available: true}); err != nil {
			t.Fatal(err)
		}
	}
	m := metrics.New()
	mon := health.NewMonitor(reg, nil, health.DefaultConfig(), logger, health.WithMetrics(m))
	eng := selection.NewEngine(reg, mon, config.DefaultAffinity(), logger, selection.WithMetrics(m))
	hist := history.New(100, logger, history.WithSink(st), history.WithQuerier(st))
	t.Cleanup(hist.Close)
	disp := dispatch.New(eng, echoInvoker{}, mon, hist, dispatch.DefaultConfig(), logger, dispatch.WithMetrics(m))
	t.Cleanup(disp.Close)

	catalog, err := registry.NewCatalog(config.DefaultTasks()...)
	if err != nil {
		t.Fatal(err)
	}
	sched := scheduler.New(catalog, disp, scheduler.DefaultConfig(), logger, scheduler.WithStore(st))

	return New(config.Default().Server, Deps{
		Scheduler: sched,
		Catalog:   catalog,
		History:   hist,
		Monitor:   mon,
	}, logger, WithDispatcher(disp), WithStore(st), WithMetrics(m))
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	Success   bool            `json:"success"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func TestDiscovery(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, "GET", "/api/v1/", "", http.StatusOK)
	if env.Status != "ok" || !env.Success {
		t.Errorf("status = %q success = %v", env.Status, env.Success)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}
	var data discoveryResponse
	json.Unmarshal(env.Data, &data)
	if data.Name != "Orchestra API" || len(data.Endpoints) < 10 {
		t.Errorf("discovery = %+v", data)
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, "GET", "/api/v1/health", "", http.StatusOK)
	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" || !data.BackendHealthy || data.GoVersion == "" {
		t.Errorf("health = %+v", data)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_fromclient")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req_fromclient" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

// TestScheduleLifecycle creates, lists, disables and deletes a schedule.
func TestScheduleLifecycle(t *testing.T) {
	srv := testServer(t)

	env := do(t, srv, "POST", "/api/v1/schedules",
		`{"name":"daily-digest","cron":"0 18 * * *","task_ref":"sendDailyDigest","description":"evening"}`,
		http.StatusCreated)
	var created model.Schedule
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.ID, "sch_") || !created.Enabled {
		t.Fatalf("created = %+v", created)
	}

	env = do(t, srv, "GET", "/api/v1/schedules", "", http.StatusOK)
	var list []model.Schedule
	json.Unmarshal(env.Data, &list)
	if len(list) != 1 {
		t.Fatalf("list len = %d, want 1", len(list))
	}
	if list[0].NextRun == nil || list[0].NextRun.Before(time.Now()) {
		t.Errorf("next_run = %v, want a future time", list[0].NextRun)
	}
	if list[0].State != model.ScheduleArmed {
		t.Errorf("state = %q", list[0].State)
	}

	env = do(t, srv, "PUT", "/api/v1/schedules/"+created.ID+"/disable", "", http.StatusOK)
	var disabled model.Schedule
	json.Unmarshal(env.Data, &disabled)
	if disabled.Enabled || disabled.NextRun != nil {
		t.Errorf("after disable: %+v", disabled)
	}

	env = do(t, srv, "PUT", "/api/v1/schedules/"+created.ID+"/enable", "", http.StatusOK)
	var enabled model.Schedule
	json.Unmarshal(env.Data, &enabled)
	if !enabled.Enabled {
		t.Errorf("after enable: %+v", enabled)
	}

	do(t, srv, "GET", "/api/v1/schedules/"+created.ID, "", http.StatusOK)
	do(t, srv, "DELETE", "/api/v1/schedules/"+created.ID, "", http.StatusOK)
	env = do(t, srv, "GET", "/api/v1/schedules/"+created.ID, "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.CodeNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestCreateSchedule_Errors(t *testing.T) {
	srv := testServer(t)
	tests := []struct {
		name, body string
		status     int
		code       model.ErrorCode
	}{
		{"bad json", `{`, http.StatusBadRequest, model.CodeValidation},
		{"missing fields", `{"name":"x"}`, http.StatusBadRequest, model.CodeValidation},
		{"bad cron", `{"name":"x","cron":"every day","task_ref":"syncData"}`, http.StatusBadRequest, model.CodeInvalidCron},
		{"unknown task", `{"name":"x","cron":"@daily","task_ref":"nope"}`, http.StatusBadRequest, model.CodeUnknownTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := do(t, srv, "POST", "/api/v1/schedules", tt.body, tt.status)
			if env.Status != "error" || env.Success || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("envelope = %+v, error = %+v", env, env.Error)
			}
		})
	}

	do(t, srv, "POST", "/api/v1/schedules", `{"name":"dup","cron":"@daily","task_ref":"syncData","enabled":false}`, http.StatusCreated)
	env := do(t, srv, "POST", "/api/v1/schedules", `{"name":"dup","cron":"@hourly","task_ref":"syncData"}`, http.StatusConflict)
	if env.Error.Code != model.CodeConflict {
		t.Errorf("code = %s", env.Error.Code)
	}
	do(t, srv, "PUT", "/api/v1/schedules/sch_missing/enable", "", http.StatusNotFound)
	do(t, srv, "DELETE", "/api/v1/schedules/sch_missing", "", http.StatusNotFound)
}

func TestRunAndHistory(t *testing.T) {
	srv := testServer(t)

	env := do(t, srv, "POST", "/api/v1/run/sendDailyDigest", `{"params":{"audience":"ops"}}`, http.StatusOK)
	var rec model.ExecutionRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.ExecutionCompleted || !rec.Manual || rec.ResourceName != "llama3" {
		t.Errorf("record = %+v", rec)
	}
	if !strings.HasPrefix(rec.JobID, "job_") || rec.EndTime == nil {
		t.Errorf("record = %+v", rec)
	}

	// No body at all is fine too.
	do(t, srv, "POST", "/api/v1/run/syncData", "", http.StatusOK)

	env = do(t, srv, "GET", "/api/v1/history?limit=1", "", http.StatusOK)
	var hist []model.ExecutionRecord
	json.Unmarshal(env.Data, &hist)
	if len(hist) != 1 || hist[0].TaskRef != "syncData" {
		t.Errorf("history = %+v", hist)
	}

	env = do(t, srv, "GET", "/api/v1/history", "", http.StatusOK)
	json.Unmarshal(env.Data, &hist)
	if len(hist) != 2 || hist[1].JobID != rec.JobID {
		t.Errorf("history = %+v", hist)
	}

	env = do(t, srv, "GET", "/api/v1/history/"+rec.JobID, "", http.StatusOK)
	var got model.ExecutionRecord
	json.Unmarshal(env.Data, &got)
	if got.JobID != rec.JobID {
		t.Errorf("got %+v", got)
	}
	do(t, srv, "GET", "/api/v1/history/job_missing", "", http.StatusNotFound)
	do(t, srv, "GET", "/api/v1/history?limit=abc", "", http.StatusBadRequest)

	env = do(t, srv, "GET", "/api/v1/history/stats", "", http.StatusOK)
	var stats map[string]history.TaskStats
	json.Unmarshal(env.Data, &stats)
	if stats["chat"].Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	env = do(t, srv, "GET", "/api/v1/history/running", "", http.StatusOK)
	if string(env.Data) != "[]" {
		t.Errorf("running = %s", env.Data)
	}

	env = do(t, srv, "POST", "/api/v1/run/noSuchTask", "", http.StatusNotFound)
	if env.Error.Code != model.CodeUnknownTask {
		t.Errorf("code = %s", env.Error.Code)
	}
	do(t, srv, "POST", "/api/v1/run/syncData", "{", http.StatusBadRequest)
}

func TestResourcesAndTasks(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/v1/run/sendDailyDigest", "", http.StatusOK)

	env := do(t, srv, "GET", "/api/v1/resources/status", "", http.StatusOK)
	var st model.ResourceStatus
	json.Unmarshal(env.Data, &st)
	if !st.Healthy || len(st.Resources) != 3 {
		t.Fatalf("status = %+v", st)
	}
	for _, res := range st.Resources {
		if res.Name == "llama3" && res.Performance.ResponseCount != 1 {
			t.Errorf("llama3 profile = %+v", res.Performance)
		}
	}

	env = do(t, srv, "GET", "/api/v1/tasks", "", http.StatusOK)
	var tasks []model.TaskDefinition
	json.Unmarshal(env.Data, &tasks)
	if len(tasks) != len(config.DefaultTasks()) {
		t.Errorf("tasks len = %d", len(tasks))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/v1/run/sendDailyDigest", "", http.StatusOK)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "orchestra_dispatch_total") {
		t.Errorf("metrics output missing dispatch counter:\n%s", w.Body.String())
	}
}
