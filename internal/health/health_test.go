package health

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecorder_Snapshot(t *testing.T) {
	r := NewRecorder()

	r.JobStarted()
	r.JobStarted()
	r.JobStarted()
	r.JobFinished(true, 100*time.Millisecond)
	r.JobFinished(true, 300*time.Millisecond)
	r.JobFinished(false, 200*time.Millisecond)

	s := r.Snapshot()
	if s.TotalJobs != 3 || s.SucceededJobs != 2 || s.FailedJobs != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if s.ActiveJobs != 0 {
		t.Errorf("expected 0 active, got %d", s.ActiveJobs)
	}
	if math.Abs(s.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("expected success rate 2/3, got %f", s.SuccessRate)
	}
	if s.AvgProcessingMs != 200 {
		t.Errorf("expected avg 200ms, got %d", s.AvgProcessingMs)
	}
}

func TestRecorder_EmptySnapshot(t *testing.T) {
	s := NewRecorder().Snapshot()
	if s.SuccessRate != 1 {
		t.Errorf("expected success rate 1 with no jobs, got %f", s.SuccessRate)
	}
	if s.AvgProcessingMs != 0 {
		t.Errorf("expected 0 avg, got %d", s.AvgProcessingMs)
	}
}

func TestRecorder_ActiveCount(t *testing.T) {
	r := NewRecorder()
	r.JobStarted()
	r.JobStarted()
	r.JobFinished(true, time.Millisecond)
	if s := r.Snapshot(); s.ActiveJobs != 1 {
		t.Errorf("expected 1 active, got %d", s.ActiveJobs)
	}
}

func TestHealthEndpoint(t *testing.T) {
	connected := true
	srv := NewServer(NewRecorder(), func() bool { return connected }, func() int { return 2 }, nil)
	router := srv.Router()

	resp := doGet(t, router, "/health")
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", resp["status"])
	}

	connected = false
	resp = doGet(t, router, "/health")
	if resp["status"] != "degraded" {
		t.Errorf("expected degraded when broker is down, got %v", resp["status"])
	}
	if _, ok := resp["memory"]; !ok {
		t.Error("expected memory section")
	}
	if _, ok := resp["metrics"]; !ok {
		t.Error("expected metrics section")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := NewRecorder()
	rec.JobStarted()
	rec.JobFinished(true, 50*time.Millisecond)
	srv := NewServer(rec, nil, func() int { return 3 }, nil)

	resp := doGet(t, srv.Router(), "/metrics")
	if resp["live_sessions"].(float64) != 3 {
		t.Errorf("expected 3 live sessions, got %v", resp["live_sessions"])
	}
	jobs := resp["jobs"].(map[string]any)
	if jobs["total_jobs"].(float64) != 1 {
		t.Errorf("expected 1 total job, got %v", jobs["total_jobs"])
	}
}

func doGet(t *testing.T, h http.Handler, path string) map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("%s: expected 200, got %d", path, w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}
