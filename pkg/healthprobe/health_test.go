package healthprobe

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestNew(t *testing.T) {
	hc := New()

	if hc == nil {
		t.Fatal("New() returned nil")
	}

	if time.Since(hc.startTime) > time.Second {
		t.Errorf("start time is too old: %v", hc.startTime)
	}

	if hc.ready.Load() {
		t.Error("should not be ready by default")
	}
}

func TestSetReady_Toggle(t *testing.T) {
	hc := New()

	hc.SetReady(true)
	if !hc.ready.Load() {
		t.Error("should be ready after SetReady(true)")
	}

	hc.SetReady(false)
	if hc.ready.Load() {
		t.Error("should not be ready after SetReady(false)")
	}
}

func TestHealth_AlwaysOK(t *testing.T) {
	hc := New()
	hc.SetStageState("markets", "complete")
	hc.SetStageState("trades", "in_progress")

	rec := httptest.NewRecorder()
	hc.Health()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
	if resp.Stages["trades"] != "in_progress" {
		t.Errorf("expected stage states in payload, got %v", resp.Stages)
	}
}

func TestReady_GatedOnReadiness(t *testing.T) {
	hc := New()

	rec := httptest.NewRecorder()
	hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "not_ready" || resp.Message == "" {
		t.Errorf("unexpected not-ready payload: %+v", resp)
	}

	hc.SetReady(true)

	rec = httptest.NewRecorder()
	hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}

func TestSetStageState_Overwrites(t *testing.T) {
	hc := New()

	hc.SetStageState("events", "in_progress")
	hc.SetStageState("events", "complete")

	states := hc.stageStates()
	if states["events"] != "complete" {
		t.Errorf("expected latest stage state, got %v", states)
	}
}
