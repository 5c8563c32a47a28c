package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/internal/pipeline"
	"github.com/mselser95/polymarket-ledger/internal/registry"
	"github.com/mselser95/polymarket-ledger/pkg/healthprobe"
	"github.com/mselser95/polymarket-ledger/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *healthprobe.HealthChecker, *checkpoint.FileStore) {
	t.Helper()

	logger := zap.NewNop()

	store, err := checkpoint.NewFileStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	hc := healthprobe.New()

	reg := registry.New(&registry.Config{
		Logger:          logger,
		NegativeTTL:     time.Minute,
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	})
	reg.Load([]types.Market{{
		ID:        "516713",
		Question:  "will it happen?",
		Slug:      "will-it-happen",
		Token1:    "111",
		Token2:    "222",
		CreatedAt: time.Unix(1690000000, 0).UTC(),
	}})

	srv := New(&Config{
		Port:            "0",
		Logger:          logger,
		HealthChecker:   hc,
		CheckpointStore: store,
		Registry:        reg,
	})

	return srv, hc, store
}

func serve(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.server.Handler.ServeHTTP(rec, req)

	return rec
}

func TestServer_Health(t *testing.T) {
	srv, hc, _ := newTestServer(t)
	hc.SetStageState("markets", "complete")

	rec := serve(srv, http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp healthprobe.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
	if resp.Stages["markets"] != "complete" {
		t.Errorf("expected stage state in health payload, got %v", resp.Stages)
	}
}

func TestServer_ReadyFlipsWithBatchPhase(t *testing.T) {
	srv, hc, _ := newTestServer(t)

	rec := serve(srv, http.MethodGet, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during batch phase, got %d", rec.Code)
	}

	hc.SetReady(true)

	rec = serve(srv, http.MethodGet, "/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once streaming, got %d", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := serve(srv, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected prometheus exposition output")
	}
}

func TestServer_Status(t *testing.T) {
	srv, _, store := newTestServer(t)

	err := store.Put(types.Checkpoint{
		StageID:     pipeline.StageMarkets,
		Cursor:      "1500",
		Status:      types.StatusComplete,
		CompletedAt: time.Now().Add(-10 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := serve(srv, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if len(resp.Stages) != 3 {
		t.Fatalf("expected all three stages reported, got %d", len(resp.Stages))
	}

	byStage := make(map[string]StageStatus, len(resp.Stages))
	for _, s := range resp.Stages {
		byStage[s.Stage] = s
	}

	markets := byStage[pipeline.StageMarkets]
	if markets.Status != string(types.StatusComplete) || markets.Cursor != "1500" {
		t.Errorf("unexpected markets stage status: %+v", markets)
	}
	if byStage[pipeline.StageEvents].Status != "absent" {
		t.Errorf("expected events stage absent, got %+v", byStage[pipeline.StageEvents])
	}

	if resp.MarketCount != 1 {
		t.Errorf("expected market count 1, got %d", resp.MarketCount)
	}
}
