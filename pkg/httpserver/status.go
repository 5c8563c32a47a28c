package httpserver

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/internal/pipeline"
	"github.com/mselser95/polymarket-ledger/internal/registry"
)

// StatusHandler serves the pipeline status API: per-stage checkpoint state
// and registry statistics.
type StatusHandler struct {
	store    *checkpoint.FileStore
	registry *registry.Registry
	logger   *zap.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(store *checkpoint.FileStore, reg *registry.Registry, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		store:    store,
		registry: reg,
		logger:   logger,
	}
}

// StageStatus is one stage's entry in the status response.
type StageStatus struct {
	Stage       string `json:"stage"`
	Status      string `json:"status"`
	Cursor      string `json:"cursor,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Age         string `json:"age,omitempty"`
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	Stages       []StageStatus `json:"stages"`
	MarketCount  int           `json:"market_count,omitempty"`
	TokensParked int           `json:"tokens_parked,omitempty"`
}

// HandleStatus handles GET /api/status.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	resp := StatusResponse{}
	for _, id := range []string{pipeline.StageMarkets, pipeline.StageEvents, pipeline.StageTrades} {
		cp, ok := h.store.Get(id)
		if !ok {
			resp.Stages = append(resp.Stages, StageStatus{Stage: id, Status: "absent"})
			continue
		}

		resp.Stages = append(resp.Stages, StageStatus{
			Stage:       id,
			Status:      string(cp.Status),
			Cursor:      cp.Cursor,
			CompletedAt: cp.CompletedAt.UTC().Format(time.RFC3339),
			Age:         now.Sub(cp.CompletedAt).Truncate(time.Second).String(),
		})
	}

	if h.registry != nil {
		resp.MarketCount = h.registry.MarketCount()
		resp.TokensParked = len(h.registry.ParkedTokens())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		h.logger.Error("status-encode-failed", zap.Error(err))
	}
}
