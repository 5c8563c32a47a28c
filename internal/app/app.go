package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/internal/gamma"
	"github.com/mselser95/polymarket-ledger/internal/goldsky"
	"github.com/mselser95/polymarket-ledger/internal/pipeline"
	"github.com/mselser95/polymarket-ledger/internal/registry"
	"github.com/mselser95/polymarket-ledger/internal/storage"
	"github.com/mselser95/polymarket-ledger/pkg/config"
	"github.com/mselser95/polymarket-ledger/pkg/healthprobe"
	"github.com/mselser95/polymarket-ledger/pkg/httpserver"
)

// App wires the pipeline together: feeds, registry, logs, checkpointing,
// and the HTTP surface.
type App struct {
	cfg           *config.Config
	opts          *Options
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server

	store        *checkpoint.FileStore
	gammaClient  *gamma.Client
	eventClient  *goldsky.Client
	registry     *registry.Registry
	orchestrator *pipeline.Orchestrator

	marketLog *storage.MarketLog
	eventLog  *storage.EventLog
	parkedLog *storage.EventLog
	ledger    *storage.Ledger
	sink      storage.TradeSink // nil in plain ledger mode

	marketStage *pipeline.MarketSyncStage
	eventStage  *pipeline.EventSyncStage
	tradeStage  *pipeline.ProcessStage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// ForceRefresh discards checkpoints and reruns the batch phase from
	// scratch.
	ForceRefresh bool

	// StreamOnly skips the batch phase; every checkpoint must be fresh.
	StreamOnly bool

	// NoStream exits after the batch phase instead of following the feeds.
	NoStream bool
}
