package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/pipeline"
	"github.com/mselser95/polymarket-ledger/pkg/types"
)

// Run executes the batch phase and, unless configured otherwise, follows
// the feeds until a shutdown signal. Blocking.
func (a *App) Run() error {
	a.logger.Info("pipeline-starting",
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.Bool("force-refresh", a.opts.ForceRefresh),
		zap.Bool("stream-only", a.opts.StreamOnly),
		zap.String("log-level", a.cfg.LogLevel))

	a.wg.Add(1)
	go a.runHTTPServer()

	err := a.warmRegistry()
	if err != nil {
		return err
	}

	err = a.runBatchPhase()
	if err != nil {
		a.publishStageStates()
		shutdownErr := a.Shutdown()
		if shutdownErr != nil {
			a.logger.Error("shutdown-error", zap.Error(shutdownErr))
		}
		return err
	}

	a.publishStageStates()
	a.healthChecker.SetReady(true)

	if a.opts.NoStream {
		a.logger.Info("batch-phase-complete-exiting")
		return a.Shutdown()
	}

	a.logger.Info("pipeline-streaming",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Duration("event-poll-interval", a.cfg.EventPollInterval),
		zap.Duration("market-refresh-interval", a.cfg.MarketRefreshInterval))

	a.wg.Add(1)
	go a.runScheduler()

	return a.waitForShutdown()
}

// warmRegistry rebuilds the token index from the market log so processing
// can start without waiting for a metadata fetch.
func (a *App) warmRegistry() error {
	var batch []types.Market

	err := a.marketLog.ScanAll(func(m types.Market) error {
		batch = append(batch, m)
		return nil
	})
	if err != nil {
		return fmt.Errorf("warm registry: %w", err)
	}

	added, conflicts := a.registry.Load(batch)
	a.logger.Info("registry-warmed",
		zap.Int("markets", added),
		zap.Int("conflicts", conflicts))

	return nil
}

func (a *App) stages() []pipeline.Stage {
	return []pipeline.Stage{a.marketStage, a.eventStage, a.tradeStage}
}

func (a *App) runBatchPhase() error {
	if a.opts.StreamOnly {
		err := a.orchestrator.VerifyFresh(a.stages())
		if err != nil {
			return err
		}

		a.logger.Info("batch-phase-skipped-all-checkpoints-fresh")
		return nil
	}

	return a.orchestrator.RunStages(a.ctx, a.stages())
}

func (a *App) runScheduler() {
	defer a.wg.Done()

	scheduler := pipeline.NewScheduler(a.logger, []pipeline.Task{
		{
			Name:     "market-refresh",
			Interval: a.cfg.MarketRefreshInterval,
			Fn: func(ctx context.Context) error {
				defer a.publishStageStates()
				return a.orchestrator.RunIncremental(ctx, a.marketStage)
			},
		},
		{
			Name:     "event-poll",
			Interval: a.cfg.EventPollInterval,
			Fn: func(ctx context.Context) error {
				defer a.publishStageStates()

				err := a.orchestrator.RunIncremental(ctx, a.eventStage)
				if err != nil {
					return err
				}

				return a.orchestrator.RunIncremental(ctx, a.tradeStage)
			},
		},
	})

	err := scheduler.Run(a.ctx)
	if err != nil && a.ctx.Err() == nil {
		a.logger.Error("scheduler-error", zap.Error(err))
	}
}

// publishStageStates mirrors checkpoint states into the health probes.
func (a *App) publishStageStates() {
	for _, stage := range a.stages() {
		cp, ok := a.store.Get(stage.ID())
		if !ok {
			a.healthChecker.SetStageState(stage.ID(), "absent")
			continue
		}

		a.healthChecker.SetStageState(stage.ID(), string(cp.Status))
	}
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()

	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}

// shutdownTimeout bounds how long graceful shutdown may take.
const shutdownTimeout = 10 * time.Second
