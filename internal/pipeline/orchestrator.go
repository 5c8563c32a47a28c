package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/pkg/types"
)

// ProgressFunc persists an in-progress cursor for the running stage. Stages
// call it after every durable flush, never before, so a checkpoint always
// points at data that survived.
type ProgressFunc func(cursor string, metadata map[string]any) error

// Stage is one resumable unit of the pipeline.
type Stage interface {
	// ID returns the stable stage identifier used for checkpointing.
	ID() string

	// Run executes the stage starting from cursor (empty means from
	// scratch) and returns the final cursor.
	Run(ctx context.Context, cursor string, progress ProgressFunc) (string, error)
}

// Orchestrator runs stages in order, deciding per stage whether to skip,
// resume, or restart based on the stored checkpoint and the freshness
// window.
type Orchestrator struct {
	store        *checkpoint.FileStore
	logger       *zap.Logger
	freshness    time.Duration
	forceRefresh bool
	runID        string

	now func() time.Time
}

// Config holds orchestrator configuration.
type Config struct {
	Store           *checkpoint.FileStore
	Logger          *zap.Logger
	FreshnessWindow time.Duration

	// ForceRefresh discards checkpoints and reruns every stage from
	// scratch.
	ForceRefresh bool
}

// New creates a new Orchestrator. Each orchestrator carries a run id that
// is stamped into the checkpoints it writes.
func New(cfg *Config) *Orchestrator {
	return &Orchestrator{
		store:        cfg.Store,
		logger:       cfg.Logger,
		freshness:    cfg.FreshnessWindow,
		forceRefresh: cfg.ForceRefresh,
		runID:        uuid.NewString(),
		now:          time.Now,
	}
}

// RunStages executes the stages in order. A stage failure stops the run:
// later stages depend on the earlier ones' output.
func (o *Orchestrator) RunStages(ctx context.Context, stages []Stage) error {
	for _, stage := range stages {
		err := o.runStage(ctx, stage)
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage.ID(), err)
		}
	}

	return nil
}

// VerifyFresh reports whether every stage has a complete checkpoint inside
// the freshness window. Used by stream-only startup, which refuses to serve
// from stale batch output.
func (o *Orchestrator) VerifyFresh(stages []Stage) error {
	now := o.now()

	for _, stage := range stages {
		cp, ok := o.store.Get(stage.ID())
		if !ok {
			return &types.FatalConfigurationError{
				Reason: fmt.Sprintf("stream-only requires a fresh checkpoint for stage %s, none found", stage.ID()),
			}
		}
		if !cp.IsFresh(o.freshness, now) {
			return &types.FatalConfigurationError{
				Reason: fmt.Sprintf("stream-only requires a fresh checkpoint for stage %s, found status=%s age=%s",
					stage.ID(), cp.Status, now.Sub(cp.CompletedAt).Truncate(time.Second)),
			}
		}
	}

	return nil
}

// RunIncremental executes one stage from its stored cursor regardless of
// checkpoint freshness. The streaming phase uses this on every poll tick:
// freshness gates whether the batch phase reruns, never whether the head of
// the feed is followed.
func (o *Orchestrator) RunIncremental(ctx context.Context, stage Stage) error {
	id := stage.ID()

	cursor := ""
	if cp, ok := o.store.Get(id); ok {
		cursor = cp.Cursor
	}

	err := o.execute(ctx, stage, cursor)
	if err != nil {
		return fmt.Errorf("stage %s: %w", id, err)
	}

	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage) error {
	cursor, skip := o.decide(stage.ID())
	if skip {
		StageSkipsTotal.WithLabelValues(stage.ID()).Inc()
		return nil
	}

	return o.execute(ctx, stage, cursor)
}

// execute runs one stage from the given cursor and records the outcome
// checkpoint: failed with the last durable cursor so the next run resumes
// instead of restarting, complete with the final cursor otherwise.
func (o *Orchestrator) execute(ctx context.Context, stage Stage, cursor string) error {
	id := stage.ID()

	o.logger.Info("stage-starting",
		zap.String("stage", id),
		zap.String("cursor", cursor),
		zap.String("run_id", o.runID))

	start := o.now()
	lastCursor := cursor

	progress := func(c string, metadata map[string]any) error {
		lastCursor = c
		return o.put(id, c, types.StatusInProgress, metadata)
	}

	finalCursor, err := stage.Run(ctx, cursor, progress)
	if err != nil {
		putErr := o.put(id, lastCursor, types.StatusFailed, map[string]any{
			"error": err.Error(),
		})
		if putErr != nil {
			o.logger.Error("stage-failure-checkpoint-write-failed",
				zap.String("stage", id),
				zap.Error(putErr))
		}

		StageRunsTotal.WithLabelValues(id, "failed").Inc()

		return err
	}

	err = o.put(id, finalCursor, types.StatusComplete, nil)
	if err != nil {
		return fmt.Errorf("write completion checkpoint: %w", err)
	}

	elapsed := o.now().Sub(start)
	StageRunsTotal.WithLabelValues(id, "complete").Inc()
	StageDurationSeconds.WithLabelValues(id).Observe(elapsed.Seconds())

	o.logger.Info("stage-complete",
		zap.String("stage", id),
		zap.String("cursor", finalCursor),
		zap.Duration("elapsed", elapsed))

	return nil
}

// decide returns the starting cursor for a stage and whether it can be
// skipped outright.
func (o *Orchestrator) decide(id string) (cursor string, skip bool) {
	if o.forceRefresh {
		err := o.store.Clear(id)
		if err != nil {
			o.logger.Warn("checkpoint-clear-failed", zap.String("stage", id), zap.Error(err))
		}

		o.logger.Info("stage-force-refresh", zap.String("stage", id))

		return "", false
	}

	cp, ok := o.store.Get(id)
	if !ok {
		return "", false
	}

	if cp.IsFresh(o.freshness, o.now()) {
		o.logger.Info("stage-fresh-skipping",
			zap.String("stage", id),
			zap.Time("completed_at", cp.CompletedAt))

		return "", true
	}

	// Stale-complete resumes incrementally from the stored cursor, as does
	// a failed or interrupted run.
	o.logger.Info("stage-resuming",
		zap.String("stage", id),
		zap.String("status", string(cp.Status)),
		zap.String("cursor", cp.Cursor))

	return cp.Cursor, false
}

func (o *Orchestrator) put(id, cursor string, status types.StageStatus, metadata map[string]any) error {
	md := map[string]any{"run_id": o.runID}
	for k, v := range metadata {
		md[k] = v
	}

	return o.store.Put(types.Checkpoint{
		StageID:     id,
		Cursor:      cursor,
		Status:      status,
		CompletedAt: o.now(),
		Metadata:    md,
	})
}
