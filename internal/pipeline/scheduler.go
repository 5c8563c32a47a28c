package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one periodically executed unit of work. Fn errors are logged and
// counted, they do not stop the schedule; only context cancellation ends a
// task.
type Task struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

// Scheduler runs tasks on independent tickers. It backs the streaming phase
// of the pipeline, keeping the market index and the ledger near the head of
// their feeds.
type Scheduler struct {
	logger *zap.Logger
	tasks  []Task
}

// NewScheduler creates a new Scheduler.
func NewScheduler(logger *zap.Logger, tasks []Task) *Scheduler {
	return &Scheduler{
		logger: logger,
		tasks:  tasks,
	}
}

// Run executes every task once immediately, then on its interval, until the
// context is cancelled. Always returns the context's error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, task := range s.tasks {
		g.Go(func() error {
			return s.runTask(ctx, task)
		})
	}

	return g.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, task Task) error {
	s.logger.Info("task-scheduled",
		zap.String("task", task.Name),
		zap.Duration("interval", task.Interval))

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		err := task.Fn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			TaskErrorsTotal.WithLabelValues(task.Name).Inc()
			s.logger.Error("task-iteration-failed",
				zap.String("task", task.Name),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
