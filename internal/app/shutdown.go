package app

import (
	"context"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. Logs are closed last so
// in-flight flushes land.
func (a *App) Shutdown() error {
	a.logger.Info("pipeline-shutting-down")

	a.healthChecker.SetReady(false)

	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	a.wg.Wait()

	if a.sink != nil {
		err = a.sink.Close()
		if err != nil {
			a.logger.Error("sink-close-error", zap.Error(err))
		}
	}

	for name, closer := range map[string]interface{ Close() error }{
		"ledger":     a.ledger,
		"event-log":  a.eventLog,
		"parked-log": a.parkedLog,
		"market-log": a.marketLog,
	} {
		err = closer.Close()
		if err != nil {
			a.logger.Error("log-close-error", zap.String("log", name), zap.Error(err))
		}
	}

	a.logger.Info("pipeline-shutdown-complete")

	return nil
}
