package pipeline

import "testing"

func TestMetrics_Registration(t *testing.T) {
	if StageRunsTotal == nil {
		t.Error("StageRunsTotal not registered")
	}

	if StageSkipsTotal == nil {
		t.Error("StageSkipsTotal not registered")
	}

	if StageDurationSeconds == nil {
		t.Error("StageDurationSeconds not registered")
	}

	if TaskErrorsTotal == nil {
		t.Error("TaskErrorsTotal not registered")
	}
}

func TestMetrics_LabeledAccess(t *testing.T) {
	StageRunsTotal.WithLabelValues(StageMarkets, "complete").Inc()
	StageSkipsTotal.WithLabelValues(StageEvents).Inc()
	StageDurationSeconds.WithLabelValues(StageTrades).Observe(1.5)
	TaskErrorsTotal.WithLabelValues("event-poll").Inc()
}
