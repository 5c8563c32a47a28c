package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/internal/checkpoint"
	"github.com/mselser95/polymarket-ledger/pkg/types"
)

// fakeStage records the cursor it was started from and walks a scripted
// sequence of progress cursors before returning.
type fakeStage struct {
	id       string
	runs     int
	cursorIn []string
	progress []string
	failAt   int // fail after this many progress calls, 0 disables
	final    string
}

func (f *fakeStage) ID() string { return f.id }

func (f *fakeStage) Run(ctx context.Context, cursor string, progress ProgressFunc) (string, error) {
	f.runs++
	f.cursorIn = append(f.cursorIn, cursor)

	for i, c := range f.progress {
		if f.failAt > 0 && i >= f.failAt {
			return c, errors.New("stage blew up")
		}
		if err := progress(c, nil); err != nil {
			return c, err
		}
	}

	if f.failAt > 0 && len(f.progress) <= f.failAt {
		return cursor, errors.New("stage blew up")
	}

	return f.final, nil
}

func newTestOrchestrator(t *testing.T, forceRefresh bool) (*Orchestrator, *checkpoint.FileStore) {
	t.Helper()

	store, err := checkpoint.NewFileStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	o := New(&Config{
		Store:           store,
		Logger:          zap.NewNop(),
		FreshnessWindow: time.Hour,
		ForceRefresh:    forceRefresh,
	})

	return o, store
}

func TestRunStages_CompletesAndCheckpoints(t *testing.T) {
	o, store := newTestOrchestrator(t, false)

	stage := &fakeStage{id: "events", progress: []string{"10", "20"}, final: "30"}

	err := o.RunStages(context.Background(), []Stage{stage})
	if err != nil {
		t.Fatal(err)
	}

	cp, ok := store.Get("events")
	if !ok {
		t.Fatal("expected checkpoint written")
	}
	if cp.Status != types.StatusComplete || cp.Cursor != "30" {
		t.Errorf("unexpected checkpoint %+v", cp)
	}
	if cp.Metadata["run_id"] == nil {
		t.Error("expected run id in metadata")
	}
	if stage.cursorIn[0] != "" {
		t.Errorf("first run must start from scratch, got %q", stage.cursorIn[0])
	}
}

func TestRunStages_SkipsFreshStage(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	stage := &fakeStage{id: "events", final: "30"}

	if err := o.RunStages(context.Background(), []Stage{stage}); err != nil {
		t.Fatal(err)
	}
	if err := o.RunStages(context.Background(), []Stage{stage}); err != nil {
		t.Fatal(err)
	}

	if stage.runs != 1 {
		t.Fatalf("fresh stage must be skipped, ran %d times", stage.runs)
	}
}

func TestRunStages_StaleCompleteResumesFromCursor(t *testing.T) {
	o, store := newTestOrchestrator(t, false)
	o.now = func() time.Time { return time.Now() }

	stage := &fakeStage{id: "events", final: "30"}
	if err := o.RunStages(context.Background(), []Stage{stage}); err != nil {
		t.Fatal(err)
	}

	// Age the checkpoint past the freshness window.
	cp, _ := store.Get("events")
	cp.CompletedAt = time.Now().Add(-2 * time.Hour)
	if err := store.Put(cp); err != nil {
		t.Fatal(err)
	}

	stage.final = "40"
	if err := o.RunStages(context.Background(), []Stage{stage}); err != nil {
		t.Fatal(err)
	}

	if stage.runs != 2 {
		t.Fatalf("stale stage must rerun, ran %d times", stage.runs)
	}
	if stage.cursorIn[1] != "30" {
		t.Errorf("stale rerun must resume from stored cursor, got %q", stage.cursorIn[1])
	}
}

func TestRunStages_FailureRecordsLastDurableCursor(t *testing.T) {
	o, store := newTestOrchestrator(t, false)

	stage := &fakeStage{id: "events", progress: []string{"10", "20"}, failAt: 2}

	err := o.RunStages(context.Background(), []Stage{stage})
	if err == nil {
		t.Fatal("expected failure")
	}

	cp, ok := store.Get("events")
	if !ok {
		t.Fatal("expected failure checkpoint")
	}
	if cp.Status != types.StatusFailed {
		t.Errorf("expected failed status, got %s", cp.Status)
	}
	if cp.Cursor != "20" {
		t.Errorf("expected last durable cursor 20, got %q", cp.Cursor)
	}
	if cp.Metadata["error"] == nil {
		t.Error("expected error recorded in metadata")
	}

	// The next run resumes from the failure cursor.
	stage.failAt = 0
	stage.progress = nil
	stage.final = "99"

	if err := o.RunStages(context.Background(), []Stage{stage}); err != nil {
		t.Fatal(err)
	}
	if stage.cursorIn[1] != "20" {
		t.Errorf("resume must start from failure cursor, got %q", stage.cursorIn[1])
	}
}

func TestRunStages_FailureStopsLaterStages(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	first := &fakeStage{id: "events", failAt: 1, progress: []string{"10", "20"}}
	second := &fakeStage{id: "trades", final: "x"}

	err := o.RunStages(context.Background(), []Stage{first, second})
	if err == nil {
		t.Fatal("expected failure")
	}
	if second.runs != 0 {
		t.Error("later stage must not run after a failure")
	}
}

func TestRunStages_ForceRefreshDiscardsCheckpoint(t *testing.T) {
	store, err := checkpoint.NewFileStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_ = store.Put(types.Checkpoint{
		StageID:     "events",
		Cursor:      "500",
		Status:      types.StatusComplete,
		CompletedAt: time.Now(),
	})

	o := New(&Config{
		Store:           store,
		Logger:          zap.NewNop(),
		FreshnessWindow: time.Hour,
		ForceRefresh:    true,
	})

	stage := &fakeStage{id: "events", final: "10"}
	if err := o.RunStages(context.Background(), []Stage{stage}); err != nil {
		t.Fatal(err)
	}

	if stage.runs != 1 {
		t.Fatal("force refresh must run even a fresh stage")
	}
	if stage.cursorIn[0] != "" {
		t.Errorf("force refresh must start from scratch, got %q", stage.cursorIn[0])
	}
}

func TestRunIncremental_IgnoresFreshness(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	stage := &fakeStage{id: "events", final: "10"}
	if err := o.RunStages(context.Background(), []Stage{stage}); err != nil {
		t.Fatal(err)
	}

	stage.final = "20"
	if err := o.RunIncremental(context.Background(), stage); err != nil {
		t.Fatal(err)
	}

	if stage.runs != 2 {
		t.Fatalf("incremental run must not skip on freshness, ran %d times", stage.runs)
	}
	if stage.cursorIn[1] != "10" {
		t.Errorf("incremental run must resume from cursor, got %q", stage.cursorIn[1])
	}
}

func TestVerifyFresh(t *testing.T) {
	o, store := newTestOrchestrator(t, false)

	stage := &fakeStage{id: "events", final: "10"}

	err := o.VerifyFresh([]Stage{stage})
	var fatal *types.FatalConfigurationError
	if !errors.As(err, &fatal) {
		t.Fatalf("missing checkpoint must be fatal, got %v", err)
	}

	if err := o.RunStages(context.Background(), []Stage{stage}); err != nil {
		t.Fatal(err)
	}

	if err := o.VerifyFresh([]Stage{stage}); err != nil {
		t.Fatalf("fresh checkpoint must verify, got %v", err)
	}

	cp, _ := store.Get("events")
	cp.CompletedAt = time.Now().Add(-2 * time.Hour)
	_ = store.Put(cp)

	err = o.VerifyFresh([]Stage{stage})
	if !errors.As(err, &fatal) {
		t.Fatalf("stale checkpoint must be fatal, got %v", err)
	}
}
