package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/filter"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/preference"
	"horse.fit/sentinel/internal/store"
)

type collectorFunc func(ctx context.Context, emit func(collector.Item) error) error

func (f collectorFunc) Collect(ctx context.Context, emit func(collector.Item) error) error {
	return f(ctx, emit)
}

func newOrchestratorHarness(t *testing.T, source *store.Source) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	if err := st.UpsertSource(ctx, source); err != nil {
		t.Fatalf("upsert source: %v", err)
	}

	cfg := testConfig()
	engine := filter.NewEngine(testFilters(), filter.NewEvaluator(), zerolog.Nop())
	learner := preference.NewLearner(cfg.Learning, st, zerolog.Nop())
	dispatcher := alerting.NewDispatcher(zerolog.Nop(), st, alerting.QuietHours{}, nil, nil)
	pipeline := NewPipeline(cfg, st, engine, learner, dispatcher, zerolog.Nop())
	return NewOrchestrator(cfg, st, pipeline, dispatcher, learner, nil, zerolog.Nop()), st
}

func TestTriggerSourceCoalescesWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	collector.Register("blocking-feed", func(*store.Source) (collector.Collector, error) {
		return collectorFunc(func(ctx context.Context, emit func(collector.Item) error) error {
			<-release
			return nil
		}), nil
	})

	source := &store.Source{ID: "slow", Name: "Slow", Type: "blocking-feed", Enabled: true, IntervalMinutes: 30, Priority: 2}
	orch, _ := newOrchestratorHarness(t, source)

	if !orch.TriggerSource("slow") {
		t.Fatal("first trigger should start a run")
	}
	if orch.TriggerSource("slow") {
		t.Fatal("second trigger should be dropped while the first is in flight")
	}

	close(release)

	// Once the first run drains, a new trigger is accepted again.
	deadline := time.Now().Add(2 * time.Second)
	for !orch.TriggerSource("slow") {
		if time.Now().After(deadline) {
			t.Fatal("trigger never accepted after run finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
	orch.Wait()
}

func TestTriggeredRunOutlivesCaller(t *testing.T) {
	pushes := collector.NewPushBuffer()
	collector.Register(collector.PushSourceType, pushes.Factory)

	source := &store.Source{ID: "intake", Name: "Intake", Type: collector.PushSourceType, Enabled: true, IntervalMinutes: 60, Priority: 2}
	orch, st := newOrchestratorHarness(t, source)

	pushes.Enqueue("intake", collector.Item{
		GUID:        "push-1",
		Title:       "Router firmware update",
		CollectedAt: time.Now().UTC(),
	})

	// Triggers arrive from HTTP handlers that return immediately; the
	// run must still drain and persist the pushed item.
	if !orch.TriggerSource("intake") {
		t.Fatal("trigger should start a run")
	}
	orch.Wait()

	ctx := context.Background()
	items, err := st.ListItems(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].GUID != "push-1" {
		t.Fatalf("pushed item not persisted, got %d items", len(items))
	}
	if remaining := pushes.Drain("intake"); len(remaining) != 0 {
		t.Fatalf("push buffer not drained, %d items left", len(remaining))
	}

	src, err := st.GetSource(ctx, "intake")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if src.LastSuccess == nil {
		t.Fatal("expected LastSuccess to be recorded")
	}
}

func TestCollectOnceProcessesAndRecordsSuccess(t *testing.T) {
	collector.Register("static-feed", func(*store.Source) (collector.Collector, error) {
		return collectorFunc(func(ctx context.Context, emit func(collector.Item) error) error {
			return emit(collector.Item{GUID: "g1", Title: "Fresh article", Content: "Some body text."})
		}), nil
	})

	source := &store.Source{ID: "static", Name: "Static", Type: "static-feed", Enabled: true, IntervalMinutes: 30, Priority: 2}
	orch, st := newOrchestratorHarness(t, source)
	ctx := context.Background()

	if err := orch.CollectOnce(ctx, ""); err != nil {
		t.Fatalf("collect once: %v", err)
	}

	items, err := st.ListItems(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].GUID != "g1" {
		t.Fatalf("unexpected items: %+v", items)
	}

	got, err := st.GetSource(ctx, "static")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if got.LastSuccess == nil || got.LastCheck == nil {
		t.Fatalf("success not recorded: %+v", got)
	}
	if got.ConsecutiveErrors != 0 || got.LastError != "" {
		t.Fatalf("unexpected error state: %+v", got)
	}
}

func TestFailedRunIsRecordedOnTheSource(t *testing.T) {
	collector.Register("broken-feed", func(*store.Source) (collector.Collector, error) {
		return collectorFunc(func(ctx context.Context, emit func(collector.Item) error) error {
			return collector.NewError("broken", errors.New("connection refused"))
		}), nil
	})

	source := &store.Source{ID: "broken", Name: "Broken", Type: "broken-feed", Enabled: true, IntervalMinutes: 30, Priority: 2}
	orch, st := newOrchestratorHarness(t, source)
	ctx := context.Background()

	if err := orch.CollectOnce(ctx, "broken"); err != nil {
		t.Fatalf("collect once: %v", err)
	}

	got, err := st.GetSource(ctx, "broken")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if got.ConsecutiveErrors != 1 {
		t.Fatalf("consecutive errors = %d, want 1", got.ConsecutiveErrors)
	}
	if got.LastError == "" || got.LastSuccess != nil {
		t.Fatalf("failure not recorded: %+v", got)
	}
}

func TestSourceDue(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	if !sourceDue(&store.Source{IntervalMinutes: 30}, now) {
		t.Fatal("source never checked should be due")
	}

	recent := now.Add(-10 * time.Minute)
	if sourceDue(&store.Source{IntervalMinutes: 30, LastCheck: &recent}, now) {
		t.Fatal("recently checked source should not be due")
	}

	stale := now.Add(-30 * time.Minute)
	if !sourceDue(&store.Source{IntervalMinutes: 30, LastCheck: &stale}, now) {
		t.Fatal("source at its interval boundary should be due")
	}
}

func TestMaintenanceRunsOnItsCadence(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(base)
	t.Cleanup(globaltime.ResetTime)

	source := &store.Source{ID: "idle", Name: "Idle", Type: "blocking-feed", Enabled: false, IntervalMinutes: 30, Priority: 2}
	orch, st := newOrchestratorHarness(t, source)
	ctx := context.Background()

	// Seed an item old enough to be purged by retention.
	old := store.Item{ID: "ancient", SourceID: "idle", Title: "old", CollectedAt: base.AddDate(0, 0, -40), Status: store.StatusNew}
	if err := st.SaveItems(ctx, []store.Item{old}); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	orch.runDueMaintenance(ctx)
	if _, err := st.GetItem(ctx, "ancient"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected retention to delete the item, got %v", err)
	}
	firstRun := orch.lastRetention

	// Within the cadence nothing re-runs.
	globaltime.SetMockTime(base.Add(1 * time.Hour))
	orch.runDueMaintenance(ctx)
	if !orch.lastRetention.Equal(firstRun) {
		t.Fatal("retention re-ran inside its cadence")
	}

	globaltime.SetMockTime(base.Add(25 * time.Hour))
	orch.runDueMaintenance(ctx)
	if orch.lastRetention.Equal(firstRun) {
		t.Fatal("retention did not re-run after its cadence elapsed")
	}
}
