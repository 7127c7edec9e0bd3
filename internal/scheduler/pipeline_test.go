package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/config"
	"horse.fit/sentinel/internal/filter"
	"horse.fit/sentinel/internal/preference"
	"horse.fit/sentinel/internal/store"
)

type capturedChannel struct {
	mu   sync.Mutex
	sent []alerting.Payload
}

func (c *capturedChannel) Name() string  { return "captured" }
func (c *capturedChannel) Enabled() bool { return true }

func (c *capturedChannel) Send(_ context.Context, alert alerting.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, alert)
	return nil
}

func (c *capturedChannel) payloads() []alerting.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alerting.Payload(nil), c.sent...)
}

func testConfig() *config.Config {
	return &config.Config{
		DedupWindowDays:         7,
		MaxConcurrentCollectors: 2,
		SchedulerCheckSeconds:   60,
		RetentionDays:           30,
		Learning: config.LearningConfig{
			Enabled:              true,
			LearningRate:         0.1,
			DecayHalfLifeDays:    30,
			MinActionsRequired:   20,
			MaxPreferenceScore:   25,
			MaxFeaturesPerAction: 10,
		},
	}
}

func testFilters() []filter.Filter {
	return []filter.Filter{
		{
			ID:       "drop-sponsored",
			Name:     "drop-sponsored",
			Action:   filter.ActionExclude,
			Priority: 1,
			Enabled:  true,
			Conditions: filter.KeywordCondition{
				Field:    "all",
				Operator: "contains",
				Keywords: []string{"sponsored"},
			},
		},
		{
			ID:           "cve-watch",
			Name:         "cve-watch",
			Action:       filter.ActionAlert,
			ActionParams: map[string]any{"severity": "critical"},
			Priority:     5,
			Enabled:      true,
			Conditions: filter.KeywordCondition{
				Field:    "all",
				Operator: "contains",
				Keywords: []string{"CVE"},
			},
		},
	}
}

type pipelineHarness struct {
	store    *store.Store
	pipeline *Pipeline
	channel  *capturedChannel
	source   *store.Source
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	source := &store.Source{ID: "feed", Name: "Feed", Type: "rss", Enabled: true, IntervalMinutes: 30, Priority: 2, Category: "tech"}
	if err := st.UpsertSource(context.Background(), source); err != nil {
		t.Fatalf("upsert source: %v", err)
	}

	engine := filter.NewEngine(testFilters(), filter.NewEvaluator(), zerolog.Nop())
	learner := preference.NewLearner(cfg.Learning, st, zerolog.Nop())
	channel := &capturedChannel{}
	dispatcher := alerting.NewDispatcher(zerolog.Nop(), st, alerting.QuietHours{}, nil, nil)
	dispatcher.RegisterChannel(channel, alerting.SeverityInfo)

	return &pipelineHarness{
		store:    st,
		pipeline: NewPipeline(cfg, st, engine, learner, dispatcher, zerolog.Nop()),
		channel:  channel,
		source:   source,
	}
}

func TestProcessBatchRunsFullStageChain(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	items := []collector.Item{
		{GUID: "g1", Title: "Routine release notes", Content: "A new minor version shipped today with several fixes."},
		{GUID: "g1", Title: "Routine release notes", Content: "A new minor version shipped today with several fixes."},
		{GUID: "g2", Title: "Totally sponsored review", Content: "You will love this product."},
		{GUID: "g3", Title: "New CVE in OpenSSL", Summary: "Patch now."},
	}

	stats, err := h.pipeline.ProcessBatch(ctx, h.source, items)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	want := BatchStats{Collected: 4, Duplicates: 1, Excluded: 1, Saved: 2, Alerts: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}

	saved, err := h.store.ListItems(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("persisted %d items, want 2", len(saved))
	}
	for _, item := range saved {
		if item.Status != store.StatusNew {
			t.Fatalf("item %s status = %q, want %q", item.GUID, item.Status, store.StatusNew)
		}
		if item.Score <= 0 {
			t.Fatalf("item %s score = %v, want positive", item.GUID, item.Score)
		}
		if item.ContentHash == "" || item.ID == "" {
			t.Fatalf("item missing identity fields: %+v", item)
		}
	}

	sent := h.channel.payloads()
	if len(sent) != 1 {
		t.Fatalf("delivered %d alerts, want 1", len(sent))
	}
	alert := sent[0]
	if alert.Severity != alerting.SeverityCritical {
		t.Fatalf("alert severity = %v, want critical", alert.Severity)
	}
	if !strings.HasPrefix(alert.Title, "[cve-watch] ") {
		t.Fatalf("alert title = %q, want filter-name prefix", alert.Title)
	}
	if alert.SourceID != "feed" || alert.Category != "tech" {
		t.Fatalf("alert source/category = %q/%q", alert.SourceID, alert.Category)
	}

	// The alert references the persisted item, not an in-memory one.
	if _, err := h.store.GetItem(ctx, alert.ItemID); err != nil {
		t.Fatalf("alert item %s not persisted: %v", alert.ItemID, err)
	}
}

func TestProcessBatchDeduplicatesAcrossBatches(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	items := []collector.Item{
		{GUID: "g1", Title: "First article", Content: "Body of the first article."},
		{Title: "No guid here", Content: "Identified by its content hash alone."},
	}

	first, err := h.pipeline.ProcessBatch(ctx, h.source, items)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if first.Saved != 2 {
		t.Fatalf("first batch saved %d, want 2", first.Saved)
	}

	second, err := h.pipeline.ProcessBatch(ctx, h.source, items)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if second.Duplicates != 2 || second.Saved != 0 {
		t.Fatalf("second batch stats = %+v, want 2 duplicates and 0 saved", second)
	}
}

func TestProcessBatchEmptyInput(t *testing.T) {
	h := newPipelineHarness(t)
	stats, err := h.pipeline.ProcessBatch(context.Background(), h.source, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats != (BatchStats{}) {
		t.Fatalf("stats = %+v, want zero", stats)
	}
}

func TestTruncateCutsOnRuneBoundary(t *testing.T) {
	if got := truncate("  short  ", 280); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}

	// 100 three-byte runes: the 280-byte cut lands mid-rune and must
	// back up to the previous boundary.
	long := strings.Repeat("界", 100)
	got := truncate(long, 280)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if len(got) != 279 {
		t.Fatalf("truncate kept %d bytes, want 279", len(got))
	}
}
