package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/config"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/store"
)

type fakeChannel struct {
	name    string
	enabled bool
	err     error

	mu      sync.Mutex
	sent    []Payload
	batches []Aggregated
}

func (c *fakeChannel) Name() string  { return c.name }
func (c *fakeChannel) Enabled() bool { return c.enabled }

func (c *fakeChannel) Send(_ context.Context, alert Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, alert)
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeBatchChannel struct {
	fakeChannel
}

func (c *fakeBatchChannel) SendBatch(_ context.Context, aggregate Aggregated) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, aggregate)
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	alerts []store.Alert
	err    error
}

func (r *fakeRecorder) SaveAlert(_ context.Context, alert *store.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *fakeRecorder) MarkAlertsDispatched(_ context.Context, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, id := range ids {
		for idx := range r.alerts {
			if r.alerts[idx].ID == id {
				stamped := at
				r.alerts[idx].DispatchedAt = &stamped
			}
		}
	}
	return nil
}

func (r *fakeRecorder) byID(t *testing.T, id string) store.Alert {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx := range r.alerts {
		if r.alerts[idx].ID == id {
			return r.alerts[idx]
		}
	}
	t.Fatalf("alert %s not recorded", id)
	return store.Alert{}
}

func (r *fakeRecorder) last(t *testing.T) store.Alert {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.alerts) == 0 {
		t.Fatal("no alerts recorded")
	}
	return r.alerts[len(r.alerts)-1]
}

func routedAlert(severity Severity, category string, tags []string) Payload {
	return Payload{
		ID:        "alert-1",
		Severity:  severity,
		Title:     "suspicious login",
		Category:  category,
		Tags:      tags,
		CreatedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatchFallbackAppliesChannelThreshold(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDispatcher(zerolog.Nop(), rec, QuietHours{}, nil, nil)
	lenient := &fakeChannel{name: "log", enabled: true}
	strict := &fakeChannel{name: "pager", enabled: true}
	d.RegisterChannel(lenient, SeverityInfo)
	d.RegisterChannel(strict, SeverityCritical)

	if err := d.Dispatch(context.Background(), routedAlert(SeverityWarning, "", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if lenient.sentCount() != 1 {
		t.Fatalf("lenient channel got %d alerts, want 1", lenient.sentCount())
	}
	if strict.sentCount() != 0 {
		t.Fatalf("strict channel got %d alerts, want 0", strict.sentCount())
	}

	recorded := rec.last(t)
	if recorded.Suppressed || recorded.DispatchedAt == nil {
		t.Fatalf("unexpected audit record: %+v", recorded)
	}
}

func TestDispatchRoutesAreCumulative(t *testing.T) {
	routes := []Route{
		{Category: "security", Channels: []string{"pager"}},
		{Tags: []string{"kernel"}, Channels: []string{"chat"}},
	}
	d := NewDispatcher(zerolog.Nop(), &fakeRecorder{}, QuietHours{}, routes, nil)
	pager := &fakeChannel{name: "pager", enabled: true}
	chat := &fakeChannel{name: "chat", enabled: true}
	bystander := &fakeChannel{name: "log", enabled: true}
	// A routed channel skips its own threshold; only enablement gates it.
	d.RegisterChannel(pager, SeverityCritical)
	d.RegisterChannel(chat, SeverityInfo)
	d.RegisterChannel(bystander, SeverityInfo)

	alert := routedAlert(SeverityWarning, "security", []string{"kernel"})
	if err := d.Dispatch(context.Background(), alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pager.sentCount() != 1 {
		t.Fatalf("pager got %d alerts, want 1", pager.sentCount())
	}
	if chat.sentCount() != 1 {
		t.Fatalf("chat got %d alerts, want 1", chat.sentCount())
	}
	if bystander.sentCount() != 0 {
		t.Fatalf("unrouted channel got %d alerts, want 0", bystander.sentCount())
	}
}

func TestDispatchUnmatchedRoutesFallBackToAllChannels(t *testing.T) {
	routes := []Route{
		{Category: "security", MinSeverity: SeverityCritical, Channels: []string{"pager"}},
	}
	d := NewDispatcher(zerolog.Nop(), &fakeRecorder{}, QuietHours{}, routes, nil)
	pager := &fakeChannel{name: "pager", enabled: true}
	log := &fakeChannel{name: "log", enabled: true}
	disabled := &fakeChannel{name: "dead", enabled: false}
	d.RegisterChannel(pager, SeverityInfo)
	d.RegisterChannel(log, SeverityInfo)
	d.RegisterChannel(disabled, SeverityInfo)

	// Below the route's threshold, so no route matches.
	alert := routedAlert(SeverityWarning, "security", nil)
	if err := d.Dispatch(context.Background(), alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pager.sentCount() != 1 || log.sentCount() != 1 {
		t.Fatalf("fallback delivery counts: pager=%d log=%d, want 1 each", pager.sentCount(), log.sentCount())
	}
	if disabled.sentCount() != 0 {
		t.Fatal("disabled channel received an alert")
	}
}

func TestDispatchQuietHoursSuppressesButRecords(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 23, 0, 0, 0, time.Local))
	t.Cleanup(globaltime.ResetTime)

	quiet := NewQuietHours(config.QuietHoursConfig{
		Enabled:           true,
		Start:             "22:00",
		End:               "07:00",
		BypassForCritical: true,
	})
	rec := &fakeRecorder{}
	d := NewDispatcher(zerolog.Nop(), rec, quiet, nil, nil)
	ch := &fakeChannel{name: "log", enabled: true}
	d.RegisterChannel(ch, SeverityInfo)

	if err := d.Dispatch(context.Background(), routedAlert(SeverityWarning, "", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.sentCount() != 0 {
		t.Fatalf("suppressed alert was delivered %d times", ch.sentCount())
	}
	recorded := rec.last(t)
	if !recorded.Suppressed || recorded.DispatchedAt != nil {
		t.Fatalf("unexpected audit record: %+v", recorded)
	}

	// Critical bypasses the window.
	critical := routedAlert(SeverityCritical, "", nil)
	critical.ID = "alert-2"
	if err := d.Dispatch(context.Background(), critical); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.sentCount() != 1 {
		t.Fatalf("critical alert delivered %d times, want 1", ch.sentCount())
	}
}

func TestDispatchChannelFailureDoesNotBlockOthers(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), &fakeRecorder{}, QuietHours{}, nil, nil)
	failing := &fakeChannel{name: "webhook", enabled: true, err: errors.New("connection refused")}
	working := &fakeChannel{name: "log", enabled: true}
	d.RegisterChannel(failing, SeverityInfo)
	d.RegisterChannel(working, SeverityInfo)

	if err := d.Dispatch(context.Background(), routedAlert(SeverityWarning, "", nil)); err != nil {
		t.Fatalf("delivery failure surfaced as dispatch error: %v", err)
	}
	if working.sentCount() != 1 {
		t.Fatalf("working channel got %d alerts, want 1", working.sentCount())
	}
}

func TestDispatchAggregateDelivery(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	t.Cleanup(globaltime.ResetTime)

	rec := &fakeRecorder{}
	agg := NewAggregator(15*time.Minute, 4)
	d := NewDispatcher(zerolog.Nop(), rec, QuietHours{}, nil, agg)
	batch := &fakeBatchChannel{fakeChannel{name: "webhook", enabled: true}}
	plain := &fakeChannel{name: "log", enabled: true}
	d.RegisterChannel(batch, SeverityInfo)
	d.RegisterChannel(plain, SeverityInfo)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		alert := routedAlert(SeverityWarning, "", nil)
		alert.ID = alert.ID + string(rune('a'+i))
		if err := d.Dispatch(ctx, alert); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	// Every alert is audited even while buffered.
	rec.mu.Lock()
	recordedCount := len(rec.alerts)
	rec.mu.Unlock()
	if recordedCount != 4 {
		t.Fatalf("recorded %d alerts, want 4", recordedCount)
	}

	batch.mu.Lock()
	batchCount := len(batch.batches)
	batch.mu.Unlock()
	if batchCount != 1 {
		t.Fatalf("batch channel got %d aggregates, want 1", batchCount)
	}

	// Channels without batch support get one synthesized summary.
	plain.mu.Lock()
	defer plain.mu.Unlock()
	if len(plain.sent) != 1 {
		t.Fatalf("plain channel got %d payloads, want 1", len(plain.sent))
	}
	summary := plain.sent[0]
	if !strings.HasPrefix(summary.Title, "4 alerts since ") {
		t.Fatalf("unexpected summary title %q", summary.Title)
	}
	if summary.Severity != SeverityWarning {
		t.Fatalf("summary severity = %v, want warning", summary.Severity)
	}
}

func TestDispatchStampsDispatchTimeAtDelivery(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(base)
	t.Cleanup(globaltime.ResetTime)

	rec := &fakeRecorder{}
	agg := NewAggregator(15*time.Minute, 10)
	d := NewDispatcher(zerolog.Nop(), rec, QuietHours{}, nil, agg)
	ch := &fakeChannel{name: "log", enabled: true}
	d.RegisterChannel(ch, SeverityInfo)

	if err := d.Dispatch(context.Background(), routedAlert(SeverityWarning, "", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Buffered for aggregation: audited, but not yet dispatched.
	buffered := rec.byID(t, "alert-1")
	if buffered.DispatchedAt != nil {
		t.Fatalf("buffered alert has DispatchedAt %v, want nil", buffered.DispatchedAt)
	}

	flushAt := base.Add(16 * time.Minute)
	globaltime.SetMockTime(flushAt)
	d.FlushExpired(context.Background())

	if ch.sentCount() != 1 {
		t.Fatalf("channel got %d alerts after flush, want 1", ch.sentCount())
	}
	delivered := rec.byID(t, "alert-1")
	if delivered.DispatchedAt == nil || !delivered.DispatchedAt.Equal(flushAt) {
		t.Fatalf("unexpected DispatchedAt: %v", delivered.DispatchedAt)
	}
}

func TestDispatchRejectsIncompleteAlert(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), &fakeRecorder{}, QuietHours{}, nil, nil)
	err := d.Dispatch(context.Background(), Payload{Title: "no id"})
	if err == nil {
		t.Fatal("expected error for alert without id")
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"info":      SeverityInfo,
		"NOTICE":    SeverityNotice,
		" warning ": SeverityWarning,
		"critical":  SeverityCritical,
	}
	for raw, want := range cases {
		got, err := ParseSeverity(raw)
		if err != nil {
			t.Fatalf("ParseSeverity(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseSeverity(%q) = %v, want %v", raw, got, want)
		}
	}

	if _, err := ParseSeverity("fatal"); err == nil {
		t.Fatal("expected error for unknown severity")
	}
	if got := SeverityWarning.String(); got != "warning" {
		t.Fatalf("String() = %q, want %q", got, "warning")
	}
}
