package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestUpsertSourcePreservesRuntimeStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	source := &Source{
		ID:              "hn",
		Name:            "Hacker News",
		Type:            "rss",
		Enabled:         true,
		IntervalMinutes: 30,
		Priority:        1,
		Category:        "tech",
	}
	if err := st.UpsertSource(ctx, source); err != nil {
		t.Fatalf("insert: %v", err)
	}

	checkedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	if err := st.RecordSourceFailure(ctx, "hn", checkedAt, "timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := st.RecordSourceFailure(ctx, "hn", checkedAt, "timeout"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	// Re-applying the definition must not reset collection status.
	updated := *source
	updated.Name = "HN Front Page"
	if err := st.UpsertSource(ctx, &updated); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.GetSource(ctx, "hn")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "HN Front Page" {
		t.Fatalf("name = %q, want %q", got.Name, "HN Front Page")
	}
	if got.ConsecutiveErrors != 2 || got.LastError != "timeout" {
		t.Fatalf("runtime status lost: errors=%d last=%q", got.ConsecutiveErrors, got.LastError)
	}
	if got.LastCheck == nil || !got.LastCheck.Equal(checkedAt) {
		t.Fatalf("last check = %v, want %v", got.LastCheck, checkedAt)
	}

	if err := st.RecordSourceSuccess(ctx, "hn", checkedAt.Add(time.Hour)); err != nil {
		t.Fatalf("record success: %v", err)
	}
	got, err = st.GetSource(ctx, "hn")
	if err != nil {
		t.Fatalf("get after success: %v", err)
	}
	if got.ConsecutiveErrors != 0 || got.LastError != "" || got.LastSuccess == nil {
		t.Fatalf("success did not clear status: %+v", got)
	}
}

func TestGetSourceNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetSource(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListEnabledSourcesFiltersAndOrders(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, source := range []Source{
		{ID: "b-feed", Type: "rss", Enabled: true},
		{ID: "a-feed", Type: "rss", Enabled: true},
		{ID: "dead-feed", Type: "rss", Enabled: false},
	} {
		s := source
		if err := st.UpsertSource(ctx, &s); err != nil {
			t.Fatalf("upsert %s: %v", s.ID, err)
		}
	}

	enabled, err := st.ListEnabledSources(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 2 || enabled[0].ID != "a-feed" || enabled[1].ID != "b-feed" {
		t.Fatalf("unexpected enabled sources: %+v", enabled)
	}

	all, err := st.ListSources(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d sources, want 3", len(all))
	}
}

func TestRecentDedupKeysSkipsOldAndEmpty(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	items := []Item{
		{ID: "fresh", SourceID: "hn", GUID: "guid-1", ContentHash: "hash-1", CollectedAt: now, Status: StatusNew},
		{ID: "no-guid", SourceID: "hn", ContentHash: "hash-2", CollectedAt: now, Status: StatusNew},
		{ID: "stale", SourceID: "hn", GUID: "guid-old", ContentHash: "hash-old", CollectedAt: now.Add(-8 * 24 * time.Hour), Status: StatusNew},
	}
	if err := st.SaveItems(ctx, items); err != nil {
		t.Fatalf("save: %v", err)
	}

	keys, err := st.RecentDedupKeys(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("dedup keys: %v", err)
	}
	if len(keys.GUIDs) != 1 || keys.GUIDs[0] != "guid-1" {
		t.Fatalf("guids = %v, want [guid-1]", keys.GUIDs)
	}
	if len(keys.Hashes) != 2 {
		t.Fatalf("hashes = %v, want 2 entries", keys.Hashes)
	}
}

func TestUpdateItemStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	item := Item{ID: "item-1", SourceID: "hn", Title: "t", CollectedAt: time.Now().UTC(), Status: StatusNew}
	if err := st.SaveItems(ctx, []Item{item}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := st.UpdateItemStatus(ctx, "item-1", StatusRead); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := st.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusRead {
		t.Fatalf("status = %q, want %q", got.Status, StatusRead)
	}

	if err := st.UpdateItemStatus(ctx, "missing", StatusRead); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestItemQueries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	items := []Item{
		{ID: "i1", SourceID: "hn", Score: 80, CollectedAt: now.Add(-1 * time.Hour), Status: StatusNew},
		{ID: "i2", SourceID: "hn", Score: 95, CollectedAt: now.Add(-2 * time.Hour), Status: StatusNew},
		{ID: "i3", SourceID: "blog", Score: 40, CollectedAt: now.Add(-72 * time.Hour), Status: StatusNew},
		{ID: "i4", SourceID: "blog", Score: 60, CollectedAt: now.Add(-3 * time.Hour), Status: StatusRead},
	}
	if err := st.SaveItems(ctx, items); err != nil {
		t.Fatalf("save: %v", err)
	}

	recent, err := st.ListItems(ctx, now.Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "i1" || recent[1].ID != "i2" {
		t.Fatalf("unexpected recent items: %+v", recent)
	}

	top, err := st.TopItemsSince(ctx, now.Add(-24*time.Hour), 1)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 1 || top[0].ID != "i2" {
		t.Fatalf("unexpected top items: %+v", top)
	}

	unread, err := st.ListUnreadBefore(ctx, now.Add(-48*time.Hour), 0)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(unread) != 1 || unread[0].ID != "i3" {
		t.Fatalf("unexpected unread items: %+v", unread)
	}

	counts, err := st.CountItemsBySourceSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["hn"] != 2 || counts["blog"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	deleted, err := st.DeleteItemsBefore(ctx, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	pref := &Preference{
		FeatureType:   FeatureKeyword,
		FeatureValue:  "kubernetes",
		Weight:        0.1,
		PositiveCount: 1,
		LastUpdated:   time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
	if err := st.UpsertPreference(ctx, pref); err != nil {
		t.Fatalf("insert: %v", err)
	}

	pref.Weight = 0.19
	pref.PositiveCount = 2
	if err := st.UpsertPreference(ctx, pref); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	prefs, err := st.ListPreferences(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(prefs) != 1 {
		t.Fatalf("got %d preferences, want 1", len(prefs))
	}
	if prefs[0].Weight != 0.19 || prefs[0].PositiveCount != 2 {
		t.Fatalf("unexpected stored preference: %+v", prefs[0])
	}

	if err := st.DeletePreference(ctx, FeatureKeyword, "kubernetes"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	prefs, err = st.ListPreferences(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(prefs) != 0 {
		t.Fatalf("preference survived delete: %+v", prefs)
	}
}

func TestActionLog(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, action := range []string{"read", "star"} {
		err := st.AppendAction(ctx, &UserAction{
			ItemID:     "item-1",
			ActionType: action,
			Signal:     1,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}

	count, err := st.CountActions(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	has, err := st.HasAction(ctx, "item-1", "star")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if !has {
		t.Fatal("expected star action to exist")
	}
	has, err = st.HasAction(ctx, "item-1", "ignore")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if has {
		t.Fatal("unexpected ignore action")
	}
}

func TestAlertPersistenceAndRetention(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	alerts := []Alert{
		{ID: "a1", Severity: "warning", Title: "recent", CreatedAt: now.Add(-time.Hour)},
		{ID: "a2", Severity: "critical", Title: "old", CreatedAt: now.Add(-40 * 24 * time.Hour)},
	}
	for i := range alerts {
		if err := st.SaveAlert(ctx, &alerts[i]); err != nil {
			t.Fatalf("save %s: %v", alerts[i].ID, err)
		}
	}

	count, err := st.CountAlertsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	deleted, err := st.DeleteAlertsBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if err := st.Vacuum(ctx); err != nil {
		t.Fatalf("vacuum: %v", err)
	}
}

func TestReportRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	if _, err := st.LatestReport(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	for i, generated := range []time.Time{now.Add(-24 * time.Hour), now} {
		report := &Report{
			PeriodStart: generated.Add(-24 * time.Hour),
			PeriodEnd:   generated,
			GeneratedAt: generated,
			ContentJSON: fmt.Sprintf(`{"total_items":%d}`, i),
		}
		if err := st.SaveReport(ctx, report); err != nil {
			t.Fatalf("save report %d: %v", i, err)
		}
	}

	latest, err := st.LatestReport(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.GeneratedAt.Equal(now) {
		t.Fatalf("latest generated at %v, want %v", latest.GeneratedAt, now)
	}
}
