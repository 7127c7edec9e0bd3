package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/store"
)

type fakeKeySource struct {
	keys  store.DedupKeys
	calls int
}

func (f *fakeKeySource) RecentDedupKeys(ctx context.Context, since time.Time) (store.DedupKeys, error) {
	f.calls++
	return f.keys, nil
}

func TestPartitionDropsKnownGUIDs(t *testing.T) {
	keys := &fakeKeySource{keys: store.DedupKeys{GUIDs: []string{"seen-guid"}}}
	d := New(keys, 7, zerolog.Nop())

	result, err := d.Partition(context.Background(), []collector.Item{
		{GUID: "seen-guid", Title: "already stored"},
		{GUID: "fresh-guid", Title: "brand new"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.New) != 1 || result.New[0].GUID != "fresh-guid" {
		t.Fatalf("unexpected new items: %+v", result.New)
	}
	if len(result.Duplicates) != 1 || result.Duplicates[0].Kind != DuplicateByGUID {
		t.Fatalf("unexpected duplicates: %+v", result.Duplicates)
	}
}

func TestPartitionDropsKnownContentHash(t *testing.T) {
	item := collector.Item{GUID: "republished-guid", Title: "Same Story", Content: "identical body"}
	keys := &fakeKeySource{keys: store.DedupKeys{Hashes: []string{item.ContentHash()}}}
	d := New(keys, 7, zerolog.Nop())

	result, err := d.Partition(context.Background(), []collector.Item{item})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.New) != 0 {
		t.Fatalf("expected no new items, got %+v", result.New)
	}
	if len(result.Duplicates) != 1 || result.Duplicates[0].Kind != DuplicateByHash {
		t.Fatalf("unexpected duplicates: %+v", result.Duplicates)
	}
}

func TestPartitionGUIDCheckedBeforeHash(t *testing.T) {
	item := collector.Item{GUID: "seen-guid", Title: "also seen content"}
	keys := &fakeKeySource{keys: store.DedupKeys{
		GUIDs:  []string{"seen-guid"},
		Hashes: []string{item.ContentHash()},
	}}
	d := New(keys, 7, zerolog.Nop())

	result, err := d.Partition(context.Background(), []collector.Item{item})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Duplicates) != 1 || result.Duplicates[0].Kind != DuplicateByGUID {
		t.Fatalf("expected guid classification, got %+v", result.Duplicates)
	}
}

func TestPartitionTracksIntraBatchDuplicates(t *testing.T) {
	d := New(&fakeKeySource{}, 7, zerolog.Nop())

	result, err := d.Partition(context.Background(), []collector.Item{
		{GUID: "g1", Title: "first occurrence"},
		{GUID: "g1", Title: "same guid again"},
		{GUID: "g2", Title: "first occurrence"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.New) != 1 {
		t.Fatalf("unexpected new items: %+v", result.New)
	}
	if len(result.Duplicates) != 2 {
		t.Fatalf("unexpected duplicates: %+v", result.Duplicates)
	}
	if result.Duplicates[0].Kind != DuplicateByGUID {
		t.Fatalf("unexpected first kind: %q", result.Duplicates[0].Kind)
	}
	// Third item has a fresh guid but identical content to the first.
	if result.Duplicates[1].Kind != DuplicateByHash {
		t.Fatalf("unexpected second kind: %q", result.Duplicates[1].Kind)
	}
}

func TestPartitionLoadsWindowOnce(t *testing.T) {
	keys := &fakeKeySource{}
	d := New(keys, 7, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := d.Partition(context.Background(), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if keys.calls != 1 {
		t.Fatalf("expected one window load, got %d", keys.calls)
	}
}

func TestPartitionAcceptsItemsWithoutGUID(t *testing.T) {
	d := New(&fakeKeySource{}, 7, zerolog.Nop())

	result, err := d.Partition(context.Background(), []collector.Item{
		{Title: "no guid one"},
		{Title: "no guid two"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.New) != 2 {
		t.Fatalf("items without guid should dedup by hash only: %+v", result)
	}
}
