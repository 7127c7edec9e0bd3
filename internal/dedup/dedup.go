// Package dedup detects duplicate items by guid and normalized content hash
// over a rolling time window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/store"
)

// Kind classifies why an item was considered a duplicate.
type Kind string

const (
	DuplicateByGUID Kind = "duplicate_by_guid"
	DuplicateByHash Kind = "duplicate_by_hash"
)

// Duplicate pairs a rejected item with its classification.
type Duplicate struct {
	Item collector.Item
	Kind Kind
}

// Result partitions one batch into accepted and rejected items.
type Result struct {
	New        []collector.Item
	Duplicates []Duplicate
}

// KeySource supplies the guid/hash sets already persisted inside the window.
type KeySource interface {
	RecentDedupKeys(ctx context.Context, since time.Time) (store.DedupKeys, error)
}

// Deduplicator holds the in-memory guid and content-hash sets for one
// logical collection session. It is not safe for concurrent use; each job
// builds its own instance so sessions for different sources never share
// unsynchronized state.
type Deduplicator struct {
	keys       KeySource
	windowDays int
	logger     zerolog.Logger

	loaded bool
	guids  map[string]struct{}
	hashes map[string]struct{}
}

// New builds a deduplicator over the given window. Keys are loaded lazily on
// the first Partition call and cached for the instance lifetime.
func New(keys KeySource, windowDays int, logger zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		keys:       keys,
		windowDays: windowDays,
		logger:     logger.With().Str("component", "dedup").Logger(),
		guids:      map[string]struct{}{},
		hashes:     map[string]struct{}{},
	}
}

// Partition splits a batch into new items and duplicates. The guid check
// runs first; the content hash catches the same content re-published under a
// different guid or source. Items accepted earlier in the same batch count
// as seen for the rest of the batch.
func (d *Deduplicator) Partition(ctx context.Context, items []collector.Item) (Result, error) {
	if err := d.load(ctx); err != nil {
		return Result{}, err
	}

	result := Result{}
	for _, item := range items {
		if _, seen := d.guids[item.GUID]; item.GUID != "" && seen {
			result.Duplicates = append(result.Duplicates, Duplicate{Item: item, Kind: DuplicateByGUID})
			continue
		}

		hash := item.ContentHash()
		if _, seen := d.hashes[hash]; seen {
			result.Duplicates = append(result.Duplicates, Duplicate{Item: item, Kind: DuplicateByHash})
			continue
		}

		if item.GUID != "" {
			d.guids[item.GUID] = struct{}{}
		}
		d.hashes[hash] = struct{}{}
		result.New = append(result.New, item)
	}

	if len(result.Duplicates) > 0 {
		d.logger.Debug().
			Int("new", len(result.New)).
			Int("duplicates", len(result.Duplicates)).
			Msg("partitioned batch")
	}

	return result, nil
}

func (d *Deduplicator) load(ctx context.Context) error {
	if d.loaded {
		return nil
	}

	since := globaltime.UTC().Add(-time.Duration(d.windowDays) * 24 * time.Hour)
	keys, err := d.keys.RecentDedupKeys(ctx, since)
	if err != nil {
		return fmt.Errorf("load dedup window: %w", err)
	}

	for _, guid := range keys.GUIDs {
		d.guids[guid] = struct{}{}
	}
	for _, hash := range keys.Hashes {
		d.hashes[hash] = struct{}{}
	}

	d.loaded = true
	d.logger.Debug().
		Int("guids", len(d.guids)).
		Int("hashes", len(d.hashes)).
		Int("window_days", d.windowDays).
		Msg("loaded dedup window")
	return nil
}
