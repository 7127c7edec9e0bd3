package store

import (
	"context"
	"fmt"
	"time"
)

// DedupKeys are the known guids and content hashes inside the dedup window.
type DedupKeys struct {
	GUIDs  []string
	Hashes []string
}

// RecentDedupKeys loads the guid and content-hash sets of items collected
// since the given cutoff, across all sources.
func (s *Store) RecentDedupKeys(ctx context.Context, since time.Time) (DedupKeys, error) {
	var keys DedupKeys

	rows, err := s.db.WithContext(ctx).Model(&Item{}).
		Where("collected_at >= ?", since).
		Select("guid", "content_hash").Rows()
	if err != nil {
		return DedupKeys{}, fmt.Errorf("query dedup keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var guid, hash string
		if err := rows.Scan(&guid, &hash); err != nil {
			return DedupKeys{}, fmt.Errorf("scan dedup key row: %w", err)
		}
		if guid != "" {
			keys.GUIDs = append(keys.GUIDs, guid)
		}
		if hash != "" {
			keys.Hashes = append(keys.Hashes, hash)
		}
	}
	if err := rows.Err(); err != nil {
		return DedupKeys{}, fmt.Errorf("iterate dedup keys: %w", err)
	}

	return keys, nil
}

// SaveItems persists a batch of processed items in one transaction.
func (s *Store) SaveItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&items).Error; err != nil {
		return fmt.Errorf("save %d items: %w", len(items), err)
	}
	return nil
}

// GetItem loads one item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	var item Item
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &item, nil
}

// UpdateItemStatus moves an item to a new status.
func (s *Store) UpdateItemStatus(ctx context.Context, id, status string) error {
	res := s.db.WithContext(ctx).Model(&Item{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update item %s status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListItems returns items collected since the cutoff, newest first, capped
// at limit.
func (s *Store) ListItems(ctx context.Context, since time.Time, limit int) ([]Item, error) {
	var items []Item
	q := s.db.WithContext(ctx).Where("collected_at >= ?", since).Order("collected_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// ListUnreadBefore returns items still in status new that were collected
// before the cutoff. Used by batch learning to find implicitly ignored items.
func (s *Store) ListUnreadBefore(ctx context.Context, before time.Time, limit int) ([]Item, error) {
	var items []Item
	q := s.db.WithContext(ctx).
		Where("status = ? AND collected_at < ?", StatusNew, before).
		Order("collected_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list unread items: %w", err)
	}
	return items, nil
}

// TopItemsSince returns the highest scored items collected since the cutoff.
func (s *Store) TopItemsSince(ctx context.Context, since time.Time, limit int) ([]Item, error) {
	var items []Item
	q := s.db.WithContext(ctx).Where("collected_at >= ?", since).Order("score desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list top items: %w", err)
	}
	return items, nil
}

// CountItemsBySourceSince returns per-source item counts since the cutoff.
func (s *Store) CountItemsBySourceSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.WithContext(ctx).Model(&Item{}).
		Where("collected_at >= ?", since).
		Select("source_id", "count(*)").
		Group("source_id").Rows()
	if err != nil {
		return nil, fmt.Errorf("count items by source: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var sourceID string
		var count int64
		if err := rows.Scan(&sourceID, &count); err != nil {
			return nil, fmt.Errorf("scan item count row: %w", err)
		}
		counts[sourceID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item counts: %w", err)
	}

	return counts, nil
}

// DeleteItemsBefore removes items collected before the retention cutoff and
// returns the number deleted.
func (s *Store) DeleteItemsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("collected_at < ?", before).Delete(&Item{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete items before %s: %w", before.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected, nil
}
