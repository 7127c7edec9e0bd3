package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertSource inserts or updates a source definition, preserving runtime
// status columns on conflict.
func (s *Store) UpsertSource(ctx context.Context, source *Source) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "type", "url", "enabled", "interval_minutes",
			"priority", "category", "tags_json", "config_json", "updated_at",
		}),
	}).Create(source).Error
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", source.ID, err)
	}
	return nil
}

// GetSource loads one source by id.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	var source Source
	if err := s.db.WithContext(ctx).First(&source, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &source, nil
}

// ListEnabledSources returns all enabled sources ordered by id.
func (s *Store) ListEnabledSources(ctx context.Context) ([]Source, error) {
	var sources []Source
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id asc").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	return sources, nil
}

// ListSources returns all sources ordered by id.
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	var sources []Source
	if err := s.db.WithContext(ctx).Order("id asc").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// RecordSourceSuccess stamps a successful collection run and clears the
// error counters.
func (s *Store) RecordSourceSuccess(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&Source{}).Where("id = ?", id).Updates(map[string]any{
		"last_check":         at,
		"last_success":       at,
		"last_error":         "",
		"consecutive_errors": 0,
	}).Error
	if err != nil {
		return fmt.Errorf("record source success %s: %w", id, err)
	}
	return nil
}

// RecordSourceFailure stamps a failed collection run and increments the
// consecutive error counter.
func (s *Store) RecordSourceFailure(ctx context.Context, id string, at time.Time, cause string) error {
	err := s.db.WithContext(ctx).Model(&Source{}).Where("id = ?", id).Updates(map[string]any{
		"last_check":         at,
		"last_error":         cause,
		"consecutive_errors": gorm.Expr("consecutive_errors + 1"),
	}).Error
	if err != nil {
		return fmt.Errorf("record source failure %s: %w", id, err)
	}
	return nil
}
