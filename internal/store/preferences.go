package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// UpsertPreference writes one feature weight, last write wins per key.
func (s *Store) UpsertPreference(ctx context.Context, pref *Preference) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "feature_type"}, {Name: "feature_value"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"weight", "positive_count", "negative_count", "last_updated",
		}),
	}).Create(pref).Error
	if err != nil {
		return fmt.Errorf("upsert preference %s/%s: %w", pref.FeatureType, pref.FeatureValue, err)
	}
	return nil
}

// ListPreferences returns every stored preference.
func (s *Store) ListPreferences(ctx context.Context) ([]Preference, error) {
	var prefs []Preference
	if err := s.db.WithContext(ctx).Find(&prefs).Error; err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return prefs, nil
}

// DeletePreference removes one feature weight.
func (s *Store) DeletePreference(ctx context.Context, featureType, featureValue string) error {
	err := s.db.WithContext(ctx).
		Where("feature_type = ? AND feature_value = ?", featureType, featureValue).
		Delete(&Preference{}).Error
	if err != nil {
		return fmt.Errorf("delete preference %s/%s: %w", featureType, featureValue, err)
	}
	return nil
}

// AppendAction records one user action; the action log is append-only.
func (s *Store) AppendAction(ctx context.Context, action *UserAction) error {
	if err := s.db.WithContext(ctx).Create(action).Error; err != nil {
		return fmt.Errorf("append action %s on %s: %w", action.ActionType, action.ItemID, err)
	}
	return nil
}

// CountActions returns the total number of recorded actions.
func (s *Store) CountActions(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserAction{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return count, nil
}

// HasAction reports whether an action of the given type has already been
// recorded for the item.
func (s *Store) HasAction(ctx context.Context, itemID, actionType string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UserAction{}).
		Where("item_id = ? AND action_type = ?", itemID, actionType).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check action %s on %s: %w", actionType, itemID, err)
	}
	return count > 0, nil
}
