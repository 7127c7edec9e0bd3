package store

import (
	"context"
	"fmt"
	"time"
)

// SaveAlert persists one alert record.
func (s *Store) SaveAlert(ctx context.Context, alert *Alert) error {
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("save alert %s: %w", alert.ID, err)
	}
	return nil
}

// MarkAlertsDispatched stamps the dispatch time on the given alert records.
func (s *Store) MarkAlertsDispatched(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Where("id IN ?", ids).
		Update("dispatched_at", at).Error
	if err != nil {
		return fmt.Errorf("mark alerts dispatched: %w", err)
	}
	return nil
}

// CountAlertsSince returns the number of alerts created since the cutoff.
func (s *Store) CountAlertsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

// DeleteAlertsBefore removes alerts created before the retention cutoff.
func (s *Store) DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&Alert{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete alerts before %s: %w", before.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected, nil
}

// SaveReport persists one generated report.
func (s *Store) SaveReport(ctx context.Context, report *Report) error {
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// LatestReport returns the most recently generated report.
func (s *Store) LatestReport(ctx context.Context) (*Report, error) {
	var report Report
	if err := s.db.WithContext(ctx).Order("generated_at desc").First(&report).Error; err != nil {
		return nil, translateErr(err)
	}
	return &report, nil
}
