// Package report produces periodic collection summaries.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/store"
)

const (
	defaultWindow = 24 * time.Hour
	topItemCount  = 10
)

// Content is the report body persisted as JSON.
type Content struct {
	SourceCounts map[string]int64 `json:"source_counts"`
	TotalItems   int64            `json:"total_items"`
	AlertCount   int64            `json:"alert_count"`
	TopItems     []TopItem        `json:"top_items"`
}

// TopItem is one highest-scored item in the report window.
type TopItem struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url,omitempty"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Dispatcher is the optional alert sink for finished reports.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert alerting.Payload) error
}

// Generator builds and persists one report per window.
type Generator struct {
	store      *store.Store
	dispatcher Dispatcher
	window     time.Duration
	announce   bool
	logger     zerolog.Logger
}

// NewGenerator builds a report generator. When announce is set, each
// finished report is also dispatched as an info alert.
func NewGenerator(st *store.Store, dispatcher Dispatcher, announce bool, logger zerolog.Logger) *Generator {
	return &Generator{
		store:      st,
		dispatcher: dispatcher,
		window:     defaultWindow,
		announce:   announce,
		logger:     logger.With().Str("component", "report").Logger(),
	}
}

// Generate summarizes the last window and persists the report.
func (g *Generator) Generate(ctx context.Context) error {
	end := globaltime.UTC()
	start := end.Add(-g.window)

	counts, err := g.store.CountItemsBySourceSince(ctx, start)
	if err != nil {
		return fmt.Errorf("report source counts: %w", err)
	}

	top, err := g.store.TopItemsSince(ctx, start, topItemCount)
	if err != nil {
		return fmt.Errorf("report top items: %w", err)
	}

	alertCount, err := g.store.CountAlertsSince(ctx, start)
	if err != nil {
		return fmt.Errorf("report alert count: %w", err)
	}

	content := Content{
		SourceCounts: counts,
		AlertCount:   alertCount,
	}
	for _, count := range counts {
		content.TotalItems += count
	}
	for _, item := range top {
		content.TopItems = append(content.TopItems, TopItem{
			ID:       item.ID,
			Title:    item.Title,
			URL:      item.URL,
			SourceID: item.SourceID,
			Score:    item.Score,
		})
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	rec := &store.Report{
		PeriodStart: start,
		PeriodEnd:   end,
		GeneratedAt: end,
		ContentJSON: string(raw),
	}
	if err := g.store.SaveReport(ctx, rec); err != nil {
		return err
	}

	g.logger.Info().
		Int64("items", content.TotalItems).
		Int64("alerts", content.AlertCount).
		Int("sources", len(counts)).
		Msg("report generated")

	if g.announce && g.dispatcher != nil {
		payload := alerting.Payload{
			ID:        uuid.NewString(),
			Severity:  alerting.SeverityInfo,
			Title:     fmt.Sprintf("Collection report: %d items, %d alerts", content.TotalItems, content.AlertCount),
			Message:   summaryLine(content),
			CreatedAt: end,
		}
		if err := g.dispatcher.Dispatch(ctx, payload); err != nil {
			g.logger.Error().Err(err).Msg("report announcement failed")
		}
	}
	return nil
}

func summaryLine(content Content) string {
	if len(content.TopItems) == 0 {
		return "No items collected in the report window."
	}
	top := content.TopItems[0]
	return fmt.Sprintf("Top item (%.0f): %s", top.Score, top.Title)
}
