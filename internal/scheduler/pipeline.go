// Package scheduler orchestrates recurring per-source collection runs and
// the maintenance jobs around them.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/config"
	"horse.fit/sentinel/internal/dedup"
	"horse.fit/sentinel/internal/filter"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/keywords"
	"horse.fit/sentinel/internal/langdetect"
	"horse.fit/sentinel/internal/preference"
	"horse.fit/sentinel/internal/scorer"
	"horse.fit/sentinel/internal/store"
)

// BatchStats summarizes one processed batch.
type BatchStats struct {
	Collected  int `json:"collected"`
	Duplicates int `json:"duplicates"`
	Excluded   int `json:"excluded"`
	Saved      int `json:"saved"`
	Alerts     int `json:"alerts"`
}

// Pipeline runs a collected batch through dedup, filtering, scoring, and
// persistence, then hands alert-triggering items to the dispatcher. It is
// stateless across batches and safe for concurrent ProcessBatch calls.
type Pipeline struct {
	cfg        *config.Config
	store      *store.Store
	engine     *filter.Engine
	learner    *preference.Learner
	dispatcher *alerting.Dispatcher
	logger     zerolog.Logger
}

func NewPipeline(cfg *config.Config, st *store.Store, engine *filter.Engine, learner *preference.Learner, dispatcher *alerting.Dispatcher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		engine:     engine,
		learner:    learner,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// ProcessBatch takes one source's collected items through the full stage
// chain. Alerts are dispatched only after the persistence write has
// committed; a dispatch failure is logged, never returned.
func (p *Pipeline) ProcessBatch(ctx context.Context, source *store.Source, items []collector.Item) (BatchStats, error) {
	stats := BatchStats{Collected: len(items)}
	if len(items) == 0 {
		return stats, nil
	}

	dd := dedup.New(p.store, p.cfg.DedupWindowDays, p.logger)
	partitioned, err := dd.Partition(ctx, items)
	if err != nil {
		return stats, fmt.Errorf("dedup batch for %s: %w", source.ID, err)
	}
	stats.Duplicates = len(partitioned.Duplicates)

	itemCtx := filter.ItemContext{SourceID: source.ID, Category: source.Category}
	now := globaltime.UTC()

	records := make([]store.Item, 0, len(partitioned.New))
	var pending []alerting.Payload

	for _, item := range partitioned.New {
		result := p.engine.ProcessItem(item, itemCtx)
		if result.Excluded {
			stats.Excluded++
			p.logger.Debug().
				Str("source", source.ID).
				Str("guid", item.GUID).
				Str("filter", result.ExcludedBy).
				Msg("item excluded")
			continue
		}

		if item.Language == "" {
			item.Language = langdetect.Detect(item.Title + " " + item.Summary)
		}
		extracted := keywords.Extract(item.Title+" "+item.Content, p.cfg.Learning.MaxFeaturesPerAction)

		rec := buildRecord(source, item, now)
		rec.SetMediaURLs(item.MediaURLs)
		rec.SetKeywords(extracted)
		rec.SetTags(result.Tags)
		rec.Highlighted = result.Highlighted

		features := preference.ItemFeatures(&rec, source, p.cfg.Learning.MaxFeaturesPerAction)
		prefScore := p.learner.Score(ctx, features)

		total, _ := scorer.Score(scorer.Input{
			Item:           item,
			FilterResult:   &result,
			SourcePriority: source.Priority,
			Preference:     prefScore,
			Keywords:       extracted,
		})
		rec.Score = total

		records = append(records, rec)
		pending = append(pending, p.alertsFor(source, rec, item, result)...)
	}

	if err := p.store.SaveItems(ctx, records); err != nil {
		return stats, fmt.Errorf("persist batch for %s: %w", source.ID, err)
	}
	stats.Saved = len(records)

	// Persistence has committed; the dispatcher may now see the items.
	for _, payload := range pending {
		if err := p.dispatcher.Dispatch(ctx, payload); err != nil {
			p.logger.Error().
				Err(err).
				Str("source", source.ID).
				Str("alert_id", payload.ID).
				Msg("alert dispatch failed")
			continue
		}
		stats.Alerts++
	}

	p.logger.Info().
		Str("source", source.ID).
		Int("collected", stats.Collected).
		Int("duplicates", stats.Duplicates).
		Int("excluded", stats.Excluded).
		Int("saved", stats.Saved).
		Int("alerts", stats.Alerts).
		Msg("batch processed")

	return stats, nil
}

func buildRecord(source *store.Source, item collector.Item, collectedAt time.Time) store.Item {
	if !item.CollectedAt.IsZero() {
		collectedAt = item.CollectedAt
	}
	rec := store.Item{
		ID:          uuid.NewString(),
		SourceID:    source.ID,
		GUID:        item.GUID,
		ContentHash: item.ContentHash(),
		Title:       item.Title,
		URL:         item.URL,
		Author:      item.Author,
		Content:     item.Content,
		Summary:     item.Summary,
		PublishedAt: item.PublishedAt,
		CollectedAt: collectedAt,
		ImageURL:    item.ImageURL,
		Language:    item.Language,
		Status:      store.StatusNew,
	}
	return rec
}

func (p *Pipeline) alertsFor(source *store.Source, rec store.Item, item collector.Item, result filter.Result) []alerting.Payload {
	if !result.ShouldAlert() {
		return nil
	}

	now := globaltime.UTC()
	payloads := make([]alerting.Payload, 0, len(result.Alerts))
	for _, match := range result.Alerts {
		severity := alerting.SeverityWarning
		if raw := match.Severity(); raw != "" {
			parsed, err := alerting.ParseSeverity(raw)
			if err != nil {
				p.logger.Warn().
					Str("filter", match.Filter.Name).
					Str("severity", raw).
					Msg("unknown alert severity, using warning")
			} else {
				severity = parsed
			}
		}

		message := item.Summary
		if message == "" {
			message = truncate(item.Content, 280)
		}

		payloads = append(payloads, alerting.Payload{
			ID:         uuid.NewString(),
			Severity:   severity,
			Title:      fmt.Sprintf("[%s] %s", match.Filter.Name, item.Title),
			Message:    message,
			ItemID:     rec.ID,
			ItemURL:    item.URL,
			SourceID:   source.ID,
			Category:   source.Category,
			FilterName: match.Filter.Name,
			Tags:       result.Tags,
			CreatedAt:  now,
		})
	}
	return payloads
}

// truncate cuts the string to at most max bytes without splitting a rune.
func truncate(raw string, max int) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) <= max {
		return trimmed
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut]
}
