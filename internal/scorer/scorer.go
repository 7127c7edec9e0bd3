// Package scorer computes a bounded relevance score for collected items.
package scorer

import (
	"time"

	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/filter"
	"horse.fit/sentinel/internal/globaltime"
)

const (
	baseScore = 50.0

	freshnessMax     = 20.0
	freshnessFullFor = 6 * time.Hour
	freshnessZeroAt  = 7 * 24 * time.Hour

	priorityHighBonus   = 15.0
	priorityNormalBonus = 10.0
	priorityLowBonus    = 4.0

	longContentChars = 500
	contentBonus     = 5.0
	imageBonus       = 3.0
	authorBonus      = 2.0
	summaryBonus     = 2.0
	keywordBonus     = 3.0

	highlightBonus = 10.0
)

// Breakdown records each term that contributed to the final score.
type Breakdown struct {
	Base       float64 `json:"base"`
	Freshness  float64 `json:"freshness"`
	Priority   float64 `json:"priority"`
	Quality    float64 `json:"quality"`
	Filter     float64 `json:"filter"`
	Highlight  float64 `json:"highlight"`
	Preference float64 `json:"preference"`
	Total      float64 `json:"total"`
}

// Input is everything the scorer consumes for one item. Missing pieces
// degrade to a zero bonus for that term.
type Input struct {
	Item           collector.Item
	FilterResult   *filter.Result
	SourcePriority int // 1=high, 2=normal, 3=low
	Preference     float64
	Keywords       []string
}

// Score combines freshness, source priority, content quality, filter
// modifiers, and the preference contribution into a score clamped to
// [0, 100].
func Score(in Input) (float64, Breakdown) {
	b := Breakdown{Base: baseScore}

	b.Freshness = freshnessScore(in.Item.PublishedAt)
	b.Priority = priorityScore(in.SourcePriority)
	b.Quality = qualityScore(in.Item, in.Keywords)

	if in.FilterResult != nil {
		b.Filter = in.FilterResult.ScoreModifier
		if in.FilterResult.Highlighted {
			b.Highlight = highlightBonus
		}
	}

	b.Preference = in.Preference

	b.Total = clamp(b.Base+b.Freshness+b.Priority+b.Quality+b.Filter+b.Highlight+b.Preference, 0, 100)
	return b.Total, b
}

func freshnessScore(publishedAt *time.Time) float64 {
	if publishedAt == nil {
		return 0
	}

	age := globaltime.UTC().Sub(publishedAt.UTC())
	if age < 0 {
		age = 0
	}
	if age <= freshnessFullFor {
		return freshnessMax
	}
	if age >= freshnessZeroAt {
		return 0
	}

	// Linear taper between the full-bonus edge and the seven-day cutoff.
	span := float64(freshnessZeroAt - freshnessFullFor)
	remaining := float64(freshnessZeroAt - age)
	return freshnessMax * remaining / span
}

func priorityScore(priority int) float64 {
	switch priority {
	case 1:
		return priorityHighBonus
	case 3:
		return priorityLowBonus
	default:
		return priorityNormalBonus
	}
}

func qualityScore(item collector.Item, keywords []string) float64 {
	score := 0.0
	if len(item.Content) >= longContentChars {
		score += contentBonus
	}
	if item.ImageURL != "" {
		score += imageBonus
	}
	if item.Author != "" {
		score += authorBonus
	}
	if item.Summary != "" {
		score += summaryBonus
	}
	if len(keywords) > 0 {
		score += keywordBonus
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
