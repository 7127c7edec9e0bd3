package filter

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/collector"
)

// Action is what a matching filter does to an item.
type Action string

const (
	ActionInclude   Action = "include"
	ActionExclude   Action = "exclude"
	ActionHighlight Action = "highlight"
	ActionTag       Action = "tag"
	ActionAlert     Action = "alert"
)

// Filter is one rule: a condition tree plus the action taken on match.
// Filters execute in ascending Priority order.
type Filter struct {
	ID            string
	Name          string
	Action        Action
	ActionParams  map[string]any
	Conditions    Condition
	ScoreModifier float64 // -100..+100
	Priority      int
	Enabled       bool

	// Optional targeting: when set, the filter only applies to items from
	// these sources / categories.
	SourceIDs  []string
	Categories []string
}

// Match is one filter that matched an item.
type Match struct {
	Filter *Filter
	Field  string
	Value  string
}

// Severity returns the alert severity requested by the filter's params.
func (m Match) Severity() string {
	if m.Filter == nil || m.Filter.ActionParams == nil {
		return ""
	}
	severity, _ := m.Filter.ActionParams["severity"].(string)
	return severity
}

// ItemContext carries the source attributes used for filter targeting.
type ItemContext struct {
	SourceID string
	Category string
}

// Result is the accumulated outcome of running all applicable filters
// against one item.
type Result struct {
	Matches       []Match
	Excluded      bool
	ExcludedBy    string
	Highlighted   bool
	Tags          []string
	Alerts        []Match
	ScoreModifier float64
}

// ShouldAlert reports whether any alert filter fired.
func (r Result) ShouldAlert() bool {
	return len(r.Alerts) > 0
}

// Engine evaluates an ordered filter list against items.
type Engine struct {
	filters   []Filter
	evaluator *Evaluator
	logger    zerolog.Logger
}

// NewEngine builds an engine over the given filters. Disabled filters are
// dropped; the rest are sorted by ascending priority.
func NewEngine(filters []Filter, evaluator *Evaluator, logger zerolog.Logger) *Engine {
	if evaluator == nil {
		evaluator = NewEvaluator()
	}

	enabled := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f.Enabled {
			enabled = append(enabled, f)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})

	return &Engine{
		filters:   enabled,
		evaluator: evaluator,
		logger:    logger.With().Str("component", "filter").Logger(),
	}
}

// Evaluator exposes the engine's evaluator for custom predicate registration.
func (e *Engine) Evaluator() *Evaluator {
	return e.evaluator
}

// ProcessItem runs every applicable filter against the item in priority
// order. An exclude match halts evaluation immediately and discards any
// effects accumulated so far; evaluation errors skip the offending filter.
func (e *Engine) ProcessItem(item collector.Item, itemCtx ItemContext) Result {
	result := Result{}
	tagSet := map[string]struct{}{}

	for idx := range e.filters {
		f := &e.filters[idx]
		if !f.AppliesTo(itemCtx) {
			continue
		}

		matched, field, value, err := e.evaluator.Evaluate(item, f.Conditions)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("filter", f.Name).
				Str("guid", item.GUID).
				Msg("filter evaluation failed, skipping")
			continue
		}
		if !matched {
			continue
		}

		match := Match{Filter: f, Field: field, Value: value}

		if f.Action == ActionExclude {
			return Result{
				Matches:    []Match{match},
				Excluded:   true,
				ExcludedBy: f.Name,
			}
		}

		result.Matches = append(result.Matches, match)
		result.ScoreModifier += f.ScoreModifier

		switch f.Action {
		case ActionHighlight:
			result.Highlighted = true
		case ActionTag:
			for _, tag := range tagsFromParams(f.ActionParams) {
				if _, exists := tagSet[tag]; !exists {
					tagSet[tag] = struct{}{}
					result.Tags = append(result.Tags, tag)
				}
			}
		case ActionAlert:
			result.Alerts = append(result.Alerts, match)
		}
	}

	return result
}

// ProcessItems runs ProcessItem over a batch, returning per-item results and
// the included/excluded counts.
func (e *Engine) ProcessItems(items []collector.Item, itemCtx ItemContext) ([]Result, int, int) {
	results := make([]Result, 0, len(items))
	included, excluded := 0, 0
	for _, item := range items {
		result := e.ProcessItem(item, itemCtx)
		if result.Excluded {
			excluded++
		} else {
			included++
		}
		results = append(results, result)
	}
	return results, included, excluded
}

// AppliesTo reports whether the filter's optional targeting matches the
// item's source context. An empty targeting list matches everything.
func (f *Filter) AppliesTo(itemCtx ItemContext) bool {
	if len(f.SourceIDs) > 0 && !containsFold(f.SourceIDs, itemCtx.SourceID) {
		return false
	}
	if len(f.Categories) > 0 && !containsFold(f.Categories, itemCtx.Category) {
		return false
	}
	return true
}

func containsFold(values []string, needle string) bool {
	for _, v := range values {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

func tagsFromParams(params map[string]any) []string {
	if params == nil {
		return nil
	}
	if tag, ok := params["tag"].(string); ok && strings.TrimSpace(tag) != "" {
		return []string{tag}
	}
	if rawTags, ok := params["tags"].([]any); ok {
		tags := make([]string, 0, len(rawTags))
		for _, raw := range rawTags {
			if tag, ok := raw.(string); ok && strings.TrimSpace(tag) != "" {
				tags = append(tags, tag)
			}
		}
		return tags
	}
	if tags, ok := params["tags"].([]string); ok {
		return tags
	}
	return nil
}
