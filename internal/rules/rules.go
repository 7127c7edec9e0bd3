// Package rules loads the YAML rules file that declares sources, filters,
// notification channels, and routing.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/filter"
	"horse.fit/sentinel/internal/store"
)

// SourceSpec is one declared source.
type SourceSpec struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Type            string            `yaml:"type"`
	URL             string            `yaml:"url"`
	Enabled         *bool             `yaml:"enabled"`
	IntervalMinutes int               `yaml:"interval_minutes"`
	Priority        int               `yaml:"priority"`
	Category        string            `yaml:"category"`
	Tags            []string          `yaml:"tags"`
	Config          map[string]string `yaml:"config"`
}

// FilterSpec is one declared filter rule. Condition holds either a single
// condition mapping or, via Conditions, an implicit AND of several.
type FilterSpec struct {
	ID            string           `yaml:"id"`
	Name          string           `yaml:"name"`
	Action        string           `yaml:"action"`
	ActionParams  map[string]any   `yaml:"action_params"`
	Condition     map[string]any   `yaml:"condition"`
	Conditions    []map[string]any `yaml:"conditions"`
	ScoreModifier float64          `yaml:"score_modifier"`
	Priority      int              `yaml:"priority"`
	Enabled       *bool            `yaml:"enabled"`
	SourceIDs     []string         `yaml:"source_ids"`
	Categories    []string         `yaml:"categories"`
}

// ChannelSpec is one declared notification channel.
type ChannelSpec struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Enabled     *bool             `yaml:"enabled"`
	MinSeverity string            `yaml:"min_severity"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
}

// RouteSpec is one declared routing rule.
type RouteSpec struct {
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
	MinSeverity string   `yaml:"min_severity"`
	Channels    []string `yaml:"channels"`
}

type fileSpec struct {
	Sources  []SourceSpec  `yaml:"sources"`
	Filters  []FilterSpec  `yaml:"filters"`
	Channels []ChannelSpec `yaml:"channels"`
	Routing  []RouteSpec   `yaml:"routing"`
}

// Rules is the fully resolved rules file.
type Rules struct {
	Sources  []store.Source
	Filters  []filter.Filter
	Channels []ResolvedChannel
	Routes   []alerting.Route
}

// ResolvedChannel pairs a constructed channel with its severity floor.
type ResolvedChannel struct {
	Channel     alerting.Channel
	MinSeverity alerting.Severity
}

// Load reads and resolves the rules file at path.
func Load(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(raw)
}

// Parse resolves rules from raw YAML.
func Parse(raw []byte) (*Rules, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	rules := &Rules{}

	seen := map[string]struct{}{}
	for idx, src := range spec.Sources {
		resolved, err := resolveSource(src)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", idx, err)
		}
		if _, dup := seen[resolved.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", resolved.ID)
		}
		seen[resolved.ID] = struct{}{}
		rules.Sources = append(rules.Sources, resolved)
	}

	for idx, fs := range spec.Filters {
		resolved, err := resolveFilter(fs)
		if err != nil {
			return nil, fmt.Errorf("filter %d (%s): %w", idx, fs.Name, err)
		}
		rules.Filters = append(rules.Filters, resolved)
	}

	for idx, cs := range spec.Channels {
		resolved, err := resolveChannel(cs)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", idx, cs.Name, err)
		}
		rules.Channels = append(rules.Channels, resolved)
	}

	for idx, rs := range spec.Routing {
		route, err := resolveRoute(rs)
		if err != nil {
			return nil, fmt.Errorf("routing rule %d: %w", idx, err)
		}
		rules.Routes = append(rules.Routes, route)
	}

	return rules, nil
}

func resolveSource(spec SourceSpec) (store.Source, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return store.Source{}, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(spec.Type) == "" {
		return store.Source{}, fmt.Errorf("type is required")
	}

	src := store.Source{
		ID:              id,
		Name:            spec.Name,
		Type:            strings.ToLower(strings.TrimSpace(spec.Type)),
		URL:             spec.URL,
		Enabled:         boolOrDefault(spec.Enabled, true),
		IntervalMinutes: spec.IntervalMinutes,
		Priority:        spec.Priority,
		Category:        strings.ToLower(strings.TrimSpace(spec.Category)),
	}
	if src.Name == "" {
		src.Name = id
	}
	if src.IntervalMinutes < 1 {
		src.IntervalMinutes = 60
	}
	if src.Priority < 1 || src.Priority > 3 {
		src.Priority = 2
	}
	src.SetTags(spec.Tags)
	if len(spec.Config) > 0 {
		if err := src.SetConfig(spec.Config); err != nil {
			return store.Source{}, fmt.Errorf("encode config: %w", err)
		}
	}
	return src, nil
}

func resolveFilter(spec FilterSpec) (filter.Filter, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return filter.Filter{}, fmt.Errorf("name is required")
	}

	var conditionRaw map[string]any
	switch {
	case spec.Condition != nil && len(spec.Conditions) > 0:
		return filter.Filter{}, fmt.Errorf("condition and conditions are mutually exclusive")
	case spec.Condition != nil:
		conditionRaw = spec.Condition
	case len(spec.Conditions) > 0:
		children := make([]any, 0, len(spec.Conditions))
		for _, child := range spec.Conditions {
			children = append(children, child)
		}
		conditionRaw = map[string]any{
			"type":       "compound",
			"logic":      "and",
			"conditions": children,
		}
	default:
		return filter.Filter{}, fmt.Errorf("condition is required")
	}

	condition, err := filter.DecodeCondition(conditionRaw)
	if err != nil {
		return filter.Filter{}, err
	}

	action := filter.Action(strings.ToLower(strings.TrimSpace(spec.Action)))
	if action == "" {
		action = filter.ActionInclude
	}
	switch action {
	case filter.ActionInclude, filter.ActionExclude, filter.ActionHighlight, filter.ActionTag, filter.ActionAlert:
	default:
		return filter.Filter{}, fmt.Errorf("unknown action %q", spec.Action)
	}

	if spec.ScoreModifier < -100 || spec.ScoreModifier > 100 {
		return filter.Filter{}, fmt.Errorf("score_modifier %v out of range [-100, 100]", spec.ScoreModifier)
	}

	id := spec.ID
	if id == "" {
		id = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(spec.Name), " ", "-"))
	}

	return filter.Filter{
		ID:            id,
		Name:          spec.Name,
		Action:        action,
		ActionParams:  spec.ActionParams,
		Conditions:    condition,
		ScoreModifier: spec.ScoreModifier,
		Priority:      spec.Priority,
		Enabled:       boolOrDefault(spec.Enabled, true),
		SourceIDs:     spec.SourceIDs,
		Categories:    spec.Categories,
	}, nil
}

func resolveChannel(spec ChannelSpec) (ResolvedChannel, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return ResolvedChannel{}, fmt.Errorf("name is required")
	}

	minSeverity := alerting.SeverityInfo
	if spec.MinSeverity != "" {
		parsed, err := alerting.ParseSeverity(spec.MinSeverity)
		if err != nil {
			return ResolvedChannel{}, err
		}
		minSeverity = parsed
	}

	enabled := boolOrDefault(spec.Enabled, true)

	var channel alerting.Channel
	switch strings.ToLower(strings.TrimSpace(spec.Type)) {
	case "webhook":
		if spec.URL == "" {
			return ResolvedChannel{}, fmt.Errorf("webhook channel requires url")
		}
		channel = alerting.NewWebhookChannel(name, spec.URL, spec.Headers, enabled)
	case "desktop":
		channel = alerting.NewDesktopChannel(name, enabled)
	default:
		return ResolvedChannel{}, fmt.Errorf("unknown channel type %q", spec.Type)
	}

	return ResolvedChannel{Channel: channel, MinSeverity: minSeverity}, nil
}

func resolveRoute(spec RouteSpec) (alerting.Route, error) {
	if len(spec.Channels) == 0 {
		return alerting.Route{}, fmt.Errorf("channels list is required")
	}

	minSeverity := alerting.SeverityInfo
	if spec.MinSeverity != "" {
		parsed, err := alerting.ParseSeverity(spec.MinSeverity)
		if err != nil {
			return alerting.Route{}, err
		}
		minSeverity = parsed
	}

	return alerting.Route{
		Category:    strings.ToLower(strings.TrimSpace(spec.Category)),
		Tags:        spec.Tags,
		MinSeverity: minSeverity,
		Channels:    spec.Channels,
	}, nil
}

func boolOrDefault(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
