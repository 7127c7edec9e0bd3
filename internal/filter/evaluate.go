package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"horse.fit/sentinel/internal/collector"
)

// CustomFunc is a registered predicate receiving the item and the rule's
// parameters. Errors are non-fatal to filtering.
type CustomFunc func(item collector.Item, params map[string]any) (bool, error)

// Evaluator walks condition trees. It caches compiled regexes and holds the
// custom predicate registry. Safe for concurrent use.
type Evaluator struct {
	mu      sync.RWMutex
	regexes map[string]*regexp.Regexp
	custom  map[string]CustomFunc
}

// NewEvaluator returns an evaluator with an empty custom registry.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		regexes: map[string]*regexp.Regexp{},
		custom:  map[string]CustomFunc{},
	}
}

// RegisterCustom installs a named predicate for custom conditions.
func (e *Evaluator) RegisterCustom(name string, fn CustomFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[strings.ToLower(strings.TrimSpace(name))] = fn
}

// Evaluate reports whether the condition matches the item. On a match, the
// returned field/value identify what matched, for diagnostics. Errors mean
// the condition could not be evaluated (bad regex, unknown function); the
// caller logs and treats them as no-match.
func (e *Evaluator) Evaluate(item collector.Item, cond Condition) (matched bool, field, value string, err error) {
	switch typed := cond.(type) {
	case KeywordCondition:
		return e.evaluateKeywords(item, typed)
	case RegexCondition:
		return e.evaluateRegex(item, typed)
	case CompoundCondition:
		return e.evaluateCompound(item, typed)
	case CustomCondition:
		return e.evaluateCustom(item, typed)
	case nil:
		return false, "", "", fmt.Errorf("condition is nil")
	default:
		return false, "", "", fmt.Errorf("unknown condition type %q", cond.kind())
	}
}

func (e *Evaluator) evaluateKeywords(item collector.Item, cond KeywordCondition) (bool, string, string, error) {
	fields := fieldValues(item, cond.Field)
	if len(fields) == 0 {
		return false, "", "", nil
	}

	fold := func(s string) string {
		if cond.CaseSensitive {
			return s
		}
		return strings.ToLower(s)
	}

	operator := strings.ToLower(strings.TrimSpace(cond.Operator))
	if operator == "" {
		operator = "contains"
	}

	if operator == "not_contains" {
		// Matches only when every keyword is absent from every field; this
		// is deliberately all-or-nothing, not a per-keyword negation.
		for _, keyword := range cond.Keywords {
			needle := fold(keyword)
			for _, fv := range fields {
				if strings.Contains(fold(fv.value), needle) {
					return false, "", "", nil
				}
			}
		}
		return true, cond.Field, "", nil
	}

	for _, keyword := range cond.Keywords {
		needle := fold(keyword)
		for _, fv := range fields {
			haystack := fold(fv.value)
			var hit bool
			switch operator {
			case "contains":
				hit = strings.Contains(haystack, needle)
			case "starts_with":
				hit = strings.HasPrefix(haystack, needle)
			case "ends_with":
				hit = strings.HasSuffix(haystack, needle)
			case "equals":
				hit = haystack == needle
			default:
				return false, "", "", fmt.Errorf("unknown keyword operator %q", cond.Operator)
			}
			if hit {
				return true, fv.name, keyword, nil
			}
		}
	}
	return false, "", "", nil
}

func (e *Evaluator) evaluateRegex(item collector.Item, cond RegexCondition) (bool, string, string, error) {
	pattern, err := e.compile(cond.Pattern, cond.CaseSensitive)
	if err != nil {
		return false, "", "", fmt.Errorf("compile pattern %q: %w", cond.Pattern, err)
	}

	operator := strings.ToLower(strings.TrimSpace(cond.Operator))
	if operator == "" {
		operator = "matches"
	}

	fields := fieldValues(item, cond.Field)
	switch operator {
	case "matches":
		for _, fv := range fields {
			if found := pattern.FindString(fv.value); found != "" {
				return true, fv.name, found, nil
			}
		}
		return false, "", "", nil
	case "not_matches":
		for _, fv := range fields {
			if pattern.MatchString(fv.value) {
				return false, "", "", nil
			}
		}
		return true, cond.Field, "", nil
	default:
		return false, "", "", fmt.Errorf("unknown regex operator %q", cond.Operator)
	}
}

func (e *Evaluator) evaluateCompound(item collector.Item, cond CompoundCondition) (bool, string, string, error) {
	if len(cond.Children) == 0 {
		return false, "", "", fmt.Errorf("compound condition has no children")
	}

	// The first matching child's field/value is surfaced for diagnostics.
	var firstField, firstValue string
	matchedAny := false
	matchedAll := true

	for _, child := range cond.Children {
		matched, field, value, err := e.Evaluate(item, child)
		if err != nil {
			return false, "", "", err
		}
		if matched {
			if !matchedAny {
				firstField, firstValue = field, value
			}
			matchedAny = true
		} else {
			matchedAll = false
		}
	}

	switch cond.Logic {
	case "or":
		return matchedAny, firstField, firstValue, nil
	default: // and
		if matchedAll {
			return true, firstField, firstValue, nil
		}
		return false, "", "", nil
	}
}

func (e *Evaluator) evaluateCustom(item collector.Item, cond CustomCondition) (bool, string, string, error) {
	e.mu.RLock()
	fn, ok := e.custom[strings.ToLower(cond.Function)]
	e.mu.RUnlock()
	if !ok {
		return false, "", "", fmt.Errorf("unknown custom function %q", cond.Function)
	}

	matched, err := fn(item, cond.Params)
	if err != nil {
		return false, "", "", fmt.Errorf("custom function %q: %w", cond.Function, err)
	}
	if matched {
		return true, "custom", cond.Function, nil
	}
	return false, "", "", nil
}

func (e *Evaluator) compile(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	key := pattern
	if !caseSensitive {
		key = "(?i)" + pattern
	}

	e.mu.RLock()
	compiled, ok := e.regexes[key]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := regexp.Compile(key)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.regexes[key] = compiled
	e.mu.Unlock()
	return compiled, nil
}

type fieldValue struct {
	name  string
	value string
}

func fieldValues(item collector.Item, field string) []fieldValue {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "title":
		return []fieldValue{{"title", item.Title}}
	case "content":
		return []fieldValue{{"content", item.Content}}
	case "author":
		return []fieldValue{{"author", item.Author}}
	case "url":
		return []fieldValue{{"url", item.URL}}
	default: // all
		return []fieldValue{
			{"title", item.Title},
			{"content", item.Content},
			{"summary", item.Summary},
			{"author", item.Author},
			{"url", item.URL},
		}
	}
}
