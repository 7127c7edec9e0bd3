// Package filter evaluates rule trees against collected items and
// accumulates their actions: include, exclude, highlight, tag, alert.
package filter

import (
	"fmt"
	"strings"
)

// Condition is one node of a rule tree. The concrete types below form a
// closed set; Evaluate dispatches over them exhaustively.
type Condition interface {
	kind() string
}

// KeywordCondition is a field-scoped substring test over a keyword list.
type KeywordCondition struct {
	Field         string // all, title, content, author, url
	Operator      string // contains, not_contains, starts_with, ends_with, equals
	Keywords      []string
	CaseSensitive bool
}

func (KeywordCondition) kind() string { return "keywords" }

// RegexCondition tests a compiled pattern against a field.
type RegexCondition struct {
	Field         string
	Operator      string // matches, not_matches
	Pattern       string
	CaseSensitive bool
}

func (RegexCondition) kind() string { return "regex" }

// CompoundCondition combines child conditions with AND or OR.
type CompoundCondition struct {
	Logic    string // and, or
	Children []Condition
}

func (CompoundCondition) kind() string { return "compound" }

// CustomCondition invokes a registered predicate by name.
type CustomCondition struct {
	Function string
	Params   map[string]any
}

func (CustomCondition) kind() string { return "custom" }

// DecodeCondition converts the loosely-typed map shape used in rule files
// (and kept for configuration compatibility) into the typed tree. The map
// shape is: {"type": ..., "field": ..., "operator": ..., "value": ...,
// "case_sensitive": ..., "logic": ..., "conditions": [...],
// "function": ..., "params": {...}}.
func DecodeCondition(raw map[string]any) (Condition, error) {
	if raw == nil {
		return nil, fmt.Errorf("condition is empty")
	}

	condType := strings.ToLower(strings.TrimSpace(stringValue(raw["type"])))
	if condType == "" {
		// A bare keyword list is the most common rule; default like the
		// original configuration loader did.
		condType = "keywords"
	}

	switch condType {
	case "keywords":
		keywords, err := stringSliceValue(raw["value"])
		if err != nil {
			return nil, fmt.Errorf("keywords condition: %w", err)
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("keywords condition has no keywords")
		}
		cond := KeywordCondition{
			Field:         defaultString(stringValue(raw["field"]), "all"),
			Operator:      defaultString(stringValue(raw["operator"]), "contains"),
			Keywords:      keywords,
			CaseSensitive: boolValue(raw["case_sensitive"]),
		}
		return cond, nil

	case "regex":
		pattern := stringValue(raw["value"])
		if strings.TrimSpace(pattern) == "" {
			return nil, fmt.Errorf("regex condition has no pattern")
		}
		cond := RegexCondition{
			Field:         defaultString(stringValue(raw["field"]), "all"),
			Operator:      defaultString(stringValue(raw["operator"]), "matches"),
			Pattern:       pattern,
			CaseSensitive: boolValue(raw["case_sensitive"]),
		}
		return cond, nil

	case "compound":
		rawChildren, ok := raw["conditions"].([]any)
		if !ok || len(rawChildren) == 0 {
			return nil, fmt.Errorf("compound condition has no children")
		}
		children := make([]Condition, 0, len(rawChildren))
		for idx, rawChild := range rawChildren {
			childMap, err := mapValue(rawChild)
			if err != nil {
				return nil, fmt.Errorf("compound child %d: %w", idx, err)
			}
			child, err := DecodeCondition(childMap)
			if err != nil {
				return nil, fmt.Errorf("compound child %d: %w", idx, err)
			}
			children = append(children, child)
		}
		logic := strings.ToLower(defaultString(stringValue(raw["logic"]), "and"))
		if logic != "and" && logic != "or" {
			return nil, fmt.Errorf("compound logic %q must be and/or", logic)
		}
		return CompoundCondition{Logic: logic, Children: children}, nil

	case "custom":
		function := strings.TrimSpace(stringValue(raw["function"]))
		if function == "" {
			return nil, fmt.Errorf("custom condition has no function name")
		}
		params, _ := raw["params"].(map[string]any)
		return CustomCondition{Function: function, Params: params}, nil

	default:
		return nil, fmt.Errorf("unknown condition type %q", condType)
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func boolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

func stringSliceValue(v any) ([]string, error) {
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil, nil
		}
		return []string{typed}, nil
	case []string:
		return typed, nil
	case []any:
		values := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("value entry %v is not a string", entry)
			}
			values = append(values, s)
		}
		return values, nil
	default:
		return nil, fmt.Errorf("value %v is not a string or list", v)
	}
}

func mapValue(v any) (map[string]any, error) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, nil
	case map[any]any:
		// yaml.v3 decodes nested maps with any keys in some shapes.
		converted := make(map[string]any, len(typed))
		for key, value := range typed {
			keyStr, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("map key %v is not a string", key)
			}
			converted[keyStr] = value
		}
		return converted, nil
	default:
		return nil, fmt.Errorf("condition %v is not a map", v)
	}
}
