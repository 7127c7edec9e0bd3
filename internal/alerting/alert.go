// Package alerting routes qualifying items to notification channels, with
// burst aggregation and quiet-hours suppression.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Severity is the ordinal alert importance level.
type Severity int

// severityNames is the single source of the severity ordering. Aggregation
// max-severity and routing threshold comparisons are both derived from this
// list; never hardcode the numeric values elsewhere.
var severityNames = []string{"info", "notice", "warning", "critical"}

const (
	SeverityInfo Severity = iota
	SeverityNotice
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity resolves a severity name; unknown names default to info.
func ParseSeverity(raw string) (Severity, error) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	for idx, name := range severityNames {
		if name == needle {
			return Severity(idx), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", raw)
}

// Payload is one alert. Immutable once constructed.
type Payload struct {
	ID         string    `json:"id"`
	Severity   Severity  `json:"severity"`
	Title      string    `json:"title"`
	Message    string    `json:"message,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	ItemURL    string    `json:"item_url,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	Category   string    `json:"category,omitempty"`
	FilterName string    `json:"filter_name,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Aggregated wraps a burst of alerts flushed as one summary. Ephemeral;
// produced only by the aggregator at flush time.
type Aggregated struct {
	Count       int       `json:"count"`
	MaxSeverity Severity  `json:"max_severity"`
	Alerts      []Payload `json:"alerts"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Outgoing is one deliverable: either a single alert or an aggregate.
// Exactly one field is set.
type Outgoing struct {
	Alert     *Payload
	Aggregate *Aggregated
}

// Severity of the deliverable: the alert's own, or the aggregate maximum.
func (o Outgoing) EffectiveSeverity() Severity {
	if o.Aggregate != nil {
		return o.Aggregate.MaxSeverity
	}
	if o.Alert != nil {
		return o.Alert.Severity
	}
	return SeverityInfo
}

// Channel is the outbound notification boundary. Implementations must be
// safe for concurrent Send calls.
type Channel interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, alert Payload) error
}

// BatchChannel is an optional extension for channels with a native summary
// format. The dispatcher falls back to a synthesized single Payload for
// channels that do not implement it.
type BatchChannel interface {
	Channel
	SendBatch(ctx context.Context, aggregate Aggregated) error
}
