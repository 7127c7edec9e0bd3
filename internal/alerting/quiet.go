package alerting

import (
	"time"

	"horse.fit/sentinel/internal/config"
)

// QuietHours suppresses non-critical alerts inside a configured local
// time-of-day range, supporting overnight wrap when start > end.
type QuietHours struct {
	enabled           bool
	start             config.Clock
	end               config.Clock
	bypassForCritical bool
}

// NewQuietHours builds the suppression window from configuration. Invalid
// clock strings disable quiet hours entirely.
func NewQuietHours(cfg config.QuietHoursConfig) QuietHours {
	start, startErr := config.ParseClock(cfg.Start)
	end, endErr := config.ParseClock(cfg.End)
	if startErr != nil || endErr != nil {
		return QuietHours{}
	}
	return QuietHours{
		enabled:           cfg.Enabled,
		start:             start,
		end:               end,
		bypassForCritical: cfg.BypassForCritical,
	}
}

// Suppresses reports whether an alert of the given severity is suppressed
// at the given local time.
func (q QuietHours) Suppresses(at time.Time, severity Severity) bool {
	if !q.enabled {
		return false
	}
	if severity == SeverityCritical && q.bypassForCritical {
		return false
	}

	minutes := at.Hour()*60 + at.Minute()
	start := q.start.Minutes()
	end := q.end.Minutes()

	if start <= end {
		// Same-day range [start, end).
		return minutes >= start && minutes < end
	}
	// Overnight wrap, e.g. 22:00..07:00.
	return minutes >= start || minutes < end
}
