package alerting

import (
	"time"

	"horse.fit/sentinel/internal/globaltime"
)

// individualFlushLimit is the pending count at or under which a flush emits
// alerts one by one instead of wrapping them in an aggregate.
const individualFlushLimit = 3

// Aggregator buffers alerts inside a fixed time window and flushes them
// either individually (small windows) or as one Aggregated summary (bursts).
// It is a single logical instance per process; callers synchronize access
// externally (the dispatcher holds its own mutex).
type Aggregator struct {
	window       time.Duration
	maxPerWindow int

	pending     []Payload
	windowStart time.Time
}

// NewAggregator builds an aggregator with the given window length and
// maximum pending count.
func NewAggregator(window time.Duration, maxPerWindow int) *Aggregator {
	return &Aggregator{window: window, maxPerWindow: maxPerWindow}
}

// Add buffers one alert. If the current window has expired, the previous
// window is flushed first and a new window starts with only the new alert.
// If the pending count reaches the per-window maximum, the window flushes
// immediately. The returned slice holds whatever became deliverable; nil
// while still collecting.
func (a *Aggregator) Add(alert Payload) []Outgoing {
	now := globaltime.UTC()

	var flushed []Outgoing
	if len(a.pending) > 0 && now.Sub(a.windowStart) >= a.window {
		flushed = a.flush(now)
	}

	if len(a.pending) == 0 {
		a.windowStart = now
	}
	a.pending = append(a.pending, alert)

	if len(a.pending) >= a.maxPerWindow {
		flushed = append(flushed, a.flush(now)...)
	}

	return flushed
}

// Flush drains any still-pending alerts, e.g. at shutdown.
func (a *Aggregator) Flush() []Outgoing {
	return a.flush(globaltime.UTC())
}

// FlushExpired flushes the pending window only once it has run past its
// length, so buffered alerts drain even when no new alert arrives to
// trigger the expiry check in Add.
func (a *Aggregator) FlushExpired() []Outgoing {
	now := globaltime.UTC()
	if len(a.pending) == 0 || now.Sub(a.windowStart) < a.window {
		return nil
	}
	return a.flush(now)
}

// Pending reports the number of buffered alerts.
func (a *Aggregator) Pending() int {
	return len(a.pending)
}

func (a *Aggregator) flush(now time.Time) []Outgoing {
	if len(a.pending) == 0 {
		return nil
	}

	pending := a.pending
	windowStart := a.windowStart
	a.pending = nil

	if len(pending) <= individualFlushLimit {
		out := make([]Outgoing, 0, len(pending))
		for idx := range pending {
			alert := pending[idx]
			out = append(out, Outgoing{Alert: &alert})
		}
		return out
	}

	maxSeverity := SeverityInfo
	for _, alert := range pending {
		if alert.Severity > maxSeverity {
			maxSeverity = alert.Severity
		}
	}

	return []Outgoing{{Aggregate: &Aggregated{
		Count:       len(pending),
		MaxSeverity: maxSeverity,
		Alerts:      pending,
		WindowStart: windowStart,
		WindowEnd:   now,
	}}}
}
