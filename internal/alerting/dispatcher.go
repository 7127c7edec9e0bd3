package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/store"
)

// Route directs alerts matching a category/tag predicate at or above a
// severity threshold to the named channels. Multiple matching routes are
// cumulative: the target set is the union of their channel lists.
type Route struct {
	Category    string
	Tags        []string
	MinSeverity Severity
	Channels    []string
}

// matches reports whether the alert selects this route. The predicate is a
// disjunction: the category matches OR any tag intersects. A route with
// neither constraint matches every alert at or above its threshold.
func (r Route) matches(alert Payload) bool {
	if alert.Severity < r.MinSeverity {
		return false
	}
	if r.Category == "" && len(r.Tags) == 0 {
		return true
	}
	if r.Category != "" && r.Category == alert.Category {
		return true
	}
	return len(r.Tags) > 0 && anyTagOverlap(r.Tags, alert.Tags)
}

func anyTagOverlap(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

// Recorder persists the audit trail of dispatched and suppressed alerts.
// *store.Store satisfies it.
type Recorder interface {
	SaveAlert(ctx context.Context, alert *store.Alert) error
	MarkAlertsDispatched(ctx context.Context, ids []string, at time.Time) error
}

type registeredChannel struct {
	channel     Channel
	minSeverity Severity
}

// Dispatcher owns the fan-out of alerts to notification channels. It applies
// quiet-hours suppression first, then burst aggregation, then routing, and
// delivers to all resolved channels concurrently. A failing channel never
// blocks delivery to the others.
type Dispatcher struct {
	logger   zerolog.Logger
	recorder Recorder
	quiet    QuietHours
	routes   []Route

	mu         sync.Mutex
	aggregator *Aggregator
	channels   []registeredChannel
}

// NewDispatcher builds a dispatcher. A nil aggregator disables aggregation
// and every alert is delivered immediately.
func NewDispatcher(logger zerolog.Logger, recorder Recorder, quiet QuietHours, routes []Route, aggregator *Aggregator) *Dispatcher {
	return &Dispatcher{
		logger:     logger.With().Str("component", "dispatcher").Logger(),
		recorder:   recorder,
		quiet:      quiet,
		routes:     routes,
		aggregator: aggregator,
	}
}

// RegisterChannel adds a delivery target. minSeverity gates fallback
// delivery only; an alert an explicit route sends to the channel is
// delivered at any severity.
func (d *Dispatcher) RegisterChannel(channel Channel, minSeverity Severity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, registeredChannel{channel: channel, minSeverity: minSeverity})
}

// Dispatch accepts one alert for delivery. Suppressed and dispatched alerts
// are both persisted for the audit trail; only persistence failures surface
// as errors. DispatchedAt is stamped at delivery, so an alert buffered for
// aggregation carries a nil DispatchedAt until its window flushes.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Payload) error {
	if alert.ID == "" || alert.CreatedAt.IsZero() {
		return fmt.Errorf("alert missing id or created_at")
	}

	if d.quiet.Suppresses(globaltime.Local(), alert.Severity) {
		d.logger.Debug().
			Str("alert_id", alert.ID).
			Str("severity", alert.Severity.String()).
			Msg("alert suppressed by quiet hours")
		return d.record(ctx, alert, true)
	}

	if d.aggregator == nil {
		if err := d.record(ctx, alert, false); err != nil {
			return err
		}
		d.deliver(ctx, []Outgoing{{Alert: &alert}})
		return nil
	}

	d.mu.Lock()
	out := d.aggregator.Add(alert)
	pending := d.aggregator.Pending()
	d.mu.Unlock()

	if err := d.record(ctx, alert, false); err != nil {
		return err
	}
	if len(out) == 0 {
		d.logger.Debug().
			Str("alert_id", alert.ID).
			Int("pending", pending).
			Msg("alert buffered for aggregation")
		return nil
	}
	d.deliver(ctx, out)
	return nil
}

// Flush drains the aggregation window, delivering whatever is pending. Call
// at shutdown.
func (d *Dispatcher) Flush(ctx context.Context) {
	if d.aggregator == nil {
		return
	}
	d.mu.Lock()
	out := d.aggregator.Flush()
	d.mu.Unlock()
	d.deliver(ctx, out)
}

// FlushExpired delivers the pending window if its time is up. The
// orchestrator calls this on its check tick.
func (d *Dispatcher) FlushExpired(ctx context.Context) {
	if d.aggregator == nil {
		return
	}
	d.mu.Lock()
	out := d.aggregator.FlushExpired()
	d.mu.Unlock()
	d.deliver(ctx, out)
}

func (d *Dispatcher) record(ctx context.Context, alert Payload, suppressed bool) error {
	if d.recorder == nil {
		return nil
	}
	rec := &store.Alert{
		ID:         alert.ID,
		Severity:   alert.Severity.String(),
		Title:      alert.Title,
		Message:    alert.Message,
		ItemID:     alert.ItemID,
		SourceID:   alert.SourceID,
		FilterName: alert.FilterName,
		CreatedAt:  alert.CreatedAt,
		Suppressed: suppressed,
	}
	if len(alert.Tags) > 0 {
		if raw, err := json.Marshal(alert.Tags); err == nil {
			rec.TagsJSON = string(raw)
		}
	}
	if err := d.recorder.SaveAlert(ctx, rec); err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}

func (d *Dispatcher) markDispatched(ctx context.Context, out Outgoing, at time.Time) {
	if d.recorder == nil {
		return
	}
	var ids []string
	if out.Aggregate != nil {
		for idx := range out.Aggregate.Alerts {
			ids = append(ids, out.Aggregate.Alerts[idx].ID)
		}
	} else if out.Alert != nil {
		ids = []string{out.Alert.ID}
	}
	if len(ids) == 0 {
		return
	}
	if err := d.recorder.MarkAlertsDispatched(ctx, ids, at); err != nil {
		d.logger.Error().Err(err).Msg("mark alerts dispatched failed")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, outgoing []Outgoing) {
	for _, out := range outgoing {
		targets := d.resolveTargets(out)
		if len(targets) == 0 {
			d.logger.Debug().
				Str("severity", out.EffectiveSeverity().String()).
				Msg("no channels resolved for alert")
			continue
		}
		d.markDispatched(ctx, out, globaltime.UTC())

		var wg sync.WaitGroup
		for _, target := range targets {
			wg.Add(1)
			go func(ch Channel) {
				defer wg.Done()
				if err := d.send(ctx, ch, out); err != nil {
					d.logger.Error().
						Err(err).
						Str("channel", ch.Name()).
						Str("severity", out.EffectiveSeverity().String()).
						Msg("channel delivery failed")
					return
				}
				d.logger.Info().
					Str("channel", ch.Name()).
					Str("severity", out.EffectiveSeverity().String()).
					Msg("alert delivered")
			}(target)
		}
		wg.Wait()
	}
}

func (d *Dispatcher) send(ctx context.Context, channel Channel, out Outgoing) error {
	if out.Aggregate != nil {
		if batch, ok := channel.(BatchChannel); ok {
			return batch.SendBatch(ctx, *out.Aggregate)
		}
		return channel.Send(ctx, summarize(*out.Aggregate))
	}
	return channel.Send(ctx, *out.Alert)
}

// resolveTargets computes the channel set for a deliverable. Routes that
// match contribute their channels cumulatively; when no route matches (or
// none are configured) every registered channel is a candidate and its own
// minimum severity applies. Channel enablement always applies.
func (d *Dispatcher) resolveTargets(out Outgoing) []Channel {
	severity := out.EffectiveSeverity()

	d.mu.Lock()
	channels := make([]registeredChannel, len(d.channels))
	copy(channels, d.channels)
	d.mu.Unlock()

	allowed := d.routedNames(out)

	var targets []Channel
	for _, reg := range channels {
		if !reg.channel.Enabled() {
			continue
		}
		if allowed != nil {
			// Routed explicitly; only enablement gates the send.
			if _, ok := allowed[reg.channel.Name()]; ok {
				targets = append(targets, reg.channel)
			}
			continue
		}
		// Fallback path: the channel's own threshold applies.
		if severity >= reg.minSeverity {
			targets = append(targets, reg.channel)
		}
	}
	return targets
}

// routedNames returns the union of channel names from matching routes, or
// nil when routing does not constrain the target set.
func (d *Dispatcher) routedNames(out Outgoing) map[string]struct{} {
	if len(d.routes) == 0 {
		return nil
	}

	alerts := []Payload{}
	if out.Alert != nil {
		alerts = append(alerts, *out.Alert)
	} else if out.Aggregate != nil {
		alerts = out.Aggregate.Alerts
	}

	names := make(map[string]struct{})
	matched := false
	for _, route := range d.routes {
		for _, alert := range alerts {
			if route.matches(alert) {
				matched = true
				for _, name := range route.Channels {
					names[name] = struct{}{}
				}
				break
			}
		}
	}
	if !matched {
		return nil
	}
	return names
}

// summarize converts an aggregate into a single payload for channels without
// native batch support.
func summarize(agg Aggregated) Payload {
	titles := ""
	limit := len(agg.Alerts)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		titles += "- " + agg.Alerts[i].Title + "\n"
	}
	if len(agg.Alerts) > limit {
		titles += fmt.Sprintf("... and %d more\n", len(agg.Alerts)-limit)
	}

	return Payload{
		ID:        agg.Alerts[0].ID,
		Severity:  agg.MaxSeverity,
		Title:     fmt.Sprintf("%d alerts since %s", agg.Count, agg.WindowStart.Format("15:04")),
		Message:   titles,
		CreatedAt: agg.WindowEnd,
	}
}
