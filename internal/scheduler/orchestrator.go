package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/config"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/preference"
	"horse.fit/sentinel/internal/store"
)

// Maintenance cadences. Collection cadence is per-source; these are global.
const (
	batchLearningInterval = 4 * time.Hour
	decayInterval         = 24 * time.Hour
	retentionInterval     = 24 * time.Hour
	reportInterval        = 24 * time.Hour
)

// ReportGenerator produces and persists one collection report.
type ReportGenerator interface {
	Generate(ctx context.Context) error
}

// Orchestrator runs one recurring collection job per enabled source plus
// the global maintenance jobs. Per-source runs are coalesced: a trigger
// while a run for the same source is still in flight is dropped. A fixed
// permit pool bounds how many collections execute at once.
type Orchestrator struct {
	cfg        *config.Config
	store      *store.Store
	pipeline   *Pipeline
	dispatcher *alerting.Dispatcher
	learner    *preference.Learner
	reports    ReportGenerator
	logger     zerolog.Logger

	permits *semaphore.Weighted

	// baseCtx is the context triggered runs execute under. Triggers can
	// arrive from short-lived callers such as HTTP handlers, so a run
	// must not inherit the caller's context.
	baseCtx context.Context

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup

	lastBatchLearning time.Time
	lastDecay         time.Time
	lastRetention     time.Time
	lastReport        time.Time
}

// NewOrchestrator builds an orchestrator. reports may be nil to disable
// report generation.
func NewOrchestrator(cfg *config.Config, st *store.Store, pipeline *Pipeline, dispatcher *alerting.Dispatcher, learner *preference.Learner, reports ReportGenerator, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		learner:    learner,
		reports:    reports,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		permits:    semaphore.NewWeighted(int64(cfg.MaxConcurrentCollectors)),
		baseCtx:    context.Background(),
		inFlight:   map[string]struct{}{},
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight jobs and
// flushes the dispatcher.
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Info().
		Int("max_concurrent", o.cfg.MaxConcurrentCollectors).
		Dur("check_interval", o.cfg.SchedulerCheckInterval()).
		Msg("orchestrator started")

	ticker := time.NewTicker(o.cfg.SchedulerCheckInterval())
	defer ticker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("orchestrator stopping")
			o.Wait()
			o.dispatcher.Flush(context.Background())
			o.logger.Info().Msg("orchestrator stopped")
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick checks for due sources and due maintenance jobs.
func (o *Orchestrator) tick(ctx context.Context) {
	sources, err := o.store.ListEnabledSources(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("list enabled sources failed")
	} else {
		now := globaltime.UTC()
		for idx := range sources {
			source := sources[idx]
			if !sourceDue(&source, now) {
				continue
			}
			o.TriggerSource(source.ID)
		}
	}

	o.dispatcher.FlushExpired(ctx)
	o.runDueMaintenance(ctx)
}

func sourceDue(source *store.Source, now time.Time) bool {
	if source.LastCheck == nil {
		return true
	}
	interval := time.Duration(source.IntervalMinutes) * time.Minute
	return now.Sub(*source.LastCheck) >= interval
}

// TriggerSource starts a collection run for the source unless one is
// already in flight; a dropped trigger returns false. The run executes
// under the orchestrator's own lifecycle, so it keeps going after the
// caller returns. Wait blocks until started runs finish.
func (o *Orchestrator) TriggerSource(sourceID string) bool {
	o.mu.Lock()
	if _, running := o.inFlight[sourceID]; running {
		o.mu.Unlock()
		o.logger.Debug().Str("source", sourceID).Msg("run already in flight, trigger dropped")
		return false
	}
	o.inFlight[sourceID] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.inFlight, sourceID)
			o.mu.Unlock()
		}()
		o.runSource(o.baseCtx, sourceID)
	}()
	return true
}

// Wait blocks until every in-flight collection run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// CollectOnce runs one synchronous collection cycle: every enabled source,
// or just the named one. Used by the run-once command.
func (o *Orchestrator) CollectOnce(ctx context.Context, sourceID string) error {
	if sourceID != "" {
		o.runSource(ctx, sourceID)
		o.dispatcher.Flush(ctx)
		return nil
	}

	sources, err := o.store.ListEnabledSources(ctx)
	if err != nil {
		return fmt.Errorf("list enabled sources: %w", err)
	}
	for idx := range sources {
		o.runSource(ctx, sources[idx].ID)
	}
	o.dispatcher.Flush(ctx)
	return nil
}

// runSource executes one collection run under a permit. Any failure is
// recorded on the source's status row and never propagates.
func (o *Orchestrator) runSource(ctx context.Context, sourceID string) {
	if err := o.permits.Acquire(ctx, 1); err != nil {
		o.logger.Debug().Str("source", sourceID).Msg("shutdown before permit acquired")
		return
	}
	defer o.permits.Release(1)

	started := globaltime.UTC()
	stats, err := o.collect(ctx, sourceID)
	finished := globaltime.UTC()

	if err != nil {
		o.logger.Error().
			Err(err).
			Str("source", sourceID).
			Msg("collection run failed")
		if recErr := o.store.RecordSourceFailure(ctx, sourceID, finished, err.Error()); recErr != nil {
			o.logger.Error().Err(recErr).Str("source", sourceID).Msg("record source failure failed")
		}
		return
	}

	if recErr := o.store.RecordSourceSuccess(ctx, sourceID, finished); recErr != nil {
		o.logger.Error().Err(recErr).Str("source", sourceID).Msg("record source success failed")
	}
	o.logger.Info().
		Str("source", sourceID).
		Int("saved", stats.Saved).
		Dur("elapsed", finished.Sub(started)).
		Msg("collection run finished")
}

func (o *Orchestrator) collect(ctx context.Context, sourceID string) (BatchStats, error) {
	// Reload the source so a run always sees current settings.
	source, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		return BatchStats{}, fmt.Errorf("reload source: %w", err)
	}
	if !source.Enabled {
		return BatchStats{}, nil
	}

	coll, err := collector.ForSource(source)
	if err != nil {
		return BatchStats{}, err
	}

	var items []collector.Item
	err = coll.Collect(ctx, func(item collector.Item) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return BatchStats{}, err
	}

	return o.pipeline.ProcessBatch(ctx, source, items)
}

// runDueMaintenance fires whichever maintenance jobs are due, each isolated
// so one failing job never blocks the others.
func (o *Orchestrator) runDueMaintenance(ctx context.Context) {
	now := globaltime.UTC()

	if o.cfg.Learning.Enabled && now.Sub(o.lastBatchLearning) >= batchLearningInterval {
		o.lastBatchLearning = now
		if count, err := o.learner.RunBatchLearning(ctx); err != nil {
			o.logger.Error().Err(err).Msg("batch learning failed")
		} else if count > 0 {
			o.logger.Info().Int("items", count).Msg("batch learning applied implicit ignores")
		}
	}

	if o.cfg.Learning.Enabled && now.Sub(o.lastDecay) >= decayInterval {
		o.lastDecay = now
		if decayed, pruned, err := o.learner.ApplyDecay(ctx); err != nil {
			o.logger.Error().Err(err).Msg("preference decay failed")
		} else {
			o.logger.Info().Int("decayed", decayed).Int("pruned", pruned).Msg("preference decay applied")
		}
	}

	if now.Sub(o.lastRetention) >= retentionInterval {
		o.lastRetention = now
		o.runRetention(ctx)
	}

	if o.reports != nil && now.Sub(o.lastReport) >= reportInterval {
		o.lastReport = now
		if err := o.reports.Generate(ctx); err != nil {
			o.logger.Error().Err(err).Msg("report generation failed")
		}
	}
}

// runRetention deletes expired items and alerts, then compacts the
// database file.
func (o *Orchestrator) runRetention(ctx context.Context) {
	cutoff := globaltime.UTC().AddDate(0, 0, -o.cfg.RetentionDays)

	items, err := o.store.DeleteItemsBefore(ctx, cutoff)
	if err != nil {
		o.logger.Error().Err(err).Msg("item retention cleanup failed")
	}
	alerts, err := o.store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		o.logger.Error().Err(err).Msg("alert retention cleanup failed")
	}

	if err := o.store.Vacuum(ctx); err != nil {
		o.logger.Error().Err(err).Msg("database compaction failed")
	}

	o.logger.Info().
		Int64("items_deleted", items).
		Int64("alerts_deleted", alerts).
		Time("cutoff", cutoff).
		Msg("retention cleanup finished")
}
