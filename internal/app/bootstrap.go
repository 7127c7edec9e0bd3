package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/cli"
	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/config"
	"horse.fit/sentinel/internal/filter"
	"horse.fit/sentinel/internal/logging"
	"horse.fit/sentinel/internal/preference"
	"horse.fit/sentinel/internal/report"
	"horse.fit/sentinel/internal/rules"
	"horse.fit/sentinel/internal/scheduler"
	"horse.fit/sentinel/internal/store"
)

// loadEnvironment loads the .env file, the config, and the logger. A missing
// .env file is a warning, not a failure.
func loadEnvironment(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("initialize logger: %w", err)
	}

	return cfg, logger, nil
}

// runtime is the fully wired processing stack shared by the long-running
// commands.
type runtime struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      *store.Store
	rules      *rules.Rules
	engine     *filter.Engine
	learner    *preference.Learner
	dispatcher *alerting.Dispatcher
	pipeline   *scheduler.Pipeline
	orch       *scheduler.Orchestrator
	pushes     *collector.PushBuffer
}

// buildRuntime opens the store, loads the rules file, syncs declared
// sources, and wires the pipeline end to end.
func buildRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	loaded, err := rules.Load(cfg.RulesPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load rules: %w", err)
	}

	for idx := range loaded.Sources {
		source := loaded.Sources[idx]
		if err := st.UpsertSource(ctx, &source); err != nil {
			st.Close()
			return nil, fmt.Errorf("sync source %s: %w", source.ID, err)
		}
	}

	engine := filter.NewEngine(loaded.Filters, filter.NewEvaluator(), logger)
	learner := preference.NewLearner(cfg.Learning, st, logger)

	var aggregator *alerting.Aggregator
	if cfg.Aggregation.Enabled {
		aggregator = alerting.NewAggregator(cfg.Aggregation.Window(), cfg.Aggregation.MaxAlertsPerWindow)
	}
	quiet := alerting.NewQuietHours(cfg.QuietHours)

	dispatcher := alerting.NewDispatcher(logger, st, quiet, loaded.Routes, aggregator)
	for _, resolved := range loaded.Channels {
		dispatcher.RegisterChannel(resolved.Channel, resolved.MinSeverity)
	}

	pushes := collector.NewPushBuffer()
	collector.Register(collector.PushSourceType, pushes.Factory)

	pipeline := scheduler.NewPipeline(cfg, st, engine, learner, dispatcher, logger)
	reports := report.NewGenerator(st, dispatcher, true, logger)
	orch := scheduler.NewOrchestrator(cfg, st, pipeline, dispatcher, learner, reports, logger)

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		rules:      loaded,
		engine:     engine,
		learner:    learner,
		dispatcher: dispatcher,
		pipeline:   pipeline,
		orch:       orch,
		pushes:     pushes,
	}, nil
}

func (r *runtime) Close() {
	if r == nil || r.store == nil {
		return
	}
	r.store.Close()
}
