package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/cli"
	"horse.fit/sentinel/internal/globaltime"
)

func runTestAlert(args []string) int {
	fs := flag.NewFlagSet("test-alert", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	severityFlag := fs.String("severity", "info", "Alert severity (info, notice, warning, critical)")
	title := fs.String("title", "Test alert", "Alert title")
	message := fs.String("message", "Dispatcher connectivity test", "Alert message")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	severity, err := alerting.ParseSeverity(*severityFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, logger, err := loadEnvironment(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("test-alert failed to build runtime")
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer rt.Close()

	payload := alerting.Payload{
		ID:        uuid.NewString(),
		Severity:  severity,
		Title:     *title,
		Message:   *message,
		CreatedAt: globaltime.UTC(),
	}
	if err := rt.dispatcher.Dispatch(ctx, payload); err != nil {
		logger.Error().Err(err).Msg("test alert dispatch failed")
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		return 1
	}
	rt.dispatcher.Flush(ctx)

	fmt.Printf("Test alert %s dispatched at severity %s\n", payload.ID, severity)
	return 0
}
