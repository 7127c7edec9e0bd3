package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"horse.fit/sentinel/internal/cli"
)

func runCollect(args []string) int {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourceID := fs.String("source", "", "Collect only this source id")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "collect does not accept positional args")
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
		logger.Error().Err(err).Msg("collect failed to build runtime")
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer rt.Close()

	if err := rt.orch.CollectOnce(ctx, *sourceID); err != nil {
		logger.Error().Err(err).Msg("collection cycle failed")
		fmt.Fprintf(os.Stderr, "Collection cycle failed: %v\n", err)
		return 1
	}

	logger.Info().Msg("collection cycle finished")
	return 0
}
