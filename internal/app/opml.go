package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"horse.fit/sentinel/internal/cli"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/opml"
	"horse.fit/sentinel/internal/store"
)

func runImportOPML(args []string) int {
	fs := flag.NewFlagSet("import-opml", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "", "OPML file to import")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	cfg, logger, err := loadEnvironment(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *file, err)
		return 1
	}

	sources, err := opml.Parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse OPML: %v\n", err)
		return 1
	}
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "No feeds found in OPML file")
		return 1
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error().Err(err).Msg("import-opml failed to open database")
		fmt.Fprintf(os.Stderr, "Database unavailable: %v\n", err)
		return 1
	}
	defer st.Close()

	ctx := context.Background()
	imported := 0
	for idx := range sources {
		source := sources[idx]
		if err := st.UpsertSource(ctx, &source); err != nil {
			logger.Error().Err(err).Str("source", source.ID).Msg("import source failed")
			continue
		}
		imported++
	}

	fmt.Printf("Imported %d of %d sources from %s\n", imported, len(sources), *file)
	if imported == 0 {
		return 1
	}
	return 0
}

func runExportOPML(args []string) int {
	fs := flag.NewFlagSet("export-opml", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	out := fs.String("out", "", "Output file (default stdout)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, err := loadEnvironment(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error().Err(err).Msg("export-opml failed to open database")
		fmt.Fprintf(os.Stderr, "Database unavailable: %v\n", err)
		return 1
	}
	defer st.Close()

	sources, err := st.ListSources(context.Background())
	if err != nil {
		logger.Error().Err(err).Msg("export-opml failed to list sources")
		fmt.Fprintf(os.Stderr, "Failed to list sources: %v\n", err)
		return 1
	}

	raw, err := opml.Render("sentinel sources", sources, globaltime.UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render OPML: %v\n", err)
		return 1
	}

	if *out == "" {
		os.Stdout.Write(raw)
		return 0
	}
	if err := os.WriteFile(*out, raw, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *out, err)
		return 1
	}
	fmt.Printf("Exported %d sources to %s\n", len(sources), *out)
	return 0
}
