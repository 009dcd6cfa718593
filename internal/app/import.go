package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"horse.fit/paperfeed/internal/cli"
	"horse.fit/paperfeed/internal/config"
	"horse.fit/paperfeed/internal/feed"
)

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	source := fs.String("source", "", "Feed location: a JSON Lines file (optionally .gz) or s3://bucket/key")
	batchSize := fs.Int("batch-size", 0, "Records per import run (defaults to IMPORT_BATCH_SIZE)")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*source) == "" {
		fmt.Fprintln(os.Stderr, "--source is required")
		return 2
	}
	if *batchSize < 0 {
		fmt.Fprintln(os.Stderr, "--batch-size must be >= 1")
		return 2
	}

	cfg, logger, ok := loadConfigAndLogger(envLoader)
	if !ok {
		return 1
	}
	if *batchSize == 0 {
		*batchSize = cfg.ImportBatchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("import setup failed")
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}
	defer p.Close()

	summary, err := p.importSource(ctx, strings.TrimSpace(*source), *batchSize)
	fmt.Printf("batches=%d processed=%d new=%d existing=%d rejected=%d skipped_lines=%d\n",
		summary.Batches, len(summary.Processed), summary.PapersNew, summary.PapersExisting, summary.Rejected, summary.SkippedLines)
	if err != nil {
		logger.Error().Err(err).Str("source", *source).Msg("import failed")
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}
	return 0
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	source := fs.String("source", "", "Feed location: a JSON Lines file (optionally .gz) or s3://bucket/key")
	maxErrors := fs.Int("max-errors", 20, "Stop printing line errors after this many")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*source) == "" {
		fmt.Fprintln(os.Stderr, "--source is required")
		return 2
	}

	loadEnv(envLoader)
	storage, err := config.LoadStorage()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	valid, invalid, err := validateSource(ctx, strings.TrimSpace(*source), s3Options(storage), *maxErrors)
	fmt.Printf("valid=%d invalid=%d\n", valid, invalid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validate failed: %v\n", err)
		return 1
	}
	if invalid > 0 {
		return 1
	}
	return 0
}

func validateSource(ctx context.Context, location string, opts feed.S3Options, maxErrors int) (valid, invalid int, err error) {
	rc, err := feed.Open(ctx, location, opts)
	if err != nil {
		return 0, 0, err
	}
	defer rc.Close()

	r := feed.NewReader(rc)
	for {
		if err := ctx.Err(); err != nil {
			return valid, invalid, err
		}
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			return valid, invalid, nil
		}
		var lineErr *feed.LineError
		if errors.As(err, &lineErr) {
			invalid++
			if invalid <= maxErrors {
				fmt.Fprintln(os.Stderr, lineErr.Error())
			}
			continue
		}
		if err != nil {
			return valid, invalid, err
		}
		valid++
	}
}
