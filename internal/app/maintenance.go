package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/paperfeed/internal/cli"
	"horse.fit/paperfeed/internal/db"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, logger, ok := loadConfigAndLogger(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Database unavailable: %v\n", err)
		return 1
	}

	fmt.Println("ok")
	return 0
}

// withPipeline covers the shared setup of the single-shot maintenance commands.
func withPipeline(envLoader *cli.EnvLoader, timeout time.Duration, fn func(ctx context.Context, p *pipeline) error) int {
	cfg, logger, ok := loadConfigAndLogger(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("setup failed")
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer p.Close()

	if err := fn(ctx, p); err != nil {
		logger.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		return 1
	}
	return 0
}

func runSeedFeeds(args []string) int {
	fs := flag.NewFlagSet("seed-feeds", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	return withPipeline(envLoader, *timeout, func(ctx context.Context, p *pipeline) error {
		n, err := p.orchestrator.SeedFeeds(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("feeds_created=%d\n", n)
		return nil
	})
}

func runReindex(args []string) int {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Hour, "Command timeout")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	return withPipeline(envLoader, *timeout, func(ctx context.Context, p *pipeline) error {
		n, err := p.syncer.Rebuild(ctx)
		if err != nil {
			return err
		}
		total, err := p.index.Count()
		if err != nil {
			return err
		}
		fmt.Printf("documents=%d index_total=%d\n", n, total)
		return nil
	})
}

func runRefreshCounters(args []string) int {
	fs := flag.NewFlagSet("refresh-counters", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	uid := fs.String("uid", "", "Paper id")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	paperUID := strings.TrimSpace(*uid)
	if paperUID == "" {
		fmt.Fprintln(os.Stderr, "--uid is required")
		return 2
	}

	return withPipeline(envLoader, *timeout, func(ctx context.Context, p *pipeline) error {
		comments, err := p.pool.RefreshCommentsCount(ctx, paperUID)
		if err != nil {
			return err
		}
		scites, err := p.pool.RefreshScitesCount(ctx, paperUID)
		if err != nil {
			return err
		}
		if err := p.syncer.IndexOne(ctx, paperUID); err != nil {
			return err
		}
		fmt.Printf("uid=%s comments_count=%d scites_count=%d\n", paperUID, comments, scites)
		return nil
	})
}

func runDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	uid := fs.String("uid", "", "Paper id")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	paperUID := strings.TrimSpace(*uid)
	if paperUID == "" {
		fmt.Fprintln(os.Stderr, "--uid is required")
		return 2
	}

	return withPipeline(envLoader, *timeout, func(ctx context.Context, p *pipeline) error {
		deleted, err := p.pool.DeletePaper(ctx, paperUID)
		if err != nil {
			return err
		}
		_, indexed, err := p.index.Lookup(paperUID)
		if err != nil {
			return err
		}
		if err := p.syncer.Remove(paperUID); err != nil {
			return err
		}
		fmt.Printf("uid=%s deleted=%t index_document_removed=%t\n", paperUID, deleted, indexed)
		return nil
	})
}

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 20, "Number of runs to list")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
		return 2
	}

	cfg, logger, ok := loadConfigAndLogger(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	runs, err := pool.RecentImportRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List runs failed: %v\n", err)
		return 1
	}
	for _, run := range runs {
		fmt.Println(formatRun(run))
	}
	return 0
}

func formatRun(run db.ImportRun) string {
	line := fmt.Sprintf("run_uuid=%s status=%s source=%s started_at=%s records=%d new=%d existing=%d rejected=%d",
		run.RunUUID, run.Status, run.Source, run.StartedAt.UTC().Format(time.RFC3339),
		run.RecordsRead, run.PapersNew, run.PapersExisting, run.RowsRejected)
	if run.ErrorMessage != nil {
		line += fmt.Sprintf(" error=%q", *run.ErrorMessage)
	}
	return line
}
