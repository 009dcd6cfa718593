package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/paperfeed/internal/alert"
	"horse.fit/paperfeed/internal/cli"
	"horse.fit/paperfeed/internal/config"
	"horse.fit/paperfeed/internal/db"
	"horse.fit/paperfeed/internal/feed"
	"horse.fit/paperfeed/internal/ingest"
	"horse.fit/paperfeed/internal/logging"
	"horse.fit/paperfeed/internal/metrics"
	"horse.fit/paperfeed/internal/search"
	"horse.fit/paperfeed/internal/taxonomy"
)

// parseFlags parses args and maps the outcome to an exit code; ok is false when
// the command should return immediately.
func parseFlags(fs *flag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func loadEnv(envLoader *cli.EnvLoader) {
	if envLoader == nil {
		return
	}
	if _, err := envLoader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func loadConfigAndLogger(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, bool) {
	loadEnv(envLoader)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Logger{}, false
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Logger{}, false
	}
	return cfg, logger, true
}

func s3Options(s config.Storage) feed.S3Options {
	return feed.S3Options{
		Region:    s.S3Region,
		Endpoint:  s.S3Endpoint,
		AccessKey: s.S3AccessKey,
		SecretKey: s.S3SecretKey,
	}
}

// pipeline holds everything an import or maintenance command works against.
type pipeline struct {
	cfg          *config.Config
	logger       zerolog.Logger
	pool         *db.Pool
	metrics      *metrics.Metrics
	alerts       *alert.Async
	index        *search.Index
	syncer       *search.Synchronizer
	orchestrator *ingest.Orchestrator
}

func openPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pipeline, error) {
	p := &pipeline{cfg: cfg, logger: logger, metrics: metrics.New()}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.NewPool(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	p.pool = pool

	index, err := search.Open(cfg.SearchIndexPath)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open search index: %w", err)
	}
	p.index = index
	p.syncer = search.NewSynchronizer(pool, index, 0, logger)

	alerts, err := alert.FromConfig(cfg, logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("build alert sinks: %w", err)
	}
	p.alerts = alerts

	schedule, err := ingest.NewSchedule(cfg.PublishDeadlineHour)
	if err != nil {
		p.Close()
		return nil, err
	}
	tax, err := taxonomy.Load(cfg.FeedTaxonomyFile)
	if err != nil {
		p.Close()
		return nil, err
	}

	orchestrator, err := ingest.NewOrchestrator(pool, ingest.Options{
		Schedule:       schedule,
		ArchiveBaseURL: cfg.ArchiveBaseURL,
		Lookup: ingest.Lookup{
			ChunkSize: cfg.ImportLookupChunk,
			Workers:   cfg.ImportLookupWorkers,
		},
		Taxonomy: tax,
		Indexer:  p.syncer,
		Notifier: alert.Observe(alerts, p.metrics.AlertRaised),
		Metrics:  p.metrics,
		Logger:   logger,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.orchestrator = orchestrator
	return p, nil
}

// Close flushes pending alerts before releasing the index and the pool.
func (p *pipeline) Close() {
	if p == nil {
		return
	}
	if p.alerts != nil {
		p.alerts.Close()
	}
	if p.index != nil {
		if err := p.index.Close(); err != nil {
			p.logger.Error().Err(err).Msg("close search index failed")
		}
	}
	if p.pool != nil {
		if err := p.pool.Close(); err != nil {
			p.logger.Error().Err(err).Msg("close database failed")
		}
	}
}

// importSource streams location through the orchestrator in batches.
func (p *pipeline) importSource(ctx context.Context, location string, batchSize int) (ingest.FeedSummary, error) {
	rc, err := feed.Open(ctx, location, s3Options(p.cfg.Storage()))
	if err != nil {
		return ingest.FeedSummary{}, err
	}
	defer rc.Close()

	return p.orchestrator.ImportFeed(ctx, location, feed.NewReader(rc), batchSize)
}
