package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"horse.fit/paperfeed/internal/cli"
	"horse.fit/paperfeed/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Host interface to bind (defaults to HTTP_HOST)")
	port := fs.Int("port", 0, "HTTP port (defaults to HTTP_PORT)")
	readTimeout := fs.Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 10*time.Minute, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *port < 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, ok := loadConfigAndLogger(envLoader)
	if !ok {
		return 1
	}
	if strings.TrimSpace(*host) == "" {
		*host = cfg.HTTPHost
	}
	if *port == 0 {
		*port = cfg.HTTPPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve setup failed")
		fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
		return 1
	}
	defer p.Close()

	runLock := &sync.Mutex{}
	if strings.TrimSpace(cfg.ImportCron) != "" {
		scheduler, err := scheduleImports(ctx, p, runLock, cfg.ImportCron, cfg.ImportCronSource, logger)
		if err != nil {
			logger.Error().Err(err).Str("cron", cfg.ImportCron).Msg("invalid import schedule")
			fmt.Fprintf(os.Stderr, "Invalid IMPORT_CRON: %v\n", err)
			return 1
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Store:    p.pool,
		Importer: p.orchestrator,
		Indexer:  p.syncer,
		Metrics:  p.metrics.Handler(),
		RunLock:  runLock,
	}, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		BatchSize:       cfg.ImportBatchSize,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}

// scheduleImports registers the periodic feed import. A tick that finds the run
// lock held is skipped rather than queued.
func scheduleImports(ctx context.Context, p *pipeline, runLock *sync.Mutex, spec, source string, logger zerolog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		if !runLock.TryLock() {
			logger.Warn().Str("source", source).Msg("scheduled import skipped; another run is active")
			return
		}
		defer runLock.Unlock()

		summary, err := p.importSource(ctx, source, p.cfg.ImportBatchSize)
		if err != nil {
			logger.Error().Err(err).Str("source", source).Msg("scheduled import failed")
			return
		}
		logger.Info().
			Str("source", source).
			Int("batches", summary.Batches).
			Int("papers_new", summary.PapersNew).
			Int("papers_existing", summary.PapersExisting).
			Int("rejected", summary.Rejected).
			Msg("scheduled import finished")
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
