package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/paperfeed/internal/alert"
	"horse.fit/paperfeed/internal/clock"
	"horse.fit/paperfeed/internal/db"
	"horse.fit/paperfeed/internal/feed"
	"horse.fit/paperfeed/internal/fingerprint"
	"horse.fit/paperfeed/internal/taxonomy"
)

type Options struct {
	Schedule       Schedule
	ArchiveBaseURL string
	Lookup         Lookup
	Taxonomy       *taxonomy.Taxonomy
	Indexer        Indexer
	Notifier       alert.Notifier
	Metrics        Metrics
	Logger         zerolog.Logger
}

// Orchestrator sequences one import run: authors, feeds, papers, watermarks,
// index. Runs must be serialized by the caller.
type Orchestrator struct {
	store      Store
	engine     *Engine
	propagator *Propagator
	lookup     Lookup
	taxonomy   *taxonomy.Taxonomy
	indexer    Indexer
	notifier   alert.Notifier
	metrics    Metrics
	logger     zerolog.Logger
}

func NewOrchestrator(store Store, opts Options) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if opts.Schedule.loc == nil {
		return nil, fmt.Errorf("publish schedule is not initialized")
	}
	if opts.Taxonomy == nil {
		opts.Taxonomy = taxonomy.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.NewLog(opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	return &Orchestrator{
		store:      store,
		engine:     NewEngine(store, opts.Schedule, opts.ArchiveBaseURL, opts.Logger),
		propagator: NewPropagator(store, opts.Logger),
		lookup:     opts.Lookup.normalized(),
		taxonomy:   opts.Taxonomy,
		indexer:    opts.Indexer,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}, nil
}

// RunStats summarizes one run.
type RunStats struct {
	RunUUID        string
	Processed      []string
	PapersNew      int
	PapersExisting int
	Rejected       int
	FeedsAdvanced  int
}

// Run imports records and returns the identifiers of the papers written, in
// input order. Records rejected by validation are alerted and left out. The
// returned error is always an infrastructure failure; re-running the same
// batch afterwards is safe.
func (o *Orchestrator) Run(ctx context.Context, records []feed.Record) ([]string, error) {
	stats, err := o.RunSource(ctx, "batch", records)
	if err != nil {
		return nil, err
	}
	return stats.Processed, nil
}

// RunSource is Run with the source label recorded in the import ledger.
func (o *Orchestrator) RunSource(ctx context.Context, source string, records []feed.Record) (RunStats, error) {
	stats := RunStats{Processed: []string{}}
	if len(records) == 0 {
		return stats, nil
	}

	started := clock.UTC()
	run := &db.ImportRun{
		RunUUID:     uuid.NewString(),
		Source:      source,
		StartedAt:   started,
		RecordsRead: len(records),
	}
	stats.RunUUID = run.RunUUID
	if err := o.store.StartImportRun(ctx, run); err != nil {
		return stats, fmt.Errorf("start import run: %w", err)
	}

	log := o.logger.With().Str("run_uuid", run.RunUUID).Str("source", source).Logger()
	log.Info().Int("records", len(records)).Msg("import run started")

	err := o.run(ctx, log, records, &stats)

	run.PapersNew = stats.PapersNew
	run.PapersExisting = stats.PapersExisting
	run.RowsRejected = stats.Rejected
	run.Status = db.RunStatusCompleted
	if err != nil {
		run.Status = db.RunStatusFailed
		msg := err.Error()
		run.ErrorMessage = &msg
	}
	elapsed := clock.Now().Sub(started)
	o.metrics.ImportFinished(run.Status, elapsed)

	// The ledger write must land even when ctx was what failed the run.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if finishErr := o.store.FinishImportRun(finishCtx, run); finishErr != nil {
		if err == nil {
			err = fmt.Errorf("finish import run: %w", finishErr)
		} else {
			log.Error().Err(finishErr).Msg("failed to record import run failure")
		}
	}

	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("import run failed")
		return stats, err
	}

	log.Info().
		Int("processed", len(stats.Processed)).
		Int("papers_new", stats.PapersNew).
		Int("papers_existing", stats.PapersExisting).
		Int("rejected", stats.Rejected).
		Int("feeds_advanced", stats.FeedsAdvanced).
		Dur("elapsed", elapsed).
		Msg("import run completed")
	return stats, nil
}

func (o *Orchestrator) run(ctx context.Context, log zerolog.Logger, records []feed.Record, stats *RunStats) error {
	authorIDs, err := o.resolveAuthors(ctx, log, records, stats)
	if err != nil {
		return err
	}
	feeds, err := o.resolveFeeds(ctx, log, records, stats)
	if err != nil {
		return err
	}

	marks := make(Watermarks)
	for _, rec := range records {
		plan, err := o.engine.Plan(rec, authorIDs, feeds)
		if err != nil {
			o.rejectPaper(log, err, stats)
			continue
		}

		outcome, err := o.engine.Upsert(ctx, plan)
		if err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				o.rejectPaper(log, vErr, stats)
				continue
			}
			return fmt.Errorf("upsert paper %s: %w", plan.Paper.UID, err)
		}

		switch outcome {
		case OutcomeNew:
			stats.PapersNew++
		case OutcomeExisting:
			stats.PapersExisting++
		}
		o.metrics.PaperImported(outcome.String())
		stats.Processed = append(stats.Processed, plan.Paper.UID)

		if plan.Paper.Pubdate != nil {
			marks.Observe(plan.FeedUIDs, *plan.Paper.Pubdate)
		}

		if o.indexer != nil {
			if err := o.indexer.IndexOne(ctx, plan.Paper.UID); err != nil {
				log.Error().Err(err).Str("paper_uid", plan.Paper.UID).Msg("search index update failed")
				o.notifier.Notify(fmt.Sprintf("search index update failed for paper %s: %v", plan.Paper.UID, err))
			}
		}
	}

	advanced, err := o.propagator.Propagate(ctx, marks)
	stats.FeedsAdvanced += advanced
	if err != nil {
		return fmt.Errorf("propagate feed watermarks: %w", err)
	}
	return nil
}

func (o *Orchestrator) rejectPaper(log zerolog.Logger, err error, stats *RunStats) {
	stats.Rejected++
	o.metrics.RowsRejected("paper", 1)
	log.Warn().Err(err).Msg("paper rejected")
	o.notifier.Notify(err.Error())
}

func (o *Orchestrator) reportPartial(log zerolog.Logger, result db.BulkResult, stats *RunStats) {
	failure := partialFailure(result)
	if failure == nil {
		return
	}
	stats.Rejected += len(failure.Rejected)
	o.metrics.RowsRejected(failure.Kind, len(failure.Rejected))
	log.Warn().Str("kind", failure.Kind).Int("rejected", len(failure.Rejected)).Msg("bulk insert dropped rows")
	o.notifier.Notify(failure.Error())
}

// resolveAuthors inserts authors not yet stored and returns the id of every
// author in the batch, keyed by fingerprint.
func (o *Orchestrator) resolveAuthors(ctx context.Context, log zerolog.Logger, records []feed.Record, stats *RunStats) (map[string]int64, error) {
	candidates := make([]Candidate[db.Author], 0, len(records)*3)
	for _, rec := range records {
		for _, a := range rec.Authors {
			fields := a.Fields()
			row := db.Author{
				Fingerprint: fingerprint.Author(fields),
				Forenames:   a.Forenames,
				Suffix:      a.Suffix,
				Affiliation: a.Affiliation,
				Searchterm:  fingerprint.SearchTerm(fields),
			}
			if a.Keyname != nil {
				row.Keyname = *a.Keyname
			}
			candidates = append(candidates, Candidate[db.Author]{Key: row.Fingerprint, Value: row})
		}
	}
	if len(candidates) == 0 {
		return map[string]int64{}, nil
	}

	fresh, err := NewOnly(ctx, candidates, o.store.ExistingAuthorFingerprints, o.lookup)
	if err != nil {
		return nil, fmt.Errorf("dedup authors: %w", err)
	}
	if len(fresh) > 0 {
		rows := make([]db.Author, 0, len(fresh))
		for _, c := range fresh {
			rows = append(rows, c.Value)
		}
		result, err := o.store.InsertAuthors(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("insert authors: %w", err)
		}
		o.reportPartial(log, result, stats)
		log.Debug().Int("candidates", len(candidates)).Int("inserted", len(result.Persisted)).Msg("authors resolved")
	}

	keys := uniqueKeys(candidates)
	ids := make(map[string]int64, len(keys))
	for _, part := range chunk(keys, o.lookup.ChunkSize) {
		found, err := o.store.AuthorIDsByFingerprint(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("resolve author ids: %w", err)
		}
		for k, id := range found {
			ids[k] = id
		}
	}
	return ids, nil
}

// resolveFeeds inserts the batch's feeds not yet stored and returns them keyed
// by uid. Parents are referenced by code only; they exist once the taxonomy
// has been seeded.
func (o *Orchestrator) resolveFeeds(ctx context.Context, log zerolog.Logger, records []feed.Record, stats *RunStats) (map[string]db.Feed, error) {
	var candidates []Candidate[db.Feed]
	for _, rec := range records {
		for _, raw := range rec.Categories {
			if code := fingerprint.FeedCode(raw); code != "" {
				candidates = append(candidates, Candidate[db.Feed]{Key: code, Value: o.feedRow(code)})
			}
		}
	}
	if len(candidates) == 0 {
		return map[string]db.Feed{}, nil
	}

	if _, err := o.insertFeeds(ctx, log, candidates, stats); err != nil {
		return nil, err
	}

	feeds := make(map[string]db.Feed, len(candidates))
	for _, part := range chunk(uniqueKeys(candidates), o.lookup.ChunkSize) {
		found, err := o.store.FeedsByUID(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("load feeds: %w", err)
		}
		for k, f := range found {
			feeds[k] = f
		}
	}
	return feeds, nil
}

func (o *Orchestrator) feedRow(code string) db.Feed {
	row := db.Feed{UID: code, Name: o.taxonomy.Name(code)}
	if parent := o.taxonomy.Parent(code); parent != "" && parent != code {
		row.ParentUID = &parent
	}
	return row
}

// insertFeeds stores the candidates not yet present and returns the uids it
// created. Each new feed then inherits the watermark of its existing children.
func (o *Orchestrator) insertFeeds(ctx context.Context, log zerolog.Logger, candidates []Candidate[db.Feed], stats *RunStats) ([]string, error) {
	fresh, err := NewOnly(ctx, candidates, o.store.ExistingFeedUIDs, o.lookup)
	if err != nil {
		return nil, fmt.Errorf("dedup feeds: %w", err)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	rows := make([]db.Feed, 0, len(fresh))
	for _, c := range fresh {
		rows = append(rows, c.Value)
	}
	result, err := o.store.InsertFeeds(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("insert feeds: %w", err)
	}
	o.reportPartial(log, result, stats)
	log.Debug().Int("candidates", len(candidates)).Int("inserted", len(result.Persisted)).Msg("feeds resolved")

	created := make([]string, 0, len(result.Persisted))
	for uid := range result.Persisted {
		created = append(created, uid)
	}
	sort.Strings(created)

	advanced, err := o.inheritWatermarks(ctx, created)
	stats.FeedsAdvanced += advanced
	if err != nil {
		return created, err
	}
	return created, nil
}

// inheritWatermarks lifts feeds created after their children to the children's
// latest watermark, and carries that up the parent chain.
func (o *Orchestrator) inheritWatermarks(ctx context.Context, created []string) (int, error) {
	if len(created) == 0 {
		return 0, nil
	}
	latest, err := o.store.ChildWatermarks(ctx, created)
	if err != nil {
		return 0, fmt.Errorf("load child watermarks: %w", err)
	}
	if len(latest) == 0 {
		return 0, nil
	}
	advanced, err := o.propagator.Propagate(ctx, Watermarks(latest))
	if err != nil {
		return advanced, fmt.Errorf("propagate inherited watermarks: %w", err)
	}
	return advanced, nil
}

// SeedFeeds inserts every taxonomy entry not yet stored, parents before
// children. It returns the number of feeds created.
func (o *Orchestrator) SeedFeeds(ctx context.Context) (int, error) {
	entries := o.taxonomy.Entries()
	candidates := make([]Candidate[db.Feed], 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, Candidate[db.Feed]{Key: e.UID, Value: o.feedRow(e.UID)})
	}

	stats := &RunStats{}
	created, err := o.insertFeeds(ctx, o.logger, candidates, stats)
	if err != nil {
		return len(created), err
	}
	if len(created) > 0 {
		o.logger.Info().
			Int("taxonomy_entries", len(candidates)).
			Int("created", len(created)).
			Int("feeds_advanced", stats.FeedsAdvanced).
			Msg("feed taxonomy seeded")
	}
	return len(created), nil
}

func uniqueKeys[T any](candidates []Candidate[T]) []string {
	seen := make(map[string]struct{}, len(candidates))
	keys := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Key]; ok {
			continue
		}
		seen[c.Key] = struct{}{}
		keys = append(keys, c.Key)
	}
	sort.Strings(keys)
	return keys
}

// FeedSummary totals an ImportFeed call across batches.
type FeedSummary struct {
	Batches        int
	Processed      []string
	PapersNew      int
	PapersExisting int
	Rejected       int
	SkippedLines   int
}

// ImportFeed drains r in batches of batchSize, running each batch as its own
// import run. Lines that fail schema validation are alerted and skipped.
func (o *Orchestrator) ImportFeed(ctx context.Context, source string, r *feed.Reader, batchSize int) (FeedSummary, error) {
	summary := FeedSummary{Processed: []string{}}
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		records, skipped, readErr := feed.ReadBatch(r, batchSize)
		for _, lineErr := range skipped {
			summary.SkippedLines++
			o.metrics.RowsRejected("line", 1)
			o.notifier.Notify(fmt.Sprintf("%s: %v", source, lineErr))
		}
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return summary, fmt.Errorf("read feed %s: %w", source, readErr)
		}

		if len(records) > 0 {
			stats, err := o.RunSource(ctx, source, records)
			if err != nil {
				return summary, err
			}
			summary.Batches++
			summary.Processed = append(summary.Processed, stats.Processed...)
			summary.PapersNew += stats.PapersNew
			summary.PapersExisting += stats.PapersExisting
			summary.Rejected += stats.Rejected
		}

		if errors.Is(readErr, io.EOF) {
			return summary, nil
		}
	}
}
