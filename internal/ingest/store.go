// Package ingest reconciles batches of raw feed records into the store: author
// and feed resolution, paper upserts, watermark propagation and index sync.
package ingest

import (
	"context"
	"time"

	"horse.fit/paperfeed/internal/db"
)

// Store is the slice of *db.Pool the pipeline writes through.
type Store interface {
	ExistingAuthorFingerprints(ctx context.Context, fingerprints []string) (map[string]struct{}, error)
	InsertAuthors(ctx context.Context, rows []db.Author) (db.BulkResult, error)
	AuthorIDsByFingerprint(ctx context.Context, fingerprints []string) (map[string]int64, error)

	ExistingFeedUIDs(ctx context.Context, uids []string) (map[string]struct{}, error)
	InsertFeeds(ctx context.Context, rows []db.Feed) (db.BulkResult, error)
	FeedsByUID(ctx context.Context, uids []string) (map[string]db.Feed, error)
	AdvanceFeedWatermark(ctx context.Context, uid string, at time.Time) (bool, error)
	ChildWatermarks(ctx context.Context, parentUIDs []string) (map[string]time.Time, error)

	InPaperTx(ctx context.Context, fn func(db.PaperTx) error) error

	StartImportRun(ctx context.Context, run *db.ImportRun) error
	FinishImportRun(ctx context.Context, run *db.ImportRun) error
}

// Indexer mirrors one persisted paper into the search index.
type Indexer interface {
	IndexOne(ctx context.Context, uid string) error
}

// Metrics receives pipeline counters. A nil Metrics is replaced by a no-op.
type Metrics interface {
	PaperImported(outcome string)
	RowsRejected(kind string, n int)
	ImportFinished(status string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) PaperImported(string) {}

func (noopMetrics) RowsRejected(string, int) {}

func (noopMetrics) ImportFinished(string, time.Duration) {}

var _ Store = (*db.Pool)(nil)
