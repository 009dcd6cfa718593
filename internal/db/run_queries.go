package db

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/paperfeed/internal/clock"
)

// StartImportRun records a new running import.
func (p *Pool) StartImportRun(ctx context.Context, run *ImportRun) error {
	if run == nil {
		return fmt.Errorf("import run is nil")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = clock.UTC()
	}
	run.Status = RunStatusRunning

	const q = `
INSERT INTO import_runs (run_uuid, source, started_at, status)
VALUES ($1, $2, $3, $4)
RETURNING run_id
`
	if err := p.QueryRow(ctx, q, run.RunUUID, run.Source, run.StartedAt, run.Status).Scan(&run.RunID); err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}
	return nil
}

// FinishImportRun stores the final counts and status of a run.
func (p *Pool) FinishImportRun(ctx context.Context, run *ImportRun) error {
	if run == nil {
		return fmt.Errorf("import run is nil")
	}
	finished := clock.UTC()
	run.FinishedAt = &finished

	var errMsg *string
	if run.ErrorMessage != nil {
		msg := truncateError(*run.ErrorMessage, 4000)
		errMsg = &msg
	}

	const q = `
UPDATE import_runs
SET finished_at = $2,
	status = $3,
	records_read = $4,
	papers_new = $5,
	papers_existing = $6,
	rows_rejected = $7,
	error_message = $8
WHERE run_uuid = $1
`
	_, err := p.Exec(ctx, q,
		run.RunUUID,
		finished,
		run.Status,
		run.RecordsRead,
		run.PapersNew,
		run.PapersExisting,
		run.RowsRejected,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("finish import run %s: %w", run.RunUUID, err)
	}
	return nil
}

// RecentImportRuns lists the newest runs first.
func (p *Pool) RecentImportRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	var runs []ImportRun
	if err := p.gdb.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	return runs, nil
}

func truncateError(msg string, limit int) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}
