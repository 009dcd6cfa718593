package db

import (
	"context"
	"fmt"
	"time"

	"horse.fit/paperfeed/internal/clock"
)

// ExistingAuthorFingerprints returns the subset of fingerprints already stored.
func (p *Pool) ExistingAuthorFingerprints(ctx context.Context, fingerprints []string) (map[string]struct{}, error) {
	return p.existingKeys(ctx, `SELECT fingerprint FROM authors WHERE fingerprint = ANY($1)`, fingerprints)
}

// ExistingFeedUIDs returns the subset of feed uids already stored.
func (p *Pool) ExistingFeedUIDs(ctx context.Context, uids []string) (map[string]struct{}, error) {
	return p.existingKeys(ctx, `SELECT uid FROM feeds WHERE uid = ANY($1)`, uids)
}

func (p *Pool) existingKeys(ctx context.Context, q string, keys []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := p.Query(ctx, q, keys)
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan existing key: %w", err)
		}
		out[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing keys: %w", err)
	}
	return out, nil
}

// AuthorIDsByFingerprint resolves fingerprints to author ids. Unknown
// fingerprints are absent from the result.
func (p *Pool) AuthorIDsByFingerprint(ctx context.Context, fingerprints []string) (map[string]int64, error) {
	out := make(map[string]int64, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}

	rows, err := p.Query(ctx, `SELECT fingerprint, author_id FROM authors WHERE fingerprint = ANY($1)`, fingerprints)
	if err != nil {
		return nil, fmt.Errorf("query author ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fingerprint string
			id          int64
		)
		if err := rows.Scan(&fingerprint, &id); err != nil {
			return nil, fmt.Errorf("scan author id: %w", err)
		}
		out[fingerprint] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate author ids: %w", err)
	}
	return out, nil
}

// FeedsByUID loads feeds by uid. Unknown uids are absent from the result.
func (p *Pool) FeedsByUID(ctx context.Context, uids []string) (map[string]Feed, error) {
	out := make(map[string]Feed, len(uids))
	if len(uids) == 0 {
		return out, nil
	}

	const q = `
SELECT feed_id, uid, name, parent_uid, last_paper_date, created_at, updated_at
FROM feeds
WHERE uid = ANY($1)
`
	rows, err := p.Query(ctx, q, uids)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f        Feed
			lastDate *time.Time
		)
		if err := rows.Scan(&f.FeedID, &f.UID, &f.Name, &f.ParentUID, &lastDate, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		f.LastPaperDate = lastDate
		out[f.UID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	return out, nil
}

// AdvanceFeedWatermark moves the feed's last_paper_date forward to at. The
// guard in the WHERE clause makes the update a no-op when the stored value is
// already at or past at, so concurrent runs can never move it backwards.
func (p *Pool) AdvanceFeedWatermark(ctx context.Context, uid string, at time.Time) (bool, error) {
	const q = `
UPDATE feeds
SET last_paper_date = $2,
	updated_at = $3
WHERE uid = $1
  AND (last_paper_date IS NULL OR last_paper_date < $2)
`
	affected, err := p.Exec(ctx, q, uid, at.UTC(), clock.UTC())
	if err != nil {
		return false, fmt.Errorf("advance watermark for feed %s: %w", uid, err)
	}
	return affected > 0, nil
}

// ChildWatermarks returns, per parent uid, the latest last_paper_date among its
// direct children. Parents without a dated child are absent from the result.
func (p *Pool) ChildWatermarks(ctx context.Context, parentUIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(parentUIDs))
	if len(parentUIDs) == 0 {
		return out, nil
	}

	const q = `
SELECT parent_uid, max(last_paper_date)
FROM feeds
WHERE parent_uid = ANY($1)
  AND last_paper_date IS NOT NULL
GROUP BY parent_uid
`
	rows, err := p.Query(ctx, q, parentUIDs)
	if err != nil {
		return nil, fmt.Errorf("query child watermarks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			parent string
			latest time.Time
		)
		if err := rows.Scan(&parent, &latest); err != nil {
			return nil, fmt.Errorf("scan child watermark: %w", err)
		}
		out[parent] = latest.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child watermarks: %w", err)
	}
	return out, nil
}
