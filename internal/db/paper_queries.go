package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/paperfeed/internal/clock"
)

// PaperTx is the set of operations the upsert engine performs on one paper
// inside a single transaction.
type PaperTx interface {
	// FindPaper locks and returns the stored paper, or nil when absent.
	FindPaper(ctx context.Context, uid string) (*Paper, error)
	InsertPaper(ctx context.Context, paper *Paper) error
	UpdatePaperCalculated(ctx context.Context, paper *Paper) error
	ReplacePaperChildren(ctx context.Context, uid string, children PaperChildren) error
}

type paperTx struct {
	tx *gorm.DB
}

// InPaperTx runs fn in a transaction. Any error from fn rolls back every write
// fn made, so a paper and its children land together or not at all.
func (p *Pool) InPaperTx(ctx context.Context, fn func(PaperTx) error) error {
	return p.withTx(ctx, func(tx *gorm.DB) error {
		return fn(&paperTx{tx: tx})
	})
}

func (t *paperTx) FindPaper(ctx context.Context, uid string) (*Paper, error) {
	var paper Paper
	err := t.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("uid = ?", uid).
		Take(&paper).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find paper %s: %w", uid, err)
	}
	return &paper, nil
}

func (t *paperTx) InsertPaper(ctx context.Context, paper *Paper) error {
	if paper == nil {
		return fmt.Errorf("paper is nil")
	}
	if err := t.tx.WithContext(ctx).Create(paper).Error; err != nil {
		return fmt.Errorf("insert paper %s: %w", paper.UID, err)
	}
	return nil
}

// UpdatePaperCalculated rewrites only the derived columns. Descriptive columns
// and engagement counters are left as stored.
func (t *paperTx) UpdatePaperCalculated(ctx context.Context, paper *Paper) error {
	if paper == nil {
		return fmt.Errorf("paper is nil")
	}
	res := t.tx.WithContext(ctx).
		Model(&Paper{}).
		Where("uid = ?", paper.UID).
		Updates(map[string]any{
			"submit_date": paper.SubmitDate,
			"update_date": paper.UpdateDate,
			"pubdate":     paper.Pubdate,
			"abs_url":     paper.AbsURL,
			"pdf_url":     paper.PDFURL,
			"author_str":  paper.AuthorStr,
			"updated_at":  clock.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update calculated fields for %s: %w", paper.UID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update calculated fields for %s: %w", paper.UID, ErrNoRows)
	}
	return nil
}

// ReplacePaperChildren deletes and re-inserts the paper's versions,
// authorships and categories.
func (t *paperTx) ReplacePaperChildren(ctx context.Context, uid string, children PaperChildren) error {
	db := t.tx.WithContext(ctx)

	for _, model := range []any{&Version{}, &Authorship{}, &Category{}} {
		if err := db.Where("paper_uid = ?", uid).Delete(model).Error; err != nil {
			return fmt.Errorf("clear children of %s: %w", uid, err)
		}
	}

	if len(children.Versions) > 0 {
		if err := db.Create(&children.Versions).Error; err != nil {
			return fmt.Errorf("insert versions of %s: %w", uid, err)
		}
	}
	if len(children.Authorships) > 0 {
		if err := db.Create(&children.Authorships).Error; err != nil {
			return fmt.Errorf("insert authorships of %s: %w", uid, err)
		}
	}
	if len(children.Categories) > 0 {
		if err := db.Create(&children.Categories).Error; err != nil {
			return fmt.Errorf("insert categories of %s: %w", uid, err)
		}
	}
	return nil
}

// DeletePaper removes a paper; child rows go with it through ON DELETE CASCADE.
func (p *Pool) DeletePaper(ctx context.Context, uid string) (bool, error) {
	affected, err := p.Exec(ctx, `DELETE FROM papers WHERE uid = $1`, uid)
	if err != nil {
		return false, fmt.Errorf("delete paper %s: %w", uid, err)
	}
	return affected > 0, nil
}

// RefreshCommentsCount recomputes comments_count from visible comments.
func (p *Pool) RefreshCommentsCount(ctx context.Context, uid string) (int, error) {
	const q = `
UPDATE papers
SET comments_count = (
		SELECT count(*) FROM comments c
		WHERE c.paper_uid = $1 AND NOT c.deleted AND NOT c.hidden
	),
	updated_at = $2
WHERE uid = $1
RETURNING comments_count
`
	var count int
	if err := p.QueryRow(ctx, q, uid, clock.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("refresh comments count for %s: %w", uid, err)
	}
	return count, nil
}

// RefreshScitesCount recomputes scites_count.
func (p *Pool) RefreshScitesCount(ctx context.Context, uid string) (int, error) {
	const q = `
UPDATE papers
SET scites_count = (SELECT count(*) FROM scites s WHERE s.paper_uid = $1),
	updated_at = $2
WHERE uid = $1
RETURNING scites_count
`
	var count int
	if err := p.QueryRow(ctx, q, uid, clock.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("refresh scites count for %s: %w", uid, err)
	}
	return count, nil
}
