package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// PaperDocument loads one paper with its ordered authorships and feed uids.
// It returns ErrNoRows when the paper does not exist.
func (p *Pool) PaperDocument(ctx context.Context, uid string) (*PaperDocument, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	var paper Paper
	err := p.gdb.WithContext(ctx).Where("uid = ?", uid).Take(&paper).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("load paper %s: %w", uid, err)
	}

	docs, err := p.attachChildren(ctx, []Paper{paper})
	if err != nil {
		return nil, err
	}
	return &docs[0], nil
}

// ListPaperDocuments pages through papers ordered by uid, starting after
// afterUID. An empty result means the end was reached.
func (p *Pool) ListPaperDocuments(ctx context.Context, afterUID string, limit int) ([]PaperDocument, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	var papers []Paper
	err := p.gdb.WithContext(ctx).
		Where("uid > ?", afterUID).
		Order("uid ASC").
		Limit(limit).
		Find(&papers).Error
	if err != nil {
		return nil, fmt.Errorf("list papers after %q: %w", afterUID, err)
	}
	if len(papers) == 0 {
		return nil, nil
	}
	return p.attachChildren(ctx, papers)
}

func (p *Pool) attachChildren(ctx context.Context, papers []Paper) ([]PaperDocument, error) {
	uids := make([]string, 0, len(papers))
	for _, paper := range papers {
		uids = append(uids, paper.UID)
	}

	var authorships []Authorship
	if err := p.gdb.WithContext(ctx).
		Where("paper_uid IN ?", uids).
		Order("paper_uid ASC, position ASC").
		Find(&authorships).Error; err != nil {
		return nil, fmt.Errorf("load authorships: %w", err)
	}

	var categories []Category
	if err := p.gdb.WithContext(ctx).
		Where("paper_uid IN ?", uids).
		Order("paper_uid ASC, position ASC").
		Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	byPaperAuthors := make(map[string][]Authorship, len(papers))
	for _, a := range authorships {
		byPaperAuthors[a.PaperUID] = append(byPaperAuthors[a.PaperUID], a)
	}
	byPaperFeeds := make(map[string][]string, len(papers))
	for _, c := range categories {
		byPaperFeeds[c.PaperUID] = append(byPaperFeeds[c.PaperUID], c.FeedUID)
	}

	docs := make([]PaperDocument, 0, len(papers))
	for _, paper := range papers {
		docs = append(docs, PaperDocument{
			Paper:       paper,
			Authorships: byPaperAuthors[paper.UID],
			FeedUIDs:    byPaperFeeds[paper.UID],
		})
	}
	return docs, nil
}
