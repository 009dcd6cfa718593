package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/paperfeed/internal/db"
)

// Source reads papers in their indexable shape.
type Source interface {
	PaperDocument(ctx context.Context, uid string) (*db.PaperDocument, error)
	ListPaperDocuments(ctx context.Context, afterUID string, limit int) ([]db.PaperDocument, error)
}

// Engine is the narrow index contract the synchronizer needs.
type Engine interface {
	IndexDocument(doc Document) error
	BulkIndex(docs []Document) error
	Delete(uid string) error
	Drop() error
	Create() error
}

const defaultPageSize = 500

// Synchronizer keeps the index a downstream mirror of the store. It never
// writes to the store.
type Synchronizer struct {
	source   Source
	engine   Engine
	pageSize int
	logger   zerolog.Logger
}

func NewSynchronizer(source Source, engine Engine, pageSize int, logger zerolog.Logger) *Synchronizer {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Synchronizer{source: source, engine: engine, pageSize: pageSize, logger: logger}
}

// IndexOne re-reads uid from the store and upserts its document. A paper that
// no longer exists is removed from the index instead.
func (s *Synchronizer) IndexOne(ctx context.Context, uid string) error {
	doc, err := s.source.PaperDocument(ctx, uid)
	if db.IsNoRows(err) {
		s.logger.Debug().Str("paper_uid", uid).Msg("paper gone; removing from index")
		return s.Remove(uid)
	}
	if err != nil {
		return fmt.Errorf("load paper %s for indexing: %w", uid, err)
	}
	return s.engine.IndexDocument(DocumentFrom(*doc))
}

func (s *Synchronizer) Remove(uid string) error {
	if err := s.engine.Delete(uid); err != nil {
		return fmt.Errorf("remove %s from index: %w", uid, err)
	}
	return nil
}

// Rebuild drops the index, recreates it, and bulk-indexes every stored paper
// page by page. It returns the number of documents written.
func (s *Synchronizer) Rebuild(ctx context.Context) (int, error) {
	if err := s.engine.Drop(); err != nil {
		return 0, fmt.Errorf("drop index: %w", err)
	}
	if err := s.engine.Create(); err != nil {
		return 0, fmt.Errorf("create index: %w", err)
	}

	total := 0
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		page, err := s.source.ListPaperDocuments(ctx, after, s.pageSize)
		if err != nil {
			return total, fmt.Errorf("list papers after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}

		docs := make([]Document, 0, len(page))
		for _, pd := range page {
			docs = append(docs, DocumentFrom(pd))
		}
		if err := s.engine.BulkIndex(docs); err != nil {
			return total, err
		}
		total += len(docs)
		after = page[len(page)-1].Paper.UID
		s.logger.Debug().Int("indexed", total).Str("last_uid", after).Msg("reindex progress")

		if len(page) < s.pageSize {
			break
		}
	}

	s.logger.Info().Int("documents", total).Msg("search index rebuilt")
	return total, nil
}

// DocumentFrom flattens a stored paper into its search document.
func DocumentFrom(pd db.PaperDocument) Document {
	p := pd.Paper
	doc := Document{
		UID:               p.UID,
		Title:             p.Title,
		Abstract:          p.Abstract,
		Submitter:         deref(p.Submitter),
		AuthorComments:    deref(p.AuthorComments),
		AuthorsFullname:   make([]string, 0, len(pd.Authorships)),
		AuthorsSearchterm: make([]string, 0, len(pd.Authorships)),
		FeedUIDs:          append([]string{}, pd.FeedUIDs...),
		SubmitDate:        p.SubmitDate,
		UpdateDate:        p.UpdateDate,
		Pubdate:           p.Pubdate,
		ScitesCount:       p.ScitesCount,
		CommentsCount:     p.CommentsCount,
		License:           deref(p.License),
		DOI:               deref(p.DOI),
		JournalRef:        deref(p.JournalRef),
	}
	for _, a := range pd.Authorships {
		doc.AuthorsFullname = append(doc.AuthorsFullname, a.Fullname)
		doc.AuthorsSearchterm = append(doc.AuthorsSearchterm, a.Searchterm)
	}
	return doc
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
