package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/paperfeed/internal/db"
	"horse.fit/paperfeed/internal/feed"
	"horse.fit/paperfeed/internal/fingerprint"
)

// UpsertOutcome tags which branch an upsert took.
type UpsertOutcome int

const (
	OutcomeNew UpsertOutcome = iota + 1
	OutcomeExisting
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeExisting:
		return "existing"
	default:
		return "unknown"
	}
}

// PaperPlan is a record resolved against the author and feed lookup tables,
// ready to be written.
type PaperPlan struct {
	Paper    db.Paper
	Children db.PaperChildren
	FeedUIDs []string
}

// Engine reconciles one paper at a time.
type Engine struct {
	store          Store
	schedule       Schedule
	archiveBaseURL string
	logger         zerolog.Logger
}

func NewEngine(store Store, schedule Schedule, archiveBaseURL string, logger zerolog.Logger) *Engine {
	return &Engine{
		store:          store,
		schedule:       schedule,
		archiveBaseURL: archiveBaseURL,
		logger:         logger,
	}
}

// Plan validates rec and derives every stored column. authorIDs is keyed by
// fingerprint and feeds by canonical code; unresolved authors keep their
// position with no author id, unresolved feeds are dropped from the paper.
func (e *Engine) Plan(rec feed.Record, authorIDs map[string]int64, feeds map[string]db.Feed) (PaperPlan, error) {
	uid := strings.TrimSpace(rec.ID)
	if uid == "" {
		return PaperPlan{}, invalid(uid, "identifier is required")
	}
	if strings.TrimSpace(rec.Title) == "" {
		return PaperPlan{}, invalid(uid, "title is required")
	}
	if strings.TrimSpace(rec.Abstract) == "" {
		return PaperPlan{}, invalid(uid, "abstract is required")
	}
	if len(rec.Versions) == 0 {
		return PaperPlan{}, invalid(uid, "at least one version is required")
	}

	versions := make([]db.Version, 0, len(rec.Versions))
	for i, v := range rec.Versions {
		ts, err := v.Time()
		if err != nil {
			return PaperPlan{}, invalid(uid, "version %d: %v", i+1, err)
		}
		var size *string
		if s := strings.TrimSpace(v.Size); s != "" {
			size = &s
		}
		versions = append(versions, db.Version{PaperUID: uid, Position: i, Date: ts, Size: size})
	}

	submitted := versions[0].Date
	updated := versions[len(versions)-1].Date
	if updated.Before(submitted) {
		return PaperPlan{}, invalid(uid, "update date %s precedes submit date %s",
			updated.Format(time.RFC3339), submitted.Format(time.RFC3339))
	}
	pubdate := e.schedule.Pubdate(submitted)

	authorships := make([]db.Authorship, 0, len(rec.Authors))
	names := make([]string, 0, len(rec.Authors))
	for i, a := range rec.Authors {
		fields := a.Fields()
		link := db.Authorship{
			PaperUID:   uid,
			Position:   i,
			Fullname:   fingerprint.FullName(fields),
			Searchterm: fingerprint.SearchTerm(fields),
		}
		if id, ok := authorIDs[fingerprint.Author(fields)]; ok {
			link.AuthorID = &id
		} else {
			e.logger.Warn().Str("paper_uid", uid).Str("author", link.Fullname).Msg("author not resolved; keeping unlinked authorship")
		}
		authorships = append(authorships, link)
		names = append(names, link.Fullname)
	}

	categories := make([]db.Category, 0, len(rec.Categories))
	feedUIDs := make([]string, 0, len(rec.Categories))
	seen := make(map[string]struct{}, len(rec.Categories))
	for _, raw := range rec.Categories {
		code := fingerprint.FeedCode(raw)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if _, ok := feeds[code]; !ok {
			e.logger.Warn().Str("paper_uid", uid).Str("feed_uid", code).Msg("feed not resolved; skipping category")
			continue
		}
		categories = append(categories, db.Category{PaperUID: uid, Position: len(categories), FeedUID: code})
		feedUIDs = append(feedUIDs, code)
	}

	paper := db.Paper{
		UID:            uid,
		Submitter:      rec.Submitter,
		Title:          strings.TrimSpace(rec.Title),
		Abstract:       strings.TrimSpace(rec.Abstract),
		AuthorComments: rec.Comments,
		MSCClass:       rec.MSCClass,
		ReportNo:       rec.ReportNo,
		JournalRef:     rec.JournalRef,
		DOI:            rec.DOI,
		Proxy:          rec.Proxy,
		License:        rec.License,
		SubmitDate:     submitted,
		UpdateDate:     updated,
		Pubdate:        &pubdate,
		AbsURL:         AbsURL(e.archiveBaseURL, uid),
		PDFURL:         PDFURL(e.archiveBaseURL, uid),
		AuthorStr:      strings.Join(names, ", "),
	}

	return PaperPlan{
		Paper: paper,
		Children: db.PaperChildren{
			Versions:    versions,
			Authorships: authorships,
			Categories:  categories,
		},
		FeedUIDs: feedUIDs,
	}, nil
}

// Upsert writes plan in one transaction. A new paper is inserted with zeroed
// counters; an existing paper only has its calculated columns rewritten. Either
// way the child collections are replaced wholesale. A store rejection of the
// row data comes back as *ValidationError; anything else is an infrastructure
// failure.
func (e *Engine) Upsert(ctx context.Context, plan PaperPlan) (UpsertOutcome, error) {
	var outcome UpsertOutcome
	uid := plan.Paper.UID

	err := e.store.InPaperTx(ctx, func(tx db.PaperTx) error {
		existing, err := tx.FindPaper(ctx, uid)
		if err != nil {
			return err
		}

		if existing == nil {
			outcome = OutcomeNew
			paper := plan.Paper
			paper.ScitesCount = 0
			paper.CommentsCount = 0
			if err := tx.InsertPaper(ctx, &paper); err != nil {
				return err
			}
		} else {
			outcome = OutcomeExisting
			refreshed := *existing
			refreshed.SubmitDate = plan.Paper.SubmitDate
			refreshed.UpdateDate = plan.Paper.UpdateDate
			refreshed.Pubdate = plan.Paper.Pubdate
			refreshed.AbsURL = plan.Paper.AbsURL
			refreshed.PDFURL = plan.Paper.PDFURL
			refreshed.AuthorStr = plan.Paper.AuthorStr
			if err := tx.UpdatePaperCalculated(ctx, &refreshed); err != nil {
				return err
			}
		}

		return tx.ReplacePaperChildren(ctx, uid, plan.Children)
	})
	if err != nil {
		if db.IsRowRejection(err) {
			return 0, &ValidationError{UID: uid, Reason: db.DescribeRejection(err)}
		}
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return 0, vErr
		}
		return 0, err
	}

	e.logger.Debug().Str("paper_uid", uid).Stringer("outcome", outcome).Msg("paper upserted")
	return outcome, nil
}
