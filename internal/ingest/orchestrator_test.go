package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"horse.fit/paperfeed/internal/alert"
	"horse.fit/paperfeed/internal/db"
	"horse.fit/paperfeed/internal/feed"
	"horse.fit/paperfeed/internal/taxonomy"
)

func strptr(s string) *string { return &s }

func scenarioRecord() feed.Record {
	return feed.Record{
		ID:         "0811.3648",
		Submitter:  strptr("Jelani Nelson"),
		Title:      "On the Exact Space Complexity of Sketching and Streaming Small Norms",
		Abstract:   "We settle the 1-pass space complexity of (1 +/- eps)-approximating the L_p norm.",
		Categories: []string{"cs.DS", "cs.CC"},
		Authors: []feed.Author{
			{Keyname: strptr("Kane"), Forenames: strptr("Daniel M.")},
			{Keyname: strptr("Nelson"), Forenames: strptr("Jelani")},
			{Keyname: strptr("Woodruff"), Forenames: strptr("David P.")},
		},
		Versions: []feed.Version{
			{Date: "2008-11-21T22:55:07Z", Size: "90kb"},
			{Date: "2009-04-09T02:45:30Z", Size: "71kb"},
		},
	}
}

func simpleRecord(id, category, submitted string) feed.Record {
	return feed.Record{
		ID:         id,
		Title:      "Paper " + id,
		Abstract:   "Abstract of " + id,
		Categories: []string{category},
		Authors:    []feed.Author{{Keyname: strptr("Author" + id), Forenames: strptr("A.")}},
		Versions:   []feed.Version{{Date: submitted, Size: "10kb"}},
	}
}

type harness struct {
	store   *memStore
	indexer *recordingIndexer
	alerts  *alert.Recorder
	orch    *Orchestrator
}

func newHarness(t *testing.T, tax *taxonomy.Taxonomy) *harness {
	t.Helper()

	schedule, err := NewSchedule(16)
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}
	h := &harness{
		store:   newMemStore(),
		indexer: &recordingIndexer{fail: map[string]error{}},
		alerts:  &alert.Recorder{},
	}
	h.orch, err = NewOrchestrator(h.store, Options{
		Schedule:       schedule,
		ArchiveBaseURL: "http://arxiv.org",
		Lookup:         Lookup{ChunkSize: 100, Workers: 4},
		Taxonomy:       tax,
		Indexer:        h.indexer,
		Notifier:       h.alerts,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return h
}

func mustTime(t *testing.T, raw string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return ts
}

func TestRunImportsPaperWithOrderedChildren(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	got, err := h.orch.Run(context.Background(), []feed.Record{scenarioRecord()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 || got[0] != "0811.3648" {
		t.Fatalf("Run() = %v", got)
	}

	paper, children, ok := h.store.paper("0811.3648")
	if !ok {
		t.Fatalf("paper was not stored")
	}
	if !paper.SubmitDate.Equal(mustTime(t, "2008-11-21T22:55:07Z")) {
		t.Fatalf("submit date = %s", paper.SubmitDate)
	}
	if !paper.UpdateDate.Equal(mustTime(t, "2009-04-09T02:45:30Z")) {
		t.Fatalf("update date = %s", paper.UpdateDate)
	}
	if paper.Pubdate == nil || !paper.Pubdate.Equal(mustTime(t, "2008-11-25T01:00:00Z")) {
		t.Fatalf("pubdate = %v", paper.Pubdate)
	}
	if !paper.Updated() {
		t.Fatalf("expected paper to report an update")
	}
	if paper.AbsURL != "http://arxiv.org/abs/0811.3648" || paper.PDFURL != "http://arxiv.org/pdf/0811.3648.pdf" {
		t.Fatalf("unexpected urls %q %q", paper.AbsURL, paper.PDFURL)
	}
	if paper.AuthorStr != "Daniel M. Kane, Jelani Nelson, David P. Woodruff" {
		t.Fatalf("author_str = %q", paper.AuthorStr)
	}
	if paper.ScitesCount != 0 || paper.CommentsCount != 0 {
		t.Fatalf("counters should start at zero")
	}

	wantTerms := []string{"Kane_D", "Nelson_J", "Woodruff_D"}
	if len(children.Authorships) != len(wantTerms) {
		t.Fatalf("authorships = %+v", children.Authorships)
	}
	for i, a := range children.Authorships {
		if a.Position != i || a.Searchterm != wantTerms[i] || a.AuthorID == nil {
			t.Fatalf("authorship %d = %+v", i, a)
		}
	}
	if len(children.Versions) != 2 || *children.Versions[0].Size != "90kb" || *children.Versions[1].Size != "71kb" {
		t.Fatalf("versions = %+v", children.Versions)
	}
	if len(children.Categories) != 2 || children.Categories[0].FeedUID != "cs.DS" || children.Categories[1].FeedUID != "cs.CC" {
		t.Fatalf("categories = %+v", children.Categories)
	}

	if len(h.indexer.uids) != 1 || h.indexer.uids[0] != "0811.3648" {
		t.Fatalf("indexed = %v", h.indexer.uids)
	}
	if alerts := h.alerts.Messages(); len(alerts) != 0 {
		t.Fatalf("unexpected alerts %v", alerts)
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	batch := []feed.Record{scenarioRecord()}

	if _, err := h.orch.Run(ctx, batch); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	papers, authors, feeds := h.store.counts()

	stats, err := h.orch.RunSource(ctx, "again", batch)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if stats.PapersNew != 0 || stats.PapersExisting != 1 {
		t.Fatalf("second run stats = %+v", stats)
	}

	p2, a2, f2 := h.store.counts()
	if p2 != papers || a2 != authors || f2 != feeds {
		t.Fatalf("counts changed: %d/%d/%d -> %d/%d/%d", papers, authors, feeds, p2, a2, f2)
	}
	if p2 != 1 || a2 != 3 || f2 != 2 {
		t.Fatalf("want 1 paper, 3 authors, 2 feeds; got %d/%d/%d", p2, a2, f2)
	}
	if alerts := h.alerts.Messages(); len(alerts) != 0 {
		t.Fatalf("re-import must not raise alerts, got %v", alerts)
	}
}

func TestRerunKeepsCountersAndReplacesChildren(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.orch.Run(ctx, []feed.Record{scenarioRecord()}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	h.store.mu.Lock()
	p := h.store.papers["0811.3648"]
	p.CommentsCount, p.ScitesCount = 4, 2
	h.store.papers["0811.3648"] = p
	h.store.mu.Unlock()

	revised := scenarioRecord()
	revised.Authors = revised.Authors[:2]
	revised.Categories = []string{"cs.DS"}
	revised.Versions = append(revised.Versions, feed.Version{Date: "2010-01-05T10:00:00Z", Size: "75kb"})
	if _, err := h.orch.Run(ctx, []feed.Record{revised}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	paper, children, _ := h.store.paper("0811.3648")
	if paper.CommentsCount != 4 || paper.ScitesCount != 2 {
		t.Fatalf("counters were reset: comments=%d scites=%d", paper.CommentsCount, paper.ScitesCount)
	}
	if !paper.UpdateDate.Equal(mustTime(t, "2010-01-05T10:00:00Z")) {
		t.Fatalf("update date not recalculated: %s", paper.UpdateDate)
	}
	if len(children.Authorships) != 2 || len(children.Categories) != 1 || len(children.Versions) != 3 {
		t.Fatalf("children not replaced: %+v", children)
	}
}

func TestRunRejectsOneBadRecordInLargeBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	records := make([]feed.Record, 0, 1000)
	for i := 0; i < 1000; i++ {
		rec := simpleRecord(fmt.Sprintf("1001.%04d", i), "math.AG", "2010-01-04T12:00:00Z")
		if i == 500 {
			rec.Abstract = ""
		}
		records = append(records, rec)
	}

	got, err := h.orch.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 999 {
		t.Fatalf("processed %d papers, want 999", len(got))
	}
	for _, uid := range got {
		if uid == "1001.0500" {
			t.Fatalf("rejected paper must not be reported as processed")
		}
	}
	if got[0] != "1001.0000" || got[998] != "1001.0999" {
		t.Fatalf("output lost input order: first=%s last=%s", got[0], got[998])
	}

	alerts := h.alerts.Messages()
	if len(alerts) != 1 || !strings.Contains(alerts[0], "1001.0500") || !strings.Contains(alerts[0], "abstract") {
		t.Fatalf("alerts = %v", alerts)
	}
	if h.store.authorLookups < 10 {
		t.Fatalf("expected chunked author lookups, got %d", h.store.authorLookups)
	}
}

func TestRunRejectsUpdateBeforeSubmit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	bad := scenarioRecord()
	bad.Versions[0], bad.Versions[1] = bad.Versions[1], bad.Versions[0]

	got, err := h.orch.Run(context.Background(), []feed.Record{bad, simpleRecord("0901.0001", "cs.DS", "2009-01-05T12:00:00Z")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 || got[0] != "0901.0001" {
		t.Fatalf("Run() = %v", got)
	}
	if _, _, ok := h.store.paper("0811.3648"); ok {
		t.Fatalf("invalid paper must not be stored")
	}
	if alerts := h.alerts.Messages(); len(alerts) != 1 || !strings.Contains(alerts[0], "precedes") {
		t.Fatalf("alerts = %v", alerts)
	}
}

func TestRunReportsRejectedAuthorsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := scenarioRecord()
	rec.Authors = append(rec.Authors,
		feed.Author{Forenames: strptr("Anonymous")},
		feed.Author{Forenames: strptr("Someone")},
	)

	got, err := h.orch.Run(context.Background(), []feed.Record{rec})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("paper should still import, got %v", got)
	}

	alerts := h.alerts.Messages()
	if len(alerts) != 1 || !strings.Contains(alerts[0], "2 author row(s) rejected") {
		t.Fatalf("alerts = %v", alerts)
	}

	_, children, _ := h.store.paper("0811.3648")
	if len(children.Authorships) != 5 || children.Authorships[3].AuthorID != nil {
		t.Fatalf("unresolved author should keep its slot without an id: %+v", children.Authorships)
	}
}

func TestRunContinuesWhenIndexingFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.indexer.fail["0811.3648"] = errors.New("index unavailable")

	got, err := h.orch.Run(context.Background(), []feed.Record{scenarioRecord()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("store write must stand when indexing fails, got %v", got)
	}
	if alerts := h.alerts.Messages(); len(alerts) != 1 || !strings.Contains(alerts[0], "index unavailable") {
		t.Fatalf("alerts = %v", alerts)
	}
}

func TestRunTreatsStoreConstraintAsValidationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.store.failPaper["0901.0001"] = &pgconn.PgError{Code: "23514", ConstraintName: "papers_update_after_submit"}

	got, err := h.orch.Run(context.Background(), []feed.Record{
		simpleRecord("0901.0001", "cs.DS", "2009-01-05T12:00:00Z"),
		simpleRecord("0901.0002", "cs.DS", "2009-01-05T12:00:00Z"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 || got[0] != "0901.0002" {
		t.Fatalf("Run() = %v", got)
	}
	alerts := h.alerts.Messages()
	if len(alerts) != 1 || !strings.Contains(alerts[0], "violates papers_update_after_submit") {
		t.Fatalf("alerts = %v", alerts)
	}
}

func TestRunFailsOnInfrastructureError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.store.failPaper["0901.0002"] = errors.New("connection reset by peer")

	got, err := h.orch.Run(context.Background(), []feed.Record{
		simpleRecord("0901.0001", "cs.DS", "2009-01-05T12:00:00Z"),
		simpleRecord("0901.0002", "cs.DS", "2009-01-05T12:00:00Z"),
	})
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected infrastructure error, got %v (%v)", err, got)
	}
	if got != nil {
		t.Fatalf("failed run must not return identifiers, got %v", got)
	}
	if _, _, ok := h.store.paper("0901.0002"); ok {
		t.Fatalf("failed paper transaction must roll back")
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.runs) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(h.store.runs))
	}
	for _, run := range h.store.runs {
		if run.Status != db.RunStatusFailed || run.ErrorMessage == nil {
			t.Fatalf("ledger row = %+v", run)
		}
		if run.PapersNew != 1 {
			t.Fatalf("ledger papers_new = %d, want 1", run.PapersNew)
		}
	}
}

func TestRunWithNoRecordsIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	got, err := h.orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil list, got %#v", got)
	}
	if len(h.store.runs) != 0 {
		t.Fatalf("empty run must not touch the ledger")
	}
}

func TestWatermarksAdvanceMonotonicallyWithParent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.orch.SeedFeeds(ctx); err != nil {
		t.Fatalf("SeedFeeds() error = %v", err)
	}

	newer := simpleRecord("1001.0001", "math.AG", "2010-01-05T12:00:00Z")
	older := simpleRecord("0901.0001", "math.AG", "2009-01-05T12:00:00Z")

	if _, err := h.orch.Run(ctx, []feed.Record{newer}); err != nil {
		t.Fatalf("Run(newer) error = %v", err)
	}
	paper, _, _ := h.store.paper("1001.0001")
	child, parent := h.store.feed("math.AG"), h.store.feed("math")
	if child.LastPaperDate == nil || !child.LastPaperDate.Equal(*paper.Pubdate) {
		t.Fatalf("child watermark = %v, want %v", child.LastPaperDate, paper.Pubdate)
	}
	if parent.LastPaperDate == nil || parent.LastPaperDate.Before(*child.LastPaperDate) {
		t.Fatalf("parent watermark %v behind child %v", parent.LastPaperDate, child.LastPaperDate)
	}

	if _, err := h.orch.Run(ctx, []feed.Record{older}); err != nil {
		t.Fatalf("Run(older) error = %v", err)
	}
	if got := h.store.feed("math.AG").LastPaperDate; !got.Equal(*paper.Pubdate) {
		t.Fatalf("child watermark regressed to %v", got)
	}
	if got := h.store.feed("math").LastPaperDate; !got.Equal(*paper.Pubdate) {
		t.Fatalf("parent watermark regressed to %v", got)
	}
}

func TestParentCreatedByLaterRunInheritsChildWatermark(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.Run(ctx, []feed.Record{simpleRecord("1001.0001", "cs.DS", "2010-01-05T12:00:00Z")}); err != nil {
		t.Fatalf("Run(child) error = %v", err)
	}
	if _, err := h.orch.Run(ctx, []feed.Record{simpleRecord("0901.0001", "cs", "2009-01-05T12:00:00Z")}); err != nil {
		t.Fatalf("Run(parent) error = %v", err)
	}

	child, parent := h.store.feed("cs.DS"), h.store.feed("cs")
	if child.LastPaperDate == nil || parent.LastPaperDate == nil {
		t.Fatalf("watermarks not set: child=%v parent=%v", child.LastPaperDate, parent.LastPaperDate)
	}
	if parent.LastPaperDate.Before(*child.LastPaperDate) {
		t.Fatalf("parent watermark %v behind child %v", parent.LastPaperDate, child.LastPaperDate)
	}
}

func TestSeedFeedsLiftsParentsToChildWatermark(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.Run(ctx, []feed.Record{simpleRecord("1001.0001", "cs.DS", "2010-01-05T12:00:00Z")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := h.orch.SeedFeeds(ctx); err != nil {
		t.Fatalf("SeedFeeds() error = %v", err)
	}

	child, parent := h.store.feed("cs.DS"), h.store.feed("cs")
	if parent.LastPaperDate == nil || !parent.LastPaperDate.Equal(*child.LastPaperDate) {
		t.Fatalf("parent watermark = %v, want %v", parent.LastPaperDate, child.LastPaperDate)
	}
	if other := h.store.feed("math").LastPaperDate; other != nil {
		t.Fatalf("feed without children got watermark %v", other)
	}
}

func TestWatermarksWalkAncestorsTransitively(t *testing.T) {
	t.Parallel()

	tax, err := taxonomy.Parse([]byte("feeds:\n  - uid: phys\n  - uid: phys-x\n    parent: phys\n  - uid: phys-x.Y\n    parent: phys-x\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	h := newHarness(t, tax)
	ctx := context.Background()
	if created, err := h.orch.SeedFeeds(ctx); err != nil || created != 3 {
		t.Fatalf("SeedFeeds() = %d, %v", created, err)
	}

	if _, err := h.orch.Run(ctx, []feed.Record{simpleRecord("1001.0001", "phys-x.Y", "2010-01-05T12:00:00Z")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, uid := range []string{"phys-x.Y", "phys-x", "phys"} {
		if h.store.feed(uid).LastPaperDate == nil {
			t.Fatalf("feed %s watermark not advanced", uid)
		}
	}
}

func TestSeedFeedsIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	first, err := h.orch.SeedFeeds(ctx)
	if err != nil || first == 0 {
		t.Fatalf("SeedFeeds() = %d, %v", first, err)
	}
	second, err := h.orch.SeedFeeds(ctx)
	if err != nil || second != 0 {
		t.Fatalf("second SeedFeeds() = %d, %v", second, err)
	}
	if cs := h.store.feed("cs.DS"); cs.ParentUID == nil || *cs.ParentUID != "cs" {
		t.Fatalf("cs.DS parent = %v", cs.ParentUID)
	}
}

func TestImportFeedRunsBatchesAndSkipsBadLines(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	var lines []string
	for _, rec := range []feed.Record{
		simpleRecord("0901.0001", "cs.DS", "2009-01-05T12:00:00Z"),
		simpleRecord("0901.0002", "cs.DS", "2009-01-06T12:00:00Z"),
		simpleRecord("0901.0003", "cs.CC", "2009-01-07T12:00:00Z"),
	} {
		raw, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		lines = append(lines, string(raw))
	}
	lines = append(lines[:1], append([]string{"{not json"}, lines[1:]...)...)

	summary, err := h.orch.ImportFeed(context.Background(), "test.jsonl", feed.NewReader(strings.NewReader(strings.Join(lines, "\n"))), 2)
	if err != nil {
		t.Fatalf("ImportFeed() error = %v", err)
	}
	if summary.Batches != 2 || len(summary.Processed) != 3 || summary.SkippedLines != 1 || summary.PapersNew != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	if alerts := h.alerts.Messages(); len(alerts) != 1 || !strings.Contains(alerts[0], "test.jsonl") {
		t.Fatalf("alerts = %v", alerts)
	}
}
