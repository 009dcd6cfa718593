package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"horse.fit/paperfeed/internal/db"
)

// memStore is an in-memory Store with transactional paper writes.
type memStore struct {
	mu sync.Mutex

	authors      map[string]db.Author
	nextAuthorID int64
	feeds        map[string]db.Feed
	nextFeedID   int64
	papers       map[string]db.Paper
	nextPaperID  int64
	children     map[string]db.PaperChildren
	runs         map[string]db.ImportRun

	authorLookups int
	failPaper     map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		authors:   make(map[string]db.Author),
		feeds:     make(map[string]db.Feed),
		papers:    make(map[string]db.Paper),
		children:  make(map[string]db.PaperChildren),
		runs:      make(map[string]db.ImportRun),
		failPaper: make(map[string]error),
	}
}

func (s *memStore) ExistingAuthorFingerprints(_ context.Context, keys []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorLookups++
	out := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := s.authors[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (s *memStore) InsertAuthors(_ context.Context, rows []db.Author) (db.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := db.BulkResult{Entity: "author", Persisted: make(map[string]int64)}
	for _, row := range rows {
		switch {
		case strings.TrimSpace(row.Keyname) == "":
			result.Rejected = append(result.Rejected, db.Rejection{Key: row.Fingerprint, Reason: db.RejectInvalid, Detail: "keyname is required", Payload: row})
		case s.authors[row.Fingerprint].AuthorID != 0:
			result.Rejected = append(result.Rejected, db.Rejection{Key: row.Fingerprint, Reason: db.RejectDuplicate, Payload: row})
		default:
			s.nextAuthorID++
			row.AuthorID = s.nextAuthorID
			s.authors[row.Fingerprint] = row
			result.Persisted[row.Fingerprint] = row.AuthorID
		}
	}
	return result, nil
}

func (s *memStore) AuthorIDsByFingerprint(_ context.Context, keys []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, k := range keys {
		if a, ok := s.authors[k]; ok {
			out[k] = a.AuthorID
		}
	}
	return out, nil
}

func (s *memStore) ExistingFeedUIDs(_ context.Context, keys []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := s.feeds[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (s *memStore) InsertFeeds(_ context.Context, rows []db.Feed) (db.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := db.BulkResult{Entity: "feed", Persisted: make(map[string]int64)}
	for _, row := range rows {
		if _, ok := s.feeds[row.UID]; ok {
			result.Rejected = append(result.Rejected, db.Rejection{Key: row.UID, Reason: db.RejectDuplicate, Payload: row})
			continue
		}
		s.nextFeedID++
		row.FeedID = s.nextFeedID
		s.feeds[row.UID] = row
		result.Persisted[row.UID] = row.FeedID
	}
	return result, nil
}

func (s *memStore) FeedsByUID(_ context.Context, uids []string) (map[string]db.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]db.Feed)
	for _, uid := range uids {
		if f, ok := s.feeds[uid]; ok {
			out[uid] = f
		}
	}
	return out, nil
}

func (s *memStore) AdvanceFeedWatermark(_ context.Context, uid string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[uid]
	if !ok {
		return false, nil
	}
	if f.LastPaperDate != nil && !f.LastPaperDate.Before(at) {
		return false, nil
	}
	at = at.UTC()
	f.LastPaperDate = &at
	s.feeds[uid] = f
	return true, nil
}

func (s *memStore) ChildWatermarks(_ context.Context, parentUIDs []string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(parentUIDs))
	for _, uid := range parentUIDs {
		wanted[uid] = struct{}{}
	}
	out := make(map[string]time.Time)
	for _, f := range s.feeds {
		if f.ParentUID == nil || f.LastPaperDate == nil {
			continue
		}
		if _, ok := wanted[*f.ParentUID]; !ok {
			continue
		}
		if cur, ok := out[*f.ParentUID]; !ok || f.LastPaperDate.After(cur) {
			out[*f.ParentUID] = *f.LastPaperDate
		}
	}
	return out, nil
}

func (s *memStore) InPaperTx(ctx context.Context, fn func(db.PaperTx) error) error {
	s.mu.Lock()
	papers := make(map[string]db.Paper, len(s.papers))
	for k, v := range s.papers {
		papers[k] = v
	}
	children := make(map[string]db.PaperChildren, len(s.children))
	for k, v := range s.children {
		children[k] = v
	}
	s.mu.Unlock()

	if err := fn(memTx{s: s}); err != nil {
		s.mu.Lock()
		s.papers = papers
		s.children = children
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) StartImportRun(_ context.Context, run *db.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Status = db.RunStatusRunning
	s.runs[run.RunUUID] = *run
	return nil
}

func (s *memStore) FinishImportRun(_ context.Context, run *db.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunUUID]; !ok {
		return fmt.Errorf("unknown run %s", run.RunUUID)
	}
	s.runs[run.RunUUID] = *run
	return nil
}

func (s *memStore) paper(uid string) (db.Paper, db.PaperChildren, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.papers[uid]
	return p, s.children[uid], ok
}

func (s *memStore) feed(uid string) db.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[uid]
}

func (s *memStore) counts() (papers, authors, feeds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.papers), len(s.authors), len(s.feeds)
}

type memTx struct {
	s *memStore
}

func (t memTx) FindPaper(_ context.Context, uid string) (*db.Paper, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.papers[uid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t memTx) InsertPaper(_ context.Context, paper *db.Paper) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.failPaper[paper.UID]; err != nil {
		return err
	}
	t.s.nextPaperID++
	paper.PaperID = t.s.nextPaperID
	t.s.papers[paper.UID] = *paper
	return nil
}

func (t memTx) UpdatePaperCalculated(_ context.Context, paper *db.Paper) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.failPaper[paper.UID]; err != nil {
		return err
	}
	stored := t.s.papers[paper.UID]
	stored.SubmitDate = paper.SubmitDate
	stored.UpdateDate = paper.UpdateDate
	stored.Pubdate = paper.Pubdate
	stored.AbsURL = paper.AbsURL
	stored.PDFURL = paper.PDFURL
	stored.AuthorStr = paper.AuthorStr
	t.s.papers[paper.UID] = stored
	return nil
}

func (t memTx) ReplacePaperChildren(_ context.Context, uid string, children db.PaperChildren) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.children[uid] = children
	return nil
}

type recordingIndexer struct {
	mu   sync.Mutex
	uids []string
	fail map[string]error
}

func (r *recordingIndexer) IndexOne(_ context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[uid]; err != nil {
		return err
	}
	r.uids = append(r.uids, uid)
	return nil
}
