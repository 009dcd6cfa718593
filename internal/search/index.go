// Package search mirrors stored papers into a Bleve full-text index.
package search

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Document is the denormalized search form of a paper.
type Document struct {
	UID               string     `json:"uid"`
	Title             string     `json:"title"`
	Abstract          string     `json:"abstract"`
	Submitter         string     `json:"submitter,omitempty"`
	AuthorComments    string     `json:"author_comments,omitempty"`
	AuthorsFullname   []string   `json:"authors_fullname"`
	AuthorsSearchterm []string   `json:"authors_searchterm"`
	FeedUIDs          []string   `json:"feed_uids"`
	SubmitDate        time.Time  `json:"submit_date"`
	UpdateDate        time.Time  `json:"update_date"`
	Pubdate           *time.Time `json:"pubdate,omitempty"`
	ScitesCount       int        `json:"scites_count"`
	CommentsCount     int        `json:"comments_count"`
	License           string     `json:"license,omitempty"`
	DOI               string     `json:"doi,omitempty"`
	JournalRef        string     `json:"journal_ref,omitempty"`
}

// Index owns a Bleve index that can be dropped and recreated in place. An
// empty path keeps the index in memory.
type Index struct {
	mu    sync.RWMutex
	path  string
	index bleve.Index
}

func Open(path string) (*Index, error) {
	i := &Index{path: strings.TrimSpace(path)}
	if i.path == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		i.index = idx
		return i, nil
	}

	idx, err := bleve.Open(i.path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(i.path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	i.index = idx
	return i, nil
}

// buildIndexMapping analyzes prose in English and keeps identifiers, search
// terms and feed codes as exact keywords.
func buildIndexMapping() mapping.IndexMapping {
	prose := bleve.NewTextFieldMapping()
	prose.Analyzer = en.AnalyzerName

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name

	names := bleve.NewTextFieldMapping()

	dates := bleve.NewDateTimeFieldMapping()
	counts := bleve.NewNumericFieldMapping()

	paper := bleve.NewDocumentMapping()
	paper.AddFieldMappingsAt("uid", exact)
	paper.AddFieldMappingsAt("title", prose)
	paper.AddFieldMappingsAt("abstract", prose)
	paper.AddFieldMappingsAt("submitter", names)
	paper.AddFieldMappingsAt("author_comments", prose)
	paper.AddFieldMappingsAt("authors_fullname", names)
	paper.AddFieldMappingsAt("authors_searchterm", exact)
	paper.AddFieldMappingsAt("feed_uids", exact)
	paper.AddFieldMappingsAt("submit_date", dates)
	paper.AddFieldMappingsAt("update_date", dates)
	paper.AddFieldMappingsAt("pubdate", dates)
	paper.AddFieldMappingsAt("scites_count", counts)
	paper.AddFieldMappingsAt("comments_count", counts)
	paper.AddFieldMappingsAt("license", exact)
	paper.AddFieldMappingsAt("doi", exact)
	paper.AddFieldMappingsAt("journal_ref", names)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = paper
	return indexMapping
}

func (i *Index) IndexDocument(doc Document) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return fmt.Errorf("search index is closed")
	}
	if err := i.index.Index(doc.UID, doc); err != nil {
		return fmt.Errorf("index paper %s: %w", doc.UID, err)
	}
	return nil
}

// BulkIndex writes docs in one Bleve batch.
func (i *Index) BulkIndex(docs []Document) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return fmt.Errorf("search index is closed")
	}
	if len(docs) == 0 {
		return nil
	}

	batch := i.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.UID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.UID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (i *Index) Delete(uid string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return fmt.Errorf("search index is closed")
	}
	return i.index.Delete(uid)
}

// Drop closes the index and removes its files.
func (i *Index) Drop() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.index != nil {
		if err := i.index.Close(); err != nil {
			return fmt.Errorf("close index: %w", err)
		}
		i.index = nil
	}
	if i.path != "" {
		if err := os.RemoveAll(i.path); err != nil {
			return fmt.Errorf("remove index %s: %w", i.path, err)
		}
	}
	return nil
}

// Create builds a fresh empty index. It fails if the index is still open.
func (i *Index) Create() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.index != nil {
		return fmt.Errorf("search index is already open")
	}

	var (
		idx bleve.Index
		err error
	)
	if i.path == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		idx, err = bleve.New(i.path, buildIndexMapping())
	}
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	i.index = idx
	return nil
}

// Lookup returns the stored fields of one document.
func (i *Index) Lookup(uid string) (map[string]any, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return nil, false, fmt.Errorf("search index is closed")
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{uid}))
	req.Fields = []string{"*"}
	res, err := i.index.Search(req)
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", uid, err)
	}
	if len(res.Hits) == 0 {
		return nil, false, nil
	}
	return res.Hits[0].Fields, true, nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.index == nil {
		return 0, fmt.Errorf("search index is closed")
	}
	return i.index.DocCount()
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.index == nil {
		return nil
	}
	err := i.index.Close()
	i.index = nil
	return err
}
