package db

import "time"

// Paper maps papers. UID is the archive identifier and the join key for every
// child table.
type Paper struct {
	PaperID        int64      `gorm:"column:paper_id;primaryKey;autoIncrement"`
	UID            string     `gorm:"column:uid;type:text;not null;uniqueIndex"`
	Submitter      *string    `gorm:"column:submitter;type:text"`
	Title          string     `gorm:"column:title;type:text;not null"`
	Abstract       string     `gorm:"column:abstract;type:text;not null"`
	AuthorComments *string    `gorm:"column:author_comments;type:text"`
	MSCClass       *string    `gorm:"column:msc_class;type:text"`
	ReportNo       *string    `gorm:"column:report_no;type:text"`
	JournalRef     *string    `gorm:"column:journal_ref;type:text"`
	DOI            *string    `gorm:"column:doi;type:text"`
	Proxy          *string    `gorm:"column:proxy;type:text"`
	License        *string    `gorm:"column:license;type:text"`
	SubmitDate     time.Time  `gorm:"column:submit_date;type:timestamptz;not null"`
	UpdateDate     time.Time  `gorm:"column:update_date;type:timestamptz;not null"`
	Pubdate        *time.Time `gorm:"column:pubdate;type:timestamptz;index"`
	AbsURL         string     `gorm:"column:abs_url;type:text;not null"`
	PDFURL         string     `gorm:"column:pdf_url;type:text;not null"`
	AuthorStr      string     `gorm:"column:author_str;type:text;not null"`
	ScitesCount    int        `gorm:"column:scites_count;type:integer;not null;default:0"`
	CommentsCount  int        `gorm:"column:comments_count;type:integer;not null;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Paper) TableName() string { return "papers" }

// Updated reports whether the paper has been revised since submission.
func (p Paper) Updated() bool {
	return p.UpdateDate.After(p.SubmitDate)
}

// Version maps versions, ordered by Position within a paper.
type Version struct {
	PaperUID string    `gorm:"column:paper_uid;type:text;primaryKey"`
	Position int       `gorm:"column:position;type:integer;primaryKey"`
	Date     time.Time `gorm:"column:date;type:timestamptz;not null"`
	Size     *string   `gorm:"column:size;type:text"`
}

func (Version) TableName() string { return "versions" }

// Author maps authors. Rows are insert-only; Fingerprint is the dedup identity.
type Author struct {
	AuthorID    int64     `gorm:"column:author_id;primaryKey;autoIncrement"`
	Fingerprint string    `gorm:"column:fingerprint;type:text;not null;uniqueIndex"`
	Forenames   *string   `gorm:"column:forenames;type:text"`
	Keyname     string    `gorm:"column:keyname;type:text;not null"`
	Suffix      *string   `gorm:"column:suffix;type:text"`
	Affiliation *string   `gorm:"column:affiliation;type:text"`
	Searchterm  string    `gorm:"column:searchterm;type:text;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Author) TableName() string { return "authors" }

// Authorship maps authorships, the per-paper author link. Fullname and Searchterm
// are copied from the author so display order survives without a join.
type Authorship struct {
	PaperUID   string `gorm:"column:paper_uid;type:text;primaryKey"`
	Position   int    `gorm:"column:position;type:integer;primaryKey"`
	AuthorID   *int64 `gorm:"column:author_id;type:bigint;index"`
	Fullname   string `gorm:"column:fullname;type:text;not null"`
	Searchterm string `gorm:"column:searchterm;type:text;not null"`
}

func (Authorship) TableName() string { return "authorships" }

// Feed maps feeds, the subject taxonomy.
type Feed struct {
	FeedID        int64      `gorm:"column:feed_id;primaryKey;autoIncrement"`
	UID           string     `gorm:"column:uid;type:text;not null;uniqueIndex"`
	Name          string     `gorm:"column:name;type:text;not null"`
	ParentUID     *string    `gorm:"column:parent_uid;type:text;index"`
	LastPaperDate *time.Time `gorm:"column:last_paper_date;type:timestamptz"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Feed) TableName() string { return "feeds" }

// Category maps categories, the paper-to-feed link.
type Category struct {
	PaperUID string `gorm:"column:paper_uid;type:text;primaryKey"`
	Position int    `gorm:"column:position;type:integer;primaryKey"`
	FeedUID  string `gorm:"column:feed_uid;type:text;not null;index"`
}

func (Category) TableName() string { return "categories" }

// Scite maps scites, a user's endorsement of a paper.
type Scite struct {
	SciteID   int64     `gorm:"column:scite_id;primaryKey;autoIncrement"`
	PaperUID  string    `gorm:"column:paper_uid;type:text;not null;uniqueIndex:scites_paper_user"`
	UserID    int64     `gorm:"column:user_id;type:bigint;not null;uniqueIndex:scites_paper_user"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Scite) TableName() string { return "scites" }

// Comment maps comments. Only the counting columns matter to this service.
type Comment struct {
	CommentID int64     `gorm:"column:comment_id;primaryKey;autoIncrement"`
	PaperUID  string    `gorm:"column:paper_uid;type:text;not null;index"`
	UserID    int64     `gorm:"column:user_id;type:bigint;not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	Deleted   bool      `gorm:"column:deleted;type:boolean;not null;default:false"`
	Hidden    bool      `gorm:"column:hidden;type:boolean;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Comment) TableName() string { return "comments" }

// ImportRun maps import_runs, the ledger of orchestrator runs.
type ImportRun struct {
	RunID          int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID        string     `gorm:"column:run_uuid;type:uuid;not null;unique"`
	Source         string     `gorm:"column:source;type:text;not null"`
	StartedAt      time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt     *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status         string     `gorm:"column:status;type:text;not null;default:running"`
	RecordsRead    int        `gorm:"column:records_read;type:integer;not null;default:0"`
	PapersNew      int        `gorm:"column:papers_new;type:integer;not null;default:0"`
	PapersExisting int        `gorm:"column:papers_existing;type:integer;not null;default:0"`
	RowsRejected   int        `gorm:"column:rows_rejected;type:integer;not null;default:0"`
	ErrorMessage   *string    `gorm:"column:error_message;type:text"`
}

func (ImportRun) TableName() string { return "import_runs" }

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// PaperChildren is the complete child state of one paper, replaced as a unit.
type PaperChildren struct {
	Versions    []Version
	Authorships []Authorship
	Categories  []Category
}

// PaperDocument is a paper joined with its ordered authors and feeds, the input
// for search indexing.
type PaperDocument struct {
	Paper       Paper
	Authorships []Authorship
	FeedUIDs    []string
}

func autoMigrateModels() []any {
	return []any{
		&Paper{},
		&Version{},
		&Author{},
		&Authorship{},
		&Feed{},
		&Category{},
		&Scite{},
		&Comment{},
		&ImportRun{},
	}
}
