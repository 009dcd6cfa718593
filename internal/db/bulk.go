package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"horse.fit/paperfeed/internal/clock"
)

const (
	RejectDuplicate = "duplicate"
	RejectInvalid   = "invalid"

	// Postgres caps a statement at 65535 bind parameters.
	maxBindParams = 65535
)

// Rejection is one row the bulk writer did not persist.
type Rejection struct {
	Key     string
	Reason  string
	Detail  string
	Payload any
}

// BulkResult reports which keys were persisted (with their generated ids) and
// which rows were rejected.
type BulkResult struct {
	Entity    string
	Persisted map[string]int64
	Rejected  []Rejection
}

func (r *BulkResult) reject(key, reason, detail string, payload any) {
	r.Rejected = append(r.Rejected, Rejection{Key: key, Reason: reason, Detail: detail, Payload: payload})
}

type bulkTable[T any] struct {
	entity    string
	table     string
	columns   []string
	keyColumn string
	idColumn  string
	key       func(T) string
	values    func(T) []any
	check     func(T) error
}

func (t bulkTable[T]) rowsPerStatement() int {
	return max(1, min(1000, maxBindParams/len(t.columns)))
}

func (t bulkTable[T]) insertSQL(rowCount int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.table)
	b.WriteString(" (")
	b.WriteString(strings.Join(t.columns, ", "))
	b.WriteString(") VALUES ")

	param := 1
	for i := 0; i < rowCount; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range t.columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(param))
			param++
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING RETURNING %s, %s", t.keyColumn, t.keyColumn, t.idColumn)
	return b.String()
}

// bulkInsert writes rows with multi-row INSERT ... ON CONFLICT DO NOTHING.
// Rows failing the local check are rejected up front. When a statement still
// fails on row data, that slice is replayed one row per savepoint so only the
// offending rows are dropped. Rows that hit an existing key are reported as
// duplicates.
func bulkInsert[T any](ctx context.Context, p *Pool, t bulkTable[T], rows []T) (BulkResult, error) {
	result := BulkResult{Entity: t.entity, Persisted: make(map[string]int64, len(rows))}
	if len(rows) == 0 {
		return result, nil
	}
	conn, err := p.conn()
	if err != nil {
		return result, err
	}

	valid := make([]T, 0, len(rows))
	for _, row := range rows {
		if err := t.check(row); err != nil {
			result.reject(t.key(row), RejectInvalid, err.Error(), row)
			continue
		}
		valid = append(valid, row)
	}

	step := t.rowsPerStatement()
	for start := 0; start < len(valid); start += step {
		chunk := valid[start:min(start+step, len(valid))]

		persisted, err := insertChunk(ctx, conn, t, chunk)
		if err != nil {
			if !IsRowRejection(err) {
				return result, fmt.Errorf("bulk insert %s: %w", t.table, err)
			}
			if err := insertRowByRow(ctx, p, t, chunk, &result); err != nil {
				return result, err
			}
			continue
		}

		for _, row := range chunk {
			key := t.key(row)
			if id, ok := persisted[key]; ok {
				result.Persisted[key] = id
				continue
			}
			if _, ok := result.Persisted[key]; ok {
				continue
			}
			result.reject(key, RejectDuplicate, "key already present", row)
		}
	}
	return result, nil
}

func insertChunk[T any](ctx context.Context, q querier, t bulkTable[T], chunk []T) (map[string]int64, error) {
	args := make([]any, 0, len(chunk)*len(t.columns))
	for _, row := range chunk {
		args = append(args, t.values(row)...)
	}

	rows, err := q.Query(ctx, t.insertSQL(len(chunk)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64, len(chunk))
	for rows.Next() {
		var (
			key string
			id  int64
		)
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		out[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func insertRowByRow[T any](ctx context.Context, p *Pool, t bulkTable[T], chunk []T, result *BulkResult) error {
	query := t.insertSQL(1)
	persisted := make(map[string]int64, len(chunk))
	var rejected []Rejection

	err := p.withTx(ctx, func(tx *gorm.DB) error {
		conn := gormConn{db: tx}
		for _, row := range chunk {
			key := t.key(row)
			if _, err := conn.Exec(ctx, "SAVEPOINT bulk_row"); err != nil {
				return err
			}

			var (
				gotKey string
				id     int64
			)
			err := conn.QueryRow(ctx, query, t.values(row)...).Scan(&gotKey, &id)
			switch classifyRow(err) {
			case rowPersisted:
				persisted[gotKey] = id
			case rowConflict:
				if _, seen := persisted[key]; !seen {
					rejected = append(rejected, Rejection{Key: key, Reason: RejectDuplicate, Detail: "key already present", Payload: row})
				}
			case rowInvalid:
				if _, rbErr := conn.Exec(ctx, "ROLLBACK TO SAVEPOINT bulk_row"); rbErr != nil {
					return rbErr
				}
				rejected = append(rejected, Rejection{Key: key, Reason: RejectInvalid, Detail: DescribeRejection(err), Payload: row})
				continue
			default:
				return err
			}

			if _, err := conn.Exec(ctx, "RELEASE SAVEPOINT bulk_row"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bulk insert %s row by row: %w", t.table, err)
	}

	for key, id := range persisted {
		result.Persisted[key] = id
	}
	result.Rejected = append(result.Rejected, rejected...)
	return nil
}

type rowOutcome int

const (
	rowFailed rowOutcome = iota
	rowPersisted
	rowConflict
	rowInvalid
)

// classifyRow maps the error of a single-row insert to what the replay does
// with that row. ON CONFLICT DO NOTHING returns no row for an existing key.
func classifyRow(err error) rowOutcome {
	switch {
	case err == nil:
		return rowPersisted
	case IsNoRows(err):
		return rowConflict
	case IsRowRejection(err):
		return rowInvalid
	default:
		return rowFailed
	}
}

func checkText(field, value string) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", field)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a NUL byte", field)
	}
	return nil
}

func checkOptionalText(field string, value *string) error {
	if value == nil {
		return nil
	}
	return checkText(field, *value)
}

var authorTable = bulkTable[Author]{
	entity:    "author",
	table:     "authors",
	columns:   []string{"fingerprint", "forenames", "keyname", "suffix", "affiliation", "searchterm", "created_at"},
	keyColumn: "fingerprint",
	idColumn:  "author_id",
	key:       func(a Author) string { return a.Fingerprint },
	values: func(a Author) []any {
		return []any{a.Fingerprint, a.Forenames, a.Keyname, a.Suffix, a.Affiliation, a.Searchterm, clock.UTC()}
	},
	check: checkAuthor,
}

func checkAuthor(a Author) error {
	if len(a.Fingerprint) != 64 {
		return fmt.Errorf("fingerprint must be 64 characters, got %d", len(a.Fingerprint))
	}
	if strings.TrimSpace(a.Keyname) == "" {
		return fmt.Errorf("keyname is required")
	}
	if err := checkOptionalText("forenames", a.Forenames); err != nil {
		return err
	}
	if err := checkOptionalText("suffix", a.Suffix); err != nil {
		return err
	}
	if err := checkOptionalText("affiliation", a.Affiliation); err != nil {
		return err
	}
	if err := checkText("keyname", a.Keyname); err != nil {
		return err
	}
	return checkText("searchterm", a.Searchterm)
}

var feedTable = bulkTable[Feed]{
	entity:    "feed",
	table:     "feeds",
	columns:   []string{"uid", "name", "parent_uid", "created_at", "updated_at"},
	keyColumn: "uid",
	idColumn:  "feed_id",
	key:       func(f Feed) string { return f.UID },
	values: func(f Feed) []any {
		now := clock.UTC()
		return []any{f.UID, f.Name, f.ParentUID, now, now}
	},
	check: checkFeed,
}

func checkFeed(f Feed) error {
	if strings.TrimSpace(f.UID) == "" {
		return fmt.Errorf("uid is required")
	}
	if f.ParentUID != nil && *f.ParentUID == f.UID {
		return fmt.Errorf("feed %q cannot be its own parent", f.UID)
	}
	if err := checkText("uid", f.UID); err != nil {
		return err
	}
	if err := checkText("name", f.Name); err != nil {
		return err
	}
	return checkOptionalText("parent_uid", f.ParentUID)
}

// InsertAuthors bulk-inserts author rows keyed by fingerprint.
func (p *Pool) InsertAuthors(ctx context.Context, rows []Author) (BulkResult, error) {
	return bulkInsert(ctx, p, authorTable, rows)
}

// InsertFeeds bulk-inserts feed rows keyed by uid.
func (p *Pool) InsertFeeds(ctx context.Context, rows []Feed) (BulkResult, error) {
	return bulkInsert(ctx, p, feedTable, rows)
}
