package feed

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const maxLineBytes = 16 << 20

// LineError reports a feed line that could not be decoded into a Record. The
// reader stays usable after returning one.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("feed line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Reader yields records lazily from a JSON Lines stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next record, a *LineError for an invalid line, or io.EOF.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		raw := bytes.TrimSpace(r.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		record, err := DecodeRecord(raw)
		if err != nil {
			return Record{}, &LineError{Line: r.line, Err: err}
		}
		return record, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("scan feed: %w", err)
	}
	return Record{}, io.EOF
}

// ReadBatch collects up to n records. Invalid lines are returned in skipped and do
// not count toward n. err is io.EOF once the stream is exhausted; records read
// before the end are still returned alongside it.
func ReadBatch(r *Reader, n int) (records []Record, skipped []*LineError, err error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("batch size must be > 0")
	}
	records = make([]Record, 0, n)
	for len(records) < n {
		record, err := r.Next()
		if err != nil {
			var lineErr *LineError
			if errors.As(err, &lineErr) {
				skipped = append(skipped, lineErr)
				continue
			}
			return records, skipped, err
		}
		records = append(records, record)
	}
	return records, skipped, nil
}
