package feed

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const nelsonRecord = `{"id":"0811.3648","submitter":"Jelani Nelson","title":"Revisiting Norm Estimation in Data Streams","abstract":"The problem of estimating the pth moment F_p","categories":["cs.DS","cs.CC"],"authors":[{"keyname":"Kane","forenames":"Daniel M."},{"keyname":"Nelson","forenames":"Jelani"},{"keyname":"Woodruff","forenames":"David P."}],"versions":[{"date":"Fri, 21 Nov 2008 22:55:07 GMT","size":"90kb"},{"date":"2009-04-09T02:45:30Z","size":"71kb"}]}`

func TestReader_YieldsRecordsAndLineErrors(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		nelsonRecord,
		"",
		`{"title":"missing id"}`,
		`{"id":"0901.0001","authors":[{"keyname":"Smith","forenames":null}]}`,
	}, "\n")

	reader := NewReader(strings.NewReader(input))

	first, err := reader.Next()
	if err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	if first.ID != "0811.3648" {
		t.Fatalf("unexpected id: got %q want %q", first.ID, "0811.3648")
	}
	if len(first.Authors) != 3 || *first.Authors[1].Keyname != "Nelson" {
		t.Fatalf("unexpected authors: %+v", first.Authors)
	}
	if first.Authors[0].Suffix != nil {
		t.Fatalf("expected absent suffix to stay nil")
	}

	_, err = reader.Next()
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected LineError for record without id, got %v", err)
	}
	if lineErr.Line != 3 {
		t.Fatalf("unexpected line number: got %d want 3", lineErr.Line)
	}

	third, err := reader.Next()
	if err != nil {
		t.Fatalf("third record failed: %v", err)
	}
	if third.Authors[0].Forenames != nil {
		t.Fatalf("expected null forenames to decode as nil")
	}

	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadBatch_SplitsAndSkips(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"id":"a"}`,
		`not json`,
		`{"id":"b"}`,
		`{"id":"c"}`,
	}, "\n")
	reader := NewReader(strings.NewReader(input))

	batch, skipped, err := ReadBatch(reader, 2)
	if err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if len(batch) != 2 || batch[0].ID != "a" || batch[1].ID != "b" {
		t.Fatalf("unexpected first batch: %+v", batch)
	}
	if len(skipped) != 1 {
		t.Fatalf("expected one skipped line, got %d", len(skipped))
	}

	batch, _, err = ReadBatch(reader, 2)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on final batch, got %v", err)
	}
	if len(batch) != 1 || batch[0].ID != "c" {
		t.Fatalf("unexpected final batch: %+v", batch)
	}
}

func TestVersionTime(t *testing.T) {
	t.Parallel()

	want := time.Date(2008, 11, 21, 22, 55, 7, 0, time.UTC)
	for _, raw := range []string{"Fri, 21 Nov 2008 22:55:07 GMT", "2008-11-21T22:55:07Z"} {
		got, err := Version{Date: raw}.Time()
		if err != nil {
			t.Fatalf("parse %q failed: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("unexpected time for %q: got %s want %s", raw, got, want)
		}
	}
	if _, err := (Version{Date: "yesterday"}).Time(); err == nil {
		t.Fatalf("expected unparseable date to fail")
	}
}

func TestOpen_GzipFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.jsonl.gz")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	gz := gzip.NewWriter(file)
	if _, err := gz.Write([]byte(nelsonRecord + "\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("file close failed: %v", err)
	}

	rc, err := Open(context.Background(), path, S3Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()

	record, err := NewReader(rc).Next()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if record.ID != "0811.3648" {
		t.Fatalf("unexpected id: %q", record.ID)
	}
}

func TestParseS3Location(t *testing.T) {
	t.Parallel()

	bucket, key, err := parseS3Location("s3://arxiv-feeds/daily/2008-11-25.jsonl.gz")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if bucket != "arxiv-feeds" || key != "daily/2008-11-25.jsonl.gz" {
		t.Fatalf("unexpected location parts: bucket=%q key=%q", bucket, key)
	}
	if _, _, err := parseS3Location("s3://bucket-only"); err == nil {
		t.Fatalf("expected missing key to fail")
	}
}
