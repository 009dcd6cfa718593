// Package feed reads bulk paper metadata feeds: JSON Lines files with one paper
// record per line, validated against an embedded schema.
package feed

import (
	"fmt"
	"strings"
	"time"

	"horse.fit/paperfeed/internal/fingerprint"
)

// Record is one raw paper as delivered by the archive feed.
type Record struct {
	ID         string    `json:"id"`
	Submitter  *string   `json:"submitter,omitempty"`
	Title      string    `json:"title"`
	Abstract   string    `json:"abstract"`
	Comments   *string   `json:"comments,omitempty"`
	MSCClass   *string   `json:"msc_class,omitempty"`
	ReportNo   *string   `json:"report_no,omitempty"`
	JournalRef *string   `json:"journal_ref,omitempty"`
	DOI        *string   `json:"doi,omitempty"`
	Proxy      *string   `json:"proxy,omitempty"`
	License    *string   `json:"license,omitempty"`
	Categories []string  `json:"categories"`
	Authors    []Author  `json:"authors"`
	Versions   []Version `json:"versions"`
}

// Author is an embedded author sub-record. Absent and null fields stay nil.
type Author struct {
	Keyname     *string `json:"keyname"`
	Forenames   *string `json:"forenames,omitempty"`
	Suffix      *string `json:"suffix,omitempty"`
	Affiliation *string `json:"affiliation,omitempty"`
}

func (a Author) Fields() fingerprint.AuthorFields {
	return fingerprint.AuthorFields{
		Forenames:   a.Forenames,
		Keyname:     a.Keyname,
		Suffix:      a.Suffix,
		Affiliation: a.Affiliation,
	}
}

// Version is one revision entry; Date is kept raw until the record is reconciled.
type Version struct {
	Date string `json:"date"`
	Size string `json:"size"`
}

var versionDateLayouts = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// Time parses the version date. The archive emits RFC1123 dates with a GMT zone;
// RFC3339 is accepted for re-exported feeds.
func (v Version) Time() (time.Time, error) {
	raw := strings.TrimSpace(v.Date)
	if raw == "" {
		return time.Time{}, fmt.Errorf("version date is empty")
	}
	for _, layout := range versionDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("version date %q is not RFC3339 or RFC1123", raw)
}
