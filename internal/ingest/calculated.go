package ingest

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	announcementZone = "America/New_York"
	announcementHour = 20
)

// Schedule maps a submission time to the time the archive announces it.
// Submissions close at the deadline hour on weekdays; Monday to Thursday
// closings are announced that evening, Friday closings on Sunday evening.
type Schedule struct {
	loc          *time.Location
	deadlineHour int
}

func NewSchedule(deadlineHour int) (Schedule, error) {
	if deadlineHour < 0 || deadlineHour >= announcementHour {
		return Schedule{}, fmt.Errorf("deadline hour %d must be within 0..%d", deadlineHour, announcementHour-1)
	}
	loc, err := time.LoadLocation(announcementZone)
	if err != nil {
		return Schedule{}, fmt.Errorf("load %s: %w", announcementZone, err)
	}
	return Schedule{loc: loc, deadlineHour: deadlineHour}, nil
}

// Pubdate returns the announcement instant in UTC.
func (s Schedule) Pubdate(submitted time.Time) time.Time {
	local := submitted.In(s.loc)
	y, m, d := local.Date()
	deadline := time.Date(y, m, d, s.deadlineHour, 0, 0, 0, s.loc)

	if !local.Before(deadline) {
		deadline = s.shiftDays(deadline, 1)
	}
	for isWeekend(deadline.Weekday()) {
		deadline = s.shiftDays(deadline, 1)
	}

	daysAfter := 0
	if deadline.Weekday() == time.Friday {
		daysAfter = 2
	}
	dy, dm, dd := deadline.Date()
	announced := time.Date(dy, dm, dd+daysAfter, announcementHour, 0, 0, 0, s.loc)
	return announced.UTC()
}

// shiftDays moves by calendar days, keeping the wall clock across DST changes.
func (s Schedule) shiftDays(t time.Time, days int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, t.Hour(), t.Minute(), 0, 0, s.loc)
}

func isWeekend(day time.Weekday) bool {
	return day == time.Saturday || day == time.Sunday
}

// AbsURL and PDFURL derive landing and PDF links from the paper identifier.
func AbsURL(baseURL, uid string) string {
	return strings.TrimRight(baseURL, "/") + "/abs/" + uid
}

func PDFURL(baseURL, uid string) string {
	return strings.TrimRight(baseURL, "/") + "/pdf/" + uid + ".pdf"
}
