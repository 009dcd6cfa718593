package ingest

import (
	"fmt"
	"strings"

	"horse.fit/paperfeed/internal/db"
)

// ValidationError rejects a single paper record. The run continues without it.
type ValidationError struct {
	UID    string
	Reason string
}

func (e *ValidationError) Error() string {
	uid := e.UID
	if uid == "" {
		uid = "<missing id>"
	}
	return fmt.Sprintf("paper %s rejected: %s", uid, e.Reason)
}

func invalid(uid, format string, args ...any) *ValidationError {
	return &ValidationError{UID: uid, Reason: fmt.Sprintf(format, args...)}
}

// PartialFailure reports the rows of one entity kind the bulk writer dropped.
type PartialFailure struct {
	Kind     string
	Rejected []db.Rejection
}

const maxListedRejections = 20

func (e *PartialFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "partial import failure: %d %s row(s) rejected", len(e.Rejected), e.Kind)
	for i, r := range e.Rejected {
		if i == maxListedRejections {
			fmt.Fprintf(&b, "; and %d more", len(e.Rejected)-i)
			break
		}
		sep := "; "
		if i == 0 {
			sep = ": "
		}
		fmt.Fprintf(&b, "%s%s (%s: %s) %+v", sep, r.Key, r.Reason, r.Detail, r.Payload)
	}
	return b.String()
}

func partialFailure(result db.BulkResult) *PartialFailure {
	if len(result.Rejected) == 0 {
		return nil
	}
	return &PartialFailure{Kind: result.Entity, Rejected: result.Rejected}
}
