package workflow

import (
	"time"

	"siteline/internal/domain"
)

const dateLayout = "2006-01-02"

// Classify decides whether a closure is on time. A record with no
// planned close date is always on time; otherwise the UTC calendar
// date of closedAt is compared against the planned date, so closing on
// the deadline day itself counts as on time regardless of clock time.
// The result is stamped once at the closing transition and never
// recomputed.
func Classify(plannedCloseDate *string, closedAt time.Time) string {
	if plannedCloseDate == nil || *plannedCloseDate == "" {
		return domain.ClosureOnTime
	}
	planned, err := time.ParseInLocation(dateLayout, *plannedCloseDate, time.UTC)
	if err != nil {
		return domain.ClosureOnTime
	}
	c := closedAt.UTC()
	closedDay := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)
	if closedDay.After(planned) {
		return domain.ClosureLate
	}
	return domain.ClosureOnTime
}

// ValidPlannedCloseDate reports whether s parses as a YYYY-MM-DD date.
func ValidPlannedCloseDate(s string) bool {
	_, err := time.ParseInLocation(dateLayout, s, time.UTC)
	return err == nil
}
