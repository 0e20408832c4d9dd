// Package adherence turns sparse daily check-ins into streak and compliance
// metrics. All date arithmetic for check-ins lives here; callers pass the
// reference date explicitly.
package adherence

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"vitalscore/internal/models"
)

const DateLayout = "2006-01-02"

// ErrInvalidDate matches any *InvalidDateError via errors.Is.
var ErrInvalidDate = errors.New("invalid date")

type InvalidDateError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidDateError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidDateError) Is(target error) bool { return target == ErrInvalidDate }

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(field, s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &InvalidDateError{Field: field, Value: s, Reason: "expected YYYY-MM-DD"}
	}
	return d, nil
}

// Day returns t's calendar date, as read in t's location, at UTC midnight.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from a to b; negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

type StreakState struct {
	CurrentStreak  int    `json:"current_streak"`
	LongestStreak  int    `json:"longest_streak"`
	MissedDays     int    `json:"missed_days"`
	ComplianceRate int    `json:"compliance_rate"`
	ElapsedDays    int    `json:"elapsed_days"`
	LoggedDays     int    `json:"logged_days"`
	DuplicateDays  int    `json:"duplicate_days"`
	LoggedToday    bool   `json:"logged_today"`
	LastLogDate    string `json:"last_log_date,omitempty"`
}

// Compute derives the streak state as of asOf for a program that began on
// start. A nil start yields the zero state.
//
// Entries may arrive in any order. Entries dated before start or after asOf
// are outside the program window and ignored. Several entries on the same
// day count once and are reported in DuplicateDays.
func Compute(entries []models.DailyLogEntry, start *time.Time, asOf time.Time) (StreakState, error) {
	if start == nil {
		return StreakState{}, nil
	}
	if start.IsZero() {
		return StreakState{}, &InvalidDateError{Field: "start_date", Reason: "is zero"}
	}
	if asOf.IsZero() {
		return StreakState{}, &InvalidDateError{Field: "as_of", Reason: "is zero"}
	}
	from, to := Day(*start), Day(asOf)
	if to.Before(from) {
		return StreakState{}, &InvalidDateError{
			Field:  "as_of",
			Value:  to.Format(DateLayout),
			Reason: "is before start date " + from.Format(DateLayout),
		}
	}

	days, dups, err := loggedDays(entries, from, to)
	if err != nil {
		return StreakState{}, err
	}

	st := StreakState{
		ElapsedDays:   DaysBetween(from, to) + 1,
		LoggedDays:    len(days),
		DuplicateDays: dups,
	}
	st.MissedDays = max(0, st.ElapsedDays-st.LoggedDays)
	if st.ElapsedDays > 0 {
		st.ComplianceRate = int(math.Round(float64(st.LoggedDays) / float64(st.ElapsedDays) * 100))
	}
	if len(days) == 0 {
		return st, nil
	}

	st.LastLogDate = days[0].Format(DateLayout)
	st.LoggedToday = days[0].Equal(to)

	// A streak is still alive if the last check-in was today or yesterday.
	if DaysBetween(days[0], to) <= 1 {
		st.CurrentStreak = 1
		for i := 1; i < len(days); i++ {
			if DaysBetween(days[i], days[i-1]) != 1 {
				break
			}
			st.CurrentStreak++
		}
	}

	run := 1
	st.LongestStreak = 1
	for i := 1; i < len(days); i++ {
		if DaysBetween(days[i], days[i-1]) == 1 {
			run++
		} else {
			run = 1
		}
		st.LongestStreak = max(st.LongestStreak, run)
	}
	return st, nil
}

// loggedDays returns the distinct in-window days, most recent first.
func loggedDays(entries []models.DailyLogEntry, from, to time.Time) ([]time.Time, int, error) {
	seen := make(map[int64]struct{}, len(entries))
	days := make([]time.Time, 0, len(entries))
	dups := 0
	for _, e := range entries {
		if e.Date.IsZero() {
			return nil, 0, &InvalidDateError{Field: "date", Reason: fmt.Sprintf("check-in for user %d has no date", e.UserID)}
		}
		d := Day(e.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		if _, ok := seen[d.Unix()]; ok {
			dups++
			continue
		}
		seen[d.Unix()] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days, dups, nil
}
