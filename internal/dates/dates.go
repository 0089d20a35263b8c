// Package dates turns the day-first, period-delimited dates printed on
// receipts (DD.MM.YY or DD.MM.YYYY) and their HH:MM times into canonical
// timestamps. Malformed input never fails: it degrades to a fallback value.
package dates

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical form of a date without a time component.
const DateLayout = "2006-01-02"

var (
	errFieldCount = errors.New("unexpected number of fields")
	errNotNumeric = errors.New("non-numeric component")
	errOutOfRange = errors.New("component out of range")
)

// NormalizeDate converts DD.MM.YY or DD.MM.YYYY into YYYY-MM-DD. Two-digit
// years are widened by prefixing "20". If the input cannot be parsed the
// original string is returned unchanged.
func NormalizeDate(date string) string {
	year, month, day, err := parseDate(date)
	if err != nil {
		slog.Warn("Failed to normalize date, keeping original", "date", date, "error", err)
		return date
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// NormalizeDateTime builds the instant described by a receipt date and a
// HH:MM clock reading in loc. If either part is malformed, or the reading
// falls into a daylight saving gap in loc, it returns now.
func NormalizeDateTime(date, clock string, loc *time.Location, now time.Time) time.Time {
	if loc == nil {
		loc = time.Local
	}

	year, month, day, err := parseDate(date)
	if err != nil {
		slog.Warn("Failed to normalize date, using current time", "date", date, "time", clock, "error", err)
		return now
	}
	hour, minute, err := parseClock(clock)
	if err != nil {
		slog.Warn("Failed to normalize time, using current time", "date", date, "time", clock, "error", err)
		return now
	}

	// Clock readings skipped by a daylight saving change do not exist in loc
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Hour() != hour || t.Minute() != minute {
		slog.Warn("Time does not exist in location, using current time", "date", date, "time", clock, "location", loc.String())
		return now
	}
	return t
}

// Canonical returns the storage form of a receipt's point in time. With a
// clock reading it is an RFC 3339 instant in UTC; without one it is the
// date-only form produced by NormalizeDate. A blank date without a clock
// reading becomes today's date in loc.
func Canonical(date, clock string, loc *time.Location, now time.Time) string {
	if strings.TrimSpace(clock) == "" {
		if strings.TrimSpace(date) == "" {
			if loc == nil {
				loc = time.Local
			}
			return now.In(loc).Format(DateLayout)
		}
		return NormalizeDate(date)
	}
	return NormalizeDateTime(date, clock, loc, now).UTC().Format(time.RFC3339)
}

// Parse reads a canonical value back. Date-only values are interpreted as
// midnight in loc. It reports false for values that kept their original,
// unparsed text.
func Parse(canonical string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339, canonical); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(DateLayout, canonical, loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseDate(date string) (year, month, day int, err error) {
	fields := strings.Split(strings.TrimSpace(date), ".")
	if len(fields) != 3 {
		return 0, 0, 0, errFieldCount
	}

	if day, err = digits(fields[0]); err != nil {
		return 0, 0, 0, err
	}
	if month, err = digits(fields[1]); err != nil {
		return 0, 0, 0, err
	}

	yearText := fields[2]
	switch len(yearText) {
	case 2:
		yearText = "20" + yearText
	case 4:
	default:
		return 0, 0, 0, errOutOfRange
	}
	if year, err = digits(yearText); err != nil {
		return 0, 0, 0, err
	}

	if month < 1 || month > 12 || day < 1 {
		return 0, 0, 0, errOutOfRange
	}
	// time.Date normalizes overflow, so a changed day means it did not exist.
	if t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC); t.Day() != day {
		return 0, 0, 0, errOutOfRange
	}
	return year, month, day, nil
}

func parseClock(clock string) (hour, minute int, err error) {
	fields := strings.Split(strings.TrimSpace(clock), ":")
	// Seconds are accepted but not kept.
	if len(fields) != 2 && len(fields) != 3 {
		return 0, 0, errFieldCount
	}
	if hour, err = digits(fields[0]); err != nil {
		return 0, 0, err
	}
	if minute, err = digits(fields[1]); err != nil {
		return 0, 0, err
	}
	if len(fields) == 3 {
		if _, err = digits(fields[2]); err != nil {
			return 0, 0, err
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, errOutOfRange
	}
	return hour, minute, nil
}

// digits parses an unsigned decimal component, rejecting signs and spaces
// that strconv.Atoi would otherwise accept or report less clearly.
func digits(s string) (int, error) {
	if s == "" {
		return 0, errNotNumeric
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotNumeric
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errNotNumeric
	}
	return n, nil
}
