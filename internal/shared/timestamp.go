package shared

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// SourceTimeLayout is the fixed wall-clock layout emitted by the review source.
const SourceTimeLayout = "2006-01-02 15:04:05"

var timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

// FormatError reports input that does not match YYYY-MM-DD HH:mm:ss.
type FormatError struct{ Input string }

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid timestamp format: expected 'YYYY-MM-DD HH:mm:ss', got %q", e.Input)
}

// RangeError reports a well-formed timestamp whose fields are out of range
// or that names a day the calendar does not have.
type RangeError struct {
	Input string
	Field string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: %s out of range", e.Input, e.Field)
}

// ParseTimestamp reads s as UTC wall-clock fields. No timezone inference happens:
// the same input yields the same instant on every host.
func ParseTimestamp(s string) (time.Time, error) {
	if !timestampRe.MatchString(s) {
		return time.Time{}, &FormatError{Input: s}
	}
	// fixed offsets are safe after the regexp check
	num := func(from, to int) int {
		n, _ := strconv.Atoi(s[from:to])
		return n
	}
	year, month, day := num(0, 4), num(5, 7), num(8, 10)
	hour, minute, second := num(11, 13), num(14, 16), num(17, 19)

	switch {
	case month < 1 || month > 12:
		return time.Time{}, &RangeError{Input: s, Field: "month"}
	case day < 1 || day > 31:
		return time.Time{}, &RangeError{Input: s, Field: "day"}
	case hour > 23:
		return time.Time{}, &RangeError{Input: s, Field: "hour"}
	case minute > 59:
		return time.Time{}, &RangeError{Input: s, Field: "minute"}
	case second > 59:
		return time.Time{}, &RangeError{Input: s, Field: "second"}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	// time.Date normalizes Feb 30 into March; reject anything that did not round-trip
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, &RangeError{Input: s, Field: "day"}
	}
	return t, nil
}
