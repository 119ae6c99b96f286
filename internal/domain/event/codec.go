package event

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Display layouts used at the presentation boundary only.
const (
	DisplayDateLayout      = "January 2, 2006"
	ShortDisplayDateLayout = "Jan 2, 2006"
)

var (
	displayTimePattern   = regexp.MustCompile(`^(0?[1-9]|1[0-2]):([0-5][0-9]) (AM|PM)$`)
	canonicalTimePattern = regexp.MustCompile(`^(\d{2}):(\d{2})$`)
	canonicalDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// IsDisplayTime reports whether s is a 12-hour clock time such as "2:30 PM".
func IsDisplayTime(s string) bool {
	return displayTimePattern.MatchString(s)
}

// IsCanonicalTime reports whether s is a valid 24-hour "HH:MM" time.
func IsCanonicalTime(s string) bool {
	_, _, err := parseClock(s)
	return err == nil
}

// IsCanonicalDate reports whether s is a real calendar day in "YYYY-MM-DD" form.
func IsCanonicalDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// ToCanonicalTime converts "h:mm AM/PM" to "HH:MM".
// PRE: display matches the 12-hour pattern
// POST: 12:xx AM maps to 00:xx, 12:xx PM maps to 12:xx
func ToCanonicalTime(display string) (string, error) {
	m := displayTimePattern.FindStringSubmatch(display)
	if m == nil {
		return "", fmt.Errorf("%w: display time %q", ErrMalformedInput, display)
	}
	h, _ := strconv.Atoi(m[1])
	h %= 12
	if m[3] == "PM" {
		h += 12
	}
	return fmt.Sprintf("%02d:%s", h, m[2]), nil
}

// ToDisplayTime converts "HH:MM" to "h:mm AM/PM".
// PRE: canonical is a valid 24-hour time
func ToDisplayTime(canonical string) (string, error) {
	h, m, err := parseClock(canonical)
	if err != nil {
		return "", err
	}
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, suffix), nil
}

// NormalizeTime accepts either time form and returns the canonical one.
func NormalizeTime(s string) (string, error) {
	if canonicalTimePattern.MatchString(s) {
		if _, _, err := parseClock(s); err != nil {
			return "", err
		}
		return s, nil
	}
	return ToCanonicalTime(s)
}

// ToCanonicalDate formats the calendar day of t as "YYYY-MM-DD".
// The day is read in t's own location; no zone conversion is applied.
func ToCanonicalDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a canonical date into midnight UTC of that day.
func ParseDate(s string) (time.Time, error) {
	if !canonicalDatePattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformedInput, s)
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformedInput, s)
	}
	return d, nil
}

// ToDisplayDate converts "2025-03-04" to "March 4, 2025".
func ToDisplayDate(canonical string) (string, error) {
	d, err := ParseDate(canonical)
	if err != nil {
		return "", err
	}
	return d.Format(DisplayDateLayout), nil
}

// ToShortDisplayDate converts "2025-03-04" to "Mar 4, 2025".
func ToShortDisplayDate(canonical string) (string, error) {
	d, err := ParseDate(canonical)
	if err != nil {
		return "", err
	}
	return d.Format(ShortDisplayDateLayout), nil
}

// Instant combines a canonical date and time into a wall-clock instant in loc.
// PRE: loc is non-nil
func Instant(date, clock string, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}

func parseClock(s string) (int, int, error) {
	m := canonicalTimePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: time %q", ErrMalformedInput, s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return 0, 0, fmt.Errorf("%w: time %q", ErrMalformedInput, s)
	}
	return h, mm, nil
}
