package timecalc

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical stored date format.
const DateLayout = "2006-01-02"

var (
	// Hours and minutes separated by one of ": ; . ,". Minutes take two
	// digits so "2.5" is read as decimal hours, not 2h05.
	hoursMinutesRe = regexp.MustCompile(`^(\d{1,2})\s*[:;.,]\s*(\d{2})$`)
	decimalRe      = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
	storedRe       = regexp.MustCompile(`^(\d{2,}):([0-5]\d)$`)
)

// NormalizeDuration converts free-form duration text to HH:MM.
//
// Accepted inputs are "7:30", "7.30", "07;30" (hours 0-23, minutes 0-59)
// and decimal hours such as "2,5" or "1.75", rounded to the nearest minute.
// A pair whose minutes are out of range is retried as decimal hours, so
// "7.75" is 07:45 while "7:75" is rejected.
// ok is false when the input cannot be read or is a day or more.
func NormalizeDuration(s string) (string, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return "", false
	}
	if m := hoursMinutesRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		if h < 24 && mins < 60 {
			return fmt.Sprintf("%02d:%02d", h, mins), true
		}
	}
	if !decimalRe.MatchString(s) {
		return "", false
	}
	hours, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}
	total := int(math.Round(hours * 60))
	if total >= 24*60 {
		return "", false
	}
	return FormatHHMM(total), true
}

// DurationMinutes parses a stored HH:MM value. Empty or malformed values
// report ok=false; callers aggregating time treat them as zero.
func DurationMinutes(s string) (int, bool) {
	m := storedRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	return h*60 + mins, true
}

// Day-first layouts tried after ISO.
var dayFirstLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"02/01/06",
}

// Timestamp layouts whose date part is kept.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseDate reads s as ISO first and day-first second.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return StartOfDay(t), true
		}
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate converts s to YYYY-MM-DD. ok is false when s is not a date.
func NormalizeDate(s string) (string, bool) {
	t, ok := ParseDate(s)
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}

// IsStoredDate reports whether s is already in the canonical layout.
func IsStoredDate(s string) bool {
	t, err := time.Parse(DateLayout, s)
	return err == nil && t.Format(DateLayout) == s
}
