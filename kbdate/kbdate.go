package kbdate

import (
	"strconv"
	"strings"
	"time"
)

// KanboardLayout is the date format the Kanboard API accepts for
// date_started and date_due fields.
const KanboardLayout = "02.01.2006 15:04"

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Normalize converts an email-header-style date string into the Kanboard
// date format, shifted forward by offsetHours when positive.
//
// Dates ending in the literal "PM" come from a 12-hour-clock mail client
// whose hour field lacks the PM correction, so 12 hours are added on top
// of the requested offset. The numeric timezone of the input is ignored;
// the wall-clock fields are rendered as local time.
//
// The second return value is false when the input is not parseable as a
// date; callers render such absent dates as the "None" placeholder.
func Normalize(dateStr string, offsetHours int) (string, bool) {
	if strings.HasSuffix(dateStr, "PM") {
		offsetHours += 12
	}

	t, ok := parseHeaderDate(dateStr)
	if !ok {
		return "", false
	}

	if offsetHours > 0 {
		t = t.Add(time.Duration(offsetHours) * time.Hour)
	}

	return t.Format(KanboardLayout), true
}

// parseHeaderDate parses an RFC-822-style date permissively: an optional
// weekday prefix, day and month in either order, two- or four-digit years,
// a time with optional seconds, and arbitrary trailing tokens (timezone
// names, offsets, "PM") which are ignored.
func parseHeaderDate(s string) (time.Time, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return time.Time{}, false
	}

	// Drop a leading weekday such as "Mon," or "Mon".
	first := strings.TrimSuffix(strings.ToLower(fields[0]), ",")
	if _, isMonth := months[truncate3(first)]; !isMonth {
		if _, err := strconv.Atoi(first); err != nil {
			fields = fields[1:]
		}
	}
	if len(fields) < 3 {
		return time.Time{}, false
	}

	dayStr, monStr := fields[0], fields[1]
	// Tolerate "Nov 20" as well as "20 Nov".
	if _, err := strconv.Atoi(strings.TrimSuffix(dayStr, ",")); err != nil {
		dayStr, monStr = monStr, dayStr
	}

	day, err := strconv.Atoi(strings.TrimSuffix(dayStr, ","))
	if err != nil {
		return time.Time{}, false
	}
	month, ok := months[truncate3(strings.ToLower(monStr))]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(fields[2])
	if err != nil {
		return time.Time{}, false
	}
	if year < 100 {
		if year < 69 {
			year += 2000
		} else {
			year += 1900
		}
	}

	var hour, minute, sec int
	if len(fields) > 3 {
		clock := strings.Split(fields[3], ":")
		if len(clock) < 2 || len(clock) > 3 {
			return time.Time{}, false
		}
		if hour, err = strconv.Atoi(clock[0]); err != nil {
			return time.Time{}, false
		}
		if minute, err = strconv.Atoi(clock[1]); err != nil {
			return time.Time{}, false
		}
		if len(clock) == 3 {
			if sec, err = strconv.Atoi(clock[2]); err != nil {
				return time.Time{}, false
			}
		}
	}

	if day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 60 {
		return time.Time{}, false
	}

	return time.Date(year, month, day, hour, minute, sec, 0, time.Local), true
}

func truncate3(s string) string {
	if len(s) > 3 {
		return s[:3]
	}
	return s
}
