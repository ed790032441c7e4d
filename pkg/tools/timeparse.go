package tools

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

var clockPattern = regexp.MustCompile(`(\d{1,2}):?(\d{2})?`)

// ParseMeetingTime turns natural-language day and time phrases into a
// concrete timestamp relative to now. Unparseable days default to tomorrow
// and unparseable times to 10am.
func ParseMeetingTime(now time.Time, day, clock string) time.Time {
	date := parseDay(now, day)
	hour, minute := parseClock(clock)
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, now.Location())
}

func parseDay(now time.Time, day string) time.Time {
	dayLower := strings.ToLower(strings.TrimSpace(day))

	switch dayLower {
	case "today":
		return now
	case "tomorrow":
		return now.AddDate(0, 0, 1)
	}

	if wd, ok := weekdays[dayLower]; ok {
		return nextWeekday(now, wd)
	}

	// Phrases like "Monday, January 5th" still carry a weekday name
	for name, wd := range weekdays {
		if strings.Contains(dayLower, name) {
			return nextWeekday(now, wd)
		}
	}

	return now.AddDate(0, 0, 1)
}

// nextWeekday returns the next occurrence of wd strictly after today
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	ahead := int(wd) - int(now.Weekday())
	if ahead <= 0 {
		ahead += 7
	}
	return now.AddDate(0, 0, ahead)
}

func parseClock(clock string) (hour, minute int) {
	clockLower := strings.ReplaceAll(strings.ToLower(clock), " ", "")

	switch {
	case strings.Contains(clockLower, "morning"):
		return 10, 0
	case strings.Contains(clockLower, "afternoon"):
		return 14, 0
	case strings.Contains(clockLower, "evening"):
		return 17, 0
	}

	hour, minute = 10, 0
	match := clockPattern.FindStringSubmatch(clockLower)
	if match == nil {
		return hour, minute
	}

	hour, _ = strconv.Atoi(match[1])
	if match[2] != "" {
		minute, _ = strconv.Atoi(match[2])
	}
	if strings.Contains(clockLower, "pm") && hour < 12 {
		hour += 12
	}
	if strings.Contains(clockLower, "am") && hour == 12 {
		hour = 0
	}
	return hour, minute
}
