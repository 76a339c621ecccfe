package reminder

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// Task phrase: after the trigger, up to the first temporal marker or end.
	triggerRe = regexp.MustCompile(`remind me to (.+?)(?:\s+in\s+|\s+within\s+|\s+after\s+|$)`)
	offsetRe  = regexp.MustCompile(`\b(?:in|within|after)\s+(-?\d+)\s+(seconds?|minutes?|hours?|days?)\b`)
)

const (
	tomorrowHour = 9
	tonightHour  = 20
	todayHour    = 18
)

// ResolveSimple extracts a reminder with regular expressions only.
//
// It returns nil when the message carries no "remind me to" trigger. Relative
// offsets ("in 30 seconds") resolve with high confidence; otherwise the
// keywords tomorrow/tonight/today (in that order) pick a fixed time of day and
// anything else defaults to tomorrow morning, all with medium confidence.
//
// Keyword times are not rolled forward when already past ("tonight" at 21:00);
// callers run EnsureFuture on the result.
func ResolveSimple(message string, now time.Time) *ParsedReminder {
	lower := strings.ToLower(message)

	m := triggerRe.FindStringSubmatch(lower)
	if m == nil {
		return nil
	}
	task := strings.TrimSpace(m[1])
	if task == "" {
		return nil
	}

	if om := offsetRe.FindStringSubmatch(lower); om != nil {
		n, err := strconv.ParseInt(om[1], 10, 64)
		unit := unitDuration(om[2])
		// Offsets that overflow time.Duration fall through to the keyword defaults.
		if err == nil && n <= math.MaxInt64/int64(unit) && n >= math.MinInt64/int64(unit) {
			return &ParsedReminder{
				TaskDescription: task,
				FireAt:          now.Add(time.Duration(n) * unit),
				Confidence:      ConfidenceHigh,
			}
		}
	}

	var fireAt time.Time
	switch {
	case strings.Contains(lower, "tomorrow"):
		fireAt = atHour(now, 1, tomorrowHour)
	case strings.Contains(lower, "tonight"):
		fireAt = atHour(now, 0, tonightHour)
	case strings.Contains(lower, "today"):
		fireAt = atHour(now, 0, todayHour)
	default:
		fireAt = atHour(now, 1, tomorrowHour)
	}
	return &ParsedReminder{
		TaskDescription: task,
		FireAt:          fireAt,
		Confidence:      ConfidenceMedium,
	}
}

func unitDuration(unit string) time.Duration {
	switch strings.TrimSuffix(unit, "s") {
	case "second":
		return time.Second
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// atHour returns now shifted by addDays calendar days at hour:00:00.000 in now's zone.
func atHour(now time.Time, addDays, hour int) time.Time {
	y, mo, d := now.Date()
	return time.Date(y, mo, d+addDays, hour, 0, 0, 0, now.Location())
}

// EnsureFuture applies the single next-day correction: a time at or before
// now moves forward by exactly one day. It reports false when the corrected
// time is still not after now.
func EnsureFuture(p *ParsedReminder, now time.Time) bool {
	if p == nil {
		return false
	}
	if !p.FireAt.After(now) {
		p.FireAt = p.FireAt.Add(24 * time.Hour)
	}
	return p.FireAt.After(now)
}
