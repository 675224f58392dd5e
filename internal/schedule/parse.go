package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParseDelay parses compound delay text like "30s", "5m", "1h30m" or
// "2d12h30m5s". Units: s, m, h, d. The result is always positive;
// anything else is a parse error.
func ParseDelay(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty delay")
	}

	var total time.Duration
	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			break
		}

		start := i
		for i < len(s) && unicode.IsDigit(rune(s[i])) {
			i++
		}
		if i == start {
			return 0, fmt.Errorf("invalid delay %q", raw)
		}
		n, err := strconv.ParseInt(s[start:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("delay %q out of range", raw)
		}

		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			return 0, fmt.Errorf("delay %q: number without unit", raw)
		}
		var unit time.Duration
		switch s[i] {
		case 's':
			unit = time.Second
		case 'm':
			unit = time.Minute
		case 'h':
			unit = time.Hour
		case 'd':
			unit = 24 * time.Hour
		default:
			return 0, fmt.Errorf("delay %q: unknown unit %q", raw, string(s[i]))
		}
		i++
		// swallow the rest of a spelled-out unit ("min", "hour", "day")
		for i < len(s) && unicode.IsLetter(rune(s[i])) {
			i++
		}
		if n > (1<<63-1)/int64(unit) {
			return 0, fmt.Errorf("delay %q out of range", raw)
		}
		total += time.Duration(n) * unit
		if total < 0 {
			return 0, fmt.Errorf("delay %q out of range", raw)
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("delay must be positive")
	}
	return total, nil
}

// ParseClock parses "HH:MM" into a minute of day (0..1439).
func ParseClock(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return h*60 + m, nil
}

// FormatDelay renders a delay compactly with at most two units,
// e.g. "45s", "5m 30s", "1h 30m", "2d 12h".
func FormatDelay(d time.Duration) string {
	sec := int64(d / time.Second)
	switch {
	case sec < 60:
		return fmt.Sprintf("%ds", sec)
	case sec < 3600:
		if r := sec % 60; r > 0 {
			return fmt.Sprintf("%dm %ds", sec/60, r)
		}
		return fmt.Sprintf("%dm", sec/60)
	case sec < 86400:
		if r := (sec % 3600) / 60; r > 0 {
			return fmt.Sprintf("%dh %dm", sec/3600, r)
		}
		return fmt.Sprintf("%dh", sec/3600)
	default:
		if r := (sec % 86400) / 3600; r > 0 {
			return fmt.Sprintf("%dd %dh", sec/86400, r)
		}
		return fmt.Sprintf("%dd", sec/86400)
	}
}

// FormatClock renders a minute of day back to "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
