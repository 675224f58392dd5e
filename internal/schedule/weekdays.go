package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeekdaySet is a set of allowed weekdays, 0=Monday .. 6=Sunday.
// The zero value means "no constraint" (every day allowed).
type WeekdaySet uint8

var dayNames = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func NewWeekdaySet(days ...int) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		if d >= 0 && d <= 6 {
			s |= 1 << uint(d)
		}
	}
	return s
}

// IsZero reports whether the set carries no constraint.
func (s WeekdaySet) IsZero() bool { return s == 0 }

func (s WeekdaySet) Contains(day int) bool {
	if day < 0 || day > 6 {
		return false
	}
	return s&(1<<uint(day)) != 0
}

// DayIndex maps a time.Weekday (Sunday=0) onto this package's
// Monday-based indexing.
func DayIndex(wd time.Weekday) int { return (int(wd) + 6) % 7 }

// String renders the set as short English day names, e.g. "mon,wed".
// The zero set renders empty.
func (s WeekdaySet) String() string {
	if s == 0 {
		return ""
	}
	parts := make([]string, 0, 7)
	for d := 0; d < 7; d++ {
		if s.Contains(d) {
			parts = append(parts, dayNames[d])
		}
	}
	return strings.Join(parts, ",")
}

// CSV renders the set as numeric indices for persistence, e.g. "0,2".
func (s WeekdaySet) CSV() string {
	if s == 0 {
		return ""
	}
	parts := make([]string, 0, 7)
	for d := 0; d < 7; d++ {
		if s.Contains(d) {
			parts = append(parts, strconv.Itoa(d))
		}
	}
	return strings.Join(parts, ",")
}

// ParseWeekdays parses a comma-separated weekday list. Each token is a
// numeric index (0=Monday) or a short English name ("mon", "tuesday").
// An empty input is a parse error; callers encode "no constraint" by not
// passing a list at all.
func ParseWeekdays(raw string) (WeekdaySet, error) {
	var s WeekdaySet
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty weekday list")
	}
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			return 0, fmt.Errorf("empty weekday in %q", raw)
		}
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 0 || n > 6 {
				return 0, fmt.Errorf("weekday index %d out of range 0..6", n)
			}
			s |= 1 << uint(n)
			continue
		}
		found := false
		for d, name := range dayNames {
			if strings.HasPrefix(tok, name) {
				s |= 1 << uint(d)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown weekday %q", tok)
		}
	}
	return s, nil
}
