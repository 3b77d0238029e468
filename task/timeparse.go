package task

import (
	"math"
	"strconv"
	"strings"
)

// maxHours keeps a timestamp in seconds within int32 range.
const maxHours = math.MaxInt32 / 3600

// ParseTimestamp converts "HH:MM:SS" into whole seconds.
func ParseTimestamp(field, value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, invalid(field, "expected HH:MM:SS, got %q", value)
	}
	var vals [3]int
	for i, p := range parts {
		if !isDigits(p) {
			return 0, invalid(field, "expected HH:MM:SS, got %q", value)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, invalid(field, "expected HH:MM:SS, got %q", value)
		}
		vals[i] = n
	}
	if vals[0] > maxHours {
		return 0, invalid(field, "hours must not exceed %d, got %q", maxHours, value)
	}
	if vals[1] > 59 || vals[2] > 59 {
		return 0, invalid(field, "minutes and seconds must be below 60, got %q", value)
	}
	return vals[0]*3600 + vals[1]*60 + vals[2], nil
}

// ParseRange parses start and end and requires start < end.
func ParseRange(start, end string) (int, int, error) {
	s, err := ParseTimestamp("startTime", start)
	if err != nil {
		return 0, 0, err
	}
	e, err := ParseTimestamp("endTime", end)
	if err != nil {
		return 0, 0, err
	}
	if s >= e {
		return 0, 0, invalid("endTime", "must be after startTime (%s >= %s)", start, end)
	}
	return s, e, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
