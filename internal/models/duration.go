package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses the config duration format: a positive integer
// followed by one of ms, s, m, h. The empty string parses to zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	unit := time.Duration(0)
	var num string
	switch {
	case strings.HasSuffix(raw, "ms"):
		unit, num = time.Millisecond, strings.TrimSuffix(raw, "ms")
	case strings.HasSuffix(raw, "s"):
		unit, num = time.Second, strings.TrimSuffix(raw, "s")
	case strings.HasSuffix(raw, "m"):
		unit, num = time.Minute, strings.TrimSuffix(raw, "m")
	case strings.HasSuffix(raw, "h"):
		unit, num = time.Hour, strings.TrimSuffix(raw, "h")
	default:
		return 0, fmt.Errorf("duration %q: unit must be ms, s, m or h", raw)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("duration %q: value must be positive", raw)
	}
	return time.Duration(n) * unit, nil
}

// FormatDuration renders d in the config format using the largest exact unit.
func FormatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}
