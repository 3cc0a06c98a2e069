package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRate parses a limit such as "200/10s" into a count and a window.
// Units are s, m and h.
func ParseRate(s string) (int, time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate format: %s", s)
	}
	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("unexpected rate format: %s", s)
	}

	timeStr := parts[1]
	if len(timeStr) < 2 {
		return 0, 0, fmt.Errorf("unexpected time format: %s", timeStr)
	}
	unit := timeStr[len(timeStr)-1]
	value, err := strconv.Atoi(timeStr[:len(timeStr)-1])
	if err != nil || value <= 0 {
		return 0, 0, fmt.Errorf("unexpected time format: %s", timeStr)
	}
	var window time.Duration
	switch unit {
	case 's':
		window = time.Duration(value) * time.Second
	case 'm':
		window = time.Duration(value) * time.Minute
	case 'h':
		window = time.Duration(value) * time.Hour
	default:
		return 0, 0, fmt.Errorf("unexpected time unit: %s", string(unit))
	}
	return limit, window, nil
}
