package model

import (
	"fmt"
	"time"
)

// ParseResetDuration parses budget/rate-limit reset windows. On top of the
// plain Go duration syntax ("30s", "5m", "1h") it accepts day, week, month,
// and year suffixes: "1d", "1w", "1M" (30 days), "1Y" (365 days).
func ParseResetDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("reset duration is empty")
	}

	var (
		d   time.Duration
		err error
	)
	n := s[:len(s)-1]
	switch s[len(s)-1] {
	case 'd':
		d, err = time.ParseDuration(n + "h")
		d *= 24
	case 'w':
		d, err = time.ParseDuration(n + "h")
		d *= 24 * 7
	case 'M':
		d, err = time.ParseDuration(n + "h")
		d *= 24 * 30
	case 'Y':
		d, err = time.ParseDuration(n + "h")
		d *= 24 * 365
	default:
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid reset duration: %s", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("reset duration must be positive: %s", s)
	}
	return d, nil
}
