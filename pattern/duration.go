// Package pattern implements the small grammars shared by every component
// that needs to match a topic/fact-key pattern or parse a human duration
// string: §6's "Pattern grammar" and "Duration grammar".
package pattern

import (
	"strconv"
	"strings"
	"time"

	"rulesengine/enginerr"
)

// ParseDuration accepts "Ns", "Nm", "Nh", "Nd" or a bare integer (milliseconds).
// Negative or malformed input fails closed with a Validation error.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, enginerr.Validationf("empty duration")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, enginerr.Validationf("negative duration: %s", s)
		}
		return time.Duration(n) * time.Millisecond, nil
	}

	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil || n < 0 {
		return 0, enginerr.Validationf("malformed duration: %s", s)
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, enginerr.Validationf("unknown duration unit in %q", s)
	}
}

// MustParseDuration panics on malformed input; reserved for package-level
// constants and tests, never for user-supplied rule data.
func MustParseDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}
