package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration is a time.Duration that extends Go's standard duration
// syntax with days ("d") and weeks ("w"): "30d", "2w", "1w2d12h".
// It implements encoding.TextUnmarshaler so it can be used directly
// in YAML config.
type Duration time.Duration

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// ParseDuration parses a duration string, accepting "d" and "w" units
// in addition to everything time.ParseDuration understands.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var total time.Duration

	// Peel off leading week/day components, then hand the remainder to
	// the standard parser.
	for {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(s) {
			break
		}
		unit := s[i]
		if unit != 'd' && unit != 'w' {
			break
		}
		// "1m30s" style values never reach here; a digit run followed
		// by 'd' or 'w' is unambiguous.
		var n int64
		for _, c := range s[:i] {
			n = n*10 + int64(c-'0')
		}
		if unit == 'w' {
			total += time.Duration(n) * week
		} else {
			total += time.Duration(n) * day
		}
		s = s[i+1:]
		if s == "" {
			if neg {
				total = -total
			}
			return Duration(total), nil
		}
	}

	rest, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	total += rest
	if neg {
		total = -total
	}
	return Duration(total), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting either a string
// or a raw nanosecond count.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String renders weeks and days with their own units and the remainder
// in standard Go form.
func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "0s"
	}

	neg := ""
	if dur < 0 {
		neg = "-"
		dur = -dur
	}

	weeks := dur / week
	dur -= weeks * week
	days := dur / day
	dur -= days * day

	var sb strings.Builder
	if weeks > 0 {
		fmt.Fprintf(&sb, "%dw", weeks)
	}
	if days > 0 {
		fmt.Fprintf(&sb, "%dd", days)
	}
	if dur > 0 || sb.Len() == 0 {
		sb.WriteString(dur.String())
	}
	return neg + sb.String()
}
