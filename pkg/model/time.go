package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimestampParse is returned when a platform timestamp cannot be parsed
// as an instant.
var ErrTimestampParse = errors.New("timestamp parse failed")

// localLayouts are tried, in UTC, when the value carries no zone designator.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a platform timestamp into a UTC instant.
//
// The platform appends a bracketed zone name after the instant
// (e.g. "2024-01-01T00:00:00Z[Etc/UTC]"); the annotation is stripped before
// parsing. Values without a zone designator are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	if i := strings.IndexByte(raw, '['); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty value %q", ErrTimestampParse, s)
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrTimestampParse, s)
}

// FormatISODuration renders d as an ISO-8601 duration in whole seconds
// (e.g. "PT90S"), the form the job API expects for start delays.
func FormatISODuration(d time.Duration) string {
	return fmt.Sprintf("PT%dS", int64(d/time.Second))
}

// ParseISODuration parses the subset of ISO-8601 durations the platform
// emits: PT[nH][nM][n[.n]S].
func ParseISODuration(s string) (time.Duration, error) {
	rest, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(s)), "PT")
	if !ok {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	if rest == "" {
		return 0, nil
	}
	// time.ParseDuration understands the same unit letters once lower-cased.
	d, err := time.ParseDuration(strings.ToLower(rest))
	if err != nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
	}
	return d, nil
}
