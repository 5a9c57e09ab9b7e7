// Package interval maps bar interval strings to canonical forms, time deltas
// and provider lookback limits. All lookups fall back to safe defaults rather
// than returning errors.
package interval

import (
	"strings"
	"time"
)

// canonical maps known interval aliases (lowercased) to their canonical form.
var canonical = map[string]string{
	"1m":   "1m",
	"1min": "1m",
	"5m":   "5m",
	"5min": "5m",
	"15m":  "15m",
	"30m":  "30m",
	"60m":  "1h",
	"1h":   "1h",
	"4h":   "4h",
	"240m": "4h",
	"1d":   "1d",
	"d":    "1d",
	"day":  "1d",
	"1wk":  "1w",
	"1w":   "1w",
	"w":    "1w",
}

// deltas maps canonical intervals to their bar duration.
var deltas = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// lookbackCaps maps canonical intervals to the maximum history depth a single
// provider request may reach. Intraday bars age out quickly upstream.
var lookbackCaps = map[string]time.Duration{
	"1m":  7 * 24 * time.Hour,
	"5m":  60 * 24 * time.Hour,
	"15m": 60 * 24 * time.Hour,
	"30m": 60 * 24 * time.Hour,
	"1h":  730 * 24 * time.Hour,
	"4h":  730 * 24 * time.Hour,
	"1d":  10 * 365 * 24 * time.Hour,
	"1w":  10 * 365 * 24 * time.Hour,
}

// Default fallbacks for unmapped intervals.
const (
	defaultDelta    = 24 * time.Hour
	defaultLookback = 10 * 365 * 24 * time.Hour
)

// Canonicalize normalizes an interval string, case-insensitively. Unknown
// intervals are returned as given.
func Canonicalize(iv string) string {
	if c, ok := canonical[strings.ToLower(strings.TrimSpace(iv))]; ok {
		return c
	}
	return iv
}

// DeltaFor returns the bar duration for an interval, defaulting to one day.
func DeltaFor(iv string) time.Duration {
	if d, ok := deltas[Canonicalize(iv)]; ok {
		return d
	}
	return defaultDelta
}

// LookbackCapFor returns the provider-imposed ceiling on how far back a
// request for this interval may reach, defaulting to ten years.
func LookbackCapFor(iv string) time.Duration {
	if d, ok := lookbackCaps[Canonicalize(iv)]; ok {
		return d
	}
	return defaultLookback
}

// BarsIn returns how many bars of the given interval fit in span, inclusive
// of both endpoints of a bar-aligned range.
func BarsIn(span time.Duration, iv string) int {
	if span < 0 {
		return 0
	}
	return int(span/DeltaFor(iv)) + 1
}
