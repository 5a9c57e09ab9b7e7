// Package gaps computes the expected bar-timestamp grid for a series and
// diffs it against stored timestamps to find missing ranges.
package gaps

import (
	"strings"
	"time"

	"candlewatch/internal/domain"
	"candlewatch/internal/interval"
)

// ClassifyVenue guesses the trading calendar for a ticker. Tickers carrying a
// currency-pair separator (any hyphen, e.g. "BTC-USD") trade continuously;
// everything else follows an equity weekday calendar.
func ClassifyVenue(ticker string) domain.Venue {
	if strings.Contains(ticker, "-") {
		return domain.VenueCrypto
	}
	return domain.VenueEquity
}

// ExpectedTimestamps returns the ordered bar-timestamp grid for [start, end]
// inclusive, stepping by the interval delta. Both bounds are coerced to UTC.
// For equity tickers, timestamps falling on Saturday or Sunday are skipped;
// exchange holidays are not modeled.
func ExpectedTimestamps(start, end time.Time, iv, ticker string) []time.Time {
	start = start.UTC()
	end = end.UTC()
	if end.Before(start) {
		return nil
	}

	delta := interval.DeltaFor(iv)
	venue := ClassifyVenue(ticker)

	var out []time.Time
	for ts := start; !ts.After(end); ts = ts.Add(delta) {
		if venue == domain.VenueEquity {
			if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
		}
		out = append(out, ts)
	}
	return out
}

// DetectGaps diffs existing stored timestamps against the expected grid over
// [start, end] and returns maximal contiguous missing runs in chronological
// order. An empty existing set yields the whole range as one gap. Gap bounds
// are inclusive bar timestamps: the bar at Gap.End is itself missing.
func DetectGaps(existing []time.Time, start, end time.Time, iv, ticker string) []domain.Gap {
	start = start.UTC()
	end = end.UTC()

	if len(existing) == 0 {
		if end.Before(start) {
			return nil
		}
		return []domain.Gap{{Start: start, End: end}}
	}

	grid := ExpectedTimestamps(start, end, iv, ticker)
	if len(grid) == 0 {
		return nil
	}

	have := make(map[int64]struct{}, len(existing))
	for _, ts := range existing {
		have[ts.UTC().Unix()] = struct{}{}
	}

	var gapsFound []domain.Gap
	var runStart, runEnd time.Time
	inRun := false

	for _, ts := range grid {
		if _, ok := have[ts.Unix()]; ok {
			if inRun {
				gapsFound = append(gapsFound, domain.Gap{Start: runStart, End: runEnd})
				inRun = false
			}
			continue
		}
		if !inRun {
			runStart = ts
			inRun = true
		}
		runEnd = ts
	}
	if inRun {
		gapsFound = append(gapsFound, domain.Gap{Start: runStart, End: runEnd})
	}

	return gapsFound
}
