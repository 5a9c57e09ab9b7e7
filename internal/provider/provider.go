package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candlewatch/internal/domain"
)

// ErrTooMuchData indicates the upstream refused a request because the window
// covered more bars than it will serve in one response. Callers may retry
// with a narrower window.
var ErrTooMuchData = errors.New("too much data requested")

// RateLimitError is returned when the upstream throttles us. Distinguishable
// from other failures via errors.As so callers can apply backoff.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// Provider fetches OHLC candles from a market-data source. Implementations
// own their chunking, lookback-clamping and rate-limit policy; callers only
// see the merged result.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Fetch returns candles for ticker/interval within [start, end], ordered
	// by timestamp ASC. SymbolID is not populated; the caller stamps it.
	Fetch(ctx context.Context, ticker, interval string, start, end time.Time) ([]*domain.Candle, error)
}
