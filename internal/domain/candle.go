package domain

import "time"

// Candle represents a single OHLCV bar for a symbol/interval series.
// Corresponds to candles table in PostgreSQL; unique on (symbol_id, interval, ts).
type Candle struct {
	ID       int64     // BIGSERIAL primary key
	SymbolID int64     // FK to symbols
	Ticker   string    // provider-facing ticker, e.g. "AAPL" or "BTC-USD"
	Interval string    // canonical interval string, e.g. "1h"
	Ts       time.Time // bar timestamp, UTC
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Symbol represents a tracked instrument.
// Corresponds to symbols table in PostgreSQL.
type Symbol struct {
	ID     int64  // BIGSERIAL primary key
	Ticker string // unique ticker string
	Name   string // display name
}

// Venue classifies how an instrument trades for calendar purposes.
type Venue string

// Venue constants.
const (
	VenueEquity Venue = "equity" // weekday sessions only
	VenueCrypto Venue = "crypto" // trades every day
)

// Gap is a maximal contiguous range of expected-but-missing bar timestamps.
// Bounds are inclusive bar timestamps, not continuous time: the bar at End is
// itself missing and must be fetched. Gaps are computed on demand and never
// persisted.
type Gap struct {
	Start time.Time
	End   time.Time
}
