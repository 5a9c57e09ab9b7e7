// Package orchestrator coordinates candle range queries: it detects missing
// bar ranges, fetches only those from a provider under bounded policy, and
// returns the merged stored view.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"candlewatch/internal/candles"
	"candlewatch/internal/domain"
	"candlewatch/internal/gaps"
	"candlewatch/internal/interval"
	"candlewatch/internal/observability"
	"candlewatch/internal/provider"
	"candlewatch/internal/storage"
)

// Default policy bounds.
const (
	DefaultHardCapBars = 500
	DefaultGapTimeout  = 30 * time.Second
)

// Request describes one candle-range query.
type Request struct {
	SymbolID int64
	Ticker   string
	Interval string
	Start    time.Time
	End      time.Time

	// LocalOnly skips gap detection and provider fetches entirely.
	LocalOnly bool
}

// Orchestrator returns gap-free merged candle series while bounding provider
// load. Missing sub-ranges are fetched and upserted individually; a gap that
// cannot be filled is logged and skipped, never fatal to the request.
type Orchestrator struct {
	store    storage.CandleStore
	writer   *candles.Writer
	provider provider.Provider
	log      logrus.FieldLogger

	hardCapBars int
	gapTimeout  time.Duration
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithHardCap sets the maximum bar count a single gap fetch may cover.
func WithHardCap(bars int) Option {
	return func(o *Orchestrator) {
		o.hardCapBars = bars
	}
}

// WithGapTimeout sets the per-gap fetch timeout.
func WithGapTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.gapTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.log = log.WithField("component", "orchestrator")
	}
}

// New creates an Orchestrator.
func New(store storage.CandleStore, writer *candles.Writer, p provider.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		writer:      writer,
		provider:    p,
		log:         logrus.StandardLogger().WithField("component", "orchestrator"),
		hardCapBars: DefaultHardCapBars,
		gapTimeout:  DefaultGapTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetCandles returns the stored series for the request range, fetching
// missing sub-ranges from the provider first unless LocalOnly is set.
// Unfillable gaps never fail the call; whatever is stored is returned,
// sorted by timestamp ASC.
func (o *Orchestrator) GetCandles(ctx context.Context, req Request) ([]*domain.Candle, error) {
	iv := interval.Canonicalize(req.Interval)
	start, end := req.Start.UTC(), req.End.UTC()

	if !req.LocalOnly {
		if err := o.fillGaps(ctx, req.SymbolID, req.Ticker, iv, start, end); err != nil {
			return nil, err
		}
	}

	out, err := o.store.GetByTimeRange(ctx, req.SymbolID, iv, start, end)
	if err != nil {
		return nil, fmt.Errorf("read candles for symbol %d %s: %w", req.SymbolID, iv, err)
	}
	return out, nil
}

// FetchAndSave fetches the full request range from the provider and upserts
// it, without gap detection or read-back. Used by background backfill.
func (o *Orchestrator) FetchAndSave(ctx context.Context, req Request) error {
	iv := interval.Canonicalize(req.Interval)

	fetched, err := o.provider.Fetch(ctx, req.Ticker, iv, req.Start.UTC(), req.End.UTC())
	if err != nil {
		return fmt.Errorf("fetch %s %s: %w", req.Ticker, iv, err)
	}
	if len(fetched) == 0 {
		return nil
	}

	if err := o.writer.Upsert(ctx, req.SymbolID, iv, fetched); err != nil {
		return err
	}

	o.log.WithFields(logrus.Fields{
		"ticker":   req.Ticker,
		"interval": iv,
		"count":    len(fetched),
	}).Info("backfill range saved")
	return nil
}

// fillGaps detects missing bar ranges and fetches each one individually.
// Storage errors propagate; per-gap fetch failures are soft.
func (o *Orchestrator) fillGaps(ctx context.Context, symbolID int64, ticker, iv string, start, end time.Time) error {
	existing, err := o.store.GetTimestamps(ctx, symbolID, iv, start, end)
	if err != nil {
		return fmt.Errorf("read stored timestamps for symbol %d %s: %w", symbolID, iv, err)
	}

	missing := gaps.DetectGaps(existing, start, end, iv, ticker)
	for _, gap := range missing {
		observability.RecordGapDetected()
		o.fillGap(ctx, symbolID, ticker, iv, gap)
	}
	return nil
}

// fillGap fetches and upserts one gap under the per-gap timeout. All
// failures are logged and swallowed so the request proceeds with local data.
func (o *Orchestrator) fillGap(ctx context.Context, symbolID int64, ticker, iv string, gap domain.Gap) {
	logger := o.log.WithFields(logrus.Fields{
		"ticker":    ticker,
		"interval":  iv,
		"gap_start": gap.Start,
		"gap_end":   gap.End,
	})

	// Gap bounds are inclusive bar timestamps, so the implied count includes
	// both endpoints.
	if bars := interval.BarsIn(gap.End.Sub(gap.Start), iv); bars > o.hardCapBars {
		observability.RecordGapSkipped("hard_cap")
		logger.WithField("bars", bars).Warn("gap exceeds hard cap, skipping fetch")
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.gapTimeout)
	defer cancel()

	fetched, err := o.provider.Fetch(fetchCtx, ticker, iv, gap.Start, gap.End)
	if err != nil {
		observability.RecordGapSkipped("fetch_failed")
		logger.WithError(err).Warn("gap fetch failed, continuing with local data")
		return
	}
	if len(fetched) == 0 {
		logger.Debug("provider returned no candles for gap")
		return
	}

	if err := o.writer.Upsert(ctx, symbolID, iv, fetched); err != nil {
		observability.RecordGapSkipped("upsert_failed")
		logger.WithError(err).Warn("gap upsert failed, continuing with local data")
		return
	}

	observability.RecordGapFilled()
	logger.WithField("count", len(fetched)).Debug("gap filled")
}
