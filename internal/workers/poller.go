package workers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"candlewatch/internal/alerts"
	"candlewatch/internal/cache"
	"candlewatch/internal/domain"
	"candlewatch/internal/indicator"
	"candlewatch/internal/interval"
	"candlewatch/internal/observability"
	"candlewatch/internal/orchestrator"
	"candlewatch/internal/provider"
	"candlewatch/internal/storage"
)

// PollerConfig configures the incremental poller.
type PollerConfig struct {
	// Interval is the candle interval to poll, canonical form.
	Interval string
	// Every is the poll frequency.
	Every time.Duration
	// LookbackBars is how many recent bars to load per poll. Must cover the
	// slowest indicator's warmup.
	LookbackBars int
}

// DefaultPollerConfig returns sane poller defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:     "1h",
		Every:        time.Minute,
		LookbackBars: 150,
	}
}

// Poller periodically fetches the latest bars for each tracked symbol and
// feeds the newest observation to the alert engine. One symbol's failure
// never stops the sweep.
type Poller struct {
	config      PollerConfig
	symbols     []domain.Symbol
	orch        *orchestrator.Orchestrator
	engine      *alerts.Engine
	dispatcher  *alerts.Dispatcher
	alertStore  storage.AlertStore
	seriesCache *cache.Cache
	log         logrus.FieldLogger

	scheduler *gocron.Scheduler
}

// NewPoller creates a Poller over the given symbol set.
func NewPoller(
	config PollerConfig,
	symbols []domain.Symbol,
	orch *orchestrator.Orchestrator,
	engine *alerts.Engine,
	dispatcher *alerts.Dispatcher,
	alertStore storage.AlertStore,
	seriesCache *cache.Cache,
	log logrus.FieldLogger,
) *Poller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{
		config:      config,
		symbols:     symbols,
		orch:        orch,
		engine:      engine,
		dispatcher:  dispatcher,
		alertStore:  alertStore,
		seriesCache: seriesCache,
		log:         log.WithField("component", "poller"),
	}
}

// Run polls on schedule until ctx is cancelled. Intended to be launched
// through the worker manager.
func (p *Poller) Run(ctx context.Context) {
	p.scheduler = gocron.NewScheduler(time.UTC)
	if _, err := p.scheduler.Every(p.config.Every).Do(func() { p.Sweep(ctx) }); err != nil {
		p.log.WithError(err).Error("failed to schedule poll job")
		return
	}
	p.scheduler.StartAsync()

	<-ctx.Done()
	p.scheduler.Stop()
}

// Sweep runs one poll pass over every symbol, then drains trigger delivery.
func (p *Poller) Sweep(ctx context.Context) {
	startedAt := time.Now()
	defer func() {
		observability.RecordPollSweep(time.Since(startedAt).Seconds())
	}()

	for _, sym := range p.symbols {
		if ctx.Err() != nil {
			return
		}
		if err := p.pollSymbol(ctx, sym); err != nil {
			p.log.WithError(err).WithField("ticker", sym.Ticker).Warn("poll failed for symbol")
		}
	}

	if _, err := p.dispatcher.Pass(ctx); err != nil {
		p.log.WithError(err).Warn("trigger delivery pass failed")
	}
}

// pollSymbol refreshes one symbol's latest bars and evaluates its alerts.
func (p *Poller) pollSymbol(ctx context.Context, sym domain.Symbol) error {
	iv := interval.Canonicalize(p.config.Interval)
	delta := interval.DeltaFor(iv)
	end := time.Now().UTC()
	start := end.Add(-time.Duration(p.config.LookbackBars) * delta)

	candles, err := p.orch.GetCandles(ctx, orchestrator.Request{
		SymbolID: sym.ID,
		Ticker:   sym.Ticker,
		Interval: iv,
		Start:    start,
		End:      end,
	})
	if err != nil {
		return fmt.Errorf("refresh candles: %w", err)
	}
	if len(candles) < 2 {
		return nil
	}

	snap, err := p.buildSnapshot(ctx, sym, iv, candles, end)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	fired, err := p.engine.EvaluateSymbolAlerts(ctx, sym.ID, snap)
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}
	if len(fired) > 0 {
		p.log.WithFields(logrus.Fields{
			"ticker": sym.Ticker,
			"count":  len(fired),
		}).Info("alerts fired")
	}
	return nil
}

// HandleTick evaluates a symbol's price alerts against one live tick from
// the price stream. The snapshot carries the tick as the current value of a
// still-open bar, so once_per_bar_close alerts stay suppressed and indicator
// alerts wait for the next scheduled sweep. Unknown tickers are ignored.
func (p *Poller) HandleTick(ctx context.Context, update provider.PriceUpdate) error {
	var sym *domain.Symbol
	for i := range p.symbols {
		if p.symbols[i].Ticker == update.Ticker {
			sym = &p.symbols[i]
			break
		}
	}
	if sym == nil {
		return nil
	}

	iv := interval.Canonicalize(p.config.Interval)
	delta := interval.DeltaFor(iv)
	now := time.Now().UTC()

	// The previous close comes from stored history only; a tick must never
	// trigger a provider fetch.
	candles, err := p.orch.GetCandles(ctx, orchestrator.Request{
		SymbolID:  sym.ID,
		Ticker:    sym.Ticker,
		Interval:  iv,
		Start:     now.Add(-3 * delta),
		End:       now,
		LocalOnly: true,
	})
	if err != nil {
		return fmt.Errorf("load recent candles for tick: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}

	ts := update.Ts
	if ts.IsZero() {
		ts = now
	}
	barTs := ts.UTC().Truncate(delta)

	// The last stored close is the live bar's own open once that bar has a
	// row; step back one bar in that case.
	last := candles[len(candles)-1]
	prevClose := last.Close
	if last.Ts.Equal(barTs) && len(candles) >= 2 {
		prevClose = candles[len(candles)-2].Close
	}

	snap := alerts.Snapshot{
		BarTs:     barTs,
		BarClosed: false,
		PriceOnly: true,
		Price: alerts.ValuePoint{
			Cur:     update.Price,
			Prev:    prevClose,
			HasPrev: true,
		},
	}

	fired, err := p.engine.EvaluateSymbolAlerts(ctx, sym.ID, snap)
	if err != nil {
		return fmt.Errorf("evaluate tick alerts: %w", err)
	}
	if len(fired) > 0 {
		if _, err := p.dispatcher.Pass(ctx); err != nil {
			p.log.WithError(err).Warn("trigger delivery pass failed")
		}
	}
	return nil
}

// buildSnapshot assembles the observation the alert engine consumes: the
// last two closes plus every indicator referenced by the symbol's active
// alerts. Indicator series are cached per (symbol, interval, latest bar).
func (p *Poller) buildSnapshot(ctx context.Context, sym domain.Symbol, iv string, candles []*domain.Candle, now time.Time) (alerts.Snapshot, error) {
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	// The newest bar is closed once its whole period has elapsed.
	barClosed := !now.Before(last.Ts.Add(interval.DeltaFor(iv)))

	snap := alerts.Snapshot{
		BarTs:     last.Ts,
		BarClosed: barClosed,
		Price: alerts.ValuePoint{
			Cur:     last.Close,
			Prev:    prev.Close,
			HasPrev: true,
		},
		Indicators: make(map[string]map[string]alerts.ValuePoint),
	}

	active, err := p.alertStore.GetActiveBySymbol(ctx, sym.ID)
	if err != nil {
		return alerts.Snapshot{}, fmt.Errorf("load active alerts: %w", err)
	}

	for _, a := range active {
		if a.IndicatorName == "" {
			continue
		}
		// One entry per parameterization, not per indicator name.
		indKey := alerts.IndicatorKey(a.IndicatorName, a.IndicatorParams)
		if _, done := snap.Indicators[indKey]; done {
			continue
		}

		series, err := p.computeSeries(indKey, a.IndicatorName, sym, iv, candles, a.IndicatorParams, last.Ts)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"ticker":    sym.Ticker,
				"indicator": a.IndicatorName,
			}).Warn("indicator computation failed, its alerts will be skipped")
			continue
		}

		fields := make(map[string]alerts.ValuePoint)
		fields[""] = seriesPoint(series, "")
		for _, field := range fieldNames(series) {
			fields[field] = seriesPoint(series, field)
		}
		snap.Indicators[indKey] = fields
	}

	return snap, nil
}

// computeSeries computes or reuses the cached indicator series. indKey
// already encodes name and parameterization.
func (p *Poller) computeSeries(indKey, name string, sym domain.Symbol, iv string, candles []*domain.Candle, params map[string]float64, lastTs time.Time) (indicator.Series, error) {
	key := fmt.Sprintf("%d|%s|%s|%d", sym.ID, iv, indKey, lastTs.Unix())
	if p.seriesCache != nil {
		if v, ok := p.seriesCache.Get(key); ok {
			return v.(indicator.Series), nil
		}
	}

	series, err := indicator.Compute(name, candles, params)
	if err != nil {
		return indicator.Series{}, err
	}
	if p.seriesCache != nil {
		p.seriesCache.Set(key, series)
	}
	return series, nil
}

// fieldNames lists the fields a computed series carries.
func fieldNames(s indicator.Series) []string {
	out := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		out = append(out, name)
	}
	return out
}

// seriesPoint extracts current/previous/previous-previous values of a field.
func seriesPoint(s indicator.Series, field string) alerts.ValuePoint {
	var point alerts.ValuePoint

	cur, err := s.Last(field)
	if err != nil {
		return point
	}
	point.Cur = cur

	if prev, err := s.Prev(field); err == nil {
		point.Prev = prev
		point.HasPrev = true
	}

	// Third-newest valid value, for slope conditions.
	if vals, err := s.Values(field); err == nil {
		seen := 0
		for i := len(vals) - 1; i >= 0; i-- {
			if math.IsNaN(vals[i]) {
				continue
			}
			seen++
			if seen == 3 {
				point.Prev2 = vals[i]
				point.HasPrev2 = true
				break
			}
		}
	}
	return point
}
