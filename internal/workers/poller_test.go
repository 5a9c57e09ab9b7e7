package workers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"candlewatch/internal/alerts"
	"candlewatch/internal/cache"
	"candlewatch/internal/candles"
	"candlewatch/internal/domain"
	"candlewatch/internal/orchestrator"
	"candlewatch/internal/provider"
	"candlewatch/internal/storage/memory"
)

// risingProvider serves flat hourly bars at 95 with a jump to 105 on the
// final bar, a genuine cross through 100.
type risingProvider struct{}

func (risingProvider) Name() string { return "rising" }

func (risingProvider) Fetch(ctx context.Context, ticker, iv string, start, end time.Time) ([]*domain.Candle, error) {
	var out []*domain.Candle
	for ts := start; !ts.After(end); ts = ts.Add(time.Hour) {
		close := 95.0
		if ts.Equal(end) {
			close = 105
		}
		out = append(out, &domain.Candle{
			Ticker: ticker, Interval: iv, Ts: ts,
			Open: close - 1, High: close + 1, Low: close - 2, Close: close, Volume: 5,
		})
	}
	return out, nil
}

func TestPoller_SweepEvaluatesAlerts(t *testing.T) {
	candleStore := memory.NewCandleStore()
	alertStore := memory.NewAlertStore()
	triggerStore := memory.NewTriggerStore()

	orch := orchestrator.New(candleStore, candles.NewWriter(candleStore, nil), risingProvider{})
	engine := alerts.NewEngine(alertStore, triggerStore)
	dispatcher := alerts.NewDispatcher(triggerStore, alerts.NewLogNotifier(nil), nil)

	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:        uuid.NewString(),
		SymbolID:  1,
		Condition: domain.CondPriceCrossUp,
		Threshold: 100,
		Mode:      domain.TriggerOncePerBar,
		IsActive:  true,
		MessageUp: "crossed 100",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, alertStore.Insert(context.Background(), alert))

	cfg := PollerConfig{Interval: "1h", Every: time.Minute, LookbackBars: 12}
	p := NewPoller(cfg, []domain.Symbol{{ID: 1, Ticker: "BTC-USD"}},
		orch, engine, dispatcher, alertStore, cache.New(16, time.Minute), nil)

	p.Sweep(context.Background())

	triggers, err := triggerStore.GetByAlertID(context.Background(), alert.ID)
	require.NoError(t, err)
	require.Len(t, triggers, 1, "rising series crossing 100 fires the alert")
	require.Equal(t, "crosses_up", triggers[0].TriggerType)

	// Delivery was drained by the sweep's dispatcher pass.
	require.Equal(t, domain.DeliveryDelivered, mustTrigger(t, triggerStore, alert.ID).DeliveryStatus)
}

func mustTrigger(t *testing.T, store *memory.TriggerStore, alertID string) *domain.AlertTrigger {
	t.Helper()
	triggers, err := store.GetByAlertID(context.Background(), alertID)
	require.NoError(t, err)
	require.NotEmpty(t, triggers)
	return triggers[0]
}

func TestPoller_IndicatorSnapshotFeedsEngine(t *testing.T) {
	candleStore := memory.NewCandleStore()
	alertStore := memory.NewAlertStore()
	triggerStore := memory.NewTriggerStore()

	orch := orchestrator.New(candleStore, candles.NewWriter(candleStore, nil), risingProvider{})
	engine := alerts.NewEngine(alertStore, triggerStore)
	dispatcher := alerts.NewDispatcher(triggerStore, alerts.NewLogNotifier(nil), nil)

	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:              uuid.NewString(),
		SymbolID:        1,
		Condition:       domain.CondIndicatorAboveUpper,
		IndicatorName:   "sma",
		IndicatorParams: map[string]float64{"period": 5, "upper": 95},
		Mode:            domain.TriggerOncePerBar,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, alertStore.Insert(context.Background(), alert))

	cfg := PollerConfig{Interval: "1h", Every: time.Minute, LookbackBars: 24}
	p := NewPoller(cfg, []domain.Symbol{{ID: 1, Ticker: "BTC-USD"}},
		orch, engine, dispatcher, alertStore, cache.New(16, time.Minute), nil)

	p.Sweep(context.Background())

	triggers, err := triggerStore.GetByAlertID(context.Background(), alert.ID)
	require.NoError(t, err)
	require.Len(t, triggers, 1, "sma over a rising series exceeds the band")
}

func TestPoller_HandleTickFiresPriceAlert(t *testing.T) {
	candleStore := memory.NewCandleStore()
	alertStore := memory.NewAlertStore()
	triggerStore := memory.NewTriggerStore()

	orch := orchestrator.New(candleStore, candles.NewWriter(candleStore, nil), risingProvider{})
	engine := alerts.NewEngine(alertStore, triggerStore)
	dispatcher := alerts.NewDispatcher(triggerStore, alerts.NewLogNotifier(nil), nil)

	now := time.Now().UTC()
	barTs := now.Truncate(time.Hour)
	require.NoError(t, candleStore.UpsertBulk(context.Background(), []*domain.Candle{
		{SymbolID: 1, Interval: "1h", Ts: barTs.Add(-2 * time.Hour), Open: 93, High: 95, Low: 92, Close: 94, Volume: 5},
		{SymbolID: 1, Interval: "1h", Ts: barTs.Add(-time.Hour), Open: 94, High: 96, Low: 93, Close: 95, Volume: 5},
	}))

	perBar := &domain.Alert{
		ID:        uuid.NewString(),
		SymbolID:  1,
		Condition: domain.CondPriceCrossUp,
		Threshold: 100,
		Mode:      domain.TriggerOncePerBar,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	perClose := &domain.Alert{
		ID:        uuid.NewString(),
		SymbolID:  1,
		Condition: domain.CondPriceCrossUp,
		Threshold: 100,
		Mode:      domain.TriggerOncePerClose,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, alertStore.Insert(context.Background(), perBar))
	require.NoError(t, alertStore.Insert(context.Background(), perClose))

	cfg := PollerConfig{Interval: "1h", Every: time.Minute, LookbackBars: 12}
	p := NewPoller(cfg, []domain.Symbol{{ID: 1, Ticker: "BTC-USD"}},
		orch, engine, dispatcher, alertStore, cache.New(16, time.Minute), nil)

	tick := provider.PriceUpdate{Ticker: "BTC-USD", Price: 105, Ts: now}
	require.NoError(t, p.HandleTick(context.Background(), tick))

	triggers, err := triggerStore.GetByAlertID(context.Background(), perBar.ID)
	require.NoError(t, err)
	require.Len(t, triggers, 1, "live cross through 100 fires the per-bar alert")
	require.Equal(t, 105.0, triggers[0].ObservedValue)

	closeTriggers, err := triggerStore.GetByAlertID(context.Background(), perClose.ID)
	require.NoError(t, err)
	require.Empty(t, closeTriggers, "a live bar never satisfies once_per_bar_close")

	// Same bar again: suppressed.
	require.NoError(t, p.HandleTick(context.Background(), tick))
	triggers, err = triggerStore.GetByAlertID(context.Background(), perBar.ID)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
}

func TestPoller_HandleTickIgnoresUntrackedTicker(t *testing.T) {
	candleStore := memory.NewCandleStore()
	alertStore := memory.NewAlertStore()
	triggerStore := memory.NewTriggerStore()

	orch := orchestrator.New(candleStore, candles.NewWriter(candleStore, nil), risingProvider{})
	engine := alerts.NewEngine(alertStore, triggerStore)
	dispatcher := alerts.NewDispatcher(triggerStore, alerts.NewLogNotifier(nil), nil)

	cfg := PollerConfig{Interval: "1h", Every: time.Minute, LookbackBars: 12}
	p := NewPoller(cfg, []domain.Symbol{{ID: 1, Ticker: "BTC-USD"}},
		orch, engine, dispatcher, alertStore, cache.New(16, time.Minute), nil)

	err := p.HandleTick(context.Background(), provider.PriceUpdate{Ticker: "DOGE-USD", Price: 1})
	require.NoError(t, err)
}

func TestPoller_SameIndicatorDifferentParamsEvaluatedSeparately(t *testing.T) {
	candleStore := memory.NewCandleStore()
	alertStore := memory.NewAlertStore()
	triggerStore := memory.NewTriggerStore()

	orch := orchestrator.New(candleStore, candles.NewWriter(candleStore, nil), risingProvider{})
	engine := alerts.NewEngine(alertStore, triggerStore)
	dispatcher := alerts.NewDispatcher(triggerStore, alerts.NewLogNotifier(nil), nil)

	now := time.Now().UTC()

	// Fast sma over the last two bars: (95+105)/2 = 100, above its band.
	fast := &domain.Alert{
		ID:              uuid.NewString(),
		SymbolID:        1,
		Condition:       domain.CondIndicatorAboveUpper,
		IndicatorName:   "sma",
		IndicatorParams: map[string]float64{"period": 2, "upper": 95},
		Mode:            domain.TriggerOncePerBar,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// Slow sma over twenty bars: (19*95+105)/20 = 95.5, below its band.
	slow := &domain.Alert{
		ID:              uuid.NewString(),
		SymbolID:        1,
		Condition:       domain.CondIndicatorAboveUpper,
		IndicatorName:   "sma",
		IndicatorParams: map[string]float64{"period": 20, "upper": 99.9},
		Mode:            domain.TriggerOncePerBar,
		IsActive:        true,
		CreatedAt:       now.Add(time.Second),
		UpdatedAt:       now.Add(time.Second),
	}
	require.NoError(t, alertStore.Insert(context.Background(), fast))
	require.NoError(t, alertStore.Insert(context.Background(), slow))

	cfg := PollerConfig{Interval: "1h", Every: time.Minute, LookbackBars: 24}
	p := NewPoller(cfg, []domain.Symbol{{ID: 1, Ticker: "BTC-USD"}},
		orch, engine, dispatcher, alertStore, cache.New(16, time.Minute), nil)

	p.Sweep(context.Background())

	fastTriggers, err := triggerStore.GetByAlertID(context.Background(), fast.ID)
	require.NoError(t, err)
	require.Len(t, fastTriggers, 1)

	slowTriggers, err := triggerStore.GetByAlertID(context.Background(), slow.ID)
	require.NoError(t, err)
	require.Empty(t, slowTriggers, "slow sma must be evaluated against its own parameterization")
}
