package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage/memory"
)

type engineFixture struct {
	engine   *Engine
	alerts   *memory.AlertStore
	triggers *memory.TriggerStore
	now      time.Time
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		alerts:   memory.NewAlertStore(),
		triggers: memory.NewTriggerStore(),
		now:      time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.alerts, f.triggers, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *engineFixture) addAlert(t *testing.T, a *domain.Alert) *domain.Alert {
	t.Helper()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.IsActive = true
	a.CreatedAt = f.now
	a.UpdatedAt = f.now
	require.NoError(t, f.alerts.Insert(context.Background(), a))
	return a
}

func priceSnapshot(barTs time.Time, prev, cur float64) Snapshot {
	return Snapshot{
		BarTs:     barTs,
		BarClosed: true,
		Price:     ValuePoint{Cur: cur, Prev: prev, HasPrev: true},
	}
}

func TestCrossUp_FiresOnGenuineTransition(t *testing.T) {
	f := newFixture(t)
	f.addAlert(t, &domain.Alert{
		SymbolID:  1,
		Condition: domain.CondPriceCrossUp,
		Threshold: 100,
		Mode:      domain.TriggerOncePerBar,
		MessageUp: "crossed above 100",
	})

	barTs := f.now.Truncate(time.Hour)

	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1, priceSnapshot(barTs, 95, 105))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	require.Equal(t, "crosses_up", fired[0].TriggerType)
	require.Equal(t, "crossed above 100", fired[0].Message)
	require.Equal(t, 105.0, fired[0].ObservedValue)
}

func TestCrossUp_NoFireWhenAlreadyAbove(t *testing.T) {
	f := newFixture(t)
	f.addAlert(t, &domain.Alert{
		SymbolID:  1,
		Condition: domain.CondPriceCrossUp,
		Threshold: 100,
		Mode:      domain.TriggerOncePerBar,
	})

	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1,
		priceSnapshot(f.now.Truncate(time.Hour), 102, 105))
	require.NoError(t, err)
	require.Empty(t, fired, "both bars above threshold is not a cross")
}

func TestThreshold_FiresOnCurrentValueOnly(t *testing.T) {
	f := newFixture(t)
	f.addAlert(t, &domain.Alert{
		SymbolID:  1,
		Condition: domain.CondPriceAbove,
		Threshold: 100,
		Mode:      domain.TriggerOncePerBar,
	})

	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1,
		priceSnapshot(f.now.Truncate(time.Hour), 102, 105))
	require.NoError(t, err)
	require.Len(t, fired, 1, "simple threshold needs no transition")
}

func TestOnceMode_FiresOnceThenDeactivates(t *testing.T) {
	f := newFixture(t)
	a := f.addAlert(t, &domain.Alert{
		SymbolID:  1,
		Condition: domain.CondPriceCrossUp,
		Threshold: 100,
		Mode:      domain.TriggerOnce,
	})

	snap := priceSnapshot(f.now.Truncate(time.Hour), 95, 105)

	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// Identical evaluation immediately after: the alert is now inactive.
	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Empty(t, fired)

	got, err := f.alerts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive, "once-mode alert deactivates after firing")
}

func TestCooldown_SuppressesWithinWindow(t *testing.T) {
	f := newFixture(t)
	f.addAlert(t, &domain.Alert{
		SymbolID:        1,
		Condition:       domain.CondPriceCrossUp,
		Threshold:       100,
		CooldownMinutes: 30,
		Mode:            domain.TriggerOncePerBar,
	})

	bar1 := f.now.Truncate(time.Hour)
	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1, priceSnapshot(bar1, 95, 105))
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// A fresh cross on the next bar, 10 minutes later: still cooling down.
	f.now = f.now.Add(10 * time.Minute)
	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1,
		priceSnapshot(bar1.Add(time.Hour), 98, 103))
	require.NoError(t, err)
	require.Empty(t, fired, "cooldown window suppresses re-fire")

	// Past the window the same setup fires again.
	f.now = f.now.Add(25 * time.Minute)
	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1,
		priceSnapshot(bar1.Add(2*time.Hour), 98, 103))
	require.NoError(t, err)
	require.Len(t, fired, 1)
}

func TestOncePerBar_SameBarSuppressed(t *testing.T) {
	f := newFixture(t)
	f.addAlert(t, &domain.Alert{
		SymbolID:  1,
		Condition: domain.CondPriceAbove,
		Threshold: 100,
		Mode:      domain.TriggerOncePerBar,
	})

	barTs := f.now.Truncate(time.Hour)

	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1, priceSnapshot(barTs, 95, 105))
	require.NoError(t, err)
	require.Len(t, fired, 1)

	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1, priceSnapshot(barTs, 95, 106))
	require.NoError(t, err)
	require.Empty(t, fired, "second update of the same bar must not re-fire")

	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1, priceSnapshot(barTs.Add(time.Hour), 95, 106))
	require.NoError(t, err)
	require.Len(t, fired, 1, "a new bar may fire again")
}

func TestOncePerClose_IgnoresLiveBars(t *testing.T) {
	f := newFixture(t)
	f.addAlert(t, &domain.Alert{
		SymbolID:  1,
		Condition: domain.CondPriceAbove,
		Threshold: 100,
		Mode:      domain.TriggerOncePerClose,
	})

	snap := priceSnapshot(f.now.Truncate(time.Hour), 95, 105)
	snap.BarClosed = false

	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Empty(t, fired, "close-mode alerts only fire on closed bars")

	snap.BarClosed = true
	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Len(t, fired, 1)
}

func TestIndicatorKey_DistinguishesParameterizations(t *testing.T) {
	require.NotEqual(t,
		IndicatorKey("sma", map[string]float64{"period": 2}),
		IndicatorKey("sma", map[string]float64{"period": 20}))

	// Deterministic regardless of map iteration order.
	require.Equal(t,
		IndicatorKey("bbands", map[string]float64{"period": 20, "width": 2}),
		IndicatorKey("bbands", map[string]float64{"width": 2, "period": 20}))

	require.Equal(t, IndicatorKey("rsi", nil), IndicatorKey("rsi", map[string]float64{}))
}

func TestIndicatorBandCross_DirectionalMessages(t *testing.T) {
	f := newFixture(t)
	params := map[string]float64{"upper": 90, "lower": 10}
	f.addAlert(t, &domain.Alert{
		SymbolID:        1,
		Condition:       domain.CondCRSIBandCross,
		IndicatorName:   "crsi",
		IndicatorParams: params,
		Mode:            domain.TriggerOncePerBar,
		MessageUp:       "crsi overbought",
		MessageDown:     "crsi oversold",
	})

	crsiKey := IndicatorKey("crsi", params)
	barTs := f.now.Truncate(time.Hour)
	snap := Snapshot{
		BarTs:     barTs,
		BarClosed: true,
		Indicators: map[string]map[string]ValuePoint{
			crsiKey: {"": {Cur: 93, Prev: 85, HasPrev: true}},
		},
	}

	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	require.Equal(t, "crsi_band_cross_up", fired[0].TriggerType)
	require.Equal(t, "crsi overbought", fired[0].Message)

	snap.BarTs = barTs.Add(time.Hour)
	snap.Indicators[crsiKey][""] = ValuePoint{Cur: 7, Prev: 15, HasPrev: true}
	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	require.Equal(t, "crsi_band_cross_down", fired[0].TriggerType)
	require.Equal(t, "crsi oversold", fired[0].Message)
}

func TestSlopeBullish_NeedsThreePoints(t *testing.T) {
	f := newFixture(t)
	f.addAlert(t, &domain.Alert{
		SymbolID:      1,
		Condition:     domain.CondIndicatorSlopeBull,
		IndicatorName: "macd",
		Mode:          domain.TriggerOncePerBar,
	})

	barTs := f.now.Truncate(time.Hour)

	// Falling then rising: a slope flip.
	macdKey := IndicatorKey("macd", nil)
	snap := Snapshot{
		BarTs:     barTs,
		BarClosed: true,
		Indicators: map[string]map[string]ValuePoint{
			macdKey: {"": {Cur: -0.5, Prev: -1.0, Prev2: -0.2, HasPrev: true, HasPrev2: true}},
		},
	}
	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// Still rising: no new flip.
	snap.BarTs = barTs.Add(time.Hour)
	snap.Indicators[macdKey][""] = ValuePoint{Cur: 0.1, Prev: -0.5, Prev2: -1.0, HasPrev: true, HasPrev2: true}
	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Empty(t, fired, "monotonic rise is not a slope turn")
}

func TestTurnsPositive_ZoneTransition(t *testing.T) {
	f := newFixture(t)
	f.addAlert(t, &domain.Alert{
		SymbolID:       1,
		Condition:      domain.CondIndicatorTurnsPos,
		IndicatorName:  "macd",
		IndicatorField: "hist",
		Mode:           domain.TriggerOncePerBar,
	})

	macdKey := IndicatorKey("macd", nil)
	snap := Snapshot{
		BarTs:     f.now.Truncate(time.Hour),
		BarClosed: true,
		Indicators: map[string]map[string]ValuePoint{
			macdKey: {"hist": {Cur: 0.3, Prev: -0.2, HasPrev: true}},
		},
	}
	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// Positive on both bars: no turn.
	snap.BarTs = snap.BarTs.Add(time.Hour)
	snap.Indicators[macdKey]["hist"] = ValuePoint{Cur: 0.5, Prev: 0.3, HasPrev: true}
	fired, err = f.engine.EvaluateSymbolAlerts(context.Background(), 1, snap)
	require.NoError(t, err)
	require.Empty(t, fired)
}

func TestMalformedAlert_IsolatedPerAlert(t *testing.T) {
	f := newFixture(t)

	// Indicator condition without an indicator name: malformed config.
	f.addAlert(t, &domain.Alert{
		SymbolID:  1,
		Condition: domain.CondIndicatorCrossesUpper,
		Mode:      domain.TriggerOncePerBar,
	})
	f.addAlert(t, &domain.Alert{
		SymbolID:  1,
		Condition: domain.CondPriceAbove,
		Threshold: 100,
		Mode:      domain.TriggerOncePerBar,
	})

	fired, err := f.engine.EvaluateSymbolAlerts(context.Background(), 1,
		priceSnapshot(f.now.Truncate(time.Hour), 95, 105))
	require.NoError(t, err)
	require.Len(t, fired, 1, "a malformed alert must not block the healthy one")
}

func TestDispatcher_AdvancesDeliveryState(t *testing.T) {
	triggers := memory.NewTriggerStore()

	tr := &domain.AlertTrigger{
		ID:             uuid.NewString(),
		AlertID:        uuid.NewString(),
		TriggeredAt:    time.Now().UTC(),
		TriggerType:    "above",
		DeliveryStatus: domain.DeliveryPending,
	}
	require.NoError(t, triggers.Insert(context.Background(), tr))

	d := NewDispatcher(triggers, NewLogNotifier(nil), nil)

	delivered, err := d.Pass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, delivered)

	left, err := triggers.ListUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, left)
}

type failingNotifier struct{}

func (failingNotifier) Deliver(ctx context.Context, trigger *domain.AlertTrigger) error {
	return errors.New("channel down")
}

func TestDispatcher_RetriesThenFails(t *testing.T) {
	triggers := memory.NewTriggerStore()

	tr := &domain.AlertTrigger{
		ID:             uuid.NewString(),
		AlertID:        uuid.NewString(),
		TriggeredAt:    time.Now().UTC(),
		TriggerType:    "above",
		DeliveryStatus: domain.DeliveryPending,
	}
	require.NoError(t, triggers.Insert(context.Background(), tr))

	d := NewDispatcher(triggers, failingNotifier{}, nil)

	// Attempts 1 and 2 leave the trigger retrying, attempt 3 marks it failed.
	for i := 0; i < DefaultMaxDeliveryRetries; i++ {
		delivered, err := d.Pass(context.Background())
		require.NoError(t, err)
		require.Zero(t, delivered)
	}

	left, err := triggers.ListUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, left, "exhausted trigger leaves the retry queue")

	all, err := triggers.GetByAlertID(context.Background(), tr.AlertID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, domain.DeliveryFailed, all[0].DeliveryStatus)
	require.Equal(t, DefaultMaxDeliveryRetries, all[0].RetryCount)
}
