// Package alerts evaluates user-defined alerts against price and indicator
// observations. Conditions fire on genuine transitions only; trigger modes
// and cooldown suppress repeats.
package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"candlewatch/internal/domain"
	"candlewatch/internal/observability"
	"candlewatch/internal/storage"
)

// ValuePoint carries the current observation and up to two prior ones for a
// single series. Prev2 is only needed by slope conditions.
type ValuePoint struct {
	Cur      float64
	Prev     float64
	Prev2    float64
	HasPrev  bool
	HasPrev2 bool
}

// Snapshot is one symbol's observation set at evaluation time.
type Snapshot struct {
	BarTs     time.Time
	BarClosed bool

	// PriceOnly marks a live-tick snapshot carrying no indicator series.
	// Indicator alerts are deferred to the next full sweep, not failed.
	PriceOnly bool

	Price ValuePoint

	// Indicators maps IndicatorKey(name, params) to field name to values.
	// Two alerts naming the same indicator with different parameters must
	// never share an entry. The empty field key holds the indicator's
	// primary series.
	Indicators map[string]map[string]ValuePoint
}

// IndicatorKey identifies one parameterization of an indicator inside a
// snapshot. Params render in sorted key order so the key is deterministic.
func IndicatorKey(name string, params map[string]float64) string {
	if len(params) == 0 {
		return name + "|-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('|')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%g", k, params[k])
	}
	return b.String()
}

// Engine evaluates active alerts for a symbol and records triggers.
type Engine struct {
	alertStore   storage.AlertStore
	triggerStore storage.TriggerStore
	log          logrus.FieldLogger
	now          func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) EngineOption {
	return func(e *Engine) {
		e.log = log.WithField("component", "alert_engine")
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an alert Engine.
func NewEngine(alertStore storage.AlertStore, triggerStore storage.TriggerStore, opts ...EngineOption) *Engine {
	e := &Engine{
		alertStore:   alertStore,
		triggerStore: triggerStore,
		log:          logrus.StandardLogger().WithField("component", "alert_engine"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateSymbolAlerts runs every active alert for the symbol against the
// snapshot and returns the triggers that fired. A failure evaluating one
// alert is logged and skipped; it never blocks the rest.
func (e *Engine) EvaluateSymbolAlerts(ctx context.Context, symbolID int64, snap Snapshot) ([]*domain.AlertTrigger, error) {
	active, err := e.alertStore.GetActiveBySymbol(ctx, symbolID)
	if err != nil {
		return nil, fmt.Errorf("load active alerts for symbol %d: %w", symbolID, err)
	}

	var fired []*domain.AlertTrigger
	for _, alert := range active {
		if snap.PriceOnly && alert.IndicatorName != "" {
			continue
		}
		trigger, err := e.evaluateOne(ctx, alert, snap)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"alert_id":  alert.ID,
				"condition": alert.Condition,
			}).Warn("alert evaluation failed, skipping")
			continue
		}
		if trigger != nil {
			fired = append(fired, trigger)
		}
	}
	return fired, nil
}

// evaluateOne evaluates a single alert. Returns nil when the condition is
// not satisfied or the trigger is suppressed.
func (e *Engine) evaluateOne(ctx context.Context, alert *domain.Alert, snap Snapshot) (*domain.AlertTrigger, error) {
	point, err := selectValue(alert, snap)
	if err != nil {
		return nil, err
	}

	result, err := evaluateCondition(alert, point)
	if err != nil {
		return nil, err
	}
	if !result.Satisfied {
		return nil, nil
	}

	now := e.now().UTC()
	if e.suppressed(alert, snap, now) {
		return nil, nil
	}

	trigger := &domain.AlertTrigger{
		ID:             uuid.NewString(),
		AlertID:        alert.ID,
		TriggeredAt:    now,
		ObservedValue:  point.Cur,
		TriggerType:    result.TriggerType,
		Message:        result.Message,
		DeliveryStatus: domain.DeliveryPending,
	}
	if err := e.triggerStore.Insert(ctx, trigger); err != nil {
		return nil, fmt.Errorf("record trigger: %w", err)
	}

	barTs := snap.BarTs
	alert.LastTriggeredAt = &now
	alert.LastTriggeredBarTs = &barTs
	alert.UpdatedAt = now
	if alert.Mode == domain.TriggerOnce {
		alert.IsActive = false
	}
	if err := e.alertStore.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("advance alert bookkeeping: %w", err)
	}

	observability.RecordAlertTriggered(result.TriggerType)
	e.log.WithFields(logrus.Fields{
		"alert_id":     alert.ID,
		"trigger_type": result.TriggerType,
		"value":        point.Cur,
	}).Info("alert triggered")

	return trigger, nil
}

// suppressed applies cooldown and trigger-mode rules to an otherwise
// satisfied alert.
func (e *Engine) suppressed(alert *domain.Alert, snap Snapshot, now time.Time) bool {
	if alert.CooldownActive(now) {
		return true
	}

	switch alert.Mode {
	case domain.TriggerOnce:
		return alert.LastTriggeredAt != nil
	case domain.TriggerOncePerBar:
		return alert.LastTriggeredBarTs != nil && alert.LastTriggeredBarTs.Equal(snap.BarTs)
	case domain.TriggerOncePerClose:
		if !snap.BarClosed {
			return true
		}
		return alert.LastTriggeredBarTs != nil && alert.LastTriggeredBarTs.Equal(snap.BarTs)
	}
	return false
}

// selectValue picks the series the alert's condition observes.
func selectValue(alert *domain.Alert, snap Snapshot) (ValuePoint, error) {
	switch alert.Condition {
	case domain.CondPriceAbove, domain.CondPriceBelow, domain.CondPriceCrossUp, domain.CondPriceCrossDown:
		return snap.Price, nil
	}

	if alert.IndicatorName == "" {
		return ValuePoint{}, fmt.Errorf("condition %s requires an indicator name", alert.Condition)
	}
	fields, ok := snap.Indicators[IndicatorKey(alert.IndicatorName, alert.IndicatorParams)]
	if !ok {
		return ValuePoint{}, fmt.Errorf("snapshot has no values for indicator %s", alert.IndicatorName)
	}
	point, ok := fields[alert.IndicatorField]
	if !ok {
		return ValuePoint{}, fmt.Errorf("snapshot has no field %q for indicator %s", alert.IndicatorField, alert.IndicatorName)
	}
	return point, nil
}
