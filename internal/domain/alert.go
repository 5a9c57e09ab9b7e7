package domain

import "time"

// AlertCondition identifies the rule an alert evaluates.
type AlertCondition string

// Price conditions.
const (
	CondPriceAbove      AlertCondition = "above"
	CondPriceBelow      AlertCondition = "below"
	CondPriceCrossUp    AlertCondition = "crosses_up"
	CondPriceCrossDown  AlertCondition = "crosses_down"
)

// Indicator conditions.
const (
	CondIndicatorAboveUpper   AlertCondition = "indicator_above_upper"
	CondIndicatorBelowLower   AlertCondition = "indicator_below_lower"
	CondIndicatorCrossesUpper AlertCondition = "indicator_crosses_upper"
	CondIndicatorCrossesLower AlertCondition = "indicator_crosses_lower"
	CondIndicatorTurnsPos     AlertCondition = "indicator_turns_positive"
	CondIndicatorTurnsNeg     AlertCondition = "indicator_turns_negative"
	CondIndicatorSlopeBull    AlertCondition = "indicator_slope_bullish"
	CondIndicatorSlopeBear    AlertCondition = "indicator_slope_bearish"
	CondIndicatorSignalChange AlertCondition = "indicator_signal_change"
	CondCRSIBandCross         AlertCondition = "crsi_band_cross"
)

// TriggerMode governs how often an alert may fire.
type TriggerMode string

// Trigger mode constants.
const (
	TriggerOnce         TriggerMode = "once"               // fires one time, then deactivates
	TriggerOncePerBar   TriggerMode = "once_per_bar"       // at most once per underlying bar update
	TriggerOncePerClose TriggerMode = "once_per_bar_close" // at most once per closed-bar timestamp
)

// Alert is a user-defined condition evaluated against streaming price and
// indicator values. Corresponds to alerts table in PostgreSQL.
type Alert struct {
	ID              string         // UUID primary key
	SymbolID        int64          // FK to symbols
	Condition       AlertCondition //
	Threshold       float64        // price/indicator level for threshold and cross conditions
	IndicatorName   string         // empty for price conditions
	IndicatorField  string         // series field, e.g. "macd_hist"; empty = primary value
	IndicatorParams map[string]float64
	CooldownMinutes int         // minimum minutes between triggers; 0 disables
	Mode            TriggerMode //
	IsActive        bool

	// Trigger bookkeeping, advanced by the engine on each fire.
	LastTriggeredAt    *time.Time
	LastTriggeredBarTs *time.Time

	// Direction-specific messages for band-cross style conditions.
	MessageUp   string
	MessageDown string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CooldownActive reports whether the alert is still inside its cooldown
// window at time now.
func (a *Alert) CooldownActive(now time.Time) bool {
	if a.CooldownMinutes <= 0 || a.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*a.LastTriggeredAt) < time.Duration(a.CooldownMinutes)*time.Minute
}

// DeliveryStatus tracks notification delivery for a trigger record.
type DeliveryStatus string

// Delivery status constants.
const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRetrying  DeliveryStatus = "retrying"
)

// AlertTrigger is an immutable event record created exactly once per satisfied
// evaluation. Only the delivery-retry subsystem advances DeliveryStatus,
// RetryCount and LastRetryAt. Corresponds to alert_triggers table.
type AlertTrigger struct {
	ID             string    // UUID primary key
	AlertID        string    // FK to alerts
	TriggeredAt    time.Time //
	ObservedValue  float64   // price or indicator value at trigger time
	TriggerType    string    // e.g. "crosses_up", "crsi_band_cross_down"
	Message        string    //
	DeliveryStatus DeliveryStatus
	RetryCount     int
	LastRetryAt    *time.Time
}
