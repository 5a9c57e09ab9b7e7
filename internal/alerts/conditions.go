package alerts

import (
	"fmt"

	"candlewatch/internal/domain"
)

// Result is the outcome of one condition evaluation.
type Result struct {
	Satisfied   bool
	TriggerType string
	Message     string
}

// bandLevels resolves the upper/lower levels for band-style conditions.
// Explicit params win; Threshold is the fallback for both.
func bandLevels(alert *domain.Alert) (upper, lower float64) {
	upper, lower = alert.Threshold, alert.Threshold
	if v, ok := alert.IndicatorParams["upper"]; ok {
		upper = v
	}
	if v, ok := alert.IndicatorParams["lower"]; ok {
		lower = v
	}
	return upper, lower
}

// evaluateCondition dispatches on the alert's condition. Cross, turn and
// slope conditions require a genuine transition: both sides of the boundary
// must be observed, merely sitting beyond it never re-fires.
func evaluateCondition(alert *domain.Alert, p ValuePoint) (Result, error) {
	upper, lower := bandLevels(alert)

	switch alert.Condition {
	case domain.CondPriceAbove:
		return upResult(alert, p.Cur > alert.Threshold), nil

	case domain.CondPriceBelow:
		return downResult(alert, p.Cur < alert.Threshold), nil

	case domain.CondPriceCrossUp:
		if !p.HasPrev {
			return Result{}, nil
		}
		return upResult(alert, p.Prev <= alert.Threshold && p.Cur > alert.Threshold), nil

	case domain.CondPriceCrossDown:
		if !p.HasPrev {
			return Result{}, nil
		}
		return downResult(alert, p.Prev >= alert.Threshold && p.Cur < alert.Threshold), nil

	case domain.CondIndicatorAboveUpper:
		return upResult(alert, p.Cur > upper), nil

	case domain.CondIndicatorBelowLower:
		return downResult(alert, p.Cur < lower), nil

	case domain.CondIndicatorCrossesUpper:
		if !p.HasPrev {
			return Result{}, nil
		}
		return upResult(alert, p.Prev <= upper && p.Cur > upper), nil

	case domain.CondIndicatorCrossesLower:
		if !p.HasPrev {
			return Result{}, nil
		}
		return downResult(alert, p.Prev >= lower && p.Cur < lower), nil

	case domain.CondIndicatorTurnsPos:
		if !p.HasPrev {
			return Result{}, nil
		}
		return upResult(alert, p.Prev <= 0 && p.Cur > 0), nil

	case domain.CondIndicatorTurnsNeg:
		if !p.HasPrev {
			return Result{}, nil
		}
		return downResult(alert, p.Prev >= 0 && p.Cur < 0), nil

	case domain.CondIndicatorSlopeBull:
		// Slope flip needs three points: falling into the previous bar,
		// rising out of it.
		if !p.HasPrev || !p.HasPrev2 {
			return Result{}, nil
		}
		return upResult(alert, p.Prev-p.Prev2 <= 0 && p.Cur-p.Prev > 0), nil

	case domain.CondIndicatorSlopeBear:
		if !p.HasPrev || !p.HasPrev2 {
			return Result{}, nil
		}
		return downResult(alert, p.Prev-p.Prev2 >= 0 && p.Cur-p.Prev < 0), nil

	case domain.CondIndicatorSignalChange:
		if !p.HasPrev {
			return Result{}, nil
		}
		switch {
		case p.Prev <= 0 && p.Cur > 0:
			return directional(alert, true), nil
		case p.Prev >= 0 && p.Cur < 0:
			return directional(alert, false), nil
		}
		return Result{}, nil

	case domain.CondCRSIBandCross:
		if !p.HasPrev {
			return Result{}, nil
		}
		switch {
		case p.Prev <= upper && p.Cur > upper:
			return directional(alert, true), nil
		case p.Prev >= lower && p.Cur < lower:
			return directional(alert, false), nil
		}
		return Result{}, nil
	}

	return Result{}, fmt.Errorf("unsupported condition %q", alert.Condition)
}

// upResult wraps a non-directional satisfied flag as an upward trigger.
func upResult(alert *domain.Alert, satisfied bool) Result {
	if !satisfied {
		return Result{}
	}
	return Result{
		Satisfied:   true,
		TriggerType: string(alert.Condition),
		Message:     alert.MessageUp,
	}
}

// downResult wraps a non-directional satisfied flag as a downward trigger.
func downResult(alert *domain.Alert, satisfied bool) Result {
	if !satisfied {
		return Result{}
	}
	return Result{
		Satisfied:   true,
		TriggerType: string(alert.Condition),
		Message:     alert.MessageDown,
	}
}

// directional builds the result for conditions that can fire either way,
// selecting the direction-specific trigger type and message.
func directional(alert *domain.Alert, up bool) Result {
	if up {
		return Result{
			Satisfied:   true,
			TriggerType: string(alert.Condition) + "_up",
			Message:     alert.MessageUp,
		}
	}
	return Result{
		Satisfied:   true,
		TriggerType: string(alert.Condition) + "_down",
		Message:     alert.MessageDown,
	}
}
