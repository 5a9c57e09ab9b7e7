package indicator

import (
	"math"

	"candlewatch/internal/domain"
)

func init() {
	MustRegister(Indicator{Name: "sma", Fields: []string{"sma"}, MinBars: 2, Compute: computeSMA})
	MustRegister(Indicator{Name: "ema", Fields: []string{"ema"}, MinBars: 2, Compute: computeEMA})
	MustRegister(Indicator{Name: "rsi", Fields: []string{"rsi"}, MinBars: 15, Compute: computeRSI})
	MustRegister(Indicator{Name: "macd", Fields: []string{"macd", "signal", "hist"}, MinBars: 35, Compute: computeMACD})
	MustRegister(Indicator{Name: "bbands", Fields: []string{"upper", "middle", "lower"}, MinBars: 21, Compute: computeBBands})
	MustRegister(Indicator{Name: "crsi", Fields: []string{"crsi"}, MinBars: 101, Compute: computeCRSI})
}

func closes(candles []*domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// sma fills out[i] with the mean of values[i-period+1..i].
func sma(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) < period {
		return out
	}

	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// ema seeds with the SMA of the first period values, then smooths.
func ema(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) < period {
		return out
	}

	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	out[period-1] = seed / float64(period)

	k := 2.0 / (float64(period) + 1.0)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// rsi is Wilder's relative strength index over the given values.
func rsi(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) <= period {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func computeSMA(candles []*domain.Candle, params map[string]float64) (Series, error) {
	period := int(paramOr(params, "period", 20))
	return Series{
		Primary: "sma",
		Fields:  map[string][]float64{"sma": sma(closes(candles), period)},
	}, nil
}

func computeEMA(candles []*domain.Candle, params map[string]float64) (Series, error) {
	period := int(paramOr(params, "period", 20))
	return Series{
		Primary: "ema",
		Fields:  map[string][]float64{"ema": ema(closes(candles), period)},
	}, nil
}

func computeRSI(candles []*domain.Candle, params map[string]float64) (Series, error) {
	period := int(paramOr(params, "period", 14))
	return Series{
		Primary: "rsi",
		Fields:  map[string][]float64{"rsi": rsi(closes(candles), period)},
	}, nil
}

func computeMACD(candles []*domain.Candle, params map[string]float64) (Series, error) {
	fast := int(paramOr(params, "fast", 12))
	slow := int(paramOr(params, "slow", 26))
	signalPeriod := int(paramOr(params, "signal", 9))

	vals := closes(candles)
	emaFast := ema(vals, fast)
	emaSlow := ema(vals, slow)

	macd := nanSlice(len(vals))
	for i := range vals {
		if valid(emaFast[i]) && valid(emaSlow[i]) {
			macd[i] = emaFast[i] - emaSlow[i]
		}
	}

	// Signal is an EMA over the valid span of the MACD line.
	signal := nanSlice(len(vals))
	firstValid := -1
	for i, v := range macd {
		if valid(v) {
			firstValid = i
			break
		}
	}
	if firstValid >= 0 {
		sub := ema(macd[firstValid:], signalPeriod)
		copy(signal[firstValid:], sub)
	}

	hist := nanSlice(len(vals))
	for i := range vals {
		if valid(macd[i]) && valid(signal[i]) {
			hist[i] = macd[i] - signal[i]
		}
	}

	return Series{
		Primary: "macd",
		Fields: map[string][]float64{
			"macd":   macd,
			"signal": signal,
			"hist":   hist,
		},
	}, nil
}

func computeBBands(candles []*domain.Candle, params map[string]float64) (Series, error) {
	period := int(paramOr(params, "period", 20))
	width := paramOr(params, "stddev", 2)

	vals := closes(candles)
	middle := sma(vals, period)

	upper := nanSlice(len(vals))
	lower := nanSlice(len(vals))
	for i := period - 1; i < len(vals); i++ {
		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := vals[j] - middle[i]
			sq += d * d
		}
		sd := math.Sqrt(sq / float64(period))
		upper[i] = middle[i] + width*sd
		lower[i] = middle[i] - width*sd
	}

	return Series{
		Primary: "middle",
		Fields: map[string][]float64{
			"upper":  upper,
			"middle": middle,
			"lower":  lower,
		},
	}, nil
}

// computeCRSI is the Connors RSI: the mean of a short price RSI, a streak
// RSI and the percent rank of the one-bar return.
func computeCRSI(candles []*domain.Candle, params map[string]float64) (Series, error) {
	rsiPeriod := int(paramOr(params, "rsi_period", 3))
	streakPeriod := int(paramOr(params, "streak_period", 2))
	rankPeriod := int(paramOr(params, "rank_period", 100))

	vals := closes(candles)
	priceRSI := rsi(vals, rsiPeriod)

	// Streak: signed count of consecutive closes in one direction.
	streak := make([]float64, len(vals))
	for i := 1; i < len(vals); i++ {
		switch {
		case vals[i] > vals[i-1]:
			if streak[i-1] > 0 {
				streak[i] = streak[i-1] + 1
			} else {
				streak[i] = 1
			}
		case vals[i] < vals[i-1]:
			if streak[i-1] < 0 {
				streak[i] = streak[i-1] - 1
			} else {
				streak[i] = -1
			}
		}
	}
	streakRSI := rsi(streak, streakPeriod)

	// Percent rank of today's return against the trailing window.
	returns := nanSlice(len(vals))
	for i := 1; i < len(vals); i++ {
		if vals[i-1] != 0 {
			returns[i] = (vals[i] - vals[i-1]) / vals[i-1]
		}
	}
	rank := nanSlice(len(vals))
	for i := rankPeriod; i < len(vals); i++ {
		if !valid(returns[i]) {
			continue
		}
		below := 0
		for j := i - rankPeriod; j < i; j++ {
			if valid(returns[j]) && returns[j] < returns[i] {
				below++
			}
		}
		rank[i] = 100 * float64(below) / float64(rankPeriod)
	}

	crsi := nanSlice(len(vals))
	for i := range vals {
		if valid(priceRSI[i]) && valid(streakRSI[i]) && valid(rank[i]) {
			crsi[i] = (priceRSI[i] + streakRSI[i] + rank[i]) / 3
		}
	}

	return Series{
		Primary: "crsi",
		Fields:  map[string][]float64{"crsi": crsi},
	}, nil
}
