// Package indicator provides a static registry of indicator calculations.
// Indicators are registered explicitly at startup; lookup is by name.
package indicator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"candlewatch/internal/domain"
)

// Sentinel errors.
var (
	ErrUnknownIndicator = errors.New("unknown indicator")
	ErrNotEnoughBars    = errors.New("not enough bars")
)

// Series holds computed indicator values aligned to the input candles.
// Warmup positions hold NaN. Primary names the field used when a caller
// does not ask for a specific one.
type Series struct {
	Fields  map[string][]float64
	Primary string
}

// valid reports whether v is a usable data point.
func valid(v float64) bool {
	return !math.IsNaN(v)
}

// field resolves a field name, empty meaning the primary field.
func (s Series) field(name string) ([]float64, error) {
	if name == "" {
		name = s.Primary
	}
	vals, ok := s.Fields[name]
	if !ok {
		return nil, fmt.Errorf("series has no field %q", name)
	}
	return vals, nil
}

// Values returns the raw aligned values of a field, NaN in warmup
// positions. Empty name selects the primary field.
func (s Series) Values(name string) ([]float64, error) {
	return s.field(name)
}

// Last returns the newest valid value of a field. Empty name selects the
// primary field.
func (s Series) Last(name string) (float64, error) {
	vals, err := s.field(name)
	if err != nil {
		return 0, err
	}
	for i := len(vals) - 1; i >= 0; i-- {
		if valid(vals[i]) {
			return vals[i], nil
		}
	}
	return 0, ErrNotEnoughBars
}

// Prev returns the value one bar before the newest valid value.
func (s Series) Prev(name string) (float64, error) {
	vals, err := s.field(name)
	if err != nil {
		return 0, err
	}
	seen := false
	for i := len(vals) - 1; i >= 0; i-- {
		if !valid(vals[i]) {
			continue
		}
		if seen {
			return vals[i], nil
		}
		seen = true
	}
	return 0, ErrNotEnoughBars
}

// ComputeFunc calculates an indicator over candles. Pure: no I/O, no state.
type ComputeFunc func(candles []*domain.Candle, params map[string]float64) (Series, error)

// Indicator is a registry entry: the calculation plus its metadata.
type Indicator struct {
	Name    string
	Fields  []string
	MinBars int
	Compute ComputeFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Indicator)
)

// Register adds an indicator to the registry. Re-registering a name is a
// programming error.
func Register(ind Indicator) error {
	if ind.Name == "" || ind.Compute == nil {
		return fmt.Errorf("indicator needs a name and a compute function")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[ind.Name]; exists {
		return fmt.Errorf("indicator %q already registered", ind.Name)
	}
	registry[ind.Name] = ind
	return nil
}

// MustRegister is Register that panics. Used from init.
func MustRegister(ind Indicator) {
	if err := Register(ind); err != nil {
		panic(err)
	}
}

// Get returns a registered indicator by name.
func Get(name string) (Indicator, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ind, ok := registry[name]
	return ind, ok
}

// Names returns all registered indicator names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compute runs a registered indicator over candles.
func Compute(name string, candles []*domain.Candle, params map[string]float64) (Series, error) {
	ind, ok := Get(name)
	if !ok {
		return Series{}, fmt.Errorf("%w: %s", ErrUnknownIndicator, name)
	}
	if len(candles) < ind.MinBars {
		return Series{}, fmt.Errorf("%w: %s needs %d bars, have %d", ErrNotEnoughBars, name, ind.MinBars, len(candles))
	}
	return ind.Compute(candles, params)
}

// paramOr reads a numeric parameter with a default.
func paramOr(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return def
}
