package types

import (
	"fmt"
	"time"
)

// Bar is one OHLCV observation for a symbol/timeframe.
type Bar struct {
	Time   time.Time `json:"time" yaml:"time"`
	Symbol string    `json:"symbol" yaml:"symbol"`
	Open   float64   `json:"open" yaml:"open"`
	High   float64   `json:"high" yaml:"high"`
	Low    float64   `json:"low" yaml:"low"`
	Close  float64   `json:"close" yaml:"close"`
	Volume float64   `json:"volume" yaml:"volume"`
}

// Validate checks basic OHLC consistency.
func (b *Bar) Validate() error {
	if b.High < b.Low {
		return fmt.Errorf("bar at %s: high %f below low %f", b.Time.Format(time.RFC3339), b.High, b.Low)
	}

	if b.Open > b.High || b.Open < b.Low {
		return fmt.Errorf("bar at %s: open %f outside range [%f, %f]", b.Time.Format(time.RFC3339), b.Open, b.Low, b.High)
	}

	if b.Close > b.High || b.Close < b.Low {
		return fmt.Errorf("bar at %s: close %f outside range [%f, %f]", b.Time.Format(time.RFC3339), b.Close, b.Low, b.High)
	}

	if b.Volume < 0 {
		return fmt.Errorf("bar at %s: negative volume %f", b.Time.Format(time.RFC3339), b.Volume)
	}

	return nil
}

// Mid returns the bar's reference price for evaluation. Phase conditions and
// action expressions see the close as the current market mid.
func (b *Bar) Mid() float64 {
	return b.Close
}

// Snapshot bundles one bar with the indicator values computed for it and the
// previous bar's values. The indicator subsystem computes these upstream; the
// engine only reads them.
type Snapshot struct {
	Bar Bar `json:"bar" yaml:"bar"`
	// Indicators maps indicator id -> output field -> value for the current bar.
	Indicators map[string]IndicatorValues `json:"indicators" yaml:"indicators"`
	// Previous holds the prior bar's indicator values under the same keys.
	Previous map[string]IndicatorValues `json:"previous" yaml:"previous"`
}

// Lookup resolves an indicator field value on the current bar.
func (s *Snapshot) Lookup(id, field string) (float64, bool) {
	values, ok := s.Indicators[id]
	if !ok {
		return 0, false
	}

	v, ok := values[field]

	return v, ok
}

// LookupPrevious resolves an indicator field value on the previous bar.
func (s *Snapshot) LookupPrevious(id, field string) (float64, bool) {
	values, ok := s.Previous[id]
	if !ok {
		return 0, false
	}

	v, ok := values[field]

	return v, ok
}
