package types

type IndicatorType string

const (
	IndicatorTypeRSI                   IndicatorType = "rsi"
	IndicatorTypeMACD                  IndicatorType = "macd"
	IndicatorTypeBollingerBands        IndicatorType = "bollinger_bands"
	IndicatorTypeStochasticOsciallator IndicatorType = "stochastic_oscillator"
	IndicatorTypeWilliamsR             IndicatorType = "williams_r"
	IndicatorTypeADX                   IndicatorType = "adx"
	IndicatorTypeCCI                   IndicatorType = "cci"
	IndicatorTypeATR                   IndicatorType = "atr"
	IndicatorTypeEMA                   IndicatorType = "ema"
	IndicatorTypeMA                    IndicatorType = "ma"
)

// IndicatorValues maps an indicator's output field name to its value for one
// bar (e.g., {"value": 28.4} for RSI, {"macd": ..., "signal": ...} for MACD).
type IndicatorValues map[string]float64

// IndicatorSpec declares an indicator a playbook depends on. The engine does
// not compute indicators itself; the declaration exists so expression
// references can be validated up front and so sweeps can address indicator
// parameters.
type IndicatorSpec struct {
	ID        string             `yaml:"id" json:"id" validate:"required" jsonschema:"description=Unique identifier referenced as ind.<id>.<field> in expressions"`
	Type      IndicatorType      `yaml:"type" json:"type" validate:"required" jsonschema:"description=Indicator kind computed by the indicator subsystem"`
	Timeframe Timeframe          `yaml:"timeframe" json:"timeframe" validate:"required" jsonschema:"description=Timeframe the indicator is computed on"`
	Params    map[string]float64 `yaml:"params,omitempty" json:"params,omitempty" jsonschema:"description=Numeric indicator parameters such as period"`
}
