package backtest

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// EngineConfig is the yaml execution config the backtest engine is
// initialized with. It carries everything about the run except the playbook
// itself and the data location, which are set separately.
type EngineConfig struct {
	Symbol          string                     `yaml:"symbol" json:"symbol" jsonschema:"title=Symbol,description=Instrument symbol the playbook runs on"`
	Timeframe       types.Timeframe            `yaml:"timeframe" json:"timeframe" jsonschema:"title=Timeframe,description=Bar timeframe driving phase evaluation"`
	StartingBalance float64                    `yaml:"starting_balance" json:"starting_balance" jsonschema:"title=Starting Balance,description=Account balance at the start of the run,minimum=0"`
	Spread          float64                    `yaml:"spread" json:"spread" jsonschema:"title=Spread,description=Bid/ask spread in price increments; fills pay half on each side,minimum=0"`
	PointValue      float64                    `yaml:"point_value" json:"point_value" jsonschema:"title=Point Value,description=Account currency per price increment per 1.0 lot,minimum=0"`
	BarCount        int                        `yaml:"bar_count" json:"bar_count" jsonschema:"title=Bar Count,description=Bars the run requires; 0 means every bar the feed holds,minimum=0"`
	StartTime       optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the simulated window"`
	EndTime         optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the simulated window"`
}

// UnmarshalYAML implements custom unmarshaling for EngineConfig
func (c *EngineConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Config struct {
		Symbol          string          `yaml:"symbol"`
		Timeframe       types.Timeframe `yaml:"timeframe"`
		StartingBalance float64         `yaml:"starting_balance"`
		Spread          float64         `yaml:"spread"`
		PointValue      float64         `yaml:"point_value"`
		BarCount        int             `yaml:"bar_count"`
		StartTime       *time.Time      `yaml:"start_time"`
		EndTime         *time.Time      `yaml:"end_time"`
	}

	var config Config
	if err := unmarshal(&config); err != nil {
		return err
	}

	c.Symbol = config.Symbol
	c.Timeframe = config.Timeframe
	c.StartingBalance = config.StartingBalance
	c.Spread = config.Spread
	c.PointValue = config.PointValue
	c.BarCount = config.BarCount
	if config.StartTime != nil {
		c.StartTime = optional.Some(*config.StartTime)
	}
	if config.EndTime != nil {
		c.EndTime = optional.Some(*config.EndTime)
	}

	return nil
}

// GenerateSchema generates a JSON schema for the EngineConfig
func (c *EngineConfig) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}
			if t.String() == "types.Timeframe" {
				return &jsonschema.Schema{
					Type: "string",
					Enum: types.AllTimeframes,
				}
			}
			return nil
		},
	}

	// Generate schema from EngineConfig struct
	schema := reflector.Reflect(c)

	// Set schema metadata
	schema.Title = "backtest-engine-config"
	schema.Description = "Execution configuration schema for the playbook backtest engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the EngineConfig
func (c *EngineConfig) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// RunParams converts the config into simulator run parameters. barCount
// replaces a zero BarCount so "use every bar" configs still satisfy the
// parameter validation.
func (c *EngineConfig) RunParams(barCount int) types.RunParams {
	count := c.BarCount
	if count == 0 {
		count = barCount
	}

	return types.RunParams{
		Symbol:          c.Symbol,
		Timeframe:       c.Timeframe,
		BarCount:        count,
		Spread:          c.Spread,
		PointValue:      c.PointValue,
		StartingBalance: c.StartingBalance,
	}
}

// EmptyConfig returns an EngineConfig with default values
func EmptyConfig() EngineConfig {
	return EngineConfig{
		Symbol:          "",
		Timeframe:       types.TimeframeH1,
		StartingBalance: 10000,
		Spread:          0,
		PointValue:      1,
		BarCount:        0,
		StartTime:       optional.None[time.Time](),
		EndTime:         optional.None[time.Time](),
	}
}
