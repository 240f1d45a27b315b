package types

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// GeneratePlaybookSchema generates a JSON schema for the playbook document.
// Enum-valued string types are mapped explicitly so editors can offer the
// valid values instead of a bare string.
func GeneratePlaybookSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t.String() {
			case "types.Timeframe":
				return &jsonschema.Schema{
					Type: "string",
					Enum: AllTimeframes,
				}
			case "types.CompareOp":
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{CompareLT, CompareGT, CompareLE, CompareGE, CompareEQ, CompareNE},
				}
			case "types.ActionType":
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{ActionSetVar, ActionOpenTrade, ActionCloseTrade, ActionLog},
				}
			case "types.ManagementActionType":
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{ManagementModifySL, ManagementModifyTP, ManagementTrailSL, ManagementPartialClose},
				}
			case "types.IndicatorType":
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{
						IndicatorTypeRSI, IndicatorTypeMACD, IndicatorTypeBollingerBands,
						IndicatorTypeStochasticOsciallator, IndicatorTypeWilliamsR,
						IndicatorTypeADX, IndicatorTypeCCI, IndicatorTypeATR,
						IndicatorTypeEMA, IndicatorTypeMA,
					},
				}
			case "types.VariableType":
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{VariableTypeNumber, VariableTypeBool},
				}
			case "types.Direction":
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{DirectionBuy, DirectionSell},
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(&Playbook{})

	schema.Title = "playbook"
	schema.Description = "Declarative multi-phase trading playbook document"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GeneratePlaybookSchemaJSON generates a JSON schema string for the playbook
// document.
func GeneratePlaybookSchemaJSON() (string, error) {
	schema, err := GeneratePlaybookSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
