package utils

import (
	"encoding/json"
	"math"

	"github.com/invopop/jsonschema"
)

func GetSchemaFromConfig(config any) (string, error) {
	schema := jsonschema.Reflect(config)

	jsonSchemaBytes, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}

	return string(jsonSchemaBytes), nil
}

// RoundTo rounds x to n decimal places, half away from zero.
func RoundTo(x float64, n int) float64 {
	if n < 0 {
		n = 0
	}

	pow := math.Pow(10, float64(n))

	return math.Round(x*pow) / pow
}
