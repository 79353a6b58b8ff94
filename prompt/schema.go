package prompt

import (
	"encoding/json"

	"github.com/AI-driven-ST-Foundation/agent/catalog"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

func strategyNames() []string {
	names := make([]string, len(model.LocatorStrategies))
	for i, s := range model.LocatorStrategies {
		names[i] = string(s)
	}
	return names
}

func locatorSchema(withEnum bool) map[string]any {
	strategy := map[string]any{"type": "string"}
	if withEnum {
		strategy["enum"] = strategyNames()
	}
	return map[string]any{
		"type":     "object",
		"required": []string{"strategy", "value"},
		"properties": map[string]any{
			"strategy": strategy,
			"value":    map[string]any{"type": "string"},
		},
	}
}

// Schema returns the JSON schema the model reply must follow.
func Schema(kind catalog.Kind) map[string]any {
	operationField := "action"
	if kind == catalog.KindCheck {
		operationField = "assertion"
	}

	properties := map[string]any{
		operationField: map[string]any{
			"type": "string",
			"enum": catalog.Names(kind),
		},
		"locator": locatorSchema(true),
		"candidates": map[string]any{
			"type":  "array",
			"items": locatorSchema(false),
		},
	}
	if kind == catalog.KindCheck {
		properties["expected"] = map[string]any{"type": []string{"string", "number", "null"}}
	} else {
		properties["text"] = map[string]any{"type": []string{"string", "null"}}
		properties["options"] = map[string]any{"type": []string{"object", "null"}}
	}

	return map[string]any{
		"type":                 "object",
		"required":             []string{operationField, "locator"},
		"properties":           properties,
		"additionalProperties": false,
	}
}

// SchemaJSON renders Schema as compact JSON. encoding/json sorts map keys,
// which keeps the prompt byte-stable.
func SchemaJSON(kind catalog.Kind) string {
	data, err := json.Marshal(Schema(kind))
	if err != nil {
		// Schema only holds strings, slices and maps.
		panic(err)
	}
	return string(data)
}
