package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// LegacySchema returns the JSON schema of first-generation results
func LegacySchema() map[string]any {
	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]any{
			"store":     storeSchema(),
			"date":      map[string]any{"type": "string", "minLength": 1},
			"items":     itemsSchema(true),
			"total":     map[string]any{"type": "number"},
			"taxAmount": map[string]any{"type": []any{"number", "null"}},
		},
		"required": []any{"store", "date", "items", "total"},
	}
}

// CurrentSchema returns the JSON schema of second-generation results
func CurrentSchema() map[string]any {
	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]any{
			"store":       storeSchema(),
			"receipt_uid": map[string]any{"type": []any{"string", "null"}},
			"address": map[string]any{
				"type": []any{"object", "null"},
				"properties": map[string]any{
					"street":      map[string]any{"type": []any{"string", "null"}},
					"postal_code": map[string]any{"type": []any{"string", "null"}},
					"city":        map[string]any{"type": []any{"string", "null"}},
				},
			},
			"date":           map[string]any{"type": "string", "minLength": 1},
			"time":           map[string]any{"type": "string"},
			"items":          itemsSchema(false),
			"total":          map[string]any{"type": "number"},
			"taxAmount":      map[string]any{"type": []any{"number", "null"}},
			"quality_rating": map[string]any{"type": "number", "minimum": 1, "maximum": 10},
		},
		"required": []any{"store", "date", "time", "items", "total", "quality_rating"},
	}
}

func storeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string", "minLength": 1},
			"location": map[string]any{"type": []any{"string", "null"}},
		},
		"required": []any{"name"},
	}
}

func itemsSchema(priceRequired bool) map[string]any {
	required := []any{"name"}
	price := map[string]any{"type": []any{"number", "null"}}
	if priceRequired {
		required = append(required, "price")
		price = map[string]any{"type": "number"}
	}
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":     map[string]any{"type": "string"},
				"price":    price,
				"quantity": map[string]any{"type": []any{"number", "null"}},
			},
			"required": required,
		},
	}
}

var (
	legacyValidator  = mustCompile("legacy.json", LegacySchema())
	currentValidator = mustCompile("current.json", CurrentSchema())
)

func mustCompile(name string, schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}
