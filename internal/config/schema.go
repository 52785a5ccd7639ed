package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/haasonsaas/delegator/config.schema.json"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema returns the JSON Schema for configuration files, suitable for
// editor validation of YAML and JSON5 configs alike.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:   "yaml",
			ExpandedStruct: true,
		}
		schema := r.Reflect(&Config{})
		schema.ID = schemaID
		schema.Title = "delegator configuration"
		schema.Description = "Upstream endpoint, allow-lists, logging, and feature switches for delegator."
		if schema.Properties != nil {
			schema.Properties.Set(includeKey, &jsonschema.Schema{
				Description: "Files merged beneath this one, relative to it",
				OneOf: []*jsonschema.Schema{
					{Type: "string"},
					{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				},
			})
		}
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}
