package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema creates a JSON schema for a tool's argument struct using
// struct tags.
//
// Supported tags:
//   - json:"name" - Parameter name
//   - json:",omitempty" - Optional parameter
//   - jsonschema:"required" - Explicitly mark as required
//   - jsonschema:"description=..." - Parameter description
//   - jsonschema:"enum=val1|enum=val2" - Allowed values
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	schemaMap, err := schemaToMap(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}

	if schemaMap["type"] == "object" {
		result := map[string]any{
			"type":       "object",
			"properties": schemaMap["properties"],
		}
		if required, ok := schemaMap["required"]; ok {
			result["required"] = required
		}
		return result, nil
	}

	return schemaMap, nil
}

// MustDefineTool builds a ToolDefinition whose parameters are derived
// from the argument struct T. Schema generation failures are programming
// errors, so this panics.
func MustDefineTool[T any](name, description string) ToolDefinition {
	params, err := GenerateSchema[T]()
	if err != nil {
		panic(fmt.Sprintf("tool %s: %v", name, err))
	}
	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  params,
	}
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	delete(m, "$schema")
	delete(m, "$id")

	return m, nil
}
