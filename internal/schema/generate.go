package schema

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
)

// Generate produces an anthropic.ToolInputSchemaParam from a Go struct
// type T, using its json and jsonschema struct tags. Used for locally
// registered tools; remote tool schemas arrive as raw maps and go
// through Sanitize instead.
func Generate[T any]() anthropic.ToolInputSchemaParam {
	var zero T
	s := jsonschema.Reflect(&zero)

	root := extractRoot(s)

	return anthropic.ToolInputSchemaParam{
		Properties: schemaProperties(root),
		Required:   root.Required,
	}
}

// extractRoot resolves the root schema; invopop/jsonschema places the
// actual type under $defs behind a $ref.
func extractRoot(s *jsonschema.Schema) *jsonschema.Schema {
	if s.Ref != "" && s.Definitions != nil {
		for _, def := range s.Definitions {
			if def.Type == "object" {
				return def
			}
		}
	}
	return s
}

// schemaProperties converts the ordered property map into a plain
// map[string]any for the API.
func schemaProperties(s *jsonschema.Schema) map[string]any {
	if s.Properties == nil {
		return nil
	}
	props := make(map[string]any)
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		props[pair.Key] = propertySchema(pair.Value)
	}
	return props
}

func propertySchema(s *jsonschema.Schema) map[string]any {
	m := make(map[string]any)

	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.Default != nil {
		m["default"] = s.Default
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}

	// Pointer fields surface as anyOf with a null branch.
	if len(s.AnyOf) > 0 {
		for _, sub := range s.AnyOf {
			if sub.Type != "null" && sub.Type != "" {
				m["type"] = sub.Type
				break
			}
		}
	}

	if s.Properties != nil {
		m["type"] = "object"
		m["properties"] = schemaProperties(s)
		if len(s.Required) > 0 {
			m["required"] = s.Required
		}
	}

	if s.Items != nil {
		m["items"] = propertySchema(s.Items)
	}

	return m
}
