// Package schema prepares tool input schemas for the Anthropic API:
// sanitizing untrusted schemas fetched from remote MCP servers and
// generating schemas for locally registered Go tools.
package schema

import "regexp"

// The API rejects tool property names outside this character class, so
// every key shown to it must be rewritten. The tool's own server still
// expects the original names; callers keep a key map to translate
// returned arguments back (see the bridge in the root package).
var invalidKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeKey rewrites every disallowed character in a property key to
// an underscore. Idempotent.
func SanitizeKey(key string) string {
	return invalidKeyChars.ReplaceAllString(key, "_")
}

// Sanitize normalizes a tool input schema for the completion API:
//
//   - property keys are rewritten with SanitizeKey at every nesting
//     level where a properties map appears;
//   - entries in a schema's required list are rewritten with the same
//     per-schema key mapping, so collisions in unrelated schemas never
//     cross-contaminate;
//   - a missing type defaults to "object", and an object schema with
//     no properties gets an empty properties map.
//
// Non-object inputs (nil, strings, numbers, ...) pass through
// unchanged. The input is never mutated; a sanitized copy is returned.
func Sanitize(schema any) any {
	m, ok := schema.(map[string]any)
	if !ok {
		return schema
	}

	out := cloneMap(m)
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if out["type"] == "object" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]any{}
		}
	}
	sanitizeProperties(out)
	return out
}

// sanitizeNested rewrites keys in a nested schema without applying the
// top-level type defaulting; a nested string or number schema must not
// be coerced into an object.
func sanitizeNested(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := cloneMap(m)
	sanitizeProperties(out)
	return out
}

func sanitizeProperties(out map[string]any) {
	if props, ok := out["properties"].(map[string]any); ok {
		rename := make(map[string]string, len(props))
		clean := make(map[string]any, len(props))
		for key, sub := range props {
			newKey := SanitizeKey(key)
			rename[key] = newKey
			clean[newKey] = sanitizeNested(sub)
		}
		out["properties"] = clean
		out["required"] = sanitizeRequired(out["required"], rename)
		if out["required"] == nil {
			delete(out, "required")
		}
	}
	if items, ok := out["items"]; ok {
		out["items"] = sanitizeNested(items)
	}
	if ap, ok := out["additionalProperties"].(map[string]any); ok {
		out["additionalProperties"] = sanitizeNested(ap)
	}
}

// sanitizeRequired rewrites required entries using the per-schema
// rename map, falling back to SanitizeKey for entries that reference
// keys missing from properties.
func sanitizeRequired(required any, rename map[string]string) any {
	switch req := required.(type) {
	case []any:
		clean := make([]any, 0, len(req))
		for _, entry := range req {
			if s, ok := entry.(string); ok {
				clean = append(clean, renameKey(s, rename))
				continue
			}
			clean = append(clean, entry)
		}
		return clean
	case []string:
		clean := make([]string, 0, len(req))
		for _, entry := range req {
			clean = append(clean, renameKey(entry, rename))
		}
		return clean
	default:
		return required
	}
}

func renameKey(key string, rename map[string]string) string {
	if mapped, ok := rename[key]; ok {
		return mapped
	}
	return SanitizeKey(key)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
