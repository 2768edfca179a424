package schema

// toJSONSchema translates a declarative Object into a JSON Schema document.
// Nullable is expressed as a two-element "type" union with "null", matching
// spec.md §3's rule that null is the only permitted way to encode absence.
func toJSONSchema(obj Object) map[string]any {
	properties := map[string]any{}
	required := make([]string, 0, len(obj.Fields))
	for _, f := range obj.Fields {
		properties[f.Name] = fieldSchema(f)
		required = append(required, f.Name)
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func fieldSchema(f Field) map[string]any {
	var typ any = string(f.Kind)
	if f.Nullable {
		typ = []any{string(f.Kind), "null"}
	}

	doc := map[string]any{"type": typ}

	if len(f.Enum) > 0 {
		values := make([]any, 0, len(f.Enum)+1)
		for _, v := range f.Enum {
			values = append(values, v)
		}
		if f.Nullable {
			values = append(values, nil)
		}
		doc["enum"] = values
	}

	switch f.Kind {
	case KindArray:
		if f.Items != nil {
			doc["items"] = fieldSchema(*f.Items)
		}
	case KindObject:
		if len(f.Properties) > 0 {
			nested := toJSONSchema(Object{Fields: f.Properties})
			// "type" is already set above (with the null union when
			// Nullable); only splice in the object's shape keywords.
			for _, k := range []string{"properties", "required", "additionalProperties"} {
				doc[k] = nested[k]
			}
		}
	}

	return doc
}
