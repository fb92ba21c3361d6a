package ai

// Schema is the JSON Schema subset the providers accept for structured output.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	MinItems    *int               `json:"minItems,omitempty"`
	MaxItems    *int               `json:"maxItems,omitempty"`
}

func ObjectSchema(properties map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: properties, Required: required}
}

func ArraySchema(items *Schema) *Schema {
	return &Schema{Type: "array", Items: items}
}

func StringSchema() *Schema {
	return &Schema{Type: "string"}
}

func NumberSchema() *Schema {
	return &Schema{Type: "number"}
}

// WithLength bounds the item count of an array schema.
func (s *Schema) WithLength(minItems, maxItems int) *Schema {
	s.MinItems = &minItems
	s.MaxItems = &maxItems
	return s
}
