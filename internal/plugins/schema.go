package plugins

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor derives a JSON Schema from a tool argument struct, so plugin
// factories can declare arguments as Go types instead of raw schema
// text. The generated schema is inlined; fields without a jsonschema tag
// are required.
func SchemaFor(v any) (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(v)
	s.Version = ""
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return raw, nil
}

// MustSchemaFor is SchemaFor for static tool declarations; it panics on
// reflection failure.
func MustSchemaFor(v any) json.RawMessage {
	raw, err := SchemaFor(v)
	if err != nil {
		panic(err)
	}
	return raw
}
