package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaReflector produces draft 2020-12 schemas with every object closed
// (additionalProperties:false) so every dialect's strict tool-calling mode
// accepts them unmodified, and without the $schema/$id/$ref wrapper noise
// dialects don't expect on a tool's input schema.
var schemaReflector = &jsonschema.Reflector{
	Anonymous:                 true,
	AllowAdditionalProperties: false,
	DoNotReference:            true,
	ExpandedStruct:            true,
}

// GenerateSchema reflects the JSON shape of a zero-value v into a tool
// input schema. Struct tags (`json`, `jsonschema`) drive property names,
// descriptions, and requiredness the same way they drive encoding/json.
func GenerateSchema(v any) json.RawMessage {
	schema := schemaReflector.Reflect(v)
	schema.Version = ""
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","additionalProperties":false}`)
	}
	return payload
}
