// schema.go — JSON Schema contracts for metering service responses.
package metering

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const reserveResponseSchema = `{
  "type": "object",
  "required": ["command_to_execute"],
  "properties": {
    "command_to_execute": {"type": "object"},
    "reservation": {
      "type": ["object", "null"],
      "properties": {
        "hold_id": {"type": ["string", "null"]}
      }
    }
  }
}`

const catalogSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "name": {"type": ["string", "null"]},
      "description": {"type": ["string", "null"]},
      "inputSchema": {"type": ["object", "boolean", "null"]},
      "parameters": {"type": ["object", "boolean", "null"]}
    }
  }
}`

var (
	reserveSchema  = mustSchema(reserveResponseSchema)
	catalogEntries = mustSchema(catalogSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("metering: invalid built-in schema: %v", err))
	}
	return s
}

// validate checks body against schema and folds every violation into one error.
func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("unexpected response shape: %s", strings.Join(msgs, "; "))
}
