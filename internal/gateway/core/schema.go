package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaSeq atomic.Int64

// compileSchema compiles an ad hoc JSON Schema document (an action's
// inputSchema, agentDataSchema, or userContentSchema) for validating runtime
// instances against it. Each call gets its own synthetic resource URL so
// schemas from different actions never collide in the compiler's cache.
func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	url := fmt.Sprintf("mem://trikhub/schema/%d", schemaSeq.Add(1))
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("core: add schema resource: %w", err)
	}
	return c.Compile(url)
}

// validateAgainst decodes data and validates it against schema, returning a
// single descriptive error on the first violation.
func validateAgainst(schema *jsonschema.Schema, data json.RawMessage) error {
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return schema.Validate(decoded)
}
