package manifest

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/manifest.schema.json
var schemaFS embed.FS

const metaSchemaURL = "https://trikhub.dev/schema/manifest.json"

var (
	compileOnce  sync.Once
	compiledMeta *jsonschema.Schema
	compileErr   error
)

func metaSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := schemaFS.ReadFile("schema/manifest.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("manifest: read embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(metaSchemaURL, bytes.NewReader(raw)); err != nil {
			compileErr = fmt.Errorf("manifest: add schema resource: %w", err)
			return
		}
		s, err := c.Compile(metaSchemaURL)
		if err != nil {
			compileErr = fmt.Errorf("manifest: compile schema: %w", err)
			return
		}
		compiledMeta = s
	})
	return compiledMeta, compileErr
}

// Parse parses and validates a manifest document in two phases.
//
// Phase one (structural) checks the document against the fixed manifest
// meta-schema: required fields, types, schemaVersion==1, the version regex,
// and per-action mode-shape agreement (I3). A structural failure returns
// immediately as the function's error with no diagnostics — the document
// is too malformed to usefully enumerate individual problems.
//
// Phase two (security, I1/I2) only runs once phase one passes. Every
// violation found is appended to the returned diagnostics slice rather than
// stopping at the first one, so a manifest author (or the linter) can see
// every offending field in a single pass.
func Parse(data []byte) (*Manifest, []Diagnostic, error) {
	schema, err := metaSchema()
	if err != nil {
		return nil, nil, err
	}

	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: invalid json: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, nil, fmt.Errorf("manifest: structural validation failed: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("manifest: decode: %w", err)
	}

	diags := validateSecurity(&m)
	if len(diags) > 0 {
		return nil, diags, diagErr(diags)
	}
	return &m, nil, nil
}
