package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// safeFormats is the closed list of string formats that, by themselves,
// constrain a string tightly enough to satisfy I1 without an enum, const,
// or pattern.
var safeFormats = map[string]bool{
	"id":        true,
	"date":      true,
	"date-time": true,
	"time":      true,
	"uuid":      true,
	"email":     true,
	"uri":       true,
	"url":       true,
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// validateSecurity runs the I1 (constrained-string) and I2 (template
// placeholder closure) checks against every template-mode action in m. It
// never short-circuits: every violation found is appended to the result.
func validateSecurity(m *Manifest) []Diagnostic {
	var diags []Diagnostic

	for _, name := range sortedActionNames(m.Actions) {
		action := m.Actions[name]
		if action.ResponseMode != ModeTemplate {
			continue
		}

		basePath := fmt.Sprintf("actions.%s.agentDataSchema", name)

		var schema map[string]any
		if len(action.AgentDataSchema) > 0 {
			if err := json.Unmarshal(action.AgentDataSchema, &schema); err != nil {
				diags = append(diags, Diagnostic{Path: basePath, Message: "agentDataSchema is not a JSON object"})
				continue
			}
		}

		diags = append(diags, walkSchema(schema, basePath)...)

		topLevelFields := schemaPropertyNames(schema)
		for tmplName, tmpl := range action.ResponseTemplates {
			tmplPath := fmt.Sprintf("actions.%s.responseTemplates.%s.text", name, tmplName)
			for _, match := range placeholderRe.FindAllStringSubmatch(tmpl.Text, -1) {
				field := match[1]
				if !topLevelFields[field] {
					diags = append(diags, Diagnostic{
						Path:    tmplPath,
						Message: fmt.Sprintf("placeholder {{%s}} has no matching field in agentDataSchema.properties", field),
					})
				}
			}
		}
	}

	return diags
}

// walkSchema recursively visits every node of a JSON Schema document reachable
// through properties/items/$defs and asserts the constrained-string predicate
// (I1) on every node whose declared type includes "string".
func walkSchema(node map[string]any, path string) []Diagnostic {
	if node == nil {
		return nil
	}

	var diags []Diagnostic

	if isStringTyped(node["type"]) && !isConstrained(node) {
		diags = append(diags, Diagnostic{
			Path:    path,
			Message: "string field is unconstrained: requires enum, const, pattern, or a safe-listed format",
		})
	}

	if props, ok := node["properties"].(map[string]any); ok {
		for _, key := range sortedKeys(props) {
			child, _ := props[key].(map[string]any)
			diags = append(diags, walkSchema(child, path+".properties."+key)...)
		}
	}

	switch items := node["items"].(type) {
	case map[string]any:
		diags = append(diags, walkSchema(items, path+".items")...)
	case []any:
		for i, it := range items {
			child, _ := it.(map[string]any)
			diags = append(diags, walkSchema(child, fmt.Sprintf("%s.items[%d]", path, i))...)
		}
	}

	if defs, ok := node["$defs"].(map[string]any); ok {
		for _, key := range sortedKeys(defs) {
			child, _ := defs[key].(map[string]any)
			diags = append(diags, walkSchema(child, path+".$defs."+key)...)
		}
	}

	return diags
}

// isStringTyped reports whether a schema node's "type" keyword names
// "string", either alone or as one entry of a type array.
func isStringTyped(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "string"
	case []any:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == "string" {
				return true
			}
		}
	}
	return false
}

// isConstrained implements the I1 predicate: a non-empty enum, a const, a
// pattern, or a format drawn from the closed safe-list.
func isConstrained(node map[string]any) bool {
	if enum, ok := node["enum"].([]any); ok && len(enum) > 0 {
		return true
	}
	if _, ok := node["const"]; ok {
		return true
	}
	if pattern, ok := node["pattern"].(string); ok && pattern != "" {
		return true
	}
	if format, ok := node["format"].(string); ok && safeFormats[format] {
		return true
	}
	return false
}

// schemaPropertyNames returns the set of top-level property names declared
// directly on an agentDataSchema object. Only top-level fields are valid
// placeholder targets per I2 — templates substitute agentData[name], not
// nested paths.
func schemaPropertyNames(schema map[string]any) map[string]bool {
	out := make(map[string]bool)
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return out
	}
	for key := range props {
		out[key] = true
	}
	return out
}

func sortedActionNames(actions map[string]Action) []string {
	names := make([]string, 0, len(actions))
	for n := range actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
