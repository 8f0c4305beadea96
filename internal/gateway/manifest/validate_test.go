package manifest_test

import (
	"strings"
	"testing"

	"github.com/trikhub/gateway/internal/gateway/manifest"
)

const validManifest = `{
  "schemaVersion": 1,
  "id": "acme/search",
  "name": "Acme Search",
  "version": "1.0.0",
  "entry": {"path": "index.js", "runtime": "node"},
  "actions": {
    "search": {
      "responseMode": "template",
      "inputSchema": {"type": "object", "properties": {"q": {"type": "string"}}},
      "agentDataSchema": {
        "type": "object",
        "properties": {
          "template": {"type": "string", "enum": ["success", "empty"]},
          "count": {"type": "integer"}
        }
      },
      "responseTemplates": {
        "success": {"text": "Found {{count}} results."},
        "empty": {"text": "No results."}
      }
    },
    "read": {
      "responseMode": "passthrough",
      "inputSchema": {"type": "object"},
      "userContentSchema": {"type": "object", "properties": {"contentType": {"type": "string"}, "content": {"type": "string"}}}
    }
  }
}`

func TestParseValidManifest(t *testing.T) {
	m, diags, err := manifest.Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("Parse: unexpected diagnostics: %v", diags)
	}
	if m.ID != "acme/search" {
		t.Fatalf("ID = %q, want acme/search", m.ID)
	}
	if len(m.Actions) != 2 {
		t.Fatalf("len(Actions) = %d, want 2", len(m.Actions))
	}
}

func TestParseRejectsUnconstrainedString(t *testing.T) {
	bad := strings.Replace(validManifest,
		`"template": {"type": "string", "enum": ["success", "empty"]},`,
		`"template": {"type": "string"},`, 1)

	_, diags, err := manifest.Parse([]byte(bad))
	if err == nil {
		t.Fatal("Parse: expected error for unconstrained string, got nil")
	}
	if len(diags) == 0 {
		t.Fatal("Parse: expected at least one diagnostic")
	}
	want := "actions.search.agentDataSchema.properties.template"
	if diags[0].Path != want {
		t.Fatalf("diags[0].Path = %q, want %q", diags[0].Path, want)
	}
}

func TestParseRejectsUnboundPlaceholder(t *testing.T) {
	bad := strings.Replace(validManifest,
		`"success": {"text": "Found {{count}} results."}`,
		`"success": {"text": "Found {{count}} results for {{query}}."}`, 1)

	_, diags, err := manifest.Parse([]byte(bad))
	if err == nil {
		t.Fatal("Parse: expected error for unbound placeholder, got nil")
	}
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "query") {
			found = true
		}
	}
	if !found {
		t.Fatalf("diags = %v, want one mentioning the unbound {{query}} placeholder", diags)
	}
}

const passthroughMissingSchemaManifest = `{
  "schemaVersion": 1,
  "id": "acme/read",
  "name": "Acme Read",
  "version": "1.0.0",
  "entry": {"path": "index.js", "runtime": "node"},
  "actions": {
    "read": {
      "responseMode": "passthrough",
      "inputSchema": {"type": "object"}
    }
  }
}`

func TestParseRejectsModeSchemaMismatch(t *testing.T) {
	_, _, err := manifest.Parse([]byte(passthroughMissingSchemaManifest))
	if err == nil {
		t.Fatal("Parse: expected structural error for passthrough action missing userContentSchema")
	}
}

func TestParseCollectsMultipleSecurityDiagnostics(t *testing.T) {
	bad := strings.Replace(validManifest,
		`"template": {"type": "string", "enum": ["success", "empty"]},`,
		`"template": {"type": "string"},`, 1)
	bad = strings.Replace(bad,
		`"success": {"text": "Found {{count}} results."}`,
		`"success": {"text": "Found {{count}} results for {{query}}."}`, 1)

	_, diags, err := manifest.Parse([]byte(bad))
	if err == nil {
		t.Fatal("Parse: expected error")
	}
	if len(diags) < 2 {
		t.Fatalf("len(diags) = %d, want >= 2 (security phase must not short-circuit)", len(diags))
	}
}
