package linter_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trikhub/gateway/internal/gateway/linter"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const validManifest = `{
  "schemaVersion": 1,
  "id": "@acme/search",
  "name": "search",
  "version": "1.0.0",
  "entry": {"path": "main.go"},
  "actions": {
    "search": {
      "responseMode": "template",
      "inputSchema": {"type": "object"},
      "agentDataSchema": {
        "type": "object",
        "properties": {"template": {"type": "string", "enum": ["success"]}}
      },
      "responseTemplates": {"success": {"text": "ok"}}
    }
  }
}`

func TestLintCleanManifestHasNoErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", validManifest)

	diags, err := linter.Lint(dir, linter.Options{})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	for _, d := range diags {
		if d.Severity == linter.SeverityError {
			t.Fatalf("unexpected error diagnostic: %s", d)
		}
	}
}

func TestLintFlagsMissingDefaultTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", `{
      "schemaVersion": 1,
      "id": "@acme/search",
      "name": "search",
      "version": "1.0.0",
      "entry": {"path": "main.go"},
      "actions": {
        "search": {
          "responseMode": "template",
          "inputSchema": {"type": "object"},
          "agentDataSchema": {"type": "object", "properties": {"status": {"const": "ok"}}},
          "responseTemplates": {"done": {"text": "done"}}
        }
      }
    }`)

	diags, err := linter.Lint(dir, linter.Options{})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	found := false
	for _, d := range diags {
		if d.Rule == "default-template-recommended" {
			found = true
			if d.Severity != linter.SeverityWarning {
				t.Fatalf("severity = %v, want warning", d.Severity)
			}
		}
	}
	if !found {
		t.Fatal("expected a default-template-recommended diagnostic")
	}
}

func TestLintWarningsAsErrorsPromotesSeverity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", `{
      "schemaVersion": 1,
      "id": "@acme/search",
      "name": "search",
      "version": "1.0.0",
      "entry": {"path": "main.go"},
      "actions": {
        "search": {
          "responseMode": "template",
          "inputSchema": {"type": "object"},
          "agentDataSchema": {"type": "object", "properties": {"status": {"const": "ok"}}},
          "responseTemplates": {"done": {"text": "done"}}
        }
      }
    }`)

	diags, err := linter.Lint(dir, linter.Options{WarningsAsErrors: true})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	for _, d := range diags {
		if d.Rule == "default-template-recommended" && d.Severity != linter.SeverityError {
			t.Fatalf("severity = %v, want error (promoted)", d.Severity)
		}
	}
}

func TestLintSkipOmitsRule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", `{
      "schemaVersion": 1,
      "id": "@acme/search",
      "name": "search",
      "version": "1.0.0",
      "entry": {"path": "main.go"},
      "actions": {
        "search": {
          "responseMode": "template",
          "inputSchema": {"type": "object"},
          "agentDataSchema": {"type": "object", "properties": {"status": {"const": "ok"}}},
          "responseTemplates": {"done": {"text": "done"}}
        }
      }
    }`)

	diags, err := linter.Lint(dir, linter.Options{Skip: []string{"default-template-recommended", "manifest-completeness"}})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	for _, d := range diags {
		if d.Rule == "default-template-recommended" || d.Rule == "manifest-completeness" {
			t.Fatalf("skipped rule %q still reported", d.Rule)
		}
	}
}

func TestLintFlagsFreeStringInAgentData(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", `{
      "schemaVersion": 1,
      "id": "@acme/bad",
      "name": "bad",
      "version": "1.0.0",
      "entry": {"path": "main.go"},
      "actions": {
        "search": {
          "responseMode": "template",
          "inputSchema": {"type": "object"},
          "agentDataSchema": {"type": "object", "properties": {"title": {"type": "string"}}},
          "responseTemplates": {"success": {"text": "{{title}}"}}
        }
      }
    }`)

	diags, err := linter.Lint(dir, linter.Options{})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	found := false
	for _, d := range diags {
		if d.Rule == "no-free-strings-in-agent-data" && d.Severity == linter.SeverityError {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a no-free-strings-in-agent-data error diagnostic")
	}
}

func TestLintEntryPointExists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", validManifest)

	diags, err := linter.Lint(dir, linter.Options{CheckEntryPoint: true})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	found := false
	for _, d := range diags {
		if d.Rule == "entry-point-exists" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected entry-point-exists to fire for a missing main.go")
	}

	writeFile(t, dir, "main.go", "package main\nfunc main() {}\n")
	diags, err = linter.Lint(dir, linter.Options{CheckEntryPoint: true})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	for _, d := range diags {
		if d.Rule == "entry-point-exists" {
			t.Fatal("entry-point-exists should not fire once main.go exists")
		}
	}
}

func TestLintSourceRulesOnSameRuntimePackage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", validManifest)
	writeFile(t, dir, "main.go", `package main

import (
	"os"
	"os/exec"
)

func main() {
	_ = os.Getenv("SECRET")
	_ = exec.Command("ls").Run()
}
`)

	diags, err := linter.Lint(dir, linter.Options{})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	var sawForbidden, sawEnv bool
	for _, d := range diags {
		if d.Rule == "forbidden-import" {
			sawForbidden = true
		}
		if d.Rule == "direct-env-access" {
			sawEnv = true
		}
	}
	if !sawForbidden {
		t.Fatal("expected a forbidden-import diagnostic for os/exec")
	}
	if !sawEnv {
		t.Fatal("expected a direct-env-access diagnostic for os.Getenv")
	}
}

func TestLintFlagsFilesystemImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", validManifest)
	writeFile(t, dir, "main.go", `package main

import "os"

func main() {
	_, _ = os.ReadFile("/etc/passwd")
}
`)

	diags, err := linter.Lint(dir, linter.Options{})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	found := false
	for _, d := range diags {
		if d.Rule == "forbidden-import" && strings.Contains(d.Message, `"os"`) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a forbidden-import diagnostic for os")
	}
}

func TestLintResolvesManifestInPackageSubdirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, sub, "manifest.json", `{
      "schemaVersion": 1,
      "id": "@acme/py",
      "name": "py",
      "version": "1.0.0",
      "entry": {"path": "main.py", "runtime": "python"},
      "actions": {
        "search": {
          "responseMode": "passthrough",
          "inputSchema": {"type": "object"},
          "userContentSchema": {"type": "object"}
        }
      }
    }`)
	writeFile(t, sub, "pyproject.toml", "[project]\nname = \"py\"\n")

	_, err := linter.Lint(dir, linter.Options{})
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
}
