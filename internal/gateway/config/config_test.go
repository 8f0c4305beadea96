package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/trikhub/gateway/internal/gateway/config"
	"github.com/trikhub/gateway/internal/gateway/manifest"
)

func writeJSON(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestProjectOverridesGlobalKeyByKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	projectDir := t.TempDir()

	writeJSON(t, filepath.Join(projectDir, ".trikhub", "config.json"),
		`{"@acme/search": {"region": "us-west"}}`)

	store, err := config.Load(projectDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	declared := []manifest.ConfigRequirement{{Key: "region"}, {Key: "apiBase"}}
	ctx := store.ForTrik("@acme/search", declared)

	region, ok := ctx.Get("region")
	if !ok || region != "us-west" {
		t.Fatalf("Get(region) = %q, %v", region, ok)
	}
	if _, ok := ctx.Get("apiBase"); ok {
		t.Fatal("Get(apiBase) should be absent: no file declared it")
	}
}

func TestUndeclaredKeyIsNotFoundEvenIfPresent(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	projectDir := t.TempDir()
	writeJSON(t, filepath.Join(projectDir, ".trikhub", "secrets.json"),
		`{"@acme/search": {"apiKey": "sk-live-123", "unlisted": "leak-me-not"}}`)

	store, err := config.Load(projectDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx := store.ForTrik("@acme/search", []manifest.ConfigRequirement{{Key: "apiKey"}})
	if _, ok := ctx.Get("unlisted"); ok {
		t.Fatal("Get(unlisted) should be not-found: manifest never declared it")
	}
	if v, ok := ctx.Get("apiKey"); !ok || v != "sk-live-123" {
		t.Fatalf("Get(apiKey) = %q, %v", v, ok)
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	projectDir := t.TempDir()
	path := filepath.Join(projectDir, ".trikhub", "config.json")
	writeJSON(t, path, `{"@acme/search": {"region": "us-west"}}`)

	store, err := config.Load(projectDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := store.ForTrik("@acme/search", []manifest.ConfigRequirement{{Key: "region"}})
	if v, _ := ctx.Get("region"); v != "us-west" {
		t.Fatalf("initial region = %q", v)
	}

	writeJSON(t, path, `{"@acme/search": {"region": "eu-central"}}`)
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if v, _ := ctx.Get("region"); v != "eu-central" {
		t.Fatalf("region after reload = %q, want eu-central", v)
	}
}
